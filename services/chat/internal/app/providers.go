package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"socratium/internal/util"
	"socratium/pkg/ai"
	"socratium/pkg/apperr"
	"socratium/pkg/domain"
	"socratium/pkg/store"
)

// CreateProviderInput is a new provider as submitted by the settings UI.
type CreateProviderInput struct {
	Type    domain.ProviderType `json:"provider_type"`
	Name    string              `json:"name"`
	Model   string              `json:"model"`
	APIKey  string              `json:"apiKey"`
	BaseURL *string             `json:"baseUrl,omitempty"`
}

// TestKeyInput is an unsaved key to probe.
type TestKeyInput struct {
	Type    domain.ProviderType `json:"provider_type"`
	Model   string              `json:"model"`
	APIKey  string              `json:"apiKey"`
	BaseURL string              `json:"baseUrl,omitempty"`
}

// ListProviders returns every provider, oldest first.
func (a *App) ListProviders() ([]domain.Provider, error) {
	providers, err := a.store.ListProviders()
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("list providers: %w", err))
	}
	return providers, nil
}

// CreateProvider stores a provider with its API key sealed. The first
// provider created while none is active becomes active.
func (a *App) CreateProvider(in CreateProviderInput) (domain.Provider, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Provider{}, errNameRequired
	}
	if !in.Type.Valid() {
		return domain.Provider{}, errUnsupportedProvider
	}
	model := strings.TrimSpace(in.Model)
	if model == "" {
		return domain.Provider{}, errModelRequired
	}
	apiKey := strings.TrimSpace(in.APIKey)
	if apiKey == "" {
		return domain.Provider{}, errAPIKeyRequired
	}
	sealed, err := a.secrets.Seal(apiKey)
	if err != nil {
		return domain.Provider{}, apperr.Internal(fmt.Errorf("seal api key: %w", err))
	}
	baseURL := ""
	switch {
	case in.BaseURL != nil:
		baseURL = strings.TrimSpace(*in.BaseURL)
	case in.Type == domain.ProviderOpenRouter:
		baseURL = ai.DefaultOpenRouterBaseURL
	}
	now := a.now()
	p := domain.Provider{
		ID:              util.NewID(),
		Name:            name,
		Type:            in.Type,
		BaseURL:         baseURL,
		Model:           model,
		EncryptedAPIKey: sealed,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := a.store.CreateProvider(p); err != nil {
		return domain.Provider{}, apperr.Internal(fmt.Errorf("create provider: %w", err))
	}
	if _, ok, err := a.activeProvider(); err != nil {
		return domain.Provider{}, err
	} else if !ok {
		return a.ActivateProvider(p.ID)
	}
	return p, nil
}

// ActivateProvider makes id the single active provider.
func (a *App) ActivateProvider(id string) (domain.Provider, error) {
	err := a.store.SetActiveProvider(id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Provider{}, errProviderNotFound
	}
	if err != nil {
		return domain.Provider{}, apperr.Internal(fmt.Errorf("activate provider: %w", err))
	}
	p, ok, err := a.store.GetProvider(id)
	if err != nil {
		return domain.Provider{}, apperr.Internal(err)
	}
	if !ok {
		return domain.Provider{}, errProviderNotFound
	}
	return p, nil
}

// DeleteProvider removes a provider. Threads pinned to it can no longer
// be replied to.
func (a *App) DeleteProvider(id string) error {
	err := a.store.DeleteProvider(id)
	if errors.Is(err, store.ErrNotFound) {
		return errProviderNotFound
	}
	if err != nil {
		return apperr.Internal(fmt.Errorf("delete provider: %w", err))
	}
	return nil
}

// TestKey sends a probe prompt with an unsaved key and returns the reply.
func (a *App) TestKey(ctx context.Context, in TestKeyInput) (string, error) {
	if !in.Type.Valid() {
		return "", errUnsupportedProvider
	}
	model := strings.TrimSpace(in.Model)
	if model == "" {
		return "", errModelRequired
	}
	apiKey := strings.TrimSpace(in.APIKey)
	if apiKey == "" {
		return "", errAPIKeyRequired
	}
	callCtx, cancel := context.WithTimeout(ctx, a.chatTimeout)
	defer cancel()
	reply, err := a.registry.TestKey(callCtx, in.Type, apiKey, model, in.BaseURL)
	if err != nil {
		return "", providerError(err)
	}
	return reply, nil
}

// OpenRouterModels lists the models an OpenRouter key can use.
func (a *App) OpenRouterModels(ctx context.Context, apiKey string) ([]ai.ModelInfo, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	models, err := ai.ListOpenRouterModels(ctx, a.httpClient, a.openRouterURL, apiKey)
	if err != nil {
		var statusErr *ai.StatusError
		if errors.As(err, &statusErr) {
			return nil, apperr.BadRequest(fmt.Sprintf("OpenRouter request failed (%d)", statusErr.Status))
		}
		return nil, apperr.ProviderFailed("OpenRouter request failed", err)
	}
	return models, nil
}
