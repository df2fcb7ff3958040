package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"socratium/pkg/domain"
)

// Registry selects an adapter by provider type.
type Registry struct {
	adapters map[domain.ProviderType]Adapter
}

// NewRegistry registers adapters. A later adapter replaces an earlier one
// of the same type.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.ProviderType]Adapter, len(adapters))}
	for _, a := range adapters {
		if a != nil {
			r.adapters[a.Type()] = a
		}
	}
	return r
}

// NewDefaultRegistry registers the Gemini and OpenRouter adapters sharing
// httpClient. A nil client gets a default with a two minute timeout.
func NewDefaultRegistry(httpClient *http.Client) *Registry {
	if httpClient == nil {
		httpClient = defaultHTTPClient()
	}
	return NewRegistry(NewGemini(httpClient), NewOpenRouter(httpClient))
}

// Adapter returns the adapter for t.
func (r *Registry) Adapter(t domain.ProviderType) (Adapter, error) {
	a, ok := r.adapters[t]
	if !ok {
		return nil, ErrUnsupportedProvider
	}
	return a, nil
}

// Send runs one chat call. Unsupported types return ErrUnsupportedProvider;
// every other failure is a *RequestError.
func (r *Registry) Send(ctx context.Context, t domain.ProviderType, in ChatInput) (Response, error) {
	a, err := r.Adapter(t)
	if err != nil {
		return Response{}, err
	}
	resp, err := a.Chat(ctx, in)
	if err != nil {
		var reqErr *RequestError
		if errors.As(err, &reqErr) {
			return Response{}, err
		}
		return Response{}, &RequestError{Provider: t, Err: err}
	}
	return resp, nil
}

// TestKey sends a one-line probe and returns the reply text.
func (r *Registry) TestKey(ctx context.Context, t domain.ProviderType, apiKey, model, baseURL string) (string, error) {
	resp, err := r.Send(ctx, t, ChatInput{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: baseURL,
		Request: Request{Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: ProbePrompt}}},
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" || text == NoResponse {
		return "OK", nil
	}
	return text, nil
}
