package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"socratium/pkg/ai"
	"socratium/pkg/apperr"
	"socratium/pkg/domain"
	"socratium/pkg/secrets"
	"socratium/pkg/store"
)

const (
	DefaultPreviewPages   = 3
	DefaultRecentMessages = 10
	DefaultChatTimeout    = 90 * time.Second
)

// Books is the read side of the book service the orchestrator depends on.
// Missing books and pages are reported as apperr not-found errors.
type Books interface {
	Meta(ctx context.Context, bookID string) (domain.BookMeta, error)
	PageText(ctx context.Context, bookID string, page int) (domain.PageText, error)
	SectionTitle(ctx context.Context, bookID string, page int) (*string, error)
}

// Config holds the dependencies of the chat application.
type Config struct {
	Store    store.ChatStore
	Books    Books
	Registry *ai.Registry
	Secrets  *secrets.Box
	// HTTPClient and OpenRouterBaseURL are used for model listing.
	HTTPClient        *http.Client
	OpenRouterBaseURL string

	PreviewPages   int
	RecentMessages int
	ChatTimeout    time.Duration
}

// App runs chat turns and manages threads and providers.
type App struct {
	store          store.ChatStore
	books          Books
	registry       *ai.Registry
	secrets        *secrets.Box
	httpClient     *http.Client
	openRouterURL  string
	previewPages   int
	recentMessages int
	chatTimeout    time.Duration
	now            func() time.Time
}

// New validates cfg and builds the App.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("chat store required")
	}
	if cfg.Books == nil {
		return nil, errors.New("book reader required")
	}
	if cfg.Secrets == nil {
		return nil, errors.New("secret box required")
	}
	registry := cfg.Registry
	if registry == nil {
		registry = ai.NewDefaultRegistry(cfg.HTTPClient)
	}
	a := &App{
		store:          cfg.Store,
		books:          cfg.Books,
		registry:       registry,
		secrets:        cfg.Secrets,
		httpClient:     cfg.HTTPClient,
		openRouterURL:  cfg.OpenRouterBaseURL,
		previewPages:   max(1, cfg.PreviewPages),
		recentMessages: max(1, cfg.RecentMessages),
		chatTimeout:    cfg.ChatTimeout,
		now:            func() time.Time { return time.Now().UTC() },
	}
	if cfg.PreviewPages == 0 {
		a.previewPages = DefaultPreviewPages
	}
	if cfg.RecentMessages == 0 {
		a.recentMessages = DefaultRecentMessages
	}
	if a.chatTimeout <= 0 {
		a.chatTimeout = DefaultChatTimeout
	}
	return a, nil
}

func (a *App) thread(id string) (domain.Thread, error) {
	t, ok, err := a.store.GetThread(id)
	if err != nil {
		return domain.Thread{}, apperr.Internal(fmt.Errorf("load thread: %w", err))
	}
	if !ok {
		return domain.Thread{}, errThreadNotFound
	}
	return t, nil
}

func (a *App) activeProvider() (domain.Provider, bool, error) {
	p, ok, err := a.store.GetActiveProvider()
	if err != nil {
		return domain.Provider{}, false, apperr.Internal(fmt.Errorf("load active provider: %w", err))
	}
	return p, ok, nil
}

// providerError maps a registry failure onto the application error kinds.
func providerError(err error) error {
	if errors.Is(err, ai.ErrUnsupportedProvider) {
		return errUnsupportedProvider
	}
	var reqErr *ai.RequestError
	if errors.As(err, &reqErr) {
		return apperr.ProviderFailed(reqErr.Error(), err)
	}
	return apperr.Internal(err)
}
