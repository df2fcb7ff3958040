package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"socratium/internal/util"
	"socratium/pkg/apperr"
	"socratium/pkg/domain"
	"socratium/pkg/store"
)

// ListThreads returns a book's threads, most recently updated first.
func (a *App) ListThreads(ctx context.Context, bookID string) ([]domain.Thread, error) {
	if _, err := a.books.Meta(ctx, bookID); err != nil {
		return nil, err
	}
	threads, err := a.store.ListThreads(bookID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("list threads: %w", err))
	}
	return threads, nil
}

// CreateThread starts an untitled thread pinned to the active provider.
func (a *App) CreateThread(ctx context.Context, bookID string) (domain.Thread, error) {
	if _, err := a.books.Meta(ctx, bookID); err != nil {
		return domain.Thread{}, err
	}
	provider, ok, err := a.activeProvider()
	if err != nil {
		return domain.Thread{}, err
	}
	if !ok {
		return domain.Thread{}, errNoActiveProvider
	}
	now := a.now()
	thread := domain.Thread{
		ID:           util.NewID(),
		BookID:       bookID,
		ProviderID:   provider.ID,
		ProviderName: provider.Name,
		ProviderType: provider.Type,
		Model:        provider.Model,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateThread(thread); err != nil {
		return domain.Thread{}, apperr.Internal(fmt.Errorf("create thread: %w", err))
	}
	return thread, nil
}

// RenameThread sets an explicit title. Auto titling never overrides it.
func (a *App) RenameThread(threadID, title string) (domain.Thread, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Thread{}, errTitleRequired
	}
	if _, err := a.thread(threadID); err != nil {
		return domain.Thread{}, err
	}
	if err := a.store.UpdateThreadTitle(threadID, title, a.now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Thread{}, errThreadNotFound
		}
		return domain.Thread{}, apperr.Internal(fmt.Errorf("rename thread: %w", err))
	}
	return a.thread(threadID)
}

// DeleteThread removes a thread and its messages.
func (a *App) DeleteThread(threadID string) error {
	err := a.store.DeleteThread(threadID)
	if errors.Is(err, store.ErrNotFound) {
		return errThreadNotFound
	}
	if err != nil {
		return apperr.Internal(fmt.Errorf("delete thread: %w", err))
	}
	return nil
}

// ListMessages returns a thread's messages oldest first.
func (a *App) ListMessages(threadID string) ([]domain.Message, error) {
	if _, err := a.thread(threadID); err != nil {
		return nil, err
	}
	msgs, err := a.store.ListMessages(threadID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("list messages: %w", err))
	}
	return msgs, nil
}
