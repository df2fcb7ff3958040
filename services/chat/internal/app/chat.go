package app

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"socratium/internal/util"
	"socratium/pkg/ai"
	"socratium/pkg/apperr"
	"socratium/pkg/domain"
	"socratium/pkg/prompt"
)

// ReplyInput is one user turn. PageNumber is the raw decoded JSON value so
// that integral floats and numeric strings are accepted.
type ReplyInput struct {
	ThreadID   string
	PageNumber any
	Message    string
}

// ChatResponse is the assistant message plus the thread fields the turn
// changed.
type ChatResponse struct {
	Message      domain.Message       `json:"message"`
	ThreadUpdate *domain.ThreadUpdate `json:"thread_update"`
}

// Reply runs one chat turn: validate, resolve the thread and its pinned
// provider, persist the user message, assemble the prompt, call the
// provider and persist the assistant message with its trace.
//
// The user message is kept when the provider call fails.
func (a *App) Reply(ctx context.Context, in ReplyInput) (ChatResponse, error) {
	page, err := NormalizePageNumber(in.PageNumber)
	if err != nil {
		return ChatResponse{}, err
	}
	text := strings.TrimSpace(in.Message)
	if text == "" {
		return ChatResponse{}, errMessageRequired
	}
	threadID := strings.TrimSpace(in.ThreadID)
	if threadID == "" {
		return ChatResponse{}, errThreadIDRequired
	}

	thread, provider, err := a.resolve(threadID)
	if err != nil {
		return ChatResponse{}, err
	}
	book, err := a.books.Meta(ctx, thread.BookID)
	if err != nil {
		return ChatResponse{}, err
	}
	section, err := a.books.SectionTitle(ctx, thread.BookID, page)
	if err != nil {
		return ChatResponse{}, err
	}
	apiKey, err := a.secrets.Open(provider.EncryptedAPIKey)
	if err != nil {
		return ChatResponse{}, apperr.Internal(fmt.Errorf("open provider key: %w", err))
	}

	now := a.now()
	userMsg := domain.Message{
		ID:        newMessageID(),
		ThreadID:  thread.ID,
		Role:      domain.RoleUser,
		Content:   text,
		Meta:      &domain.MessageMeta{PageNumber: page, SectionName: section},
		CreatedAt: now,
	}
	if err := a.store.AppendMessage(userMsg); err != nil {
		return ChatResponse{}, apperr.Internal(fmt.Errorf("save user message: %w", err))
	}
	title := DeriveThreadTitle(thread.Title, text)
	if title != nil {
		err = a.store.UpdateThreadTitle(thread.ID, *title, now)
	} else {
		err = a.store.TouchThread(thread.ID, now)
	}
	if err != nil {
		return ChatResponse{}, apperr.Internal(fmt.Errorf("update thread: %w", err))
	}

	history, err := a.recentHistory(thread.ID)
	if err != nil {
		return ChatResponse{}, err
	}
	pages := prompt.SelectContext(ctx, page, a.previewPages, func(ctx context.Context, p int) (domain.PageText, error) {
		return a.books.PageText(ctx, thread.BookID, p)
	})
	asm := prompt.Assemble(prompt.Input{
		Position: prompt.Position{BookTitle: book.Title, Section: section, Page: page},
		Pages:    pages,
		History:  history,
	})

	callCtx, cancel := context.WithTimeout(ctx, a.chatTimeout)
	defer cancel()
	resp, err := a.registry.Send(callCtx, provider.Type, ai.ChatInput{
		APIKey:  apiKey,
		Model:   provider.Model,
		BaseURL: provider.BaseURL,
		Request: asm.Request,
	})
	if err != nil {
		util.LoggerFromContext(ctx).Warn("provider call failed",
			"thread_id", thread.ID, "provider_type", provider.Type, "model", provider.Model, "err", err)
		return ChatResponse{}, providerError(err)
	}

	payload := asm.Payload
	assistantMsg := domain.Message{
		ID:       newMessageID(),
		ThreadID: thread.ID,
		Role:     domain.RoleAssistant,
		Content:  resp.Text,
		Meta: &domain.MessageMeta{
			PageNumber:          page,
			SectionName:         section,
			ContextText:         asm.ContextText,
			ExcerptStatus:       asm.ExcerptStatus,
			PromptPayload:       &payload,
			PromptText:          asm.PromptText,
			ProviderResponse:    resp.Text,
			ProviderResponseRaw: json.RawMessage(resp.Raw),
		},
		CreatedAt: a.now(),
	}
	if err := a.store.AppendMessage(assistantMsg); err != nil {
		return ChatResponse{}, apperr.Internal(fmt.Errorf("save assistant message: %w", err))
	}
	util.LoggerFromContext(ctx).Info("chat turn completed",
		"thread_id", thread.ID, "page", page, "excerpt_status", asm.ExcerptStatus, "context_pages", len(pages))
	return ChatResponse{
		Message:      assistantMsg,
		ThreadUpdate: threadUpdate(thread.ID, now, thread.Title, title),
	}, nil
}

// resolve loads the thread and checks it is pinned to the active provider.
func (a *App) resolve(threadID string) (domain.Thread, domain.Provider, error) {
	thread, err := a.thread(threadID)
	if err != nil {
		return domain.Thread{}, domain.Provider{}, err
	}
	pinned, ok, err := a.store.GetProvider(thread.ProviderID)
	if err != nil {
		return domain.Thread{}, domain.Provider{}, apperr.Internal(fmt.Errorf("load thread provider: %w", err))
	}
	if !ok {
		return domain.Thread{}, domain.Provider{}, errThreadProvider
	}
	active, ok, err := a.activeProvider()
	if err != nil {
		return domain.Thread{}, domain.Provider{}, err
	}
	if !ok {
		return domain.Thread{}, domain.Provider{}, errNoActiveProvider
	}
	if active.ID != pinned.ID {
		return domain.Thread{}, domain.Provider{}, errProviderMismatch
	}
	if !active.Type.Valid() {
		return domain.Thread{}, domain.Provider{}, errUnsupportedProvider
	}
	return thread, active, nil
}

// recentHistory returns the latest messages oldest first, including the
// user message just stored.
func (a *App) recentHistory(threadID string) ([]domain.ChatMessage, error) {
	recent, err := a.store.ListRecentMessages(threadID, a.recentMessages)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("load recent messages: %w", err))
	}
	history := make([]domain.ChatMessage, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		role := domain.RoleUser
		if recent[i].Role == domain.RoleAssistant {
			role = domain.RoleAssistant
		}
		history = append(history, domain.ChatMessage{Role: role, Content: recent[i].Content})
	}
	return history, nil
}

// NormalizePageNumber accepts a positive integer given as a JSON number
// (integral floats included) or a numeric string.
func NormalizePageNumber(v any) (int, error) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case float64:
		f = n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, errInvalidPage
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, errInvalidPage
		}
		f = parsed
	default:
		return 0, errInvalidPage
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f <= 0 || f > math.MaxInt32 {
		return 0, errInvalidPage
	}
	return int(f), nil
}

var sentenceEnd = regexp.MustCompile(`[.!?]`)

// DeriveThreadTitle returns a title for an untitled thread from its first
// user message: the first sentence, cut to ten words, with "..." appended
// when words were dropped. It returns nil when the thread already has a
// title or the message is blank.
func DeriveThreadTitle(current *string, message string) *string {
	if current != nil && strings.TrimSpace(*current) != "" {
		return nil
	}
	normalized := strings.Join(strings.Fields(message), " ")
	if normalized == "" {
		return nil
	}
	base := strings.TrimSpace(sentenceEnd.Split(normalized, 2)[0])
	if base == "" {
		base = normalized
	}
	words := strings.Fields(base)
	snippet := strings.Join(words[:min(len(words), 10)], " ")
	if len(snippet) < len(base) {
		snippet += "..."
	}
	return &snippet
}

// threadUpdate reports the new updated_at and, when the turn set one, the
// new title.
func threadUpdate(id string, at time.Time, original, next *string) *domain.ThreadUpdate {
	u := &domain.ThreadUpdate{ID: id, UpdatedAt: at}
	if next != nil && (original == nil || *original != *next) {
		u.Title = next
	}
	return u
}

func newMessageID() string {
	return ulid.Make().String()
}
