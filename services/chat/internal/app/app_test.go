package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"socratium/pkg/ai"
	"socratium/pkg/apperr"
	"socratium/pkg/domain"
	"socratium/pkg/secrets"
	"socratium/pkg/store"
)

type fakeBooks struct {
	meta     domain.BookMeta
	pages    map[int]string
	sections map[int]string
}

func (f *fakeBooks) Meta(_ context.Context, id string) (domain.BookMeta, error) {
	if id != f.meta.ID {
		return domain.BookMeta{}, apperr.NotFound("Book not found")
	}
	return f.meta, nil
}

func (f *fakeBooks) PageText(_ context.Context, id string, page int) (domain.PageText, error) {
	text, ok := f.pages[page]
	if id != f.meta.ID || !ok {
		return domain.PageText{}, apperr.NotFound("Page not found")
	}
	return domain.PageText{PageNumber: page, Text: text}, nil
}

func (f *fakeBooks) SectionTitle(_ context.Context, id string, page int) (*string, error) {
	if id != f.meta.ID {
		return nil, apperr.NotFound("Book not found")
	}
	if s, ok := f.sections[page]; ok {
		return &s, nil
	}
	return nil, nil
}

type fakeAdapter struct {
	typ   domain.ProviderType
	reply string
	err   error
	calls []ai.ChatInput
}

func (f *fakeAdapter) Type() domain.ProviderType { return f.typ }

func (f *fakeAdapter) Chat(_ context.Context, in ai.ChatInput) (ai.Response, error) {
	f.calls = append(f.calls, in)
	if f.err != nil {
		return ai.Response{}, f.err
	}
	return ai.Response{Text: f.reply, Raw: json.RawMessage(`{"ok":true}`)}, nil
}

type testEnv struct {
	app     *App
	store   *store.GormStore
	books   *fakeBooks
	adapter *fakeAdapter
	box     *secrets.Box
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := store.NewGormStore(fmt.Sprintf("file:chat_%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	box, err := secrets.New([]byte(strings.Repeat("k", 32)))
	if err != nil {
		t.Fatalf("new box: %v", err)
	}
	books := &fakeBooks{
		meta: domain.BookMeta{ID: "book-1", Title: "Dune", Status: domain.StatusReady, PageCount: 4},
		pages: map[int]string{
			1: "Page one text",
			2: "Page two text",
			3: "Page three text",
			4: "Page four text",
		},
		sections: map[int]string{3: "Chapter 2"},
	}
	adapter := &fakeAdapter{typ: domain.ProviderOpenRouter, reply: "A reply"}
	a, err := New(Config{
		Store:    db,
		Books:    books,
		Registry: ai.NewRegistry(adapter),
		Secrets:  box,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return &testEnv{app: a, store: db, books: books, adapter: adapter, box: box}
}

func (e *testEnv) provider(t *testing.T, name string) domain.Provider {
	t.Helper()
	p, err := e.app.CreateProvider(CreateProviderInput{
		Type:   domain.ProviderOpenRouter,
		Name:   name,
		Model:  "openai/gpt-4o-mini",
		APIKey: "sk-" + name,
	})
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	return p
}

func (e *testEnv) thread(t *testing.T) domain.Thread {
	t.Helper()
	th, err := e.app.CreateThread(context.Background(), "book-1")
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	return th
}

func wantCode(t *testing.T, err error, code apperr.Code) *apperr.Error {
	t.Helper()
	appErr, ok := apperr.As(err)
	if !ok {
		t.Fatalf("err = %v, want apperr %s", err, code)
	}
	if appErr.Code != code {
		t.Fatalf("code = %s, want %s (%v)", appErr.Code, code, err)
	}
	return appErr
}

func TestReplyAssemblesContextAndStoresTrace(t *testing.T) {
	env := newTestEnv(t)
	env.provider(t, "main")
	th := env.thread(t)

	resp, err := env.app.Reply(context.Background(), ReplyInput{
		ThreadID:   th.ID,
		PageNumber: json.Number("3"),
		Message:    "What does this mean? Explain please.",
	})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if resp.Message.Role != domain.RoleAssistant || resp.Message.Content != "A reply" {
		t.Fatalf("message = %+v, want assistant reply", resp.Message)
	}
	if resp.ThreadUpdate == nil || resp.ThreadUpdate.Title == nil || *resp.ThreadUpdate.Title != "What does this mean" {
		t.Fatalf("thread update = %+v, want derived title", resp.ThreadUpdate)
	}

	if len(env.adapter.calls) != 1 {
		t.Fatalf("adapter calls = %d, want 1", len(env.adapter.calls))
	}
	call := env.adapter.calls[0]
	if call.APIKey != "sk-main" {
		t.Fatalf("api key = %q, want decrypted key", call.APIKey)
	}
	if call.BaseURL != ai.DefaultOpenRouterBaseURL {
		t.Fatalf("base url = %q, want default", call.BaseURL)
	}
	if len(call.Request.Messages) != 1 || call.Request.Messages[0].Role != domain.RoleUser {
		t.Fatalf("request messages = %+v, want one user message", call.Request.Messages)
	}
	text := call.Request.Messages[0].Content
	for _, want := range []string{
		"[READING_CONTEXT]",
		"Book: Dune",
		"Section/Subsection: Chapter 2",
		"Page: 3",
		"ExcerptStatus: available",
		"Page 1:\nPage one text",
		"Page 3:\nPage three text",
		"User: What does this mean? Explain please.",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("prompt missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "Page four text") {
		t.Fatalf("prompt includes a page after the reading position:\n%s", text)
	}

	msgs, err := env.app.ListMessages(th.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	user, assistant := msgs[0], msgs[1]
	if user.Role != domain.RoleUser || user.Meta == nil || user.Meta.PageNumber != 3 {
		t.Fatalf("user message = %+v, want page 3 meta", user)
	}
	if user.Meta.SectionName == nil || *user.Meta.SectionName != "Chapter 2" {
		t.Fatalf("user section = %v, want Chapter 2", user.Meta.SectionName)
	}
	if user.Meta.PromptText != "" {
		t.Fatalf("user meta carries prompt text")
	}
	meta := assistant.Meta
	if meta == nil || meta.ExcerptStatus != domain.ExcerptAvailable || meta.PromptText != text {
		t.Fatalf("assistant meta = %+v, want full trace", meta)
	}
	if meta.PromptPayload == nil || meta.PromptPayload.Meta.PageNumber != 3 {
		t.Fatalf("prompt payload = %+v, want page 3", meta.PromptPayload)
	}
	if meta.ProviderResponse != "A reply" || !json.Valid(meta.ProviderResponseRaw) {
		t.Fatalf("provider response = %q raw %s", meta.ProviderResponse, meta.ProviderResponseRaw)
	}

	stored, err := env.app.thread(th.ID)
	if err != nil {
		t.Fatalf("load thread: %v", err)
	}
	if stored.Title == nil || *stored.Title != "What does this mean" {
		t.Fatalf("stored title = %v, want derived title", stored.Title)
	}
}

func TestReplySecondTurnKeepsTitleAndSendsHistory(t *testing.T) {
	env := newTestEnv(t)
	env.provider(t, "main")
	th := env.thread(t)
	ctx := context.Background()

	if _, err := env.app.Reply(ctx, ReplyInput{ThreadID: th.ID, PageNumber: 2, Message: "First question"}); err != nil {
		t.Fatalf("first reply: %v", err)
	}
	resp, err := env.app.Reply(ctx, ReplyInput{ThreadID: th.ID, PageNumber: "2", Message: "Second question"})
	if err != nil {
		t.Fatalf("second reply: %v", err)
	}
	if resp.ThreadUpdate == nil || resp.ThreadUpdate.Title != nil {
		t.Fatalf("thread update = %+v, want no title change", resp.ThreadUpdate)
	}
	text := env.adapter.calls[1].Request.Messages[0].Content
	want := "User: First question\nAssistant: A reply\nUser: Second question"
	if !strings.Contains(text, want) {
		t.Fatalf("prompt transcript missing %q:\n%s", want, text)
	}
	if !strings.Contains(text, "Section/Subsection: Unknown section") {
		t.Fatalf("prompt section:\n%s", text)
	}
}

func TestReplyHistoryIsBounded(t *testing.T) {
	env := newTestEnv(t)
	env.app.recentMessages = 2
	env.provider(t, "main")
	th := env.thread(t)
	ctx := context.Background()
	for _, msg := range []string{"alpha", "beta"} {
		if _, err := env.app.Reply(ctx, ReplyInput{ThreadID: th.ID, PageNumber: 1, Message: msg}); err != nil {
			t.Fatalf("reply %s: %v", msg, err)
		}
	}
	text := env.adapter.calls[1].Request.Messages[0].Content
	if strings.Contains(text, "User: alpha") {
		t.Fatalf("history not bounded:\n%s", text)
	}
	if !strings.Contains(text, "Assistant: A reply\nUser: beta") {
		t.Fatalf("history missing latest turn:\n%s", text)
	}
}

func TestReplyMissingExcerpt(t *testing.T) {
	env := newTestEnv(t)
	env.provider(t, "main")
	th := env.thread(t)
	resp, err := env.app.Reply(context.Background(), ReplyInput{ThreadID: th.ID, PageNumber: 9.0, Message: "Where am I?"})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if resp.Message.Meta.ExcerptStatus != domain.ExcerptMissing {
		t.Fatalf("excerpt status = %s, want missing", resp.Message.Meta.ExcerptStatus)
	}
	text := env.adapter.calls[0].Request.Messages[0].Content
	if !strings.Contains(text, "(no excerpt text available)") || !strings.Contains(text, "ExcerptStatus: missing") {
		t.Fatalf("prompt:\n%s", text)
	}
}

func TestReplyValidation(t *testing.T) {
	env := newTestEnv(t)
	env.provider(t, "main")
	th := env.thread(t)
	cases := []struct {
		name string
		in   ReplyInput
		want error
	}{
		{"page zero", ReplyInput{ThreadID: th.ID, PageNumber: 0, Message: "hi"}, errInvalidPage},
		{"page text", ReplyInput{ThreadID: th.ID, PageNumber: "abc", Message: "hi"}, errInvalidPage},
		{"page missing", ReplyInput{ThreadID: th.ID, Message: "hi"}, errInvalidPage},
		{"blank message", ReplyInput{ThreadID: th.ID, PageNumber: 1, Message: "  \n"}, errMessageRequired},
		{"blank thread", ReplyInput{PageNumber: 1, Message: "hi"}, errThreadIDRequired},
		{"unknown thread", ReplyInput{ThreadID: "nope", PageNumber: 1, Message: "hi"}, errThreadNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.app.Reply(context.Background(), tc.in)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
	msgs, err := env.store.ListMessages(th.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("messages = %d, want none after rejected turns", len(msgs))
	}
	if len(env.adapter.calls) != 0 {
		t.Fatalf("adapter called %d times", len(env.adapter.calls))
	}
}

func TestReplyRejectsProviderMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.provider(t, "first")
	th := env.thread(t)
	second := env.provider(t, "second")
	if second.IsActive {
		t.Fatalf("second provider auto-activated")
	}
	if _, err := env.app.ActivateProvider(second.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	_, err := env.app.Reply(context.Background(), ReplyInput{ThreadID: th.ID, PageNumber: 1, Message: "hi"})
	if !errors.Is(err, errProviderMismatch) {
		t.Fatalf("err = %v, want provider mismatch", err)
	}
	if msgs, _ := env.store.ListMessages(th.ID); len(msgs) != 0 {
		t.Fatalf("messages = %d, want none", len(msgs))
	}
}

func TestReplyThreadProviderDeleted(t *testing.T) {
	env := newTestEnv(t)
	p := env.provider(t, "main")
	th := env.thread(t)
	if err := env.app.DeleteProvider(p.ID); err != nil {
		t.Fatalf("delete provider: %v", err)
	}
	_, err := env.app.Reply(context.Background(), ReplyInput{ThreadID: th.ID, PageNumber: 1, Message: "hi"})
	if !errors.Is(err, errThreadProvider) {
		t.Fatalf("err = %v, want thread provider not found", err)
	}
}

func TestReplyProviderFailureKeepsUserMessage(t *testing.T) {
	env := newTestEnv(t)
	env.provider(t, "main")
	th := env.thread(t)
	env.adapter.err = &ai.StatusError{Status: http.StatusUnauthorized, Message: "bad key"}

	_, err := env.app.Reply(context.Background(), ReplyInput{ThreadID: th.ID, PageNumber: 1, Message: "hi"})
	appErr := wantCode(t, err, apperr.CodeProviderFailed)
	if appErr.Status != http.StatusBadGateway || !strings.Contains(appErr.Message, "bad key") {
		t.Fatalf("error = %+v, want 502 carrying the vendor message", appErr)
	}
	msgs, err := env.store.ListMessages(th.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != domain.RoleUser {
		t.Fatalf("messages = %+v, want only the user message", msgs)
	}
}

func TestCreateThreadNeedsActiveProviderAndBook(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.app.CreateThread(ctx, "book-1"); !errors.Is(err, errNoActiveProvider) {
		t.Fatalf("err = %v, want no active provider", err)
	}
	env.provider(t, "main")
	_, err := env.app.CreateThread(ctx, "missing")
	wantCode(t, err, apperr.CodeNotFound)

	th := env.thread(t)
	if th.Title != nil || th.ProviderName != "main" || th.Model != "openai/gpt-4o-mini" {
		t.Fatalf("thread = %+v", th)
	}
	threads, err := env.app.ListThreads(ctx, "book-1")
	if err != nil {
		t.Fatalf("list threads: %v", err)
	}
	if len(threads) != 1 || threads[0].ID != th.ID {
		t.Fatalf("threads = %+v", threads)
	}
	_, err = env.app.ListThreads(ctx, "missing")
	wantCode(t, err, apperr.CodeNotFound)
}

func TestRenameThreadBlocksAutoTitle(t *testing.T) {
	env := newTestEnv(t)
	env.provider(t, "main")
	th := env.thread(t)
	if _, err := env.app.RenameThread(th.ID, "  "); !errors.Is(err, errTitleRequired) {
		t.Fatalf("err = %v, want title required", err)
	}
	if _, err := env.app.RenameThread("nope", "x"); !errors.Is(err, errThreadNotFound) {
		t.Fatalf("err = %v, want thread not found", err)
	}
	renamed, err := env.app.RenameThread(th.ID, " Notes ")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if renamed.Title == nil || *renamed.Title != "Notes" {
		t.Fatalf("title = %v, want Notes", renamed.Title)
	}
	resp, err := env.app.Reply(context.Background(), ReplyInput{ThreadID: th.ID, PageNumber: 1, Message: "Question here"})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if resp.ThreadUpdate.Title != nil {
		t.Fatalf("auto title replaced explicit title")
	}
}

func TestDeleteThread(t *testing.T) {
	env := newTestEnv(t)
	env.provider(t, "main")
	th := env.thread(t)
	if err := env.app.DeleteThread(th.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := env.app.DeleteThread(th.ID); !errors.Is(err, errThreadNotFound) {
		t.Fatalf("err = %v, want thread not found", err)
	}
	if _, err := env.app.ListMessages(th.ID); !errors.Is(err, errThreadNotFound) {
		t.Fatalf("err = %v, want thread not found", err)
	}
}

func TestCreateProvider(t *testing.T) {
	env := newTestEnv(t)
	first := env.provider(t, "first")
	if !first.IsActive {
		t.Fatalf("first provider not activated")
	}
	if first.EncryptedAPIKey == "sk-first" {
		t.Fatalf("api key stored in clear")
	}
	if key, err := env.box.Open(first.EncryptedAPIKey); err != nil || key != "sk-first" {
		t.Fatalf("open key = %q, %v", key, err)
	}
	if first.BaseURL != ai.DefaultOpenRouterBaseURL {
		t.Fatalf("base url = %q, want default", first.BaseURL)
	}

	gemini, err := env.app.CreateProvider(CreateProviderInput{Type: domain.ProviderGemini, Name: "g", Model: "gemini-2.0-flash", APIKey: "k"})
	if err != nil {
		t.Fatalf("create gemini: %v", err)
	}
	if gemini.IsActive || gemini.BaseURL != "" {
		t.Fatalf("gemini = %+v", gemini)
	}
	providers, err := env.app.ListProviders()
	if err != nil || len(providers) != 2 {
		t.Fatalf("providers = %d, %v", len(providers), err)
	}

	cases := []struct {
		name string
		in   CreateProviderInput
		want error
	}{
		{"no name", CreateProviderInput{Type: domain.ProviderGemini, Model: "m", APIKey: "k"}, errNameRequired},
		{"bad type", CreateProviderInput{Type: "anthropic", Name: "n", Model: "m", APIKey: "k"}, errUnsupportedProvider},
		{"no model", CreateProviderInput{Type: domain.ProviderGemini, Name: "n", APIKey: "k"}, errModelRequired},
		{"no key", CreateProviderInput{Type: domain.ProviderGemini, Name: "n", Model: "m"}, errAPIKeyRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.app.CreateProvider(tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestProviderLifecycleNotFound(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.app.ActivateProvider("nope"); !errors.Is(err, errProviderNotFound) {
		t.Fatalf("activate err = %v", err)
	}
	if err := env.app.DeleteProvider("nope"); !errors.Is(err, errProviderNotFound) {
		t.Fatalf("delete err = %v", err)
	}
}

func TestTestKey(t *testing.T) {
	env := newTestEnv(t)
	env.adapter.reply = "OK"
	ctx := context.Background()
	reply, err := env.app.TestKey(ctx, TestKeyInput{Type: domain.ProviderOpenRouter, Model: "m", APIKey: "k"})
	if err != nil || reply != "OK" {
		t.Fatalf("reply = %q, %v", reply, err)
	}
	if got := env.adapter.calls[0].Request.Messages[0].Content; got != ai.ProbePrompt {
		t.Fatalf("probe = %q", got)
	}
	// Only the OpenRouter adapter is registered.
	if _, err := env.app.TestKey(ctx, TestKeyInput{Type: domain.ProviderGemini, Model: "m", APIKey: "k"}); !errors.Is(err, errUnsupportedProvider) {
		t.Fatalf("err = %v, want unsupported provider", err)
	}
	if _, err := env.app.TestKey(ctx, TestKeyInput{Type: domain.ProviderOpenRouter, Model: "m"}); !errors.Is(err, errAPIKeyRequired) {
		t.Fatalf("err = %v, want api key required", err)
	}
	env.adapter.err = errors.New("connection refused")
	_, err = env.app.TestKey(ctx, TestKeyInput{Type: domain.ProviderOpenRouter, Model: "m", APIKey: "k"})
	wantCode(t, err, apperr.CodeProviderFailed)
}

func TestOpenRouterModels(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"No auth"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"z/model","name":"Z"},{"id":"a/model","context_length":8192},{"name":"no id"}]}`))
	}))
	defer srv.Close()
	env.app.openRouterURL = srv.URL
	env.app.httpClient = srv.Client()

	models, err := env.app.OpenRouterModels(context.Background(), " good ")
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	if len(models) != 2 || models[0].ID != "a/model" || models[0].ContextLength != 8192 || models[1].Name != "Z" {
		t.Fatalf("models = %+v", models)
	}

	_, err = env.app.OpenRouterModels(context.Background(), "bad")
	appErr := wantCode(t, err, apperr.CodeBadRequest)
	if appErr.Message != "OpenRouter request failed (401)" {
		t.Fatalf("message = %q", appErr.Message)
	}
	if _, err := env.app.OpenRouterModels(context.Background(), ""); !errors.Is(err, errAPIKeyRequired) {
		t.Fatalf("err = %v, want api key required", err)
	}
}

func TestDeriveThreadTitle(t *testing.T) {
	existing := "Existing"
	blank := "  "
	cases := []struct {
		name    string
		current *string
		message string
		want    *string
	}{
		{"first sentence", nil, "Hello there. More text", ptr("Hello there")},
		{"question", nil, "What is this? And that?", ptr("What is this")},
		{"collapsed question", nil, "  what   does this mean? tell me more", ptr("what does this mean")},
		{"long", nil, "one two three four five six seven eight nine ten eleven twelve", ptr("one two three four five six seven eight nine ten...")},
		{"whitespace", nil, "  Multiple   spaces\nhere ", ptr("Multiple spaces here")},
		{"punctuation only", nil, "?!", ptr("?!")},
		{"blank title", &blank, "Hi", ptr("Hi")},
		{"titled", &existing, "Anything", nil},
		{"blank message", nil, "   ", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DeriveThreadTitle(tc.current, tc.message)
			switch {
			case tc.want == nil && got != nil:
				t.Fatalf("title = %q, want nil", *got)
			case tc.want != nil && (got == nil || *got != *tc.want):
				t.Fatalf("title = %v, want %q", got, *tc.want)
			}
		})
	}
}

func TestNormalizePageNumber(t *testing.T) {
	cases := []struct {
		in   any
		want int
		ok   bool
	}{
		{3, 3, true},
		{int64(7), 7, true},
		{2.0, 2, true},
		{json.Number("4"), 4, true},
		{json.Number("4.0"), 4, true},
		{"5", 5, true},
		{" 6 ", 6, true},
		{2.5, 0, false},
		{0, 0, false},
		{-1, 0, false},
		{"abc", 0, false},
		{"", 0, false},
		{nil, 0, false},
		{true, 0, false},
		{math.NaN(), 0, false},
		{math.Inf(1), 0, false},
		{float64(math.MaxInt32) + 1, 0, false},
	}
	for _, tc := range cases {
		got, err := NormalizePageNumber(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("NormalizePageNumber(%#v) = %d, %v, want %d", tc.in, got, err, tc.want)
		}
		if !tc.ok && !errors.Is(err, errInvalidPage) {
			t.Fatalf("NormalizePageNumber(%#v) err = %v, want invalid page", tc.in, err)
		}
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for empty config")
	}
}

func ptr(s string) *string { return &s }
