package prompt

import (
	"strings"

	"socratium/pkg/ai"
	"socratium/pkg/domain"
)

// Transcript renders messages oldest first as "User: ..." and
// "Assistant: ..." lines. Any role other than assistant is shown as User.
func Transcript(messages []domain.ChatMessage) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		label := "User"
		if m.Role == domain.RoleAssistant {
			label = "Assistant"
		}
		lines = append(lines, label+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// BuildText joins the system prompt, the reading context and the
// transcript. Empty parts are dropped.
func BuildText(payload domain.PromptPayload) string {
	parts := []string{
		strings.TrimSpace(payload.SystemPrompt),
		"",
		strings.TrimSpace(payload.ReadingContext),
		"",
		Transcript(payload.Messages),
	}
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}

// Input is everything needed to assemble one chat request.
type Input struct {
	Position Position
	Pages    []domain.PageText
	// History is the recent conversation, oldest first, including the
	// message being answered.
	History      []domain.ChatMessage
	SystemPrompt string
	Params       *ai.Params
}

// Assembly is the assembled request together with its trace.
type Assembly struct {
	Request        ai.Request
	Payload        domain.PromptPayload
	PromptText     string
	ReadingContext string
	ContextText    string
	ExcerptStatus  domain.ExcerptStatus
}

// Assemble builds the provider-neutral request. The whole prompt is sent
// as a single user message.
func Assemble(in Input) Assembly {
	system := in.SystemPrompt
	if system == "" {
		system = SystemPrompt
	}
	rc := FormatReadingContext(in.Position, in.Pages)
	meta := domain.PromptMeta{
		PageNumber:    in.Position.Page,
		SectionTitle:  in.Position.Section,
		ExcerptStatus: rc.ExcerptStatus,
	}
	history := in.History
	if history == nil {
		history = []domain.ChatMessage{}
	}
	payload := domain.PromptPayload{
		SystemPrompt:   system,
		ReadingContext: rc.Block,
		Messages:       history,
		Meta:           meta,
	}
	text := BuildText(payload)
	return Assembly{
		Request: ai.Request{
			Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: text}},
			Params:   in.Params,
			Meta:     &meta,
			Trace: &ai.Trace{
				PromptText:     text,
				PromptPayload:  &payload,
				ReadingContext: rc.Block,
				ContextText:    rc.ContextText,
				ExcerptStatus:  rc.ExcerptStatus,
			},
		},
		Payload:        payload,
		PromptText:     text,
		ReadingContext: rc.Block,
		ContextText:    rc.ContextText,
		ExcerptStatus:  rc.ExcerptStatus,
	}
}
