package prompt

import (
	"fmt"
	"strings"

	"socratium/pkg/domain"
)

const (
	UnknownSection = "Unknown section"
	NoExcerpt      = "(no excerpt text available)"
)

// Position identifies where the reader is.
type Position struct {
	BookTitle string
	// Section is nil when no outline heading precedes the page.
	Section *string
	Page    int
}

// ReadingContext is the formatted context block plus the pieces it was
// built from.
type ReadingContext struct {
	Block         string
	ContextText   string
	ExcerptStatus domain.ExcerptStatus
}

// ContextText renders pages as "Page <n>:\n<text>" separated by blank lines.
func ContextText(pages []domain.PageText) string {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		parts = append(parts, fmt.Sprintf("Page %d:\n%s", p.PageNumber, p.Text))
	}
	return strings.Join(parts, "\n\n")
}

// StatusOf reports whether contextText carries any non-blank text.
func StatusOf(contextText string) domain.ExcerptStatus {
	if strings.TrimSpace(contextText) == "" {
		return domain.ExcerptMissing
	}
	return domain.ExcerptAvailable
}

// FormatReadingContext builds the [READING_CONTEXT] block. Downstream
// tooling parses the section headers, so the layout is fixed.
func FormatReadingContext(pos Position, pages []domain.PageText) ReadingContext {
	contextText := ContextText(pages)
	status := StatusOf(contextText)
	section := UnknownSection
	if pos.Section != nil {
		section = *pos.Section
	}
	excerpt := strings.TrimSpace(contextText)
	if excerpt == "" {
		excerpt = NoExcerpt
	}
	block := strings.Join([]string{
		"[READING_CONTEXT]",
		"Book: " + pos.BookTitle,
		"Section/Subsection: " + section,
		fmt.Sprintf("Page: %d", pos.Page),
		"ExcerptStatus: " + string(status),
		"",
		"[BOOK_EXCERPT]",
		excerpt,
	}, "\n")
	return ReadingContext{Block: block, ContextText: contextText, ExcerptStatus: status}
}
