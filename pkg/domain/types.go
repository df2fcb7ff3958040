package domain

import (
	"encoding/json"
	"time"
)

type BookStatus string

const (
	StatusQueued     BookStatus = "queued"
	StatusProcessing BookStatus = "processing"
	StatusReady      BookStatus = "ready"
	StatusFailed     BookStatus = "failed"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ProviderType string

const (
	ProviderGemini     ProviderType = "gemini"
	ProviderOpenRouter ProviderType = "openrouter"
)

// Valid reports whether t names a supported provider type.
func (t ProviderType) Valid() bool {
	return t == ProviderGemini || t == ProviderOpenRouter
}

type ExcerptStatus string

const (
	ExcerptAvailable ExcerptStatus = "available"
	ExcerptMissing   ExcerptStatus = "missing"
)

type Book struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	SourceFilename string     `json:"source_filename"`
	StorageKey     string     `json:"-"`
	TextKey        string     `json:"-"`
	Outline        []byte     `json:"-"`
	Status         BookStatus `json:"status"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	SizeBytes      int64      `json:"size_bytes"`
	PageCount      int        `json:"page_count"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// BookMeta is the public view of a book used by readers and the chat service.
type BookMeta struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	SourceFilename string     `json:"source_filename"`
	Status         BookStatus `json:"status"`
	PageCount      int        `json:"page_count"`
	HasText        bool       `json:"has_text"`
	HasOutline     bool       `json:"has_outline"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Meta projects the book onto its public view.
func (b Book) Meta() BookMeta {
	return BookMeta{
		ID:             b.ID,
		Title:          b.Title,
		SourceFilename: b.SourceFilename,
		Status:         b.Status,
		PageCount:      b.PageCount,
		HasText:        b.TextKey != "",
		HasOutline:     len(b.Outline) > 0,
		CreatedAt:      b.CreatedAt,
	}
}

// PageMapEntry maps a 1-based page number to a half-open byte range
// [StartOffset, EndOffset) in the book's extracted text.
type PageMapEntry struct {
	PageNumber  int `json:"page_number"`
	StartOffset int `json:"start_offset"`
	EndOffset   int `json:"end_offset"`
}

type PageText struct {
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
}

// OutlineNode is one bookmark of a document outline.
// PageNumber is nil when the destination could not be resolved.
type OutlineNode struct {
	Title      string        `json:"title"`
	PageNumber *int          `json:"pageNumber"`
	Children   []OutlineNode `json:"children,omitempty"`
}

type Thread struct {
	ID           string       `json:"id"`
	BookID       string       `json:"book_id"`
	Title        *string      `json:"title"`
	ProviderID   string       `json:"provider_id"`
	ProviderName string       `json:"provider_name,omitempty"`
	ProviderType ProviderType `json:"provider_type,omitempty"`
	Model        string       `json:"model,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// ThreadUpdate reports the thread fields a chat turn changed.
type ThreadUpdate struct {
	ID        string    `json:"id"`
	Title     *string   `json:"title,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// PromptMeta summarizes the reading position a prompt was built for.
type PromptMeta struct {
	PageNumber    int           `json:"pageNumber"`
	SectionTitle  *string       `json:"sectionTitle"`
	ExcerptStatus ExcerptStatus `json:"excerptStatus"`
}

type PromptPayload struct {
	SystemPrompt   string        `json:"system_prompt"`
	ReadingContext string        `json:"reading_context"`
	Messages       []ChatMessage `json:"messages"`
	Meta           PromptMeta    `json:"meta"`
}

// MessageMeta is the audit record attached to a stored message.
// User messages carry only the reading position.
type MessageMeta struct {
	PageNumber          int             `json:"page_number"`
	SectionName         *string         `json:"section_name"`
	ContextText         string          `json:"context_text,omitempty"`
	ExcerptStatus       ExcerptStatus   `json:"excerpt_status,omitempty"`
	PromptPayload       *PromptPayload  `json:"prompt_payload,omitempty"`
	PromptText          string          `json:"prompt_text,omitempty"`
	ProviderResponse    string          `json:"provider_response,omitempty"`
	ProviderResponseRaw json.RawMessage `json:"provider_response_raw,omitempty"`
}

type Message struct {
	ID        string       `json:"id"`
	ThreadID  string       `json:"thread_id"`
	Role      Role         `json:"role"`
	Content   string       `json:"content"`
	Meta      *MessageMeta `json:"meta"`
	CreatedAt time.Time    `json:"created_at"`
}

type Provider struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Type            ProviderType `json:"provider_type"`
	BaseURL         string       `json:"base_url,omitempty"`
	Model           string       `json:"model"`
	EncryptedAPIKey string       `json:"-"`
	IsActive        bool         `json:"is_active"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}
