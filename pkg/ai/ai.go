// Package ai adapts normalized chat requests onto AI vendor APIs.
//
// Every vendor is an Adapter registered under its provider type. Adapters
// convert the normalized request into the vendor call and the vendor
// response back into plain text plus the raw payload.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"socratium/pkg/domain"
)

// NoResponse is returned as the reply text when a vendor payload carries
// no recognizable text.
const NoResponse = "No response generated."

// ProbePrompt is sent when checking that an API key works.
const ProbePrompt = "Reply with the single word OK."

// ErrUnsupportedProvider is returned for provider types with no adapter.
var ErrUnsupportedProvider = errors.New("unsupported provider type")

// Params are optional sampling parameters. Nil fields are left to the
// vendor default.
type Params struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	TopK             *int     `json:"topK,omitempty"`
	MaxOutputTokens  *int     `json:"maxOutputTokens,omitempty"`
	PresencePenalty  *float64 `json:"presencePenalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequencyPenalty,omitempty"`
}

// Trace records how a request was assembled. Adapters ignore it.
type Trace struct {
	PromptText     string                `json:"promptText,omitempty"`
	PromptPayload  *domain.PromptPayload `json:"promptPayload,omitempty"`
	ReadingContext string                `json:"readingContext,omitempty"`
	ContextText    string                `json:"contextText,omitempty"`
	ExcerptStatus  domain.ExcerptStatus  `json:"excerptStatus,omitempty"`
}

// Request is the vendor-neutral chat request.
type Request struct {
	Messages []domain.ChatMessage `json:"messages"`
	Params   *Params              `json:"params,omitempty"`
	Meta     *domain.PromptMeta   `json:"meta,omitempty"`
	Trace    *Trace               `json:"trace,omitempty"`
}

// Response is the vendor-neutral chat response. Raw is the vendor payload
// as received, kept for auditing.
type Response struct {
	Text string          `json:"text"`
	Raw  json.RawMessage `json:"raw,omitempty"`
}

// ChatInput is what an adapter needs for one call. BaseURL overrides the
// adapter default when set.
type ChatInput struct {
	APIKey  string
	Model   string
	BaseURL string
	Request Request
}

// Adapter is implemented once per vendor.
type Adapter interface {
	Type() domain.ProviderType
	Chat(ctx context.Context, in ChatInput) (Response, error)
}

// RequestError wraps any failure talking to a vendor.
type RequestError struct {
	Provider domain.ProviderType
	Err      error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("provider request failed (%s): %v", e.Provider, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// StatusError is returned when a vendor answers with an HTTP error.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status %d", e.Status)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 120 * time.Second}
}

// rawJSON keeps body as a JSON value, quoting it when it is not valid JSON.
func rawJSON(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, err := json.Marshal(string(body))
	if err != nil {
		return nil
	}
	return quoted
}
