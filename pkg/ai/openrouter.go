package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"socratium/pkg/domain"
)

// DefaultOpenRouterBaseURL is used when a provider has no base URL.
const DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

const (
	openRouterReferer = "http://localhost"
	openRouterTitle   = "Socratium"
	maxResponseBytes  = 8 << 20
)

// OpenRouter calls an OpenAI-compatible /chat/completions endpoint with a
// structured messages array.
type OpenRouter struct {
	httpClient *http.Client
}

// NewOpenRouter constructs the adapter.
func NewOpenRouter(httpClient *http.Client) *OpenRouter {
	if httpClient == nil {
		httpClient = defaultHTTPClient()
	}
	return &OpenRouter{httpClient: httpClient}
}

func (o *OpenRouter) Type() domain.ProviderType { return domain.ProviderOpenRouter }

// Chat implements Adapter.
func (o *OpenRouter) Chat(ctx context.Context, in ChatInput) (Response, error) {
	model := strings.TrimSpace(in.Model)
	if model == "" {
		return Response{}, fmt.Errorf("openrouter model required")
	}
	messages := make([]oaiMessage, 0, len(in.Request.Messages))
	for _, m := range in.Request.Messages {
		messages = append(messages, oaiMessage{Role: string(m.Role), Content: m.Content})
	}
	reqBody := oaiChatRequest{Model: model, Messages: messages}
	if p := in.Request.Params; p != nil {
		reqBody.Temperature = p.Temperature
		reqBody.TopP = p.TopP
		reqBody.TopK = p.TopK
		reqBody.MaxTokens = p.MaxOutputTokens
		reqBody.PresencePenalty = p.PresencePenalty
		reqBody.FrequencyPenalty = p.FrequencyPenalty
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return Response{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openRouterURL(in.BaseURL)+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	setOpenRouterHeaders(req, in.APIKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, fmt.Errorf("read openrouter response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return Response{}, &StatusError{Status: resp.StatusCode, Message: errorMessage(data)}
	}
	return Response{Text: ExtractText(data), Raw: rawJSON(data)}, nil
}

func openRouterURL(baseURL string) string {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return DefaultOpenRouterBaseURL
	}
	return baseURL
}

func setOpenRouterHeaders(req *http.Request, apiKey string) {
	if apiKey = strings.TrimSpace(apiKey); apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	req.Header.Set("HTTP-Referer", openRouterReferer)
	req.Header.Set("X-Title", openRouterTitle)
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiChatRequest struct {
	Model            string       `json:"model"`
	Messages         []oaiMessage `json:"messages"`
	Temperature      *float64     `json:"temperature,omitempty"`
	TopP             *float64     `json:"top_p,omitempty"`
	TopK             *int         `json:"top_k,omitempty"`
	MaxTokens        *int         `json:"max_tokens,omitempty"`
	PresencePenalty  *float64     `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64     `json:"frequency_penalty,omitempty"`
}
