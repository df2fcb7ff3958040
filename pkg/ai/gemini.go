package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"socratium/pkg/domain"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini calls the Google AI Studio generateContent API. The whole
// conversation is sent as a single prompt string.
type Gemini struct {
	httpClient *http.Client
}

// NewGemini constructs the adapter.
func NewGemini(httpClient *http.Client) *Gemini {
	if httpClient == nil {
		httpClient = defaultHTTPClient()
	}
	return &Gemini{httpClient: httpClient}
}

func (g *Gemini) Type() domain.ProviderType { return domain.ProviderGemini }

// Chat implements Adapter.
func (g *Gemini) Chat(ctx context.Context, in ChatInput) (Response, error) {
	apiKey := strings.TrimSpace(in.APIKey)
	if apiKey == "" {
		return Response{}, fmt.Errorf("gemini api key required")
	}
	model := normalizeModel(in.Model)
	if model == "" {
		return Response{}, fmt.Errorf("gemini model required")
	}
	reqBody := generateRequest{
		Contents: []content{{
			Role:  "user",
			Parts: []part{{Text: geminiPrompt(in.Request.Messages)}},
		}},
		GenerationConfig: geminiConfig(in.Request.Params),
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return Response{}, err
	}
	baseURL := strings.TrimRight(strings.TrimSpace(in.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", baseURL, url.PathEscape(model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, fmt.Errorf("read gemini response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return Response{}, &StatusError{Status: resp.StatusCode, Message: errorMessage(data)}
	}
	return Response{Text: ExtractText(data), Raw: rawJSON(data)}, nil
}

// geminiPrompt flattens the conversation. A single message is sent as is.
func geminiPrompt(messages []domain.ChatMessage) string {
	if len(messages) == 1 {
		return messages[0].Content
	}
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, strings.ToUpper(string(m.Role))+": "+m.Content)
	}
	return strings.Join(parts, "\n\n")
}

func geminiConfig(p *Params) *generationConfig {
	if p == nil {
		return nil
	}
	cfg := &generationConfig{
		Temperature:      p.Temperature,
		TopP:             p.TopP,
		TopK:             p.TopK,
		MaxOutputTokens:  p.MaxOutputTokens,
		PresencePenalty:  p.PresencePenalty,
		FrequencyPenalty: p.FrequencyPenalty,
	}
	if *cfg == (generationConfig{}) {
		return nil
	}
	return cfg
}

func normalizeModel(model string) string {
	model = strings.TrimSpace(model)
	return strings.TrimPrefix(model, "models/")
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	TopK             *int     `json:"topK,omitempty"`
	MaxOutputTokens  *int     `json:"maxOutputTokens,omitempty"`
	PresencePenalty  *float64 `json:"presencePenalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequencyPenalty,omitempty"`
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}
