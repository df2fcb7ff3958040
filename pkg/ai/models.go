package ai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/buger/jsonparser"
)

// ModelInfo describes one model offered by OpenRouter.
type ModelInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	ContextLength int64  `json:"context_length,omitempty"`
}

// ListOpenRouterModels fetches the model catalogue sorted by id. Entries
// without an id are dropped.
func ListOpenRouterModels(ctx context.Context, httpClient *http.Client, baseURL, apiKey string) ([]ModelInfo, error) {
	if httpClient == nil {
		httpClient = defaultHTTPClient()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, openRouterURL(baseURL)+"/models", nil)
	if err != nil {
		return nil, err
	}
	setOpenRouterHeaders(req, apiKey)
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read models response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &StatusError{Status: resp.StatusCode, Message: errorMessage(data)}
	}
	return parseModels(data), nil
}

func parseModels(data []byte) []ModelInfo {
	models := []ModelInfo{}
	_, _ = jsonparser.ArrayEach(data, func(value []byte, typ jsonparser.ValueType, _ int, err error) {
		if err != nil || typ != jsonparser.Object {
			return
		}
		id, err := jsonparser.GetString(value, "id")
		if err != nil || strings.TrimSpace(id) == "" {
			return
		}
		m := ModelInfo{ID: id}
		if name, err := jsonparser.GetString(value, "name"); err == nil {
			m.Name = name
		}
		if n, err := jsonparser.GetInt(value, "context_length"); err == nil {
			m.ContextLength = n
		}
		models = append(models, m)
	}, "data")
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models
}
