// Package bookclient reads books through the book service's internal API.
package bookclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"socratium/internal/servicetoken"
	"socratium/internal/util"
	"socratium/pkg/apperr"
	"socratium/pkg/domain"
)

// Client calls the book service with a signed service token on every
// request.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a book service client. A nil signer sends
// unsigned requests.
func NewClient(baseURL string, signer *servicetoken.Signer) *Client {
	var transport http.RoundTripper = http.DefaultTransport
	if signer != nil {
		transport = &servicetoken.Transport{Signer: signer, Audience: servicetoken.AudienceBook}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second, Transport: transport},
	}
}

// Meta fetches the public view of a book.
func (c *Client) Meta(ctx context.Context, bookID string) (domain.BookMeta, error) {
	var meta domain.BookMeta
	err := c.get(ctx, "/internal/books/"+url.PathEscape(bookID)+"/meta", &meta)
	return meta, err
}

// PageText fetches the text of one page.
func (c *Client) PageText(ctx context.Context, bookID string, page int) (domain.PageText, error) {
	var pt domain.PageText
	err := c.get(ctx, "/internal/books/"+url.PathEscape(bookID)+"/pages/"+strconv.Itoa(page), &pt)
	return pt, err
}

// SectionTitle resolves the outline heading covering page; nil when none.
func (c *Client) SectionTitle(ctx context.Context, bookID string, page int) (*string, error) {
	var out struct {
		SectionTitle *string `json:"section_title"`
	}
	err := c.get(ctx, "/internal/books/"+url.PathEscape(bookID)+"/section?page="+strconv.Itoa(page), &out)
	return out.SectionTitle, err
}

func (c *Client) get(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return apperr.Internal(err)
	}
	util.ForwardRequestID(ctx, req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Unavailable("Book service unavailable", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return apperr.Unavailable("Book service unavailable", err)
	}
	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apperr.Unavailable("Book service unavailable", fmt.Errorf("decode %s: %w", path, err))
	}
	return nil
}

// decodeError keeps the book service's 4xx errors as they are so a missing
// book reads the same to chat callers. Everything else is unavailable.
func decodeError(status int, body []byte) error {
	var env struct {
		Error struct {
			Code    apperr.Code `json:"code"`
			Message string      `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &env)
	if status >= 400 && status < 500 && status != http.StatusUnauthorized && env.Error.Message != "" {
		return &apperr.Error{Code: env.Error.Code, Status: status, Message: env.Error.Message}
	}
	return apperr.Unavailable("Book service unavailable", fmt.Errorf("book service status %d: %s", status, env.Error.Message))
}
