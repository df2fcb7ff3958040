package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"socratium/internal/ratelimit"
	"socratium/internal/util"
	"socratium/pkg/apperr"
	"socratium/services/chat/internal/app"
)

const maxBodyBytes = 1 << 20

// Config wires required dependencies for the HTTP server. Limiter is
// optional; without it chat turns are not rate limited.
type Config struct {
	App            *app.App
	Limiter        *ratelimit.Limiter
	TrustedProxies *util.TrustedProxies
	CORSOrigins    []string
}

// Server exposes HTTP endpoints for the chat service.
type Server struct {
	app         *app.App
	mux         *http.ServeMux
	corsOrigins []string
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	s := &Server{app: cfg.App, mux: http.NewServeMux(), corsOrigins: cfg.CORSOrigins}

	var chat http.Handler = http.HandlerFunc(s.handleChat)
	if cfg.Limiter != nil {
		keyFunc := func(r *http.Request) string { return "chat:" + util.ClientIP(r, cfg.TrustedProxies) }
		deny := func(w http.ResponseWriter, r *http.Request, _ ratelimit.Decision) {
			writeError(w, r, &apperr.Error{Code: apperr.CodeRateLimited, Status: http.StatusTooManyRequests, Message: "Too many chat requests"})
		}
		chat = ratelimit.Middleware(cfg.Limiter, keyFunc, deny)(chat)
	}

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.mux.Handle("/api/chat", chat)
	s.mux.HandleFunc("/api/books/", s.handleBookThreads)
	s.mux.HandleFunc("/api/threads/", s.handleThread)
	s.mux.HandleFunc("/api/providers", s.handleProviders)
	s.mux.HandleFunc("/api/providers/", s.handleProvider)
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.corsOrigins, s.mux))))
}

type chatRequest struct {
	ThreadID   string `json:"threadId"`
	PageNumber any    `json:"pageNumber"`
	Message    string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.app.Reply(r.Context(), app.ReplyInput{
		ThreadID:   req.ThreadID,
		PageNumber: req.PageNumber,
		Message:    req.Message,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// /api/books/{bookId}/threads
func (s *Server) handleBookThreads(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/api/books/")
	if len(parts) != 2 || parts[1] != "threads" {
		notFound(w, r)
		return
	}
	bookID := parts[0]
	switch r.Method {
	case http.MethodGet:
		threads, err := s.app.ListThreads(r.Context(), bookID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, threads)
	case http.MethodPost:
		thread, err := s.app.CreateThread(r.Context(), bookID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, thread)
	default:
		methodNotAllowed(w, r)
	}
}

// /api/threads/{id} and /api/threads/{id}/messages
func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/api/threads/")
	switch {
	case len(parts) == 1:
		s.threadItem(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "messages":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r)
			return
		}
		msgs, err := s.app.ListMessages(parts[0])
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	default:
		notFound(w, r)
	}
}

func (s *Server) threadItem(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodPatch:
		var req struct {
			Title string `json:"title"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		thread, err := s.app.RenameThread(id, req.Title)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, thread)
	case http.MethodDelete:
		if err := s.app.DeleteThread(id); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r)
	}
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		providers, err := s.app.ListProviders()
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, providers)
	case http.MethodPost:
		var in app.CreateProviderInput
		if !decodeBody(w, r, &in) {
			return
		}
		p, err := s.app.CreateProvider(in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	default:
		methodNotAllowed(w, r)
	}
}

// /api/providers/test, /api/providers/openrouter/models,
// /api/providers/{id}/activate and /api/providers/{id}
func (s *Server) handleProvider(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/api/providers/")
	switch {
	case len(parts) == 1 && parts[0] == "test":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r)
			return
		}
		var in app.TestKeyInput
		if !decodeBody(w, r, &in) {
			return
		}
		msg, err := s.app.TestKey(r.Context(), in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": msg})
	case len(parts) == 2 && parts[0] == "openrouter" && parts[1] == "models":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r)
			return
		}
		var req struct {
			APIKey string `json:"apiKey"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		models, err := s.app.OpenRouterModels(r.Context(), req.APIKey)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": models})
	case len(parts) == 2 && parts[1] == "activate":
		if r.Method != http.MethodPost && r.Method != http.MethodPatch {
			methodNotAllowed(w, r)
			return
		}
		p, err := s.app.ActivateProvider(parts[0])
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case len(parts) == 1:
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r)
			return
		}
		if err := s.app.DeleteProvider(parts[0]); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		notFound(w, r)
	}
}

func splitPath(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		writeError(w, r, apperr.BadRequest("invalid JSON body"))
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, &apperr.Error{Code: "METHOD_NOT_ALLOWED", Status: http.StatusMethodNotAllowed, Message: "method not allowed"})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, apperr.NotFound("not found"))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

type errorResponse struct {
	Error     errorBody `json:"error"`
	RequestID string    `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.Internal(err)
	}
	if appErr.Status >= http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, appErr.Status, errorResponse{
		Error:     errorBody{Code: appErr.Code, Message: appErr.Message},
		RequestID: util.RequestIDFromRequest(r),
	})
}
