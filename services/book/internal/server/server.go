package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"socratium/internal/servicetoken"
	"socratium/internal/util"
	"socratium/pkg/apperr"
	"socratium/services/book/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Internal       *servicetoken.Verifier
	MaxUploadBytes int64
	CORSOrigins    []string
}

// Server exposes the public book API and the internal routes used by the
// chat service.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	maxUploadBytes int64
	corsOrigins    []string
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.Internal == nil {
		return nil, errors.New("internal token verifier required")
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		maxUploadBytes: cfg.MaxUploadBytes,
		corsOrigins:    cfg.CORSOrigins,
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = 200 << 20
	}
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.mux.HandleFunc("/api/books", s.handleBooks)
	s.mux.HandleFunc("/api/books/upload", s.handleUpload)
	s.mux.HandleFunc("/api/books/", s.handleBook)
	deny := func(w http.ResponseWriter, r *http.Request, err error) {
		util.LoggerFromContext(r.Context()).Warn("internal request rejected", "err", err)
		writeError(w, r, &apperr.Error{Code: "UNAUTHORIZED", Status: http.StatusUnauthorized, Message: "unauthorized"})
	}
	s.mux.Handle("/internal/books/", servicetoken.Require(cfg.Internal, deny)(http.HandlerFunc(s.handleInternal)))
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.corsOrigins, s.mux))))
}

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	books, err := s.app.List()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": books, "count": len(books)})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, &apperr.Error{Code: "FILE_TOO_LARGE", Status: http.StatusRequestEntityTooLarge, Message: "File too large"})
			return
		}
		writeError(w, r, apperr.BadRequest("Missing PDF upload"))
		return
	}
	defer file.Close()
	meta, err := s.app.Upload(r.Context(), header.Filename, file, header.Size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, meta)
}

// /api/books/{id}[/pdf|/download|/outline|/page-map|/pages/{n}|/text-sample|/section]
func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/books/"), "/"), "/")
	id := parts[0]
	if id == "" {
		notFound(w, r)
		return
	}
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.respond(w, r)(s.app.Meta(id))
		case http.MethodDelete:
			if err := s.app.Delete(r.Context(), id); err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		default:
			methodNotAllowed(w, r)
		}
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	q := r.URL.Query()
	switch {
	case len(parts) == 2 && parts[1] == "pdf":
		s.streamPDF(w, r, id)
	case len(parts) == 2 && parts[1] == "download":
		url, err := s.app.DownloadURL(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	case len(parts) == 2 && parts[1] == "outline":
		outline, err := s.app.Outline(id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"outline": outline})
	case len(parts) == 2 && parts[1] == "page-map":
		limit := app.NormalizeLimit(q.Get("limit"), app.DefaultSampleLimit, app.MaxSampleLimit)
		entries, err := s.app.PageMap(id, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
	case len(parts) == 3 && parts[1] == "pages":
		s.pageText(w, r, id, parts[2])
	case len(parts) == 2 && parts[1] == "text-sample":
		limit := app.NormalizeLimit(q.Get("limit"), app.DefaultSampleLimit, app.MaxSampleLimit)
		text, err := s.app.TextSample(r.Context(), id, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"text": text})
	case len(parts) == 2 && parts[1] == "section":
		s.section(w, r, id)
	default:
		notFound(w, r)
	}
}

// /internal/books/{id}/meta|pages/{n}|section?page=
func (s *Server) handleInternal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/internal/books/"), "/"), "/")
	switch {
	case len(parts) == 2 && parts[1] == "meta":
		s.respond(w, r)(s.app.Meta(parts[0]))
	case len(parts) == 3 && parts[1] == "pages":
		s.pageText(w, r, parts[0], parts[2])
	case len(parts) == 2 && parts[1] == "section":
		s.section(w, r, parts[0])
	default:
		notFound(w, r)
	}
}

func (s *Server) streamPDF(w http.ResponseWriter, r *http.Request, id string) {
	rc, book, err := s.app.OpenPDF(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()
	util.AllowFraming(w)
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "inline; filename="+strconv.Quote(book.SourceFilename))
	if book.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(book.SizeBytes, 10))
	}
	if _, err := io.Copy(w, rc); err != nil {
		util.LoggerFromContext(r.Context()).Warn("pdf stream interrupted", "book_id", id, "err", err)
	}
}

func (s *Server) pageText(w http.ResponseWriter, r *http.Request, id, rawPage string) {
	page, ok := parsePage(rawPage)
	if !ok {
		writeError(w, r, apperr.BadRequest("Invalid page number"))
		return
	}
	s.respond(w, r)(s.app.PageText(r.Context(), id, page))
}

func (s *Server) section(w http.ResponseWriter, r *http.Request, id string) {
	page, ok := parsePage(r.URL.Query().Get("page"))
	if !ok {
		writeError(w, r, apperr.BadRequest("Invalid page number"))
		return
	}
	title, err := s.app.SectionTitle(id, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*string{"section_title": title})
}

// respond adapts a (value, error) pair into a 200 JSON response or an
// error response.
func (s *Server) respond(w http.ResponseWriter, r *http.Request) func(any, error) {
	return func(v any, err error) {
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// parsePage accepts positive integers only. "2.0" and "1e1" are rejected.
func parsePage(raw string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
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
