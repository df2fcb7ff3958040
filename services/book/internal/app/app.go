package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"
	"socratium/internal/util"
	"socratium/pkg/apperr"
	"socratium/pkg/domain"
	"socratium/pkg/extract"
	"socratium/pkg/outline"
	"socratium/pkg/pagemap"
	"socratium/pkg/queue"
	"socratium/pkg/storage"
	"socratium/pkg/store"
)

const (
	DefaultSampleLimit = 2000
	MaxSampleLimit     = 20000
)

// Config wires the book application.
type Config struct {
	Store     store.BookStore
	Objects   storage.ObjectStore
	Queue     queue.JobQueue
	Extractor *extract.Extractor
	// Cache is optional; page lookups go to object storage without it.
	Cache         PageCache
	PresignExpiry time.Duration
}

// App implements book upload, extraction and reading-position lookups.
type App struct {
	store         store.BookStore
	objects       storage.ObjectStore
	queue         queue.JobQueue
	extractor     *extract.Extractor
	cache         PageCache
	presignExpiry time.Duration
	texts         singleflight.Group
}

// New validates cfg and builds the App.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("book store required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("job queue required")
	}
	ex := cfg.Extractor
	if ex == nil {
		ex = extract.New()
	}
	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &App{
		store:         cfg.Store,
		objects:       cfg.Objects,
		queue:         cfg.Queue,
		extractor:     ex,
		cache:         cfg.Cache,
		presignExpiry: expiry,
	}, nil
}

// Upload stores a PDF, records the book as queued and enqueues extraction.
func (a *App) Upload(ctx context.Context, filename string, r io.Reader, size int64) (domain.BookMeta, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." {
		return domain.BookMeta{}, apperr.BadRequest("Missing PDF upload")
	}
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return domain.BookMeta{}, apperr.BadRequest("Only PDF files are supported")
	}
	now := time.Now().UTC()
	id := util.NewID()
	book := domain.Book{
		ID:             id,
		Title:          strings.TrimSuffix(filename, filepath.Ext(filename)),
		SourceFilename: filename,
		StorageKey:     pdfKey(id),
		Status:         domain.StatusQueued,
		SizeBytes:      size,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := a.objects.Put(ctx, book.StorageKey, r, size, "application/pdf"); err != nil {
		return domain.BookMeta{}, apperr.Internal(fmt.Errorf("save pdf: %w", err))
	}
	if err := a.store.SaveBook(book); err != nil {
		_ = a.objects.Delete(ctx, book.StorageKey)
		return domain.BookMeta{}, apperr.Internal(fmt.Errorf("save book: %w", err))
	}
	if _, err := a.queue.Enqueue(ctx, id); err != nil {
		_ = a.store.SetBookStatus(id, domain.StatusFailed, "could not queue extraction")
		return domain.BookMeta{}, apperr.Unavailable("Extraction queue unavailable", err)
	}
	util.LoggerFromContext(ctx).Info("book uploaded", "book_id", id, "size_bytes", size)
	return book.Meta(), nil
}

// ProcessJob is the extraction queue handler. It downloads the PDF,
// extracts pages and outline, stores the joined text and page map, and
// marks the book ready. Jobs for deleted books are dropped. Any failure
// after the book enters processing marks it failed; a later retry moves it
// back to processing.
func (a *App) ProcessJob(ctx context.Context, job queue.Job) (err error) {
	book, ok, err := a.store.GetBook(job.BookID)
	if err != nil {
		return err
	}
	if !ok {
		slog.Info("skipping extraction for deleted book", "book_id", job.BookID)
		return nil
	}
	if err := a.store.SetBookStatus(book.ID, domain.StatusProcessing, ""); err != nil {
		return err
	}
	failure := "Failed to extract PDF text"
	defer func() {
		if err == nil {
			return
		}
		if serr := a.store.SetBookStatus(book.ID, domain.StatusFailed, failure); serr != nil && !errors.Is(serr, store.ErrNotFound) {
			slog.Warn("mark book failed", "book_id", book.ID, "err", serr)
		}
	}()
	res, err := a.extractBook(ctx, book)
	if err != nil {
		return err
	}
	failure = "Failed to store extracted text"
	text, entries := res.Text()
	if err := pagemap.Validate(entries, len(pagemap.Joiner)); err != nil {
		return fmt.Errorf("page map: %w", err)
	}
	textKey := textKey(book.ID)
	if err := a.objects.Put(ctx, textKey, strings.NewReader(text), int64(len(text)), "text/plain; charset=utf-8"); err != nil {
		return fmt.Errorf("save text: %w", err)
	}
	var rawOutline []byte
	if res.Outline != nil {
		if rawOutline, err = json.Marshal(res.Outline); err != nil {
			return fmt.Errorf("encode outline: %w", err)
		}
	}
	err = a.store.SaveExtraction(book.ID, store.Extraction{
		TextKey:   textKey,
		PageCount: len(res.Pages),
		Outline:   rawOutline,
		PageMap:   entries,
	})
	if errors.Is(err, store.ErrNotFound) {
		_ = a.objects.Delete(ctx, textKey)
		return nil
	}
	if err != nil {
		return fmt.Errorf("save extraction: %w", err)
	}
	if a.cache != nil {
		a.cache.Invalidate(ctx, book.ID)
	}
	slog.Info("book extracted", "book_id", book.ID, "pages", len(res.Pages), "has_outline", rawOutline != nil, "attempt", job.Attempts)
	return nil
}

func (a *App) extractBook(ctx context.Context, book domain.Book) (extract.Result, error) {
	rc, err := a.objects.Get(ctx, book.StorageKey)
	if err != nil {
		return extract.Result{}, fmt.Errorf("load pdf: %w", err)
	}
	defer rc.Close()
	tmp, err := os.CreateTemp("", "socratium-*.pdf")
	if err != nil {
		return extract.Result{}, err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		return extract.Result{}, fmt.Errorf("spool pdf: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return extract.Result{}, err
	}
	return a.extractor.File(ctx, tmp.Name())
}

// List returns every book, newest first.
func (a *App) List() ([]domain.BookMeta, error) {
	books, err := a.store.ListBooks()
	if err != nil {
		return nil, apperr.Internal(err)
	}
	out := make([]domain.BookMeta, 0, len(books))
	for _, b := range books {
		out = append(out, b.Meta())
	}
	return out, nil
}

func (a *App) book(id string) (domain.Book, error) {
	b, ok, err := a.store.GetBook(id)
	if err != nil {
		return domain.Book{}, apperr.Internal(err)
	}
	if !ok {
		return domain.Book{}, apperr.NotFound("Book not found")
	}
	return b, nil
}

// Meta returns the public view of a book.
func (a *App) Meta(id string) (domain.BookMeta, error) {
	b, err := a.book(id)
	if err != nil {
		return domain.BookMeta{}, err
	}
	return b.Meta(), nil
}

// OpenPDF streams the original PDF.
func (a *App) OpenPDF(ctx context.Context, id string) (io.ReadCloser, domain.Book, error) {
	b, err := a.book(id)
	if err != nil {
		return nil, domain.Book{}, err
	}
	rc, err := a.objects.Get(ctx, b.StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, domain.Book{}, apperr.NotFound("PDF not found")
	}
	if err != nil {
		return nil, domain.Book{}, apperr.Internal(err)
	}
	return rc, b, nil
}

// DownloadURL returns a presigned URL for the PDF when the object store
// supports it.
func (a *App) DownloadURL(ctx context.Context, id string) (string, error) {
	b, err := a.book(id)
	if err != nil {
		return "", err
	}
	url, err := a.objects.PresignGet(ctx, b.StorageKey, a.presignExpiry)
	if errors.Is(err, storage.ErrPresignUnsupported) {
		return "", apperr.NotFound("Download URL not available")
	}
	if err != nil {
		return "", apperr.Internal(err)
	}
	return url, nil
}

// Outline returns the parsed outline, nil when the PDF has none.
func (a *App) Outline(id string) ([]domain.OutlineNode, error) {
	b, err := a.book(id)
	if err != nil {
		return nil, err
	}
	if len(b.Outline) == 0 {
		return nil, nil
	}
	nodes, err := outline.Parse(b.Outline)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("decode outline: %w", err))
	}
	return nodes, nil
}

// SectionTitle returns the outline heading covering page, nil when none.
func (a *App) SectionTitle(id string, page int) (*string, error) {
	if page < 1 {
		return nil, apperr.BadRequest("Invalid page number")
	}
	b, err := a.book(id)
	if err != nil {
		return nil, err
	}
	title, ok := outline.SectionTitleJSON(b.Outline, page)
	if !ok {
		return nil, nil
	}
	return &title, nil
}

// PageMap returns the first limit entries in page order.
func (a *App) PageMap(id string, limit int) ([]domain.PageMapEntry, error) {
	if _, err := a.book(id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []domain.PageMapEntry{}, nil
	}
	entries, err := a.store.ListPageMap(id, limit)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return entries, nil
}

// PageText returns the text of one page.
func (a *App) PageText(ctx context.Context, id string, page int) (domain.PageText, error) {
	if page < 1 {
		return domain.PageText{}, apperr.BadRequest("Invalid page number")
	}
	b, err := a.book(id)
	if err != nil {
		return domain.PageText{}, err
	}
	if b.TextKey == "" {
		return domain.PageText{}, apperr.NotFound("Text not available")
	}
	if a.cache != nil {
		if text, ok := a.cache.Get(ctx, id, page); ok {
			return domain.PageText{PageNumber: page, Text: text}, nil
		}
	}
	entry, ok, err := a.store.GetPageMapEntry(id, page)
	if err != nil {
		return domain.PageText{}, apperr.Internal(err)
	}
	if !ok {
		return domain.PageText{}, apperr.NotFound("Page not found")
	}
	text, err := a.loadText(ctx, b)
	if err != nil {
		return domain.PageText{}, err
	}
	pageText, err := pagemap.Slice(text, entry)
	if err != nil {
		return domain.PageText{}, apperr.Internal(err)
	}
	if a.cache != nil {
		a.cache.Set(ctx, id, page, pageText)
	}
	return domain.PageText{PageNumber: page, Text: pageText}, nil
}

// TextSample returns the first limit characters of the extracted text.
func (a *App) TextSample(ctx context.Context, id string, limit int) (string, error) {
	b, err := a.book(id)
	if err != nil {
		return "", err
	}
	if b.TextKey == "" {
		return "", apperr.NotFound("Text not available")
	}
	text, err := a.loadText(ctx, b)
	if err != nil {
		return "", err
	}
	return truncateRunes(text, limit), nil
}

// Delete removes the book row, its dependents and its blobs.
func (a *App) Delete(ctx context.Context, id string) error {
	b, err := a.book(id)
	if err != nil {
		return err
	}
	if err := a.store.DeleteBook(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("Book not found")
		}
		return apperr.Internal(err)
	}
	for _, key := range []string{b.StorageKey, b.TextKey} {
		if key == "" {
			continue
		}
		if err := a.objects.Delete(ctx, key); err != nil {
			util.LoggerFromContext(ctx).Warn("delete book blob failed", "book_id", id, "key", key, "err", err)
		}
	}
	if a.cache != nil {
		a.cache.Invalidate(ctx, id)
	}
	return nil
}

// loadText reads a book's extracted text. Concurrent loads of the same
// text share one read, which outlives the cancellation of whichever
// caller started it.
func (a *App) loadText(ctx context.Context, b domain.Book) (string, error) {
	v, err, _ := a.texts.Do(b.TextKey, func() (any, error) {
		rc, err := a.objects.Get(context.WithoutCancel(ctx), b.TextKey)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(rc); err != nil {
			return nil, err
		}
		return buf.String(), nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return "", apperr.NotFound("Text not available")
	}
	if err != nil {
		return "", apperr.Internal(fmt.Errorf("load text: %w", err))
	}
	return v.(string), nil
}

// NormalizeLimit parses a limit query value. Missing or non-numeric input
// yields fallback; numbers are clamped to [0, upper].
func NormalizeLimit(raw string, fallback, upper int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) {
		return fallback
	}
	return int(max(0, min(v, float64(upper))))
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func pdfKey(id string) string  { return "books/" + id + "/source.pdf" }
func textKey(id string) string { return "books/" + id + "/text.txt" }
