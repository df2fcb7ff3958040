// Package extract turns an uploaded PDF into per-page text and a bookmark
// outline.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"socratium/pkg/domain"
	"socratium/pkg/pagemap"
)

// ErrNoPages is returned for documents without a single page.
var ErrNoPages = errors.New("pdf has no pages")

// Result is the extraction of one document. Pages[i] is page i+1 and is
// present even when the page has no text.
type Result struct {
	Pages   []string
	Outline []domain.OutlineNode
}

// Text joins the pages and returns the page map over the joined text.
func (r Result) Text() (string, []domain.PageMapEntry) {
	return pagemap.Join(r.Pages)
}

// Extractor reads PDFs. When Pdftotext names a binary it is tried first and
// the pure Go reader is the fallback.
type Extractor struct {
	Pdftotext string
	Timeout   time.Duration
}

// New returns an Extractor that uses pdftotext from PATH when available.
func New() *Extractor {
	e := &Extractor{Timeout: 2 * time.Minute}
	if p, err := exec.LookPath("pdftotext"); err == nil {
		e.Pdftotext = p
	}
	return e
}

// File extracts the PDF at path.
func (e *Extractor) File(ctx context.Context, path string) (Result, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()
	return e.extract(ctx, path, r)
}

// Reader extracts a PDF held in memory or any other random-access source.
func (e *Extractor) Reader(ctx context.Context, ra io.ReaderAt, size int64) (Result, error) {
	r, err := pdf.NewReader(ra, size)
	if err != nil {
		return Result{}, fmt.Errorf("open pdf: %w", err)
	}
	return e.extract(ctx, "", r)
}

func (e *Extractor) extract(ctx context.Context, path string, r *pdf.Reader) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("read pdf: %v", p)
		}
	}()
	n := r.NumPage()
	if n <= 0 {
		return Result{}, ErrNoPages
	}
	var pages []string
	if path != "" && e.Pdftotext != "" {
		if got, perr := e.runPdftotext(ctx, path); perr == nil && len(got) == n {
			pages = got
		}
	}
	if pages == nil {
		pages = libraryPages(r, n)
	}
	return Result{Pages: pages, Outline: readOutline(r)}, nil
}

func (e *Extractor) runPdftotext(ctx context.Context, path string) ([]string, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, e.Pdftotext, "-enc", "UTF-8", path, "-")
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftotext failed: %w", err)
	}
	return splitFormFeeds(stdout.String()), nil
}

// splitFormFeeds splits pdftotext output, which terminates every page with
// a form feed, into normalized page texts.
func splitFormFeeds(out string) []string {
	parts := strings.Split(out, "\f")
	if len(parts) > 0 && strings.TrimSpace(parts[len(parts)-1]) == "" {
		parts = parts[:len(parts)-1]
	}
	pages := make([]string, len(parts))
	for i, p := range parts {
		pages[i] = normalizeText(p)
	}
	return pages
}

func libraryPages(r *pdf.Reader, n int) []string {
	pages := make([]string, n)
	for i := 1; i <= n; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages[i-1] = normalizeText(text)
	}
	return pages
}

// normalizeText collapses whitespace runs to single spaces and drops NULs
// and invalid UTF-8.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	return strings.Join(strings.Fields(text), " ")
}
