package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"socratium/internal/testpdf"
	"socratium/pkg/apperr"
	"socratium/pkg/domain"
	"socratium/pkg/extract"
	"socratium/pkg/queue"
	"socratium/pkg/storage"
	"socratium/pkg/store"
)

type fakeQueue struct {
	mu   sync.Mutex
	jobs []queue.Job
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, bookID string) (queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return queue.Job{}, q.err
	}
	job := queue.Job{ID: fmt.Sprintf("job-%d", len(q.jobs)+1), BookID: bookID, Status: queue.StatusQueued}
	q.jobs = append(q.jobs, job)
	return job, nil
}

func (q *fakeQueue) Start(context.Context, int, queue.Handler) {}
func (q *fakeQueue) Close() error                              { return nil }

type testEnv struct {
	app   *App
	store *store.GormStore
	queue *fakeQueue
	redis *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := store.NewGormStore(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	objects, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	q := &fakeQueue{}
	a, err := New(Config{
		Store:     db,
		Objects:   objects,
		Queue:     q,
		Extractor: &extract.Extractor{},
		Cache:     NewRedisPageCache(rdb, time.Minute),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return &testEnv{app: a, store: db, queue: q, redis: mr}
}

func (e *testEnv) uploadReady(t *testing.T) domain.BookMeta {
	t.Helper()
	data := testpdf.Build([]string{"Alpha page", "Beta page"},
		testpdf.Bookmark{Title: "Chapter One", Page: 1},
		testpdf.Bookmark{Title: "Chapter Two", Page: 2},
	)
	ctx := context.Background()
	meta, err := e.app.Upload(ctx, "My Book.pdf", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := e.app.ProcessJob(ctx, queue.Job{ID: "job", BookID: meta.ID, Attempts: 1}); err != nil {
		t.Fatalf("process job: %v", err)
	}
	return meta
}

func wantCode(t *testing.T, err error, code apperr.Code, msg string) {
	t.Helper()
	appErr, ok := apperr.As(err)
	if !ok {
		t.Fatalf("err = %v, want app error %s", err, code)
	}
	if appErr.Code != code || appErr.Message != msg {
		t.Fatalf("err = %s %q, want %s %q", appErr.Code, appErr.Message, code, msg)
	}
}

func TestUploadQueuesBook(t *testing.T) {
	env := newTestEnv(t)
	data := testpdf.Build([]string{"Alpha page"})
	meta, err := env.app.Upload(context.Background(), "notes/My Book.PDF", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if meta.Title != "My Book" || meta.SourceFilename != "My Book.PDF" {
		t.Fatalf("meta = %+v, want title %q from filename", meta, "My Book")
	}
	if meta.Status != domain.StatusQueued || meta.HasText {
		t.Fatalf("meta = %+v, want queued without text", meta)
	}
	if len(env.queue.jobs) != 1 || env.queue.jobs[0].BookID != meta.ID {
		t.Fatalf("jobs = %+v, want one job for %s", env.queue.jobs, meta.ID)
	}
}

func TestUploadRejectsNonPDF(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.app.Upload(context.Background(), "notes.txt", strings.NewReader("x"), 1)
	wantCode(t, err, apperr.CodeBadRequest, "Only PDF files are supported")
	_, err = env.app.Upload(context.Background(), "  ", strings.NewReader("x"), 1)
	wantCode(t, err, apperr.CodeBadRequest, "Missing PDF upload")
	if len(env.queue.jobs) != 0 {
		t.Fatalf("jobs = %d, want 0", len(env.queue.jobs))
	}
}

func TestUploadQueueFailureMarksBookFailed(t *testing.T) {
	env := newTestEnv(t)
	env.queue.err = fmt.Errorf("redis down")
	data := testpdf.Build([]string{"Alpha page"})
	_, err := env.app.Upload(context.Background(), "a.pdf", bytes.NewReader(data), int64(len(data)))
	wantCode(t, err, apperr.CodeUnavailable, "Extraction queue unavailable")
	books, err := env.store.ListBooks()
	if err != nil {
		t.Fatalf("list books: %v", err)
	}
	if len(books) != 1 || books[0].Status != domain.StatusFailed {
		t.Fatalf("books = %+v, want one failed book", books)
	}
}

func TestProcessJobBuildsPageMapAndOutline(t *testing.T) {
	env := newTestEnv(t)
	meta := env.uploadReady(t)
	ctx := context.Background()

	got, err := env.app.Meta(meta.ID)
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	if got.Status != domain.StatusReady || got.PageCount != 2 || !got.HasText || !got.HasOutline {
		t.Fatalf("meta = %+v, want ready with 2 pages, text and outline", got)
	}

	entries, err := env.app.PageMap(meta.ID, DefaultSampleLimit)
	if err != nil {
		t.Fatalf("page map: %v", err)
	}
	wantEntries := []domain.PageMapEntry{
		{PageNumber: 1, StartOffset: 0, EndOffset: 10},
		{PageNumber: 2, StartOffset: 12, EndOffset: 21},
	}
	if !reflect.DeepEqual(entries, wantEntries) {
		t.Fatalf("entries = %+v, want %+v", entries, wantEntries)
	}
	if entries, _ := env.app.PageMap(meta.ID, 1); len(entries) != 1 {
		t.Fatalf("len(PageMap(limit=1)) = %d, want 1", len(entries))
	}
	if entries, _ := env.app.PageMap(meta.ID, 0); entries == nil || len(entries) != 0 {
		t.Fatalf("PageMap(limit=0) = %#v, want empty slice", entries)
	}

	page, err := env.app.PageText(ctx, meta.ID, 2)
	if err != nil {
		t.Fatalf("page text: %v", err)
	}
	if page.Text != "Beta page" {
		t.Fatalf("page 2 = %q, want %q", page.Text, "Beta page")
	}
	if cached := env.redis.HGet("socratium:pages:"+meta.ID, "2"); cached != "Beta page" {
		t.Fatalf("cached page 2 = %q, want %q", cached, "Beta page")
	}

	title, err := env.app.SectionTitle(meta.ID, 2)
	if err != nil {
		t.Fatalf("section: %v", err)
	}
	if title == nil || *title != "Chapter Two" {
		t.Fatalf("section title = %v, want Chapter Two", title)
	}

	nodes, err := env.app.Outline(meta.ID)
	if err != nil {
		t.Fatalf("outline: %v", err)
	}
	if len(nodes) != 2 || nodes[0].Title != "Chapter One" {
		t.Fatalf("outline = %+v, want two chapters", nodes)
	}

	sample, err := env.app.TextSample(ctx, meta.ID, 5)
	if err != nil {
		t.Fatalf("text sample: %v", err)
	}
	if sample != "Alpha" {
		t.Fatalf("sample = %q, want Alpha", sample)
	}
}

func TestPageTextErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.app.PageText(ctx, "missing", 1)
	wantCode(t, err, apperr.CodeNotFound, "Book not found")
	_, err = env.app.PageText(ctx, "missing", 0)
	wantCode(t, err, apperr.CodeBadRequest, "Invalid page number")

	data := testpdf.Build([]string{"Alpha page"})
	meta, err := env.app.Upload(ctx, "a.pdf", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	_, err = env.app.PageText(ctx, meta.ID, 1)
	wantCode(t, err, apperr.CodeNotFound, "Text not available")

	if err := env.app.ProcessJob(ctx, queue.Job{BookID: meta.ID}); err != nil {
		t.Fatalf("process job: %v", err)
	}
	_, err = env.app.PageText(ctx, meta.ID, 9)
	wantCode(t, err, apperr.CodeNotFound, "Page not found")
}

func TestPageTextServesCachedValue(t *testing.T) {
	env := newTestEnv(t)
	meta := env.uploadReady(t)
	env.redis.HSet("socratium:pages:"+meta.ID, "1", "cached text")
	page, err := env.app.PageText(context.Background(), meta.ID, 1)
	if err != nil {
		t.Fatalf("page text: %v", err)
	}
	if page.Text != "cached text" {
		t.Fatalf("page 1 = %q, want cached text", page.Text)
	}
}

func TestProcessJobMarksUnreadablePDFFailed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.app.Upload(ctx, "broken.pdf", strings.NewReader("not a pdf at all"), 16)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	job := env.queue.jobs[0]
	if err := env.app.ProcessJob(ctx, job); err == nil {
		t.Fatalf("process job err = nil, want extraction error")
	}
	book, _, _ := env.store.GetBook(job.BookID)
	if book.Status != domain.StatusFailed || book.ErrorMessage != "Failed to extract PDF text" {
		t.Fatalf("book = %s %q, want failed", book.Status, book.ErrorMessage)
	}
}

type failingTextStore struct {
	storage.ObjectStore
}

func (s failingTextStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if strings.HasSuffix(key, "/text.txt") {
		return errors.New("disk full")
	}
	return s.ObjectStore.Put(ctx, key, r, size, contentType)
}

func TestProcessJobMarksStorageFailureFailed(t *testing.T) {
	env := newTestEnv(t)
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	a, err := New(Config{Store: env.store, Objects: failingTextStore{files}, Queue: env.queue, Extractor: &extract.Extractor{}})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	ctx := context.Background()
	data := testpdf.Build([]string{"Alpha page"})
	meta, err := a.Upload(ctx, "a.pdf", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	for attempt := 1; attempt <= 3; attempt++ {
		err := a.ProcessJob(ctx, queue.Job{ID: "job", BookID: meta.ID, Attempts: attempt})
		if err == nil || !strings.Contains(err.Error(), "disk full") {
			t.Fatalf("attempt %d err = %v, want disk full", attempt, err)
		}
	}
	book, _, err := env.store.GetBook(meta.ID)
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	if book.Status != domain.StatusFailed || book.ErrorMessage != "Failed to store extracted text" {
		t.Fatalf("book = %s %q, want failed", book.Status, book.ErrorMessage)
	}
	if book.Meta().HasText {
		t.Fatalf("has_text = true, want false")
	}
}

type ctxCheckingStore struct {
	storage.ObjectStore
}

func (s ctxCheckingStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.ObjectStore.Get(ctx, key)
}

func TestLoadTextIgnoresCallerCancellation(t *testing.T) {
	env := newTestEnv(t)
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	a, err := New(Config{Store: env.store, Objects: ctxCheckingStore{files}, Queue: env.queue, Extractor: &extract.Extractor{}})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	data := testpdf.Build([]string{"Alpha page", "Beta page"})
	meta, err := a.Upload(context.Background(), "a.pdf", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := a.ProcessJob(context.Background(), queue.Job{BookID: meta.ID}); err != nil {
		t.Fatalf("process job: %v", err)
	}
	book, _, err := env.store.GetBook(meta.ID)
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	text, err := a.loadText(ctx, book)
	if err != nil {
		t.Fatalf("load text: %v", err)
	}
	if text != "Alpha page\n\nBeta page" {
		t.Fatalf("text = %q, want both pages", text)
	}
}

func TestProcessJobSkipsDeletedBook(t *testing.T) {
	env := newTestEnv(t)
	if err := env.app.ProcessJob(context.Background(), queue.Job{BookID: "gone"}); err != nil {
		t.Fatalf("process job err = %v, want nil", err)
	}
}

func TestDeleteRemovesBlobsAndCache(t *testing.T) {
	env := newTestEnv(t)
	meta := env.uploadReady(t)
	ctx := context.Background()
	if _, err := env.app.PageText(ctx, meta.ID, 1); err != nil {
		t.Fatalf("page text: %v", err)
	}
	if err := env.app.Delete(ctx, meta.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err := env.app.Meta(meta.ID)
	wantCode(t, err, apperr.CodeNotFound, "Book not found")
	if env.redis.Exists("socratium:pages:" + meta.ID) {
		t.Fatalf("page cache still present after delete")
	}
	if _, err := env.app.objects.Get(ctx, pdfKey(meta.ID)); err != storage.ErrNotFound {
		t.Fatalf("get pdf err = %v, want ErrNotFound", err)
	}
}

func TestOpenPDFStreamsOriginal(t *testing.T) {
	env := newTestEnv(t)
	data := testpdf.Build([]string{"Alpha page"})
	meta, err := env.app.Upload(context.Background(), "a.pdf", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	rc, book, err := env.app.OpenPDF(context.Background(), meta.ID)
	if err != nil {
		t.Fatalf("open pdf: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if !bytes.Equal(got, data) || book.SizeBytes != int64(len(data)) {
		t.Fatalf("streamed %d bytes (size %d), want %d", len(got), book.SizeBytes, len(data))
	}
	_, err = env.app.DownloadURL(context.Background(), meta.ID)
	wantCode(t, err, apperr.CodeNotFound, "Download URL not available")
}

func TestNormalizeLimit(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{"", DefaultSampleLimit},
		{"abc", DefaultSampleLimit},
		{"NaN", DefaultSampleLimit},
		{"500", 500},
		{"-5", 0},
		{"99999", MaxSampleLimit},
		{"12.7", 12},
		{"0", 0},
	}
	for _, tc := range cases {
		if got := NormalizeLimit(tc.raw, DefaultSampleLimit, MaxSampleLimit); got != tc.want {
			t.Fatalf("NormalizeLimit(%q) = %d, want %d", tc.raw, got, tc.want)
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("héllo", 2); got != "hé" {
		t.Fatalf("truncateRunes = %q, want hé", got)
	}
	if got := truncateRunes("abc", 10); got != "abc" {
		t.Fatalf("truncateRunes = %q, want abc", got)
	}
	if got := truncateRunes("abc", 0); got != "" {
		t.Fatalf("truncateRunes = %q, want empty", got)
	}
}
