package store

import (
	"errors"
	"time"

	"socratium/pkg/domain"
)

// ErrNotFound is returned by mutations addressing a missing row.
var ErrNotFound = errors.New("record not found")

// BookStore persists books and their page maps.
type BookStore interface {
	SaveBook(domain.Book) error
	GetBook(id string) (domain.Book, bool, error)
	ListBooks() ([]domain.Book, error)
	SetBookStatus(id string, status domain.BookStatus, errMsg string) error
	// SaveExtraction stores the extraction result and marks the book ready.
	// The page map is replaced wholesale.
	SaveExtraction(bookID string, result Extraction) error
	// DeleteBook removes the book with its page map, threads and messages.
	DeleteBook(id string) error

	ListPageMap(bookID string, limit int) ([]domain.PageMapEntry, error)
	GetPageMapEntry(bookID string, page int) (domain.PageMapEntry, bool, error)
}

// Extraction is what the extraction worker records for a book.
type Extraction struct {
	TextKey   string
	PageCount int
	Outline   []byte
	PageMap   []domain.PageMapEntry
}

// ChatStore persists threads, messages and AI providers.
type ChatStore interface {
	CreateThread(domain.Thread) error
	GetThread(id string) (domain.Thread, bool, error)
	ListThreads(bookID string) ([]domain.Thread, error)
	UpdateThreadTitle(id, title string, at time.Time) error
	TouchThread(id string, at time.Time) error
	// DeleteThread removes the thread and its messages.
	DeleteThread(id string) error

	AppendMessage(domain.Message) error
	// ListMessages returns a thread's messages oldest first.
	ListMessages(threadID string) ([]domain.Message, error)
	// ListRecentMessages returns up to limit messages, most recent first.
	ListRecentMessages(threadID string, limit int) ([]domain.Message, error)

	CreateProvider(domain.Provider) error
	GetProvider(id string) (domain.Provider, bool, error)
	ListProviders() ([]domain.Provider, error)
	GetActiveProvider() (domain.Provider, bool, error)
	// SetActiveProvider deactivates every provider and activates id in one
	// transaction. It returns ErrNotFound when id does not exist.
	SetActiveProvider(id string) error
	DeleteProvider(id string) error
}

// Store is the full persistence surface.
type Store interface {
	BookStore
	ChatStore
}
