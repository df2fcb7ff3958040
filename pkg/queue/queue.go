// Package queue carries book extraction jobs from the upload handler to the
// extraction worker.
package queue

import (
	"context"
	"time"
)

// Job states.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Job is one extraction request for a book.
type Job struct {
	ID           string    `json:"id"`
	BookID       string    `json:"bookId"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Handler processes a job. A non-nil error schedules a retry until the
// queue's attempt limit is reached.
type Handler func(ctx context.Context, job Job) error

// JobQueue is implemented by the Redis stream and AMQP queues.
type JobQueue interface {
	Enqueue(ctx context.Context, bookID string) (Job, error)
	Start(ctx context.Context, concurrency int, handler Handler)
	Close() error
}
