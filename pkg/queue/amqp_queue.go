package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"socratium/internal/util"
)

const attemptsHeader = "x-attempts"

// AMQPQueue is a JobQueue on a durable RabbitMQ queue. Failed jobs are
// republished with an incremented attempt header.
type AMQPQueue struct {
	conn       *amqp.Connection
	pub        *amqp.Channel
	pubMu      sync.Mutex
	queue      string
	maxRetries int
	retryDelay time.Duration
}

// AMQPConfig configures an AMQPQueue.
type AMQPConfig struct {
	URL        string
	Queue      string
	MaxRetries int
	RetryDelay time.Duration
}

// NewAMQPQueue dials the broker and declares the queue.
func NewAMQPQueue(cfg AMQPConfig) (*AMQPQueue, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("amqp url required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	q := &AMQPQueue{
		conn:       conn,
		pub:        ch,
		queue:      firstNonEmpty(cfg.Queue, "socratium.extract"),
		maxRetries: cfg.MaxRetries,
		retryDelay: orDuration(cfg.RetryDelay, 2*time.Second),
	}
	if q.maxRetries <= 0 {
		q.maxRetries = 3
	}
	if _, err := ch.QueueDeclare(q.queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return q, nil
}

// Enqueue publishes a persistent job message.
func (q *AMQPQueue) Enqueue(ctx context.Context, bookID string) (Job, error) {
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return Job{}, errors.New("book id required")
	}
	now := time.Now().UTC()
	job := Job{ID: util.NewID(), BookID: bookID, Status: StatusQueued, CreatedAt: now, UpdatedAt: now}
	if err := q.publish(ctx, job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Start consumes with manual acks. Prefetch equals concurrency.
func (q *AMQPQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	ch, err := q.conn.Channel()
	if err != nil {
		slog.Error("amqp consumer channel failed", "err", err)
		return
	}
	if err := ch.Qos(concurrency, 0, false); err != nil {
		slog.Error("amqp qos failed", "err", err)
		ch.Close()
		return
	}
	deliveries, err := ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		slog.Error("amqp consume failed", "queue", q.queue, "err", err)
		ch.Close()
		return
	}
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					q.handle(ctx, d, handler)
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		ch.Close()
	}()
}

// Close shuts the connection and its channels.
func (q *AMQPQueue) Close() error {
	return q.conn.Close()
}

func (q *AMQPQueue) handle(ctx context.Context, d amqp.Delivery, handler Handler) {
	var job Job
	if err := json.Unmarshal(d.Body, &job); err != nil || job.BookID == "" {
		slog.Warn("dropping malformed job message", "err", err)
		d.Ack(false)
		return
	}
	job.Attempts = attemptsOf(d.Headers) + 1
	job.Status = StatusProcessing
	job.UpdatedAt = time.Now().UTC()

	herr := handler(ctx, job)
	if herr == nil {
		d.Ack(false)
		return
	}
	if job.Attempts >= q.maxRetries {
		slog.Error("extraction job failed", "job_id", job.ID, "book_id", job.BookID, "attempts", job.Attempts, "err", herr)
		d.Ack(false)
		return
	}
	if !sleepCtx(ctx, q.retryDelay) {
		d.Nack(false, true)
		return
	}
	job.Status, job.ErrorMessage = StatusQueued, herr.Error()
	if err := q.publish(ctx, job); err != nil {
		slog.Warn("amqp requeue failed", "job_id", job.ID, "err", err)
		d.Nack(false, true)
		return
	}
	d.Ack(false)
}

func (q *AMQPQueue) publish(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	err = q.pub.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    job.UpdatedAt,
		Headers:      amqp.Table{attemptsHeader: int32(job.Attempts)},
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

func attemptsOf(h amqp.Table) int {
	switch v := h[attemptsHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}
