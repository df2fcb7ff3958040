package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"socratium/internal/util"
)

// RedisQueue is a JobQueue on a Redis stream consumer group. Job state is
// kept in a hash per job so retries survive consumer restarts.
type RedisQueue struct {
	client     *redis.Client
	stream     string
	group      string
	consumer   string
	jobTTL     time.Duration
	maxRetries int
	block      time.Duration
	claimIdle  time.Duration
	retryDelay time.Duration
	maxLen     int64
	batch      int64
	groupOnce  sync.Once
}

// RedisConfig configures a RedisQueue. Zero values take defaults.
type RedisConfig struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	JobTTL     time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	Batch      int64
}

// NewRedisQueue validates cfg and builds the client. It does not dial.
func NewRedisQueue(cfg RedisConfig) (*RedisQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "socratium:extract"
	}
	q := &RedisQueue{
		client:     redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:     stream,
		group:      firstNonEmpty(cfg.Group, "book-workers"),
		consumer:   firstNonEmpty(cfg.Consumer, util.NewID()),
		jobTTL:     orDuration(cfg.JobTTL, 24*time.Hour),
		maxRetries: cfg.MaxRetries,
		block:      orDuration(cfg.Block, 5*time.Second),
		claimIdle:  orDuration(cfg.ClaimIdle, time.Minute),
		retryDelay: orDuration(cfg.RetryDelay, 2*time.Second),
		maxLen:     cfg.MaxLen,
		batch:      cfg.Batch,
	}
	if q.maxRetries <= 0 {
		q.maxRetries = 3
	}
	if q.maxLen <= 0 {
		q.maxLen = 10000
	}
	if q.batch <= 0 {
		q.batch = 10
	}
	return q, nil
}

// Enqueue records a queued job and appends it to the stream.
func (q *RedisQueue) Enqueue(ctx context.Context, bookID string) (Job, error) {
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return Job{}, errors.New("book id required")
	}
	now := time.Now().UTC()
	job := Job{ID: util.NewID(), BookID: bookID, Status: StatusQueued, CreatedAt: now, UpdatedAt: now}
	if err := q.save(ctx, job); err != nil {
		return Job{}, err
	}
	if err := q.client.XAdd(ctx, q.addArgs(job.ID, bookID)).Err(); err != nil {
		return Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

// Job loads the stored state of a job.
func (q *RedisQueue) Job(ctx context.Context, jobID string) (Job, bool, error) {
	data, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return Job{}, false, err
	}
	if len(data) == 0 {
		return Job{}, false, nil
	}
	return decodeJob(jobID, data), true, nil
}

// Start launches concurrency consumers that run until ctx is done.
func (q *RedisQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		go q.consume(ctx, fmt.Sprintf("%s-%d", q.consumer, i), handler)
	}
}

// Close releases the Redis client.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) ensureGroup(ctx context.Context) {
	q.groupOnce.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			slog.Warn("queue group create failed", "stream", q.stream, "err", err)
		}
	})
}

func (q *RedisQueue) consume(ctx context.Context, consumer string, handler Handler) {
	for ctx.Err() == nil {
		claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: consumer,
			MinIdle:  q.claimIdle,
			Start:    "0-0",
			Count:    q.batch,
		}).Result()
		if err == nil {
			for _, msg := range claimed {
				q.handle(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.batch,
			Block:    q.block,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				slog.Warn("queue read failed", "stream", q.stream, "err", err)
				sleepCtx(ctx, q.retryDelay)
			}
			continue
		}
		for _, s := range streams {
			for _, msg := range s.Messages {
				q.handle(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisQueue) handle(ctx context.Context, msg redis.XMessage, handler Handler) {
	jobID, _ := msg.Values["job_id"].(string)
	bookID, _ := msg.Values["book_id"].(string)
	if jobID == "" || bookID == "" {
		q.ack(ctx, msg.ID)
		return
	}
	job, _, err := q.Job(ctx, jobID)
	if err != nil {
		return
	}
	if job.ID == "" {
		job = Job{ID: jobID, CreatedAt: time.Now().UTC()}
	}
	job.BookID = bookID
	job.Attempts++
	job.Status = StatusProcessing
	job.UpdatedAt = time.Now().UTC()
	if err := q.save(ctx, job); err != nil {
		return
	}

	herr := handler(ctx, job)
	job.UpdatedAt = time.Now().UTC()
	switch {
	case herr == nil:
		job.Status, job.ErrorMessage = StatusDone, ""
		_ = q.save(ctx, job)
		q.ack(ctx, msg.ID)
	case job.Attempts >= q.maxRetries:
		job.Status, job.ErrorMessage = StatusFailed, herr.Error()
		_ = q.save(ctx, job)
		q.ack(ctx, msg.ID)
		slog.Error("extraction job failed", "job_id", jobID, "book_id", bookID, "attempts", job.Attempts, "err", herr)
	default:
		job.Status, job.ErrorMessage = StatusQueued, herr.Error()
		_ = q.save(ctx, job)
		if !sleepCtx(ctx, q.retryDelay) {
			return
		}
		if err := q.requeue(ctx, msg.ID, jobID, bookID); err != nil {
			slog.Warn("queue requeue failed", "job_id", jobID, "err", err)
		}
	}
}

func (q *RedisQueue) ack(ctx context.Context, msgID string) {
	q.client.XAck(ctx, q.stream, q.group, msgID)
	q.client.XDel(ctx, q.stream, msgID)
}

// requeue appends a fresh copy of the message and acks the original in one
// transaction. On failure the original stays pending for XAUTOCLAIM.
func (q *RedisQueue) requeue(ctx context.Context, msgID, jobID, bookID string) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, q.addArgs(jobID, bookID))
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) addArgs(jobID, bookID string) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{"job_id": jobID, "book_id": bookID},
	}
}

func (q *RedisQueue) save(ctx context.Context, job Job) error {
	key := q.jobKey(job.ID)
	err := q.client.HSet(ctx, key, map[string]any{
		"bookId":    job.BookID,
		"status":    job.Status,
		"error":     job.ErrorMessage,
		"attempts":  strconv.Itoa(job.Attempts),
		"createdAt": job.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": job.UpdatedAt.Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	q.client.Expire(ctx, key, q.jobTTL)
	return nil
}

func (q *RedisQueue) jobKey(jobID string) string {
	return q.stream + ":job:" + jobID
}

func decodeJob(jobID string, data map[string]string) Job {
	job := Job{
		ID:           jobID,
		BookID:       data["bookId"],
		Status:       data["status"],
		ErrorMessage: data["error"],
	}
	job.Attempts, _ = strconv.Atoi(data["attempts"])
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, data["createdAt"])
	job.UpdatedAt, _ = time.Parse(time.RFC3339Nano, data["updatedAt"])
	return job
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func firstNonEmpty(v, fallback string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	return fallback
}

func orDuration(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
