package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T, maxRetries int) *RedisQueue {
	t.Helper()
	srv := miniredis.RunT(t)
	q, err := NewRedisQueue(RedisConfig{
		Addr:       srv.Addr(),
		Stream:     "test:extract",
		Group:      "test-group",
		Consumer:   "consumer",
		MaxRetries: maxRetries,
		Block:      20 * time.Millisecond,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func readPending(t *testing.T, q *RedisQueue, ctx context.Context) redis.XMessage {
	t.Helper()
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    -1,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one message, got %+v", streams)
	}
	return streams[0].Messages[0]
}

func TestRequeueMovesMessage(t *testing.T) {
	q := newTestQueue(t, 3)
	ctx := context.Background()
	q.ensureGroup(ctx)
	job, err := q.Enqueue(ctx, "book-1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	msg := readPending(t, q, ctx)

	if err := q.requeue(ctx, msg.ID, job.ID, job.BookID); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("pending = %d, want 0", pending.Count)
	}
	got := readPending(t, q, ctx)
	if got.Values["job_id"] != job.ID || got.Values["book_id"] != "book-1" {
		t.Fatalf("requeued payload = %+v", got.Values)
	}
}

func TestRequeueFailureKeepsPending(t *testing.T) {
	q := newTestQueue(t, 3)
	ctx := context.Background()
	q.ensureGroup(ctx)
	job, err := q.Enqueue(ctx, "book-1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	msg := readPending(t, q, ctx)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.requeue(canceled, msg.ID, job.ID, job.BookID); err == nil {
		t.Fatalf("requeue on canceled context succeeded")
	}
	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("pending = %d, want 1", pending.Count)
	}
}

func TestEnqueueRequiresBookID(t *testing.T) {
	q := newTestQueue(t, 3)
	if _, err := q.Enqueue(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for blank book id")
	}
}

func waitStatus(t *testing.T, q *RedisQueue, jobID, want string) Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, ok, err := q.Job(context.Background(), jobID)
		if err != nil {
			t.Fatalf("job: %v", err)
		}
		if ok && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", jobID, want)
	return Job{}
}

func TestStartRetriesThenSucceeds(t *testing.T) {
	q := newTestQueue(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, err := q.Enqueue(ctx, "book-1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	var calls atomic.Int32
	q.Start(ctx, 1, func(_ context.Context, j Job) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	})

	done := waitStatus(t, q, job.ID, StatusDone)
	if done.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", done.Attempts)
	}
}

func TestStartMarksFailedAfterMaxRetries(t *testing.T) {
	q := newTestQueue(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, err := q.Enqueue(ctx, "book-1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	q.Start(ctx, 1, func(context.Context, Job) error { return errors.New("broken pdf") })

	failed := waitStatus(t, q, job.ID, StatusFailed)
	if failed.Attempts != 2 || failed.ErrorMessage != "broken pdf" {
		t.Fatalf("failed job = %+v", failed)
	}
}
