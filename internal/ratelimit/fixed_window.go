// Package ratelimit provides a Redis backed fixed window limiter shared by
// every replica of a service.
package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var incrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter allows Limit hits per key in each Window.
type Limiter struct {
	client   redis.UniversalClient
	prefix   string
	limit    int
	window   time.Duration
	failOpen bool
}

// Options configures a Limiter. FailOpen lets requests through when Redis
// is unreachable; the default is to reject them.
type Options struct {
	Prefix   string
	Limit    int
	Window   time.Duration
	FailOpen bool
}

// New builds a limiter on an existing Redis client.
func New(client redis.UniversalClient, opts Options) (*Limiter, error) {
	if client == nil {
		return nil, errors.New("rate limiter requires a redis client")
	}
	if opts.Limit <= 0 || opts.Window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	prefix := strings.TrimSpace(opts.Prefix)
	if prefix == "" {
		prefix = "socratium:ratelimit"
	}
	return &Limiter{client: client, prefix: prefix, limit: opts.Limit, window: opts.Window, failOpen: opts.FailOpen}, nil
}

// Allow counts one hit for key.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	windowMs := l.window.Milliseconds()
	slot := time.Now().UnixMilli() / windowMs
	redisKey := l.prefix + ":" + key + ":" + strconv.FormatInt(slot, 10)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	res, err := incrWindow.Run(ctx, l.client, []string{redisKey}, windowMs).Int64Slice()
	if err != nil || len(res) != 2 {
		if err == nil {
			err = errors.New("unexpected limiter reply")
		}
		return Decision{Allowed: l.failOpen}, err
	}
	count, ttl := res[0], res[1]
	d := Decision{Allowed: count <= int64(l.limit), Remaining: max(l.limit-int(count), 0)}
	if !d.Allowed {
		d.RetryAfter = time.Duration(max(ttl, 0)) * time.Millisecond
	}
	return d, nil
}
