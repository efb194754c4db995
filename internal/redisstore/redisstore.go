// ABOUTME: Redis backend for rate-limit buckets and daily usage counters
// ABOUTME: Each check-and-update runs as one Lua script so concurrent gates share exact counts

package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/benedictkwok/cover-letter-assistant/internal/quota"
	"github.com/benedictkwok/cover-letter-assistant/internal/ratelimit"
	"github.com/benedictkwok/cover-letter-assistant/internal/store"
)

// DefaultPrefix namespaces every key the store writes.
const DefaultPrefix = "gate"

// usageTTL keeps a day's usage hash around long enough to cover any time zone.
const usageTTL = 48 * time.Hour

// hitScript advances a fixed-window bucket. Times are unix milliseconds.
// Returns {window_start_ms, count}.
var hitScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local start = tonumber(redis.call('HGET', KEYS[1], 'start'))
local count
if start == nil or now >= start + window then
	start = now
	count = 1
	redis.call('HSET', KEYS[1], 'start', start, 'count', 1)
else
	count = redis.call('HINCRBY', KEYS[1], 'count', 1)
end
local ttl = start + window - now
if ttl < 1 then ttl = 1 end
redis.call('PEXPIRE', KEYS[1], ttl)
return {start, count}
`)

// incrementScript bumps one identity's count in a day hash unless it is
// already at the limit. Returns {count, incremented}.
var incrementScript = redis.NewScript(`
local count = tonumber(redis.call('HGET', KEYS[1], ARGV[1])) or 0
if count >= tonumber(ARGV[2]) then
	return {count, 0}
end
count = redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return {count, 1}
`)

// Store keeps rate buckets and daily usage in Redis.
// It implements ratelimit.BucketStore, quota.Counter and quota.TotalsCounter.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// New wraps an existing client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewClient parses redisURL, builds a pooled client and verifies it with a ping.
func NewClient(ctx context.Context, redisURL string, logger *slog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}

	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxIdleConns = 5
	opts.DialTimeout = 3 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second

	client := redis.NewClient(opts)

	if err := ping(ctx, client); err != nil {
		_ = client.Close()
		return nil, err
	}

	if logger != nil {
		logger.Info("redis client connected",
			slog.String("addr", opts.Addr),
			slog.Int("pool_size", opts.PoolSize),
		)
	}
	return client, nil
}

func ping(ctx context.Context, client redis.UniversalClient) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis: ping failed: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := ping(ctx, s.client); err != nil {
		return &store.PersistenceError{Op: "ping", Err: err}
	}
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) bucketKey(key ratelimit.Key) string {
	return fmt.Sprintf("%s:rl:%s:%s", s.prefix, key.Action, key.Identifier)
}

func (s *Store) usageKey(day string) string {
	return fmt.Sprintf("%s:usage:%s", s.prefix, day)
}

// Hit implements ratelimit.BucketStore. Window starts are kept at
// millisecond precision.
func (s *Store) Hit(ctx context.Context, key ratelimit.Key, rule ratelimit.Rule, now time.Time) (ratelimit.Bucket, error) {
	window := rule.Window.Milliseconds()
	if window < 1 {
		window = 1
	}
	res, err := hitScript.Run(ctx, s.client, []string{s.bucketKey(key)}, now.UnixMilli(), window).Int64Slice()
	if err != nil {
		return ratelimit.Bucket{}, &store.PersistenceError{Op: "hit rate bucket", Err: err}
	}
	if len(res) != 2 {
		return ratelimit.Bucket{}, &store.PersistenceError{Op: "hit rate bucket", Err: fmt.Errorf("unexpected reply %v", res)}
	}
	return ratelimit.Bucket{
		WindowStart: time.UnixMilli(res[0]).UTC(),
		Count:       int(res[1]),
	}, nil
}

// IncrementIfBelow implements quota.Counter.
func (s *Store) IncrementIfBelow(ctx context.Context, key, day string, limit int) (int, bool, error) {
	res, err := incrementScript.Run(ctx, s.client, []string{s.usageKey(day)}, key, limit, usageTTL.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, false, &store.PersistenceError{Op: "increment daily usage", Err: err}
	}
	if len(res) != 2 {
		return 0, false, &store.PersistenceError{Op: "increment daily usage", Err: fmt.Errorf("unexpected reply %v", res)}
	}
	return int(res[0]), res[1] == 1, nil
}

// Get implements quota.Counter.
func (s *Store) Get(ctx context.Context, key, day string) (int, error) {
	n, err := s.client.HGet(ctx, s.usageKey(day), key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, &store.PersistenceError{Op: "read daily usage", Err: err}
	}
	return n, nil
}

// Reset implements quota.Counter.
func (s *Store) Reset(ctx context.Context, key, day string) error {
	if err := s.client.HDel(ctx, s.usageKey(day), key).Err(); err != nil {
		return &store.PersistenceError{Op: "reset daily usage", Err: err}
	}
	return nil
}

// DailyTotals implements quota.TotalsCounter.
func (s *Store) DailyTotals(ctx context.Context, day string) (quota.Totals, error) {
	all, err := s.client.HGetAll(ctx, s.usageKey(day)).Result()
	if err != nil {
		return quota.Totals{}, &store.PersistenceError{Op: "aggregate daily usage", Err: err}
	}
	t := quota.Totals{Day: day}
	for field, raw := range all {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return quota.Totals{}, &store.PersistenceError{Op: "aggregate daily usage", Err: fmt.Errorf("field %q: %w", field, err)}
		}
		if n > 0 {
			t.Actions += n
			t.Identities++
		}
	}
	return t, nil
}
