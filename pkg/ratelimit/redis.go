package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore shares rate-limit state across replicas. The hourly window is a
// sorted set of request timestamps; the concurrency count is a plain counter
// with a safety TTL so a crashed replica cannot pin slots forever. Admission
// and release each run as a single Lua script, so two concurrent requests
// from the same client can never interleave between prune, count, and record.
type RedisStore struct {
	client *redis.Client
	cfg    Config
	logger *slog.Logger
}

// activeKeyTTL bounds how long a leaked concurrency slot can survive a
// replica crash.
const activeKeyTTL = 5 * time.Minute

// admitScript takes KEYS[1] = active counter, KEYS[2] = window sorted set and
// ARGV = {max concurrent, max per window, now millis, window millis, member,
// active TTL seconds, window TTL seconds}. It returns {allowed, verdict,
// retry millis}.
var admitScript = redis.NewScript(`
local active = redis.call("INCR", KEYS[1])
redis.call("EXPIRE", KEYS[1], ARGV[6])
if active > tonumber(ARGV[1]) then
	redis.call("DECR", KEYS[1])
	return {0, "concurrency", 0}
end
redis.call("ZREMRANGEBYSCORE", KEYS[2], 0, tonumber(ARGV[3]) - tonumber(ARGV[4]))
if redis.call("ZCARD", KEYS[2]) >= tonumber(ARGV[2]) then
	redis.call("DECR", KEYS[1])
	local retry = tonumber(ARGV[4])
	local oldest = redis.call("ZRANGE", KEYS[2], 0, 0, "WITHSCORES")
	if oldest[2] then
		retry = tonumber(oldest[2]) + tonumber(ARGV[4]) - tonumber(ARGV[3])
	end
	return {0, "volume", retry}
end
redis.call("ZADD", KEYS[2], tonumber(ARGV[3]), ARGV[5])
redis.call("EXPIRE", KEYS[2], ARGV[7])
return {1, "ok", 0}
`)

// releaseScript floors the active counter at zero without clobbering an
// increment racing in from another request.
var releaseScript = redis.NewScript(`
if redis.call("DECR", KEYS[1]) < 0 then
	redis.call("SET", KEYS[1], 0, "EX", ARGV[1])
end
return 0
`)

func newRedisStore(url string, cfg Config, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing rate-limit store URL: %w", err)
	}

	return &RedisStore{
		client: redis.NewClient(opts),
		cfg:    cfg,
		logger: logger.With("module", "ratelimit"),
	}, nil
}

func (s *RedisStore) Admit(ctx context.Context, clientID string) (Decision, error) {
	keys := []string{activeKey(clientID), windowKey(clientID)}

	raw, err := admitScript.Run(ctx, s.client, keys,
		s.cfg.MaxConcurrent,
		s.cfg.MaxPerWindow,
		time.Now().UnixMilli(),
		s.cfg.Window.Milliseconds(),
		uuid.NewString(),
		int(activeKeyTTL.Seconds()),
		int(s.cfg.Window.Seconds()),
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("running admission script: %w", err)
	}

	if len(raw) != 3 {
		return Decision{}, fmt.Errorf("admission script returned %d values, want 3", len(raw))
	}

	if allowed, _ := raw[0].(int64); allowed == 1 {
		return Decision{Allowed: true}, nil
	}

	if verdict, _ := raw[1].(string); verdict == "concurrency" {
		return Decision{Reason: ReasonConcurrency, RetryAfter: 0}, nil
	}

	retryMillis, _ := raw[2].(int64)

	return Decision{
		Reason:     ReasonHourlyVolume,
		RetryAfter: int(math.Ceil(float64(retryMillis) / 1000)),
	}, nil
}

func (s *RedisStore) Release(ctx context.Context, clientID string) error {
	err := releaseScript.Run(ctx, s.client,
		[]string{activeKey(clientID)}, int(activeKeyTTL.Seconds())).Err()
	if err != nil {
		return fmt.Errorf("running release script: %w", err)
	}

	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func activeKey(clientID string) string {
	return "ratelimit:active:" + clientID
}

func windowKey(clientID string) string {
	return "ratelimit:window:" + clientID
}
