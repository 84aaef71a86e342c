// Package ratelimit enforces per-client concurrency and hourly volume
// limits. State lives in a selectable store: in-process memory for a single
// node, redis when several replicas must share counters.
package ratelimit

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Rejection reasons surfaced to clients.
const (
	ReasonConcurrency  = "too many concurrent requests"
	ReasonHourlyVolume = "hourly request limit reached"
)

const (
	DefaultMaxConcurrent = 2
	DefaultMaxPerWindow  = 10
	DefaultWindow        = time.Hour
)

// Config carries the admission thresholds.
type Config struct {
	// MaxConcurrent is the number of simultaneous in-flight requests
	// allowed per client.
	MaxConcurrent int

	// MaxPerWindow is the number of requests allowed per client within the
	// trailing Window.
	MaxPerWindow int

	Window time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}

	if c.MaxPerWindow <= 0 {
		c.MaxPerWindow = DefaultMaxPerWindow
	}

	if c.Window <= 0 {
		c.Window = DefaultWindow
	}

	return c
}

// Decision is the outcome of an admission check. RetryAfter is in seconds:
// zero means "try again shortly" (a concurrency slot will free up), a
// positive value is the time until the oldest counted request leaves the
// window.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter int
}

// Store tracks per-client rate-limit state. Every admitted request must be
// released exactly once, on every exit path, or concurrency slots leak.
type Store interface {
	Admit(ctx context.Context, clientID string) (Decision, error)
	Release(ctx context.Context, clientID string) error
	Close() error
}

// NewStore selects a backend from the URL: redis:// picks the shared redis
// store, anything else (including empty) the in-process memory store.
func NewStore(url string, cfg Config, logger *slog.Logger) (Store, error) {
	if strings.HasPrefix(url, "redis://") || strings.HasPrefix(url, "rediss://") {
		return newRedisStore(url, cfg.withDefaults(), logger)
	}

	return NewMemoryStore(cfg), nil
}
