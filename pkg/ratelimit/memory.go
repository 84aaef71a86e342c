package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// MemoryStore keeps rate-limit state in process. Client state is created
// lazily on first request and guarded by a per-client mutex so concurrent
// requests from one client never interleave prune/count/increment.
type MemoryStore struct {
	cfg Config

	mu      sync.Mutex
	clients map[string]*clientState

	// now is swappable for tests.
	now func() time.Time
}

type clientState struct {
	mu         sync.Mutex
	active     int
	timestamps []time.Time
}

func NewMemoryStore(cfg Config) *MemoryStore {
	return &MemoryStore{
		cfg:     cfg.withDefaults(),
		clients: make(map[string]*clientState),
		now:     time.Now,
	}
}

func (s *MemoryStore) Admit(_ context.Context, clientID string) (Decision, error) {
	state := s.state(clientID)

	state.mu.Lock()
	defer state.mu.Unlock()

	now := s.now()
	state.prune(now.Add(-s.cfg.Window))

	if state.active >= s.cfg.MaxConcurrent {
		return Decision{Reason: ReasonConcurrency, RetryAfter: 0}, nil
	}

	if len(state.timestamps) >= s.cfg.MaxPerWindow {
		oldest := state.timestamps[0]
		retry := math.Ceil(oldest.Add(s.cfg.Window).Sub(now).Seconds())

		return Decision{Reason: ReasonHourlyVolume, RetryAfter: int(retry)}, nil
	}

	state.active++
	state.timestamps = append(state.timestamps, now)

	return Decision{Allowed: true}, nil
}

func (s *MemoryStore) Release(_ context.Context, clientID string) error {
	state := s.state(clientID)

	state.mu.Lock()
	defer state.mu.Unlock()

	// Floor at zero: a double release must not open extra slots.
	if state.active > 0 {
		state.active--
	}

	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) state(clientID string) *clientState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.clients[clientID]
	if !ok {
		state = &clientState{}
		s.clients[clientID] = state
	}

	return state
}

// prune drops timestamps that have left the trailing window. Timestamps are
// appended in order, so the slice stays sorted.
func (c *clientState) prune(cutoff time.Time) {
	keep := 0
	for keep < len(c.timestamps) && !c.timestamps[keep].After(cutoff) {
		keep++
	}

	if keep > 0 {
		c.timestamps = append(c.timestamps[:0:0], c.timestamps[keep:]...)
	}
}
