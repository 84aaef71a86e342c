// Package snapshot owns the published corpus snapshot and keeps it fresh.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/workflowhub/kbservice/pkg/corpus"
	"github.com/workflowhub/kbservice/pkg/models"
)

const (
	// DefaultInterval is how often the snapshot is rebuilt from disk.
	DefaultInterval = 5 * time.Minute

	// degradedMultiplier: a last refresh older than this many intervals
	// marks the service degraded.
	degradedMultiplier = 3

	// degradedFailureCount consecutive load failures also mark degraded.
	degradedFailureCount = 3

	// watchDebounce coalesces a burst of corpus writes into one refresh.
	watchDebounce = 500 * time.Millisecond
)

// Health is the snapshot manager's contribution to the health endpoint.
type Health struct {
	Status        string    `json:"status"`
	DocumentCount int       `json:"documentCount"`
	LastRefresh   time.Time `json:"lastRefresh"`
}

// Manager owns the current snapshot reference and swaps it atomically on
// refresh. In-flight requests keep whatever snapshot they captured; the old
// snapshot stays valid until the garbage collector reclaims it.
type Manager struct {
	loader   *corpus.Loader
	logger   *slog.Logger
	interval time.Duration

	current     atomic.Pointer[models.Snapshot]
	refreshMu   sync.Mutex
	lastSuccess atomic.Int64 // unix nanos of the last successful refresh
	failures    atomic.Int32

	cron    *cron.Cron
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func NewManager(loader *corpus.Loader, interval time.Duration, logger *slog.Logger) *Manager {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Manager{
		loader:   loader,
		logger:   logger.With("module", "snapshot"),
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start performs the initial load and begins the scheduled refresh plus the
// corpus directory watch. The initial load must succeed: serving with no
// snapshot at all is worse than failing fast at boot.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.Refresh(ctx); err != nil {
		return fmt.Errorf("initial corpus load: %w", err)
	}

	m.cron = cron.New()

	_, err := m.cron.AddFunc(fmt.Sprintf("@every %s", m.interval), func() {
		if err := m.Refresh(context.Background()); err != nil {
			m.logger.Error("Scheduled refresh failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling refresh: %w", err)
	}

	m.cron.Start()

	if err := m.startWatcher(); err != nil {
		// The cron refresh still runs; the watcher is only an accelerator.
		m.logger.Warn("Corpus watch disabled", "error", err)
	}

	return nil
}

// Stop halts the scheduled refresh and the directory watch.
func (m *Manager) Stop() {
	if m.cron != nil {
		m.cron.Stop()
	}

	close(m.done)

	if m.watcher != nil {
		if err := m.watcher.Close(); err != nil {
			m.logger.Error("Failed to close corpus watcher", "error", err)
		}
	}
}

// Current returns the latest published snapshot without blocking. It is nil
// only before the first successful load.
func (m *Manager) Current() *models.Snapshot {
	return m.current.Load()
}

// Refresh rebuilds the snapshot from disk and publishes it. A refresh
// already in progress absorbs the call. On failure the previous snapshot is
// retained: stale-but-available beats no data.
func (m *Manager) Refresh(ctx context.Context) error {
	if !m.refreshMu.TryLock() {
		m.logger.Debug("Refresh already in progress, skipping")

		return nil
	}
	defer m.refreshMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snap, err := m.loader.Load()
	if err != nil {
		m.failures.Add(1)
		m.logger.Error("Corpus load failed, keeping previous snapshot", "error", err)

		return err
	}

	if prev := m.current.Load(); prev != nil && prev.SourceHash == snap.SourceHash {
		m.logger.Debug("Corpus unchanged", "source_hash", snap.SourceHash[:12])
	}

	m.current.Store(snap)
	m.failures.Store(0)
	m.lastSuccess.Store(time.Now().UnixNano())

	return nil
}

// Health reports healthy or degraded. Degraded means the snapshot has gone
// stale (no successful refresh within 3 intervals) or loads keep failing.
func (m *Manager) Health() Health {
	health := Health{Status: "healthy"}

	if snap := m.current.Load(); snap != nil {
		health.DocumentCount = snap.DocumentCount()
	}

	if nanos := m.lastSuccess.Load(); nanos > 0 {
		health.LastRefresh = time.Unix(0, nanos).UTC()
	}

	stale := health.LastRefresh.IsZero() ||
		time.Since(health.LastRefresh) > degradedMultiplier*m.interval

	if stale || m.failures.Load() >= degradedFailureCount {
		health.Status = "degraded"
	}

	return health
}

// startWatcher refreshes early when the build pipeline rewrites corpus
// files, instead of waiting out the timer. Only the corpus root is watched;
// the pipeline writes flat directories.
func (m *Manager) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(m.loader.Root()); err != nil {
		_ = watcher.Close()

		return err
	}

	m.watcher = watcher

	go m.watchLoop()

	return nil
}

func (m *Manager) watchLoop() {
	var debounce *time.Timer

	for {
		select {
		case <-m.done:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}

			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}

			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}

			if debounce != nil {
				debounce.Stop()
			}

			debounce = time.AfterFunc(watchDebounce, func() {
				m.logger.Info("Corpus changed on disk, refreshing", "trigger", event.Name)

				if err := m.Refresh(context.Background()); err != nil {
					m.logger.Error("Watch-triggered refresh failed", "error", err)
				}
			})
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}

			m.logger.Error("Corpus watcher error", "error", err)
		}
	}
}
