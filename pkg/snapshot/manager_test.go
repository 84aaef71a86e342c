package snapshot

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workflowhub/kbservice/pkg/corpus"
)

func writeDocuments(t *testing.T, dir string, count int) {
	t.Helper()

	for i := range count {
		content := fmt.Sprintf(`{
			"id": "doc-%02d",
			"title": "Document %d",
			"category": "workflow",
			"steps": [{"type": "navigate", "url": "https://example.com"}]
		}`, i, i)

		require.NoError(t, os.WriteFile(
			filepath.Join(dir, fmt.Sprintf("doc-%02d.json", i)), []byte(content), 0o644))
	}
}

func newTestManager(t *testing.T, dir string) *Manager {
	t.Helper()

	loader := corpus.NewLoader(dir, slog.Default())

	return NewManager(loader, time.Minute, slog.Default())
}

func TestManager_RefreshPublishesSnapshot(t *testing.T) {
	dir := t.TempDir()
	writeDocuments(t, dir, 3)

	manager := newTestManager(t, dir)

	assert.Nil(t, manager.Current())

	require.NoError(t, manager.Refresh(t.Context()))

	snap := manager.Current()
	require.NotNil(t, snap)
	assert.Equal(t, 3, snap.DocumentCount())
}

func TestManager_FailedRefreshKeepsPreviousSnapshot(t *testing.T) {
	dir := t.TempDir()
	writeDocuments(t, dir, 3)

	manager := newTestManager(t, dir)
	require.NoError(t, manager.Refresh(t.Context()))

	before := manager.Current()

	// Empty the corpus: the next load fails, the old snapshot stays live.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	for _, entry := range entries {
		require.NoError(t, os.Remove(filepath.Join(dir, entry.Name())))
	}

	require.Error(t, manager.Refresh(t.Context()))
	assert.Same(t, before, manager.Current())
}

func TestManager_RefreshSwapsAtomically(t *testing.T) {
	dir := t.TempDir()
	writeDocuments(t, dir, 3)

	manager := newTestManager(t, dir)
	require.NoError(t, manager.Refresh(t.Context()))

	done := make(chan struct{})

	var wg sync.WaitGroup

	// Readers must always observe a fully consistent snapshot: the
	// document count matches the slice and every document resolves by id.
	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for {
				select {
				case <-done:
					return
				default:
				}

				snap := manager.Current()

				count := snap.DocumentCount()
				assert.Contains(t, []int{3, 5}, count)
				assert.Len(t, snap.Documents, count)

				for _, doc := range snap.Documents {
					found, ok := snap.DocumentByID(doc.ID)
					assert.True(t, ok)
					assert.Equal(t, doc.ID, found.ID)
				}
			}
		}()
	}

	for range 10 {
		writeDocuments(t, dir, 5)
		require.NoError(t, manager.Refresh(t.Context()))
	}

	close(done)
	wg.Wait()

	assert.Equal(t, 5, manager.Current().DocumentCount())
}

func TestManager_RefreshReentrancy(t *testing.T) {
	dir := t.TempDir()
	writeDocuments(t, dir, 2)

	manager := newTestManager(t, dir)

	var wg sync.WaitGroup

	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			// Overlapping refreshes are absorbed, never an error.
			assert.NoError(t, manager.Refresh(t.Context()))
		}()
	}

	wg.Wait()

	require.NotNil(t, manager.Current())
}

func TestManager_HealthBeforeFirstLoadIsDegraded(t *testing.T) {
	manager := newTestManager(t, t.TempDir())

	health := manager.Health()

	assert.Equal(t, "degraded", health.Status)
	assert.Zero(t, health.DocumentCount)
	assert.True(t, health.LastRefresh.IsZero())
}

func TestManager_HealthAfterRefresh(t *testing.T) {
	dir := t.TempDir()
	writeDocuments(t, dir, 4)

	manager := newTestManager(t, dir)
	require.NoError(t, manager.Refresh(t.Context()))

	health := manager.Health()

	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 4, health.DocumentCount)
	assert.WithinDuration(t, time.Now(), health.LastRefresh, time.Minute)
}

func TestManager_HealthDegradedAfterRepeatedFailures(t *testing.T) {
	dir := t.TempDir()
	writeDocuments(t, dir, 2)

	manager := newTestManager(t, dir)
	require.NoError(t, manager.Refresh(t.Context()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	for _, entry := range entries {
		require.NoError(t, os.Remove(filepath.Join(dir, entry.Name())))
	}

	for range degradedFailureCount {
		require.Error(t, manager.Refresh(t.Context()))
	}

	assert.Equal(t, "degraded", manager.Health().Status)
}

func TestManager_StartAndStop(t *testing.T) {
	dir := t.TempDir()
	writeDocuments(t, dir, 2)

	manager := newTestManager(t, dir)

	require.NoError(t, manager.Start(t.Context()))
	defer manager.Stop()

	snap := manager.Current()
	require.NotNil(t, snap)
	assert.Equal(t, 2, snap.DocumentCount())
	assert.Equal(t, "healthy", manager.Health().Status)
}

func TestManager_StartFailsOnEmptyCorpus(t *testing.T) {
	manager := newTestManager(t, t.TempDir())

	err := manager.Start(t.Context())
	require.ErrorIs(t, err, corpus.ErrEmptyCorpus)
}
