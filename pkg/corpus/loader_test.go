package corpus

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workflowhub/kbservice/pkg/models"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func documentJSON(id, title string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"title": %q,
		"category": "workflow",
		"keywords": ["test"],
		"steps": [{"type": "navigate", "url": "https://example.com"}]
	}`, id, title)
}

func TestLoader_Load(t *testing.T) {
	dir := t.TempDir()

	for i := range 10 {
		writeFile(t, dir, fmt.Sprintf("doc-%02d.json", i), documentJSON(fmt.Sprintf("doc-%02d", i), fmt.Sprintf("Document %d", i)))
	}

	loader := NewLoader(dir, slog.Default())

	snap, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, 10, snap.DocumentCount())
	assert.Empty(t, snap.Warnings)
	assert.NotEmpty(t, snap.SourceHash)
	assert.False(t, snap.BuiltAt.IsZero())
}

func TestLoader_Load_SkipsMalformedFiles(t *testing.T) {
	dir := t.TempDir()

	for i := range 10 {
		writeFile(t, dir, fmt.Sprintf("doc-%02d.json", i), documentJSON(fmt.Sprintf("doc-%02d", i), fmt.Sprintf("Document %d", i)))
	}

	writeFile(t, dir, "broken.json", `{"id": "broken", "title":`)

	loader := NewLoader(dir, slog.Default())

	snap, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, 10, snap.DocumentCount())
	assert.Len(t, snap.Warnings, 1)
	assert.Contains(t, snap.Warnings[0], "broken.json")
}

func TestLoader_Load_EmptyCorpus(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.json", `not json at all`)

	loader := NewLoader(dir, slog.Default())

	_, err := loader.Load()
	require.ErrorIs(t, err, ErrEmptyCorpus)
}

func TestLoader_Load_DuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", documentJSON("same-id", "First"))
	writeFile(t, dir, "b.json", documentJSON("same-id", "Second"))

	loader := NewLoader(dir, slog.Default())

	snap, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, 1, snap.DocumentCount())
	require.Len(t, snap.Warnings, 1)
	assert.Contains(t, snap.Warnings[0], "duplicate id")
}

func TestLoader_Load_IDFallsBackToFileName(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "price-monitor.json", `{
		"title": "Price Monitor",
		"category": "workflow",
		"steps": [{"type": "navigate", "url": "https://example.com"}]
	}`)

	loader := NewLoader(dir, slog.Default())

	snap, err := loader.Load()
	require.NoError(t, err)

	_, found := snap.DocumentByID("price-monitor")
	assert.True(t, found)
}

func TestLoader_Load_NestedDirectories(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "workflows/nested/deep.json", documentJSON("deep", "Deep Document"))
	writeFile(t, dir, "top.json", documentJSON("top", "Top Document"))

	loader := NewLoader(dir, slog.Default())

	snap, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, 2, snap.DocumentCount())
}

func TestLoader_Load_Rules(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "doc.json", documentJSON("doc", "Document"))
	writeFile(t, dir, RulesFileName, `[
		{
			"id": "unbounded-loop",
			"applies_to": ["loop"],
			"check": "loop-without-max-iterations",
			"severity": "critical",
			"message": "Loop has no maximum iteration bound"
		}
	]`)

	loader := NewLoader(dir, slog.Default())

	snap, err := loader.Load()
	require.NoError(t, err)

	require.Len(t, snap.Rules, 1)
	assert.Equal(t, "unbounded-loop", snap.Rules[0].ID)
	assert.Equal(t, models.SeverityCritical, snap.Rules[0].Severity)
}

func TestLoader_Load_InvalidRuleFileIsWarning(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "doc.json", documentJSON("doc", "Document"))
	writeFile(t, dir, RulesFileName, `[{"id": "", "check": "", "severity": "nope", "message": ""}]`)

	loader := NewLoader(dir, slog.Default())

	snap, err := loader.Load()
	require.NoError(t, err)

	assert.Empty(t, snap.Rules)
	assert.Len(t, snap.Warnings, 1)
}

func TestLoader_Load_DocumentFieldTagsEnforced(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ok.json", documentJSON("ok", "Fine"))
	writeFile(t, dir, "untitled.json", `{"id": "untitled", "category": "workflow",
		"steps": [{"type": "navigate", "url": "https://example.com"}]}`)
	writeFile(t, dir, "odd-category.json", `{"id": "odd", "title": "Odd", "category": "misc"}`)

	loader := NewLoader(dir, slog.Default())

	snap, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, 1, snap.DocumentCount())
	assert.Len(t, snap.Warnings, 2)
}

func TestLoader_Load_RuleWithoutMessageIsWarning(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "doc.json", documentJSON("doc", "Document"))
	writeFile(t, dir, RulesFileName, `[
		{
			"id": "silent-rule",
			"check": "brittle-selector",
			"severity": "medium"
		}
	]`)

	loader := NewLoader(dir, slog.Default())

	snap, err := loader.Load()
	require.NoError(t, err)

	assert.Empty(t, snap.Rules)
	assert.Len(t, snap.Warnings, 1)
}

func TestLoader_Load_SourceHashStable(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "doc.json", documentJSON("doc", "Document"))

	loader := NewLoader(dir, slog.Default())

	first, err := loader.Load()
	require.NoError(t, err)

	second, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, first.SourceHash, second.SourceHash)

	writeFile(t, dir, "doc.json", documentJSON("doc", "Renamed Document"))

	third, err := loader.Load()
	require.NoError(t, err)
	assert.NotEqual(t, first.SourceHash, third.SourceHash)
}

func TestLoader_Load_WorkflowWithoutStepsIsSkipped(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ok.json", documentJSON("ok", "Fine"))
	writeFile(t, dir, "empty.json", `{"id": "empty", "title": "No Steps", "category": "workflow", "steps": []}`)
	writeFile(t, dir, "doc-page.json", `{"id": "doc-page", "title": "Guide", "category": "documentation"}`)

	loader := NewLoader(dir, slog.Default())

	snap, err := loader.Load()
	require.NoError(t, err)

	// Documentation pages carry no steps; executable workflows must.
	assert.Equal(t, 2, snap.DocumentCount())
	assert.Len(t, snap.Warnings, 1)
}

func TestNormalizeID(t *testing.T) {
	assert.Equal(t, "price-monitor", NormalizeID("Price Monitor"))
	assert.Equal(t, "already-fine", NormalizeID("already-fine"))
	assert.Equal(t, "", NormalizeID("   "))
}
