package patterns

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superdisco-agents/moai-flow-sub006/pkg/types"
)

func pastTime() time.Time {
	return time.Now().AddDate(0, 0, -10)
}

func TestCollectTaskCompletionWritesFile(t *testing.T) {
	dir := t.TempDir()
	c := NewCollector(dir, 30)

	id, err := c.CollectTaskCompletion("build", "agent-1", 120, true, map[string]any{"trace": "abc"})
	require.NoError(t, err)
	assert.True(t, len(id) > 0)

	stats, err := c.GetStatistics()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalPatterns)
	assert.Equal(t, 1, stats.ByType[types.PatternTaskCompletion])
}

func TestCollectErrorOccurrenceWithResolution(t *testing.T) {
	dir := t.TempDir()
	c := NewCollector(dir, 30)

	id, err := c.CollectErrorOccurrence("timeout", "consensus timed out", nil, "retried with gossip")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	stats, err := c.GetStatistics()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ByType[types.PatternErrorOccurrence])
}

func TestPatternIDFormat(t *testing.T) {
	dir := t.TempDir()
	c := NewCollector(dir, 30)

	id, err := c.CollectAgentUsage("researcher", "summarize", true, 42)
	require.NoError(t, err)
	assert.Regexp(t, `^pat-\d{8}-\d{6}-\d{3}$`, id)
}

func TestCounterResetsPerSecondButStaysUnique(t *testing.T) {
	dir := t.TempDir()
	c := NewCollector(dir, 30)

	seen := make(map[string]bool)
	for i := 0; i < 25; i++ {
		id, err := c.CollectAgentUsage("a", "b", true, 1)
		require.NoError(t, err)
		assert.False(t, seen[id], "duplicate pattern id %s", id)
		seen[id] = true
	}
}

func TestGetStatisticsEmptyStorage(t *testing.T) {
	dir := t.TempDir()
	c := NewCollector(filepath.Join(dir, "does-not-exist-yet"), 30)

	stats, err := c.GetStatistics()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalPatterns)
}

func findPatternFile(t *testing.T, dir, basename string) string {
	t.Helper()
	var found string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		require.NoError(t, err)
		if !info.IsDir() && filepath.Base(path) == basename {
			found = path
		}
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, found)
	return found
}

func TestCompactGzipsFilesPastHalfRetention(t *testing.T) {
	dir := t.TempDir()
	c := NewCollector(dir, 10) // 10 day retention: half is 5 days

	id, err := c.CollectTaskCompletion("build", "agent-1", 10, true, nil)
	require.NoError(t, err)
	jsonPath := findPatternFile(t, dir, "task_completion_"+id+".json")

	// Past the half-retention cutoff (5 days) but short of full retention.
	backdated := time.Now().AddDate(0, 0, -7)
	require.NoError(t, os.Chtimes(jsonPath, backdated, backdated))

	compacted, removed, err := c.Compact()
	require.NoError(t, err)
	assert.Equal(t, 1, compacted)
	assert.Equal(t, 0, removed)

	_, statErr := os.Stat(jsonPath)
	assert.True(t, os.IsNotExist(statErr))

	_, gzErr := os.Stat(jsonPath + ".gz")
	assert.NoError(t, gzErr)
}

func TestCompactRemovesFilesPastFullRetention(t *testing.T) {
	dir := t.TempDir()
	c := NewCollector(dir, 1) // 1 day retention: a far-backdated file is eligible for removal

	id, err := c.CollectTaskCompletion("build", "agent-1", 10, true, nil)
	require.NoError(t, err)
	jsonPath := findPatternFile(t, dir, "task_completion_"+id+".json")

	require.NoError(t, os.Chtimes(jsonPath, pastTime(), pastTime()))

	compacted, removed, err := c.Compact()
	require.NoError(t, err)
	assert.Equal(t, 0, compacted)
	assert.Equal(t, 1, removed)

	_, statErr := os.Stat(jsonPath)
	assert.True(t, os.IsNotExist(statErr))
	_, gzErr := os.Stat(jsonPath + ".gz")
	assert.True(t, os.IsNotExist(gzErr))
}

func TestCompactRemovesAlreadyGzippedFilesPastFullRetention(t *testing.T) {
	dir := t.TempDir()
	c := NewCollector(dir, 10)

	id, err := c.CollectTaskCompletion("build", "agent-1", 10, true, nil)
	require.NoError(t, err)
	jsonPath := findPatternFile(t, dir, "task_completion_"+id+".json")

	halfOld := time.Now().AddDate(0, 0, -7)
	require.NoError(t, os.Chtimes(jsonPath, halfOld, halfOld))

	// First pass gzips it.
	compacted, removed, err := c.Compact()
	require.NoError(t, err)
	assert.Equal(t, 1, compacted)
	assert.Equal(t, 0, removed)

	gzPath := jsonPath + ".gz"
	fullyOld := time.Now().AddDate(0, 0, -20)
	require.NoError(t, os.Chtimes(gzPath, fullyOld, fullyOld))

	// Second pass, past full retention, removes the gzipped sibling too.
	compacted, removed, err = c.Compact()
	require.NoError(t, err)
	assert.Equal(t, 0, compacted)
	assert.Equal(t, 1, removed)

	_, gzErr := os.Stat(gzPath)
	assert.True(t, os.IsNotExist(gzErr))
}

func TestCompactWithZeroRetentionIsNoop(t *testing.T) {
	dir := t.TempDir()
	c := NewCollector(dir, 0)
	_, err := c.CollectTaskCompletion("build", "agent-1", 10, true, nil)
	require.NoError(t, err)

	compacted, removed, err := c.Compact()
	require.NoError(t, err)
	assert.Equal(t, 0, compacted)
	assert.Equal(t, 0, removed)
}
