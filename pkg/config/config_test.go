package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadAppliesOverridesAndKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"patterns": {"enabled": false, "retention_days": 7},
		"hooks": {"timeout_ms": 1000}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.Patterns.Enabled)
	assert.Equal(t, 7, cfg.Patterns.RetentionDays)
	// Storage path wasn't overridden, so the default survives.
	assert.Equal(t, ".moai/patterns", cfg.Patterns.Storage)
	assert.Equal(t, 1000, cfg.Hooks.TimeoutMs)
	// graceful_degradation wasn't overridden either.
	assert.True(t, cfg.Hooks.GracefulDegradation)
}

func TestLoadNestedHookSlots(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"hooks": {
			"post_task": {"pattern_collection": {"enabled": false, "priority": "LOW"}}
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.Hooks.PostTaskPattern.Enabled)
	assert.Equal(t, "LOW", cfg.Hooks.PostTaskPattern.Priority)
	// on_error slot keeps its default.
	assert.True(t, cfg.Hooks.OnErrorPattern.Enabled)
}

func TestLoadIgnoresUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"patterns": {"enabled": true}, "totally_unknown_section": {"x": 1}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Patterns.Enabled)
}
