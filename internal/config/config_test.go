package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, float32(0.2), cfg.SlotFile.MinFillRate)
	assert.Equal(t, 2.0, cfg.SlotFile.GrowFactor)
	assert.Equal(t, "", cfg.SlotFile.DefaultRemoveDocType)
}

func TestLoadAppliesFileOverrides(t *testing.T) {
	dir := t.TempDir()
	yamlContent := `
slot_file:
  min_fill_rate: 0.35
  grow_factor: 3.0
  default_remove_doc_type: "music"
codec:
  floor_version: "6.0"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "streamsearch.yaml"), []byte(yamlContent), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, float32(0.35), cfg.SlotFile.MinFillRate)
	assert.Equal(t, 3.0, cfg.SlotFile.GrowFactor)
	assert.Equal(t, "music", cfg.SlotFile.DefaultRemoveDocType)
	assert.Equal(t, "6.0", cfg.Codec.FloorVersion)
	// Fields not in the file keep their defaults.
	assert.Equal(t, 1024, cfg.Codec.CacheSize)
}

func TestLoadNoFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, NewConfig().SlotFile, cfg.SlotFile)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("STREAMSEARCH_MIN_FILL_RATE", "0.5")
	t.Setenv("STREAMSEARCH_GROW_FACTOR", "4")
	t.Setenv("STREAMSEARCH_LOG_LEVEL", "debug")

	cfg := NewConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, float32(0.5), cfg.SlotFile.MinFillRate)
	assert.Equal(t, 4.0, cfg.SlotFile.GrowFactor)
	assert.Equal(t, "debug", cfg.Worker.LogLevel)
}

func TestValidateRejectsBadBounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"fill rate zero", func(c *Config) { c.SlotFile.MinFillRate = 0 }},
		{"fill rate above one", func(c *Config) { c.SlotFile.MinFillRate = 1.5 }},
		{"meta slots inverted", func(c *Config) { c.SlotFile.MinimumFileMetaSlots = 100; c.SlotFile.MaximumFileMetaSlots = 10 }},
		{"block size not 512 aligned", func(c *Config) { c.SlotFile.FileBlockSize = 100 }},
		{"grow factor too small", func(c *Config) { c.SlotFile.GrowFactor = 1.0 }},
		{"bad log level", func(c *Config) { c.Worker.LogLevel = "verbose" }},
		{"zero max in flight", func(c *Config) { c.Worker.MaxInFlight = 0 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "streamsearch.yaml")

	cfg := NewConfig()
	cfg.SlotFile.MinFillRate = 0.4
	require.NoError(t, cfg.WriteYAML(path))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, float32(0.4), loaded.SlotFile.MinFillRate)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "min_fill_rate: 0.4")
}
