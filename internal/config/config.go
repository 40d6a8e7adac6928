// Package config loads streamsearch's slot-file and worker configuration,
// layering defaults, a YAML file, and environment variable overrides, in
// that precedence order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete streamsearch configuration.
type Config struct {
	Version int          `yaml:"version" json:"version"`
	Bucket  BucketConfig `yaml:"bucket" json:"bucket"`
	SlotFile SlotFileConfig `yaml:"slot_file" json:"slot_file"`
	Codec   CodecConfig  `yaml:"codec" json:"codec"`
	Worker  WorkerConfig `yaml:"worker" json:"worker"`
}

// BucketConfig configures which bucket directory a worker serves.
type BucketConfig struct {
	Path string `yaml:"path" json:"path"`
}

// SlotFileConfig configures the slot-file engine.
type SlotFileConfig struct {
	// MinFillRate triggers compaction when utilisation falls below it.
	MinFillRate float32 `yaml:"min_fill_rate" json:"min_fill_rate"`

	MinimumFileMetaSlots        int `yaml:"minimum_file_meta_slots" json:"minimum_file_meta_slots"`
	MaximumFileMetaSlots        int `yaml:"maximum_file_meta_slots" json:"maximum_file_meta_slots"`
	MinimumFileHeaderBlockSize  int `yaml:"minimum_file_header_block_size" json:"minimum_file_header_block_size"`
	MaximumFileHeaderBlockSize  int `yaml:"maximum_file_header_block_size" json:"maximum_file_header_block_size"`
	MinimumFileSize             int `yaml:"minimum_file_size" json:"minimum_file_size"`
	MaximumFileSize             int `yaml:"maximum_file_size" json:"maximum_file_size"`
	FileBlockSize               int `yaml:"file_block_size" json:"file_block_size"`

	GrowFactor                     float64 `yaml:"grow_factor" json:"grow_factor"`
	OverrepresentMetaDataFactor    float64 `yaml:"overrepresent_meta_data_factor" json:"overrepresent_meta_data_factor"`
	OverrepresentHeaderBlockFactor float64 `yaml:"overrepresent_header_block_factor" json:"overrepresent_header_block_factor"`

	InitialIndexRead int `yaml:"initial_index_read" json:"initial_index_read"`
	MaxReadGap       int `yaml:"max_read_gap" json:"max_read_gap"`

	// DefaultRemoveDocType is empty unless the worker must still write a
	// backwards-compatible empty body alongside remove entries.
	DefaultRemoveDocType string `yaml:"default_remove_doc_type" json:"default_remove_doc_type"`
}

// CodecConfig configures the document-protocol codec registry.
type CodecConfig struct {
	// FloorVersion is the version at which the worker pre-resolves its
	// message types' codecs during start-up.
	FloorVersion string `yaml:"floor_version" json:"floor_version"`
	// CacheSize bounds the LRU factory-lookup cache.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// WorkerConfig configures the per-bucket worker process.
type WorkerConfig struct {
	LogLevel    string `yaml:"log_level" json:"log_level"`
	MaxInFlight int    `yaml:"max_in_flight" json:"max_in_flight"`
}

// NewConfig returns a Config populated with defaults: 512-byte aligned
// blocks, grow factor 2, compaction below 20% utilisation.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Bucket:  BucketConfig{Path: "."},
		SlotFile: SlotFileConfig{
			MinFillRate:                    0.2,
			MinimumFileMetaSlots:           64,
			MaximumFileMetaSlots:           1 << 20,
			MinimumFileHeaderBlockSize:     4096,
			MaximumFileHeaderBlockSize:     1 << 30,
			MinimumFileSize:                8192,
			MaximumFileSize:                1 << 34,
			FileBlockSize:                  65536,
			GrowFactor:                     2.0,
			OverrepresentMetaDataFactor:    1.5,
			OverrepresentHeaderBlockFactor: 1.2,
			InitialIndexRead:               4096,
			MaxReadGap:                     4096,
			DefaultRemoveDocType:           "",
		},
		Codec: CodecConfig{
			FloorVersion: "5.0",
			CacheSize:    1024,
		},
		Worker: WorkerConfig{
			LogLevel:    "info",
			MaxInFlight: 64,
		},
	}
}

// Load reads defaults, then a bucket-local config file (streamsearch.yaml
// or .yml), then STREAMSEARCH_* environment overrides, and validates the
// result.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()
	cfg.Bucket.Path = dir

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{"streamsearch.yaml", "streamsearch.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return c.loadYAML(path)
		}
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero fields of other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.Bucket.Path != "" {
		c.Bucket.Path = other.Bucket.Path
	}

	sf, osf := &c.SlotFile, &other.SlotFile
	if osf.MinFillRate != 0 {
		sf.MinFillRate = osf.MinFillRate
	}
	if osf.MinimumFileMetaSlots != 0 {
		sf.MinimumFileMetaSlots = osf.MinimumFileMetaSlots
	}
	if osf.MaximumFileMetaSlots != 0 {
		sf.MaximumFileMetaSlots = osf.MaximumFileMetaSlots
	}
	if osf.MinimumFileHeaderBlockSize != 0 {
		sf.MinimumFileHeaderBlockSize = osf.MinimumFileHeaderBlockSize
	}
	if osf.MaximumFileHeaderBlockSize != 0 {
		sf.MaximumFileHeaderBlockSize = osf.MaximumFileHeaderBlockSize
	}
	if osf.MinimumFileSize != 0 {
		sf.MinimumFileSize = osf.MinimumFileSize
	}
	if osf.MaximumFileSize != 0 {
		sf.MaximumFileSize = osf.MaximumFileSize
	}
	if osf.FileBlockSize != 0 {
		sf.FileBlockSize = osf.FileBlockSize
	}
	if osf.GrowFactor != 0 {
		sf.GrowFactor = osf.GrowFactor
	}
	if osf.OverrepresentMetaDataFactor != 0 {
		sf.OverrepresentMetaDataFactor = osf.OverrepresentMetaDataFactor
	}
	if osf.OverrepresentHeaderBlockFactor != 0 {
		sf.OverrepresentHeaderBlockFactor = osf.OverrepresentHeaderBlockFactor
	}
	if osf.InitialIndexRead != 0 {
		sf.InitialIndexRead = osf.InitialIndexRead
	}
	if osf.MaxReadGap != 0 {
		sf.MaxReadGap = osf.MaxReadGap
	}
	if osf.DefaultRemoveDocType != "" {
		sf.DefaultRemoveDocType = osf.DefaultRemoveDocType
	}

	if other.Codec.FloorVersion != "" {
		c.Codec.FloorVersion = other.Codec.FloorVersion
	}
	if other.Codec.CacheSize != 0 {
		c.Codec.CacheSize = other.Codec.CacheSize
	}

	if other.Worker.LogLevel != "" {
		c.Worker.LogLevel = other.Worker.LogLevel
	}
	if other.Worker.MaxInFlight != 0 {
		c.Worker.MaxInFlight = other.Worker.MaxInFlight
	}
}

// applyEnvOverrides applies STREAMSEARCH_* environment variable overrides,
// the highest-precedence configuration layer.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("STREAMSEARCH_MIN_FILL_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil && f > 0 && f <= 1 {
			c.SlotFile.MinFillRate = float32(f)
		}
	}
	if v := os.Getenv("STREAMSEARCH_GROW_FACTOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 1 {
			c.SlotFile.GrowFactor = f
		}
	}
	if v := os.Getenv("STREAMSEARCH_MAX_READ_GAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.SlotFile.MaxReadGap = n
		}
	}
	if v := os.Getenv("STREAMSEARCH_CODEC_FLOOR_VERSION"); v != "" {
		c.Codec.FloorVersion = v
	}
	if v := os.Getenv("STREAMSEARCH_LOG_LEVEL"); v != "" {
		c.Worker.LogLevel = v
	}
}

// Validate checks the configuration's size-bound relationships are
// internally consistent.
func (c *Config) Validate() error {
	sf := c.SlotFile

	if sf.MinFillRate <= 0 || sf.MinFillRate > 1 {
		return fmt.Errorf("min_fill_rate must be in (0,1], got %f", sf.MinFillRate)
	}
	if sf.MinimumFileMetaSlots <= 0 || sf.MinimumFileMetaSlots > sf.MaximumFileMetaSlots {
		return fmt.Errorf("minimum_file_meta_slots (%d) must be positive and <= maximum_file_meta_slots (%d)",
			sf.MinimumFileMetaSlots, sf.MaximumFileMetaSlots)
	}
	if sf.MinimumFileHeaderBlockSize <= 0 || sf.MinimumFileHeaderBlockSize > sf.MaximumFileHeaderBlockSize {
		return fmt.Errorf("minimum_file_header_block_size (%d) must be positive and <= maximum_file_header_block_size (%d)",
			sf.MinimumFileHeaderBlockSize, sf.MaximumFileHeaderBlockSize)
	}
	if sf.MinimumFileSize <= 0 || sf.MinimumFileSize > sf.MaximumFileSize {
		return fmt.Errorf("minimum_file_size (%d) must be positive and <= maximum_file_size (%d)",
			sf.MinimumFileSize, sf.MaximumFileSize)
	}
	if sf.FileBlockSize <= 0 || sf.FileBlockSize%512 != 0 {
		return fmt.Errorf("file_block_size must be a positive multiple of 512, got %d", sf.FileBlockSize)
	}
	if sf.GrowFactor <= 1.0 {
		return fmt.Errorf("grow_factor must be > 1.0, got %f", sf.GrowFactor)
	}
	if sf.OverrepresentMetaDataFactor < 1.0 {
		return fmt.Errorf("overrepresent_meta_data_factor must be >= 1.0, got %f", sf.OverrepresentMetaDataFactor)
	}
	if sf.OverrepresentHeaderBlockFactor < 1.0 {
		return fmt.Errorf("overrepresent_header_block_factor must be >= 1.0, got %f", sf.OverrepresentHeaderBlockFactor)
	}
	if sf.MaxReadGap < 0 {
		return fmt.Errorf("max_read_gap must be non-negative, got %d", sf.MaxReadGap)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Worker.LogLevel)] {
		return fmt.Errorf("worker.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Worker.LogLevel)
	}
	if c.Worker.MaxInFlight <= 0 {
		return fmt.Errorf("worker.max_in_flight must be positive, got %d", c.Worker.MaxInFlight)
	}

	return nil
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
