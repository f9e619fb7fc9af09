// Package config loads engine configuration from YAML files with
// environment-variable overrides and sensible defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level engine configuration.
type Config struct {
	IndexDir  string          `yaml:"indexDir"`
	Indexing  IndexingConfig  `yaml:"indexing"`
	Search    SearchConfig    `yaml:"search"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// IndexingConfig controls the ingest pipeline.
type IndexingConfig struct {
	// Threads is the worker count, clamped to [1, 64]. Zero means one
	// worker per CPU.
	Threads int `yaml:"threads"`
	// StopWords toggles English stop-word filtering.
	StopWords bool `yaml:"stopWords"`
	// MergeRate throttles background merges (merges per second).
	MergeRate float64 `yaml:"mergeRate"`
}

// SearchConfig controls query execution limits.
type SearchConfig struct {
	// DefaultLimit is used when the caller passes no limit.
	DefaultLimit int `yaml:"defaultLimit"`
	// MaxLimit clamps the per-query result cap.
	MaxLimit int `yaml:"maxLimit"`
	// MaxQueryBytes rejects oversized query strings.
	MaxQueryBytes int `yaml:"maxQueryBytes"`
	// FileNameRewrite enables the bare "name.ext" convenience rewrite.
	FileNameRewrite bool `yaml:"fileNameRewrite"`
	// SnippetContextChars is the context window on each side of a hit.
	SnippetContextChars int `yaml:"snippetContextChars"`
	// MaxSnippets caps snippets per hit.
	MaxSnippets int `yaml:"maxSnippets"`
}

// DiscoveryConfig controls which files are indexed.
type DiscoveryConfig struct {
	IncludeGlobs     []string `yaml:"includeGlobs"`
	ExcludeGlobs     []string `yaml:"excludeGlobs"`
	MaxFileSizeBytes int64    `yaml:"maxFileSizeBytes"`
	Gitignore        bool     `yaml:"gitignore"`
	SkipBinary       bool     `yaml:"skipBinary"`
}

// ScoringConfig exposes the BM25 parameters.
type ScoringConfig struct {
	K1 float64 `yaml:"k1"`
	B  float64 `yaml:"b"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus collector.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		IndexDir: ".lexgo",
		Indexing: IndexingConfig{
			Threads:   0,
			StopWords: true,
			MergeRate: 1,
		},
		Search: SearchConfig{
			DefaultLimit:        10,
			MaxLimit:            1000,
			MaxQueryBytes:       2048,
			FileNameRewrite:     true,
			SnippetContextChars: 80,
			MaxSnippets:         3,
		},
		Discovery: DiscoveryConfig{
			MaxFileSizeBytes: 8 << 20,
			Gitignore:        true,
			SkipBinary:       true,
		},
		Scoring: ScoringConfig{K1: 1.2, B: 0.75},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: false},
	}
}

// Load reads a YAML config file (optional) and applies environment
// overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	cfg.clamp()
	return cfg, nil
}

// applyEnvOverrides maps LEXGO_* variables onto the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LEXGO_INDEX_DIR"); v != "" {
		cfg.IndexDir = v
	}
	if v := os.Getenv("LEXGO_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Indexing.Threads = n
		}
	}
	if v := os.Getenv("LEXGO_STOP_WORDS"); v != "" {
		cfg.Indexing.StopWords = parseBool(v, cfg.Indexing.StopWords)
	}
	if v := os.Getenv("LEXGO_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LEXGO_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("LEXGO_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v, cfg.Metrics.Enabled)
	}
}

// clamp enforces the boundary contracts on limits.
func (c *Config) clamp() {
	if c.Indexing.Threads < 0 {
		c.Indexing.Threads = 0
	}
	if c.Indexing.Threads > 64 {
		c.Indexing.Threads = 64
	}
	if c.Search.MaxLimit < 0 || c.Search.MaxLimit > 1000 {
		c.Search.MaxLimit = 1000
	}
	if c.Search.DefaultLimit < 0 {
		c.Search.DefaultLimit = 0
	}
	if c.Search.DefaultLimit > c.Search.MaxLimit {
		c.Search.DefaultLimit = c.Search.MaxLimit
	}
	if c.Search.MaxQueryBytes <= 0 {
		c.Search.MaxQueryBytes = 2048
	}
	if c.Search.SnippetContextChars <= 0 {
		c.Search.SnippetContextChars = 80
	}
	if c.Search.MaxSnippets <= 0 {
		c.Search.MaxSnippets = 3
	}
	if c.Scoring.K1 <= 0 {
		c.Scoring.K1 = 1.2
	}
	if c.Scoring.B < 0 || c.Scoring.B > 1 {
		c.Scoring.B = 0.75
	}
}

func parseBool(v string, fallback bool) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}
