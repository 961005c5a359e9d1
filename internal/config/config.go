// Package config loads the engine configuration from YAML or JSON5 files
// with environment variable expansion.
package config

import (
	"os"
	"path/filepath"

	"github.com/prdlabs/modelarena/internal/experiment"
)

// Config is the engine configuration.
type Config struct {
	// User scopes the local cache tiers. Defaults to "local".
	User string `json:"user" yaml:"user"`

	Backend   Backend             `json:"backend" yaml:"backend"`
	Cache     Cache               `json:"cache" yaml:"cache"`
	Defaults  experiment.Params   `json:"defaults" yaml:"defaults"`
	Planner   Planner             `json:"planner" yaml:"planner"`
	Platforms map[string]Platform `json:"platforms" yaml:"platforms"`
	Log       Log                 `json:"log" yaml:"log"`
}

// Backend locates the hosted execution backend.
type Backend struct {
	BaseURL string `json:"baseUrl" yaml:"baseUrl"`
	Token   string `json:"token" yaml:"token"`
}

// Cache configures the local cache tiers.
type Cache struct {
	// Dir is the root directory; the snapshot database and blob store
	// live under it.
	Dir string `json:"dir" yaml:"dir"`

	// SaveDelayMs is the snapshot debounce window.
	SaveDelayMs int `json:"saveDelayMs" yaml:"saveDelayMs"`
}

// Planner selects the model used to resolve batch image instructions.
type Planner struct {
	Platform string `json:"platform" yaml:"platform"`
	Model    string `json:"model" yaml:"model"`
}

// Platform holds per-provider credentials for local execution.
type Platform struct {
	APIKey string `json:"apiKey" yaml:"apiKey"`
}

// Log configures logging.
type Log struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level" yaml:"level"`

	// Format is "text" or "json".
	Format string `json:"format" yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		User: "local",
		Cache: Cache{
			Dir:         filepath.Join(home, ".modelarena"),
			SaveDelayMs: 2000,
		},
		Defaults: experiment.Params{
			Temperature:    0.7,
			MaxTokens:      2048,
			TimeoutMs:      60000,
			MaxConcurrency: 4,
			RepeatN:        1,
		},
		Planner: Planner{Platform: "openai", Model: "gpt-4o-mini"},
		Log:     Log{Level: "info", Format: "text"},
	}
}

// SnapshotPath is the snapshot database location under the cache dir.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.Cache.Dir, "snapshots.db")
}

// BlobPath is the blob store location under the cache dir.
func (c *Config) BlobPath() string {
	return filepath.Join(c.Cache.Dir, "blobs")
}
