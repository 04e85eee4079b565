package domwatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/vitrine/domwatch/internal/config"
)

// Config is the top-level domwatch configuration.
type Config = config.Config

// BrowserConfig controls the Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// PageConfig defines a page to watch.
type PageConfig = config.PageConfig

// DebounceConfig controls event batching.
type DebounceConfig = config.DebounceConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// HTTPConfig configures the control API.
type HTTPConfig = config.HTTPConfig

// RuleSchema creates the table holding rules added at runtime.
const RuleSchema = config.Schema

// LoadConfigFile reads and validates a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// ParseConfig reads and validates YAML configuration.
func ParseConfig(data []byte) (*Config, error) {
	return config.Parse(data)
}

// WatchConfigFile calls fn with the new configuration every time the file
// at path changes and still validates. It blocks until ctx is done.
func WatchConfigFile(ctx context.Context, path string, logger *slog.Logger, fn func(*Config)) error {
	return config.WatchFile(ctx, path, 200*time.Millisecond, logger, fn)
}
