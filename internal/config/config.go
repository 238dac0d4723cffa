// Package config loads the engine configuration from <flow>/config.json.
// Everything has a default; the file only needs to exist when the defaults
// are wrong. No behavior comes from environment variables except the
// test-only root override honored by the CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/mapstructure"
)

// ConfigError reports an unusable config file. Fatal at boot.
type ConfigError struct {
	Path string
	Msg  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Path, e.Msg)
}

// Config is the engine configuration, threaded through by value — there is
// no global.
type Config struct {
	// MarkerDirs are the directory names whose presence marks a project
	// root during hydration, nearest first.
	MarkerDirs []string `mapstructure:"marker_dirs"`

	// RetryLimit is the circuit-breaker bound per (task, step).
	RetryLimit int `mapstructure:"retry_limit"`

	// MaxFlowDepth caps nested sub-workflow recursion.
	MaxFlowDepth int `mapstructure:"max_flow_depth"`

	// MaxRefDepth caps the fractal descent through status refs at load.
	MaxRefDepth int `mapstructure:"max_ref_depth"`

	// BackupKeep is the rotation depth for status backups.
	BackupKeep int `mapstructure:"backup_keep"`

	// EventRotateBytes triggers event log rotation.
	EventRotateBytes int64 `mapstructure:"event_rotate_bytes"`

	// Scope is the loom edit whitelist (path patterns relative to root).
	Scope []string `mapstructure:"scope"`

	// LoomMaxBytes caps the size of files loom will edit.
	LoomMaxBytes int64 `mapstructure:"loom_max_bytes"`

	// LoomLockTimeoutSec / LoomLockStaleSec tune the advisory lock.
	LoomLockTimeoutSec int `mapstructure:"loom_lock_timeout_sec"`
	LoomLockStaleSec   int `mapstructure:"loom_lock_stale_sec"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		MarkerDirs:         []string{".flow"},
		RetryLimit:         3,
		MaxFlowDepth:       10,
		MaxRefDepth:        20,
		BackupKeep:         10,
		EventRotateBytes:   10 << 20,
		LoomMaxBytes:       50 << 20,
		LoomLockTimeoutSec: 5,
		LoomLockStaleSec:   30,
	}
}

// LockTimeout returns the loom lock deadline as a duration.
func (c Config) LockTimeout() time.Duration {
	return time.Duration(c.LoomLockTimeoutSec) * time.Second
}

// LockStale returns the loom staleness window as a duration.
func (c Config) LockStale() time.Duration {
	return time.Duration(c.LoomLockStaleSec) * time.Second
}

// Load reads <flowDir>/config.json over the defaults. Unknown keys are
// tolerated (forward compatibility); a file that is not a JSON object is a
// ConfigError.
func Load(flowDir string) (Config, error) {
	cfg := Default()
	path := filepath.Join(flowDir, "config.json")

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	var loose map[string]any
	if err := json.Unmarshal(raw, &loose); err != nil {
		return cfg, &ConfigError{Path: path, Msg: "not a JSON object"}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return cfg, err
	}
	if err := decoder.Decode(loose); err != nil {
		return cfg, &ConfigError{Path: path, Msg: err.Error()}
	}
	return cfg, nil
}
