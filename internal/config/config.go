// Package config loads lockd settings from a TOML file with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/illarion/lockd/internal/crypto"
)

// Environment overrides
const (
	EnvDataDir  = "LOCKD_DATA_DIR"
	EnvLogLevel = "LOCKD_LOG_LEVEL"
	EnvPassword = "LOCKD_PASSWORD"
)

// FileName is the config file looked up inside the data directory.
const FileName = "lockd.toml"

// MinKDFIterations is the lowest accepted kdf_iterations.
const MinKDFIterations = 1000

var ErrInvalidConfig = errors.New("invalid configuration")

// Duration is a time.Duration that reads and writes as "1s", "500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Log configures logging.
type Log struct {
	File       string `toml:"file"`
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	Stderr     bool   `toml:"stderr"`
}

// Config holds every lockd setting.
type Config struct {
	DataDir       string   `toml:"data_dir"`
	TickInterval  Duration `toml:"tick_interval"`
	ShutdownGrace Duration `toml:"shutdown_grace"`
	SettleDelay   Duration `toml:"settle_delay"`
	KDFIterations int      `toml:"kdf_iterations"`
	UseKeyring    bool     `toml:"use_keyring"`
	WriteThrough  bool     `toml:"write_through"`
	Log           Log      `toml:"log"`
}

// DefaultDataDir returns the per-user data directory.
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "lockd")
	}
	return ".lockd"
}

// Default returns the built-in configuration for dataDir.
func Default(dataDir string) *Config {
	return &Config{
		DataDir:       dataDir,
		TickInterval:  Duration{time.Second},
		ShutdownGrace: Duration{5 * time.Second},
		SettleDelay:   Duration{500 * time.Millisecond},
		KDFIterations: crypto.DefaultIters,
		WriteThrough:  true,
		Log: Log{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load builds the configuration. The data directory comes from dataDir,
// else LOCKD_DATA_DIR, else the default. The file is path when given,
// otherwise lockd.toml inside the data directory; a missing default file
// is not an error. Environment overrides are applied last.
func Load(path, dataDir string) (*Config, error) {
	if dataDir == "" {
		dataDir = os.Getenv(EnvDataDir)
	}
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	cfg := Default(dataDir)

	explicit := path != ""
	if !explicit {
		path = filepath.Join(dataDir, FileName)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	// The file may not move the data directory it was found in.
	if !explicit {
		cfg.DataDir = dataDir
	}

	if level := os.Getenv(EnvLogLevel); level != "" {
		cfg.Log.Level = level
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and fills derived defaults.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is empty", ErrInvalidConfig)
	}
	abs, err := filepath.Abs(c.DataDir)
	if err != nil {
		return fmt.Errorf("%w: data_dir: %v", ErrInvalidConfig, err)
	}
	c.DataDir = abs

	if c.TickInterval.Duration < 10*time.Millisecond {
		return fmt.Errorf("%w: tick_interval must be at least 10ms", ErrInvalidConfig)
	}
	if c.ShutdownGrace.Duration <= 0 {
		return fmt.Errorf("%w: shutdown_grace must be positive", ErrInvalidConfig)
	}
	if c.SettleDelay.Duration < 0 {
		return fmt.Errorf("%w: settle_delay must not be negative", ErrInvalidConfig)
	}
	if c.KDFIterations < MinKDFIterations {
		return fmt.Errorf("%w: kdf_iterations must be at least %d", ErrInvalidConfig, MinKDFIterations)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.Log.Level)
	}
	if c.Log.File == "" {
		c.Log.File = filepath.Join(c.DataDir, "lockd.log")
	}
	return nil
}

// Encode writes the configuration as TOML.
func (c *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// LedgerPath returns the permission ledger location.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.DataDir, "ledger.db")
}
