// Package config loads and validates libctl configuration from a TOML file,
// environment variables, and CLI flags, with the usual precedence: flags
// over environment over file over defaults.
package config

import (
	"fmt"
	"time"
)

// Duration is a time.Duration that unmarshals from TOML strings like "30s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}

	*d = Duration(parsed)

	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the on-disk configuration shape.
type Config struct {
	// Server is the management endpoint, host or full URL. The API base
	// path is appended automatically when only a host is given.
	Server string `toml:"server"`

	// Username for session-token login. The password comes from the
	// LIBCTL_PASSWORD environment variable — never from the config file.
	Username string `toml:"username"`

	// Insecure skips TLS certificate verification. Lab use only.
	Insecure bool `toml:"insecure"`

	// DataDir holds the session journal. Defaults per-user.
	DataDir string `toml:"data_dir"`

	LogLevel string `toml:"log_level"`

	// ChunkSizeMiB is the push upload chunk size.
	ChunkSizeMiB int `toml:"chunk_size_mib"`

	// KeepAliveInterval is the maximum gap between session keepalives
	// during a push transfer.
	KeepAliveInterval Duration `toml:"keepalive_interval"`

	// PollInterval bounds the sleep between transfer observations.
	PollInterval Duration `toml:"poll_interval"`
}

// Defaults.
const (
	defaultChunkSizeMiB      = 4
	defaultKeepAliveInterval = 30 * time.Second
	defaultPollInterval      = 1 * time.Second
	defaultLogLevel          = "info"
)

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:          defaultLogLevel,
		ChunkSizeMiB:      defaultChunkSizeMiB,
		KeepAliveInterval: Duration(defaultKeepAliveInterval),
		PollInterval:      Duration(defaultPollInterval),
	}
}

// Validate checks a loaded Config for values that cannot work.
func Validate(cfg *Config) error {
	if cfg.Server == "" {
		return fmt.Errorf("server must be set (config file, LIBCTL_SERVER, or --server)")
	}

	if cfg.ChunkSizeMiB <= 0 {
		return fmt.Errorf("chunk_size_mib must be positive, got %d", cfg.ChunkSizeMiB)
	}

	if cfg.KeepAliveInterval.Std() <= 0 {
		return fmt.Errorf("keepalive_interval must be positive, got %s", cfg.KeepAliveInterval.Std())
	}

	if cfg.PollInterval.Std() <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", cfg.PollInterval.Std())
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error; got %q", cfg.LogLevel)
	}

	return nil
}
