package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Environment variable names.
const (
	envConfigPath = "LIBCTL_CONFIG"
	envServer     = "LIBCTL_SERVER"
	envUsername   = "LIBCTL_USERNAME"
	envPassword   = "LIBCTL_PASSWORD"
)

// EnvOverrides holds configuration read from the environment.
type EnvOverrides struct {
	ConfigPath string
	Server     string
	Username   string
	Password   string
}

// ReadEnvOverrides reads the LIBCTL_* environment variables.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(envConfigPath),
		Server:     os.Getenv(envServer),
		Username:   os.Getenv(envUsername),
		Password:   os.Getenv(envPassword),
	}
}

// CLIOverrides holds configuration set by command-line flags.
type CLIOverrides struct {
	ConfigPath string
	Server     string
	Username   string
}

// Resolved is the effective configuration plus the secrets that never touch
// the config file.
type Resolved struct {
	Config
	Password string
}

// Load reads and parses a TOML config file and validates nothing beyond
// syntax — validation happens after overrides are applied. Unknown keys are
// fatal: silently ignoring a typo leads to hard-to-debug behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}

		return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config with all defaults so libctl works with flags and env alone.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if env.Server != "" {
		cfg.Server = env.Server
	}

	if env.Username != "" {
		cfg.Username = env.Username
	}

	if cli.Server != "" {
		cfg.Server = cli.Server
	}

	if cli.Username != "" {
		cfg.Username = cli.Username
	}

	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &Resolved{Config: *cfg, Password: env.Password}, nil
}

// APIBaseURL returns the full API base URL for the configured server.
// A bare host gets the scheme and API prefix appended.
func (r *Resolved) APIBaseURL() string {
	server := strings.TrimRight(r.Server, "/")

	if !strings.Contains(server, "://") {
		server = "https://" + server
	}

	if !strings.HasSuffix(server, "/api") {
		server += "/api"
	}

	return server
}

// DefaultConfigPath returns the per-user config file location.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "libctl.toml")
	}

	return filepath.Join(dir, "libctl", "config.toml")
}

// DefaultDataDir returns the per-user data directory for the session
// journal.
func DefaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "libctl-data")
	}

	return filepath.Join(dir, "libctl", "data")
}
