// Package config loads the orchestrator's configuration.
//
// Precedence: defaults, then the YAML file, then environment variables
// with the AGENTRELAY_ prefix. Backend addresses are plain
// configuration here; the registry consumes them once at startup.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration of the orchestrator process.
type Config struct {
	// Server is the caller-facing HTTP server configuration.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Relay configures the orchestration loop.
	Relay RelayConfig `yaml:"relay" env:"RELAY"`

	// Session configures outbound backend calls.
	Session SessionConfig `yaml:"session" env:"SESSION"`

	// Backends lists the delegatable backends, in routing priority
	// order.
	Backends []BackendConfig `yaml:"backends" env:"-"`

	// Log is the logging configuration.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Journal is the terminal-task audit journal configuration.
	Journal JournalConfig `yaml:"journal" env:"JOURNAL"`
}

// ServerConfig is the HTTP server configuration.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `yaml:"addr" env:"ADDR"`
	// ReadTimeout bounds request header reads.
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// SubmitRatePerSecond limits query submissions; 0 disables limiting.
	SubmitRatePerSecond float64 `yaml:"submit_rate_per_second" env:"SUBMIT_RATE_PER_SECOND"`
	// SubmitBurst is the submission rate limiter's burst size.
	SubmitBurst int `yaml:"submit_burst" env:"SUBMIT_BURST"`
}

// RelayConfig configures the relay engine.
type RelayConfig struct {
	// ChannelCapacity is the per-task output channel buffer.
	ChannelCapacity int `yaml:"channel_capacity" env:"CHANNEL_CAPACITY"`
	// DiscoverOnFirstUse discovers not-yet-described backends when a
	// query arrives.
	DiscoverOnFirstUse bool `yaml:"discover_on_first_use" env:"DISCOVER_ON_FIRST_USE"`
}

// SessionConfig configures outbound backend calls.
type SessionConfig struct {
	// RequestTimeout bounds discovery and non-streaming invocations.
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	// InactivityTimeout is the maximum gap between two stream events.
	InactivityTimeout time.Duration `yaml:"inactivity_timeout" env:"INACTIVITY_TIMEOUT"`
	// DiscoveryRetries is the retry count for card fetches.
	DiscoveryRetries int `yaml:"discovery_retries" env:"DISCOVERY_RETRIES"`
	// CardTTL bounds how long a discovered card is cached.
	CardTTL time.Duration `yaml:"card_ttl" env:"CARD_TTL"`
}

// BackendConfig is one configured backend address.
type BackendConfig struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

// LogConfig is the logging configuration.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is "json" or "console".
	Format string `yaml:"format" env:"FORMAT"`
}

// JournalConfig configures the terminal-task audit journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:                ":8080",
			ReadTimeout:         10 * time.Second,
			ShutdownTimeout:     15 * time.Second,
			SubmitRatePerSecond: 20,
			SubmitBurst:         40,
		},
		Relay: RelayConfig{
			ChannelCapacity:    1,
			DiscoverOnFirstUse: true,
		},
		Session: SessionConfig{
			RequestTimeout:    30 * time.Second,
			InactivityTimeout: 60 * time.Second,
			DiscoveryRetries:  2,
			CardTTL:           5 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Journal: JournalConfig{
			Enabled: false,
			Path:    "agentrelay.db",
		},
	}
}

// EnvPrefix is the prefix of every configuration environment variable.
const EnvPrefix = "AGENTRELAY"

// Load loads the configuration: defaults, then the YAML file at path
// (if non-empty and present), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Missing file falls back to defaults plus env.
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := applyEnv(reflect.ValueOf(cfg).Elem(), EnvPrefix); err != nil {
		return nil, err
	}
	if err := loadBackendsFromEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config: server.addr is required")
	}
	if c.Relay.ChannelCapacity < 1 {
		return fmt.Errorf("config: relay.channel_capacity must be at least 1")
	}
	seen := make(map[string]bool)
	for _, b := range c.Backends {
		if b.ID == "" || b.URL == "" {
			return fmt.Errorf("config: backend entries need both id and url")
		}
		if seen[b.ID] {
			return fmt.Errorf("config: duplicate backend id %q", b.ID)
		}
		seen[b.ID] = true
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	return nil
}

// applyEnv recursively overrides struct fields from environment
// variables named by their env tags.
func applyEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		key := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := applyEnv(field, key); err != nil {
				return err
			}
			continue
		}

		raw := os.Getenv(key)
		if raw == "" {
			continue
		}
		if err := setField(field, raw); err != nil {
			return fmt.Errorf("config: invalid %s: %w", key, err)
		}
	}
	return nil
}

func setField(field reflect.Value, raw string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

// loadBackendsFromEnv parses AGENTRELAY_BACKENDS, a comma-separated
// list of id=url pairs, replacing any file-configured backends.
func loadBackendsFromEnv(cfg *Config) error {
	raw := os.Getenv(EnvPrefix + "_BACKENDS")
	if raw == "" {
		return nil
	}

	var backends []BackendConfig
	for _, pair := range strings.Split(raw, ",") {
		id, url, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return fmt.Errorf("config: invalid backend entry %q, want id=url", pair)
		}
		backends = append(backends, BackendConfig{ID: id, URL: url})
	}
	cfg.Backends = backends
	return nil
}
