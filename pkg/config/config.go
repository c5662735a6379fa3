package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "500ms" parse directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full Accord configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Log        LogConfig        `yaml:"log"`
	Session    SessionConfig    `yaml:"session"`
	Connection ConnectionConfig `yaml:"connection"`
	Broadcast  BroadcastConfig  `yaml:"broadcast"`
}

// ServerConfig holds the HTTP/WebSocket listener settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig selects the event store backend. With InMemory set the
// event log does not survive a restart; otherwise events are persisted
// under DataDir.
type StorageConfig struct {
	DataDir  string `yaml:"data_dir"`
	InMemory bool   `yaml:"in_memory"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// SessionConfig holds per-session behavior settings.
//
// Scale names a voting scale preset (fibonacci, tshirt, powers-of-two) or
// "custom", in which case CustomScale supplies the card list. Vote values
// are opaque strings validated against the active scale.
type SessionConfig struct {
	Scale               string   `yaml:"scale"`
	CustomScale         []string `yaml:"custom_scale"`
	AllowRevealOverride bool     `yaml:"allow_reveal_override"`
	OutlierThreshold    float64  `yaml:"outlier_threshold"`
	IdleTimeout         Duration `yaml:"idle_timeout"`
}

// ConnectionConfig holds reconnection backoff settings for a single
// connection's state machine.
type ConnectionConfig struct {
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
	MaxAttempts    int      `yaml:"max_attempts"`
}

// BroadcastConfig holds acknowledgment and retry settings for the
// reliable broadcaster.
type BroadcastConfig struct {
	AckWindow      Duration `yaml:"ack_window"`
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
	MaxAttempts    int      `yaml:"max_attempts"`
}

// Default returns the baseline configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			DataDir:  "/var/lib/accord",
			InMemory: false,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
		Session: SessionConfig{
			Scale:               "fibonacci",
			AllowRevealOverride: false,
			OutlierThreshold:    8,
			IdleTimeout:         Duration(30 * time.Minute),
		},
		Connection: ConnectionConfig{
			InitialBackoff: Duration(250 * time.Millisecond),
			MaxBackoff:     Duration(30 * time.Second),
			MaxAttempts:    10,
		},
		Broadcast: BroadcastConfig{
			AckWindow:      Duration(2 * time.Second),
			InitialBackoff: Duration(500 * time.Millisecond),
			MaxBackoff:     Duration(15 * time.Second),
			MaxAttempts:    6,
		},
	}
}

// Load reads configuration from an optional YAML file, then applies
// environment overrides. A missing path yields defaults plus env.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides settings from ACCORD_* environment variables.
func (c *Config) applyEnv() {
	if host := os.Getenv("ACCORD_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("ACCORD_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if dir := os.Getenv("ACCORD_DATA_DIR"); dir != "" {
		c.Storage.DataDir = dir
	}
	if level := os.Getenv("ACCORD_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if scale := os.Getenv("ACCORD_SCALE"); scale != "" {
		c.Session.Scale = scale
	}
}

// Validate checks settings that would otherwise fail deep inside a
// component at runtime.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Connection.MaxAttempts <= 0 {
		return fmt.Errorf("connection max_attempts must be positive")
	}
	if c.Broadcast.MaxAttempts <= 0 {
		return fmt.Errorf("broadcast max_attempts must be positive")
	}
	if _, err := c.ScaleCards(); err != nil {
		return err
	}
	return nil
}

// Voting scale presets. "?" is the abstain card: always a valid vote,
// never counted in numeric aggregates.
var scalePresets = map[string][]string{
	"fibonacci":     {"0", "1", "2", "3", "5", "8", "13", "21", "34", "55", "89", "?"},
	"tshirt":        {"XS", "S", "M", "L", "XL", "XXL", "?"},
	"powers-of-two": {"1", "2", "4", "8", "16", "32", "64", "?"},
}

// ScaleCards resolves the configured scale to its card list.
func (c *Config) ScaleCards() ([]string, error) {
	if c.Session.Scale == "custom" {
		if len(c.Session.CustomScale) == 0 {
			return nil, fmt.Errorf("custom scale selected but custom_scale is empty")
		}
		return c.Session.CustomScale, nil
	}
	cards, ok := scalePresets[c.Session.Scale]
	if !ok {
		return nil, fmt.Errorf("unknown voting scale: %s", c.Session.Scale)
	}
	return cards, nil
}
