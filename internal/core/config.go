package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Transport names accepted in Config.Transport.
const (
	TransportLocal = "local"
	TransportWS    = "ws"
	TransportRedis = "redis"
)

// Config holds per-workspace client settings.
type Config struct {
	UserID           string        `yaml:"user_id"`
	DisplayName      string        `yaml:"display_name"`
	Transport        string        `yaml:"transport"`
	PushURL          string        `yaml:"push_url,omitempty"`
	TypingTTL        time.Duration `yaml:"typing_ttl"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	Overscan         int           `yaml:"overscan"`
	ItemHeight       int           `yaml:"item_height"`
	SearchDebounce   time.Duration `yaml:"search_debounce"`
	TailSize         int           `yaml:"tail_size"`
	SendRetries      int           `yaml:"send_retries"`
	LogLevel         string        `yaml:"log_level,omitempty"`
	LogSink          string        `yaml:"log_sink,omitempty"`
	MetricsAddr      string        `yaml:"metrics_addr,omitempty"`
	Notify           bool          `yaml:"notify"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Transport:        TransportLocal,
		TypingTTL:        3 * time.Second,
		SweepInterval:    500 * time.Millisecond,
		HeartbeatTimeout: 15 * time.Second,
		Overscan:         5,
		ItemHeight:       2,
		SearchDebounce:   300 * time.Millisecond,
		TailSize:         50,
		SendRetries:      3,
		Notify:           true,
	}
}

// LoadConfig reads config.yaml from the workspace, then .env, then MURMUR_*
// environment overrides.
func LoadConfig(ws Workspace) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ws.ConfigPath())
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", ws.ConfigPath(), err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, err
	}

	if err := godotenv.Load(filepath.Join(ws.Root, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// WriteConfig writes cfg to the workspace config file.
func WriteConfig(ws Workspace, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(ws.ConfigPath(), data, 0o644)
}

// Validate checks that the settings can drive a client.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportLocal:
	case TransportWS, TransportRedis:
		if c.PushURL == "" {
			return fmt.Errorf("transport %s requires push_url", c.Transport)
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.TypingTTL <= 0 {
		return fmt.Errorf("typing_ttl must be positive")
	}
	if c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("heartbeat_timeout must be positive")
	}
	if c.ItemHeight <= 0 {
		return fmt.Errorf("item_height must be positive")
	}
	if c.Overscan < 0 {
		return fmt.Errorf("overscan must not be negative")
	}
	if c.TailSize <= 0 {
		return fmt.Errorf("tail_size must be positive")
	}
	return nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}
	num := func(key string, dst *int) error {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("MURMUR_USER", &cfg.UserID)
	str("MURMUR_DISPLAY_NAME", &cfg.DisplayName)
	str("MURMUR_TRANSPORT", &cfg.Transport)
	str("MURMUR_PUSH_URL", &cfg.PushURL)
	str("MURMUR_LOG_LEVEL", &cfg.LogLevel)
	str("MURMUR_LOG_SINK", &cfg.LogSink)
	str("MURMUR_METRICS_ADDR", &cfg.MetricsAddr)
	if err := dur("MURMUR_TYPING_TTL", &cfg.TypingTTL); err != nil {
		return err
	}
	if err := dur("MURMUR_HEARTBEAT_TIMEOUT", &cfg.HeartbeatTimeout); err != nil {
		return err
	}
	if err := dur("MURMUR_SEARCH_DEBOUNCE", &cfg.SearchDebounce); err != nil {
		return err
	}
	if err := num("MURMUR_OVERSCAN", &cfg.Overscan); err != nil {
		return err
	}
	return num("MURMUR_TAIL_SIZE", &cfg.TailSize)
}
