package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.unimessenger/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	API       API       `toml:"api"`
	Engine    Engine    `toml:"engine"`
	Reconnect Reconnect `toml:"reconnect"`
	Scroll    Scroll    `toml:"scroll"`
}

// API holds backend endpoints.
type API struct {
	BaseURL        string `toml:"base_url"`
	PushURL        string `toml:"push_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Engine tunes store and matcher behavior.
type Engine struct {
	PageSize           int `toml:"page_size"`
	Retention          int `toml:"retention"`
	DedupWindowSeconds int `toml:"dedup_window_seconds"`
	TypingTTLSeconds   int `toml:"typing_ttl_seconds"`
}

// Reconnect tunes the push-channel backoff schedule.
type Reconnect struct {
	BackoffBaseMillis int `toml:"backoff_base_ms"`
	BackoffMaxMillis  int `toml:"backoff_max_ms"`
}

// Scroll tunes the pagination trigger.
type Scroll struct {
	TopThreshold int `toml:"top_threshold"`
	BottomSlack  int `toml:"bottom_slack"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		API: API{
			BaseURL:        "http://localhost:8800",
			PushURL:        "ws://localhost:8800/v1/push",
			TimeoutSeconds: 15,
		},
		Engine: Engine{
			PageSize:           50,
			Retention:          50,
			DedupWindowSeconds: 10,
			TypingTTLSeconds:   6,
		},
		Reconnect: Reconnect{
			BackoffBaseMillis: 500,
			BackoffMaxMillis:  15000,
		},
		Scroll: Scroll{
			TopThreshold: 3,
			BottomSlack:  2,
		},
	}
}

// Load reads config from the given path, filling unset fields with
// defaults. Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	return cfg, nil
}

// LoadOrDefault reads config from path, falling back to defaults when
// the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func (c *Config) fillDefaults() {
	def := Default()
	if c.DefaultSession == "" {
		c.DefaultSession = def.DefaultSession
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = def.API.BaseURL
	}
	if c.API.PushURL == "" {
		c.API.PushURL = def.API.PushURL
	}
	if c.API.TimeoutSeconds <= 0 {
		c.API.TimeoutSeconds = def.API.TimeoutSeconds
	}
	if c.Engine.PageSize <= 0 {
		c.Engine.PageSize = def.Engine.PageSize
	}
	if c.Engine.Retention <= 0 {
		c.Engine.Retention = def.Engine.Retention
	}
	if c.Engine.DedupWindowSeconds <= 0 {
		c.Engine.DedupWindowSeconds = def.Engine.DedupWindowSeconds
	}
	if c.Engine.TypingTTLSeconds <= 0 {
		c.Engine.TypingTTLSeconds = def.Engine.TypingTTLSeconds
	}
	if c.Reconnect.BackoffBaseMillis <= 0 {
		c.Reconnect.BackoffBaseMillis = def.Reconnect.BackoffBaseMillis
	}
	if c.Reconnect.BackoffMaxMillis <= 0 {
		c.Reconnect.BackoffMaxMillis = def.Reconnect.BackoffMaxMillis
	}
	if c.Scroll.TopThreshold <= 0 {
		c.Scroll.TopThreshold = def.Scroll.TopThreshold
	}
	if c.Scroll.BottomSlack < 0 {
		c.Scroll.BottomSlack = def.Scroll.BottomSlack
	}
}

// APITimeout returns the REST timeout as a duration.
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// DedupWindow returns the outbox match window as a duration.
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.Engine.DedupWindowSeconds) * time.Second
}

// TypingTTL returns the typing indicator lifetime as a duration.
func (c *Config) TypingTTL() time.Duration {
	return time.Duration(c.Engine.TypingTTLSeconds) * time.Second
}

// BackoffBase returns the reconnect base delay as a duration.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Reconnect.BackoffBaseMillis) * time.Millisecond
}

// BackoffMax returns the reconnect delay cap as a duration.
func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.Reconnect.BackoffMaxMillis) * time.Millisecond
}
