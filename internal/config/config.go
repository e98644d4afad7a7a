package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/specstream/specstream/internal/consts"
)

// Config represents daemon configuration
type Config struct {
	ListenAddr             string `json:"listen_addr"`
	RetentionMinutes       int    `json:"retention_minutes"`
	CleanupIntervalSeconds int    `json:"cleanup_interval_seconds"`
	MaxHistoryPerOperation int    `json:"max_history_per_operation"`
	SendQueueSize          int    `json:"send_queue_size"`
	SessionTTLMinutes      int    `json:"session_ttl_minutes"`
	StorePath              string `json:"store_path"`
	LogLevel               string `json:"log_level"` // debug, info, warn, error, none
	LogPath                string `json:"log_path,omitempty"`

	path string `json:"-"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "specstream")
		}
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Application Support", "specstream")
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "specstream")
}

// DefaultPath returns the default config file location
func DefaultPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}

// Default returns a Config populated with defaults
func Default() *Config {
	return &Config{
		ListenAddr:             "localhost:8936",
		RetentionMinutes:       int(consts.DefaultRetentionWindow / time.Minute),
		CleanupIntervalSeconds: int(consts.DefaultCleanupInterval / time.Second),
		MaxHistoryPerOperation: consts.MaxHistoryPerOperation,
		SendQueueSize:          consts.SendQueueSize,
		SessionTTLMinutes:      24 * 60,
		StorePath:              filepath.Join(defaultConfigDir(), "specstream.db"),
		LogLevel:               "info",
	}
}

// Load reads configuration from path, falling back to defaults for any
// missing field. A missing file is not an error. Environment variables
// prefixed SPECSTREAM_ override file values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SPECSTREAM_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("SPECSTREAM_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("SPECSTREAM_LOG_PATH"); v != "" {
		c.LogPath = v
	}
	if v := os.Getenv("SPECSTREAM_STORE_PATH"); v != "" {
		c.StorePath = v
	}
	if v := os.Getenv("SPECSTREAM_RETENTION_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RetentionMinutes = n
		}
	}
	if v := os.Getenv("SPECSTREAM_CLEANUP_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.CleanupIntervalSeconds = n
		}
	}
}

func (c *Config) validate() error {
	if c.RetentionMinutes <= 0 {
		return fmt.Errorf("retention_minutes must be positive, got %d", c.RetentionMinutes)
	}
	if c.CleanupIntervalSeconds <= 0 {
		return fmt.Errorf("cleanup_interval_seconds must be positive, got %d", c.CleanupIntervalSeconds)
	}
	if c.MaxHistoryPerOperation <= 0 {
		return fmt.Errorf("max_history_per_operation must be positive, got %d", c.MaxHistoryPerOperation)
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("send_queue_size must be positive, got %d", c.SendQueueSize)
	}
	return nil
}

// Save writes the configuration back to its file
func (c *Config) Save() error {
	path := c.path
	if path == "" {
		path = DefaultPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Path returns the file this config was loaded from
func (c *Config) Path() string {
	if c.path == "" {
		return DefaultPath()
	}
	return c.path
}

// RetentionWindow returns the message retention window as a duration
func (c *Config) RetentionWindow() time.Duration {
	return time.Duration(c.RetentionMinutes) * time.Minute
}

// CleanupInterval returns the retention sweep interval as a duration
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSeconds) * time.Second
}

// SessionTTL returns the auth session lifetime as a duration
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}
