package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ListenAddr != "localhost:8936" {
		t.Errorf("Expected default listen addr, got %s", cfg.ListenAddr)
	}
	if cfg.RetentionWindow() != 10*time.Minute {
		t.Errorf("Expected 10m retention, got %v", cfg.RetentionWindow())
	}
	if cfg.SendQueueSize != 256 {
		t.Errorf("Expected default send queue size 256, got %d", cfg.SendQueueSize)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"listen_addr": "127.0.0.1:9000", "retention_minutes": 5, "log_level": "debug"}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ListenAddr != "127.0.0.1:9000" {
		t.Errorf("Expected configured listen addr, got %s", cfg.ListenAddr)
	}
	if cfg.RetentionMinutes != 5 {
		t.Errorf("Expected retention 5, got %d", cfg.RetentionMinutes)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected debug log level, got %s", cfg.LogLevel)
	}
	// Unset fields keep defaults
	if cfg.CleanupIntervalSeconds != 60 {
		t.Errorf("Expected default cleanup interval, got %d", cfg.CleanupIntervalSeconds)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"retention_minutes": -1}`), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("Expected error for negative retention")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SPECSTREAM_LISTEN_ADDR", "0.0.0.0:7777")
	t.Setenv("SPECSTREAM_RETENTION_MINUTES", "3")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ListenAddr != "0.0.0.0:7777" {
		t.Errorf("Expected env listen addr, got %s", cfg.ListenAddr)
	}
	if cfg.RetentionMinutes != 3 {
		t.Errorf("Expected env retention 3, got %d", cfg.RetentionMinutes)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cfg.ListenAddr = "localhost:1234"

	if err := cfg.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if loaded.ListenAddr != "localhost:1234" {
		t.Errorf("Expected saved listen addr, got %s", loaded.ListenAddr)
	}
}

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"log_level": "info"}`), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte(`{"log_level": "debug"}`), 0644); err != nil {
		t.Fatalf("Failed to rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.LogLevel != "debug" {
			t.Errorf("Expected reloaded log level debug, got %s", cfg.LogLevel)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for config reload")
	}
}
