// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestDefaultIsNormalized(t *testing.T) {
	cfg := Default()
	clone := cfg.Clone()
	clone.Normalize()

	if *clone != *cfg {
		t.Error("defaults should survive normalization unchanged")
	}
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Chat.Model != "gpt-4o-mini" {
		t.Errorf("model = %q, expected default", cfg.Chat.Model)
	}
	if cfg.Chat.ContextWindow != 20 {
		t.Errorf("context window = %d, expected 20", cfg.Chat.ContextWindow)
	}
	if cfg.Retention.MaxSessions != 50 || cfg.Retention.MaxMessages != 200 {
		t.Errorf("retention = %+v, expected defaults", cfg.Retention)
	}
}

func TestLoadPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[chat]
model = "gpt-4o"
temperature = 0.2

[retention]
max_sessions = 10
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Chat.Model != "gpt-4o" {
		t.Errorf("model = %q", cfg.Chat.Model)
	}
	if cfg.Chat.Temperature != 0.2 {
		t.Errorf("temperature = %v", cfg.Chat.Temperature)
	}
	if cfg.Retention.MaxSessions != 10 {
		t.Errorf("max sessions = %d", cfg.Retention.MaxSessions)
	}
	// Unset fields fall back to defaults.
	if cfg.Retention.MaxMessages != 200 {
		t.Errorf("max messages = %d, expected default", cfg.Retention.MaxMessages)
	}
	if cfg.Chat.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("base url = %q, expected default", cfg.Chat.BaseURL)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[chat\nmodel = "), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFromPath(path); err == nil {
		t.Error("expected an error for corrupt TOML")
	}
}

func TestNormalizeClamps(t *testing.T) {
	cfg := Default()
	cfg.Chat.Temperature = 9.5
	cfg.Chat.ContextWindow = -3
	cfg.Chat.BaseURL = "https://example.com/v1/"
	cfg.Retention.MaxSessions = 100000
	cfg.Retention.MaxMessages = 1
	cfg.UI.Theme = "solarized"

	cfg.Normalize()

	if cfg.Chat.Temperature != 2 {
		t.Errorf("temperature = %v, expected clamp to 2", cfg.Chat.Temperature)
	}
	if cfg.Chat.ContextWindow != minContextWindow {
		t.Errorf("context window = %d, expected clamp to %d", cfg.Chat.ContextWindow, minContextWindow)
	}
	if cfg.Chat.BaseURL != "https://example.com/v1" {
		t.Errorf("base url = %q, expected trailing slash trimmed", cfg.Chat.BaseURL)
	}
	if cfg.Retention.MaxSessions != maxSessionsLimit {
		t.Errorf("max sessions = %d, expected clamp to %d", cfg.Retention.MaxSessions, maxSessionsLimit)
	}
	if cfg.Retention.MaxMessages != minMessages {
		t.Errorf("max messages = %d, expected clamp to %d", cfg.Retention.MaxMessages, minMessages)
	}
	if cfg.UI.Theme != "dark" {
		t.Errorf("theme = %q, expected default", cfg.UI.Theme)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRAYCHAT_MODEL", "gpt-4.1")
	t.Setenv("TRAYCHAT_BASE_URL", "https://proxy.internal/v1")
	t.Setenv("TRAYCHAT_CONTEXT_WINDOW", "40")

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Chat.Model != "gpt-4.1" {
		t.Errorf("model = %q", cfg.Chat.Model)
	}
	if cfg.Chat.BaseURL != "https://proxy.internal/v1" {
		t.Errorf("base url = %q", cfg.Chat.BaseURL)
	}
	if cfg.Chat.ContextWindow != 40 {
		t.Errorf("context window = %d", cfg.Chat.ContextWindow)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Chat.Model = "gpt-4o"
	cfg.UI.CompactMode = true
	if err := SaveToPath(cfg, path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Errorf("config file permissions = %o, expected 0600", perm)
		}
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Chat.Model != "gpt-4o" {
		t.Errorf("model = %q", loaded.Chat.Model)
	}
	if !loaded.UI.CompactMode {
		t.Error("compact mode lost in round trip")
	}
}

func TestDirOverride(t *testing.T) {
	t.Setenv("TRAYCHAT_DIR", "/tmp/traychat-test")
	dir, err := Dir()
	if err != nil {
		t.Fatal(err)
	}
	if dir != "/tmp/traychat-test" {
		t.Errorf("dir = %q", dir)
	}
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := SaveToPath(Default(), path); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.Watch(); err != nil {
		t.Fatal(err)
	}

	updated := Default()
	updated.Chat.Model = "gpt-4o"
	if err := SaveToPath(updated, path); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Chat.Model != "gpt-4o" {
			t.Errorf("reloaded model = %q", cfg.Chat.Model)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
