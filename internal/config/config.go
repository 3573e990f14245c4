// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for traychat.
//
// Configuration is TOML with sensible defaults, environment variable
// overrides, and validation. Out-of-range values are clamped rather than
// rejected so a hand-edited file never prevents startup.
//
// Configuration file location: ~/.traychat/config.toml
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete traychat configuration.
type Config struct {
	// Chat holds completion request parameters.
	Chat ChatConfig `toml:"chat"`

	// Retention holds history retention limits.
	Retention RetentionConfig `toml:"retention"`

	// UI holds interface preferences.
	UI UIConfig `toml:"ui"`
}

// ChatConfig contains completion request configuration.
type ChatConfig struct {
	// Model is the completion model identifier.
	Model string `toml:"model"`
	// BaseURL is the completion API base URL.
	BaseURL string `toml:"base_url"`
	// Temperature is the sampling temperature (0.0-2.0, clamped).
	Temperature float64 `toml:"temperature"`
	// MaxTokens caps the response length (0 = provider default).
	MaxTokens int `toml:"max_tokens"`
	// ContextWindow is how many recent messages accompany each request.
	ContextWindow int `toml:"context_window"`
	// RequestTimeoutSecs bounds non-streaming requests.
	RequestTimeoutSecs int `toml:"request_timeout_secs"`
}

// RetentionConfig contains history retention configuration.
type RetentionConfig struct {
	// MaxSessions bounds retained sessions; the least recently active
	// beyond this are evicted.
	MaxSessions int `toml:"max_sessions"`
	// MaxMessages bounds messages kept per session.
	MaxMessages int `toml:"max_messages"`
}

// UIConfig contains interface configuration.
type UIConfig struct {
	// Theme is the UI theme: "dark", "light", "auto"
	Theme string `toml:"theme"`
	// RenderMarkdown enables markdown rendering of assistant replies.
	RenderMarkdown bool `toml:"render_markdown"`
	// CompactMode uses a more compact layout.
	CompactMode bool `toml:"compact_mode"`
}

// Clamp bounds for validated fields.
const (
	minContextWindow = 1
	maxContextWindow = 200
	minSessions      = 1
	maxSessionsLimit = 500
	minMessages      = 10
	maxMessagesLimit = 2000
)

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Chat: ChatConfig{
			Model:              "gpt-4o-mini",
			BaseURL:            "https://api.openai.com/v1",
			Temperature:        0.7,
			MaxTokens:          0, // provider default
			ContextWindow:      20,
			RequestTimeoutSecs: 60,
		},
		Retention: RetentionConfig{
			MaxSessions: 50,
			MaxMessages: 200,
		},
		UI: UIConfig{
			Theme:          "dark",
			RenderMarkdown: true,
			CompactMode:    false,
		},
	}
}

// RequestTimeout returns the non-streaming timeout as a duration.
func (c *ChatConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// Dir returns the traychat configuration directory path.
// TRAYCHAT_DIR overrides the default for tests and portable installs.
func Dir() (string, error) {
	if dir := os.Getenv("TRAYCHAT_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".traychat"), nil
}

// Path returns the path to the TOML config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureDir ensures the config directory exists.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o700)
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load loads configuration from the default location. A missing file means
// defaults; a corrupt file is an error. Environment overrides apply last.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific file path.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.Normalize()
	return cfg, nil
}

// Save writes the configuration to the default TOML file.
// SECURITY: Config file is 0600, owner read/write only.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveToPath(cfg, path)
}

// SaveToPath writes the configuration to a specific TOML file.
func SaveToPath(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	// Ensure permissions are correct even if the file already existed.
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	fmt.Fprintln(file, "# traychat configuration file")
	fmt.Fprintln(file, "# Edit with care; unknown keys are ignored.")
	fmt.Fprintln(file, "")

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// =============================================================================
// NORMALIZATION
// =============================================================================

// Normalize fills missing values with defaults and clamps out-of-range
// values to their valid bounds.
func (c *Config) Normalize() {
	defaults := Default()

	if strings.TrimSpace(c.Chat.Model) == "" {
		c.Chat.Model = defaults.Chat.Model
	}
	if strings.TrimSpace(c.Chat.BaseURL) == "" {
		c.Chat.BaseURL = defaults.Chat.BaseURL
	}
	c.Chat.BaseURL = strings.TrimSuffix(strings.TrimSpace(c.Chat.BaseURL), "/")

	if c.Chat.Temperature < 0 {
		c.Chat.Temperature = 0
	}
	if c.Chat.Temperature > 2 {
		c.Chat.Temperature = 2
	}
	if c.Chat.MaxTokens < 0 {
		c.Chat.MaxTokens = 0
	}
	c.Chat.ContextWindow = clampInt(c.Chat.ContextWindow, minContextWindow, maxContextWindow, defaults.Chat.ContextWindow)
	if c.Chat.RequestTimeoutSecs <= 0 {
		c.Chat.RequestTimeoutSecs = defaults.Chat.RequestTimeoutSecs
	}

	c.Retention.MaxSessions = clampInt(c.Retention.MaxSessions, minSessions, maxSessionsLimit, defaults.Retention.MaxSessions)
	c.Retention.MaxMessages = clampInt(c.Retention.MaxMessages, minMessages, maxMessagesLimit, defaults.Retention.MaxMessages)

	switch strings.ToLower(c.UI.Theme) {
	case "dark", "light", "auto":
		c.UI.Theme = strings.ToLower(c.UI.Theme)
	default:
		c.UI.Theme = defaults.UI.Theme
	}
}

// clampInt returns v clamped to [lo, hi]; zero means "use the default".
func clampInt(v, lo, hi, def int) int {
	if v == 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - TRAYCHAT_MODEL: overrides chat.model
//   - TRAYCHAT_BASE_URL: overrides chat.base_url
//   - TRAYCHAT_TEMPERATURE: overrides chat.temperature
//   - TRAYCHAT_CONTEXT_WINDOW: overrides chat.context_window
//   - TRAYCHAT_THEME: overrides ui.theme
func (c *Config) ApplyEnvOverrides() {
	if model := os.Getenv("TRAYCHAT_MODEL"); model != "" {
		c.Chat.Model = model
	}
	if url := os.Getenv("TRAYCHAT_BASE_URL"); url != "" {
		c.Chat.BaseURL = url
	}
	if temp := os.Getenv("TRAYCHAT_TEMPERATURE"); temp != "" {
		if v, err := strconv.ParseFloat(temp, 64); err == nil {
			c.Chat.Temperature = v
		}
	}
	if window := os.Getenv("TRAYCHAT_CONTEXT_WINDOW"); window != "" {
		if v, err := strconv.Atoi(window); err == nil {
			c.Chat.ContextWindow = v
		}
	}
	if theme := os.Getenv("TRAYCHAT_THEME"); theme != "" {
		c.UI.Theme = theme
	}
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
