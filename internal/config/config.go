// Package config loads agent settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/polzovatel/browser-pilot/internal/host"
)

const (
	DefaultFile     = "agent.yaml"
	DefaultMaxTurns = 50
)

type Config struct {
	LLM     LLMConfig     `yaml:"llm"`
	Vision  VisionConfig  `yaml:"vision"`
	Browser BrowserConfig `yaml:"browser"`
	Agent   AgentConfig   `yaml:"agent"`
	Typing  TypingConfig  `yaml:"typing"`
	History HistoryConfig `yaml:"history"`
	Metrics MetricsConfig `yaml:"metrics"`

	LogLevel string `yaml:"log_level"`
}

// LLMConfig picks the planner model. API keys are read from the
// provider's environment variable only.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
}

type VisionConfig struct {
	Model    string `yaml:"model"`
	Disabled bool   `yaml:"disabled"`
}

type BrowserConfig struct {
	Headless bool `yaml:"headless"`
	// CDPURL attaches to a running Chrome instead of launching one.
	CDPURL   string `yaml:"cdp_url"`
	TargetID string `yaml:"target_id"`
	StartURL string `yaml:"start_url"`
	// Storage is a playwright storage state file loaded at launch.
	Storage string `yaml:"storage"`
}

type AgentConfig struct {
	MaxTurns int `yaml:"max_turns"`
}

type TypingConfig struct {
	MeanMs   int `yaml:"mean_ms"`
	JitterMs int `yaml:"jitter_ms"`
}

func (t TypingConfig) Mean() time.Duration   { return time.Duration(t.MeanMs) * time.Millisecond }
func (t TypingConfig) Jitter() time.Duration { return time.Duration(t.JitterMs) * time.Millisecond }

type HistoryConfig struct {
	Path string `yaml:"path"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

func DefaultConfig() *Config {
	return &Config{
		LLM:      LLMConfig{Provider: "anthropic"},
		Agent:    AgentConfig{MaxTurns: DefaultMaxTurns},
		Typing:   TypingConfig{MeanMs: 100, JitterMs: 50},
		History:  HistoryConfig{Path: "~/.browser-pilot/history.db"},
		LogLevel: "info",
	}
}

// Load reads path (a missing file is fine), applies environment overrides
// and validates the result. An empty path means agent.yaml.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.History.Path = expandPath(cfg.History.Path)
	cfg.Browser.Storage = expandPath(cfg.Browser.Storage)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.LLM.Provider, "LLM_PROVIDER")
	setString(&c.LLM.Model, "LLM_MODEL")
	setString(&c.Vision.Model, "VISION_MODEL")
	setString(&c.Browser.CDPURL, "AGENT_CDP_URL")
	setString(&c.Browser.TargetID, "AGENT_TARGET_ID")
	setString(&c.Browser.StartURL, "AGENT_START_URL")
	setString(&c.History.Path, "AGENT_HISTORY_DB")
	setString(&c.Metrics.Addr, "AGENT_METRICS_ADDR")
	setString(&c.LogLevel, "AGENT_LOG_LEVEL")
	if v := strings.TrimSpace(os.Getenv("AGENT_HEADLESS")); v != "" {
		c.Browser.Headless = host.ParseBool(v, c.Browser.Headless)
	}
	if v := strings.TrimSpace(os.Getenv("VISION_DISABLED")); v != "" {
		c.Vision.Disabled = host.ParseBool(v, c.Vision.Disabled)
	}
	if err := setInt(&c.Agent.MaxTurns, "AGENT_MAX_TURNS"); err != nil {
		return err
	}
	if err := setInt(&c.Typing.MeanMs, "AGENT_TYPING_MEAN_MS"); err != nil {
		return err
	}
	return setInt(&c.Typing.JitterMs, "AGENT_TYPING_JITTER_MS")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string
	switch strings.ToLower(c.LLM.Provider) {
	case "", "anthropic", "openai":
	default:
		errs = append(errs, fmt.Sprintf("llm.provider must be anthropic or openai, got %q", c.LLM.Provider))
	}
	if c.Agent.MaxTurns < 1 {
		errs = append(errs, "agent.max_turns must be at least 1")
	}
	if c.Typing.MeanMs < 0 || c.Typing.JitterMs < 0 {
		errs = append(errs, "typing.mean_ms and typing.jitter_ms must not be negative")
	}
	if c.Browser.TargetID != "" && c.Browser.CDPURL == "" {
		errs = append(errs, "browser.target_id requires browser.cdp_url")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func setString(dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = strings.Trim(v, "\"'")
	}
}

func setInt(dst *int, env string) error {
	v := strings.TrimSpace(os.Getenv(env))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", env, err)
	}
	*dst = n
	return nil
}

func expandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
