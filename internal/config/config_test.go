package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"LLM_PROVIDER", "LLM_MODEL", "VISION_MODEL", "VISION_DISABLED",
	"AGENT_CDP_URL", "AGENT_TARGET_ID", "AGENT_START_URL", "AGENT_HISTORY_DB",
	"AGENT_METRICS_ADDR", "AGENT_LOG_LEVEL", "AGENT_HEADLESS", "AGENT_MAX_TURNS",
	"AGENT_TYPING_MEAN_MS", "AGENT_TYPING_JITTER_MS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, DefaultMaxTurns, cfg.Agent.MaxTurns)
	assert.Equal(t, 100*time.Millisecond, cfg.Typing.Mean())
	assert.Equal(t, 50*time.Millisecond, cfg.Typing.Jitter())
	assert.False(t, cfg.Browser.Headless)
	assert.NotContains(t, cfg.History.Path, "~")
	assert.Equal(t, "history.db", filepath.Base(cfg.History.Path))
}

func TestLoadFileAndEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
llm:
  provider: openai
  model: gpt-4o
browser:
  headless: true
  start_url: https://example.com
agent:
  max_turns: 12
typing:
  mean_ms: 0
  jitter_ms: 0
metrics:
  addr: ":9100"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, "https://example.com", cfg.Browser.StartURL)
	assert.Equal(t, 12, cfg.Agent.MaxTurns)
	assert.Zero(t, cfg.Typing.Mean())
	assert.Equal(t, ":9100", cfg.Metrics.Addr)

	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("AGENT_HEADLESS", "off")
	t.Setenv("AGENT_MAX_TURNS", "7")
	t.Setenv("AGENT_CDP_URL", "http://127.0.0.1:9222")
	t.Setenv("AGENT_TARGET_ID", "ABC")
	t.Setenv("VISION_MODEL", `"gpt-4o-mini"`)

	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 7, cfg.Agent.MaxTurns)
	assert.Equal(t, "ABC", cfg.Browser.TargetID)
	assert.Equal(t, "gpt-4o-mini", cfg.Vision.Model)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		file string
		env  map[string]string
		want string
	}{
		{"bad yaml", "llm: [", nil, "parse config"},
		{"bad provider", "llm:\n  provider: gemini\n", nil, "llm.provider"},
		{"zero turns", "agent:\n  max_turns: 0\n", nil, "agent.max_turns"},
		{"negative jitter", "typing:\n  jitter_ms: -1\n", nil, "typing.mean_ms"},
		{"target without cdp", "", map[string]string{"AGENT_TARGET_ID": "ABC"}, "browser.target_id"},
		{"bad int env", "", map[string]string{"AGENT_MAX_TURNS": "many"}, "AGENT_MAX_TURNS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeFile(t, tt.file))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
