package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"

	// maxRequestSize caps a single message or system prompt (~200KB).
	maxRequestSize = 200000
	maxErrorBody   = 500
)

type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Name() string
}

type Request struct {
	System      string
	Messages    []Message
	Tools       []Tool
	Temperature float32
	MaxTokens   int
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Response carries either plain text or, when the model chose a tool, the
// first tool call. Text may accompany a tool call.
type Response struct {
	Text     string
	ToolCall *ToolCall
}

type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// Config selects and configures a provider. Empty fields fall back to the
// provider's environment variables and defaults.
type Config struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

// New creates a client for cfg.Provider. Defaults to Anthropic.
func New(cfg Config, logger zerolog.Logger) (Client, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderAnthropic
	}
	switch provider {
	case ProviderOpenAI:
		return newOpenAI(cfg, logger)
	case ProviderAnthropic:
		return newAnthropic(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (use 'anthropic' or 'openai')", provider)
	}
}

func envOr(val, env, def string) string {
	if v := strings.TrimSpace(val); v != "" {
		return v
	}
	if v := strings.Trim(strings.TrimSpace(os.Getenv(env)), "\"'"); v != "" {
		return v
	}
	return def
}

func truncate(logger zerolog.Logger, req *Request) {
	req.Messages = append([]Message(nil), req.Messages...)
	for i, m := range req.Messages {
		if len(m.Content) > maxRequestSize {
			logger.Warn().Int("message_idx", i).Int("size", len(m.Content)).Msg("message too large, truncating")
			req.Messages[i].Content = cut(m.Content, maxRequestSize) + "... [truncated]"
		}
	}
	if len(req.System) > maxRequestSize {
		logger.Warn().Int("size", len(req.System)).Msg("system prompt too large, truncating")
		req.System = cut(req.System, maxRequestSize) + "... [truncated]"
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return cut(s, maxLen) + "..."
}

// cut returns at most n bytes of s without splitting a UTF-8 sequence.
func cut(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
