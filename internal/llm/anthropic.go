package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	envAPIKey    = "ANTHROPIC_API_KEY"
	envModel     = "ANTHROPIC_MODEL"
	envBaseURL   = "ANTHROPIC_BASE_URL"
	defaultModel = "claude-sonnet-4-5-20250929"

	apiURL      = "https://api.anthropic.com/v1"
	apiVersion  = "2023-06-01"
	maxTokens   = 900
	timeoutSecs = 60
)

type anthropicClient struct {
	apiKey string
	model  string
	url    string
	http   *http.Client
	logger zerolog.Logger
}

func newAnthropic(cfg Config, logger zerolog.Logger) (Client, error) {
	key := envOr(cfg.APIKey, envAPIKey, "")
	if key == "" {
		return nil, fmt.Errorf("missing %s", envAPIKey)
	}
	return &anthropicClient{
		apiKey: key,
		model:  envOr(cfg.Model, envModel, defaultModel),
		url:    strings.TrimRight(envOr(cfg.BaseURL, envBaseURL, apiURL), "/") + "/messages",
		http: &http.Client{
			Timeout: timeoutSecs * time.Second,
		},
		logger: logger,
	}, nil
}

func (c *anthropicClient) Name() string { return c.model }

// Generate sends one Messages API request. Failures are returned as is;
// the caller owns any retry policy.
func (c *anthropicClient) Generate(ctx context.Context, req Request) (Response, error) {
	if len(req.Messages) == 0 {
		return Response{}, errors.New("no messages")
	}
	truncate(c.logger, &req)

	payload := anthropicPayload{
		Model:       c.model,
		MaxTokens:   max(req.MaxTokens, maxTokens),
		Temperature: float64(req.Temperature),
		System:      req.System,
	}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, anthropicMessage{
			Role:    m.Role,
			Content: []anthropicContent{{Type: "text", Text: m.Content}},
		})
	}
	for _, t := range req.Tools {
		payload.Tools = append(payload.Tools, anthropicTool(t))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("marshal payload: %w", err)
	}

	c.logger.Debug().
		Str("model", c.model).
		Int("messages", len(payload.Messages)).
		Int("tools", len(payload.Tools)).
		Int("payload_size", len(body)).
		Int("max_tokens", payload.MaxTokens).
		Msg("Anthropic API request")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("http request: %w", err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug().
		Int("status", resp.StatusCode).
		Int("response_size", len(data)).
		Msg("Anthropic API response")

	if resp.StatusCode >= 400 {
		return Response{}, c.apiError(resp.StatusCode, data)
	}

	var ar anthropicResponse
	if err := json.Unmarshal(data, &ar); err != nil {
		return Response{}, fmt.Errorf("parse response: %w", err)
	}

	var (
		buf  bytes.Buffer
		call *ToolCall
	)
	for _, content := range ar.Content {
		switch content.Type {
		case "text":
			buf.WriteString(content.Text)
		case "tool_use":
			if call != nil {
				continue
			}
			input := map[string]any{}
			if len(content.Input) > 0 {
				if err := json.Unmarshal(content.Input, &input); err != nil {
					return Response{}, fmt.Errorf("parse tool input: %w", err)
				}
			}
			call = &ToolCall{ID: content.ID, Name: content.Name, Input: input}
		}
	}

	c.logger.Debug().
		Str("stop_reason", ar.StopReason).
		Int("response_length", buf.Len()).
		Bool("tool_call", call != nil).
		Msg("Anthropic API success")

	if call == nil && strings.TrimSpace(buf.String()) == "" {
		return Response{}, fmt.Errorf("empty response content")
	}
	return Response{Text: buf.String(), ToolCall: call}, nil
}

func (c *anthropicClient) apiError(status int, data []byte) error {
	var env struct {
		Error anthropicError `json:"error"`
	}
	raw := truncateString(string(data), maxErrorBody)
	if err := json.Unmarshal(data, &env); err != nil || env.Error.Error() == "" {
		c.logger.Error().Int("status", status).Str("raw_response", raw).Msg("Anthropic API error")
		return fmt.Errorf("anthropic %d: %s", status, raw)
	}
	c.logger.Error().
		Int("status", status).
		Str("error_type", env.Error.Type).
		Str("error_msg", env.Error.Message).
		Msg("Anthropic API error")
	return fmt.Errorf("anthropic %d: %s (type: %s)", status, env.Error.Error(), env.Error.Type)
}

type anthropicPayload struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e anthropicError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Type
}
