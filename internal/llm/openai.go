package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog"
)

const (
	envOpenAIAPIKey    = "OPENAI_API_KEY"
	envOpenAIModel     = "OPENAI_MODEL"
	envOpenAIBaseURL   = "OPENAI_BASE_URL"
	defaultOpenAIModel = "gpt-4o-mini"

	openAIMaxTokens = 900
	openAITimeout   = 60 * time.Second
)

type openAIClient struct {
	client openai.Client
	model  string
	logger zerolog.Logger
}

func newOpenAI(cfg Config, logger zerolog.Logger) (Client, error) {
	key := envOr(cfg.APIKey, envOpenAIAPIKey, "")
	if key == "" {
		return nil, fmt.Errorf("missing %s", envOpenAIAPIKey)
	}
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(openAITimeout),
	}
	if base := envOr(cfg.BaseURL, envOpenAIBaseURL, ""); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	return &openAIClient{
		client: openai.NewClient(opts...),
		model:  envOr(cfg.Model, envOpenAIModel, defaultOpenAIModel),
		logger: logger,
	}, nil
}

func (c *openAIClient) Name() string {
	return c.model
}

// Generate sends one chat completion request; no retries.
func (c *openAIClient) Generate(ctx context.Context, req Request) (Response, error) {
	if len(req.Messages) == 0 {
		return Response{}, errors.New("no messages")
	}
	truncate(c.logger, &req)

	// OpenAI takes the system prompt as the first message.
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		if m.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(m.Content))
			continue
		}
		messages = append(messages, openai.UserMessage(m.Content))
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(float64(req.Temperature)),
		MaxTokens:   openai.Int(int64(max(req.MaxTokens, openAIMaxTokens))),
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  openai.FunctionParameters(t.InputSchema),
			},
		})
	}
	if len(params.Tools) > 0 {
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("auto")}
	}

	c.logger.Debug().
		Str("model", c.model).
		Int("messages", len(messages)).
		Int("tools", len(params.Tools)).
		Int("max_tokens", max(req.MaxTokens, openAIMaxTokens)).
		Msg("OpenAI API request")

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			msg := apiErr.Message
			if msg == "" {
				msg = truncateString(apiErr.RawJSON(), maxErrorBody)
			}
			if msg == "" {
				msg = http.StatusText(apiErr.StatusCode)
			}
			c.logger.Error().
				Int("status", apiErr.StatusCode).
				Str("error_type", apiErr.Type).
				Str("error_msg", msg).
				Msg("OpenAI API error")
			return Response{}, fmt.Errorf("openai %d: %s (type: %s, code: %s)", apiErr.StatusCode, msg, apiErr.Type, apiErr.Code)
		}
		return Response{}, fmt.Errorf("openai request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, errors.New("no choices in response")
	}
	choice := resp.Choices[0]

	if len(choice.Message.ToolCalls) > 0 {
		tc := choice.Message.ToolCalls[0]
		c.logger.Debug().
			Str("tool_name", tc.Function.Name).
			Str("tool_args", truncateString(tc.Function.Arguments, 200)).
			Msg("OpenAI tool call")
		input := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
				return Response{}, fmt.Errorf("parse tool arguments: %w", err)
			}
		}
		return Response{
			Text:     choice.Message.Content,
			ToolCall: &ToolCall{ID: tc.ID, Name: tc.Function.Name, Input: input},
		}, nil
	}

	text := choice.Message.Content
	if text == "" {
		return Response{}, errors.New("empty response content")
	}

	c.logger.Debug().
		Str("finish_reason", choice.FinishReason).
		Int64("prompt_tokens", resp.Usage.PromptTokens).
		Int64("completion_tokens", resp.Usage.CompletionTokens).
		Int64("total_tokens", resp.Usage.TotalTokens).
		Str("response_preview", truncateString(text, 200)).
		Msg("OpenAI API success")

	return Response{Text: text}, nil
}
