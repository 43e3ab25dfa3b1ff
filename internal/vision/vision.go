// Package vision turns page screenshots into text for the planner.
package vision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
)

const (
	envModel     = "VISION_MODEL"
	envAPIKey    = "OPENAI_API_KEY"
	envBaseURL   = "OPENAI_BASE_URL"
	defaultModel = "gpt-4o-mini"

	maxTokens      = 600
	requestTimeout = 60 * time.Second

	imagePrefix = "data:image/"
	pngPrefix   = "data:image/png;base64,"
)

var ErrNoImage = errors.New("vision: empty image")

const describeSystem = `You interpret browser screenshots. Answer the prompt about the screenshot, then give a short generic description of the page: main actions, titles, cards, forms and navigation.`

const diffSystem = `You compare two browser screenshots of the same tab. The first image was taken before the second. Answer the prompt, then list what appeared, disappeared or changed between them. If nothing visible changed, say so.`

// Describer is the vision collaborator. Images are data URLs or raw base64 PNG.
type Describer interface {
	Describe(ctx context.Context, image, prompt string) (string, error)
	Diff(ctx context.Context, before, after, prompt string) (string, error)
}

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// ConfigFromEnv reads OPENAI_API_KEY, OPENAI_BASE_URL and VISION_MODEL.
func ConfigFromEnv() Config {
	return Config{
		APIKey:  strings.TrimSpace(os.Getenv(envAPIKey)),
		Model:   strings.Trim(strings.TrimSpace(os.Getenv(envModel)), "\"'"),
		BaseURL: strings.TrimSpace(os.Getenv(envBaseURL)),
	}
}

type OpenAI struct {
	client openai.Client
	model  string
	logger zerolog.Logger
}

func NewOpenAI(cfg Config, logger zerolog.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing %s", envAPIKey)
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(requestTimeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		logger: logger,
	}, nil
}

func (v *OpenAI) Describe(ctx context.Context, image, prompt string) (string, error) {
	if strings.TrimSpace(image) == "" {
		return "", ErrNoImage
	}
	parts := []openai.ChatCompletionContentPartUnionParam{
		imagePart(image),
		openai.TextContentPart(prompt),
	}
	return v.complete(ctx, "describe", describeSystem, parts)
}

func (v *OpenAI) Diff(ctx context.Context, before, after, prompt string) (string, error) {
	if strings.TrimSpace(before) == "" || strings.TrimSpace(after) == "" {
		return "", ErrNoImage
	}
	parts := []openai.ChatCompletionContentPartUnionParam{
		imagePart(before),
		imagePart(after),
		openai.TextContentPart(prompt),
	}
	return v.complete(ctx, "diff", diffSystem, parts)
}

func (v *OpenAI) complete(ctx context.Context, op, system string, parts []openai.ChatCompletionContentPartUnionParam) (string, error) {
	started := time.Now()
	resp, err := v.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(v.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(parts),
		},
		MaxTokens: openai.Int(maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("vision %s: %w", op, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("vision %s: no choices in response", op)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	v.logger.Debug().
		Str("op", op).
		Str("model", v.model).
		Int("response_length", len(text)).
		Dur("took", time.Since(started)).
		Msg("vision response")
	return text, nil
}

func imagePart(image string) openai.ChatCompletionContentPartUnionParam {
	if !strings.HasPrefix(image, imagePrefix) {
		image = pngPrefix + image
	}
	return openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
		URL:    image,
		Detail: "low",
	})
}
