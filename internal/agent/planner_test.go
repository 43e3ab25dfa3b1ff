package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/browser-pilot/internal/history"
	"github.com/polzovatel/browser-pilot/internal/llm"
	"github.com/polzovatel/browser-pilot/internal/tools"
)

type fakeLLM struct {
	resp llm.Response
	err  error
	req  llm.Request
}

func (f *fakeLLM) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	f.req = req
	return f.resp, f.err
}

func (f *fakeLLM) Name() string { return "fake" }

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantTool string
		wantArgs map[string]any
		wantText string
		wantErr  bool
	}{
		{name: "plain text", text: "  The price is $12.  ", wantText: "The price is $12."},
		{
			name:     "tool call",
			text:     `Sure. {"action": "openUrl", "input": {"url": "example.com", "explaining": "open it"}}`,
			wantTool: "openUrl",
			wantArgs: map[string]any{"url": "example.com", "explaining": "open it"},
		},
		{name: "missing input", text: `{"action":"goBack"}`, wantTool: "goBack", wantArgs: map[string]any{}},
		{name: "finish", text: `{"action":"finish","input":{"message":"all done"}}`, wantText: "all done"},
		{name: "json without action", text: `Result: {"price": 12}`, wantText: `Result: {"price": 12}`},
		{name: "broken json", text: `{"action": "scroll", "input": {`, wantText: `{"action": "scroll", "input": {`},
		{name: "empty", text: "   ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := parseDecision(tt.text)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrEmptyDecision)
				return
			}
			require.NoError(t, err)
			if tt.wantTool == "" {
				assert.True(t, dec.Final())
				assert.Equal(t, tt.wantText, dec.Text)
				return
			}
			require.False(t, dec.Final())
			assert.Equal(t, tt.wantTool, dec.ToolCall.Name)
			assert.Equal(t, tt.wantArgs, dec.ToolCall.Args)
		})
	}
}

func TestExtractJSON(t *testing.T) {
	got, err := extractJSON(`note {"a": "}{", "b": {"c": "\"x\""}} tail {"d":1}`)
	require.NoError(t, err)
	assert.Equal(t, `{"a": "}{", "b": {"c": "\"x\""}}`, got)

	_, err = extractJSON("no braces here")
	assert.Error(t, err)
}

func TestRenderMessages(t *testing.T) {
	items := []history.Item{
		history.User("find shoes"),
		history.ToolCall("looking", history.Call{ID: "c1", Name: "scroll", Args: map[string]any{"direction": "down"}}),
		history.ToolResult("c1", "scroll", `{"success":true}`),
		history.Assistant(""),
		history.Assistant("found them"),
	}
	msgs := renderMessages(items)
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.Message{Role: "user", Content: "find shoes"}, msgs[0])
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "looking\n{\"action\":\"scroll\",\"input\":{\"direction\":\"down\"}}", msgs[1].Content)
	assert.Equal(t, llm.Message{Role: "user", Content: `TOOL RESULT scroll: {"success":true}`}, msgs[2])
	assert.Equal(t, llm.Message{Role: "assistant", Content: "found them"}, msgs[3])
}

func TestLLMPlanner(t *testing.T) {
	req := PlanRequest{
		History: []history.Item{history.User("open example")},
		Tools:   []tools.Tool{{Name: "openUrl", Description: "Open a url", InputSchema: map[string]any{"type": "object"}}},
		URL:     "https://start.test/",
		Turn:    1,
	}

	t.Run("native tool call", func(t *testing.T) {
		client := &fakeLLM{resp: llm.Response{
			Text:     "opening",
			ToolCall: &llm.ToolCall{ID: "toolu_9", Name: "openUrl", Input: map[string]any{"url": "example.com"}},
		}}
		dec, err := NewPlanner(client, zerolog.Nop()).Next(context.Background(), req)
		require.NoError(t, err)
		require.NotNil(t, dec.ToolCall)
		assert.Equal(t, history.Call{ID: "toolu_9", Name: "openUrl", Args: map[string]any{"url": "example.com"}}, *dec.ToolCall)
		assert.Equal(t, "opening", dec.Text)

		assert.Contains(t, client.req.System, "The current url of the page is: https://start.test/")
		require.Len(t, client.req.Tools, 1)
		assert.Equal(t, "openUrl", client.req.Tools[0].Name)
		assert.Equal(t, []llm.Message{{Role: "user", Content: "open example"}}, client.req.Messages)
	})

	t.Run("text fallback", func(t *testing.T) {
		client := &fakeLLM{resp: llm.Response{Text: `{"action":"scroll","input":{"direction":"up"}}`}}
		dec, err := NewPlanner(client, zerolog.Nop()).Next(context.Background(), req)
		require.NoError(t, err)
		require.NotNil(t, dec.ToolCall)
		assert.Equal(t, "scroll", dec.ToolCall.Name)
	})

	t.Run("final answer", func(t *testing.T) {
		client := &fakeLLM{resp: llm.Response{Text: "Done, the page is open."}}
		dec, err := NewPlanner(client, zerolog.Nop()).Next(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, dec.Final())
		assert.Equal(t, "Done, the page is open.", dec.Text)
	})

	t.Run("client error", func(t *testing.T) {
		client := &fakeLLM{err: errors.New("anthropic API error 529")}
		_, err := NewPlanner(client, zerolog.Nop()).Next(context.Background(), req)
		assert.Error(t, err)
	})

	t.Run("empty response", func(t *testing.T) {
		_, err := NewPlanner(&fakeLLM{}, zerolog.Nop()).Next(context.Background(), req)
		assert.ErrorIs(t, err, ErrEmptyDecision)
	})
}
