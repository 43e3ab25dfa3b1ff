package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-pilot/internal/history"
	"github.com/polzovatel/browser-pilot/internal/llm"
	"github.com/polzovatel/browser-pilot/internal/tools"
)

const systemPrompt = `You are a helpful assistant that performs actions on a web page.
The user's task refers implicitly to the current tab, which you control through the provided tools.
For example "search here", "post a comment" or "find the contact information" are about the current tab or the web, and may need navigation first.

RULES:
1. Use ONLY the provided tools. Every tool call needs an "explaining" field: a short, non-technical reason for the call.
2. You work in a single tab: you can not open or close tabs. Navigate by clicking links or with openUrl.
3. Use seePage at the beginning of the task to understand the page, and again after navigating.
4. Prefer findElementsWithText and clickElementWithText when you know the visible text; use clickElement and typeInElement with CSS selectors from earlier results.
5. Tool results are JSON. "success": false is a normal outcome: read "reason" and adapt, do not repeat the same call blindly.
6. When the task is done, answer the user in plain text without calling a tool.

If you can not call tools natively, reply with a SINGLE JSON object: {"action": "<tool>", "input": {...}}. To finish, reply with plain text.`

type Planner interface {
	Next(ctx context.Context, req PlanRequest) (Decision, error)
}

// PlanRequest is everything the planner sees for one turn.
type PlanRequest struct {
	History  []history.Item
	Tools    []tools.Tool
	URL      string
	Turn     int
	MaxTurns int
}

// Decision is either a tool call or, when ToolCall is nil, the final answer.
type Decision struct {
	Text     string
	ToolCall *history.Call
}

func (d Decision) Final() bool { return d.ToolCall == nil }

var ErrEmptyDecision = errors.New("planner returned neither text nor a tool call")

type llmPlanner struct {
	llm    llm.Client
	logger zerolog.Logger
}

func NewPlanner(client llm.Client, logger zerolog.Logger) Planner {
	return &llmPlanner{llm: client, logger: logger}
}

func (p *llmPlanner) Next(ctx context.Context, req PlanRequest) (Decision, error) {
	msgs := renderMessages(req.History)
	resp, err := p.llm.Generate(ctx, llm.Request{
		System:      buildSystemPrompt(req.URL),
		Messages:    msgs,
		Tools:       toLLMTools(req.Tools),
		Temperature: 0.0,
		MaxTokens:   900,
	})
	if err != nil {
		return Decision{}, err
	}
	p.logger.Debug().
		Str("model", p.llm.Name()).
		Int("messages", len(msgs)).
		Int("turn", req.Turn).
		Bool("native_tool_call", resp.ToolCall != nil).
		Msg("planner response")

	if resp.ToolCall != nil {
		return Decision{
			Text:     strings.TrimSpace(resp.Text),
			ToolCall: &history.Call{ID: resp.ToolCall.ID, Name: resp.ToolCall.Name, Args: resp.ToolCall.Input},
		}, nil
	}
	dec, err := parseDecision(resp.Text)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: raw=%q", err, resp.Text)
	}
	return dec, nil
}

func buildSystemPrompt(url string) string {
	if url == "" {
		url = "unknown"
	}
	return systemPrompt + "\n\nThe current url of the page is: " + url
}

// renderMessages flattens the transcript into chat messages. Tool calls and
// tool results travel as text so any provider can replay them.
func renderMessages(items []history.Item) []llm.Message {
	msgs := make([]llm.Message, 0, len(items))
	for _, it := range items {
		switch it.Role {
		case history.RoleUser:
			msgs = append(msgs, llm.Message{Role: "user", Content: it.Content})
		case history.RoleAssistant:
			content := it.Content
			if it.Call != nil {
				call, _ := json.Marshal(map[string]any{"action": it.Call.Name, "input": it.Call.Args})
				if content != "" {
					content += "\n"
				}
				content += string(call)
			}
			if content == "" {
				continue
			}
			msgs = append(msgs, llm.Message{Role: "assistant", Content: content})
		case history.RoleTool:
			msgs = append(msgs, llm.Message{
				Role:    "user",
				Content: fmt.Sprintf("TOOL RESULT %s: %s", it.Tool, it.Content),
			})
		}
	}
	return msgs
}

// parseDecision reads a text reply. A JSON object with an action is a tool
// call ("finish" ends the run); anything else is the final answer.
func parseDecision(text string) (Decision, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Decision{}, ErrEmptyDecision
	}
	jsonStr, err := extractJSON(trimmed)
	if err != nil {
		return Decision{Text: trimmed}, nil
	}
	var parsed struct {
		Action string         `json:"action"`
		Input  map[string]any `json:"input"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil || strings.TrimSpace(parsed.Action) == "" {
		return Decision{Text: trimmed}, nil
	}
	if parsed.Input == nil {
		parsed.Input = map[string]any{}
	}
	action := strings.TrimSpace(parsed.Action)
	if action == "finish" {
		for _, key := range []string{"message", "result", "text"} {
			if msg, ok := parsed.Input[key].(string); ok && msg != "" {
				return Decision{Text: msg}, nil
			}
		}
		return Decision{Text: fmt.Sprintf("task finished: %v", parsed.Input)}, nil
	}
	return Decision{ToolCall: &history.Call{Name: action, Args: parsed.Input}}, nil
}

func extractJSON(text string) (string, error) {
	depth := 0
	start := -1
	inStr := false
	esc := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if esc {
			esc = false
			continue
		}
		switch ch {
		case '\\':
			if inStr {
				esc = true
			}
		case '"':
			if depth > 0 {
				inStr = !inStr
			}
		case '{':
			if !inStr {
				if depth == 0 {
					start = i
				}
				depth++
			}
		case '}':
			if !inStr && depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					return text[start : i+1], nil
				}
			}
		}
	}
	return "", fmt.Errorf("json not found")
}

func toLLMTools(ts []tools.Tool) []llm.Tool {
	res := make([]llm.Tool, 0, len(ts))
	for _, t := range ts {
		res = append(res, llm.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return res
}
