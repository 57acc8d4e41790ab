package transform

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/ccproxy/ccproxy/internal/block"
	"github.com/ccproxy/ccproxy/internal/config"
	"github.com/ccproxy/ccproxy/internal/types"
)

// exitToolName is the synthetic tool the DeepSeek amplifier injects so a
// model forced into tool_choice="required" can still answer in plain text,
// per spec §4.3 and scenario E4.
const exitToolName = "ExitTool"

const deepseekReminder = "You must call a tool in this turn. If none of the available tools fit, call ExitTool with your answer in the response field."

var exitToolSchema = json.RawMessage(`{"type":"object","properties":{"response":{"type":"string"}},"required":["response"]}`)

const deepseekSawExitToolKey = "deepseek.saw_exit_tool"

func newDeepSeekTransformer(cfg config.TransformerConfig) Transformer {
	maxOutput := 8192
	if v, ok := cfg.Options["max_output"]; ok {
		if n, ok := toInt(v); ok && n > 0 {
			maxOutput = n
		}
	}

	return Transformer{
		Name: "deepseek",
		RequestOut: func(_ context.Context, req *types.OpenAIRequest, _ *State) error {
			if len(req.Tools) == 0 {
				return nil
			}
			req.ToolChoice = "required"
			req.Tools = append(req.Tools, types.OpenAITool{
				Type: "function",
				Function: types.OpenAIToolFunction{
					Name:        exitToolName,
					Description: "Call this when no other tool fits, with your final answer in the response field.",
					Parameters:  exitToolSchema,
				},
			})
			req.Messages = prependSystemReminder(req.Messages, deepseekReminder)
			if req.MaxTokens == 0 || req.MaxTokens > maxOutput {
				req.MaxTokens = maxOutput
			}
			return nil
		},
		ResponseIn: func(_ context.Context, resp *types.OpenAIResponse, state *State) error {
			for i := range resp.Choices {
				rewriteExitToolCall(&resp.Choices[i], state)
			}
			return nil
		},
		StreamChunkIn: func(_ context.Context, chunk *types.OpenAIStreamChunk, state *State) error {
			for i := range chunk.Choices {
				rewriteExitToolStreamDelta(&chunk.Choices[i], state)
			}
			return nil
		},
		ResponseOut: func(_ context.Context, resp *types.ClaudeResponse, _ *State) error {
			extractFencedJSON(resp)
			return nil
		},
	}
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// prependSystemReminder merges text into the leading system message, or
// inserts a new one at index 0 if none exists.
func prependSystemReminder(msgs []types.OpenAIMessage, text string) []types.OpenAIMessage {
	if len(msgs) > 0 && msgs[0].Role == "system" {
		msgs[0].Content = text + "\n" + msgs[0].ContentText()
		return msgs
	}
	return append([]types.OpenAIMessage{{Role: "system", Content: text}}, msgs...)
}

// rewriteExitToolCall implements the DeepSeek response_in hook: a model
// that called ExitTool instead of a domain tool gets its call rewritten
// into a plain text turn, per spec §4.3.
func rewriteExitToolCall(choice *types.OpenAIChoice, state *State) {
	for _, tc := range choice.Message.ToolCalls {
		if tc.Function.Name != exitToolName {
			continue
		}
		response := extractExitToolResponse(tc.Function.Arguments)
		choice.Message.Content = response
		choice.Message.ToolCalls = nil
		stop := "stop"
		choice.FinishReason = &stop
		if state != nil {
			state.Set(deepseekSawExitToolKey, true)
		}
		return
	}
}

// rewriteExitToolStreamDelta is the streaming counterpart: an ExitTool
// call arriving as tool_call deltas is rewritten into a content delta and
// the finish_reason forced to "stop".
func rewriteExitToolStreamDelta(choice *types.OpenAIStreamChoice, state *State) {
	var rewritten []types.OpenAIToolCall
	for _, tc := range choice.Delta.ToolCalls {
		if tc.Function.Name != "" && tc.Function.Name != exitToolName {
			rewritten = append(rewritten, tc)
			continue
		}
		if tc.Function.Name == exitToolName {
			state.Set(deepseekSawExitToolKey, true)
		}
		if saw, _ := state.Get(deepseekSawExitToolKey); saw == true {
			choice.Delta.Content += extractExitToolResponseFragment(tc.Function.Arguments)
			continue
		}
		rewritten = append(rewritten, tc)
	}
	choice.Delta.ToolCalls = rewritten
	if choice.FinishReason != nil && *choice.FinishReason == "tool_calls" {
		if saw, _ := state.Get(deepseekSawExitToolKey); saw == true {
			stop := "stop"
			choice.FinishReason = &stop
		}
	}
}

// extractExitToolResponse parses {"response": "..."} from a complete
// arguments string. On parse failure the raw arguments are returned as-is.
func extractExitToolResponse(arguments string) string {
	var payload struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal([]byte(arguments), &payload); err != nil {
		return arguments
	}
	return payload.Response
}

// extractExitToolResponseFragment best-effort extracts readable text from
// a partial (possibly incomplete) JSON arguments fragment during
// streaming, stripping the {"response": " wrapper the model is filling in.
func extractExitToolResponseFragment(fragment string) string {
	trimmed := strings.TrimPrefix(fragment, `{"response":`)
	trimmed = strings.TrimPrefix(trimmed, `{"response": `)
	trimmed = strings.TrimSuffix(trimmed, `}`)
	trimmed = strings.Trim(trimmed, `"`)
	return trimmed
}

var fencedJSONBlock = regexp.MustCompile("(?s)```json\\s*(.+?)\\s*```")

// extractFencedJSON implements the DeepSeek response_out hook: when a text
// block's body is (or contains) a fenced json code block that parses,
// replace the block's text with the extracted JSON string, per spec §4.3.
func extractFencedJSON(resp *types.ClaudeResponse) {
	for i, b := range resp.Content {
		t, ok := b.(block.Text)
		if !ok {
			continue
		}
		match := fencedJSONBlock.FindStringSubmatch(t.Text)
		if match == nil {
			continue
		}
		candidate := strings.TrimSpace(match[1])
		var js interface{}
		if json.Unmarshal([]byte(candidate), &js) != nil {
			continue
		}
		resp.Content[i] = block.Text{Text: candidate}
	}
}

// newOpenRouterTransformer and newReminderTransformer live in their own
// files; exitToolSchema/fencedJSONBlock above are DeepSeek-only helpers.
