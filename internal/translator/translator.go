// Package translator converts between Claude's "messages" wire format and
// the OpenAI-compatible chat-completions format, in both directions, per
// spec §4.2. Message-flattening and tool-call reconstruction are grounded
// on the teacher's proxy/transform.go (TransformAnthropicToOpenAI /
// TransformOpenAIToAnthropic), generalized from the teacher's map-based
// Content onto the block.List tagged union and retargeted at the
// OpenAI-compatible shape instead of Harmony's.
package translator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ccproxy/ccproxy/internal/apperr"
	"github.com/ccproxy/ccproxy/internal/block"
	"github.com/ccproxy/ccproxy/internal/types"
)

// Limits bounds the sampling knobs carried across into the OpenAI request,
// per spec §4.2.1 ("respect a configured max_tokens_limit ceiling and
// min_tokens_limit floor").
type Limits struct {
	MaxTokens int
	MinTokens int
}

func clampTokens(requested int, limits Limits) int {
	n := requested
	if limits.MaxTokens > 0 && n > limits.MaxTokens {
		n = limits.MaxTokens
	}
	if limits.MinTokens > 0 && n < limits.MinTokens {
		n = limits.MinTokens
	}
	return n
}

// ToOpenAIRequest converts a ClaudeRequest into the OpenAI-compatible shape,
// per spec §4.2.1. concreteModel is the resolved upstream model name, not
// the Claude-facing model string in req.
func ToOpenAIRequest(req types.ClaudeRequest, concreteModel string, limits Limits) (types.OpenAIRequest, error) {
	out := types.OpenAIRequest{
		Model:       concreteModel,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
		MaxTokens:   clampTokens(req.MaxTokens, limits),
	}

	if msgs, err := translateSystem(req.System); err != nil {
		return types.OpenAIRequest{}, err
	} else {
		out.Messages = append(out.Messages, msgs...)
	}

	for _, m := range req.Messages {
		converted, err := translateMessage(m)
		if err != nil {
			return types.OpenAIRequest{}, err
		}
		out.Messages = append(out.Messages, converted...)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, types.OpenAITool{
			Type: "function",
			Function: types.OpenAIToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	if req.ToolChoice != nil {
		choice, err := translateToolChoice(*req.ToolChoice)
		if err != nil {
			return types.OpenAIRequest{}, err
		}
		out.ToolChoice = choice
	}

	return out, nil
}

// translateSystem turns Claude's system field into zero or one leading
// "system" messages. cache_control annotations on system blocks are
// intentionally dropped here - they only carry meaning for native
// Anthropic providers, which never call ToOpenAIRequest.
func translateSystem(sys types.SystemField) ([]types.OpenAIMessage, error) {
	if !sys.IsList {
		if sys.Text == "" {
			return nil, nil
		}
		return []types.OpenAIMessage{{Role: "system", Content: sys.Text}}, nil
	}
	var parts []string
	for _, b := range sys.Blocks {
		if b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	if len(parts) == 0 {
		return nil, nil
	}
	return []types.OpenAIMessage{{Role: "system", Content: strings.Join(parts, "\n")}}, nil
}

// translateMessage converts a single Claude message into zero or more
// OpenAI messages. An assistant message with tool_use blocks becomes one
// assistant message carrying tool_calls; a user message with tool_result
// blocks splits into a leading user message (for any remaining text/image
// content) followed by one "tool" message per result, per spec §4.2.1.
func translateMessage(m types.ClaudeMessage) ([]types.OpenAIMessage, error) {
	blocks := m.Content.AsBlocks()

	if m.Role == "assistant" {
		toolUses := blocks.ToolUses()
		if len(toolUses) == 0 {
			return []types.OpenAIMessage{{Role: "assistant", Content: blocks.TextOf()}}, nil
		}
		calls := make([]types.OpenAIToolCall, 0, len(toolUses))
		for i, tu := range toolUses {
			args, err := json.Marshal(tu.Input)
			if err != nil {
				return nil, apperr.Wrap(apperr.KindInvalidRequest, err, "marshaling tool_use input for "+tu.Name)
			}
			calls = append(calls, types.OpenAIToolCall{
				Index:    i,
				ID:       tu.ID,
				Type:     "function",
				Function: types.OpenAIToolCallFunction{Name: tu.Name, Arguments: string(args)},
			})
		}
		return []types.OpenAIMessage{{Role: "assistant", Content: blocks.TextOf(), ToolCalls: calls}}, nil
	}

	toolResults := blocks.ToolResults()
	if len(toolResults) == 0 {
		return []types.OpenAIMessage{{Role: m.Role, Content: renderUserContent(blocks)}}, nil
	}

	var out []types.OpenAIMessage
	if content := renderUserContent(blocks); !isEmptyContent(content) {
		out = append(out, types.OpenAIMessage{Role: m.Role, Content: content})
	}
	for _, tr := range toolResults {
		out = append(out, types.OpenAIMessage{Role: "tool", Content: tr.Content, ToolCallID: tr.ToolUseID})
	}
	return out, nil
}

// renderUserContent builds the OpenAI Content value for a user message's
// text and image blocks, per spec §4.2.1: a plain string when there are no
// images, or a multi-part array with one image_url entry per image block
// otherwise, preserving data URIs and direct URLs alike.
func renderUserContent(blocks block.List) interface{} {
	images := blocks.Images()
	if len(images) == 0 {
		return blocks.TextOf()
	}
	var parts []types.OpenAIContentPart
	if text := blocks.TextOf(); text != "" {
		parts = append(parts, types.OpenAIContentPart{Type: "text", Text: text})
	}
	for _, img := range images {
		parts = append(parts, types.OpenAIContentPart{
			Type:     "image_url",
			ImageURL: &types.OpenAIImageURL{URL: imageURL(img.Source)},
		})
	}
	return parts
}

// imageURL renders a Claude image source as the single URL chat-completions
// expects: the source URL unchanged, or a data: URI reassembled from the
// base64 payload and media type.
func imageURL(src block.ImageSource) string {
	if src.Type == "url" {
		return src.URL
	}
	mediaType := src.MediaType
	if mediaType == "" {
		mediaType = "image/png"
	}
	return "data:" + mediaType + ";base64," + src.Data
}

func isEmptyContent(c interface{}) bool {
	switch v := c.(type) {
	case string:
		return v == ""
	case []types.OpenAIContentPart:
		return len(v) == 0
	default:
		return c == nil
	}
}

// translateToolChoice maps Claude's {auto,any,tool,none} onto OpenAI's
// string/object forms, per spec §4.2.1.
func translateToolChoice(tc types.ToolChoice) (interface{}, error) {
	switch tc.Type {
	case "auto":
		return "auto", nil
	case "any":
		return "required", nil
	case "none":
		return "none", nil
	case "tool":
		if tc.Name == "" {
			return nil, apperr.New(apperr.KindInvalidRequest, "tool_choice type=tool missing name")
		}
		return map[string]interface{}{
			"type":     "function",
			"function": map[string]string{"name": tc.Name},
		}, nil
	default:
		return nil, apperr.New(apperr.KindInvalidRequest, "unknown tool_choice type "+tc.Type)
	}
}

// EstimateTokens is the character-based token heuristic from spec §4.2.2 /
// §4.2.4 and Design Note (i): total characters divided by 4, rounded up.
// The source's exact formula is unspecified; this is the documented choice
// for this implementation.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}

// FromOpenAIResponse converts a complete (non-streaming) OpenAI response
// into a Claude Message, per spec §4.2.2.
func FromOpenAIResponse(resp types.OpenAIResponse, claudeModel string) (types.ClaudeResponse, error) {
	if len(resp.Choices) == 0 {
		return types.ClaudeResponse{}, apperr.New(apperr.KindUpstreamProtocol, "upstream response has no choices")
	}
	choice := resp.Choices[0]

	var content block.List
	if text := choice.Message.ContentText(); text != "" {
		content = append(content, block.Text{Text: text})
	}
	for _, tc := range choice.Message.ToolCalls {
		input, err := parseToolArguments(tc.Function.Arguments)
		if err != nil {
			content = append(content, block.ToolUse{ID: tc.ID, Name: tc.Function.Name, Input: map[string]interface{}{"_raw": tc.Function.Arguments}})
			continue
		}
		content = append(content, block.ToolUse{ID: tc.ID, Name: tc.Function.Name, Input: input})
	}

	stopReason := MapFinishReason(choice.FinishReason)

	inputTokens := resp.Usage.PromptTokens
	outputTokens := resp.Usage.CompletionTokens
	if inputTokens == 0 && outputTokens == 0 {
		outputTokens = EstimateTokens(content.TextOf())
	}

	return types.ClaudeResponse{
		ID:         resp.ID,
		Type:       "message",
		Role:       "assistant",
		Model:      claudeModel,
		Content:    content,
		StopReason: stopReason,
		Usage: types.Usage{
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
		},
	}, nil
}

func parseToolArguments(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return map[string]interface{}{}, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("translator: parsing tool arguments: %w", err)
	}
	return m, nil
}

// MapFinishReason implements the finish_reason -> stop_reason table from
// spec §4.2.2, shared with the streaming state machine's terminal
// message_delta.
func MapFinishReason(reason *string) string {
	if reason == nil {
		return "end_turn"
	}
	switch *reason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	case "content_filter":
		return "end_turn"
	default:
		return "end_turn"
	}
}
