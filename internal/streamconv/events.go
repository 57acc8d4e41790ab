// Package streamconv implements the OpenAI-stream-to-Claude-SSE-stream
// state machine from spec §4.2.3. It is grounded on
// mihaisavezi-claude-code-open's internal/providers StreamState /
// ContentBlockState pattern, generalized from that teacher's map[string]any
// chunk handling to typed types.OpenAIStreamChunk input and reworked per
// the Design Note "Stream assembly -> builder, not mutable shared
// document": the Machine keeps an append-only log of every event it emits.
// The final assembled Message is built from the per-block state the Machine
// accumulates alongside that log; it is not replayed from the log.
package streamconv

import (
	"encoding/json"
	"fmt"
)

// Event is implemented by every emitted Claude SSE event payload.
type Event interface {
	SSEName() string
}

// Encode renders e as a Claude SSE frame: "event: <name>\ndata: <json>\n\n".
func Encode(e Event) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("streamconv: encoding %s event: %w", e.SSEName(), err)
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", e.SSEName(), data), nil
}

type messageStartMessage struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Role         string        `json:"role"`
	Content      []interface{} `json:"content"`
	Model        string        `json:"model"`
	StopReason   *string       `json:"stop_reason"`
	StopSequence *string       `json:"stop_sequence"`
	Usage        usagePayload  `json:"usage"`
}

type usagePayload struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// MessageStartEvent opens the stream.
type MessageStartEvent struct {
	Type    string               `json:"type"`
	Message messageStartMessage `json:"message"`
}

func (MessageStartEvent) SSEName() string { return "message_start" }

func newMessageStart(id, model string, inputTokens int) MessageStartEvent {
	return MessageStartEvent{
		Type: "message_start",
		Message: messageStartMessage{
			ID:      id,
			Type:    "message",
			Role:    "assistant",
			Content: []interface{}{},
			Model:   model,
			Usage:   usagePayload{InputTokens: inputTokens},
		},
	}
}

type textBlockStart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolUseBlockStart struct {
	Type  string                 `json:"type"`
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// ContentBlockStartEvent opens a new content block at Index.
type ContentBlockStartEvent struct {
	Type         string      `json:"type"`
	Index        int         `json:"index"`
	ContentBlock interface{} `json:"content_block"`
}

func (ContentBlockStartEvent) SSEName() string { return "content_block_start" }

func newTextBlockStart(index int) ContentBlockStartEvent {
	return ContentBlockStartEvent{Type: "content_block_start", Index: index, ContentBlock: textBlockStart{Type: "text", Text: ""}}
}

func newToolUseBlockStart(index int, id, name string) ContentBlockStartEvent {
	return ContentBlockStartEvent{
		Type: "content_block_start", Index: index,
		ContentBlock: toolUseBlockStart{Type: "tool_use", ID: id, Name: name, Input: map[string]interface{}{}},
	}
}

type textDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type inputJSONDelta struct {
	Type        string `json:"type"`
	PartialJSON string `json:"partial_json"`
}

// ContentBlockDeltaEvent carries an incremental fragment for the block at Index.
type ContentBlockDeltaEvent struct {
	Type  string      `json:"type"`
	Index int         `json:"index"`
	Delta interface{} `json:"delta"`
}

func (ContentBlockDeltaEvent) SSEName() string { return "content_block_delta" }

func newTextDelta(index int, text string) ContentBlockDeltaEvent {
	return ContentBlockDeltaEvent{Type: "content_block_delta", Index: index, Delta: textDelta{Type: "text_delta", Text: text}}
}

func newInputJSONDelta(index int, partial string) ContentBlockDeltaEvent {
	return ContentBlockDeltaEvent{Type: "content_block_delta", Index: index, Delta: inputJSONDelta{Type: "input_json_delta", PartialJSON: partial}}
}

// ContentBlockStopEvent closes the block at Index.
type ContentBlockStopEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

func (ContentBlockStopEvent) SSEName() string { return "content_block_stop" }

func newContentBlockStop(index int) ContentBlockStopEvent {
	return ContentBlockStopEvent{Type: "content_block_stop", Index: index}
}

type messageDeltaDelta struct {
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

type messageDeltaUsage struct {
	OutputTokens int `json:"output_tokens"`
}

// MessageDeltaEvent carries the terminal stop reason and output token count.
type MessageDeltaEvent struct {
	Type  string            `json:"type"`
	Delta messageDeltaDelta `json:"delta"`
	Usage messageDeltaUsage `json:"usage"`
}

func (MessageDeltaEvent) SSEName() string { return "message_delta" }

func newMessageDelta(stopReason string, outputTokens int) MessageDeltaEvent {
	return MessageDeltaEvent{Type: "message_delta", Delta: messageDeltaDelta{StopReason: stopReason}, Usage: messageDeltaUsage{OutputTokens: outputTokens}}
}

// MessageStopEvent closes the stream. Every exit path emits exactly one.
type MessageStopEvent struct {
	Type string `json:"type"`
}

func (MessageStopEvent) SSEName() string { return "message_stop" }

func newMessageStop() MessageStopEvent {
	return MessageStopEvent{Type: "message_stop"}
}

// PingEvent is a keepalive with no semantic content.
type PingEvent struct {
	Type string `json:"type"`
}

func (PingEvent) SSEName() string { return "ping" }

// NewPing builds a keepalive ping event.
func NewPing() PingEvent { return PingEvent{Type: "ping"} }

type errorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorEvent surfaces an upstream failure mid-stream, per spec §7.
type ErrorEvent struct {
	Type  string    `json:"type"`
	Error errorBody `json:"error"`
}

func (ErrorEvent) SSEName() string { return "error" }

func newErrorEvent(errType, message string) ErrorEvent {
	return ErrorEvent{Type: "error", Error: errorBody{Type: errType, Message: message}}
}
