package streamconv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccproxy/ccproxy/internal/block"
	"github.com/ccproxy/ccproxy/internal/types"
)

func strPtr(s string) *string { return &s }

func TestStreamTextOnlyProducesExpectedEventSequence(t *testing.T) {
	m := NewMachine("msg_1", "claude-3-5-haiku-20241022")
	var names []string
	for _, ev := range m.Start() {
		names = append(names, ev.SSEName())
	}
	for _, ev := range m.Ingest(types.OpenAIStreamChunk{Choices: []types.OpenAIStreamChoice{{Delta: types.OpenAIStreamDelta{Content: "Hi "}}}}) {
		names = append(names, ev.SSEName())
	}
	for _, ev := range m.Ingest(types.OpenAIStreamChunk{Choices: []types.OpenAIStreamChoice{{Delta: types.OpenAIStreamDelta{Content: "there"}}}}) {
		names = append(names, ev.SSEName())
	}
	for _, ev := range m.Ingest(types.OpenAIStreamChunk{Choices: []types.OpenAIStreamChoice{{FinishReason: strPtr("stop")}}}) {
		names = append(names, ev.SSEName())
	}

	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, names)

	resp := m.Assemble()
	assert.Equal(t, "end_turn", resp.StopReason)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, block.Text{Text: "Hi there"}, resp.Content[0])
}

func TestStreamEndsWithExactlyOneMessageStop(t *testing.T) {
	m := NewMachine("msg_1", "m")
	m.Start()
	m.Ingest(types.OpenAIStreamChunk{Choices: []types.OpenAIStreamChoice{{Delta: types.OpenAIStreamDelta{Content: "x"}}}})
	m.Ingest(types.OpenAIStreamChunk{Choices: []types.OpenAIStreamChoice{{FinishReason: strPtr("stop")}}})

	stops := 0
	for _, ev := range m.EventLog() {
		if ev.SSEName() == "message_stop" {
			stops++
		}
	}
	assert.Equal(t, 1, stops)
	assert.True(t, m.Done())
}

func TestToolCallOpensFreshBlockAndClosesOpenTextFirst(t *testing.T) {
	m := NewMachine("msg_1", "m")
	m.Start()
	m.Ingest(types.OpenAIStreamChunk{Choices: []types.OpenAIStreamChoice{{Delta: types.OpenAIStreamDelta{Content: "thinking..."}}}})

	events := m.Ingest(types.OpenAIStreamChunk{Choices: []types.OpenAIStreamChoice{{Delta: types.OpenAIStreamDelta{
		ToolCalls: []types.OpenAIToolCall{{Index: 0, ID: "call_1", Type: "function", Function: types.OpenAIToolCallFunction{Name: "get_weather"}}},
	}}}})

	var names []string
	for _, ev := range events {
		names = append(names, ev.SSEName())
	}
	assert.Equal(t, []string{"content_block_stop", "content_block_start"}, names)

	m.Ingest(types.OpenAIStreamChunk{Choices: []types.OpenAIStreamChoice{{Delta: types.OpenAIStreamDelta{
		ToolCalls: []types.OpenAIToolCall{{Index: 0, Function: types.OpenAIToolCallFunction{Arguments: `{"city":`}}},
	}}}})
	m.Ingest(types.OpenAIStreamChunk{Choices: []types.OpenAIStreamChoice{{Delta: types.OpenAIStreamDelta{
		ToolCalls: []types.OpenAIToolCall{{Index: 0, Function: types.OpenAIToolCallFunction{Arguments: `"Paris"}`}}},
	}}}})
	m.Ingest(types.OpenAIStreamChunk{Choices: []types.OpenAIStreamChoice{{FinishReason: strPtr("tool_calls")}}})

	resp := m.Assemble()
	assert.Equal(t, "tool_use", resp.StopReason)
	require.Len(t, resp.Content, 2)
	assert.Equal(t, block.Text{Text: "thinking..."}, resp.Content[0])
	tu, ok := resp.Content[1].(block.ToolUse)
	require.True(t, ok)
	assert.Equal(t, "call_1", tu.ID)
	assert.Equal(t, "get_weather", tu.Name)
	assert.Equal(t, "Paris", tu.Input["city"])
}

func TestConcurrentToolCallIndicesTrackedIndependently(t *testing.T) {
	m := NewMachine("msg_1", "m")
	m.Start()
	m.Ingest(types.OpenAIStreamChunk{Choices: []types.OpenAIStreamChoice{{Delta: types.OpenAIStreamDelta{
		ToolCalls: []types.OpenAIToolCall{{Index: 0, ID: "call_a", Function: types.OpenAIToolCallFunction{Name: "a"}}},
	}}}})
	m.Ingest(types.OpenAIStreamChunk{Choices: []types.OpenAIStreamChoice{{Delta: types.OpenAIStreamDelta{
		ToolCalls: []types.OpenAIToolCall{{Index: 0, Function: types.OpenAIToolCallFunction{Arguments: `{}`}}},
	}}}})
	// a second tool call with a distinct index does not reuse block 0's slot
	events := m.Ingest(types.OpenAIStreamChunk{Choices: []types.OpenAIStreamChoice{{Delta: types.OpenAIStreamDelta{
		ToolCalls: []types.OpenAIToolCall{{Index: 1, ID: "call_b", Function: types.OpenAIToolCallFunction{Name: "b"}}},
	}}}})
	require.Len(t, events, 2) // close of call_a's block, open of call_b's block
	assert.Equal(t, "content_block_stop", events[0].SSEName())
	assert.Equal(t, "content_block_start", events[1].SSEName())

	m.Ingest(types.OpenAIStreamChunk{Choices: []types.OpenAIStreamChoice{{FinishReason: strPtr("tool_calls")}}})
	resp := m.Assemble()
	require.Len(t, resp.Content, 2)
	assert.Equal(t, "call_a", resp.Content[0].(block.ToolUse).ID)
	assert.Equal(t, "call_b", resp.Content[1].(block.ToolUse).ID)
}

func TestFinalizeErrorEmitsErrorThenMessageDeltaThenStop(t *testing.T) {
	m := NewMachine("msg_1", "m")
	m.Start()
	m.Ingest(types.OpenAIStreamChunk{Choices: []types.OpenAIStreamChoice{{Delta: types.OpenAIStreamDelta{Content: "partial"}}}})

	events := m.FinalizeError(assertAppErr())
	var names []string
	for _, ev := range events {
		names = append(names, ev.SSEName())
	}
	assert.Equal(t, []string{"content_block_stop", "error", "message_delta", "message_stop"}, names)
	assert.Equal(t, "error", m.StopReason())
	assert.True(t, m.Done())

	// idempotent: a second call after Done is a no-op
	assert.Nil(t, m.FinalizeError(assertAppErr()))
}

func TestPingEventEncodesAsKeepaliveFrame(t *testing.T) {
	frame, err := Encode(NewPing())
	require.NoError(t, err)
	assert.Equal(t, "event: ping\ndata: {\"type\":\"ping\"}\n\n", frame)
}

func assertAppErr() error {
	return fmtErr("upstream_transport: connection reset")
}

type testErr string

func (e testErr) Error() string { return string(e) }

func fmtErr(s string) error { return testErr(s) }
