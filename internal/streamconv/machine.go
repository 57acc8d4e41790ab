package streamconv

import (
	"encoding/json"
	"strings"

	"github.com/ccproxy/ccproxy/internal/apperr"
	"github.com/ccproxy/ccproxy/internal/block"
	"github.com/ccproxy/ccproxy/internal/translator"
	"github.com/ccproxy/ccproxy/internal/types"
)

// State is one of the machine's lifecycle states from spec §4.2.3.
type State int

const (
	Idle State = iota
	HeaderSent
	Open
	Finalizing
	Done
)

type openBlock struct {
	index       int
	kind        block.Kind
	toolIndex   int // OpenAI tool_calls[] array index, for tool_use blocks
	toolID      string
	toolName    string
	text        strings.Builder
	args        strings.Builder
}

// Machine converts a sequence of OpenAI streaming chunks into the Claude SSE
// event sequence, tracking enough state to assemble the final Message at
// the end. One Machine serves exactly one request.
type Machine struct {
	messageID string
	model     string
	state     State

	nextIndex int
	open      *openBlock
	closed    []*openBlock
	byToolIdx map[int]*openBlock

	sawUsage     bool
	inputTokens  int
	outputTokens int
	stopReason   string

	log []Event
}

// NewMachine creates a Machine for one streaming request.
func NewMachine(messageID, model string) *Machine {
	return &Machine{
		messageID: messageID,
		model:     model,
		byToolIdx: make(map[int]*openBlock),
	}
}

func (m *Machine) record(events ...Event) []Event {
	m.log = append(m.log, events...)
	return events
}

// Start emits message_start and transitions Idle -> HeaderSent.
func (m *Machine) Start() []Event {
	m.state = HeaderSent
	return m.record(newMessageStart(m.messageID, m.model, m.inputTokens))
}

// EventLog returns every event emitted so far, in emission order.
func (m *Machine) EventLog() []Event {
	out := make([]Event, len(m.log))
	copy(out, m.log)
	return out
}

// Ingest processes one OpenAI stream chunk and returns the Claude events it
// produces, in emission order. A chunk with no choices (a usage-only final
// chunk some providers send) only updates token accounting.
func (m *Machine) Ingest(chunk types.OpenAIStreamChunk) []Event {
	if chunk.Usage != nil {
		m.recordUsage(*chunk.Usage)
	}
	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]

	var events []Event
	if choice.Delta.Content != "" {
		events = append(events, m.emitText(choice.Delta.Content)...)
	}
	for _, tc := range choice.Delta.ToolCalls {
		events = append(events, m.emitToolDelta(tc)...)
	}
	if choice.FinishReason != nil {
		events = append(events, m.finalizeNormal(*choice.FinishReason)...)
	}
	return m.record(events...)
}

func (m *Machine) recordUsage(u types.OpenAIUsage) {
	if u.PromptTokens != 0 {
		m.inputTokens = u.PromptTokens
		m.sawUsage = true
	}
	if u.CompletionTokens != 0 {
		m.outputTokens = u.CompletionTokens
		m.sawUsage = true
	}
}

func (m *Machine) emitText(content string) []Event {
	var events []Event
	if m.open == nil {
		events = append(events, m.openText())
	} else if m.open.kind != block.KindText {
		events = append(events, m.closeOpen())
		events = append(events, m.openText())
	}
	m.open.text.WriteString(content)
	events = append(events, newTextDelta(m.open.index, content))
	if !m.sawUsage {
		m.outputTokens += translator.EstimateTokens(content)
	}
	m.state = Open
	return events
}

func (m *Machine) openText() Event {
	idx := m.nextIndex
	m.nextIndex++
	m.open = &openBlock{index: idx, kind: block.KindText}
	return newTextBlockStart(idx)
}

func (m *Machine) emitToolDelta(tc types.OpenAIToolCall) []Event {
	var events []Event
	ob, seen := m.byToolIdx[tc.Index]
	if !seen {
		if m.open != nil {
			events = append(events, m.closeOpen())
		}
		idx := m.nextIndex
		m.nextIndex++
		ob = &openBlock{index: idx, kind: block.KindToolUse, toolIndex: tc.Index, toolID: tc.ID, toolName: tc.Function.Name}
		m.byToolIdx[tc.Index] = ob
		m.open = ob
		events = append(events, newToolUseBlockStart(idx, tc.ID, tc.Function.Name))
		m.state = Open
	}
	if tc.ID != "" && ob.toolID == "" {
		ob.toolID = tc.ID
	}
	if tc.Function.Name != "" && ob.toolName == "" {
		ob.toolName = tc.Function.Name
	}
	if tc.Function.Arguments != "" {
		ob.args.WriteString(tc.Function.Arguments)
		events = append(events, newInputJSONDelta(ob.index, tc.Function.Arguments))
		if !m.sawUsage {
			m.outputTokens += translator.EstimateTokens(tc.Function.Arguments)
		}
	}
	return events
}

func (m *Machine) closeOpen() Event {
	ev := newContentBlockStop(m.open.index)
	m.closed = append(m.closed, m.open)
	m.open = nil
	return ev
}

func (m *Machine) finalizeNormal(reason string) []Event {
	var events []Event
	if m.open != nil {
		events = append(events, m.closeOpen())
	}
	m.stopReason = translator.MapFinishReason(&reason)
	events = append(events, newMessageDelta(m.stopReason, m.outputTokens))
	events = append(events, newMessageStop())
	m.state = Done
	return events
}

// FinalizeError closes any open block and emits the terminal error sequence
// from spec §7: an error event, then message_delta(stop_reason="error"),
// then message_stop. Safe to call at most once; a second call is a no-op.
func (m *Machine) FinalizeError(err error) []Event {
	if m.state == Done {
		return nil
	}
	var events []Event
	if m.open != nil {
		events = append(events, m.closeOpen())
	}
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.New(apperr.KindInternal, err.Error())
	}
	events = append(events, newErrorEvent(string(appErr.Kind), appErr.Message))
	m.stopReason = "error"
	events = append(events, newMessageDelta(m.stopReason, m.outputTokens))
	events = append(events, newMessageStop())
	m.state = Done
	return m.record(events...)
}

// StopReason returns the terminal stop reason once the machine has reached
// Done, or "" beforehand.
func (m *Machine) StopReason() string { return m.stopReason }

// Done reports whether the machine has reached its terminal state.
func (m *Machine) Done() bool { return m.state == Done }

// Assemble derives the final Claude Message from the accumulated block
// state, per the Design Note "Stream assembly -> builder, not mutable
// shared document": this is computed from the Machine's own state, not
// replayed from the event log, but it reflects exactly what the log
// already describes.
func (m *Machine) Assemble() types.ClaudeResponse {
	ordered := append([]*openBlock{}, m.closed...)
	if m.open != nil {
		ordered = append(ordered, m.open)
	}

	content := make(block.List, 0, len(ordered))
	for _, ob := range ordered {
		switch ob.kind {
		case block.KindText:
			content = append(content, block.Text{Text: ob.text.String()})
		case block.KindToolUse:
			input, err := parseArguments(ob.args.String())
			if err != nil {
				input = map[string]interface{}{"_raw": ob.args.String()}
			}
			content = append(content, block.ToolUse{ID: ob.toolID, Name: ob.toolName, Input: input})
		}
	}

	return types.ClaudeResponse{
		ID:         m.messageID,
		Type:       "message",
		Role:       "assistant",
		Model:      m.model,
		Content:    content,
		StopReason: m.stopReason,
		Usage:      types.Usage{InputTokens: m.inputTokens, OutputTokens: m.outputTokens},
	}
}

func parseArguments(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return map[string]interface{}{}, nil
	}
	var m map[string]interface{}
	err := json.Unmarshal([]byte(raw), &m)
	return m, err
}
