// Package types holds the wire-format structs for both protocols the proxy
// speaks: Claude's native "messages" format and the OpenAI-compatible chat
// completions format. Structure and field names are grounded on the
// teacher's types/anthropic.go and types/openai.go, generalized from a bare
// map-based Content type to the block.List tagged union.
package types

import (
	"encoding/json"

	"github.com/ccproxy/ccproxy/internal/block"
)

// ClaudeRequest is the inbound POST /v1/messages body.
type ClaudeRequest struct {
	Model         string          `json:"model"`
	MaxTokens     int             `json:"max_tokens"`
	Messages      []ClaudeMessage `json:"messages"`
	System        SystemField     `json:"system,omitempty"`
	Tools         []ClaudeTool    `json:"tools,omitempty"`
	ToolChoice    *ToolChoice     `json:"tool_choice,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Thinking      json.RawMessage `json:"thinking,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// ClaudeMessage is one turn of the conversation. Content is either a bare
// string or a block.List; MessageContent.UnmarshalJSON handles both shapes.
type ClaudeMessage struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent wraps Claude's "content is a string or a block list"
// ambiguity behind a single type so downstream code never type-switches.
type MessageContent struct {
	Text   string
	Blocks block.List
	IsList bool
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.IsList {
		return c.Blocks.MarshalJSON()
	}
	return json.Marshal(c.Text)
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		c.Text, c.IsList = asString, false
		return nil
	}
	var asList block.List
	if err := asList.UnmarshalJSON(data); err != nil {
		return err
	}
	c.Blocks, c.IsList = asList, true
	return nil
}

// AsBlocks normalizes plain-string content into a one-element Text block
// list, so callers always iterate a block.List.
func (c MessageContent) AsBlocks() block.List {
	if c.IsList {
		return c.Blocks
	}
	if c.Text == "" {
		return nil
	}
	return block.List{block.Text{Text: c.Text}}
}

// SystemField is Claude's system prompt, either a bare string or a list of
// system content blocks (each carrying an optional cache_control).
type SystemField struct {
	Text   string
	Blocks []SystemBlock
	IsList bool
}

type SystemBlock struct {
	Type         string          `json:"type"`
	Text         string          `json:"text"`
	CacheControl json.RawMessage `json:"cache_control,omitempty"`
}

func (s SystemField) MarshalJSON() ([]byte, error) {
	if s.IsList {
		return json.Marshal(s.Blocks)
	}
	return json.Marshal(s.Text)
}

func (s *SystemField) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		s.Text, s.IsList = asString, false
		return nil
	}
	var asList []SystemBlock
	if err := json.Unmarshal(data, &asList); err != nil {
		return err
	}
	s.Blocks, s.IsList = asList, true
	return nil
}

// ClaudeTool is a tool definition with its JSON schema carried verbatim.
type ClaudeTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolChoice mirrors Claude's {"type": "auto"|"any"|"tool"|"none", "name": "..."}.
type ToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// ClaudeResponse is the assembled non-streaming Message response.
type ClaudeResponse struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	Role         string     `json:"role"`
	Model        string     `json:"model"`
	Content      block.List `json:"content"`
	StopReason   string     `json:"stop_reason"`
	StopSequence *string    `json:"stop_sequence"`
	Usage        Usage      `json:"usage"`
}

// Usage carries Claude's token accounting fields.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}
