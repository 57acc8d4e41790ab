// Package block models Claude's open content-block union as a Go tagged
// sum type, per the Design Note "Dynamic block typing → tagged variants":
// the translator switches on Kind() instead of probing a
// map[string]interface{} for optional keys.
package block

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the content block variants.
type Kind string

const (
	KindText       Kind = "text"
	KindImage      Kind = "image"
	KindToolUse    Kind = "tool_use"
	KindToolResult Kind = "tool_result"
	KindThinking   Kind = "thinking"
)

// Block is implemented by every content-block variant.
type Block interface {
	Kind() Kind
}

// Text is a plain text content block.
type Text struct {
	Text string
}

func (Text) Kind() Kind { return KindText }

// ImageSource distinguishes a base64 data URI from a direct URL image
// reference, both of which Claude accepts for image blocks.
type ImageSource struct {
	Type      string // "base64" or "url"
	MediaType string
	Data      string // base64 payload, when Type == "base64"
	URL       string // direct URL, when Type == "url"
}

// Image is an image content block.
type Image struct {
	Source ImageSource
}

func (Image) Kind() Kind { return KindImage }

// ToolUse is a tool invocation emitted by the assistant.
type ToolUse struct {
	ID    string
	Name  string
	Input map[string]interface{}
}

func (ToolUse) Kind() Kind { return KindToolUse }

// ToolResult is the caller's reply to a prior ToolUse, referenced by ID.
type ToolResult struct {
	ToolUseID string
	Content   string
	IsError   bool
}

func (ToolResult) Kind() Kind { return KindToolResult }

// Thinking is an extended-thinking block.
type Thinking struct {
	Text string
}

func (Thinking) Kind() Kind { return KindThinking }

// List is a JSON-(un)marshalable slice of Block, dispatching on the "type"
// discriminator field the way Claude's wire format does.
type List []Block

func (l List) MarshalJSON() ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(l))
	for _, b := range l {
		data, err := marshalOne(b)
		if err != nil {
			return nil, err
		}
		raw = append(raw, data)
	}
	return json.Marshal(raw)
}

func (l *List) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(List, 0, len(raw))
	for _, r := range raw {
		b, err := unmarshalOne(r)
		if err != nil {
			return err
		}
		out = append(out, b)
	}
	*l = out
	return nil
}

type wireBlock struct {
	Type      string                 `json:"type"`
	Text      string                 `json:"text,omitempty"`
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Input     map[string]interface{} `json:"input,omitempty"`
	ToolUseID string                 `json:"tool_use_id,omitempty"`
	Content   string                 `json:"content,omitempty"`
	IsError   bool                   `json:"is_error,omitempty"`
	Source    *wireImageSource       `json:"source,omitempty"`
}

type wireImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

func marshalOne(b Block) (json.RawMessage, error) {
	w := wireBlock{Type: string(b.Kind())}
	switch v := b.(type) {
	case Text:
		w.Text = v.Text
	case Image:
		w.Source = &wireImageSource{Type: v.Source.Type, MediaType: v.Source.MediaType, Data: v.Source.Data, URL: v.Source.URL}
	case ToolUse:
		w.ID, w.Name, w.Input = v.ID, v.Name, v.Input
	case ToolResult:
		w.ToolUseID, w.Content, w.IsError = v.ToolUseID, v.Content, v.IsError
	case Thinking:
		w.Text = v.Text
	default:
		return nil, fmt.Errorf("block: unknown variant %T", b)
	}
	return json.Marshal(w)
}

func unmarshalOne(data json.RawMessage) (Block, error) {
	var w wireBlock
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	switch Kind(w.Type) {
	case KindText:
		return Text{Text: w.Text}, nil
	case KindImage:
		if w.Source == nil {
			return Image{}, nil
		}
		return Image{Source: ImageSource{Type: w.Source.Type, MediaType: w.Source.MediaType, Data: w.Source.Data, URL: w.Source.URL}}, nil
	case KindToolUse:
		return ToolUse{ID: w.ID, Name: w.Name, Input: w.Input}, nil
	case KindToolResult:
		return ToolResult{ToolUseID: w.ToolUseID, Content: w.Content, IsError: w.IsError}, nil
	case KindThinking:
		return Thinking{Text: w.Text}, nil
	default:
		return nil, fmt.Errorf("block: unknown type %q", w.Type)
	}
}

// TextOf joins every Text block in l with newlines, the way the translator
// flattens Claude's content list into a single OpenAI message string.
func (l List) TextOf() string {
	var out string
	for _, b := range l {
		if t, ok := b.(Text); ok {
			if out != "" {
				out += "\n"
			}
			out += t.Text
		}
	}
	return out
}

// Images returns every Image block in l, in order.
func (l List) Images() []Image {
	var out []Image
	for _, b := range l {
		if img, ok := b.(Image); ok {
			out = append(out, img)
		}
	}
	return out
}

// ToolUses returns every ToolUse block in l, in order.
func (l List) ToolUses() []ToolUse {
	var out []ToolUse
	for _, b := range l {
		if t, ok := b.(ToolUse); ok {
			out = append(out, t)
		}
	}
	return out
}

// ToolResults returns every ToolResult block in l, in order.
func (l List) ToolResults() []ToolResult {
	var out []ToolResult
	for _, b := range l {
		if t, ok := b.(ToolResult); ok {
			out = append(out, t)
		}
	}
	return out
}
