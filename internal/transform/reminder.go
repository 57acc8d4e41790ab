package transform

import (
	"context"

	"github.com/ccproxy/ccproxy/internal/config"
	"github.com/ccproxy/ccproxy/internal/types"
)

const toolUseReminderText = "Use the available tools whenever they help answer the request."

// newReminderTransformer is the optional generic tool-use reminder from
// spec §4.3: when any tool is present, inject a one-line system reminder
// encouraging tool use.
func newReminderTransformer(cfg config.TransformerConfig) Transformer {
	text := toolUseReminderText
	if v, ok := cfg.Options["text"].(string); ok && v != "" {
		text = v
	}
	return Transformer{
		Name: "reminder",
		RequestOut: func(_ context.Context, req *types.OpenAIRequest, _ *State) error {
			if len(req.Tools) == 0 {
				return nil
			}
			req.Messages = prependSystemReminder(req.Messages, text)
			return nil
		},
	}
}
