// Package transform implements the four-hook transformer pipeline from
// spec §4.3, per the Design Note "Transformer registration -> explicit
// table": transformers are registered in an explicit ordered table keyed
// by name, rather than discovered by import side-effects the way the
// teacher's Harmony correction logic was. Each transformer opts into
// whichever hooks it needs; unset hooks are no-ops.
package transform

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/ccproxy/ccproxy/internal/config"
	"github.com/ccproxy/ccproxy/internal/metrics"
	"github.com/ccproxy/ccproxy/internal/streamconv"
	"github.com/ccproxy/ccproxy/internal/types"
)

// State carries bookkeeping a transformer needs to share across its own
// hooks within one request (for instance, the DeepSeek transformer records
// that the model called the synthetic ExitTool, so later stream chunks of
// that call and the terminal finish_reason are rewritten as well).
type State struct {
	values map[string]interface{}
}

func NewState() *State { return &State{values: make(map[string]interface{})} }

func (s *State) Set(key string, v interface{}) { s.values[key] = v }
func (s *State) Get(key string) (interface{}, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Transformer is one pipeline stage. Every hook is optional; a nil hook is
// skipped.
type Transformer struct {
	Name string

	RequestIn   func(ctx context.Context, req *types.ClaudeRequest, state *State) error
	RequestOut  func(ctx context.Context, req *types.OpenAIRequest, state *State) error
	ResponseIn  func(ctx context.Context, resp *types.OpenAIResponse, state *State) error
	ResponseOut func(ctx context.Context, resp *types.ClaudeResponse, state *State) error

	// StreamChunkIn is the streaming variant of ResponseIn: applied to each
	// raw OpenAI chunk before it reaches the state machine.
	StreamChunkIn func(ctx context.Context, chunk *types.OpenAIStreamChunk, state *State) error
	// StreamEventOut is the streaming variant of ResponseOut: applied to
	// each Claude event as it is emitted.
	StreamEventOut func(ctx context.Context, event streamconv.Event, state *State) (streamconv.Event, error)
}

// Factory builds a Transformer from its configuration table.
type Factory func(cfg config.TransformerConfig) Transformer

var registry = map[string]Factory{
	"deepseek":   newDeepSeekTransformer,
	"openrouter": newOpenRouterTransformer,
	"reminder":   newReminderTransformer,
}

// active is one configured, matchable transformer in the pipeline.
type active struct {
	Transformer
	providers []string
	models    []string
}

// Pipeline holds the ordered, enabled transformers built from configuration.
type Pipeline struct {
	transformers []active
}

// Build constructs a Pipeline from the config file's [transformers.<name>]
// tables, in configuration order, per spec §4.3 ("execution order is
// configuration order").
func Build(cfgs []config.TransformerConfig) (*Pipeline, error) {
	p := &Pipeline{}
	for _, c := range cfgs {
		if !c.Enabled {
			continue
		}
		factory, ok := registry[c.Name]
		if !ok {
			continue // unknown transformer names are tolerated, not fatal
		}
		p.transformers = append(p.transformers, active{
			Transformer: factory(c),
			providers:   c.Providers,
			models:      c.Models,
		})
	}
	return p, nil
}

// Applicable returns the transformers, in pipeline order, whose predicate
// matches (provider, concreteModel), per spec §4.3: provider matches any
// entry in providers[] (case-insensitive exact or glob) and model matches
// any entry in models[] (glob supported, "*" matches all).
func (p *Pipeline) Applicable(provider, concreteModel string) []Transformer {
	var out []Transformer
	for _, t := range p.transformers {
		if matchesAny(t.providers, provider) && matchesAny(t.models, concreteModel) {
			out = append(out, t.Transformer)
		}
	}
	return out
}

func matchesAny(patterns []string, value string) bool {
	if len(patterns) == 0 {
		return false
	}
	for _, pat := range patterns {
		if pat == "*" {
			return true
		}
		if strings.EqualFold(pat, value) {
			return true
		}
		if ok, err := filepath.Match(strings.ToLower(pat), strings.ToLower(value)); err == nil && ok {
			return true
		}
	}
	return false
}

// RunRequestIn runs request_in for every matching transformer, in order.
func RunRequestIn(ctx context.Context, ts []Transformer, req *types.ClaudeRequest, state *State) error {
	for _, t := range ts {
		if t.RequestIn == nil {
			continue
		}
		metrics.TransformerInvocations.WithLabelValues(t.Name, "request_in").Inc()
		if err := t.RequestIn(ctx, req, state); err != nil {
			return err
		}
	}
	return nil
}

// RunRequestOut runs request_out for every matching transformer, in order.
func RunRequestOut(ctx context.Context, ts []Transformer, req *types.OpenAIRequest, state *State) error {
	for _, t := range ts {
		if t.RequestOut == nil {
			continue
		}
		metrics.TransformerInvocations.WithLabelValues(t.Name, "request_out").Inc()
		if err := t.RequestOut(ctx, req, state); err != nil {
			return err
		}
	}
	return nil
}

// RunResponseIn runs response_in for every matching transformer, in order.
func RunResponseIn(ctx context.Context, ts []Transformer, resp *types.OpenAIResponse, state *State) error {
	for _, t := range ts {
		if t.ResponseIn == nil {
			continue
		}
		metrics.TransformerInvocations.WithLabelValues(t.Name, "response_in").Inc()
		if err := t.ResponseIn(ctx, resp, state); err != nil {
			return err
		}
	}
	return nil
}

// RunResponseOut runs response_out for every matching transformer, in order.
func RunResponseOut(ctx context.Context, ts []Transformer, resp *types.ClaudeResponse, state *State) error {
	for _, t := range ts {
		if t.ResponseOut == nil {
			continue
		}
		metrics.TransformerInvocations.WithLabelValues(t.Name, "response_out").Inc()
		if err := t.ResponseOut(ctx, resp, state); err != nil {
			return err
		}
	}
	return nil
}

// RunStreamChunkIn runs the streaming response_in variant for every
// matching transformer, in order.
func RunStreamChunkIn(ctx context.Context, ts []Transformer, chunk *types.OpenAIStreamChunk, state *State) error {
	for _, t := range ts {
		if t.StreamChunkIn == nil {
			continue
		}
		metrics.TransformerInvocations.WithLabelValues(t.Name, "stream_chunk_in").Inc()
		if err := t.StreamChunkIn(ctx, chunk, state); err != nil {
			return err
		}
	}
	return nil
}

// RunStreamEventOut runs the streaming response_out variant for every
// matching transformer, in order, threading the (possibly replaced) event
// through each stage.
func RunStreamEventOut(ctx context.Context, ts []Transformer, event streamconv.Event, state *State) (streamconv.Event, error) {
	for _, t := range ts {
		if t.StreamEventOut == nil {
			continue
		}
		metrics.TransformerInvocations.WithLabelValues(t.Name, "stream_event_out").Inc()
		next, err := t.StreamEventOut(ctx, event, state)
		if err != nil {
			return event, err
		}
		event = next
	}
	return event, nil
}
