// Package orchestrator wires the router, translator, transformer
// pipeline, upstream client, and history store together into the single
// request lifecycle from spec §4.5. Per the Design Note "Global
// configuration -> passed context", it threads an explicit *Orchestrator
// through its methods rather than reaching for package-level singletons
// the way the teacher's config/logger packages do.
package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ccproxy/ccproxy/internal/apperr"
	"github.com/ccproxy/ccproxy/internal/config"
	"github.com/ccproxy/ccproxy/internal/history"
	"github.com/ccproxy/ccproxy/internal/logging"
	"github.com/ccproxy/ccproxy/internal/metrics"
	"github.com/ccproxy/ccproxy/internal/reqctx"
	"github.com/ccproxy/ccproxy/internal/router"
	"github.com/ccproxy/ccproxy/internal/streamconv"
	"github.com/ccproxy/ccproxy/internal/transform"
	"github.com/ccproxy/ccproxy/internal/translator"
	"github.com/ccproxy/ccproxy/internal/types"
	"github.com/ccproxy/ccproxy/internal/upstream"
)

// Orchestrator runs one request's full lifecycle: routing, translation,
// transformer hooks, upstream dispatch, and history recording.
type Orchestrator struct {
	Config     *config.Config
	Router     *router.Router
	Pipeline   *transform.Pipeline
	Upstream   *upstream.Client
	History    *history.Store
}

func New(cfg *config.Config, r *router.Router, pipeline *transform.Pipeline, client *upstream.Client, store *history.Store) *Orchestrator {
	return &Orchestrator{Config: cfg, Router: r, Pipeline: pipeline, Upstream: client, History: store}
}

// routed holds everything resolved before dispatch.
type routed struct {
	rowID         int64
	resolution    router.Resolution
	transformers  []transform.Transformer
	state         *transform.State
	nativeBody    []byte              // set when provider is native Anthropic
	openaiReq     types.OpenAIRequest // set when provider is openai-compatible
	isNative      bool
}

// route performs steps 2-6 of spec §4.5: insert the pending row, resolve
// the model, run request_in, and (for openai-compatible providers)
// translate and run request_out.
func (o *Orchestrator) route(ctx context.Context, req *types.ClaudeRequest, rawBody []byte) (*routed, error) {
	rowID, err := o.History.InsertPending(ctx, history.PendingRow{
		ClaimedModel: req.Model,
		IsStreaming:  req.Stream,
		RequestJSON:  string(rawBody),
	})
	if err != nil {
		return nil, err
	}

	resolution, err := o.Router.Resolve(req.Model)
	if err != nil {
		_ = o.History.Complete(ctx, rowID, history.Completion{Status: "error", Error: err.Error()})
		return nil, err
	}

	transformers := o.Pipeline.Applicable(resolution.Provider.Name, resolution.ConcreteModel)
	state := transform.NewState()

	if err := transform.RunRequestIn(ctx, transformers, req, state); err != nil {
		_ = o.History.Complete(ctx, rowID, history.Completion{Status: "error", Error: err.Error()})
		return nil, err
	}

	r := &routed{rowID: rowID, resolution: resolution, transformers: transformers, state: state}

	if resolution.Provider.ProviderType == config.ProviderAnthropic {
		r.isNative = true
		if len(transformers) == 0 {
			r.nativeBody = rawBody
		} else {
			body, err := json.Marshal(req)
			if err != nil {
				_ = o.History.Complete(ctx, rowID, history.Completion{Status: "error", Error: err.Error()})
				return nil, apperr.Wrap(apperr.KindInvalidRequest, err, "re-marshaling transformed request")
			}
			r.nativeBody = body
		}
		if err := o.History.SetRouted(ctx, rowID, resolution.Provider.Name, resolution.ConcreteModel, ""); err != nil {
			return nil, err
		}
		return r, nil
	}

	limits := translator.Limits{MaxTokens: o.Config.Server.MaxTokensLimit, MinTokens: o.Config.Server.MinTokensLimit}
	openaiReq, err := translator.ToOpenAIRequest(*req, resolution.ConcreteModel, limits)
	if err != nil {
		_ = o.History.Complete(ctx, rowID, history.Completion{Status: "error", Error: err.Error()})
		return nil, err
	}
	if err := transform.RunRequestOut(ctx, transformers, &openaiReq, state); err != nil {
		_ = o.History.Complete(ctx, rowID, history.Completion{Status: "error", Error: err.Error()})
		return nil, err
	}
	r.openaiReq = openaiReq

	openaiReqJSON, _ := json.Marshal(openaiReq)
	if err := o.History.SetRouted(ctx, rowID, resolution.Provider.Name, resolution.ConcreteModel, string(openaiReqJSON)); err != nil {
		return nil, err
	}
	return r, nil
}

// Handle runs the complete non-streaming request lifecycle from spec §4.5.
func (o *Orchestrator) Handle(ctx context.Context, req types.ClaudeRequest, rawBody []byte) (types.ClaudeResponse, error) {
	log := logging.FromContext(ctx).WithField("request_id", reqctx.RequestID(ctx))

	start := time.Now()
	status := "error"
	defer func() {
		metrics.RequestsTotal.WithLabelValues(req.Model, status).Inc()
		metrics.RequestDuration.WithLabelValues(req.Model, "false").Observe(time.Since(start).Seconds())
	}()

	r, err := o.route(ctx, &req, rawBody)
	if err != nil {
		return types.ClaudeResponse{}, err
	}

	var claudeResp types.ClaudeResponse
	if r.isNative {
		body, err := o.Upstream.SendAnthropicPassthrough(ctx, r.resolution.Provider, r.nativeBody)
		if err != nil {
			o.recordFailure(ctx, r.rowID, err)
			return types.ClaudeResponse{}, err
		}
		if err := json.Unmarshal(body, &claudeResp); err != nil {
			wrapped := apperr.Wrap(apperr.KindUpstreamProtocol, err, "decoding native upstream response")
			o.recordFailure(ctx, r.rowID, wrapped)
			return types.ClaudeResponse{}, wrapped
		}
	} else {
		openaiResp, err := o.Upstream.Send(ctx, r.resolution.Provider, r.openaiReq)
		if err != nil {
			o.recordFailure(ctx, r.rowID, err)
			return types.ClaudeResponse{}, err
		}
		if err := transform.RunResponseIn(ctx, r.transformers, &openaiResp, r.state); err != nil {
			o.recordFailure(ctx, r.rowID, err)
			return types.ClaudeResponse{}, err
		}
		claudeResp, err = translator.FromOpenAIResponse(openaiResp, req.Model)
		if err != nil {
			o.recordFailure(ctx, r.rowID, err)
			return types.ClaudeResponse{}, err
		}
	}

	if err := transform.RunResponseOut(ctx, r.transformers, &claudeResp, r.state); err != nil {
		o.recordFailure(ctx, r.rowID, err)
		return types.ClaudeResponse{}, err
	}

	respJSON, _ := json.Marshal(claudeResp)
	if err := o.History.Complete(ctx, r.rowID, history.Completion{
		Status: "completed", InputTokens: claudeResp.Usage.InputTokens, OutputTokens: claudeResp.Usage.OutputTokens,
		StopReason: claudeResp.StopReason, ResponseJSON: string(respJSON),
	}); err != nil {
		log.Warn("recording completed history row: %v", err)
	}
	status = "completed"
	metrics.TokensTotal.WithLabelValues(req.Model, "input").Add(float64(claudeResp.Usage.InputTokens))
	metrics.TokensTotal.WithLabelValues(req.Model, "output").Add(float64(claudeResp.Usage.OutputTokens))
	return claudeResp, nil
}

func (o *Orchestrator) recordFailure(ctx context.Context, rowID int64, err error) {
	_ = o.History.Complete(ctx, rowID, history.Completion{Status: "error", Error: err.Error()})
}

// EventSink receives each Claude SSE event as the streaming state machine
// produces it, already passed through response_out.
type EventSink func(streamconv.Event) error

// StreamSession is a routed streaming request, ready to dispatch to the
// upstream. Splitting routing (PrepareStream) from dispatch (RunStream)
// lets a caller commit to a streaming HTTP response only once routing has
// actually succeeded, per spec §7: "streaming errors that occur before the
// first byte behave as non-streaming errors."
type StreamSession struct {
	r        *routed
	model    string
	routedAt time.Time
}

// PrepareStream runs steps 2-6 of spec §4.5 (insert pending row, resolve
// model, request_in, translate, request_out) without touching the
// upstream. Callers should render a PrepareStream error exactly like a
// non-streaming error (status code + JSON body) since no SSE byte has been
// written yet; only once PrepareStream succeeds is it safe to commit
// streaming response headers and call RunStream.
func (o *Orchestrator) PrepareStream(ctx context.Context, req types.ClaudeRequest, rawBody []byte) (*StreamSession, error) {
	start := time.Now()
	r, err := o.route(ctx, &req, rawBody)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(req.Model, "error").Inc()
		metrics.RequestDuration.WithLabelValues(req.Model, "true").Observe(time.Since(start).Seconds())
		return nil, err
	}
	return &StreamSession{r: r, model: req.Model, routedAt: start}, nil
}

// RunStream dispatches a prepared session to the upstream and delivers
// events to sink in emission order until a terminal event. It returns once
// the stream has reached a terminal event (success or error); sink errors
// (for instance a client disconnect) abort the stream and mark the history
// row partial.
func (o *Orchestrator) RunStream(ctx context.Context, session *StreamSession, sink EventSink) error {
	status := "error"
	defer func() {
		metrics.RequestsTotal.WithLabelValues(session.model, status).Inc()
		metrics.RequestDuration.WithLabelValues(session.model, "true").Observe(time.Since(session.routedAt).Seconds())
	}()

	r := session.r
	var err error
	if r.isNative {
		err = o.streamNative(ctx, r, sink)
	} else {
		err = o.streamOpenAI(ctx, r, session.model, sink)
	}
	if err == nil {
		status = "completed"
	}
	return err
}

// HandleStream runs the complete streaming request lifecycle from spec
// §4.5 and §4.2.3 in one call, for callers (tests, native CLI use) that
// don't need to gate header commit on routing success separately. HTTP
// serving should prefer PrepareStream+RunStream instead; see streamMessages.
func (o *Orchestrator) HandleStream(ctx context.Context, req types.ClaudeRequest, rawBody []byte, sink EventSink) error {
	session, err := o.PrepareStream(ctx, req, rawBody)
	if err != nil {
		return err
	}
	return o.RunStream(ctx, session, sink)
}

// keepaliveInterval is how long streamOpenAI waits without an upstream
// chunk before emitting a ping event, per spec §6's ping event, so a slow
// completion doesn't trip an idle timeout on the client or an intermediate
// proxy.
const keepaliveInterval = 15 * time.Second

func (o *Orchestrator) streamOpenAI(ctx context.Context, r *routed, claudeModel string, sink EventSink) error {
	results, err := o.Upstream.Stream(ctx, r.resolution.Provider, r.openaiReq)
	if err != nil {
		o.recordFailure(ctx, r.rowID, err)
		return err
	}

	machine := streamconv.NewMachine(reqctx.NewRequestID(), claudeModel)
	delivered := false
	emit := func(events []streamconv.Event) error {
		for _, ev := range events {
			out, err := transform.RunStreamEventOut(ctx, r.transformers, ev, r.state)
			if err != nil {
				return err
			}
			if err := sink(out); err != nil {
				return err
			}
			delivered = true
		}
		return nil
	}

	if err := emit(machine.Start()); err != nil {
		return o.abortStream(ctx, r, machine, delivered, err, emit)
	}

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

readLoop:
	for {
		select {
		case res, ok := <-results:
			if !ok {
				break readLoop
			}
			if res.Err != nil {
				return o.abortStream(ctx, r, machine, delivered, res.Err, emit)
			}
			if res.Done {
				break readLoop
			}
			chunk := res.Chunk
			if err := transform.RunStreamChunkIn(ctx, r.transformers, &chunk, r.state); err != nil {
				return o.abortStream(ctx, r, machine, delivered, err, emit)
			}
			if err := emit(machine.Ingest(chunk)); err != nil {
				return o.abortStream(ctx, r, machine, delivered, err, emit)
			}
		case <-ticker.C:
			if err := emit([]streamconv.Event{streamconv.NewPing()}); err != nil {
				return o.abortStream(ctx, r, machine, delivered, err, emit)
			}
		}
	}

	if !machine.Done() {
		// upstream closed without a finish_reason chunk; treat as a clean stop.
		stop := "stop"
		if err := emit(machine.Ingest(types.OpenAIStreamChunk{Choices: []types.OpenAIStreamChoice{{FinishReason: &stop}}})); err != nil {
			return o.abortStream(ctx, r, machine, delivered, err, emit)
		}
	}

	return o.completeStream(ctx, r.rowID, machine, claudeModel)
}

func (o *Orchestrator) streamNative(ctx context.Context, r *routed, sink EventSink) error {
	frames, err := o.Upstream.StreamAnthropicPassthrough(ctx, r.resolution.Provider, r.nativeBody)
	if err != nil {
		o.recordFailure(ctx, r.rowID, err)
		return err
	}
	// Native passthrough relays the upstream's own SSE framing verbatim; it
	// carries no structured Event to run response_out against, per the
	// simplification recorded in the design notes for scenario E5.
	for f := range frames {
		if f.Err != nil {
			_ = o.History.Complete(ctx, r.rowID, history.Completion{Status: "partial", Error: f.Err.Error()})
			return f.Err
		}
		if err := sink(rawFrameEvent(f.Data)); err != nil {
			_ = o.History.Complete(ctx, r.rowID, history.Completion{Status: "partial", Error: err.Error()})
			return err
		}
	}
	return o.History.Complete(ctx, r.rowID, history.Completion{Status: "completed"})
}

// abortStream finalizes the machine's terminal error sequence and delivers
// it through emit so the client still sees a well-formed error event,
// message_delta, and message_stop rather than a stream that simply dies.
// Delivery is best-effort: a second failure while emitting the error
// sequence is swallowed since the stream is already being torn down.
func (o *Orchestrator) abortStream(ctx context.Context, r *routed, machine *streamconv.Machine, delivered bool, cause error, emit func([]streamconv.Event) error) error {
	status := "error"
	if delivered {
		status = "partial"
	}
	_ = emit(machine.FinalizeError(cause))
	_ = o.History.Complete(ctx, r.rowID, history.Completion{Status: status, StopReason: "error", Error: cause.Error()})
	return cause
}

func (o *Orchestrator) completeStream(ctx context.Context, rowID int64, machine *streamconv.Machine, claudeModel string) error {
	resp := machine.Assemble()
	respJSON, _ := json.Marshal(resp)
	metrics.TokensTotal.WithLabelValues(claudeModel, "input").Add(float64(resp.Usage.InputTokens))
	metrics.TokensTotal.WithLabelValues(claudeModel, "output").Add(float64(resp.Usage.OutputTokens))
	return o.History.Complete(ctx, rowID, history.Completion{
		Status: "completed", InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens,
		StopReason: resp.StopReason, ResponseJSON: string(respJSON),
	})
}

// rawFrameEvent wraps a verbatim native SSE frame as an opaque Event for
// the httpapi layer's sink, which writes RawEvent frames straight through
// without re-encoding them.
type RawEvent struct {
	Frame []byte
}

func (RawEvent) SSEName() string { return "raw" }

func rawFrameEvent(data []byte) streamconv.Event { return RawEvent{Frame: data} }
