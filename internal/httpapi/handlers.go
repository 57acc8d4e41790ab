package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ccproxy/ccproxy/internal/apperr"
	"github.com/ccproxy/ccproxy/internal/block"
	"github.com/ccproxy/ccproxy/internal/config"
	"github.com/ccproxy/ccproxy/internal/history"
	"github.com/ccproxy/ccproxy/internal/logging"
	"github.com/ccproxy/ccproxy/internal/orchestrator"
	"github.com/ccproxy/ccproxy/internal/reqctx"
	"github.com/ccproxy/ccproxy/internal/streamconv"
	"github.com/ccproxy/ccproxy/internal/translator"
	"github.com/ccproxy/ccproxy/internal/types"
)

// handleMessages serves POST /v1/messages, dispatching to the streaming or
// non-streaming orchestrator path per spec §4.5 step 1 and §7.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAppError(w, apperr.New(apperr.KindInvalidRequest, "method not allowed"))
		return
	}

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		writeAppError(w, apperr.Wrap(apperr.KindInvalidRequest, err, "reading request body"))
		return
	}

	var req types.ClaudeRequest
	if err := json.Unmarshal(rawBody, &req); err != nil {
		writeAppError(w, apperr.Wrap(apperr.KindInvalidRequest, err, "parsing request body"))
		return
	}

	ctx := r.Context()
	log := logging.FromContext(ctx).WithField("request_id", reqctx.RequestID(ctx)).WithModel(req.Model)

	if req.Stream {
		s.streamMessages(w, r, req, rawBody, log)
		return
	}

	resp, err := s.Orchestrator.Handle(ctx, req, rawBody)
	if err != nil {
		log.Warn("request failed: %v", err)
		writeAppError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// streamMessages routes the request before committing any SSE bytes, per
// spec §7: a routing/translation failure must render as a plain JSON error
// at the proper status, not as a 200 with an empty event-stream body. Only
// once PrepareStream succeeds do we write the streaming headers and start
// dispatching to the upstream.
func (s *Server) streamMessages(w http.ResponseWriter, r *http.Request, req types.ClaudeRequest, rawBody []byte, log logging.Logger) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAppError(w, apperr.New(apperr.KindInternal, "streaming unsupported by this response writer"))
		return
	}

	session, err := s.Orchestrator.PrepareStream(r.Context(), req, rawBody)
	if err != nil {
		log.Warn("stream routing failed: %v", err)
		writeAppError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sink := func(ev streamconv.Event) error {
		if raw, ok := ev.(orchestrator.RawEvent); ok {
			if _, err := w.Write(raw.Frame); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		}
		frame, err := streamconv.Encode(ev)
		if err != nil {
			return err
		}
		if _, err := w.Write([]byte(frame)); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := s.Orchestrator.RunStream(r.Context(), session, sink); err != nil {
		log.Warn("stream ended with error: %v", err)
	}
}

// handleCountTokens serves POST /v1/messages/count_tokens: a character-based
// heuristic token estimate over the whole conversation, per spec §4.2.1's
// EstimateTokens formula.
func (s *Server) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAppError(w, apperr.New(apperr.KindInvalidRequest, "method not allowed"))
		return
	}
	var req types.ClaudeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppError(w, apperr.Wrap(apperr.KindInvalidRequest, err, "parsing request body"))
		return
	}

	var sb strings.Builder
	sb.WriteString(req.System.Text)
	for _, sys := range req.System.Blocks {
		sb.WriteString(sys.Text)
	}
	for _, msg := range req.Messages {
		for _, b := range msg.Content.AsBlocks() {
			if text, ok := b.(block.Text); ok {
				sb.WriteString(text.Text)
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"input_tokens": translator.EstimateTokens(sb.String())})
}

// handleHealth serves GET /health, per spec §6: liveness plus whether at
// least one provider is configured with a resolvable API key.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	configured := len(s.Config.Providers) > 0
	valid := false
	for _, p := range s.Config.Providers {
		if p.ResolvedAPIKey() != "" {
			valid = true
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":                       "ok",
		"openai_api_configured":        configured,
		"api_key_valid":                valid,
		"client_api_key_validation":    s.Config.Server.SharedSecret != "",
	})
}

// selectionUpdate is the subset-of-tiers body accepted by /api/config/update.
type selectionUpdate struct {
	BigModel    *string `json:"BIG_MODEL,omitempty"`
	MiddleModel *string `json:"MIDDLE_MODEL,omitempty"`
	SmallModel  *string `json:"SMALL_MODEL,omitempty"`
}

// handleConfigGet serves GET /api/config/get: the three tiers' current
// selections, per spec §6.
func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"BIG_MODEL":    s.Config.CurrentSelection(config.TierBig),
		"MIDDLE_MODEL": s.Config.CurrentSelection(config.TierMiddle),
		"SMALL_MODEL":  s.Config.CurrentSelection(config.TierSmall),
	})
}

// handleConfigUpdate serves POST /api/config/update: validates and installs
// a new current selection per tier, persisting it through the history
// store's config table so it survives a restart, per spec §4.1 and §6.
func (s *Server) handleConfigUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAppError(w, apperr.New(apperr.KindInvalidRequest, "method not allowed"))
		return
	}
	var body selectionUpdate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAppError(w, apperr.Wrap(apperr.KindInvalidRequest, err, "parsing request body"))
		return
	}

	ctx := r.Context()
	updates := []struct {
		tier  config.Tier
		key   string
		value *string
	}{
		{config.TierBig, "BIG_MODEL", body.BigModel},
		{config.TierMiddle, "MIDDLE_MODEL", body.MiddleModel},
		{config.TierSmall, "SMALL_MODEL", body.SmallModel},
	}

	for _, u := range updates {
		if u.value == nil {
			continue
		}
		if _, err := s.Router.SetSelection(u.tier, *u.value); err != nil {
			writeAppError(w, err)
			return
		}
		if err := s.History.SetConfig(ctx, u.key, *u.value); err != nil {
			writeAppError(w, apperr.Wrap(apperr.KindInternal, err, "persisting selection"))
			return
		}
	}

	s.handleConfigGet(w, r)
}

// handleHistory serves GET /api/history, per spec §6.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	f := history.Filter{Limit: 50}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Limit = n
		}
	}
	f.Date = q.Get("date")
	if v := q.Get("hour"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Hour = n
			f.HasHour = true
		}
	}

	rows, err := s.History.List(r.Context(), f)
	if err != nil {
		writeAppError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rows)
}

// handleSummary serves GET /api/summary, per spec §6.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	summaries, err := s.History.Summary(r.Context(), q.Get("start_date"), q.Get("end_date"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summaries)
}
