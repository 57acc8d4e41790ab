package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ccproxy/ccproxy/internal/apperr"
	"github.com/ccproxy/ccproxy/internal/config"
	"github.com/ccproxy/ccproxy/internal/metrics"
	"github.com/ccproxy/ccproxy/internal/types"
)

// StreamResult is one decoded SSE chunk, a terminal error, or the end-of-
// stream marker. Each value carries exactly one of Chunk, Err or Done;
// after an Err or Done value the channel is closed.
type StreamResult struct {
	Chunk types.OpenAIStreamChunk
	Err   error
	Done  bool
}

// Stream opens a streaming OpenAI-compatible chat completion and yields
// decoded chunks until the upstream sends "[DONE]" or the connection
// fails. No retry is attempted once the first byte has been read, per
// spec §4.4 ("nor partial streams after the first byte").
func (c *Client) Stream(ctx context.Context, provider config.Provider, req types.OpenAIRequest) (<-chan StreamResult, error) {
	req.Stream = true
	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidRequest, err, "marshaling upstream request")
	}

	endpoint := provider.BaseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamTransport, err, "building upstream request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+provider.ResolvedAPIKey())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues(provider.Name, "error").Inc()
		if ctx.Err() != nil {
			return nil, apperr.Wrap(apperr.KindUpstreamTimeout, err, "upstream stream request timed out")
		}
		return nil, apperr.Wrap(apperr.KindUpstreamTransport, err, "connecting to upstream")
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		metrics.UpstreamRequestsTotal.WithLabelValues(provider.Name, "error").Inc()
		return nil, classifyStreamOpenError(resp)
	}
	metrics.UpstreamRequestsTotal.WithLabelValues(provider.Name, "success").Inc()

	out := make(chan StreamResult)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				out <- StreamResult{Done: true}
				return
			}
			if payload == "" {
				continue
			}
			var chunk types.OpenAIStreamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				out <- StreamResult{Err: apperr.Wrap(apperr.KindUpstreamProtocol, err, "malformed stream chunk")}
				return
			}
			out <- StreamResult{Chunk: chunk}
		}
		if err := scanner.Err(); err != nil {
			out <- StreamResult{Err: apperr.Wrap(apperr.KindUpstreamTransport, err, "reading upstream stream")}
			return
		}
		out <- StreamResult{Done: true}
	}()

	return out, nil
}

func classifyStreamOpenError(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperr.New(apperr.KindUpstreamRateLimit, "upstream rate limited")
	case resp.StatusCode == 401 || resp.StatusCode == 403:
		return apperr.New(apperr.KindUpstreamAuth, "upstream rejected credentials")
	case resp.StatusCode >= 500:
		return apperr.New(apperr.KindUpstreamTransport, "upstream returned a server error opening stream")
	default:
		return apperr.New(apperr.KindUpstreamProtocol, "upstream rejected stream request")
	}
}
