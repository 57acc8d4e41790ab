package upstream

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/ccproxy/ccproxy/internal/apperr"
	"github.com/ccproxy/ccproxy/internal/config"
)

// SendAnthropicPassthrough forwards body (the original, untranslated Claude
// request) to a native-Anthropic provider unchanged except for endpoint
// and auth rewriting, per spec §4.4 / §4.5 step 4. Returns the raw
// response body for a non-streaming call.
func (c *Client) SendAnthropicPassthrough(ctx context.Context, provider config.Provider, body []byte) ([]byte, error) {
	httpReq, err := newAnthropicRequest(ctx, provider, body)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.Wrap(apperr.KindUpstreamTimeout, err, "upstream request timed out")
		}
		return nil, apperr.Wrap(apperr.KindUpstreamTransport, err, "connecting to upstream")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamTransport, err, "reading upstream response body")
	}
	if resp.StatusCode >= 400 {
		return nil, classifyPassthroughStatus(resp.StatusCode)
	}
	return data, nil
}

// StreamAnthropicPassthrough forwards body and relays the upstream SSE
// stream byte-for-byte, one raw event frame per channel value, without
// re-deriving it from a state machine, per spec scenario E5. The
// orchestrator hands each frame to its sink unchanged; frames are not
// passed through the response_out hook.
func (c *Client) StreamAnthropicPassthrough(ctx context.Context, provider config.Provider, body []byte) (<-chan RawFrame, error) {
	httpReq, err := newAnthropicRequest(ctx, provider, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.Wrap(apperr.KindUpstreamTimeout, err, "upstream stream request timed out")
		}
		return nil, apperr.Wrap(apperr.KindUpstreamTransport, err, "connecting to upstream")
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, classifyPassthroughStatus(resp.StatusCode)
	}

	out := make(chan RawFrame)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		reader := bufio.NewReader(resp.Body)
		var frame bytes.Buffer
		for {
			line, err := reader.ReadString('\n')
			frame.WriteString(line)
			if line == "\n" || line == "\r\n" {
				out <- RawFrame{Data: append([]byte(nil), frame.Bytes()...)}
				frame.Reset()
			}
			if err != nil {
				if err != io.EOF {
					out <- RawFrame{Err: apperr.Wrap(apperr.KindUpstreamTransport, err, "reading upstream stream")}
				}
				return
			}
		}
	}()
	return out, nil
}

// RawFrame is one unparsed SSE frame (or a terminal error) forwarded
// verbatim from a native-Anthropic upstream.
type RawFrame struct {
	Data []byte
	Err  error
}

func newAnthropicRequest(ctx context.Context, provider config.Provider, body []byte) (*http.Request, error) {
	endpoint := provider.BaseURL + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamTransport, err, "building upstream request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", provider.ResolvedAPIKey())
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	return httpReq, nil
}

func classifyPassthroughStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return apperr.New(apperr.KindUpstreamRateLimit, "upstream rate limited")
	case status == 401 || status == 403:
		return apperr.New(apperr.KindUpstreamAuth, "upstream rejected credentials")
	case status >= 500:
		return apperr.New(apperr.KindUpstreamTransport, "upstream returned a server error")
	default:
		return apperr.New(apperr.KindUpstreamProtocol, "upstream rejected request")
	}
}
