// Package upstream dispatches translated requests to provider endpoints,
// per spec §4.4. HTTP client construction and header setup follow the
// teacher's proxy/handler.go proxyToProviderEndpoint; the retry/backoff
// arithmetic is adapted from circuitbreaker/breaker.go's exponential
// backoff (repurposed here for per-request retries rather than
// multi-endpoint health tracking, which spec.md names as a Non-goal).
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ccproxy/ccproxy/internal/apperr"
	"github.com/ccproxy/ccproxy/internal/config"
	"github.com/ccproxy/ccproxy/internal/metrics"
	"github.com/ccproxy/ccproxy/internal/types"
)

// Options configures a Client's timeouts and retry behavior.
type Options struct {
	Timeout    time.Duration
	RetryBudget int
}

func DefaultOptions() Options {
	return Options{Timeout: 90 * time.Second, RetryBudget: 2}
}

// Client dispatches OpenAI-compatible and native-Anthropic upstream calls.
type Client struct {
	http *http.Client
	opts Options
}

func New(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	return &Client{
		http: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			},
		},
		opts: opts,
	}
}

// backoffDelay is adapted from the teacher's circuitbreaker backoff but
// grows linearly: base * attempt, capped at a maximum.
func backoffDelay(attempt int) time.Duration {
	const base = 200 * time.Millisecond
	const max = 5 * time.Second
	d := base * time.Duration(attempt)
	if d > max {
		return max
	}
	return d
}

func isRetryableStatus(status int) bool {
	if status == 408 || status == 425 || status == 429 {
		return true
	}
	return status >= 500
}

// Send issues a non-streaming OpenAI-compatible chat completion, retrying
// connect/timeout failures and retryable HTTP statuses up to the retry
// budget, per spec §4.4. It honors a single Retry-After wait on 429.
func (c *Client) Send(ctx context.Context, provider config.Provider, req types.OpenAIRequest) (types.OpenAIResponse, error) {
	req.Stream = false
	body, err := json.Marshal(req)
	if err != nil {
		return types.OpenAIResponse{}, apperr.Wrap(apperr.KindInvalidRequest, err, "marshaling upstream request")
	}

	outcome := "error"
	defer func() { metrics.UpstreamRequestsTotal.WithLabelValues(provider.Name, outcome).Inc() }()

	var lastErr error
	retriedAfter429 := false
	for attempt := 0; attempt <= c.opts.RetryBudget; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoffDelay(attempt)):
			case <-ctx.Done():
				return types.OpenAIResponse{}, apperr.Wrap(apperr.KindUpstreamTimeout, ctx.Err(), "upstream request canceled during backoff")
			}
		}

		resp, retryAfter, err := c.doOnce(ctx, provider, body)
		if err == nil {
			var out types.OpenAIResponse
			if decodeErr := json.Unmarshal(resp, &out); decodeErr != nil {
				return types.OpenAIResponse{}, apperr.Wrap(apperr.KindUpstreamProtocol, decodeErr, "decoding upstream response")
			}
			outcome = "success"
			return out, nil
		}

		lastErr = err
		appErr, ok := apperr.As(err)
		if !ok {
			return types.OpenAIResponse{}, err
		}
		if appErr.Kind == apperr.KindUpstreamRateLimit && !retriedAfter429 && retryAfter > 0 {
			retriedAfter429 = true
			select {
			case <-time.After(retryAfter):
			case <-ctx.Done():
				return types.OpenAIResponse{}, apperr.Wrap(apperr.KindUpstreamTimeout, ctx.Err(), "upstream request canceled honoring retry-after")
			}
			continue
		}
		if !isRetryableKind(appErr.Kind) || attempt == c.opts.RetryBudget {
			return types.OpenAIResponse{}, err
		}
	}
	return types.OpenAIResponse{}, lastErr
}

func isRetryableKind(k apperr.Kind) bool {
	switch k {
	case apperr.KindUpstreamTimeout, apperr.KindUpstreamTransport, apperr.KindUpstreamRateLimit:
		return true
	default:
		return false
	}
}

// doOnce performs a single HTTP round trip, classifying the failure into
// the apperr taxonomy from spec §7.
func (c *Client) doOnce(ctx context.Context, provider config.Provider, body []byte) ([]byte, time.Duration, error) {
	endpoint := provider.BaseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.KindUpstreamTransport, err, "building upstream request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+provider.ResolvedAPIKey())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, apperr.Wrap(apperr.KindUpstreamTimeout, err, "upstream request timed out")
		}
		return nil, 0, apperr.Wrap(apperr.KindUpstreamTransport, err, "connecting to upstream")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.KindUpstreamTransport, err, "reading upstream response body")
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, parseRetryAfter(resp.Header.Get("Retry-After")), apperr.New(apperr.KindUpstreamRateLimit, "upstream rate limited")
	}
	if resp.StatusCode == 401 || resp.StatusCode == 403 {
		return nil, 0, apperr.New(apperr.KindUpstreamAuth, "upstream rejected credentials")
	}
	if resp.StatusCode >= 400 {
		if isRetryableStatus(resp.StatusCode) {
			return nil, 0, apperr.New(apperr.KindUpstreamTransport, fmt.Sprintf("upstream returned status %d", resp.StatusCode))
		}
		return nil, 0, apperr.New(apperr.KindUpstreamProtocol, fmt.Sprintf("upstream returned status %d", resp.StatusCode))
	}

	return data, 0, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(header); err == nil {
		return time.Until(when)
	}
	return 0
}
