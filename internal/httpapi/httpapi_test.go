package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccproxy/ccproxy/internal/config"
	"github.com/ccproxy/ccproxy/internal/history"
	"github.com/ccproxy/ccproxy/internal/orchestrator"
	"github.com/ccproxy/ccproxy/internal/router"
	"github.com/ccproxy/ccproxy/internal/transform"
	"github.com/ccproxy/ccproxy/internal/types"
	"github.com/ccproxy/ccproxy/internal/upstream"
)

func newTestServer(t *testing.T, upstreamURL, sharedSecret string) *http.Server {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	content := `
[config]
default_small_model = "test:gpt-4o-mini"
shared_secret = "` + sharedSecret + `"

[[provider]]
name = "test"
base_url = "` + upstreamURL + `"
api_key = "k"
provider_type = "openai"
small_models = ["gpt-4o-mini"]
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)

	store, err := history.Open(filepath.Join(dir, "h.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pipeline, err := transform.Build(nil)
	require.NoError(t, err)

	r := router.New(cfg)
	client := upstream.New(upstream.DefaultOptions())
	orch := orchestrator.New(cfg, r, pipeline, client, store)

	return NewServer(&Server{Config: cfg, Router: r, Orchestrator: orch, History: store})
}

func TestHealthReportsConfiguredProvider(t *testing.T) {
	srv := newTestServer(t, "http://unused.invalid", "")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.Handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["openai_api_configured"])
}

func TestMessagesRequiresAuthWhenSecretConfigured(t *testing.T) {
	srv := newTestServer(t, "http://unused.invalid", "s3cret")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{}`))
	srv.Handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMessagesAcceptsBearerToken(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stop := "stop"
		json.NewEncoder(w).Encode(types.OpenAIResponse{
			Choices: []types.OpenAIChoice{{Message: types.OpenAIMessage{Role: "assistant", Content: "hi"}, FinishReason: &stop}},
		})
	}))
	defer upstreamSrv.Close()

	srv := newTestServer(t, upstreamSrv.URL, "s3cret")
	body := `{"model":"claude-3-5-haiku-20241022","max_tokens":32,"messages":[{"role":"user","content":"hello"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer s3cret")
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp types.ClaudeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "end_turn", resp.StopReason)
}

func TestCountTokensSumsTextBlocks(t *testing.T) {
	srv := newTestServer(t, "http://unused.invalid", "")
	body := `{"model":"claude-3-5-haiku-20241022","max_tokens":1,"messages":[{"role":"user","content":"hello world"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages/count_tokens", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Greater(t, out["input_tokens"], 0)
}

func TestConfigGetAndUpdateRoundTrip(t *testing.T) {
	srv := newTestServer(t, "http://unused.invalid", "")

	update := `{"SMALL_MODEL":"test:gpt-4o-mini"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/config/update", strings.NewReader(update))
	srv.Handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/api/config/get", nil)
	srv.Handler.ServeHTTP(w2, req2)
	require.Equal(t, http.StatusOK, w2.Code)

	var out map[string]string
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &out))
	assert.Equal(t, "test:gpt-4o-mini", out["SMALL_MODEL"])
}

func TestConfigUpdateRejectsUnknownModel(t *testing.T) {
	srv := newTestServer(t, "http://unused.invalid", "")
	update := `{"SMALL_MODEL":"test:does-not-exist"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/config/update", strings.NewReader(update))
	srv.Handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHistoryEndpointListsRecordedRequests(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stop := "stop"
		json.NewEncoder(w).Encode(types.OpenAIResponse{
			Choices: []types.OpenAIChoice{{Message: types.OpenAIMessage{Role: "assistant", Content: "hi"}, FinishReason: &stop}},
		})
	}))
	defer upstreamSrv.Close()

	srv := newTestServer(t, upstreamSrv.URL, "")
	body := `{"model":"claude-3-5-haiku-20241022","max_tokens":32,"messages":[{"role":"user","content":"hello"}]}`
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)

	w2 := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/api/history?limit=10", nil))
	require.Equal(t, http.StatusOK, w2.Code)

	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
}

func TestStreamingMessagesRoutingFailureRendersPlainJSONError(t *testing.T) {
	srv := newTestServer(t, "http://unused.invalid", "")
	body := `{"model":"does-not-exist","max_tokens":32,"stream":true,"messages":[{"role":"user","content":"hi"}]}`
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body)))

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.NotEqual(t, "text/event-stream", w.Header().Get("Content-Type"))
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "error", out["type"])
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	srv := newTestServer(t, "http://unused.invalid", "")
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
