// Package httpapi exposes the proxy's HTTP surface from spec §6: the Claude
// wire endpoints it serves to clients, the config-management and
// history/summary endpoints the bundled dashboard consumes, and /metrics.
// Route wiring follows the teacher's flat http.HandleFunc style in main.go,
// generalized to an *http.ServeMux so routes can be unit tested without a
// running process.
package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ccproxy/ccproxy/internal/config"
	"github.com/ccproxy/ccproxy/internal/history"
	"github.com/ccproxy/ccproxy/internal/orchestrator"
	"github.com/ccproxy/ccproxy/internal/router"
)

// Server holds the dependencies every handler needs.
type Server struct {
	Config       *config.Config
	Router       *router.Router
	Orchestrator *orchestrator.Orchestrator
	History      *history.Store
}

// NewServer builds an *http.Server ready to ListenAndServe, wiring every
// route from spec §6 through the request-ID and recover middleware. Only the
// /v1/messages and /v1/messages/count_tokens routes go through the auth
// middleware.
func NewServer(s *Server) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/", handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/v1/messages", requireAuth(s.Config, http.HandlerFunc(s.handleMessages)))
	mux.Handle("/v1/messages/count_tokens", requireAuth(s.Config, http.HandlerFunc(s.handleCountTokens)))
	mux.HandleFunc("/api/config/get", s.handleConfigGet)
	mux.HandleFunc("/api/config/update", s.handleConfigUpdate)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/summary", s.handleSummary)
	mux.Handle("/metrics", promhttp.Handler())

	handler := withRequestID(s.Config, recoverPanic(mux))

	return &http.Server{
		Addr:         ":" + portOrDefault(s.Config.Server.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // long enough for a streamed response
		IdleTimeout:  60 * time.Second,
	}
}

func portOrDefault(port int) string {
	if port == 0 {
		return "8080"
	}
	return strconv.Itoa(port)
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"service":"ccproxy","status":"running"}`))
}
