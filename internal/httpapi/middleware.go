package httpapi

import (
	"net/http"
	"strings"

	"github.com/ccproxy/ccproxy/internal/apperr"
	"github.com/ccproxy/ccproxy/internal/config"
	"github.com/ccproxy/ccproxy/internal/logging"
	"github.com/ccproxy/ccproxy/internal/reqctx"
)

// withRequestID assigns every inbound request a short ID (the client's own
// x-request-id if present, otherwise a generated one) and attaches a
// request-scoped logger, the way the teacher threads a request ID from its
// HTTP handler down to every downstream call.
func withRequestID(cfg *config.Config, next http.Handler) http.Handler {
	base := logging.NewBase(levelFromString(cfg.Server.LogLevel), cfg.Server.MaskSecretsInLogs)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("x-request-id")
		if id == "" {
			id = reqctx.NewRequestID()
		}
		ctx := reqctx.WithRequestID(r.Context(), id)
		ctx = logging.WithContext(ctx, logging.New(ctx, base))
		w.Header().Set("x-request-id", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recoverPanic turns a panicking handler into a 500 instead of killing the
// server, mirroring the defensive posture of the teacher's long-running
// proxy process.
func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.FromContext(r.Context()).Error("panic handling request: %v", rec)
				writeAppError(w, apperr.New(apperr.KindInternal, "internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requireAuth enforces the shared-secret bearer token from spec §6, when
// one is configured. With no shared secret configured, every client is
// accepted (the teacher's default posture for local development).
func requireAuth(cfg *config.Config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := cfg.Server.SharedSecret
		if secret == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := bearerToken(r)
		if token == "" {
			token = r.Header.Get("x-api-key")
		}
		if token != secret {
			writeAppError(w, apperr.New(apperr.KindUnauthorized, "invalid or missing credentials"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func levelFromString(s string) logging.Level {
	switch strings.ToLower(s) {
	case "debug":
		return logging.DebugLevel
	case "warn", "warning":
		return logging.WarnLevel
	case "error":
		return logging.ErrorLevel
	default:
		return logging.InfoLevel
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// writeAppError writes err as the Claude-shaped error body from spec §7,
// at the status its apperr.Kind maps to.
func writeAppError(w http.ResponseWriter, err error) {
	body, status := apperr.AsClaudeBody(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
