// Package apperr replaces the teacher's bare fmt.Errorf error handling with
// typed errors, per the Design Note "Exceptions as control flow → typed
// errors": every failure path the orchestrator and streaming terminator
// need to branch on is a concrete Kind with a fixed HTTP status, not a
// string match against an error message.
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy from the error-handling design.
type Kind string

const (
	KindInvalidRequest    Kind = "invalid_request"
	KindUnauthorized      Kind = "unauthorized"
	KindUnknownModel      Kind = "unknown_model"
	KindNoProvider        Kind = "no_provider"
	KindUpstreamTimeout   Kind = "upstream_timeout"
	KindUpstreamTransport Kind = "upstream_transport"
	KindUpstreamProtocol  Kind = "upstream_protocol"
	KindUpstreamAuth      Kind = "upstream_auth"
	KindUpstreamRateLimit Kind = "upstream_rate_limited"
	KindInternal          Kind = "internal_error"
)

// httpStatus is the fixed mapping from Kind to HTTP status from spec §7.
var httpStatus = map[Kind]int{
	KindInvalidRequest:    400,
	KindUnauthorized:      401,
	KindUnknownModel:      404,
	KindNoProvider:        404,
	KindUpstreamTimeout:   504,
	KindUpstreamTransport: 502,
	KindUpstreamProtocol:  502,
	KindUpstreamAuth:      502,
	KindUpstreamRateLimit: 429,
	KindInternal:          500,
}

// claudeErrorType is the Kind -> Claude-shaped error.error.type mapping used
// by AsClaudeBody.
var claudeErrorType = map[Kind]string{
	KindInvalidRequest:    "invalid_request_error",
	KindUnauthorized:      "authentication_error",
	KindUnknownModel:      "not_found_error",
	KindNoProvider:        "not_found_error",
	KindUpstreamTimeout:   "timeout_error",
	KindUpstreamTransport: "api_error",
	KindUpstreamProtocol:  "api_error",
	KindUpstreamAuth:      "api_error",
	KindUpstreamRateLimit: "rate_limit_error",
	KindInternal:          "api_error",
}

// Error is the single error type the proxy's internal APIs return. Callers
// branch on Kind rather than inspecting the message string.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus returns the status code this error maps to.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return 500
}

// As retrieves the *Error embedded in err, if any.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// ClaudeBody is the wire shape of a Claude-style error response.
type ClaudeBody struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// AsClaudeBody renders err as the Claude-shaped error body from spec §7,
// defaulting unknown error kinds to an internal api_error.
func AsClaudeBody(err error) ([]byte, int) {
	appErr, ok := As(err)
	if !ok {
		appErr = New(KindInternal, err.Error())
	}
	body := ClaudeBody{Type: "error"}
	body.Error.Type = claudeErrorType[appErr.Kind]
	if body.Error.Type == "" {
		body.Error.Type = "api_error"
	}
	body.Error.Message = appErr.Message
	data, _ := json.Marshal(body)
	return data, appErr.HTTPStatus()
}
