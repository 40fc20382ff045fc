// Package httpjson carries the JSON request/response conventions shared by
// every tally HTTP surface: one error envelope, one decoder policy, and the
// mapping from operr kinds to status codes.
package httpjson

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"tally/cmd/internal/operr"
)

// APIError is the wire form of a single error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the envelope every non-2xx body uses.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// WriteJSON writes v with status. Responses are personalized (tokens, user
// data), so caching is disabled across the board.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the error envelope with status.
func WriteError(w http.ResponseWriter, status int, code, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: APIError{Code: code, Message: msg}})
}

// WriteOpError maps err's operr kind to a status code and writes the envelope.
//
// The mapping is the one contract tests rely on:
//
//	invalid input      -> 400 invalid_request (message kept; it is validation detail)
//	not authenticated  -> 401 not_authenticated (always the same generic message)
//	forbidden          -> 403 forbidden
//	not found          -> 404 not_found
//	conflict           -> 409 conflict
//	rate limited       -> 429 rate_limited + Retry-After header
//	anything else      -> 500 server_error (detail goes to the log, never the body)
func WriteOpError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case operr.IsInvalidInput(err):
		WriteError(w, http.StatusBadRequest, "invalid_request", publicMessage(err, "invalid request"))
	case operr.IsNotAuthenticated(err):
		WriteError(w, http.StatusUnauthorized, "not_authenticated", "authentication required")
	case operr.IsForbidden(err):
		WriteError(w, http.StatusForbidden, "forbidden", "forbidden")
	case operr.IsNotFound(err):
		WriteError(w, http.StatusNotFound, "not_found", publicMessage(err, "not found"))
	case operr.IsConflict(err):
		WriteError(w, http.StatusConflict, "conflict", publicMessage(err, "conflict"))
	case operr.IsRateLimited(err):
		var rl operr.RateLimitedError
		if errors.As(err, &rl) && rl.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSeconds(rl), 10))
		}
		WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
	default:
		if logger != nil {
			logger.Error("http.server_error", "err", err)
		}
		WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

// publicMessage extracts a client-safe message for the 4xx kinds. Only the
// typed operr messages are trusted on the wire; anything else falls back.
func publicMessage(err error, fallback string) string {
	var op operr.OpError
	if errors.As(err, &op) && op.Msg != "" {
		return op.Msg
	}
	var nf operr.NotFoundError
	if errors.As(err, &nf) && nf.Resource != "" {
		return nf.Resource + " not found"
	}
	var cf operr.ConflictError
	if errors.As(err, &cf) && cf.Field != "" {
		return cf.Field + " already in use"
	}
	return fallback
}

// retryAfterSeconds rounds the retry hint up so a client honoring the header
// never retries inside the same window.
func retryAfterSeconds(rl operr.RateLimitedError) int64 {
	secs := int64(rl.RetryAfter.Seconds())
	if rl.RetryAfter > 0 && rl.RetryAfter%1e9 != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}

// DecodeJSON decodes one JSON value from the request body into dst.
// Unknown fields, oversized bodies, and trailing data are all rejected.
func DecodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Ensure there is no extra data after the first JSON value.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}
