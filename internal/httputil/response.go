// Package httputil holds the JSON helpers shared by handlers and middleware,
// and a small client for the HTTP API.
package httputil

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/R3E-Network/store_rating/internal/errors"
	"github.com/R3E-Network/store_rating/pkg/logger"
)

// MaxBodyBytes caps decoded request bodies.
const MaxBodyBytes = 1 << 20

// ErrorBody is the JSON envelope of every failed response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failure.
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON writes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError renders err as an ErrorBody. Errors without a kind become
// internal errors; their cause is logged and never sent.
func WriteError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	se := errors.GetServiceError(err)
	if se == nil {
		se = errors.Internal("", err)
	}
	if se.Kind == errors.KindInternal && log != nil {
		entry := log.WithError(err).WithField("method", r.Method).WithField("path", r.URL.Path)
		if traceID := w.Header().Get(TraceHeader); traceID != "" {
			entry = entry.WithField("trace_id", traceID)
		}
		entry.Error("request failed")
	}
	WriteJSON(w, se.HTTPStatus, ErrorBody{Error: ErrorDetail{
		Code:    string(se.Code),
		Message: se.Message,
		Details: se.Details,
	}})
}

// TraceHeader carries the request trace id.
const TraceHeader = "X-Trace-ID"

// DecodeJSON decodes the request body into dst, rejecting unknown fields,
// trailing data and oversized bodies with a validation error.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return errors.Validation("Content-Type must be application/json", nil)
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case stderrors.Is(err, io.EOF):
			return errors.Validation("request body is required", nil)
		case stderrors.As(err, &maxErr):
			return errors.Validation(fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit), nil)
		default:
			return errors.Validation("malformed JSON body", map[string]string{"body": err.Error()})
		}
	}
	if dec.More() {
		return errors.Validation("request body must contain a single JSON object", nil)
	}
	return nil
}
