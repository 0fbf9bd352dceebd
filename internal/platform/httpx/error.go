// Package httpx writes the JSON error envelope every endpoint shares.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/clinic-commerce/internal/platform/requestctx"
)

const (
	maxCodeLength    = 80
	maxMessageLength = 512
)

// Error is an API failure: a stable machine code, a human message and the HTTP status.
type Error struct {
	Code    string
	Message string
	Status  int
	// Fields lists per-field problems, such as validation failures or short stock lines.
	Fields any
}

// NewError builds an Error. A zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clean(code, maxCodeLength),
		Message: clean(message, maxMessageLength),
		Status:  status,
	}
}

// WithFields attaches per-field problems.
func (e Error) WithFields(fields any) Error {
	e.Fields = fields
	return e
}

func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

type envelope struct {
	Code      string `json:"error"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
	Fields    any    `json:"fields,omitempty"`
}

// WriteError writes e as JSON, stamped with the request and trace ids found on ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, e Error) {
	if e.Status == 0 {
		e.Status = http.StatusInternalServerError
	}
	body := envelope{
		Code:      e.Code,
		Message:   e.Message,
		Status:    e.Status,
		RequestID: clean(middleware.GetReqID(ctx), maxCodeLength),
		TraceID:   clean(requestctx.TraceID(ctx), 64),
		Fields:    e.Fields,
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(body)
}

// clean keeps header-unsafe characters out of the envelope and bounds its length.
func clean(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
