package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error is a failure carrying the HTTP status to answer with. Handlers
// return it; the router turns it into a text/plain response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(status int, format string, args ...any) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

func badRequest(format string, args ...any) *Error {
	return newError(http.StatusBadRequest, format, args...)
}

func notFound(format string, args ...any) *Error {
	return newError(http.StatusNotFound, format, args...)
}

func unsupportedMediaType(contentType string) *Error {
	return newError(http.StatusUnsupportedMediaType, "No supported content Content-Type given: %s", contentType)
}

var errReadOnly = &Error{Status: http.StatusForbidden, Message: "The server is read-only"}

// handlerFunc is an HTTP handler that reports failures by returning them.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// handle adapts h to http.HandlerFunc. An *Error becomes its status and
// message; any other error is logged and answered with 500.
func (s *Server) handle(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}
		var apiErr *Error
		if !errors.As(err, &apiErr) {
			s.logger.Error("internal server error",
				"error", err,
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", r.Context().Value(ctxKeyRequestID),
			)
			apiErr = &Error{Status: http.StatusInternalServerError, Message: err.Error()}
		}
		writeError(w, apiErr)
	}
}

// writeError writes a plain-text error response.
func writeError(w http.ResponseWriter, e *Error) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(e.Status)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	w.Write([]byte(e.Message))
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}
