package web

// errors.go provides unified error response handling for the web layer.
//
// Every error leaves the server as JSON:
//   - the technical error is logged with the request ID for correlation
//   - the client receives the user-facing message, action and code from
//     core.MapError, never the raw error text
//   - the status code is derived from the error type by statusFor

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/csvimport/internal/core"
	"github.com/JonMunkholm/csvimport/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Action    string `json:"action,omitempty"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// errBadRequest marks client mistakes in the request itself (missing form
// fields, malformed JSON). Its text is safe to return.
type errBadRequest struct {
	msg string
}

func (e *errBadRequest) Error() string { return e.msg }

func badRequest(msg string) error { return &errBadRequest{msg: msg} }

// respondError logs err and writes a JSON error response with the status
// derived from its type.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var bad *errBadRequest
	if errors.As(err, &bad) {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", bad.msg)
		return
	}

	status := statusFor(err)
	userMsg := core.MapError(err)
	requestID := middleware.GetReqID(r.Context())

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logging.FromContext(r.Context()).Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
	)

	if errors.Is(err, core.ErrTooManyImports) {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, status, ErrorResponse{
		Error:     userMsg.Message,
		Message:   userMsg.Message,
		Action:    userMsg.Action,
		Code:      userMsg.Code,
		RequestID: requestID,
	})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	var (
		fileErr   *core.FileAccessError
		decErr    *core.DecodeError
		fmtErr    *core.FormatError
		schemaErr *core.SchemaMismatchError
		emptyErr  *core.EmptyImportError
	)

	switch {
	case errors.Is(err, core.ErrImportNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrTableBusy):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManyImports):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &decErr), errors.As(err, &fmtErr),
		errors.As(err, &schemaErr), errors.As(err, &emptyErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &fileErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a JSON error response for failures that do not come
// from the engine.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   message,
		Message: message,
		Code:    code,
	})
}
