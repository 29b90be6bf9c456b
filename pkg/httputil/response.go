package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	apperrors "github.com/libdx/flask-microservices/pkg/errors"
	"github.com/libdx/flask-microservices/pkg/logger"
	"github.com/libdx/flask-microservices/pkg/validator"
)

// Envelope status values.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusError   = "error"
)

// MessageResponse is the body of mutating endpoints that report an outcome
// rather than a resource.
type MessageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Status    string            `json:"status"`
	Message   string            `json:"message"`
	Code      string            `json:"code,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing meaningful can be done if encoding fails.
	_ = json.NewEncoder(w).Encode(v)
}

// WriteMessage writes a {"status": "success", "message": ...} body.
func WriteMessage(w http.ResponseWriter, status int, format string, args ...any) {
	WriteJSON(w, status, MessageResponse{
		Status:  StatusSuccess,
		Message: fmt.Sprintf(format, args...),
	})
}

// envelopeStatus returns "error" for server faults and "failed" otherwise.
func envelopeStatus(code int) string {
	if code >= http.StatusInternalServerError {
		return StatusError
	}
	return StatusFailed
}

// WriteError maps err to a status code and writes the error envelope. Server
// errors are logged with the request-scoped logger when one is present.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	l := logger.FromContext(r.Context())
	if l == slog.Default() && fallback != nil {
		l = fallback
	}

	requestID := logger.CorrelationIDFromContext(r.Context())

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Status < http.StatusInternalServerError {
		WriteJSON(w, appErr.Status, ErrorResponse{
			Status:    envelopeStatus(appErr.Status),
			Message:   appErr.Message,
			Code:      appErr.Code,
			RequestID: requestID,
		})
		return
	}

	status := apperrors.HTTPStatus(err)
	code := "INTERNAL_ERROR"
	message := "an internal error occurred"

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		code, message = "NOT_FOUND", "resource not found"
	case errors.Is(err, apperrors.ErrAlreadyExists):
		code, message = "ALREADY_EXISTS", "resource already exists"
	case errors.Is(err, apperrors.ErrInvalidInput):
		code, message = "INVALID_INPUT", err.Error()
	case errors.Is(err, apperrors.ErrUnauthorized):
		code, message = "UNAUTHORIZED", "unauthorized"
	case errors.Is(err, apperrors.ErrForbidden):
		code, message = "FORBIDDEN", "forbidden"
	case errors.Is(err, apperrors.ErrRateLimited):
		code, message = "RATE_LIMITED", "Too many requests"
	}

	if status >= http.StatusInternalServerError {
		l.ErrorContext(r.Context(), "internal error",
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}

	WriteJSON(w, status, ErrorResponse{
		Status:    envelopeStatus(status),
		Message:   message,
		Code:      code,
		RequestID: requestID,
	})
}

// WriteValidationError writes a 400 response. Field level messages are
// attached when err carries them.
func WriteValidationError(w http.ResponseWriter, err error) {
	appErr := apperrors.ValidationFailed()
	resp := ErrorResponse{
		Status:  StatusFailed,
		Message: appErr.Message,
		Code:    appErr.Code,
	}

	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		resp.Errors = valErr.Fields()
	}

	WriteJSON(w, http.StatusBadRequest, resp)
}

// ParseID parses a positive decimal identifier from a path parameter. Anything
// else is answered with 404, the same as an identifier that matches no record.
func ParseID(w http.ResponseWriter, resource, param string) (int64, bool) {
	id, err := strconv.ParseInt(param, 10, 64)
	if err != nil || id <= 0 {
		appErr := apperrors.NotFound(resource, param)
		WriteJSON(w, appErr.Status, ErrorResponse{
			Status:  StatusFailed,
			Message: appErr.Message,
			Code:    appErr.Code,
		})
		return 0, false
	}
	return id, true
}
