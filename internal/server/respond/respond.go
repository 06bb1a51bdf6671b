// Package respond writes JSON bodies and maps domain errors to HTTP status codes.
package respond

import (
	"encoding/json"
	"errors"
	"net/http"

	"pulseboard/internal/logging"
	"pulseboard/internal/record/domain"
)

// ErrorBody is the shape of every non-2xx response.
type ErrorBody struct {
	Detail string `json:"detail"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && r != nil {
		logging.FromContext(r.Context()).Warn("write response", "error", err)
	}
}

// Error writes {"detail": detail}.
func Error(w http.ResponseWriter, r *http.Request, status int, detail string) {
	JSON(w, r, status, ErrorBody{Detail: detail})
}

// Status maps an error to its HTTP status: validation 400, unavailable 503, anything else 500.
func Status(err error) int {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Err writes err with the status from Status. Server errors are logged.
func Err(w http.ResponseWriter, r *http.Request, err error) {
	status := Status(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request failed", "status", status, "error", err)
	}
	Error(w, r, status, err.Error())
}
