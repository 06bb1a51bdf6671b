// Package handler serves the readiness endpoint of the query API.
package handler

import (
	"context"
	"errors"
	"net/http"

	"pulseboard/internal/record/domain"
	"pulseboard/internal/server/respond"
)

// Pinger checks that the record store can serve requests.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Response is the body of a healthy check.
type Response struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// Handler answers GET /health.
type Handler struct {
	store Pinger
}

// New returns a health handler. A nil store reports 503 on every check.
func New(store Pinger) *Handler {
	return &Handler{store: store}
}

// ServeHTTP pings the store. Unavailable maps to 503, any other ping failure to 500.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respond.Error(w, r, http.StatusServiceUnavailable, "Database pool not initialized.")
		return
	}
	if err := h.store.Ping(r.Context()); err != nil {
		if errors.Is(err, domain.ErrUnavailable) {
			respond.Error(w, r, http.StatusServiceUnavailable, "Database unavailable: "+err.Error())
			return
		}
		respond.Error(w, r, http.StatusInternalServerError, "Database connection error: "+err.Error())
		return
	}
	respond.JSON(w, r, http.StatusOK, Response{Status: "ok", Database: "connected"})
}
