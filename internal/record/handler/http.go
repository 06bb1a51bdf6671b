// Package handler serves the record query API: signal creation, per-kind listings and the dashboard.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/sync/errgroup"

	"pulseboard/internal/record/domain"
	"pulseboard/internal/server/respond"
	"pulseboard/internal/telemetry"
)

// maxBodyBytes caps POST bodies.
const maxBodyBytes = 1 << 20

// Store is the subset of the record repository the handlers use.
type Store interface {
	Insert(ctx context.Context, rec domain.Record) error
	ListSignals(ctx context.Context, limit int) ([]*domain.Signal, error)
	ListEvents(ctx context.Context, limit int) ([]*domain.Event, error)
	ListEmails(ctx context.Context, limit int) ([]*domain.Email, error)
}

// Handler serves record endpoints. A nil store answers 503 on every route.
type Handler struct {
	store   Store
	emitter telemetry.EventEmitter
	schema  *jsonschema.Schema
	now     func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithEmitter sends signal.created events.
func WithEmitter(e telemetry.EventEmitter) Option { return func(h *Handler) { h.emitter = e } }

// WithClock overrides the time used for signals posted without a timestamp.
func WithClock(now func() time.Time) Option { return func(h *Handler) { h.now = now } }

// New returns a Handler over store.
func New(store Store, opts ...Option) (*Handler, error) {
	schema, err := compileSignalSchema()
	if err != nil {
		return nil, err
	}
	h := &Handler{store: store, schema: schema, now: time.Now}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}

// Register mounts the record routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/signals", h.CreateSignal)
	r.Get("/signals", h.ListSignals)
	r.Get("/events", h.ListEvents)
	r.Get("/emails", h.ListEmails)
	r.Get("/dashboard", h.Dashboard)
}

type createSignalRequest struct {
	Timestamp *time.Time    `json:"timestamp"`
	Type      string        `json:"type"`
	Source    string        `json:"source"`
	Data      domain.Object `json:"data"`
}

type createSignalResponse struct {
	Message string         `json:"message"`
	Signal  *domain.Signal `json:"signal"`
}

// CreateSignal validates the body against the signal schema before touching the store.
func (h *Handler) CreateSignal(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		respond.Error(w, r, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if len(body) > maxBodyBytes {
		respond.Error(w, r, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		respond.Error(w, r, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := h.schema.Validate(doc); err != nil {
		respond.Error(w, r, http.StatusBadRequest, schemaDetail(err))
		return
	}
	var req createSignalRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respond.Error(w, r, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if h.store == nil {
		respond.Error(w, r, http.StatusServiceUnavailable, "Database pool not initialized.")
		return
	}

	sig := &domain.Signal{
		Base: domain.Base{Timestamp: h.now().UTC(), Source: req.Source, Data: req.Data},
		Type: req.Type,
	}
	if req.Timestamp != nil {
		sig.Timestamp = *req.Timestamp
	}
	if err := sig.Validate(); err != nil {
		respond.Err(w, r, err)
		return
	}
	if err := h.store.Insert(r.Context(), sig); err != nil {
		respond.Err(w, r, err)
		return
	}

	event := telemetry.NewEvent(telemetry.EventSignalCreated, sig.Source, map[string]any{"id": sig.ID, "type": sig.Type})
	event.Kind = string(domain.KindSignal)
	telemetry.EmitAsync(h.emitter, r.Context(), event)

	respond.JSON(w, r, http.StatusCreated, createSignalResponse{Message: "Signal created successfully", Signal: sig})
}

// ListSignals returns signals newest first.
func (h *Handler) ListSignals(w http.ResponseWriter, r *http.Request) {
	listKind(h, w, r, func(ctx context.Context, s Store, limit int) ([]*domain.Signal, error) {
		return s.ListSignals(ctx, limit)
	})
}

// ListEvents returns events newest first.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	listKind(h, w, r, func(ctx context.Context, s Store, limit int) ([]*domain.Event, error) {
		return s.ListEvents(ctx, limit)
	})
}

// ListEmails returns emails newest first.
func (h *Handler) ListEmails(w http.ResponseWriter, r *http.Request) {
	listKind(h, w, r, func(ctx context.Context, s Store, limit int) ([]*domain.Email, error) {
		return s.ListEmails(ctx, limit)
	})
}

func listKind[T any](h *Handler, w http.ResponseWriter, r *http.Request, list func(context.Context, Store, int) ([]T, error)) {
	limit, err := parseLimit(r)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	if h.store == nil {
		respond.Error(w, r, http.StatusServiceUnavailable, "Database pool not initialized.")
		return
	}
	out, err := list(r.Context(), h.store, limit)
	if err != nil {
		respond.Err(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, nonNil(out))
}

// Dashboard returns the newest records of every kind, reading the three kinds concurrently.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respond.Error(w, r, http.StatusServiceUnavailable, "Database pool not initialized.")
		return
	}
	var d domain.Dashboard
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) {
		d.Signals, err = h.store.ListSignals(ctx, domain.DashboardLimit)
		return err
	})
	g.Go(func() (err error) {
		d.Events, err = h.store.ListEvents(ctx, domain.DashboardLimit)
		return err
	})
	g.Go(func() (err error) {
		d.Emails, err = h.store.ListEmails(ctx, domain.DashboardLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		respond.Err(w, r, err)
		return
	}
	d.Signals, d.Events, d.Emails = nonNil(d.Signals), nonNil(d.Events), nonNil(d.Emails)
	respond.JSON(w, r, http.StatusOK, d)
}

// parseLimit reads ?limit=n; absent or 0 means no limit.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &domain.ValidationError{Field: "limit", Reason: fmt.Sprintf("must be a non-negative integer, got %q", raw)}
	}
	return n, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
