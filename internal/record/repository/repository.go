package repository

import (
	"context"

	"pulseboard/internal/record/domain"
)

// Repository defines append-only persistence for records.
// Every method returns domain.ErrNotInitialized until Init has succeeded.
type Repository interface {
	// Init provisions the record tables if absent. Safe to call more than once.
	Init(ctx context.Context) error
	// Ping verifies the store can serve requests.
	Ping(ctx context.Context) error
	// Insert appends rec and sets its ID. The timestamp is stored in UTC.
	Insert(ctx context.Context, rec domain.Record) error
	// ListSignals returns signals newest first; limit <= 0 means no limit.
	ListSignals(ctx context.Context, limit int) ([]*domain.Signal, error)
	// ListEvents returns events newest first; limit <= 0 means no limit.
	ListEvents(ctx context.Context, limit int) ([]*domain.Event, error)
	// ListEmails returns emails newest first; limit <= 0 means no limit.
	ListEmails(ctx context.Context, limit int) ([]*domain.Email, error)
}
