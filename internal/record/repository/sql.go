package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"pulseboard/internal/db"
	"pulseboard/internal/record/domain"
)

const (
	signalsTable = "pulseboard_signals"
	eventsTable  = "pulseboard_events"
	emailsTable  = "pulseboard_emails"
)

var _ Repository = (*SQLRepository)(nil)

// Options tunes the connection gate of SQLRepository.
type Options struct {
	// MaxConns is the number of operations allowed to hold a connection at once. Defaults to 10.
	MaxConns int
	// AcquireTimeout bounds the wait for a free slot. Defaults to 2s.
	AcquireTimeout time.Duration
}

// SQLRepository stores records in three append-only tables over database/sql.
// Concurrency is bounded by a semaphore sized like the connection pool so that
// an exhausted pool surfaces as domain.ErrPoolExhausted instead of an unbounded wait.
type SQLRepository struct {
	db             *sql.DB
	dialect        dialect
	sem            *semaphore.Weighted
	acquireTimeout time.Duration
	ready          atomic.Bool
}

// NewSQLRepository returns a repository over conn for the given dialect. Init must be called before use.
func NewSQLRepository(conn *sql.DB, d db.Dialect, opts Options) (*SQLRepository, error) {
	dl, err := dialectFor(d)
	if err != nil {
		return nil, err
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = 10
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = 2 * time.Second
	}
	return &SQLRepository{
		db:             conn,
		dialect:        dl,
		sem:            semaphore.NewWeighted(int64(opts.MaxConns)),
		acquireTimeout: opts.AcquireTimeout,
	}, nil
}

// Init creates the record tables and indexes if absent.
func (r *SQLRepository) Init(ctx context.Context) error {
	stmts, err := db.SchemaStatements(r.dialect.name)
	if err != nil {
		return err
	}
	release, err := r.slot(ctx)
	if err != nil {
		return err
	}
	defer release()
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("repository: init schema: %w", err)
		}
	}
	r.ready.Store(true)
	return nil
}

// Ping checks that the schema is provisioned and the database answers.
func (r *SQLRepository) Ping(ctx context.Context) error {
	release, err := r.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return r.db.PingContext(ctx)
}

// Insert validates rec, appends it to its table and sets its ID.
// A zero timestamp is replaced by the current time. The stored timestamp is UTC with microsecond precision.
func (r *SQLRepository) Insert(ctx context.Context, rec domain.Record) error {
	kind := rec.Kind()
	if err := rec.Validate(); err != nil {
		return &domain.PersistenceError{Op: "insert", Kind: kind, Err: err}
	}
	b := rec.Common()
	ts := b.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC().Truncate(time.Microsecond)
	data, err := json.Marshal(b.Data)
	if err != nil {
		return &domain.PersistenceError{Op: "insert", Kind: kind, Err: err}
	}

	var (
		table string
		cols  string
		args  []any
	)
	switch v := rec.(type) {
	case *domain.Signal:
		table, cols = signalsTable, "timestamp, type, source, data"
		args = []any{r.dialect.timeArg(ts), v.Type, v.Source, string(data)}
	case *domain.Event:
		table, cols = eventsTable, "timestamp, name, description, source, data"
		args = []any{r.dialect.timeArg(ts), v.Name, nullString(v.Description), v.Source, string(data)}
	case *domain.Email:
		table, cols = emailsTable, "timestamp, sender, subject, body_snippet, is_read, source, data"
		args = []any{r.dialect.timeArg(ts), v.Sender, v.Subject, nullString(v.BodySnippet), v.IsRead, v.Source, string(data)}
	default:
		return &domain.PersistenceError{Op: "insert", Kind: kind, Err: fmt.Errorf("unsupported record type %T", rec)}
	}

	release, err := r.acquire(ctx)
	if err != nil {
		return &domain.PersistenceError{Op: "insert", Kind: kind, Err: err}
	}
	defer release()

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id", table, cols, r.dialect.placeholders(1, len(args)))
	var id int64
	if err := r.db.QueryRowContext(ctx, q, args...).Scan(&id); err != nil {
		return &domain.PersistenceError{Op: "insert", Kind: kind, Err: err}
	}
	b.ID = id
	b.Timestamp = ts
	return nil
}

// ListSignals returns signals ordered by timestamp descending, newest insert first on ties.
func (r *SQLRepository) ListSignals(ctx context.Context, limit int) ([]*domain.Signal, error) {
	return list(ctx, r, domain.KindSignal, "SELECT id, timestamp, type, source, data FROM "+signalsTable, limit,
		func(s scanner) (*domain.Signal, error) {
			var (
				out  domain.Signal
				ts   timeValue
				data []byte
			)
			if err := s.Scan(&out.ID, &ts, &out.Type, &out.Source, &data); err != nil {
				return nil, err
			}
			out.Timestamp = ts.t
			return &out, decodeData(data, &out.Data)
		})
}

// ListEvents returns events ordered by timestamp descending, newest insert first on ties.
func (r *SQLRepository) ListEvents(ctx context.Context, limit int) ([]*domain.Event, error) {
	return list(ctx, r, domain.KindEvent, "SELECT id, timestamp, name, description, source, data FROM "+eventsTable, limit,
		func(s scanner) (*domain.Event, error) {
			var (
				out  domain.Event
				ts   timeValue
				desc sql.NullString
				data []byte
			)
			if err := s.Scan(&out.ID, &ts, &out.Name, &desc, &out.Source, &data); err != nil {
				return nil, err
			}
			out.Timestamp = ts.t
			out.Description = stringPtr(desc)
			return &out, decodeData(data, &out.Data)
		})
}

// ListEmails returns emails ordered by timestamp descending, newest insert first on ties.
func (r *SQLRepository) ListEmails(ctx context.Context, limit int) ([]*domain.Email, error) {
	return list(ctx, r, domain.KindEmail, "SELECT id, timestamp, sender, subject, body_snippet, is_read, source, data FROM "+emailsTable, limit,
		func(s scanner) (*domain.Email, error) {
			var (
				out     domain.Email
				ts      timeValue
				snippet sql.NullString
				data    []byte
			)
			if err := s.Scan(&out.ID, &ts, &out.Sender, &out.Subject, &snippet, &out.IsRead, &out.Source, &data); err != nil {
				return nil, err
			}
			out.Timestamp = ts.t
			out.BodySnippet = stringPtr(snippet)
			return &out, decodeData(data, &out.Data)
		})
}

type scanner interface {
	Scan(dest ...any) error
}

func list[T any](ctx context.Context, r *SQLRepository, kind domain.Kind, base string, limit int, scan func(scanner) (T, error)) ([]T, error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	q := base + " ORDER BY timestamp DESC, id DESC"
	var args []any
	if limit > 0 {
		q += " LIMIT " + r.dialect.placeholder(1)
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list", Kind: kind, Err: err}
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "list", Kind: kind, Err: err}
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "list", Kind: kind, Err: err}
	}
	return out, nil
}

// acquire takes a connection slot once the schema is provisioned.
func (r *SQLRepository) acquire(ctx context.Context) (func(), error) {
	if !r.ready.Load() {
		return nil, domain.ErrNotInitialized
	}
	return r.slot(ctx)
}

// slot waits at most acquireTimeout for a free slot. Caller cancellation wins over exhaustion.
func (r *SQLRepository) slot(ctx context.Context) (func(), error) {
	wctx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
	defer cancel()
	if err := r.sem.Acquire(wctx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.ErrPoolExhausted
	}
	return func() { r.sem.Release(1) }, nil
}

func decodeData(b []byte, dst *domain.Object) error {
	if len(b) == 0 {
		*dst = domain.NewObject()
		return nil
	}
	return json.Unmarshal(b, dst)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
