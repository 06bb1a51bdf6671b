package domain

import (
	"errors"
	"fmt"
)

// ErrUnavailable is the root of every "store cannot serve right now" condition. HTTP maps it to 503.
var ErrUnavailable = errors.New("store unavailable")

var (
	// ErrNotInitialized is returned by a store whose schema has not been provisioned.
	ErrNotInitialized = fmt.Errorf("%w: not initialized", ErrUnavailable)
	// ErrPoolExhausted is returned when no connection slot frees up within the acquire timeout.
	ErrPoolExhausted = fmt.Errorf("%w: connection pool exhausted", ErrUnavailable)
)

// ValidationError reports malformed API input or a record missing a required field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// NormalizationError reports a raw item that cannot become a record.
type NormalizationError struct {
	Kind   Kind
	Field  string
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s: %s %s", e.Kind, e.Field, e.Reason)
}

// PersistenceError wraps a failed store write or read of one record kind.
type PersistenceError struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
