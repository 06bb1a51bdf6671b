// Package domain holds the normalized record shapes shared by ingestion, storage and the query API.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies a record variant and the collection it is stored in.
type Kind string

const (
	KindSignal Kind = "signal"
	KindEvent  Kind = "event"
	KindEmail  Kind = "email"
)

// ParseKind returns the Kind named by s (case-insensitive, plural accepted).
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s"))
	switch k {
	case KindSignal, KindEvent, KindEmail:
		return k, true
	}
	return "", false
}

// Record is implemented by Signal, Event and Email.
type Record interface {
	Kind() Kind
	Common() *Base
	Validate() error
}

// Base carries the fields every record has. Records are never mutated once the store has assigned ID.
type Base struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Data      Object    `json:"data"`
}

// Common returns the shared fields of a record.
func (b *Base) Common() *Base { return b }

func (b *Base) validate() error {
	if strings.TrimSpace(b.Source) == "" {
		return &ValidationError{Field: "source", Reason: "must not be empty"}
	}
	if !b.Timestamp.IsZero() {
		return CheckTimestamp(b.Timestamp)
	}
	return nil
}

// CheckTimestamp rejects instants outside years 1 through 9999 (UTC), which neither
// RFC 3339 nor the store can represent.
func CheckTimestamp(t time.Time) error {
	if y := t.UTC().Year(); y < 1 || y > 9999 {
		return &ValidationError{Field: "timestamp", Reason: fmt.Sprintf("year %d is outside 1..9999", y)}
	}
	return nil
}

// Signal is an ad-hoc signal pushed by a client or an adapter.
type Signal struct {
	Base
	Type string `json:"type"`
}

// Kind implements Record.
func (*Signal) Kind() Kind { return KindSignal }

// Validate reports the first missing required field.
func (s *Signal) Validate() error {
	if strings.TrimSpace(s.Type) == "" {
		return &ValidationError{Field: "type", Reason: "must not be empty"}
	}
	return s.validate()
}

// Event is a calendar entry.
type Event struct {
	Base
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

// Kind implements Record.
func (*Event) Kind() Kind { return KindEvent }

// Validate reports the first missing required field.
func (e *Event) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	return e.validate()
}

// Email is a mailbox entry.
type Email struct {
	Base
	Sender      string  `json:"sender"`
	Subject     string  `json:"subject"`
	BodySnippet *string `json:"body_snippet"`
	IsRead      bool    `json:"is_read"`
}

// Kind implements Record.
func (*Email) Kind() Kind { return KindEmail }

// Validate reports the first missing required field.
func (m *Email) Validate() error {
	if strings.TrimSpace(m.Sender) == "" {
		return &ValidationError{Field: "sender", Reason: "must not be empty"}
	}
	if strings.TrimSpace(m.Subject) == "" {
		return &ValidationError{Field: "subject", Reason: "must not be empty"}
	}
	return m.validate()
}

// Dashboard is the combined newest-first view served by the query API.
type Dashboard struct {
	Signals []*Signal `json:"signals"`
	Events  []*Event  `json:"events"`
	Emails  []*Email  `json:"emails"`
}

// DashboardLimit caps each category of the dashboard view.
const DashboardLimit = 10
