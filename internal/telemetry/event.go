// Package telemetry defines operational events (record created, ingest batch, HTTP request) and
// best-effort ways to ship them: OTel logs, Kafka, and from Kafka to Loki.
package telemetry

import (
	"encoding/json"
	"time"
)

// Event types.
const (
	EventSignalCreated = "signal.created"
	EventIngestBatch   = "ingest.batch"
	EventHTTPRequest   = "http_request"
)

// Event is one telemetry event. It is serialized as JSON on the Kafka topic.
type Event struct {
	EventType string `json:"eventType"`
	// Source is the emitting component or record source (e.g. "query_api", "browser_automation_gmail").
	Source string `json:"source"`
	// Kind is the record kind the event concerns, if any.
	Kind string `json:"kind,omitempty"`
	// RunID correlates the events of one ingest run.
	RunID     string          `json:"runId,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NewEvent stamps an event with the current UTC time and marshals metadata (nil for none).
// Metadata that cannot be marshaled is dropped; telemetry never fails the caller.
func NewEvent(eventType, source string, metadata any) *Event {
	e := &Event{EventType: eventType, Source: source, CreatedAt: time.Now().UTC()}
	if metadata != nil {
		if b, err := json.Marshal(metadata); err == nil {
			e.Metadata = b
		}
	}
	return e
}
