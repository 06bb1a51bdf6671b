// Package producer publishes telemetry events to a broker so a worker can forward them to Loki.
package producer

import (
	"pulseboard/internal/telemetry"
)

// Producer is an EventEmitter that owns a connection. Callers use it best-effort.
type Producer interface {
	telemetry.EventEmitter
	// Close flushes pending writes. Safe to call if already closed.
	Close() error
}
