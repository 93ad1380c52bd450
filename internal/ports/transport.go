package ports

import (
	"context"
	"encoding/json"
)

// EventKind identifies a transport lifecycle or data event.
type EventKind string

const (
	EventConnect          EventKind = "connect"
	EventDisconnect       EventKind = "disconnect"
	EventConnectError     EventKind = "connect_error"
	EventReconnectAttempt EventKind = "reconnect_attempt"
	EventReconnectFailed  EventKind = "reconnect_failed"
	EventSensorData       EventKind = "sensorData"
)

// Event is delivered to handlers registered with Transport.On.
type Event struct {
	Kind    EventKind
	Reason  string          // disconnect reason
	Err     error           // connect_error / reconnect_failed cause
	Attempt int             // reconnect attempt number, 1-based
	Payload json.RawMessage // sensorData body
}

// Handler receives transport events. Handlers run on the transport's delivery
// goroutine and must not block.
type Handler func(Event)

// Transport is a persistent, reconnecting connection to the telemetry source.
type Transport interface {
	// On registers h for kind and returns a function that removes exactly that registration.
	On(kind EventKind, h Handler) (off func())
	// Start begins connecting in the background; reconnection follows the transport's own policy.
	Start(ctx context.Context) error
	// Close tears the connection down and stops reconnecting.
	Close() error
}
