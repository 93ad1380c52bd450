package connection

import (
	"fmt"

	"github.com/ghalamif/MeterFlow/internal/ports"
)

// Phase is the coarse connection lifecycle position.
type Phase int

const (
	Connecting Phase = iota
	Connected
	Disconnected
	Failed
)

func (p Phase) String() string {
	switch p {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Tier is the colour class a status is rendered with.
type Tier int

const (
	TierWarning Tier = iota
	TierHealthy
	TierError
)

// Color returns the conventional colour name for the tier.
func (t Tier) Color() string {
	switch t {
	case TierHealthy:
		return "green"
	case TierError:
		return "red"
	default:
		return "orange"
	}
}

// State is an immutable view of the monitor. Reason is set for Disconnected and
// Failed. Attempt is the reconnect attempt the transport last reported, 0 on the
// first dial.
type State struct {
	Phase   Phase
	Reason  string
	Attempt int
	Err     *TransportError
}

// String renders the status line shown to users.
func (s State) String() string {
	switch s.Phase {
	case Connected:
		return "Connected ✓"
	case Disconnected:
		return fmt.Sprintf("Disconnected (%s)", s.Reason)
	case Failed:
		return "Connection Error: " + s.Reason
	default:
		return "Connecting..."
	}
}

// Tier classifies the state for display.
func (s State) Tier() Tier {
	switch s.Phase {
	case Connected:
		return TierHealthy
	case Failed:
		return TierError
	default:
		return TierWarning
	}
}

// TransportError describes a transport failure. It is carried in State and is
// never returned from the monitor.
type TransportError struct {
	Kind    ports.EventKind
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %s", e.Kind, e.Message)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ReasonReconnectExhausted is the Failed reason once the transport gives up.
const ReasonReconnectExhausted = "reconnect attempts exhausted"
