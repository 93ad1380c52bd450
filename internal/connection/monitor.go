// Package connection tracks the lifecycle of the live telemetry transport and
// routes its data events into the stream buffer.
package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ghalamif/MeterFlow/internal/domain"
	"github.com/ghalamif/MeterFlow/internal/ports"
)

var ErrAlreadyStarted = errors.New("connection monitor already started")

// Appender receives every accepted record in delivery order, with the time it
// was received.
type Appender interface {
	AppendAt(rec domain.Record, received time.Time)
}

// Observer is notified after every state transition.
type Observer func(State)

// Option customizes a Monitor.
type Option func(*Monitor)

// WithObservability routes counters and errors to obs.
func WithObservability(obs ports.Observability) Option {
	return func(m *Monitor) {
		if obs != nil {
			m.obs = obs
		}
	}
}

// WithLogger sets the logger used for per-record debug output.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.log = l
		}
	}
}

// WithClock overrides the receipt time used for labels and for payloads
// without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithTap adds a second consumer of accepted records. tap must not block.
func WithTap(tap func(domain.Record)) Option {
	return func(m *Monitor) { m.tap = tap }
}

// Monitor owns the connection state machine. The data handler is registered
// with the transport exactly while the state is Connected.
type Monitor struct {
	transport ports.Transport
	buffer    Appender
	obs       ports.Observability
	log       *slog.Logger
	now       func() time.Time
	tap       func(domain.Record)

	// notifyMu serializes transition+notify so observers see transitions in order.
	notifyMu sync.Mutex

	mu        sync.Mutex
	state     State
	running   bool
	offs      []func()
	dataOff   func()
	observers map[uint64]Observer
	nextObs   uint64
}

// NewMonitor wires a monitor to transport and buffer. Nothing is registered
// until Start.
func NewMonitor(transport ports.Transport, buffer Appender, opts ...Option) *Monitor {
	m := &Monitor{
		transport: transport,
		buffer:    buffer,
		obs:       ports.NopObservability{},
		log:       slog.Default(),
		now:       time.Now,
		state:     State{Phase: Connecting},
		observers: make(map[uint64]Observer),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnStateChange registers obs and returns a function that removes it.
// Observers run on the transport's delivery goroutine and must not call Stop.
func (m *Monitor) OnStateChange(obs Observer) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = obs
	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

// Start subscribes to transport lifecycle events and starts the transport.
// When the transport fails to start the monitor moves to Failed and the error
// is returned; Stop still releases everything registered so far. A stopped
// monitor can be started again.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.running = true
	m.offs = append(m.offs,
		m.transport.On(ports.EventConnect, m.handleLifecycle),
		m.transport.On(ports.EventDisconnect, m.handleLifecycle),
		m.transport.On(ports.EventConnectError, m.handleLifecycle),
		m.transport.On(ports.EventReconnectAttempt, m.handleLifecycle),
		m.transport.On(ports.EventReconnectFailed, m.handleLifecycle),
	)
	m.mu.Unlock()

	m.obs.SetGauge("meterflow_connection_state", float64(Connecting))
	if err := m.transport.Start(ctx); err != nil {
		m.handleLifecycle(ports.Event{Kind: ports.EventConnectError, Err: err})
		return err
	}
	return nil
}

// Stop removes every listener the monitor registered, drops all observers,
// closes the transport and resets the state to Connecting. It is safe to call
// more than once.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.state = State{Phase: Connecting}
	offs := m.offs
	m.offs = nil
	if m.dataOff != nil {
		offs = append(offs, m.dataOff)
		m.dataOff = nil
	}
	clear(m.observers)
	m.mu.Unlock()

	for _, off := range offs {
		if off != nil {
			off()
		}
	}
	if err := m.transport.Close(); err != nil {
		m.obs.LogError("transport_close_failed", err)
	}
}

func (m *Monitor) handleLifecycle(ev ports.Event) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	prev := m.state
	next, ok := transition(prev, ev)
	if !ok {
		m.mu.Unlock()
		return
	}
	m.state = next
	m.syncDataHandlerLocked()
	observers := make([]Observer, 0, len(m.observers))
	for _, o := range m.observers {
		observers = append(observers, o)
	}
	m.mu.Unlock()

	m.obs.SetGauge("meterflow_connection_state", float64(next.Phase))
	if ev.Kind == ports.EventReconnectAttempt {
		m.obs.IncCounter("meterflow_reconnect_attempts_total", 1)
	}
	if next.Err != nil {
		m.obs.LogError("connection_error", next.Err, ports.Field{Key: "state", Value: next.String()})
	} else {
		m.obs.LogInfo("connection_state", ports.Field{Key: "from", Value: prev.Phase.String()}, ports.Field{Key: "to", Value: next.String()})
	}

	for _, o := range observers {
		o(next)
	}
}

// syncDataHandlerLocked keeps the data registration in step with the phase.
func (m *Monitor) syncDataHandlerLocked() {
	switch {
	case m.state.Phase == Connected && m.dataOff == nil:
		m.dataOff = m.transport.On(ports.EventSensorData, m.handleData)
	case m.state.Phase != Connected && m.dataOff != nil:
		m.dataOff()
		m.dataOff = nil
	}
}

func transition(cur State, ev ports.Event) (State, bool) {
	switch ev.Kind {
	case ports.EventConnect:
		return State{Phase: Connected}, true
	case ports.EventDisconnect:
		reason := ev.Reason
		if reason == "" {
			reason = "unknown"
		}
		return State{Phase: Disconnected, Reason: reason, Attempt: cur.Attempt}, true
	case ports.EventConnectError:
		te := &TransportError{Kind: ev.Kind, Message: errMessage(ev.Err), Err: ev.Err}
		return State{Phase: Failed, Reason: te.Message, Attempt: cur.Attempt, Err: te}, true
	case ports.EventReconnectAttempt:
		if cur.Phase == Connected {
			return cur, false
		}
		return State{Phase: Connecting, Attempt: ev.Attempt}, true
	case ports.EventReconnectFailed:
		te := &TransportError{Kind: ev.Kind, Message: ReasonReconnectExhausted, Err: ev.Err}
		return State{Phase: Failed, Reason: ReasonReconnectExhausted, Attempt: cur.Attempt, Err: te}, true
	default:
		return cur, false
	}
}

func errMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

func (m *Monitor) handleData(ev ports.Event) {
	received := m.now()
	rec, err := domain.DecodePayload(ev.Payload, received)
	if err != nil {
		m.obs.IncCounter("meterflow_records_rejected_total", 1)
		m.obs.LogError("payload_rejected", err, ports.Field{Key: "payload", Value: string(ev.Payload)})
		return
	}

	m.buffer.AppendAt(rec, received)
	m.obs.IncCounter("meterflow_records_accepted_total", 1)
	m.log.Debug("sensor data",
		slog.Time("ts", rec.Timestamp),
		slog.Float64("kwh", rec.Energy),
		slog.Float64("arus", rec.Current),
		slog.Float64("tegangan", rec.Voltage),
		slog.Float64("daya", rec.Power),
	)
	if m.tap != nil {
		m.tap(rec)
	}
}
