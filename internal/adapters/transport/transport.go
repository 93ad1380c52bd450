// Package transport holds the pieces shared by every live telemetry transport:
// the handler registry and the reconnect loop.
package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ghalamif/MeterFlow/internal/ports"
)

const (
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = time.Second
)

// Registry is a concurrency-safe set of event handlers.
type Registry struct {
	mu       sync.Mutex
	handlers map[ports.EventKind]map[uint64]ports.Handler
	next     uint64
}

// On registers h and returns an idempotent function removing it.
func (r *Registry) On(kind ports.EventKind, h ports.Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[ports.EventKind]map[uint64]ports.Handler)
	}
	if r.handlers[kind] == nil {
		r.handlers[kind] = make(map[uint64]ports.Handler)
	}
	id := r.next
	r.next++
	r.handlers[kind][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.handlers[kind], id)
			r.mu.Unlock()
		})
	}
}

// Emit calls every handler for ev.Kind on the caller's goroutine. Handlers may
// register or remove handlers while being called.
func (r *Registry) Emit(ev ports.Event) {
	r.mu.Lock()
	hs := make([]ports.Handler, 0, len(r.handlers[ev.Kind]))
	for _, h := range r.handlers[ev.Kind] {
		hs = append(hs, h)
	}
	r.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

// Len returns the number of registered handlers across all kinds.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, hs := range r.handlers {
		n += len(hs)
	}
	return n
}

// Policy is the reconnect policy of a transport.
type Policy struct {
	Reconnection bool
	Attempts     int
	Delay        time.Duration
}

// WithDefaults fills zero attempts and delay.
func (p Policy) WithDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultReconnectAttempts
	}
	if p.Delay <= 0 {
		p.Delay = DefaultReconnectDelay
	}
	return p
}

// Serve runs one established session until it ends and returns the disconnect
// reason. It owns closing the underlying connection.
type Serve func(ctx context.Context) string

// Dial opens one session.
type Dial func(ctx context.Context) (Serve, error)

// Run drives dial/serve/retry until ctx is done or the policy gives up. The
// attempt counter resets after every successful connect.
func Run(ctx context.Context, reg *Registry, pol Policy, log *slog.Logger, dial Dial) {
	pol = pol.WithDefaults()
	attempt := 0
	for {
		serve, err := dial(ctx)
		if ctx.Err() != nil {
			if serve != nil {
				serve(ctx)
			}
			return
		}
		if err != nil {
			log.Warn("dial failed", slog.Int("attempt", attempt), slog.Any("err", err))
			reg.Emit(ports.Event{Kind: ports.EventConnectError, Err: err})
		} else {
			attempt = 0
			log.Info("connected")
			reg.Emit(ports.Event{Kind: ports.EventConnect})
			reason := serve(ctx)
			if ctx.Err() != nil {
				return
			}
			log.Info("disconnected", slog.String("reason", reason))
			reg.Emit(ports.Event{Kind: ports.EventDisconnect, Reason: reason})
		}

		if !pol.Reconnection {
			return
		}
		attempt++
		if attempt > pol.Attempts {
			log.Error("giving up", slog.Int("attempts", pol.Attempts))
			reg.Emit(ports.Event{Kind: ports.EventReconnectFailed, Err: err})
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(pol.Delay):
		}
		reg.Emit(ports.Event{Kind: ports.EventReconnectAttempt, Attempt: attempt})
	}
}

// Loop owns the background goroutine of a transport.
type Loop struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Go starts fn. It reports false while a previous fn is still running.
func (l *Loop) Go(ctx context.Context, fn func(ctx context.Context)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return false
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	done := l.done
	go func() {
		defer close(done)
		fn(ctx)
	}()
	return true
}

// Stop cancels the loop and waits for it, after which Go may start it again.
// Safe before Go and more than once.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	l.mu.Lock()
	if l.done == done {
		l.cancel, l.done = nil, nil
	}
	l.mu.Unlock()
}
