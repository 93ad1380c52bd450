// Package ws is a reconnecting WebSocket client that speaks the
// {"event": ..., "data": ...} envelope used by the meter gateway.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"

	"github.com/ghalamif/MeterFlow/internal/adapters/transport"
	"github.com/ghalamif/MeterFlow/internal/ports"
)

const (
	DefaultDialTimeout = 10 * time.Second
	DefaultReadLimit   = 1 << 20
)

// Disconnect reasons reported with EventDisconnect.
const (
	ReasonServerDisconnect = "io server disconnect"
	ReasonTransportClose   = "transport close"
	ReasonPingTimeout      = "ping timeout"
)

var ErrAlreadyStarted = errors.New("websocket transport already started")

// Envelope is one frame on the wire.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Config mirrors the websocket part of the transport config.
type Config struct {
	URL          string
	Reconnect    transport.Policy
	DialTimeout  time.Duration
	PingInterval time.Duration // zero disables keepalive pings
	ReadLimit    int64
}

// Transport implements ports.Transport over github.com/coder/websocket.
// Events are emitted from a single goroutine in arrival order.
type Transport struct {
	cfg  Config
	log  *slog.Logger
	reg  transport.Registry
	loop transport.Loop
}

// New returns an idle transport. Zero values in cfg fall back to defaults.
func New(cfg Config, log *slog.Logger) *Transport {
	cfg.Reconnect = cfg.Reconnect.WithDefaults()
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultReadLimit
	}
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		cfg: cfg,
		log: log.With(slog.String("component", "ws"), slog.String("url", cfg.URL)),
	}
}

func (t *Transport) On(kind ports.EventKind, h ports.Handler) func() {
	return t.reg.On(kind, h)
}

// Start validates the URL and launches the connect loop.
func (t *Transport) Start(ctx context.Context) error {
	u, err := url.Parse(t.cfg.URL)
	if err != nil {
		return fmt.Errorf("websocket url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("websocket url: unsupported scheme %q", u.Scheme)
	}
	if !t.loop.Go(ctx, func(ctx context.Context) {
		transport.Run(ctx, &t.reg, t.cfg.Reconnect, t.log, t.dial)
	}) {
		return ErrAlreadyStarted
	}
	return nil
}

// Close stops reconnecting, closes the socket and waits for the loop to exit.
func (t *Transport) Close() error {
	t.loop.Stop()
	return nil
}

func (t *Transport) dial(ctx context.Context) (transport.Serve, error) {
	dctx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dctx, t.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(t.cfg.ReadLimit)
	return func(ctx context.Context) string { return t.serve(ctx, conn) }, nil
}

// serve reads frames until the connection drops.
func (t *Transport) serve(ctx context.Context, conn *websocket.Conn) string {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var pingFailed atomic.Bool
	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		if t.cfg.PingInterval <= 0 {
			return
		}
		ticker := time.NewTicker(t.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-cctx.Done():
				return
			case <-ticker.C:
				pctx, pcancel := context.WithTimeout(cctx, t.cfg.PingInterval)
				err := conn.Ping(pctx)
				pcancel()
				if err != nil && cctx.Err() == nil {
					pingFailed.Store(true)
					conn.CloseNow()
					return
				}
			}
		}
	}()

	reason := t.readLoop(cctx, conn)
	cancel()
	<-pingDone
	if ctx.Err() != nil {
		conn.Close(websocket.StatusNormalClosure, "client closed")
	} else {
		conn.CloseNow()
	}
	if pingFailed.Load() {
		return ReasonPingTimeout
	}
	return reason
}

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn) string {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return ReasonServerDisconnect
			default:
				return ReasonTransportClose
			}
		}
		if typ != websocket.MessageText {
			continue
		}
		t.dispatch(data)
	}
}

// dispatch routes one frame. Frames without an event name are treated as bare
// sensorData payloads.
func (t *Transport) dispatch(frame []byte) {
	if !gjson.ValidBytes(frame) {
		t.log.Warn("dropping non-json frame", slog.Int("bytes", len(frame)))
		return
	}
	event := gjson.GetBytes(frame, "event")
	if !event.Exists() {
		t.reg.Emit(ports.Event{Kind: ports.EventSensorData, Payload: json.RawMessage(frame)})
		return
	}
	switch kind := ports.EventKind(event.String()); kind {
	case ports.EventSensorData:
		data := gjson.GetBytes(frame, "data")
		t.reg.Emit(ports.Event{Kind: kind, Payload: json.RawMessage(data.Raw)})
	default:
		t.log.Debug("ignoring event", slog.String("event", event.String()))
	}
}

var _ ports.Transport = (*Transport)(nil)
