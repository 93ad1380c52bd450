package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ghalamif/MeterFlow/internal/adapters/transport"
	"github.com/ghalamif/MeterFlow/internal/ports"
)

func collect(tr *Transport) <-chan ports.Event {
	ch := make(chan ports.Event, 64)
	for _, k := range []ports.EventKind{
		ports.EventConnect, ports.EventDisconnect, ports.EventConnectError,
		ports.EventReconnectAttempt, ports.EventReconnectFailed, ports.EventSensorData,
	} {
		tr.On(k, func(ev ports.Event) { ch <- ev })
	}
	return ch
}

func next(t *testing.T, ch <-chan ports.Event) ports.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for event")
		return ports.Event{}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestTransportDeliversInOrderAndReconnects(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		if conns.Add(1) == 1 {
			for i := 1; i <= 3; i++ {
				_ = wsjson.Write(ctx, c, Envelope{Event: "sensorData", Data: map[string]any{"kwh": i, "arus": 1, "tegangan": 220, "daya": 220}})
			}
			_ = wsjson.Write(ctx, c, Envelope{Event: "welcome"})
			c.Close(websocket.StatusNormalClosure, "bye")
			return
		}
		_, _, _ = c.Read(ctx)
	}))
	defer srv.Close()

	tr := New(Config{URL: wsURL(srv), Reconnect: transport.Policy{Reconnection: true, Delay: 10 * time.Millisecond}}, nil)
	events := collect(tr)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Close()

	if ev := next(t, events); ev.Kind != ports.EventConnect {
		t.Fatalf("expected connect, got %s", ev.Kind)
	}
	for i := 1; i <= 3; i++ {
		ev := next(t, events)
		if ev.Kind != ports.EventSensorData {
			t.Fatalf("expected sensorData, got %s", ev.Kind)
		}
		if want := fmt.Sprintf(`"kwh":%d`, i); !strings.Contains(string(ev.Payload), want) {
			t.Fatalf("payload %s does not contain %s", ev.Payload, want)
		}
	}
	if ev := next(t, events); ev.Kind != ports.EventDisconnect || ev.Reason != ReasonServerDisconnect {
		t.Fatalf("expected server disconnect, got %+v", ev)
	}
	if ev := next(t, events); ev.Kind != ports.EventReconnectAttempt || ev.Attempt != 1 {
		t.Fatalf("expected reconnect attempt 1, got %+v", ev)
	}
	if ev := next(t, events); ev.Kind != ports.EventConnect {
		t.Fatalf("expected reconnect, got %s", ev.Kind)
	}
}

func TestTransportGivesUpAfterAttempts(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	tr := New(Config{URL: url, Reconnect: transport.Policy{Reconnection: true, Attempts: 2, Delay: 5 * time.Millisecond}}, nil)
	events := collect(tr)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Close()

	want := []ports.EventKind{
		ports.EventConnectError,
		ports.EventReconnectAttempt, ports.EventConnectError,
		ports.EventReconnectAttempt, ports.EventConnectError,
		ports.EventReconnectFailed,
	}
	for i, k := range want {
		if ev := next(t, events); ev.Kind != k {
			t.Fatalf("event %d = %s, want %s", i, ev.Kind, k)
		}
	}
}

func TestTransportBarePayloadAndOff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = c.Write(r.Context(), websocket.MessageText, []byte(`not json`))
		_ = c.Write(r.Context(), websocket.MessageText, []byte(`{"kwh":1,"arus":1,"tegangan":220,"daya":220}`))
		_, _, _ = c.Read(r.Context())
	}))
	defer srv.Close()

	tr := New(Config{URL: wsURL(srv)}, nil)
	data := make(chan ports.Event, 4)
	off := tr.On(ports.EventSensorData, func(ev ports.Event) { data <- ev })
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := tr.Start(context.Background()); err != ErrAlreadyStarted {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}

	ev := next(t, data)
	if !strings.Contains(string(ev.Payload), `"tegangan":220`) {
		t.Fatalf("unexpected payload %s", ev.Payload)
	}
	off()
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case ev := <-data:
		t.Fatalf("unexpected extra event %+v", ev)
	default:
	}

	// closed transports can be started again
	tr.On(ports.EventSensorData, func(ev ports.Event) { data <- ev })
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer tr.Close()
	if ev := next(t, data); !strings.Contains(string(ev.Payload), `"tegangan":220`) {
		t.Fatalf("unexpected payload after restart %s", ev.Payload)
	}
}

func TestTransportRejectsBadURL(t *testing.T) {
	tr := New(Config{URL: "ftp://meter"}, nil)
	if err := tr.Start(context.Background()); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("close without start: %v", err)
	}
}
