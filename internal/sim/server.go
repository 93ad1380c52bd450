package sim

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ghalamif/MeterFlow/internal/adapters/transport/ws"
	"github.com/ghalamif/MeterFlow/internal/domain"
	"github.com/ghalamif/MeterFlow/internal/ports"
)

// DefaultInterval is the emit period of the simulated gateway.
const DefaultInterval = time.Second

// wirePayload is the sensorData body as a meter gateway sends it.
type wirePayload struct {
	Timestamp int64   `json:"timestamp"`
	KWH       float64 `json:"kwh"`
	Arus      float64 `json:"arus"`
	Tegangan  float64 `json:"tegangan"`
	Daya      float64 `json:"daya"`
}

func toWire(r domain.Record) wirePayload {
	return wirePayload{
		Timestamp: r.Timestamp.UnixMilli(),
		KWH:       r.Energy,
		Arus:      r.Current,
		Tegangan:  r.Voltage,
		Daya:      r.Power,
	}
}

// Server broadcasts one meter's readings to every connected websocket client.
type Server struct {
	meter    *Meter
	interval time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan wirePayload
}

func NewServer(meter *Meter, interval time.Duration, log *slog.Logger) *Server {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		meter:    meter,
		interval: interval,
		log:      log.With(slog.String("component", "sim")),
		clients:  make(map[*websocket.Conn]chan wirePayload),
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Run ticks the meter until ctx is done. Every reading goes to all clients and,
// when sink is non-nil, is written to it as well.
func (s *Server) Run(ctx context.Context, sink ports.Sink) {
	s.log.Info("starting simulator", slog.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("stopping simulator")
			return
		case t := <-ticker.C:
			rec := s.meter.Read(t)
			s.broadcast(toWire(rec))
			if sink != nil {
				if err := sink.WriteBatch([]*domain.Record{&rec}); err != nil {
					s.log.Error("sink write failed", slog.String("sink", sink.Name()), slog.Any("err", err))
				}
			}
		}
	}
}

func (s *Server) broadcast(p wirePayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.clients {
		select {
		case ch <- p:
		default:
			s.log.Warn("slow client, dropping reading", slog.Int64("timestamp", p.Timestamp))
		}
	}
}

// ServeHTTP upgrades the request and streams sensorData envelopes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.log.Warn("accept failed", slog.Any("err", err))
		return
	}
	defer conn.CloseNow()

	ch := make(chan wirePayload, 16)
	s.mu.Lock()
	s.clients[conn] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
	}()

	s.log.Info("client connected", slog.String("remote", r.RemoteAddr))
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			s.log.Info("client disconnected", slog.String("remote", r.RemoteAddr))
			return
		case p := <-ch:
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(wctx, conn, ws.Envelope{Event: string(ports.EventSensorData), Data: p})
			cancel()
			if err != nil {
				return
			}
		}
	}
}
