// Package httpapi exposes the live snapshot and on-demand exports over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ghalamif/MeterFlow/internal/connection"
	"github.com/ghalamif/MeterFlow/internal/export"
	"github.com/ghalamif/MeterFlow/internal/ports"
	"github.com/ghalamif/MeterFlow/internal/report"
	"github.com/ghalamif/MeterFlow/internal/stream"
)

// DefaultPushInterval is how often /api/live pushes a snapshot.
const DefaultPushInterval = time.Second

type SnapshotSource interface {
	Snapshot() stream.Snapshot
}

type StateSource interface {
	State() connection.State
}

type Exporter interface {
	ExportTo(ctx context.Context, f report.Format, d ports.Deliverer) (export.Result, error)
}

// inFlightReporter is implemented by exporters that can tell whether a run is
// in progress, so clients can disable their export buttons.
type inFlightReporter interface {
	InFlight() bool
}

// View is the JSON document served at /api/snapshot.
type View struct {
	Status   Status               `json:"status"`
	Data     stream.Snapshot      `json:"data"`
	Channels []stream.ChannelInfo `json:"channels"`
}

type Status struct {
	Text    string `json:"text"`
	Phase   string `json:"phase"`
	Color   string `json:"color"`
	Attempt int    `json:"attempt,omitempty"`

	Exporting bool `json:"exporting"`
}

type errorBody struct {
	Error string `json:"error"`
}

type Option func(*Server)

// WithGatherer mounts /metrics for g.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

func WithPushInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.push = d
		}
	}
}

type Server struct {
	buffer   SnapshotSource
	state    StateSource
	exporter Exporter
	gatherer prometheus.Gatherer
	log      *slog.Logger
	push     time.Duration
	router   *mux.Router
}

// New builds the router. exporter may be nil, in which case /api/export is not
// mounted.
func New(buffer SnapshotSource, state StateSource, exporter Exporter, opts ...Option) *Server {
	s := &Server{
		buffer:   buffer,
		state:    state,
		exporter: exporter,
		log:      slog.Default(),
		push:     DefaultPushInterval,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/live", s.handleLive).Methods(http.MethodGet)
	if exporter != nil {
		api.HandleFunc("/export", s.handleExport).Methods(http.MethodGet, http.MethodPost)
	}
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		<-errCh
		return err
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Snapshot assembles the current view.
func (s *Server) Snapshot() View {
	channels := make([]stream.ChannelInfo, 0, len(stream.Channels))
	for _, c := range stream.Channels {
		channels = append(channels, stream.Info(c))
	}
	return View{
		Status:   s.status(),
		Data:     s.buffer.Snapshot(),
		Channels: channels,
	}
}

func (s *Server) status() Status {
	st := s.state.State()
	out := Status{
		Text:    st.String(),
		Phase:   st.Phase.String(),
		Color:   st.Tier().Color(),
		Attempt: st.Attempt,
	}
	if r, ok := s.exporter.(inFlightReporter); ok {
		out.Exporting = r.InFlight()
	}
	return out
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

// handleLive upgrades to a websocket and pushes a View every push interval
// until the client goes away.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("live upgrade failed", slog.Any("err", err))
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	ticker := time.NewTicker(s.push)
	defer ticker.Stop()
	for {
		if err := wsjson.Write(ctx, conn, s.Snapshot()); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	f, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	var art ports.Artifact
	capture := ports.DelivererFunc(func(_ context.Context, a ports.Artifact) error {
		art = a
		return nil
	})

	res, err := s.exporter.ExportTo(r.Context(), f, capture)
	switch {
	case err != nil:
		status := http.StatusInternalServerError
		if errors.Is(err, export.ErrEmptyResult) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, errorBody{Error: export.UserMessage(err)})
		return
	case res.Skipped:
		writeJSON(w, http.StatusConflict, errorBody{Error: "An export is already in progress."})
		return
	}

	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+art.Name+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(art.Data)))
	w.Header().Set("X-Export-Run-Id", res.RunID)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(art.Data); err != nil {
		s.log.Warn("export response write failed", slog.String("run_id", res.RunID), slog.Any("err", err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
