package meterflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ghalamif/MeterFlow/internal/adapters/deliver"
	"github.com/ghalamif/MeterFlow/internal/adapters/httpapi"
	"github.com/ghalamif/MeterFlow/internal/adapters/observability"
	"github.com/ghalamif/MeterFlow/internal/adapters/queue"
	"github.com/ghalamif/MeterFlow/internal/adapters/store"
	"github.com/ghalamif/MeterFlow/internal/adapters/transport/opcua"
	"github.com/ghalamif/MeterFlow/internal/adapters/transport/ws"
	"github.com/ghalamif/MeterFlow/internal/adapters/wal"
	"github.com/ghalamif/MeterFlow/internal/app/config"
	"github.com/ghalamif/MeterFlow/internal/app/pipeline"
	"github.com/ghalamif/MeterFlow/internal/connection"
	"github.com/ghalamif/MeterFlow/internal/export"
	"github.com/ghalamif/MeterFlow/internal/logging"
	"github.com/ghalamif/MeterFlow/internal/ports"
	"github.com/ghalamif/MeterFlow/internal/report"
	"github.com/ghalamif/MeterFlow/internal/stream"
)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	transport     Transport
	store         HistoricalStore
	deliverer     Deliverer
	sink          Sink
	wal           WAL
	queue         RecordQueue
	observability Observability
	logger        *slog.Logger
	registry      *prometheus.Registry
	noListen      bool
}

// WithTransport injects a custom live transport (MQTT, serial gateways, test fakes).
func WithTransport(t Transport) RuntimeOption {
	return func(o *runtimeOverrides) { o.transport = t }
}

// WithStore replaces the SQL store exports read from.
func WithStore(s HistoricalStore) RuntimeOption {
	return func(o *runtimeOverrides) { o.store = s }
}

// WithDeliverer replaces the output directory exports are written to.
func WithDeliverer(d Deliverer) RuntimeOption {
	return func(o *runtimeOverrides) { o.deliverer = d }
}

// WithSink sets where the archive recorder writes. By default it writes to the
// store when the store accepts writes.
func WithSink(s Sink) RuntimeOption {
	return func(o *runtimeOverrides) { o.sink = s }
}

// WithWAL lets callers bring their own archive WAL implementation.
func WithWAL(w WAL) RuntimeOption {
	return func(o *runtimeOverrides) { o.wal = w }
}

// WithRecordQueue injects a custom archive queue implementation.
func WithRecordQueue(q RecordQueue) RuntimeOption {
	return func(o *runtimeOverrides) { o.queue = q }
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) { o.observability = obs }
}

func WithLogger(l *slog.Logger) RuntimeOption {
	return func(o *runtimeOverrides) { o.logger = l }
}

// WithRegistry registers the default metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) RuntimeOption {
	return func(o *runtimeOverrides) { o.registry = reg }
}

// WithoutListeners keeps Run from opening the HTTP and metrics ports. Handler
// still serves the API for embedding.
func WithoutListeners() RuntimeOption {
	return func(o *runtimeOverrides) { o.noListen = true }
}

// Runtime wires transport → monitor → buffer for the live view, the export
// pipeline over the historical store, and optionally the archive recorder that
// copies live records into the store.
type Runtime struct {
	cfg      *Config
	log      *slog.Logger
	obs      ports.Observability
	registry *prometheus.Registry

	buffer   *stream.Buffer
	monitor  *connection.Monitor
	exporter *export.Pipeline
	recorder *pipeline.Recorder
	wal      ports.WAL
	queue    ports.RecordQueue
	api      *httpapi.Server

	transport ports.Transport
	store     ports.HistoricalStore
	sink      ports.Sink
	closers   []io.Closer
	noListen  bool
}

// NewRuntime bootstraps the default adapters (websocket or OPC UA transport,
// SQL store, directory deliverer, Prometheus observability, file WAL). Any of
// them can be replaced with a RuntimeOption.
func NewRuntime(ctx context.Context, cfg *Config, opts ...RuntimeOption) (rt *Runtime, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var o runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	r := &Runtime{cfg: cfg, noListen: o.noListen}
	defer func() {
		if err != nil {
			r.closeAll()
		}
	}()

	r.log = o.logger
	if r.log == nil {
		if r.log, err = logging.New(cfg.Log); err != nil {
			return nil, err
		}
	}

	r.registry = o.registry
	if r.registry == nil {
		r.registry = prometheus.NewRegistry()
	}
	r.obs = o.observability
	if r.obs == nil {
		if r.obs, err = observability.NewPromObs(r.registry, r.log); err != nil {
			return nil, err
		}
	}

	loc, err := cfg.BufferLocation()
	if err != nil {
		return nil, err
	}
	r.buffer = stream.NewBuffer(cfg.Buffer.Capacity,
		stream.WithLabelLayout(cfg.Buffer.LabelLayout),
		stream.WithLocation(loc))

	if r.transport = o.transport; r.transport == nil {
		if r.transport, err = newTransport(cfg.Transport, r.log); err != nil {
			return nil, err
		}
	}

	if r.store = o.store; r.store == nil {
		s, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, cfg.Store.Table)
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, s)
		r.store = s
	}
	if m, ok := r.store.(interface{ Migrate(context.Context) error }); ok && cfg.Store.Migrate {
		if err := m.Migrate(ctx); err != nil {
			return nil, err
		}
	}

	d := o.deliverer
	if d == nil {
		if d, err = deliver.NewDir(cfg.Export.OutputDir); err != nil {
			return nil, err
		}
	}
	exportLoc, err := cfg.ExportLocation()
	if err != nil {
		return nil, err
	}
	r.exporter = export.New(r.store, d,
		export.WithDownloadLimit(cfg.Export.DownloadLimit),
		export.WithReportOptions(report.Options{
			Title:              cfg.Export.Title,
			Location:           exportLoc,
			DocumentTimeLayout: cfg.Export.TimeLayout,
		}),
		export.WithObservability(r.obs),
		export.WithLogger(r.log),
	)

	monitorOpts := []connection.Option{
		connection.WithObservability(r.obs),
		connection.WithLogger(r.log),
	}
	if cfg.Archive.Enabled {
		if err := r.buildRecorder(o); err != nil {
			return nil, err
		}
		monitorOpts = append(monitorOpts, connection.WithTap(r.recorder.Tap))
	}
	r.monitor = connection.NewMonitor(r.transport, r.buffer, monitorOpts...)

	r.api = httpapi.New(r.buffer, r.monitor, r.exporter,
		httpapi.WithGatherer(r.registry),
		httpapi.WithLogger(r.log))
	return r, nil
}

func newTransport(cfg config.TransportConfig, log *slog.Logger) (ports.Transport, error) {
	switch cfg.Kind {
	case config.TransportOPCUA:
		oc := cfg.OPCUA
		oc.Reconnect = cfg.Policy()
		return opcua.New(oc, log)
	default:
		return ws.New(ws.Config{
			URL:          cfg.URL,
			Reconnect:    cfg.Policy(),
			DialTimeout:  cfg.DialTimeout,
			PingInterval: cfg.PingInterval,
		}, log), nil
	}
}

func (r *Runtime) buildRecorder(o runtimeOverrides) error {
	pol := r.cfg.Archive.Policy

	r.sink = o.sink
	if r.sink == nil {
		s, ok := r.store.(ports.Sink)
		if !ok {
			return errors.New("archive enabled but the store does not accept writes and no sink was given")
		}
		r.sink = s
	}

	r.wal = o.wal
	if r.wal == nil {
		w, err := wal.NewFileWAL(r.cfg.Archive.WALDir)
		if err != nil {
			return err
		}
		r.closers = append(r.closers, w)
		r.wal = w
	}

	r.queue = o.queue
	if r.queue == nil {
		r.queue = queue.NewMemQueue(pol.MaxQueueLen)
	}

	r.recorder = pipeline.NewRecorder(r.wal, r.queue, r.sink, pol, r.obs)
	r.recorder.CompactInterval = r.cfg.Archive.CompactInterval
	return nil
}

func (r *Runtime) Config() *Config { return r.cfg }

func (r *Runtime) Logger() *slog.Logger { return r.log }

// Registry is the Prometheus registry behind /metrics.
func (r *Runtime) Registry() *prometheus.Registry { return r.registry }

// Snapshot returns the live windows.
func (r *Runtime) Snapshot() Snapshot { return r.buffer.Snapshot() }

// State returns the connection state.
func (r *Runtime) State() State { return r.monitor.State() }

// OnStateChange registers an observer of connection transitions.
func (r *Runtime) OnStateChange(fn func(State)) (cancel func()) {
	return r.monitor.OnStateChange(fn)
}

// Export renders the latest records in f and writes them to the configured
// output. A concurrent call returns a Skipped result.
func (r *Runtime) Export(ctx context.Context, f Format) (ExportResult, error) {
	return r.exporter.Export(ctx, f)
}

// Handler serves the HTTP API.
func (r *Runtime) Handler() http.Handler { return r.api }

// Run starts the live subsystem, the archive recorder and the HTTP listeners,
// and blocks until ctx is cancelled or a listener fails. Everything is released
// before it returns.
func (r *Runtime) Run(ctx context.Context) error {
	ctx = logging.NewContext(ctx, r.log)
	if err := r.monitor.Start(ctx); err != nil {
		return errors.Join(err, r.Shutdown())
	}

	g, gctx := errgroup.WithContext(ctx)
	if r.recorder != nil {
		g.Go(func() error { return r.recorder.Run(gctx) })
		g.Go(func() error {
			r.recordGauges(gctx, time.Second)
			return nil
		})
	}
	if !r.noListen {
		if addr := r.cfg.HTTP.Addr; addr != "" {
			r.log.Info("http api listening", slog.String("addr", addr))
			g.Go(func() error { return r.api.ListenAndServe(gctx, addr) })
		}
		if addr := r.cfg.Metrics.Addr; addr != "" && addr != r.cfg.HTTP.Addr {
			g.Go(func() error { return r.serveMetrics(gctx, addr) })
		}
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err := g.Wait()
	return errors.Join(err, r.Shutdown())
}

// Shutdown stops the monitor (releasing every transport listener) and closes
// what the runtime opened. It is safe to call more than once.
func (r *Runtime) Shutdown() error {
	if r.monitor != nil {
		r.monitor.Stop()
	}
	return r.closeAll()
}

func (r *Runtime) closeAll() error {
	var errs []error
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

func (r *Runtime) serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	r.log.Info("metrics listening", slog.String("addr", addr))

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
		return fmt.Errorf("metrics server: %w", err)
	}
}

func (r *Runtime) recordGauges(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.obs.SetGauge(observability.WALSizeBytes, float64(r.wal.Stats().SizeBytes))
			r.obs.SetGauge(observability.QueueLength, float64(r.queue.Len()))
		}
	}
}
