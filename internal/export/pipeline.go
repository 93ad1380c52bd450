// Package export produces on-demand reports from the historical store.
package export

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ghalamif/MeterFlow/internal/domain"
	"github.com/ghalamif/MeterFlow/internal/ports"
	"github.com/ghalamif/MeterFlow/internal/report"
)

// DefaultDownloadLimit caps the number of records in one export.
const DefaultDownloadLimit = 1000

// FileNameLayout is ISO-8601 without fractional seconds.
const FileNameLayout = "2006-01-02T15:04:05"

// Result describes one Export call. Skipped is set when another export was
// already running; nothing else is populated in that case.
type Result struct {
	RunID    string
	Skipped  bool
	Name     string
	Format   report.Format
	Records  int
	Bytes    int
	Duration time.Duration
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithDownloadLimit overrides DefaultDownloadLimit.
func WithDownloadLimit(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.limit = n
		}
	}
}

// WithReportOptions sets title, zone and layout used when rendering.
func WithReportOptions(o report.Options) Option {
	return func(p *Pipeline) { p.report = o }
}

func WithObservability(obs ports.Observability) Option {
	return func(p *Pipeline) {
		if obs != nil {
			p.obs = obs
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// Pipeline runs at most one export at a time.
type Pipeline struct {
	store     ports.HistoricalStore
	deliverer ports.Deliverer
	limit     int
	report    report.Options
	obs       ports.Observability
	log       *slog.Logger
	now       func() time.Time

	inFlight atomic.Bool
}

// New returns a pipeline reading from store and delivering through d.
func New(store ports.HistoricalStore, d ports.Deliverer, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:     store,
		deliverer: d,
		limit:     DefaultDownloadLimit,
		obs:       ports.NopObservability{},
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// InFlight reports whether an export is currently running.
func (p *Pipeline) InFlight() bool { return p.inFlight.Load() }

// Export renders the most recent records in format f and hands them to the
// pipeline's deliverer.
func (p *Pipeline) Export(ctx context.Context, f report.Format) (Result, error) {
	return p.ExportTo(ctx, f, p.deliverer)
}

// ExportTo is Export with a per-call deliverer. It shares the in-flight guard.
func (p *Pipeline) ExportTo(ctx context.Context, f report.Format, d ports.Deliverer) (Result, error) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.obs.IncCounter("meterflow_exports_skipped_total", 1)
		return Result{Skipped: true}, nil
	}
	defer p.inFlight.Store(false)

	start := p.now()
	res := Result{RunID: uuid.NewString(), Format: f}
	log := p.log.With(slog.String("run_id", res.RunID), slog.String("format", string(f)))

	err := p.run(ctx, f, d, start, &res)
	res.Duration = p.now().Sub(start)

	switch {
	case err == nil:
		p.obs.IncCounter("meterflow_exports_succeeded_total", 1)
		p.obs.ObserveLatency("meterflow_export_duration_seconds", res.Duration.Seconds())
		log.Info("export delivered", slog.String("file", res.Name), slog.Int("records", res.Records), slog.Int("bytes", res.Bytes))
	case errors.Is(err, ErrEmptyResult):
		p.obs.IncCounter("meterflow_exports_empty_total", 1)
		log.Warn("export skipped: store is empty")
	default:
		p.obs.IncCounter("meterflow_exports_failed_total", 1)
		p.obs.LogError("export_failed", err, ports.Field{Key: "run_id", Value: res.RunID})
	}
	return res, err
}

func (p *Pipeline) run(ctx context.Context, f report.Format, d ports.Deliverer, start time.Time, res *Result) error {
	records, err := p.store.Latest(ctx, p.limit)
	if err != nil {
		if errors.Is(err, ports.ErrNoData) {
			return ErrEmptyResult
		}
		return &StoreQueryError{Err: err}
	}
	if len(records) == 0 {
		return ErrEmptyResult
	}

	records = SortBatch(records, p.limit)
	res.Records = len(records)

	var buf bytes.Buffer
	if err := report.Render(&buf, f, records, p.report); err != nil {
		return &RenderError{Format: f, Err: err}
	}

	res.Name = FileName(start, f)
	res.Bytes = buf.Len()
	art := ports.Artifact{Name: res.Name, ContentType: f.ContentType(), Data: buf.Bytes()}
	if nd, ok := d.(ports.NamedDeliverer); ok {
		name, err := nd.DeliverNamed(ctx, art)
		if err != nil {
			return &DeliveryError{Name: res.Name, Err: err}
		}
		res.Name = name
		return nil
	}
	if err := d.Deliver(ctx, art); err != nil {
		return &DeliveryError{Name: res.Name, Err: err}
	}
	return nil
}

// SortBatch orders records ascending by timestamp without trusting the store,
// and keeps the newest limit entries when the store returned more.
func SortBatch(records []domain.Record, limit int) []domain.Record {
	out := slices.Clone(records)
	slices.SortStableFunc(out, func(a, b domain.Record) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// FileName returns sensor_data_<UTC ISO-8601 without milliseconds>.<ext>.
func FileName(at time.Time, f report.Format) string {
	return "sensor_data_" + at.UTC().Format(FileNameLayout) + "." + f.Ext()
}
