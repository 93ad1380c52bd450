package observability

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghalamif/MeterFlow/internal/domain"
	"github.com/ghalamif/MeterFlow/internal/ports"
)

// Metric names used across MeterFlow.
const (
	RecordsAccepted   = "meterflow_records_accepted_total"
	RecordsRejected   = "meterflow_records_rejected_total"
	ReconnectAttempts = "meterflow_reconnect_attempts_total"
	ConnectionState   = "meterflow_connection_state"

	ExportsSucceeded = "meterflow_exports_succeeded_total"
	ExportsFailed    = "meterflow_exports_failed_total"
	ExportsEmpty     = "meterflow_exports_empty_total"
	ExportsSkipped   = "meterflow_exports_skipped_total"
	ExportDuration   = "meterflow_export_duration_seconds"

	ArchiveWritten = "meterflow_archive_records_written_total"
	ArchiveDropped = "meterflow_archive_dropped_total"
	ArchiveDLQ     = "meterflow_archive_dlq_total"
	ArchiveLatency = "meterflow_archive_sink_latency_seconds"
	WALSizeBytes   = "meterflow_wal_size_bytes"
	QueueLength    = "meterflow_queue_length"
)

// PromObs implements ports.Observability with Prometheus collectors and slog.
type PromObs struct {
	log      *slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// NewPromObs registers all MeterFlow collectors with reg. A nil reg uses the
// default registerer; a nil logger uses slog.Default.
func NewPromObs(reg prometheus.Registerer, log *slog.Logger) (*PromObs, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if log == nil {
		log = slog.Default()
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}

	p := &PromObs{
		log: log,
		counters: map[string]prometheus.Counter{
			RecordsAccepted:   counter(RecordsAccepted, "Live sensorData payloads applied to the stream buffer."),
			RecordsRejected:   counter(RecordsRejected, "Live sensorData payloads rejected as malformed."),
			ReconnectAttempts: counter(ReconnectAttempts, "Transport reconnect attempts."),
			ExportsSucceeded:  counter(ExportsSucceeded, "Exports delivered."),
			ExportsFailed:     counter(ExportsFailed, "Exports that failed in query, render or delivery."),
			ExportsEmpty:      counter(ExportsEmpty, "Exports aborted because the store was empty."),
			ExportsSkipped:    counter(ExportsSkipped, "Export requests ignored while another export was running."),
			ArchiveWritten:    counter(ArchiveWritten, "Records written to the historical store by the archive recorder."),
			ArchiveDropped:    counter(ArchiveDropped, "Records the archive recorder could not accept."),
			ArchiveDLQ:        counter(ArchiveDLQ, "Archived records discarded as unwritable."),
		},
		gauges: map[string]prometheus.Gauge{
			ConnectionState: gauge(ConnectionState, "Connection phase: 0 connecting, 1 connected, 2 disconnected, 3 failed."),
			WALSizeBytes:    gauge(WALSizeBytes, "Size of the archive WAL on disk."),
			QueueLength:     gauge(QueueLength, "Records waiting in the archive queue."),
		},
		histos: map[string]prometheus.Observer{},
	}
	exportDur := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    ExportDuration,
		Help:    "Wall time of successful exports.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})
	archiveLat := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    ArchiveLatency,
		Help:    "Latency of archive batch writes to the store.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	p.histos[ExportDuration] = exportDur
	p.histos[ArchiveLatency] = archiveLat

	collectors := []prometheus.Collector{exportDur, archiveLat}
	for _, c := range p.counters {
		collectors = append(collectors, c)
	}
	for _, g := range p.gauges {
		collectors = append(collectors, g)
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.Info(msg, attrs(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(attrs(fields), slog.Any("err", err))...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(attrs(fields), slog.Any("err", err), slog.Bool("critical", true))...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordDLQ(id ports.WALEntryID, r *domain.Record, err error) {
	p.IncCounter(ArchiveDLQ, 1)
	args := []any{slog.Uint64("wal_id", uint64(id)), slog.Any("err", err)}
	if r != nil {
		args = append(args, slog.Time("ts", r.Timestamp))
	}
	p.log.Warn("archive record dropped", args...)
}

func attrs(fields []ports.Field) []any {
	out := make([]any, 0, len(fields)+2)
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

var _ ports.Observability = (*PromObs)(nil)
