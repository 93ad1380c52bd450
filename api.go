package meterflow

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	base "github.com/ghalamif/MeterFlow/pkg/meterflow"
)

// Re-exported errors for convenience.
var (
	ErrEmptyResult       = base.ErrEmptyResult
	ErrNoData            = base.ErrNoData
	ErrChannelSinkClosed = base.ErrChannelSinkClosed
)

const (
	CSV = base.CSV
	PDF = base.PDF
)

// Type aliases so consumers can import github.com/ghalamif/MeterFlow directly.
type (
	Config          = base.Config
	Policy          = base.Policy
	OPCUAConfig     = base.OPCUAConfig
	OPCUANodeConfig = base.OPCUANodeConfig
	Flow            = base.Flow
	FlowOption      = base.FlowOption
	StreamInOption  = base.StreamInOption
	StreamOutOption = base.StreamOutOption
	Runtime         = base.Runtime
	RuntimeOption   = base.RuntimeOption
	Record          = base.Record
	RecordBatchSink = base.RecordBatchSink
	Snapshot        = base.Snapshot
	State           = base.State
	Format          = base.Format
	ExportResult    = base.ExportResult
	Transport       = base.Transport
	HistoricalStore = base.HistoricalStore
	Deliverer       = base.Deliverer
	DelivererFunc   = base.DelivererFunc
	Artifact        = base.Artifact
	Sink            = base.Sink
	RecordQueue     = base.RecordQueue
	WAL             = base.WAL
	Observability   = base.Observability
	QueuedRecord    = base.QueuedRecord
	WALEntryID      = base.WALEntryID
	WALStats        = base.WALStats
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func ParseFormat(s string) (Format, error) {
	return base.ParseFormat(s)
}

func UserMessage(err error) string {
	return base.UserMessage(err)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInTransport(t Transport) StreamInOption {
	return base.StreamInTransport(t)
}

func StreamInQueue(q RecordQueue) StreamInOption {
	return base.StreamInQueue(q)
}

func StreamInWAL(w WAL) StreamInOption {
	return base.StreamInWAL(w)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutStore(s HistoricalStore) StreamOutOption {
	return base.StreamOutStore(s)
}

func StreamOutDeliverer(d Deliverer) StreamOutOption {
	return base.StreamOutDeliverer(d)
}

func StreamOutSink(s Sink) StreamOutOption {
	return base.StreamOutSink(s)
}

func StreamOutCallback(name string, fn RecordBatchSink) StreamOutOption {
	return base.StreamOutCallback(name, fn)
}

// Runtime and options.
func NewRuntime(ctx context.Context, cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(ctx, cfg, opts...)
}

func WithTransport(t Transport) RuntimeOption {
	return base.WithTransport(t)
}

func WithStore(s HistoricalStore) RuntimeOption {
	return base.WithStore(s)
}

func WithDeliverer(d Deliverer) RuntimeOption {
	return base.WithDeliverer(d)
}

func WithSink(s Sink) RuntimeOption {
	return base.WithSink(s)
}

func WithWAL(w WAL) RuntimeOption {
	return base.WithWAL(w)
}

func WithRecordQueue(q RecordQueue) RuntimeOption {
	return base.WithRecordQueue(q)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

func WithLogger(l *slog.Logger) RuntimeOption {
	return base.WithLogger(l)
}

func WithRegistry(reg *prometheus.Registry) RuntimeOption {
	return base.WithRegistry(reg)
}

func WithoutListeners() RuntimeOption {
	return base.WithoutListeners()
}

// Sink adapters.
func NewCallbackSink(name string, fn RecordBatchSink) Sink {
	return base.NewCallbackSink(name, fn)
}

func NewChannelSink(name string, buffer int) (Sink, <-chan []Record, func()) {
	return base.NewChannelSink(name, buffer)
}
