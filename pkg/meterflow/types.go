package meterflow

import (
	"github.com/ghalamif/MeterFlow/internal/connection"
	"github.com/ghalamif/MeterFlow/internal/domain"
	"github.com/ghalamif/MeterFlow/internal/export"
	"github.com/ghalamif/MeterFlow/internal/ports"
	"github.com/ghalamif/MeterFlow/internal/report"
	"github.com/ghalamif/MeterFlow/internal/stream"
)

// Record is one metering reading.
type Record = domain.Record

// Snapshot is an immutable copy of the live windows.
type Snapshot = stream.Snapshot

// State is the connection monitor's current state.
type State = connection.State

// Format selects the export document type.
type Format = report.Format

const (
	CSV = report.CSV
	PDF = report.PDF
)

// ExportResult describes one export run.
type ExportResult = export.Result

// Transport is a persistent, reconnecting source of sensorData events.
type Transport = ports.Transport

// Event and EventKind describe what a Transport emits.
type (
	Event     = ports.Event
	EventKind = ports.EventKind
)

// HistoricalStore serves the records an export reads.
type HistoricalStore = ports.HistoricalStore

// Deliverer hands a rendered export to the user.
type Deliverer = ports.Deliverer

// Artifact is a rendered export.
type Artifact = ports.Artifact

// Sink receives batches of archived records.
type Sink = ports.Sink

// RecordQueue is the bounded queue between the archive WAL and sink.
type RecordQueue = ports.RecordQueue

// QueuedRecord is an item buffered inside the RecordQueue.
type QueuedRecord = ports.QueuedRecord

// Observability emits metrics/logs about the live stream, exports and archive.
type Observability = ports.Observability

// Field is a structured log/metric field used by Observability implementations.
type Field = ports.Field

// WAL abstracts the write-ahead log used by the archive recorder.
type WAL = ports.WAL

// WALStats exposes WAL metadata for observability.
type WALStats = ports.WALStats

// WALEntryID uniquely identifies a WAL entry.
type WALEntryID = ports.WALEntryID

var (
	// ErrEmptyResult is returned by Export when the store has nothing.
	ErrEmptyResult = export.ErrEmptyResult
	// ErrNoData lets custom stores signal an empty result.
	ErrNoData = ports.ErrNoData
)

// UserMessage turns an export error into alert text.
func UserMessage(err error) string { return export.UserMessage(err) }

// ParseFormat accepts "csv" or "pdf".
func ParseFormat(s string) (Format, error) { return report.ParseFormat(s) }
