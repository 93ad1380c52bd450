package ports

import "github.com/ghalamif/MeterFlow/internal/domain"

type Observability interface {
	LogInfo(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	IncCounter(name string, v float64)
	ObserveLatency(name string, seconds float64)

	SetGauge(name string, v float64)

	RecordDLQ(id WALEntryID, r *domain.Record, err error)
}

type Field struct {
	Key   string
	Value any
}

// NopObservability discards everything. Used when a component is built without metrics.
type NopObservability struct{}

func (NopObservability) LogInfo(string, ...Field)                     {}
func (NopObservability) LogError(string, error, ...Field)             {}
func (NopObservability) LogCritical(string, error, ...Field)          {}
func (NopObservability) IncCounter(string, float64)                   {}
func (NopObservability) ObserveLatency(string, float64)               {}
func (NopObservability) SetGauge(string, float64)                     {}
func (NopObservability) RecordDLQ(WALEntryID, *domain.Record, error) {}
