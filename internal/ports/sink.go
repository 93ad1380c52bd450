package ports

import "github.com/ghalamif/MeterFlow/internal/domain"

// Sink persists archived records, typically into the historical store.
type Sink interface {
	WriteBatch(records []*domain.Record) error
	Name() string
}
