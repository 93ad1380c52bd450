package ports

import "github.com/ghalamif/MeterFlow/internal/domain"

type QueuedRecord struct {
	ID     WALEntryID
	Record *domain.Record
}

type RecordQueue interface {
	Enqueue(id WALEntryID, r *domain.Record) bool
	DequeueBatch(max int) []QueuedRecord
	Len() int
	Cap() int
}
