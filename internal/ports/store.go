package ports

import (
	"context"
	"errors"

	"github.com/ghalamif/MeterFlow/internal/domain"
)

// ErrNoData is the store's explicit "nothing matched" signal.
var ErrNoData = errors.New("historical store: no data")

// HistoricalStore is the queryable telemetry history used by exports.
type HistoricalStore interface {
	// Latest returns up to limit of the most recent records. Ordering is a hint only.
	Latest(ctx context.Context, limit int) ([]domain.Record, error)
}
