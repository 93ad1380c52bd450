package pipeline

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/ghalamif/MeterFlow/internal/domain"
	"github.com/ghalamif/MeterFlow/internal/ports"
)

var errUnwritable = errors.New("record has no timestamp or non-finite values")

// RunIngestPipeline drains the queue into sink and commits the WAL after each
// successful batch. It returns when ctx is done.
func RunIngestPipeline(ctx context.Context, wal ports.WAL, q ports.RecordQueue, sink ports.Sink, pol ports.Policy, obs ports.Observability) {
	for {
		if ctx.Err() != nil {
			return
		}
		batch := q.DequeueBatch(pol.MaxBatchSize)
		if len(batch) == 0 {
			if !sleepCtx(ctx, idleSleep(pol)) {
				return
			}
			continue
		}
		obs.SetGauge("meterflow_queue_length", float64(q.Len()))

		var (
			out   = make([]*domain.Record, 0, len(batch))
			maxID ports.WALEntryID
		)
		for _, item := range batch {
			if item.ID > maxID {
				maxID = item.ID
			}
			if !writable(item.Record) {
				obs.RecordDLQ(item.ID, item.Record, errUnwritable)
				continue
			}
			out = append(out, item.Record)
		}

		if len(out) == 0 {
			_ = wal.Commit(maxID)
			continue
		}

		start := time.Now()
		if !writeWithRetry(ctx, sink, out, pol, obs) {
			// uncommitted; replayed from the WAL on next start
			return
		}
		obs.ObserveLatency("meterflow_archive_sink_latency_seconds", time.Since(start).Seconds())
		obs.IncCounter("meterflow_archive_records_written_total", float64(len(out)))

		if err := wal.Commit(maxID); err != nil {
			obs.LogError("wal_commit_failed", err)
		}
	}
}

// writeWithRetry retries the same batch with capped backoff so later commits
// never skip past an unwritten batch. It returns false only when ctx is done.
func writeWithRetry(ctx context.Context, sink ports.Sink, out []*domain.Record, pol ports.Policy, obs ports.Observability) bool {
	backoff := idleSleep(pol)
	for {
		err := sink.WriteBatch(out)
		if err == nil {
			return true
		}
		obs.LogError("sink_write_failed", err, ports.Field{Key: "sink", Value: sink.Name()}, ports.Field{Key: "records", Value: len(out)})
		if !sleepCtx(ctx, backoff) {
			return false
		}
		backoff = min(backoff*2, maxWriteBackoff)
	}
}

const maxWriteBackoff = 5 * time.Second

func writable(r *domain.Record) bool {
	if r == nil || r.Timestamp.IsZero() {
		return false
	}
	for _, v := range []float64{r.Energy, r.Current, r.Voltage, r.Power} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
