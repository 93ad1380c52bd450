package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ghalamif/MeterFlow/internal/domain"
	"github.com/ghalamif/MeterFlow/internal/ports"
)

// RunEdgePipeline moves records from in through the WAL into the queue until
// in is closed or ctx is done.
func RunEdgePipeline(ctx context.Context, in <-chan *domain.Record, wal ports.WAL, q ports.RecordQueue, pol ports.Policy, obs ports.Observability) {
	for {
		var r *domain.Record
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-in:
			if !ok {
				return
			}
			r = rec
		}

		// Dropped records must never reach the WAL: a later Commit would move
		// the watermark past them.
		if !waitForQueueCapacity(ctx, q, pol, obs) {
			obs.IncCounter("meterflow_archive_dropped_total", 1)
			continue
		}
		if !waitForWALCapacity(ctx, wal, pol, obs) {
			obs.IncCounter("meterflow_archive_dropped_total", 1)
			continue
		}

		id, err := wal.Append(r)
		if err != nil {
			obs.LogCritical("wal_append_failed", err)
			obs.IncCounter("meterflow_archive_dropped_total", 1)
			continue
		}
		obs.SetGauge("meterflow_wal_size_bytes", float64(wal.Stats().SizeBytes))

		// This loop is the only producer once replay is done, so the slot
		// reserved above is still free.
		if !enqueueBlocking(ctx, q, id, r, idleSleep(pol)) {
			// uncommitted and nothing newer was queued; replayed on next start
			return
		}
		obs.SetGauge("meterflow_queue_length", float64(q.Len()))
	}
}

func idleSleep(pol ports.Policy) time.Duration {
	if pol.IdleSleep <= 0 {
		return 5 * time.Millisecond
	}
	return pol.IdleSleep
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func waitForWALCapacity(ctx context.Context, wal ports.WAL, pol ports.Policy, obs ports.Observability) bool {
	if pol.MaxWALSizeBytes <= 0 {
		return true
	}
	for {
		stats := wal.Stats()
		if stats.SizeBytes < pol.MaxWALSizeBytes {
			return true
		}

		switch pol.OnWALFull {
		case "block":
			if !sleepCtx(ctx, idleSleep(pol)) {
				return false
			}
		case "drop":
			obs.LogError("wal_full_drop", fmt.Errorf("size=%d limit=%d", stats.SizeBytes, pol.MaxWALSizeBytes))
			return false
		default:
			obs.LogError("wal_policy_invalid", fmt.Errorf("policy=%s", pol.OnWALFull))
			return false
		}
	}
}

// waitForQueueCapacity applies OnQueueFull before a record is written to the WAL.
func waitForQueueCapacity(ctx context.Context, q ports.RecordQueue, pol ports.Policy, obs ports.Observability) bool {
	for {
		if q.Len() < q.Cap() {
			return true
		}

		switch pol.OnQueueFull {
		case "block":
			if !sleepCtx(ctx, idleSleep(pol)) {
				return false
			}
		case "drop", "reject":
			obs.LogError("queue_full_drop", fmt.Errorf("queue length reached capacity %d", q.Cap()))
			return false
		default:
			obs.LogError("queue_policy_invalid", fmt.Errorf("policy=%s", pol.OnQueueFull))
			return false
		}
	}
}

// enqueueBlocking retries until q accepts the entry. It returns false only when ctx is done.
func enqueueBlocking(ctx context.Context, q ports.RecordQueue, id ports.WALEntryID, r *domain.Record, idle time.Duration) bool {
	for !q.Enqueue(id, r) {
		if !sleepCtx(ctx, idle) {
			return false
		}
	}
	return true
}
