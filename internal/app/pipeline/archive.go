// Package pipeline runs the archive recorder: live records are appended to a
// WAL, queued, and written to the historical store in batches.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/ghalamif/MeterFlow/internal/domain"
	"github.com/ghalamif/MeterFlow/internal/ports"
)

// DefaultCompactInterval is how often committed WAL entries are reclaimed.
const DefaultCompactInterval = time.Minute

type pendingReader interface {
	Pending() ([]ports.QueuedRecord, error)
}

type compactor interface {
	Compact() error
}

// Recorder copies accepted live records into the historical store. Tap never
// blocks: when the inbound buffer is full the record is dropped and counted.
type Recorder struct {
	in   chan *domain.Record
	wal  ports.WAL
	q    ports.RecordQueue
	sink ports.Sink
	pol  ports.Policy
	obs  ports.Observability

	CompactInterval time.Duration
}

func NewRecorder(wal ports.WAL, q ports.RecordQueue, sink ports.Sink, pol ports.Policy, obs ports.Observability) *Recorder {
	if obs == nil {
		obs = ports.NopObservability{}
	}
	size := pol.MaxQueueLen
	if size <= 0 {
		size = 1024
	}
	return &Recorder{
		in:              make(chan *domain.Record, size),
		wal:             wal,
		q:               q,
		sink:            sink,
		pol:             pol,
		obs:             obs,
		CompactInterval: DefaultCompactInterval,
	}
}

// Tap offers rec to the recorder.
func (r *Recorder) Tap(rec domain.Record) {
	select {
	case r.in <- &rec:
	default:
		r.obs.IncCounter("meterflow_archive_dropped_total", 1)
	}
}

// Run replays uncommitted WAL entries, then moves records until ctx is done.
// The WAL is closed on return.
func (r *Recorder) Run(ctx context.Context) error {
	defer func() {
		if err := r.wal.Close(); err != nil {
			r.obs.LogError("wal_close_failed", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		RunIngestPipeline(ctx, r.wal, r.q, r.sink, r.pol, r.obs)
	}()
	go func() {
		defer wg.Done()
		r.compactLoop(ctx)
	}()

	// Pending entries go ahead of new ones so the WAL commits in order.
	if err := r.replay(ctx); err != nil {
		cancel()
		wg.Wait()
		return err
	}
	RunEdgePipeline(ctx, r.in, r.wal, r.q, r.pol, r.obs)
	wg.Wait()
	return nil
}

func (r *Recorder) replay(ctx context.Context) error {
	pr, ok := r.wal.(pendingReader)
	if !ok {
		return nil
	}
	pending, err := pr.Pending()
	if err != nil {
		return err
	}
	for _, item := range pending {
		if !enqueueBlocking(ctx, r.q, item.ID, item.Record, idleSleep(r.pol)) {
			return ctx.Err()
		}
	}
	if len(pending) > 0 {
		r.obs.LogInfo("wal_replay", ports.Field{Key: "records", Value: len(pending)})
	}
	return nil
}

func (r *Recorder) compactLoop(ctx context.Context) {
	c, ok := r.wal.(compactor)
	if !ok || r.CompactInterval <= 0 {
		return
	}
	ticker := time.NewTicker(r.CompactInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Compact(); err != nil {
				r.obs.LogError("wal_compact_failed", err)
				continue
			}
			r.obs.SetGauge("meterflow_wal_size_bytes", float64(r.wal.Stats().SizeBytes))
		}
	}
}
