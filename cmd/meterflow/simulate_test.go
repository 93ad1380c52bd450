package main

import (
	"testing"
	"time"

	"github.com/ghalamif/MeterFlow/internal/domain"
	"github.com/ghalamif/MeterFlow/internal/sim"
)

func TestBackfillBatches(t *testing.T) {
	var sizes []int
	sink := batchCounter(func(n int) { sizes = append(sizes, n) })
	if err := backfill(sink, simMeter(), 1200, time.Now(), time.Second); err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if len(sizes) != 3 || sizes[0] != 500 || sizes[1] != 500 || sizes[2] != 200 {
		t.Fatalf("batch sizes = %v", sizes)
	}
}

type batchCounter func(int)

func (b batchCounter) WriteBatch(recs []*domain.Record) error {
	b(len(recs))
	return nil
}

func (b batchCounter) Name() string { return "counter" }

func simMeter() *sim.Meter { return sim.NewMeter(1, 0) }
