package stream

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ghalamif/MeterFlow/internal/domain"
)

var base = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func rec(i int) domain.Record {
	return domain.Record{
		Timestamp: base.Add(time.Duration(i) * time.Second),
		Energy:    float64(i),
		Current:   float64(i) / 10,
		Voltage:   200 + float64(i),
		Power:     float64(i) * 100,
	}
}

func assertAligned(t *testing.T, s Snapshot, max int) {
	t.Helper()
	n := len(s.Labels)
	if len(s.Energy) != n || len(s.Current) != n || len(s.Voltage) != n || len(s.Power) != n {
		t.Fatalf("windows out of alignment: kwh=%d arus=%d tegangan=%d daya=%d labels=%d",
			len(s.Energy), len(s.Current), len(s.Voltage), len(s.Power), n)
	}
	if n > max {
		t.Fatalf("window length %d exceeds capacity %d", n, max)
	}
}

func TestBufferWindowsStayAlignedAndBounded(t *testing.T) {
	for _, capacity := range []int{1, 3, DefaultCapacity} {
		t.Run(fmt.Sprintf("cap=%d", capacity), func(t *testing.T) {
			b := NewBuffer(capacity, WithLocation(time.UTC))
			for i := 1; i <= capacity*3; i++ {
				b.Append(rec(i))
				s := b.Snapshot()
				assertAligned(t, s, capacity)
				want := min(i, capacity)
				if s.Len() != want {
					t.Fatalf("after %d appends expected len %d, got %d", i, want, s.Len())
				}
			}
		})
	}
}

func TestBufferKeepsLastNInArrivalOrder(t *testing.T) {
	const n, k = 5, 7
	b := NewBuffer(n, WithLocation(time.UTC))
	for i := 1; i <= n+k; i++ {
		b.Append(rec(i))
	}

	s := b.Snapshot()
	for idx := 0; idx < n; idx++ {
		want := float64(k + 1 + idx)
		if s.Energy[idx] != want {
			t.Fatalf("energy[%d] = %v, want %v", idx, s.Energy[idx], want)
		}
		if s.Power[idx] != want*100 {
			t.Fatalf("power[%d] = %v, want %v", idx, s.Power[idx], want*100)
		}
	}
	for _, v := range s.Energy {
		if v <= k {
			t.Fatalf("evicted sample %v still reachable", v)
		}
	}
}

func TestBufferTwentyFiveEvents(t *testing.T) {
	b := NewBuffer(DefaultCapacity, WithLocation(time.UTC))
	for i := 1; i <= 25; i++ {
		b.Append(rec(i))
		s := b.Snapshot()
		if i >= DefaultCapacity && s.Len() != DefaultCapacity {
			t.Fatalf("after event %d expected len 20, got %d", i, s.Len())
		}
		first := 1
		if i > DefaultCapacity {
			first = i - DefaultCapacity + 1
		}
		wantLabel := rec(first).Timestamp.Format(DefaultLabelLayout)
		if s.Labels[0] != wantLabel {
			t.Fatalf("after event %d label[0] = %s, want %s", i, s.Labels[0], wantLabel)
		}
	}
	if got := b.Snapshot().Labels[0]; got != "08:00:06" {
		t.Fatalf("expected label of 6th event at index 0, got %s", got)
	}
}

func TestSnapshotIsIsolatedFromLaterAppends(t *testing.T) {
	b := NewBuffer(3)
	b.Append(rec(1))
	s := b.Snapshot()
	b.Append(rec(2))
	s.Energy[0] = 99

	if s.Len() != 1 {
		t.Fatalf("snapshot should not grow, got %d", s.Len())
	}
	if b.Snapshot().Energy[0] != 1 {
		t.Fatalf("mutating a snapshot leaked into the buffer")
	}
}

func TestBufferDefaultsAndLabelLayout(t *testing.T) {
	b := NewBuffer(0, WithLabelLayout("15:04"), WithLocation(time.UTC))
	if b.Capacity() != DefaultCapacity {
		t.Fatalf("expected default capacity, got %d", b.Capacity())
	}
	b.Append(rec(0))
	if got := b.Snapshot().Labels[0]; got != "08:00" {
		t.Fatalf("unexpected label %q", got)
	}
	if got := b.Snapshot().Values(Voltage); len(got) != 1 || got[0] != 200 {
		t.Fatalf("unexpected voltage window %v", got)
	}
	if Info(Voltage).Precision != 1 || Info(Power).Unit != "W" {
		t.Fatalf("unexpected channel info")
	}
}

func TestBufferConcurrentAppendAndSnapshot(t *testing.T) {
	b := NewBuffer(DefaultCapacity)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			b.Append(rec(i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			assertAligned(t, b.Snapshot(), DefaultCapacity)
		}
	}()
	wg.Wait()
}

func TestAppendAtLabelsWithReceiptTime(t *testing.T) {
	b := NewBuffer(2, WithLocation(time.UTC))
	r := rec(0)
	b.AppendAt(r, time.Date(2024, 5, 1, 23, 59, 58, 0, time.UTC))
	b.Append(r)

	got := b.Snapshot().Labels
	if len(got) != 2 || got[0] != "23:59:58" || got[1] != r.Timestamp.UTC().Format(DefaultLabelLayout) {
		t.Fatalf("unexpected labels %v", got)
	}
}
