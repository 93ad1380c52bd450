package stream

import (
	"slices"
	"sync"
	"time"

	"github.com/ghalamif/MeterFlow/internal/domain"
)

// DefaultCapacity is the number of samples kept per window.
const DefaultCapacity = 20

// DefaultLabelLayout renders labels as a local wall-clock time.
const DefaultLabelLayout = "15:04:05"

// Buffer is a fixed-capacity, multi-channel sliding window.
type Buffer struct {
	mu       sync.RWMutex
	capacity int
	layout   string
	loc      *time.Location

	energy  []float64
	current []float64
	voltage []float64
	power   []float64
	labels  []string
}

// Option customizes a Buffer.
type Option func(*Buffer)

// WithLabelLayout overrides the time layout used for labels.
func WithLabelLayout(layout string) Option {
	return func(b *Buffer) {
		if layout != "" {
			b.layout = layout
		}
	}
}

// WithLocation sets the zone labels are rendered in.
func WithLocation(loc *time.Location) Option {
	return func(b *Buffer) {
		if loc != nil {
			b.loc = loc
		}
	}
}

// NewBuffer returns an empty buffer holding at most capacity samples per window.
// A non-positive capacity falls back to DefaultCapacity.
func NewBuffer(capacity int, opts ...Option) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Buffer{
		capacity: capacity,
		layout:   DefaultLabelLayout,
		loc:      time.Local,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	b.energy = make([]float64, 0, capacity+1)
	b.current = make([]float64, 0, capacity+1)
	b.voltage = make([]float64, 0, capacity+1)
	b.power = make([]float64, 0, capacity+1)
	b.labels = make([]string, 0, capacity+1)
	return b
}

// Capacity returns N.
func (b *Buffer) Capacity() int { return b.capacity }

// Append pushes rec onto every window, labelled with its own timestamp, and
// evicts the oldest sample once N is exceeded.
func (b *Buffer) Append(rec domain.Record) {
	b.AppendAt(rec, rec.Timestamp)
}

// AppendAt is Append with the label taken from received, the time the sample
// reached us. Live charts use it so a meter with a skewed clock still plots
// on the local axis.
func (b *Buffer) AppendAt(rec domain.Record, received time.Time) {
	label := received.In(b.loc).Format(b.layout)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.energy = push(b.energy, rec.Energy, b.capacity)
	b.current = push(b.current, rec.Current, b.capacity)
	b.voltage = push(b.voltage, rec.Voltage, b.capacity)
	b.power = push(b.power, rec.Power, b.capacity)
	b.labels = push(b.labels, label, b.capacity)
}

// Len returns the current number of samples held.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.labels)
}

// Snapshot returns a copy of the current windows.
func (b *Buffer) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Snapshot{
		Capacity: b.capacity,
		Energy:   slices.Clone(b.energy),
		Current:  slices.Clone(b.current),
		Voltage:  slices.Clone(b.voltage),
		Power:    slices.Clone(b.power),
		Labels:   slices.Clone(b.labels),
	}
}

// push appends v and drops from the front until len(w) <= n. The backing array
// is reused so steady-state appends do not allocate.
func push[T any](w []T, v T, n int) []T {
	w = append(w, v)
	if over := len(w) - n; over > 0 {
		w = append(w[:0], w[over:]...)
	}
	return w
}

// Snapshot is an immutable read of the buffer. Index i of every slice refers to
// the same sample, oldest first.
type Snapshot struct {
	Capacity int       `json:"capacity"`
	Energy   []float64 `json:"kwh"`
	Current  []float64 `json:"arus"`
	Voltage  []float64 `json:"tegangan"`
	Power    []float64 `json:"daya"`
	Labels   []string  `json:"labels"`
}

// Len returns the number of samples in the snapshot.
func (s Snapshot) Len() int { return len(s.Labels) }

// Values returns the window for c.
func (s Snapshot) Values(c Channel) []float64 {
	switch c {
	case Energy:
		return s.Energy
	case Current:
		return s.Current
	case Voltage:
		return s.Voltage
	case Power:
		return s.Power
	default:
		return nil
	}
}
