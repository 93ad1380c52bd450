// Package sim generates plausible single-phase meter readings and serves them
// over the same websocket envelope the live transport consumes.
package sim

import (
	"math"
	"math/rand"
	"time"

	"github.com/ghalamif/MeterFlow/internal/domain"
)

const (
	nominalVoltage = 220.0
	voltageJitter  = 6.0
	minCurrent     = 0.2
	maxCurrent     = 25.0
)

// Meter is a stateful reading generator. Energy accumulates from power over
// the elapsed time between readings. It is not safe for concurrent use.
type Meter struct {
	rand    *rand.Rand
	energy  float64
	current float64
	last    time.Time
}

// NewMeter seeds a meter starting from energy kWh.
func NewMeter(seed int64, energy float64) *Meter {
	r := rand.New(rand.NewSource(seed))
	return &Meter{rand: r, energy: energy, current: 2 + r.Float64()*8}
}

// Read returns the reading at t. Readings at or before the previous one do not
// advance the energy counter.
func (m *Meter) Read(t time.Time) domain.Record {
	m.current = clamp(m.current+m.rand.NormFloat64()*0.8, minCurrent, maxCurrent)
	voltage := nominalVoltage + m.rand.NormFloat64()*voltageJitter/3
	pf := 0.85 + m.rand.Float64()*0.14
	power := voltage * m.current * pf

	if !m.last.IsZero() && t.After(m.last) {
		m.energy += power * t.Sub(m.last).Hours() / 1000
	}
	m.last = t

	return domain.Record{
		Timestamp: t,
		Energy:    round(m.energy, 3),
		Current:   round(m.current, 2),
		Voltage:   round(voltage, 1),
		Power:     math.Round(power),
	}
}

// Backfill produces n readings spaced step apart and ending at end, oldest first.
func (m *Meter) Backfill(n int, end time.Time, step time.Duration) []domain.Record {
	if n <= 0 {
		return nil
	}
	out := make([]domain.Record, 0, n)
	start := end.Add(-time.Duration(n-1) * step)
	for i := 0; i < n; i++ {
		out = append(out, m.Read(start.Add(time.Duration(i)*step)))
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
