package report

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ghalamif/MeterFlow/internal/domain"
)

// Header is the column row shared by every format.
var Header = []string{"Timestamp", "KWH", "Arus (A)", "Tegangan (V)", "Daya (W)"}

const (
	// CSVTimeLayout is ISO-8601 in UTC with millisecond precision.
	CSVTimeLayout = "2006-01-02T15:04:05.000Z07:00"
	// DefaultDocumentTimeLayout is the day-first locale layout used in PDFs.
	DefaultDocumentTimeLayout = "02/01/2006 15:04:05"
	DefaultTitle              = "Data Sensor"
)

// Fixed decimal places per column.
const (
	EnergyPlaces  = 2
	CurrentPlaces = 2
	VoltagePlaces = 1
	PowerPlaces   = 0
)

// Options control the parts of rendering that vary by deployment.
type Options struct {
	Title              string
	Location           *time.Location
	DocumentTimeLayout string
	// Now stamps document metadata. Defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Title == "" {
		o.Title = DefaultTitle
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.DocumentTimeLayout == "" {
		o.DocumentTimeLayout = DefaultDocumentTimeLayout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Rows formats records for f. Numbers are rounded half away from zero on their
// shortest decimal representation, so 1.005 becomes 1.01.
func Rows(records []domain.Record, f Format, opts Options) [][]string {
	opts = opts.withDefaults()
	out := make([][]string, 0, len(records))
	for _, r := range records {
		out = append(out, []string{
			timestamp(r.Timestamp, f, opts),
			fixed(r.Energy, EnergyPlaces),
			fixed(r.Current, CurrentPlaces),
			fixed(r.Voltage, VoltagePlaces),
			fixed(r.Power, PowerPlaces),
		})
	}
	return out
}

func timestamp(t time.Time, f Format, opts Options) string {
	if f == CSV {
		return t.UTC().Format(CSVTimeLayout)
	}
	return t.In(opts.Location).Format(opts.DocumentTimeLayout)
}

func fixed(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}
