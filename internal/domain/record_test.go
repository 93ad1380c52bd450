package domain

import (
	"errors"
	"testing"
	"time"
)

func TestDecodePayload(t *testing.T) {
	received := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		raw     string
		wantTS  time.Time
		wantErr bool
	}{
		{
			name:   "epoch millis",
			raw:    `{"timestamp":1714557600000,"kwh":1.5,"arus":2,"tegangan":220,"daya":440}`,
			wantTS: time.UnixMilli(1714557600000),
		},
		{
			name:   "rfc3339 string",
			raw:    `{"timestamp":"2024-05-01T10:00:00Z","kwh":1.5,"arus":2,"tegangan":220,"daya":440}`,
			wantTS: received,
		},
		{
			name:   "numeric string",
			raw:    `{"timestamp":"1714557600000","kwh":1.5,"arus":2,"tegangan":220,"daya":440}`,
			wantTS: time.UnixMilli(1714557600000),
		},
		{
			name:   "missing timestamp uses receipt time",
			raw:    `{"kwh":1.5,"arus":2,"tegangan":220,"daya":440}`,
			wantTS: received,
		},
		{name: "missing metric", raw: `{"kwh":1.5,"arus":2,"tegangan":220}`, wantErr: true},
		{name: "negative power", raw: `{"kwh":1.5,"arus":2,"tegangan":220,"daya":-1}`, wantErr: true},
		{name: "bad timestamp", raw: `{"timestamp":"yesterday","kwh":1,"arus":1,"tegangan":1,"daya":1}`, wantErr: true},
		{name: "not json", raw: `kwh=1`, wantErr: true},
		{name: "epoch seconds", raw: `{"timestamp":1714557600,"kwh":1,"arus":1,"tegangan":1,"daya":1}`, wantErr: true},
		{name: "epoch seconds as string", raw: `{"timestamp":"1714557600","kwh":1,"arus":1,"tegangan":1,"daya":1}`, wantErr: true},
		{name: "beyond int64", raw: `{"timestamp":1e300,"kwh":1,"arus":1,"tegangan":1,"daya":1}`, wantErr: true},
		{name: "negative", raw: `{"timestamp":-5,"kwh":1,"arus":1,"tegangan":1,"daya":1}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := DecodePayload([]byte(tt.raw), received)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedPayload) {
					t.Fatalf("expected ErrMalformedPayload, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !rec.Timestamp.Equal(tt.wantTS) {
				t.Fatalf("timestamp = %s, want %s", rec.Timestamp, tt.wantTS)
			}
			if rec.Energy != 1.5 || rec.Current != 2 || rec.Voltage != 220 || rec.Power != 440 {
				t.Fatalf("unexpected values: %+v", rec)
			}
		})
	}
}

func TestPayloadZeroReadingsAreValid(t *testing.T) {
	zero := 0.0
	p := Payload{KWH: &zero, Arus: &zero, Tegangan: &zero, Daya: &zero}
	if _, err := p.Record(time.Now()); err != nil {
		t.Fatalf("zero readings should be accepted: %v", err)
	}
}
