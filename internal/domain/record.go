package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ErrMalformedPayload is returned when a sensorData payload cannot be turned into a Record.
var ErrMalformedPayload = errors.New("malformed telemetry payload")

// Record is the canonical unit of metering telemetry in MeterFlow.
type Record struct {
	Timestamp time.Time `json:"ts"`
	Energy    float64   `json:"kwh"`
	Current   float64   `json:"arus"`
	Voltage   float64   `json:"tegangan"`
	Power     float64   `json:"daya"`
}

// Payload is the sensorData message as pushed by the meter gateway.
// Metric fields are pointers so that absent keys can be told apart from zero readings.
type Payload struct {
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
	KWH       *float64        `json:"kwh"`
	Arus      *float64        `json:"arus"`
	Tegangan  *float64        `json:"tegangan"`
	Daya      *float64        `json:"daya"`
}

// DecodePayload parses raw JSON and validates it into a Record. received is used
// when the payload carries no timestamp of its own.
func DecodePayload(raw []byte, received time.Time) (Record, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return p.Record(received)
}

// Record validates the payload and converts it.
func (p Payload) Record(received time.Time) (Record, error) {
	ts, err := parseTimestamp(p.Timestamp, received)
	if err != nil {
		return Record{}, err
	}

	energy, err := metric("kwh", p.KWH, true)
	if err != nil {
		return Record{}, err
	}
	current, err := metric("arus", p.Arus, true)
	if err != nil {
		return Record{}, err
	}
	voltage, err := metric("tegangan", p.Tegangan, false)
	if err != nil {
		return Record{}, err
	}
	power, err := metric("daya", p.Daya, true)
	if err != nil {
		return Record{}, err
	}

	return Record{
		Timestamp: ts,
		Energy:    energy,
		Current:   current,
		Voltage:   voltage,
		Power:     power,
	}, nil
}

func metric(name string, v *float64, nonNegative bool) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: missing %s", ErrMalformedPayload, name)
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0, fmt.Errorf("%w: %s is not finite", ErrMalformedPayload, name)
	}
	if nonNegative && *v < 0 {
		return 0, fmt.Errorf("%w: %s must be >= 0, got %v", ErrMalformedPayload, name, *v)
	}
	return *v, nil
}

// parseTimestamp accepts epoch milliseconds (number or numeric string) or an RFC 3339 string.
func parseTimestamp(raw json.RawMessage, received time.Time) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return received, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("%w: timestamp: %v", ErrMalformedPayload, err)
		}
		if s == "" {
			return received, nil
		}
		if ms, err := strconv.ParseFloat(s, 64); err == nil {
			return fromMillis(ms)
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("%w: unparseable timestamp %q", ErrMalformedPayload, s)
	}

	var ms float64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp: %v", ErrMalformedPayload, err)
	}
	return fromMillis(ms)
}

// Numeric timestamps are epoch milliseconds between 2000-01-01 and 2100-01-01.
// Anything outside is most likely epoch seconds or garbage.
const (
	minEpochMillis = 946684800000
	maxEpochMillis = 4102444800000
)

func fromMillis(ms float64) (time.Time, error) {
	if math.IsNaN(ms) || ms < minEpochMillis || ms >= maxEpochMillis {
		return time.Time{}, fmt.Errorf("%w: timestamp %v is not epoch milliseconds in [2000, 2100)", ErrMalformedPayload, ms)
	}
	return time.UnixMilli(int64(ms)), nil
}
