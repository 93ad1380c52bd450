package main

import (
	"strings"
	"testing"
	"time"

	"github.com/ghalamif/MeterFlow/internal/adapters/observability"
)

func TestParseMetrics(t *testing.T) {
	body := `# HELP meterflow_records_accepted_total Records applied to the live buffer.
# TYPE meterflow_records_accepted_total counter
meterflow_records_accepted_total 42
meterflow_records_rejected_total 3
meterflow_queue_length 7
meterflow_wal_size_bytes 1.5e+06
go_goroutines 12
`
	values, err := parseMetrics(strings.NewReader(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if values[observability.RecordsAccepted] != 42 {
		t.Fatalf("accepted = %v", values[observability.RecordsAccepted])
	}
	if values[observability.RecordsRejected] != 3 {
		t.Fatalf("rejected = %v", values[observability.RecordsRejected])
	}
	if values[observability.WALSizeBytes] != 1.5e6 {
		t.Fatalf("wal bytes = %v", values[observability.WALSizeBytes])
	}
	if _, ok := values["go_goroutines"]; ok {
		t.Fatalf("unexpected metric collected")
	}
}

func TestFormatStats(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	line := formatStats(at, map[string]float64{observability.RecordsAccepted: 10, observability.QueueLength: 2})
	for _, want := range []string{"[2024-05-01T10:00:00Z]", "accepted=10", "queue=2", "rejected=0"} {
		if !strings.Contains(line, want) {
			t.Fatalf("%q missing %q", line, want)
		}
	}
}
