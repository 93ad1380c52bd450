package report

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/ghalamif/MeterFlow/internal/domain"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestRenderCSVFormatsFixedPrecision(t *testing.T) {
	recs := []domain.Record{{Timestamp: t0, Energy: 1.005, Current: 2.1, Voltage: 219.95, Power: 1500}}

	var buf bytes.Buffer
	if err := Render(&buf, CSV, recs, Options{}); err != nil {
		t.Fatalf("render: %v", err)
	}

	want := "Timestamp,KWH,Arus (A),Tegangan (V),Daya (W)\n" +
		"2024-05-01T10:00:00.000Z,1.01,2.10,220.0,1500\n"
	if got := buf.String(); got != want {
		t.Fatalf("unexpected csv:\n%s\nwant:\n%s", got, want)
	}
}

func TestRowsRounding(t *testing.T) {
	tests := []struct {
		name string
		rec  domain.Record
		want []string
	}{
		{"zeros", domain.Record{}, []string{"0.00", "0.00", "0.0", "0"}},
		{"half up", domain.Record{Energy: 2.345, Current: 0.125, Voltage: 230.05, Power: 99.5}, []string{"2.35", "0.13", "230.1", "100"}},
		{"below half", domain.Record{Energy: 2.344, Current: 9.994, Voltage: 230.04, Power: 1499.4}, []string{"2.34", "9.99", "230.0", "1499"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := Rows([]domain.Record{tt.rec}, CSV, Options{})[0]
			for i, want := range tt.want {
				if row[i+1] != want {
					t.Fatalf("column %s = %s, want %s", Header[i+1], row[i+1], want)
				}
			}
		})
	}
}

func TestRowsDocumentTimestampUsesLocation(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*3600)
	row := Rows([]domain.Record{{Timestamp: t0}}, PDF, Options{Location: jakarta})[0]
	if row[0] != "01/05/2024 17:00:00" {
		t.Fatalf("unexpected document timestamp %q", row[0])
	}
}

func TestRenderCSVKeepsGivenOrder(t *testing.T) {
	recs := []domain.Record{
		{Timestamp: t0.Add(2 * time.Second)},
		{Timestamp: t0},
	}
	var buf bytes.Buffer
	if err := Render(&buf, CSV, recs, Options{}); err != nil {
		t.Fatalf("render: %v", err)
	}
	lines, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(lines) != 3 || !strings.HasSuffix(lines[1][0], "10:00:02.000Z") {
		t.Fatalf("unexpected rows %v", lines)
	}
}

func TestRenderPDFPaginates(t *testing.T) {
	recs := make([]domain.Record, 120)
	for i := range recs {
		recs[i] = domain.Record{Timestamp: t0.Add(time.Duration(i) * time.Second), Energy: float64(i), Voltage: 220}
	}

	var buf bytes.Buffer
	opts := Options{Location: time.UTC, Now: func() time.Time { return t0 }}
	if err := Render(&buf, PDF, recs, opts); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.Bytes()
	if !bytes.HasPrefix(out, []byte("%PDF-")) {
		t.Fatalf("output is not a pdf: %q", out[:min(len(out), 16)])
	}
	pages := bytes.Count(out, []byte("/Type /Page")) - bytes.Count(out, []byte("/Type /Pages"))
	if pages < 2 {
		t.Fatalf("expected multiple pages, got %d", pages)
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat(" PDF "); err != nil || f != PDF || f.Ext() != "pdf" || f.ContentType() != "application/pdf" {
		t.Fatalf("unexpected parse result %q %v", f, err)
	}
	if _, err := ParseFormat("xlsx"); err == nil {
		t.Fatalf("expected error for xlsx")
	}
}
