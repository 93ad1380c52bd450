package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ghalamif/MeterFlow/internal/connection"
	"github.com/ghalamif/MeterFlow/internal/domain"
	"github.com/ghalamif/MeterFlow/internal/export"
	"github.com/ghalamif/MeterFlow/internal/report"
	"github.com/ghalamif/MeterFlow/internal/stream"
)

type fakeSource struct {
	buf   *stream.Buffer
	state connection.State
}

func (f *fakeSource) Snapshot() stream.Snapshot { return f.buf.Snapshot() }
func (f *fakeSource) State() connection.State   { return f.state }

type fakeExporter struct {
	formats []report.Format
	res     export.Result
	err     error
}

func (f *fakeExporter) Export(_ context.Context, fm report.Format) (export.Result, error) {
	f.formats = append(f.formats, fm)
	return f.res, f.err
}

func keyMsg(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func newSource() *fakeSource {
	buf := stream.NewBuffer(20, stream.WithLocation(time.UTC))
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	for i, v := range []float64{218.5, 220.25, 230} {
		buf.Append(domain.Record{Timestamp: base.Add(time.Duration(i) * time.Second), Energy: 1.234, Current: 2, Voltage: v, Power: 1500})
	}
	return &fakeSource{buf: buf, state: connection.State{Phase: connection.Connected}}
}

func TestRowsFormatPerChannelPrecision(t *testing.T) {
	src := newSource()
	got := rows(src.Snapshot())
	if len(got) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(got))
	}
	if got[0][1] != "1.23" {
		t.Fatalf("energy latest = %q", got[0][1])
	}
	if got[2][1] != "230.0" || got[2][2] != "218.5" || got[2][3] != "230.0" {
		t.Fatalf("voltage row = %v", got[2])
	}
	if got[3][1] != "1500" {
		t.Fatalf("power latest = %q", got[3][1])
	}
	if spark := []rune(got[2][4]); len(spark) != 3 || spark[0] != '▁' || spark[2] != '█' {
		t.Fatalf("voltage sparkline = %q", got[2][4])
	}
}

func TestRowsEmptySnapshot(t *testing.T) {
	got := rows(stream.NewBuffer(20).Snapshot())
	for _, r := range got {
		if r[1] != "-" {
			t.Fatalf("expected placeholder, got %v", r)
		}
	}
}

func TestViewShowsStatusAndRefreshes(t *testing.T) {
	src := newSource()
	m := newModel(context.Background(), src, nil, time.Second)
	if !strings.Contains(m.View(), "Connected ✓") {
		t.Fatalf("status missing from view:\n%s", m.View())
	}
	if strings.Contains(m.View(), "export csv") {
		t.Fatalf("export help shown without an exporter")
	}

	src.state = connection.State{Phase: connection.Disconnected, Reason: "transport close"}
	mi, cmd := m.Update(tickMsg(time.Now()))
	m = mi.(model)
	if cmd == nil {
		t.Fatalf("tick should schedule the next tick")
	}
	if !strings.Contains(m.View(), "Disconnected (transport close)") {
		t.Fatalf("view not refreshed:\n%s", m.View())
	}
}

func TestExportKeys(t *testing.T) {
	exp := &fakeExporter{res: export.Result{Name: "sensor_data_2024-06-02T08:15:30.pdf", Records: 42}}
	m := newModel(context.Background(), newSource(), exp, time.Second)

	mi, cmd := m.Update(keyMsg('p'))
	m = mi.(model)
	if cmd == nil || !m.exporting {
		t.Fatalf("expected export command")
	}
	if _, again := m.Update(keyMsg('c')); again != nil {
		t.Fatalf("second export key should be ignored while exporting")
	}

	mi, _ = m.Update(cmd())
	m = mi.(model)
	if len(exp.formats) != 1 || exp.formats[0] != report.PDF {
		t.Fatalf("unexpected export calls %v", exp.formats)
	}
	if m.exporting || m.alert || !strings.Contains(m.notice, "sensor_data_2024-06-02T08:15:30.pdf") {
		t.Fatalf("unexpected notice %q alert=%v", m.notice, m.alert)
	}
}

func TestExportFailureShowsUserMessage(t *testing.T) {
	exp := &fakeExporter{err: export.ErrEmptyResult}
	m := newModel(context.Background(), newSource(), exp, time.Second)

	_, cmd := m.Update(keyMsg('c'))
	mi, _ := m.Update(cmd())
	m = mi.(model)
	if !m.alert || m.notice != "No data available to download." {
		t.Fatalf("unexpected notice %q", m.notice)
	}

	mi, _ = m.Update(exportDoneMsg{err: &export.DeliveryError{Name: "x.csv", Err: errors.New("disk full")}})
	m = mi.(model)
	if m.notice != "Failed to save file: disk full" {
		t.Fatalf("unexpected notice %q", m.notice)
	}
}

func TestQuitKey(t *testing.T) {
	m := newModel(context.Background(), newSource(), nil, time.Second)
	_, cmd := m.Update(keyMsg('q'))
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected QuitMsg")
	}
}
