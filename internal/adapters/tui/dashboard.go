// Package tui renders the live meter dashboard in a terminal.
package tui

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/ghalamif/MeterFlow/internal/connection"
	"github.com/ghalamif/MeterFlow/internal/export"
	"github.com/ghalamif/MeterFlow/internal/report"
	"github.com/ghalamif/MeterFlow/internal/stream"
)

const defaultRefresh = 500 * time.Millisecond

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	alertStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// tierColors maps a status tier to a terminal colour.
var tierColors = map[connection.Tier]lipgloss.Color{
	connection.TierHealthy: lipgloss.Color("10"),
	connection.TierWarning: lipgloss.Color("214"),
	connection.TierError:   lipgloss.Color("9"),
}

type Source interface {
	Snapshot() stream.Snapshot
	State() connection.State
}

type Exporter interface {
	Export(ctx context.Context, f report.Format) (export.Result, error)
}

type tickMsg time.Time

type exportDoneMsg struct {
	res export.Result
	err error
}

// Dashboard is a bubbletea front end over a Source.
type Dashboard struct {
	src      Source
	exporter Exporter
	refresh  time.Duration
}

// New returns a dashboard. exporter may be nil, which disables the export keys.
func New(src Source, exporter Exporter, refresh time.Duration) *Dashboard {
	if refresh <= 0 {
		refresh = defaultRefresh
	}
	return &Dashboard{src: src, exporter: exporter, refresh: refresh}
}

// Run blocks until the user quits or ctx is cancelled.
func (d *Dashboard) Run(ctx context.Context) error {
	p := tea.NewProgram(newModel(ctx, d.src, d.exporter, d.refresh), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil && errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

type model struct {
	ctx       context.Context
	src       Source
	exporter  Exporter
	refresh   time.Duration
	table     table.Model
	snap      stream.Snapshot
	state     connection.State
	notice    string
	alert     bool
	exporting bool
	width     int
}

func newModel(ctx context.Context, src Source, exporter Exporter, refresh time.Duration) model {
	cols := []table.Column{
		{Title: "Channel", Width: 18},
		{Title: "Latest", Width: 10},
		{Title: "Min", Width: 10},
		{Title: "Max", Width: 10},
		{Title: "Trend", Width: stream.DefaultCapacity},
	}
	t := table.New(table.WithColumns(cols), table.WithHeight(len(stream.Channels)+1))
	m := model{ctx: ctx, src: src, exporter: exporter, refresh: refresh, table: t, width: 80}
	m.pull()
	return m
}

func (m model) Init() tea.Cmd { return m.tick() }

func (m model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.table.SetWidth(msg.Width)
		return m, nil
	case tickMsg:
		m.pull()
		return m, m.tick()
	case exportDoneMsg:
		m.exporting = false
		switch {
		case msg.err != nil:
			m.notice, m.alert = export.UserMessage(msg.err), true
		case msg.res.Skipped:
			m.notice, m.alert = "An export is already in progress.", true
		default:
			m.notice, m.alert = fmt.Sprintf("Saved %s (%d records)", msg.res.Name, msg.res.Records), false
		}
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "c":
			return m.startExport(report.CSV)
		case "p":
			return m.startExport(report.PDF)
		}
	}
	return m, nil
}

func (m model) startExport(f report.Format) (tea.Model, tea.Cmd) {
	if m.exporter == nil || m.exporting {
		return m, nil
	}
	m.exporting = true
	m.notice, m.alert = "Exporting "+strings.ToUpper(string(f))+"...", false
	ctx, exp := m.ctx, m.exporter
	return m, func() tea.Msg {
		res, err := exp.Export(ctx, f)
		return exportDoneMsg{res: res, err: err}
	}
}

func (m *model) pull() {
	m.snap = m.src.Snapshot()
	m.state = m.src.State()
	m.table.SetRows(rows(m.snap))
}

func rows(s stream.Snapshot) []table.Row {
	out := make([]table.Row, 0, len(stream.Channels))
	for _, c := range stream.Channels {
		info := stream.Info(c)
		vals := s.Values(c)
		name := fmt.Sprintf("%s (%s)", info.Label, info.Unit)
		if len(vals) == 0 {
			out = append(out, table.Row{name, "-", "-", "-", ""})
			continue
		}
		lo, hi := bounds(vals)
		out = append(out, table.Row{
			name,
			format(vals[len(vals)-1], info.Precision),
			format(lo, info.Precision),
			format(hi, info.Precision),
			sparkline(vals),
		})
	}
	return out
}

func format(v float64, precision int) string {
	return fmt.Sprintf("%.*f", precision, v)
}

func bounds(vals []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range vals {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// sparkline scales vals to the eight block heights.
func sparkline(vals []float64) string {
	lo, hi := bounds(vals)
	var b strings.Builder
	for _, v := range vals {
		idx := 0
		if hi > lo {
			idx = int((v - lo) / (hi - lo) * float64(len(sparkRunes)-1))
		}
		b.WriteRune(sparkRunes[idx])
	}
	return b.String()
}

func (m model) View() string {
	status := lipgloss.NewStyle().Bold(true).Foreground(tierColors[m.state.Tier()]).Render(m.state.String())

	var last string
	if n := len(m.snap.Labels); n > 0 {
		last = helpStyle.Render("  last sample " + m.snap.Labels[n-1])
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("MeterFlow") + "  " + status + last + "\n\n")
	b.WriteString(m.table.View() + "\n\n")
	if m.notice != "" {
		style := noticeStyle
		if m.alert {
			style = alertStyle
		}
		b.WriteString(style.Render(wordwrap.String(m.notice, max(m.width, 20))) + "\n")
	}
	help := "q quit"
	if m.exporter != nil {
		help = "c export csv • p export pdf • " + help
	}
	b.WriteString(helpStyle.Render(help))
	return b.String()
}
