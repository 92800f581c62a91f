// Package tui renders a live view of the tracked identities. It follows
// the same session discipline as the sampling loop: the identity set is
// frozen at startup and later arrivals never enter the table.
package tui

import (
	"context"
	"fmt"
	"io"
	"log"
	"regexp"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"threadmon/internal/reconcile"
	"threadmon/internal/registry"
	"threadmon/internal/report"
	"threadmon/internal/source"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("170")).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("red")).
			Bold(true)

	baseStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))
)

// Options configures the live view.
type Options struct {
	Source   source.Source
	Filter   *regexp.Regexp
	Mode     source.Mode
	Interval time.Duration
}

// Model is the Bubble Tea state.
type Model struct {
	opts Options

	table table.Model
	reg   *registry.Registry
	rec   *reconcile.Reconciler

	mem         string
	missing     int
	lastUpdated time.Time
	err         error
}

type setupDoneMsg struct{ reg *registry.Registry }

type snapshotMsg struct{ snap []source.Sample }

type refreshMsg struct{}

type errMsg struct{ err error }

// New constructs the live view model.
func New(opts Options) *Model {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}

	columns := []table.Column{
		{Title: "ID", Width: 8},
		{Title: "NAME", Width: 30},
		{Title: "%CPU", Width: 8},
		{Title: "STATE", Width: 9},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(20),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true).
		Foreground(lipgloss.Color("cyan"))
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return &Model{opts: opts, table: t}
}

// Run spins up the Bubble Tea program.
func Run(opts Options) error {
	prog := tea.NewProgram(New(opts), tea.WithAltScreen())
	_, err := prog.Run()
	return err
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return setupCmd(m.opts)
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case setupDoneMsg:
		m.reg = msg.reg
		// Warnings are per-session noise the status line already covers.
		m.rec = reconcile.New(log.New(io.Discard, "", 0))
		return m, sampleCmd(m.opts)

	case snapshotMsg:
		res := m.rec.Reconcile(m.reg, msg.snap)
		m.mem = res.Mem
		m.missing = res.Unmatched
		m.lastUpdated = time.Now()
		m.err = nil
		m.table.SetRows(m.rows(res))
		return m, tea.Tick(m.opts.Interval, func(time.Time) tea.Msg { return refreshMsg{} })

	case refreshMsg:
		return m, sampleCmd(m.opts)

	case errMsg:
		m.err = msg.err
		if m.reg == nil {
			return m, tea.Quit
		}
		return m, tea.Tick(m.opts.Interval, func(time.Time) tea.Msg { return refreshMsg{} })

	case tea.WindowSizeMsg:
		if msg.Height > 6 {
			m.table.SetHeight(msg.Height - 6)
		}

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			return m, sampleCmd(m.opts)
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.reg == nil {
		if m.err != nil {
			return errorStyle.Render(fmt.Sprintf("setup failed: %v", m.err)) + "\n"
		}
		return "capturing identities…\n"
	}

	out := titleStyle.Render(fmt.Sprintf("threadmon — %s (%s mode)", m.opts.Filter, m.opts.Mode)) + "\n"
	out += statusStyle.Render(m.statusLine()) + "\n"
	out += baseStyle.Render(m.table.View()) + "\n"
	out += statusStyle.Render("r: refresh · q: quit") + "\n"
	if m.err != nil {
		out += errorStyle.Render(fmt.Sprintf("snapshot failed: %v", m.err)) + "\n"
	}
	return out
}

func (m *Model) statusLine() string {
	mem := "-"
	if m.mem != "" {
		if v, err := report.NormalizeMemory(m.mem); err == nil {
			mem = strconv.FormatInt(v, 10)
		}
	}
	return fmt.Sprintf("identities: %d · missing: %d · mem: %s · updated: %s",
		m.reg.Len(), m.missing, mem, m.lastUpdated.Format("15:04:05"))
}

func (m *Model) rows(res reconcile.Result) []table.Row {
	rows := make([]table.Row, 0, m.reg.Len())
	for _, id := range m.reg.Identities() {
		cpu := res.CPU[id.ID]
		cpuStr := "-"
		state := "missing"
		if cpu != reconcile.MissingCPU {
			cpuStr = strconv.FormatFloat(cpu, 'f', 2, 64)
			state = "ok"
		}
		rows = append(rows, table.Row{strconv.Itoa(id.ID), id.Name, cpuStr, state})
	}
	return rows
}

func setupCmd(opts Options) tea.Cmd {
	return func() tea.Msg {
		reg, err := registry.Build(context.Background(), opts.Source, opts.Filter, opts.Mode)
		if err != nil {
			return errMsg{err}
		}
		return setupDoneMsg{reg}
	}
}

func sampleCmd(opts Options) tea.Cmd {
	return func() tea.Msg {
		snap, err := opts.Source.Sample(context.Background(), opts.Filter, opts.Mode)
		if err != nil {
			return errMsg{err}
		}
		return snapshotMsg{snap}
	}
}
