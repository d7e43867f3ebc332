package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"yt-transcripts/internal/harvest"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

const dashboardTick = 250 * time.Millisecond

type dashboardTickMsg time.Time

// pollHandle is the part of harvest.Handle the dashboard needs.
type pollHandle interface {
	Poll() harvest.Snapshot
	RequestStop()
}

type dashboardModel struct {
	handle  pollHandle
	cancel  context.CancelFunc
	recent  *eventLog
	started time.Time

	spinner    spinner.Model
	bar        progress.Model
	snap       harvest.Snapshot
	interrupts int
	width      int
}

func newDashboardModel(h pollHandle, cancel context.CancelFunc, recent *eventLog) dashboardModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	return dashboardModel{
		handle:  h,
		cancel:  cancel,
		recent:  recent,
		started: time.Now(),
		spinner: sp,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(50)),
		snap:    h.Poll(),
	}
}

func runDashboard(h *harvest.Handle, cancel context.CancelFunc, recent *eventLog) error {
	p := tea.NewProgram(newDashboardModel(h, cancel, recent))
	_, err := p.Run()
	return err
}

func dashboardTickCmd() tea.Cmd {
	return tea.Tick(dashboardTick, func(t time.Time) tea.Msg { return dashboardTickMsg(t) })
}

func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, dashboardTickCmd())
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.interrupts++
			if m.interrupts == 1 {
				m.handle.RequestStop()
			} else {
				m.cancel()
			}
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		w := msg.Width - 10
		if w > 80 {
			w = 80
		}
		if w < 20 {
			w = 20
		}
		m.bar.Width = w
		return m, nil
	case dashboardTickMsg:
		m.snap = m.handle.Poll()
		if m.snap.Done {
			return m, tea.Quit
		}
		return m, dashboardTickCmd()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m dashboardModel) View() string {
	c := m.snap.Counters
	done := c.Done()
	pct := 0.0
	if c.Total > 0 {
		pct = float64(done) / float64(c.Total)
	}

	var b strings.Builder
	state := m.spinner.View() + " running"
	switch {
	case m.snap.Done:
		state = okStyle.Render("finished")
	case m.interrupts > 1:
		state = errorStyle.Render("aborting")
	case m.snap.Stopping:
		state = errorStyle.Render("stopping after in-flight items (q again to abort)")
	}
	fmt.Fprintf(&b, "%s  %s\n", titleStyle.Render("yt-transcripts "+m.snap.SessionID), state)
	fmt.Fprintf(&b, "%s %d/%d", m.bar.ViewAs(pct), done, c.Total)
	if eta := estimateETA(done, c.Total, time.Since(m.started)); eta != "" && !m.snap.Done {
		fmt.Fprintf(&b, "  eta ~ %s", eta)
	}
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(countsLine(c)) + "\n")

	var panel strings.Builder
	if len(m.snap.InFlight) == 0 {
		panel.WriteString(mutedStyle.Render("(no active items)"))
	} else {
		panel.WriteString("active: " + strings.Join(m.snap.InFlight, " "))
	}
	if lines := m.recent.Lines(); len(lines) > 0 {
		panel.WriteString("\n\n" + strings.Join(lines, "\n"))
	}
	b.WriteString(panelStyle.Render(panel.String()) + "\n")
	b.WriteString(mutedStyle.Render("q / ctrl+c: stop after in-flight items, twice: abort") + "\n")
	return b.String()
}
