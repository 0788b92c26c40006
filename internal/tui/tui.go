package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Snapshot is what the server dashboard shows on each refresh.
type Snapshot struct {
	DBOK        bool
	Driver      string
	Users       int64
	Tasks       int64
	Messages    int64
	Subscribers int
	AuditDenies int64
	DemoMode    bool
	Model       string
	ListenAddr  string
	LastError   string
	Uptime      time.Duration
}

// StatusProvider is polled once per second by the dashboard.
type StatusProvider func() Snapshot

const refreshInterval = time.Second

type dashboard struct {
	poll StatusProvider
	snap Snapshot
}

type refreshMsg time.Time

func scheduleRefresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (d dashboard) Init() tea.Cmd {
	return scheduleRefresh()
}

func (d dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return d, tea.Quit
		case "r":
			d.snap = d.poll()
		}
	case refreshMsg:
		d.snap = d.poll()
		return d, scheduleRefresh()
	}
	return d, nil
}

func (d dashboard) View() string {
	s := d.snap
	var b strings.Builder
	b.WriteString(titleStyle.Render("taskchat server"))
	b.WriteString("\n\n")

	row := func(label, value string) {
		fmt.Fprintf(&b, "%-18s %s\n", label, value)
	}

	row("Listening", s.ListenAddr)
	if s.DBOK {
		row("Database", fmt.Sprintf("ok (%s)", s.Driver))
	} else {
		row("Database", errorStyle.Render(fmt.Sprintf("unreachable (%s)", s.Driver)))
	}
	row("Users", fmt.Sprint(s.Users))
	row("Tasks", fmt.Sprint(s.Tasks))
	row("Messages", fmt.Sprint(s.Messages))
	row("Live subscribers", fmt.Sprint(s.Subscribers))
	row("Audit denies", fmt.Sprint(s.AuditDenies))
	if s.DemoMode || s.Model == "" {
		row("Assistant", warnStyle.Render("demo mode"))
	} else {
		row("Assistant", s.Model)
	}
	row("Uptime", s.Uptime.Truncate(time.Second).String())
	if s.LastError != "" {
		row("Last error", errorStyle.Render(s.LastError))
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("r refresh · q quit"))
	b.WriteString("\n")
	return b.String()
}

// Run shows the server dashboard until q is pressed or ctx is done.
func Run(ctx context.Context, poll StatusProvider) error {
	defer restoreTerminal()

	p := tea.NewProgram(dashboard{poll: poll, snap: poll()})

	done := make(chan error, 1)
	go func() {
		_, err := p.Run()
		done <- err
	}()

	select {
	case <-ctx.Done():
		p.Quit()
		return ctx.Err()
	case err := <-done:
		return err
	}
}
