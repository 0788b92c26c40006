package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func TestDashboard_ViewShowsCounts(t *testing.T) {
	d := dashboard{snap: Snapshot{
		DBOK:        true,
		Driver:      "sqlite",
		Users:       2,
		Tasks:       7,
		Messages:    12,
		Subscribers: 1,
		AuditDenies: 3,
		DemoMode:    true,
		ListenAddr:  "127.0.0.1:8080",
		Uptime:      10 * time.Second,
	}}
	view := d.View()

	for _, want := range []string{"ok (sqlite)", "Users", "7", "12", "Audit denies", "demo mode", "127.0.0.1:8080", "10s"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
	if strings.Contains(view, "Last error") {
		t.Errorf("no last error expected:\n%s", view)
	}
}

func TestDashboard_ViewShowsFailures(t *testing.T) {
	d := dashboard{snap: Snapshot{Driver: "postgres", Model: "claude-test", LastError: "listener closed"}}
	view := d.View()
	for _, want := range []string{"unreachable (postgres)", "claude-test", "listener closed"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestDashboard_UpdateRefreshesAndQuits(t *testing.T) {
	polls := 0
	poll := func() Snapshot {
		polls++
		return Snapshot{DBOK: true, Users: int64(polls)}
	}
	d := dashboard{poll: poll}

	if cmd := d.Init(); cmd == nil {
		t.Fatal("Init should schedule a refresh")
	}

	next, cmd := d.Update(refreshMsg(time.Now()))
	if cmd == nil {
		t.Fatal("refresh should reschedule itself")
	}
	if got := next.(dashboard).snap.Users; got != 1 {
		t.Fatalf("users after refresh = %d, want 1", got)
	}

	next, _ = next.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	if got := next.(dashboard).snap.Users; got != 2 {
		t.Fatalf("users after manual refresh = %d, want 2", got)
	}

	if _, cmd := next.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}); cmd == nil {
		t.Fatal("q should quit")
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(ctx, func() Snapshot { return Snapshot{} })
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want nil or context.Canceled", err)
	}
}
