package tui

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/basket/taskchat/internal/chat"
	"github.com/basket/taskchat/internal/client"
	"github.com/basket/taskchat/internal/persistence"
)

type fakeChatter struct {
	sent  []string
	reply chat.Reply
	tasks []persistence.Task
}

func (f *fakeChatter) Chat(_ context.Context, message string) (chat.Reply, error) {
	f.sent = append(f.sent, message)
	return f.reply, nil
}

func (f *fakeChatter) Tasks(context.Context) ([]persistence.Task, error) { return f.tasks, nil }

func (f *fakeChatter) ClearHistory(context.Context) (int64, error) { return 6, nil }

func (f *fakeChatter) ChatStatus(context.Context) (chat.Status, error) {
	return chat.Status{Available: true, Model: "gemini-2.5-flash"}, nil
}

func typeLine(t *testing.T, m chatModel, line string) (chatModel, tea.Cmd) {
	t.Helper()
	m.prompt.set(line)
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return updated.(chatModel), cmd
}

func TestHandleCommand(t *testing.T) {
	cc := ChatConfig{Email: "alice@example.com", Server: "http://127.0.0.1:8080"}

	var buf bytes.Buffer
	if handleCommand("/help", &cc, &buf) {
		t.Fatal("help should not exit")
	}
	if !strings.Contains(buf.String(), "/tasks") {
		t.Fatalf("expected help output, got: %q", buf.String())
	}

	buf.Reset()
	handleCommand("/whoami", &cc, &buf)
	if !strings.Contains(buf.String(), "alice@example.com") {
		t.Fatalf("whoami = %q", buf.String())
	}

	buf.Reset()
	handleCommand("/bogus", &cc, &buf)
	if !strings.Contains(buf.String(), "Unknown command") {
		t.Fatalf("unknown = %q", buf.String())
	}

	if !handleCommand("/quit", &cc, &buf) {
		t.Fatal("quit should exit")
	}
}

func TestChat_SendShowsConfirmationHint(t *testing.T) {
	fc := &fakeChatter{reply: chat.Reply{
		Response: "Are you sure you want to delete 'buy milk'?",
		Intent:   "clarify",
		Data:     map[string]any{"pending_action": "DELETE", "task_title": "buy milk"},
	}}
	m := newChatModel(context.Background(), ChatConfig{Client: fc})

	m, cmd := typeLine(t, m, "delete buy milk")
	if !m.thinking || cmd == nil {
		t.Fatal("expected a request in flight")
	}
	if last := m.history[len(m.history)-1]; last.role != chatRoleUser || last.text != "delete buy milk" {
		t.Fatalf("last entry = %+v", last)
	}

	msg := respondCmd(m.ctx, fc, "delete buy milk")()
	updated, _ := m.Update(msg)
	m = updated.(chatModel)
	if m.thinking {
		t.Fatal("thinking should clear after the reply")
	}
	if m.pendingDelete != "buy milk" {
		t.Fatalf("pendingDelete = %q", m.pendingDelete)
	}
	if !strings.Contains(m.View(), "Waiting for confirmation to delete 'buy milk'") {
		t.Fatalf("expected confirmation hint, got:\n%s", m.View())
	}

	// A plain reply clears the hint.
	updated, _ = m.Update(replyMsg{reply: chat.Reply{Response: "Okay, I've cancelled the deletion."}})
	if updated.(chatModel).pendingDelete != "" {
		t.Fatal("expected hint to clear")
	}
}

func TestChat_EnterIgnoredWhileThinking(t *testing.T) {
	fc := &fakeChatter{}
	m := newChatModel(context.Background(), ChatConfig{Client: fc})
	m.thinking = true
	before := len(m.history)

	m, cmd := typeLine(t, m, "show my tasks")
	if cmd != nil || len(m.history) != before {
		t.Fatal("enter should be ignored while a request is in flight")
	}
}

func TestChat_TasksAndClearCommands(t *testing.T) {
	fc := &fakeChatter{tasks: []persistence.Task{
		{ID: "1", Title: "buy milk"},
		{ID: "2", Title: "walk dog", Completed: true},
	}}
	m := newChatModel(context.Background(), ChatConfig{Client: fc})

	m, cmd := typeLine(t, m, "/tasks")
	if cmd == nil || !m.thinking {
		t.Fatal("expected /tasks to start a request")
	}
	updated, _ := m.Update(tasksCmd(m.ctx, fc)())
	m = updated.(chatModel)
	last := m.history[len(m.history)-1].text
	if !strings.Contains(last, "[ ] buy milk") || !strings.Contains(last, "walk dog") || !strings.Contains(last, "1 open, 1 done") {
		t.Fatalf("tasks render = %q", last)
	}
	if len(fc.sent) != 0 {
		t.Fatal("slash commands must not be sent to the assistant")
	}

	m, _ = typeLine(t, m, "/clear")
	updated, _ = m.Update(clearCmd(m.ctx, fc)())
	m = updated.(chatModel)
	if len(m.history) != 1 || !strings.Contains(m.history[0].text, "6 messages") {
		t.Fatalf("history after clear = %+v", m.history)
	}
}

func TestChat_StatusBadge(t *testing.T) {
	fc := &fakeChatter{}
	m := newChatModel(context.Background(), ChatConfig{Client: fc, Email: "alice@example.com"})
	if !strings.Contains(m.View(), "demo mode") {
		t.Fatal("expected demo badge before status is known")
	}
	updated, _ := m.Update(statusCmd(m.ctx, fc)())
	view := updated.(chatModel).View()
	if strings.Contains(view, "demo mode") || !strings.Contains(view, "gemini-2.5-flash") {
		t.Fatalf("view after status:\n%s", view)
	}
}

func TestChat_InputHistory(t *testing.T) {
	m := newChatModel(context.Background(), ChatConfig{Client: &fakeChatter{}})
	m, _ = typeLine(t, m, "/help")
	m, _ = typeLine(t, m, "/whoami")
	m.prompt.set("draft")

	m.prompt.prev()
	if got := m.prompt.text(); got != "/whoami" {
		t.Fatalf("prev = %q", got)
	}
	m.prompt.prev()
	if got := m.prompt.text(); got != "/help" {
		t.Fatalf("prev2 = %q", got)
	}
	m.prompt.next()
	m.prompt.next()
	if got := m.prompt.text(); got != "draft" {
		t.Fatalf("draft not restored: %q", got)
	}
}

func TestHumanError(t *testing.T) {
	if got := humanError(&client.APIError{Status: 401, Message: "Invalid or expired token"}); !strings.Contains(got, "session has expired") {
		t.Fatalf("401 = %q", got)
	}
	if got := humanError(fmt.Errorf("wrap: %w", &client.APIError{Status: 400, Message: "Message cannot be empty"})); got != "Message cannot be empty" {
		t.Fatalf("400 = %q", got)
	}
	if got := humanError(errors.New("client: POST /chat: connection refused")); got != "Connection refused" {
		t.Fatalf("transport = %q", got)
	}
	if humanError(nil) != "" {
		t.Fatal("nil error should be empty")
	}
}
