package tui

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/basket/taskchat/internal/chat"
	"github.com/basket/taskchat/internal/persistence"
)

// Chatter is the remote API the chat UI drives. *client.Client satisfies it.
type Chatter interface {
	Chat(ctx context.Context, message string) (chat.Reply, error)
	Tasks(ctx context.Context) ([]persistence.Task, error)
	ClearHistory(ctx context.Context) (int64, error)
	ChatStatus(ctx context.Context) (chat.Status, error)
}

// ChatConfig holds everything the interactive chat needs.
type ChatConfig struct {
	Client Chatter
	Email  string
	Server string

	// CancelFunc is called when the UI exits so the caller can unwind.
	CancelFunc context.CancelFunc
}

// RunChat runs the interactive chat until the user quits or ctx is done.
func RunChat(ctx context.Context, cc ChatConfig) error {
	if cc.Client == nil {
		return fmt.Errorf("tui: chat client not configured")
	}
	m := newChatModel(ctx, cc)
	return runChatTUI(ctx, m, cc.CancelFunc)
}

// handleCommand runs a local slash command, writing any output to out.
// It returns true if the chat should exit. Commands that need the server
// are dispatched by the model itself.
func handleCommand(line string, cc *ChatConfig, out io.Writer) bool {
	parts := strings.SplitN(line, " ", 2)
	cmd := strings.ToLower(parts[0])

	switch cmd {
	case "/quit", "/exit":
		return true

	case "/help":
		fmt.Fprintln(out, "Commands:")
		fmt.Fprintln(out, "  /tasks     List your tasks")
		fmt.Fprintln(out, "  /clear     Clear the conversation history")
		fmt.Fprintln(out, "  /status    Show whether the AI assistant is available")
		fmt.Fprintln(out, "  /whoami    Show the signed-in account")
		fmt.Fprintln(out, "  /quit      Exit")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Anything else is sent to the assistant, e.g. 'add buy milk' or 'show my tasks'.")

	case "/whoami":
		fmt.Fprintf(out, "Signed in as %s on %s\n", cc.Email, cc.Server)

	default:
		fmt.Fprintf(out, "Unknown command: %s (try /help)\n", cmd)
	}
	return false
}

// renderTasks formats tasks as a checklist.
func renderTasks(tasks []persistence.Task) string {
	if len(tasks) == 0 {
		return "You don't have any tasks yet."
	}
	var b strings.Builder
	open := 0
	for _, t := range tasks {
		if t.Completed {
			b.WriteString("[x] " + doneStyle.Render(t.Title) + "\n")
			continue
		}
		open++
		b.WriteString("[ ] " + t.Title + "\n")
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("%d open, %d done", open, len(tasks)-open)))
	return b.String()
}
