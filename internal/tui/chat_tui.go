package tui

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/basket/taskchat/internal/chat"
	"github.com/basket/taskchat/internal/persistence"
)

type chatRole string

const (
	chatRoleUser      chatRole = "user"
	chatRoleAssistant chatRole = "assistant"
	chatRoleSystem    chatRole = "system"
	chatRoleError     chatRole = "error"
)

type chatEntry struct {
	role chatRole
	text string
}

type replyMsg struct {
	reply chat.Reply
	err   error
}

type tasksMsg struct {
	tasks []persistence.Task
	err   error
}

type clearedMsg struct {
	n   int64
	err error
}

type statusMsg struct {
	status chat.Status
	err    error
}

type ctxDoneMsg struct{}

type spinnerTickMsg struct{}

type chatModel struct {
	ctx context.Context
	cc  ChatConfig

	width  int
	height int

	history    []chatEntry
	thinking   bool
	spinnerIdx int

	prompt lineEditor

	status chat.Status
	// pendingDelete is set while the server waits for a yes/no.
	pendingDelete string
}

func newChatModel(ctx context.Context, cc ChatConfig) chatModel {
	m := chatModel{ctx: ctx, cc: cc}
	m.history = append(m.history, chatEntry{
		role: chatRoleSystem,
		text: "Connected. Type /help for commands.",
	})
	return m
}

func runChatTUI(ctx context.Context, m chatModel, cancel context.CancelFunc) error {
	// Restore the terminal even if the program is interrupted mid-render.
	defer restoreTerminal()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithInput(os.Stdin), tea.WithOutput(os.Stdout))
	_, err := p.Run()
	if cancel != nil {
		cancel()
	}
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(waitCtxDone(m.ctx), statusCmd(m.ctx, m.cc.Client))
}

func waitCtxDone(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		<-ctx.Done()
		return ctxDoneMsg{}
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ctxDoneMsg:
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			return m, tea.Quit

		case "enter", "ctrl+m", "ctrl+j":
			return m.submit()
		}
		// Typing is allowed while a request is in flight; Enter is not.
		m.prompt.key(msg)
		return m, nil

	case replyMsg:
		m.thinking = false
		if msg.err != nil {
			if m.ctx.Err() != nil {
				return m, tea.Quit
			}
			m.history = append(m.history, chatEntry{role: chatRoleError, text: humanError(msg.err)})
			return m, nil
		}
		m.history = append(m.history, chatEntry{role: chatRoleAssistant, text: msg.reply.Response})
		m.pendingDelete = ""
		if _, ok := msg.reply.Data["pending_action"]; ok {
			title, _ := msg.reply.Data["task_title"].(string)
			m.pendingDelete = title
		}
		if msg.reply.DemoMode && m.status.Available {
			// The server fell back for this one reply; refresh the badge.
			return m, statusCmd(m.ctx, m.cc.Client)
		}
		return m, nil

	case tasksMsg:
		m.thinking = false
		if msg.err != nil {
			m.history = append(m.history, chatEntry{role: chatRoleError, text: humanError(msg.err)})
			return m, nil
		}
		m.history = append(m.history, chatEntry{role: chatRoleSystem, text: renderTasks(msg.tasks)})
		return m, nil

	case clearedMsg:
		m.thinking = false
		if msg.err != nil {
			m.history = append(m.history, chatEntry{role: chatRoleError, text: humanError(msg.err)})
			return m, nil
		}
		m.pendingDelete = ""
		m.history = []chatEntry{{role: chatRoleSystem, text: fmt.Sprintf("Conversation cleared (%d messages).", msg.n)}}
		return m, nil

	case statusMsg:
		if msg.err != nil {
			m.history = append(m.history, chatEntry{role: chatRoleError, text: humanError(msg.err)})
			return m, nil
		}
		m.status = msg.status
		return m, nil

	case spinnerTickMsg:
		if m.thinking {
			m.spinnerIdx++
			return m, waitForSpinner()
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	}

	return m, nil
}

// submit handles Enter: slash commands run locally or as server calls,
// anything else goes to the assistant.
func (m chatModel) submit() (tea.Model, tea.Cmd) {
	if m.thinking {
		return m, nil
	}
	line := m.prompt.take()
	if line == "" {
		return m, nil
	}

	if strings.HasPrefix(line, "/") {
		switch strings.ToLower(strings.Fields(line)[0]) {
		case "/tasks":
			m.thinking = true
			return m, tea.Batch(tasksCmd(m.ctx, m.cc.Client), waitForSpinner())
		case "/clear":
			m.thinking = true
			return m, tea.Batch(clearCmd(m.ctx, m.cc.Client), waitForSpinner())
		case "/status":
			return m, statusCmd(m.ctx, m.cc.Client)
		}
		var buf bytes.Buffer
		shouldExit := handleCommand(line, &m.cc, &buf)
		if out := strings.TrimSpace(buf.String()); out != "" {
			m.history = append(m.history, chatEntry{role: chatRoleSystem, text: out})
		}
		if shouldExit {
			return m, tea.Quit
		}
		return m, nil
	}

	m.history = append(m.history, chatEntry{role: chatRoleUser, text: line})
	m.thinking = true
	return m, tea.Batch(respondCmd(m.ctx, m.cc.Client, line), waitForSpinner())
}

func respondCmd(ctx context.Context, c Chatter, message string) tea.Cmd {
	return func() tea.Msg {
		reply, err := c.Chat(ctx, message)
		return replyMsg{reply: reply, err: err}
	}
}

func tasksCmd(ctx context.Context, c Chatter) tea.Cmd {
	return func() tea.Msg {
		tasks, err := c.Tasks(ctx)
		return tasksMsg{tasks: tasks, err: err}
	}
}

func clearCmd(ctx context.Context, c Chatter) tea.Cmd {
	return func() tea.Msg {
		n, err := c.ClearHistory(ctx)
		return clearedMsg{n: n, err: err}
	}
}

func statusCmd(ctx context.Context, c Chatter) tea.Cmd {
	return func() tea.Msg {
		s, err := c.ChatStatus(ctx)
		return statusMsg{status: s, err: err}
	}
}

func (m chatModel) View() string {
	var b strings.Builder

	header := titleStyle.Render("taskchat")
	if m.cc.Email != "" {
		header += dimStyle.Render(" · " + m.cc.Email)
	}
	if !m.status.Available {
		header += " " + badgeStyle.Render("demo mode")
	} else if m.status.Model != "" {
		header += dimStyle.Render(" · " + m.status.Model)
	}
	b.WriteString(header + "\n")
	b.WriteString(dimStyle.Render("Type a message. /help for commands, Ctrl+D or /quit to exit.") + "\n\n")

	hLines := m.renderHistoryLines()
	available := m.height - 7 // header + instructions + blank + hint + input + spinner + status bar
	if available < 3 {
		available = 3
	}
	if len(hLines) > available {
		hLines = hLines[len(hLines)-available:]
	}
	for _, l := range hLines {
		b.WriteString(l)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.pendingDelete != "" {
		b.WriteString(warnStyle.Render(fmt.Sprintf("Waiting for confirmation to delete '%s' (yes/no)", m.pendingDelete)) + "\n")
	}
	b.WriteString("> ")
	b.WriteString(m.prompt.view())
	b.WriteString("\n")
	if m.thinking {
		spin := []string{"|", "/", "-", "\\"}[m.spinnerIdx%4]
		b.WriteString(fmt.Sprintf("%s thinking...\n", spin))
	} else {
		b.WriteString("\n")
	}
	return b.String()
}

func (m chatModel) renderHistoryLines() []string {
	lines := make([]string, 0, len(m.history)*2)
	for _, e := range m.history {
		var prefix string
		style := systemStyle
		switch e.role {
		case chatRoleUser:
			prefix = "You: "
			style = userStyle
		case chatRoleAssistant:
			prefix = "Assistant: "
			style = assistantStyle
		case chatRoleError:
			prefix = "Error: "
			style = errorStyle
		}
		for _, l := range m.wrapWithPrefix(e.text, prefix) {
			lines = append(lines, style.Render(l))
		}
	}
	return lines
}

func (m chatModel) wrapWithPrefix(text, prefix string) []string {
	width := m.width - len(prefix)
	if m.width <= 0 {
		width = 0
	} else if width < 10 {
		width = 10
	}

	var result []string
	for _, line := range strings.Split(text, "\n") {
		runes := []rune(line)
		for width > 0 && len(runes) > width {
			result = append(result, prefix+string(runes[:width]))
			runes = runes[width:]
		}
		result = append(result, prefix+string(runes))
	}
	return result
}

func waitForSpinner() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg {
		return spinnerTickMsg{}
	})
}
