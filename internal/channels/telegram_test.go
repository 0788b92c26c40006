package channels

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/taskchat/internal/chat"
	"github.com/basket/taskchat/internal/persistence"
)

type fakeSender struct {
	sent  []tgbotapi.MessageConfig
	acked []string
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if cb, ok := c.(tgbotapi.CallbackConfig); ok {
		f.acked = append(f.acked, cb.CallbackQueryID)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) last(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatal("nothing sent")
	}
	return f.sent[len(f.sent)-1]
}

type call struct{ owner, message string }

type fakeChat struct {
	calls   []call
	reply   chat.Reply
	err     error
	cleared []string
}

func (f *fakeChat) Handle(_ context.Context, owner, message string) (chat.Reply, error) {
	f.calls = append(f.calls, call{owner, message})
	return f.reply, f.err
}

func (f *fakeChat) ClearHistory(_ context.Context, owner string) (int64, error) {
	f.cleared = append(f.cleared, owner)
	return 4, nil
}

type fakeUsers map[string]string

func (f fakeUsers) GetUserByEmail(_ context.Context, email string) (persistence.User, error) {
	id, ok := f[email]
	if !ok {
		return persistence.User{}, persistence.ErrNotFound
	}
	return persistence.User{ID: id, Email: email}, nil
}

func newTestChannel(c *fakeChat) (*TelegramChannel, *fakeSender) {
	ch := NewTelegramChannel("token",
		map[int64]string{42: "Alice@Example.com", 7: "ghost@example.com"},
		c,
		fakeUsers{"alice@example.com": "user-alice"},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	out := &fakeSender{}
	ch.out = out
	return ch, out
}

func TestTelegram_LinkedChatRoutesToOwner(t *testing.T) {
	c := &fakeChat{reply: chat.Reply{Response: "Created task: 'buy milk'", Intent: "create"}}
	ch, out := newTestChannel(c)

	ch.handleMessage(context.Background(), 42, "  add buy milk ")

	if len(c.calls) != 1 || c.calls[0] != (call{"user-alice", "add buy milk"}) {
		t.Fatalf("calls = %+v", c.calls)
	}
	msg := out.last(t)
	if msg.ChatID != 42 || msg.Text != "Created task: 'buy milk'" {
		t.Fatalf("sent = %+v", msg)
	}
	if msg.ReplyMarkup != nil {
		t.Fatal("plain replies should not carry a keyboard")
	}
}

func TestTelegram_UnlinkedChatGetsHint(t *testing.T) {
	c := &fakeChat{}
	ch, out := newTestChannel(c)

	ch.handleMessage(context.Background(), 99, "show my tasks")
	// Linked to an email with no account.
	ch.handleMessage(context.Background(), 7, "show my tasks")

	if len(c.calls) != 0 {
		t.Fatalf("unlinked chats must not reach the facade: %+v", c.calls)
	}
	if len(out.sent) != 2 || !strings.Contains(out.sent[0].Text, "99") {
		t.Fatalf("sent = %+v", out.sent)
	}
}

func TestTelegram_Commands(t *testing.T) {
	c := &fakeChat{}
	ch, out := newTestChannel(c)
	ctx := context.Background()

	ch.handleMessage(ctx, 42, "/start")
	if out.last(t).Text != telegramHelp {
		t.Fatalf("start reply = %q", out.last(t).Text)
	}
	ch.handleMessage(ctx, 42, "/clear@taskchat_bot")
	if len(c.cleared) != 1 || c.cleared[0] != "user-alice" {
		t.Fatalf("cleared = %v", c.cleared)
	}
	if !strings.Contains(out.last(t).Text, "4 messages") {
		t.Fatalf("clear reply = %q", out.last(t).Text)
	}
	if len(c.calls) != 0 {
		t.Fatal("commands should not be sent to the facade")
	}
}

func TestTelegram_ConfirmationKeyboard(t *testing.T) {
	c := &fakeChat{reply: chat.Reply{
		Response: "Are you sure you want to delete 'buy milk'?",
		Intent:   "clarify",
		Data:     map[string]any{"pending_action": "DELETE", "task_id": "t1"},
	}}
	ch, out := newTestChannel(c)
	ctx := context.Background()

	ch.handleMessage(ctx, 42, "delete buy milk")
	kb, ok := out.last(t).ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok || len(kb.InlineKeyboard) != 1 || len(kb.InlineKeyboard[0]) != 2 {
		t.Fatalf("expected yes/no keyboard, got %#v", out.last(t).ReplyMarkup)
	}

	c.reply = chat.Reply{Response: "Deleted task: 'buy milk'", Intent: "delete"}
	ch.handleCallback(ctx, &tgbotapi.CallbackQuery{
		ID:      "cb1",
		Data:    callbackConfirm,
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 42}},
	})
	if got := c.calls[len(c.calls)-1]; got != (call{"user-alice", "yes"}) {
		t.Fatalf("callback routed as %+v", got)
	}
	if len(out.acked) != 1 || out.acked[0] != "cb1" {
		t.Fatalf("acked = %v", out.acked)
	}

	ch.handleCallback(ctx, &tgbotapi.CallbackQuery{
		ID:      "cb2",
		Data:    "something-else",
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 42}},
	})
	if len(c.calls) != 2 {
		t.Fatal("unknown callback data should be ignored")
	}
}

func TestTelegram_ChatErrors(t *testing.T) {
	c := &fakeChat{err: chat.ErrInvalidMessage}
	ch, out := newTestChannel(c)

	ch.handleMessage(context.Background(), 42, "x")
	if !strings.Contains(out.last(t).Text, "couldn't read") {
		t.Fatalf("reply = %q", out.last(t).Text)
	}

	c.err = errors.New("db down")
	ch.handleMessage(context.Background(), 42, "x")
	if strings.Contains(out.last(t).Text, "db down") {
		t.Fatal("internal errors must not leak to the chat")
	}
}

func TestCommand(t *testing.T) {
	cases := map[string]string{
		"/start":          "start",
		"/Clear@bot now":  "clear",
		"add buy milk":    "",
		"/help me please": "help",
	}
	for in, want := range cases {
		if got := command(in); got != want {
			t.Fatalf("command(%q) = %q, want %q", in, got, want)
		}
	}
}

var _ Channel = (*TelegramChannel)(nil)

func TestTelegramChannel_Name(t *testing.T) {
	if got := NewTelegramChannel("token", nil, nil, nil, nil).Name(); got != "telegram" {
		t.Fatalf("Name() = %q", got)
	}
}
