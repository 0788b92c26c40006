package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/taskchat/internal/audit"
	"github.com/basket/taskchat/internal/chat"
	"github.com/basket/taskchat/internal/persistence"
	"github.com/basket/taskchat/internal/shared"
)

const (
	callbackConfirm = "confirm:yes"
	callbackCancel  = "confirm:no"
)

const telegramHelp = "Send me a message to manage your tasks, for example 'add buy milk' or 'show my tasks'.\n/clear starts a fresh conversation."

// sender is the slice of tgbotapi.BotAPI used to answer chats.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// TelegramChannel relays messages from linked Telegram chats to the chat
// facade. Each chat id is bound to one account email in config; anything
// from an unlinked chat gets a hint and is never routed.
type TelegramChannel struct {
	token  string
	links  map[int64]string
	chat   Chatter
	users  UserLookup
	logger *slog.Logger

	bot *tgbotapi.BotAPI
	out sender
}

// NewTelegramChannel creates a new Telegram channel. links maps chat ids to
// account emails.
func NewTelegramChannel(token string, links map[int64]string, chatter Chatter, users UserLookup, logger *slog.Logger) *TelegramChannel {
	if logger == nil {
		logger = slog.Default()
	}
	normalized := make(map[int64]string, len(links))
	for id, email := range links {
		normalized[id] = persistence.NormalizeEmail(email)
	}
	return &TelegramChannel{
		token:  token,
		links:  normalized,
		chat:   chatter,
		users:  users,
		logger: logger,
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	var err error
	t.bot, err = tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}
	t.out = t.bot

	t.logger.Info("telegram bot started", "user", t.bot.Self.UserName, "linked_chats", len(t.links))

	// Reconnection loop with exponential backoff.
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := t.bot.GetUpdatesChan(u)

		pollErr := t.pollUpdates(ctx, updates)

		// Always clean up the old polling goroutine before reconnecting.
		t.bot.StopReceivingUpdates()

		if pollErr != nil {
			t.logger.Warn("telegram poll disconnected, reconnecting", "error", pollErr, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		return nil
	}
}

// pollUpdates reads from the update channel until ctx is done, the channel
// closes, or nothing arrives for well over the long-poll timeout.
// Returns nil on context cancellation, or an error to trigger reconnection.
func (t *TelegramChannel) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	// The library blocks rather than closing the channel on a dead connection.
	const stallTimeout = 150 * time.Second

	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			uctx := shared.WithChannel(shared.WithTraceID(ctx, shared.NewTraceID()), t.Name())
			switch {
			case update.Message != nil:
				t.handleMessage(uctx, update.Message.Chat.ID, update.Message.Text)
			case update.CallbackQuery != nil:
				t.handleCallback(uctx, update.CallbackQuery)
			}

		case <-timer.C:
			return fmt.Errorf("no updates received for %v (possible disconnect)", stallTimeout)
		}
	}
}

// owner resolves the account a chat is linked to. ok is false for unlinked
// chats and for links whose email has no account.
func (t *TelegramChannel) owner(ctx context.Context, chatID int64) (string, bool) {
	email, linked := t.links[chatID]
	if !linked {
		return "", false
	}
	user, err := t.users.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			t.logger.Error("telegram: user lookup failed", "chat_id", chatID, "error", err)
		}
		return "", false
	}
	return user.ID, true
}

func (t *TelegramChannel) handleMessage(ctx context.Context, chatID int64, text string) {
	content := strings.TrimSpace(text)
	if content == "" {
		return
	}

	owner, ok := t.owner(ctx, chatID)
	if !ok {
		audit.Deny(ctx, "telegram.message", "unlinked_chat", fmt.Sprintf("%d", chatID))
		t.reply(chatID, fmt.Sprintf("This chat isn't linked to a taskchat account. Ask an operator to link chat id %d.", chatID), nil)
		return
	}

	switch command(content) {
	case "start", "help":
		t.reply(chatID, telegramHelp, nil)
		return
	case "clear":
		n, err := t.chat.ClearHistory(ctx, owner)
		if err != nil {
			t.logger.Error("telegram: clear history failed", "chat_id", chatID, "error", err)
			t.reply(chatID, "Sorry, I couldn't clear the conversation. Please try again.", nil)
			return
		}
		t.reply(chatID, fmt.Sprintf("Conversation cleared (%d messages).", n), nil)
		return
	}

	t.relay(ctx, chatID, owner, content)
}

// handleCallback turns a tap on the confirmation keyboard into the matching
// yes/no reply.
func (t *TelegramChannel) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if q.Message == nil {
		return
	}
	var answer string
	switch q.Data {
	case callbackConfirm:
		answer = "yes"
	case callbackCancel:
		answer = "no"
	default:
		return
	}
	if _, err := t.out.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		t.logger.Warn("failed to acknowledge callback", "error", err)
	}
	chatID := q.Message.Chat.ID
	owner, ok := t.owner(ctx, chatID)
	if !ok {
		audit.Deny(ctx, "telegram.callback", "unlinked_chat", fmt.Sprintf("%d", chatID))
		return
	}
	t.relay(ctx, chatID, owner, answer)
}

func (t *TelegramChannel) relay(ctx context.Context, chatID int64, owner, content string) {
	ctx = shared.WithUserID(ctx, owner)
	reply, err := t.chat.Handle(ctx, owner, content)
	if err != nil {
		if errors.Is(err, chat.ErrInvalidMessage) {
			t.reply(chatID, "I couldn't read that message. Please keep it short and plain.", nil)
			return
		}
		t.logger.Error("telegram: chat failed", "chat_id", chatID, "error", err)
		t.reply(chatID, "Sorry, something went wrong. Please try again.", nil)
		return
	}

	var keyboard *tgbotapi.InlineKeyboardMarkup
	if _, pending := reply.Data["pending_action"]; pending {
		kb := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Yes, delete", callbackConfirm),
				tgbotapi.NewInlineKeyboardButtonData("No", callbackCancel),
			),
		)
		keyboard = &kb
	}
	t.reply(chatID, reply.Response, keyboard)
}

func (t *TelegramChannel) reply(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	if keyboard != nil {
		msg.ReplyMarkup = *keyboard
	}
	if _, err := t.out.Send(msg); err != nil {
		t.logger.Error("failed to send telegram reply", "chat_id", chatID, "error", err)
	}
}

// command returns the bot command name without the slash or @botname
// suffix, or "" for ordinary text.
func command(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	name := strings.Fields(text)[0][1:]
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}
