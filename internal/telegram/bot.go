// Package telegram connects the orchestrator to a Telegram bot.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kalambet/dialogo/internal/conversation"
	"github.com/kalambet/dialogo/internal/fallback"
)

// TurnRunner runs one dialogue turn.
type TurnRunner interface {
	RunTurn(ctx context.Context, req conversation.TurnRequest) conversation.TurnResult
}

// WorkflowResetter ends a sender's active workflow.
type WorkflowResetter interface {
	InvalidateWorkflow(senderID string)
}

// Sender delivers outgoing messages. *tgbotapi.BotAPI implements it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

const welcome = `Hi! I can help with production plans, orders, materials and capacity.

Just write what you need, for example "which plans are delayed?".
Use /reset to leave a guided step, /help to see what I can do.`

// SenderID is the conversation identifier used for a Telegram user.
func SenderID(userID int64) string {
	return "tg:" + strconv.FormatInt(userID, 10)
}

// Handler turns incoming messages into dialogue turns and replies.
type Handler struct {
	turns    TurnRunner
	sessions WorkflowResetter
	out      Sender
}

func NewHandler(turns TurnRunner, sessions WorkflowResetter, out Sender) *Handler {
	return &Handler{turns: turns, sessions: sessions, out: out}
}

// Handle processes one message.
func (h *Handler) Handle(ctx context.Context, message *tgbotapi.Message) {
	if message == nil || message.From == nil {
		return
	}
	sender := SenderID(message.From.ID)

	if message.IsCommand() {
		h.handleCommand(ctx, sender, message)
		return
	}

	text := message.Text
	if text == "" {
		text = message.Caption
	}
	if strings.TrimSpace(text) == "" {
		h.reply(message.Chat.ID, "I can only read text messages.", nil)
		return
	}

	res := h.turns.RunTurn(ctx, conversation.TurnRequest{
		SenderID: sender,
		Message:  text,
		Metadata: map[string]string{
			"channel":    "telegram",
			"chat_id":    strconv.FormatInt(message.Chat.ID, 10),
			"message_id": strconv.Itoa(message.MessageID),
		},
	})
	if res.Error != "" {
		slog.Warn("telegram turn finished with error", "sender", sender, "turn_id", res.TurnID, "error", res.Error)
	}
	h.reply(message.Chat.ID, res.Response, res.Suggestions)
}

func (h *Handler) handleCommand(ctx context.Context, sender string, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		h.reply(message.Chat.ID, welcome, nil)
	case "help":
		// "help" is a catalog intent, so the answer comes from the help tool.
		res := h.turns.RunTurn(ctx, conversation.TurnRequest{
			SenderID: sender,
			Message:  "help",
			Metadata: map[string]string{"channel": "telegram"},
		})
		h.reply(message.Chat.ID, res.Response, nil)
	case "reset":
		h.sessions.InvalidateWorkflow(sender)
		h.reply(message.Chat.ID, "Done, let's start over. What do you need?", nil)
	default:
		h.reply(message.Chat.ID, fmt.Sprintf("Unknown command /%s. Try /help.", message.Command()), nil)
	}
}

func (h *Handler) reply(chatID int64, text string, suggestions []fallback.Suggestion) {
	if text == "" {
		return
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if len(suggestions) > 0 {
		msg.ReplyMarkup = suggestionKeyboard(suggestions)
	} else {
		msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	}
	if _, err := h.out.Send(msg); err != nil {
		slog.Error("failed to send telegram message", "chat_id", chatID, "error", err)
	}
}

// suggestionKeyboard lays out one button per suggestion, two per row. The
// button text is the suggestion label, which menu selection accepts.
func suggestionKeyboard(suggestions []fallback.Suggestion) tgbotapi.ReplyKeyboardMarkup {
	var rows [][]tgbotapi.KeyboardButton
	for i := 0; i < len(suggestions); i += 2 {
		row := []tgbotapi.KeyboardButton{tgbotapi.NewKeyboardButton(suggestions[i].Label)}
		if i+1 < len(suggestions) {
			row = append(row, tgbotapi.NewKeyboardButton(suggestions[i+1].Label))
		}
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(row...))
	}
	return tgbotapi.NewOneTimeReplyKeyboard(rows...)
}

// Bot long-polls Telegram and hands each message to a Handler.
type Bot struct {
	api     *tgbotapi.BotAPI
	handler *Handler
}

// New connects to the Bot API with token.
func New(token string, turns TurnRunner, sessions WorkflowResetter) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return &Bot{api: api, handler: NewHandler(turns, sessions, api)}, nil
}

// Run polls for updates until ctx is cancelled. Each message is handled in
// its own goroutine; Run waits for in-flight handlers before returning.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	slog.Info("telegram bot started", "username", b.api.Self.UserName)

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			wg.Add(1)
			go func(m *tgbotapi.Message) {
				defer wg.Done()
				b.handler.Handle(ctx, m)
			}(update.Message)
		}
	}
}
