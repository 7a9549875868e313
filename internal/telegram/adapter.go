// Package telegram listens for Telegram messages and feeds them to the
// gateway on the primary thread. It also delivers autonomous responses.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/keepsake/internal/gateway"
	"github.com/user/keepsake/internal/types"
)

const maxTelegramMessage = 4096

// TargetPrefix prefixes delivery targets handled by the adapter.
const TargetPrefix = "telegram:"

// Submitter queues turns for processing.
type Submitter interface {
	Submit(ctx context.Context, turn *types.Turn, opts ...gateway.RunOption) (*gateway.Run, error)
}

// botAPI is the subset of the Bot API client the adapter uses.
type botAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Adapter bridges Telegram to the gateway.
type Adapter struct {
	bot      botAPI
	gateway  Submitter
	messages types.MessageStore
	allowed  map[int64]bool
}

// New creates a Telegram adapter. When allowedUsers is non-empty, messages
// from anyone else are ignored.
func New(token string, gw Submitter, messages types.MessageStore, allowedUsers []int64) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("%w: create bot: %v", types.ErrConfiguration, err)
	}
	return newAdapter(bot, gw, messages, allowedUsers), nil
}

func newAdapter(bot botAPI, gw Submitter, messages types.MessageStore, allowedUsers []int64) *Adapter {
	a := &Adapter{bot: bot, gateway: gw, messages: messages}
	if len(allowedUsers) > 0 {
		a.allowed = make(map[int64]bool, len(allowedUsers))
		for _, id := range allowedUsers {
			a.allowed[id] = true
		}
	}
	return a
}

// Start long-polls for Telegram updates until ctx is done.
func (a *Adapter) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)
	slog.Info("telegram listener started")

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || update.Message.Text == "" || update.Message.From == nil {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return nil
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if a.allowed != nil && !a.allowed[msg.From.ID] {
		slog.Warn("ignoring telegram message from unknown user", "user_id", msg.From.ID)
		return
	}
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	chatID := msg.Chat.ID
	turn := &types.Turn{
		Thread:      types.PrimaryThread,
		Text:        msg.Text,
		DisplayName: displayName(msg.From),
		Channel:     types.ChannelTelegram,
		UserID:      types.NewUserID("telegram", strconv.FormatInt(msg.From.ID, 10)),
		Group:       msg.Chat.IsGroup() || msg.Chat.IsSuperGroup(),
	}

	// The turn outlives the poll loop so a shutdown lets it finish and reply.
	_, err := a.gateway.Submit(context.WithoutCancel(ctx), turn, gateway.WithOnComplete(func(response string) {
		a.sendResponse(chatID, response)
	}))
	if err != nil {
		slog.Error("telegram submit failed", "chat_id", chatID, "error", err)
		a.sendResponse(chatID, "Sorry, I encountered an error processing your message.")
	}
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		a.sendResponse(chatID, "Hello! Send me a message to get started. Everything we talk about here is part of one ongoing conversation.")

	case "status":
		count, err := a.messages.CountMessages(ctx, types.PrimaryThread)
		if err != nil {
			slog.Error("telegram status failed", "error", err)
			a.sendResponse(chatID, "Error fetching status.")
			return
		}
		a.sendResponse(chatID, fmt.Sprintf("Thread: %s\nMessages: %d", types.PrimaryThread, count))

	default:
		a.sendResponse(chatID, "Unknown command. Available: /start, /status")
	}
}

// Deliver sends message to a "telegram:<chat id>" target. It is the
// adapter's delivery handler.
func (a *Adapter) Deliver(_ context.Context, target, message string) error {
	chatID, err := ParseTarget(target)
	if err != nil {
		return err
	}
	return a.send(chatID, message)
}

// ParseTarget extracts the chat id from a "telegram:<chat id>" target.
func ParseTarget(target string) (int64, error) {
	raw, ok := strings.CutPrefix(target, TargetPrefix)
	if !ok {
		return 0, fmt.Errorf("%w: not a telegram target: %q", types.ErrValidation, target)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid telegram chat id %q", types.ErrValidation, raw)
	}
	return id, nil
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if err := a.send(chatID, text); err != nil {
		slog.Error("telegram send failed", "chat_id", chatID, "error", err)
	}
}

func (a *Adapter) send(chatID int64, text string) error {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = "Markdown"
		if _, err := a.bot.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := a.bot.Send(msg); err != nil {
				return fmt.Errorf("send message: %w", err)
			}
		}
	}
	return nil
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

func displayName(u *tgbotapi.User) string {
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		return name
	}
	return u.UserName
}
