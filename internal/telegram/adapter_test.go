package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/keepsake/internal/gateway"
	"github.com/user/keepsake/internal/types"
)

type fakeBot struct {
	sent    []tgbotapi.MessageConfig
	failMD  bool
	updates chan tgbotapi.Update
}

func (f *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel { return f.updates }
func (f *fakeBot) StopReceivingUpdates()                                         {}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg := c.(tgbotapi.MessageConfig)
	if f.failMD && msg.ParseMode != "" {
		return tgbotapi.Message{}, errors.New("can't parse entities")
	}
	f.sent = append(f.sent, msg)
	return tgbotapi.Message{}, nil
}

type fakeSubmitter struct {
	turns []*types.Turn
	reply string
	err   error
}

func (f *fakeSubmitter) Submit(_ context.Context, turn *types.Turn, opts ...gateway.RunOption) (*gateway.Run, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.turns = append(f.turns, turn)
	run := gateway.NewRun(turn)
	for _, opt := range opts {
		opt(run)
	}
	if run.OnComplete != nil {
		run.OnComplete(f.reply)
	}
	return run, nil
}

type countingStore struct {
	types.MessageStore
	n int64
}

func (c *countingStore) CountMessages(context.Context, types.ThreadID) (int64, error) { return c.n, nil }

func textMessage(from int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		From: &tgbotapi.User{ID: from, FirstName: "Alex"},
		Chat: &tgbotapi.Chat{ID: 500, Type: "private"},
		Text: text,
	}
}

func TestSplitMessage(t *testing.T) {
	short := "Hello world"
	parts := splitMessage(short)
	if len(parts) != 1 {
		t.Fatalf("expected 1 part, got %d", len(parts))
	}
	if parts[0] != short {
		t.Errorf("expected %q, got %q", short, parts[0])
	}
}

func TestSplitMessageLong(t *testing.T) {
	long := strings.Repeat("a", 5000)
	parts := splitMessage(long)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if len(parts[0]) != maxTelegramMessage {
		t.Errorf("expected first part length %d, got %d", maxTelegramMessage, len(parts[0]))
	}
}

func TestParseTarget(t *testing.T) {
	id, err := ParseTarget("telegram:-100123")
	if err != nil || id != -100123 {
		t.Errorf("expected -100123, got %d, %v", id, err)
	}
	if _, err := ParseTarget("slack:general"); !errors.Is(err, types.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if _, err := ParseTarget("telegram:abc"); !errors.Is(err, types.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestHandleMessageSubmitsToPrimaryThread(t *testing.T) {
	bot := &fakeBot{}
	sub := &fakeSubmitter{reply: "hi Alex"}
	a := newAdapter(bot, sub, &countingStore{}, nil)

	a.handleMessage(context.Background(), textMessage(42, "hello"))

	if len(sub.turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(sub.turns))
	}
	turn := sub.turns[0]
	if turn.Thread != types.PrimaryThread || turn.Channel != types.ChannelTelegram || turn.UserID != "telegram:42" || turn.DisplayName != "Alex" || turn.Group {
		t.Errorf("unexpected turn %+v", turn)
	}
	if len(bot.sent) != 1 || bot.sent[0].Text != "hi Alex" || bot.sent[0].ChatID != 500 {
		t.Errorf("unexpected sent messages %+v", bot.sent)
	}
}

func TestHandleMessageIgnoresUnknownUsers(t *testing.T) {
	bot := &fakeBot{}
	sub := &fakeSubmitter{}
	a := newAdapter(bot, sub, &countingStore{}, []int64{7})

	a.handleMessage(context.Background(), textMessage(42, "hello"))
	if len(sub.turns) != 0 || len(bot.sent) != 0 {
		t.Errorf("messages from unknown users must be ignored")
	}
}

func TestHandleMessageSubmitFailure(t *testing.T) {
	bot := &fakeBot{}
	a := newAdapter(bot, &fakeSubmitter{err: gateway.ErrQueueFull}, &countingStore{}, nil)

	a.handleMessage(context.Background(), textMessage(42, "hello"))
	if len(bot.sent) != 1 || !strings.HasPrefix(bot.sent[0].Text, "Sorry") {
		t.Errorf("expected an apology, got %+v", bot.sent)
	}
}

func TestStatusCommand(t *testing.T) {
	bot := &fakeBot{}
	a := newAdapter(bot, &fakeSubmitter{}, &countingStore{n: 12}, nil)

	msg := textMessage(42, "/status")
	msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 7}}
	a.handleMessage(context.Background(), msg)

	if len(bot.sent) != 1 || bot.sent[0].Text != "Thread: main\nMessages: 12" {
		t.Errorf("unexpected status reply %+v", bot.sent)
	}
}

func TestDeliverFallsBackToPlainText(t *testing.T) {
	bot := &fakeBot{failMD: true}
	a := newAdapter(bot, &fakeSubmitter{}, &countingStore{}, nil)

	if err := a.Deliver(context.Background(), "telegram:99", "*unbalanced"); err != nil {
		t.Fatal(err)
	}
	if len(bot.sent) != 1 || bot.sent[0].ParseMode != "" || bot.sent[0].ChatID != 99 {
		t.Errorf("expected plain-text retry, got %+v", bot.sent)
	}
}

func TestStartStopsOnContextCancel(t *testing.T) {
	bot := &fakeBot{updates: make(chan tgbotapi.Update, 1)}
	sub := &fakeSubmitter{reply: "ok"}
	a := newAdapter(bot, sub, &countingStore{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Start(ctx) }()

	bot.updates <- tgbotapi.Update{Message: textMessage(1, "ping")}
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
