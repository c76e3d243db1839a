package channel

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sparkforge/sparkgate/internal/bus"
	"github.com/sparkforge/sparkgate/internal/config"
)

// mockTelegramBot implements TelegramBot for testing.
type mockTelegramBot struct {
	updates chan tgbotapi.Update
	sent    []tgbotapi.Chattable
	sendErr error
	stopped bool
}

func newMockTelegramBot() *mockTelegramBot {
	return &mockTelegramBot{updates: make(chan tgbotapi.Update, 10)}
}

func (m *mockTelegramBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return m.updates
}

func (m *mockTelegramBot) StopReceivingUpdates() {
	m.stopped = true
}

func (m *mockTelegramBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.sent = append(m.sent, c)
	return tgbotapi.Message{}, m.sendErr
}

func (m *mockTelegramBot) GetSelf() tgbotapi.User {
	return tgbotapi.User{UserName: "sparkgate_test_bot"}
}

func mockFactory(bot TelegramBot) BotFactory {
	return func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
		return bot, nil
	}
}

func newTestTelegram(t *testing.T, cfg config.TelegramConfig, b *bus.MessageBus, bot TelegramBot) *TelegramChannel {
	t.Helper()
	ch, err := NewTelegramChannelWithFactory(cfg, b, mockFactory(bot))
	if err != nil {
		t.Fatalf("NewTelegramChannelWithFactory error: %v", err)
	}
	return ch
}

func TestNewTelegramChannel_RequiresToken(t *testing.T) {
	b := bus.NewMessageBus(10)
	if _, err := NewTelegramChannel(config.TelegramConfig{}, b); err == nil {
		t.Error("expected error for missing token")
	}
}

func TestTelegram_HandleMessage(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch := newTestTelegram(t, config.TelegramConfig{Token: "tok"}, b, newMockTelegramBot())

	ch.handleMessage(&tgbotapi.Message{
		Text: "What's 15 times 23?",
		From: &tgbotapi.User{ID: 42, UserName: "student"},
		Chat: &tgbotapi.Chat{ID: 99},
		Date: int(time.Now().Unix()),
	})

	select {
	case msg := <-b.Inbound:
		if msg.Channel != "telegram" {
			t.Errorf("channel = %q", msg.Channel)
		}
		if msg.SenderID != "42" || msg.ChatID != "99" {
			t.Errorf("sender/chat = %q/%q", msg.SenderID, msg.ChatID)
		}
		if msg.Content != "What's 15 times 23?" {
			t.Errorf("content = %q", msg.Content)
		}
		if msg.Metadata["username"] != "student" {
			t.Errorf("metadata = %v", msg.Metadata)
		}
	default:
		t.Fatal("no inbound message pushed")
	}
}

func TestTelegram_HandleMessage_AllowList(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch := newTestTelegram(t, config.TelegramConfig{Token: "tok", AllowFrom: []string{"42"}}, b, newMockTelegramBot())

	ch.handleMessage(&tgbotapi.Message{
		Text: "hi",
		From: &tgbotapi.User{ID: 43},
		Chat: &tgbotapi.Chat{ID: 99},
	})

	select {
	case msg := <-b.Inbound:
		t.Errorf("disallowed sender should be dropped, got %+v", msg)
	default:
	}
}

func TestTelegram_HandleMessage_SkipsEmptyText(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch := newTestTelegram(t, config.TelegramConfig{Token: "tok"}, b, newMockTelegramBot())

	ch.handleMessage(&tgbotapi.Message{
		Text: "",
		From: &tgbotapi.User{ID: 42},
		Chat: &tgbotapi.Chat{ID: 99},
	})

	select {
	case <-b.Inbound:
		t.Error("media-only message should be dropped")
	default:
	}
}

func TestTelegram_Send(t *testing.T) {
	b := bus.NewMessageBus(10)
	bot := newMockTelegramBot()
	ch := newTestTelegram(t, config.TelegramConfig{Token: "tok"}, b, bot)
	ch.SetBot(bot)

	err := ch.Send(bus.OutboundMessage{ChatID: "99", Content: "keep going!", Kind: bus.KindReply})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("sent = %d messages, want 1", len(bot.sent))
	}
	mc, ok := bot.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("sent type = %T", bot.sent[0])
	}
	if mc.ChatID != 99 || mc.Text != "keep going!" {
		t.Errorf("sent = %+v", mc)
	}
}

func TestTelegram_Send_NoticePrefix(t *testing.T) {
	b := bus.NewMessageBus(10)
	bot := newMockTelegramBot()
	ch := newTestTelegram(t, config.TelegramConfig{Token: "tok"}, b, bot)
	ch.SetBot(bot)

	if err := ch.Send(bus.OutboundMessage{ChatID: "99", Content: "disclosure", Kind: bus.KindNotice}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	mc := bot.sent[0].(tgbotapi.MessageConfig)
	if !strings.HasPrefix(mc.Text, "⚠️ ") {
		t.Errorf("notice text = %q, want warning prefix", mc.Text)
	}
}

func TestTelegram_Send_SplitsLongMessages(t *testing.T) {
	b := bus.NewMessageBus(10)
	bot := newMockTelegramBot()
	ch := newTestTelegram(t, config.TelegramConfig{Token: "tok"}, b, bot)
	ch.SetBot(bot)

	long := strings.Repeat("line of guidance\n", 500) // > 4000 chars
	if err := ch.Send(bus.OutboundMessage{ChatID: "99", Content: long, Kind: bus.KindReply}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(bot.sent) < 2 {
		t.Fatalf("sent = %d messages, want chunked delivery", len(bot.sent))
	}
	for _, c := range bot.sent {
		mc := c.(tgbotapi.MessageConfig)
		if len(mc.Text) > 4000 {
			t.Errorf("chunk length = %d, exceeds cap", len(mc.Text))
		}
	}
}

func TestTelegram_Send_InvalidChatID(t *testing.T) {
	b := bus.NewMessageBus(10)
	bot := newMockTelegramBot()
	ch := newTestTelegram(t, config.TelegramConfig{Token: "tok"}, b, bot)
	ch.SetBot(bot)

	if err := ch.Send(bus.OutboundMessage{ChatID: "not-a-number", Content: "x"}); err == nil {
		t.Error("expected error for invalid chat ID")
	}
}

func TestTelegram_Send_BotNotInitialized(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch := newTestTelegram(t, config.TelegramConfig{Token: "tok"}, b, newMockTelegramBot())

	if err := ch.Send(bus.OutboundMessage{ChatID: "99", Content: "x"}); err == nil {
		t.Error("expected error before Start")
	}
}

func TestTelegram_StartAndStop(t *testing.T) {
	b := bus.NewMessageBus(10)
	bot := newMockTelegramBot()
	ch := newTestTelegram(t, config.TelegramConfig{Token: "tok"}, b, bot)

	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	bot.updates <- tgbotapi.Update{
		Message: &tgbotapi.Message{
			Text: "hello",
			From: &tgbotapi.User{ID: 1},
			Chat: &tgbotapi.Chat{ID: 2},
		},
	}

	select {
	case msg := <-b.Inbound:
		if msg.Content != "hello" {
			t.Errorf("content = %q", msg.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("update not forwarded to bus")
	}

	// Nil-message updates are skipped without panicking.
	bot.updates <- tgbotapi.Update{}

	if err := ch.Stop(); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if !bot.stopped {
		t.Error("bot polling should be stopped")
	}
}
