package channel

import (
	"context"
	"testing"
	"time"

	"github.com/sparkforge/sparkgate/internal/bus"
	"github.com/sparkforge/sparkgate/internal/config"
)

func TestBaseChannel_IsAllowed(t *testing.T) {
	b := bus.NewMessageBus(10)

	open := NewBaseChannel("test", b, nil)
	if !open.IsAllowed("anyone") {
		t.Error("empty allow-list should admit everyone")
	}

	restricted := NewBaseChannel("test", b, []string{"alice", "bob"})
	if !restricted.IsAllowed("alice") {
		t.Error("alice should be allowed")
	}
	if restricted.IsAllowed("mallory") {
		t.Error("mallory should be rejected")
	}
}

func TestBaseChannel_Name(t *testing.T) {
	b := NewBaseChannel("webui", bus.NewMessageBus(1), nil)
	if b.Name() != "webui" {
		t.Errorf("name = %q", b.Name())
	}
}

// mockChannel records lifecycle calls for manager tests.
type mockChannel struct {
	name    string
	started bool
	stopped bool
	sent    chan bus.OutboundMessage
	sendErr error
}

func newMockChannel(name string) *mockChannel {
	return &mockChannel{name: name, sent: make(chan bus.OutboundMessage, 10)}
}

func (m *mockChannel) Name() string                { return m.name }
func (m *mockChannel) Start(context.Context) error { m.started = true; return nil }
func (m *mockChannel) Stop() error                 { m.stopped = true; return nil }
func (m *mockChannel) Send(msg bus.OutboundMessage) error {
	m.sent <- msg
	return m.sendErr
}

func TestChannelManager_Empty(t *testing.T) {
	b := bus.NewMessageBus(10)

	m, err := NewChannelManager(config.ChannelsConfig{}, config.GatewayConfig{}, b, WebUIHooks{})
	if err != nil {
		t.Fatalf("NewChannelManager error: %v", err)
	}
	if got := len(m.EnabledChannels()); got != 0 {
		t.Errorf("enabled channels = %d, want 0", got)
	}
	if err := m.StartAll(context.Background()); err != nil {
		t.Errorf("StartAll error: %v", err)
	}
	if err := m.StopAll(); err != nil {
		t.Errorf("StopAll error: %v", err)
	}
}

func TestChannelManager_WebUIEnabled(t *testing.T) {
	b := bus.NewMessageBus(10)

	cfg := config.ChannelsConfig{
		WebUI: config.WebUIConfig{Enabled: true},
	}
	m, err := NewChannelManager(cfg, config.GatewayConfig{Host: "127.0.0.1", Port: 0}, b, WebUIHooks{})
	if err != nil {
		t.Fatalf("NewChannelManager error: %v", err)
	}

	names := m.EnabledChannels()
	if len(names) != 1 || names[0] != "webui" {
		t.Errorf("enabled channels = %v, want [webui]", names)
	}
}

func TestChannelManager_TelegramRequiresToken(t *testing.T) {
	b := bus.NewMessageBus(10)

	cfg := config.ChannelsConfig{
		Telegram: config.TelegramConfig{Enabled: true, Token: ""},
	}
	if _, err := NewChannelManager(cfg, config.GatewayConfig{}, b, WebUIHooks{}); err == nil {
		t.Error("expected error for enabled telegram without token")
	}
}

func TestChannelManager_RegisterRoutesOutbound(t *testing.T) {
	b := bus.NewMessageBus(10)

	m := &ChannelManager{channels: make(map[string]Channel), bus: b}
	mock := newMockChannel("mock")
	m.register(mock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	b.Outbound <- bus.OutboundMessage{Channel: "mock", ChatID: "c1", Content: "hello"}

	select {
	case msg := <-mock.sent:
		if msg.Content != "hello" {
			t.Errorf("sent = %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("outbound message not routed to channel")
	}
}

func TestChannelManager_StartStopAll(t *testing.T) {
	b := bus.NewMessageBus(10)

	m := &ChannelManager{channels: make(map[string]Channel), bus: b}
	c1 := newMockChannel("one")
	c2 := newMockChannel("two")
	m.register(c1)
	m.register(c2)

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll error: %v", err)
	}
	if !c1.started || !c2.started {
		t.Error("all channels should be started")
	}

	if err := m.StopAll(); err != nil {
		t.Fatalf("StopAll error: %v", err)
	}
	if !c1.stopped || !c2.stopped {
		t.Error("all channels should be stopped")
	}
}
