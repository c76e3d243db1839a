package bus

import (
	"context"
	"log"
	"sync"
	"time"
)

// InboundMessage is a single student (or teacher-mode) chat message arriving
// from a channel. It is immutable once placed on the bus.
type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	Content   string
	Timestamp time.Time
	Metadata  map[string]any
}

// SessionKey identifies the conversation this message belongs to.
func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// OutboundMessage is a reply to be delivered through a channel. Kind
// distinguishes ordinary tutor replies from safety notices so the front end
// can render them differently.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	Kind    string
}

const (
	KindReply  = "reply"
	KindNotice = "notice"
)

// MessageBus connects channels to the gateway. Channels push onto Inbound;
// the gateway pushes replies onto Outbound, and DispatchOutbound fans them
// out to the handler registered per channel name.
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu       sync.RWMutex
	handlers map[string]func(OutboundMessage)
}

func NewMessageBus(bufSize int) *MessageBus {
	return &MessageBus{
		Inbound:  make(chan InboundMessage, bufSize),
		Outbound: make(chan OutboundMessage, bufSize),
		handlers: make(map[string]func(OutboundMessage)),
	}
}

// SubscribeOutbound registers the delivery handler for a channel name.
// The last registration wins.
func (b *MessageBus) SubscribeOutbound(channel string, handler func(OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channel] = handler
}

// DispatchOutbound delivers outbound messages until ctx is done.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.Outbound:
			b.mu.RLock()
			handler, ok := b.handlers[msg.Channel]
			b.mu.RUnlock()
			if !ok {
				log.Printf("[bus] no handler for channel %s, dropping message", msg.Channel)
				continue
			}
			handler(msg)
		case <-ctx.Done():
			return
		}
	}
}
