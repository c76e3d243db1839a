package channel

import (
	"context"

	"github.com/sparkforge/sparkgate/internal/bus"
)

// Channel is a transport that feeds student messages onto the bus and
// delivers replies back out.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) error
}

// BaseChannel carries the pieces every channel shares.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]struct{}
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	base := BaseChannel{name: name, bus: b}
	if len(allowFrom) > 0 {
		base.allowFrom = make(map[string]struct{}, len(allowFrom))
		for _, id := range allowFrom {
			base.allowFrom[id] = struct{}{}
		}
	}
	return base
}

func (b BaseChannel) Name() string {
	return b.name
}

// IsAllowed reports whether senderID may use this channel. An empty
// allow-list admits everyone (the demo default).
func (b BaseChannel) IsAllowed(senderID string) bool {
	if b.allowFrom == nil {
		return true
	}
	_, ok := b.allowFrom[senderID]
	return ok
}
