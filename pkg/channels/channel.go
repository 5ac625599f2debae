// Package channels runs the transports that deliver events to the bot.
package channels

import (
	"context"

	"github.com/harun/standup/pkg/dispatch"
)

// Handler runs one turn for an inbound event.
type Handler interface {
	Handle(ctx context.Context, ev dispatch.Event) (*dispatch.InvokeResponse, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev dispatch.Event) (*dispatch.InvokeResponse, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, ev dispatch.Event) (*dispatch.InvokeResponse, error) {
	return f(ctx, ev)
}

// Channel is one ingress transport (HTTP activities, Telegram, ...).
// Start must return once the channel is accepting events; events are
// handed to h with Event.Channel set to Name().
type Channel interface {
	Name() string
	Start(ctx context.Context, h Handler) error
	Stop(ctx context.Context) error
}
