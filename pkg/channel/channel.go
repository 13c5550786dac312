package channel

import (
	"context"

	"skyclaw/pkg/bus"
)

// Handler takes one inbound message into the gateway. Responses arrive
// later through Deliver; the handler only reports intake failure.
type Handler func(context.Context, bus.InboundMessage) error

// Adapter bridges one external transport (for example Telegram) into the
// gateway. Run blocks until the context is done; Deliver pushes one
// response back out on the transport.
type Adapter interface {
	Name() string
	Run(context.Context, Handler) error
	Deliver(context.Context, bus.OutboundMessage) error
}
