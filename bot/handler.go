// Package bot owns a streamer's chat bot instance: the handler registry and
// dispatch loop, the status/log bus and the Controller facade that ties them
// to a chat connection and a credential provider.
package bot

import (
	"context"
	"errors"

	"github.com/MrSigel/pulseframelabs/backend/chat"
)

var (
	ErrConnectInProgress = errors.New("bot: connect already in progress")
	ErrUnknownFeature    = errors.New("bot: unknown feature")
	ErrClosed            = errors.New("bot: controller closed")
)

// Handler reacts to chat messages. CanHandle must be cheap and free of I/O;
// Handle may persist state and reply through the HandlerContext.
type Handler interface {
	Name() string
	CanHandle(ev chat.Event) bool
	Handle(ctx context.Context, ev chat.Event, hc HandlerContext) error
}

// HandlerContext is what a handler gets to act on the channel it serves.
type HandlerContext struct {
	OwnerID string
	Channel string
	// Send writes one chat line. Nil drops replies.
	Send func(ctx context.Context, text string)
	// Notify appends an activity entry to the bot log under the handler's name.
	Notify func(handler, message string)

	handler string
}

// Reply sends text to the channel. Failures are logged by the connection.
func (hc HandlerContext) Reply(ctx context.Context, text string) {
	if hc.Send != nil {
		hc.Send(ctx, text)
	}
}

// Info records handler activity in the bot log.
func (hc HandlerContext) Info(message string) {
	if hc.Notify != nil {
		hc.Notify(hc.handler, message)
	}
}

// Handler is the name of the handler this context was issued to.
func (hc HandlerContext) Handler() string { return hc.handler }

// Factory builds feature handlers by name for one owner.
type Factory interface {
	Names() []string
	Build(ctx context.Context, ownerID, name string) (Handler, error)
}
