package features

import (
	"context"
	"fmt"

	"github.com/MrSigel/pulseframelabs/backend/bot"
	"github.com/MrSigel/pulseframelabs/backend/chat"
	"github.com/MrSigel/pulseframelabs/backend/store"
)

// Relay persists every chat message with the sender's role.
type Relay struct {
	store store.ChatLog
}

func NewRelay(s store.ChatLog) *Relay { return &Relay{store: s} }

func (*Relay) Name() string { return ChatRelay }

func (*Relay) CanHandle(chat.Event) bool { return true }

func (r *Relay) Handle(ctx context.Context, ev chat.Event, hc bot.HandlerContext) error {
	err := r.store.AppendChat(ctx, store.ChatRecord{
		OwnerID:     hc.OwnerID,
		Channel:     ev.Channel,
		DisplayName: ev.Sender.Name(),
		Role:        string(ev.Sender.Role()),
		Text:        ev.Text,
		ReceivedAt:  ev.ReceivedAt,
	})
	if err != nil {
		return fmt.Errorf("append chat: %w", err)
	}
	return nil
}
