package features

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrSigel/pulseframelabs/backend/bot"
	"github.com/MrSigel/pulseframelabs/backend/chat"
	"github.com/MrSigel/pulseframelabs/backend/store"
)

const slotCommand = "!sr "

// maxSlotName keeps a request within a chat line.
const maxSlotName = 100

// SlotRequester queues "!sr <slot>" requests for the streamer.
type SlotRequester struct {
	store store.SlotRequests
}

func NewSlotRequester(s store.SlotRequests) *SlotRequester { return &SlotRequester{store: s} }

func (*SlotRequester) Name() string { return SlotRequests }

func (*SlotRequester) CanHandle(ev chat.Event) bool { return hasPrefixFold(ev.Text, slotCommand) }

func (s *SlotRequester) Handle(ctx context.Context, ev chat.Event, hc bot.HandlerContext) error {
	slot := strings.TrimSpace(ev.Text[len(slotCommand):])
	if slot == "" {
		return nil
	}
	if r := []rune(slot); len(r) > maxSlotName {
		slot = string(r[:maxSlotName])
	}
	req, err := s.store.CreateSlotRequest(ctx, store.SlotRequest{
		OwnerID:     hc.OwnerID,
		ViewerName:  ev.Sender.Name(),
		SlotName:    slot,
		Status:      store.SlotPending,
		RequestedAt: ev.ReceivedAt,
	})
	if err != nil {
		return fmt.Errorf("create slot request: %w", err)
	}
	hc.Info(fmt.Sprintf("%s requested %s", req.ViewerName, req.SlotName))
	hc.Reply(ctx, mention(ev, fmt.Sprintf("your slot request for %s was added to the queue", req.SlotName)))
	return nil
}
