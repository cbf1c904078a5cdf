package features

import (
	"context"
	"fmt"

	"github.com/MrSigel/pulseframelabs/backend/bot"
	"github.com/MrSigel/pulseframelabs/backend/chat"
	"github.com/MrSigel/pulseframelabs/backend/store"
)

// HotwordCounter adds one to each distinct qualifying word of a message.
type HotwordCounter struct {
	store    store.Hotwords
	excluded map[string]struct{}
}

func NewHotwordCounter(s store.Hotwords, excluded []string) *HotwordCounter {
	return &HotwordCounter{store: s, excluded: wordSet(excluded)}
}

func (*HotwordCounter) Name() string { return Hotwords }

func (*HotwordCounter) CanHandle(chat.Event) bool { return true }

func (h *HotwordCounter) Handle(ctx context.Context, ev chat.Event, hc bot.HandlerContext) error {
	words := Tokenize(ev.Text, h.excluded)
	if len(words) == 0 {
		return nil
	}
	if err := h.store.IncrementHotwords(ctx, hc.OwnerID, words); err != nil {
		return fmt.Errorf("increment hotwords: %w", err)
	}
	return nil
}
