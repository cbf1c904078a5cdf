package features

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrSigel/pulseframelabs/backend/bot"
	"github.com/MrSigel/pulseframelabs/backend/chat"
	"github.com/MrSigel/pulseframelabs/backend/store"
)

// LoyaltyGiveaway enters viewers who type the exact keyword into the active
// giveaway and credits them once per giveaway.
type LoyaltyGiveaway struct {
	store   store.Giveaways
	keyword string
	reward  int64
}

func NewLoyaltyGiveaway(s store.Giveaways, keyword string, reward int64) *LoyaltyGiveaway {
	return &LoyaltyGiveaway{store: s, keyword: strings.ToLower(strings.TrimSpace(keyword)), reward: reward}
}

func (*LoyaltyGiveaway) Name() string { return Loyalty }

func (l *LoyaltyGiveaway) CanHandle(ev chat.Event) bool {
	return l.keyword != "" && strings.ToLower(strings.TrimSpace(ev.Text)) == l.keyword
}

func (l *LoyaltyGiveaway) Handle(ctx context.Context, ev chat.Event, hc bot.HandlerContext) error {
	giveaway, err := l.store.ActiveGiveaway(ctx, hc.OwnerID)
	if err != nil {
		return fmt.Errorf("load giveaway: %w", err)
	}
	if giveaway == nil || !giveaway.Active {
		return nil
	}
	viewer := ev.Sender.Name()
	joined, err := l.store.JoinGiveaway(ctx, hc.OwnerID, giveaway.ID, viewer, l.reward)
	if err != nil {
		return fmt.Errorf("join giveaway: %w", err)
	}
	if joined {
		hc.Info(fmt.Sprintf("%s joined the giveaway (+%d points)", viewer, l.reward))
	}
	return nil
}
