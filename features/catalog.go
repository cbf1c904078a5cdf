package features

import (
	"context"
	"fmt"
	"slices"

	"github.com/MrSigel/pulseframelabs/backend/bot"
	"github.com/MrSigel/pulseframelabs/backend/store"
)

// Catalog builds feature handlers for an owner from the store and the owner's settings.
type Catalog struct {
	Store store.Store
	// Hotwords overrides Store for hotword counters (Redis); optional.
	Hotwords store.Hotwords
}

var _ bot.Factory = (*Catalog)(nil)

func (*Catalog) Names() []string { return slices.Clone(All) }

func (c *Catalog) Build(ctx context.Context, ownerID, name string) (bot.Handler, error) {
	settings, err := c.Store.LoadSettings(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	switch name {
	case ChatRelay:
		return NewRelay(c.Store), nil
	case Hotwords:
		counters := c.Hotwords
		if counters == nil {
			counters = c.Store
		}
		return NewHotwordCounter(counters, settings.ExcludedHotwords), nil
	case SlotRequests:
		return NewSlotRequester(c.Store), nil
	case QuickGuesses:
		commands := settings.GuessCommands
		if len(commands) == 0 {
			commands = store.DefaultSettings().GuessCommands
		}
		return NewQuickGuess(c.Store, commands), nil
	case PointsBattle:
		return NewBets(c.Store), nil
	case Loyalty:
		keyword := settings.LoyaltyKeyword
		if keyword == "" {
			keyword = store.DefaultSettings().LoyaltyKeyword
		}
		return NewLoyaltyGiveaway(c.Store, keyword, settings.LoyaltyReward), nil
	}
	return nil, fmt.Errorf("%w: %q", bot.ErrUnknownFeature, name)
}
