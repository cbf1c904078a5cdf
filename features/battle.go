package features

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrSigel/pulseframelabs/backend/bot"
	"github.com/MrSigel/pulseframelabs/backend/chat"
	"github.com/MrSigel/pulseframelabs/backend/store"
)

const betCommand = "!bet "

// BattleStore is what points betting needs from persistence.
type BattleStore interface {
	store.Battles
	store.Wallets
}

// Bets takes "!bet <keyword> <amount>" bets against the open battle.
// Validation runs in a fixed order and the first failure replies and stops;
// the store then places the bet, debit and ledger row as one unit.
type Bets struct {
	store BattleStore
}

func NewBets(s BattleStore) *Bets { return &Bets{store: s} }

func (*Bets) Name() string { return PointsBattle }

func (*Bets) CanHandle(ev chat.Event) bool { return hasPrefixFold(ev.Text, betCommand) }

func (p *Bets) Handle(ctx context.Context, ev chat.Event, hc bot.HandlerContext) error {
	battle, err := p.store.ActiveBattle(ctx, hc.OwnerID)
	if err != nil {
		return fmt.Errorf("load battle: %w", err)
	}
	if battle == nil || !battle.Open {
		hc.Reply(ctx, mention(ev, "no points battle is running"))
		return nil
	}

	args := strings.Fields(ev.Text[len(betCommand):])
	if len(args) < 2 {
		hc.Reply(ctx, mention(ev, "usage: !bet <option> <amount>"))
		return nil
	}

	option := -1
	for i, o := range battle.Options {
		if strings.EqualFold(o.Keyword, args[0]) {
			option = i
			break
		}
	}
	if option < 0 {
		hc.Reply(ctx, mention(ev, "invalid option, choose one of: "+optionList(battle.Options)))
		return nil
	}

	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || amount <= 0 || amount < battle.MinBet || (battle.MaxBet > 0 && amount > battle.MaxBet) {
		hc.Reply(ctx, mention(ev, rangeMessage(battle)))
		return nil
	}

	viewer := ev.Sender.Name()
	placed, err := p.store.HasBet(ctx, battle.ID, viewer)
	if err != nil {
		return fmt.Errorf("check bet: %w", err)
	}
	if placed {
		hc.Reply(ctx, mention(ev, "you already placed a bet in this battle"))
		return nil
	}

	balance, err := p.store.Balance(ctx, hc.OwnerID, viewer)
	if err != nil {
		return fmt.Errorf("load balance: %w", err)
	}
	if balance < amount {
		hc.Reply(ctx, mention(ev, fmt.Sprintf("not enough points, you have %d", balance)))
		return nil
	}

	remaining, err := p.store.PlaceBet(ctx, store.Bet{
		SessionID:   battle.ID,
		OwnerID:     hc.OwnerID,
		ViewerName:  viewer,
		OptionIndex: option,
		Amount:      amount,
		PlacedAt:    ev.ReceivedAt,
	})
	switch {
	case errors.Is(err, store.ErrAlreadyBet):
		hc.Reply(ctx, mention(ev, "you already placed a bet in this battle"))
		return nil
	case errors.Is(err, store.ErrInsufficientPoints):
		hc.Reply(ctx, mention(ev, fmt.Sprintf("not enough points, you have %d", remaining)))
		return nil
	case err != nil:
		return fmt.Errorf("place bet: %w", err)
	}

	keyword := battle.Options[option].Keyword
	hc.Info(fmt.Sprintf("%s bet %d on %s", viewer, amount, keyword))
	hc.Reply(ctx, mention(ev, fmt.Sprintf("bet of %d on %s placed, %d points left", amount, keyword, remaining)))
	return nil
}

func optionList(options []store.BattleOption) string {
	keywords := make([]string, len(options))
	for i, o := range options {
		keywords[i] = o.Keyword
	}
	return strings.Join(keywords, ", ")
}

func rangeMessage(b *store.Battle) string {
	if b.MaxBet > 0 {
		return fmt.Sprintf("bets must be between %d and %d points", b.MinBet, b.MaxBet)
	}
	return fmt.Sprintf("bets must be at least %d points", max(b.MinBet, 1))
}
