package features

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/MrSigel/pulseframelabs/backend/bot"
	"github.com/MrSigel/pulseframelabs/backend/chat"
	"github.com/MrSigel/pulseframelabs/backend/store"
)

// QuickGuess takes "<command> <number>" guesses for the active guess session.
// Each viewer holds one value and no two viewers hold the same value.
type QuickGuess struct {
	store    store.Guesses
	commands map[string]struct{}
}

func NewQuickGuess(s store.Guesses, commands []string) *QuickGuess {
	return &QuickGuess{store: s, commands: wordSet(commands)}
}

func (*QuickGuess) Name() string { return QuickGuesses }

func (q *QuickGuess) CanHandle(ev chat.Event) bool {
	fields := strings.Fields(ev.Text)
	if len(fields) == 0 {
		return false
	}
	_, ok := q.commands[strings.ToLower(fields[0])]
	return ok
}

func (q *QuickGuess) Handle(ctx context.Context, ev chat.Event, hc bot.HandlerContext) error {
	session, err := q.store.ActiveGuessSession(ctx, hc.OwnerID)
	if err != nil {
		return fmt.Errorf("load guess session: %w", err)
	}
	if session == nil || !session.Open {
		hc.Reply(ctx, mention(ev, "quick guesses are not active right now"))
		return nil
	}

	fields := strings.Fields(ev.Text)
	if len(fields) == 0 {
		return nil
	}
	value, ok := "", len(fields) >= 2
	if ok {
		value, ok = parseGuess(fields[1])
	}
	if !ok {
		hc.Reply(ctx, mention(ev, fmt.Sprintf("please guess a number, e.g. %s 1234", strings.ToLower(fields[0]))))
		return nil
	}

	viewer := ev.Sender.Name()
	holder, err := q.store.GuessHolder(ctx, session.ID, value)
	if err != nil {
		return fmt.Errorf("lookup guess: %w", err)
	}
	if holder != "" && !strings.EqualFold(holder, viewer) {
		hc.Reply(ctx, mention(ev, fmt.Sprintf("%s is already in use, pick another number", value)))
		return nil
	}

	err = q.store.ClaimGuess(ctx, store.Guess{
		SessionID:  session.ID,
		OwnerID:    hc.OwnerID,
		ViewerName: viewer,
		Value:      value,
		GuessedAt:  ev.ReceivedAt,
	})
	if errors.Is(err, store.ErrGuessTaken) {
		// lost the race to another viewer between the lookup and the claim
		hc.Reply(ctx, mention(ev, fmt.Sprintf("%s is already in use, pick another number", value)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim guess: %w", err)
	}
	hc.Reply(ctx, mention(ev, fmt.Sprintf("your guess %s is locked in", value)))
	return nil
}

// maxGuessDigits is the precision a float64 carries exactly.
const maxGuessDigits = 15

// parseGuess accepts finite decimals and returns their canonical form, so
// "7", "7.0" and "07" are the same guess and "-0" is "0".
func parseGuess(s string) (string, bool) {
	s = strings.ReplaceAll(s, ",", ".")
	// ParseFloat also accepts hex, exponents and "inf"; guesses are plain decimals
	var digits strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '.':
		case (r == '-' || r == '+') && i == 0:
		default:
			return "", false
		}
	}
	if digits.Len() == 0 {
		return "", false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(n, 10), true
	}
	// beyond this two different guesses could land on the same float
	if len(strings.Trim(digits.String(), "0")) > maxGuessDigits {
		return "", false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return "", false
	}
	if v == 0 {
		v = 0 // drops the sign of -0
	}
	return strconv.FormatFloat(v, 'f', -1, 64), true
}
