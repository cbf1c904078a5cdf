package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSigel/pulseframelabs/backend/store"
)

func TestConcurrentHotwordIncrementsAreNotLost(t *testing.T) {
	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.IncrementHotwords(ctx, "owner", []string{"bonus", "hunt"})
		}()
	}
	wg.Wait()

	counts, err := s.HotwordCounts(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, int64(50), counts["bonus"])
	assert.Equal(t, int64(50), counts["hunt"])
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, _ = s.Credit(ctx, "owner", "ryzen", 100)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Debit(ctx, "owner", "ryzen", 30); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	bal, _ := s.Balance(ctx, "owner", "ryzen")
	assert.Equal(t, 3, ok)
	assert.Equal(t, int64(10), bal)
}

func TestClaimGuessUniqueness(t *testing.T) {
	s := New()
	ctx := context.Background()
	gs := s.StartGuessSession("owner")

	require.NoError(t, s.ClaimGuess(ctx, store.Guess{SessionID: gs.ID, ViewerName: "a", Value: "7"}))
	assert.ErrorIs(t, s.ClaimGuess(ctx, store.Guess{SessionID: gs.ID, ViewerName: "b", Value: "7"}), store.ErrGuessTaken)

	// A moves away, freeing 7 for B
	require.NoError(t, s.ClaimGuess(ctx, store.Guess{SessionID: gs.ID, ViewerName: "a", Value: "8"}))
	require.NoError(t, s.ClaimGuess(ctx, store.Guess{SessionID: gs.ID, ViewerName: "b", Value: "7"}))
	assert.Equal(t, 2, s.GuessCount(gs.ID))
}

func TestPlaceBetIsSingleUnit(t *testing.T) {
	s := New()
	ctx := context.Background()
	b := s.StartBattle("owner", []store.BattleOption{{Keyword: "red"}}, 10, 100)
	_, _ = s.Credit(ctx, "owner", "ryzen", 40)

	_, err := s.PlaceBet(ctx, store.Bet{SessionID: b.ID, OwnerID: "owner", ViewerName: "ryzen", Amount: 50})
	assert.ErrorIs(t, err, store.ErrInsufficientPoints)
	placed, _ := s.HasBet(ctx, b.ID, "ryzen")
	assert.False(t, placed)

	bal, err := s.PlaceBet(ctx, store.Bet{SessionID: b.ID, OwnerID: "owner", ViewerName: "ryzen", Amount: 25})
	require.NoError(t, err)
	assert.Equal(t, int64(15), bal)

	_, err = s.PlaceBet(ctx, store.Bet{SessionID: b.ID, OwnerID: "owner", ViewerName: "Ryzen", Amount: 10})
	assert.ErrorIs(t, err, store.ErrAlreadyBet)
	assert.Len(t, s.Ledger("owner"), 1)
}

func TestJoinGiveawayCreditsOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	g := s.StartGiveaway("owner")

	joined, err := s.JoinGiveaway(ctx, "owner", g.ID, "ryzen", 10)
	require.NoError(t, err)
	assert.True(t, joined)
	joined, err = s.JoinGiveaway(ctx, "owner", g.ID, "ryzen", 10)
	require.NoError(t, err)
	assert.False(t, joined)

	bal, _ := s.Balance(ctx, "owner", "ryzen")
	assert.Equal(t, int64(10), bal)
	assert.Equal(t, 1, s.Participants(g.ID))
}

func TestSettingsDefaultWhenUnset(t *testing.T) {
	s := New()
	st, err := s.LoadSettings(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, store.DefaultSettings(), st)
}
