package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/MrSigel/pulseframelabs/backend/store"
)

// --- quick guesses ---

// StartGuessSession deactivates the owner's previous round and opens a new one.
func (s *Store) StartGuessSession(ctx context.Context, ownerID string) (store.GuessSession, error) {
	gs := store.GuessSession{ID: uuid.New(), OwnerID: ownerID, Active: true, Open: true}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE guess_sessions SET is_active = FALSE, is_open = FALSE WHERE owner_id = $1 AND is_active`, ownerID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO guess_sessions(id, owner_id, is_active, is_open) VALUES ($1,$2,TRUE,TRUE)`, gs.ID, ownerID)
		return err
	})
	if err != nil {
		return store.GuessSession{}, fmt.Errorf("start guess session: %w", err)
	}
	return gs, nil
}

// CloseGuessing ends the guessing window of the active round.
func (s *Store) CloseGuessing(ctx context.Context, ownerID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE guess_sessions SET is_open = FALSE WHERE owner_id = $1 AND is_active`, ownerID)
	return err
}

func (s *Store) ActiveGuessSession(ctx context.Context, ownerID string) (*store.GuessSession, error) {
	var gs store.GuessSession
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, is_active, is_open FROM guess_sessions WHERE owner_id = $1 AND is_active`, ownerID).
		Scan(&gs.ID, &gs.OwnerID, &gs.Active, &gs.Open)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &gs, nil
}

func (s *Store) GuessHolder(ctx context.Context, sessionID uuid.UUID, value string) (string, error) {
	var viewer string
	err := s.db.QueryRowContext(ctx,
		`SELECT viewer_name FROM guesses WHERE session_id = $1 AND guess_value = $2`, sessionID, value).Scan(&viewer)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return viewer, err
}

// ClaimGuess upserts by viewer; the (session, value) constraint rejects a value held by someone else.
func (s *Store) ClaimGuess(ctx context.Context, g store.Guess) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guesses(session_id, owner_id, viewer_key, viewer_name, guess_value, guessed_at)
		 VALUES ($1,$2,$3,$4,$5,COALESCE($6, NOW()))
		 ON CONFLICT (session_id, viewer_key) DO UPDATE
		   SET guess_value = EXCLUDED.guess_value, viewer_name = EXCLUDED.viewer_name, guessed_at = EXCLUDED.guessed_at`,
		g.SessionID, g.OwnerID, viewerKey(g.ViewerName), g.ViewerName, g.Value, nullTime(g.GuessedAt))
	if uniqueViolated(err, "guesses_session_value_key") {
		return store.ErrGuessTaken
	}
	return err
}

// --- points battle ---

// StartBattle closes the owner's open battle and opens a new one.
func (s *Store) StartBattle(ctx context.Context, ownerID string, options []store.BattleOption, minBet, maxBet int64) (store.Battle, error) {
	b := store.Battle{ID: uuid.New(), OwnerID: ownerID, Options: options, MinBet: minBet, MaxBet: maxBet, Open: true}
	opts, err := json.Marshal(options)
	if err != nil {
		return store.Battle{}, err
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE battles SET is_open = FALSE WHERE owner_id = $1 AND is_open`, ownerID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO battles(id, owner_id, options, min_bet, max_bet, is_open) VALUES ($1,$2,$3,$4,$5,TRUE)`,
			b.ID, ownerID, string(opts), minBet, maxBet)
		return err
	})
	if err != nil {
		return store.Battle{}, fmt.Errorf("start battle: %w", err)
	}
	return b, nil
}

func (s *Store) CloseBattle(ctx context.Context, ownerID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE battles SET is_open = FALSE WHERE owner_id = $1 AND is_open`, ownerID)
	return err
}

func (s *Store) ActiveBattle(ctx context.Context, ownerID string) (*store.Battle, error) {
	var b store.Battle
	var opts []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, options, min_bet, max_bet, is_open FROM battles WHERE owner_id = $1 AND is_open`, ownerID).
		Scan(&b.ID, &b.OwnerID, &opts, &b.MinBet, &b.MaxBet, &b.Open)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(opts, &b.Options); err != nil {
		return nil, fmt.Errorf("decode battle options: %w", err)
	}
	return &b, nil
}

func (s *Store) HasBet(ctx context.Context, sessionID uuid.UUID, viewer string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM bets WHERE session_id = $1 AND viewer_key = $2)`, sessionID, viewerKey(viewer)).Scan(&exists)
	return exists, err
}

// PlaceBet inserts the bet, debits the wallet only when it covers the amount
// and writes the ledger row, all in one transaction.
func (s *Store) PlaceBet(ctx context.Context, bet store.Bet) (int64, error) {
	var balance int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO bets(session_id, owner_id, viewer_key, viewer_name, option_index, amount, placed_at)
			 VALUES ($1,$2,$3,$4,$5,$6,COALESCE($7, NOW()))`,
			bet.SessionID, bet.OwnerID, viewerKey(bet.ViewerName), bet.ViewerName, bet.OptionIndex, bet.Amount, nullTime(bet.PlacedAt))
		if uniqueViolated(err, "") {
			return store.ErrAlreadyBet
		}
		if err != nil {
			return err
		}
		balance, err = debit(ctx, tx, bet.OwnerID, bet.ViewerName, bet.Amount)
		if err != nil {
			return err
		}
		return ledger(ctx, tx, bet.OwnerID, bet.ViewerName, -bet.Amount, store.ReasonBet, bet.SessionID)
	})
	if errors.Is(err, store.ErrInsufficientPoints) {
		current, berr := s.Balance(ctx, bet.OwnerID, bet.ViewerName)
		if berr != nil {
			return 0, berr
		}
		return current, err
	}
	return balance, err
}

// --- loyalty giveaways ---

// StartGiveaway ends the owner's active giveaway and starts a new one.
func (s *Store) StartGiveaway(ctx context.Context, ownerID string) (store.Giveaway, error) {
	g := store.Giveaway{ID: uuid.New(), OwnerID: ownerID, Active: true}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE giveaways SET is_active = FALSE WHERE owner_id = $1 AND is_active`, ownerID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO giveaways(id, owner_id, is_active) VALUES ($1,$2,TRUE)`, g.ID, ownerID)
		return err
	})
	if err != nil {
		return store.Giveaway{}, fmt.Errorf("start giveaway: %w", err)
	}
	return g, nil
}

func (s *Store) ActiveGiveaway(ctx context.Context, ownerID string) (*store.Giveaway, error) {
	var g store.Giveaway
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, is_active FROM giveaways WHERE owner_id = $1 AND is_active`, ownerID).
		Scan(&g.ID, &g.OwnerID, &g.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// JoinGiveaway inserts the participant if absent and, only then, credits the
// wallet and writes the ledger row in the same transaction.
func (s *Store) JoinGiveaway(ctx context.Context, ownerID string, sessionID uuid.UUID, viewer string, reward int64) (bool, error) {
	joined := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO giveaway_participants(session_id, owner_id, viewer_key, viewer_name)
			 VALUES ($1,$2,$3,$4) ON CONFLICT (session_id, viewer_key) DO NOTHING`,
			sessionID, ownerID, viewerKey(viewer), viewer)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		joined = true
		if reward <= 0 {
			return nil
		}
		if _, err := credit(ctx, tx, ownerID, viewer, reward); err != nil {
			return err
		}
		return ledger(ctx, tx, ownerID, viewer, reward, store.ReasonLoyalty, sessionID)
	})
	if err != nil {
		return false, fmt.Errorf("join giveaway: %w", err)
	}
	return joined, nil
}

// Participants counts giveaway entrants.
func (s *Store) Participants(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM giveaway_participants WHERE session_id = $1`, sessionID).Scan(&n)
	return n, err
}
