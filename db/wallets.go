package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/MrSigel/pulseframelabs/backend/store"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func credit(ctx context.Context, q execer, ownerID, viewer string, amount int64) (int64, error) {
	var balance int64
	err := q.QueryRowContext(ctx,
		`INSERT INTO wallets(owner_id, viewer_key, viewer_name, balance) VALUES ($1,$2,$3,$4)
		 ON CONFLICT (owner_id, viewer_key) DO UPDATE
		   SET balance = wallets.balance + EXCLUDED.balance, viewer_name = EXCLUDED.viewer_name, updated_at = NOW()
		 RETURNING balance`,
		ownerID, viewerKey(viewer), viewer, amount).Scan(&balance)
	return balance, err
}

// debit is a conditional update: it touches no row when the balance is short.
func debit(ctx context.Context, q execer, ownerID, viewer string, amount int64) (int64, error) {
	var balance int64
	err := q.QueryRowContext(ctx,
		`UPDATE wallets SET balance = balance - $3, updated_at = NOW()
		 WHERE owner_id = $1 AND viewer_key = $2 AND balance >= $3
		 RETURNING balance`,
		ownerID, viewerKey(viewer), amount).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrInsufficientPoints
	}
	return balance, err
}

func ledger(ctx context.Context, q execer, ownerID, viewer string, delta int64, reason string, sessionID uuid.UUID) error {
	var session uuid.NullUUID
	if sessionID != uuid.Nil {
		session = uuid.NullUUID{UUID: sessionID, Valid: true}
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO points_transactions(owner_id, viewer_name, delta, reason, session_id) VALUES ($1,$2,$3,$4,$5)`,
		ownerID, viewer, delta, reason, session)
	return err
}

func (s *Store) Balance(ctx context.Context, ownerID, viewer string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM wallets WHERE owner_id = $1 AND viewer_key = $2`, ownerID, viewerKey(viewer)).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

func (s *Store) Credit(ctx context.Context, ownerID, viewer string, amount int64) (int64, error) {
	return credit(ctx, s.db, ownerID, viewer, amount)
}

func (s *Store) Debit(ctx context.Context, ownerID, viewer string, amount int64) (int64, error) {
	balance, err := debit(ctx, s.db, ownerID, viewer, amount)
	if errors.Is(err, store.ErrInsufficientPoints) {
		current, berr := s.Balance(ctx, ownerID, viewer)
		if berr != nil {
			return 0, berr
		}
		return current, err
	}
	return balance, err
}

// Ledger lists an owner's point transactions, oldest first.
func (s *Store) Ledger(ctx context.Context, ownerID string) ([]store.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner_id, viewer_name, delta, reason, session_id, created_at
		 FROM points_transactions WHERE owner_id = $1 ORDER BY id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Transaction
	for rows.Next() {
		var t store.Transaction
		var session uuid.NullUUID
		if err := rows.Scan(&t.OwnerID, &t.ViewerName, &t.Delta, &t.Reason, &session, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.SessionID = session.UUID
		out = append(out, t)
	}
	return out, rows.Err()
}
