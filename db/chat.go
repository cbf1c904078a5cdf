package db

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/MrSigel/pulseframelabs/backend/store"
)

func (s *Store) AppendChat(ctx context.Context, rec store.ChatRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages(owner_id, channel, display_name, role, message, received_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		rec.OwnerID, rec.Channel, rec.DisplayName, rec.Role, rec.Text, rec.ReceivedAt)
	return err
}

// RecentChat returns the newest chat rows of an owner, newest first.
func (s *Store) RecentChat(ctx context.Context, ownerID string, limit int) ([]store.ChatRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner_id, channel, display_name, role, message, received_at
		 FROM chat_messages WHERE owner_id = $1 ORDER BY received_at DESC, id DESC LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.ChatRecord
	for rows.Next() {
		var r store.ChatRecord
		if err := rows.Scan(&r.OwnerID, &r.Channel, &r.DisplayName, &r.Role, &r.Text, &r.ReceivedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// IncrementHotwords bumps every word in one statement. Rows are locked in
// word order so two messages naming the same words in a different order
// queue behind each other instead of deadlocking.
func (s *Store) IncrementHotwords(ctx context.Context, ownerID string, words []string) error {
	if len(words) == 0 {
		return nil
	}
	sorted := slices.Clone(words)
	slices.Sort(sorted)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO hotwords(owner_id, word, count)
		 SELECT $1, w, 1 FROM unnest($2::text[]) AS w ORDER BY w
		 ON CONFLICT (owner_id, word) DO UPDATE SET count = hotwords.count + 1, updated_at = NOW()`,
		ownerID, sorted)
	if err != nil {
		return fmt.Errorf("upsert hotwords: %w", err)
	}
	return nil
}

func (s *Store) HotwordCounts(ctx context.Context, ownerID string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT word, count FROM hotwords WHERE owner_id = $1`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var w string
		var n int64
		if err := rows.Scan(&w, &n); err != nil {
			return nil, err
		}
		out[w] = n
	}
	return out, rows.Err()
}

func (s *Store) CreateSlotRequest(ctx context.Context, req store.SlotRequest) (store.SlotRequest, error) {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.Status == "" {
		req.Status = store.SlotPending
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO slot_requests(id, owner_id, viewer_name, slot_name, status, requested_at)
		 VALUES ($1,$2,$3,$4,$5,COALESCE($6, NOW()))
		 RETURNING requested_at`,
		req.ID, req.OwnerID, req.ViewerName, req.SlotName, string(req.Status), nullTime(req.RequestedAt)).Scan(&req.RequestedAt)
	if err != nil {
		return store.SlotRequest{}, fmt.Errorf("insert slot request: %w", err)
	}
	return req, nil
}

// ListSlotRequests returns requests oldest first; an empty status lists all.
func (s *Store) ListSlotRequests(ctx context.Context, ownerID string, status store.SlotStatus) ([]store.SlotRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, viewer_name, slot_name, status, requested_at
		 FROM slot_requests WHERE owner_id = $1 AND ($2 = '' OR status = $2)
		 ORDER BY requested_at, id`, ownerID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.SlotRequest
	for rows.Next() {
		var r store.SlotRequest
		var st string
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.ViewerName, &r.SlotName, &st, &r.RequestedAt); err != nil {
			return nil, err
		}
		r.Status = store.SlotStatus(st)
		out = append(out, r)
	}
	return out, rows.Err()
}
