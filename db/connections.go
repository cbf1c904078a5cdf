package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrSigel/pulseframelabs/backend/store"
)

// encryption_version values of bot_connections rows.
const (
	plaintextVersion = 0
	sealedVersion    = 1
)

// SaveConnection upserts the owner's credentials, sealing the tokens when a keyring is configured.
func (s *Store) SaveConnection(ctx context.Context, c store.Connection) error {
	access, refresh := c.AccessToken, c.RefreshToken
	version, keyID := plaintextVersion, sql.NullString{}
	if s.keys != nil {
		cipher := s.keys.Current()
		var err error
		if access, err = cipher.Seal(c.AccessToken); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if refresh, err = cipher.Seal(c.RefreshToken); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		version, keyID = sealedVersion, sql.NullString{String: cipher.KeyID(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_connections(owner_id, access_token, refresh_token, channel_name, external_user_id, bot_login, scope, expires_at, encryption_version, encryption_key_id, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
		 ON CONFLICT (owner_id) DO UPDATE SET
		   access_token = EXCLUDED.access_token,
		   refresh_token = EXCLUDED.refresh_token,
		   channel_name = EXCLUDED.channel_name,
		   external_user_id = EXCLUDED.external_user_id,
		   bot_login = EXCLUDED.bot_login,
		   scope = EXCLUDED.scope,
		   expires_at = EXCLUDED.expires_at,
		   encryption_version = EXCLUDED.encryption_version,
		   encryption_key_id = EXCLUDED.encryption_key_id,
		   updated_at = NOW()`,
		c.OwnerID, access, refresh, c.ChannelName, c.ExternalUserID, c.BotLogin, c.Scope, nullTime(c.ExpiresAt), version, keyID)
	return err
}

const connectionColumns = `owner_id, access_token, refresh_token, channel_name, external_user_id, bot_login, scope, expires_at, encryption_version, encryption_key_id`

func (s *Store) scanConnection(row interface{ Scan(...any) error }) (*store.Connection, error) {
	var (
		c       store.Connection
		expires sql.NullTime
		version int
		keyID   sql.NullString
	)
	if err := row.Scan(&c.OwnerID, &c.AccessToken, &c.RefreshToken, &c.ChannelName, &c.ExternalUserID, &c.BotLogin, &c.Scope, &expires, &version, &keyID); err != nil {
		return nil, err
	}
	c.ExpiresAt = expires.Time
	if version == sealedVersion {
		if s.keys == nil {
			return nil, errors.New("token is encrypted but ENCRYPTION_KEY not configured")
		}
		var err error
		if c.AccessToken, err = s.keys.Open(keyID.String, c.AccessToken); err != nil {
			return nil, fmt.Errorf("decrypt access token: %w", err)
		}
		if c.RefreshToken, err = s.keys.Open(keyID.String, c.RefreshToken); err != nil {
			return nil, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return &c, nil
}

// GetConnection returns nil when the owner has no stored credentials.
// Plaintext rows (encryption_version 0) are read as is.
func (s *Store) GetConnection(ctx context.Context, ownerID string) (*store.Connection, error) {
	c, err := s.scanConnection(s.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM bot_connections WHERE owner_id = $1`, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (s *Store) DeleteConnection(ctx context.Context, ownerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM bot_connections WHERE owner_id = $1`, ownerID)
	return err
}

func (s *Store) ListExpiring(ctx context.Context, before time.Time) ([]store.Connection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+connectionColumns+` FROM bot_connections
		 WHERE refresh_token <> '' AND expires_at IS NOT NULL AND expires_at < $1
		 ORDER BY owner_id`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Connection
	for rows.Next() {
		c, err := s.scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// --- feature toggles & settings ---

func (s *Store) LoadFeatures(ctx context.Context, ownerID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, enabled FROM bot_features WHERE owner_id = $1`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var name string
		var enabled bool
		if err := rows.Scan(&name, &enabled); err != nil {
			return nil, err
		}
		out[name] = enabled
	}
	return out, rows.Err()
}

func (s *Store) SaveFeature(ctx context.Context, ownerID, name string, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_features(owner_id, name, enabled) VALUES ($1,$2,$3)
		 ON CONFLICT (owner_id, name) DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = NOW()`,
		ownerID, name, enabled)
	return err
}

func (s *Store) LoadSettings(ctx context.Context, ownerID string) (store.Settings, error) {
	var (
		st              store.Settings
		excluded, guess []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT excluded_hotwords, guess_commands, loyalty_keyword, loyalty_reward FROM bot_settings WHERE owner_id = $1`, ownerID).
		Scan(&excluded, &guess, &st.LoyaltyKeyword, &st.LoyaltyReward)
	if errors.Is(err, sql.ErrNoRows) {
		return store.DefaultSettings(), nil
	}
	if err != nil {
		return store.Settings{}, err
	}
	if err := json.Unmarshal(excluded, &st.ExcludedHotwords); err != nil {
		return store.Settings{}, fmt.Errorf("decode excluded hotwords: %w", err)
	}
	if err := json.Unmarshal(guess, &st.GuessCommands); err != nil {
		return store.Settings{}, fmt.Errorf("decode guess commands: %w", err)
	}
	return st, nil
}

// SaveSettings upserts an owner's handler settings.
func (s *Store) SaveSettings(ctx context.Context, ownerID string, st store.Settings) error {
	excluded, err := json.Marshal(nonNil(st.ExcludedHotwords))
	if err != nil {
		return err
	}
	guess, err := json.Marshal(nonNil(st.GuessCommands))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO bot_settings(owner_id, excluded_hotwords, guess_commands, loyalty_keyword, loyalty_reward)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (owner_id) DO UPDATE SET
		   excluded_hotwords = EXCLUDED.excluded_hotwords,
		   guess_commands = EXCLUDED.guess_commands,
		   loyalty_keyword = EXCLUDED.loyalty_keyword,
		   loyalty_reward = EXCLUDED.loyalty_reward,
		   updated_at = NOW()`,
		ownerID, string(excluded), string(guess), st.LoyaltyKeyword, st.LoyaltyReward)
	return err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// StaleConnections lists owners whose tokens are not sealed under the current
// key: plaintext rows, and rows sealed with a retired key.
func (s *Store) StaleConnections(ctx context.Context) ([]string, error) {
	if s.keys == nil {
		return nil, errors.New("no encryption key configured")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner_id FROM bot_connections
		 WHERE encryption_version = $1 OR COALESCE(encryption_key_id, '') <> $2
		 ORDER BY owner_id`, plaintextVersion, s.keys.Current().KeyID())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, err
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

// Reseal rewrites one owner's tokens under the current key.
func (s *Store) Reseal(ctx context.Context, ownerID string) error {
	c, err := s.GetConnection(ctx, ownerID)
	if err != nil {
		return err
	}
	if c == nil {
		return store.ErrNotFound
	}
	return s.SaveConnection(ctx, *c)
}

// KeyUsage counts connections per key id; plaintext rows count under "".
func (s *Store) KeyUsage(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT CASE WHEN encryption_version = $1 THEN '' ELSE COALESCE(encryption_key_id, '') END, COUNT(*)
		 FROM bot_connections GROUP BY 1`, plaintextVersion)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var (
			keyID string
			n     int
		)
		if err := rows.Scan(&keyID, &n); err != nil {
			return nil, err
		}
		out[keyID] = n
	}
	return out, rows.Err()
}
