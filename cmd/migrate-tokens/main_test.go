package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSigel/pulseframelabs/backend/crypto"
	"github.com/MrSigel/pulseframelabs/backend/db"
	"github.com/MrSigel/pulseframelabs/backend/store"
	"github.com/MrSigel/pulseframelabs/backend/testutil"
)

type fakeResealer struct {
	mu       sync.Mutex
	stale    []string
	failFor  string
	resealed []string
	usage    map[string]int
}

func (f *fakeResealer) StaleConnections(context.Context) ([]string, error) {
	return f.stale, nil
}

func (f *fakeResealer) Reseal(_ context.Context, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if owner == f.failFor {
		return errors.New("decrypt refresh token: unknown key")
	}
	f.resealed = append(f.resealed, owner)
	return nil
}

func (f *fakeResealer) KeyUsage(context.Context) (map[string]int, error) {
	return f.usage, nil
}

func TestMigrateTokensDryRun(t *testing.T) {
	f := &fakeResealer{stale: []string{"a", "b"}}
	require.NoError(t, migrateTokens(context.Background(), f, true, ""))
	assert.Empty(t, f.resealed)
}

func TestMigrateTokensOwnerFilter(t *testing.T) {
	f := &fakeResealer{stale: []string{"a", "b"}}
	require.NoError(t, migrateTokens(context.Background(), f, false, "b"))
	assert.Equal(t, []string{"b"}, f.resealed)

	f = &fakeResealer{stale: []string{"a"}}
	require.NoError(t, migrateTokens(context.Background(), f, false, "zzz"))
	assert.Empty(t, f.resealed)
}

func TestMigrateTokensReportsFailures(t *testing.T) {
	f := &fakeResealer{stale: []string{"a", "b", "c"}, failFor: "b"}
	err := migrateTokens(context.Background(), f, false, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 errors")
	assert.Equal(t, []string{"a", "c"}, f.resealed)
}

func TestReportStatus(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, reportStatus(ctx, &fakeResealer{usage: map[string]int{"k2": 3, "k1": 1}}, "k2"))
	assert.Error(t, reportStatus(ctx, &fakeResealer{usage: map[string]int{"": 1, "k2": 3}}, "k2"))
}

func cipher(t *testing.T, id string) *crypto.Cipher {
	t.Helper()
	b := make([]byte, 32)
	_, err := rand.Read(b)
	require.NoError(t, err)
	c, err := crypto.NewCipher(id, base64.StdEncoding.EncodeToString(b))
	require.NoError(t, err)
	return c
}

func rowState(t *testing.T, database *sql.DB, owner string) (int, string, string) {
	t.Helper()
	var (
		version int
		keyID   sql.NullString
		access  string
	)
	require.NoError(t, database.QueryRow(
		`SELECT encryption_version, encryption_key_id, access_token FROM bot_connections WHERE owner_id = $1`, owner,
	).Scan(&version, &keyID, &access))
	return version, keyID.String, access
}

func TestMigrateTokensPostgres(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	k1, k2 := cipher(t, "k1"), cipher(t, "k2")

	plain := "owner-" + uuid.NewString()
	old := "owner-" + uuid.NewString()
	t.Cleanup(func() {
		_, _ = database.Exec(`DELETE FROM bot_connections WHERE owner_id IN ($1, $2)`, plain, old)
	})
	conn := func(owner string) store.Connection {
		return store.Connection{
			OwnerID: owner, AccessToken: "access-" + owner, RefreshToken: "refresh-" + owner,
			ChannelName: "chan", ExpiresAt: time.Now().Add(time.Hour),
		}
	}
	require.NoError(t, db.New(database, nil).SaveConnection(ctx, conn(plain)))
	require.NoError(t, db.New(database, crypto.NewKeyring(k1)).SaveConnection(ctx, conn(old)))

	st := db.New(database, crypto.NewKeyring(k2, k1))
	stale, err := st.StaleConnections(ctx)
	require.NoError(t, err)
	assert.Contains(t, stale, plain)
	assert.Contains(t, stale, old)

	require.NoError(t, migrateTokens(ctx, st, false, plain))
	require.NoError(t, migrateTokens(ctx, st, false, old))

	for _, owner := range []string{plain, old} {
		version, keyID, access := rowState(t, database, owner)
		assert.Equal(t, 1, version)
		assert.Equal(t, "k2", keyID)
		assert.NotEqual(t, "access-"+owner, access)

		got, err := db.New(database, crypto.NewKeyring(k2)).GetConnection(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, "access-"+owner, got.AccessToken)
		assert.Equal(t, "refresh-"+owner, got.RefreshToken)
	}

	stale, err = st.StaleConnections(ctx)
	require.NoError(t, err)
	assert.NotContains(t, stale, plain)
	assert.NotContains(t, stale, old)
}
