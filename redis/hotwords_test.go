package redis

import (
	"context"
	"os"
	"sync"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := NewClient(ctx, url)
	if err != nil {
		t.Fatalf("failed to create redis client: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("failed to flush redis: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient(context.Background(), "://nope")
	assert.Error(t, err)
}

func TestHotwordIncrements(t *testing.T) {
	s := NewHotwordStore(setupTestClient(t))
	ctx := context.Background()

	require.NoError(t, s.IncrementHotwords(ctx, "owner", []string{"bonus", "hunt"}))
	require.NoError(t, s.IncrementHotwords(ctx, "owner", []string{"bonus"}))
	require.NoError(t, s.IncrementHotwords(ctx, "other", []string{"bonus"}))
	require.NoError(t, s.IncrementHotwords(ctx, "owner", nil))

	counts, err := s.HotwordCounts(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"bonus": 2, "hunt": 1}, counts)
}

func TestConcurrentHotwordIncrements(t *testing.T) {
	s := NewHotwordStore(setupTestClient(t))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.IncrementHotwords(ctx, "owner", []string{"bonus"}))
		}()
	}
	wg.Wait()

	counts, err := s.HotwordCounts(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, int64(50), counts["bonus"])
}

func TestResetHotwords(t *testing.T) {
	s := NewHotwordStore(setupTestClient(t))
	ctx := context.Background()
	require.NoError(t, s.IncrementHotwords(ctx, "owner", []string{"bonus"}))
	require.NoError(t, s.ResetHotwords(ctx, "owner"))

	counts, err := s.HotwordCounts(ctx, "owner")
	require.NoError(t, err)
	assert.Empty(t, counts)
}
