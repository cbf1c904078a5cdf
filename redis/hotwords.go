package redis

import (
	"context"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSigel/pulseframelabs/backend/store"
)

// HotwordStore keeps one hash per owner, field = word, value = count.
type HotwordStore struct {
	rdb *goredis.Client
}

var _ store.Hotwords = (*HotwordStore)(nil)

func NewHotwordStore(rdb *goredis.Client) *HotwordStore {
	return &HotwordStore{rdb: rdb}
}

func hotwordsKey(ownerID string) string { return "bot:hotwords:" + ownerID }

// IncrementHotwords applies every increment of one message in a MULTI/EXEC block.
func (s *HotwordStore) IncrementHotwords(ctx context.Context, ownerID string, words []string) error {
	if len(words) == 0 {
		return nil
	}
	key := hotwordsKey(ownerID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, w := range words {
			pipe.HIncrBy(ctx, key, w, 1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("increment hotwords: %w", err)
	}
	return nil
}

func (s *HotwordStore) HotwordCounts(ctx context.Context, ownerID string) (map[string]int64, error) {
	raw, err := s.rdb.HGetAll(ctx, hotwordsKey(ownerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read hotwords: %w", err)
	}
	out := make(map[string]int64, len(raw))
	for w, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue // skip corrupt fields
		}
		out[w] = n
	}
	return out, nil
}

// ResetHotwords clears an owner's counters.
func (s *HotwordStore) ResetHotwords(ctx context.Context, ownerID string) error {
	return s.rdb.Del(ctx, hotwordsKey(ownerID)).Err()
}
