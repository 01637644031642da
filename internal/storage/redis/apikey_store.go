package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/dwelltime/internal/storage"
	"github.com/redis/go-redis/v9"
)

// expiredRetention is how long an expired key is kept before Redis evicts it.
const expiredRetention = 30 * 24 * time.Hour

var createAPIKey = redis.NewScript(createAPIKeyScript)

type apiKeyStore struct {
	client    *redis.Client
	retention time.Duration
}

func (s *apiKeyStore) Create(ctx context.Context, key storage.APIKey) error {
	keys := []string{apiKeyKey(key.Digest), expiryIndexKey()}
	args := []any{
		key.Digest,
		key.CreatedAt.UTC().Format(time.RFC3339Nano),
		key.ExpiresAt.UTC().Format(time.RFC3339Nano),
		key.ExpiresAt.UnixMilli(),
		key.ExpiresAt.Add(s.retention).UnixMilli(),
	}

	created, err := createAPIKey.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	if created == 0 {
		return storage.ErrConflict
	}
	return nil
}

func (s *apiKeyStore) Get(ctx context.Context, digest string) (*storage.APIKey, error) {
	data, err := s.client.HGetAll(ctx, apiKeyKey(digest)).Result()
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return parseAPIKey(data)
}

func (s *apiKeyStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	digests, err := s.client.ZRangeByScore(ctx, expiryIndexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan expired api keys: %w", err)
	}
	if len(digests) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(digests))
	members := make([]any, 0, len(digests))
	for _, digest := range digests {
		keys = append(keys, apiKeyKey(digest))
		members = append(members, digest)
	}

	var removed *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		removed = pipe.ZRem(ctx, expiryIndexKey(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete expired api keys: %w", err)
	}
	return int(removed.Val()), nil
}
