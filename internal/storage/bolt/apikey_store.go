package bolt

import (
	"context"
	"time"

	"github.com/goodtune/dwelltime/internal/storage"
	"go.etcd.io/bbolt"
)

type apiKeyStore struct {
	db *bbolt.DB
}

func (s *apiKeyStore) Create(ctx context.Context, key storage.APIKey) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketAPIKeys))
		if b.Get([]byte(key.Digest)) != nil {
			return storage.ErrConflict
		}
		return putValue(tx, bucketAPIKeys, []byte(key.Digest), key)
	})
}

func (s *apiKeyStore) Get(ctx context.Context, digest string) (*storage.APIKey, error) {
	return getBucketValue[storage.APIKey](ctx, s.db, bucketAPIKeys, digest)
}

func (s *apiKeyStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketAPIKeys))
		if b == nil {
			return nil
		}

		// Deleting while iterating makes the cursor skip entries, so
		// collect first.
		var expired [][]byte
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var key storage.APIKey
			if err := unmarshal(v, &key); err != nil {
				return err
			}
			if key.ExpiresAt.Before(cutoff) {
				expired = append(expired, append([]byte(nil), k...))
			}
		}

		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}
