package bolt

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	"github.com/goodtune/dwelltime/internal/storage"
	"go.etcd.io/bbolt"
)

const (
	bucketAggregates = "person_durations"
	bucketDetails    = "details"
	bucketAPIKeys    = "api_keys"
	bucketIndexes    = "indexes"

	// Index sub-buckets under bucketIndexes.
	bucketIndexAggregateDay     = "aggregate_day"     // day/matchKey -> aggregate id
	bucketIndexAggregateDetails = "aggregate_details" // aggregate id + detail id -> nil
	bucketIndexTrackOpen        = "track_open"        // track id -> open detail id
	bucketIndexTrackLatest      = "track_latest"      // track id -> latest detail id
)

// Store implements the storage.Store interface using bbolt.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store.
func Open(path string) (*Store, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return storage.EnsureDir(dir)
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{
			[]byte(bucketAggregates),
			[]byte(bucketDetails),
			[]byte(bucketAPIKeys),
			[]byte(bucketIndexes),
		}

		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}

		indexes := tx.Bucket([]byte(bucketIndexes))
		if indexes == nil {
			return fmt.Errorf("indexes bucket missing")
		}
		for _, name := range []string{
			bucketIndexAggregateDay,
			bucketIndexAggregateDetails,
			bucketIndexTrackOpen,
			bucketIndexTrackLatest,
		} {
			if _, err := indexes.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s index: %w", name, err)
			}
		}

		return nil
	})
}

// Close closes the underlying store database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Durations returns the duration store.
func (s *Store) Durations() storage.DurationStore { return &durationStore{db: s.db} }

// APIKeys returns the API key store.
func (s *Store) APIKeys() storage.APIKeyStore { return &apiKeyStore{db: s.db} }

func marshal(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return data, nil
}

func unmarshal(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}
	return nil
}

// itob encodes an id as a big-endian key so that cursor order is id order.
func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func getBucketValue[T any](ctx context.Context, db *bbolt.DB, bucket string, key string) (*T, error) {
	var item *T
	err := db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var err error
		item, err = getValue[T](tx, bucket, []byte(key))
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func getValue[T any](tx *bbolt.Tx, bucket string, key []byte) (*T, error) {
	b := tx.Bucket([]byte(bucket))
	if b == nil {
		return nil, storage.ErrNotFound
	}
	value := b.Get(key)
	if value == nil {
		return nil, storage.ErrNotFound
	}
	var result T
	if err := unmarshal(value, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func putValue(tx *bbolt.Tx, bucket string, key []byte, value any) error {
	data, err := marshal(value)
	if err != nil {
		return err
	}
	b := tx.Bucket([]byte(bucket))
	if b == nil {
		return fmt.Errorf("bucket missing: %s", bucket)
	}
	return b.Put(key, data)
}

func indexBucket(tx *bbolt.Tx, name string) (*bbolt.Bucket, error) {
	root := tx.Bucket([]byte(bucketIndexes))
	if root == nil {
		return nil, fmt.Errorf("indexes bucket missing")
	}
	b := root.Bucket([]byte(name))
	if b == nil {
		return nil, fmt.Errorf("index bucket missing: %s", name)
	}
	return b, nil
}
