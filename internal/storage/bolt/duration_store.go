package bolt

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/goodtune/dwelltime/internal/storage"
	"go.etcd.io/bbolt"
)

type durationStore struct {
	db *bbolt.DB
}

// Atomic runs fn in a read-write transaction. bbolt allows one writer at a
// time, so every unit of work is serialised.
func (s *durationStore) Atomic(ctx context.Context, fn func(tx storage.DurationTx) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fn(&durationTx{ctx: ctx, tx: tx})
	})
}

func (s *durationStore) ListAggregates(ctx context.Context) ([]storage.PersonDuration, error) {
	items := make([]storage.PersonDuration, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketAggregates))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var item storage.PersonDuration
			if err := unmarshal(v, &item); err != nil {
				return err
			}
			details, err := detailsFor(tx, item.ID)
			if err != nil {
				return err
			}
			if len(details) > 0 {
				item.Details = details
			}
			items = append(items, item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
	return items, nil
}

func (s *durationStore) ListDetails(ctx context.Context, personDurationID int64) ([]storage.Detail, error) {
	var details []storage.Detail
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var err error
		details, err = detailsFor(tx, personDurationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}

// detailsFor loads the details owned by an aggregate, newest first.
func detailsFor(tx *bbolt.Tx, aggregateID int64) ([]storage.Detail, error) {
	idx, err := indexBucket(tx, bucketIndexAggregateDetails)
	if err != nil {
		return nil, err
	}

	details := make([]storage.Detail, 0)
	prefix := itob(aggregateID)
	c := idx.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		d, err := getValue[storage.Detail](tx, bucketDetails, k[len(prefix):])
		if err != nil {
			return nil, fmt.Errorf("load detail for aggregate %d: %w", aggregateID, err)
		}
		details = append(details, *d)
	}

	sort.Slice(details, func(i, j int) bool {
		if !details[i].StartTime.Equal(details[j].StartTime) {
			return details[i].StartTime.After(details[j].StartTime)
		}
		return details[i].ID > details[j].ID
	})
	return details, nil
}

// durationTx is bound to one bbolt read-write transaction.
type durationTx struct {
	ctx context.Context
	tx  *bbolt.Tx
}

func (t *durationTx) FindAggregate(matchKey, day string) (*storage.PersonDuration, error) {
	if t.ctx.Err() != nil {
		return nil, t.ctx.Err()
	}
	idx, err := indexBucket(t.tx, bucketIndexAggregateDay)
	if err != nil {
		return nil, err
	}
	id := idx.Get(aggregateDayKey(day, matchKey))
	if id == nil {
		return nil, storage.ErrNotFound
	}
	return getValue[storage.PersonDuration](t.tx, bucketAggregates, id)
}

func (t *durationTx) CreateAggregate(p *storage.PersonDuration) error {
	if t.ctx.Err() != nil {
		return t.ctx.Err()
	}
	idx, err := indexBucket(t.tx, bucketIndexAggregateDay)
	if err != nil {
		return err
	}
	dayKey := aggregateDayKey(p.CreatedOn, p.MatchKey)
	if idx.Get(dayKey) != nil {
		return storage.ErrConflict
	}

	b := t.tx.Bucket([]byte(bucketAggregates))
	seq, err := b.NextSequence()
	if err != nil {
		return fmt.Errorf("next aggregate id: %w", err)
	}

	record := *p
	record.ID = int64(seq)
	record.Details = nil
	if err := putValue(t.tx, bucketAggregates, itob(record.ID), record); err != nil {
		return err
	}
	if err := idx.Put(dayKey, itob(record.ID)); err != nil {
		return err
	}

	p.ID = record.ID
	return nil
}

func (t *durationTx) LockAggregate(id int64) (*storage.PersonDuration, error) {
	if t.ctx.Err() != nil {
		return nil, t.ctx.Err()
	}
	return getValue[storage.PersonDuration](t.tx, bucketAggregates, itob(id))
}

func (t *durationTx) SaveAggregate(p *storage.PersonDuration) error {
	if t.ctx.Err() != nil {
		return t.ctx.Err()
	}
	if _, err := getValue[storage.PersonDuration](t.tx, bucketAggregates, itob(p.ID)); err != nil {
		return err
	}
	record := *p
	record.Details = nil
	return putValue(t.tx, bucketAggregates, itob(record.ID), record)
}

func (t *durationTx) FindOpenDetail(trackID string) (*storage.Detail, error) {
	return t.detailByIndex(bucketIndexTrackOpen, trackID)
}

func (t *durationTx) LatestDetail(trackID string) (*storage.Detail, error) {
	return t.detailByIndex(bucketIndexTrackLatest, trackID)
}

func (t *durationTx) detailByIndex(index, trackID string) (*storage.Detail, error) {
	if t.ctx.Err() != nil {
		return nil, t.ctx.Err()
	}
	idx, err := indexBucket(t.tx, index)
	if err != nil {
		return nil, err
	}
	id := idx.Get([]byte(trackID))
	if id == nil {
		return nil, storage.ErrNotFound
	}
	return getValue[storage.Detail](t.tx, bucketDetails, id)
}

func (t *durationTx) CreateDetail(d *storage.Detail) error {
	if t.ctx.Err() != nil {
		return t.ctx.Err()
	}
	if _, err := getValue[storage.PersonDuration](t.tx, bucketAggregates, itob(d.PersonDurationID)); err != nil {
		return err
	}

	open, err := indexBucket(t.tx, bucketIndexTrackOpen)
	if err != nil {
		return err
	}
	if open.Get([]byte(d.TrackID)) != nil {
		return storage.ErrConflict
	}

	b := t.tx.Bucket([]byte(bucketDetails))
	seq, err := b.NextSequence()
	if err != nil {
		return fmt.Errorf("next detail id: %w", err)
	}
	record := *d
	record.ID = int64(seq)
	key := itob(record.ID)
	if err := putValue(t.tx, bucketDetails, key, record); err != nil {
		return err
	}

	latest, err := indexBucket(t.tx, bucketIndexTrackLatest)
	if err != nil {
		return err
	}
	owned, err := indexBucket(t.tx, bucketIndexAggregateDetails)
	if err != nil {
		return err
	}
	if !record.Closed() {
		if err := open.Put([]byte(record.TrackID), key); err != nil {
			return err
		}
	}
	if err := latest.Put([]byte(record.TrackID), key); err != nil {
		return err
	}
	if err := owned.Put(append(itob(record.PersonDurationID), key...), nil); err != nil {
		return err
	}

	d.ID = record.ID
	return nil
}

// CloseDetail writes the end time only if the stored detail is still open.
func (t *durationTx) CloseDetail(d *storage.Detail) error {
	if t.ctx.Err() != nil {
		return t.ctx.Err()
	}
	if d.EndTime == nil {
		return fmt.Errorf("close detail %d: end time not set", d.ID)
	}

	key := itob(d.ID)
	stored, err := getValue[storage.Detail](t.tx, bucketDetails, key)
	if err != nil {
		return err
	}
	if stored.Closed() {
		return storage.ErrConflict
	}

	end := *d.EndTime
	stored.EndTime = &end
	if err := putValue(t.tx, bucketDetails, key, stored); err != nil {
		return err
	}

	open, err := indexBucket(t.tx, bucketIndexTrackOpen)
	if err != nil {
		return err
	}
	if current := open.Get([]byte(stored.TrackID)); current != nil && btoi(current) == stored.ID {
		return open.Delete([]byte(stored.TrackID))
	}
	return nil
}

func aggregateDayKey(day, matchKey string) []byte {
	return []byte(day + "/" + matchKey)
}
