package sqldb

import (
	"context"
	"fmt"

	"github.com/goodtune/dwelltime/internal/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type durationStore struct {
	db      *gorm.DB
	locking bool
}

func (s *durationStore) Atomic(ctx context.Context, fn func(tx storage.DurationTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&durationTx{db: tx, locking: s.locking})
	})
}

func (s *durationStore) ListAggregates(ctx context.Context) ([]storage.PersonDuration, error) {
	var rows []personDuration
	err := s.db.WithContext(ctx).
		Preload("Details", func(db *gorm.DB) *gorm.DB {
			return db.Order("start_time DESC").Order("id DESC")
		}).
		Order("created_at DESC").
		Order("id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, translate(err)
	}

	out := make([]storage.PersonDuration, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toStorage())
	}
	return out, nil
}

func (s *durationStore) ListDetails(ctx context.Context, personDurationID int64) ([]storage.Detail, error) {
	var rows []detail
	err := s.db.WithContext(ctx).
		Where("person_duration_id = ?", personDurationID).
		Order("start_time DESC").
		Order("id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, translate(err)
	}

	out := make([]storage.Detail, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toStorage())
	}
	return out, nil
}

// durationTx is bound to one gorm transaction.
type durationTx struct {
	db      *gorm.DB
	locking bool
}

func (t *durationTx) FindAggregate(matchKey, day string) (*storage.PersonDuration, error) {
	var row personDuration
	err := t.db.
		Where("match_key = ? AND created_on = ?", matchKey, day).
		Order("id").
		Take(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	p := row.toStorage()
	return &p, nil
}

func (t *durationTx) CreateAggregate(p *storage.PersonDuration) error {
	row := fromPersonDuration(p)
	if err := t.db.Create(&row).Error; err != nil {
		return translate(err)
	}
	p.ID = row.ID
	return nil
}

func (t *durationTx) LockAggregate(id int64) (*storage.PersonDuration, error) {
	query := t.db
	if t.locking {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var row personDuration
	if err := query.Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, translate(err)
	}
	p := row.toStorage()
	return &p, nil
}

func (t *durationTx) SaveAggregate(p *storage.PersonDuration) error {
	err := t.db.Model(&personDuration{}).
		Where("id = ?", p.ID).
		Update("total_seconds", p.TotalSeconds).Error
	return translate(err)
}

func (t *durationTx) FindOpenDetail(trackID string) (*storage.Detail, error) {
	var row detail
	err := t.db.
		Where("name_track_id = ? AND end_time IS NULL", trackID).
		Order("start_time DESC").
		Order("id DESC").
		Take(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	d := row.toStorage()
	return &d, nil
}

func (t *durationTx) LatestDetail(trackID string) (*storage.Detail, error) {
	var row detail
	err := t.db.
		Where("name_track_id = ?", trackID).
		Order("start_time DESC").
		Order("id DESC").
		Take(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	d := row.toStorage()
	return &d, nil
}

func (t *durationTx) CreateDetail(d *storage.Detail) error {
	row := fromDetail(d)
	if err := t.db.Create(&row).Error; err != nil {
		return translate(err)
	}
	d.ID = row.ID
	return nil
}

// CloseDetail writes the end time only if the row is still open, and
// releases the track for the next open.
func (t *durationTx) CloseDetail(d *storage.Detail) error {
	if d.EndTime == nil {
		return fmt.Errorf("close detail %d: end time not set", d.ID)
	}
	res := t.db.Model(&detail{}).
		Where("id = ? AND end_time IS NULL", d.ID).
		Updates(map[string]any{
			"end_time":   d.EndTime.UTC(),
			"open_track": nil,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrConflict
	}
	return nil
}
