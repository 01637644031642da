package sqldb

import (
	"time"

	"github.com/goodtune/dwelltime/internal/storage"
)

type personDuration struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	Name         string    `gorm:"size:255;not null"`
	MatchKey     string    `gorm:"size:255;not null;uniqueIndex:idx_person_durations_day_key,priority:2"`
	TotalSeconds int64     `gorm:"not null;default:0"`
	CreatedOn    string    `gorm:"size:10;not null;uniqueIndex:idx_person_durations_day_key,priority:1"`
	CreatedAt    time.Time `gorm:"not null;index"`
	Details      []detail  `gorm:"foreignKey:PersonDurationID;constraint:OnDelete:CASCADE"`
}

func (personDuration) TableName() string { return "person_durations" }

type detail struct {
	ID               int64      `gorm:"primaryKey;autoIncrement"`
	PersonDurationID int64      `gorm:"not null;index"`
	LabeledImage     string     `gorm:"size:255"`
	SubjectID        string     `gorm:"column:nim;size:255;not null"`
	Name             string     `gorm:"size:255;not null"`
	TrackID          string     `gorm:"column:name_track_id;size:255;not null;index"`
	StartTime        time.Time  `gorm:"not null;index"`
	EndTime          *time.Time `gorm:"index"`
	OpenTrack        *string    `gorm:"size:255;uniqueIndex:idx_details_open_track"` // track id while open, NULL once closed
}

func (detail) TableName() string { return "detail_person_durations" }

type apiKey struct {
	Digest    string    `gorm:"primaryKey;size:64"`
	CreatedAt time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

func (apiKey) TableName() string { return "api_keys" }

func fromPersonDuration(p *storage.PersonDuration) personDuration {
	return personDuration{
		ID:           p.ID,
		Name:         p.Name,
		MatchKey:     p.MatchKey,
		TotalSeconds: p.TotalSeconds,
		CreatedOn:    p.CreatedOn,
		CreatedAt:    p.CreatedAt.UTC(),
	}
}

func (r personDuration) toStorage() storage.PersonDuration {
	p := storage.PersonDuration{
		ID:           r.ID,
		Name:         r.Name,
		MatchKey:     r.MatchKey,
		TotalSeconds: r.TotalSeconds,
		CreatedOn:    r.CreatedOn,
		CreatedAt:    r.CreatedAt,
	}
	if len(r.Details) > 0 {
		p.Details = make([]storage.Detail, 0, len(r.Details))
		for _, d := range r.Details {
			p.Details = append(p.Details, d.toStorage())
		}
	}
	return p
}

// fromDetail stores instants in UTC so that ordering is consistent on
// backends that compare timestamps as text.
func fromDetail(d *storage.Detail) detail {
	var (
		end  *time.Time
		open *string
	)
	if d.EndTime != nil {
		utc := d.EndTime.UTC()
		end = &utc
	} else {
		track := d.TrackID
		open = &track
	}
	return detail{
		ID:               d.ID,
		PersonDurationID: d.PersonDurationID,
		LabeledImage:     d.LabeledImage,
		SubjectID:        d.SubjectID,
		Name:             d.Name,
		TrackID:          d.TrackID,
		StartTime:        d.StartTime.UTC(),
		EndTime:          end,
		OpenTrack:        open,
	}
}

func (r detail) toStorage() storage.Detail {
	return storage.Detail{
		ID:               r.ID,
		PersonDurationID: r.PersonDurationID,
		LabeledImage:     r.LabeledImage,
		SubjectID:        r.SubjectID,
		Name:             r.Name,
		TrackID:          r.TrackID,
		StartTime:        r.StartTime,
		EndTime:          r.EndTime,
	}
}
