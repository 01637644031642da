package storage

import (
	"errors"
	"time"
)

var (
	// ErrNegativeTotal is returned when a total duration would drop below zero.
	ErrNegativeTotal = errors.New("storage: total duration cannot be negative")

	// ErrEndBeforeStart is returned when a detail is closed before it started.
	ErrEndBeforeStart = errors.New("storage: end time is before start time")
)

// PersonDuration is one person's cumulative presence for one civil day.
type PersonDuration struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	MatchKey     string    `json:"match_key"`
	TotalSeconds int64     `json:"total_seconds"`
	CreatedOn    string    `json:"created_on"` // YYYY-MM-DD in the deployment timezone
	CreatedAt    time.Time `json:"created_at"`
	Details      []Detail  `json:"details,omitempty"`
}

// SetTotal replaces the cumulative total.
func (p *PersonDuration) SetTotal(seconds int64) error {
	if seconds < 0 {
		return ErrNegativeTotal
	}
	p.TotalSeconds = seconds
	return nil
}

// Accumulate folds elapsed seconds into the running total.
func (p *PersonDuration) Accumulate(elapsed int64) error {
	if p.TotalSeconds == 0 {
		return p.SetTotal(elapsed)
	}
	return p.SetTotal(p.TotalSeconds + elapsed)
}

// Detail is one open/close detection interval owned by a PersonDuration.
type Detail struct {
	ID               int64      `json:"id"`
	PersonDurationID int64      `json:"person_duration_id"`
	LabeledImage     string     `json:"labeled_image,omitempty"`
	SubjectID        string     `json:"nim"`
	Name             string     `json:"name"`
	TrackID          string     `json:"name_track_id"`
	StartTime        time.Time  `json:"start_time"`
	EndTime          *time.Time `json:"end_time,omitempty"`
}

// Closed reports whether the detail already has an end time.
func (d *Detail) Closed() bool {
	return d.EndTime != nil
}

// Close sets the end time and returns the elapsed whole seconds.
// A detail can only be closed once.
func (d *Detail) Close(end time.Time) (int64, error) {
	if d.Closed() {
		return 0, ErrConflict
	}
	if end.Before(d.StartTime) {
		return 0, ErrEndBeforeStart
	}
	elapsed := int64(end.Sub(d.StartTime) / time.Second)
	d.EndTime = &end
	return elapsed, nil
}

// APIKey is an issued bearer credential. Only the token digest is kept.
type APIKey struct {
	Digest    string    `json:"digest"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the key is no longer valid at now.
func (k *APIKey) Expired(now time.Time) bool {
	return now.After(k.ExpiresAt)
}
