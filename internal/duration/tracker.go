// Package duration accumulates how long each tracked person spends in the
// monitored space. A person gets one aggregate per civil day; detections
// open and close sessions against it, and every close folds the elapsed
// seconds into the aggregate's total inside one storage transaction.
package duration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goodtune/dwelltime/internal/blob"
	"github.com/goodtune/dwelltime/internal/clock"
	"github.com/goodtune/dwelltime/internal/metrics"
	"github.com/goodtune/dwelltime/internal/names"
	"github.com/goodtune/dwelltime/internal/storage"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// BlobStore keeps the labeled images attached to opened sessions.
type BlobStore interface {
	Put(ctx context.Context, r io.Reader) (string, error)
	Open(ref string) (afero.File, blob.Info, error)
	Delete(ref string) error
}

// OpenRequest describes a detection that starts a session.
type OpenRequest struct {
	SubjectID   string
	SubjectName string
	TrackID     string
	Image       io.Reader // optional
}

// Tracker is the session lifecycle manager. It holds no state of its own;
// all coordination happens in the store.
type Tracker struct {
	store  storage.DurationStore
	blobs  BlobStore
	clock  clock.Clock
	logger zerolog.Logger
}

// NewTracker creates a new Tracker.
func NewTracker(store storage.DurationStore, blobs BlobStore, clk clock.Clock, logger zerolog.Logger) *Tracker {
	return &Tracker{
		store:  store,
		blobs:  blobs,
		clock:  clk,
		logger: logger.With().Str("component", "tracker").Logger(),
	}
}

// CreateDaily creates today's aggregate for rawName. Digits are stripped
// from the name before it is stored. When an aggregate for the same name
// already exists today it is returned with created=false.
func (t *Tracker) CreateDaily(ctx context.Context, rawName string) (*storage.PersonDuration, bool, error) {
	name := strings.TrimSpace(names.StripDigits(rawName))
	if name == "" {
		return nil, false, t.fail("create", validationf("name is required"))
	}

	key := names.Fold(name)
	now := t.clock.Now().Truncate(time.Second)
	day := clock.Day(now, t.clock.Location())

	var (
		out     *storage.PersonDuration
		created bool
	)
	err := t.store.Atomic(ctx, func(tx storage.DurationTx) error {
		existing, err := tx.FindAggregate(key, day)
		if err == nil {
			out = existing
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		p := &storage.PersonDuration{
			Name:      name,
			MatchKey:  key,
			CreatedOn: day,
			CreatedAt: now,
		}
		if err := tx.CreateAggregate(p); err != nil {
			return err
		}
		out, created = p, true
		return nil
	})
	if errors.Is(err, storage.ErrConflict) {
		// Another request created it first. Some databases abort the
		// transaction on a unique violation, so re-read in a fresh one.
		out, created = nil, false
		err = t.store.Atomic(ctx, func(tx storage.DurationTx) error {
			existing, err := tx.FindAggregate(key, day)
			out = existing
			return err
		})
	}
	if err != nil {
		return nil, false, t.fail("create", classify("create person duration", err))
	}

	if created {
		metrics.AggregatesCreated.Inc()
		t.logger.Info().
			Int64("id", out.ID).
			Str("name", out.Name).
			Str("day", day).
			Msg("Created person duration")
	} else {
		t.logger.Debug().
			Int64("id", out.ID).
			Str("name", out.Name).
			Str("day", day).
			Msg("Person duration already exists for today")
	}
	t.localizeAggregate(out)
	return out, created, nil
}

// Open starts a session for a detection against today's aggregate for the
// subject. The image, if any, is stored before the session row is written
// and removed again if the write fails.
func (t *Tracker) Open(ctx context.Context, req OpenRequest) (*storage.Detail, error) {
	subjectID := strings.TrimSpace(req.SubjectID)
	trackID := strings.TrimSpace(req.TrackID)
	key := names.MatchKey(req.SubjectName)
	switch {
	case subjectID == "":
		return nil, t.fail("open", validationf("nim is required"))
	case trackID == "":
		return nil, t.fail("open", validationf("name_track_id is required"))
	case key == "":
		return nil, t.fail("open", validationf("name must contain letters"))
	}

	now := t.clock.Now().Truncate(time.Second)
	day := clock.Day(now, t.clock.Location())

	// Check before writing the image so rejected opens leave no files.
	if err := t.store.Atomic(ctx, func(tx storage.DurationTx) error {
		_, err := t.openTarget(tx, key, day, trackID)
		return err
	}); err != nil {
		return nil, t.fail("open", classify("open session", err))
	}

	var ref string
	if req.Image != nil {
		var err error
		ref, err = t.blobs.Put(ctx, req.Image)
		if err != nil {
			return nil, t.fail("open", classify("store labeled image", err))
		}
	}

	d := &storage.Detail{
		LabeledImage: ref,
		SubjectID:    subjectID,
		Name:         req.SubjectName,
		TrackID:      trackID,
		StartTime:    now,
	}
	err := t.store.Atomic(ctx, func(tx storage.DurationTx) error {
		agg, err := t.openTarget(tx, key, day, trackID)
		if err != nil {
			return err
		}
		d.PersonDurationID = agg.ID
		return tx.CreateDetail(d)
	})
	if err != nil {
		if ref != "" {
			if derr := t.blobs.Delete(ref); derr != nil {
				t.logger.Warn().Err(derr).Str("ref", ref).Msg("Failed to remove orphaned image")
			}
		}
		return nil, t.fail("open", classify("open session", err))
	}

	metrics.SessionsOpened.Inc()
	t.logger.Info().
		Int64("id", d.ID).
		Int64("person_duration_id", d.PersonDurationID).
		Str("track_id", d.TrackID).
		Bool("image", ref != "").
		Msg("Opened session")
	t.localizeDetail(d)
	return d, nil
}

// openTarget resolves today's aggregate for key and checks that trackID
// has no open session.
func (t *Tracker) openTarget(tx storage.DurationTx, key, day, trackID string) (*storage.PersonDuration, error) {
	agg, err := tx.FindAggregate(key, day)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: no person duration for this name today", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	_, err = tx.FindOpenDetail(trackID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: track already has an open session", ErrConflict)
	case errors.Is(err, storage.ErrNotFound):
		return agg, nil
	default:
		return nil, err
	}
}

// Close ends the most recent session for trackID at end and adds its
// elapsed seconds to the owning aggregate. A session can be closed once.
func (t *Tracker) Close(ctx context.Context, trackID string, end time.Time) (*storage.Detail, error) {
	trackID = strings.TrimSpace(trackID)
	if trackID == "" {
		return nil, t.fail("close", validationf("name_track_id is required"))
	}
	if end.IsZero() {
		return nil, t.fail("close", validationf("end_time is required"))
	}

	var (
		out     *storage.Detail
		elapsed int64
	)
	err := t.store.Atomic(ctx, func(tx storage.DurationTx) error {
		d, err := tx.LatestDetail(trackID)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: no session for this track", ErrNotFound)
		}
		if err != nil {
			return err
		}
		if d.Closed() {
			return fmt.Errorf("%w: session already closed", ErrConflict)
		}
		if end.Before(d.StartTime) {
			return validationf("end_time is before start_time")
		}

		agg, err := tx.LockAggregate(d.PersonDurationID)
		if err != nil {
			return err
		}
		elapsed, err = d.Close(end)
		if err != nil {
			return err
		}
		if err := agg.Accumulate(elapsed); err != nil {
			return err
		}
		if err := tx.SaveAggregate(agg); err != nil {
			return err
		}
		if err := tx.CloseDetail(d); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, t.fail("close", classify("close session", err))
	}

	metrics.SessionsClosed.Inc()
	metrics.SecondsAccumulated.Add(float64(elapsed))
	t.logger.Info().
		Int64("id", out.ID).
		Int64("person_duration_id", out.PersonDurationID).
		Str("track_id", out.TrackID).
		Int64("elapsed_seconds", elapsed).
		Msg("Closed session")
	t.localizeDetail(out)
	return out, nil
}

// List returns every aggregate with its sessions, newest first.
func (t *Tracker) List(ctx context.Context) ([]storage.PersonDuration, error) {
	items, err := t.store.ListAggregates(ctx)
	if err != nil {
		return nil, t.fail("list", classify("list person durations", err))
	}
	for i := range items {
		t.localizeAggregate(&items[i])
	}
	return items, nil
}

// Details returns the sessions of one aggregate, newest first.
func (t *Tracker) Details(ctx context.Context, personDurationID int64) ([]storage.Detail, error) {
	details, err := t.store.ListDetails(ctx, personDurationID)
	if err != nil {
		return nil, t.fail("details", classify("list details", err))
	}
	if len(details) == 0 {
		return nil, t.fail("details", fmt.Errorf("%w: no details for this person duration", ErrNotFound))
	}
	for i := range details {
		t.localizeDetail(&details[i])
	}
	return details, nil
}

// Image opens a stored labeled image.
func (t *Tracker) Image(ctx context.Context, ref string) (afero.File, blob.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, blob.Info{}, err
	}
	f, info, err := t.blobs.Open(ref)
	if err != nil {
		return nil, blob.Info{}, t.fail("image", classify("open labeled image", err))
	}
	return f, info, nil
}

func (t *Tracker) fail(op string, err error) error {
	metrics.TrackerErrors.WithLabelValues(op, kind(err)).Inc()
	if errors.Is(err, ErrStorage) {
		t.logger.Error().Err(err).Str("operation", op).Msg("Tracker operation failed")
	}
	return err
}

func (t *Tracker) localizeAggregate(p *storage.PersonDuration) {
	p.CreatedAt = p.CreatedAt.In(t.clock.Location())
	for i := range p.Details {
		t.localizeDetail(&p.Details[i])
	}
}

func (t *Tracker) localizeDetail(d *storage.Detail) {
	d.StartTime = d.StartTime.In(t.clock.Location())
	if d.EndTime != nil {
		end := d.EndTime.In(t.clock.Location())
		d.EndTime = &end
	}
}
