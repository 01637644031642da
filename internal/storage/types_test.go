package storage

import (
	"errors"
	"testing"
	"time"
)

func TestDetailCloseOnce(t *testing.T) {
	start := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	d := Detail{StartTime: start}

	elapsed, err := d.Close(start.Add(90*time.Second + 900*time.Millisecond))
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if elapsed != 90 {
		t.Fatalf("expected 90 elapsed seconds, got %d", elapsed)
	}
	if !d.Closed() {
		t.Fatalf("expected detail to be closed")
	}

	if _, err := d.Close(start.Add(time.Hour)); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict on second close, got %v", err)
	}
}

func TestDetailCloseBeforeStart(t *testing.T) {
	start := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	d := Detail{StartTime: start}

	if _, err := d.Close(start.Add(-time.Second)); !errors.Is(err, ErrEndBeforeStart) {
		t.Fatalf("expected ErrEndBeforeStart, got %v", err)
	}
	if d.Closed() {
		t.Fatalf("rejected close must not set end time")
	}
}

func TestSetTotalRejectsNegative(t *testing.T) {
	p := PersonDuration{TotalSeconds: 10}
	if err := p.SetTotal(-1); !errors.Is(err, ErrNegativeTotal) {
		t.Fatalf("expected ErrNegativeTotal, got %v", err)
	}
	if p.TotalSeconds != 10 {
		t.Fatalf("expected total unchanged, got %d", p.TotalSeconds)
	}
}

func TestAccumulate(t *testing.T) {
	var p PersonDuration
	if err := p.Accumulate(90); err != nil {
		t.Fatalf("accumulate: %v", err)
	}
	if err := p.Accumulate(30); err != nil {
		t.Fatalf("accumulate: %v", err)
	}
	if p.TotalSeconds != 120 {
		t.Fatalf("expected 120 seconds, got %d", p.TotalSeconds)
	}
	if err := p.Accumulate(-121); !errors.Is(err, ErrNegativeTotal) {
		t.Fatalf("expected ErrNegativeTotal, got %v", err)
	}
}

func TestAPIKeyExpired(t *testing.T) {
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	key := APIKey{CreatedAt: now, ExpiresAt: now.Add(time.Hour)}

	if key.Expired(now) {
		t.Fatalf("key should be valid at issuance")
	}
	if !key.Expired(now.Add(2 * time.Hour)) {
		t.Fatalf("key should be expired after ExpiresAt")
	}
}
