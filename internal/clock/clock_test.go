package clock

import (
	"testing"
	"time"
)

func TestDayUsesLocation(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*3600)

	// 18:30 UTC is already the next day in UTC+7.
	c := &TestClock{
		CurrentTime: time.Date(2024, 3, 1, 18, 30, 0, 0, time.UTC),
		Loc:         jakarta,
	}

	if got := Day(c.Now(), c.Location()); got != "2024-03-02" {
		t.Fatalf("expected 2024-03-02, got %s", got)
	}

	utc := &TestClock{CurrentTime: c.CurrentTime}
	if got := Day(utc.Now(), utc.Location()); got != "2024-03-01" {
		t.Fatalf("expected 2024-03-01 in UTC, got %s", got)
	}
}

func TestTestClockAdvance(t *testing.T) {
	start := time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC)
	c := &TestClock{CurrentTime: start}

	c.Advance(2 * time.Minute)

	if !c.Now().Equal(start.Add(2 * time.Minute)) {
		t.Fatalf("expected clock to advance, got %s", c.Now())
	}
	if got := Day(c.Now(), c.Location()); got != "2024-03-02" {
		t.Fatalf("expected day to roll over, got %s", got)
	}
}

func TestRealClockDefaultsToUTC(t *testing.T) {
	c := New(nil)
	if c.Location() != time.UTC {
		t.Fatalf("expected UTC, got %s", c.Location())
	}
	if c.Now().Location() != time.UTC {
		t.Fatalf("expected now in UTC, got %s", c.Now().Location())
	}
}
