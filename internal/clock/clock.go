package clock

import "time"

// DateLayout is the civil date format used for day keys.
const DateLayout = "2006-01-02"

// Clock provides the current time in the deployment's civil timezone.
// This interface allows time to be mocked in tests.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// Day returns the civil date of t in loc as a day key.
func Day(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// RealClock provides actual system time in a fixed location.
type RealClock struct {
	loc *time.Location
}

// New returns a RealClock for loc. A nil loc means UTC.
func New(loc *time.Location) RealClock {
	if loc == nil {
		loc = time.UTC
	}
	return RealClock{loc: loc}
}

// Now returns the current system time in the clock's location.
func (c RealClock) Now() time.Time {
	return time.Now().In(c.Location())
}

// Location returns the clock's civil timezone.
func (c RealClock) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// TestClock provides fixed time for testing.
type TestClock struct {
	CurrentTime time.Time
	Loc         *time.Location
}

// Now returns the test time.
func (t *TestClock) Now() time.Time {
	return t.CurrentTime.In(t.Location())
}

// Location returns the test clock's timezone.
func (t *TestClock) Location() *time.Location {
	if t.Loc == nil {
		return time.UTC
	}
	return t.Loc
}

// Advance moves the test clock forward by d.
func (t *TestClock) Advance(d time.Duration) {
	t.CurrentTime = t.CurrentTime.Add(d)
}
