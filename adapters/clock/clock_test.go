package clock_test

import (
	"testing"
	"time"

	"github.com/tutorlink/tutorbilling/adapters/clock"
)

func TestReal_NowIsUTC(t *testing.T) {
	got := clock.Real{}.Now()
	if got.Location() != time.UTC {
		t.Errorf("location = %v, want UTC", got.Location())
	}
	if d := time.Since(got); d < 0 || d > time.Second {
		t.Errorf("Now() drifted by %v", d)
	}
}

func TestFake(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	start := time.Date(2026, 6, 15, 14, 0, 0, 0, loc)
	c := clock.NewFake(start)

	if !c.Now().Equal(start) || c.Now().Location() != time.UTC {
		t.Errorf("Now() = %v, want %v in UTC", c.Now(), start)
	}

	got := c.Advance(36 * time.Hour)
	if !got.Equal(start.Add(36 * time.Hour)) {
		t.Errorf("Advance() = %v", got)
	}

	later := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	c.Set(later)
	if !c.Now().Equal(later) {
		t.Errorf("Set() then Now() = %v, want %v", c.Now(), later)
	}
}
