// Package clock provides Clock implementations.
package clock

import (
	"sync"
	"time"

	"github.com/tutorlink/tutorbilling/ports"
)

// Real returns the wall clock in UTC. Stored timestamps and premium
// windows are always compared in UTC.
type Real struct{}

// Now returns the current UTC time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Fake is a settable clock for tests.
type Fake struct {
	mu      sync.RWMutex
	current time.Time
}

// NewFake creates a fake clock set to t.
func NewFake(t time.Time) *Fake {
	return &Fake{current: t.UTC()}
}

func (f *Fake) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = t.UTC()
}

// Advance moves the clock forward by d and returns the new time.
func (f *Fake) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
	return f.current
}

var (
	_ ports.Clock = Real{}
	_ ports.Clock = (*Fake)(nil)
)
