// Package clock provides a monotonic UTC time source and stable ID generation.
package clock

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock is the time source used by the engine. All timestamps are UTC.
type Clock interface {
	Now() time.Time
}

// Real is the production clock backed by the system time.
type Real struct{}

// Now returns the current UTC time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Fake is a controllable clock for tests. The zero value starts at the
// Unix epoch; use Set or Advance to move it.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a fake clock starting at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t.UTC()}
}

// Now returns the fake clock's current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set pins the fake clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t.UTC()
}

// NewSessionID returns a new globally unique session identifier.
func NewSessionID() string {
	return "sess-" + uuid.NewString()
}

// NewTurnID returns a new globally unique turn identifier.
func NewTurnID() string {
	return "turn-" + uuid.NewString()
}

// NewCardID returns a new workspace-unique card identifier.
func NewCardID() string {
	return "card-" + uuid.NewString()
}
