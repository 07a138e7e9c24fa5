// internal/status/tracker.go
package status

import (
	"sync"
	"time"

	"github.com/tamzrod/noah-poller/internal/failure"
)

// Tracker holds device-level truth between polls.
// The poll goroutine writes; HTTP handlers read.
type Tracker struct {
	mu   sync.Mutex
	snap Snapshot
}

func NewTracker(deviceID string) *Tracker {
	return &Tracker{snap: Snapshot{DeviceID: deviceID, Health: HealthUnknown}}
}

// Success records a good poll: recovery resets every error field.
func (t *Tracker) Success(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snap.Health = HealthOK
	t.snap.LastErrorKind = failure.KindNone
	t.snap.LastError = ""
	t.snap.ConsecutiveFailures = 0
	t.snap.ErrorSince = time.Time{}
	t.snap.LastSuccess = at
}

// Failure records a failed poll. ErrorSince keeps the start of the streak.
func (t *Tracker) Failure(kind failure.Kind, msg string, consecutive int, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch kind {
	case failure.KindAuth:
		t.snap.Health = HealthAuthPaused
	case failure.KindStale:
		t.snap.Health = HealthStale
	default:
		t.snap.Health = HealthError
	}
	t.snap.LastErrorKind = kind
	t.snap.LastError = msg
	t.snap.ConsecutiveFailures = consecutive
	if t.snap.ErrorSince.IsZero() {
		t.snap.ErrorSince = at
	}
}

// Resumed leaves the auth pause; health is unknown until the next poll.
func (t *Tracker) Resumed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.Health == HealthAuthPaused {
		t.snap.Health = HealthUnknown
	}
}

// SetNextPoll records the wait before the next scheduled poll.
func (t *Tracker) SetNextPoll(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.NextPollIn = d
}

// Snapshot returns the current state with SecondsInError computed at now.
func (t *Tracker) Snapshot(now time.Time) Snapshot {
	t.mu.Lock()
	s := t.snap
	t.mu.Unlock()

	if s.Health != HealthOK && !s.ErrorSince.IsZero() {
		secs := now.Sub(s.ErrorSince) / time.Second
		if secs > SecondsInErrorMax {
			secs = SecondsInErrorMax
		}
		if secs > 0 {
			s.SecondsInError = uint16(secs)
		}
	}
	return s
}
