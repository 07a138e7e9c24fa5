// internal/poller/types.go
package poller

import (
	"time"

	"github.com/tamzrod/noah-poller/internal/failure"
	"github.com/tamzrod/noah-poller/internal/snapshot"
)

// Result is what one poll cycle produced.
type Result struct {
	DeviceID string
	At       time.Time

	// Snapshot is set only when the cycle succeeded.
	Snapshot *snapshot.DeviceSnapshot

	Err                 error // non-nil means the poll cycle failed
	Kind                failure.Kind
	ConsecutiveFailures int

	// NextDelay is the wait before the next scheduled poll.
	NextDelay time.Duration
}

// Notification is published to subscribers when failures persist, and
// immediately on credential rejection.
type Notification struct {
	DeviceID         string       `json:"device_id"`
	Kind             failure.Kind `json:"kind"`
	ConsecutiveCount int          `json:"consecutive_count"`
	LastError        string       `json:"last_error"` // sanitized
	At               time.Time    `json:"at"`
}

// Subscriber receives poll outcomes on the poll goroutine.
// Implementations must not block.
type Subscriber interface {
	OnSnapshot(s snapshot.DeviceSnapshot)
	OnFailure(n Notification)
}

// SubscriberFuncs adapts plain functions. Nil funcs are skipped.
type SubscriberFuncs struct {
	Snapshot func(snapshot.DeviceSnapshot)
	Failure  func(Notification)
}

func (f SubscriberFuncs) OnSnapshot(s snapshot.DeviceSnapshot) {
	if f.Snapshot != nil {
		f.Snapshot(s)
	}
}

func (f SubscriberFuncs) OnFailure(n Notification) {
	if f.Failure != nil {
		f.Failure(n)
	}
}

// Clock is the poller's time source.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
