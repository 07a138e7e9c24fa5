// internal/status/tracker_test.go
package status

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/tamzrod/noah-poller/internal/failure"
)

func TestTracker_ErrorThenRecovery(t *testing.T) {
	tr := NewTracker("d1")
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if s := tr.Snapshot(t0); s.Health != HealthUnknown {
		t.Fatalf("boot health=%d", s.Health)
	}

	tr.Failure(failure.KindConnection, "refused", 1, t0)
	tr.Failure(failure.KindTimeout, "timeout", 2, t0.Add(30*time.Second))

	s := tr.Snapshot(t0.Add(90 * time.Second))
	if s.Health != HealthError || s.ConsecutiveFailures != 2 || s.LastErrorKind != failure.KindTimeout {
		t.Fatalf("unexpected snapshot %+v", s)
	}
	if s.SecondsInError != 90 {
		t.Fatalf("seconds in error=%d want 90", s.SecondsInError)
	}

	tr.Success(t0.Add(2 * time.Minute))
	s = tr.Snapshot(t0.Add(3 * time.Minute))
	if s.Health != HealthOK || s.SecondsInError != 0 || s.ConsecutiveFailures != 0 || s.LastError != "" {
		t.Fatalf("recovery not reset: %+v", s)
	}
}

func TestTracker_SecondsInErrorSaturates(t *testing.T) {
	tr := NewTracker("d1")
	t0 := time.Now()
	tr.Failure(failure.KindProtocol, "x", 1, t0)

	if s := tr.Snapshot(t0.Add(48 * time.Hour)); s.SecondsInError != SecondsInErrorMax {
		t.Fatalf("seconds=%d", s.SecondsInError)
	}
}

func TestTracker_AuthPauseAndResume(t *testing.T) {
	tr := NewTracker("d1")
	tr.Failure(failure.KindAuth, "rejected", 1, time.Now())

	if s := tr.Snapshot(time.Now()); s.Health != HealthAuthPaused {
		t.Fatalf("health=%s", HealthName(s.Health))
	}
	tr.Resumed()
	if s := tr.Snapshot(time.Now()); s.Health != HealthUnknown {
		t.Fatalf("health=%s", HealthName(s.Health))
	}
}

func TestSnapshot_JSON(t *testing.T) {
	tr := NewTracker("d1")
	tr.Failure(failure.KindStale, "no data", 3, time.Now())

	b, err := json.Marshal(tr.Snapshot(time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	out := string(b)
	for _, want := range []string{`"health":"stale"`, `"last_error_kind":"stale"`, `"consecutive_failures":3`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
	if strings.Contains(out, "last_success") {
		t.Fatalf("zero last_success must be omitted: %s", out)
	}
}
