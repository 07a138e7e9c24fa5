// internal/status/snapshot.go
package status

import (
	"encoding/json"
	"time"

	"github.com/tamzrod/noah-poller/internal/failure"
)

// Snapshot represents exactly what the health endpoint is allowed to deliver.
// It contains no logic and no memory of the past beyond current state.
type Snapshot struct {
	DeviceID            string
	Health              uint16
	LastErrorKind       failure.Kind
	LastError           string // sanitized
	ConsecutiveFailures int
	SecondsInError      uint16
	ErrorSince          time.Time
	LastSuccess         time.Time
	NextPollIn          time.Duration
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	type out struct {
		DeviceID            string       `json:"device_id"`
		Health              string       `json:"health"`
		LastErrorKind       failure.Kind `json:"last_error_kind"`
		LastError           string       `json:"last_error,omitempty"`
		ConsecutiveFailures int          `json:"consecutive_failures"`
		SecondsInError      uint16       `json:"seconds_in_error"`
		ErrorSince          *time.Time   `json:"error_since,omitempty"`
		LastSuccess         *time.Time   `json:"last_success,omitempty"`
		NextPollInS         float64      `json:"next_poll_in_s"`
	}

	o := out{
		DeviceID:            s.DeviceID,
		Health:              HealthName(s.Health),
		LastErrorKind:       s.LastErrorKind,
		LastError:           s.LastError,
		ConsecutiveFailures: s.ConsecutiveFailures,
		SecondsInError:      s.SecondsInError,
		NextPollInS:         s.NextPollIn.Seconds(),
	}
	if !s.ErrorSince.IsZero() {
		o.ErrorSince = &s.ErrorSince
	}
	if !s.LastSuccess.IsZero() {
		o.LastSuccess = &s.LastSuccess
	}
	return json.Marshal(o)
}
