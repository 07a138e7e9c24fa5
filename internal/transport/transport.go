// internal/transport/transport.go
package transport

import (
	"context"
	"time"

	"github.com/tamzrod/noah-poller/internal/fieldmap"
)

// Client abstracts one way of reaching a device.
// The poller depends on this contract only.
type Client interface {
	// Connect establishes the session or connection. Safe to call again
	// after Disconnect.
	Connect(ctx context.Context) error

	// FetchRaw returns the raw payload of one acquisition.
	// All-or-nothing: a partial read is an error.
	FetchRaw(ctx context.Context) (Payload, error)

	// Disconnect releases the connection. Idempotent.
	Disconnect() error

	// HealthCheck is cheap and never fetches data.
	HealthCheck(ctx context.Context) bool
}

// Payload is an opaque raw acquisition.
// Values are returned unscaled; the decoder owns all interpretation.
type Payload interface {
	AcquiredAt() time.Time
	Lookup(loc fieldmap.Locator) (fieldmap.RawValue, error)
}

// AuthResetter is implemented by transports that hold credentials.
// ResetAuth clears a terminal authentication failure so the next
// Connect tries again.
type AuthResetter interface {
	ResetAuth()
}
