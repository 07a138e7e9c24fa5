// internal/status/constants.go
package status

// ---- HEALTH CODES ----

// HealthUnknown represents an unknown or boot state.
const HealthUnknown uint16 = 0

// HealthOK represents a healthy device.
const HealthOK uint16 = 1

// HealthError represents a device error state.
const HealthError uint16 = 2

// HealthStale represents a reachable transport with no fresh data.
const HealthStale uint16 = 3

// HealthAuthPaused represents polling paused on rejected credentials.
const HealthAuthPaused uint16 = 4

// ---- LIMITS ----

// SecondsInErrorMax saturates the seconds-in-error counter.
const SecondsInErrorMax = 65535

var healthNames = map[uint16]string{
	HealthUnknown:    "unknown",
	HealthOK:         "ok",
	HealthError:      "error",
	HealthStale:      "stale",
	HealthAuthPaused: "auth_paused",
}

// HealthName renders a health code for JSON and logs.
func HealthName(code uint16) string {
	if n, ok := healthNames[code]; ok {
		return n
	}
	return "unknown"
}
