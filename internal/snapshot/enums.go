// internal/snapshot/enums.go
package snapshot

import "fmt"

type BatteryStatus int

const (
	BatteryIdle BatteryStatus = iota
	BatteryCharging
	BatteryDischarging
	BatteryFault
)

var batteryStatusNames = map[BatteryStatus]string{
	BatteryIdle:        "idle",
	BatteryCharging:    "charging",
	BatteryDischarging: "discharging",
	BatteryFault:       "fault",
}

func (s BatteryStatus) String() string { return nameOf(batteryStatusNames, s) }

func (s BatteryStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *BatteryStatus) UnmarshalText(b []byte) error {
	return parseInto(batteryStatusNames, string(b), s)
}

type SystemStatus int

const (
	SystemOffline SystemStatus = iota
	SystemOnline
	SystemError
)

var systemStatusNames = map[SystemStatus]string{
	SystemOffline: "offline",
	SystemOnline:  "online",
	SystemError:   "error",
}

func (s SystemStatus) String() string { return nameOf(systemStatusNames, s) }

func (s SystemStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *SystemStatus) UnmarshalText(b []byte) error {
	return parseInto(systemStatusNames, string(b), s)
}

type WorkMode int

const (
	WorkModeLoadFirst WorkMode = iota
	WorkModeBatteryFirst
	WorkModeGridFirst
)

var workModeNames = map[WorkMode]string{
	WorkModeLoadFirst:    "load_first",
	WorkModeBatteryFirst: "battery_first",
	WorkModeGridFirst:    "grid_first",
}

func (m WorkMode) String() string { return nameOf(workModeNames, m) }

func (m WorkMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *WorkMode) UnmarshalText(b []byte) error {
	return parseInto(workModeNames, string(b), m)
}

// ParseBatteryStatus, ParseSystemStatus and ParseWorkMode accept the
// canonical lower-case names used by field map enum tables.
func ParseBatteryStatus(s string) (BatteryStatus, error) {
	var v BatteryStatus
	return v, parseInto(batteryStatusNames, s, &v)
}

func ParseSystemStatus(s string) (SystemStatus, error) {
	var v SystemStatus
	return v, parseInto(systemStatusNames, s, &v)
}

func ParseWorkMode(s string) (WorkMode, error) {
	var v WorkMode
	return v, parseInto(workModeNames, s, &v)
}

var gridConnectedNames = map[bool]string{
	true:  "connected",
	false: "disconnected",
}

// ParseGridConnected maps "connected"/"disconnected" to the grid link state.
func ParseGridConnected(s string) (bool, error) {
	var v bool
	return v, parseInto(gridConnectedNames, s, &v)
}

func nameOf[T comparable](names map[T]string, v T) string {
	if n, ok := names[v]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%v)", any(v))
}

func parseInto[T comparable](names map[T]string, s string, dst *T) error {
	for v, n := range names {
		if n == s {
			*dst = v
			return nil
		}
	}
	return fmt.Errorf("unknown value %q", s)
}
