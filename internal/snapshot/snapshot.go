// internal/snapshot/snapshot.go
package snapshot

import "time"

// DeviceSnapshot is one fully decoded reading of a device.
// It is produced once per successful poll and handed to subscribers by value.
// A snapshot is either complete or it does not exist.
type DeviceSnapshot struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`

	Battery Battery `json:"battery"`
	Solar   Solar   `json:"solar"`
	Grid    Grid    `json:"grid"`
	Load    Load    `json:"load"`
	System  System  `json:"system"`
}

// Battery power is signed: positive charges, negative discharges.
// Pointer fields are optional; nil means the device did not report them.
type Battery struct {
	StateOfCharge float64       `json:"state_of_charge"` // %
	Voltage       float64       `json:"voltage"`         // V
	Current       float64       `json:"current"`         // A
	Power         float64       `json:"power"`           // W
	Temperature   float64       `json:"temperature"`     // °C
	Status        BatteryStatus `json:"status"`

	StateOfHealth         *float64 `json:"state_of_health,omitempty"` // %
	Capacity              *float64 `json:"capacity,omitempty"`        // kWh
	EnergyChargedToday    *float64 `json:"energy_charged_today,omitempty"`
	EnergyDischargedToday *float64 `json:"energy_discharged_today,omitempty"`
}

type Solar struct {
	Power       float64 `json:"power"`        // W, >= 0
	EnergyToday float64 `json:"energy_today"` // kWh, resets at local midnight
	EnergyTotal float64 `json:"energy_total"` // kWh, lifetime

	Voltage *float64 `json:"voltage,omitempty"` // V
	Current *float64 `json:"current,omitempty"` // A
}

// Grid power is signed: positive imports, negative exports.
type Grid struct {
	Power               float64 `json:"power"`     // W
	Voltage             float64 `json:"voltage"`   // V
	Frequency           float64 `json:"frequency"` // Hz
	EnergyExportedToday float64 `json:"energy_exported_today"`
	EnergyExportedTotal float64 `json:"energy_exported_total"`

	EnergyImportedToday *float64 `json:"energy_imported_today,omitempty"`
	EnergyImportedTotal *float64 `json:"energy_imported_total,omitempty"`
	Connected           *bool    `json:"connected,omitempty"`
}

// Load power and self-sufficiency are derived from the other sections.
// The energy counters are read only when the device reports them.
type Load struct {
	Power           float64 `json:"power"`            // W, >= 0
	SelfSufficiency float64 `json:"self_sufficiency"` // % of load not served by grid import

	EnergyToday *float64 `json:"energy_today,omitempty"` // kWh
	EnergyTotal *float64 `json:"energy_total,omitempty"` // kWh
}

type System struct {
	Status          SystemStatus `json:"status"`
	WorkMode        WorkMode     `json:"work_mode"`
	FirmwareVersion string       `json:"firmware_version"`
	ErrorCode       *int         `json:"error_code,omitempty"`
	SerialNumber    string       `json:"serial_number,omitempty"`
}

// Clone returns a copy that shares no memory with s.
func (s DeviceSnapshot) Clone() DeviceSnapshot {
	s.Battery.StateOfHealth = clonePtr(s.Battery.StateOfHealth)
	s.Battery.Capacity = clonePtr(s.Battery.Capacity)
	s.Battery.EnergyChargedToday = clonePtr(s.Battery.EnergyChargedToday)
	s.Battery.EnergyDischargedToday = clonePtr(s.Battery.EnergyDischargedToday)
	s.Solar.Voltage = clonePtr(s.Solar.Voltage)
	s.Solar.Current = clonePtr(s.Solar.Current)
	s.Grid.EnergyImportedToday = clonePtr(s.Grid.EnergyImportedToday)
	s.Grid.EnergyImportedTotal = clonePtr(s.Grid.EnergyImportedTotal)
	s.Grid.Connected = clonePtr(s.Grid.Connected)
	s.Load.EnergyToday = clonePtr(s.Load.EnergyToday)
	s.Load.EnergyTotal = clonePtr(s.Load.EnergyTotal)
	s.System.ErrorCode = clonePtr(s.System.ErrorCode)
	return s
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// DeriveLoad computes load power from the energy balance
// solar - battery(charge) + grid(import), clamped at zero.
func DeriveLoad(solarW, batteryW, gridW float64) Load {
	power := solarW - batteryW + gridW
	if power < 0 {
		power = 0
	}

	// Share of load not covered by grid import. Undefined at zero load.
	var ratio float64
	if power > 0 {
		imported := gridW
		if imported < 0 {
			imported = 0
		}
		if imported > power {
			imported = power
		}
		ratio = (power - imported) / power * 100
	}

	return Load{Power: power, SelfSufficiency: ratio}
}

// DeriveBatteryStatus infers the status from the power sign when the
// transport does not report one.
func DeriveBatteryStatus(powerW float64) BatteryStatus {
	switch {
	case powerW > 0:
		return BatteryCharging
	case powerW < 0:
		return BatteryDischarging
	default:
		return BatteryIdle
	}
}
