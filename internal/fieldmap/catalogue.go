// internal/fieldmap/catalogue.go
package fieldmap

// Canonical field names.
const (
	BatterySOC         = "battery.state_of_charge"
	BatteryVoltage     = "battery.voltage"
	BatteryCurrent     = "battery.current"
	BatteryPower       = "battery.power"
	BatteryTemperature = "battery.temperature"
	BatteryStatus      = "battery.status"

	BatteryHealth          = "battery.state_of_health"
	BatteryCapacity        = "battery.capacity"
	BatteryChargedToday    = "battery.energy_charged_today"
	BatteryDischargedToday = "battery.energy_discharged_today"

	SolarPower       = "solar.power"
	SolarEnergyToday = "solar.energy_today"
	SolarEnergyTotal = "solar.energy_total"
	SolarVoltage     = "solar.voltage"
	SolarCurrent     = "solar.current"

	GridPower         = "grid.power"
	GridVoltage       = "grid.voltage"
	GridFrequency     = "grid.frequency"
	GridExportedToday = "grid.energy_exported_today"
	GridExportedTotal = "grid.energy_exported_total"
	GridImportedToday = "grid.energy_imported_today"
	GridImportedTotal = "grid.energy_imported_total"
	GridConnected     = "grid.connected"

	LoadEnergyToday = "load.energy_today"
	LoadEnergyTotal = "load.energy_total"

	SystemStatus       = "system.status"
	SystemWorkMode     = "system.work_mode"
	SystemFirmware     = "system.firmware_version"
	SystemErrorCode    = "system.error_code"
	SystemSerialNumber = "system.serial_number"
)

// Field describes a canonical field: its unit, value type and the range
// any decoded value must fall into.
type Field struct {
	Name     string
	Unit     string
	Type     ValueType
	Min, Max float64
	Required bool
}

// Unsigned reports whether negative values are invalid for the field.
func (f Field) Unsigned() bool { return f.Min >= 0 }

var catalogue = []Field{
	{Name: BatterySOC, Unit: "%", Type: TypeNumber, Min: 0, Max: 100, Required: true},
	{Name: BatteryVoltage, Unit: "V", Type: TypeNumber, Min: 0, Max: 1000, Required: true},
	{Name: BatteryCurrent, Unit: "A", Type: TypeNumber, Min: -1000, Max: 1000, Required: true},
	{Name: BatteryPower, Unit: "W", Type: TypeNumber, Min: -100000, Max: 100000, Required: true},
	{Name: BatteryTemperature, Unit: "°C", Type: TypeNumber, Min: -40, Max: 100, Required: true},
	{Name: BatteryStatus, Type: TypeEnum},
	{Name: BatteryHealth, Unit: "%", Type: TypeNumber, Min: 0, Max: 100},
	{Name: BatteryCapacity, Unit: "kWh", Type: TypeNumber, Min: 0, Max: 1000},
	{Name: BatteryChargedToday, Unit: "kWh", Type: TypeNumber, Min: 0, Max: 1000},
	{Name: BatteryDischargedToday, Unit: "kWh", Type: TypeNumber, Min: 0, Max: 1000},

	{Name: SolarPower, Unit: "W", Type: TypeNumber, Min: 0, Max: 100000, Required: true},
	{Name: SolarEnergyToday, Unit: "kWh", Type: TypeNumber, Min: 0, Max: 1000, Required: true},
	{Name: SolarEnergyTotal, Unit: "kWh", Type: TypeNumber, Min: 0, Max: 1e9, Required: true},
	{Name: SolarVoltage, Unit: "V", Type: TypeNumber, Min: 0, Max: 1000},
	{Name: SolarCurrent, Unit: "A", Type: TypeNumber, Min: 0, Max: 100},

	{Name: GridPower, Unit: "W", Type: TypeNumber, Min: -100000, Max: 100000, Required: true},
	{Name: GridVoltage, Unit: "V", Type: TypeNumber, Min: 0, Max: 500, Required: true},
	{Name: GridFrequency, Unit: "Hz", Type: TypeNumber, Min: 0, Max: 70, Required: true},
	{Name: GridExportedToday, Unit: "kWh", Type: TypeNumber, Min: 0, Max: 1000, Required: true},
	{Name: GridExportedTotal, Unit: "kWh", Type: TypeNumber, Min: 0, Max: 1e9, Required: true},
	{Name: GridImportedToday, Unit: "kWh", Type: TypeNumber, Min: 0, Max: 1000},
	{Name: GridImportedTotal, Unit: "kWh", Type: TypeNumber, Min: 0, Max: 1e9},
	{Name: GridConnected, Type: TypeEnum},

	{Name: LoadEnergyToday, Unit: "kWh", Type: TypeNumber, Min: 0, Max: 1000},
	{Name: LoadEnergyTotal, Unit: "kWh", Type: TypeNumber, Min: 0, Max: 1e9},

	{Name: SystemStatus, Type: TypeEnum, Required: true},
	{Name: SystemWorkMode, Type: TypeEnum, Required: true},
	{Name: SystemFirmware, Type: TypeText, Required: true},
	{Name: SystemErrorCode, Type: TypeNumber, Min: 0, Max: 65535},
	{Name: SystemSerialNumber, Type: TypeText},
}

var catalogueByName = func() map[string]Field {
	m := make(map[string]Field, len(catalogue))
	for _, f := range catalogue {
		m[f.Name] = f
	}
	return m
}()

// Lookup returns the canonical definition of name.
func Lookup(name string) (Field, bool) {
	f, ok := catalogueByName[name]
	return f, ok
}

// Catalogue returns a copy of all canonical fields in declaration order.
func Catalogue() []Field {
	out := make([]Field, len(catalogue))
	copy(out, catalogue)
	return out
}
