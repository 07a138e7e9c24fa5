// internal/decode/decode.go
package decode

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/tamzrod/noah-poller/internal/failure"
	"github.com/tamzrod/noah-poller/internal/fieldmap"
	"github.com/tamzrod/noah-poller/internal/snapshot"
	"github.com/tamzrod/noah-poller/internal/transport"
)

// Decode turns a raw payload into a snapshot using the field map.
// Pure: no IO, no clock, same input gives the same output.
// All-or-nothing: the first invalid field aborts with a *failure.DecodeError.
// DeviceID is left empty; the caller owns device identity.
func Decode(p transport.Payload, m fieldmap.Map) (snapshot.DeviceSnapshot, error) {
	d := &decoder{p: p, m: m}

	var s snapshot.DeviceSnapshot
	s.Timestamp = p.AcquiredAt()

	// ---- battery ----
	s.Battery.StateOfCharge = d.number(fieldmap.BatterySOC)
	s.Battery.Voltage = d.number(fieldmap.BatteryVoltage)
	s.Battery.Current = d.number(fieldmap.BatteryCurrent)
	s.Battery.Power = d.number(fieldmap.BatteryPower)
	s.Battery.Temperature = d.number(fieldmap.BatteryTemperature)
	s.Battery.StateOfHealth = d.optional(fieldmap.BatteryHealth)
	s.Battery.Capacity = d.optional(fieldmap.BatteryCapacity)
	s.Battery.EnergyChargedToday = d.optional(fieldmap.BatteryChargedToday)
	s.Battery.EnergyDischargedToday = d.optional(fieldmap.BatteryDischargedToday)

	// ---- solar ----
	s.Solar.Power = d.number(fieldmap.SolarPower)
	s.Solar.EnergyToday = d.number(fieldmap.SolarEnergyToday)
	s.Solar.EnergyTotal = d.number(fieldmap.SolarEnergyTotal)
	s.Solar.Voltage = d.optional(fieldmap.SolarVoltage)
	s.Solar.Current = d.optional(fieldmap.SolarCurrent)

	// ---- grid ----
	s.Grid.Power = d.number(fieldmap.GridPower)
	s.Grid.Voltage = d.number(fieldmap.GridVoltage)
	s.Grid.Frequency = d.number(fieldmap.GridFrequency)
	s.Grid.EnergyExportedToday = d.number(fieldmap.GridExportedToday)
	s.Grid.EnergyExportedTotal = d.number(fieldmap.GridExportedTotal)
	s.Grid.EnergyImportedToday = d.optional(fieldmap.GridImportedToday)
	s.Grid.EnergyImportedTotal = d.optional(fieldmap.GridImportedTotal)
	if name, ok := d.enum(fieldmap.GridConnected); ok {
		connected, _ := snapshot.ParseGridConnected(name)
		s.Grid.Connected = &connected
	}

	// ---- load counters ----
	loadToday := d.optional(fieldmap.LoadEnergyToday)
	loadTotal := d.optional(fieldmap.LoadEnergyTotal)

	// ---- system ----
	if name, ok := d.enum(fieldmap.SystemStatus); ok {
		s.System.Status, _ = snapshot.ParseSystemStatus(name)
	}
	if name, ok := d.enum(fieldmap.SystemWorkMode); ok {
		s.System.WorkMode, _ = snapshot.ParseWorkMode(name)
	}
	s.System.FirmwareVersion, _ = d.text(fieldmap.SystemFirmware)
	s.System.SerialNumber, _ = d.text(fieldmap.SystemSerialNumber)
	if v, ok := d.optionalNumber(fieldmap.SystemErrorCode); ok {
		code := int(v)
		s.System.ErrorCode = &code
	}

	// ---- battery status: reported, else derived ----
	if name, ok := d.enum(fieldmap.BatteryStatus); ok {
		s.Battery.Status, _ = snapshot.ParseBatteryStatus(name)
	} else {
		s.Battery.Status = snapshot.DeriveBatteryStatus(s.Battery.Power)
	}

	if d.err != nil {
		return snapshot.DeviceSnapshot{}, d.err
	}

	// ---- derived, after all sources succeeded ----
	s.Load = snapshot.DeriveLoad(s.Solar.Power, s.Battery.Power, s.Grid.Power)
	s.Load.EnergyToday = loadToday
	s.Load.EnergyTotal = loadTotal

	return s, nil
}

// decoder keeps the first error; later calls are no-ops.
type decoder struct {
	p   transport.Payload
	m   fieldmap.Map
	err error
}

func (d *decoder) fail(field, format string, args ...any) {
	if d.err == nil {
		d.err = failure.Decode(field, format, args...)
	}
}

// raw looks up a field. ok is false when the field is absent and allowed
// to be (optional or not mapped and not required) or when decoding failed.
func (d *decoder) raw(name string) (fieldmap.Entry, fieldmap.RawValue, bool) {
	if d.err != nil {
		return fieldmap.Entry{}, fieldmap.RawValue{}, false
	}

	f, _ := fieldmap.Lookup(name)

	e, mapped := d.m.Entry(name)
	if !mapped {
		if f.Required {
			d.fail(name, "field not mapped")
		}
		return e, fieldmap.RawValue{}, false
	}

	rv, err := d.p.Lookup(e.Source)
	if err != nil {
		if errors.Is(err, transport.ErrNotFound) && (e.Optional || !f.Required) {
			return e, fieldmap.RawValue{}, false
		}
		d.fail(name, "%v", err)
		return e, fieldmap.RawValue{}, false
	}
	return e, rv, true
}

func (d *decoder) number(name string) float64 {
	v, _ := d.optionalNumber(name)
	return v
}

// optional is optionalNumber as a pointer, nil when absent.
func (d *decoder) optional(name string) *float64 {
	v, ok := d.optionalNumber(name)
	if !ok {
		return nil
	}
	return &v
}

func (d *decoder) optionalNumber(name string) (float64, bool) {
	e, rv, ok := d.raw(name)
	if !ok {
		return 0, false
	}

	v, err := toNumber(rv, e)
	if err != nil {
		d.fail(name, "%v", err)
		return 0, false
	}

	v = applyScale(v, e.Scale)
	if e.Negate {
		v = -v
	}

	if math.IsNaN(v) || math.IsInf(v, 0) {
		d.fail(name, "value is not finite")
		return 0, false
	}

	f, _ := fieldmap.Lookup(name)
	lo, hi := f.Min, f.Max
	if e.Min != nil {
		lo = *e.Min
	}
	if e.Max != nil {
		hi = *e.Max
	}

	if f.Unsigned() && v < 0 {
		d.fail(name, "negative value %g for unsigned field", v)
		return 0, false
	}
	if v < lo || v > hi {
		d.fail(name, "value %g outside [%g, %g]", v, lo, hi)
		return 0, false
	}

	return v, true
}

// enum returns the canonical enum name for the raw key.
func (d *decoder) enum(name string) (string, bool) {
	e, rv, ok := d.raw(name)
	if !ok {
		return "", false
	}

	key, err := enumKey(rv, e)
	if err != nil {
		d.fail(name, "%v", err)
		return "", false
	}

	out, ok := e.Enum[key]
	if !ok {
		d.fail(name, "unknown value %q", key)
		return "", false
	}
	return out, true
}

func (d *decoder) text(name string) (string, bool) {
	e, rv, ok := d.raw(name)
	if !ok {
		return "", false
	}

	var s string
	switch rv.Kind {
	case fieldmap.RawWords:
		s = wordsToASCII(rv.Words)
	case fieldmap.RawText:
		s = strings.TrimSpace(rv.Text)
	case fieldmap.RawNumber:
		s = strconv.FormatFloat(rv.Number, 'f', -1, 64)
	}

	if s == "" && !e.Optional {
		d.fail(name, "empty value")
		return "", false
	}
	return s, true
}

// ---- raw conversion (pure) ----

func toNumber(rv fieldmap.RawValue, e fieldmap.Entry) (float64, error) {
	switch rv.Kind {
	case fieldmap.RawWords:
		return wordsToNumber(rv.Words, e.Signed)
	case fieldmap.RawNumber:
		return rv.Number, nil
	case fieldmap.RawText:
		v, err := strconv.ParseFloat(strings.TrimSpace(rv.Text), 64)
		if err != nil {
			return 0, errors.New("not a number: " + strconv.Quote(rv.Text))
		}
		return v, nil
	default:
		return 0, errors.New("unsupported raw value")
	}
}

// wordsToNumber combines registers big-endian (first word most significant),
// applying two's complement over the full width when signed.
func wordsToNumber(words []uint16, signed bool) (float64, error) {
	if len(words) == 0 || len(words) > 4 {
		return 0, errors.New("register count must be 1..4")
	}

	var u uint64
	for _, w := range words {
		u = u<<16 | uint64(w)
	}

	if !signed {
		return float64(u), nil
	}

	bits := uint(16 * len(words))
	if bits < 64 && u&(1<<(bits-1)) != 0 {
		return float64(int64(u) - int64(1)<<bits), nil
	}
	return float64(int64(u)), nil
}

func wordsToASCII(words []uint16) string {
	b := make([]byte, 0, 2*len(words))
	for _, w := range words {
		b = append(b, byte(w>>8), byte(w))
	}
	return strings.TrimSpace(strings.Trim(string(b), "\x00"))
}

func enumKey(rv fieldmap.RawValue, e fieldmap.Entry) (string, error) {
	switch rv.Kind {
	case fieldmap.RawWords:
		v, err := wordsToNumber(rv.Words, e.Signed)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case fieldmap.RawNumber:
		return strconv.FormatFloat(rv.Number, 'f', -1, 64), nil
	case fieldmap.RawText:
		return strings.TrimSpace(rv.Text), nil
	default:
		return "", errors.New("unsupported raw value")
	}
}

// applyScale divides by the reciprocal for decimal scales such as 0.1 and
// 0.01 so that 455 × 0.1 yields exactly 45.5.
func applyScale(v, scale float64) float64 {
	if scale == 1 {
		return v
	}
	if scale > 0 && scale < 1 {
		inv := 1 / scale
		if r := math.Round(inv); math.Abs(inv-r) < 1e-9 {
			return v / r
		}
	}
	return v * scale
}
