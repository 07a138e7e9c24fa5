// internal/fieldmap/validate.go
package fieldmap

import (
	"errors"
	"fmt"

	"github.com/tamzrod/noah-poller/internal/snapshot"
)

// Normalize fills in entry defaults.
// It MUST be called before Validate.
func Normalize(m *Map) {
	for i := range m.Entries {
		e := &m.Entries[i]

		if e.Type == "" {
			if f, ok := Lookup(e.Name); ok {
				e.Type = f.Type
			}
		}
		if e.Scale == 0 {
			e.Scale = 1
		}
		if e.Unit == "" {
			if f, ok := Lookup(e.Name); ok {
				e.Unit = f.Unit
			}
		}

		if m.Transport == KindModbus {
			if e.Source.Function == "" {
				e.Source.Function = FunctionHolding
			}
			if e.Source.Length == 0 {
				e.Source.Length = 1
			}
		}
	}
}

// Validate checks a normalized map.
// It performs declarative validation only.
// It MUST NOT mutate the map.
func Validate(m Map) error {
	if m.Name == "" {
		return errors.New("field map: name required")
	}

	switch m.Transport {
	case KindJSON, KindMQTT, KindModbus:
	default:
		return fmt.Errorf("field map %q: unknown transport %q", m.Name, m.Transport)
	}

	seen := make(map[string]bool, len(m.Entries))

	for _, e := range m.Entries {
		f, ok := Lookup(e.Name)
		if !ok {
			return fmt.Errorf("field map %q: unknown field %q", m.Name, e.Name)
		}
		if seen[e.Name] {
			return fmt.Errorf("field map %q: field %q mapped twice", m.Name, e.Name)
		}
		seen[e.Name] = true

		if err := validateType(m, e, f); err != nil {
			return err
		}
		if err := validateLocator(m, e); err != nil {
			return err
		}
		if err := validateBounds(m, e, f); err != nil {
			return err
		}
		if e.Optional && f.Required {
			return fmt.Errorf("field map %q: field %q is required and cannot be optional", m.Name, e.Name)
		}
	}

	for _, f := range catalogue {
		if f.Required && !seen[f.Name] {
			return fmt.Errorf("field map %q: required field %q not mapped", m.Name, f.Name)
		}
	}

	return nil
}

func validateType(m Map, e Entry, f Field) error {
	switch f.Type {
	case TypeNumber:
		if e.Type != TypeNumber {
			return fmt.Errorf("field map %q: field %q must be a number, got %q", m.Name, e.Name, e.Type)
		}
		if e.Scale <= 0 {
			return fmt.Errorf("field map %q: field %q: scale must be > 0", m.Name, e.Name)
		}

	case TypeText:
		if e.Type != TypeText && e.Type != TypeASCII {
			return fmt.Errorf("field map %q: field %q must be text or ascii, got %q", m.Name, e.Name, e.Type)
		}
		if e.Type == TypeASCII && m.Transport != KindModbus {
			return fmt.Errorf("field map %q: field %q: ascii is only valid for modbus maps", m.Name, e.Name)
		}

	case TypeEnum:
		if e.Type != TypeEnum {
			return fmt.Errorf("field map %q: field %q must be an enum, got %q", m.Name, e.Name, e.Type)
		}
		if len(e.Enum) == 0 {
			return fmt.Errorf("field map %q: field %q: enum table required", m.Name, e.Name)
		}
		for raw, name := range e.Enum {
			if err := checkEnumValue(e.Name, name); err != nil {
				return fmt.Errorf("field map %q: field %q: raw %q: %w", m.Name, e.Name, raw, err)
			}
		}
	}

	return nil
}

func checkEnumValue(field, value string) error {
	var err error
	switch field {
	case BatteryStatus:
		_, err = snapshot.ParseBatteryStatus(value)
	case SystemStatus:
		_, err = snapshot.ParseSystemStatus(value)
	case SystemWorkMode:
		_, err = snapshot.ParseWorkMode(value)
	case GridConnected:
		_, err = snapshot.ParseGridConnected(value)
	default:
		err = errors.New("field is not an enum")
	}
	return err
}

func validateLocator(m Map, e Entry) error {
	src := e.Source

	switch m.Transport {
	case KindJSON:
		if src.Path == "" {
			return fmt.Errorf("field map %q: field %q: path required", m.Name, e.Name)
		}

	case KindMQTT:
		if src.Topic == "" {
			return fmt.Errorf("field map %q: field %q: topic required", m.Name, e.Name)
		}

	case KindModbus:
		if src.Function != FunctionHolding && src.Function != FunctionInput {
			return fmt.Errorf("field map %q: field %q: unknown function %q", m.Name, e.Name, src.Function)
		}
		if src.Length == 0 || src.Length > MaxBlockSize {
			return fmt.Errorf("field map %q: field %q: length must be 1..%d", m.Name, e.Name, MaxBlockSize)
		}
		if e.Type == TypeNumber && src.Length > 4 {
			return fmt.Errorf("field map %q: field %q: numeric values span at most 4 registers", m.Name, e.Name)
		}
		if int(src.Register)+int(src.Length) > 0x10000 {
			return fmt.Errorf("field map %q: field %q: register range exceeds address space", m.Name, e.Name)
		}
	}

	return nil
}

func validateBounds(m Map, e Entry, f Field) error {
	if e.Min == nil && e.Max == nil {
		return nil
	}
	if f.Type != TypeNumber {
		return fmt.Errorf("field map %q: field %q: min/max only apply to numbers", m.Name, e.Name)
	}

	lo, hi := f.Min, f.Max
	if e.Min != nil {
		lo = *e.Min
	}
	if e.Max != nil {
		hi = *e.Max
	}

	// Entry bounds may only narrow the canonical range.
	if lo < f.Min || hi > f.Max || lo > hi {
		return fmt.Errorf(
			"field map %q: field %q: bounds [%g,%g] outside canonical range [%g,%g]",
			m.Name, e.Name, lo, hi, f.Min, f.Max,
		)
	}
	return nil
}
