// internal/fieldmap/load.go
package fieldmap

import (
	"embed"
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed maps/*.yaml
var builtinMaps embed.FS

// defaultBuiltin names the built-in map used when a device does not
// configure one.
var defaultBuiltin = map[Kind]string{
	KindJSON:   "cloud_noah_v1",
	KindMQTT:   "mqtt_noah_v1",
	KindModbus: "modbus_noah_v1",
}

// Parse decodes, normalizes and validates a YAML field map.
func Parse(data []byte) (Map, error) {
	var m Map
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Map{}, fmt.Errorf("field map: %w", err)
	}
	Normalize(&m)
	if err := Validate(m); err != nil {
		return Map{}, err
	}
	return m, nil
}

// Builtin loads an embedded map by name (without extension).
func Builtin(name string) (Map, error) {
	data, err := builtinMaps.ReadFile(path.Join("maps", name+".yaml"))
	if err != nil {
		return Map{}, fmt.Errorf("field map: no builtin map %q", name)
	}
	return Parse(data)
}

// BuiltinNames lists the embedded maps.
func BuiltinNames() []string {
	entries, err := builtinMaps.ReadDir("maps")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	return names
}

// LoadFile reads a map from disk.
func LoadFile(p string) (Map, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return Map{}, fmt.Errorf("field map: %w", err)
	}
	return Parse(data)
}

// Resolve returns the map a device should use.
// ref may be empty (default builtin for kind), a builtin name, or a file path.
// The resolved map must be written for kind.
func Resolve(ref string, kind Kind) (Map, error) {
	var (
		m   Map
		err error
	)

	switch {
	case ref == "":
		name, ok := defaultBuiltin[kind]
		if !ok {
			return Map{}, fmt.Errorf("field map: no default for transport %q", kind)
		}
		m, err = Builtin(name)
	case isBuiltin(ref):
		m, err = Builtin(ref)
	default:
		m, err = LoadFile(ref)
	}
	if err != nil {
		return Map{}, err
	}

	if m.Transport != kind {
		return Map{}, fmt.Errorf("field map %q is for %q, transport needs %q", m.Name, m.Transport, kind)
	}
	return m, nil
}

func isBuiltin(ref string) bool {
	for _, n := range BuiltinNames() {
		if n == ref {
			return true
		}
	}
	return false
}
