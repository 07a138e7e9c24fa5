// internal/fieldmap/types.go
package fieldmap

// Kind is the payload family a map is written for.
// It follows the transport: cloud payloads are JSON documents.
type Kind string

const (
	KindJSON   Kind = "json"
	KindMQTT   Kind = "mqtt"
	KindModbus Kind = "modbus"
)

// Function selects the Modbus register table.
type Function string

const (
	FunctionHolding Function = "holding" // FC 3
	FunctionInput   Function = "input"   // FC 4
)

// ValueType tells the decoder how to interpret a raw value.
type ValueType string

const (
	TypeNumber ValueType = "number"
	TypeEnum   ValueType = "enum"
	TypeText   ValueType = "text"
	TypeASCII  ValueType = "ascii" // register words, two characters per word
)

// Locator addresses one raw value inside a transport payload.
// Only the fields relevant to the map's Kind are used.
type Locator struct {
	// JSON dotted path. For MQTT, the key inside the topic's JSON payload
	// (empty for scalar payloads).
	Path string `yaml:"path,omitempty"`

	// MQTT topic suffix below the configured prefix.
	Topic string `yaml:"topic,omitempty"`

	// Modbus geometry.
	Register uint16   `yaml:"register,omitempty"`
	Length   uint16   `yaml:"length,omitempty"`
	Function Function `yaml:"function,omitempty"`
}

// Entry maps one canonical field to its raw source.
type Entry struct {
	Name     string            `yaml:"name"`
	Source   Locator           `yaml:"source"`
	Type     ValueType         `yaml:"type"`
	Scale    float64           `yaml:"scale"`
	Signed   bool              `yaml:"signed"`
	Unit     string            `yaml:"unit"`
	Negate   bool              `yaml:"negate"`
	Optional bool              `yaml:"optional"`
	Enum     map[string]string `yaml:"enum"`
	Min      *float64          `yaml:"min"`
	Max      *float64          `yaml:"max"`
}

// Map is a versioned field map.
// It is validated once at load and shared read-only afterwards.
type Map struct {
	Name      string  `yaml:"name"`
	Version   string  `yaml:"version"`
	Transport Kind    `yaml:"transport"`
	Entries   []Entry `yaml:"entries"`
}

// Entry returns the entry for a canonical field name.
func (m Map) Entry(name string) (Entry, bool) {
	for _, e := range m.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// RawKind tells which RawValue field is populated.
type RawKind int

const (
	RawWords RawKind = iota
	RawNumber
	RawText
)

// RawValue is an unscaled value as the transport delivered it.
type RawValue struct {
	Kind   RawKind
	Words  []uint16 // Modbus registers, most significant first
	Number float64  // JSON number
	Text   string   // JSON string or scalar MQTT payload
}
