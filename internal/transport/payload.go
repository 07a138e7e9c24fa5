// internal/transport/payload.go
package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tamzrod/noah-poller/internal/fieldmap"
)

// ErrNotFound is returned by Payload.Lookup when the locator has no value.
var ErrNotFound = errors.New("value not present in payload")

// JSONDocument is a decoded JSON object addressed by dotted paths.
// Shared by the cloud and MQTT transports.
type JSONDocument map[string]any

// ParseJSONDocument decodes raw into a document, keeping numbers exact.
func ParseJSONDocument(raw []byte) (JSONDocument, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Value resolves a dotted path such as "battery.soc".
func (d JSONDocument) Value(path string) (fieldmap.RawValue, error) {
	var cur any = map[string]any(d)

	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return fieldmap.RawValue{}, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		cur, ok = obj[part]
		if !ok || cur == nil {
			return fieldmap.RawValue{}, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
	}

	return toRaw(path, cur)
}

func toRaw(path string, v any) (fieldmap.RawValue, error) {
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return fieldmap.RawValue{}, fmt.Errorf("%s: %w", path, err)
		}
		return fieldmap.RawValue{Kind: fieldmap.RawNumber, Number: f}, nil
	case float64:
		return fieldmap.RawValue{Kind: fieldmap.RawNumber, Number: x}, nil
	case bool:
		n := 0.0
		if x {
			n = 1
		}
		return fieldmap.RawValue{Kind: fieldmap.RawNumber, Number: n}, nil
	case string:
		return fieldmap.RawValue{Kind: fieldmap.RawText, Text: x}, nil
	default:
		return fieldmap.RawValue{}, fmt.Errorf("%s: unsupported JSON value %T", path, v)
	}
}

// JSONPayload is a Payload over one JSON document.
type JSONPayload struct {
	At  time.Time
	Doc JSONDocument
}

func (p *JSONPayload) AcquiredAt() time.Time { return p.At }

func (p *JSONPayload) Lookup(loc fieldmap.Locator) (fieldmap.RawValue, error) {
	return p.Doc.Value(loc.Path)
}
