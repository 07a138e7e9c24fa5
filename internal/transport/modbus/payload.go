// internal/transport/modbus/payload.go
package modbus

import (
	"fmt"
	"time"

	"github.com/tamzrod/noah-poller/internal/fieldmap"
	"github.com/tamzrod/noah-poller/internal/transport"
)

// blockData is the raw result of a single read.
type blockData struct {
	fieldmap.Block
	Words []uint16
}

// payload is a snapshot produced by one fetch.
type payload struct {
	at     time.Time
	blocks []blockData
}

func (p *payload) AcquiredAt() time.Time { return p.at }

func (p *payload) Lookup(loc fieldmap.Locator) (fieldmap.RawValue, error) {
	if loc.Length == 0 {
		loc.Length = 1
	}
	if loc.Function == "" {
		loc.Function = fieldmap.FunctionHolding
	}

	for _, b := range p.blocks {
		if !b.Contains(loc) {
			continue
		}
		off := int(loc.Register) - int(b.Address)
		words := make([]uint16, loc.Length)
		copy(words, b.Words[off:off+int(loc.Length)])
		return fieldmap.RawValue{Kind: fieldmap.RawWords, Words: words}, nil
	}

	return fieldmap.RawValue{}, fmt.Errorf("%s register %d+%d: %w", loc.Function, loc.Register, loc.Length, transport.ErrNotFound)
}
