// internal/transport/mqtt/payload.go
package mqtt

import (
	"fmt"
	"strings"
	"time"

	"github.com/tamzrod/noah-poller/internal/fieldmap"
	"github.com/tamzrod/noah-poller/internal/transport"
)

// payload is one fetch: the fresh message per topic suffix.
// JSON topics are parsed lazily on first lookup.
type payload struct {
	at     time.Time
	topics map[string][]byte
	docs   map[string]transport.JSONDocument
}

func newPayload(at time.Time, topics map[string][]byte) *payload {
	return &payload{at: at, topics: topics, docs: make(map[string]transport.JSONDocument)}
}

func (p *payload) AcquiredAt() time.Time { return p.at }

func (p *payload) Lookup(loc fieldmap.Locator) (fieldmap.RawValue, error) {
	raw, ok := p.topics[loc.Topic]
	if !ok {
		return fieldmap.RawValue{}, fmt.Errorf("topic %s: %w", loc.Topic, transport.ErrNotFound)
	}

	// Scalar topic such as noah/battery/soc.
	if loc.Path == "" {
		return fieldmap.RawValue{Kind: fieldmap.RawText, Text: strings.TrimSpace(string(raw))}, nil
	}

	doc, ok := p.docs[loc.Topic]
	if !ok {
		var err error
		doc, err = transport.ParseJSONDocument(raw)
		if err != nil {
			return fieldmap.RawValue{}, fmt.Errorf("topic %s: invalid JSON: %w", loc.Topic, err)
		}
		p.docs[loc.Topic] = doc
	}
	return doc.Value(loc.Path)
}
