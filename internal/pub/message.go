package pub

import (
	"bytes"
	"time"

	json "github.com/goccy/go-json"
)

// MessageOptions carries the per-message settings of one publish request.
type MessageOptions struct {
	// Key is the partition key; empty leaves it unset.
	Key string
	// DeliverAt requests delayed delivery at an absolute time.
	DeliverAt time.Time
	// DeliverAfter requests delayed delivery relative to the publish time.
	// Ignored when DeliverAt is set.
	DeliverAfter time.Duration
	// Properties are attached to the message as key/value strings.
	Properties map[string]Property
	// SequenceID overrides the producer's sequence counter for this message.
	SequenceID *uint64
}

// WithSequenceID returns a copy of the options pinned to the given sequence id.
func (o MessageOptions) WithSequenceID(id uint64) MessageOptions {
	o.SequenceID = &id
	return o
}

// DeliverAtTime resolves the delayed delivery time against now.
// Returns false when no delay was requested.
func (o MessageOptions) DeliverAtTime(now time.Time) (time.Time, bool) {
	switch {
	case !o.DeliverAt.IsZero():
		return o.DeliverAt, true
	case o.DeliverAfter > 0:
		return now.Add(o.DeliverAfter), true
	default:
		return time.Time{}, false
	}
}

type propertyKind uint8

const (
	propertyString propertyKind = iota
	propertyJSON
)

// Property is a message property value: either a plain string or a
// structured value that is stored in its JSON form.
type Property struct {
	kind  propertyKind
	str   string
	value any
}

// StringProperty returns a property stored verbatim.
func StringProperty(s string) Property {
	return Property{kind: propertyString, str: s}
}

// JSONProperty returns a property stored as JSON with slashes, unicode and
// HTML characters left unescaped.
func JSONProperty(v any) Property {
	return Property{kind: propertyJSON, value: v}
}

// Encode returns the string form transmitted to the broker.
func (p Property) Encode() (string, error) {
	if p.kind == propertyString {
		return p.str, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p.value); err != nil {
		return "", err
	}

	return string(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}
