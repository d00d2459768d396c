// Package command serializes the broker commands and message metadata a
// producer exchanges with the broker, field for field with the broker's
// protobuf schema.
package command

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMissingField is returned when a required field is empty.
var ErrMissingField = errors.New("required field missing")

type encoder struct {
	b []byte
}

func (e *encoder) uint64(num protowire.Number, v uint64) {
	e.b = protowire.AppendTag(e.b, num, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, v)
}

// int32 and int64 use plain varints; negative values are sign-extended to ten bytes.
func (e *encoder) int32(num protowire.Number, v int32) {
	e.uint64(num, uint64(int64(v)))
}

func (e *encoder) int64(num protowire.Number, v int64) {
	e.uint64(num, uint64(v))
}

func (e *encoder) string(num protowire.Number, s string) {
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendString(e.b, s)
}

func (e *encoder) message(num protowire.Number, m []byte) {
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, m)
}

// field is one decoded protobuf field. Varint holds the value of varint
// fields, Bytes the payload of length-delimited ones.
type field struct {
	Num    protowire.Number
	Type   protowire.Type
	Varint uint64
	Bytes  []byte
}

// walk calls fn for every varint and length-delimited field of b and skips
// the other wire types.
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("failed to read tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		f := field{Num: num, Type: typ}
		switch typ {
		case protowire.VarintType:
			f.Varint, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.Bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("failed to read field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]

		if typ != protowire.VarintType && typ != protowire.BytesType {
			continue
		}
		if err := fn(f); err != nil {
			return err
		}
	}

	return nil
}
