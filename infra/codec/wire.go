// Package codec is the protobuf wire encoding of everything the engine
// persists or ships: logged commands, events and book state. Messages are
// written field by field with protowire so the bytes for a given value are
// always the same, which keeps replayed snapshots byte-comparable.
package codec

import (
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

var ErrMalformed = errors.New("codec: malformed message")

// Encoder appends protobuf fields. Zero scalars are omitted, as proto3 does.
type Encoder struct {
	buf []byte
}

func (e *Encoder) Bytes() []byte { return e.buf }

func (e *Encoder) Uint(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, v)
}

// Int writes a zigzag encoded signed value (sint64).
func (e *Encoder) Int(num protowire.Number, v int64) {
	e.Uint(num, protowire.EncodeZigZag(v))
}

func (e *Encoder) Bool(num protowire.Number, v bool) {
	if v {
		e.Uint(num, 1)
	}
}

func (e *Encoder) String(num protowire.Number, s string) {
	if s == "" {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendString(e.buf, s)
}

func (e *Encoder) Raw(num protowire.Number, b []byte) {
	if len(b) == 0 {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, b)
}

// Message writes a nested message. It is written even when empty so that
// repeated fields keep their length.
func (e *Encoder) Message(num protowire.Number, fn func(*Encoder)) {
	var m Encoder
	fn(&m)
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, m.buf)
}

// Field is one decoded field. Varints land in U, length-delimited values
// in B; B aliases the input.
type Field struct {
	Num  protowire.Number
	Type protowire.Type
	U    uint64
	B    []byte
}

func (f Field) Int() int64     { return protowire.DecodeZigZag(f.U) }
func (f Field) Bool() bool     { return f.U != 0 }
func (f Field) String() string { return string(f.B) }

// Walk calls fn for every field of b in order. Fields of unknown wire
// types are skipped.
func Walk(b []byte, fn func(Field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return malformed(n)
		}
		b = b[n:]

		f := Field{Num: num, Type: typ}
		switch typ {
		case protowire.VarintType:
			f.U, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.B, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return malformed(n)
			}
			b = b[n:]
			continue
		}
		if n < 0 {
			return malformed(n)
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func malformed(n int) error {
	return errors.Wrapf(ErrMalformed, "%v", protowire.ParseError(n))
}
