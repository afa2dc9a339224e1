package packets

import (
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Packet content is encoded as a flat protobuf message: each field is written with
// its number and wire type, zero values are omitted and unknown fields are skipped
// on decode. This lets packets gain fields without breaking older peers.

// Encoder appends fields to a packet's content.
type Encoder struct {
	b []byte
}

func (e *Encoder) Uint(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, v)
}

func (e *Encoder) Int(num protowire.Number, v int64) {
	e.Uint(num, protowire.EncodeZigZag(v))
}

func (e *Encoder) Bool(num protowire.Number, v bool) {
	e.Uint(num, protowire.EncodeBool(v))
}

func (e *Encoder) Float(num protowire.Number, v float32) {
	if v == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.Fixed32Type)
	e.b = protowire.AppendFixed32(e.b, math.Float32bits(v))
}

func (e *Encoder) Text(num protowire.Number, v string) {
	if v == "" {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendString(e.b, v)
}

func (e *Encoder) Blob(num protowire.Number, v []byte) {
	if len(v) == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, v)
}

// Time writes t as nanoseconds since the Unix epoch.
func (e *Encoder) Time(num protowire.Number, t time.Time) {
	if t.IsZero() {
		return
	}
	e.Int(num, t.UnixNano())
}

// Message writes a nested message produced by fn. Empty messages are omitted.
func (e *Encoder) Message(num protowire.Number, fn func(*Encoder)) {
	var sub Encoder
	fn(&sub)
	e.Blob(num, sub.b)
}

func (e *Encoder) Bytes() []byte {
	return e.b
}

var errValueConsumed = errors.New("field value already consumed")

// Decoder walks the fields of a packet's content. Typical use:
//
//	d := NewDecoder(b)
//	for d.Next() {
//		switch d.Field() {
//		case 1:
//			p.Username = d.Text()
//		}
//	}
//	return d.Err()
//
// Fields whose value is not read are skipped by the following call to Next.
type Decoder struct {
	b       []byte
	num     protowire.Number
	typ     protowire.Type
	pending bool
	err     error
}

func NewDecoder(b []byte) *Decoder {
	return &Decoder{b: b}
}

// Next advances to the next field, returning false at the end of the content or
// on the first error.
func (d *Decoder) Next() bool {
	if d.pending {
		d.Skip()
	}
	if d.err != nil || len(d.b) == 0 {
		return false
	}

	num, typ, n := protowire.ConsumeTag(d.b)
	if n < 0 {
		d.err = fmt.Errorf("reading field tag: %w", protowire.ParseError(n))
		return false
	}
	d.b = d.b[n:]
	d.num, d.typ, d.pending = num, typ, true
	return true
}

// Field returns the number of the current field.
func (d *Decoder) Field() protowire.Number {
	return d.num
}

// Skip discards the value of the current field.
func (d *Decoder) Skip() {
	if !d.pending || d.err != nil {
		return
	}
	d.consume(protowire.ConsumeFieldValue(d.num, d.typ, d.b))
}

func (d *Decoder) Err() error {
	return d.err
}

func (d *Decoder) consume(n int) bool {
	if n < 0 {
		d.err = fmt.Errorf("field %d: %w", d.num, protowire.ParseError(n))
		return false
	}
	d.b = d.b[n:]
	d.pending = false
	return true
}

func (d *Decoder) expect(typ protowire.Type) bool {
	switch {
	case d.err != nil:
		return false
	case !d.pending:
		d.err = fmt.Errorf("field %d: %w", d.num, errValueConsumed)
		return false
	case d.typ != typ:
		d.err = fmt.Errorf("field %d: wire type %d, expected %d", d.num, d.typ, typ)
		return false
	}
	return true
}

func (d *Decoder) Uint() uint64 {
	if !d.expect(protowire.VarintType) {
		return 0
	}
	v, n := protowire.ConsumeVarint(d.b)
	if !d.consume(n) {
		return 0
	}
	return v
}

// Uint16 reads a varint that must fit in 16 bits.
func (d *Decoder) Uint16() uint16 {
	v := d.Uint()
	if v > math.MaxUint16 {
		d.err = fmt.Errorf("field %d: value %d overflows uint16", d.num, v)
		return 0
	}
	return uint16(v)
}

func (d *Decoder) Uint32() uint32 {
	v := d.Uint()
	if v > math.MaxUint32 {
		d.err = fmt.Errorf("field %d: value %d overflows uint32", d.num, v)
		return 0
	}
	return uint32(v)
}

func (d *Decoder) Int() int64 {
	return protowire.DecodeZigZag(d.Uint())
}

func (d *Decoder) Bool() bool {
	return protowire.DecodeBool(d.Uint())
}

func (d *Decoder) Float() float32 {
	if !d.expect(protowire.Fixed32Type) {
		return 0
	}
	v, n := protowire.ConsumeFixed32(d.b)
	if !d.consume(n) {
		return 0
	}
	return math.Float32frombits(v)
}

func (d *Decoder) Text() string {
	if !d.expect(protowire.BytesType) {
		return ""
	}
	v, n := protowire.ConsumeString(d.b)
	if !d.consume(n) {
		return ""
	}
	return v
}

// Blob returns a copy of a length-delimited value.
func (d *Decoder) Blob() []byte {
	if !d.expect(protowire.BytesType) {
		return nil
	}
	v, n := protowire.ConsumeBytes(d.b)
	if !d.consume(n) {
		return nil
	}
	return append([]byte(nil), v...)
}

func (d *Decoder) Time() time.Time {
	nanos := d.Int()
	if d.err != nil {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}

// Message decodes a nested message with fn.
func (d *Decoder) Message(fn func(*Decoder) error) {
	if !d.expect(protowire.BytesType) {
		return
	}
	v, n := protowire.ConsumeBytes(d.b)
	if !d.consume(n) {
		return
	}
	if err := fn(NewDecoder(v)); err != nil {
		d.err = fmt.Errorf("field %d: %w", d.num, err)
	}
}
