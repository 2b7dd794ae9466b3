// Package bsondoc implements the BSON-compatible nested document codec used
// by the db subsystem (§6) to carry schemas, entries, selectors, and query
// results over the wire. It is hand-rolled atop encoding/binary rather than
// encoding/json because the wire format needs an ordered, typed-leaf tree
// (and to distinguish int32 from int64), which JSON cannot express and no
// bson library exists anywhere in the reference pack.
package bsondoc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/juleafs/julea"
)

func floatBits(f float64) uint64    { return math.Float64bits(f) }
func floatFromBits(b uint64) float64 { return math.Float64frombits(b) }

// Type tags recognised by the wire format (§6).
type Type byte

const (
	TypeDouble   Type = 0x01
	TypeUTF8     Type = 0x02
	TypeDocument Type = 0x03
	TypeArray    Type = 0x04
	TypeBinary   Type = 0x05
	TypeBool     Type = 0x08
	TypeInt32    Type = 0x10
	TypeInt64    Type = 0x12
)

// Value is a single typed leaf or nested container, tagged by Type.
type Value struct {
	Type   Type
	Double float64
	UTF8   string
	Doc    *Document
	Array  []Value
	Binary []byte
	Bool   bool
	Int32  int32
	Int64  int64
}

func Double(v float64) Value  { return Value{Type: TypeDouble, Double: v} }
func String(v string) Value   { return Value{Type: TypeUTF8, UTF8: v} }
func Binary(v []byte) Value   { return Value{Type: TypeBinary, Binary: v} }
func Bool(v bool) Value       { return Value{Type: TypeBool, Bool: v} }
func Int32(v int32) Value     { return Value{Type: TypeInt32, Int32: v} }
func Int64(v int64) Value     { return Value{Type: TypeInt64, Int64: v} }
func Doc(d *Document) Value   { return Value{Type: TypeDocument, Doc: d} }
func ArrayOf(vs ...Value) Value { return Value{Type: TypeArray, Array: vs} }

// Document is an ordered key→Value mapping: ordered because selector trees
// and field lists are position-sensitive (leaf bind order, column order).
type Document struct {
	keys   []string
	values map[string]Value
}

// NewDocument returns an empty, ready-to-use Document.
func NewDocument() *Document {
	return &Document{values: make(map[string]Value)}
}

// Set appends or overwrites key with v, preserving first-insertion order.
func (d *Document) Set(key string, v Value) *Document {
	if _, exists := d.values[key]; !exists {
		d.keys = append(d.keys, key)
	}
	d.values[key] = v
	return d
}

func (d *Document) SetDouble(key string, v float64) *Document  { return d.Set(key, Double(v)) }
func (d *Document) SetString(key string, v string) *Document   { return d.Set(key, String(v)) }
func (d *Document) SetBinary(key string, v []byte) *Document   { return d.Set(key, Binary(v)) }
func (d *Document) SetBool(key string, v bool) *Document        { return d.Set(key, Bool(v)) }
func (d *Document) SetInt32(key string, v int32) *Document      { return d.Set(key, Int32(v)) }
func (d *Document) SetInt64(key string, v int64) *Document      { return d.Set(key, Int64(v)) }
func (d *Document) SetDoc(key string, v *Document) *Document    { return d.Set(key, Doc(v)) }
func (d *Document) SetArray(key string, v ...Value) *Document   { return d.Set(key, ArrayOf(v...)) }

// Get returns the value stored at key, if any.
func (d *Document) Get(key string) (Value, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Keys returns the document's keys in insertion order.
func (d *Document) Keys() []string {
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

// Len returns the number of keys in the document.
func (d *Document) Len() int { return len(d.keys) }

// SortKeys reorders the document's keys lexicographically; useful for
// deterministic test fixtures and golden-file comparisons.
func (d *Document) SortKeys() {
	sort.Strings(d.keys)
}

// Encode serialises d into the wire format: for each key, a type byte, a
// NUL-terminated key string, then the type-specific value encoding.
func (d *Document) Encode() []byte {
	var buf bytes.Buffer
	encodeDocument(&buf, d)
	return buf.Bytes()
}

func encodeDocument(buf *bytes.Buffer, d *Document) {
	for _, k := range d.keys {
		v := d.values[k]
		buf.WriteByte(byte(v.Type))
		buf.WriteString(k)
		buf.WriteByte(0)
		encodeValue(buf, v)
	}
}

func encodeValue(buf *bytes.Buffer, v Value) {
	switch v.Type {
	case TypeDouble:
		writeFloat64(buf, v.Double)
	case TypeUTF8:
		writeLenString(buf, v.UTF8)
	case TypeDocument:
		inner := v.Doc
		if inner == nil {
			inner = NewDocument()
		}
		var sub bytes.Buffer
		encodeDocument(&sub, inner)
		writeLenBytes(buf, sub.Bytes())
	case TypeArray:
		var sub bytes.Buffer
		for i, elem := range v.Array {
			sub.WriteByte(byte(elem.Type))
			sub.WriteString(fmt.Sprintf("%d", i))
			sub.WriteByte(0)
			encodeValue(&sub, elem)
		}
		writeLenBytes(buf, sub.Bytes())
	case TypeBinary:
		writeLenBytes(buf, v.Binary)
	case TypeBool:
		if v.Bool {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case TypeInt32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v.Int32))
		buf.Write(b[:])
	case TypeInt64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.Int64))
		buf.Write(b[:])
	}
}

func writeFloat64(buf *bytes.Buffer, f float64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], floatBits(f))
	buf.Write(b[:])
}

func writeLenString(buf *bytes.Buffer, s string) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)+1))
	buf.Write(lenBuf[:])
	buf.WriteString(s)
	buf.WriteByte(0)
}

func writeLenBytes(buf *bytes.Buffer, p []byte) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(p)))
	buf.Write(lenBuf[:])
	buf.Write(p)
}

// Decode parses p as exactly one wire-format document; bytes left over
// after the last element fail with ErrMalformedBson.
func Decode(p []byte) (*Document, error) {
	d, rest, err := decodeDocument(p)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, julea.ErrMalformedBson
	}
	return d, nil
}

func decodeDocument(p []byte) (*Document, []byte, error) {
	d := NewDocument()
	for len(p) > 0 {
		t := Type(p[0])
		p = p[1:]
		idx := bytes.IndexByte(p, 0)
		if idx < 0 {
			return nil, nil, julea.ErrMalformedBson
		}
		key := string(p[:idx])
		p = p[idx+1:]

		v, rest, err := decodeValue(t, p)
		if err != nil {
			return nil, nil, err
		}
		d.Set(key, v)
		p = rest
	}
	return d, p, nil
}

func decodeValue(t Type, p []byte) (Value, []byte, error) {
	switch t {
	case TypeDouble:
		if len(p) < 8 {
			return Value{}, nil, julea.ErrMalformedBson
		}
		f := floatFromBits(binary.LittleEndian.Uint64(p[:8]))
		return Double(f), p[8:], nil
	case TypeUTF8:
		if len(p) < 4 {
			return Value{}, nil, julea.ErrMalformedBson
		}
		n := binary.LittleEndian.Uint32(p[:4])
		p = p[4:]
		if uint32(len(p)) < n || n == 0 {
			return Value{}, nil, julea.ErrMalformedBson
		}
		s := string(p[:n-1]) // strip trailing NUL
		return String(s), p[n:], nil
	case TypeDocument:
		if len(p) < 4 {
			return Value{}, nil, julea.ErrMalformedBson
		}
		n := binary.LittleEndian.Uint32(p[:4])
		p = p[4:]
		if uint32(len(p)) < n {
			return Value{}, nil, julea.ErrMalformedBson
		}
		inner, rest, err := decodeDocument(p[:n])
		if err != nil {
			return Value{}, nil, err
		}
		if len(rest) != 0 {
			return Value{}, nil, julea.ErrMalformedBson
		}
		return Doc(inner), p[n:], nil
	case TypeArray:
		if len(p) < 4 {
			return Value{}, nil, julea.ErrMalformedBson
		}
		n := binary.LittleEndian.Uint32(p[:4])
		p = p[4:]
		if uint32(len(p)) < n {
			return Value{}, nil, julea.ErrMalformedBson
		}
		inner, rest, err := decodeDocument(p[:n])
		if err != nil {
			return Value{}, nil, err
		}
		if len(rest) != 0 {
			return Value{}, nil, julea.ErrMalformedBson
		}
		arr := make([]Value, inner.Len())
		for i, k := range inner.Keys() {
			v, _ := inner.Get(k)
			arr[i] = v
		}
		return Value{Type: TypeArray, Array: arr}, p[n:], nil
	case TypeBinary:
		if len(p) < 4 {
			return Value{}, nil, julea.ErrMalformedBson
		}
		n := binary.LittleEndian.Uint32(p[:4])
		p = p[4:]
		if uint32(len(p)) < n {
			return Value{}, nil, julea.ErrMalformedBson
		}
		b := make([]byte, n)
		copy(b, p[:n])
		return Binary(b), p[n:], nil
	case TypeBool:
		if len(p) < 1 {
			return Value{}, nil, julea.ErrMalformedBson
		}
		return Bool(p[0] != 0), p[1:], nil
	case TypeInt32:
		if len(p) < 4 {
			return Value{}, nil, julea.ErrMalformedBson
		}
		return Int32(int32(binary.LittleEndian.Uint32(p[:4]))), p[4:], nil
	case TypeInt64:
		if len(p) < 8 {
			return Value{}, nil, julea.ErrMalformedBson
		}
		return Int64(int64(binary.LittleEndian.Uint64(p[:8]))), p[8:], nil
	default:
		return Value{}, nil, julea.ErrBsonInvalidType
	}
}
