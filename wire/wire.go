// Package wire implements the JULEA binary message protocol: a fixed-size
// header, a sequence of length-tracked operation records, and optional
// trailing side payloads used for bulk data transfer. It generalizes the
// original implementation's jmessage.c append/read cursor API under Go
// names (NewBuilder/AddOperation/Append*/Finalize, and Reader.Uint8/String/
// Bytes).
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/juleafs/julea"
	"github.com/juleafs/julea/semantics"
)

// Magic is the fixed 4-byte tag ("JULA") that opens every header.
const Magic uint32 = 0x4A554C41

// Version is the wire protocol version this package speaks.
const Version uint8 = 1

// HeaderSize is the fixed on-wire size of a Header, in bytes.
const HeaderSize = 4 + 1 + 4 + 4 + 4 + 4 + 8 // magic,version,opcode,flags,op_count,payload_len,id

// Opcode identifies the operation family and kind carried by a message.
type Opcode uint32

// Opcode table (stable numbering, §6).
const (
	OpNone       Opcode = 0
	OpPing       Opcode = 1
	OpStatistics Opcode = 2

	OpObjectCreate Opcode = 10
	OpObjectDelete Opcode = 11
	OpObjectRead   Opcode = 12
	OpObjectWrite  Opcode = 13
	OpObjectStatus Opcode = 14

	OpKVPut         Opcode = 20
	OpKVDelete      Opcode = 21
	OpKVGet         Opcode = 22
	OpKVGetAll      Opcode = 23
	OpKVGetByPrefix Opcode = 24

	OpDBSchemaCreate Opcode = 30
	OpDBSchemaGet    Opcode = 31
	OpDBSchemaDelete Opcode = 32
	OpDBInsert       Opcode = 33
	OpDBUpdate       Opcode = 34
	OpDBDelete       Opcode = 35
	OpDBQuery        Opcode = 36
)

// Family identifies which backend trait (C2) handles an opcode.
type Family uint8

const (
	FamilyMeta Family = iota
	FamilyObject
	FamilyKV
	FamilyDB
)

func (f Family) String() string {
	switch f {
	case FamilyMeta:
		return "meta"
	case FamilyObject:
		return "object"
	case FamilyKV:
		return "kv"
	case FamilyDB:
		return "db"
	default:
		return "unknown"
	}
}

// FamilyOf returns which backend family is responsible for op, or false if
// op is not a recognised opcode.
func FamilyOf(op Opcode) (Family, bool) {
	switch {
	case op == OpNone || op == OpPing || op == OpStatistics:
		return FamilyMeta, true
	case op >= OpObjectCreate && op <= OpObjectStatus:
		return FamilyObject, true
	case op >= OpKVPut && op <= OpKVGetByPrefix:
		return FamilyKV, true
	case op >= OpDBSchemaCreate && op <= OpDBQuery:
		return FamilyDB, true
	default:
		return 0, false
	}
}

// Flags is the wire protocol's bitset of per-message modifiers.
type Flags uint32

const (
	FlagReply         Flags = 0x01
	FlagSafetyNetwork Flags = 0x02
	FlagSafetyStorage Flags = 0x04
	FlagCompressed    Flags = 0x08
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// SemanticsFlags derives the safety_network/safety_storage bits from s.
func SemanticsFlags(s semantics.Semantics) Flags {
	network, storage := s.FlagBits()
	var f Flags
	if network {
		f |= FlagSafetyNetwork
	}
	if storage {
		f |= FlagSafetyStorage
	}
	return f
}

// Semantics reconstructs the safety axis carried by f. Other semantics axes
// are not carried on the wire and default to their zero value.
func (f Flags) Semantics() semantics.Semantics {
	switch {
	case f.Has(FlagSafetyStorage):
		return semantics.Default().WithSafety(semantics.SafetyStorage)
	case f.Has(FlagSafetyNetwork):
		return semantics.Default().WithSafety(semantics.SafetyNetwork)
	default:
		return semantics.Default()
	}
}

// Header is the fixed-size prefix of every message.
type Header struct {
	Magic      uint32
	Version    uint8
	Opcode     Opcode
	Flags      Flags
	OpCount    uint32
	PayloadLen uint32
	ID         uint64
}

// NewReply builds the header of a reply message correlated to req: it
// copies req's ID and sets FlagReply. OpCount and PayloadLen are left zero
// for the caller (typically a Builder) to fill in.
func NewReply(req Header) Header {
	return Header{
		Magic:   Magic,
		Version: Version,
		Opcode:  req.Opcode,
		Flags:   req.Flags | FlagReply,
		ID:      req.ID,
	}
}

func (h Header) encode() [HeaderSize]byte {
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	binary.LittleEndian.PutUint32(buf[5:9], uint32(h.Opcode))
	binary.LittleEndian.PutUint32(buf[9:13], uint32(h.Flags))
	binary.LittleEndian.PutUint32(buf[13:17], h.OpCount)
	binary.LittleEndian.PutUint32(buf[17:21], h.PayloadLen)
	binary.LittleEndian.PutUint64(buf[21:29], h.ID)
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("wire: decode header: %w", julea.ErrShortRead)
	}
	h := Header{
		Magic:      binary.LittleEndian.Uint32(buf[0:4]),
		Version:    buf[4],
		Opcode:     Opcode(binary.LittleEndian.Uint32(buf[5:9])),
		Flags:      Flags(binary.LittleEndian.Uint32(buf[9:13])),
		OpCount:    binary.LittleEndian.Uint32(buf[13:17]),
		PayloadLen: binary.LittleEndian.Uint32(buf[17:21]),
		ID:         binary.LittleEndian.Uint64(buf[21:29]),
	}
	if h.Magic != Magic {
		return Header{}, julea.ErrBadMagic
	}
	return h, nil
}

// ReadHeader reads and validates a Header from r, without touching the
// payload.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return Header{}, fmt.Errorf("wire: read header: %w", julea.ErrShortRead)
		}
		return Header{}, err
	}
	return decodeHeader(buf[:])
}
