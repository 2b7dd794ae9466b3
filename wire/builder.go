package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/juleafs/julea/semantics"
)

// Builder is an append-only message constructor, mirroring the original
// j_message_new/j_message_add_operation/j_message_append_* API. It is not
// safe for concurrent use.
type Builder struct {
	opcode   Opcode
	id       uint64
	flags    Flags
	opCount  uint32
	payload  bytes.Buffer
	sidePayloads [][]byte
}

// NewBuilder starts a message for the given opcode and id, reserving
// initialCapacity bytes in the payload buffer up front.
func NewBuilder(opcode Opcode, id uint64, initialCapacity int) *Builder {
	b := &Builder{opcode: opcode, id: id}
	if initialCapacity > 0 {
		b.payload.Grow(initialCapacity)
	}
	return b
}

// AddOperation declares the start of a new operation record. sizeHint grows
// the underlying buffer to reduce reallocation; it does not otherwise
// affect encoding.
func (b *Builder) AddOperation(sizeHint int) {
	b.opCount++
	if sizeHint > 0 {
		b.payload.Grow(sizeHint)
	}
}

// AppendUint8 appends a single little-endian byte to the current operation.
func (b *Builder) AppendUint8(v uint8) { b.payload.WriteByte(v) }

// AppendUint32 appends a little-endian uint32 to the current operation.
func (b *Builder) AppendUint32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	b.payload.Write(buf[:])
}

// AppendUint64 appends a little-endian uint64 to the current operation.
func (b *Builder) AppendUint64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	b.payload.Write(buf[:])
}

// AppendString appends s as UTF-8 bytes followed by a single NUL.
func (b *Builder) AppendString(s string) {
	b.payload.WriteString(s)
	b.payload.WriteByte(0)
}

// AppendBytes appends an opaque, length-prefixed byte run.
func (b *Builder) AppendBytes(p []byte) {
	b.AppendUint64(uint64(len(p)))
	b.payload.Write(p)
}

// AttachSend queues buf as a side payload, sent after the framed header and
// payload, in attachment order. Used for bulk writes to avoid copying large
// buffers into the payload buffer itself.
func (b *Builder) AttachSend(buf []byte) {
	b.sidePayloads = append(b.sidePayloads, buf)
}

// SetSafety derives the safety_network/safety_storage flag bits from s and
// ORs them into the message's flags.
func (b *Builder) SetSafety(s semantics.Semantics) {
	b.flags |= SemanticsFlags(s)
}

// SetReply marks this message as a reply.
func (b *Builder) SetReply() { b.flags |= FlagReply }

// Finalize freezes the builder into a read-only Message, computing the
// header's op_count and payload_len from what was appended.
func (b *Builder) Finalize() *Message {
	header := Header{
		Magic:      Magic,
		Version:    Version,
		Opcode:     b.opcode,
		Flags:      b.flags,
		OpCount:    b.opCount,
		PayloadLen: uint32(b.payload.Len()),
		ID:         b.id,
	}
	payload := make([]byte, b.payload.Len())
	copy(payload, b.payload.Bytes())

	sides := make([][]byte, len(b.sidePayloads))
	copy(sides, b.sidePayloads)

	return &Message{Header: header, Payload: payload, SidePayloads: sides}
}

// Message is the frozen, read-only result of Builder.Finalize.
type Message struct {
	Header       Header
	Payload      []byte
	SidePayloads [][]byte
}

// WriteTo writes the header, payload, then each side payload (each preceded
// by its 64-bit length), in attachment order.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	var total int64

	headerBytes := m.Header.encode()
	n, err := w.Write(headerBytes[:])
	total += int64(n)
	if err != nil {
		return total, err
	}

	n, err = w.Write(m.Payload)
	total += int64(n)
	if err != nil {
		return total, err
	}

	for _, side := range m.SidePayloads {
		var lenBuf [8]byte
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(side)))
		n, err = w.Write(lenBuf[:])
		total += int64(n)
		if err != nil {
			return total, err
		}
		n, err = w.Write(side)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}

	return total, nil
}
