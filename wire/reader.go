package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/juleafs/julea"
	"github.com/juleafs/julea/semantics"
)

// MaxPayload is the default per-message payload cap; ReadFrom rejects any
// header declaring a larger PayloadLen. Callers with a configured limit
// (C8's max_operation_size) should use ReadFromLimit instead.
const MaxPayload = 64 << 20 // 64 MiB

// Reader is a forward-only cursor over one decoded message's payload,
// generalizing the original's j_message_get_* cursor functions.
type Reader struct {
	Header  Header
	payload []byte
	pos     int
}

// ReadFrom performs the two-phase read: header, then exactly PayloadLen
// bytes of payload. Side payloads are not read here; callers that expect
// them call ReadSidePayload afterwards.
func ReadFrom(r io.Reader) (*Reader, error) {
	return ReadFromLimit(r, MaxPayload)
}

// ReadFromLimit is ReadFrom with an explicit payload size cap.
func ReadFromLimit(r io.Reader, maxPayload uint32) (*Reader, error) {
	header, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	if header.PayloadLen > maxPayload {
		return nil, julea.ErrOversize
	}
	payload := make([]byte, header.PayloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, fmt.Errorf("wire: read payload: %w", julea.ErrShortRead)
		}
		return nil, err
	}
	return &Reader{Header: header, payload: payload}, nil
}

// ReadSidePayload reads one len-prefixed side payload from r, to be called
// by whichever side consumes it (e.g. a write's bulk data, a read reply's
// returned bytes).
func ReadSidePayload(r io.Reader) ([]byte, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("wire: read side payload length: %w", julea.ErrShortRead)
	}
	n := binary.LittleEndian.Uint64(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("wire: read side payload: %w", julea.ErrShortRead)
	}
	return buf, nil
}

// Count returns the number of operations declared in the header.
func (rd *Reader) Count() uint32 { return rd.Header.OpCount }

// Opcode returns the message's opcode.
func (rd *Reader) Opcode() Opcode { return rd.Header.Opcode }

// Flags returns the message's raw flag bits.
func (rd *Reader) Flags() Flags { return rd.Header.Flags }

// Semantics reconstructs the semantics descriptor carried by the header's
// flags.
func (rd *Reader) Semantics() semantics.Semantics {
	return rd.Header.Flags.Semantics()
}

func (rd *Reader) remaining() int { return len(rd.payload) - rd.pos }

func (rd *Reader) need(n int) error {
	if rd.remaining() < n {
		return julea.ErrMalformedMessage
	}
	return nil
}

// Uint8 reads one little-endian byte and advances the cursor.
func (rd *Reader) Uint8() (uint8, error) {
	if err := rd.need(1); err != nil {
		return 0, err
	}
	v := rd.payload[rd.pos]
	rd.pos++
	return v, nil
}

// Uint32 reads one little-endian uint32 and advances the cursor.
func (rd *Reader) Uint32() (uint32, error) {
	if err := rd.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(rd.payload[rd.pos : rd.pos+4])
	rd.pos += 4
	return v, nil
}

// Uint64 reads one little-endian uint64 and advances the cursor.
func (rd *Reader) Uint64() (uint64, error) {
	if err := rd.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(rd.payload[rd.pos : rd.pos+8])
	rd.pos += 8
	return v, nil
}

// String reads a NUL-terminated UTF-8 string and advances past the NUL.
func (rd *Reader) String() (string, error) {
	idx := bytes.IndexByte(rd.payload[rd.pos:], 0)
	if idx < 0 {
		return "", julea.ErrMalformedMessage
	}
	s := string(rd.payload[rd.pos : rd.pos+idx])
	rd.pos += idx + 1
	return s, nil
}

// Bytes reads a length-prefixed opaque byte run (as appended by
// Builder.AppendBytes) and advances past it.
func (rd *Reader) Bytes() ([]byte, error) {
	n, err := rd.Uint64()
	if err != nil {
		return nil, err
	}
	if err := rd.need(int(n)); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, rd.payload[rd.pos:rd.pos+int(n)])
	rd.pos += int(n)
	return b, nil
}

// Done reports whether the cursor has consumed the entire payload.
func (rd *Reader) Done() bool { return rd.remaining() == 0 }
