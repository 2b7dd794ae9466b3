package wire

import (
	"bytes"
	"testing"

	"github.com/juleafs/julea"
	"github.com/juleafs/julea/semantics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderRoundTrip(t *testing.T) {
	b := NewBuilder(OpKVPut, 42, 64)
	b.AddOperation(0)
	b.AppendString("mykv")
	b.AppendString("mykey")
	b.AppendBytes([]byte("myvalue"))
	b.SetSafety(semantics.Default().WithSafety(semantics.SafetyStorage))

	msg := b.Finalize()
	require.Equal(t, uint32(1), msg.Header.OpCount)
	assert.True(t, msg.Header.Flags.Has(FlagSafetyStorage))
	assert.True(t, msg.Header.Flags.Has(FlagSafetyNetwork))

	var buf bytes.Buffer
	_, err := msg.WriteTo(&buf)
	require.NoError(t, err)

	rd, err := ReadFrom(&buf)
	require.NoError(t, err)
	assert.Equal(t, OpKVPut, rd.Opcode())
	assert.Equal(t, uint64(42), rd.Header.ID)

	ns, err := rd.String()
	require.NoError(t, err)
	assert.Equal(t, "mykv", ns)

	key, err := rd.String()
	require.NoError(t, err)
	assert.Equal(t, "mykey", key)

	val, err := rd.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("myvalue"), val)

	assert.True(t, rd.Done())
}

func TestReaderOverreadIsMalformed(t *testing.T) {
	b := NewBuilder(OpPing, 1, 0)
	b.AddOperation(0)
	b.AppendUint8(7)
	msg := b.Finalize()

	var buf bytes.Buffer
	_, err := msg.WriteTo(&buf)
	require.NoError(t, err)

	rd, err := ReadFrom(&buf)
	require.NoError(t, err)

	_, err = rd.Uint8()
	require.NoError(t, err)

	_, err = rd.Uint8()
	assert.ErrorIs(t, err, julea.ErrMalformedMessage)
}

func TestBadMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(make([]byte, HeaderSize))

	_, err := ReadFrom(&buf)
	assert.ErrorIs(t, err, julea.ErrBadMagic)
}

func TestShortRead(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x01, 0x02})

	_, err := ReadFrom(&buf)
	assert.ErrorIs(t, err, julea.ErrShortRead)
}

func TestOversizeRejected(t *testing.T) {
	b := NewBuilder(OpObjectWrite, 1, 0)
	b.AddOperation(0)
	b.AppendBytes(make([]byte, 128))
	msg := b.Finalize()

	var buf bytes.Buffer
	_, err := msg.WriteTo(&buf)
	require.NoError(t, err)

	_, err = ReadFromLimit(&buf, 16)
	assert.ErrorIs(t, err, julea.ErrOversize)
}

func TestNewReplyCorrelatesID(t *testing.T) {
	req := Header{Magic: Magic, Version: Version, Opcode: OpPing, ID: 99}
	reply := NewReply(req)

	assert.Equal(t, req.ID, reply.ID)
	assert.True(t, reply.Flags.Has(FlagReply))
}

func TestFamilyOf(t *testing.T) {
	cases := []struct {
		op     Opcode
		family Family
	}{
		{OpPing, FamilyMeta},
		{OpObjectRead, FamilyObject},
		{OpKVGet, FamilyKV},
		{OpDBQuery, FamilyDB},
	}
	for _, c := range cases {
		f, ok := FamilyOf(c.op)
		require.True(t, ok)
		assert.Equal(t, c.family, f)
	}

	_, ok := FamilyOf(Opcode(9999))
	assert.False(t, ok)
}

func TestSidePayloadRoundTrip(t *testing.T) {
	b := NewBuilder(OpObjectWrite, 5, 0)
	b.AddOperation(0)
	b.AppendUint64(4) // declared write length
	b.AttachSend([]byte{0x41, 0x42, 0x43, 0x44})
	msg := b.Finalize()

	var buf bytes.Buffer
	_, err := msg.WriteTo(&buf)
	require.NoError(t, err)

	rd, err := ReadFrom(&buf)
	require.NoError(t, err)

	n, err := rd.Uint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), n)

	side, err := ReadSidePayload(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x41, 0x42, 0x43, 0x44}, side)
}
