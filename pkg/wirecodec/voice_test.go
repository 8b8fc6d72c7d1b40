package wirecodec

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomumble/gomumble/pkg/mumbleproto"
)

func TestMumbleVarintRoundTrip(t *testing.T) {
	testcases := []struct {
		Desc  string
		Value uint64
		Width int
	}{
		{Desc: "zero", Value: 0, Width: 1},
		{Desc: "seven bit max", Value: 0x7f, Width: 1},
		{Desc: "two byte min", Value: 0x80, Width: 2},
		{Desc: "two byte max", Value: 0x3fff, Width: 2},
		{Desc: "three byte min", Value: 0x4000, Width: 3},
		{Desc: "three byte max", Value: 0x1fffff, Width: 3},
		{Desc: "four byte min", Value: 0x200000, Width: 4},
		{Desc: "four byte max", Value: 0xfffffff, Width: 4},
		{Desc: "five byte min", Value: 0x10000000, Width: 5},
		{Desc: "five byte max", Value: 0xffffffff, Width: 5},
		{Desc: "nine byte", Value: 0x100000000, Width: 9},
		{Desc: "sixty four bit max", Value: 0xffffffffffffffff, Width: 9},
	}

	for _, tc := range testcases {
		t.Run(tc.Desc, func(t *testing.T) {
			buf := appendMumbleVarint(nil, tc.Value)
			require.Len(t, buf, tc.Width)

			v, n, err := readMumbleVarint(buf)
			require.NoError(t, err)
			assert.Equal(t, tc.Value, v)
			assert.Equal(t, tc.Width, n)
		})
	}
}

func TestMumbleVarintNegativeForms(t *testing.T) {
	// Inline two-bit negatives.
	v, n, err := readMumbleVarint([]byte{0xfd})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(-1), int64(v))

	// Prefixed negation of a positive varint.
	v, n, err = readMumbleVarint([]byte{0xf8, 0x05})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(-5), int64(v))
}

func TestMumbleVarintTruncated(t *testing.T) {
	testcases := [][]byte{
		{},
		{0x80},
		{0xc0, 0x01},
		{0xe0, 0x01, 0x02},
		{0xf0, 0x01, 0x02, 0x03},
		{0xf4, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07},
		{0xf8},
	}
	for _, buf := range testcases {
		_, _, err := readMumbleVarint(buf)
		assert.Error(t, err, "buf %x", buf)
	}
}

func TestDecodeVoicePacketOpus(t *testing.T) {
	// Header: opus (4) in the top three bits, target 2 in the bottom five.
	// Then source 10, sequence 5, a 3-byte terminal frame and a position.
	data := []byte{4<<5 | 2, 10, 5}
	data = appendMumbleVarint(data, 0x2000|3)
	data = append(data, 'a', 'b', 'c')
	data = append(data,
		0x3f, 0x80, 0x00, 0x00, // 1.0
		0x40, 0x00, 0x00, 0x00, // 2.0
		0x40, 0x40, 0x00, 0x00, // 3.0
	)

	pkt, err := DecodeVoicePacket(data, true)
	require.NoError(t, err)
	assert.Equal(t, mumbleproto.CodecOpus, pkt.Codec)
	assert.Equal(t, mumbleproto.Target(2), pkt.Target)
	assert.Equal(t, uint32(10), pkt.Source)
	assert.Equal(t, uint32(5), pkt.SeqNum)
	assert.True(t, pkt.End)
	require.Len(t, pkt.Frames, 1)
	assert.Equal(t, []byte("abc"), pkt.Frames[0])
	require.NotNil(t, pkt.Position)
	assert.Equal(t, float32(1), pkt.Position.X)
	assert.Equal(t, float32(2), pkt.Position.Y)
	assert.Equal(t, float32(3), pkt.Position.Z)
}

func TestDecodeVoicePacketCeltContinuation(t *testing.T) {
	data := []byte{0 << 5, 7, 3}        // celt-alpha, source 7, seq 3
	data = append(data, 0x82, 'x', 'y') // continued 2-byte frame
	data = append(data, 0x01, 'z')      // final 1-byte frame

	pkt, err := DecodeVoicePacket(data, true)
	require.NoError(t, err)
	assert.Equal(t, mumbleproto.CodecCeltAlpha, pkt.Codec)
	require.Len(t, pkt.Frames, 2)
	assert.Equal(t, []byte("xy"), pkt.Frames[0])
	assert.Equal(t, []byte("z"), pkt.Frames[1])
	assert.False(t, pkt.End)
}

func TestDecodeVoicePacketCeltTerminator(t *testing.T) {
	data := []byte{0 << 5, 7, 3}
	data = append(data, 0x81, 'x') // continued frame
	data = append(data, 0x00)      // zero length frame ends the burst

	pkt, err := DecodeVoicePacket(data, true)
	require.NoError(t, err)
	require.Len(t, pkt.Frames, 1)
	assert.True(t, pkt.End)
}

func TestDecodeVoicePing(t *testing.T) {
	data := []byte{1 << 5}
	data = appendMumbleVarint(data, 123456)

	pkt, err := DecodeVoicePacket(data, true)
	require.NoError(t, err)
	assert.Equal(t, mumbleproto.CodecPing, pkt.Codec)
	assert.Equal(t, uint32(123456), pkt.SeqNum)
}

func TestDecodeVoicePacketErrors(t *testing.T) {
	testcases := []struct {
		Desc string
		Data []byte
	}{
		{Desc: "empty", Data: nil},
		{Desc: "opus frame overruns", Data: append([]byte{4 << 5, 1, 0}, appendMumbleVarint(nil, 100)...)},
		{Desc: "celt missing header", Data: []byte{0 << 5, 1, 0}},
		{Desc: "celt frame overruns", Data: []byte{0 << 5, 1, 0, 0x05, 'a'}},
		{Desc: "ping with trailing bytes", Data: []byte{1 << 5, 0x01, 0xff}},
	}
	for _, tc := range testcases {
		t.Run(tc.Desc, func(t *testing.T) {
			_, err := DecodeVoicePacket(tc.Data, true)
			assert.Error(t, err)
		})
	}
}

func TestEncodeVoicePacketRoundTrip(t *testing.T) {
	pkt := &mumbleproto.VoicePacket{
		Codec:  mumbleproto.CodecOpus,
		Mode:   31, // loopback
		SeqNum: 4242,
		Frames: [][]byte{[]byte("opusdata")},
		Position: &mumbleproto.Position{
			X: 1.5, Y: -2.5, Z: 0,
		},
	}

	// Outgoing packets carry no source; decode accordingly.
	decoded, err := DecodeVoicePacket(EncodeVoicePacket(pkt), false)
	require.NoError(t, err)
	assert.Equal(t, pkt.Codec, decoded.Codec)
	assert.Equal(t, pkt.SeqNum, decoded.SeqNum)
	assert.Equal(t, pkt.Frames, decoded.Frames)
	assert.False(t, decoded.End)
	require.NotNil(t, decoded.Position)
	assert.Equal(t, pkt.Position.Y, decoded.Position.Y)
}

func TestEncodeVoicePacketEndFlag(t *testing.T) {
	pkt := &mumbleproto.VoicePacket{
		Codec:  mumbleproto.CodecOpus,
		SeqNum: 9,
		End:    true,
	}
	decoded, err := DecodeVoicePacket(EncodeVoicePacket(pkt), false)
	require.NoError(t, err)
	assert.True(t, decoded.End)
	assert.Empty(t, decoded.Frames)
}

func TestEncodeVoicePing(t *testing.T) {
	pkt := &mumbleproto.VoicePacket{Codec: mumbleproto.CodecPing, SeqNum: 77}
	decoded, err := DecodeVoicePacket(EncodeVoicePacket(pkt), false)
	require.NoError(t, err)
	assert.Equal(t, mumbleproto.CodecPing, decoded.Codec)
	assert.Equal(t, uint32(77), decoded.SeqNum)
}

// datagramConn returns one queued datagram per Read.
type datagramConn struct {
	in     [][]byte
	out    [][]byte
	closed bool
}

func (dc *datagramConn) Read(p []byte) (int, error) {
	if len(dc.in) == 0 {
		return 0, io.EOF
	}
	n := copy(p, dc.in[0])
	dc.in = dc.in[1:]
	return n, nil
}

func (dc *datagramConn) Write(p []byte) (int, error) {
	dc.out = append(dc.out, append([]byte(nil), p...))
	return len(p), nil
}

func (dc *datagramConn) Close() error {
	dc.closed = true
	return nil
}

func TestVoiceCodec(t *testing.T) {
	dc := &datagramConn{}
	vc := NewVoice(dc)

	require.NoError(t, vc.WritePacket(&mumbleproto.VoicePacket{
		Codec:  mumbleproto.CodecOpus,
		SeqNum: 1,
		Frames: [][]byte{[]byte("f")},
	}))
	require.Len(t, dc.out, 1)

	// Feed a server-form packet back in.
	incoming := []byte{4 << 5, 9, 1}
	incoming = appendMumbleVarint(incoming, 1)
	incoming = append(incoming, 'g')
	dc.in = append(dc.in, incoming)

	pkt, err := vc.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, uint32(9), pkt.Source)
	require.Len(t, pkt.Frames, 1)
	assert.Equal(t, []byte("g"), pkt.Frames[0])

	_, err = vc.ReadPacket()
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, vc.Close())
	assert.True(t, dc.closed)
}
