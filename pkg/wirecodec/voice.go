package wirecodec

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/gomumble/gomumble/pkg/mumbleproto"
)

// Voice packets use Mumble's own variable-length integers, not the
// protobuf encoding. The first byte selects the width.

func readMumbleVarint(buf []byte) (uint64, int, error) {
	if len(buf) == 0 {
		return 0, 0, fmt.Errorf("truncated varint")
	}
	b := buf[0]
	switch {
	case b&0x80 == 0:
		return uint64(b), 1, nil
	case b&0xc0 == 0x80:
		if len(buf) < 2 {
			return 0, 0, fmt.Errorf("truncated varint")
		}
		return uint64(b&0x3f)<<8 | uint64(buf[1]), 2, nil
	case b&0xe0 == 0xc0:
		if len(buf) < 3 {
			return 0, 0, fmt.Errorf("truncated varint")
		}
		return uint64(b&0x1f)<<16 | uint64(buf[1])<<8 | uint64(buf[2]), 3, nil
	case b&0xf0 == 0xe0:
		if len(buf) < 4 {
			return 0, 0, fmt.Errorf("truncated varint")
		}
		return uint64(b&0x0f)<<24 | uint64(buf[1])<<16 | uint64(buf[2])<<8 | uint64(buf[3]), 4, nil
	case b&0xfc == 0xf0:
		if len(buf) < 5 {
			return 0, 0, fmt.Errorf("truncated varint")
		}
		return uint64(binary.BigEndian.Uint32(buf[1:5])), 5, nil
	case b&0xfc == 0xf4:
		if len(buf) < 9 {
			return 0, 0, fmt.Errorf("truncated varint")
		}
		return binary.BigEndian.Uint64(buf[1:9]), 9, nil
	case b&0xfc == 0xf8:
		v, n, err := readMumbleVarint(buf[1:])
		if err != nil {
			return 0, 0, err
		}
		return uint64(-int64(v)), n + 1, nil
	default:
		// 0xfc..0xff: negative two-bit inline value.
		return uint64(-int64(b & 0x03)), 1, nil
	}
}

func appendMumbleVarint(buf []byte, v uint64) []byte {
	switch {
	case v < 0x80:
		return append(buf, byte(v))
	case v < 0x4000:
		return append(buf, byte(v>>8)|0x80, byte(v))
	case v < 0x200000:
		return append(buf, byte(v>>16)|0xc0, byte(v>>8), byte(v))
	case v < 0x10000000:
		return append(buf, byte(v>>24)|0xe0, byte(v>>16), byte(v>>8), byte(v))
	case v <= math.MaxUint32:
		buf = append(buf, 0xf0)
		return binary.BigEndian.AppendUint32(buf, uint32(v))
	default:
		buf = append(buf, 0xf4)
		return binary.BigEndian.AppendUint64(buf, v)
	}
}

// DecodeVoicePacket parses one voice datagram. Packets from the server
// carry the speaker's session between the header byte and the sequence
// number; packets we build for sending do not.
func DecodeVoicePacket(data []byte, fromServer bool) (*mumbleproto.VoicePacket, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty voice packet")
	}

	pkt := &mumbleproto.VoicePacket{
		Codec:  mumbleproto.Codec(data[0] >> 5),
		Target: mumbleproto.Target(data[0] & 0x1f),
		Mode:   data[0] & 0x1f,
	}
	data = data[1:]

	if pkt.Codec == mumbleproto.CodecPing {
		ts, n, err := readMumbleVarint(data)
		if err != nil {
			return nil, err
		}
		pkt.SeqNum = uint32(ts)
		data = data[n:]
		if len(data) != 0 {
			return nil, fmt.Errorf("%d trailing bytes after voice ping", len(data))
		}
		return pkt, nil
	}

	if fromServer {
		source, n, err := readMumbleVarint(data)
		if err != nil {
			return nil, err
		}
		pkt.Source = uint32(source)
		data = data[n:]
	}

	seq, n, err := readMumbleVarint(data)
	if err != nil {
		return nil, err
	}
	pkt.SeqNum = uint32(seq)
	data = data[n:]

	switch pkt.Codec {
	case mumbleproto.CodecOpus:
		size, n, err := readMumbleVarint(data)
		if err != nil {
			return nil, err
		}
		data = data[n:]
		pkt.End = size&0x2000 != 0
		size &= 0x1fff
		if size > uint64(len(data)) {
			return nil, fmt.Errorf("opus frame of %d bytes, %d left", size, len(data))
		}
		if size > 0 {
			pkt.Frames = append(pkt.Frames, data[:size])
		}
		data = data[size:]
	default:
		// CELT and Speex frames: one header byte per frame, the high
		// bit marks a continuation.
		for {
			if len(data) == 0 {
				return nil, fmt.Errorf("missing audio frame header")
			}
			header := data[0]
			data = data[1:]
			size := int(header & 0x7f)
			if size > len(data) {
				return nil, fmt.Errorf("audio frame of %d bytes, %d left", size, len(data))
			}
			if size > 0 {
				pkt.Frames = append(pkt.Frames, data[:size])
			} else {
				pkt.End = true
			}
			data = data[size:]
			if header&0x80 == 0 {
				break
			}
		}
	}

	if len(data) >= 12 {
		pkt.Position = &mumbleproto.Position{
			X: math.Float32frombits(binary.BigEndian.Uint32(data[0:])),
			Y: math.Float32frombits(binary.BigEndian.Uint32(data[4:])),
			Z: math.Float32frombits(binary.BigEndian.Uint32(data[8:])),
		}
	}

	return pkt, nil
}

// EncodeVoicePacket builds the outgoing form of a voice datagram (no
// source session; the server stamps it on relay).
func EncodeVoicePacket(pkt *mumbleproto.VoicePacket) []byte {
	buf := []byte{byte(pkt.Codec)<<5 | pkt.Mode&0x1f}

	if pkt.Codec == mumbleproto.CodecPing {
		return appendMumbleVarint(buf, uint64(pkt.SeqNum))
	}

	buf = appendMumbleVarint(buf, uint64(pkt.SeqNum))

	switch pkt.Codec {
	case mumbleproto.CodecOpus:
		var frame []byte
		if len(pkt.Frames) > 0 {
			frame = pkt.Frames[0]
		}
		size := uint64(len(frame)) & 0x1fff
		if pkt.End {
			size |= 0x2000
		}
		buf = appendMumbleVarint(buf, size)
		buf = append(buf, frame...)
	default:
		for i, frame := range pkt.Frames {
			header := byte(len(frame)) & 0x7f
			if i < len(pkt.Frames)-1 || pkt.End {
				header |= 0x80
			}
			buf = append(buf, header)
			buf = append(buf, frame...)
		}
		if pkt.End {
			buf = append(buf, 0)
		}
	}

	if pkt.Position != nil {
		buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(pkt.Position.X))
		buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(pkt.Position.Y))
		buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(pkt.Position.Z))
	}

	return buf
}

// maxDatagram is the largest voice datagram Mumble servers accept.
const maxDatagram = 1024

// VoiceCodec frames voice packets over an unreliable datagram stream:
// each Read from the underlying connection must return one complete
// datagram. It implements the voice-channel contract of pkg/mumble.
type VoiceCodec struct {
	rwc io.ReadWriteCloser

	writeMu sync.Mutex
}

// NewVoice wraps a connected datagram stream.
func NewVoice(rwc io.ReadWriteCloser) *VoiceCodec {
	return &VoiceCodec{rwc: rwc}
}

// ReadPacket reads and decodes the next voice datagram.
func (c *VoiceCodec) ReadPacket() (*mumbleproto.VoicePacket, error) {
	buf := make([]byte, maxDatagram)
	n, err := c.rwc.Read(buf)
	if err != nil {
		return nil, err
	}
	return DecodeVoicePacket(buf[:n], true)
}

// WritePacket encodes and sends one voice datagram.
func (c *VoiceCodec) WritePacket(pkt *mumbleproto.VoicePacket) error {
	data := EncodeVoicePacket(pkt)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.rwc.Write(data)
	return err
}

// Close closes the underlying connection.
func (c *VoiceCodec) Close() error {
	return c.rwc.Close()
}
