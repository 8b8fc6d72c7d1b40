package mumble

import (
	"time"

	"github.com/gomumble/gomumble/pkg/mumbleproto"
)

// Conn is the control-message wire codec layered over the caller-supplied
// reliable data channel. The byte-level framing and (de)serialization live
// behind this interface; the client only exchanges typed messages.
//
// ReadMessage returns io.EOF when the peer closes the stream cleanly.
// Tags the codec does not understand decode to *mumbleproto.Unknown.
type Conn interface {
	ReadMessage() (mumbleproto.Message, error)
	WriteMessage(msg mumbleproto.Message) error
	Close() error
}

// VoiceConn frames voice packets over the caller-supplied unreliable voice
// channel.
type VoiceConn interface {
	ReadPacket() (*mumbleproto.VoicePacket, error)
	WritePacket(pkt *mumbleproto.VoicePacket) error
	Close() error
}

// AudioCodec is the adapter contract for per-transmission audio decode and
// encode. Implementations wrap the actual codec (Opus, CELT, Speex); the
// client never links a codec directly.
//
// Decoders and encoders must ignore unknown codecs rather than fail, and
// all calls are expected to be cheap and non-blocking.
type AudioCodec interface {
	// CeltVersions lists the CELT bitstream versions supported, reported
	// in the Authenticate message.
	CeltVersions() []int32
	// Opus reports Opus support, reported in the Authenticate message.
	Opus() bool
	// NewDecoder creates a fresh decoder for one transmission of the
	// given user.
	NewDecoder(u *User) FrameDecoder
	// NewEncoder creates an encoder producing frames of the given codec.
	NewEncoder(codec mumbleproto.Codec) FrameEncoder
	// FrameDuration reports the duration of an encoded frame. The result
	// is always a multiple of 10ms.
	FrameDuration(codec mumbleproto.Codec, frame []byte) time.Duration
}

// FrameDecoder decodes the encoded frames of a single transmission.
// A nil frame asks the decoder for loss concealment output.
type FrameDecoder interface {
	Decode(codec mumbleproto.Codec, frame []byte) ([]int16, error)
	Close() error
}

// FrameEncoder turns PCM into encoded frames. Encode may buffer; any
// number of complete frames (possibly zero) is returned per call.
type FrameEncoder interface {
	Encode(pcm []int16) ([][]byte, error)
	SetBitrate(bitsPerSecond int)
	Close() error
}
