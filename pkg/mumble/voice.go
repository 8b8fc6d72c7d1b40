package mumble

import (
	"fmt"
	"sync"

	"github.com/desertbit/timer"
	"github.com/gomumble/gomumble/pkg/mumbleproto"
)

// maxGapFrames bounds the number of loss markers injected for a single
// sequence gap. Larger gaps get this many markers and the burst continues
// on the same stream.
const maxGapFrames = 10

// frameUnit is the sequence-number granularity in milliseconds.
const frameUnit = 10

// VoiceFrame is one frame of a user's voice stream: either one decoded
// audio frame or a 10ms loss marker. A nil PCM slice marks a frame the
// network lost, or audio that could not be decoded (no codecs configured,
// decoder error); sinks may feed it to a concealment decoder or substitute
// silence.
type VoiceFrame struct {
	Target   mumbleproto.Target
	Codec    mumbleproto.Codec
	PCM      []int16
	Position *mumbleproto.Position
}

// VoiceStream is one contiguous talk burst of a single user. Frames
// arrive in playback order on Frames; the channel is closed when the
// burst ends, whether by an explicit terminator, idle timeout, the user
// leaving, or disconnect.
type VoiceStream struct {
	user   *User
	frames chan VoiceFrame

	endOnce sync.Once

	mu     sync.Mutex
	closed bool
}

func newVoiceStream(u *User) *VoiceStream {
	return &VoiceStream{
		user:   u,
		frames: make(chan VoiceFrame, 128),
	}
}

// User returns the speaking user.
func (s *VoiceStream) User() *User { return s.user }

// Frames returns the stream's frame channel. It is closed when the talk
// burst ends.
func (s *VoiceStream) Frames() <-chan VoiceFrame { return s.frames }

// Close detaches the consumer. Frames already buffered stay readable. The
// user's next packet ends this stream, closing Frames, and starts a fresh
// one.
func (s *VoiceStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *VoiceStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// push delivers a frame without ever blocking the dispatcher. A consumer
// that stops draining loses the oldest queued frame first.
func (s *VoiceStream) push(f VoiceFrame) {
	select {
	case s.frames <- f:
	default:
		select {
		case <-s.frames:
		default:
		}
		select {
		case s.frames <- f:
		default:
		}
	}
}

func (s *VoiceStream) end() {
	s.endOnce.Do(func() { close(s.frames) })
}

// applyVoicePacket folds an incoming voice packet into the user's
// reassembly state. Runs on the dispatch goroutine.
func (u *User) applyVoicePacket(pkt *mumbleproto.VoicePacket) {
	// A sink the embedder closed is gone; the next burst gets a fresh
	// one.
	if u.voice != nil && u.voice.isClosed() {
		u.endVoice()
	}

	late := u.voice != nil && u.hasLastSeq && u.lastSeq > pkt.SeqNum

	if len(pkt.Frames) > 0 && !late {
		duration := u.packetDuration(pkt)

		if u.voice == nil {
			u.voice = newVoiceStream(u)
			u.hasLastSeq = false
			u.client.fireVoiceStream(u.voice)
		}

		if u.hasLastSeq && int64(u.lastSeq) < int64(pkt.SeqNum)-int64(duration) {
			gap := int64(pkt.SeqNum) - int64(u.lastSeq) - 1
			if gap > maxGapFrames {
				gap = maxGapFrames
			}
			for i := int64(0); i < gap; i++ {
				u.voice.push(VoiceFrame{
					Target: pkt.Target,
					Codec:  pkt.Codec,
					PCM:    nil,
				})
			}
		}

		for _, frame := range pkt.Frames {
			pcm := u.decodeFrame(pkt.Codec, frame)
			u.voice.push(VoiceFrame{
				Target:   pkt.Target,
				Codec:    pkt.Codec,
				PCM:      pcm,
				Position: pkt.Position,
			})
		}

		u.resetIdleTimer()
		u.advanceSeq(pkt.SeqNum, duration)
	}

	if pkt.End && u.voice != nil {
		u.endVoice()
	}
}

// packetDuration returns the packet's length in 10ms sequence units.
func (u *User) packetDuration(pkt *mumbleproto.VoicePacket) uint32 {
	codecs := u.client.config.Codecs
	if codecs == nil || len(pkt.Frames) == 0 {
		n := uint32(len(pkt.Frames))
		if n == 0 {
			n = 1
		}
		return n
	}
	var total uint32
	for _, frame := range pkt.Frames {
		d := codecs.FrameDuration(pkt.Codec, frame)
		units := uint32(d.Milliseconds() / frameUnit)
		if units == 0 {
			units = 1
		}
		total += units
	}
	return total
}

func (u *User) decodeFrame(codec mumbleproto.Codec, frame []byte) []int16 {
	codecs := u.client.config.Codecs
	if codecs == nil {
		return nil
	}
	if u.decoder == nil {
		u.decoder = codecs.NewDecoder(u)
		if u.decoder == nil {
			u.client.fireUnknownCodec(codec)
			return nil
		}
	}
	pcm, err := u.decoder.Decode(codec, frame)
	if err != nil {
		logger.Debugf("decode failed for session %d: %s", u.session, err)
		return nil
	}
	return pcm
}

func (u *User) advanceSeq(seqNum, duration uint32) {
	u.lastSeq = seqNum + duration - 1
	u.hasLastSeq = true
}

// resetIdleTimer arms (or re-arms) the per-user voice idle timeout. The
// callback is funneled back onto the dispatch goroutine so it never
// races packet handling.
func (u *User) resetIdleTimer() {
	timeout := u.client.config.UserVoiceTimeout
	if u.idleTimer != nil {
		u.idleTimer.Reset(timeout)
		return
	}
	u.idleTimer = timer.AfterFunc(timeout, func() {
		u.client.post(func() {
			u.endVoice()
		})
	})
}

// endVoice terminates the current talk burst, if any. The decoder is
// per-transmission state, so it goes with the burst and the next one
// starts from a fresh decoder.
func (u *User) endVoice() {
	if u.idleTimer != nil {
		u.idleTimer.Stop()
		u.idleTimer = nil
	}
	if u.voice != nil {
		u.voice.end()
		u.voice = nil
	}
	if u.decoder != nil {
		if err := u.decoder.Close(); err != nil {
			logger.Debugf("decoder close for session %d: %s", u.session, err)
		}
		u.decoder = nil
	}
	u.hasLastSeq = false
}

// OutgoingVoiceStream encodes and transmits our own audio. Not safe for
// concurrent use; one stream per talk burst.
type OutgoingVoiceStream struct {
	client  *Client
	target  mumbleproto.Target
	encoder FrameEncoder
	seq     uint32
	closed  bool
}

// NewVoiceStream opens an outgoing talk burst aimed at the given voice
// target. Requires a configured codec set.
func (c *Client) NewVoiceStream(target mumbleproto.Target) (*OutgoingVoiceStream, error) {
	if c.config.Codecs == nil {
		return nil, fmt.Errorf("%w: no audio codecs configured", ErrConfig)
	}
	codec := mumbleproto.CodecOpus
	if !c.config.Codecs.Opus() {
		codec = mumbleproto.CodecCeltAlpha
	}
	enc := c.config.Codecs.NewEncoder(codec)
	if enc == nil {
		return nil, fmt.Errorf("%w: codec %s not supported for encoding", ErrConfig, codec)
	}
	enc.SetBitrate(c.ActualBitrate(c.config.SamplesPerPacket, false))
	return &OutgoingVoiceStream{
		client:  c,
		target:  target,
		encoder: enc,
	}, nil
}

// Write encodes a block of PCM samples and transmits the resulting
// packet, advancing the sequence counter by the packet's duration.
func (s *OutgoingVoiceStream) Write(pcm []int16, position *mumbleproto.Position) error {
	if s.closed {
		return ErrDisconnected
	}
	frames, err := s.encoder.Encode(pcm)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return nil
	}

	pkt := &mumbleproto.VoicePacket{
		SeqNum:   s.seq,
		Codec:    s.encoderCodec(),
		Target:   s.target,
		Frames:   frames,
		Position: position,
	}

	var duration uint32
	for _, frame := range frames {
		d := s.client.config.Codecs.FrameDuration(pkt.Codec, frame)
		units := uint32(d.Milliseconds() / frameUnit)
		if units == 0 {
			units = 1
		}
		duration += units
	}
	s.seq += duration

	return s.client.writeVoicePacket(pkt)
}

func (s *OutgoingVoiceStream) encoderCodec() mumbleproto.Codec {
	if s.client.config.Codecs.Opus() {
		return mumbleproto.CodecOpus
	}
	return mumbleproto.CodecCeltAlpha
}

// Close terminates the talk burst with an explicit end marker so remote
// clients stop waiting for more frames.
func (s *OutgoingVoiceStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	pkt := &mumbleproto.VoicePacket{
		SeqNum: s.seq,
		Codec:  s.encoderCodec(),
		Target: s.target,
		End:    true,
	}
	werr := s.client.writeVoicePacket(pkt)

	if err := s.encoder.Close(); err != nil {
		logger.Debugf("encoder close: %s", err)
	}
	if werr != nil {
		return werr
	}
	return nil
}
