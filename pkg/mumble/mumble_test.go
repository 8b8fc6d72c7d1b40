package mumble

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gomumble/gomumble/pkg/mumbleproto"
)

// fakeConn is an in-memory data channel. Messages the client writes land
// on out; messages pushed to in are read by the client's read loop.
type fakeConn struct {
	in  chan mumbleproto.Message
	out chan mumbleproto.Message

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan mumbleproto.Message, 64),
		out:    make(chan mumbleproto.Message, 64),
		closed: make(chan struct{}),
	}
}

func (fc *fakeConn) ReadMessage() (mumbleproto.Message, error) {
	select {
	case msg := <-fc.in:
		return msg, nil
	case <-fc.closed:
		return nil, io.EOF
	}
}

func (fc *fakeConn) WriteMessage(msg mumbleproto.Message) error {
	select {
	case fc.out <- msg:
		return nil
	case <-fc.closed:
		return io.ErrClosedPipe
	}
}

func (fc *fakeConn) Close() error {
	fc.closeOnce.Do(func() { close(fc.closed) })
	return nil
}

// next returns the next message the client wrote, failing the test after
// a timeout.
func (fc *fakeConn) next(t *testing.T) mumbleproto.Message {
	t.Helper()
	select {
	case msg := <-fc.out:
		return msg
	case <-time.After(time.Second):
		t.Fatal("client wrote no message")
		return nil
	}
}

// expectNoWrite asserts that the client writes nothing for a short while.
func (fc *fakeConn) expectNoWrite(t *testing.T) {
	t.Helper()
	select {
	case msg := <-fc.out:
		t.Fatalf("unexpected %s written", msg.ProtoType())
	case <-time.After(20 * time.Millisecond):
	}
}

// connect runs the handshake against a fakeConn and returns the connected
// client. Any preSync messages are delivered before the ServerSync, which
// always announces session 1, a 72000 bit/s cap and a welcome text.
func connect(t *testing.T, cfg *Config, preSync ...mumbleproto.Message) (*Client, *fakeConn) {
	t.Helper()
	if cfg == nil {
		cfg = &Config{Username: "tester"}
	}
	c, err := New(cfg)
	require.NoError(t, err)
	fc := newFakeConn()

	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background(), fc) }()

	require.IsType(t, &mumbleproto.Version{}, fc.next(t))
	require.IsType(t, &mumbleproto.Authenticate{}, fc.next(t))

	for _, msg := range preSync {
		fc.in <- msg
	}
	session := uint32(1)
	bandwidth := uint32(72000)
	welcome := "welcome"
	fc.in <- &mumbleproto.ServerSync{
		Session:      &session,
		MaxBandwidth: &bandwidth,
		WelcomeText:  &welcome,
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("handshake did not complete")
	}

	t.Cleanup(func() { c.Disconnect() })
	return c, fc
}

// dispatchMsg runs a message through the real handler on the dispatch
// goroutine and waits for it to finish.
func dispatchMsg(t *testing.T, c *Client, msg mumbleproto.Message) {
	t.Helper()
	done := make(chan struct{})
	c.post(func() {
		c.dispatch(msg)
		close(done)
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher stalled")
	}
}

// dispatchVoice feeds a voice packet to the dispatcher as if it arrived on
// the voice channel.
func dispatchVoice(t *testing.T, c *Client, pkt *mumbleproto.VoicePacket) {
	t.Helper()
	done := make(chan struct{})
	c.post(func() {
		c.handleVoicePacket(pkt)
		close(done)
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher stalled")
	}
}

// onDispatcher runs f on the dispatch goroutine and waits for it.
func onDispatcher(t *testing.T, c *Client, f func()) {
	t.Helper()
	done := make(chan struct{})
	c.post(func() {
		f()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher stalled")
	}
}

func addUser(t *testing.T, c *Client, session uint32, name string) *User {
	t.Helper()
	dispatchMsg(t, c, &mumbleproto.UserState{Session: &session, Name: &name})
	u := c.UserBySession(session)
	require.NotNil(t, u)
	return u
}

func addChannel(t *testing.T, c *Client, id uint32, name string) *Channel {
	t.Helper()
	dispatchMsg(t, c, &mumbleproto.ChannelState{ChannelID: &id, Name: &name})
	ch := c.ChannelByID(id)
	require.NotNil(t, ch)
	return ch
}

// testCodec is an AudioCodec whose decoder echoes the first byte of each
// frame as a single sample, making decoded frames distinguishable from
// loss markers.
type testCodec struct{}

func (testCodec) CeltVersions() []int32 { return []int32{-2147483637} }
func (testCodec) Opus() bool            { return true }

func (testCodec) NewDecoder(u *User) FrameDecoder { return &testDecoder{} }

func (testCodec) NewEncoder(codec mumbleproto.Codec) FrameEncoder { return &testEncoder{} }

func (testCodec) FrameDuration(codec mumbleproto.Codec, frame []byte) time.Duration {
	return 10 * time.Millisecond
}

type testDecoder struct {
	closed bool
}

func (d *testDecoder) Decode(codec mumbleproto.Codec, frame []byte) ([]int16, error) {
	if len(frame) == 0 {
		return nil, nil
	}
	return []int16{int16(frame[0])}, nil
}

func (d *testDecoder) Close() error {
	d.closed = true
	return nil
}

type testEncoder struct {
	bitrate int
}

func (e *testEncoder) Encode(pcm []int16) ([][]byte, error) {
	frame := make([]byte, len(pcm))
	for i, s := range pcm {
		frame[i] = byte(s)
	}
	return [][]byte{frame}, nil
}

func (e *testEncoder) SetBitrate(bitsPerSecond int) { e.bitrate = bitsPerSecond }

func (e *testEncoder) Close() error { return nil }

// collectFrames drains a voice stream until it closes or the timeout
// expires.
func collectFrames(t *testing.T, s *VoiceStream, timeout time.Duration) []VoiceFrame {
	t.Helper()
	var frames []VoiceFrame
	deadline := time.After(timeout)
	for {
		select {
		case f, ok := <-s.Frames():
			if !ok {
				return frames
			}
			frames = append(frames, f)
		case <-deadline:
			t.Fatal("voice stream did not close")
			return nil
		}
	}
}
