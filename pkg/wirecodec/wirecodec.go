// Package wirecodec implements the byte-level Mumble control framing:
// a 6-byte big-endian header (message type, payload length) followed by
// a proto2 payload. It turns a reliable byte stream into the typed
// messages of pkg/mumbleproto and back.
package wirecodec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/gomumble/gomumble/pkg/mumbleproto"
)

// maxPayload bounds a single control message. The server never sends
// more than a few megabytes (textures), so anything larger is a framing
// error.
const maxPayload = 8 << 20

// Codec frames control messages over a reliable byte stream. It
// implements the data-channel contract of pkg/mumble.
type Codec struct {
	rwc io.ReadWriteCloser
	br  *bufio.Reader

	writeMu sync.Mutex
}

// New wraps a connected byte stream.
func New(rwc io.ReadWriteCloser) *Codec {
	return &Codec{rwc: rwc, br: bufio.NewReader(rwc)}
}

// Close closes the underlying stream.
func (c *Codec) Close() error {
	return c.rwc.Close()
}

// ReadMessage reads and decodes the next control message. Tags without
// a decoder come back as *mumbleproto.Unknown.
func (c *Codec) ReadMessage() (mumbleproto.Message, error) {
	var header [6]byte
	if _, err := io.ReadFull(c.br, header[:]); err != nil {
		return nil, err
	}
	tag := mumbleproto.Type(binary.BigEndian.Uint16(header[0:]))
	length := binary.BigEndian.Uint32(header[2:])
	if length > maxPayload {
		return nil, fmt.Errorf("message %s payload of %d bytes exceeds limit", tag, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(c.br, payload); err != nil {
		return nil, err
	}

	msg, err := decodePayload(tag, payload)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", tag, err)
	}
	return msg, nil
}

// WriteMessage encodes and frames one control message.
func (c *Codec) WriteMessage(msg mumbleproto.Message) error {
	payload, err := encodePayload(msg)
	if err != nil {
		return err
	}

	var header [6]byte
	binary.BigEndian.PutUint16(header[0:], uint16(msg.ProtoType()))
	binary.BigEndian.PutUint32(header[2:], uint32(len(payload)))

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.rwc.Write(header[:]); err != nil {
		return err
	}
	_, err = c.rwc.Write(payload)
	return err
}

func decodePayload(tag mumbleproto.Type, payload []byte) (mumbleproto.Message, error) {
	switch tag {
	case mumbleproto.TypeVersion:
		return decodeVersion(payload)
	case mumbleproto.TypeUDPTunnel:
		pkt, err := DecodeVoicePacket(payload, true)
		if err != nil {
			return nil, err
		}
		return &mumbleproto.UDPTunnel{Packet: pkt}, nil
	case mumbleproto.TypePing:
		return decodePing(payload)
	case mumbleproto.TypeReject:
		return decodeReject(payload)
	case mumbleproto.TypeServerSync:
		return decodeServerSync(payload)
	case mumbleproto.TypeChannelRemove:
		return decodeChannelRemove(payload)
	case mumbleproto.TypeChannelState:
		return decodeChannelState(payload)
	case mumbleproto.TypeUserRemove:
		return decodeUserRemove(payload)
	case mumbleproto.TypeUserState:
		return decodeUserState(payload)
	case mumbleproto.TypeTextMessage:
		return decodeTextMessage(payload)
	case mumbleproto.TypePermissionDenied:
		return decodePermissionDenied(payload)
	default:
		return &mumbleproto.Unknown{Tag: tag, Payload: payload}, nil
	}
}

func encodePayload(msg mumbleproto.Message) ([]byte, error) {
	switch m := msg.(type) {
	case *mumbleproto.Version:
		return encodeVersion(m), nil
	case *mumbleproto.Authenticate:
		return encodeAuthenticate(m), nil
	case *mumbleproto.Ping:
		return encodePing(m), nil
	case *mumbleproto.UserState:
		return encodeUserState(m), nil
	case *mumbleproto.UserRemove:
		return encodeUserRemove(m), nil
	case *mumbleproto.ChannelState:
		return encodeChannelState(m), nil
	case *mumbleproto.ChannelRemove:
		return encodeChannelRemove(m), nil
	case *mumbleproto.TextMessage:
		return encodeTextMessage(m), nil
	case *mumbleproto.RequestBlob:
		return encodeRequestBlob(m), nil
	case *mumbleproto.UDPTunnel:
		return EncodeVoicePacket(m.Packet), nil
	case *mumbleproto.Unknown:
		return m.Payload, nil
	default:
		return nil, fmt.Errorf("no encoder for message %s", msg.ProtoType())
	}
}

func decodeVersion(payload []byte) (*mumbleproto.Version, error) {
	msg := &mumbleproto.Version{}
	r := protoReader{buf: payload}
	for r.more() {
		field, wire, err := r.readKey()
		if err != nil {
			return nil, err
		}
		switch field {
		case 1:
			v, err := r.readVarint()
			if err != nil {
				return nil, err
			}
			u := uint32(v)
			msg.Version = &u
		case 2:
			s, err := r.readString()
			if err != nil {
				return nil, err
			}
			msg.Release = &s
		case 3:
			s, err := r.readString()
			if err != nil {
				return nil, err
			}
			msg.OS = &s
		case 4:
			s, err := r.readString()
			if err != nil {
				return nil, err
			}
			msg.OSVersion = &s
		default:
			if err := r.skip(wire); err != nil {
				return nil, err
			}
		}
	}
	return msg, nil
}

func encodeVersion(msg *mumbleproto.Version) []byte {
	var w protoWriter
	if msg.Version != nil {
		w.uint32Field(1, *msg.Version)
	}
	if msg.Release != nil {
		w.stringField(2, *msg.Release)
	}
	if msg.OS != nil {
		w.stringField(3, *msg.OS)
	}
	if msg.OSVersion != nil {
		w.stringField(4, *msg.OSVersion)
	}
	return w.buf
}

func encodeAuthenticate(msg *mumbleproto.Authenticate) []byte {
	var w protoWriter
	if msg.Username != nil {
		w.stringField(1, *msg.Username)
	}
	if msg.Password != nil {
		w.stringField(2, *msg.Password)
	}
	for _, token := range msg.Tokens {
		w.stringField(3, token)
	}
	for _, v := range msg.CeltVersions {
		w.int32Field(4, v)
	}
	if msg.Opus != nil {
		w.boolField(5, *msg.Opus)
	}
	return w.buf
}

func decodePing(payload []byte) (*mumbleproto.Ping, error) {
	msg := &mumbleproto.Ping{}
	r := protoReader{buf: payload}
	for r.more() {
		field, wire, err := r.readKey()
		if err != nil {
			return nil, err
		}
		switch field {
		case 1:
			v, err := r.readVarint()
			if err != nil {
				return nil, err
			}
			msg.Timestamp = &v
		case 2, 3, 4, 5, 6, 7:
			v, err := r.readVarint()
			if err != nil {
				return nil, err
			}
			u := uint32(v)
			switch field {
			case 2:
				msg.Good = &u
			case 3:
				msg.Late = &u
			case 4:
				msg.Lost = &u
			case 5:
				msg.Resync = &u
			case 6:
				msg.UDPPackets = &u
			case 7:
				msg.TCPPackets = &u
			}
		case 8, 9, 10, 11:
			f, err := r.readFloat()
			if err != nil {
				return nil, err
			}
			switch field {
			case 8:
				msg.UDPPingAvg = &f
			case 9:
				msg.UDPPingVar = &f
			case 10:
				msg.TCPPingAvg = &f
			case 11:
				msg.TCPPingVar = &f
			}
		default:
			if err := r.skip(wire); err != nil {
				return nil, err
			}
		}
	}
	return msg, nil
}

func encodePing(msg *mumbleproto.Ping) []byte {
	var w protoWriter
	if msg.Timestamp != nil {
		w.uint64Field(1, *msg.Timestamp)
	}
	if msg.Good != nil {
		w.uint32Field(2, *msg.Good)
	}
	if msg.Late != nil {
		w.uint32Field(3, *msg.Late)
	}
	if msg.Lost != nil {
		w.uint32Field(4, *msg.Lost)
	}
	if msg.Resync != nil {
		w.uint32Field(5, *msg.Resync)
	}
	if msg.UDPPackets != nil {
		w.uint32Field(6, *msg.UDPPackets)
	}
	if msg.TCPPackets != nil {
		w.uint32Field(7, *msg.TCPPackets)
	}
	if msg.UDPPingAvg != nil {
		w.floatField(8, *msg.UDPPingAvg)
	}
	if msg.UDPPingVar != nil {
		w.floatField(9, *msg.UDPPingVar)
	}
	if msg.TCPPingAvg != nil {
		w.floatField(10, *msg.TCPPingAvg)
	}
	if msg.TCPPingVar != nil {
		w.floatField(11, *msg.TCPPingVar)
	}
	return w.buf
}

func decodeReject(payload []byte) (*mumbleproto.Reject, error) {
	msg := &mumbleproto.Reject{}
	r := protoReader{buf: payload}
	for r.more() {
		field, wire, err := r.readKey()
		if err != nil {
			return nil, err
		}
		switch field {
		case 1:
			v, err := r.readVarint()
			if err != nil {
				return nil, err
			}
			t := mumbleproto.RejectType(v)
			msg.Type = &t
		case 2:
			s, err := r.readString()
			if err != nil {
				return nil, err
			}
			msg.Reason = &s
		default:
			if err := r.skip(wire); err != nil {
				return nil, err
			}
		}
	}
	return msg, nil
}

func decodeServerSync(payload []byte) (*mumbleproto.ServerSync, error) {
	msg := &mumbleproto.ServerSync{}
	r := protoReader{buf: payload}
	for r.more() {
		field, wire, err := r.readKey()
		if err != nil {
			return nil, err
		}
		switch field {
		case 1:
			v, err := r.readVarint()
			if err != nil {
				return nil, err
			}
			u := uint32(v)
			msg.Session = &u
		case 2:
			v, err := r.readVarint()
			if err != nil {
				return nil, err
			}
			u := uint32(v)
			msg.MaxBandwidth = &u
		case 3:
			s, err := r.readString()
			if err != nil {
				return nil, err
			}
			msg.WelcomeText = &s
		case 4:
			v, err := r.readVarint()
			if err != nil {
				return nil, err
			}
			msg.Permissions = &v
		default:
			if err := r.skip(wire); err != nil {
				return nil, err
			}
		}
	}
	return msg, nil
}

func decodeChannelRemove(payload []byte) (*mumbleproto.ChannelRemove, error) {
	msg := &mumbleproto.ChannelRemove{}
	r := protoReader{buf: payload}
	for r.more() {
		field, wire, err := r.readKey()
		if err != nil {
			return nil, err
		}
		if field == 1 {
			v, err := r.readVarint()
			if err != nil {
				return nil, err
			}
			u := uint32(v)
			msg.ChannelID = &u
			continue
		}
		if err := r.skip(wire); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

func encodeChannelRemove(msg *mumbleproto.ChannelRemove) []byte {
	var w protoWriter
	if msg.ChannelID != nil {
		w.uint32Field(1, *msg.ChannelID)
	}
	return w.buf
}

func decodeChannelState(payload []byte) (*mumbleproto.ChannelState, error) {
	msg := &mumbleproto.ChannelState{}
	r := protoReader{buf: payload}
	for r.more() {
		field, wire, err := r.readKey()
		if err != nil {
			return nil, err
		}
		switch field {
		case 1, 2:
			v, err := r.readVarint()
			if err != nil {
				return nil, err
			}
			u := uint32(v)
			if field == 1 {
				msg.ChannelID = &u
			} else {
				msg.Parent = &u
			}
		case 3:
			s, err := r.readString()
			if err != nil {
				return nil, err
			}
			msg.Name = &s
		case 4:
			msg.Links, err = r.readUint32s(wire, msg.Links)
			if err != nil {
				return nil, err
			}
		case 5:
			s, err := r.readString()
			if err != nil {
				return nil, err
			}
			msg.Description = &s
		case 6:
			msg.LinksAdd, err = r.readUint32s(wire, msg.LinksAdd)
			if err != nil {
				return nil, err
			}
		case 7:
			msg.LinksRemove, err = r.readUint32s(wire, msg.LinksRemove)
			if err != nil {
				return nil, err
			}
		case 8:
			b, err := r.readBool()
			if err != nil {
				return nil, err
			}
			msg.Temporary = &b
		case 9:
			v, err := r.readVarint()
			if err != nil {
				return nil, err
			}
			p := int32(v)
			msg.Position = &p
		case 10:
			b, err := r.readBytes()
			if err != nil {
				return nil, err
			}
			msg.DescriptionHash = append([]byte(nil), b...)
		case 11:
			v, err := r.readVarint()
			if err != nil {
				return nil, err
			}
			u := uint32(v)
			msg.MaxUsers = &u
		default:
			if err := r.skip(wire); err != nil {
				return nil, err
			}
		}
	}
	return msg, nil
}

func encodeChannelState(msg *mumbleproto.ChannelState) []byte {
	var w protoWriter
	if msg.ChannelID != nil {
		w.uint32Field(1, *msg.ChannelID)
	}
	if msg.Parent != nil {
		w.uint32Field(2, *msg.Parent)
	}
	if msg.Name != nil {
		w.stringField(3, *msg.Name)
	}
	for _, id := range msg.Links {
		w.uint32Field(4, id)
	}
	if msg.Description != nil {
		w.stringField(5, *msg.Description)
	}
	for _, id := range msg.LinksAdd {
		w.uint32Field(6, id)
	}
	for _, id := range msg.LinksRemove {
		w.uint32Field(7, id)
	}
	if msg.Temporary != nil {
		w.boolField(8, *msg.Temporary)
	}
	if msg.Position != nil {
		w.int32Field(9, *msg.Position)
	}
	if msg.MaxUsers != nil {
		w.uint32Field(11, *msg.MaxUsers)
	}
	return w.buf
}

func decodeUserRemove(payload []byte) (*mumbleproto.UserRemove, error) {
	msg := &mumbleproto.UserRemove{}
	r := protoReader{buf: payload}
	for r.more() {
		field, wire, err := r.readKey()
		if err != nil {
			return nil, err
		}
		switch field {
		case 1, 2:
			v, err := r.readVarint()
			if err != nil {
				return nil, err
			}
			u := uint32(v)
			if field == 1 {
				msg.Session = &u
			} else {
				msg.Actor = &u
			}
		case 3:
			s, err := r.readString()
			if err != nil {
				return nil, err
			}
			msg.Reason = &s
		case 4:
			b, err := r.readBool()
			if err != nil {
				return nil, err
			}
			msg.Ban = &b
		default:
			if err := r.skip(wire); err != nil {
				return nil, err
			}
		}
	}
	return msg, nil
}

func encodeUserRemove(msg *mumbleproto.UserRemove) []byte {
	var w protoWriter
	if msg.Session != nil {
		w.uint32Field(1, *msg.Session)
	}
	if msg.Actor != nil {
		w.uint32Field(2, *msg.Actor)
	}
	if msg.Reason != nil {
		w.stringField(3, *msg.Reason)
	}
	if msg.Ban != nil {
		w.boolField(4, *msg.Ban)
	}
	return w.buf
}

func decodeUserState(payload []byte) (*mumbleproto.UserState, error) {
	msg := &mumbleproto.UserState{}
	r := protoReader{buf: payload}
	for r.more() {
		field, wire, err := r.readKey()
		if err != nil {
			return nil, err
		}
		switch field {
		case 1, 2, 4, 5:
			v, err := r.readVarint()
			if err != nil {
				return nil, err
			}
			u := uint32(v)
			switch field {
			case 1:
				msg.Session = &u
			case 2:
				msg.Actor = &u
			case 4:
				msg.UserID = &u
			case 5:
				msg.ChannelID = &u
			}
		case 3:
			s, err := r.readString()
			if err != nil {
				return nil, err
			}
			msg.Name = &s
		case 6, 7, 8, 9, 10, 18, 19:
			b, err := r.readBool()
			if err != nil {
				return nil, err
			}
			switch field {
			case 6:
				msg.Mute = &b
			case 7:
				msg.Deaf = &b
			case 8:
				msg.Suppress = &b
			case 9:
				msg.SelfMute = &b
			case 10:
				msg.SelfDeaf = &b
			case 18:
				msg.PrioritySpeaker = &b
			case 19:
				msg.Recording = &b
			}
		case 11, 12, 16, 17:
			b, err := r.readBytes()
			if err != nil {
				return nil, err
			}
			dup := append([]byte(nil), b...)
			switch field {
			case 11:
				msg.Texture = dup
			case 12:
				msg.PluginContext = dup
			case 16:
				msg.CommentHash = dup
			case 17:
				msg.TextureHash = dup
			}
		case 13, 14, 15:
			s, err := r.readString()
			if err != nil {
				return nil, err
			}
			switch field {
			case 13:
				msg.PluginIdentity = &s
			case 14:
				msg.Comment = &s
			case 15:
				msg.Hash = &s
			}
		default:
			if err := r.skip(wire); err != nil {
				return nil, err
			}
		}
	}
	return msg, nil
}

func encodeUserState(msg *mumbleproto.UserState) []byte {
	var w protoWriter
	if msg.Session != nil {
		w.uint32Field(1, *msg.Session)
	}
	if msg.Actor != nil {
		w.uint32Field(2, *msg.Actor)
	}
	if msg.Name != nil {
		w.stringField(3, *msg.Name)
	}
	if msg.UserID != nil {
		w.uint32Field(4, *msg.UserID)
	}
	if msg.ChannelID != nil {
		w.uint32Field(5, *msg.ChannelID)
	}
	if msg.Mute != nil {
		w.boolField(6, *msg.Mute)
	}
	if msg.Deaf != nil {
		w.boolField(7, *msg.Deaf)
	}
	if msg.Suppress != nil {
		w.boolField(8, *msg.Suppress)
	}
	if msg.SelfMute != nil {
		w.boolField(9, *msg.SelfMute)
	}
	if msg.SelfDeaf != nil {
		w.boolField(10, *msg.SelfDeaf)
	}
	if msg.Texture != nil {
		w.bytesField(11, msg.Texture)
	}
	if msg.PluginContext != nil {
		w.bytesField(12, msg.PluginContext)
	}
	if msg.PluginIdentity != nil {
		w.stringField(13, *msg.PluginIdentity)
	}
	if msg.Comment != nil {
		w.stringField(14, *msg.Comment)
	}
	if msg.Recording != nil {
		w.boolField(19, *msg.Recording)
	}
	return w.buf
}

func decodeTextMessage(payload []byte) (*mumbleproto.TextMessage, error) {
	msg := &mumbleproto.TextMessage{}
	r := protoReader{buf: payload}
	for r.more() {
		field, wire, err := r.readKey()
		if err != nil {
			return nil, err
		}
		switch field {
		case 1:
			v, err := r.readVarint()
			if err != nil {
				return nil, err
			}
			u := uint32(v)
			msg.Actor = &u
		case 2:
			msg.Session, err = r.readUint32s(wire, msg.Session)
			if err != nil {
				return nil, err
			}
		case 3:
			msg.ChannelID, err = r.readUint32s(wire, msg.ChannelID)
			if err != nil {
				return nil, err
			}
		case 4:
			msg.TreeID, err = r.readUint32s(wire, msg.TreeID)
			if err != nil {
				return nil, err
			}
		case 5:
			s, err := r.readString()
			if err != nil {
				return nil, err
			}
			msg.Message = &s
		default:
			if err := r.skip(wire); err != nil {
				return nil, err
			}
		}
	}
	return msg, nil
}

func encodeTextMessage(msg *mumbleproto.TextMessage) []byte {
	var w protoWriter
	for _, session := range msg.Session {
		w.uint32Field(2, session)
	}
	for _, id := range msg.ChannelID {
		w.uint32Field(3, id)
	}
	for _, id := range msg.TreeID {
		w.uint32Field(4, id)
	}
	if msg.Message != nil {
		w.stringField(5, *msg.Message)
	}
	return w.buf
}

func decodePermissionDenied(payload []byte) (*mumbleproto.PermissionDenied, error) {
	msg := &mumbleproto.PermissionDenied{}
	r := protoReader{buf: payload}
	for r.more() {
		field, wire, err := r.readKey()
		if err != nil {
			return nil, err
		}
		switch field {
		case 1, 2, 3:
			v, err := r.readVarint()
			if err != nil {
				return nil, err
			}
			u := uint32(v)
			switch field {
			case 1:
				msg.Permission = &u
			case 2:
				msg.ChannelID = &u
			case 3:
				msg.Session = &u
			}
		case 4:
			s, err := r.readString()
			if err != nil {
				return nil, err
			}
			msg.Reason = &s
		case 5:
			v, err := r.readVarint()
			if err != nil {
				return nil, err
			}
			t := mumbleproto.DenyType(v)
			msg.Type = &t
		case 6:
			s, err := r.readString()
			if err != nil {
				return nil, err
			}
			msg.Name = &s
		default:
			if err := r.skip(wire); err != nil {
				return nil, err
			}
		}
	}
	return msg, nil
}

func encodeRequestBlob(msg *mumbleproto.RequestBlob) []byte {
	var w protoWriter
	for _, session := range msg.SessionTexture {
		w.uint32Field(1, session)
	}
	for _, session := range msg.SessionComment {
		w.uint32Field(2, session)
	}
	for _, id := range msg.ChannelDescription {
		w.uint32Field(3, id)
	}
	return w.buf
}
