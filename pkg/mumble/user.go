package mumble

import (
	"bytes"

	"github.com/desertbit/timer"
	"github.com/gomumble/gomumble/pkg/mumbleproto"
)

// User is a connected user as reported by the server. All attributes are
// owned by the server: they are mutated only by the dispatcher applying
// UserState messages, never by the embedder. The Set* methods are command
// helpers that emit messages; the authoritative update arrives back from
// the server.
type User struct {
	client *Client

	session   uint32
	name      string
	userID    *uint32
	channelID uint32

	mute            bool
	deaf            bool
	suppress        bool
	selfMute        bool
	selfDeaf        bool
	prioritySpeaker bool
	recording       bool

	texture     []byte
	textureHash []byte
	comment     string
	commentHash []byte
	certHash    string

	pluginContext  []byte
	pluginIdentity string

	// voice reassembly state, see voice.go
	voice      *VoiceStream
	decoder    FrameDecoder
	idleTimer  *timer.Timer
	lastSeq    uint32
	hasLastSeq bool
}

func newUser(c *Client, session uint32) *User {
	return &User{client: c, session: session}
}

// Session returns the server-assigned transient session id.
func (u *User) Session() uint32 { return u.session }

// Name returns the username.
func (u *User) Name() string { return u.name }

// IsRegistered reports whether the user is registered with the server.
func (u *User) IsRegistered() bool { return u.userID != nil }

// UserID returns the stable id of a registered user, or 0 if the user is
// not registered.
func (u *User) UserID() uint32 {
	if u.userID == nil {
		return 0
	}
	return *u.userID
}

// Channel returns the channel the user is in, or nil if the channel is
// not (yet) known to the client.
func (u *User) Channel() *Channel { return u.client.ChannelByID(u.channelID) }

// ChannelID returns the id of the channel the user is in.
func (u *User) ChannelID() uint32 { return u.channelID }

func (u *User) Muted() bool           { return u.mute }
func (u *User) Deafened() bool        { return u.deaf }
func (u *User) Suppressed() bool      { return u.suppress }
func (u *User) SelfMuted() bool       { return u.selfMute }
func (u *User) SelfDeafened() bool    { return u.selfDeaf }
func (u *User) PrioritySpeaker() bool { return u.prioritySpeaker }
func (u *User) Recording() bool       { return u.recording }

func (u *User) Texture() []byte     { return u.texture }
func (u *User) TextureHash() []byte { return u.textureHash }
func (u *User) Comment() string     { return u.comment }
func (u *User) CommentHash() []byte { return u.commentHash }
func (u *User) CertHash() string    { return u.certHash }

// apply folds a UserState message into the user and returns the set of
// attributes the message carried.
func (u *User) apply(msg *mumbleproto.UserState) UserChange {
	var changes UserChange

	if msg.Name != nil {
		u.name = *msg.Name
		changes |= UserChangeName
	}
	if msg.UserID != nil {
		id := *msg.UserID
		u.userID = &id
		changes |= UserChangeRegistered
	}
	if msg.ChannelID != nil {
		u.moveToChannel(*msg.ChannelID)
		changes |= UserChangeChannel
	}
	if msg.Mute != nil {
		u.mute = *msg.Mute
		changes |= UserChangeMute
	}
	if msg.Deaf != nil {
		u.deaf = *msg.Deaf
		changes |= UserChangeDeaf
	}
	if msg.Suppress != nil {
		u.suppress = *msg.Suppress
		changes |= UserChangeSuppress
	}
	if msg.SelfMute != nil {
		u.selfMute = *msg.SelfMute
		changes |= UserChangeSelfMute
	}
	if msg.SelfDeaf != nil {
		u.selfDeaf = *msg.SelfDeaf
		changes |= UserChangeSelfDeaf
	}
	if msg.Texture != nil {
		u.texture = msg.Texture
		changes |= UserChangeTexture
	}
	if msg.TextureHash != nil {
		if !bytes.Equal(msg.TextureHash, u.textureHash) {
			u.client.invalidateBlobRequest(blobTexture, u.session)
		}
		u.textureHash = msg.TextureHash
		changes |= UserChangeTextureHash
	}
	if msg.Comment != nil {
		u.comment = *msg.Comment
		changes |= UserChangeComment
	}
	if msg.CommentHash != nil {
		if !bytes.Equal(msg.CommentHash, u.commentHash) {
			u.client.invalidateBlobRequest(blobComment, u.session)
		}
		u.commentHash = msg.CommentHash
		changes |= UserChangeCommentHash
	}
	if msg.Hash != nil {
		u.certHash = *msg.Hash
		changes |= UserChangeCertHash
	}
	if msg.PrioritySpeaker != nil {
		u.prioritySpeaker = *msg.PrioritySpeaker
		changes |= UserChangePrioritySpeaker
	}
	if msg.Recording != nil {
		u.recording = *msg.Recording
		changes |= UserChangeRecording
	}
	if msg.PluginContext != nil {
		u.pluginContext = msg.PluginContext
		changes |= UserChangePlugin
	}
	if msg.PluginIdentity != nil {
		u.pluginIdentity = *msg.PluginIdentity
		changes |= UserChangePlugin
	}

	return changes
}

// moveToChannel reconciles channel membership. The old membership is
// dropped before the id changes so the user is never in two channels,
// even when either side of the move is temporarily unresolvable.
func (u *User) moveToChannel(id uint32) {
	if old := u.client.ChannelByID(u.channelID); old != nil {
		old.removeUser(u)
	}
	u.channelID = id
	if next := u.client.ChannelByID(id); next != nil {
		next.addUser(u)
	}
}

// remove tears the user down after a UserRemove message.
func (u *User) remove(actor *User, reason string, ban bool) {
	if ch := u.client.ChannelByID(u.channelID); ch != nil {
		ch.removeUser(u)
	}
	u.endVoice()
	u.client.fireUserRemove(&UserRemoveEvent{User: u, Actor: actor, Reason: reason, Ban: ban})
}

// SetMute asks the server to mute or unmute the user. Unmuting also
// undeafens, mirroring the server's coupling of the two flags.
func (u *User) SetMute(mute bool) error {
	msg := &mumbleproto.UserState{Session: &u.session, Mute: &mute}
	if !mute {
		f := false
		msg.Deaf = &f
	}
	return u.client.WriteMessage(msg)
}

// SetDeaf asks the server to deafen or undeafen the user. Deafening also
// mutes.
func (u *User) SetDeaf(deaf bool) error {
	msg := &mumbleproto.UserState{Session: &u.session, Deaf: &deaf}
	if deaf {
		t := true
		msg.Mute = &t
	}
	return u.client.WriteMessage(msg)
}

// SetSelfMute mutes or unmutes ourselves. Only valid on the self user.
// Unmuting also clears self-deaf.
func (u *User) SetSelfMute(mute bool) error {
	msg := &mumbleproto.UserState{Session: &u.session, SelfMute: &mute}
	if !mute {
		f := false
		msg.SelfDeaf = &f
	}
	return u.client.WriteMessage(msg)
}

// SetSelfDeaf deafens or undeafens ourselves. Only valid on the self
// user. Deafening also sets self-mute.
func (u *User) SetSelfDeaf(deaf bool) error {
	msg := &mumbleproto.UserState{Session: &u.session, SelfDeaf: &deaf}
	if deaf {
		t := true
		msg.SelfMute = &t
	}
	return u.client.WriteMessage(msg)
}

// Move asks the server to move the user into the given channel.
func (u *User) Move(ch *Channel) error {
	return u.client.WriteMessage(&mumbleproto.UserState{Session: &u.session, ChannelID: &ch.id})
}

// Kick removes the user from the server.
func (u *User) Kick(reason string) error {
	return u.client.WriteMessage(&mumbleproto.UserRemove{Session: &u.session, Reason: &reason})
}

// Ban kick-bans the user from the server.
func (u *User) Ban(reason string) error {
	ban := true
	return u.client.WriteMessage(&mumbleproto.UserRemove{Session: &u.session, Reason: &reason, Ban: &ban})
}

// SetComment sets the user's comment. Only valid on the self user unless
// permitted by the server.
func (u *User) SetComment(comment string) error {
	return u.client.WriteMessage(&mumbleproto.UserState{Session: &u.session, Comment: &comment})
}

// SetTexture sets the user's avatar texture.
func (u *User) SetTexture(texture []byte) error {
	return u.client.WriteMessage(&mumbleproto.UserState{Session: &u.session, Texture: texture})
}

// SetPlugin publishes positional-audio plugin data.
func (u *User) SetPlugin(context []byte, identity string) error {
	return u.client.WriteMessage(&mumbleproto.UserState{
		Session:        &u.session,
		PluginContext:  context,
		PluginIdentity: &identity,
	})
}

// SetRecording announces that we are recording. Only valid on the self
// user.
func (u *User) SetRecording(recording bool) error {
	return u.client.WriteMessage(&mumbleproto.UserState{Session: &u.session, Recording: &recording})
}

// SendMessage sends a text message to the user.
func (u *User) SendMessage(text string) error {
	return u.client.WriteMessage(&mumbleproto.TextMessage{
		Session: []uint32{u.session},
		Message: &text,
	})
}

// RequestTexture asks the server for the user's full texture blob. The
// request is deduplicated until the server announces a new texture hash.
func (u *User) RequestTexture() error {
	return u.client.requestBlob(blobTexture, u.session)
}

// RequestComment asks the server for the user's full comment blob.
func (u *User) RequestComment() error {
	return u.client.requestBlob(blobComment, u.session)
}
