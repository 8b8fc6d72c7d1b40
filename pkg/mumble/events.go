package mumble

import (
	"time"

	"github.com/gomumble/gomumble/pkg/mumbleproto"
)

// UserChange reports which user attributes a UserState update carried.
type UserChange uint32

const (
	UserChangeName UserChange = 1 << iota
	UserChangeChannel
	UserChangeMute
	UserChangeDeaf
	UserChangeSuppress
	UserChangeSelfMute
	UserChangeSelfDeaf
	UserChangeTexture
	UserChangeTextureHash
	UserChangeComment
	UserChangeCommentHash
	UserChangePrioritySpeaker
	UserChangeRecording
	UserChangeRegistered
	UserChangeCertHash
	UserChangePlugin
)

// Has reports whether all bits of mask are set.
func (c UserChange) Has(mask UserChange) bool { return c&mask == mask }

// ChannelChange reports which channel attributes a ChannelState update
// carried.
type ChannelChange uint32

const (
	ChannelChangeName ChannelChange = 1 << iota
	ChannelChangeDescription
	ChannelChangeDescriptionHash
	ChannelChangeTemporary
	ChannelChangePosition
	ChannelChangeMaxUsers
	ChannelChangeParent
	ChannelChangeLinks
)

func (c ChannelChange) Has(mask ChannelChange) bool { return c&mask == mask }

// DeniedKind names the kind of a PermissionDenied message.
type DeniedKind string

const (
	DeniedText               DeniedKind = "Text"
	DeniedPermission         DeniedKind = "Permission"
	DeniedSuperUser          DeniedKind = "SuperUser"
	DeniedChannelName        DeniedKind = "ChannelName"
	DeniedTextTooLong        DeniedKind = "TextTooLong"
	DeniedTemporaryChannel   DeniedKind = "TemporaryChannel"
	DeniedMissingCertificate DeniedKind = "MissingCertificate"
	DeniedUserName           DeniedKind = "UserName"
	DeniedChannelFull        DeniedKind = "ChannelFull"
	DeniedNestingLimit       DeniedKind = "NestingLimit"
)

type ConnectEvent struct {
	Client       *Client
	WelcomeText  string
	MaxBandwidth int
}

type DisconnectEvent struct {
	Client *Client
	// Err is the error that caused the teardown, nil on a clean
	// caller-initiated disconnect.
	Err error
}

type UserUpdateEvent struct {
	User    *User
	Actor   *User // may be nil
	Changes UserChange
}

type UserRemoveEvent struct {
	User   *User
	Actor  *User // may be nil
	Reason string
	Ban    bool
}

type ChannelUpdateEvent struct {
	Channel *Channel
	Changes ChannelChange
}

type TextMessageEvent struct {
	Sender   *User // may be nil
	Message  string
	Users    []*User
	Channels []*Channel
	Trees    []*Channel
}

type PermissionDeniedEvent struct {
	Kind    DeniedKind
	User    *User    // may be nil
	Channel *Channel // may be nil
	Detail  string
}

// Listener receives client events. Nil callbacks are skipped. Callbacks
// run on the client's dispatch goroutine, with two exceptions: OnError for
// a failed handshake write runs on the goroutine calling Connect, and
// OnDisconnect for a client that never connected runs on the goroutine
// calling Disconnect. Blocking in a callback stalls message processing.
type Listener struct {
	OnConnect    func(e *ConnectEvent)
	OnDisconnect func(e *DisconnectEvent)
	OnReject     func(e *RejectError)
	OnError      func(err error)

	OnChannelCreate func(ch *Channel)
	OnChannelUpdate func(e *ChannelUpdateEvent)
	OnChannelRemove func(ch *Channel)

	OnUserCreate func(u *User)
	OnUserUpdate func(e *UserUpdateEvent)
	OnUserRemove func(e *UserRemoveEvent)

	OnTextMessage      func(e *TextMessageEvent)
	OnPermissionDenied func(e *PermissionDeniedEvent)

	OnDataPing     func(rtt time.Duration)
	OnVoiceStream  func(s *VoiceStream)
	OnUnknownCodec func(codec mumbleproto.Codec)
}

// Detacher removes a previously attached listener.
type Detacher interface {
	Detach()
}

type listenerHandle struct {
	c *Client
	l *Listener
}

func (h *listenerHandle) Detach() {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	for i, l := range h.c.listeners {
		if l == h.l {
			h.c.listeners = append(h.c.listeners[:i], h.c.listeners[i+1:]...)
			return
		}
	}
}

// Attach registers a listener and returns a Detacher for it.
func (c *Client) Attach(l *Listener) Detacher {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
	return &listenerHandle{c: c, l: l}
}

func (c *Client) eachListener(f func(l *Listener)) {
	c.mu.RLock()
	ls := make([]*Listener, len(c.listeners))
	copy(ls, c.listeners)
	c.mu.RUnlock()
	for _, l := range ls {
		f(l)
	}
}

func (c *Client) fireConnect(e *ConnectEvent) {
	c.eachListener(func(l *Listener) {
		if l.OnConnect != nil {
			l.OnConnect(e)
		}
	})
}

func (c *Client) fireDisconnect(e *DisconnectEvent) {
	c.eachListener(func(l *Listener) {
		if l.OnDisconnect != nil {
			l.OnDisconnect(e)
		}
	})
}

func (c *Client) fireReject(e *RejectError) {
	c.eachListener(func(l *Listener) {
		if l.OnReject != nil {
			l.OnReject(e)
		}
	})
}

func (c *Client) fireError(err error) {
	c.eachListener(func(l *Listener) {
		if l.OnError != nil {
			l.OnError(err)
		}
	})
}

func (c *Client) fireChannelCreate(ch *Channel) {
	c.eachListener(func(l *Listener) {
		if l.OnChannelCreate != nil {
			l.OnChannelCreate(ch)
		}
	})
}

func (c *Client) fireChannelUpdate(e *ChannelUpdateEvent) {
	c.eachListener(func(l *Listener) {
		if l.OnChannelUpdate != nil {
			l.OnChannelUpdate(e)
		}
	})
}

func (c *Client) fireChannelRemove(ch *Channel) {
	c.eachListener(func(l *Listener) {
		if l.OnChannelRemove != nil {
			l.OnChannelRemove(ch)
		}
	})
}

func (c *Client) fireUserCreate(u *User) {
	c.eachListener(func(l *Listener) {
		if l.OnUserCreate != nil {
			l.OnUserCreate(u)
		}
	})
}

func (c *Client) fireUserUpdate(e *UserUpdateEvent) {
	c.eachListener(func(l *Listener) {
		if l.OnUserUpdate != nil {
			l.OnUserUpdate(e)
		}
	})
}

func (c *Client) fireUserRemove(e *UserRemoveEvent) {
	c.eachListener(func(l *Listener) {
		if l.OnUserRemove != nil {
			l.OnUserRemove(e)
		}
	})
}

func (c *Client) fireTextMessage(e *TextMessageEvent) {
	c.eachListener(func(l *Listener) {
		if l.OnTextMessage != nil {
			l.OnTextMessage(e)
		}
	})
}

func (c *Client) firePermissionDenied(e *PermissionDeniedEvent) {
	c.eachListener(func(l *Listener) {
		if l.OnPermissionDenied != nil {
			l.OnPermissionDenied(e)
		}
	})
}

func (c *Client) fireDataPing(rtt time.Duration) {
	c.eachListener(func(l *Listener) {
		if l.OnDataPing != nil {
			l.OnDataPing(rtt)
		}
	})
}

func (c *Client) fireVoiceStream(s *VoiceStream) {
	c.eachListener(func(l *Listener) {
		if l.OnVoiceStream != nil {
			l.OnVoiceStream(s)
		}
	})
}

func (c *Client) fireUnknownCodec(codec mumbleproto.Codec) {
	c.eachListener(func(l *Listener) {
		if l.OnUnknownCodec != nil {
			l.OnUnknownCodec(codec)
		}
	})
}
