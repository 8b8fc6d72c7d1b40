// Package mumble implements a transport-agnostic Mumble voice-chat
// client: the protocol state machine, the server world model (users and
// channels), per-user voice reassembly, bandwidth negotiation and
// liveness pings. Transports, wire codecs and audio codecs are supplied
// by the caller.
package mumble

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/gomumble/gomumble/pkg/mumbleproto"
)

// State is the connection state of a Client.
type State int

const (
	StateNew State = iota
	StateAuthenticating
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return "invalid"
}

// ServerVersion is the version the server announced about itself.
type ServerVersion struct {
	Major     uint16
	Minor     uint8
	Patch     uint8
	Release   string
	OS        string
	OSVersion string
}

func (v ServerVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// protocolVersion is the Mumble protocol version we announce.
var protocolVersion = mumbleproto.EncodeVersion(1, 3, 0)

const blobCacheSize = 500

// Client is a Mumble client connection. Create one with New, attach
// listeners, then Connect it to a server over a caller-supplied data
// channel.
//
// All model mutations and, with the exceptions listed on Listener, all
// event callbacks run on a single dispatch goroutine; accessor methods
// are safe from any goroutine.
type Client struct {
	mu     sync.RWMutex
	config Config

	listeners []*Listener

	state     State
	conn      Conn
	voiceConn VoiceConn

	writeMu      sync.Mutex
	voiceWriteMu sync.Mutex

	usersBySession map[uint32]*User
	users          []*User
	channelsByID   map[uint32]*Channel
	channels       []*Channel

	selfSession   uint32
	hasSelf       bool
	serverVersion ServerVersion
	maxBandwidth  int
	welcomeText   string

	dataStats     pingStats
	voiceStats    pingStats
	inFlightPings int

	blobRequested *lru.Cache

	incoming chan mumbleproto.Message
	posted   chan func()
	done     chan struct{}

	teardownOnce sync.Once
	closeErr     error

	handshakeOnce sync.Once
	handshake     chan error
}

// New creates a Client from the given configuration.
func New(cfg *Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cache, _ := lru.New(blobCacheSize)

	return &Client{
		config:         cfg.withDefaults(),
		usersBySession: make(map[uint32]*User),
		channelsByID:   make(map[uint32]*Channel),
		blobRequested:  cache,
		incoming:       make(chan mumbleproto.Message, 64),
		posted:         make(chan func(), 64),
		done:           make(chan struct{}),
		handshake:      make(chan error, 1),
	}, nil
}

// State returns the connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Self returns our own user once the server has announced it, nil
// before.
func (c *Client) Self() *User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.hasSelf {
		return nil
	}
	return c.usersBySession[c.selfSession]
}

// ServerVersion returns the version announced by the server.
func (c *Client) ServerVersion() ServerVersion {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverVersion
}

// WelcomeText returns the server's welcome message.
func (c *Client) WelcomeText() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.welcomeText
}

// UserBySession returns the user with the given session id, or nil.
func (c *Client) UserBySession(session uint32) *User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.usersBySession[session]
}

// ChannelByID returns the channel with the given id, or nil.
func (c *Client) ChannelByID(id uint32) *Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channelsByID[id]
}

// RootChannel returns the server's root channel, or nil before the
// server has announced it.
func (c *Client) RootChannel() *Channel {
	return c.ChannelByID(RootChannelID)
}

// Users returns all known users in the order the server announced them.
func (c *Client) Users() []*User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*User, len(c.users))
	copy(out, c.users)
	return out
}

// Channels returns all known channels in the order the server announced
// them.
func (c *Client) Channels() []*Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Channel, len(c.channels))
	copy(out, c.channels)
	return out
}

// Connect attaches the data channel, performs the Version/Authenticate
// handshake and blocks until the server accepts (ServerSync), rejects,
// or the connection fails. Attaching a second data channel to the same
// client fails with ErrAlreadyConnected.
func (c *Client) Connect(ctx context.Context, conn Conn) error {
	c.mu.Lock()
	if c.state != StateNew {
		c.mu.Unlock()
		return fmt.Errorf("%w: client is %s", ErrAlreadyConnected, c.state)
	}
	c.state = StateAuthenticating
	c.conn = conn
	c.mu.Unlock()

	go c.run()
	go c.readLoop(conn)

	version := protocolVersion
	release := c.config.ClientSoftware
	osName := c.config.OSName
	osVersion := c.config.OSVersion
	if err := c.WriteMessage(&mumbleproto.Version{
		Version:   &version,
		Release:   &release,
		OS:        &osName,
		OSVersion: &osVersion,
	}); err != nil {
		c.fail(err)
		return err
	}

	var celtVersions []int32
	opus := false
	if c.config.Codecs != nil {
		celtVersions = c.config.Codecs.CeltVersions()
		opus = c.config.Codecs.Opus()
	}
	if celtVersions == nil {
		celtVersions = []int32{}
	}
	username := c.config.Username
	password := c.config.Password
	if err := c.WriteMessage(&mumbleproto.Authenticate{
		Username:     &username,
		Password:     &password,
		Tokens:       c.config.Tokens,
		CeltVersions: celtVersions,
		Opus:         &opus,
	}); err != nil {
		c.fail(err)
		return err
	}

	select {
	case err := <-c.handshake:
		return err
	case <-ctx.Done():
		c.teardown(ctx.Err())
		return ctx.Err()
	}
}

// AttachVoice attaches the unreliable voice channel. Without one, voice
// is tunneled through the data channel.
func (c *Client) AttachVoice(conn VoiceConn) error {
	c.mu.Lock()
	if c.voiceConn != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: voice channel already attached", ErrAlreadyConnected)
	}
	c.voiceConn = conn
	c.mu.Unlock()

	go c.voiceReadLoop(conn)
	return nil
}

// Disconnect tears the connection down. It is idempotent; the first
// call ends both channels, cancels all timers and emits a single
// disconnected event.
func (c *Client) Disconnect() error {
	c.teardown(nil)
	return nil
}

// WriteMessage sends a control message on the data channel. Command
// helpers on User, Channel and Client all funnel through here.
func (c *Client) WriteMessage(msg mumbleproto.Message) error {
	c.mu.RLock()
	conn := c.conn
	state := c.state
	c.mu.RUnlock()
	if state == StateNew || state == StateDisconnected || conn == nil {
		return ErrDisconnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(msg)
}

// writeVoicePacket sends a voice packet, tunneling it through the data
// channel when no voice channel is attached.
func (c *Client) writeVoicePacket(pkt *mumbleproto.VoicePacket) error {
	c.mu.RLock()
	vconn := c.voiceConn
	c.mu.RUnlock()

	if vconn == nil {
		return c.WriteMessage(&mumbleproto.UDPTunnel{Packet: pkt})
	}

	c.voiceWriteMu.Lock()
	defer c.voiceWriteMu.Unlock()
	return vconn.WritePacket(pkt)
}

// SendTextMessage sends a text message to any mix of users, channels
// and channel subtrees.
func (c *Client) SendTextMessage(text string, users []*User, channels, trees []*Channel) error {
	msg := &mumbleproto.TextMessage{Message: &text}
	for _, u := range users {
		msg.Session = append(msg.Session, u.session)
	}
	for _, ch := range channels {
		msg.ChannelID = append(msg.ChannelID, ch.id)
	}
	for _, ch := range trees {
		msg.TreeID = append(msg.TreeID, ch.id)
	}
	return c.WriteMessage(msg)
}

// SetAccessTokens replaces our access tokens on the server.
func (c *Client) SetAccessTokens(tokens []string) error {
	return c.WriteMessage(&mumbleproto.Authenticate{Tokens: tokens})
}

// post runs f on the dispatch goroutine. Used by timer callbacks so
// they never race the dispatcher.
func (c *Client) post(f func()) {
	select {
	case c.posted <- f:
	case <-c.done:
	}
}

// fail surfaces an asynchronous error and tears the connection down.
func (c *Client) fail(err error) {
	c.fireError(err)
	c.teardown(err)
}

func (c *Client) teardown(err error) {
	c.teardownOnce.Do(func() {
		c.mu.Lock()
		started := c.state != StateNew
		c.state = StateDisconnected
		conn := c.conn
		vconn := c.voiceConn
		c.closeErr = err
		c.mu.Unlock()

		close(c.done)
		if conn != nil {
			if cerr := conn.Close(); cerr != nil {
				logger.Debugf("data channel close: %s", cerr)
			}
		}
		if vconn != nil {
			if cerr := vconn.Close(); cerr != nil {
				logger.Debugf("voice channel close: %s", cerr)
			}
		}

		if err == nil {
			err = ErrDisconnected
		}
		c.resolveHandshake(err)

		// If the dispatch goroutine never ran there is nobody to
		// deliver the disconnected event; do it here.
		if !started {
			c.fireDisconnect(&DisconnectEvent{Client: c, Err: c.closeErr})
		}
	})
}

func (c *Client) resolveHandshake(err error) {
	c.handshakeOnce.Do(func() {
		c.handshake <- err
	})
}

// readLoop pulls control messages off the wire codec and hands them to
// the dispatch goroutine.
func (c *Client) readLoop(conn Conn) {
	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrServerClosed
			}
			c.post(func() { c.fail(err) })
			return
		}
		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

// voiceReadLoop pulls voice packets off the voice channel and hands
// them to the dispatch goroutine.
func (c *Client) voiceReadLoop(conn VoiceConn) {
	for {
		pkt, err := conn.ReadPacket()
		if err != nil {
			select {
			case <-c.done:
			default:
				logger.Debugf("voice channel read: %s", err)
			}
			return
		}
		c.post(func() { c.handleVoicePacket(pkt) })
	}
}

// run is the dispatch goroutine: every model mutation, event callback
// and timer action happens here.
func (c *Client) run() {
	var pingC <-chan time.Time
	var pingTicker *time.Ticker

	defer func() {
		if pingTicker != nil {
			pingTicker.Stop()
		}
		for _, u := range c.Users() {
			u.endVoice()
		}
		c.fireDisconnect(&DisconnectEvent{Client: c, Err: c.closeErr})
	}()

	for {
		select {
		case <-c.done:
			return
		case f := <-c.posted:
			f()
		case msg := <-c.incoming:
			if sync, ok := msg.(*mumbleproto.ServerSync); ok {
				c.handleServerSync(sync)
				if pingTicker == nil {
					pingTicker = time.NewTicker(c.config.DataPingInterval)
					pingC = pingTicker.C
				}
				continue
			}
			c.dispatch(msg)
		case <-pingC:
			c.sendPing()
		}
	}
}

// dispatch routes one control message to its handler. Unknown tags are
// logged and ignored.
func (c *Client) dispatch(msg mumbleproto.Message) {
	switch m := msg.(type) {
	case *mumbleproto.Version:
		c.handleVersion(m)
	case *mumbleproto.UDPTunnel:
		if m.Packet != nil {
			c.handleVoicePacket(m.Packet)
		}
	case *mumbleproto.Ping:
		c.handlePing(m)
	case *mumbleproto.Reject:
		c.handleReject(m)
	case *mumbleproto.ChannelState:
		c.handleChannelState(m)
	case *mumbleproto.ChannelRemove:
		c.handleChannelRemove(m)
	case *mumbleproto.UserState:
		c.handleUserState(m)
	case *mumbleproto.UserRemove:
		c.handleUserRemove(m)
	case *mumbleproto.TextMessage:
		c.handleTextMessage(m)
	case *mumbleproto.PermissionDenied:
		c.handlePermissionDenied(m)
	default:
		logger.Debugf("ignoring message %s", msg.ProtoType())
	}
}

func (c *Client) handleVersion(msg *mumbleproto.Version) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.Version != nil {
		c.serverVersion.Major, c.serverVersion.Minor, c.serverVersion.Patch = mumbleproto.DecodeVersion(*msg.Version)
	}
	if msg.Release != nil {
		c.serverVersion.Release = *msg.Release
	}
	if msg.OS != nil {
		c.serverVersion.OS = *msg.OS
	}
	if msg.OSVersion != nil {
		c.serverVersion.OSVersion = *msg.OSVersion
	}
}

func (c *Client) handleServerSync(msg *mumbleproto.ServerSync) {
	c.mu.Lock()
	if msg.Session != nil {
		c.selfSession = *msg.Session
		c.hasSelf = true
	}
	if msg.MaxBandwidth != nil {
		c.maxBandwidth = int(*msg.MaxBandwidth)
	}
	if msg.WelcomeText != nil {
		c.welcomeText = *msg.WelcomeText
	}
	c.state = StateConnected
	welcome := c.welcomeText
	bandwidth := c.maxBandwidth
	c.mu.Unlock()

	c.fireConnect(&ConnectEvent{Client: c, WelcomeText: welcome, MaxBandwidth: bandwidth})
	c.resolveHandshake(nil)
}

func (c *Client) handleReject(msg *mumbleproto.Reject) {
	rej := &RejectError{}
	if msg.Type != nil {
		rej.Type = int32(*msg.Type)
	}
	if msg.Reason != nil {
		rej.Reason = *msg.Reason
	}
	c.fireReject(rej)
	c.teardown(rej)
}

func (c *Client) handleChannelState(msg *mumbleproto.ChannelState) {
	if msg.ChannelID == nil {
		logger.Warn("ChannelState without channel_id, ignoring")
		return
	}
	id := *msg.ChannelID

	ch := c.ChannelByID(id)
	created := ch == nil
	if created {
		ch = newChannel(c, id)
		c.mu.Lock()
		c.channelsByID[id] = ch
		c.channels = append(c.channels, ch)
		c.mu.Unlock()
	}

	// Link removal is symmetric: the other side of each removed link
	// drops us before we apply our own update.
	for _, other := range msg.LinksRemove {
		if linked := c.ChannelByID(other); linked != nil {
			linked.unlinkFrom(id)
		}
	}

	if created {
		c.fireChannelCreate(ch)
	}

	changes := ch.apply(msg)
	c.fireChannelUpdate(&ChannelUpdateEvent{Channel: ch, Changes: changes})
}

func (c *Client) handleChannelRemove(msg *mumbleproto.ChannelRemove) {
	if msg.ChannelID == nil {
		logger.Warn("ChannelRemove without channel_id, ignoring")
		return
	}
	ch := c.ChannelByID(*msg.ChannelID)
	if ch == nil {
		return
	}

	ch.remove()

	c.mu.Lock()
	delete(c.channelsByID, ch.id)
	for i, other := range c.channels {
		if other == ch {
			c.channels = append(c.channels[:i], c.channels[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
}

func (c *Client) handleUserState(msg *mumbleproto.UserState) {
	if msg.Session == nil {
		logger.Warn("UserState without session, ignoring")
		return
	}
	session := *msg.Session

	u := c.UserBySession(session)
	created := u == nil
	if created {
		u = newUser(c, session)
		c.mu.Lock()
		c.usersBySession[session] = u
		c.users = append(c.users, u)
		c.mu.Unlock()

		// The server omits channel_id for users in the root channel;
		// only the first update for a session may default it.
		if msg.ChannelID == nil {
			root := RootChannelID
			clone := *msg
			clone.ChannelID = &root
			msg = &clone
		}

		c.fireUserCreate(u)
	}

	var actor *User
	if msg.Actor != nil {
		actor = c.UserBySession(*msg.Actor)
	}

	changes := u.apply(msg)
	c.fireUserUpdate(&UserUpdateEvent{User: u, Actor: actor, Changes: changes})
}

func (c *Client) handleUserRemove(msg *mumbleproto.UserRemove) {
	if msg.Session == nil {
		logger.Warn("UserRemove without session, ignoring")
		return
	}
	u := c.UserBySession(*msg.Session)
	if u == nil {
		return
	}

	var actor *User
	if msg.Actor != nil {
		actor = c.UserBySession(*msg.Actor)
	}
	reason := ""
	if msg.Reason != nil {
		reason = *msg.Reason
	}
	ban := msg.Ban != nil && *msg.Ban

	u.remove(actor, reason, ban)

	c.mu.Lock()
	delete(c.usersBySession, u.session)
	for i, other := range c.users {
		if other == u {
			c.users = append(c.users[:i], c.users[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
}

func (c *Client) handleTextMessage(msg *mumbleproto.TextMessage) {
	e := &TextMessageEvent{}
	if msg.Actor != nil {
		e.Sender = c.UserBySession(*msg.Actor)
	}
	if msg.Message != nil {
		e.Message = *msg.Message
	}
	for _, session := range msg.Session {
		if u := c.UserBySession(session); u != nil {
			e.Users = append(e.Users, u)
		}
	}
	for _, id := range msg.ChannelID {
		if ch := c.ChannelByID(id); ch != nil {
			e.Channels = append(e.Channels, ch)
		}
	}
	for _, id := range msg.TreeID {
		if ch := c.ChannelByID(id); ch != nil {
			e.Trees = append(e.Trees, ch)
		}
	}
	c.fireTextMessage(e)
}

func (c *Client) handlePermissionDenied(msg *mumbleproto.PermissionDenied) {
	if msg.Type == nil {
		c.fail(fmt.Errorf("%w: PermissionDenied without type", ErrProtocolViolation))
		return
	}

	e := &PermissionDeniedEvent{}
	switch *msg.Type {
	case mumbleproto.DenyText:
		e.Kind = DeniedText
		if msg.Reason != nil {
			e.Detail = *msg.Reason
		}
	case mumbleproto.DenyPermission:
		e.Kind = DeniedPermission
		if msg.Session != nil {
			e.User = c.UserBySession(*msg.Session)
		}
		if msg.ChannelID != nil {
			e.Channel = c.ChannelByID(*msg.ChannelID)
		}
		if msg.Permission != nil {
			e.Detail = fmt.Sprintf("%d", *msg.Permission)
		}
	case mumbleproto.DenySuperUser:
		e.Kind = DeniedSuperUser
	case mumbleproto.DenyChannelName:
		e.Kind = DeniedChannelName
		if msg.Name != nil {
			e.Detail = *msg.Name
		}
	case mumbleproto.DenyTextTooLong:
		e.Kind = DeniedTextTooLong
	case mumbleproto.DenyTemporaryChannel:
		e.Kind = DeniedTemporaryChannel
	case mumbleproto.DenyMissingCertificate:
		e.Kind = DeniedMissingCertificate
		if msg.Session != nil {
			e.User = c.UserBySession(*msg.Session)
		}
	case mumbleproto.DenyUserName:
		e.Kind = DeniedUserName
		if msg.Name != nil {
			e.Detail = *msg.Name
		}
	case mumbleproto.DenyChannelFull:
		e.Kind = DeniedChannelFull
	case mumbleproto.DenyNestingLimit:
		e.Kind = DeniedNestingLimit
	default:
		c.fail(fmt.Errorf("%w: unknown PermissionDenied type %d", ErrProtocolViolation, *msg.Type))
		return
	}

	c.firePermissionDenied(e)
}

// handleVoicePacket routes an incoming voice packet, whether it arrived
// on the voice channel or tunneled through the data channel.
func (c *Client) handleVoicePacket(pkt *mumbleproto.VoicePacket) {
	if pkt.Codec == mumbleproto.CodecPing {
		c.handleVoicePing(pkt)
		return
	}
	if pkt.Codec > mumbleproto.CodecOpus {
		c.fireUnknownCodec(pkt.Codec)
		return
	}

	u := c.UserBySession(pkt.Source)
	if u == nil {
		logger.Debugf("voice packet from unknown session %d", pkt.Source)
		return
	}
	u.applyVoicePacket(pkt)
}

// sendVoicePing emits a liveness ping on the voice channel. The
// timestamp travels in SeqNum, truncated to 32 bits of milliseconds.
func (c *Client) sendVoicePing() {
	c.mu.RLock()
	vconn := c.voiceConn
	c.mu.RUnlock()
	if vconn == nil {
		return
	}

	pkt := &mumbleproto.VoicePacket{
		Codec:  mumbleproto.CodecPing,
		SeqNum: uint32(time.Now().UnixMilli()),
	}
	c.voiceWriteMu.Lock()
	defer c.voiceWriteMu.Unlock()
	if err := vconn.WritePacket(pkt); err != nil {
		logger.Debugf("voice ping write failed: %s", err)
	}
}

func (c *Client) handleVoicePing(pkt *mumbleproto.VoicePacket) {
	rtt := uint32(time.Now().UnixMilli()) - pkt.SeqNum
	c.mu.Lock()
	c.voiceStats.add(float64(rtt))
	c.mu.Unlock()
}
