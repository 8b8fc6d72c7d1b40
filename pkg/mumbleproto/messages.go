// Package mumbleproto defines the typed Mumble control messages and voice
// packets exchanged between the client core and the wire codec. The codec
// owns the byte-level (de)serialization; the core only sees these values.
package mumbleproto

// Type is the numeric tag of a control message as it appears in the
// 6-byte frame header of the Mumble TCP stream.
type Type uint16

const (
	TypeVersion Type = iota
	TypeUDPTunnel
	TypeAuthenticate
	TypePing
	TypeReject
	TypeServerSync
	TypeChannelRemove
	TypeChannelState
	TypeUserRemove
	TypeUserState
	TypeBanList
	TypeTextMessage
	TypePermissionDenied
	TypeACL
	TypeQueryUsers
	TypeCryptSetup
	TypeContextActionModify
	TypeContextAction
	TypeUserList
	TypeVoiceTarget
	TypePermissionQuery
	TypeCodecVersion
	TypeUserStats
	TypeRequestBlob
	TypeServerConfig
	TypeSuggestConfig
)

var typeNames = map[Type]string{
	TypeVersion:             "Version",
	TypeUDPTunnel:           "UDPTunnel",
	TypeAuthenticate:        "Authenticate",
	TypePing:                "Ping",
	TypeReject:              "Reject",
	TypeServerSync:          "ServerSync",
	TypeChannelRemove:       "ChannelRemove",
	TypeChannelState:        "ChannelState",
	TypeUserRemove:          "UserRemove",
	TypeUserState:           "UserState",
	TypeBanList:             "BanList",
	TypeTextMessage:         "TextMessage",
	TypePermissionDenied:    "PermissionDenied",
	TypeACL:                 "ACL",
	TypeQueryUsers:          "QueryUsers",
	TypeCryptSetup:          "CryptSetup",
	TypeContextActionModify: "ContextActionModify",
	TypeContextAction:       "ContextAction",
	TypeUserList:            "UserList",
	TypeVoiceTarget:         "VoiceTarget",
	TypePermissionQuery:     "PermissionQuery",
	TypeCodecVersion:        "CodecVersion",
	TypeUserStats:           "UserStats",
	TypeRequestBlob:         "RequestBlob",
	TypeServerConfig:        "ServerConfig",
	TypeSuggestConfig:       "SuggestConfig",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "Unknown"
}

// Message is any typed control message. Optional protocol fields are
// pointers; a nil pointer means the field was absent on the wire.
type Message interface {
	ProtoType() Type
}

type Version struct {
	Version   *uint32
	Release   *string
	OS        *string
	OSVersion *string
}

func (*Version) ProtoType() Type { return TypeVersion }

// UDPTunnel carries a complete voice packet inside the control stream.
type UDPTunnel struct {
	Packet *VoicePacket
}

func (*UDPTunnel) ProtoType() Type { return TypeUDPTunnel }

type Authenticate struct {
	Username     *string
	Password     *string
	Tokens       []string
	CeltVersions []int32
	Opus         *bool
}

func (*Authenticate) ProtoType() Type { return TypeAuthenticate }

type Ping struct {
	Timestamp *uint64
	Good      *uint32
	Late      *uint32
	Lost      *uint32
	Resync    *uint32

	UDPPackets *uint32
	TCPPackets *uint32
	UDPPingAvg *float32
	UDPPingVar *float32
	TCPPingAvg *float32
	TCPPingVar *float32
}

func (*Ping) ProtoType() Type { return TypePing }

type RejectType int32

const (
	RejectNone RejectType = iota
	RejectWrongVersion
	RejectInvalidUsername
	RejectWrongUserPW
	RejectWrongServerPW
	RejectUsernameInUse
	RejectServerFull
	RejectNoCertificate
	RejectAuthenticatorFail
)

type Reject struct {
	Type   *RejectType
	Reason *string
}

func (*Reject) ProtoType() Type { return TypeReject }

type ServerSync struct {
	Session      *uint32
	MaxBandwidth *uint32
	WelcomeText  *string
	Permissions  *uint64
}

func (*ServerSync) ProtoType() Type { return TypeServerSync }

type ChannelRemove struct {
	ChannelID *uint32
}

func (*ChannelRemove) ProtoType() Type { return TypeChannelRemove }

type ChannelState struct {
	ChannelID       *uint32
	Parent          *uint32
	Name            *string
	Links           []uint32
	Description     *string
	LinksAdd        []uint32
	LinksRemove     []uint32
	Temporary       *bool
	Position        *int32
	DescriptionHash []byte
	MaxUsers        *uint32
}

func (*ChannelState) ProtoType() Type { return TypeChannelState }

type UserRemove struct {
	Session *uint32
	Actor   *uint32
	Reason  *string
	Ban     *bool
}

func (*UserRemove) ProtoType() Type { return TypeUserRemove }

type UserState struct {
	Session         *uint32
	Actor           *uint32
	Name            *string
	UserID          *uint32
	ChannelID       *uint32
	Mute            *bool
	Deaf            *bool
	Suppress        *bool
	SelfMute        *bool
	SelfDeaf        *bool
	Texture         []byte
	PluginContext   []byte
	PluginIdentity  *string
	Comment         *string
	Hash            *string
	CommentHash     []byte
	TextureHash     []byte
	PrioritySpeaker *bool
	Recording       *bool
}

func (*UserState) ProtoType() Type { return TypeUserState }

type TextMessage struct {
	Actor     *uint32
	Session   []uint32
	ChannelID []uint32
	TreeID    []uint32
	Message   *string
}

func (*TextMessage) ProtoType() Type { return TypeTextMessage }

// DenyType enumerates the kinds of PermissionDenied messages.
type DenyType int32

const (
	DenyText DenyType = iota
	DenyPermission
	DenySuperUser
	DenyChannelName
	DenyTextTooLong
	DenyH9K // unused placeholder kept for wire compatibility
	DenyTemporaryChannel
	DenyMissingCertificate
	DenyUserName
	DenyChannelFull
	DenyNestingLimit
)

type PermissionDenied struct {
	Permission *uint32
	ChannelID  *uint32
	Session    *uint32
	Reason     *string
	Type       *DenyType
	Name       *string
}

func (*PermissionDenied) ProtoType() Type { return TypePermissionDenied }

type RequestBlob struct {
	SessionTexture     []uint32
	SessionComment     []uint32
	ChannelDescription []uint32
}

func (*RequestBlob) ProtoType() Type { return TypeRequestBlob }

// Unknown is the catch-all variant produced by the wire codec for tags
// the core does not dispatch. The payload is the raw protobuf body.
type Unknown struct {
	Tag     Type
	Payload []byte
}

func (u *Unknown) ProtoType() Type { return u.Tag }
