package mumble

import (
	"bytes"
	"sort"

	"github.com/gomumble/gomumble/pkg/mumbleproto"
)

// RootChannelID is the id of the server's root channel.
const RootChannelID uint32 = 0

// Channel is a channel in the server's channel tree. Like User, all
// attributes are server-owned; the Set*/command methods only emit
// messages.
type Channel struct {
	client *Client

	id              uint32
	name            string
	parentID        uint32
	hasParent       bool
	links           map[uint32]struct{}
	description     string
	descriptionHash []byte
	temporary       bool
	position        int32
	maxUsers        uint32

	users []*User
}

func newChannel(c *Client, id uint32) *Channel {
	return &Channel{
		client: c,
		id:     id,
		links:  make(map[uint32]struct{}),
	}
}

// ID returns the stable channel id. The root channel has id 0.
func (ch *Channel) ID() uint32 { return ch.id }

// IsRoot reports whether this is the server's root channel.
func (ch *Channel) IsRoot() bool { return ch.id == RootChannelID }

func (ch *Channel) Name() string            { return ch.name }
func (ch *Channel) Description() string     { return ch.description }
func (ch *Channel) DescriptionHash() []byte { return ch.descriptionHash }
func (ch *Channel) Temporary() bool         { return ch.temporary }
func (ch *Channel) Position() int32         { return ch.position }
func (ch *Channel) MaxUsers() uint32        { return ch.maxUsers }

// Parent returns the parent channel, or nil for the root channel or when
// the parent is not (yet) known to the client.
func (ch *Channel) Parent() *Channel {
	if !ch.hasParent {
		return nil
	}
	return ch.client.ChannelByID(ch.parentID)
}

// Children returns the child channels in the order the server announced
// them.
func (ch *Channel) Children() []*Channel {
	var out []*Channel
	for _, other := range ch.client.Channels() {
		if other.hasParent && other.parentID == ch.id {
			out = append(out, other)
		}
	}
	return out
}

// Links returns the resolved linked channels in id order.
func (ch *Channel) Links() []*Channel {
	ids := make([]uint32, 0, len(ch.links))
	for id := range ch.links {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []*Channel
	for _, id := range ids {
		if other := ch.client.ChannelByID(id); other != nil {
			out = append(out, other)
		}
	}
	return out
}

// Users returns the channel's members in join order.
func (ch *Channel) Users() []*User {
	out := make([]*User, len(ch.users))
	copy(out, ch.users)
	return out
}

func (ch *Channel) addUser(u *User) {
	for _, existing := range ch.users {
		if existing == u {
			return
		}
	}
	ch.users = append(ch.users, u)
}

func (ch *Channel) removeUser(u *User) {
	for i, existing := range ch.users {
		if existing == u {
			ch.users = append(ch.users[:i], ch.users[i+1:]...)
			return
		}
	}
}

// apply folds a ChannelState message into the channel and returns the set
// of attributes the message carried. Link removals have already been
// mirrored onto the other channel by the dispatcher.
func (ch *Channel) apply(msg *mumbleproto.ChannelState) ChannelChange {
	var changes ChannelChange

	if msg.Name != nil {
		ch.name = *msg.Name
		changes |= ChannelChangeName
	}
	if msg.Parent != nil {
		ch.parentID = *msg.Parent
		ch.hasParent = true
		changes |= ChannelChangeParent
	}
	if msg.Description != nil {
		ch.description = *msg.Description
		changes |= ChannelChangeDescription
	}
	if msg.DescriptionHash != nil {
		if !bytes.Equal(msg.DescriptionHash, ch.descriptionHash) {
			ch.client.invalidateBlobRequest(blobDescription, ch.id)
		}
		ch.descriptionHash = msg.DescriptionHash
		changes |= ChannelChangeDescriptionHash
	}
	if msg.Temporary != nil {
		ch.temporary = *msg.Temporary
		changes |= ChannelChangeTemporary
	}
	if msg.Position != nil {
		ch.position = *msg.Position
		changes |= ChannelChangePosition
	}
	if msg.MaxUsers != nil {
		ch.maxUsers = *msg.MaxUsers
		changes |= ChannelChangeMaxUsers
	}

	if msg.Links != nil {
		ch.links = make(map[uint32]struct{}, len(msg.Links))
		for _, id := range msg.Links {
			ch.links[id] = struct{}{}
		}
		changes |= ChannelChangeLinks
	} else {
		if len(msg.LinksRemove) > 0 {
			for _, id := range msg.LinksRemove {
				delete(ch.links, id)
			}
			changes |= ChannelChangeLinks
		}
		if len(msg.LinksAdd) > 0 {
			for _, id := range msg.LinksAdd {
				ch.links[id] = struct{}{}
			}
			changes |= ChannelChangeLinks
		}
	}

	return changes
}

func (ch *Channel) unlinkFrom(id uint32) {
	delete(ch.links, id)
}

// remove tears the channel down after a ChannelRemove message. Children
// and membership are derived through the client indices, so dropping the
// channel from those indices detaches it everywhere.
func (ch *Channel) remove() {
	ch.client.fireChannelRemove(ch)
}

// SendMessage sends a text message to the channel.
func (ch *Channel) SendMessage(text string, recursive bool) error {
	msg := &mumbleproto.TextMessage{Message: &text}
	if recursive {
		msg.TreeID = []uint32{ch.id}
	} else {
		msg.ChannelID = []uint32{ch.id}
	}
	return ch.client.WriteMessage(msg)
}

// SetDescription asks the server to change the channel description.
func (ch *Channel) SetDescription(description string) error {
	return ch.client.WriteMessage(&mumbleproto.ChannelState{
		ChannelID:   &ch.id,
		Description: &description,
	})
}

// SetMaxUsers asks the server to change the channel's user limit.
func (ch *Channel) SetMaxUsers(maxUsers uint32) error {
	return ch.client.WriteMessage(&mumbleproto.ChannelState{
		ChannelID: &ch.id,
		MaxUsers:  &maxUsers,
	})
}

// Move asks the server to reparent the channel.
func (ch *Channel) Move(parent *Channel) error {
	return ch.client.WriteMessage(&mumbleproto.ChannelState{
		ChannelID: &ch.id,
		Parent:    &parent.id,
	})
}

// Link asks the server to link the given channels to this one.
func (ch *Channel) Link(others ...*Channel) error {
	ids := make([]uint32, len(others))
	for i, other := range others {
		ids[i] = other.id
	}
	return ch.client.WriteMessage(&mumbleproto.ChannelState{
		ChannelID: &ch.id,
		LinksAdd:  ids,
	})
}

// Unlink asks the server to unlink the given channels from this one.
// With no arguments, all links are removed.
func (ch *Channel) Unlink(others ...*Channel) error {
	var ids []uint32
	if len(others) == 0 {
		for id := range ch.links {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	} else {
		ids = make([]uint32, len(others))
		for i, other := range others {
			ids[i] = other.id
		}
	}
	return ch.client.WriteMessage(&mumbleproto.ChannelState{
		ChannelID:   &ch.id,
		LinksRemove: ids,
	})
}

// CreateChild asks the server to create a sub-channel.
func (ch *Channel) CreateChild(name string, temporary bool) error {
	return ch.client.WriteMessage(&mumbleproto.ChannelState{
		Parent:    &ch.id,
		Name:      &name,
		Temporary: &temporary,
	})
}

// Remove asks the server to remove the channel.
func (ch *Channel) Remove() error {
	return ch.client.WriteMessage(&mumbleproto.ChannelRemove{ChannelID: &ch.id})
}

// RequestDescription asks the server for the channel's full description
// blob. Deduplicated until the description hash changes.
func (ch *Channel) RequestDescription() error {
	return ch.client.requestBlob(blobDescription, ch.id)
}
