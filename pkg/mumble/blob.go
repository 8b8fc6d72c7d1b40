package mumble

import (
	"fmt"

	"github.com/gomumble/gomumble/pkg/mumbleproto"
)

type blobKind uint8

const (
	blobTexture blobKind = iota
	blobComment
	blobDescription
)

type blobKey struct {
	kind blobKind
	id   uint32
}

// requestBlob asks the server for the full blob behind a hashed field.
// A request is only sent once per (kind, id); the flag is invalidated
// when a state update announces a new hash for the field.
func (c *Client) requestBlob(kind blobKind, id uint32) error {
	key := blobKey{kind: kind, id: id}
	if ok, _ := c.blobRequested.ContainsOrAdd(key, struct{}{}); ok {
		return nil
	}

	msg := &mumbleproto.RequestBlob{}
	switch kind {
	case blobTexture:
		msg.SessionTexture = []uint32{id}
	case blobComment:
		msg.SessionComment = []uint32{id}
	case blobDescription:
		msg.ChannelDescription = []uint32{id}
	default:
		return fmt.Errorf("%w: unknown blob kind %d", ErrProtocolViolation, kind)
	}
	return c.WriteMessage(msg)
}

func (c *Client) invalidateBlobRequest(kind blobKind, id uint32) {
	c.blobRequested.Remove(blobKey{kind: kind, id: id})
}
