package domain

import (
	"fmt"
	"strings"
)

type RoomKind string

const (
	ChannelRoom RoomKind = "channel"
	ThreadRoom  RoomKind = "thread"
)

// RoomKey identifies a live room: either a channel inside a server or a
// one-to-one DM thread. It is comparable and used as a map key by the
// registry; it is never persisted as such.
type RoomKey struct {
	Kind RoomKind `json:"kind" cbor:"1,keyasint"`
	ID   string   `json:"id" cbor:"2,keyasint"`
}

func ChannelKey(channelID string) RoomKey {
	return RoomKey{Kind: ChannelRoom, ID: channelID}
}

func ThreadKey(threadID string) RoomKey {
	return RoomKey{Kind: ThreadRoom, ID: threadID}
}

func (k RoomKey) IsChannel() bool { return k.Kind == ChannelRoom }

func (k RoomKey) IsThread() bool { return k.Kind == ThreadRoom }

func (k RoomKey) IsZero() bool { return k.Kind == "" && k.ID == "" }

func (k RoomKey) String() string {
	return string(k.Kind) + ":" + k.ID
}

// ParseRoomKey is the inverse of RoomKey.String.
func ParseRoomKey(s string) (RoomKey, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return RoomKey{}, fmt.Errorf("invalid room key %q", s)
	}
	return NewRoomKey(kind, id)
}

// NewRoomKey builds a key from a textual kind as found in URLs.
func NewRoomKey(kind, id string) (RoomKey, error) {
	switch RoomKind(kind) {
	case ChannelRoom:
		return ChannelKey(id), nil
	case ThreadRoom:
		return ThreadKey(id), nil
	default:
		return RoomKey{}, fmt.Errorf("unknown room kind %q", kind)
	}
}
