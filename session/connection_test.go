package session

import (
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnection_Deliver_Until_Full(t *testing.T) {
	req := require.New(t)
	conn := New("alice", "127.0.0.1", 2)

	// Given a queue of two slots
	req.True(conn.Deliver(event.Error{Message: "1"}))
	req.True(conn.Deliver(event.Error{Message: "2"}))

	// When a third event arrives
	ok := conn.Deliver(event.Error{Message: "3"})

	// Then it is refused without blocking
	req.False(ok)
	req.Len(conn.Outbound(), 2)
}

func TestConnection_Evict_Marks_Lagging(t *testing.T) {
	req := require.New(t)
	conn := New("alice", "", 1)

	conn.Evict()
	conn.Close(nil)

	req.True(conn.Lagging())
	req.ErrorIs(conn.Err(), errors.ErrSlowConsumer)
	req.False(conn.Deliver(event.Error{}))
	select {
	case <-conn.Done():
	default:
		req.Fail("connection should be closed")
	}
}

func TestConnection_Rooms_Tracking(t *testing.T) {
	req := require.New(t)
	conn := New("", "", 1)
	room := domain.ChannelKey("c1")

	req.False(conn.Authenticated())
	req.True(conn.MarkJoined(room))
	req.False(conn.MarkJoined(room))
	req.True(conn.InRoom(room))
	req.Equal([]domain.RoomKey{room}, conn.Rooms())
	req.True(conn.MarkLeft(room))
	req.False(conn.MarkLeft(room))
	req.Empty(conn.Rooms())
	req.Nil(conn.Err())
}
