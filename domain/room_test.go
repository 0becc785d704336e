package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoomKey_Channel_And_Thread_Never_Collide(t *testing.T) {
	req := require.New(t)
	rooms := map[RoomKey]string{
		ChannelKey("42"): "channel",
		ThreadKey("42"):  "thread",
	}
	req.Len(rooms, 2)
	req.True(ChannelKey("42").IsChannel())
	req.True(ThreadKey("42").IsThread())
	req.True(RoomKey{}.IsZero())
}

func TestParseRoomKey(t *testing.T) {
	req := require.New(t)

	key, err := ParseRoomKey(ThreadKey("t:1").String())
	req.NoError(err)
	req.Equal(ThreadKey("t:1"), key)

	for _, invalid := range []string{"", "channel", "channel:", "voice:1"} {
		_, err := ParseRoomKey(invalid)
		req.Error(err, invalid)
	}
}

func TestPair_Is_Unordered(t *testing.T) {
	req := require.New(t)
	req.Equal(Pair("bob", "alice"), Pair("alice", "bob"))

	thread := DmThread{ID: "t1", Participants: Pair("bob", "alice")}
	req.Equal("bob", thread.Peer("alice"))
	req.Equal("alice", thread.Peer("bob"))
	req.True(thread.HasParticipant("alice"))
	req.False(thread.HasParticipant("carol"))
	req.Equal(ThreadKey("t1"), thread.Room())
}

func TestNormalizeContent(t *testing.T) {
	req := require.New(t)

	content, ok := NormalizeContent("  hello \n")
	req.True(ok)
	req.Equal("hello", content)

	_, ok = NormalizeContent(" \t\n ")
	req.False(ok)
}

func TestMessage_Preview_Truncates_On_Runes(t *testing.T) {
	req := require.New(t)
	long := make([]rune, previewLength+10)
	for i := range long {
		long[i] = 'é'
	}
	msg := Message{ID: "m1", Author: Author{ID: "a", DisplayName: "A"}, Content: string(long)}

	preview := msg.Preview()
	req.Equal("m1", preview.ID)
	req.Equal(previewLength+1, len([]rune(preview.Content)))
}

func TestUser_Author_Falls_Back_To_ID(t *testing.T) {
	req := require.New(t)
	req.Equal(Author{ID: "u1", DisplayName: "u1"}, User{ID: "u1"}.Author())
	req.Equal(Author{ID: "u1", DisplayName: "Una"}, User{ID: "u1", DisplayName: "Una"}.Author())
}
