package projection

import (
	"chat-sync/domain"
	"chat-sync/domain/event"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func message(id string, room domain.RoomKey, at time.Time) domain.Message {
	return domain.Message{
		ID:        id,
		Room:      room,
		Author:    domain.Author{ID: "bob", DisplayName: "Bob"},
		Content:   "content of " + id,
		CreatedAt: at,
	}
}

func ids(msgs []domain.Message) []string {
	return lo.Map(msgs, func(m domain.Message, _ int) string { return m.ID })
}

func TestEngine_Duplicate_Message_Is_Discarded(t *testing.T) {
	req := require.New(t)
	engine := NewEngine("alice")
	room := domain.ChannelKey("general")
	evt := event.MessageCreated{Message: message("m1", room, t0)}

	req.True(engine.Apply(evt))
	req.False(engine.Apply(evt))

	req.Len(engine.Messages(room), 1)
}

func TestEngine_Live_Messages_Are_Appended_Not_Sorted(t *testing.T) {
	req := require.New(t)
	engine := NewEngine("alice")
	room := domain.ChannelKey("general")

	// Given an authoritative history
	engine.Load(room, []domain.Message{message("m1", room, t0), message("m2", room, t0.Add(time.Second))})

	// When a live message carries an older timestamp
	engine.Apply(event.MessageCreated{Message: message("m3", room, t0.Add(-time.Hour))})

	// Then it is still appended at the end
	req.Equal([]string{"m1", "m2", "m3"}, ids(engine.Messages(room)))
}

func TestEngine_Load_Keeps_Newer_Live_Messages(t *testing.T) {
	req := require.New(t)
	engine := NewEngine("alice")
	room := domain.ChannelKey("general")

	// Given a live message arrived while the history was being fetched
	engine.Apply(event.MessageCreated{Message: message("m3", room, t0.Add(2*time.Second))})
	engine.Apply(event.MessageCreated{Message: message("m2", room, t0.Add(time.Second))})

	// When the fetch lands and already contains m2
	engine.Load(room, []domain.Message{message("m1", room, t0), message("m2", room, t0.Add(time.Second))})

	// Then history comes first and nothing is duplicated
	req.Equal([]string{"m1", "m2", "m3"}, ids(engine.Messages(room)))
}

func TestEngine_Unread_Counter(t *testing.T) {
	req := require.New(t)
	engine := NewEngine("alice")
	thread := domain.ThreadKey("t1")
	engine.Open(domain.ChannelKey("general"))

	// Given thread t1 is inactive, three messages raise its counter to 3
	for i, id := range []string{"m1", "m2", "m3"} {
		engine.Apply(event.MessageCreated{Message: message(id, thread, t0.Add(time.Duration(i)*time.Second))})
	}
	req.Equal(3, engine.Unread("t1"))

	// When the thread is opened
	engine.Open(thread)
	req.Equal(0, engine.Unread("t1"))
	req.Equal(thread, engine.Active())

	// Then a fourth message while it is active keeps the counter at 0
	engine.Apply(event.MessageCreated{Message: message("m4", thread, t0.Add(time.Minute))})
	req.Equal(0, engine.Unread("t1"))

	// And a duplicate never counts
	engine.Open(domain.ChannelKey("general"))
	engine.Apply(event.MessageCreated{Message: message("m4", thread, t0.Add(time.Minute))})
	req.Equal(0, engine.Unread("t1"))
}

func TestEngine_Thread_Ordering(t *testing.T) {
	req := require.New(t)
	engine := NewEngine("alice")

	// Given threads with ties on activity
	engine.SetThreads([]domain.DmThread{
		{ID: "old", LastMessageAt: t0},
		{ID: "tie-a", LastMessageAt: t0.Add(time.Hour)},
		{ID: "tie-b", LastMessageAt: t0.Add(time.Hour)},
		{ID: "never"},
	})
	req.Equal([]string{"tie-a", "tie-b", "old", "never"}, threadIDs(engine.Threads()))

	// When a message arrives for the oldest one
	at := t0.Add(2 * time.Hour)
	engine.Apply(event.MessageCreated{Message: message("m1", domain.ThreadKey("old"), at)})

	// Then it moves to the front with its activity stamped
	threads := engine.Threads()
	req.Equal([]string{"old", "tie-a", "tie-b", "never"}, threadIDs(threads))
	req.Equal(at, threads[0].LastMessageAt)

	// And a message for an unknown thread inserts it
	engine.Apply(event.MessageCreated{Message: message("m2", domain.ThreadKey("fresh"), at.Add(time.Second))})
	req.Equal("fresh", engine.Threads()[0].ID)
	req.Equal(1, engine.Unread("fresh"))
}

func threadIDs(threads []domain.DmThread) []string {
	return lo.Map(threads, func(t domain.DmThread, _ int) string { return t.ID })
}

func TestEngine_Reaction_Merge(t *testing.T) {
	req := require.New(t)
	engine := NewEngine("alice")
	room := domain.ChannelKey("general")
	engine.Load(room, []domain.Message{message("m1", room, t0)})
	react := func(user string, added bool) bool {
		return engine.Apply(event.ReactionChanged{Room: room, MessageID: "m1", Emoji: "👍", UserID: user, Added: added})
	}

	// Given alice then bob react
	req.True(react("alice", true))
	req.True(react("bob", true))
	req.Equal(domain.ReactionSummary{"👍": {Count: 2, ViewerHasReacted: true}}, engine.Messages(room)[0].Reactions)

	// When alice withdraws
	react("alice", false)
	req.Equal(domain.ReactionSummary{"👍": {Count: 1, ViewerHasReacted: false}}, engine.Messages(room)[0].Reactions)

	// Then bob withdrawing removes the entry
	react("bob", false)
	req.Empty(engine.Messages(room)[0].Reactions)
}

func TestEngine_Reaction_For_Unknown_Message_Is_Ignored(t *testing.T) {
	req := require.New(t)
	engine := NewEngine("alice")
	room := domain.ChannelKey("general")
	engine.Load(room, []domain.Message{message("m1", room, t0)})

	req.False(engine.Apply(event.ReactionChanged{Room: room, MessageID: "ghost", Emoji: "🎉", UserID: "bob", Added: true}))
	req.False(engine.Apply(event.ReactionChanged{Room: domain.ThreadKey("m1"), MessageID: "m1", Emoji: "🎉", UserID: "bob", Added: true}))
	req.Empty(engine.Messages(room)[0].Reactions)
}

func TestEngine_Messages_Returns_A_Copy(t *testing.T) {
	req := require.New(t)
	engine := NewEngine("alice")
	room := domain.ChannelKey("general")
	msg := message("m1", room, t0)
	msg.Reactions = domain.ReactionSummary{"🔥": {Count: 1}}
	engine.Load(room, []domain.Message{msg})

	snapshot := engine.Messages(room)
	snapshot[0].Reactions["🔥"] = domain.ReactionEntry{Count: 99}

	req.Equal(1, engine.Messages(room)[0].Reactions["🔥"].Count)
}
