package repositories

import (
	"chat-sync/domain"
	"chat-sync/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/go-cmp/cmp"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).
		WithLoggingLevel(badger.ERROR).
		WithValueLogFileSize(16 << 20))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db, logs.GetLoggerFromLevel(slog.LevelError))
}

type fixture struct {
	alice, bob, carol domain.User
	server            domain.Server
	channel           domain.Channel
	thread            domain.DmThread
}

// seed creates a server owned by alice with bob as member, and a thread
// between alice and carol.
func seed(t *testing.T, s *Store) fixture {
	t.Helper()
	req := require.New(t)
	ctx := context.Background()
	var f fixture
	var err error
	f.alice, err = s.CreateUser(ctx, "Alice")
	req.NoError(err)
	f.bob, err = s.CreateUser(ctx, "Bob")
	req.NoError(err)
	f.carol, err = s.CreateUser(ctx, "Carol")
	req.NoError(err)
	f.server, err = s.CreateServer(ctx, "lab", f.alice.ID)
	req.NoError(err)
	req.NoError(s.AddMember(ctx, f.server.ID, f.bob.ID))
	f.channel, err = s.CreateChannel(ctx, f.server.ID, "general")
	req.NoError(err)
	f.thread, err = s.OpenThread(ctx, f.carol.ID, f.alice.ID)
	req.NoError(err)
	return f
}

func TestStore_CreateMessage_And_List_Oldest_First(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	f := seed(t, s)
	ctx := context.Background()
	room := domain.ChannelKey(f.channel.ID)

	var created []domain.Message
	for i := 0; i < 3; i++ {
		msg, err := s.CreateMessage(ctx, domain.NewMessage{Room: room, AuthorID: f.bob.ID, Content: fmt.Sprintf("m%d", i)})
		req.NoError(err)
		req.Equal("Bob", msg.Author.DisplayName)
		req.Equal(room, msg.Room)
		req.NotEmpty(msg.ID)
		created = append(created, msg)
	}

	listed, err := s.ListRecentMessages(ctx, room, 50, f.alice.ID)
	req.NoError(err)
	if diff := cmp.Diff(created, listed); diff != "" {
		t.Fatalf("listed messages mismatch (-created +listed):\n%s", diff)
	}

	// The limit keeps the most recent ones
	latest, err := s.ListRecentMessages(ctx, room, 2, f.alice.ID)
	req.NoError(err)
	req.Equal([]string{"m1", "m2"}, []string{latest[0].Content, latest[1].Content})
}

func TestStore_CreateMessage_Unknown_Room(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	f := seed(t, s)

	_, err := s.CreateMessage(context.Background(), domain.NewMessage{Room: domain.ChannelKey("nope"), AuthorID: f.alice.ID, Content: "x"})
	req.ErrorIs(err, errors.ErrNotFound)

	// A channel id is not a thread id
	_, err = s.CreateMessage(context.Background(), domain.NewMessage{Room: domain.ThreadKey(f.channel.ID), AuthorID: f.alice.ID, Content: "x"})
	req.ErrorIs(err, errors.ErrNotFound)
}

func TestStore_Rooms_Do_Not_Share_History(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	f := seed(t, s)
	ctx := context.Background()

	_, err := s.CreateMessage(ctx, domain.NewMessage{Room: domain.ChannelKey(f.channel.ID), AuthorID: f.alice.ID, Content: "channel"})
	req.NoError(err)
	_, err = s.CreateMessage(ctx, domain.NewMessage{Room: f.thread.Room(), AuthorID: f.alice.ID, Content: "thread"})
	req.NoError(err)

	msgs, err := s.ListRecentMessages(ctx, f.thread.Room(), 10, f.alice.ID)
	req.NoError(err)
	req.Len(msgs, 1)
	req.Equal("thread", msgs[0].Content)
}

func TestStore_Reply_Preview(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	f := seed(t, s)
	ctx := context.Background()
	room := domain.ChannelKey(f.channel.ID)

	original, err := s.CreateMessage(ctx, domain.NewMessage{Room: room, AuthorID: f.alice.ID, Content: "question?"})
	req.NoError(err)
	elsewhere, err := s.CreateMessage(ctx, domain.NewMessage{Room: f.thread.Room(), AuthorID: f.alice.ID, Content: "private"})
	req.NoError(err)

	// When replying in the same room
	reply, err := s.CreateMessage(ctx, domain.NewMessage{Room: room, AuthorID: f.bob.ID, Content: "answer", ReplyToID: original.ID})
	req.NoError(err)

	// Then the preview is embedded
	req.Equal(&domain.ReplyPreview{ID: original.ID, Author: original.Author, Content: "question?"}, reply.ReplyTo)

	// When the target is dangling or in another room
	dangling, err := s.CreateMessage(ctx, domain.NewMessage{Room: room, AuthorID: f.bob.ID, Content: "?", ReplyToID: "missing"})
	req.NoError(err)
	crossRoom, err := s.CreateMessage(ctx, domain.NewMessage{Room: room, AuthorID: f.bob.ID, Content: "?", ReplyToID: elsewhere.ID})
	req.NoError(err)

	// Then the reply id is kept but no preview leaks
	req.Equal("missing", dangling.ReplyToID)
	req.Nil(dangling.ReplyTo)
	req.Nil(crossRoom.ReplyTo)
}

func TestStore_Thread_Activity_Moves_Forward(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	f := seed(t, s)
	ctx := context.Background()
	other, err := s.OpenThread(ctx, f.alice.ID, f.bob.ID)
	req.NoError(err)

	_, err = s.CreateMessage(ctx, domain.NewMessage{Room: f.thread.Room(), AuthorID: f.alice.ID, Content: "hi carol"})
	req.NoError(err)

	threads, err := s.ListThreads(ctx, f.alice.ID)
	req.NoError(err)
	req.Len(threads, 2)
	req.Equal(f.thread.ID, threads[0].ID)
	req.Equal(other.ID, threads[1].ID)
	req.False(threads[0].LastMessageAt.IsZero())
}

func TestStore_ToggleReaction(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	f := seed(t, s)
	ctx := context.Background()
	room := domain.ChannelKey(f.channel.ID)
	msg, err := s.CreateMessage(ctx, domain.NewMessage{Room: room, AuthorID: f.alice.ID, Content: "vote"})
	req.NoError(err)

	added, err := s.ToggleReaction(ctx, msg.ID, f.alice.ID, "👍")
	req.NoError(err)
	req.True(added)
	added, err = s.ToggleReaction(ctx, msg.ID, f.bob.ID, "👍")
	req.NoError(err)
	req.True(added)

	listed, err := s.ListRecentMessages(ctx, room, 1, f.bob.ID)
	req.NoError(err)
	req.Equal(domain.ReactionSummary{"👍": {Count: 2, ViewerHasReacted: true}}, listed[0].Reactions)

	// A second toggle by the same user removes the edge
	added, err = s.ToggleReaction(ctx, msg.ID, f.alice.ID, "👍")
	req.NoError(err)
	req.False(added)

	listed, err = s.ListRecentMessages(ctx, room, 1, f.alice.ID)
	req.NoError(err)
	req.Equal(domain.ReactionSummary{"👍": {Count: 1, ViewerHasReacted: false}}, listed[0].Reactions)

	room2, err := s.MessageRoom(ctx, msg.ID)
	req.NoError(err)
	req.Equal(room, room2)

	_, err = s.ToggleReaction(ctx, "missing", f.alice.ID, "👍")
	req.ErrorIs(err, errors.ErrNotFound)
	_, err = s.MessageRoom(ctx, "missing")
	req.ErrorIs(err, errors.ErrNotFound)
}

func TestStore_Concurrent_Toggles_Converge(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	f := seed(t, s)
	ctx := context.Background()
	msg, err := s.CreateMessage(ctx, domain.NewMessage{Room: domain.ChannelKey(f.channel.ID), AuthorID: f.alice.ID, Content: "race"})
	req.NoError(err)

	// Given concurrent toggles on one edge
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		committed int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ToggleReaction(ctx, msg.ID, f.bob.ID, "🔥"); err == nil {
				mu.Lock()
				committed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Then the stored state reflects the parity of committed toggles
	listed, err := s.ListRecentMessages(ctx, domain.ChannelKey(f.channel.ID), 1, f.bob.ID)
	req.NoError(err)
	if committed%2 == 0 {
		req.Empty(listed[0].Reactions)
	} else {
		req.Equal(domain.ReactionSummary{"🔥": {Count: 1, ViewerHasReacted: true}}, listed[0].Reactions)
	}
}

func TestStore_Created_At_Is_UTC(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	f := seed(t, s)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	msg, err := s.CreateMessage(context.Background(), domain.NewMessage{Room: domain.ChannelKey(f.channel.ID), AuthorID: f.alice.ID, Content: "x"})

	req.NoError(err)
	req.Equal(fixed, msg.CreatedAt)
}
