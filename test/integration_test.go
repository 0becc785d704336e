package test

import (
	"chat-sync/auth"
	"chat-sync/client"
	"chat-sync/domain"
	"chat-sync/infrastructure/ws"
	"chat-sync/moderation"
	"chat-sync/projection"
	"chat-sync/repositories"
	"chat-sync/runtime"
	"context"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

type stack struct {
	baseURL  string
	store    *repositories.Store
	registry *runtime.Registry
	tokens   *auth.TokenService
}

func startStack(t *testing.T) stack {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelError)

	store, err := repositories.Open(t.TempDir(), log)
	req.NoError(err)

	moderator, err := moderation.NewModerator([]string{"darn"}, '*', log)
	req.NoError(err)

	tokens := auth.NewTokenService("integration-secret", "chat-sync")
	registry := runtime.NewRegistry(log, nil)
	server := ws.NewServer(ws.Config{MaxContentLength: 500, PingInterval: time.Second}, ws.Deps{
		Handler:    runtime.NewHandler(registry, store, store, log, runtime.WithModerator(moderator)),
		Resolver:   auth.NewJWTResolver(tokens, log),
		Membership: store,
		Store:      store,
		Directory:  store,
		Presence:   runtime.NewLocalPresence(time.Minute),
		Validator:  auth.NewValidator(),
		Log:        log,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	req.NoError(err)
	go func() { _ = server.App().Listener(ln) }()
	t.Cleanup(func() {
		_ = server.App().Shutdown()
		_ = store.Close()
	})

	return stack{baseURL: "http://" + ln.Addr().String(), store: store, registry: registry, tokens: tokens}
}

func (s stack) connect(t *testing.T, ctx context.Context, user domain.User) *client.Client {
	token, err := s.tokens.GenerateToken(user.ID, time.Hour)
	require.NoError(t, err)
	c, err := client.Dial(ctx, client.Config{BaseURL: s.baseURL, Token: token}, projection.NewEngine(user.ID), logs.GetLoggerFromLevel(slog.LevelError))
	require.NoError(t, err)
	go func() { _ = c.Run(ctx) }()
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func Test_Scenario(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := startStack(t)

	// 1. Directory: alice owns a server, bob is a member, carol is not
	alice, err := s.store.CreateUser(ctx, "Alice")
	req.NoError(err)
	bob, err := s.store.CreateUser(ctx, "Bob")
	req.NoError(err)
	carol, err := s.store.CreateUser(ctx, "Carol")
	req.NoError(err)
	guild, err := s.store.CreateServer(ctx, "Guild", alice.ID)
	req.NoError(err)
	general, err := s.store.CreateChannel(ctx, guild.ID, "general")
	req.NoError(err)
	req.NoError(s.store.AddMember(ctx, guild.ID, bob.ID))
	room := domain.ChannelKey(general.ID)

	aliceClient := s.connect(t, ctx, alice)
	bobClient := s.connect(t, ctx, bob)
	carolClient := s.connect(t, ctx, carol)

	// 2. Members join, the stranger is refused and not admitted
	req.NoError(aliceClient.Join(room))
	aliceClient.Open(room)
	req.NoError(bobClient.Join(room))
	bobClient.Open(room)
	req.ErrorContains(carolClient.Join(room), "403")
	req.Eventually(func() bool { return len(s.registry.Members(room)) == 2 }, waitFor, tick)

	// 3. A moderated, trimmed message reaches both members
	req.NoError(aliceClient.Send(room, "   darn it   ", ""))
	req.Eventually(func() bool { return len(bobClient.Engine().Messages(room)) == 1 }, waitFor, tick)
	received := bobClient.Engine().Messages(room)[0]
	req.NotContains(received.Content, "darn")
	req.True(strings.HasSuffix(received.Content, " it"))
	req.Equal("Alice", received.Author.DisplayName)
	req.Eventually(func() bool { return len(aliceClient.Engine().Messages(room)) == 1 }, waitFor, tick)

	// 4. Bob replies and reacts; each side sees its own viewer flag
	req.NoError(bobClient.Send(room, "agreed", received.ID))
	req.NoError(bobClient.React(received.ID, "👍"))
	req.Eventually(func() bool {
		msgs := aliceClient.Engine().Messages(room)
		return len(msgs) == 2 && msgs[0].Reactions["👍"].Count == 1
	}, waitFor, tick)
	aliceView := aliceClient.Engine().Messages(room)
	req.False(aliceView[0].Reactions["👍"].ViewerHasReacted)
	req.NotNil(aliceView[1].ReplyTo)
	req.Equal(received.ID, aliceView[1].ReplyTo.ID)
	req.Eventually(func() bool {
		return bobClient.Engine().Messages(room)[0].Reactions["👍"].ViewerHasReacted
	}, waitFor, tick)

	// 5. Persisted history agrees with the live view
	history, err := aliceClient.History(room, 10)
	req.NoError(err)
	req.Len(history, 2)
	req.Equal(domain.ReactionEntry{Count: 1}, history[0].Reactions["👍"])

	// 6. Direct thread: unread grows while bob looks elsewhere
	thread, err := aliceClient.OpenThread(bob.ID)
	req.NoError(err)
	req.Equal("Bob", thread.Peer.DisplayName)
	threadRoom := domain.ThreadKey(thread.ID)
	req.NoError(aliceClient.Join(threadRoom))
	aliceClient.Open(threadRoom)
	_, err = bobClient.RefreshThreads()
	req.NoError(err)
	req.NoError(bobClient.Join(threadRoom))
	req.Eventually(func() bool { return len(s.registry.Members(threadRoom)) == 2 }, waitFor, tick)

	for _, text := range []string{"one", "two", "three"} {
		req.NoError(aliceClient.Send(threadRoom, text, ""))
	}
	req.Eventually(func() bool { return bobClient.Engine().Unread(thread.ID) == 3 }, waitFor, tick)
	req.Equal(thread.ID, bobClient.Engine().Threads()[0].ID)
	req.Equal(0, aliceClient.Engine().Unread(thread.ID))

	bobClient.Open(threadRoom)
	req.Equal(0, bobClient.Engine().Unread(thread.ID))

	// 7. Carol cannot read the thread either
	_, err = carolClient.History(threadRoom, 10)
	req.ErrorContains(err, "403")
}
