package runtime

import (
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"chat-sync/mocks"
	"chat-sync/session"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type handlerFixture struct {
	registry   *Registry
	membership *mocks.MockMembershipAuthority
	store      *mocks.MockPersistenceGateway
	handler    *Handler
}

func newHandlerFixture(t *testing.T, opts ...HandlerOption) handlerFixture {
	ctrl := gomock.NewController(t)
	log := logs.GetLoggerFromLevel(slog.LevelError)
	registry := NewRegistry(log, nil)
	membership := mocks.NewMockMembershipAuthority(ctrl)
	store := mocks.NewMockPersistenceGateway(ctrl)
	return handlerFixture{
		registry:   registry,
		membership: membership,
		store:      store,
		handler:    NewHandler(registry, membership, store, log, opts...),
	}
}

func drain(conn *session.Connection) []event.DomainEvent {
	var out []event.DomainEvent
	for {
		select {
		case evt := <-conn.Outbound():
			out = append(out, evt)
		default:
			return out
		}
	}
}

func TestHandler_Join_Scenario_Member_And_Stranger(t *testing.T) {
	req := require.New(t)
	f := newHandlerFixture(t)
	ctx := context.Background()
	room := domain.ChannelKey("C")
	connA := session.New("A", "", 8)
	connB := session.New("B", "", 8)

	// Given A is a member of the server owning C and B is not
	f.membership.EXPECT().IsChannelMember(gomock.Any(), "A", "C").Return(true, nil).AnyTimes()
	f.membership.EXPECT().IsChannelMember(gomock.Any(), "B", "C").Return(false, nil).AnyTimes()

	// When both join
	effA, errA := f.handler.Handle(ctx, connA, domain.JoinRoom{Room: room})
	_, errB := f.handler.Handle(ctx, connB, domain.JoinRoom{Room: room})

	// Then only A is subscribed
	req.NoError(errA)
	req.Equal(EffectJoined, effA.Kind)
	req.ErrorIs(errB, errors.ErrForbidden)
	req.True(errors.IsMembershipRejection(errB))
	req.Equal([]string{connA.ID()}, f.registry.Members(room))

	// When A sends a message
	stored := domain.Message{ID: "m1", Room: room, Author: domain.Author{ID: "A", DisplayName: "A"}, Content: "hi", CreatedAt: time.Now()}
	f.store.EXPECT().CreateMessage(gomock.Any(), domain.NewMessage{Room: room, AuthorID: "A", Content: "hi"}).Return(stored, nil)
	eff, err := f.handler.Handle(ctx, connA, domain.SendMessage{Room: room, Content: "hi"})

	// Then A receives it and B does not
	req.NoError(err)
	req.Equal(1, eff.Delivered)
	req.Equal([]event.DomainEvent{event.MessageCreated{Message: stored}}, drain(connA))
	req.Empty(drain(connB))
}

func TestHandler_Unknown_Room_Is_Not_Found(t *testing.T) {
	req := require.New(t)
	f := newHandlerFixture(t)
	conn := session.New("A", "", 8)

	f.membership.EXPECT().IsThreadParticipant(gomock.Any(), "A", "ghost").Return(false, errors.ErrNotFound)

	_, err := f.handler.Handle(context.Background(), conn, domain.JoinRoom{Room: domain.ThreadKey("ghost")})

	req.ErrorIs(err, errors.ErrNotFound)
	req.Equal(errors.ReasonForbidden, errors.Reason(err))
	req.Equal(0, f.registry.Rooms())
}

func TestHandler_Anonymous_Connection_Is_Rejected(t *testing.T) {
	req := require.New(t)
	f := newHandlerFixture(t)
	conn := session.New("", "", 8)
	room := domain.ChannelKey("C")

	_, err := f.handler.Handle(context.Background(), conn, domain.JoinRoom{Room: room})
	req.ErrorIs(err, errors.ErrUnauthenticated)

	_, err = f.handler.Handle(context.Background(), conn, domain.SendMessage{Room: room, Content: "x"})
	req.ErrorIs(err, errors.ErrUnauthenticated)

	_, err = f.handler.Handle(context.Background(), conn, domain.React{MessageID: "m1", Emoji: "👍"})
	req.ErrorIs(err, errors.ErrUnauthenticated)
}

func TestHandler_Send_Trims_And_Ignores_Whitespace(t *testing.T) {
	req := require.New(t)
	f := newHandlerFixture(t)
	ctx := context.Background()
	room := domain.ChannelKey("C")
	conn := session.New("A", "", 8)
	f.membership.EXPECT().IsChannelMember(gomock.Any(), "A", "C").Return(true, nil).AnyTimes()
	_, err := f.handler.Handle(ctx, conn, domain.JoinRoom{Room: room})
	req.NoError(err)

	// Given a message with surrounding whitespace
	stored := domain.Message{ID: "m1", Room: room, Content: "hi"}
	f.store.EXPECT().
		CreateMessage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msg domain.NewMessage) (domain.Message, error) {
			req.Equal("hi", msg.Content)
			return stored, nil
		}).
		Times(1)

	// When it is sent
	_, err = f.handler.Handle(ctx, conn, domain.SendMessage{Room: room, Content: "  hi  "})
	req.NoError(err)

	// Then it is stored trimmed and broadcast once
	events := drain(conn)
	req.Len(events, 1)
	req.Equal("hi", events[0].(event.MessageCreated).Message.Content)

	// When only whitespace is sent
	eff, err := f.handler.Handle(ctx, conn, domain.SendMessage{Room: room, Content: "   "})

	// Then nothing is stored, broadcast or reported
	req.NoError(err)
	req.Equal(EffectNone, eff.Kind)
	req.Empty(drain(conn))
}

func TestHandler_Send_Revalidates_Membership(t *testing.T) {
	req := require.New(t)
	f := newHandlerFixture(t)
	ctx := context.Background()
	room := domain.ChannelKey("C")
	conn := session.New("A", "", 8)

	// Given A joined while still a member
	gomock.InOrder(
		f.membership.EXPECT().IsChannelMember(gomock.Any(), "A", "C").Return(true, nil),
		f.membership.EXPECT().IsChannelMember(gomock.Any(), "A", "C").Return(false, nil),
	)
	_, err := f.handler.Handle(ctx, conn, domain.JoinRoom{Room: room})
	req.NoError(err)

	// When A writes after losing membership
	_, err = f.handler.Handle(ctx, conn, domain.SendMessage{Room: room, Content: "hi"})

	// Then the write is refused and nothing is stored
	req.ErrorIs(err, errors.ErrForbidden)
	req.Empty(drain(conn))
}

func TestHandler_Persistence_Failure_Is_Not_Broadcast(t *testing.T) {
	req := require.New(t)
	f := newHandlerFixture(t)
	ctx := context.Background()
	room := domain.ThreadKey("T")
	conn := session.New("A", "", 8)
	other := session.New("B", "", 8)
	f.membership.EXPECT().IsThreadParticipant(gomock.Any(), gomock.Any(), "T").Return(true, nil).AnyTimes()
	_, _ = f.handler.Handle(ctx, conn, domain.JoinRoom{Room: room})
	_, _ = f.handler.Handle(ctx, other, domain.JoinRoom{Room: room})

	f.store.EXPECT().CreateMessage(gomock.Any(), gomock.Any()).Return(domain.Message{}, fmt.Errorf("disk full"))

	_, err := f.handler.Handle(ctx, conn, domain.SendMessage{Room: room, Content: "hello"})

	req.ErrorIs(err, errors.ErrPersistence)
	req.Equal(errors.ReasonInternal, errors.Reason(err))
	req.Empty(drain(conn))
	req.Empty(drain(other))
}

func TestHandler_Send_Survives_Caller_Cancellation(t *testing.T) {
	req := require.New(t)
	f := newHandlerFixture(t)
	room := domain.ChannelKey("C")
	conn := session.New("A", "", 8)
	f.membership.EXPECT().IsChannelMember(gomock.Any(), "A", "C").Return(true, nil).AnyTimes()
	ctx, cancel := context.WithCancel(context.Background())
	_, err := f.handler.Handle(ctx, conn, domain.JoinRoom{Room: room})
	req.NoError(err)

	// Given the connection context is canceled while the write is in flight
	f.store.EXPECT().
		CreateMessage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, msg domain.NewMessage) (domain.Message, error) {
			cancel()
			req.NoError(ctx.Err())
			return domain.Message{ID: "m1", Room: msg.Room, Content: msg.Content}, nil
		})

	// Then the message is still stored and broadcast
	eff, err := f.handler.Handle(ctx, conn, domain.SendMessage{Room: room, Content: "bye"})
	req.NoError(err)
	req.Equal(EffectBroadcast, eff.Kind)
}

func TestHandler_React_Toggles_And_Broadcasts_Delta(t *testing.T) {
	req := require.New(t)
	f := newHandlerFixture(t)
	ctx := context.Background()
	room := domain.ChannelKey("C")
	connA := session.New("A", "", 8)
	connB := session.New("B", "", 8)
	f.membership.EXPECT().IsChannelMember(gomock.Any(), gomock.Any(), "C").Return(true, nil).AnyTimes()
	_, _ = f.handler.Handle(ctx, connA, domain.JoinRoom{Room: room})
	_, _ = f.handler.Handle(ctx, connB, domain.JoinRoom{Room: room})

	f.store.EXPECT().MessageRoom(gomock.Any(), "m1").Return(room, nil).Times(3)
	gomock.InOrder(
		f.store.EXPECT().ToggleReaction(gomock.Any(), "m1", "A", "👍").Return(true, nil),
		f.store.EXPECT().ToggleReaction(gomock.Any(), "m1", "B", "👍").Return(true, nil),
		f.store.EXPECT().ToggleReaction(gomock.Any(), "m1", "A", "👍").Return(false, nil),
	)

	// When A, B and A again react with the same emoji
	_, err := f.handler.Handle(ctx, connA, domain.React{MessageID: "m1", Emoji: "👍"})
	req.NoError(err)
	_, err = f.handler.Handle(ctx, connB, domain.React{MessageID: "m1", Emoji: "👍"})
	req.NoError(err)
	_, err = f.handler.Handle(ctx, connA, domain.React{MessageID: "m1", Emoji: "👍"})
	req.NoError(err)

	// Then every member observes the same three deltas
	expected := []event.DomainEvent{
		event.ReactionChanged{Room: room, MessageID: "m1", Emoji: "👍", UserID: "A", Added: true},
		event.ReactionChanged{Room: room, MessageID: "m1", Emoji: "👍", UserID: "B", Added: true},
		event.ReactionChanged{Room: room, MessageID: "m1", Emoji: "👍", UserID: "A", Added: false},
	}
	eventsA := drain(connA)
	eventsB := drain(connB)
	req.Equal(expected, eventsA)
	req.Equal(expected, eventsB)

	// And B's local view folds them into {👍: 1, viewer reacted}
	var summary domain.ReactionSummary
	for _, evt := range eventsB {
		summary = summary.Apply(evt.(event.ReactionChanged).Delta(), "B")
	}
	req.Equal(domain.ReactionSummary{"👍": {Count: 1, ViewerHasReacted: true}}, summary)
}

func TestHandler_React_On_Unknown_Message(t *testing.T) {
	req := require.New(t)
	f := newHandlerFixture(t)
	conn := session.New("A", "", 8)

	f.store.EXPECT().MessageRoom(gomock.Any(), "nope").Return(domain.RoomKey{}, errors.ErrNotFound)

	_, err := f.handler.Handle(context.Background(), conn, domain.React{MessageID: "nope", Emoji: "🎉"})

	req.ErrorIs(err, errors.ErrNotFound)
}

func TestHandler_Disconnect_Leaves_All_Rooms(t *testing.T) {
	req := require.New(t)
	f := newHandlerFixture(t)
	ctx := context.Background()
	conn := session.New("A", "", 8)
	f.membership.EXPECT().IsChannelMember(gomock.Any(), "A", gomock.Any()).Return(true, nil).AnyTimes()
	f.membership.EXPECT().IsThreadParticipant(gomock.Any(), "A", gomock.Any()).Return(true, nil).AnyTimes()
	_, _ = f.handler.Handle(ctx, conn, domain.JoinRoom{Room: domain.ChannelKey("C1")})
	_, _ = f.handler.Handle(ctx, conn, domain.JoinRoom{Room: domain.ThreadKey("T1")})
	req.Equal(2, f.registry.Rooms())

	eff, err := f.handler.Handle(ctx, conn, domain.Disconnect{})

	req.NoError(err)
	req.Equal(EffectLeft, eff.Kind)
	req.Equal(0, f.registry.Rooms())
}

type starModerator struct{}

func (starModerator) Sanitize(content string) string { return "***" }

func TestHandler_Send_Applies_Moderation(t *testing.T) {
	req := require.New(t)
	f := newHandlerFixture(t, WithModerator(starModerator{}))
	room := domain.ChannelKey("C")
	conn := session.New("A", "", 8)
	f.membership.EXPECT().IsChannelMember(gomock.Any(), "A", "C").Return(true, nil)
	f.store.EXPECT().
		CreateMessage(gomock.Any(), domain.NewMessage{Room: room, AuthorID: "A", Content: "***"}).
		Return(domain.Message{ID: "m1", Room: room, Content: "***"}, nil)

	_, err := f.handler.Handle(context.Background(), conn, domain.SendMessage{Room: room, Content: "damn"})

	req.NoError(err)
}
