package runtime

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"chat-sync/session"
	"context"
	"fmt"
	"log/slog"
	"time"
)

type EffectKind int

const (
	EffectNone EffectKind = iota
	EffectJoined
	EffectLeft
	EffectBroadcast
)

func (k EffectKind) String() string {
	switch k {
	case EffectJoined:
		return "joined"
	case EffectLeft:
		return "left"
	case EffectBroadcast:
		return "broadcast"
	default:
		return "none"
	}
}

// Effect describes what a handled command changed.
type Effect struct {
	Kind      EffectKind
	Room      domain.RoomKey
	Event     event.DomainEvent
	Delivered int
}

// Handler turns client commands into registry and persistence operations.
// Every rejection is returned to the caller; the handler never writes to
// the originating connection itself.
type Handler struct {
	registry   contract.IRegistry
	membership contract.MembershipAuthority
	store      contract.PersistenceGateway
	moderator  contract.Moderator
	metrics    contract.Metrics
	log        *slog.Logger
}

type HandlerOption func(*Handler)

// WithModerator censors message content before it is stored.
func WithModerator(m contract.Moderator) HandlerOption {
	return func(h *Handler) { h.moderator = m }
}

func WithMetrics(m contract.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

func NewHandler(
	registry contract.IRegistry,
	membership contract.MembershipAuthority,
	store contract.PersistenceGateway,
	log *slog.Logger,
	opts ...HandlerOption,
) *Handler {
	h := &Handler{
		registry:   registry,
		membership: membership,
		store:      store,
		log:        log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle is the single entry point for inbound commands. Commands of one
// connection must be handled serially by its caller.
func (h *Handler) Handle(ctx context.Context, conn *session.Connection, cmd domain.Command) (Effect, error) {
	effect, err := h.dispatch(ctx, conn, cmd)
	if h.metrics != nil {
		outcome := effect.Kind.String()
		if err != nil {
			outcome = errors.Reason(err)
		}
		h.metrics.EventHandled(cmd.CommandName(), outcome)
	}
	return effect, err
}

func (h *Handler) dispatch(ctx context.Context, conn *session.Connection, cmd domain.Command) (Effect, error) {
	switch c := cmd.(type) {
	case domain.JoinRoom:
		return h.join(ctx, conn, c.Room)
	case domain.LeaveRoom:
		h.registry.Leave(conn, c.Room)
		return Effect{Kind: EffectLeft, Room: c.Room}, nil
	case domain.SendMessage:
		return h.send(ctx, conn, c)
	case domain.React:
		return h.react(ctx, conn, c)
	case domain.Disconnect:
		left := h.registry.LeaveAll(conn)
		h.log.Debug("Connection left all rooms", "conn_id", conn.ID(), "rooms", left)
		return Effect{Kind: EffectLeft}, nil
	default:
		return Effect{}, fmt.Errorf("%w: %s", errors.ErrUnknownEvent, cmd.CommandName())
	}
}

func (h *Handler) join(ctx context.Context, conn *session.Connection, room domain.RoomKey) (Effect, error) {
	if err := h.authorize(ctx, conn, room); err != nil {
		return Effect{}, err
	}
	if h.registry.Join(conn, room) {
		h.log.Debug("Joined room", "room", room.String(), "user_id", conn.UserID(), "conn_id", conn.ID())
	}
	return Effect{Kind: EffectJoined, Room: room}, nil
}

func (h *Handler) send(ctx context.Context, conn *session.Connection, cmd domain.SendMessage) (Effect, error) {
	if err := h.authorize(ctx, conn, cmd.Room); err != nil {
		return Effect{}, err
	}
	content, ok := domain.NormalizeContent(cmd.Content)
	if !ok {
		return Effect{Kind: EffectNone, Room: cmd.Room}, nil
	}
	if h.moderator != nil {
		content = h.moderator.Sanitize(content)
	}

	// A disconnect must not abort a write that was already accepted
	persistCtx := context.WithoutCancel(ctx)
	start := time.Now()
	msg, err := h.store.CreateMessage(persistCtx, domain.NewMessage{
		Room:      cmd.Room,
		AuthorID:  conn.UserID(),
		Content:   content,
		ReplyToID: cmd.ReplyToID,
	})
	h.observe("create_message", start)
	if err != nil {
		h.log.Error("Unable to store message", "room", cmd.Room.String(), "user_id", conn.UserID(), "error", err)
		return Effect{}, fmt.Errorf("%w: %v", errors.ErrPersistence, err)
	}

	evt := event.MessageCreated{Message: msg}
	delivered := h.registry.Broadcast(cmd.Room, evt)
	return Effect{Kind: EffectBroadcast, Room: cmd.Room, Event: evt, Delivered: delivered}, nil
}

func (h *Handler) react(ctx context.Context, conn *session.Connection, cmd domain.React) (Effect, error) {
	if !conn.Authenticated() {
		return Effect{}, errors.ErrUnauthenticated
	}
	room, err := h.store.MessageRoom(ctx, cmd.MessageID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return Effect{}, err
		}
		return Effect{}, fmt.Errorf("%w: %v", errors.ErrPersistence, err)
	}
	if err := h.authorize(ctx, conn, room); err != nil {
		return Effect{}, err
	}

	persistCtx := context.WithoutCancel(ctx)
	start := time.Now()
	added, err := h.store.ToggleReaction(persistCtx, cmd.MessageID, conn.UserID(), cmd.Emoji)
	h.observe("toggle_reaction", start)
	if err != nil {
		h.log.Error("Unable to toggle reaction", "message_id", cmd.MessageID, "user_id", conn.UserID(), "error", err)
		return Effect{}, fmt.Errorf("%w: %v", errors.ErrPersistence, err)
	}

	evt := event.ReactionChanged{
		Room:      room,
		MessageID: cmd.MessageID,
		Emoji:     cmd.Emoji,
		UserID:    conn.UserID(),
		Added:     added,
	}
	delivered := h.registry.Broadcast(room, evt)
	return Effect{Kind: EffectBroadcast, Room: room, Event: evt, Delivered: delivered}, nil
}

// authorize re-checks membership on every call; nothing is cached.
func (h *Handler) authorize(ctx context.Context, conn *session.Connection, room domain.RoomKey) error {
	if !conn.Authenticated() {
		return errors.ErrUnauthenticated
	}
	var (
		member bool
		err    error
	)
	switch room.Kind {
	case domain.ChannelRoom:
		member, err = h.membership.IsChannelMember(ctx, conn.UserID(), room.ID)
	case domain.ThreadRoom:
		member, err = h.membership.IsThreadParticipant(ctx, conn.UserID(), room.ID)
	default:
		return fmt.Errorf("%w: room kind %q", errors.ErrInvalidInput, room.Kind)
	}
	switch {
	case errors.Is(err, errors.ErrNotFound):
		return err
	case err != nil:
		return fmt.Errorf("%w: %v", errors.ErrPersistence, err)
	case !member:
		return errors.ErrForbidden
	}
	return nil
}

func (h *Handler) observe(op string, start time.Time) {
	if h.metrics != nil {
		h.metrics.PersistenceLatency(op, time.Since(start))
	}
}
