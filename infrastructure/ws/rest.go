package ws

import (
	"chat-sync/auth"
	"chat-sync/domain"
	"chat-sync/errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/samber/lo"
)

const maxHistoryLimit = 200

type threadView struct {
	ID            string        `json:"id"`
	Peer          domain.Author `json:"peer"`
	CreatedAt     time.Time     `json:"createdAt"`
	LastMessageAt *time.Time    `json:"lastMessageAt,omitempty"`
}

type openThreadRequest struct {
	PeerID string `json:"peerId" validate:"required,max=64"`
}

// errorHandler maps domain errors to HTTP statuses. Not found is reported
// as forbidden, like on the websocket.
func errorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		status = fe.Code
	case errors.Is(err, errors.ErrUnauthenticated), errors.Is(err, errors.ErrInvalidToken):
		status = fiber.StatusUnauthorized
	case errors.IsMembershipRejection(err):
		status = fiber.StatusForbidden
	case errors.Is(err, errors.ErrInvalidInput), errors.Is(err, errors.ErrMalformedEvent), errors.Is(err, errors.ErrSameUser):
		status = fiber.StatusBadRequest
	}
	message := err.Error()
	if status == fiber.StatusInternalServerError {
		message = "internal error"
	}
	return c.Status(status).JSON(fiber.Map{"error": message})
}

// listMessages returns the recent history of a room, oldest first. Readers
// must pass the same membership check as for joining.
func (s *Server) listMessages(c *fiber.Ctx) error {
	viewer := auth.UserID(c)
	room, err := domain.NewRoomKey(c.Params("kind"), c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	limit := c.QueryInt("limit", s.cfg.HistoryLimit)
	limit = max(1, min(limit, maxHistoryLimit))

	member, err := s.isMember(c, viewer, room)
	if err != nil {
		return err
	}
	if !member {
		return errors.ErrForbidden
	}
	msgs, err := s.deps.Store.ListRecentMessages(c.UserContext(), room, limit, viewer)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"room": room, "messages": msgs})
}

func (s *Server) isMember(c *fiber.Ctx, userID string, room domain.RoomKey) (bool, error) {
	if room.IsChannel() {
		return s.deps.Membership.IsChannelMember(c.UserContext(), userID, room.ID)
	}
	return s.deps.Membership.IsThreadParticipant(c.UserContext(), userID, room.ID)
}

func (s *Server) listThreads(c *fiber.Ctx) error {
	viewer := auth.UserID(c)
	threads, err := s.deps.Directory.ListThreads(c.UserContext(), viewer)
	if err != nil {
		return err
	}
	views := make([]threadView, 0, len(threads))
	for _, thread := range threads {
		view, err := s.threadView(c, viewer, thread)
		if err != nil {
			return err
		}
		views = append(views, view)
	}
	return c.JSON(fiber.Map{"threads": views})
}

func (s *Server) openThread(c *fiber.Ctx) error {
	viewer := auth.UserID(c)
	var body openThreadRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if s.deps.Validator != nil {
		if err := s.deps.Validator.Struct(body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
	}
	thread, err := s.deps.Directory.OpenThread(c.UserContext(), viewer, body.PeerID)
	if err != nil {
		return err
	}
	view, err := s.threadView(c, viewer, thread)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(view)
}

func (s *Server) threadView(c *fiber.Ctx, viewer string, thread domain.DmThread) (threadView, error) {
	peerID := thread.Peer(viewer)
	peer, err := s.deps.Directory.GetUser(c.UserContext(), peerID)
	if errors.Is(err, errors.ErrNotFound) {
		peer = domain.User{ID: peerID}
	} else if err != nil {
		return threadView{}, err
	}
	return threadView{
		ID:            thread.ID,
		Peer:          peer.Author(),
		CreatedAt:     thread.CreatedAt,
		LastMessageAt: lo.Ternary(thread.LastMessageAt.IsZero(), nil, &thread.LastMessageAt),
	}, nil
}

func (s *Server) presence(c *fiber.Ctx) error {
	userID := c.Params("userId")
	online := false
	if s.deps.Presence != nil {
		var err error
		if online, err = s.deps.Presence.IsOnline(c.UserContext(), userID); err != nil {
			return err
		}
	}
	return c.JSON(fiber.Map{"userId": userID, "online": online})
}
