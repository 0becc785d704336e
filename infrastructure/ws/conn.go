package ws

import (
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"chat-sync/session"
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/gofiber/websocket/v2"
	"golang.org/x/time/rate"
)

// serveConn owns one websocket for its whole life: it registers the
// connection, runs the write pump and handles inbound frames serially.
func (s *Server) serveConn(c *websocket.Conn) {
	userID, _ := c.Locals(localUserID).(string)
	conn := session.New(userID, c.RemoteAddr().String(), s.cfg.BufferSize)
	log := s.log.With("conn_id", conn.ID(), "user_id", userID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if s.deps.Metrics != nil {
		s.deps.Metrics.ConnectionOpened()
		defer s.deps.Metrics.ConnectionClosed()
	}
	if conn.Authenticated() && s.deps.Presence != nil {
		if err := s.deps.Presence.Online(ctx, userID, conn.ID()); err != nil {
			log.Warn("Unable to mark user online", "error", err)
		}
		defer func() {
			if err := s.deps.Presence.Offline(context.WithoutCancel(ctx), userID, conn.ID()); err != nil {
				log.Warn("Unable to mark user offline", "error", err)
			}
		}()
	}
	log.Debug("Connection opened", "remote_addr", conn.RemoteAddr())

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		s.writePump(c, conn)
	}()

	s.readLoop(ctx, c, conn)

	// Disconnect leaves every room; writes already handed to the store still complete
	if _, err := s.deps.Handler.Handle(ctx, conn, domain.Disconnect{}); err != nil {
		log.Warn("Disconnect failed", "error", err)
	}
	conn.Close(nil)
	<-pumpDone
	log.Debug("Connection closed", "cause", conn.Err(), "lagging", conn.Lagging())
}

func (s *Server) readLoop(ctx context.Context, c *websocket.Conn, conn *session.Connection) {
	limiter := rate.NewLimiter(rate.Limit(s.cfg.RateLimitPerSec), max(1, s.cfg.RateBurst))
	c.SetReadLimit(readLimit(s.cfg.MaxContentLength))

	// Pongs count as activity: a member who only listens stays online
	var lastTouch time.Time
	touch := func() {
		if !conn.Authenticated() || s.deps.Presence == nil || time.Since(lastTouch) < s.cfg.PresenceRefresh {
			return
		}
		lastTouch = time.Now()
		if err := s.deps.Presence.Touch(ctx, conn.UserID(), conn.ID()); err != nil {
			s.log.Debug("Presence refresh failed", "conn_id", conn.ID(), "error", err)
		}
	}

	pongWait := s.cfg.PingInterval * 2
	if pongWait > 0 {
		_ = c.SetReadDeadline(time.Now().Add(pongWait))
	}
	c.SetPongHandler(func(string) error {
		touch()
		if pongWait > 0 {
			return c.SetReadDeadline(time.Now().Add(pongWait))
		}
		return nil
	})

	for {
		mt, frame, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && conn.Err() == nil {
				s.log.Debug("Read failed", "conn_id", conn.ID(), "error", err)
			}
			return
		}
		if pongWait > 0 {
			_ = c.SetReadDeadline(time.Now().Add(pongWait))
		}
		if mt != websocket.TextMessage {
			continue
		}
		touch()
		if !limiter.Allow() {
			s.reply(conn, errors.ErrRateLimited, "too many events")
			continue
		}
		s.dispatch(ctx, conn, frame)
	}
}

// readLimit leaves room for a maximal message whose every rune is escaped
// as \uXXXX, plus the envelope around it.
func readLimit(maxContentLength int) int64 {
	return int64(maxContentLength)*6 + 1024
}

func (s *Server) dispatch(ctx context.Context, conn *session.Connection, frame []byte) {
	cmd, err := event.DecodeCommand(frame, s.deps.Validator)
	if err != nil {
		s.reply(conn, err, "malformed event")
		return
	}
	if send, ok := cmd.(domain.SendMessage); ok && s.cfg.MaxContentLength > 0 &&
		utf8.RuneCountInString(send.Content) > s.cfg.MaxContentLength {
		s.reply(conn, errors.ErrMalformedEvent, fmt.Sprintf("content longer than %d characters", s.cfg.MaxContentLength))
		return
	}

	_, err = s.deps.Handler.Handle(ctx, conn, cmd)
	if err == nil {
		return
	}
	// Joining a room one cannot see is not acknowledged at all
	if _, isJoin := cmd.(domain.JoinRoom); isJoin && errors.IsMembershipRejection(err) {
		return
	}
	s.reply(conn, err, describe(err))
}

// reply unicasts an error event to the originating connection only.
func (s *Server) reply(conn *session.Connection, err error, message string) {
	if !conn.Deliver(event.Error{Message: message, Reason: errors.Reason(err)}) {
		s.log.Debug("Error event dropped", "conn_id", conn.ID(), "error", err)
	}
}

func describe(err error) string {
	switch errors.Reason(err) {
	case errors.ReasonUnauthenticated:
		return "authentication required"
	case errors.ReasonForbidden:
		return "not a member of this room"
	case errors.ReasonBadRequest:
		return "invalid request"
	case errors.ReasonRateLimited:
		return "too many events"
	default:
		return "something went wrong"
	}
}

// writePump is the only writer of the socket.
func (s *Server) writePump(c *websocket.Conn, conn *session.Connection) {
	var pings <-chan time.Time
	if s.cfg.PingInterval > 0 {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}
	defer func() {
		// Unblocks the read loop when the pump stops first
		_ = c.Close()
	}()

	for {
		select {
		case evt := <-conn.Outbound():
			data, err := event.Encode(evt)
			if err != nil {
				s.log.Error("Unable to encode event", "event", evt.Name(), "error", err)
				continue
			}
			_ = c.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				conn.Close(err)
				return
			}
		case <-pings:
			_ = c.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close(err)
				return
			}
		case <-conn.Done():
			code := websocket.CloseNormalClosure
			if conn.Lagging() {
				code = websocket.ClosePolicyViolation
			}
			_ = c.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, closeText(conn)),
				time.Now().Add(s.cfg.WriteTimeout))
			return
		}
	}
}

func closeText(conn *session.Connection) string {
	if conn.Lagging() {
		return "slow consumer"
	}
	return ""
}
