package session

import (
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Connection is one live client link. Its identity is fixed at creation;
// the joined room set and the outbound queue change over its lifetime.
type Connection struct {
	id         string
	userID     string
	remoteAddr string

	mu    sync.Mutex
	rooms map[domain.RoomKey]struct{}

	outbound  chan event.DomainEvent
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	lagging   atomic.Bool
}

// New creates a connection with an outbound queue of the given capacity.
// An empty userID means the handshake carried no valid identity.
func New(userID, remoteAddr string, bufferSize int) *Connection {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Connection{
		id:         uuid.NewString(),
		userID:     userID,
		remoteAddr: remoteAddr,
		rooms:      make(map[domain.RoomKey]struct{}),
		outbound:   make(chan event.DomainEvent, bufferSize),
		done:       make(chan struct{}),
	}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) UserID() string { return c.userID }

func (c *Connection) RemoteAddr() string { return c.remoteAddr }

func (c *Connection) Authenticated() bool { return c.userID != "" }

// Deliver enqueues evt without blocking. It reports false when the queue is
// full or the connection is closed.
func (c *Connection) Deliver(evt event.DomainEvent) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.outbound <- evt:
		return true
	default:
		return false
	}
}

// Outbound is drained by the transport write loop.
func (c *Connection) Outbound() <-chan event.DomainEvent { return c.outbound }

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Close is idempotent; the first cause wins.
func (c *Connection) Close(cause error) {
	c.closeOnce.Do(func() {
		if cause == nil {
			cause = errors.ErrConnClosed
		}
		c.closeErr = cause
		close(c.done)
	})
}

// Evict closes a connection that could not keep up with its rooms.
func (c *Connection) Evict() {
	c.lagging.Store(true)
	c.Close(errors.ErrSlowConsumer)
}

func (c *Connection) Lagging() bool { return c.lagging.Load() }

// Err returns the close cause, nil while open.
func (c *Connection) Err() error {
	select {
	case <-c.done:
		return c.closeErr
	default:
		return nil
	}
}

// MarkJoined records room and reports whether it was new.
func (c *Connection) MarkJoined(room domain.RoomKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[room]; ok {
		return false
	}
	c.rooms[room] = struct{}{}
	return true
}

// MarkLeft forgets room and reports whether it was joined.
func (c *Connection) MarkLeft(room domain.RoomKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[room]; !ok {
		return false
	}
	delete(c.rooms, room)
	return true
}

func (c *Connection) InRoom(room domain.RoomKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[room]
	return ok
}

// Rooms returns a snapshot of the joined rooms.
func (c *Connection) Rooms() []domain.RoomKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.RoomKey, 0, len(c.rooms))
	for room := range c.rooms {
		out = append(out, room)
	}
	return out
}
