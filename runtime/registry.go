package runtime

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/session"
	"log/slog"
	"sync"
)

type Set map[string]*session.Connection

type room struct {
	mu     sync.RWMutex
	conns  Set
	closed bool // set when the last member left; the room must be recreated
}

// Registry maps live rooms to the connections subscribed to them.
// The registry lock only guards the room lookup table; membership of a
// given room is guarded by that room's own lock so broadcasts in one room
// never wait on joins in another.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[domain.RoomKey]*room
	log     *slog.Logger
	metrics contract.Metrics
}

func NewRegistry(log *slog.Logger, metrics contract.Metrics) *Registry {
	return &Registry{
		rooms:   make(map[domain.RoomKey]*room),
		log:     log,
		metrics: metrics,
	}
}

// Join subscribes conn to key. Joining twice is a no-op; the return value
// reports whether the subscription is new.
func (r *Registry) Join(conn *session.Connection, key domain.RoomKey) bool {
	for {
		rm := r.getOrCreate(key)
		rm.mu.Lock()
		if rm.closed {
			// Lost a race with the last Leave, retry on a fresh room
			rm.mu.Unlock()
			continue
		}
		_, exists := rm.conns[conn.ID()]
		rm.conns[conn.ID()] = conn
		rm.mu.Unlock()
		conn.MarkJoined(key)
		return !exists
	}
}

func (r *Registry) getOrCreate(key domain.RoomKey) *room {
	r.mu.RLock()
	rm, ok := r.rooms[key]
	r.mu.RUnlock()
	if ok && !rm.isClosed() {
		return rm
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok = r.rooms[key]
	if !ok || rm.isClosed() {
		rm = &room{conns: make(Set)}
		r.rooms[key] = rm
	}
	return rm
}

func (rm *room) isClosed() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.closed
}

// Leave unsubscribes conn from key and drops the room once empty.
func (r *Registry) Leave(conn *session.Connection, key domain.RoomKey) bool {
	conn.MarkLeft(key)
	r.mu.RLock()
	rm, ok := r.rooms[key]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	rm.mu.Lock()
	_, present := rm.conns[conn.ID()]
	delete(rm.conns, conn.ID())
	empty := len(rm.conns) == 0
	if empty {
		rm.closed = true
	}
	rm.mu.Unlock()

	if empty {
		r.mu.Lock()
		if r.rooms[key] == rm {
			delete(r.rooms, key)
		}
		r.mu.Unlock()
	}
	return present
}

// LeaveAll removes conn from every room it joined and returns how many.
func (r *Registry) LeaveAll(conn *session.Connection) int {
	left := 0
	for _, key := range conn.Rooms() {
		if r.Leave(conn, key) {
			left++
		}
	}
	return left
}

// Broadcast enqueues evt for every member of key and returns the number of
// connections that accepted it. A member whose queue is full is evicted
// rather than waited for.
func (r *Registry) Broadcast(key domain.RoomKey, evt event.DomainEvent) int {
	r.mu.RLock()
	rm, ok := r.rooms[key]
	r.mu.RUnlock()
	if !ok {
		return 0
	}

	rm.mu.RLock()
	targets := make([]*session.Connection, 0, len(rm.conns))
	for _, conn := range rm.conns {
		targets = append(targets, conn)
	}
	rm.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if conn.Deliver(evt) {
			delivered++
			continue
		}
		if conn.Err() != nil {
			continue
		}
		r.log.Warn("Evicting slow consumer", "room", key.String(), "conn_id", conn.ID(), "user_id", conn.UserID())
		conn.Evict()
		if r.metrics != nil {
			r.metrics.ConsumerEvicted()
		}
	}
	if r.metrics != nil {
		r.metrics.Broadcast(key.Kind, delivered)
	}
	return delivered
}

// Members returns the connection ids currently subscribed to key.
func (r *Registry) Members(key domain.RoomKey) []string {
	r.mu.RLock()
	rm, ok := r.rooms[key]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	ids := make([]string, 0, len(rm.conns))
	for id := range rm.conns {
		ids = append(ids, id)
	}
	return ids
}

// Rooms is the number of rooms with at least one member.
func (r *Registry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
