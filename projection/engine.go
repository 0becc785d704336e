// Package projection reconciles the live event stream with locally held room
// state on the client side. It never talks to the network.
package projection

import (
	"chat-sync/domain"
	"chat-sync/domain/event"
	"slices"
	"sync"
	"time"
)

type timeline struct {
	messages []domain.Message
	index    map[string]int
}

func newTimeline(capacity int) *timeline {
	return &timeline{
		messages: make([]domain.Message, 0, capacity),
		index:    make(map[string]int, capacity),
	}
}

func (t *timeline) append(msg domain.Message) bool {
	if _, seen := t.index[msg.ID]; seen {
		return false
	}
	t.index[msg.ID] = len(t.messages)
	t.messages = append(t.messages, msg)
	return true
}

// Engine holds one viewer's view of the rooms it follows. It is safe for
// concurrent use: the network reader applies events while a renderer reads.
type Engine struct {
	mu        sync.RWMutex
	viewerID  string
	timelines map[domain.RoomKey]*timeline
	threads   []domain.DmThread
	unread    map[string]int
	active    domain.RoomKey
}

func NewEngine(viewerID string) *Engine {
	return &Engine{
		viewerID:  viewerID,
		timelines: make(map[domain.RoomKey]*timeline),
		unread:    make(map[string]int),
	}
}

func (e *Engine) ViewerID() string { return e.viewerID }

// Load installs the result of an initial fetch, oldest first. The fetch is
// authoritative for history; messages received live while it was in flight
// and newer than the fetched ones are kept after it.
func (e *Engine) Load(room domain.RoomKey, msgs []domain.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	loaded := newTimeline(len(msgs))
	for _, msg := range msgs {
		loaded.append(cloneMessage(msg))
	}
	if previous, ok := e.timelines[room]; ok {
		var last time.Time
		if n := len(loaded.messages); n > 0 {
			last = loaded.messages[n-1].CreatedAt
		}
		for _, msg := range previous.messages {
			if msg.CreatedAt.After(last) {
				loaded.append(msg)
			}
		}
	}
	e.timelines[room] = loaded
}

// Apply merges one event and reports whether local state changed.
func (e *Engine) Apply(evt event.DomainEvent) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch evt := evt.(type) {
	case event.MessageCreated:
		return e.applyMessage(evt.Message)
	case event.ReactionChanged:
		return e.applyReaction(evt)
	default:
		return false
	}
}

func (e *Engine) applyMessage(msg domain.Message) bool {
	tl, ok := e.timelines[msg.Room]
	if !ok {
		tl = newTimeline(1)
		e.timelines[msg.Room] = tl
	}
	if !tl.append(cloneMessage(msg)) {
		return false
	}
	if msg.Room.IsThread() {
		e.touchThread(msg.Room.ID, msg.CreatedAt)
		if e.active != msg.Room {
			e.unread[msg.Room.ID]++
		}
	}
	return true
}

// touchThread moves the thread to the front and stamps its activity. A
// thread not listed yet is inserted.
func (e *Engine) touchThread(threadID string, at time.Time) {
	i := slices.IndexFunc(e.threads, func(t domain.DmThread) bool { return t.ID == threadID })
	thread := domain.DmThread{ID: threadID}
	if i >= 0 {
		thread = e.threads[i]
		e.threads = slices.Delete(e.threads, i, i+1)
	}
	if at.After(thread.LastMessageAt) {
		thread.LastMessageAt = at
	}
	e.threads = slices.Insert(e.threads, 0, thread)
}

func (e *Engine) applyReaction(evt event.ReactionChanged) bool {
	tl, ok := e.timelines[evt.Room]
	if !ok {
		return false
	}
	i, ok := tl.index[evt.MessageID]
	if !ok {
		return false
	}
	msg := &tl.messages[i]
	msg.Reactions = msg.Reactions.Apply(evt.Delta(), e.viewerID)
	return true
}

// SetThreads replaces the thread list, most recently active first. Threads
// with equal activity keep their given order.
func (e *Engine) SetThreads(threads []domain.DmThread) {
	sorted := slices.Clone(threads)
	slices.SortStableFunc(sorted, func(a, b domain.DmThread) int {
		return b.LastMessageAt.Compare(a.LastMessageAt)
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	e.threads = sorted
}

// Open makes room the active view. For a thread its unread counter is reset
// in the same critical section.
func (e *Engine) Open(room domain.RoomKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = room
	if room.IsThread() {
		delete(e.unread, room.ID)
	}
}

func (e *Engine) Active() domain.RoomKey {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active
}

// Messages returns a copy of the room's sequence.
func (e *Engine) Messages(room domain.RoomKey) []domain.Message {
	e.mu.RLock()
	defer e.mu.RUnlock()
	tl, ok := e.timelines[room]
	if !ok {
		return nil
	}
	out := make([]domain.Message, len(tl.messages))
	for i, msg := range tl.messages {
		out[i] = cloneMessage(msg)
	}
	return out
}

func (e *Engine) Threads() []domain.DmThread {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.threads)
}

func (e *Engine) Unread(threadID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.unread[threadID]
}

func cloneMessage(msg domain.Message) domain.Message {
	if msg.Reactions != nil {
		msg.Reactions = msg.Reactions.Clone()
	}
	return msg
}
