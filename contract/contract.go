//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/session"
	"context"
	"reflect"
	"time"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// Used for logging by the supervisor.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Handshake is what the transport knows about a client when it connects.
type Handshake struct {
	Token      string
	RemoteAddr string
}

type IdentityResolver interface {
	// Resolve returns the user behind a handshake. ok is false for anonymous
	// or invalid credentials; the connection is then kept but cannot act.
	Resolve(ctx context.Context, hs Handshake) (userID string, ok bool)
}

// MembershipAuthority answers access questions. Both methods return
// errors.ErrNotFound when the room does not exist.
type MembershipAuthority interface {
	IsChannelMember(ctx context.Context, userID, channelID string) (bool, error)
	IsThreadParticipant(ctx context.Context, userID, threadID string) (bool, error)
}

type PersistenceGateway interface {
	CreateMessage(ctx context.Context, msg domain.NewMessage) (domain.Message, error)
	MessageRoom(ctx context.Context, messageID string) (domain.RoomKey, error)
	ToggleReaction(ctx context.Context, messageID, userID, emoji string) (added bool, err error)
	// ListRecentMessages returns at most limit messages, oldest first, with
	// reaction summaries projected for viewerID.
	ListRecentMessages(ctx context.Context, room domain.RoomKey, limit int, viewerID string) ([]domain.Message, error)
}

type Directory interface {
	CreateUser(ctx context.Context, displayName string) (domain.User, error)
	GetUser(ctx context.Context, userID string) (domain.User, error)
	CreateServer(ctx context.Context, name, ownerID string) (domain.Server, error)
	CreateChannel(ctx context.Context, serverID, name string) (domain.Channel, error)
	AddMember(ctx context.Context, serverID, userID string) error
	OpenThread(ctx context.Context, userA, userB string) (domain.DmThread, error)
	ListThreads(ctx context.Context, userID string) ([]domain.DmThread, error)
}

// Store bundles everything a storage backend provides.
type Store interface {
	PersistenceGateway
	MembershipAuthority
	Directory
	Close() error
}

type PresenceTracker interface {
	Online(ctx context.Context, userID, connID string) error
	Touch(ctx context.Context, userID, connID string) error
	Offline(ctx context.Context, userID, connID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// Moderator rewrites message content before it is stored.
type Moderator interface {
	Sanitize(content string) string
}

type IRegistry interface {
	Join(conn *session.Connection, room domain.RoomKey) bool
	Leave(conn *session.Connection, room domain.RoomKey) bool
	LeaveAll(conn *session.Connection) int
	Broadcast(room domain.RoomKey, evt event.DomainEvent) int
	Members(room domain.RoomKey) []string
	Rooms() int
}

// Metrics receives the counters the core produces.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	EventHandled(name string, outcome string)
	Broadcast(kind domain.RoomKind, delivered int)
	ConsumerEvicted()
	PersistenceLatency(op string, d time.Duration)
}
