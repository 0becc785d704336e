package postgres

import (
	"chat-sync/domain"
	"time"

	"github.com/uptrace/bun"
)

type user struct {
	bun.BaseModel `bun:"table:users"`

	ID          string    `bun:",pk"`
	DisplayName string    `bun:",notnull"`
	CreatedAt   time.Time `bun:",notnull"`
}

type server struct {
	bun.BaseModel `bun:"table:servers"`

	ID        string    `bun:",pk"`
	Name      string    `bun:",notnull"`
	OwnerID   string    `bun:",notnull"`
	CreatedAt time.Time `bun:",notnull"`
}

type channel struct {
	bun.BaseModel `bun:"table:channels"`

	ID        string    `bun:",pk"`
	ServerID  string    `bun:",notnull"`
	Name      string    `bun:",notnull"`
	CreatedAt time.Time `bun:",notnull"`
}

// A membership grants a user every channel of a server.
type membership struct {
	bun.BaseModel `bun:"table:memberships"`

	ServerID string    `bun:",pk"`
	UserID   string    `bun:",pk"`
	JoinedAt time.Time `bun:",notnull"`
}

// A dmThread stores its participants sorted so (a, b) and (b, a) collide
// on the unique pair constraint.
type dmThread struct {
	bun.BaseModel `bun:"table:dm_threads"`

	ID            string    `bun:",pk"`
	UserA         string    `bun:",notnull,unique:dm_pair"`
	UserB         string    `bun:",notnull,unique:dm_pair"`
	CreatedAt     time.Time `bun:",notnull"`
	LastMessageAt time.Time `bun:",nullzero"`
}

type message struct {
	bun.BaseModel `bun:"table:messages"`

	ID        string     `bun:",pk"`
	RoomKind  string     `bun:",notnull"`
	RoomID    string     `bun:",notnull"`
	AuthorID  string     `bun:",notnull"`
	Content   string     `bun:",notnull"`
	CreatedAt time.Time  `bun:",notnull"`
	ReplyToID string     `bun:",nullzero"`
	Reactions []reaction `bun:"rel:has-many,join:id=message_id"`
}

type reaction struct {
	bun.BaseModel `bun:"table:reactions"`

	MessageID string    `bun:",pk"`
	UserID    string    `bun:",pk"`
	Emoji     string    `bun:",pk"`
	CreatedAt time.Time `bun:",notnull"`
}

func (u user) Domain() domain.User {
	return domain.User{ID: u.ID, DisplayName: u.DisplayName, CreatedAt: u.CreatedAt.UTC()}
}

func (t dmThread) Domain() domain.DmThread {
	var last time.Time
	if !t.LastMessageAt.IsZero() {
		last = t.LastMessageAt.UTC()
	}
	return domain.DmThread{
		ID:            t.ID,
		Participants:  [2]string{t.UserA, t.UserB},
		CreatedAt:     t.CreatedAt.UTC(),
		LastMessageAt: last,
	}
}

func (m message) Room() domain.RoomKey {
	return domain.RoomKey{Kind: domain.RoomKind(m.RoomKind), ID: m.RoomID}
}

func (m message) Edges() []domain.ReactionEdge {
	edges := make([]domain.ReactionEdge, len(m.Reactions))
	for i, r := range m.Reactions {
		edges[i] = domain.ReactionEdge{MessageID: r.MessageID, UserID: r.UserID, Emoji: r.Emoji}
	}
	return edges
}
