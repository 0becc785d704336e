package event

import (
	"chat-sync/domain"
)

// Names of the events exchanged with clients.
const (
	JoinChannelName        = "join_channel"
	JoinThreadName         = "join_thread"
	LeaveChannelName       = "leave_channel"
	LeaveThreadName        = "leave_thread"
	SendChannelMessageName = "send_channel_message"
	SendThreadMessageName  = "send_thread_message"
	ReactName              = "react"

	MessageCreatedName  = "message_created"
	ReactionChangedName = "reaction_changed"
	ErrorName           = "error"
)

// DomainEvent is an outbound event delivered to connections.
type DomainEvent interface {
	Name() string
}

// MessageCreated carries the canonical stored message to every member of its room.
type MessageCreated struct {
	Message domain.Message `json:"message"`
}

func (MessageCreated) Name() string { return MessageCreatedName }

func (m MessageCreated) RoomID() domain.RoomKey { return m.Message.Room }

// ReactionChanged is a delta: receivers merge it into their own summary.
// Room is explicit so receivers do not depend on message ids being unique
// across channels and threads.
type ReactionChanged struct {
	Room      domain.RoomKey `json:"room"`
	MessageID string         `json:"messageId"`
	Emoji     string         `json:"emoji"`
	UserID    string         `json:"userId"`
	Added     bool           `json:"added"`
}

func (ReactionChanged) Name() string { return ReactionChangedName }

func (r ReactionChanged) RoomID() domain.RoomKey { return r.Room }

func (r ReactionChanged) Delta() domain.ReactionDelta {
	return domain.ReactionDelta{Emoji: r.Emoji, UserID: r.UserID, Added: r.Added}
}

// Error is unicast to the originating connection only.
type Error struct {
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

func (Error) Name() string { return ErrorName }
