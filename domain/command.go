package domain

// Command is an inbound client intent, dispatched through a single handler
// entry point.
type Command interface {
	CommandName() string
}

type JoinRoom struct {
	Room RoomKey
}

type LeaveRoom struct {
	Room RoomKey
}

type SendMessage struct {
	Room      RoomKey
	Content   string
	ReplyToID string
}

// React toggles emoji on a message. The room is resolved server-side from
// the message.
type React struct {
	MessageID string
	Emoji     string
}

// Disconnect is issued by the transport when the socket goes away.
type Disconnect struct{}

func (JoinRoom) CommandName() string    { return "join" }
func (LeaveRoom) CommandName() string   { return "leave" }
func (SendMessage) CommandName() string { return "send" }
func (React) CommandName() string       { return "react" }
func (Disconnect) CommandName() string  { return "disconnect" }
