package event

import (
	"chat-sync/domain"
	"chat-sync/errors"
	"encoding/json"
	"fmt"
)

// Envelope is the wire format of every websocket frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinChannelPayload struct {
	ChannelID string `json:"channelId" validate:"required,max=64"`
}

type JoinThreadPayload struct {
	ThreadID string `json:"threadId" validate:"required,max=64"`
}

type SendChannelMessagePayload struct {
	ChannelID string `json:"channelId" validate:"required,max=64"`
	Content   string `json:"content"`
	ReplyToID string `json:"replyToId,omitempty" validate:"omitempty,max=64"`
}

type SendThreadMessagePayload struct {
	ThreadID  string `json:"threadId" validate:"required,max=64"`
	Content   string `json:"content"`
	ReplyToID string `json:"replyToId,omitempty" validate:"omitempty,max=64"`
}

type ReactPayload struct {
	MessageID string `json:"messageId" validate:"required,max=64"`
	Emoji     string `json:"emoji" validate:"required,max=64,reaction"`
}

// Validator checks decoded payloads before they become commands.
type Validator interface {
	Struct(s any) error
}

// Encode wraps an outbound event into its envelope.
func Encode(evt DomainEvent) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: evt.Name(), Data: data})
}

// DecodeCommand turns an inbound frame into a domain command.
func DecodeCommand(frame []byte, v Validator) (domain.Command, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedEvent, err)
	}
	switch env.Event {
	case JoinChannelName, LeaveChannelName:
		var p JoinChannelPayload
		if err := decodePayload(env.Data, &p, v); err != nil {
			return nil, err
		}
		if env.Event == LeaveChannelName {
			return domain.LeaveRoom{Room: domain.ChannelKey(p.ChannelID)}, nil
		}
		return domain.JoinRoom{Room: domain.ChannelKey(p.ChannelID)}, nil
	case JoinThreadName, LeaveThreadName:
		var p JoinThreadPayload
		if err := decodePayload(env.Data, &p, v); err != nil {
			return nil, err
		}
		if env.Event == LeaveThreadName {
			return domain.LeaveRoom{Room: domain.ThreadKey(p.ThreadID)}, nil
		}
		return domain.JoinRoom{Room: domain.ThreadKey(p.ThreadID)}, nil
	case SendChannelMessageName:
		var p SendChannelMessagePayload
		if err := decodePayload(env.Data, &p, v); err != nil {
			return nil, err
		}
		return domain.SendMessage{Room: domain.ChannelKey(p.ChannelID), Content: p.Content, ReplyToID: p.ReplyToID}, nil
	case SendThreadMessageName:
		var p SendThreadMessagePayload
		if err := decodePayload(env.Data, &p, v); err != nil {
			return nil, err
		}
		return domain.SendMessage{Room: domain.ThreadKey(p.ThreadID), Content: p.Content, ReplyToID: p.ReplyToID}, nil
	case ReactName:
		var p ReactPayload
		if err := decodePayload(env.Data, &p, v); err != nil {
			return nil, err
		}
		return domain.React{MessageID: p.MessageID, Emoji: p.Emoji}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownEvent, env.Event)
	}
}

func decodePayload(data json.RawMessage, target any, v Validator) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", errors.ErrMalformedEvent)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrMalformedEvent, err)
	}
	if v == nil {
		return nil
	}
	if err := v.Struct(target); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrMalformedEvent, err)
	}
	return nil
}

// DecodeEvent parses an outbound frame on the client side.
func DecodeEvent(frame []byte) (DomainEvent, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedEvent, err)
	}
	var evt DomainEvent
	switch env.Event {
	case MessageCreatedName:
		var m MessageCreated
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrMalformedEvent, err)
		}
		evt = m
	case ReactionChangedName:
		var r ReactionChanged
		if err := json.Unmarshal(env.Data, &r); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrMalformedEvent, err)
		}
		evt = r
	case ErrorName:
		var e Error
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrMalformedEvent, err)
		}
		evt = e
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownEvent, env.Event)
	}
	return evt, nil
}

// EncodeCommand is the client-side counterpart of DecodeCommand.
func EncodeCommand(cmd domain.Command) ([]byte, error) {
	var name string
	var payload any
	switch c := cmd.(type) {
	case domain.JoinRoom:
		name, payload = roomEvent(c.Room, JoinChannelName, JoinThreadName)
	case domain.LeaveRoom:
		name, payload = roomEvent(c.Room, LeaveChannelName, LeaveThreadName)
	case domain.SendMessage:
		if c.Room.IsChannel() {
			name = SendChannelMessageName
			payload = SendChannelMessagePayload{ChannelID: c.Room.ID, Content: c.Content, ReplyToID: c.ReplyToID}
		} else {
			name = SendThreadMessageName
			payload = SendThreadMessagePayload{ThreadID: c.Room.ID, Content: c.Content, ReplyToID: c.ReplyToID}
		}
	case domain.React:
		name = ReactName
		payload = ReactPayload{MessageID: c.MessageID, Emoji: c.Emoji}
	default:
		return nil, fmt.Errorf("%w: %s", errors.ErrUnknownEvent, cmd.CommandName())
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: name, Data: data})
}

func roomEvent(room domain.RoomKey, channelName, threadName string) (string, any) {
	if room.IsChannel() {
		return channelName, JoinChannelPayload{ChannelID: room.ID}
	}
	return threadName, JoinThreadPayload{ThreadID: room.ID}
}
