package event_test

import (
	"chat-sync/auth"
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecodeCommand(t *testing.T) {
	validator := auth.NewValidator()
	testCases := []struct {
		name     string
		frame    string
		expected domain.Command
		err      error
	}{
		{
			name:     "join channel",
			frame:    `{"event":"join_channel","data":{"channelId":"c1"}}`,
			expected: domain.JoinRoom{Room: domain.ChannelKey("c1")},
		},
		{
			name:     "leave thread",
			frame:    `{"event":"leave_thread","data":{"threadId":"t1"}}`,
			expected: domain.LeaveRoom{Room: domain.ThreadKey("t1")},
		},
		{
			name:     "send with reply",
			frame:    `{"event":"send_channel_message","data":{"channelId":"c1","content":" hi ","replyToId":"m1"}}`,
			expected: domain.SendMessage{Room: domain.ChannelKey("c1"), Content: " hi ", ReplyToID: "m1"},
		},
		{
			name:     "react",
			frame:    `{"event":"react","data":{"messageId":"m1","emoji":"👍🏽"}}`,
			expected: domain.React{MessageID: "m1", Emoji: "👍🏽"},
		},
		{name: "not json", frame: `{`, err: errors.ErrMalformedEvent},
		{name: "missing data", frame: `{"event":"join_channel"}`, err: errors.ErrMalformedEvent},
		{name: "missing id", frame: `{"event":"join_thread","data":{}}`, err: errors.ErrMalformedEvent},
		{name: "emoji with spaces", frame: `{"event":"react","data":{"messageId":"m1","emoji":"a b"}}`, err: errors.ErrMalformedEvent},
		{name: "unknown event", frame: `{"event":"typing","data":{}}`, err: errors.ErrUnknownEvent},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := require.New(t)
			cmd, err := event.DecodeCommand([]byte(tc.frame), validator)
			if tc.err != nil {
				req.ErrorIs(err, tc.err)
				return
			}
			req.NoError(err)
			req.Equal(tc.expected, cmd)
		})
	}
}

func TestEncodeCommand_Is_Understood_By_DecodeCommand(t *testing.T) {
	req := require.New(t)
	commands := []domain.Command{
		domain.JoinRoom{Room: domain.ThreadKey("t1")},
		domain.LeaveRoom{Room: domain.ChannelKey("c1")},
		domain.SendMessage{Room: domain.ThreadKey("t1"), Content: "yo"},
		domain.React{MessageID: "m1", Emoji: "🎉"},
	}
	for _, cmd := range commands {
		frame, err := event.EncodeCommand(cmd)
		req.NoError(err)
		decoded, err := event.DecodeCommand(frame, nil)
		req.NoError(err)
		req.Equal(cmd, decoded)
	}

	_, err := event.EncodeCommand(domain.Disconnect{})
	req.ErrorIs(err, errors.ErrUnknownEvent)
}

func TestEncode_Envelope_Shape(t *testing.T) {
	req := require.New(t)
	evt := event.ReactionChanged{Room: domain.ThreadKey("t1"), MessageID: "m1", Emoji: "👍", UserID: "alice", Added: true}

	frame, err := event.Encode(evt)
	req.NoError(err)

	var raw map[string]any
	req.NoError(json.Unmarshal(frame, &raw))
	req.Equal("reaction_changed", raw["event"])
	req.Equal(map[string]any{
		"room":      map[string]any{"kind": "thread", "id": "t1"},
		"messageId": "m1",
		"emoji":     "👍",
		"userId":    "alice",
		"added":     true,
	}, raw["data"])
}

func TestDecodeEvent(t *testing.T) {
	req := require.New(t)
	created := event.MessageCreated{Message: domain.Message{
		ID:        "m1",
		Room:      domain.ChannelKey("c1"),
		Author:    domain.Author{ID: "bob", DisplayName: "Bob"},
		Content:   "hi",
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Reactions: domain.ReactionSummary{"👍": {Count: 1}},
	}}

	for _, evt := range []event.DomainEvent{
		created,
		event.ReactionChanged{Room: domain.ChannelKey("c1"), MessageID: "m1", Emoji: "👍", UserID: "bob"},
		event.Error{Message: "not a member of this room", Reason: errors.ReasonForbidden},
	} {
		frame, err := event.Encode(evt)
		req.NoError(err)
		decoded, err := event.DecodeEvent(frame)
		req.NoError(err)
		req.Equal(evt, decoded)
	}

	_, err := event.DecodeEvent([]byte(`{"event":"presence","data":{}}`))
	req.ErrorIs(err, errors.ErrUnknownEvent)
}
