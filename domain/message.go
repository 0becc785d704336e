// Package domain contains core concepts of the chat system.
// This file defines Message records as stored and broadcast.
// Messages are created by the persistence layer; the core only holds copies.
package domain

import (
	"strings"
	"time"
)

// Author is the resolved display identity of a message writer.
type Author struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// ReplyPreview is the embedded excerpt of the message being replied to.
type ReplyPreview struct {
	ID      string `json:"id"`
	Author  Author `json:"author"`
	Content string `json:"content"`
}

// Message represents a canonical stored chat message.
type Message struct {
	ID        string          `json:"id"`
	Room      RoomKey         `json:"room"`
	Author    Author          `json:"author"`
	Content   string          `json:"content"`
	CreatedAt time.Time       `json:"createdAt"`
	ReplyToID string          `json:"replyToId,omitempty"`
	ReplyTo   *ReplyPreview   `json:"replyTo,omitempty"`
	Reactions ReactionSummary `json:"reactions"`
}

// NewMessage is what the protocol handler asks the persistence layer to store.
type NewMessage struct {
	Room      RoomKey
	AuthorID  string
	Content   string
	ReplyToID string
}

const previewLength = 120

// Preview builds the reply excerpt for m, truncated on a rune boundary.
func (m Message) Preview() *ReplyPreview {
	content := m.Content
	if runes := []rune(content); len(runes) > previewLength {
		content = string(runes[:previewLength]) + "…"
	}
	return &ReplyPreview{ID: m.ID, Author: m.Author, Content: content}
}

// NormalizeContent trims surrounding whitespace. An empty result means the
// submission carries nothing worth storing.
func NormalizeContent(content string) (string, bool) {
	trimmed := strings.TrimSpace(content)
	return trimmed, trimmed != ""
}
