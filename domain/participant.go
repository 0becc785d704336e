// Package domain contains core concepts of the chat system.
// This file defines users, servers, channels, memberships and DM threads.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"slices"
	"time"
)

type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (u User) Author() Author {
	name := u.DisplayName
	if name == "" {
		name = u.ID
	}
	return Author{ID: u.ID, DisplayName: name}
}

type Server struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
}

type Channel struct {
	ID        string    `json:"id"`
	ServerID  string    `json:"serverId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Membership grants a user access to every channel of a server.
type Membership struct {
	UserID   string    `json:"userId"`
	ServerID string    `json:"serverId"`
	JoinedAt time.Time `json:"joinedAt"`
}

// DmThread is a one-to-one conversation identified by its unordered pair of
// participants.
type DmThread struct {
	ID            string    `json:"id"`
	Participants  [2]string `json:"participants"`
	CreatedAt     time.Time `json:"createdAt"`
	LastMessageAt time.Time `json:"lastMessageAt"`
}

// Pair returns the participants in canonical (sorted) order so that
// (a, b) and (b, a) designate the same thread.
func Pair(a, b string) [2]string {
	pair := []string{a, b}
	slices.Sort(pair)
	return [2]string{pair[0], pair[1]}
}

func (t DmThread) HasParticipant(userID string) bool {
	return t.Participants[0] == userID || t.Participants[1] == userID
}

// Peer returns the other participant from userID's point of view.
func (t DmThread) Peer(userID string) string {
	if t.Participants[0] == userID {
		return t.Participants[1]
	}
	return t.Participants[0]
}

func (t DmThread) Room() RoomKey { return ThreadKey(t.ID) }
