// Package model defines the chat data structures shared by the
// transport, engine, and devserver packages.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageType is the payload kind of a chat message. Only plain text is
// supported for now; richer kinds slot in as new constants.
type MessageType string

const (
	TypeText MessageType = "TEXT"
)

// MessageStatus is the delivery state of a confirmed message.
type MessageStatus string

const (
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
)

func (s MessageStatus) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// Advance returns the further-along of the two statuses. Delivery state
// only moves forward; a stale DELIVERED after READ is ignored.
func (s MessageStatus) Advance(next MessageStatus) MessageStatus {
	if next.rank() > s.rank() {
		return next
	}
	return s
}

// UserSnapshot is a point-in-time copy of a user's display attributes.
// It is embedded in messages and conversations rather than referenced,
// so a later profile change never rewrites history.
type UserSnapshot struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Avatar  string `json:"avatar,omitempty"`
	Role    string `json:"role,omitempty"`
	Contact string `json:"contact,omitempty"`
}

// LocalIDPrefix tags provisional message ids generated at send time.
// Provisional ids are never sent to the server as message ids.
const LocalIDPrefix = "local-"

// NewLocalID returns a fresh, never-reused provisional message id.
func NewLocalID() string {
	return LocalIDPrefix + uuid.NewString()
}

// ChatMessage is a single message, either server-confirmed (server id)
// or provisional (local id, awaiting reconciliation).
type ChatMessage struct {
	MessageID string `json:"messageId"`

	// ClientRef is a client-generated correlation token carried on
	// SEND_MESSAGE and echoed back on the confirming NEW_MESSAGE, so
	// the sender can match the echo to its provisional entry without
	// guessing by content and time.
	ClientRef string `json:"clientRef,omitempty"`

	Sender   UserSnapshot  `json:"sender"`
	Receiver UserSnapshot  `json:"receiver"`
	Content  string        `json:"content"`
	Type     MessageType   `json:"type"`
	SendTime time.Time     `json:"sendTime"`
	Status   MessageStatus `json:"status"`
}

// Provisional reports whether the message is a local optimistic entry
// that has not yet been confirmed by the server.
func (m ChatMessage) Provisional() bool {
	return strings.HasPrefix(m.MessageID, LocalIDPrefix)
}

// PeerOf returns the conversation key for this message from localID's
// point of view: the other participant's id.
func (m ChatMessage) PeerOf(localID string) string {
	if m.Sender.ID == localID {
		return m.Receiver.ID
	}
	return m.Sender.ID
}

// Conversation is one entry in the conversation directory.
type Conversation struct {
	Peer            UserSnapshot `json:"peer"`
	LastMessage     *ChatMessage `json:"lastMessage,omitempty"`
	LastMessageTime time.Time    `json:"lastMessageTime"`
	UnreadCount     int          `json:"unreadCount"`
}
