package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// ConnectionState tracks the persistent channel's lifecycle. FAILED is
// sticky for the rest of the session: sends fall back to the
// request/response channel and no automatic reconnect is attempted.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "DISCONNECTED"
	StateConnecting   ConnectionState = "CONNECTING"
	StateConnected    ConnectionState = "CONNECTED"
	StateFailed       ConnectionState = "FAILED"
)

// EventKind discriminates inbound persistent-channel events.
type EventKind string

const (
	EventNewMessage   EventKind = "NEW_MESSAGE"
	EventTyping       EventKind = "TYPING"
	EventSendRejected EventKind = "SEND_REJECTED"
)

// Outbound persistent-channel operation kinds.
const (
	OpSendMessage = "SEND_MESSAGE"
	OpMarkRead    = "MARK_READ"
	OpTyping      = "TYPING"
)

// Event is a validated inbound event. Exactly one payload field is set,
// matching Kind.
type Event struct {
	Kind    EventKind
	Message *ChatMessage
	Typing  *TypingSignal
	Reject  *SendRejection
}

// SendRejection reports that the server refused a channel send. The
// clientRef identifies the provisional entry to roll back.
type SendRejection struct {
	ClientRef string
	Reason    string
}

// TypingSignal is an ephemeral "peer is typing" notification. It is
// never persisted, deduplicated, or acknowledged.
type TypingSignal struct {
	From       string
	ReceivedAt time.Time
}

// Frame is the wire envelope for every persistent-channel payload, in
// both directions. Fields beyond Kind are populated per operation.
type Frame struct {
	Kind string `json:"kind"`

	// NEW_MESSAGE (server -> client).
	Message *ChatMessage `json:"message,omitempty"`

	// TYPING (server -> client).
	From string `json:"from,omitempty"`

	// SEND_MESSAGE / TYPING (client -> server).
	ReceiverID string      `json:"receiverId,omitempty"`
	Content    string      `json:"content,omitempty"`
	Type       MessageType `json:"type,omitempty"`
	ClientRef  string      `json:"clientRef,omitempty"`

	// MARK_READ (client -> server).
	MessageID string `json:"messageId,omitempty"`

	// SEND_REJECTED (server -> client).
	Reason string `json:"reason,omitempty"`
}

// DecodeEvent validates a raw inbound frame and converts it to a typed
// Event. Shape-varying server payloads are checked here, at the
// transport boundary, so malformed input never reaches the engine.
func DecodeEvent(raw []byte, now time.Time) (Event, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Event{}, fmt.Errorf("model: decode frame: %w", err)
	}

	switch EventKind(f.Kind) {
	case EventNewMessage:
		if f.Message == nil {
			return Event{}, fmt.Errorf("model: NEW_MESSAGE frame without message")
		}
		if f.Message.MessageID == "" || f.Message.Sender.ID == "" || f.Message.Receiver.ID == "" {
			return Event{}, fmt.Errorf("model: NEW_MESSAGE frame missing ids")
		}
		return Event{Kind: EventNewMessage, Message: f.Message}, nil

	case EventTyping:
		if f.From == "" {
			return Event{}, fmt.Errorf("model: TYPING frame without sender")
		}
		return Event{Kind: EventTyping, Typing: &TypingSignal{From: f.From, ReceivedAt: now}}, nil

	case EventSendRejected:
		if f.ClientRef == "" {
			return Event{}, fmt.Errorf("model: SEND_REJECTED frame without clientRef")
		}
		return Event{Kind: EventSendRejected, Reject: &SendRejection{ClientRef: f.ClientRef, Reason: f.Reason}}, nil

	default:
		return Event{}, fmt.Errorf("model: unknown event kind %q", f.Kind)
	}
}
