package messaging

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrMessengerClosed = errors.New("messenger is closed")
)

// MessageType classifies an outbound message.
type MessageType string

const (
	TypeQuestion           MessageType = "question"
	TypeAcknowledgment     MessageType = "acknowledgment"
	TypeAnswer             MessageType = "answer"
	TypeFollowUp           MessageType = "follow_up"
	TypeEscalationNotice   MessageType = "escalation_notice"
	TypeRerouteNotice      MessageType = "reroute_notice"
	TypeUnresolvableNotice MessageType = "unresolvable_notice"
	TypeClosedNotice       MessageType = "closed_notice"
)

// AllMessageTypes lists every message type; the templates package asserts its
// template map covers this set exactly.
var AllMessageTypes = []MessageType{
	TypeQuestion,
	TypeAcknowledgment,
	TypeAnswer,
	TypeFollowUp,
	TypeEscalationNotice,
	TypeRerouteNotice,
	TypeUnresolvableNotice,
	TypeClosedNotice,
}

// Message is one outbound message as handed to a Messenger.
type Message struct {
	ID string `json:"id"`
	// SenderID is empty for system-generated notices.
	SenderID    string      `json:"sender_id,omitempty"`
	RecipientID string      `json:"recipient_id"`
	Type        MessageType `json:"type"`
	Content     string      `json:"content"`
	// ContextID optionally ties the message to a conversation or task.
	ContextID string    `json:"context_id,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

// SendOptions configures a single send.
type SendOptions struct {
	SenderID    string
	RecipientID string
	Type        MessageType
	Content     string
	ContextID   string
}

// Messenger delivers messages to agents. Send returns the generated message
// ID. Implementations must be safe for concurrent use.
type Messenger interface {
	Send(ctx context.Context, opts SendOptions) (string, error)
}
