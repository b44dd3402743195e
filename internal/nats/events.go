package nats

import (
	"time"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// Stream names.
const (
	StreamMessages = "RECALL_MESSAGES"
	StreamEvents   = "RECALL_EVENTS"
)

// Subject constants.
const (
	SubjectInboundMessage  = "recall.messages.inbound"
	SubjectOutboundMessage = "recall.messages.outbound"
	SubjectTurnEvent       = "recall.events.turn"
)

// InboundMessage is published when a chat message arrives on a transport.
type InboundMessage struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	FromJID    string    `json:"from_jid"`
	ToJID      string    `json:"to_jid"`
	Body       string    `json:"body"`
	StanzaType string    `json:"stanza_type"`
	ReceivedAt time.Time `json:"received_at"`
}

// OutboundMessage is published to send a reply back through the transport.
type OutboundMessage struct {
	ID        string `json:"id"`
	ToJID     string `json:"to_jid"`
	FromJID   string `json:"from_jid"`
	Body      string `json:"body"`
	InReplyTo string `json:"in_reply_to,omitempty"`
}

// Turn outcomes.
const (
	OutcomeReplied     = "replied"
	OutcomeRateLimited = "rate_limited"
	OutcomeRejected    = "rejected"
	OutcomeFailed      = "failed"
)

// TurnEvent records one processed inbound message.
type TurnEvent struct {
	MessageID  string        `json:"message_id"`
	UserID     string        `json:"user_id"`
	Outcome    string        `json:"outcome"`
	Reason     string        `json:"reason,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
	ReceivedAt time.Time     `json:"received_at"`
	Timestamp  time.Time     `json:"timestamp"`
}
