// Package event defines what the relay pushes to connected clients.
package event

import (
	"chat-relay/domain"
	"time"
)

type Kind string

const (
	KindMessage Kind = "message"
	KindError   Kind = "error"
	KindAck     Kind = "ack"
)

// Outbound is any event delivered to a connection.
type Outbound interface {
	Kind() Kind
}

// MessageBroadcast is emitted to every room member once a message is audited.
type MessageBroadcast struct {
	MessageID    string
	Room         domain.RoomID
	SenderID     string
	Content      string
	Flagged      bool
	Severity     domain.Severity
	MatchedTerms []string
	CreatedAt    time.Time
}

func (MessageBroadcast) Kind() Kind { return KindMessage }

// Rejected tells a connection one of its operations was refused.
type Rejected struct {
	Code    string
	Message string
	Room    domain.RoomID
}

func (Rejected) Kind() Kind { return KindError }

// Ack confirms authenticate, join and leave.
type Ack struct {
	Op   string
	Room domain.RoomID
}

func (Ack) Kind() Kind { return KindAck }

func FromRecord(r domain.MessageRecord) MessageBroadcast {
	return MessageBroadcast{
		MessageID:    r.ID,
		Room:         r.RoomID,
		SenderID:     r.Sender.UserID,
		Content:      r.Content,
		Flagged:      r.Classification.Flagged,
		Severity:     r.Classification.Severity,
		MatchedTerms: r.Classification.MatchedTerms,
		CreatedAt:    r.CreatedAt,
	}
}
