package websocket

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// inboundFrame is what clients send, one JSON object per text message.
type inboundFrame struct {
	Type      string `json:"type" validate:"required,oneof=authenticate join leave send"`
	Token     string `json:"token" validate:"required_if=Type authenticate"`
	RoomID    string `json:"roomId" validate:"required_if=Type join,required_if=Type leave,required_if=Type send,max=128"`
	Content   string `json:"content" validate:"required_if=Type send"`
	MessageID string `json:"messageId" validate:"omitempty,max=128"`
}

// command maps a validated frame other than authenticate to a gateway command.
func (f inboundFrame) command() domain.Command {
	room := domain.RoomID(f.RoomID)
	switch f.Type {
	case "join":
		return domain.JoinCommand{Room: room}
	case "leave":
		return domain.LeaveCommand{Room: room}
	default:
		return domain.SendCommand{Room: room, Content: f.Content, MessageID: f.MessageID}
	}
}

type outboundFrame struct {
	Type         string           `json:"type"`
	RoomID       string           `json:"roomId,omitempty"`
	MessageID    string           `json:"messageId,omitempty"`
	SenderID     string           `json:"senderId,omitempty"`
	Content      string           `json:"content,omitempty"`
	Flagged      bool             `json:"flagged,omitempty"`
	Severity     *domain.Severity `json:"severity,omitempty"`
	MatchedTerms []string         `json:"matchedTerms,omitempty"`
	CreatedAt    *time.Time       `json:"createdAt,omitempty"`
	Op           string           `json:"op,omitempty"`
	Code         string           `json:"code,omitempty"`
	Message      string           `json:"message,omitempty"`
}

func toFrame(e event.Outbound) outboundFrame {
	frame := outboundFrame{Type: string(e.Kind())}
	switch evt := e.(type) {
	case event.MessageBroadcast:
		frame.RoomID = string(evt.Room)
		frame.MessageID = evt.MessageID
		frame.SenderID = evt.SenderID
		frame.Content = evt.Content
		frame.Flagged = evt.Flagged
		frame.Severity = &evt.Severity
		frame.MatchedTerms = evt.MatchedTerms
		frame.CreatedAt = &evt.CreatedAt
	case event.Rejected:
		frame.RoomID = string(evt.Room)
		frame.Code = evt.Code
		frame.Message = evt.Message
	case event.Ack:
		frame.RoomID = string(evt.Room)
		frame.Op = evt.Op
	}
	return frame
}
