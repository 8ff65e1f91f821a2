package domain

import "time"

// Filter narrows audit queries. Zero values mean "no constraint".
type Filter struct {
	RoomID   RoomID
	SenderID string
	Flagged  *bool
	Since    time.Time
	Until    time.Time
	// Query is a full-text query over message content.
	Query string
}

// Matches applies every constraint except Query.
func (f Filter) Matches(r MessageRecord) bool {
	if f.RoomID != "" && r.RoomID != f.RoomID {
		return false
	}
	if f.SenderID != "" && r.Sender.UserID != f.SenderID {
		return false
	}
	if f.Flagged != nil && r.Classification.Flagged != *f.Flagged {
		return false
	}
	if !f.Since.IsZero() && r.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !r.CreatedAt.Before(f.Until) {
		return false
	}
	return true
}

type Page struct {
	Limit  int
	Offset int
}
