// Package domain contains core concepts of the relay.
// This file defines audit records and their moderation outcome.
// Records are immutable once appended.
package domain

import (
	"fmt"
	"time"
)

type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityHigh:
		return "high"
	default:
		return "none"
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "none", "":
		*s = SeverityNone
	case "low":
		*s = SeverityLow
	case "high":
		*s = SeverityHigh
	default:
		return fmt.Errorf("unknown severity %q", text)
	}
	return nil
}

// Classification is the outcome of the moderation classifier for one text.
type Classification struct {
	Flagged      bool
	MatchedTerms []string
	Severity     Severity
	Lang         string
}

// MessageRecord is an audited message.
type MessageRecord struct {
	ID             string
	RoomID         RoomID
	Sender         Identity
	Content        string
	Classification Classification
	CreatedAt      time.Time
}
