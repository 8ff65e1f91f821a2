package storage

import (
	"chat-relay/domain"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInspectMapper(t *testing.T) {
	req := require.New(t)
	record := domain.MessageRecord{
		ID:      "m-1",
		RoomID:  "lobby",
		Sender:  domain.Identity{UserID: "alice", Role: domain.RoleUser},
		Content: "buy spam now",
		Classification: domain.Classification{
			Flagged:      true,
			MatchedTerms: []string{"spam"},
			Severity:     domain.SeverityLow,
		},
		CreatedAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	key := string(recordKey(record.CreatedAt, record.ID))

	// Given a flagged record
	row := InspectMapper(key, MarshalRecord(record))

	// Then the row shows its content and matched terms
	req.Equal("FLAGGED", row.Type)
	req.Equal("[lobby] alice: buy spam now", row.Detail)
	req.Equal("low:spam", row.Scores)

	// Given a clean record
	record.Classification = domain.Classification{}
	row = InspectMapper(key, MarshalRecord(record))
	req.Equal("MESSAGE", row.Type)
	req.Empty(row.Scores)

	// Given a corrupted value
	row = InspectMapper(key, []byte{0xff, 0xff, 0xff})
	req.Equal("Error: unmarshal failed", row.Detail)

	// Given an id index entry
	row = InspectMapper(idPrefix+"m-1", []byte(key))
	req.Equal("INDEX", row.Type)
}
