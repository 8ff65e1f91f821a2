package storage

import (
	"fmt"
	"strings"

	"github.com/mama165/sdk-go/database"
)

// InspectMapper renders audit entries for the Badger debug inspector.
// Secondary index keys keep the default rendering.
func InspectMapper(key string, val []byte) database.InspectRow {
	row := database.DefaultMapper(key, val)
	if !strings.HasPrefix(key, auditPrefix) {
		row.Type = "INDEX"
		return row
	}

	record, err := UnmarshalRecord(val)
	if err != nil {
		row.Detail = "Error: unmarshal failed"
		return row
	}

	row.Type = "MESSAGE"
	if record.Classification.Flagged {
		row.Type = "FLAGGED"
	}
	row.Detail = fmt.Sprintf("[%s] %s: %s", record.RoomID, record.Sender.UserID, record.Content)
	if len(record.Classification.MatchedTerms) > 0 {
		row.Scores = fmt.Sprintf("%s:%s", record.Classification.Severity,
			strings.Join(record.Classification.MatchedTerms, ","))
	}
	return row
}
