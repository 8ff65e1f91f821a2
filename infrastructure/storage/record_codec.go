package storage

import (
	"chat-relay/domain"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the audit record wire format. Never renumber.
const (
	fieldID protowire.Number = iota + 1
	fieldRoom
	fieldSender
	fieldRole
	fieldContent
	fieldFlagged
	fieldMatchedTerm
	fieldSeverity
	fieldLang
	fieldCreatedAt
)

// MarshalRecord encodes a record with the protobuf wire format.
func MarshalRecord(r domain.MessageRecord) []byte {
	var b []byte
	b = appendString(b, fieldID, r.ID)
	b = appendString(b, fieldRoom, string(r.RoomID))
	b = appendString(b, fieldSender, r.Sender.UserID)
	b = appendString(b, fieldRole, string(r.Sender.Role))
	b = appendString(b, fieldContent, r.Content)
	if r.Classification.Flagged {
		b = protowire.AppendTag(b, fieldFlagged, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	for _, term := range r.Classification.MatchedTerms {
		b = protowire.AppendTag(b, fieldMatchedTerm, protowire.BytesType)
		b = protowire.AppendString(b, term)
	}
	if r.Classification.Severity != domain.SeverityNone {
		b = protowire.AppendTag(b, fieldSeverity, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.Classification.Severity))
	}
	b = appendString(b, fieldLang, r.Classification.Lang)
	b = protowire.AppendTag(b, fieldCreatedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.CreatedAt.UnixNano()))
	return b
}

// UnmarshalRecord decodes what MarshalRecord produced. Unknown fields are skipped.
func UnmarshalRecord(b []byte) (domain.MessageRecord, error) {
	var r domain.MessageRecord
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, fmt.Errorf("audit record tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.BytesType && num <= fieldLang && num != fieldFlagged && num != fieldSeverity:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return r, fmt.Errorf("audit record field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldID:
				r.ID = v
			case fieldRoom:
				r.RoomID = domain.RoomID(v)
			case fieldSender:
				r.Sender.UserID = v
			case fieldRole:
				r.Sender.Role = domain.Role(v)
			case fieldContent:
				r.Content = v
			case fieldMatchedTerm:
				r.Classification.MatchedTerms = append(r.Classification.MatchedTerms, v)
			case fieldLang:
				r.Classification.Lang = v
			}
		case typ == protowire.VarintType && (num == fieldFlagged || num == fieldSeverity || num == fieldCreatedAt):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, fmt.Errorf("audit record field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldFlagged:
				r.Classification.Flagged = v != 0
			case fieldSeverity:
				r.Classification.Severity = domain.Severity(v)
			case fieldCreatedAt:
				r.CreatedAt = time.Unix(0, int64(v)).UTC()
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return r, fmt.Errorf("audit record field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return r, nil
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}
