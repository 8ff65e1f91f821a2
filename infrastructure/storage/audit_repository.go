package storage

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	auditPrefix = "audit:"
	idPrefix    = "idx:id:"
	// tsWidth is the zero padding that keeps keys in chronological order.
	tsWidth = 19
)

// AuditRepository is the Badger-backed audit log.
//
// Keys are "audit:{timestamp_padded}:{uuid}" so a forward scan yields records
// in creation order across every room, and "idx:id:{uuid}" points back to the
// primary key for lookups by id.
type AuditRepository struct {
	db  *badger.DB
	log *slog.Logger
	now func() time.Time

	mu     sync.Mutex
	lastAt time.Time
}

func NewAuditRepository(db *badger.DB, log *slog.Logger) *AuditRepository {
	return &AuditRepository{db: db, log: log, now: time.Now}
}

// Append stores a record with a server-assigned timestamp, strictly greater
// than the previous one returned by this repository.
func (a *AuditRepository) Append(ctx context.Context, record domain.MessageRecord) (domain.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.MessageRecord{}, err
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.CreatedAt = a.nextTimestamp()

	key := recordKey(record.CreatedAt, record.ID)
	err := a.db.Update(func(txn *badger.Txn) error {
		idxKey := []byte(idPrefix + record.ID)
		if _, err := txn.Get(idxKey); err == nil {
			return fmt.Errorf("%w: %s", errors.ErrDuplicateRecord, record.ID)
		} else if !stderrors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(key, MarshalRecord(record)); err != nil {
			return err
		}
		return txn.Set(idxKey, key)
	})
	if err != nil {
		return domain.MessageRecord{}, err
	}
	return record, nil
}

func (a *AuditRepository) nextTimestamp() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	at := a.now().UTC()
	if !at.After(a.lastAt) {
		at = a.lastAt.Add(time.Nanosecond)
	}
	a.lastAt = at
	return at
}

// Get resolves ids to records. Unknown ids are skipped.
func (a *AuditRepository) Get(ctx context.Context, ids []string) ([]domain.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var records []domain.MessageRecord
	err := a.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			idx, err := txn.Get([]byte(idPrefix + id))
			if stderrors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			key, err := idx.ValueCopy(nil)
			if err != nil {
				return err
			}
			item, err := txn.Get(key)
			if err != nil {
				return err
			}
			if err = item.Value(func(val []byte) error {
				record, err := UnmarshalRecord(val)
				if err != nil {
					return err
				}
				records = append(records, record)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return records, err
}

func (a *AuditRepository) Count(ctx context.Context, filter domain.Filter) (int, error) {
	count := 0
	err := a.scan(ctx, filter, false, func(domain.MessageRecord) bool {
		count++
		return true
	})
	return count, err
}

// CountSenders counts distinct sender ids among matching records.
func (a *AuditRepository) CountSenders(ctx context.Context, filter domain.Filter) (int, error) {
	senders := make(map[string]struct{})
	err := a.scan(ctx, filter, false, func(r domain.MessageRecord) bool {
		senders[r.Sender.UserID] = struct{}{}
		return true
	})
	return len(senders), err
}

// List returns matching records, newest first. A zero limit means no limit.
func (a *AuditRepository) List(ctx context.Context, filter domain.Filter, page domain.Page) ([]domain.MessageRecord, error) {
	var records []domain.MessageRecord
	skipped := 0
	err := a.scan(ctx, filter, true, func(r domain.MessageRecord) bool {
		if skipped < page.Offset {
			skipped++
			return true
		}
		records = append(records, r)
		return page.Limit <= 0 || len(records) < page.Limit
	})
	return records, err
}

// GroupByDay counts records per UTC day in [since, until). Days without records are omitted.
func (a *AuditRepository) GroupByDay(ctx context.Context, since, until time.Time) ([]domain.DayCount, error) {
	perDay := make(map[time.Time]int)
	err := a.scan(ctx, domain.Filter{Since: since, Until: until}, false, func(r domain.MessageRecord) bool {
		perDay[domain.StartOfDay(r.CreatedAt)]++
		return true
	})
	if err != nil {
		return nil, err
	}
	days := make([]domain.DayCount, 0, len(perDay))
	for day, count := range perDay {
		days = append(days, domain.DayCount{Day: day, Count: count})
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Day.Before(days[j].Day) })
	return days, nil
}

// scan walks the records inside the filter's time range and calls fn for each
// one matching the filter, until fn returns false. It runs in one read transaction.
func (a *AuditRepository) scan(ctx context.Context, filter domain.Filter, reverse bool, fn func(domain.MessageRecord) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prefix := []byte(auditPrefix)
	return a.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		options.Reverse = reverse
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch {
		case reverse && filter.Until.IsZero():
			seekKey = append([]byte(auditPrefix), []byte(strings.Repeat("9", tsWidth))...)
		case reverse:
			// Reverse seek lands on the last key <= seekKey, which excludes records at Until.
			seekKey = []byte(fmt.Sprintf("%s%0*d", auditPrefix, tsWidth, filter.Until.UnixNano()))
		case filter.Since.IsZero():
			seekKey = prefix
		default:
			seekKey = []byte(fmt.Sprintf("%s%0*d", auditPrefix, tsWidth, filter.Since.UnixNano()))
		}

		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			at, err := keyTimestamp(item.Key())
			if err != nil {
				a.log.Warn("Skipping malformed audit key", "key", string(item.Key()), "error", err)
				continue
			}
			if !reverse && !filter.Until.IsZero() && !at.Before(filter.Until) {
				return nil
			}
			if reverse && !filter.Since.IsZero() && at.Before(filter.Since) {
				return nil
			}

			var record domain.MessageRecord
			if err = item.Value(func(val []byte) error {
				record, err = UnmarshalRecord(val)
				return err
			}); err != nil {
				return err
			}
			if !filter.Matches(record) || !matchesQuery(filter.Query, record.Content) {
				continue
			}
			if !fn(record) {
				return nil
			}
		}
		return nil
	})
}

// matchesQuery is the fallback for content queries when no index sits in front
// of the repository: every query word must appear in the content.
func matchesQuery(query, content string) bool {
	if query == "" {
		return true
	}
	lower := strings.ToLower(content)
	for _, word := range strings.Fields(strings.ToLower(query)) {
		if !strings.Contains(lower, word) {
			return false
		}
	}
	return true
}

func recordKey(at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%0*d:%s", auditPrefix, tsWidth, at.UnixNano(), id))
}

func keyTimestamp(key []byte) (time.Time, error) {
	rest := strings.TrimPrefix(string(key), auditPrefix)
	ts, _, ok := strings.Cut(rest, ":")
	if !ok {
		return time.Time{}, fmt.Errorf("missing id separator")
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, nanos).UTC(), nil
}
