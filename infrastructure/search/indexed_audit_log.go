// Package search adds full-text queries over audited message content.
package search

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/blugelabs/bluge"
	"github.com/blugelabs/bluge/search"
)

const (
	contentField = "content"
	idField      = "_id"
	// DefaultBatchSize is how many index hits one search request fetches.
	// Queries page through the index until every hit is read.
	DefaultBatchSize = 1_000
)

// IndexedAuditLog decorates an audit log with a Bluge index over message content.
// Appends go to the wrapped log; indexing happens afterwards, off the caller's path,
// so a record becomes searchable shortly after Append returns.
type IndexedAuditLog struct {
	contract.AuditLog
	writer    *bluge.Writer
	log       *slog.Logger
	batchSize int
	index     func(domain.MessageRecord) error
	pending   sync.WaitGroup
}

func NewIndexedAuditLog(inner contract.AuditLog, writer *bluge.Writer, log *slog.Logger) *IndexedAuditLog {
	i := &IndexedAuditLog{AuditLog: inner, writer: writer, log: log, batchSize: DefaultBatchSize}
	i.index = i.indexRecord
	return i
}

// Append returns as soon as the wrapped log stored the record. Index failures are only logged.
func (i *IndexedAuditLog) Append(ctx context.Context, record domain.MessageRecord) (domain.MessageRecord, error) {
	stored, err := i.AuditLog.Append(ctx, record)
	if err != nil {
		return stored, err
	}
	i.pending.Add(1)
	go func() {
		defer i.pending.Done()
		if err := i.index(stored); err != nil {
			i.log.Warn("Failed to index audit record", "id", stored.ID, "error", err)
		}
	}()
	return stored, nil
}

// Flush blocks until every pending index write is done. Call it before closing the writer.
func (i *IndexedAuditLog) Flush() {
	i.pending.Wait()
}

func (i *IndexedAuditLog) indexRecord(r domain.MessageRecord) error {
	doc := toDocument(r)
	return i.writer.Update(doc.ID(), doc)
}

// Reindex rebuilds the index from the wrapped log, used when the index lives in memory.
func (i *IndexedAuditLog) Reindex(ctx context.Context) (int, error) {
	records, err := i.AuditLog.List(ctx, domain.Filter{}, domain.Page{})
	if err != nil {
		return 0, err
	}
	batch := bluge.NewBatch()
	for _, r := range records {
		doc := toDocument(r)
		batch.Update(doc.ID(), doc)
	}
	if err := i.writer.Batch(batch); err != nil {
		return 0, fmt.Errorf("index batch: %w", err)
	}
	i.log.Info("Audit index rebuilt", "records", len(records))
	return len(records), nil
}

func (i *IndexedAuditLog) Count(ctx context.Context, filter domain.Filter) (int, error) {
	if filter.Query == "" {
		return i.AuditLog.Count(ctx, filter)
	}
	if onlyQuery(filter) {
		return i.countHits(ctx, filter.Query)
	}
	records, err := i.search(ctx, filter)
	return len(records), err
}

func (i *IndexedAuditLog) CountSenders(ctx context.Context, filter domain.Filter) (int, error) {
	if filter.Query == "" {
		return i.AuditLog.CountSenders(ctx, filter)
	}
	records, err := i.search(ctx, filter)
	if err != nil {
		return 0, err
	}
	senders := make(map[string]struct{}, len(records))
	for _, r := range records {
		senders[r.Sender.UserID] = struct{}{}
	}
	return len(senders), nil
}

func (i *IndexedAuditLog) List(ctx context.Context, filter domain.Filter, page domain.Page) ([]domain.MessageRecord, error) {
	if filter.Query == "" {
		return i.AuditLog.List(ctx, filter, page)
	}
	records, err := i.search(ctx, filter)
	if err != nil {
		return nil, err
	}
	if page.Offset >= len(records) {
		return nil, nil
	}
	records = records[page.Offset:]
	if page.Limit > 0 && len(records) > page.Limit {
		records = records[:page.Limit]
	}
	return records, nil
}

// search resolves the query to records matching every other filter, newest first.
func (i *IndexedAuditLog) search(ctx context.Context, filter domain.Filter) ([]domain.MessageRecord, error) {
	ids, err := i.matchingIDs(ctx, filter.Query)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	found, err := i.AuditLog.Get(ctx, ids)
	if err != nil {
		return nil, err
	}
	records := make([]domain.MessageRecord, 0, len(found))
	for _, r := range found {
		if filter.Matches(r) {
			records = append(records, r)
		}
	}
	sort.SliceStable(records, func(a, b int) bool {
		return records[a].CreatedAt.After(records[b].CreatedAt)
	})
	return records, nil
}

// matchingIDs reads every hit of the query, one batch per request, ordered by id
// so consecutive pages never overlap.
func (i *IndexedAuditLog) matchingIDs(ctx context.Context, query string) ([]string, error) {
	reader, err := i.writer.Reader()
	if err != nil {
		return nil, fmt.Errorf("open index reader: %w", err)
	}
	defer reader.Close()

	var ids []string
	for {
		request := bluge.NewTopNSearch(i.batchSize, matchQuery(query)).
			SetFrom(len(ids)).
			SortBy([]string{idField}).
			WithStandardAggregations()
		dmi, err := reader.Search(ctx, request)
		if err != nil {
			return nil, fmt.Errorf("search index: %w", err)
		}
		batch, err := collectIDs(dmi)
		if err != nil {
			return nil, err
		}
		ids = append(ids, batch...)
		if len(batch) == 0 || uint64(len(ids)) >= dmi.Aggregations().Count() {
			return ids, nil
		}
	}
}

// countHits reads the total from the search aggregations without resolving records.
func (i *IndexedAuditLog) countHits(ctx context.Context, query string) (int, error) {
	reader, err := i.writer.Reader()
	if err != nil {
		return 0, fmt.Errorf("open index reader: %w", err)
	}
	defer reader.Close()

	dmi, err := reader.Search(ctx, bluge.NewTopNSearch(1, matchQuery(query)).WithStandardAggregations())
	if err != nil {
		return 0, fmt.Errorf("search index: %w", err)
	}
	if _, err := collectIDs(dmi); err != nil {
		return 0, err
	}
	return int(dmi.Aggregations().Count()), nil
}

func matchQuery(query string) bluge.Query {
	return bluge.NewMatchQuery(query).
		SetField(contentField).
		SetOperator(bluge.MatchQueryOperatorAnd)
}

func collectIDs(dmi search.DocumentMatchIterator) ([]string, error) {
	var ids []string
	match, err := dmi.Next()
	for err == nil && match != nil {
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			if field == idField {
				ids = append(ids, string(value))
				return false
			}
			return true
		})
		if err != nil {
			break
		}
		match, err = dmi.Next()
	}
	if err != nil {
		return nil, fmt.Errorf("iterate search results: %w", err)
	}
	return ids, nil
}

// onlyQuery reports whether the filter constrains nothing but the content query.
func onlyQuery(filter domain.Filter) bool {
	return filter.RoomID == "" && filter.SenderID == "" && filter.Flagged == nil &&
		filter.Since.IsZero() && filter.Until.IsZero()
}

func toDocument(r domain.MessageRecord) *bluge.Document {
	return bluge.NewDocument(r.ID).
		AddField(bluge.NewTextField(contentField, r.Content))
}
