package search

import (
	"chat-relay/domain"
	"chat-relay/infrastructure/storage"
	"chat-relay/mocks"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func setup(t *testing.T) (*IndexedAuditLog, *storage.AuditRepository) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	writer, err := bluge.OpenWriter(bluge.InMemoryOnlyConfig())
	req.NoError(err)
	t.Cleanup(func() { _ = writer.Close() })

	repository := storage.NewAuditRepository(db, log)
	return NewIndexedAuditLog(repository, writer, log), repository
}

func appendAll(t *testing.T, log *IndexedAuditLog, records ...domain.MessageRecord) {
	for _, r := range records {
		_, err := log.Append(context.Background(), r)
		require.NoError(t, err)
	}
	log.Flush()
}

func msg(room, sender, content string) domain.MessageRecord {
	return domain.MessageRecord{
		RoomID:  domain.RoomID(room),
		Sender:  domain.Identity{UserID: sender, Role: domain.RoleUser},
		Content: content,
	}
}

func TestIndexedAuditLog_Query_Finds_Content(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	indexed, _ := setup(t)

	// Given messages in two rooms
	appendAll(t, indexed,
		msg("r1", "alice", "Cheap watches for sale"),
		msg("r1", "bob", "the weather is nice"),
		msg("r2", "carol", "watches and clocks"),
	)

	// When searching for a word
	found, err := indexed.List(ctx, domain.Filter{Query: "watches"}, domain.Page{})
	req.NoError(err)

	// Then both matching messages come back, newest first
	req.Len(found, 2)
	req.Equal("watches and clocks", found[0].Content)
	req.Equal("Cheap watches for sale", found[1].Content)

	// And the other filters still apply
	count, err := indexed.Count(ctx, domain.Filter{Query: "WATCHES", RoomID: "r1"})
	req.NoError(err)
	req.Equal(1, count)

	// And every query word must match
	count, err = indexed.Count(ctx, domain.Filter{Query: "watches weather"})
	req.NoError(err)
	req.Equal(0, count)
}

func TestIndexedAuditLog_Query_Paging_And_Senders(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	indexed, _ := setup(t)
	for i := 0; i < 5; i++ {
		appendAll(t, indexed, msg("r1", fmt.Sprintf("u%d", i%2), fmt.Sprintf("report number %d", i)))
	}

	page, err := indexed.List(ctx, domain.Filter{Query: "report"}, domain.Page{Limit: 2, Offset: 1})
	req.NoError(err)
	req.Len(page, 2)
	req.Equal("report number 3", page[0].Content)

	empty, err := indexed.List(ctx, domain.Filter{Query: "report"}, domain.Page{Offset: 10})
	req.NoError(err)
	req.Empty(empty)

	senders, err := indexed.CountSenders(ctx, domain.Filter{Query: "report"})
	req.NoError(err)
	req.Equal(2, senders)
}

func TestIndexedAuditLog_Reindex_Restores_Index(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	indexed, repository := setup(t)

	// Given records written directly to the store, bypassing the index
	_, err := repository.Append(ctx, msg("r1", "alice", "forgotten message"))
	req.NoError(err)
	count, err := indexed.Count(ctx, domain.Filter{Query: "forgotten"})
	req.NoError(err)
	req.Equal(0, count)

	// When reindexing
	n, err := indexed.Reindex(ctx)
	req.NoError(err)
	req.Equal(1, n)

	// Then the record is searchable
	count, err = indexed.Count(ctx, domain.Filter{Query: "forgotten"})
	req.NoError(err)
	req.Equal(1, count)
}

func TestIndexedAuditLog_Without_Query_Delegates(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockAuditLog(ctrl)
	writer, err := bluge.OpenWriter(bluge.InMemoryOnlyConfig())
	req.NoError(err)
	defer writer.Close()
	indexed := NewIndexedAuditLog(inner, writer, logs.GetLoggerFromLevel(slog.LevelDebug))
	ctx := context.Background()

	// Given the wrapped log answers plain queries
	inner.EXPECT().Count(ctx, domain.Filter{RoomID: "r1"}).Return(7, nil).Times(1)
	inner.EXPECT().Append(ctx, gomock.Any()).Return(domain.MessageRecord{}, fmt.Errorf("disk full")).Times(1)

	// Then counts are delegated
	count, err := indexed.Count(ctx, domain.Filter{RoomID: "r1"})
	req.NoError(err)
	req.Equal(7, count)

	// And append errors are returned untouched
	_, err = indexed.Append(ctx, msg("r1", "alice", "x"))
	req.EqualError(err, "disk full")
}

func TestIndexedAuditLog_Query_Reads_Past_One_Batch(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	indexed, _ := setup(t)
	indexed.batchSize = 3

	// Given more matching records than one index batch holds
	for i := 0; i < 10; i++ {
		appendAll(t, indexed, msg(fmt.Sprintf("r%d", i%2), fmt.Sprintf("u%d", i%4), fmt.Sprintf("invoice %d", i)))
	}
	appendAll(t, indexed, msg("r0", "u0", "unrelated"))

	// Then counts cover every hit
	total, err := indexed.Count(ctx, domain.Filter{Query: "invoice"})
	req.NoError(err)
	req.Equal(10, total)

	inRoom, err := indexed.Count(ctx, domain.Filter{Query: "invoice", RoomID: "r1"})
	req.NoError(err)
	req.Equal(5, inRoom)

	senders, err := indexed.CountSenders(ctx, domain.Filter{Query: "invoice"})
	req.NoError(err)
	req.Equal(4, senders)

	// And paging reaches the oldest records
	all, err := indexed.List(ctx, domain.Filter{Query: "invoice"}, domain.Page{})
	req.NoError(err)
	req.Len(all, 10)
	req.Equal("invoice 9", all[0].Content)
	req.Equal("invoice 0", all[9].Content)

	tail, err := indexed.List(ctx, domain.Filter{Query: "invoice"}, domain.Page{Limit: 5, Offset: 8})
	req.NoError(err)
	req.Len(tail, 2)
	req.Equal("invoice 1", tail[0].Content)
	req.Equal("invoice 0", tail[1].Content)
}

func TestIndexedAuditLog_Append_Does_Not_Wait_For_Index(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	indexed, repository := setup(t)

	// Given an index write that blocks
	release := make(chan struct{})
	indexedIDs := make(chan string, 1)
	indexed.index = func(r domain.MessageRecord) error {
		<-release
		indexedIDs <- r.ID
		return nil
	}

	// When appending
	done := make(chan domain.MessageRecord, 1)
	go func() {
		stored, err := indexed.Append(ctx, msg("r1", "alice", "slow index"))
		if err == nil {
			done <- stored
		}
		close(done)
	}()

	// Then the record is stored and Append returns while indexing is still pending
	var stored domain.MessageRecord
	select {
	case s, ok := <-done:
		req.True(ok, "append failed")
		stored = s
	case <-time.After(time.Second):
		req.Fail("Append should not wait for the index")
	}
	found, err := repository.Get(ctx, []string{stored.ID})
	req.NoError(err)
	req.Len(found, 1)

	// And the index write completes once released
	close(release)
	indexed.Flush()
	req.Equal(stored.ID, <-indexedIDs)
}
