package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

type fakeDelivery struct {
	mu       sync.Mutex
	received []event.Outbound
	block    bool
	fail     error
}

func (f *fakeDelivery) Deliver(ctx context.Context, e event.Outbound) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.fail != nil {
		return f.fail
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, e)
	return nil
}

func (f *fakeDelivery) Close() error { return nil }

func (f *fakeDelivery) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func newTestRegistry() *Registry {
	return NewRegistry(logs.GetLoggerFromLevel(slog.LevelDebug), 50*time.Millisecond)
}

func TestRegistry_Join_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	registry := newTestRegistry()

	// When the same connection joins twice
	registry.Join("general", "c1")
	registry.Join("general", "c1")

	// Then it is a member once
	req.Equal([]domain.ConnectionID{"c1"}, registry.MembersOf("general"))
	req.Equal(1, registry.Rooms())
}

func TestRegistry_Leave_Purges_Empty_Room(t *testing.T) {
	req := require.New(t)
	registry := newTestRegistry()

	// Given two members in a room
	registry.Join("general", "c1")
	registry.Join("general", "c2")

	// When the first leaves the room still exists
	registry.Leave("general", "c1")
	req.Equal(1, registry.Rooms())
	req.ElementsMatch([]domain.ConnectionID{"c2"}, registry.MembersOf("general"))

	// When the last one leaves
	registry.Leave("general", "c2")

	// Then the room is gone
	req.Equal(0, registry.Rooms())
	req.Empty(registry.MembersOf("general"))
}

func TestRegistry_Leave_Unknown_Room_Or_Connection(t *testing.T) {
	req := require.New(t)
	registry := newTestRegistry()
	registry.Join("general", "c1")

	// When leaving things that do not exist
	registry.Leave("nowhere", "c1")
	registry.Leave("general", "c9")

	// Then nothing changes
	req.Equal([]domain.ConnectionID{"c1"}, registry.MembersOf("general"))
}

func TestRegistry_MembersOf_Returns_Snapshot(t *testing.T) {
	req := require.New(t)
	registry := newTestRegistry()
	registry.Join("general", "c1")

	// Given a snapshot of the members
	members := registry.MembersOf("general")

	// When the room changes afterwards
	registry.Join("general", "c2")

	// Then the snapshot is unaffected
	req.Len(members, 1)
	req.Len(registry.MembersOf("general"), 2)
}

func TestRegistry_Broadcast_Reaches_Every_Member_But_Excluded(t *testing.T) {
	req := require.New(t)
	registry := newTestRegistry()
	d1, d2, d3 := &fakeDelivery{}, &fakeDelivery{}, &fakeDelivery{}
	registry.Register("c1", d1)
	registry.Register("c2", d2)
	registry.Register("c3", d3)
	registry.Join("general", "c1")
	registry.Join("general", "c2")
	registry.Join("random", "c3")

	// When a message is broadcast to general excluding c1
	result := registry.Broadcast(context.Background(), "general",
		event.Ack{Op: "test"}, contract.BroadcastOptions{Exclude: "c1"})

	// Then only c2 receives it
	req.Equal(1, result.Attempted)
	req.Empty(result.Failed)
	req.Equal(0, d1.count())
	req.Equal(1, d2.count())
	req.Equal(0, d3.count())
}

func TestRegistry_Broadcast_Isolates_Failing_Members(t *testing.T) {
	req := require.New(t)
	registry := newTestRegistry()
	healthy := &fakeDelivery{}
	stuck := &fakeDelivery{block: true}
	broken := &fakeDelivery{fail: fmt.Errorf("boom")}
	registry.Register("ok", healthy)
	registry.Register("stuck", stuck)
	registry.Register("broken", broken)
	for _, id := range []domain.ConnectionID{"ok", "stuck", "broken", "ghost"} {
		registry.Join("general", id)
	}

	// When broadcasting while one member hangs, one errors and one has no session
	start := time.Now()
	result := registry.Broadcast(context.Background(), "general", event.Ack{Op: "test"}, contract.BroadcastOptions{})

	// Then the healthy member still receives the event within the delivery timeout
	req.Less(time.Since(start), time.Second)
	req.Equal(1, healthy.count())
	req.Equal(3, result.Attempted)
	req.ElementsMatch([]domain.ConnectionID{"stuck", "broken", "ghost"}, result.Failed)
}

func TestRegistry_Concurrent_Join_Leave(t *testing.T) {
	req := require.New(t)
	registry := newTestRegistry()
	var wg sync.WaitGroup

	// When many connections join and leave the same room concurrently
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := domain.ConnectionID(fmt.Sprintf("c%d", i))
			registry.Join("hot", id)
			registry.Leave("hot", id)
		}(i)
	}
	wg.Wait()

	// Then the room is purged and no member leaked
	req.Empty(registry.MembersOf("hot"))
	req.Equal(0, registry.Rooms())

	// And the room can be recreated
	registry.Join("hot", "again")
	req.Equal([]domain.ConnectionID{"again"}, registry.MembersOf("hot"))
}
