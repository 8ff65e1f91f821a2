package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"log/slog"
	"sync"
	"time"
)

type room struct {
	mu      sync.RWMutex
	members map[domain.ConnectionID]struct{}
	// purged is set once the room left the registry map; joiners holding a
	// stale pointer must look it up again.
	purged bool
}

// Registry tracks which connections belong to which room.
// The registry-wide lock only guards the two maps; membership of a room is
// guarded by that room's own lock so unrelated rooms never contend.
type Registry struct {
	log             *slog.Logger
	deliveryTimeout time.Duration

	mu       sync.RWMutex
	rooms    map[domain.RoomID]*room
	sessions sync.Map // domain.ConnectionID -> contract.Delivery
}

func NewRegistry(log *slog.Logger, deliveryTimeout time.Duration) *Registry {
	return &Registry{
		log:             log,
		deliveryTimeout: deliveryTimeout,
		rooms:           make(map[domain.RoomID]*room),
	}
}

// Register records where events for a connection must be delivered.
func (r *Registry) Register(connID domain.ConnectionID, delivery contract.Delivery) {
	r.sessions.Store(connID, delivery)
}

func (r *Registry) Unregister(connID domain.ConnectionID) {
	r.sessions.Delete(connID)
}

// Join is idempotent and creates the room on first use.
func (r *Registry) Join(roomID domain.RoomID, connID domain.ConnectionID) {
	for {
		rm := r.getOrCreate(roomID)
		rm.mu.Lock()
		if rm.purged {
			rm.mu.Unlock()
			continue
		}
		rm.members[connID] = struct{}{}
		rm.mu.Unlock()
		return
	}
}

// Leave is idempotent. The room is purged as soon as it becomes empty
// so short-lived rooms do not accumulate.
func (r *Registry) Leave(roomID domain.RoomID, connID domain.ConnectionID) {
	rm := r.lookup(roomID)
	if rm == nil {
		return
	}
	rm.mu.Lock()
	delete(rm.members, connID)
	empty := len(rm.members) == 0
	rm.mu.Unlock()

	if empty {
		r.purge(roomID, rm)
	}
}

// MembersOf returns a copy of the member set, safe to use while the room changes.
func (r *Registry) MembersOf(roomID domain.RoomID) []domain.ConnectionID {
	rm := r.lookup(roomID)
	if rm == nil {
		return nil
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	members := make([]domain.ConnectionID, 0, len(rm.members))
	for id := range rm.members {
		members = append(members, id)
	}
	return members
}

// Rooms counts live rooms.
func (r *Registry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Broadcast delivers e to every member of the room except opts.Exclude.
// Each delivery runs in its own goroutine bounded by the delivery timeout,
// so one dead member neither blocks nor aborts the others. Failed members
// are returned to the caller, which owns the disconnect decision.
func (r *Registry) Broadcast(ctx context.Context, roomID domain.RoomID, e event.Outbound,
	opts contract.BroadcastOptions) contract.BroadcastResult {
	type target struct {
		id       domain.ConnectionID
		delivery contract.Delivery
	}

	var targets []target
	var failed []domain.ConnectionID
	for _, id := range r.MembersOf(roomID) {
		if id == opts.Exclude {
			continue
		}
		d, ok := r.sessions.Load(id)
		if !ok {
			// Member without a session: its transport is already gone.
			failed = append(failed, id)
			continue
		}
		targets = append(targets, target{id: id, delivery: d.(contract.Delivery)})
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, t := range targets {
		wg.Add(1)
		go func(t target) {
			defer wg.Done()
			deliveryCtx, cancel := context.WithTimeout(ctx, r.deliveryTimeout)
			defer cancel()
			if err := t.delivery.Deliver(deliveryCtx, e); err != nil {
				r.log.Debug("Delivery failed", "room", roomID, "connection", t.id, "error", err)
				mu.Lock()
				failed = append(failed, t.id)
				mu.Unlock()
			}
		}(t)
	}
	wg.Wait()

	return contract.BroadcastResult{Attempted: len(targets), Failed: failed}
}

func (r *Registry) lookup(roomID domain.RoomID) *room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[roomID]
}

func (r *Registry) getOrCreate(roomID domain.RoomID) *room {
	if rm := r.lookup(roomID); rm != nil {
		return rm
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[roomID]; ok {
		return rm
	}
	rm := &room{members: make(map[domain.ConnectionID]struct{})}
	r.rooms[roomID] = rm
	return rm
}

// purge removes the room if it is still empty. Lock order is registry then room,
// the same as getOrCreate followed by Join.
func (r *Registry) purge(roomID domain.RoomID, rm *room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if len(rm.members) != 0 || r.rooms[roomID] != rm {
		return
	}
	rm.purged = true
	delete(r.rooms, roomID)
}
