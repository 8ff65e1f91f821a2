package gateway

import (
	"chat-relay/domain"
	"sync"
)

// sequencer hands out one lock per room. Entries are reference counted and
// dropped when no send holds or waits for them.
type sequencer struct {
	mu    sync.Mutex
	rooms map[domain.RoomID]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

func newSequencer() *sequencer {
	return &sequencer{rooms: make(map[domain.RoomID]*roomLock)}
}

// lock blocks until the room is free and returns its unlock function.
func (s *sequencer) lock(roomID domain.RoomID) func() {
	s.mu.Lock()
	l, ok := s.rooms[roomID]
	if !ok {
		l = &roomLock{}
		s.rooms[roomID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.rooms, roomID)
		}
		s.mu.Unlock()
	}
}

func (s *sequencer) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}
