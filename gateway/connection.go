package gateway

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"sync"
)

type State int

const (
	StateUnbound State = iota
	StateBound
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	default:
		return "closed"
	}
}

// Connection is one live transport session as seen by the gateway.
type Connection struct {
	id       domain.ConnectionID
	delivery contract.Delivery

	mu       sync.Mutex
	state    State
	identity domain.Identity
	rooms    map[domain.RoomID]struct{}

	// sendMu serializes sends of this connection so they are broadcast in invocation order.
	sendMu sync.Mutex
}

func newConnection(id domain.ConnectionID, delivery contract.Delivery) *Connection {
	return &Connection{
		id:       id,
		delivery: delivery,
		state:    StateUnbound,
		rooms:    make(map[domain.RoomID]struct{}),
	}
}

func (c *Connection) ID() domain.ConnectionID { return c.id }

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) Identity() domain.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// requireBound must be called with mu held.
func (c *Connection) requireBound() error {
	switch c.state {
	case StateClosed:
		return errors.ErrConnectionClosed
	case StateUnbound:
		return errors.ErrUnauthenticated
	default:
		return nil
	}
}
