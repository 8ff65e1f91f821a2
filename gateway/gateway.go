// Package gateway owns connection state and runs the send pipeline:
// membership check, classification, audit append, then broadcast.
package gateway

import (
	"chat-relay/cache"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// closedRetention is how long a closed connection id keeps answering ErrConnectionClosed.
const closedRetention = 5 * time.Minute

type Config struct {
	AppendTimeout   time.Duration
	DeliveryTimeout time.Duration
	// EchoToSender delivers a sender's own message back to it.
	EchoToSender bool
	// MaskFlagged censors matched terms in the broadcast copy. The audit keeps the raw text.
	MaskFlagged bool
	// MaxContentLength in runes, 0 for no limit.
	MaxContentLength int
}

type Gateway struct {
	log        *slog.Logger
	classifier contract.Classifier
	audit      contract.AuditLog
	registry   contract.IRegistry
	config     Config

	mu     sync.RWMutex
	conns  map[domain.ConnectionID]*Connection
	closed *cache.TTL[domain.ConnectionID, struct{}]

	rooms *sequencer
	// pending tracks asynchronous disconnects triggered by failed deliveries.
	pending sync.WaitGroup
}

func New(log *slog.Logger, classifier contract.Classifier, audit contract.AuditLog,
	registry contract.IRegistry, config Config) *Gateway {
	return &Gateway{
		log:        log,
		classifier: classifier,
		audit:      audit,
		registry:   registry,
		config:     config,
		conns:      make(map[domain.ConnectionID]*Connection),
		closed:     cache.NewTTL[domain.ConnectionID, struct{}](),
		rooms:      newSequencer(),
	}
}

// Connect admits a new transport session in the Unbound state.
func (g *Gateway) Connect(delivery contract.Delivery) domain.ConnectionID {
	id := domain.ConnectionID(uuid.NewString())
	conn := newConnection(id, delivery)

	g.mu.Lock()
	g.conns[id] = conn
	g.mu.Unlock()
	g.registry.Register(id, delivery)

	g.log.Debug("Connection opened", "connection", id)
	return id
}

func (g *Gateway) Authenticate(connID domain.ConnectionID, identity domain.Identity) error {
	conn, err := g.lookup(connID)
	if err != nil {
		return err
	}
	if identity.IsZero() {
		return errors.ErrUnauthenticated
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	switch conn.state {
	case StateClosed:
		return errors.ErrConnectionClosed
	case StateBound:
		return errors.ErrAlreadyAuthenticated
	}
	conn.identity = identity
	conn.state = StateBound
	g.log.Debug("Connection authenticated", "connection", connID, "user", identity.UserID, "role", identity.Role)
	return nil
}

func (g *Gateway) Join(connID domain.ConnectionID, roomID domain.RoomID) error {
	if roomID == "" {
		return fmt.Errorf("%w: missing room", errors.ErrInvalidCommand)
	}
	conn, err := g.lookup(connID)
	if err != nil {
		return err
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if err := conn.requireBound(); err != nil {
		return err
	}
	conn.rooms[roomID] = struct{}{}
	g.registry.Join(roomID, connID)
	return nil
}

func (g *Gateway) Leave(connID domain.ConnectionID, roomID domain.RoomID) error {
	conn, err := g.lookup(connID)
	if err != nil {
		return err
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if err := conn.requireBound(); err != nil {
		return err
	}
	if _, ok := conn.rooms[roomID]; !ok {
		return errors.ErrNotAMember
	}
	delete(conn.rooms, roomID)
	g.registry.Leave(roomID, connID)
	return nil
}

// Send runs the pipeline for one message. The message is broadcast only once
// its audit record is stored; within a room, broadcasts follow audit order.
func (g *Gateway) Send(ctx context.Context, connID domain.ConnectionID, cmd domain.SendCommand) (domain.MessageRecord, error) {
	conn, err := g.lookup(connID)
	if err != nil {
		return domain.MessageRecord{}, err
	}
	if err := g.validate(cmd); err != nil {
		return domain.MessageRecord{}, err
	}

	conn.sendMu.Lock()
	defer conn.sendMu.Unlock()

	conn.mu.Lock()
	if err := conn.requireBound(); err != nil {
		conn.mu.Unlock()
		return domain.MessageRecord{}, err
	}
	if _, ok := conn.rooms[cmd.Room]; !ok {
		conn.mu.Unlock()
		return domain.MessageRecord{}, errors.ErrNotAMember
	}
	sender := conn.identity
	conn.mu.Unlock()

	record := domain.MessageRecord{
		ID:             cmd.MessageID,
		RoomID:         cmd.Room,
		Sender:         sender,
		Content:        cmd.Content,
		Classification: g.classify(cmd.Content),
	}

	unlock := g.rooms.lock(cmd.Room)
	defer unlock()

	stored, err := g.append(ctx, record)
	if err != nil {
		g.log.Error("Message not audited, broadcast dropped",
			"connection", connID, "room", cmd.Room, "error", err)
		return domain.MessageRecord{}, err
	}

	g.broadcast(ctx, connID, stored)
	return stored, nil
}

func (g *Gateway) validate(cmd domain.SendCommand) error {
	if cmd.Room == "" {
		return fmt.Errorf("%w: missing room", errors.ErrInvalidCommand)
	}
	if cmd.Content == "" {
		return fmt.Errorf("%w: empty content", errors.ErrInvalidCommand)
	}
	if g.config.MaxContentLength > 0 && utf8.RuneCountInString(cmd.Content) > g.config.MaxContentLength {
		return fmt.Errorf("%w: content exceeds %d characters", errors.ErrInvalidCommand, g.config.MaxContentLength)
	}
	return nil
}

// classify never fails the send: a classifier panic yields an unflagged outcome.
func (g *Gateway) classify(content string) (c domain.Classification) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Warn("Classifier failed, message left unflagged",
				"error", fmt.Errorf("%w: %v", errors.ErrClassification, r))
			c = domain.Classification{Severity: domain.SeverityNone}
		}
	}()
	return g.classifier.Classify(content)
}

type appendResult struct {
	record domain.MessageRecord
	err    error
}

// append bounds the audit write. A write that outlives the timeout may still land
// in the store but its message is never broadcast.
func (g *Gateway) append(ctx context.Context, record domain.MessageRecord) (domain.MessageRecord, error) {
	appendCtx, cancel := context.WithTimeout(ctx, g.config.AppendTimeout)
	defer cancel()

	done := make(chan appendResult, 1)
	go func() {
		stored, err := g.audit.Append(appendCtx, record)
		done <- appendResult{record: stored, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return domain.MessageRecord{}, fmt.Errorf("%w: %w", errors.ErrPersistence, res.err)
		}
		return res.record, nil
	case <-appendCtx.Done():
		return domain.MessageRecord{}, fmt.Errorf("%w: %w", errors.ErrPersistence, appendCtx.Err())
	}
}

func (g *Gateway) broadcast(ctx context.Context, sender domain.ConnectionID, record domain.MessageRecord) {
	msg := event.FromRecord(record)
	if g.config.MaskFlagged && record.Classification.Flagged {
		msg.Content = g.censor(record.Content)
	}
	opts := contract.BroadcastOptions{}
	if !g.config.EchoToSender {
		opts.Exclude = sender
	}

	// The record is stored: delivery proceeds even if the sender went away meanwhile.
	result := g.registry.Broadcast(context.WithoutCancel(ctx), record.RoomID, msg, opts)
	if len(result.Failed) > 0 {
		g.log.Info("Disconnecting unreachable members",
			"room", record.RoomID, "failed", len(result.Failed), "attempted", result.Attempted)
	}
	for _, id := range result.Failed {
		g.pending.Add(1)
		go func(id domain.ConnectionID) {
			defer g.pending.Done()
			if err := g.Disconnect(id); err != nil {
				g.log.Debug("Disconnect after delivery failure", "connection", id, "error", err)
			}
		}(id)
	}
}

func (g *Gateway) censor(content string) (masked string) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Warn("Censor failed, broadcasting raw content", "error", r)
			masked = content
		}
	}()
	return g.classifier.Censor(content)
}

// Disconnect closes the connection, removes it from every room and releases its transport.
// It is idempotent.
func (g *Gateway) Disconnect(connID domain.ConnectionID) error {
	g.mu.Lock()
	conn, ok := g.conns[connID]
	if ok {
		delete(g.conns, connID)
		g.closed.Set(connID, struct{}{}, closedRetention)
	}
	g.mu.Unlock()
	if !ok {
		if _, closed := g.closed.Get(connID); closed {
			return nil
		}
		return errors.ErrUnknownConnection
	}

	conn.mu.Lock()
	conn.state = StateClosed
	rooms := conn.rooms
	conn.rooms = make(map[domain.RoomID]struct{})
	conn.mu.Unlock()

	for roomID := range rooms {
		g.registry.Leave(roomID, connID)
	}
	g.registry.Unregister(connID)
	if err := conn.delivery.Close(); err != nil {
		g.log.Debug("Transport close", "connection", connID, "error", err)
	}
	g.log.Debug("Connection closed", "connection", connID, "rooms", len(rooms))
	return nil
}

// Dispatch routes a transport command and reports the outcome to the connection:
// an ack for authenticate, join and leave, an error event for any rejection.
func (g *Gateway) Dispatch(ctx context.Context, connID domain.ConnectionID, cmd domain.Command) error {
	var (
		err  error
		room domain.RoomID
		ack  bool
	)
	switch c := cmd.(type) {
	case domain.AuthenticateCommand:
		err, ack = g.Authenticate(connID, c.Identity), true
	case domain.JoinCommand:
		room = c.Room
		err, ack = g.Join(connID, c.Room), true
	case domain.LeaveCommand:
		room = c.Room
		err, ack = g.Leave(connID, c.Room), true
	case domain.SendCommand:
		room = c.Room
		_, err = g.Send(ctx, connID, c)
		// Without echo the sender would otherwise get no confirmation.
		ack = !g.config.EchoToSender
	case domain.DisconnectCommand:
		return g.Disconnect(connID)
	default:
		err = fmt.Errorf("%w: %T", errors.ErrInvalidCommand, cmd)
	}

	if err != nil {
		g.reply(ctx, connID, event.Rejected{Code: errors.Code(err), Message: err.Error(), Room: room})
		return err
	}
	if ack {
		g.reply(ctx, connID, event.Ack{Op: cmd.Name(), Room: room})
	}
	return nil
}

func (g *Gateway) reply(ctx context.Context, connID domain.ConnectionID, e event.Outbound) {
	g.mu.RLock()
	conn, ok := g.conns[connID]
	g.mu.RUnlock()
	if !ok {
		return
	}
	replyCtx, cancel := context.WithTimeout(ctx, g.config.DeliveryTimeout)
	defer cancel()
	if err := conn.delivery.Deliver(replyCtx, e); err != nil {
		g.log.Debug("Reply not delivered", "connection", connID, "kind", e.Kind(), "error", err)
	}
}

// Connection returns the live connection, for inspection.
func (g *Gateway) Connection(connID domain.ConnectionID) (*Connection, error) {
	return g.lookup(connID)
}

// Connections counts live connections.
func (g *Gateway) Connections() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

// SweepClosed forgets closed connection ids past their retention.
func (g *Gateway) SweepClosed() int {
	return g.closed.Sweep()
}

// Wait blocks until disconnects triggered by failed deliveries have completed.
func (g *Gateway) Wait() {
	g.pending.Wait()
}

// Shutdown disconnects every live connection.
func (g *Gateway) Shutdown() {
	g.mu.RLock()
	ids := make([]domain.ConnectionID, 0, len(g.conns))
	for id := range g.conns {
		ids = append(ids, id)
	}
	g.mu.RUnlock()
	for _, id := range ids {
		_ = g.Disconnect(id)
	}
	g.pending.Wait()
}

func (g *Gateway) lookup(connID domain.ConnectionID) (*Connection, error) {
	g.mu.RLock()
	conn, ok := g.conns[connID]
	g.mu.RUnlock()
	if ok {
		return conn, nil
	}
	if _, closed := g.closed.Get(connID); closed {
		return nil, errors.ErrConnectionClosed
	}
	return nil, errors.ErrUnknownConnection
}
