//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"reflect"
	"time"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Delivery is the outbound side of one connection.
// Deliver must honour ctx: an unresponsive peer returns once ctx is done.
type Delivery interface {
	Deliver(ctx context.Context, e event.Outbound) error
	Close() error
}

// Classifier is the moderation decision applied to outgoing text.
type Classifier interface {
	Classify(text string) domain.Classification
	Censor(text string) string
}

// AuditLog is the append-only store of moderated messages.
// No update or delete is exposed on purpose.
type AuditLog interface {
	Append(ctx context.Context, record domain.MessageRecord) (domain.MessageRecord, error)
	Get(ctx context.Context, ids []string) ([]domain.MessageRecord, error)
	Count(ctx context.Context, filter domain.Filter) (int, error)
	CountSenders(ctx context.Context, filter domain.Filter) (int, error)
	List(ctx context.Context, filter domain.Filter, page domain.Page) ([]domain.MessageRecord, error)
	GroupByDay(ctx context.Context, since, until time.Time) ([]domain.DayCount, error)
}

type BroadcastOptions struct {
	// Exclude skips one member, typically the sender when echo is disabled.
	Exclude domain.ConnectionID
}

type BroadcastResult struct {
	Attempted int
	Failed    []domain.ConnectionID
}

type IRegistry interface {
	Register(connID domain.ConnectionID, delivery Delivery)
	Unregister(connID domain.ConnectionID)
	Join(roomID domain.RoomID, connID domain.ConnectionID)
	Leave(roomID domain.RoomID, connID domain.ConnectionID)
	MembersOf(roomID domain.RoomID) []domain.ConnectionID
	Broadcast(ctx context.Context, roomID domain.RoomID, e event.Outbound, opts BroadcastOptions) BroadcastResult
}

// IdentityProvider verifies a credential and returns the identity it carries.
type IdentityProvider interface {
	Verify(token string) (domain.Identity, error)
}

type Snapshotter interface {
	Snapshot(ctx context.Context, window domain.Window) (domain.AggregateSnapshot, error)
}
