//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-sync/domain/chat"
	"context"
	"reflect"
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
// Workers exposing a Name method (one instance per room) are named by it.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	if named, ok := w.(interface{ Name() string }); ok {
		return named.Name()
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink receives deliveries for the rooms it is attached to.
// Consume must not block longer than the context allows.
type EventSink interface {
	Consume(ctx context.Context, d chat.Delivery) error
}

// ClosableSink is closed when its room stops polling or it is unsubscribed.
type ClosableSink interface {
	EventSink
	Close()
}

// Fetcher is the remote "get updates since cursor" endpoint.
// A nil cursor asks for the full backlog.
type Fetcher interface {
	FetchUpdates(ctx context.Context, roomID chat.RoomID, cursor *chat.Cursor, limit int) (chat.Batch, error)
}

// Attachment is a sink subscribed to one room with its own filter
type Attachment struct {
	ID     chat.SubscriptionID
	Filter chat.Filter
	Sink   EventSink
}

type IRegistry interface {
	GetSinksForRoom(roomID chat.RoomID) []Attachment
	Attach(roomID chat.RoomID, filter chat.Filter, sink EventSink) chat.SubscriptionID
	Detach(id chat.SubscriptionID) (Attachment, bool)
}

type CommandExecutor interface {
	ExecuteCommand(ctx context.Context, cmd chat.Command) (chat.CommandResult, error)
}

type ICommandService interface {
	Execute(ctx context.Context, cmd chat.Command) (chat.CommandResult, error)
}

type RoomMembership interface {
	JoinRoom(ctx context.Context, roomID chat.RoomID, userID string) (chat.Cursor, error)
	LeaveRoom(ctx context.Context, roomID chat.RoomID, userID string) error
}

// CursorStore maps a room to its last acknowledged cursor.
// GetCursor returns nil when the room was never fetched.
type CursorStore interface {
	GetCursor(roomID chat.RoomID) (*chat.Cursor, error)
	SetCursor(roomID chat.RoomID, cursor chat.Cursor) error
	ClearCursor(roomID chat.RoomID) error
}
