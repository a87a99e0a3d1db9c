// Package chat contains the core concepts of room synchronization.
// Events are immutable snapshots received from the remote service.
// No runtime, network, or storage logic should be added here.
package chat

import (
	"chat-sync/errors"
	"time"
)

// RoomID identifies a room on the remote chat service.
type RoomID string

// Cursor is an opaque delivery position scoped to one room.
// Everything up to and including the cursor has been delivered.
type Cursor string

// SubscriptionID identifies a single sink attachment on a room.
type SubscriptionID string

// RoomSubscription is the polling state of one room, shared by every
// consumer listening to that room.
type RoomSubscription struct {
	RoomID              RoomID
	Cursor              *Cursor
	IsActive            bool
	Degraded            bool
	ConsecutiveFailures int
	LastError           *errors.ClassifiedError
	Generation          uint64
	LastFetchAt         time.Time
	Sinks               int
}

// Ptr returns a pointer to the cursor, nil for the empty cursor.
func (c Cursor) Ptr() *Cursor {
	if c == "" {
		return nil
	}
	return &c
}

func (c *Cursor) String() string {
	if c == nil {
		return "<none>"
	}
	return string(*c)
}
