package event

import (
	"chat-sync/domain"
	"chat-sync/domain/chat"
	"chat-sync/errors"
)

const (
	RestartedAfterPanicType Type = "WORKER_RESTARTED_AFTER_PANIC"
	ChannelCapacityType     Type = "CHANNEL_CAPACITY"
	PIDTrackerType          Type = "PID_TRACKER"
	RoomDegradedType        Type = "ROOM_DEGRADED"
	RoomRecoveredType       Type = "ROOM_RECOVERED"
	FetchFailedType         Type = "FETCH_FAILED"
	TickSkippedType         Type = "TICK_SKIPPED"
	DeliveryDroppedType     Type = "DELIVERY_DROPPED"
)

type WorkerRestartedAfterPanic struct {
	WorkerName string
}

type ChannelCapacity struct {
	ChannelName string
	Capacity    int
	Length      int
}

type ProcessTracker struct {
	PID    domain.PID
	Name   string
	Status domain.PidStatus
	Cpu    float64
	Ram    float32
}

// RoomDegraded is emitted once when a room crosses the failure threshold
// or when the backend refuses access to it.
type RoomDegraded struct {
	RoomID   chat.RoomID
	Failures int
	Kind     errors.Kind
	Message  string
}

type RoomRecovered struct {
	RoomID chat.RoomID
}

type FetchFailed struct {
	RoomID  chat.RoomID
	Kind    errors.Kind
	Code    int
	Message string
}

type TickSkipped struct {
	RoomID chat.RoomID
}

type DeliveryDropped struct {
	RoomID chat.RoomID
	Sink   string
	Reason string
}
