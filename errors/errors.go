package errors

import "fmt"

var (
	ErrWorkerPanic         = fmt.Errorf("worker panic")
	ErrInvalidPayload      = fmt.Errorf("invalid telemetry payload")
	ErrEmptyWords          = fmt.Errorf("no words have been found")
	ErrEmptyCursor         = fmt.Errorf("cursor must not be empty")
	ErrInvalidCursor       = fmt.Errorf("invalid cursor")
	ErrRoomNotJoined       = fmt.Errorf("room has not been joined")
	ErrUnknownSubscription = fmt.Errorf("unknown subscription")
	ErrPollingStopped      = fmt.Errorf("polling stopped for room")
	ErrSinkClosed          = fmt.Errorf("sink is closed")
	ErrNoObserver          = fmt.Errorf("no observer attached")
	ErrRoomNotFound        = fmt.Errorf("room not found")
	ErrRoomClosed          = fmt.Errorf("room is closed")
	ErrUnknownUser         = fmt.Errorf("unknown user")
	ErrUnknownReplyTarget  = fmt.Errorf("unknown reply target")
	ErrTooManyRequests     = fmt.Errorf("too many requests")
	ErrLimiterClosed       = fmt.Errorf("limiter is closed")
	ErrInvalidCommand      = fmt.Errorf("invalid command")
	ErrEventNotFound       = fmt.Errorf("event not found")
)
