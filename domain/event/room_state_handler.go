package event

import (
	"chat-sync/domain/chat"
	"chat-sync/errors"
	"log/slog"
	"sync"

	"github.com/samber/lo"
)

// RoomStateHandler keeps the set of rooms currently flagged as degraded
// so operators can see them without walking every subscription.
type RoomStateHandler struct {
	mu       sync.RWMutex
	log      *slog.Logger
	counter  *Counter
	degraded map[chat.RoomID]RoomDegraded
}

func NewRoomStateHandler(log *slog.Logger, counter *Counter) *RoomStateHandler {
	return &RoomStateHandler{
		log:      log,
		counter:  counter,
		degraded: make(map[chat.RoomID]RoomDegraded),
	}
}

func (h *RoomStateHandler) Handle(event Event) {
	switch event.Type {
	case RoomDegradedType:
		payload, ok := event.Payload.(RoomDegraded)
		if !ok {
			h.log.Error(errors.ErrInvalidPayload.Error())
			return
		}
		h.mu.Lock()
		h.degraded[payload.RoomID] = payload
		h.mu.Unlock()
		h.counter.Increment(RoomDegradedType)
		h.log.Warn("Room degraded",
			"room_id", payload.RoomID,
			"failures", payload.Failures,
			"kind", payload.Kind,
			"error", payload.Message)
	case RoomRecoveredType:
		payload, ok := event.Payload.(RoomRecovered)
		if !ok {
			h.log.Error(errors.ErrInvalidPayload.Error())
			return
		}
		h.mu.Lock()
		delete(h.degraded, payload.RoomID)
		h.mu.Unlock()
		h.counter.Increment(RoomRecoveredType)
		h.log.Info("Room recovered", "room_id", payload.RoomID)
	}
}

func (h *RoomStateHandler) Degraded() []chat.RoomID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return lo.Keys(h.degraded)
}
