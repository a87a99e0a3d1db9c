package event

import (
	"chat-sync/errors"
	"log/slog"
)

// SyncCounterHandler counts the polling incidents that are absorbed by the engine:
// failed fetches, skipped ticks and dropped deliveries.
type SyncCounterHandler struct {
	log     *slog.Logger
	counter *Counter
}

func NewSyncCounterHandler(log *slog.Logger, counter *Counter) *SyncCounterHandler {
	return &SyncCounterHandler{log: log, counter: counter}
}

func (h *SyncCounterHandler) Handle(event Event) {
	switch event.Type {
	case FetchFailedType:
		payload, ok := event.Payload.(FetchFailed)
		if !ok {
			h.log.Error(errors.ErrInvalidPayload.Error())
			return
		}
		h.counter.Increment(FetchFailedType)
		h.log.Debug("Fetch failed",
			"room_id", payload.RoomID,
			"kind", payload.Kind,
			"code", payload.Code,
			"error", payload.Message)
	case TickSkippedType:
		if _, ok := event.Payload.(TickSkipped); !ok {
			h.log.Error(errors.ErrInvalidPayload.Error())
			return
		}
		h.counter.Increment(TickSkippedType)
	case DeliveryDroppedType:
		payload, ok := event.Payload.(DeliveryDropped)
		if !ok {
			h.log.Error(errors.ErrInvalidPayload.Error())
			return
		}
		h.counter.Increment(DeliveryDroppedType)
		h.log.Debug("Delivery dropped",
			"room_id", payload.RoomID,
			"sink", payload.Sink,
			"reason", payload.Reason)
	}
}
