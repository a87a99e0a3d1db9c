package workers

import (
	"chat-sync/contract"
	"chat-sync/domain/chat"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"chat-sync/observability"
	"context"
	"log/slog"
	"sync"
	"time"
)

const permanentSinkName = "permanent"

// EventFanout hands one delivery to every sink interested in its room.
//
// Permanent sinks (search index, timeline) see every delivery unfiltered,
// room attachments receive the delivery reduced by their own filter.
// Sinks are called one after the other so a given sink always observes
// the deliveries of a room in fetch order. Each call is bounded by sinkTimeout
// and a failing sink never affects the others nor the poller.
type EventFanout struct {
	mu             sync.RWMutex
	log            *slog.Logger
	permanentSinks []contract.EventSink
	registry       contract.IRegistry
	telemetryChan  chan event.Event
	monitor        *observability.SyncMonitor
	sinkTimeout    time.Duration
}

func NewEventFanout(
	log *slog.Logger,
	permanentSinks []contract.EventSink,
	registry contract.IRegistry,
	telemetryChan chan event.Event,
	monitor *observability.SyncMonitor,
	sinkTimeout time.Duration,
) *EventFanout {
	return &EventFanout{
		log:            log,
		permanentSinks: permanentSinks,
		registry:       registry,
		telemetryChan:  telemetryChan,
		monitor:        monitor,
		sinkTimeout:    sinkTimeout,
	}
}

func (w *EventFanout) Add(sinks ...contract.EventSink) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.permanentSinks = append(w.permanentSinks, sinks...)
}

// roomForgetter is a permanent sink keeping per-room state
type roomForgetter interface {
	Forget(roomID chat.RoomID)
}

// Forget lets the permanent sinks drop what they hold for a room that was left
func (w *EventFanout) Forget(roomID chat.RoomID) {
	w.mu.RLock()
	permanentSinks := w.permanentSinks
	w.mu.RUnlock()

	for _, sink := range permanentSinks {
		if f, ok := sink.(roomForgetter); ok {
			f.Forget(roomID)
		}
	}
}

// Fanout One consume per sink, in registration order
func (w *EventFanout) Fanout(ctx context.Context, d chat.Delivery) {
	w.mu.RLock()
	permanentSinks := w.permanentSinks
	w.mu.RUnlock()

	for _, sink := range permanentSinks {
		w.consume(ctx, permanentSinkName, sink, d)
	}
	for _, attachment := range w.registry.GetSinksForRoom(d.RoomID) {
		w.consume(ctx, string(attachment.ID), attachment.Sink, attachment.Filter.ApplyTo(d))
	}
}

func (w *EventFanout) consume(ctx context.Context, name string, sink contract.EventSink, d chat.Delivery) {
	sinkCtx, cancel := context.WithTimeout(ctx, w.sinkTimeout)
	defer cancel()

	err := sink.Consume(sinkCtx, d)
	if err == nil {
		if w.monitor != nil {
			w.monitor.IncrDeliveries(len(d.Events))
		}
		return
	}

	switch {
	case errors.Is(err, errors.ErrNoObserver), errors.Is(err, errors.ErrSinkClosed):
		w.log.Debug("Delivery dropped", "room_id", d.RoomID, "sink", name, "reason", err)
	default:
		w.log.Warn("Sink failed to consume delivery", "room_id", d.RoomID, "sink", name, "error", err)
	}
	w.dropped(d.RoomID, name, err)
}

func (w *EventFanout) dropped(roomID chat.RoomID, name string, err error) {
	if w.monitor != nil {
		w.monitor.IncrDroppedDeliveries()
	}
	if w.telemetryChan == nil {
		return
	}
	select {
	case w.telemetryChan <- event.New(event.DeliveryDroppedType, event.DeliveryDropped{
		RoomID: roomID,
		Sink:   name,
		Reason: err.Error(),
	}):
	default:
		w.log.Debug("Observability telemetry event lost")
	}
}
