package workers

import (
	"chat-sync/domain/event"
	"context"
	"log/slog"
)

// TelemetryWorker drains the technical events and runs every handler on each of them
type TelemetryWorker struct {
	log           *slog.Logger
	telemetryChan chan event.Event
	handlers      []event.Handler
}

func NewTelemetryWorker(log *slog.Logger,
	telemetryChan chan event.Event,
	handlers []event.Handler) *TelemetryWorker {
	return &TelemetryWorker{
		log:           log,
		telemetryChan: telemetryChan,
		handlers:      handlers,
	}
}

func (w TelemetryWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			drained := w.drain()
			w.log.Debug("Context done, stopping telemetry", "drained", drained)
			return nil
		case evt := <-w.telemetryChan:
			w.handle(evt)
		}
	}
}

// drain handles what is already buffered so the last room events of a shutdown are still logged
func (w TelemetryWorker) drain() int {
	n := 0
	for {
		select {
		case evt := <-w.telemetryChan:
			w.handle(evt)
			n++
		default:
			return n
		}
	}
}

func (w TelemetryWorker) handle(evt event.Event) {
	for _, h := range w.handlers {
		h.Handle(evt)
	}
}
