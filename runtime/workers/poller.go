package workers

import (
	"chat-sync/domain/chat"
	"chat-sync/domain/event"
	"chat-sync/observability"
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// PollAction is one fetch-and-dispatch round for a room
type PollAction func(ctx context.Context)

// PollWorker fires its action immediately, then at every period.
// At most one action runs at a time: a tick arriving while the previous
// action is still running is skipped, never queued.
// Workers sharing a gate (successive pollers of one room) never overlap either.
type PollWorker struct {
	log           *slog.Logger
	roomID        chat.RoomID
	period        time.Duration
	action        PollAction
	telemetryChan chan event.Event
	monitor       *observability.SyncMonitor
	inFlight      *atomic.Bool
	panics        chan any
}

func NewPollWorker(
	log *slog.Logger,
	roomID chat.RoomID,
	period time.Duration,
	action PollAction,
	telemetryChan chan event.Event,
	monitor *observability.SyncMonitor,
) *PollWorker {
	return &PollWorker{
		log:           log,
		roomID:        roomID,
		period:        period,
		action:        action,
		telemetryChan: telemetryChan,
		monitor:       monitor,
		inFlight:      new(atomic.Bool),
		panics:        make(chan any, 1),
	}
}

// WithGate makes the worker share its in-flight flag with earlier workers of the room
func (w *PollWorker) WithGate(gate *atomic.Bool) *PollWorker {
	if gate != nil {
		w.inFlight = gate
	}
	return w
}

func (w *PollWorker) Name() string {
	return fmt.Sprintf("PollWorker[%s]", w.roomID)
}

func (w *PollWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.period)
	defer ticker.Stop()

	w.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping poller", "room_id", w.roomID)
			return nil
		case r := <-w.panics:
			// Raised again on the supervised goroutine so the supervisor restarts us
			panic(r)
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// InFlight reports whether an action is currently running
func (w *PollWorker) InFlight() bool {
	return w.inFlight.Load()
}

func (w *PollWorker) tick(ctx context.Context) {
	if !w.inFlight.CompareAndSwap(false, true) {
		w.skip()
		return
	}
	go func() {
		defer w.inFlight.Store(false)
		defer func() {
			if r := recover(); r != nil {
				select {
				case w.panics <- r:
				default:
				}
			}
		}()
		w.action(ctx)
	}()
}

func (w *PollWorker) skip() {
	w.log.Debug("Previous fetch still in flight, tick skipped", "room_id", w.roomID)
	if w.monitor != nil {
		w.monitor.IncrSkippedTicks()
	}
	if w.telemetryChan == nil {
		return
	}
	select {
	case w.telemetryChan <- event.New(event.TickSkippedType, event.TickSkipped{RoomID: w.roomID}):
	default:
		w.log.Debug("Observability telemetry event lost")
	}
}
