package runtime

import (
	"chat-sync/contract"
	"chat-sync/domain/chat"
	"chat-sync/domain/event"
	"chat-sync/observability"
	"chat-sync/runtime/workers"
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
)

type scheduled struct {
	cancel context.CancelFunc
	worker *workers.PollWorker
}

// Scheduler runs one supervised PollWorker per room.
// A room is polled while the context given to Start is alive and Stop was not called.
// The in-flight gate outlives the worker: a restarted room skips its ticks
// until the fetch of the previous worker has returned.
type Scheduler struct {
	mu            sync.Mutex
	log           *slog.Logger
	supervisor    contract.ISupervisor
	telemetryChan chan event.Event
	monitor       *observability.SyncMonitor
	rooms         map[chat.RoomID]*scheduled
	gates         map[chat.RoomID]*atomic.Bool
}

func NewScheduler(log *slog.Logger, supervisor contract.ISupervisor,
	telemetryChan chan event.Event, monitor *observability.SyncMonitor) *Scheduler {
	return &Scheduler{
		log:           log,
		supervisor:    supervisor,
		telemetryChan: telemetryChan,
		monitor:       monitor,
		rooms:         make(map[chat.RoomID]*scheduled),
		gates:         make(map[chat.RoomID]*atomic.Bool),
	}
}

// Start begins polling the room, firing the action immediately then every period.
// It returns false when the room is already scheduled.
// onExpire is called if the room stops because ctx ended rather than through Stop.
func (s *Scheduler) Start(ctx context.Context, roomID chat.RoomID, period time.Duration,
	action workers.PollAction, onExpire func()) bool {
	s.mu.Lock()
	if _, ok := s.rooms[roomID]; ok {
		s.mu.Unlock()
		return false
	}
	gate, ok := s.gates[roomID]
	if !ok {
		gate = new(atomic.Bool)
		s.gates[roomID] = gate
	}
	roomCtx, cancel := context.WithCancel(ctx)
	entry := &scheduled{
		cancel: cancel,
		worker: workers.NewPollWorker(s.log, roomID, period, action, s.telemetryChan, s.monitor).WithGate(gate),
	}
	s.rooms[roomID] = entry
	s.mu.Unlock()

	s.log.Debug("Polling started", "room_id", roomID, "period", period)
	s.supervisor.Start(roomCtx, entry.worker)

	go func() {
		<-roomCtx.Done()
		if s.forget(roomID, entry) {
			s.log.Debug("Polling expired with its context", "room_id", roomID)
			if onExpire != nil {
				onExpire()
			}
		}
	}()
	return true
}

// Stop cancels the timer and the in-flight fetch of the room.
// It does not wait for the in-flight fetch to return.
func (s *Scheduler) Stop(roomID chat.RoomID) bool {
	s.mu.Lock()
	entry, ok := s.rooms[roomID]
	delete(s.rooms, roomID)
	s.mu.Unlock()
	if !ok {
		return false
	}
	entry.cancel()
	s.log.Debug("Polling stopped", "room_id", roomID)
	return true
}

func (s *Scheduler) StopAll() {
	for _, roomID := range s.Rooms() {
		s.Stop(roomID)
	}
}

// InFlight reports whether a fetch of the room is running, stopped worker included
func (s *Scheduler) InFlight(roomID chat.RoomID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	gate, ok := s.gates[roomID]
	return ok && gate.Load()
}

func (s *Scheduler) IsRunning(roomID chat.RoomID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[roomID]
	return ok
}

func (s *Scheduler) Rooms() []chat.RoomID {
	s.mu.Lock()
	ids := lo.Keys(s.rooms)
	s.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Scheduler) forget(roomID chat.RoomID, entry *scheduled) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.rooms[roomID]; ok && current == entry {
		delete(s.rooms, roomID)
		return true
	}
	return false
}
