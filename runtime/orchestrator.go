// Package runtime turns a stateless "get updates since cursor" endpoint into live per-room streams.
// It owns polling, cursors and fan-out without containing business rules about events.
package runtime

import (
	"chat-sync/contract"
	"chat-sync/domain/chat"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"chat-sync/observability"
	"chat-sync/runtime/workers"
	"chat-sync/sink"
	"context"
	"iter"
	"log/slog"
	"sync"
	"time"
)

type Settings struct {
	PollPeriod        time.Duration
	FetchTimeout      time.Duration
	FetchLimit        int
	MaxDrain          int
	DegradedThreshold int
	SinkTimeout       time.Duration
	PullBufferSize    int
}

func DefaultSettings() Settings {
	return Settings{
		PollPeriod:        2 * time.Second,
		FetchTimeout:      5 * time.Second,
		FetchLimit:        100,
		MaxDrain:          10,
		DegradedThreshold: 3,
		SinkTimeout:       time.Second,
		PullBufferSize:    64,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.PollPeriod <= 0 {
		s.PollPeriod = d.PollPeriod
	}
	if s.FetchTimeout <= 0 {
		s.FetchTimeout = d.FetchTimeout
	}
	if s.FetchLimit <= 0 {
		s.FetchLimit = d.FetchLimit
	}
	if s.MaxDrain <= 0 {
		s.MaxDrain = 1
	}
	if s.DegradedThreshold <= 0 {
		s.DegradedThreshold = d.DegradedThreshold
	}
	if s.SinkTimeout <= 0 {
		s.SinkTimeout = d.SinkTimeout
	}
	if s.PullBufferSize <= 0 {
		s.PullBufferSize = d.PullBufferSize
	}
	return s
}

// Orchestrator is the synchronization engine seen by callers.
// StartPolling/StopPolling drive the per-room schedulers, Subscribe* attach sinks,
// and every fetch result flows: cursor store -> registry -> fanout.
type Orchestrator struct {
	// lifecycle serializes StartPolling/StopPolling, always taken before a room lock
	lifecycle     sync.Mutex
	log           *slog.Logger
	settings      Settings
	fetcher       contract.Fetcher
	membership    contract.RoomMembership
	commands      contract.ICommandService
	cursors       contract.CursorStore
	registry      *Registry
	scheduler     *Scheduler
	supervisor    *workers.Supervisor
	fanout        *workers.EventFanout
	telemetryChan chan event.Event
	monitor       *observability.SyncMonitor
}

func NewOrchestrator(
	log *slog.Logger,
	settings Settings,
	fetcher contract.Fetcher,
	membership contract.RoomMembership,
	commands contract.ICommandService,
	cursors contract.CursorStore,
	supervisor *workers.Supervisor,
	telemetryChan chan event.Event,
	monitor *observability.SyncMonitor,
) *Orchestrator {
	settings = settings.withDefaults()
	if monitor == nil {
		monitor = observability.NewSyncMonitor(log)
	}
	registry := NewRegistry()
	return &Orchestrator{
		log:           log,
		settings:      settings,
		fetcher:       fetcher,
		membership:    membership,
		commands:      commands,
		cursors:       cursors,
		registry:      registry,
		scheduler:     NewScheduler(log, supervisor, telemetryChan, monitor),
		supervisor:    supervisor,
		fanout:        workers.NewEventFanout(log, nil, registry, telemetryChan, monitor, settings.SinkTimeout),
		telemetryChan: telemetryChan,
		monitor:       monitor,
	}
}

// Add registers permanent sinks receiving every delivery of every room, unfiltered
func (o *Orchestrator) Add(sinks ...contract.EventSink) {
	o.fanout.Add(sinks...)
}

// Start runs the supervised workers until ctx ends
func (o *Orchestrator) Start(ctx context.Context) error {
	o.log.Info("Starting orchestrator and all supervised workers")
	o.supervisor.Run(ctx)
	return nil
}

// Stop halts every room then the supervised workers
func (o *Orchestrator) Stop() {
	o.log.Info("Requesting orchestrator shutdown")
	for _, roomID := range o.scheduler.Rooms() {
		if err := o.StopPolling(roomID); err != nil {
			o.log.Error("Unable to stop polling", "room_id", roomID, "error", err)
		}
	}
	o.supervisor.Stop()
}

// JoinRoom joins the remote room and seeds the cursor store with the join cursor.
// An empty join cursor leaves the room without cursor so the first fetch reads the full backlog.
func (o *Orchestrator) JoinRoom(ctx context.Context, roomID chat.RoomID, userID string) (chat.Cursor, error) {
	cursor, err := o.membership.JoinRoom(ctx, roomID, userID)
	if err != nil {
		return "", errors.Classify(err)
	}
	o.registry.Ensure(roomID)

	var storeErr error
	o.registry.WithRoom(roomID, func(sub *chat.RoomSubscription) {
		if cursor == "" {
			storeErr = o.cursors.ClearCursor(roomID)
		} else {
			storeErr = o.cursors.SetCursor(roomID, cursor)
		}
		sub.Cursor = cursor.Ptr()
	})
	if storeErr != nil {
		o.log.Error("Unable to seed cursor", "room_id", roomID, "error", storeErr)
		return "", errors.Server(storeErr)
	}
	o.log.Info("Room joined", "room_id", roomID, "user_id", userID, "cursor", cursor.Ptr().String())
	return cursor, nil
}

// LeaveRoom leaves the remote room, stops polling and forgets the cursor and every sink of the room
func (o *Orchestrator) LeaveRoom(ctx context.Context, roomID chat.RoomID, userID string) error {
	if err := o.membership.LeaveRoom(ctx, roomID, userID); err != nil {
		return errors.Classify(err)
	}
	if err := o.StopPolling(roomID); err != nil {
		return err
	}
	if err := o.cursors.ClearCursor(roomID); err != nil {
		o.log.Error("Unable to clear cursor", "room_id", roomID, "error", err)
		return errors.Server(err)
	}
	for _, attachment := range o.registry.Remove(roomID) {
		closeSink(attachment)
	}
	o.fanout.Forget(roomID)
	o.log.Info("Room left", "room_id", roomID, "user_id", userID)
	return nil
}

// StartPolling is a no-op when the room is already polled.
// The room stops by itself when ctx ends.
func (o *Orchestrator) StartPolling(ctx context.Context, roomID chat.RoomID, period time.Duration) error {
	if period <= 0 {
		period = o.settings.PollPeriod
	}
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	if o.scheduler.IsRunning(roomID) {
		return nil
	}
	generation := o.registry.Activate(roomID)
	o.scheduler.Start(ctx, roomID, period,
		func(pollCtx context.Context) { o.poll(pollCtx, roomID, generation) },
		func() { o.expire(roomID) },
	)
	o.log.Info("Polling room", "room_id", roomID, "period", period)
	return nil
}

// StopPolling cancels the room timer and any in-flight fetch.
// When it returns no sink will receive anything more for this room until polling restarts.
func (o *Orchestrator) StopPolling(roomID chat.RoomID) error {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()
	o.stop(roomID)
	return nil
}

func (o *Orchestrator) stop(roomID chat.RoomID) {
	stopped := o.scheduler.Stop(roomID)
	// Waits for a delivery holding the room lock, later ones see the room inactive
	o.registry.Deactivate(roomID)
	o.closeSinks(roomID)
	if stopped {
		o.log.Info("Polling stopped", "room_id", roomID)
	}
}

func (o *Orchestrator) expire(roomID chat.RoomID) {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()
	if o.scheduler.IsRunning(roomID) {
		// Restarted in the meantime
		return
	}
	o.stop(roomID)
}

// closeSinks detaches and closes the closable sinks of the room.
// Plain sinks stay attached and receive again if polling restarts.
func (o *Orchestrator) closeSinks(roomID chat.RoomID) {
	for _, attachment := range o.registry.GetSinksForRoom(roomID) {
		if _, ok := attachment.Sink.(contract.ClosableSink); !ok {
			continue
		}
		if detached, ok := o.registry.Detach(attachment.ID); ok {
			closeSink(detached)
		}
	}
}

func closeSink(attachment contract.Attachment) {
	if closable, ok := attachment.Sink.(contract.ClosableSink); ok {
		closable.Close()
	}
}

func (o *Orchestrator) Subscribe(roomID chat.RoomID, filter chat.Filter, s contract.EventSink) chat.SubscriptionID {
	id := o.registry.Attach(roomID, filter, s)
	o.log.Debug("Sink attached", "room_id", roomID, "subscription_id", id, "filter", filter.String())
	return id
}

// SubscribeFunc registers a callback, deliveries produced while it is detached are lost
func (o *Orchestrator) SubscribeFunc(roomID chat.RoomID, filter chat.Filter, observer func(chat.Delivery)) (chat.SubscriptionID, *sink.NotifySink) {
	s := sink.NewNotifySink(observer)
	return o.Subscribe(roomID, filter, s), s
}

// SubscribeStream returns a latest-wins stream of deliveries
func (o *Orchestrator) SubscribeStream(roomID chat.RoomID, filter chat.Filter) (chat.SubscriptionID, *sink.StreamSink) {
	s := sink.NewStreamSink()
	return o.Subscribe(roomID, filter, s), s
}

// SubscribePull returns a bounded queue the caller pulls from at its own pace
func (o *Orchestrator) SubscribePull(roomID chat.RoomID, filter chat.Filter) (chat.SubscriptionID, *sink.PullSink) {
	s := sink.NewPullSink(o.settings.PullBufferSize)
	return o.Subscribe(roomID, filter, s), s
}

// Batches is a restartable sequence: every range attaches its own pull sink
// and detaches it when the loop stops, ctx ends or polling of the room stops.
func (o *Orchestrator) Batches(ctx context.Context, roomID chat.RoomID, filter chat.Filter) iter.Seq[chat.Delivery] {
	return func(yield func(chat.Delivery) bool) {
		id, pull := o.SubscribePull(roomID, filter)
		defer func() {
			_ = o.Unsubscribe(id)
		}()
		for d := range pull.All(ctx) {
			if !yield(d) {
				return
			}
		}
	}
}

func (o *Orchestrator) Unsubscribe(id chat.SubscriptionID) error {
	attachment, ok := o.registry.Detach(id)
	if !ok {
		return errors.ErrUnknownSubscription
	}
	closeSink(attachment)
	o.log.Debug("Sink detached", "subscription_id", id)
	return nil
}

func (o *Orchestrator) CurrentCursor(roomID chat.RoomID) (*chat.Cursor, error) {
	return o.cursors.GetCursor(roomID)
}

func (o *Orchestrator) ActiveRooms() []chat.RoomID {
	return o.registry.ActiveRooms()
}

func (o *Orchestrator) Subscription(roomID chat.RoomID) (chat.RoomSubscription, bool) {
	return o.registry.Subscription(roomID)
}

func (o *Orchestrator) Subscriptions() []chat.RoomSubscription {
	return o.registry.Subscriptions()
}

func (o *Orchestrator) Stats() observability.SyncStats {
	return o.monitor.GetLatest()
}

// ExecuteCommand surfaces every failure to the caller, nothing is retried
func (o *Orchestrator) ExecuteCommand(ctx context.Context, cmd chat.Command) (chat.CommandResult, error) {
	return o.commands.Execute(ctx, cmd)
}

func (o *Orchestrator) IsReportedBy(e chat.Event, userID string) bool {
	return chat.IsReportedBy(e, userID)
}

func (o *Orchestrator) IsReactedBy(e chat.Event, userID, reactionType string) bool {
	return chat.IsReactedBy(e, userID, reactionType)
}

// poll is one scheduled round. While the backend reports more events it
// fetches again at once, up to MaxDrain rounds, in the same in-flight slot.
func (o *Orchestrator) poll(ctx context.Context, roomID chat.RoomID, generation uint64) {
	for round := 0; round < o.settings.MaxDrain; round++ {
		if !o.fetchOnce(ctx, roomID, generation) {
			return
		}
	}
}

// fetchOnce returns true when the backend has more events to deliver right away
func (o *Orchestrator) fetchOnce(ctx context.Context, roomID chat.RoomID, generation uint64) bool {
	if ctx.Err() != nil {
		return false
	}
	cursor, err := o.cursors.GetCursor(roomID)
	var batch chat.Batch
	if err == nil {
		fetchCtx, cancel := context.WithTimeout(ctx, o.settings.FetchTimeout)
		batch, err = o.fetcher.FetchUpdates(fetchCtx, roomID, cursor, o.settings.FetchLimit)
		cancel()
		o.monitor.IncrFetches()
	}

	more := false
	o.registry.WithRoom(roomID, func(sub *chat.RoomSubscription) {
		// Stop cancels ctx before taking this lock, a late result never gets through
		if ctx.Err() != nil || !sub.IsActive || sub.Generation != generation {
			o.monitor.IncrDiscardedResults()
			o.log.Debug("Late fetch result discarded", "room_id", roomID)
			return
		}
		sub.LastFetchAt = time.Now().UTC()
		if err != nil {
			o.onFailure(ctx, sub, errors.Classify(err))
			return
		}
		more = o.onSuccess(ctx, sub, batch)
	})
	return more
}

func (o *Orchestrator) onSuccess(ctx context.Context, sub *chat.RoomSubscription, batch chat.Batch) bool {
	if batch.NextCursor != "" {
		if err := o.cursors.SetCursor(sub.RoomID, batch.NextCursor); err != nil {
			o.log.Error("Unable to store cursor", "room_id", sub.RoomID, "error", err)
			o.onFailure(ctx, sub, errors.Server(err))
			return false
		}
		sub.Cursor = batch.NextCursor.Ptr()
	}

	if sub.Degraded {
		o.emit(event.New(event.RoomRecoveredType, event.RoomRecovered{RoomID: sub.RoomID}))
	}
	sub.ConsecutiveFailures = 0
	sub.LastError = nil
	sub.Degraded = false

	o.fanout.Fanout(ctx, chat.NewDelivery(sub.RoomID, batch))
	// Without a new cursor another fetch would return the same batch
	return batch.HasMore && batch.NextCursor != ""
}

func (o *Orchestrator) onFailure(ctx context.Context, sub *chat.RoomSubscription, err *errors.ClassifiedError) {
	sub.ConsecutiveFailures++
	sub.LastError = err
	o.monitor.IncrFetchFailures()
	o.emit(event.New(event.FetchFailedType, event.FetchFailed{
		RoomID:  sub.RoomID,
		Kind:    err.Kind,
		Code:    err.Code,
		Message: err.Message,
	}))
	o.log.Debug("Fetch failed", "room_id", sub.RoomID, "kind", err.Kind, "failures", sub.ConsecutiveFailures, "error", err)

	o.fanout.Fanout(ctx, chat.FailedDelivery(sub.RoomID, err))

	switch {
	case err.Kind == errors.KindNotFound:
		// The room is gone, polling it again would never succeed
		sub.IsActive = false
		o.scheduler.Stop(sub.RoomID)
		o.closeSinks(sub.RoomID)
		o.log.Warn("Room not found, polling stopped", "room_id", sub.RoomID)
	case !sub.Degraded && (err.Kind == errors.KindAuthorization || sub.ConsecutiveFailures >= o.settings.DegradedThreshold):
		sub.Degraded = true
		o.emit(event.New(event.RoomDegradedType, event.RoomDegraded{
			RoomID:   sub.RoomID,
			Failures: sub.ConsecutiveFailures,
			Kind:     err.Kind,
			Message:  err.Message,
		}))
		o.log.Warn("Room degraded", "room_id", sub.RoomID, "failures", sub.ConsecutiveFailures, "kind", err.Kind)
	}
}

func (o *Orchestrator) emit(evt event.Event) {
	if o.telemetryChan == nil {
		return
	}
	select {
	case o.telemetryChan <- evt:
	default:
		o.log.Debug("Observability telemetry event lost")
	}
}
