package runtime

import (
	"chat-sync/domain/chat"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"chat-sync/mocks"
	"chat-sync/observability"
	"chat-sync/runtime/workers"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// scriptedFetcher replays batches and errors in order, then returns empty batches
type scriptedFetcher struct {
	mu       sync.Mutex
	steps    []fetchStep
	received []*chat.Cursor
	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	started  chan struct{}
	release  chan struct{}
}

type fetchStep struct {
	batch chat.Batch
	err   error
}

func (f *scriptedFetcher) FetchUpdates(_ context.Context, _ chat.RoomID, cursor *chat.Cursor, _ int) (chat.Batch, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	if n > f.maxSeen.Load() {
		f.maxSeen.Store(n)
	}
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		// Ignores ctx on purpose: a network call may complete after stop
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, cursor)
	if len(f.steps) == 0 {
		return chat.Batch{}, nil
	}
	step := f.steps[0]
	f.steps = f.steps[1:]
	return step.batch, step.err
}

// recordingCursorStore keeps every cursor written
type recordingCursorStore struct {
	*MemoryCursorStore
	mu      sync.Mutex
	written []chat.Cursor
}

func (s *recordingCursorStore) SetCursor(roomID chat.RoomID, cursor chat.Cursor) error {
	s.mu.Lock()
	s.written = append(s.written, cursor)
	s.mu.Unlock()
	return s.MemoryCursorStore.SetCursor(roomID, cursor)
}

func (s *recordingCursorStore) Written() []chat.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.Cursor(nil), s.written...)
}

type fixture struct {
	orchestrator  *Orchestrator
	supervisor    *workers.Supervisor
	cursors       *recordingCursorStore
	telemetryChan chan event.Event
	monitor       *observability.SyncMonitor
}

func newFixture(t *testing.T, fetcher *scriptedFetcher, membership *mocks.MockRoomMembership, commands *mocks.MockICommandService) fixture {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	telemetryChan := make(chan event.Event, 100)
	monitor := observability.NewSyncMonitor(log)
	supervisor := workers.NewSupervisor(log, telemetryChan, 10*time.Millisecond)
	cursors := &recordingCursorStore{MemoryCursorStore: NewMemoryCursorStore()}
	settings := Settings{
		PollPeriod:        10 * time.Millisecond,
		FetchTimeout:      time.Second,
		FetchLimit:        10,
		MaxDrain:          5,
		DegradedThreshold: 3,
		SinkTimeout:       time.Second,
		PullBufferSize:    16,
	}
	o := NewOrchestrator(log, settings, fetcher, membership, commands, cursors, supervisor, telemetryChan, monitor)
	t.Cleanup(func() {
		o.Stop()
		supervisor.Wait()
	})
	return fixture{orchestrator: o, supervisor: supervisor, cursors: cursors, telemetryChan: telemetryChan, monitor: monitor}
}

func events(types ...chat.EventType) []chat.Event {
	res := make([]chat.Event, 0, len(types))
	for i, t := range types {
		res = append(res, chat.Event{ID: fmt.Sprintf("evt-%d", i), RoomID: "room-1", Type: t})
	}
	return res
}

// collector records deliveries pushed by a notify sink
type collector struct {
	mu         sync.Mutex
	deliveries []chat.Delivery
}

func (c *collector) observe(d chat.Delivery) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deliveries = append(c.deliveries, d)
}

func (c *collector) all() []chat.Delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chat.Delivery(nil), c.deliveries...)
}

func TestOrchestrator_CursorMonotonicity(t *testing.T) {
	req := require.New(t)
	fetcher := &scriptedFetcher{steps: []fetchStep{
		{batch: chat.Batch{Events: events(chat.SpeechEvent), NextCursor: "1"}},
		{batch: chat.Batch{Events: events(chat.SpeechEvent), NextCursor: "2"}},
		{batch: chat.Batch{NextCursor: ""}},
		{err: errors.Network(fmt.Errorf("connection reset"))},
		{batch: chat.Batch{Events: events(chat.SpeechEvent), NextCursor: "3"}},
	}}
	f := newFixture(t, fetcher, nil, nil)

	// When the room is polled through successes, an empty cursor and a failure
	req.NoError(f.orchestrator.StartPolling(context.Background(), "room-1", 5*time.Millisecond))
	req.Eventually(func() bool { return fetcher.calls.Load() >= 6 }, 2*time.Second, 5*time.Millisecond)

	// Then the stored cursors are exactly the non-empty next cursors, in order
	req.Equal([]chat.Cursor{"1", "2", "3"}, f.cursors.Written())
	cursor, err := f.orchestrator.CurrentCursor("room-1")
	req.NoError(err)
	req.Equal(chat.Cursor("3"), *cursor)

	// And each fetch was issued with the cursor of the previous success
	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	req.Nil(fetcher.received[0])
	req.Equal(chat.Cursor("1"), *fetcher.received[1])
	req.Equal(chat.Cursor("2"), *fetcher.received[2])
	req.Equal(chat.Cursor("2"), *fetcher.received[3])
	req.Equal(chat.Cursor("2"), *fetcher.received[4])
}

func TestOrchestrator_AtMostOneFetchInFlight(t *testing.T) {
	req := require.New(t)
	fetcher := &scriptedFetcher{release: make(chan struct{})}
	f := newFixture(t, fetcher, nil, nil)

	// Given a fetch slower than many poll periods
	req.NoError(f.orchestrator.StartPolling(context.Background(), "room-1", 5*time.Millisecond))
	time.Sleep(100 * time.Millisecond)

	// Then a single fetch was issued and the other ticks were skipped
	req.Equal(int32(1), fetcher.calls.Load())
	req.Greater(f.monitor.GetLatest().SkippedTicks, uint64(0))

	close(fetcher.release)
	req.Eventually(func() bool { return fetcher.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	req.Equal(int32(1), fetcher.maxSeen.Load())
}

func TestOrchestrator_RestartKeepsOneFetchInFlight(t *testing.T) {
	req := require.New(t)
	fetcher := &scriptedFetcher{started: make(chan struct{}, 1), release: make(chan struct{})}
	f := newFixture(t, fetcher, nil, nil)

	// Given a fetch in flight that ignores cancellation
	req.NoError(f.orchestrator.StartPolling(context.Background(), "room-1", 5*time.Millisecond))
	select {
	case <-fetcher.started:
	case <-time.After(time.Second):
		req.Fail("fetch never started")
	}

	// When polling is stopped and started again right away
	req.NoError(f.orchestrator.StopPolling("room-1"))
	req.NoError(f.orchestrator.StartPolling(context.Background(), "room-1", 5*time.Millisecond))
	time.Sleep(50 * time.Millisecond)

	// Then the restarted room waits for the old fetch
	req.Equal(int32(1), fetcher.calls.Load())
	req.Equal(int32(1), fetcher.maxSeen.Load())

	// And resumes once it returned
	close(fetcher.release)
	req.Eventually(func() bool { return fetcher.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	req.Equal(int32(1), fetcher.maxSeen.Load())
}

func TestOrchestrator_FilterPerSubscription(t *testing.T) {
	req := require.New(t)
	fetcher := &scriptedFetcher{steps: []fetchStep{
		{batch: chat.Batch{Events: events(chat.SpeechEvent, chat.ReactionEvent, chat.PurgeEvent), NextCursor: "1"}},
		{batch: chat.Batch{Events: events(chat.ReactionEvent), NextCursor: "2"}},
	}}
	f := newFixture(t, fetcher, nil, nil)
	speech := &collector{}
	everything := &collector{}

	// Given a speech-only and an unfiltered subscriber
	f.orchestrator.SubscribeFunc("room-1", chat.NewFilter(chat.SpeechEvent), speech.observe)
	f.orchestrator.SubscribeFunc("room-1", chat.AllEvents, everything.observe)

	// When two batches are fetched
	req.NoError(f.orchestrator.StartPolling(context.Background(), "room-1", 5*time.Millisecond))
	req.Eventually(func() bool { return len(speech.all()) >= 2 }, time.Second, 5*time.Millisecond)

	// Then the speech subscriber gets the speech subset, then an empty delivery
	got := speech.all()
	req.Len(got[0].Events, 1)
	req.Equal(chat.SpeechEvent, got[0].Events[0].Type)
	req.NotNil(got[1].Events)
	req.Empty(got[1].Events)
	req.Equal(chat.Cursor("2"), got[1].NextCursor)

	// And the unfiltered one sees every event in order
	all := everything.all()
	req.Equal([]chat.EventType{chat.SpeechEvent, chat.ReactionEvent, chat.PurgeEvent},
		[]chat.EventType{all[0].Events[0].Type, all[0].Events[1].Type, all[0].Events[2].Type})
}

func TestOrchestrator_PostStopSilence(t *testing.T) {
	req := require.New(t)
	fetcher := &scriptedFetcher{
		steps:   []fetchStep{{batch: chat.Batch{Events: events(chat.SpeechEvent), NextCursor: "1"}}},
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	f := newFixture(t, fetcher, nil, nil)
	c := &collector{}
	f.orchestrator.SubscribeFunc("room-1", chat.AllEvents, c.observe)
	_, stream := f.orchestrator.SubscribeStream("room-1", chat.AllEvents)

	// Given a fetch in flight
	req.NoError(f.orchestrator.StartPolling(context.Background(), "room-1", time.Hour))
	<-fetcher.started

	// When polling stops before the fetch returns
	req.NoError(f.orchestrator.StopPolling("room-1"))
	close(fetcher.release)

	// Then the late result is discarded
	req.Eventually(func() bool { return f.monitor.GetLatest().DiscardedResults == 1 }, time.Second, 5*time.Millisecond)
	req.Empty(c.all())
	cursor, err := f.orchestrator.CurrentCursor("room-1")
	req.NoError(err)
	req.Nil(cursor)
	req.Empty(f.orchestrator.ActiveRooms())

	// And the stream was closed without any delivery
	_, ok := <-stream.Deliveries()
	req.False(ok)
}

func TestOrchestrator_StartPollingIsIdempotent(t *testing.T) {
	req := require.New(t)
	fetcher := &scriptedFetcher{}
	f := newFixture(t, fetcher, nil, nil)

	// When polling is started twice for the same room
	req.NoError(f.orchestrator.StartPolling(context.Background(), "room-1", time.Hour))
	req.NoError(f.orchestrator.StartPolling(context.Background(), "room-1", time.Hour))

	// Then a single tick 0 happened
	req.Eventually(func() bool { return fetcher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	req.Equal(int32(1), fetcher.calls.Load())
	req.Equal([]chat.RoomID{"room-1"}, f.orchestrator.ActiveRooms())
}

func TestOrchestrator_LeaveClearsCursor(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	membership := mocks.NewMockRoomMembership(ctrl)
	fetcher := &scriptedFetcher{steps: []fetchStep{
		{batch: chat.Batch{Events: events(chat.SpeechEvent), NextCursor: "7"}},
	}}
	f := newFixture(t, fetcher, membership, nil)
	ctx := context.Background()

	gomock.InOrder(
		membership.EXPECT().JoinRoom(gomock.Any(), chat.RoomID("room-1"), "alice").Return(chat.Cursor("5"), nil),
		membership.EXPECT().LeaveRoom(gomock.Any(), chat.RoomID("room-1"), "alice").Return(nil),
		membership.EXPECT().JoinRoom(gomock.Any(), chat.RoomID("room-1"), "alice").Return(chat.Cursor("9"), nil),
	)

	// Given a joined room whose cursor advanced past the join cursor
	cursor, err := f.orchestrator.JoinRoom(ctx, "room-1", "alice")
	req.NoError(err)
	req.Equal(chat.Cursor("5"), cursor)
	req.NoError(f.orchestrator.StartPolling(ctx, "room-1", time.Hour))
	req.Eventually(func() bool {
		c, _ := f.orchestrator.CurrentCursor("room-1")
		return c != nil && *c == "7"
	}, time.Second, 5*time.Millisecond)

	// When the room is left
	req.NoError(f.orchestrator.LeaveRoom(ctx, "room-1", "alice"))

	// Then the cursor is gone
	current, err := f.orchestrator.CurrentCursor("room-1")
	req.NoError(err)
	req.Nil(current)
	req.Empty(f.orchestrator.ActiveRooms())

	// And a rejoin starts from the fresh join cursor
	cursor, err = f.orchestrator.JoinRoom(ctx, "room-1", "alice")
	req.NoError(err)
	req.Equal(chat.Cursor("9"), cursor)
	current, err = f.orchestrator.CurrentCursor("room-1")
	req.NoError(err)
	req.Equal(chat.Cursor("9"), *current)
}

func TestOrchestrator_JoinFailureIsClassified(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	membership := mocks.NewMockRoomMembership(ctrl)
	f := newFixture(t, &scriptedFetcher{}, membership, nil)

	membership.EXPECT().JoinRoom(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(chat.Cursor(""), errors.NotFound(errors.ErrRoomNotFound))

	// When the room does not exist remotely
	_, err := f.orchestrator.JoinRoom(context.Background(), "room-404", "alice")

	// Then the classified error is surfaced untouched
	req.True(errors.IsKind(err, errors.KindNotFound))
	req.ErrorIs(err, errors.ErrRoomNotFound)
}

func TestOrchestrator_DegradedAfterConsecutiveFailures(t *testing.T) {
	req := require.New(t)
	fetcher := &scriptedFetcher{steps: []fetchStep{
		{err: errors.FromStatusCode(http.StatusServiceUnavailable, "unavailable")},
		{err: errors.FromStatusCode(http.StatusInternalServerError, "boom")},
		{err: errors.FromStatusCode(http.StatusInternalServerError, "boom")},
		{err: errors.FromStatusCode(http.StatusInternalServerError, "boom")},
		{batch: chat.Batch{NextCursor: "1"}},
	}}
	f := newFixture(t, fetcher, nil, nil)
	c := &collector{}
	f.orchestrator.SubscribeFunc("room-1", chat.NewFilter(chat.SpeechEvent), c.observe)

	// When four fetches in a row fail before a success
	req.NoError(f.orchestrator.StartPolling(context.Background(), "room-1", 5*time.Millisecond))
	req.Eventually(func() bool { return fetcher.calls.Load() >= 6 }, time.Second, 5*time.Millisecond)

	// Then failures reached the sink despite its filter and the timer kept running
	deliveries := c.all()
	for _, d := range deliveries[:4] {
		req.True(d.Failed())
	}
	req.True(errors.IsKind(deliveries[0].Err, errors.KindNetwork))
	req.True(errors.IsKind(deliveries[1].Err, errors.KindServer))
	req.False(deliveries[4].Failed())

	// And the room was flagged degraded, then recovered on the next success
	sub, ok := f.orchestrator.Subscription("room-1")
	req.True(ok)
	req.False(sub.Degraded)
	req.Nil(sub.LastError)
	req.Zero(sub.ConsecutiveFailures)
	types := drainTypes(f.telemetryChan)
	req.Contains(types, event.RoomDegradedType)
	req.Contains(types, event.RoomRecoveredType)
	req.Contains(types, event.FetchFailedType)
	req.Equal([]chat.RoomID{"room-1"}, f.orchestrator.ActiveRooms())
}

func TestOrchestrator_AuthorizationDegradesAtOnce(t *testing.T) {
	req := require.New(t)
	fetcher := &scriptedFetcher{steps: []fetchStep{
		{err: errors.FromStatusCode(http.StatusForbidden, "forbidden")},
	}}
	f := newFixture(t, fetcher, nil, nil)

	req.NoError(f.orchestrator.StartPolling(context.Background(), "room-1", time.Hour))

	req.Eventually(func() bool {
		sub, _ := f.orchestrator.Subscription("room-1")
		return sub.Degraded
	}, time.Second, 5*time.Millisecond)
	sub, _ := f.orchestrator.Subscription("room-1")
	req.Equal(errors.KindAuthorization, sub.LastError.Kind)
	req.Equal(http.StatusForbidden, sub.LastError.Code)
	req.True(sub.IsActive)
}

func TestOrchestrator_NotFoundStopsPolling(t *testing.T) {
	req := require.New(t)
	fetcher := &scriptedFetcher{steps: []fetchStep{
		{err: errors.FromStatusCode(http.StatusNotFound, "room deleted")},
	}}
	f := newFixture(t, fetcher, nil, nil)
	_, stream := f.orchestrator.SubscribeStream("room-1", chat.AllEvents)

	// When the room disappears while polled
	req.NoError(f.orchestrator.StartPolling(context.Background(), "room-1", 5*time.Millisecond))

	// Then the failure is delivered and the stream ends
	d, ok := <-stream.Deliveries()
	req.True(ok)
	req.True(errors.IsKind(d.Err, errors.KindNotFound))
	_, ok = <-stream.Deliveries()
	req.False(ok)

	// And polling stopped for good
	req.Empty(f.orchestrator.ActiveRooms())
	time.Sleep(30 * time.Millisecond)
	req.Equal(int32(1), fetcher.calls.Load())
	sub, _ := f.orchestrator.Subscription("room-1")
	req.False(sub.IsActive)
	req.Equal(errors.KindNotFound, sub.LastError.Kind)
}

func TestOrchestrator_DrainsWhileHasMore(t *testing.T) {
	req := require.New(t)
	fetcher := &scriptedFetcher{steps: []fetchStep{
		{batch: chat.Batch{Events: events(chat.SpeechEvent), NextCursor: "1", HasMore: true}},
		{batch: chat.Batch{Events: events(chat.SpeechEvent), NextCursor: "2", HasMore: true}},
		{batch: chat.Batch{Events: events(chat.SpeechEvent), NextCursor: "3"}},
	}}
	f := newFixture(t, fetcher, nil, nil)

	// When a single tick meets a backlog
	req.NoError(f.orchestrator.StartPolling(context.Background(), "room-1", time.Hour))

	// Then it keeps fetching without waiting for the next period
	req.Eventually(func() bool { return len(f.cursors.Written()) == 3 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	req.Equal(int32(3), fetcher.calls.Load())
}

func TestOrchestrator_BatchesIsRestartable(t *testing.T) {
	req := require.New(t)
	fetcher := &scriptedFetcher{steps: []fetchStep{
		{batch: chat.Batch{Events: events(chat.SpeechEvent), NextCursor: "1"}},
		{batch: chat.Batch{Events: events(chat.ReactionEvent), NextCursor: "2"}},
	}}
	f := newFixture(t, fetcher, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first := make(chan chat.Delivery, 1)
	go func() {
		for d := range f.orchestrator.Batches(ctx, "room-1", chat.AllEvents) {
			first <- d
			return
		}
	}()
	req.Eventually(func() bool { return len(f.orchestrator.registry.GetSinksForRoom("room-1")) == 1 }, time.Second, 2*time.Millisecond)

	// When the first iteration reads one delivery and stops
	req.NoError(f.orchestrator.StartPolling(context.Background(), "room-1", 20*time.Millisecond))
	d := <-first
	req.Equal(chat.Cursor("1"), d.NextCursor)

	// Then its sink is detached
	req.Eventually(func() bool { return len(f.orchestrator.registry.GetSinksForRoom("room-1")) == 0 }, time.Second, 2*time.Millisecond)

	// And a new iteration gets its own filtered view of later deliveries
	received := false
	for d := range f.orchestrator.Batches(ctx, "room-1", chat.NewFilter(chat.ReactionEvent)) {
		for _, e := range d.Events {
			req.Equal(chat.ReactionEvent, e.Type)
		}
		received = true
		break
	}
	req.True(received)
}

func TestOrchestrator_ContextEndStopsRoom(t *testing.T) {
	req := require.New(t)
	fetcher := &scriptedFetcher{}
	f := newFixture(t, fetcher, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	req.NoError(f.orchestrator.StartPolling(ctx, "room-1", 5*time.Millisecond))
	req.Equal([]chat.RoomID{"room-1"}, f.orchestrator.ActiveRooms())

	// When the lifecycle owning the room ends
	cancel()

	// Then the room is no longer polled
	req.Eventually(func() bool { return len(f.orchestrator.ActiveRooms()) == 0 }, time.Second, 5*time.Millisecond)
	calls := fetcher.calls.Load()
	time.Sleep(30 * time.Millisecond)
	req.Equal(calls, fetcher.calls.Load())
}

func TestOrchestrator_ExecuteCommandSurfacesErrors(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	commands := mocks.NewMockICommandService(ctrl)
	f := newFixture(t, &scriptedFetcher{}, nil, commands)
	cmd := chat.Command{Room: "room-1", UserID: "alice", Type: chat.SpeechEvent, Body: "hi"}

	// Given the second command is throttled
	gomock.InOrder(
		commands.EXPECT().Execute(gomock.Any(), cmd).Return(chat.CommandResult{Event: chat.Event{ID: "1"}}, nil).Times(1),
		commands.EXPECT().Execute(gomock.Any(), cmd).Return(chat.CommandResult{}, errors.RateLimited(errors.ErrTooManyRequests)).Times(1),
	)

	// When two commands are issued back to back
	res, err := f.orchestrator.ExecuteCommand(context.Background(), cmd)
	req.NoError(err)
	req.Equal("1", res.Event.ID)
	_, err = f.orchestrator.ExecuteCommand(context.Background(), cmd)

	// Then the rate limit reaches the caller, nothing is resubmitted
	req.True(errors.IsKind(err, errors.KindRateLimited))
}

func TestOrchestrator_UnsubscribeUnknown(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, &scriptedFetcher{}, nil, nil)

	id, _ := f.orchestrator.SubscribeStream("room-1", chat.AllEvents)
	req.NoError(f.orchestrator.Unsubscribe(id))
	req.ErrorIs(f.orchestrator.Unsubscribe(id), errors.ErrUnknownSubscription)
}

func drainTypes(ch chan event.Event) []event.Type {
	var types []event.Type
	for {
		select {
		case evt := <-ch:
			types = append(types, evt.Type)
		default:
			return types
		}
	}
}
