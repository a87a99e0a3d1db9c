package e2e

import (
	"chat-sync/domain/event"
	"chat-sync/infrastructure/backend"
	"chat-sync/infrastructure/ratelimit"
	"chat-sync/infrastructure/search"
	"chat-sync/infrastructure/storage"
	"chat-sync/internal"
	"chat-sync/moderation"
	"chat-sync/observability"
	"chat-sync/projection"
	"chat-sync/runtime"
	"chat-sync/runtime/workers"
	"chat-sync/services"
	"context"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/suite"
)

// Stack is the whole engine wired in process against the local backend
type Stack struct {
	DB           *badger.DB
	Backend      *backend.LocalBackend
	Cursors      *storage.CursorRepository
	Index        *search.EventIndex
	Timeline     *projection.Timeline
	Orchestrator *runtime.Orchestrator
	Supervisor   *workers.Supervisor
	Monitor      *observability.SyncMonitor
	RoomState    *event.RoomStateHandler
	Debug        *httptest.Server
	cancel       context.CancelFunc
	limiter      *ratelimit.KeyedLimiter
}

type BaseSyncSuite struct {
	suite.Suite
	Config Config
	Stack  *Stack
	Ctx    context.Context
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseSyncSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
}

// SetupTest builds a fresh stack, every test starts from an empty database
func (s *BaseSyncSuite) SetupTest() {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctx, cancel := context.WithCancel(context.Background())
	s.Ctx = ctx

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	s.Require().NoError(err)
	writer, err := bluge.OpenWriter(bluge.InMemoryOnlyConfig())
	s.Require().NoError(err)

	censored, err := moderation.DefaultLoader().LoadAll("censored")
	s.Require().NoError(err)
	moderator, err := moderation.NewModerator(censored.Words, '*', log)
	s.Require().NoError(err)

	telemetryChan := make(chan event.Event, 256)
	monitor := observability.NewSyncMonitor(log)
	counter := event.NewCounter()
	roomState := event.NewRoomStateHandler(log, counter)
	sup := workers.NewSupervisor(log, telemetryChan, 20*time.Millisecond)
	sup.Add(workers.NewTelemetryWorker(log, telemetryChan, []event.Handler{
		roomState,
		event.NewSyncCounterHandler(log, counter),
	}))

	local := backend.NewLocalBackend(log, storage.NewEventLogRepository(db, log), moderator)
	cursors := storage.NewCursorRepository(db, log)
	limiter := ratelimit.NewKeyedLimiter(time.Hour, 3, 0)
	commands := services.NewCommandService(log, local, limiter, time.Second, monitor)
	orchestrator := runtime.NewOrchestrator(log,
		runtime.Settings{PollPeriod: s.Config.PollPeriod, FetchLimit: 10, MaxDrain: 5, DegradedThreshold: 2, SinkTimeout: time.Second},
		local, local, commands, cursors, sup, telemetryChan, monitor)
	index := search.NewEventIndex(writer, log)
	timeline := projection.NewTimeline(100)
	orchestrator.Add(timeline, index)
	go func() { _ = orchestrator.Start(ctx) }()

	debug := httptest.NewServer(internal.NewDebugServer(log, orchestrator, timeline, index, db).Mount())

	s.Stack = &Stack{
		DB:           db,
		Backend:      local,
		Cursors:      cursors,
		Index:        index,
		Timeline:     timeline,
		Orchestrator: orchestrator,
		Supervisor:   sup,
		Monitor:      monitor,
		RoomState:    roomState,
		Debug:        debug,
		cancel:       cancel,
		limiter:      limiter,
	}
}

func (s *BaseSyncSuite) TearDownTest() {
	st := s.Stack
	st.Debug.Close()
	st.Orchestrator.Stop()
	st.cancel()
	st.Supervisor.Wait()
	_ = st.limiter.Close()
	_ = st.Index.Close()
	_ = st.DB.Close()
}

// Step prints a header then runs the step as a subtest
func (s *BaseSyncSuite) Step(name string, fn func()) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
	s.Run(name, fn)
}

// WaitFor polls the condition every poll period until the configured wait
func (s *BaseSyncSuite) WaitFor(condition func() bool, msg string) {
	s.Require().Eventually(condition, s.Config.Wait, s.Config.PollPeriod, msg)
}
