package main

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/domain/chat"
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
	"os"
	"os/signal"
	"syscall"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "syncd terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires the engine against the local backend and blocks until a signal.
// Deferred cleanups run before the exit code reaches main.
func run() (int, error) {
	// 1. Configuration & Logger
	config, err := loadConfig()
	if err != nil {
		return exitConfig, err
	}
	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Storage (badger) and index (bluge)
	db, err := badger.Open(buildBadgerOpts(config, log, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	blugeWriter, err := bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to open bluge writer: %w", err)
	}
	index := search.NewEventIndex(blugeWriter, log)
	defer func() {
		log.Info("Closing Bluge...")
		_ = index.Close()
	}()

	// 3. Local backend: event log, moderation
	censored, err := moderation.DefaultLoader().LoadAll("censored")
	if err != nil {
		return exitConfig, fmt.Errorf("censored words: %w", err)
	}
	log.Info("Censored words loaded", "words", len(censored.Words), "languages", censored.Languages)
	moderator, err := moderation.NewModerator(censored.Words, charReplacement, log)
	if err != nil {
		return exitRuntime, err
	}
	local := backend.NewLocalBackend(log, storage.NewEventLogRepository(db, log), moderator)

	var cursors contract.CursorStore = runtime.NewMemoryCursorStore()
	if config.PersistCursors {
		cursors = storage.NewCursorRepository(db, log)
	}

	// 4. Supervision & telemetry
	telemetryChan := make(chan event.Event, config.BufferSize)
	processTrackerChan := make(chan domain.Process, 1)
	monitor := observability.NewSyncMonitor(log)
	counter := event.NewCounter()
	sup := workers.NewSupervisor(log, telemetryChan, config.RestartInterval)

	telemetryGauge, _ := workers.ChannelGauge("telemetry", telemetryChan)
	healthWorker := workers.NewHealthMonitoringWorker(log, telemetryChan, processTrackerChan, config.MetricInterval)
	healthWorker.Track(domain.Process{PID: domain.PID(os.Getpid()), Name: "syncd"})
	roomState := event.NewRoomStateHandler(log, counter)
	sup.Add(
		workers.NewTelemetryWorker(log, telemetryChan, []event.Handler{
			roomState,
			event.NewSyncCounterHandler(log, counter),
			event.NewWorkerRestartedAfterPanicHandler(log, counter),
			event.NewChannelCapacityHandler(log, config.LowCapacityThreshold),
			event.NewProcessTrackerHandler(log),
		}),
		healthWorker,
		workers.NewChannelCapacityWorker(log, []workers.Gauge{telemetryGauge}, telemetryChan, config.MetricInterval),
	)

	// 5. Engine
	limiter := ratelimit.NewKeyedLimiter(config.CommandInterval, config.CommandBurst, 0)
	defer func() { _ = limiter.Close() }()
	commands := services.NewCommandService(log, local, limiter, config.CommandTimeout, monitor)
	orchestrator := runtime.NewOrchestrator(
		log, toSettings(config),
		local, local, commands, cursors,
		sup, telemetryChan, monitor,
	)
	timeline := projection.NewTimeline(config.TimelineCapacity)
	orchestrator.Add(timeline, index)

	errChan := make(chan error, 2)
	go func() {
		if err := orchestrator.Start(ctx); err != nil {
			errChan <- fmt.Errorf("orchestrator error: %w", err)
		}
	}()

	// 6. Rooms
	for _, roomID := range config.Rooms() {
		if err := startRoom(ctx, local, orchestrator, roomID, config.UserID); err != nil {
			return exitRuntime, err
		}
	}

	// 7. Debug server
	if config.DebugPort > 0 {
		server := internal.NewDebugServer(log, orchestrator, timeline, index, db)
		go func() {
			if err := server.Run(ctx, config.DebugAddr()); err != nil {
				errChan <- fmt.Errorf("debug server error: %w", err)
			}
		}()
	}

	// 8. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-errChan:
		orchestrator.Stop()
		return exitRuntime, err
	}

	log.Info("Shutting down gracefully...")
	orchestrator.Stop()
	sup.Wait()
	log.Info("Program stopped cleanly",
		"degraded_rooms", len(roomState.Degraded()),
		"deliveries", monitor.GetLatest().Deliveries)

	return exitOK, nil
}

// startRoom makes sure the room exists locally, joins it and starts polling
func startRoom(ctx context.Context, local *backend.LocalBackend, o *runtime.Orchestrator, roomID chat.RoomID, userID string) error {
	if err := local.CreateRoom(roomID); err != nil {
		return fmt.Errorf("create room %s: %w", roomID, err)
	}
	cursor, err := o.CurrentCursor(roomID)
	if err != nil {
		return err
	}
	// A persisted cursor wins over the head returned by the join
	if cursor == nil {
		if _, err = o.JoinRoom(ctx, roomID, userID); err != nil {
			return fmt.Errorf("join room %s: %w", roomID, err)
		}
	} else if _, err = local.JoinRoom(ctx, roomID, userID); err != nil {
		return fmt.Errorf("join room %s: %w", roomID, err)
	}
	if err = o.StartPolling(ctx, roomID, 0); err != nil {
		return fmt.Errorf("start polling %s: %w", roomID, err)
	}
	return nil
}
