package workers

import (
	"chat-sync/domain"
	"chat-sync/domain/event"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func TestHealthMonitoringWorker_SamplesTrackedProcess(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	worker := NewHealthMonitoringWorker(log, make(chan event.Event, 1), make(chan domain.Process), time.Second)

	// Given the test process itself is tracked
	self := domain.PID(os.Getpid())
	worker.Track(domain.Process{PID: self, Name: "syncd-test"})

	// When the worker samples
	events := worker.sample()

	// Then one tracker event describes the process
	req.Len(events, 1)
	req.Equal(event.PIDTrackerType, events[0].Type)
	payload, ok := events[0].Payload.(event.ProcessTracker)
	req.True(ok)
	req.Equal(self, payload.PID)
	req.Equal("syncd-test", payload.Name)
}

func TestHealthMonitoringWorker_ForgetsGoneProcess(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	worker := NewHealthMonitoringWorker(log, make(chan event.Event, 1), make(chan domain.Process), time.Second)

	// Given a pid above any kernel pid_max
	worker.Track(domain.Process{PID: domain.PID(1 << 30), Name: "ghost"})

	// When the worker samples
	events := worker.sample()

	// Then no event is produced and the pid is no longer tracked
	req.Empty(events)
	req.Empty(worker.processes)
}
