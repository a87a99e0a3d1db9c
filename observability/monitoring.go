package observability

import (
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"
)

// SyncStats aggregates the engine counters for the debug server and the tester
type SyncStats struct {
	Fetches           uint64 `json:"fetches"`
	FetchFailures     uint64 `json:"fetch_failures"`
	SkippedTicks      uint64 `json:"skipped_ticks"`
	DiscardedResults  uint64 `json:"discarded_results"`
	Deliveries        uint64 `json:"deliveries"`
	DroppedDeliveries uint64 `json:"dropped_deliveries"`
	EventsDelivered   uint64 `json:"events_delivered"`
	CommandsExecuted  uint64 `json:"commands_executed"`
	CommandsRejected  uint64 `json:"commands_rejected"`
	AllocMemMb        uint64 `json:"alloc_mem_mb"`
	NumGC             uint32 `json:"num_gc"`
	Uptime            string `json:"uptime"`
}

// SyncMonitor counts what happens on the polling and command paths.
// Every counter is updated atomically, it is safe to share between rooms.
type SyncMonitor struct {
	log       *slog.Logger
	startedAt time.Time

	fetches           atomic.Uint64
	fetchFailures     atomic.Uint64
	skippedTicks      atomic.Uint64
	discardedResults  atomic.Uint64
	deliveries        atomic.Uint64
	droppedDeliveries atomic.Uint64
	eventsDelivered   atomic.Uint64
	commandsExecuted  atomic.Uint64
	commandsRejected  atomic.Uint64
}

func NewSyncMonitor(log *slog.Logger) *SyncMonitor {
	return &SyncMonitor{log: log, startedAt: time.Now()}
}

func (m *SyncMonitor) IncrFetches() { m.fetches.Add(1) }
func (m *SyncMonitor) IncrFetchFailures() { m.fetchFailures.Add(1) }
func (m *SyncMonitor) IncrSkippedTicks() { m.skippedTicks.Add(1) }
func (m *SyncMonitor) IncrDiscardedResults() { m.discardedResults.Add(1) }
func (m *SyncMonitor) IncrDroppedDeliveries() { m.droppedDeliveries.Add(1) }
func (m *SyncMonitor) IncrCommandsExecuted() { m.commandsExecuted.Add(1) }
func (m *SyncMonitor) IncrCommandsRejected() { m.commandsRejected.Add(1) }

// IncrDeliveries counts one delivery handed to a sink and the events it carried
func (m *SyncMonitor) IncrDeliveries(events int) {
	m.deliveries.Add(1)
	m.eventsDelivered.Add(uint64(events))
}

func (m *SyncMonitor) GetLatest() SyncStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	stats := SyncStats{
		Fetches:           m.fetches.Load(),
		FetchFailures:     m.fetchFailures.Load(),
		SkippedTicks:      m.skippedTicks.Load(),
		DiscardedResults:  m.discardedResults.Load(),
		Deliveries:        m.deliveries.Load(),
		DroppedDeliveries: m.droppedDeliveries.Load(),
		EventsDelivered:   m.eventsDelivered.Load(),
		CommandsExecuted:  m.commandsExecuted.Load(),
		CommandsRejected:  m.commandsRejected.Load(),
		AllocMemMb:        mem.Alloc / 1024 / 1024,
		NumGC:             mem.NumGC,
		Uptime:            time.Since(m.startedAt).Truncate(time.Second).String(),
	}
	m.log.Debug("Stats snapshot",
		"fetches", stats.Fetches,
		"fetch_failures", stats.FetchFailures,
		"deliveries", stats.Deliveries)
	return stats
}
