package workers

import (
	"chat-sync/domain"
	"chat-sync/domain/event"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/process"
)

// HealthMonitoringWorker samples CPU and RAM of the tracked processes (the daemon itself by default)
type HealthMonitoringWorker struct {
	mu                 sync.Mutex
	log                *slog.Logger
	telemetryChan      chan event.Event
	processTrackerChan chan domain.Process
	metricInterval     time.Duration
	processes          map[domain.PID]string
}

func NewHealthMonitoringWorker(
	log *slog.Logger,
	telemetryChan chan event.Event,
	processTrackerChan chan domain.Process,
	metricInterval time.Duration,
) *HealthMonitoringWorker {
	return &HealthMonitoringWorker{
		log:                log,
		telemetryChan:      telemetryChan,
		processTrackerChan: processTrackerChan,
		metricInterval:     metricInterval,
		processes:          make(map[domain.PID]string),
	}
}

func (w *HealthMonitoringWorker) Track(proc domain.Process) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.processes[proc.PID] = proc.Name
}

func (w *HealthMonitoringWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping health monitoring")
			return nil
		case <-ticker.C:
			for _, evt := range w.sample() {
				select {
				case <-ctx.Done():
					return nil
				case w.telemetryChan <- evt:
				default:
					w.log.Debug("Observability telemetry event lost")
				}
			}
		case proc := <-w.processTrackerChan:
			w.Track(proc)
		}
	}
}

func (w *HealthMonitoringWorker) sample() []event.Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	var events []event.Event
	for pid, name := range w.processes {
		p, err := process.NewProcess(int32(pid))
		if err != nil {
			w.log.Debug("Process has left, no longer tracked", "pid", pid, "name", name, "error", err)
			delete(w.processes, pid)
			continue
		}
		status, err := p.Status()
		if err != nil {
			w.log.Error("Error while finding process status", "error", err)
			continue
		}
		cpu, err := p.CPUPercent()
		if err != nil {
			w.log.Error("Error while finding process cpu usage", "error", err)
			continue
		}
		ram, err := p.MemoryPercent()
		if err != nil {
			w.log.Error("Error while finding process ram usage", "error", err)
			continue
		}
		events = append(events, toProcessTrackerEvent(pid, name, status, cpu, ram))
	}
	return events
}

func toProcessTrackerEvent(pid domain.PID, name string, status string, cpu float64, ram float32) event.Event {
	return event.New(event.PIDTrackerType, event.ProcessTracker{
		PID:    pid,
		Name:   name,
		Status: domain.ToStatus(status),
		Cpu:    cpu,
		Ram:    ram,
	})
}
