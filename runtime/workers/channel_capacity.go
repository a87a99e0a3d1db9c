package workers

import (
	"chat-sync/domain/event"
	"context"
	"log/slog"
	"reflect"
	"time"
)

// Gauge reports the fill level of a bounded queue
type Gauge struct {
	Name string
	Len  func() int
	Cap  func() int
}

// ChannelGauge wraps any buffered channel, reading len and cap never blocks
func ChannelGauge(name string, channel any) (Gauge, bool) {
	v := reflect.ValueOf(channel)
	if v.Kind() != reflect.Chan {
		return Gauge{}, false
	}
	return Gauge{Name: name, Len: v.Len, Cap: v.Cap}, true
}

// ChannelCapacityWorker periodically reports the length and capacity of the gauges.
// Losing a sample is fine, the next tick produces a fresh one.
type ChannelCapacityWorker struct {
	log            *slog.Logger
	gauges         []Gauge
	telemetryChan  chan event.Event
	metricInterval time.Duration
}

func NewChannelCapacityWorker(log *slog.Logger,
	gauges []Gauge, telemetryChan chan event.Event,
	metricInterval time.Duration) *ChannelCapacityWorker {
	return &ChannelCapacityWorker{
		log:            log,
		gauges:         gauges,
		telemetryChan:  telemetryChan,
		metricInterval: metricInterval,
	}
}

func (w ChannelCapacityWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping capacity sampling")
			return nil
		case <-ticker.C:
			for _, g := range w.gauges {
				select {
				case <-ctx.Done():
					return nil
				case w.telemetryChan <- toCapacityEvent(g.Name, g.Cap(), g.Len()):
				default:
					w.log.Debug("Observability telemetry event lost")
				}
			}
		}
	}
}

func toCapacityEvent(name string, capacity, length int) event.Event {
	return event.New(event.ChannelCapacityType, event.ChannelCapacity{
		ChannelName: name,
		Capacity:    capacity,
		Length:      length,
	})
}
