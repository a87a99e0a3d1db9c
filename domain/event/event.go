package event

import (
	"sync"
	"time"
)

// Type names a technical event flowing on the telemetry channel
type Type string

// Event is never part of the chat stream, it only feeds observability handlers
type Event struct {
	Type      Type
	CreatedAt time.Time
	Payload   any
}

func New(t Type, payload any) Event {
	return Event{Type: t, CreatedAt: time.Now().UTC(), Payload: payload}
}

// Counter is shared by handlers counting occurrences of a given type
type Counter struct {
	mu     sync.Mutex
	counts map[Type]uint64
}

func NewCounter() *Counter {
	return &Counter{counts: make(map[Type]uint64)}
}

func (c *Counter) Increment(t Type) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[t]++
}

func (c *Counter) Get(t Type) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[t]
}

func (c *Counter) Snapshot() map[Type]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make(map[Type]uint64, len(c.counts))
	for t, n := range c.counts {
		snapshot[t] = n
	}
	return snapshot
}
