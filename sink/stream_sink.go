package sink

import (
	"chat-sync/domain/chat"
	"chat-sync/errors"
	"context"
	"sync"
	"sync/atomic"
)

// StreamSink is a backpressured push: the channel holds a single slot and
// a delivery arriving before the previous one was read replaces it.
// The producer never blocks.
type StreamSink struct {
	mu       sync.Mutex
	ch       chan chat.Delivery
	closed   bool
	replaced atomic.Uint64
}

func NewStreamSink() *StreamSink {
	return &StreamSink{ch: make(chan chat.Delivery, 1)}
}

func (s *StreamSink) Consume(_ context.Context, d chat.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrSinkClosed
	}

	select {
	case s.ch <- d:
		return nil
	default:
	}

	// Slot taken by an unread delivery, latest wins
	select {
	case <-s.ch:
		s.replaced.Add(1)
	default:
	}
	select {
	case s.ch <- d:
	default:
	}
	return nil
}

// Deliveries is closed once the sink is closed, the pending delivery stays readable
func (s *StreamSink) Deliveries() <-chan chat.Delivery {
	return s.ch
}

// Replaced counts the deliveries discarded because the reader was too slow
func (s *StreamSink) Replaced() uint64 {
	return s.replaced.Load()
}

func (s *StreamSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
