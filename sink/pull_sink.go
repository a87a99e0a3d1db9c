package sink

import (
	"chat-sync/domain/chat"
	"chat-sync/errors"
	"context"
	"iter"
	"sync"
)

// PullSink queues deliveries until the subscriber asks for them.
// The queue is bounded, when full the oldest delivery is dropped.
type PullSink struct {
	mu      sync.Mutex
	queue   []chat.Delivery
	size    int
	dropped uint64
	closed  bool
	notify  chan struct{}
	done    chan struct{}
}

func NewPullSink(size int) *PullSink {
	if size <= 0 {
		size = 1
	}
	return &PullSink{
		queue:  make([]chat.Delivery, 0, size),
		size:   size,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (s *PullSink) Consume(_ context.Context, d chat.Delivery) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.ErrSinkClosed
	}
	if len(s.queue) >= s.size {
		s.queue = s.queue[1:]
		s.dropped++
	}
	s.queue = append(s.queue, d)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// Next blocks until a delivery is available.
// It returns false when ctx is done or when the sink is closed and drained.
func (s *PullSink) Next(ctx context.Context) (chat.Delivery, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			d := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return d, true
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return chat.Delivery{}, false
		}

		select {
		case <-ctx.Done():
			return chat.Delivery{}, false
		case <-s.notify:
		case <-s.done:
		}
	}
}

// All yields deliveries until ctx is done, the sink is closed or the caller breaks
func (s *PullSink) All(ctx context.Context) iter.Seq[chat.Delivery] {
	return func(yield func(chat.Delivery) bool) {
		for {
			d, ok := s.Next(ctx)
			if !ok || !yield(d) {
				return
			}
		}
	}
}

func (s *PullSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *PullSink) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *PullSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}
