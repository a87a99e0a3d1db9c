package sink

import (
	"chat-sync/domain/chat"
	"chat-sync/errors"
	"context"
	"sync"
)

// NotifySink pushes each delivery to a callback.
// Nothing is buffered: a delivery produced while no observer is attached is lost,
// only the last one is remembered and can be read back with Last.
// The callback runs on the polling goroutine and must return quickly.
type NotifySink struct {
	mu       sync.Mutex
	observer func(chat.Delivery)
	last     *chat.Delivery
	closed   bool
}

func NewNotifySink(observer func(chat.Delivery)) *NotifySink {
	return &NotifySink{observer: observer}
}

func (s *NotifySink) Consume(_ context.Context, d chat.Delivery) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.ErrSinkClosed
	}
	s.last = &d
	observer := s.observer
	s.mu.Unlock()

	if observer == nil {
		return errors.ErrNoObserver
	}
	observer(d)
	return nil
}

// Observe replaces the current observer, nil detaches it
func (s *NotifySink) Observe(observer func(chat.Delivery)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = observer
}

func (s *NotifySink) Last() (chat.Delivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return chat.Delivery{}, false
	}
	return *s.last, true
}

func (s *NotifySink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.observer = nil
}
