package runtime

import (
	"chat-sync/domain/chat"
	"chat-sync/errors"
	"sync"
)

type cursorEntry struct {
	mu     sync.Mutex
	cursor chat.Cursor
	set    bool
}

// MemoryCursorStore keeps cursors for the lifetime of the process.
// The map lock only guards room lookup, each room has its own entry lock.
type MemoryCursorStore struct {
	mu      sync.RWMutex
	entries map[chat.RoomID]*cursorEntry
}

func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{entries: make(map[chat.RoomID]*cursorEntry)}
}

func (s *MemoryCursorStore) entry(roomID chat.RoomID, create bool) *cursorEntry {
	s.mu.RLock()
	e, ok := s.entries[roomID]
	s.mu.RUnlock()
	if ok || !create {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[roomID]; !ok {
		e = &cursorEntry{}
		s.entries[roomID] = e
	}
	return e
}

func (s *MemoryCursorStore) GetCursor(roomID chat.RoomID) (*chat.Cursor, error) {
	e := s.entry(roomID, false)
	if e == nil {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		return nil, nil
	}
	cursor := e.cursor
	return &cursor, nil
}

func (s *MemoryCursorStore) SetCursor(roomID chat.RoomID, cursor chat.Cursor) error {
	if cursor == "" {
		return errors.ErrEmptyCursor
	}
	e := s.entry(roomID, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cursor, e.set = cursor, true
	return nil
}

func (s *MemoryCursorStore) ClearCursor(roomID chat.RoomID) error {
	e := s.entry(roomID, false)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cursor, e.set = "", false
	return nil
}
