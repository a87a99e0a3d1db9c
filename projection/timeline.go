// Package projection builds local timelines from delivered events.
// Handles ordering, deduplication and the follow-up effects of reactions,
// reports and purges. Does not emit events.
package projection

import (
	"chat-sync/domain/chat"
	"context"
	"slices"
	"sync"
)

const DefaultCapacity = 500

type roomTimeline struct {
	events []chat.Event
	index  map[string]int
}

// Timeline keeps the last events of every room it has been fed
type Timeline struct {
	mu       sync.RWMutex
	capacity int
	rooms    map[chat.RoomID]*roomTimeline
}

func NewTimeline(capacity int) *Timeline {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Timeline{capacity: capacity, rooms: make(map[chat.RoomID]*roomTimeline)}
}

// Consume is used as a permanent sink. Failed deliveries are skipped.
func (t *Timeline) Consume(_ context.Context, d chat.Delivery) error {
	if d.Failed() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	room, ok := t.rooms[d.RoomID]
	if !ok {
		room = &roomTimeline{index: make(map[string]int)}
		t.rooms[d.RoomID] = room
	}
	for _, e := range d.Events {
		room.apply(e)
	}
	room.trim(t.capacity)
	return nil
}

func (r *roomTimeline) apply(e chat.Event) {
	switch e.Type {
	case chat.ReactionEvent, chat.ReportEvent:
		// the target snapshot travels with the event
		if e.ReplyTo != nil {
			if i, ok := r.index[e.ReplyTo.ID]; ok {
				r.events[i] = *e.ReplyTo
			}
		}
	case chat.PurgeEvent:
		if purged := e.Metadata["purgedUserId"]; purged != "" {
			r.events = slices.DeleteFunc(r.events, func(x chat.Event) bool {
				return x.Type == chat.SpeechEvent && x.AuthorUserID == purged
			})
			r.reindex()
		}
	}
	if _, seen := r.index[e.ID]; seen {
		return
	}
	r.events = append(r.events, e)
	r.index[e.ID] = len(r.events) - 1
}

func (r *roomTimeline) trim(capacity int) {
	if len(r.events) <= capacity {
		return
	}
	r.events = slices.Clone(r.events[len(r.events)-capacity:])
	r.reindex()
}

func (r *roomTimeline) reindex() {
	clear(r.index)
	for i, e := range r.events {
		r.index[e.ID] = i
	}
}

// Events returns a copy of the room timeline, oldest first
func (t *Timeline) Events(roomID chat.RoomID) []chat.Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	room, ok := t.rooms[roomID]
	if !ok {
		return nil
	}
	return slices.Clone(room.events)
}

// Forget drops the room, used when the room is left
func (t *Timeline) Forget(roomID chat.RoomID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rooms, roomID)
}
