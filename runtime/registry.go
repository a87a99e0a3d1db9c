package runtime

import (
	"chat-sync/contract"
	"chat-sync/domain/chat"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// roomEntry holds everything known about one room.
// mu serializes the polling state, sinksMu guards the attachments so a
// delivery in progress can read them while holding mu.
type roomEntry struct {
	mu  sync.Mutex
	sub chat.RoomSubscription

	sinksMu     sync.RWMutex
	attachments []contract.Attachment
}

// Registry tracks the rooms being synchronized, keyed by room and not by consumer:
// any number of sinks share one RoomSubscription.
// Rooms never contend with each other, each entry has its own locks.
type Registry struct {
	mu            sync.RWMutex
	rooms         map[chat.RoomID]*roomEntry
	subscriptions map[chat.SubscriptionID]chat.RoomID
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:         make(map[chat.RoomID]*roomEntry),
		subscriptions: make(map[chat.SubscriptionID]chat.RoomID),
	}
}

func (r *Registry) entry(roomID chat.RoomID) (*roomEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.rooms[roomID]
	return e, ok
}

// Ensure creates the room entry on the fly, inactive until Activate
func (r *Registry) Ensure(roomID chat.RoomID) {
	r.ensure(roomID)
}

func (r *Registry) ensure(roomID chat.RoomID) *roomEntry {
	if e, ok := r.entry(roomID); ok {
		return e
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.rooms[roomID]; ok {
		return e
	}
	e := &roomEntry{sub: chat.RoomSubscription{RoomID: roomID}}
	r.rooms[roomID] = e
	return e
}

// Attach subscribes a sink to a room with its filter, the filter is never modified afterwards
func (r *Registry) Attach(roomID chat.RoomID, filter chat.Filter, sink contract.EventSink) chat.SubscriptionID {
	e := r.ensure(roomID)
	id := chat.SubscriptionID(uuid.NewString())

	e.sinksMu.Lock()
	e.attachments = append(e.attachments, contract.Attachment{ID: id, Filter: filter, Sink: sink})
	e.sinksMu.Unlock()

	r.mu.Lock()
	r.subscriptions[id] = roomID
	r.mu.Unlock()
	return id
}

func (r *Registry) Detach(id chat.SubscriptionID) (contract.Attachment, bool) {
	r.mu.Lock()
	roomID, ok := r.subscriptions[id]
	delete(r.subscriptions, id)
	e := r.rooms[roomID]
	r.mu.Unlock()
	if !ok || e == nil {
		return contract.Attachment{}, false
	}

	e.sinksMu.Lock()
	defer e.sinksMu.Unlock()
	attachment, index, found := lo.FindIndexOf(e.attachments, func(a contract.Attachment) bool {
		return a.ID == id
	})
	if !found {
		return contract.Attachment{}, false
	}
	e.attachments = append(e.attachments[:index:index], e.attachments[index+1:]...)
	return attachment, true
}

// DetachAll removes every attachment of the room and returns them
func (r *Registry) DetachAll(roomID chat.RoomID) []contract.Attachment {
	e, ok := r.entry(roomID)
	if !ok {
		return nil
	}
	e.sinksMu.Lock()
	attachments := e.attachments
	e.attachments = nil
	e.sinksMu.Unlock()

	r.mu.Lock()
	for _, a := range attachments {
		delete(r.subscriptions, a.ID)
	}
	r.mu.Unlock()
	return attachments
}

// GetSinksForRoom returns the attachments in subscription order
func (r *Registry) GetSinksForRoom(roomID chat.RoomID) []contract.Attachment {
	e, ok := r.entry(roomID)
	if !ok {
		return nil
	}
	e.sinksMu.RLock()
	defer e.sinksMu.RUnlock()
	return append([]contract.Attachment(nil), e.attachments...)
}

// RoomOf returns the room an attachment belongs to
func (r *Registry) RoomOf(id chat.SubscriptionID) (chat.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.subscriptions[id]
	return roomID, ok
}

// WithRoom runs fn while holding the room lock.
// Every read-modify-write of a room's polling state goes through here.
func (r *Registry) WithRoom(roomID chat.RoomID, fn func(sub *chat.RoomSubscription)) bool {
	e, ok := r.entry(roomID)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.sub)
	return true
}

// Activate marks the room as polled and opens a new generation.
// Results carrying an older generation are discarded.
func (r *Registry) Activate(roomID chat.RoomID) uint64 {
	e := r.ensure(roomID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sub.IsActive = true
	e.sub.Degraded = false
	e.sub.ConsecutiveFailures = 0
	e.sub.Generation++
	return e.sub.Generation
}

// Deactivate waits for any delivery holding the room lock before returning
func (r *Registry) Deactivate(roomID chat.RoomID) bool {
	return r.WithRoom(roomID, func(sub *chat.RoomSubscription) {
		sub.IsActive = false
	})
}

// Remove forgets the room, its attachments are returned so the caller can close them
func (r *Registry) Remove(roomID chat.RoomID) []contract.Attachment {
	attachments := r.DetachAll(roomID)
	r.Deactivate(roomID)
	r.mu.Lock()
	delete(r.rooms, roomID)
	r.mu.Unlock()
	return attachments
}

func (r *Registry) Subscription(roomID chat.RoomID) (chat.RoomSubscription, bool) {
	e, ok := r.entry(roomID)
	if !ok {
		return chat.RoomSubscription{}, false
	}
	e.mu.Lock()
	sub := e.sub
	e.mu.Unlock()

	e.sinksMu.RLock()
	sub.Sinks = len(e.attachments)
	e.sinksMu.RUnlock()
	return sub, true
}

func (r *Registry) Subscriptions() []chat.RoomSubscription {
	var subs []chat.RoomSubscription
	for _, roomID := range r.roomIDs() {
		if sub, ok := r.Subscription(roomID); ok {
			subs = append(subs, sub)
		}
	}
	return subs
}

// ActiveRooms is sorted for stable output
func (r *Registry) ActiveRooms() []chat.RoomID {
	return lo.Filter(r.roomIDs(), func(roomID chat.RoomID, _ int) bool {
		sub, ok := r.Subscription(roomID)
		return ok && sub.IsActive
	})
}

func (r *Registry) roomIDs() []chat.RoomID {
	r.mu.RLock()
	ids := lo.Keys(r.rooms)
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
