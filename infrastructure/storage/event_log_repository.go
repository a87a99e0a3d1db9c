package storage

import (
	"chat-sync/domain/chat"
	"chat-sync/errors"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

const seqWidth = 19

// RoomRecord is the state of a room hosted by the local backend
type RoomRecord struct {
	ID        chat.RoomID `json:"id"`
	Open      bool        `json:"open"`
	Members   []string    `json:"members"`
	CreatedAt time.Time   `json:"createdAt"`
}

func (r RoomRecord) IsMember(userID string) bool {
	return lo.Contains(r.Members, userID)
}

// EventLogRepository is an append-only log of events per room.
// Keys are laid out so that a forward prefix scan returns a room in order:
//
//	evt:{room_id}:{seq_padded}  event, JSON encoded
//	idx:{room_id}:{event_id}    seq of the event
//	seq:{room_id}               last allocated seq
//	room:{room_id}              RoomRecord
//
// The cursor handed to clients is the padded seq of the last event read.
type EventLogRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewEventLogRepository(db *badger.DB, log *slog.Logger) *EventLogRepository {
	return &EventLogRepository{db: db, log: log}
}

func eventPrefix(roomID chat.RoomID) []byte {
	return []byte(fmt.Sprintf("evt:%s:", roomID))
}

func eventKey(roomID chat.RoomID, seq uint64) []byte {
	return []byte(fmt.Sprintf("evt:%s:%0*d", roomID, seqWidth, seq))
}

func indexKey(roomID chat.RoomID, eventID string) []byte {
	return []byte(fmt.Sprintf("idx:%s:%s", roomID, eventID))
}

func seqKey(roomID chat.RoomID) []byte {
	return []byte(fmt.Sprintf("seq:%s", roomID))
}

func roomKey(roomID chat.RoomID) []byte {
	return []byte(fmt.Sprintf("room:%s", roomID))
}

// ToCursor formats a seq the way it appears in keys
func ToCursor(seq uint64) chat.Cursor {
	return chat.Cursor(fmt.Sprintf("%0*d", seqWidth, seq))
}

// ParseCursor rejects anything that was not produced by ToCursor
func ParseCursor(cursor chat.Cursor) (uint64, error) {
	if len(cursor) != seqWidth {
		return 0, fmt.Errorf("%w: %q", errors.ErrInvalidCursor, cursor)
	}
	seq, err := strconv.ParseUint(string(cursor), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errors.ErrInvalidCursor, cursor)
	}
	return seq, nil
}

// Append allocates the next seq of the room and stores the event under it
func (r *EventLogRepository) Append(e chat.Event) (chat.Cursor, error) {
	var cursor chat.Cursor
	err := r.db.Update(func(txn *badger.Txn) error {
		seq, err := readSeq(txn, e.RoomID)
		if err != nil {
			return err
		}
		seq++
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if err = txn.Set(eventKey(e.RoomID, seq), data); err != nil {
			return err
		}
		if err = txn.Set(indexKey(e.RoomID, e.ID), []byte(strconv.FormatUint(seq, 10))); err != nil {
			return err
		}
		cursor = ToCursor(seq)
		return txn.Set(seqKey(e.RoomID), []byte(strconv.FormatUint(seq, 10)))
	})
	if err != nil {
		r.log.Error("Unable to append event", "room_id", e.RoomID, "error", err)
		return "", err
	}
	return cursor, nil
}

// Since returns up to limit events strictly after the cursor, oldest first.
// A nil cursor reads from the beginning of the room. When nothing new exists
// the cursor is handed back unchanged.
func (r *EventLogRepository) Since(roomID chat.RoomID, cursor *chat.Cursor, limit int) (chat.Batch, error) {
	var after uint64
	if cursor != nil {
		seq, err := ParseCursor(*cursor)
		if err != nil {
			return chat.Batch{}, err
		}
		after = seq
	}
	batch := chat.Batch{Events: []chat.Event{}}
	if cursor != nil {
		batch.NextCursor = *cursor
	}

	err := r.db.View(func(txn *badger.Txn) error {
		prefix := eventPrefix(roomID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(eventKey(roomID, after+1)); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			rest := item.Key()[len(prefix):]
			// evt:{room}: also prefixes rooms named "{room}:..."
			if len(rest) != seqWidth {
				continue
			}
			if limit > 0 && len(batch.Events) == limit {
				batch.HasMore = true
				return nil
			}
			var e chat.Event
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			batch.Events = append(batch.Events, e)
			batch.NextCursor = chat.Cursor(rest)
		}
		return nil
	})
	if err != nil {
		return chat.Batch{}, err
	}
	return batch, nil
}

// Head is the cursor of the last event of the room, empty for an empty room
func (r *EventLogRepository) Head(roomID chat.RoomID) (chat.Cursor, error) {
	var head chat.Cursor
	err := r.db.View(func(txn *badger.Txn) error {
		seq, err := readSeq(txn, roomID)
		if err != nil || seq == 0 {
			return err
		}
		head = ToCursor(seq)
		return nil
	})
	return head, err
}

// Find looks an event up by id
func (r *EventLogRepository) Find(roomID chat.RoomID, eventID string) (chat.Event, chat.Cursor, error) {
	var e chat.Event
	var cursor chat.Cursor
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey(roomID, eventID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errors.ErrEventNotFound
		}
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		seq, err := strconv.ParseUint(string(raw), 10, 64)
		if err != nil {
			return err
		}
		item, err = txn.Get(eventKey(roomID, seq))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errors.ErrEventNotFound
		}
		if err != nil {
			return err
		}
		cursor = ToCursor(seq)
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	return e, cursor, err
}

// Replace overwrites the stored snapshot of an existing event
func (r *EventLogRepository) Replace(cursor chat.Cursor, e chat.Event) error {
	seq, err := ParseCursor(cursor)
	if err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(eventKey(e.RoomID, seq)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return errors.ErrEventNotFound
			}
			return err
		}
		return txn.Set(eventKey(e.RoomID, seq), data)
	})
}

// DeleteByAuthor removes the events of a user with one of the given types.
// Later reads skip them, deliveries already made are unaffected.
func (r *EventLogRepository) DeleteByAuthor(roomID chat.RoomID, userID string, types ...chat.EventType) (int, error) {
	deleted := 0
	err := r.db.Update(func(txn *badger.Txn) error {
		prefix := eventPrefix(roomID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		var doomed []chat.Event
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			if len(item.Key())-len(prefix) != seqWidth {
				continue
			}
			var e chat.Event
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				it.Close()
				return err
			}
			if e.AuthorUserID == userID && lo.Contains(types, e.Type) {
				doomed = append(doomed, e)
				keys = append(keys, item.KeyCopy(nil))
			}
		}
		it.Close()

		for i, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := txn.Delete(indexKey(roomID, doomed[i].ID)); err != nil {
				return err
			}
		}
		deleted = len(keys)
		return nil
	})
	return deleted, err
}

func (r *EventLogRepository) SaveRoom(room RoomRecord) error {
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(roomKey(room.ID), data)
	})
}

func (r *EventLogRepository) GetRoom(roomID chat.RoomID) (RoomRecord, error) {
	var room RoomRecord
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(roomKey(roomID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errors.ErrRoomNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &room)
		})
	})
	return room, err
}

// Rooms lists every room record, ordered by id
func (r *EventLogRepository) Rooms() ([]RoomRecord, error) {
	var rooms []RoomRecord
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte("room:")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var room RoomRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &room)
			}); err != nil {
				return err
			}
			rooms = append(rooms, room)
		}
		return nil
	})
	return rooms, err
}

func readSeq(txn *badger.Txn, roomID chat.RoomID) (uint64, error) {
	item, err := txn.Get(seqKey(roomID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(raw), 10, 64)
}
