package storage

import (
	"chat-sync/domain/chat"
	"chat-sync/errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const cursorPrefix = "cursor:"

// CursorRepository is a durable cursor store.
// One key per room, formatted as "cursor:{room_id}", so acknowledged
// positions survive a restart of the daemon.
type CursorRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewCursorRepository(db *badger.DB, log *slog.Logger) *CursorRepository {
	return &CursorRepository{db: db, log: log}
}

func cursorKey(roomID chat.RoomID) []byte {
	return []byte(cursorPrefix + string(roomID))
}

func (r *CursorRepository) GetCursor(roomID chat.RoomID) (*chat.Cursor, error) {
	var cursor *chat.Cursor
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cursorKey(roomID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var stored wrapperspb.StringValue
			if err := proto.Unmarshal(val, &stored); err != nil {
				return fmt.Errorf("decode cursor of room %s: %w", roomID, err)
			}
			cursor = chat.Cursor(stored.GetValue()).Ptr()
			return nil
		})
	})
	if err != nil {
		r.log.Error("Unable to read cursor", "room_id", roomID, "error", err)
		return nil, err
	}
	return cursor, nil
}

func (r *CursorRepository) SetCursor(roomID chat.RoomID, cursor chat.Cursor) error {
	if cursor == "" {
		return errors.ErrEmptyCursor
	}
	data, err := proto.Marshal(wrapperspb.String(string(cursor)))
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(cursorKey(roomID), data)
	})
}

func (r *CursorRepository) ClearCursor(roomID chat.RoomID) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(cursorKey(roomID))
	})
}

// Cursors lists every persisted cursor
func (r *CursorRepository) Cursors() (map[chat.RoomID]chat.Cursor, error) {
	cursors := make(map[chat.RoomID]chat.Cursor)
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(cursorPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			roomID := chat.RoomID(item.Key()[len(prefix):])
			err := item.Value(func(val []byte) error {
				var stored wrapperspb.StringValue
				if err := proto.Unmarshal(val, &stored); err != nil {
					return err
				}
				cursors[roomID] = chat.Cursor(stored.GetValue())
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return cursors, err
}
