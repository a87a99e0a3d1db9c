package storage

import (
	"chat-sync/domain/chat"
	"chat-sync/errors"
	"log/slog"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func TestCursorRepository_SetGetClear(t *testing.T) {
	req := require.New(t)
	repo := NewCursorRepository(SetupTestDB(t), logs.GetLoggerFromLevel(slog.LevelDebug))

	// Given a room never fetched
	cursor, err := repo.GetCursor("room-1")
	req.NoError(err)
	req.Nil(cursor)

	// When a cursor is acknowledged twice
	req.NoError(repo.SetCursor("room-1", "0000000000000000003"))
	req.NoError(repo.SetCursor("room-1", "0000000000000000007"))

	// Then the last one is kept
	cursor, err = repo.GetCursor("room-1")
	req.NoError(err)
	req.NotNil(cursor)
	req.Equal(chat.Cursor("0000000000000000007"), *cursor)

	// When the cursor is cleared
	req.NoError(repo.ClearCursor("room-1"))

	// Then the room reads as never fetched
	cursor, err = repo.GetCursor("room-1")
	req.NoError(err)
	req.Nil(cursor)
}

func TestCursorRepository_RejectsEmptyCursor(t *testing.T) {
	req := require.New(t)
	repo := NewCursorRepository(SetupTestDB(t), logs.GetLoggerFromLevel(slog.LevelDebug))

	req.ErrorIs(repo.SetCursor("room-1", ""), errors.ErrEmptyCursor)
}

func TestCursorRepository_Cursors(t *testing.T) {
	req := require.New(t)
	repo := NewCursorRepository(SetupTestDB(t), logs.GetLoggerFromLevel(slog.LevelDebug))
	req.NoError(repo.SetCursor("room-1", "a"))
	req.NoError(repo.SetCursor("room-2", "b"))

	cursors, err := repo.Cursors()
	req.NoError(err)
	req.Equal(map[chat.RoomID]chat.Cursor{"room-1": "a", "room-2": "b"}, cursors)
}

func TestCursorRepository_ClearUnknownRoom(t *testing.T) {
	req := require.New(t)
	repo := NewCursorRepository(SetupTestDB(t), logs.GetLoggerFromLevel(slog.LevelDebug))

	req.NoError(repo.ClearCursor("never-seen"))
}
