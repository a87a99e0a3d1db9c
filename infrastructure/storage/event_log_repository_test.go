package storage

import (
	"chat-sync/domain/chat"
	"chat-sync/errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func newEventLog(t *testing.T) *EventLogRepository {
	return NewEventLogRepository(SetupTestDB(t), logs.GetLoggerFromLevel(slog.LevelDebug))
}

func speechEvent(room chat.RoomID, i int, author string) chat.Event {
	return chat.Event{
		ID:           fmt.Sprintf("evt-%d", i),
		RoomID:       room,
		Type:         chat.SpeechEvent,
		Body:         fmt.Sprintf("message %d", i),
		AuthorUserID: author,
		Timestamp:    time.Now().UTC().Truncate(time.Millisecond),
	}
}

func ids(events []chat.Event) []string {
	return lo.Map(events, func(e chat.Event, _ int) string { return e.ID })
}

func TestEventLogRepository_SincePagesInOrder(t *testing.T) {
	req := require.New(t)
	repo := newEventLog(t)

	// Given five events appended to a room
	for i := 1; i <= 5; i++ {
		cursor, err := repo.Append(speechEvent("room-1", i, "alice"))
		req.NoError(err)
		req.Equal(ToCursor(uint64(i)), cursor)
	}

	// When the backlog is read two at a time
	first, err := repo.Since("room-1", nil, 2)
	req.NoError(err)
	second, err := repo.Since("room-1", first.NextCursor.Ptr(), 2)
	req.NoError(err)
	third, err := repo.Since("room-1", second.NextCursor.Ptr(), 2)
	req.NoError(err)

	// Then each page continues after the previous cursor
	req.Equal([]string{"evt-1", "evt-2"}, ids(first.Events))
	req.True(first.HasMore)
	req.Equal([]string{"evt-3", "evt-4"}, ids(second.Events))
	req.True(second.HasMore)
	req.Equal([]string{"evt-5"}, ids(third.Events))
	req.False(third.HasMore)
	req.Equal(ToCursor(5), third.NextCursor)
}

func TestEventLogRepository_SinceWithNothingNew(t *testing.T) {
	req := require.New(t)
	repo := newEventLog(t)
	cursor, err := repo.Append(speechEvent("room-1", 1, "alice"))
	req.NoError(err)

	batch, err := repo.Since("room-1", cursor.Ptr(), 10)

	req.NoError(err)
	req.NotNil(batch.Events)
	req.Empty(batch.Events)
	req.Equal(cursor, batch.NextCursor)
	req.False(batch.HasMore)
}

func TestEventLogRepository_RoomsDoNotLeak(t *testing.T) {
	req := require.New(t)
	repo := newEventLog(t)

	// Given a room whose id prefixes another room
	_, err := repo.Append(speechEvent("a", 1, "alice"))
	req.NoError(err)
	_, err = repo.Append(speechEvent("a:b", 2, "bob"))
	req.NoError(err)

	// When the shorter room is read
	batch, err := repo.Since("a", nil, 10)

	// Then only its own events come back
	req.NoError(err)
	req.Equal([]string{"evt-1"}, ids(batch.Events))
}

func TestEventLogRepository_InvalidCursor(t *testing.T) {
	req := require.New(t)
	repo := newEventLog(t)

	_, err := repo.Since("room-1", chat.Cursor("garbage").Ptr(), 10)

	req.ErrorIs(err, errors.ErrInvalidCursor)
}

func TestEventLogRepository_HeadFindReplace(t *testing.T) {
	req := require.New(t)
	repo := newEventLog(t)

	head, err := repo.Head("room-1")
	req.NoError(err)
	req.Empty(head)

	// Given two events
	_, err = repo.Append(speechEvent("room-1", 1, "alice"))
	req.NoError(err)
	_, err = repo.Append(speechEvent("room-1", 2, "bob"))
	req.NoError(err)

	// When the first one is looked up and updated
	e, cursor, err := repo.Find("room-1", "evt-1")
	req.NoError(err)
	req.Equal(ToCursor(1), cursor)
	e.Reports = []chat.Report{{UserID: "bob", Reason: "spam"}}
	req.NoError(repo.Replace(cursor, e))

	// Then the new snapshot is read back and the head is unchanged
	updated, _, err := repo.Find("room-1", "evt-1")
	req.NoError(err)
	req.Equal(e.Reports, updated.Reports)
	head, err = repo.Head("room-1")
	req.NoError(err)
	req.Equal(ToCursor(2), head)

	_, _, err = repo.Find("room-1", "missing")
	req.ErrorIs(err, errors.ErrEventNotFound)
}

func TestEventLogRepository_DeleteByAuthor(t *testing.T) {
	req := require.New(t)
	repo := newEventLog(t)

	// Given speech from two users and an action from the purged one
	_, err := repo.Append(speechEvent("room-1", 1, "mallory"))
	req.NoError(err)
	_, err = repo.Append(speechEvent("room-1", 2, "alice"))
	req.NoError(err)
	action := speechEvent("room-1", 3, "mallory")
	action.Type = chat.ActionEvent
	_, err = repo.Append(action)
	req.NoError(err)

	// When the user's speech is purged
	deleted, err := repo.DeleteByAuthor("room-1", "mallory", chat.SpeechEvent)

	// Then only the speech is gone
	req.NoError(err)
	req.Equal(1, deleted)
	batch, err := repo.Since("room-1", nil, 10)
	req.NoError(err)
	req.Equal([]string{"evt-2", "evt-3"}, ids(batch.Events))
	_, _, err = repo.Find("room-1", "evt-1")
	req.ErrorIs(err, errors.ErrEventNotFound)
}

func TestEventLogRepository_Rooms(t *testing.T) {
	req := require.New(t)
	repo := newEventLog(t)

	_, err := repo.GetRoom("room-1")
	req.ErrorIs(err, errors.ErrRoomNotFound)

	req.NoError(repo.SaveRoom(RoomRecord{ID: "room-2", Open: true}))
	req.NoError(repo.SaveRoom(RoomRecord{ID: "room-1", Open: true, Members: []string{"alice"}}))

	room, err := repo.GetRoom("room-1")
	req.NoError(err)
	req.True(room.IsMember("alice"))
	req.False(room.IsMember("bob"))

	rooms, err := repo.Rooms()
	req.NoError(err)
	req.Equal([]chat.RoomID{"room-1", "room-2"},
		lo.Map(rooms, func(r RoomRecord, _ int) chat.RoomID { return r.ID }))
}
