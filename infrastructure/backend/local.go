// Package backend hosts rooms locally on top of the badger event log, so the
// engine can be run and tested without a remote chat service.
package backend

import (
	"chat-sync/domain/chat"
	"chat-sync/errors"
	"chat-sync/infrastructure/storage"
	"chat-sync/moderation"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// LocalBackend plays the remote chat service: it fetches updates, executes
// commands and tracks room membership.
type LocalBackend struct {
	log       *slog.Logger
	events    *storage.EventLogRepository
	moderator *moderation.Moderator
	validator *validator.Validate
	// commands read-modify-write the log
	mu  sync.Mutex
	now func() time.Time
}

func NewLocalBackend(log *slog.Logger, events *storage.EventLogRepository, moderator *moderation.Moderator) *LocalBackend {
	return &LocalBackend{
		log:       log,
		events:    events,
		moderator: moderator,
		validator: validator.New(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateRoom registers an open room, existing rooms are left untouched
func (b *LocalBackend) CreateRoom(roomID chat.RoomID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, err := b.events.GetRoom(roomID)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, errors.ErrRoomNotFound):
		return errors.Server(err)
	}
	if err = b.events.SaveRoom(storage.RoomRecord{ID: roomID, Open: true, CreatedAt: b.now()}); err != nil {
		return errors.Server(err)
	}
	b.log.Info("Room created", "room_id", roomID)
	return nil
}

func (b *LocalBackend) Rooms() ([]storage.RoomRecord, error) {
	rooms, err := b.events.Rooms()
	if err != nil {
		return nil, errors.Server(err)
	}
	return rooms, nil
}

func (b *LocalBackend) FetchUpdates(ctx context.Context, roomID chat.RoomID, cursor *chat.Cursor, limit int) (chat.Batch, error) {
	if err := ctx.Err(); err != nil {
		return chat.Batch{}, errors.Classify(err)
	}
	if _, err := b.room(roomID); err != nil {
		return chat.Batch{}, err
	}
	batch, err := b.events.Since(roomID, cursor, limit)
	if errors.Is(err, errors.ErrInvalidCursor) {
		return chat.Batch{}, errors.Validation(err)
	}
	if err != nil {
		return chat.Batch{}, errors.Server(err)
	}
	return batch, nil
}

// JoinRoom adds the user to the members and returns the head of the room
func (b *LocalBackend) JoinRoom(ctx context.Context, roomID chat.RoomID, userID string) (chat.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Classify(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	room, err := b.room(roomID)
	if err != nil {
		return "", err
	}
	if !room.Open {
		return "", errors.Validation(fmt.Errorf("%w: %s", errors.ErrRoomClosed, roomID))
	}
	if !room.IsMember(userID) {
		room.Members = append(room.Members, userID)
		if err = b.events.SaveRoom(room); err != nil {
			return "", errors.Server(err)
		}
	}
	head, err := b.events.Head(roomID)
	if err != nil {
		return "", errors.Server(err)
	}
	return head, nil
}

func (b *LocalBackend) LeaveRoom(ctx context.Context, roomID chat.RoomID, userID string) error {
	if err := ctx.Err(); err != nil {
		return errors.Classify(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	room, err := b.room(roomID)
	if err != nil {
		return err
	}
	room.Members = lo.Without(room.Members, userID)
	if err = b.events.SaveRoom(room); err != nil {
		return errors.Server(err)
	}
	return nil
}

func (b *LocalBackend) ExecuteCommand(ctx context.Context, cmd chat.Command) (chat.CommandResult, error) {
	if err := ctx.Err(); err != nil {
		return chat.CommandResult{}, errors.Classify(err)
	}
	if err := b.validator.Struct(cmd); err != nil {
		return chat.CommandResult{}, errors.Validation(fmt.Errorf("%w: %v", errors.ErrInvalidCommand, err))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	room, err := b.room(cmd.Room)
	if err != nil {
		return chat.CommandResult{}, err
	}
	if !room.IsMember(cmd.UserID) {
		return chat.CommandResult{}, errors.Validation(fmt.Errorf("%w: %s", errors.ErrUnknownUser, cmd.UserID))
	}
	if !room.Open && cmd.Type != chat.RoomOpenedEvent {
		return chat.CommandResult{}, errors.Validation(fmt.Errorf("%w: %s", errors.ErrRoomClosed, cmd.Room))
	}

	e := chat.Event{
		ID:              uuid.NewString(),
		RoomID:          cmd.Room,
		Type:            cmd.Type,
		Body:            cmd.Body,
		AuthorUserID:    cmd.UserID,
		Timestamp:       b.now(),
		ModerationState: chat.ModerationNA,
		Metadata:        cloneMetadata(cmd.Metadata),
	}

	switch cmd.Type {
	case chat.SpeechEvent:
		b.moderate(&e)
	case chat.ReplyEvent, chat.QuoteEvent:
		target, _, err := b.target(cmd)
		if err != nil {
			return chat.CommandResult{}, err
		}
		e.ReplyTo = &target
	case chat.ReactionEvent:
		target, err := b.react(cmd)
		if err != nil {
			return chat.CommandResult{}, err
		}
		e.ReplyTo = &target
		e.Metadata = withMetadata(e.Metadata, "reaction", cmd.ReactionType)
	case chat.ReportEvent:
		target, err := b.report(cmd)
		if err != nil {
			return chat.CommandResult{}, err
		}
		e.ReplyTo = &target
		e.Body = cmd.Reason
	case chat.PurgeEvent:
		deleted, err := b.events.DeleteByAuthor(cmd.Room, cmd.PurgeUserID, chat.SpeechEvent)
		if err != nil {
			return chat.CommandResult{}, errors.Server(err)
		}
		e.Metadata = withMetadata(e.Metadata, "purgedUserId", cmd.PurgeUserID)
		e.Metadata = withMetadata(e.Metadata, "purged", strconv.Itoa(deleted))
		b.log.Info("User purged", "room_id", cmd.Room, "user_id", cmd.PurgeUserID, "deleted", deleted)
	case chat.CustomEvent:
		e.CustomType = cmd.CustomType
	case chat.RoomOpenedEvent, chat.RoomClosedEvent:
		room.Open = cmd.Type == chat.RoomOpenedEvent
		if err = b.events.SaveRoom(room); err != nil {
			return chat.CommandResult{}, errors.Server(err)
		}
	}

	if _, err = b.events.Append(e); err != nil {
		return chat.CommandResult{}, errors.Server(err)
	}
	return chat.CommandResult{Event: e}, nil
}

// moderate censors the body and tags it with the detected language
func (b *LocalBackend) moderate(e *chat.Event) {
	if lang := whatlanggo.Detect(e.Body).Lang.Iso6391(); lang != "" {
		e.Metadata = withMetadata(e.Metadata, "lang", lang)
	}
	e.ModerationState = chat.ModerationApproved
	if b.moderator == nil {
		return
	}
	censored, words := b.moderator.Censor(e.Body)
	if len(words) > 0 {
		b.log.Debug("Speech censored", "room_id", e.RoomID, "user_id", e.AuthorUserID, "words", len(words))
		e.Body = censored
		e.ModerationState = chat.ModerationPending
	}
}

func (b *LocalBackend) room(roomID chat.RoomID) (storage.RoomRecord, error) {
	room, err := b.events.GetRoom(roomID)
	if errors.Is(err, errors.ErrRoomNotFound) {
		return storage.RoomRecord{}, errors.NotFound(fmt.Errorf("%w: %s", errors.ErrRoomNotFound, roomID))
	}
	if err != nil {
		return storage.RoomRecord{}, errors.Server(err)
	}
	return room, nil
}

func (b *LocalBackend) target(cmd chat.Command) (chat.Event, chat.Cursor, error) {
	target, cursor, err := b.events.Find(cmd.Room, cmd.ReplyTo)
	if errors.Is(err, errors.ErrEventNotFound) {
		return chat.Event{}, "", errors.Validation(fmt.Errorf("%w: %s", errors.ErrUnknownReplyTarget, cmd.ReplyTo))
	}
	if err != nil {
		return chat.Event{}, "", errors.Server(err)
	}
	return target, cursor, nil
}

// react toggles the user in the reaction set of the target, Remove only withdraws
func (b *LocalBackend) react(cmd chat.Command) (chat.Event, error) {
	target, cursor, err := b.target(cmd)
	if err != nil {
		return chat.Event{}, err
	}
	reactions := slices.Clone(target.Reactions)
	idx := slices.IndexFunc(reactions, func(r chat.Reaction) bool { return r.Type == cmd.ReactionType })
	if idx < 0 {
		if cmd.Remove {
			return target, nil
		}
		reactions = append(reactions, chat.Reaction{Type: cmd.ReactionType})
		idx = len(reactions) - 1
	}
	reaction := reactions[idx]
	users := slices.Clone(reaction.Users)
	switch {
	case lo.Contains(users, cmd.UserID):
		users = lo.Without(users, cmd.UserID)
	case !cmd.Remove:
		users = append(users, cmd.UserID)
	}
	reaction.Users = users
	reaction.Count = len(users)
	reactions[idx] = reaction
	target.Reactions = lo.Filter(reactions, func(r chat.Reaction, _ int) bool { return r.Count > 0 })

	if err = b.events.Replace(cursor, target); err != nil {
		return chat.Event{}, errors.Server(err)
	}
	return target, nil
}

func (b *LocalBackend) report(cmd chat.Command) (chat.Event, error) {
	target, cursor, err := b.target(cmd)
	if err != nil {
		return chat.Event{}, err
	}
	target.Reports = append(slices.Clone(target.Reports), chat.Report{UserID: cmd.UserID, Reason: cmd.Reason})
	if err = b.events.Replace(cursor, target); err != nil {
		return chat.Event{}, errors.Server(err)
	}
	return target, nil
}

func cloneMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func withMetadata(m map[string]string, key, value string) map[string]string {
	if m == nil {
		m = make(map[string]string)
	}
	m[key] = value
	return m
}
