package services

import (
	"chat-sync/domain/chat"
	"chat-sync/errors"
	"chat-sync/infrastructure/ratelimit"
	"chat-sync/mocks"
	"chat-sync/observability"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func speech(room chat.RoomID, user, body string) chat.Command {
	return chat.Command{Room: room, UserID: user, Type: chat.SpeechEvent, Body: body}
}

func TestCommandService_Execute_Success(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	executor := mocks.NewMockCommandExecutor(ctrl)
	monitor := observability.NewSyncMonitor(log)
	service := NewCommandService(log, executor, nil, time.Second, monitor)

	// Given an executor accepting the command
	cmd := speech("room-1", "alice", "hello")
	expected := chat.CommandResult{Event: chat.Event{ID: "evt-1", RoomID: "room-1", Type: chat.SpeechEvent}}
	executor.EXPECT().ExecuteCommand(gomock.Any(), cmd).
		DoAndReturn(func(ctx context.Context, _ chat.Command) (chat.CommandResult, error) {
			_, ok := ctx.Deadline()
			req.True(ok, "executor must run under a timeout")
			return expected, nil
		})

	// When the command is executed
	result, err := service.Execute(context.Background(), cmd)

	// Then the event comes back untouched
	req.NoError(err)
	req.Equal(expected, result)
	req.Equal(uint64(1), monitor.GetLatest().CommandsExecuted)
}

func TestCommandService_Execute_InvalidCommand(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	executor := mocks.NewMockCommandExecutor(ctrl)
	service := NewCommandService(log, executor, nil, time.Second, nil)

	tests := []struct {
		name string
		cmd  chat.Command
	}{
		{"missing room", chat.Command{UserID: "alice", Type: chat.SpeechEvent, Body: "hi"}},
		{"speech without body", chat.Command{Room: "room-1", UserID: "alice", Type: chat.SpeechEvent}},
		{"reply without target", chat.Command{Room: "room-1", UserID: "alice", Type: chat.ReplyEvent, Body: "hi"}},
		{"custom without custom type", chat.Command{Room: "room-1", UserID: "alice", Type: chat.CustomEvent}},
		{"unknown type", chat.Command{Room: "room-1", UserID: "alice", Type: "shout", Body: "hi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// When the command is executed
			_, err := service.Execute(context.Background(), tt.cmd)

			// Then it never reaches the executor
			require.Error(t, err)
			require.True(t, errors.IsKind(err, errors.KindValidation))
			require.ErrorIs(t, err, errors.ErrInvalidCommand)
		})
	}
	req.Zero(service.monitor.GetLatest().CommandsExecuted)
}

func TestCommandService_Execute_RateLimitedIsNotRetried(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	executor := mocks.NewMockCommandExecutor(ctrl)
	limiter := ratelimit.NewKeyedLimiter(time.Hour, 1, time.Hour)
	defer limiter.Close()
	service := NewCommandService(log, executor, limiter, time.Second, nil)

	// Given the executor is only reachable once
	executor.EXPECT().ExecuteCommand(gomock.Any(), gomock.Any()).
		Return(chat.CommandResult{}, nil).Times(1)

	// When the same user sends two commands in a row
	_, err := service.Execute(context.Background(), speech("room-1", "alice", "one"))
	req.NoError(err)
	_, err = service.Execute(context.Background(), speech("room-1", "alice", "two"))

	// Then the second one is rejected locally with a 429
	var classified *errors.ClassifiedError
	req.True(errors.As(err, &classified))
	req.Equal(errors.KindRateLimited, classified.Kind)
	req.Equal(429, classified.Code)
	req.False(errors.IsRetryable(err))
}

func TestCommandService_Execute_ClassifiesExecutorFailure(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	executor := mocks.NewMockCommandExecutor(ctrl)
	monitor := observability.NewSyncMonitor(log)
	service := NewCommandService(log, executor, nil, time.Second, monitor)

	// Given an executor answering with a transport status and another with a raw error
	executor.EXPECT().ExecuteCommand(gomock.Any(), gomock.Any()).
		Return(chat.CommandResult{}, errors.FromStatusCode(404, "no such room"))
	executor.EXPECT().ExecuteCommand(gomock.Any(), gomock.Any()).
		Return(chat.CommandResult{}, fmt.Errorf("boom"))

	// When both commands are executed
	_, notFound := service.Execute(context.Background(), speech("room-9", "alice", "hi"))
	_, server := service.Execute(context.Background(), speech("room-1", "alice", "hi"))

	// Then both come back classified
	req.True(errors.IsKind(notFound, errors.KindNotFound))
	req.True(errors.IsKind(server, errors.KindServer))
	req.Equal(uint64(2), monitor.GetLatest().CommandsRejected)
}
