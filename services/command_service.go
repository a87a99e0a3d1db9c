package services

import (
	"chat-sync/contract"
	"chat-sync/domain/chat"
	"chat-sync/errors"
	"chat-sync/infrastructure/ratelimit"
	"chat-sync/observability"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
)

// CommandService validates, throttles and forwards commands to the remote executor.
// Failures come back classified and are never retried.
type CommandService struct {
	log       *slog.Logger
	executor  contract.CommandExecutor
	limiter   ratelimit.Limiter
	validator *validator.Validate
	timeout   time.Duration
	monitor   *observability.SyncMonitor
}

func NewCommandService(
	log *slog.Logger,
	executor contract.CommandExecutor,
	limiter ratelimit.Limiter,
	timeout time.Duration,
	monitor *observability.SyncMonitor,
) *CommandService {
	if monitor == nil {
		monitor = observability.NewSyncMonitor(log)
	}
	return &CommandService{
		log:       log,
		executor:  executor,
		limiter:   limiter,
		validator: validator.New(),
		timeout:   timeout,
		monitor:   monitor,
	}
}

func (s *CommandService) Execute(ctx context.Context, cmd chat.Command) (chat.CommandResult, error) {
	if err := s.validator.Struct(cmd); err != nil {
		s.monitor.IncrCommandsRejected()
		return chat.CommandResult{}, errors.Validation(fmt.Errorf("%w: %v", errors.ErrInvalidCommand, err))
	}

	if s.limiter != nil && !s.limiter.Allow(cmd.ThrottleKey()) {
		s.monitor.IncrCommandsRejected()
		s.log.Debug("Command throttled", "room_id", cmd.Room, "user_id", cmd.UserID, "type", cmd.Type)
		return chat.CommandResult{}, errors.RateLimited(errors.ErrTooManyRequests)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	result, err := s.executor.ExecuteCommand(ctx, cmd)
	if err != nil {
		classified := errors.Classify(err)
		s.monitor.IncrCommandsRejected()
		s.log.Warn("Command failed",
			"room_id", cmd.Room, "type", cmd.Type, "kind", classified.Kind, "error", classified.Message)
		return chat.CommandResult{}, classified
	}
	s.monitor.IncrCommandsExecuted()
	return result, nil
}
