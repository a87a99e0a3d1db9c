package main

import (
	"chat-sync/internal"
	"chat-sync/runtime"
	"context"
	"fmt"
	"log/slog"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
)

// loadConfig reads an optional .env file then the environment
func loadConfig() (internal.Config, error) {
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return internal.Config{}, fmt.Errorf("config error: %w", err)
	}
	if len(config.Rooms()) == 0 {
		return internal.Config{}, fmt.Errorf("config error: ROOM_IDS lists no room")
	}
	return config, nil
}

func toSettings(config internal.Config) runtime.Settings {
	return runtime.Settings{
		PollPeriod:        config.PollPeriod,
		FetchTimeout:      config.FetchTimeout,
		FetchLimit:        config.FetchLimit,
		MaxDrain:          config.MaxDrain,
		DegradedThreshold: config.DegradedThreshold,
		SinkTimeout:       config.SinkTimeout,
		PullBufferSize:    config.PullBufferSize,
	}
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG)
	} else {
		options = options.WithLoggingLevel(badger.WARNING)
	}

	return options
}
