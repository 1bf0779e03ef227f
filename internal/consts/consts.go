// Package consts defines the constants used by the project.
package consts

import (
	"log/slog"
	"time"
)

var (
	// Version is the version of the executable.
	Version = "Dev"
)

const (
	// DefaultLevelLog is the default logging level selected without any option.
	DefaultLevelLog = slog.LevelWarn

	// DefaultServerAddress is the address the HTTP service listens on when none is configured.
	DefaultServerAddress = "127.0.0.1:8085"

	// DefaultAttemptTTL is how long an authorization attempt waits for its callback.
	DefaultAttemptTTL = 10 * time.Minute

	// DefaultExchangeTimeout bounds every request made to a provider.
	DefaultExchangeTimeout = 10 * time.Second
)
