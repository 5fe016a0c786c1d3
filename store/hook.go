package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
)

// QueryLogger is a bun query hook that logs statements at debug level and
// failures at warn level. sql.ErrNoRows is not a failure.
type QueryLogger struct {
	logger zerolog.Logger
}

var _ bun.QueryHook = (*QueryLogger)(nil)

// NewQueryLogger returns a hook writing to logger.
func NewQueryLogger(logger zerolog.Logger) *QueryLogger {
	return &QueryLogger{logger: logger.With().Str("component", "store").Logger()}
}

func (h *QueryLogger) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *QueryLogger) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	elapsed := time.Since(event.StartTime)
	if event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows) {
		h.logger.Warn().Err(event.Err).Dur("elapsed", elapsed).Str("query", event.Query).Msg("query failed")
		return
	}
	h.logger.Debug().Dur("elapsed", elapsed).Str("query", event.Query).Msg("query")
}
