package flesh

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger is the structured logger used by the broad phase. Every
// helper keeps the same field names so rebuild, query and input logs
// can be joined downstream.
type Logger struct {
	*slog.Logger
}

// NewLogger wraps handler. A nil handler logs text to stderr at info.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		return NewTextLogger(slog.LevelInfo)
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger logs JSON lines to stderr at level and above.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, stderrOptions(level)))
}

// NewTextLogger logs key=value text to stderr at level and above.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, stderrOptions(level)))
}

// NoopLogger discards everything.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

func stderrOptions(level slog.Leveler) *slog.HandlerOptions {
	return &slog.HandlerOptions{Level: level}
}

// WithEpoch adds the generation epoch to the logger.
func (l *Logger) WithEpoch(epoch uint64) *Logger {
	return &Logger{
		Logger: l.Logger.With("epoch", epoch),
	}
}

// WithBody adds a body id field to the logger.
func (l *Logger) WithBody(id BodyID) *Logger {
	return &Logger{
		Logger: l.Logger.With("body", uint32(id)),
	}
}

// WithQuery adds the query name to the logger.
func (l *Logger) WithQuery(query string) *Logger {
	return &Logger{
		Logger: l.Logger.With("query", query),
	}
}

// LogRebuild logs a rebuild.
func (l *Logger) LogRebuild(ctx context.Context, st Stats, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "rebuild failed",
			"epoch", st.Epoch,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "rebuild completed",
		"epoch", st.Epoch,
		"records", st.Records,
		"cell_size", st.CellSize,
		"reach", st.Reach,
		"oversized", st.Oversized,
		"duration", d,
	)
}

// LogInvalidInput logs a rejected query or body input.
func (l *Logger) LogInvalidInput(ctx context.Context, op string, err error) {
	l.WarnContext(ctx, "invalid input ignored",
		"op", op,
		"error", err,
	)
}

// LogOverflow logs container overflow after a rebuild.
func (l *Logger) LogOverflow(ctx context.Context, epoch, bucketDrops, cellDrops uint64) {
	l.WarnContext(ctx, "index containers overflowed",
		"epoch", epoch,
		"bucket_drops", bucketDrops,
		"cell_drops", cellDrops,
	)
}

// LogDenseSamples logs that query samples admitted more than TopK points.
// Such samples are read in full, so results stay complete but slower.
func (l *Logger) LogDenseSamples(ctx context.Context, epoch, samples uint64) {
	l.WarnContext(ctx, "dense query samples read beyond top-k",
		"epoch", epoch,
		"widened_samples", samples,
	)
}

// LogUnsupported logs a call to an unsupported query.
func (l *Logger) LogUnsupported(ctx context.Context, query string) {
	l.ErrorContext(ctx, "unsupported query",
		"query", query,
		"error", ErrUnsupported,
	)
}
