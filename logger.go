package tsnego

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with tsnego-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithPoints adds a point count field to the logger.
func (l *Logger) WithPoints(n int) *Logger {
	return &Logger{
		Logger: l.Logger.With("points", n),
	}
}

// WithDimension adds a dimension field to the logger.
func (l *Logger) WithDimension(dim int) *Logger {
	return &Logger{
		Logger: l.Logger.With("dimension", dim),
	}
}

// LogInitialize logs the affinity computation.
func (l *Logger) LogInitialize(ctx context.Context, points, dims int, knn KNNMode, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "initialize failed",
			"points", points,
			"dimension", dims,
			"knn", knn.String(),
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "affinities computed",
		"points", points,
		"dimension", dims,
		"knn", knn.String(),
		"duration", duration,
	)
}

// LogCalibration logs the outcome of the bandwidth search.
func (l *Logger) LogCalibration(ctx context.Context, neighbors, unconverged int, precision float64) {
	if unconverged > 0 {
		l.WarnContext(ctx, "perplexity calibration did not converge for all points",
			"neighbors", neighbors,
			"unconverged", unconverged,
			"precision", precision,
		)
		return
	}
	l.DebugContext(ctx, "perplexity calibration completed",
		"neighbors", neighbors,
		"precision", precision,
	)
}

// LogIteration logs a gradient descent iteration.
func (l *Logger) LogIteration(ctx context.Context, iteration int, sumQ float64, duration time.Duration) {
	l.DebugContext(ctx, "iteration completed",
		"iteration", iteration,
		"sum_q", sumQ,
		"duration", duration,
	)
}

// LogDivergence logs a KL divergence estimate.
func (l *Logger) LogDivergence(ctx context.Context, d Divergence) {
	l.InfoContext(ctx, "kl divergence",
		"iteration", d.Iteration,
		"total", d.Total,
		"min", d.Min,
		"max", d.Max,
	)
}

// LogRefinement logs background refinement progress.
func (l *Logger) LogRefinement(ctx context.Context, mode RefinementMode, refined int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "refinement failed",
			"mode", mode.String(),
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "refinement stopped",
		"mode", mode.String(),
		"refined", refined,
	)
}

// LogStop logs the end of a run.
func (l *Logger) LogStop(ctx context.Context, iteration int, state State) {
	l.InfoContext(ctx, "embedding stopped",
		"iteration", iteration,
		"state", state.String(),
	)
}
