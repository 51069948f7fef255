package libtracker

import (
	"context"
	"log/slog"
	"time"
)

type contextKey string

// ActivityTracker instruments service operations. Start returns three
// callbacks: report an error, report a resulting entity change, and end the
// span. kvArgs are alternating key/value pairs attached as metadata.
type ActivityTracker interface {
	Start(ctx context.Context, operation string, subject string, kvArgs ...any) (func(error), func(string, any), func())
}

// LogActivityTracker writes activity spans to a slog.Logger.
type LogActivityTracker struct {
	logger *slog.Logger
}

// NewLogActivityTracker creates an ActivityTracker backed by the given logger.
func NewLogActivityTracker(logger *slog.Logger) *LogActivityTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogActivityTracker{logger: logger}
}

func (t *LogActivityTracker) Start(ctx context.Context, operation string, subject string, kvArgs ...any) (func(error), func(string, any), func()) {
	start := time.Now().UTC()
	attrs := []any{"operation", operation, "subject", subject}
	attrs = append(attrs, kvArgs...)
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok && reqID != "" {
		attrs = append(attrs, "requestID", reqID)
	}

	var failed error
	var entityID string

	reportErr := func(err error) {
		failed = err
	}
	reportChange := func(id string, _ any) {
		entityID = id
	}
	end := func() {
		args := append([]any{}, attrs...)
		args = append(args, "durationMS", float64(time.Since(start))/float64(time.Millisecond))
		if entityID != "" {
			args = append(args, "entityID", entityID)
		}
		if failed != nil {
			args = append(args, "error", failed.Error())
			t.logger.ErrorContext(ctx, "activity failed", args...)
			return
		}
		t.logger.DebugContext(ctx, "activity", args...)
	}

	return reportErr, reportChange, end
}

// ChainedTracker fans every span out to multiple trackers.
type ChainedTracker []ActivityTracker

func (c ChainedTracker) Start(ctx context.Context, operation string, subject string, kvArgs ...any) (func(error), func(string, any), func()) {
	reportErrs := make([]func(error), 0, len(c))
	reportChanges := make([]func(string, any), 0, len(c))
	ends := make([]func(), 0, len(c))
	for _, tracker := range c {
		reportErr, reportChange, end := tracker.Start(ctx, operation, subject, kvArgs...)
		reportErrs = append(reportErrs, reportErr)
		reportChanges = append(reportChanges, reportChange)
		ends = append(ends, end)
	}
	return func(err error) {
			for _, f := range reportErrs {
				f(err)
			}
		}, func(id string, data any) {
			for _, f := range reportChanges {
				f(id, data)
			}
		}, func() {
			for _, f := range ends {
				f()
			}
		}
}

// NoopTracker discards all activity.
type NoopTracker struct{}

func (NoopTracker) Start(context.Context, string, string, ...any) (func(error), func(string, any), func()) {
	return func(error) {}, func(string, any) {}, func() {}
}

var _ ActivityTracker = (*LogActivityTracker)(nil)
var _ ActivityTracker = (ChainedTracker)(nil)
var _ ActivityTracker = NoopTracker{}
