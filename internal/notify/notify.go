// Package notify fans threshold notifications out to delivery sinks.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sweeney/bin-sensor/internal/logic"
)

// Sink delivers a notification somewhere.
type Sink interface {
	Deliver(ctx context.Context, n logic.Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n logic.Notification) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, n logic.Notification) error {
	return f(ctx, n)
}

// Counter is told about each notification emitted.
type Counter interface {
	Notification(severity string)
}

// Notifier delivers to every sink. A failing sink is logged and skipped.
type Notifier struct {
	sinks   []Sink
	logger  *slog.Logger
	counter Counter
}

// New creates a Notifier. counter may be nil.
func New(logger *slog.Logger, counter Counter, sinks ...Sink) *Notifier {
	return &Notifier{sinks: sinks, logger: logger, counter: counter}
}

// Notify delivers n to all sinks.
func (nt *Notifier) Notify(ctx context.Context, n logic.Notification) {
	if nt.counter != nil {
		nt.counter.Notification(string(n.Severity))
	}
	nt.logger.Info("bin notification",
		"category", n.Category,
		"level", n.Level,
		"severity", n.Severity,
		"message", n.Message,
	)
	for _, s := range nt.sinks {
		if err := s.Deliver(ctx, n); err != nil {
			nt.logger.Warn("notification delivery failed", "category", n.Category, "severity", n.Severity, "err", err)
		}
	}
}

// Recorder keeps the most recent notifications in memory.
type Recorder struct {
	mu    sync.Mutex
	limit int
	items []logic.Notification
}

// NewRecorder keeps at most limit notifications.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

// Deliver appends n, dropping the oldest past the limit.
func (r *Recorder) Deliver(ctx context.Context, n logic.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
	if r.limit > 0 && len(r.items) > r.limit {
		r.items = append([]logic.Notification(nil), r.items[len(r.items)-r.limit:]...)
	}
	return nil
}

// Items returns a copy of the stored notifications, oldest first.
func (r *Recorder) Items() []logic.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]logic.Notification(nil), r.items...)
}
