// Package audit appends a waste-item record for every accepted detection.
// Recording is best-effort: failures are logged and never reach the caller.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sweeney/bin-sensor/internal/logic"
	"github.com/sweeney/bin-sensor/internal/store"
)

// Sink appends audit records.
type Sink interface {
	Append(ctx context.Context, rec logic.WasteItemRecord) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec logic.WasteItemRecord) error

// Append calls f.
func (f SinkFunc) Append(ctx context.Context, rec logic.WasteItemRecord) error {
	return f(ctx, rec)
}

// MultiSink appends to every sink and joins their errors.
type MultiSink []Sink

// Append writes rec to all sinks, continuing past failures.
func (m MultiSink) Append(ctx context.Context, rec logic.WasteItemRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AssignmentLookup resolves the bins assigned to an operator.
type AssignmentLookup interface {
	Assignments(ctx context.Context, operator string) ([]store.Assignment, error)
}

// FailureCounter is notified of failed appends.
type FailureCounter interface {
	AuditFailure()
}

// Recorder writes one record per detection for the operator's assigned bin.
type Recorder struct {
	sink     Sink
	operator string
	bin      store.Assignment
	hasBin   bool
	timeout  time.Duration
	logger   *slog.Logger
	counter  FailureCounter
}

// NewRecorder resolves the operator's assigned bins once. If the lookup
// fails or returns nothing, the recorder is inert. counter may be nil.
func NewRecorder(ctx context.Context, lookup AssignmentLookup, sink Sink, operator string, logger *slog.Logger, counter FailureCounter) *Recorder {
	r := &Recorder{
		sink:     sink,
		operator: operator,
		timeout:  2 * time.Second,
		logger:   logger,
		counter:  counter,
	}
	if lookup == nil || operator == "" {
		logger.Info("waste item audit disabled", "reason", "no operator")
		return r
	}

	bins, err := lookup.Assignments(ctx, operator)
	if err != nil {
		logger.Warn("bin assignment lookup failed, audit disabled", "operator", operator, "err", err)
		return r
	}
	if len(bins) == 0 {
		logger.Info("operator has no assigned bin, audit disabled", "operator", operator)
		return r
	}
	r.bin = bins[0]
	r.hasBin = true
	logger.Info("waste item audit enabled", "operator", operator, "bin_id", r.bin.BinID, "bin_name", r.bin.Name)
	return r
}

// Bin returns the assigned bin records attach to, if any.
func (r *Recorder) Bin() (store.Assignment, bool) {
	return r.bin, r.hasBin
}

// Record appends a record for ev. It never fails from the caller's view.
func (r *Recorder) Record(ctx context.Context, ev logic.DetectionEvent) {
	if !r.hasBin || r.sink == nil {
		return
	}
	rec := logic.WasteItemRecord{
		BinID:            r.bin.BinID,
		Category:         ev.Category,
		OperatorIdentity: r.operator,
		RecordedAt:       ev.ObservedAt.UTC(),
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.sink.Append(ctx, rec); err != nil {
		if r.counter != nil {
			r.counter.AuditFailure()
		}
		r.logger.Warn("waste item record failed", "bin_id", rec.BinID, "category", rec.Category, "err", err)
	}
}
