// Package persist keeps a session's bin state durable across two tiers.
//
// Saves go to the primary tier and are mirrored to the fallback tier. They run
// on a background worker so the polling loop never waits on I/O; only the
// newest pending state is written. Restore prefers the primary tier, falls
// back to the fallback tier only when the primary yields nothing, and never
// merges or recomputes what it reads.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sweeney/bin-sensor/internal/logic"
)

// Tier is one persistence location.
type Tier interface {
	// Name identifies the tier in logs and metrics ("primary", "fallback").
	Name() string
	// Read returns the stored state; found is false when nothing is stored.
	Read(ctx context.Context, key string) (logic.BinState, bool, error)
	// Write replaces the stored state.
	Write(ctx context.Context, key string, state logic.BinState) error
}

// Source names where a restored state came from.
type Source string

const (
	SourcePrimary  Source = "primary"
	SourceFallback Source = "fallback"
	SourceNone     Source = "none"
)

// Snapshot is a restored state plus the tier it came from.
type Snapshot struct {
	State logic.BinState
	Tier  Source
}

// FailureCounter is notified of tier failures.
type FailureCounter interface {
	PersistFailure(tier, op string)
}

// Reconciler owns the save worker and restore policy for one session key.
type Reconciler struct {
	primary  Tier
	fallback Tier
	key      string
	logger   *slog.Logger
	counter  FailureCounter
	timeout  time.Duration

	pending chan logic.BinState
	stop    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	started bool
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithTimeout bounds each tier operation. Default 5s.
func WithTimeout(d time.Duration) Option {
	return func(r *Reconciler) { r.timeout = d }
}

// WithFailureCounter reports tier failures to c.
func WithFailureCounter(c FailureCounter) Option {
	return func(r *Reconciler) { r.counter = c }
}

// New creates a Reconciler. Either tier may be nil, in which case it is skipped.
func New(primary, fallback Tier, key string, logger *slog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		primary:  primary,
		fallback: fallback,
		key:      key,
		logger:   logger,
		timeout:  5 * time.Second,
		pending:  make(chan logic.BinState, 1),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the save worker. Saves made before Start are queued.
func (r *Reconciler) Start() {
	if r.started {
		return
	}
	r.started = true
	r.wg.Add(1)
	go r.worker()
}

func (r *Reconciler) worker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stop:
			return
		case state := <-r.pending:
			r.writeAll(context.Background(), state)
		}
	}
}

// Save queues state for writing and returns immediately.
// A state still waiting to be written is replaced by the newer one.
func (r *Reconciler) Save(state logic.BinState) {
	for {
		select {
		case r.pending <- state:
			return
		default:
		}
		select {
		case <-r.pending:
		default:
		}
	}
}

// Flush writes state synchronously to both tiers and returns the joined
// tier errors, if any.
func (r *Reconciler) Flush(ctx context.Context, state logic.BinState) error {
	return r.writeAll(ctx, state)
}

// Close stops the worker and waits for an in-flight write. Queued saves
// that have not started are dropped; callers flush the final state themselves.
func (r *Reconciler) Close() {
	r.once.Do(func() {
		close(r.stop)
	})
	r.wg.Wait()
}

func (r *Reconciler) writeAll(ctx context.Context, state logic.BinState) error {
	var errs []error
	for _, t := range []Tier{r.primary, r.fallback} {
		if t == nil {
			continue
		}
		if err := r.write(ctx, t, state); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Reconciler) write(ctx context.Context, t Tier, state logic.BinState) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := t.Write(ctx, r.key, state); err != nil {
		r.fail(t, "write")
		r.logger.Warn("persist write failed", "tier", t.Name(), "key", r.key, "err", err)
		return fmt.Errorf("%s write: %w", t.Name(), err)
	}
	return nil
}

// Restore loads the session state: primary if it holds one, else fallback,
// else all-zero. Corrupt or unreadable tiers are treated as empty.
func (r *Reconciler) Restore(ctx context.Context) Snapshot {
	if state, ok := r.read(ctx, r.primary); ok {
		r.logger.Info("restored bin state", "tier", SourcePrimary, "key", r.key)
		return Snapshot{State: state, Tier: SourcePrimary}
	}
	if state, ok := r.read(ctx, r.fallback); ok {
		r.logger.Info("restored bin state", "tier", SourceFallback, "key", r.key)
		return Snapshot{State: state, Tier: SourceFallback}
	}
	r.logger.Info("no stored bin state, starting empty", "key", r.key)
	return Snapshot{State: logic.NewBinState(), Tier: SourceNone}
}

func (r *Reconciler) read(ctx context.Context, t Tier) (logic.BinState, bool) {
	if t == nil {
		return logic.BinState{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	state, found, err := t.Read(ctx, r.key)
	if err != nil {
		r.fail(t, "read")
		r.logger.Warn("persist read failed", "tier", t.Name(), "key", r.key, "err", err)
		return logic.BinState{}, false
	}
	if !found {
		return logic.BinState{}, false
	}
	if err := state.Validate(); err != nil {
		r.fail(t, "read")
		r.logger.Warn("persist read returned invalid state", "tier", t.Name(), "key", r.key, "err", err)
		return logic.BinState{}, false
	}
	return state, true
}

func (r *Reconciler) fail(t Tier, op string) {
	if r.counter != nil {
		r.counter.PersistFailure(t.Name(), op)
	}
}
