// Package session runs the detection pipeline and drain operations for one
// collector. A Session owns its BinState, edge memory and drain controller;
// nothing is shared with other sessions reading the same hardware.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/bin-sensor/internal/audit"
	"github.com/sweeney/bin-sensor/internal/hardware"
	"github.com/sweeney/bin-sensor/internal/logic"
	"github.com/sweeney/bin-sensor/internal/mqtt"
	"github.com/sweeney/bin-sensor/internal/notify"
	"github.com/sweeney/bin-sensor/internal/persist"
	"github.com/sweeney/bin-sensor/internal/status"
)

// Metrics receives pipeline counters. *metrics.Metrics satisfies it.
type Metrics interface {
	PollError()
	Detection(category string)
	FillLevel(category string, level int)
	Drained(n int)
}

// Deps are the collaborators a Session drives. Source, Reconciler and
// Logger are required; the rest may be nil.
type Deps struct {
	Source     hardware.Source
	Reconciler *persist.Reconciler
	Notifier   *notify.Notifier
	Recorder   *audit.Recorder
	Publisher  mqtt.Publisher
	Tracker    *status.Tracker
	Metrics    Metrics
	Logger     *slog.Logger

	// DisconnectAfter is how many failed reads in a row mark the hardware
	// not connected. Zero means DefaultDisconnectAfter.
	DisconnectAfter int

	// Now defaults to time.Now; NewID defaults to random UUIDs.
	Now   func() time.Time
	NewID func() string
}

// DefaultDisconnectAfter is the failed-read streak that marks the hardware not connected.
const DefaultDisconnectAfter = 3

// Session is one collector's pipeline. All methods are safe for concurrent use;
// Tick and the drain operations are serialized behind one mutex.
type Session struct {
	key  string
	deps Deps
	log  *slog.Logger

	mu       sync.Mutex
	state    logic.BinState
	detector *logic.EdgeDetector
	drain    *logic.DrainController
	poller   *hardware.Poller
	signal   logic.Signal
	started  bool
	closed   bool
	restored persist.Source
}

// New creates a session for key. Call Start before Tick.
func New(key string, d Deps) *Session {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.DisconnectAfter <= 0 {
		d.DisconnectAfter = DefaultDisconnectAfter
	}
	if d.NewID == nil {
		d.NewID = func() string { return uuid.New().String() }
	}
	var counter hardware.FailureCounter
	if d.Metrics != nil {
		counter = d.Metrics
	}
	logger := d.Logger.With("component", "session", "session_key", key)
	return &Session{
		key:    key,
		deps:   d,
		log:    logger,
		state:  logic.NewBinState(),
		drain:  logic.NewDrainController(),
		poller: hardware.NewPoller(d.Source, logger, counter, d.Now),
		signal: logic.SignalIdle,
	}
}

// Key returns the session key.
func (s *Session) Key() string { return s.key }

// Start restores state from the persistence tiers, starts the save worker
// and arms the edge detector. It is a no-op after the first call.
func (s *Session) Start(ctx context.Context) persist.Snapshot {
	snap := s.deps.Reconciler.Restore(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return persist.Snapshot{State: s.state, Tier: s.restored}
	}
	s.started = true
	s.state = snap.State
	s.restored = snap.Tier
	s.detector = logic.NewEdgeDetector(s.deps.Now())
	s.deps.Reconciler.Start()

	if s.deps.Tracker != nil {
		s.deps.Tracker.SetRestoredFrom(string(snap.Tier))
	}
	s.publishLevelsLocked()
	s.updateTrackerLocked()

	s.log.Info("session started", "restored_from", snap.Tier, "levels", levelsAttr(snap.State))
	return snap
}

// Tick polls the hardware once and runs any resulting detection through the
// pipeline. Read failures and disconnected readings leave state untouched.
func (s *Session) Tick(ctx context.Context) {
	s.mu.Lock()
	if !s.started || s.closed {
		s.mu.Unlock()
		return
	}

	st, ok := s.poller.Poll()
	if !ok {
		if s.deps.Tracker != nil && s.poller.ConsecutiveFailures() >= s.deps.DisconnectAfter {
			s.deps.Tracker.SetConnected(false)
		}
		s.mu.Unlock()
		return
	}
	if s.deps.Tracker != nil {
		s.deps.Tracker.SetConnected(st.Connected)
	}
	if !st.Connected {
		s.mu.Unlock()
		return
	}

	s.signal = st.Signal
	ev, fired := s.detector.Observe(st.Signal, st.ObservedAt)
	if !fired {
		s.updateTrackerLocked()
		s.mu.Unlock()
		return
	}

	inc, ok := logic.Accumulate(&s.state, ev)
	if !ok {
		s.updateTrackerLocked()
		s.mu.Unlock()
		return
	}
	bin := *s.state.Bin(ev.Category)
	s.deps.Reconciler.Save(s.state)
	if s.deps.Metrics != nil {
		s.deps.Metrics.Detection(string(ev.Category))
		s.deps.Metrics.FillLevel(string(ev.Category), inc.Level)
	}
	s.updateTrackerLocked()
	s.mu.Unlock()

	s.log.Info("item detected", "category", ev.Category, "level", inc.Level, "status", inc.Status)
	s.afterDetection(ctx, ev, inc, bin)
}

// afterDetection fans an accepted detection out to the notifier, the audit
// recorder and MQTT. All of them are best-effort.
func (s *Session) afterDetection(ctx context.Context, ev logic.DetectionEvent, inc logic.Increment, bin logic.CategoryBin) {
	if s.deps.Publisher != nil {
		if err := s.deps.Publisher.PublishDetection(ev, bin); err != nil {
			s.log.Warn("detection publish failed", "category", ev.Category, "err", err)
		}
	}
	if n, ok := logic.NotificationFor(inc, ev.ObservedAt); ok && s.deps.Notifier != nil {
		s.deps.Notifier.Notify(ctx, n)
	}
	if s.deps.Recorder != nil {
		s.deps.Recorder.Record(ctx, ev)
	}
}

// RequestDrain asks to drain sel. Nothing changes until ConfirmDrain.
// ok is false when no category in sel has anything to drain.
func (s *Session) RequestDrain(sel []logic.Category) (logic.DrainRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok, err := s.drain.Request(s.state, sel, s.deps.NewID(), s.deps.Now())
	if err != nil || !ok {
		return req, ok, err
	}
	s.updateDrainLocked()
	s.log.Info("drain requested", "id", req.ID, "categories", req.Categories)
	return req, true, nil
}

// RequestDrainAll asks to drain every category.
func (s *Session) RequestDrainAll() (logic.DrainRequest, bool, error) {
	return s.RequestDrain(logic.Categories[:])
}

// ConfirmDrain applies the pending request (matching id, or any when id is
// empty) and queues a save. It returns the categories actually zeroed.
func (s *Session) ConfirmDrain(ctx context.Context, id string) ([]logic.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("confirm drain: session closed")
	}
	drained, err := s.drain.Confirm(&s.state, id, s.deps.Now())
	if err != nil {
		return nil, err
	}
	s.updateDrainLocked()
	if len(drained) == 0 {
		s.log.Info("drain confirmed, nothing left to drain", "id", id)
		return drained, nil
	}

	s.deps.Reconciler.Save(s.state)
	if s.deps.Metrics != nil {
		s.deps.Metrics.Drained(len(drained))
		for _, c := range drained {
			s.deps.Metrics.FillLevel(string(c), 0)
		}
	}
	s.updateTrackerLocked()
	s.log.Info("drain applied", "categories", drained)
	return drained, nil
}

// CancelDrain abandons a pending request. It reports whether one was pending.
func (s *Session) CancelDrain() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.drain.Cancel() {
		return false
	}
	s.updateDrainLocked()
	s.log.Info("drain cancelled")
	return true
}

// PendingDrain returns the request awaiting confirmation, if any.
func (s *Session) PendingDrain() (logic.DrainRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drain.Pending()
}

// State returns a copy of the current bin state.
func (s *Session) State() logic.BinState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// EventCounts returns detections per category since Start.
func (s *Session) EventCounts() logic.EventCounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detector == nil {
		return logic.EventCounts{}
	}
	return s.detector.EventCountsSnapshot()
}

// Heartbeat returns heartbeat data when interval has elapsed since the last
// one, nil otherwise. A zero interval disables heartbeats.
func (s *Session) Heartbeat(now time.Time, interval time.Duration) *logic.HeartbeatData {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detector == nil {
		return nil
	}
	return s.detector.CheckHeartbeat(now, interval)
}

// Close stops the save worker and writes the final state to both tiers.
// Further ticks and confirmations are ignored. The returned error joins
// tier write failures; the session is closed regardless.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	state := s.state
	started := s.started
	s.mu.Unlock()

	if !started {
		return nil
	}
	s.deps.Reconciler.Close()
	if err := s.deps.Reconciler.Flush(ctx, state); err != nil {
		s.log.Warn("final flush incomplete", "err", err)
		return fmt.Errorf("final flush: %w", err)
	}
	s.log.Info("session closed", "levels", levelsAttr(state))
	return nil
}

func (s *Session) updateTrackerLocked() {
	if s.deps.Tracker == nil {
		return
	}
	var counts logic.EventCounts
	if s.detector != nil {
		counts = s.detector.EventCountsSnapshot()
	}
	s.deps.Tracker.Update(s.state, s.signal, counts)
}

func (s *Session) updateDrainLocked() {
	if s.deps.Tracker == nil {
		return
	}
	if req, ok := s.drain.Pending(); ok {
		s.deps.Tracker.SetDrain(s.drain.Phase(), &req)
		return
	}
	s.deps.Tracker.SetDrain(s.drain.Phase(), nil)
}

func (s *Session) publishLevelsLocked() {
	if s.deps.Metrics == nil {
		return
	}
	for _, b := range s.state.Bins {
		s.deps.Metrics.FillLevel(string(b.Category), b.FillLevel)
	}
}

// levelsAttr renders levels as a compact log attribute.
func levelsAttr(state logic.BinState) slog.Value {
	attrs := make([]slog.Attr, 0, len(state.Bins))
	for _, b := range state.Bins {
		attrs = append(attrs, slog.Int(string(b.Category), b.FillLevel))
	}
	return slog.GroupValue(attrs...)
}
