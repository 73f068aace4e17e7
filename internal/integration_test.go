package internal

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/sweeney/bin-sensor/internal/audit"
	"github.com/sweeney/bin-sensor/internal/hardware"
	"github.com/sweeney/bin-sensor/internal/logic"
	"github.com/sweeney/bin-sensor/internal/mqtt"
	"github.com/sweeney/bin-sensor/internal/notify"
	"github.com/sweeney/bin-sensor/internal/persist"
	"github.com/sweeney/bin-sensor/internal/session"
	"github.com/sweeney/bin-sensor/internal/status"
	"github.com/sweeney/bin-sensor/internal/store"
)

const (
	sessionKey = "collector-1"
	operator   = "ops@example.com"
)

// rig wires a session the way cmd/bin-sensor does, over real SQLite and
// file tiers and fake hardware and MQTT.
type rig struct {
	db       *store.SQLite
	sess     *session.Session
	pub      *mqtt.FakePublisher
	snapshot persist.Snapshot
}

func newRig(t *testing.T, dbPath, fallbackDir string, src hardware.Source) *rig {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.AssignBin(ctx, operator, store.Assignment{BinID: "bin-7", Name: "Lobby", Location: "Building A"}); err != nil {
		t.Fatalf("assign bin: %v", err)
	}
	fallback, err := store.NewFileTier(fallbackDir)
	if err != nil {
		t.Fatalf("fallback tier: %v", err)
	}

	pub := mqtt.NewFakePublisher()
	notifier := notify.New(logger, nil,
		notify.SinkFunc(func(ctx context.Context, n logic.Notification) error { return pub.PublishNotification(n) }),
		notify.SinkFunc(func(ctx context.Context, n logic.Notification) error {
			return db.AppendNotification(ctx, sessionKey, n, 100)
		}),
	)
	recorder := audit.NewRecorder(ctx, db, audit.SinkFunc(db.AppendWasteItem), operator, logger, nil)

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	clock := func() time.Time {
		n++
		return start.Add(time.Duration(n) * time.Second)
	}

	sess := session.New(sessionKey, session.Deps{
		Source:     src,
		Reconciler: persist.New(db, fallback, sessionKey, logger),
		Notifier:   notifier,
		Recorder:   recorder,
		Publisher:  pub,
		Tracker:    status.NewTracker(start, status.Config{SessionKey: sessionKey}),
		Logger:     logger,
		Now:        clock,
	})
	snap := sess.Start(ctx)
	return &rig{db: db, sess: sess, pub: pub, snapshot: snap}
}

// items returns a signal sequence producing n detections of c.
func items(c logic.Category, n int) []logic.Signal {
	out := []logic.Signal{logic.SignalIdle}
	for i := 0; i < n; i++ {
		out = append(out, logic.SignalFor(c), logic.SignalFor(c), logic.SignalIdle)
	}
	return out
}

func tickAll(r *rig, n int) {
	for i := 0; i < n; i++ {
		r.sess.Tick(context.Background())
	}
}

// TestIntegrationFillRestartDrain runs detections through to durable storage,
// restarts from the primary tier, drains, then restarts from the fallback.
func TestIntegrationFillRestartDrain(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "bins.db")
	fallbackDir := filepath.Join(dir, "fallback")

	// Fill the biodegradable bin to 90.
	signals := items(logic.Biodegradable, 9)
	r := newRig(t, dbPath, fallbackDir, hardware.NewFakeSignals(signals...))
	if r.snapshot.Tier != persist.SourceNone {
		t.Fatalf("fresh start restored from %s", r.snapshot.Tier)
	}
	tickAll(r, len(signals))

	if got := r.sess.State().Level(logic.Biodegradable); got != 90 {
		t.Fatalf("level: got %d, want 90", got)
	}
	if len(r.pub.Detections) != 9 {
		t.Errorf("detections: got %d, want 9", len(r.pub.Detections))
	}
	if len(r.pub.Notifications) != 2 {
		t.Fatalf("MQTT notifications: got %d, want 2", len(r.pub.Notifications))
	}
	if r.pub.Notifications[0].Severity != logic.SeverityInfo || r.pub.Notifications[1].Severity != logic.SeverityCritical {
		t.Errorf("severities: %s, %s", r.pub.Notifications[0].Severity, r.pub.Notifications[1].Severity)
	}

	stored, err := r.db.RecentNotifications(ctx, sessionKey, 10)
	if err != nil {
		t.Fatalf("recent notifications: %v", err)
	}
	if len(stored) != 2 || stored[1].Level != 90 {
		t.Errorf("stored notifications: %+v", stored)
	}

	waste, err := r.db.WasteItems(ctx, "bin-7")
	if err != nil {
		t.Fatalf("waste items: %v", err)
	}
	if len(waste) != 9 {
		t.Errorf("waste items: got %d, want 9", len(waste))
	}
	for _, w := range waste {
		if w.Category != logic.Biodegradable || w.OperatorIdentity != operator {
			t.Errorf("waste item: %+v", w)
		}
	}

	if err := r.sess.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	r.db.Close()

	// Restart: primary holds the state.
	more := items(logic.Unsorted, 1)
	r = newRig(t, dbPath, fallbackDir, hardware.NewFakeSignals(more...))
	if r.snapshot.Tier != persist.SourcePrimary {
		t.Fatalf("restart restored from %s, want primary", r.snapshot.Tier)
	}
	if got := r.sess.State().Level(logic.Biodegradable); got != 90 {
		t.Fatalf("restored level: got %d, want 90", got)
	}
	tickAll(r, len(more))

	// Drain the biodegradable bin only.
	req, ok, err := r.sess.RequestDrain([]logic.Category{logic.Biodegradable})
	if err != nil || !ok {
		t.Fatalf("RequestDrain: ok=%v err=%v", ok, err)
	}
	drained, err := r.sess.ConfirmDrain(ctx, req.ID)
	if err != nil {
		t.Fatalf("ConfirmDrain: %v", err)
	}
	if len(drained) != 1 || drained[0] != logic.Biodegradable {
		t.Errorf("drained: %v", drained)
	}
	if err := r.sess.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	r.db.Close()

	// Restart with the primary lost: the fallback mirror takes over.
	r = newRig(t, filepath.Join(dir, "replacement.db"), fallbackDir, hardware.NewFakeSignals(logic.SignalIdle))
	if r.snapshot.Tier != persist.SourceFallback {
		t.Fatalf("restored from %s, want fallback", r.snapshot.Tier)
	}
	state := r.sess.State()
	if state.Level(logic.Biodegradable) != 0 || state.Level(logic.Unsorted) != 10 {
		t.Errorf("fallback state: BIO=%d UNS=%d, want 0 and 10", state.Level(logic.Biodegradable), state.Level(logic.Unsorted))
	}
	if err := state.Validate(); err != nil {
		t.Errorf("restored state invalid: %v", err)
	}
}

// TestIntegrationClampAtFull keeps feeding a full bin; the level stays at 100
// and no further notifications fire.
func TestIntegrationClampAtFull(t *testing.T) {
	dir := t.TempDir()
	signals := items(logic.Recyclable, 12)
	r := newRig(t, filepath.Join(dir, "bins.db"), filepath.Join(dir, "fallback"), hardware.NewFakeSignals(signals...))
	tickAll(r, len(signals))

	st := r.sess.State()
	bin := st.Bin(logic.Recyclable)
	if bin.FillLevel != 100 || bin.Status != logic.StatusFull {
		t.Errorf("bin: %d/%s, want 100/FULL", bin.FillLevel, bin.Status)
	}
	if len(r.pub.Notifications) != 2 {
		t.Errorf("notifications: got %d, want 2", len(r.pub.Notifications))
	}
	if got := r.sess.EventCounts()[logic.Recyclable]; got != 12 {
		t.Errorf("event count: got %d, want 12", got)
	}
}
