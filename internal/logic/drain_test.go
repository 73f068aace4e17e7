package logic

import (
	"errors"
	"testing"
	"time"
)

// filledState returns a state with the given levels set.
func filledState(t *testing.T, levels map[Category]int) BinState {
	t.Helper()
	s := NewBinState()
	at := time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC)
	for c, level := range levels {
		s.Bin(c).setLevel(level, at)
	}
	return s
}

func TestDrainOne(t *testing.T) {
	s := filledState(t, map[Category]int{Biodegradable: 70})
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if !DrainOne(&s, Biodegradable, at) {
		t.Fatal("expected drain to apply")
	}
	bin := s.Bin(Biodegradable)
	if bin.FillLevel != 0 {
		t.Errorf("level: got %d, want 0", bin.FillLevel)
	}
	if bin.Status != StatusEmpty {
		t.Errorf("status: got %s, want EMPTY", bin.Status)
	}
	if !bin.LastEventAt.Equal(at) {
		t.Errorf("LastEventAt: got %v, want %v", bin.LastEventAt, at)
	}

	// Already empty is a no-op, timestamp unchanged.
	if DrainOne(&s, Biodegradable, at.Add(time.Hour)) {
		t.Error("expected no-op for empty bin")
	}
	if !s.Bin(Biodegradable).LastEventAt.Equal(at) {
		t.Error("no-op drain changed LastEventAt")
	}
}

func TestDrainSelectedForgiving(t *testing.T) {
	s := filledState(t, map[Category]int{Recyclable: 40, Unsorted: 20})
	before := s
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	drained := DrainSelected(&s, []Category{Recyclable, Biodegradable}, at)
	if len(drained) != 1 || drained[0] != Recyclable {
		t.Fatalf("drained: got %v, want [RECYCLABLE]", drained)
	}
	if s.Level(Recyclable) != 0 {
		t.Errorf("RECYCLABLE: got %d, want 0", s.Level(Recyclable))
	}
	if s.Level(Unsorted) != 20 {
		t.Errorf("UNSORTED changed: got %d, want 20", s.Level(Unsorted))
	}
	if s.Bin(Biodegradable).LastEventAt != before.Bin(Biodegradable).LastEventAt {
		t.Error("BIODEGRADABLE touched by forgiving drain")
	}
}

func TestDrainSelectedNoOp(t *testing.T) {
	s := filledState(t, map[Category]int{Unsorted: 30})
	before := s
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if got := DrainSelected(&s, nil, at); len(got) != 0 {
		t.Errorf("empty selection drained %v", got)
	}
	if got := DrainSelected(&s, []Category{Biodegradable, Recyclable}, at); len(got) != 0 {
		t.Errorf("all-empty selection drained %v", got)
	}
	if !s.Equal(before) {
		t.Error("no-op drain changed state")
	}
}

func TestDrainAll(t *testing.T) {
	s := filledState(t, map[Category]int{Biodegradable: 100, NonBiodegradable: 10, Unsorted: 60})
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	drained := DrainAll(&s, at)
	want := []Category{Biodegradable, NonBiodegradable, Unsorted}
	if len(drained) != len(want) {
		t.Fatalf("drained: got %v, want %v", drained, want)
	}
	for i := range want {
		if drained[i] != want[i] {
			t.Errorf("drained[%d]: got %s, want %s", i, drained[i], want[i])
		}
	}
	if !s.IsEmpty() {
		t.Error("expected all bins empty")
	}
}

func TestActionableDedupAndOrder(t *testing.T) {
	s := filledState(t, map[Category]int{Biodegradable: 10, Unsorted: 10})
	got := Actionable(s, []Category{Unsorted, "GLASS", Biodegradable, Unsorted})
	if len(got) != 2 || got[0] != Biodegradable || got[1] != Unsorted {
		t.Errorf("Actionable: got %v, want [BIODEGRADABLE UNSORTED]", got)
	}
}

func TestDrainControllerConfirmFlow(t *testing.T) {
	s := filledState(t, map[Category]int{Biodegradable: 50, Recyclable: 30})
	d := NewDrainController()
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if d.Phase() != DrainIdle {
		t.Fatalf("initial phase: got %s, want IDLE", d.Phase())
	}

	req, ok, err := d.Request(s, []Category{Biodegradable, NonBiodegradable}, "req-1", at)
	if err != nil || !ok {
		t.Fatalf("Request: ok=%v err=%v", ok, err)
	}
	if len(req.Categories) != 1 || req.Categories[0] != Biodegradable {
		t.Errorf("pending categories: got %v, want [BIODEGRADABLE]", req.Categories)
	}
	if d.Phase() != DrainPending {
		t.Errorf("phase: got %s, want PENDING_CONFIRMATION", d.Phase())
	}

	// Nothing mutated before confirmation.
	if s.Level(Biodegradable) != 50 {
		t.Errorf("state mutated before confirm: %d", s.Level(Biodegradable))
	}

	if _, _, err := d.Request(s, []Category{Recyclable}, "req-2", at); !errors.Is(err, ErrDrainPending) {
		t.Errorf("second Request: got %v, want ErrDrainPending", err)
	}

	if _, err := d.Confirm(&s, "other", at); !errors.Is(err, ErrDrainMismatch) {
		t.Errorf("Confirm wrong id: got %v, want ErrDrainMismatch", err)
	}

	drained, err := d.Confirm(&s, "req-1", at.Add(time.Second))
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if len(drained) != 1 || drained[0] != Biodegradable {
		t.Errorf("drained: got %v", drained)
	}
	if s.Level(Biodegradable) != 0 || s.Level(Recyclable) != 30 {
		t.Errorf("after confirm: BIO=%d REC=%d, want 0 and 30", s.Level(Biodegradable), s.Level(Recyclable))
	}
	if d.Phase() != DrainIdle {
		t.Errorf("phase after confirm: got %s, want IDLE", d.Phase())
	}
	if _, ok := d.Pending(); ok {
		t.Error("expected no pending request after confirm")
	}
}

func TestDrainControllerCancel(t *testing.T) {
	s := filledState(t, map[Category]int{Unsorted: 90})
	before := s
	d := NewDrainController()
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if d.Cancel() {
		t.Error("Cancel in IDLE should report false")
	}

	if _, ok, _ := d.RequestAll(s, "req", at); !ok {
		t.Fatal("expected pending drain")
	}
	if !d.Cancel() {
		t.Error("Cancel should report true while pending")
	}
	if d.Phase() != DrainIdle {
		t.Errorf("phase: got %s, want IDLE", d.Phase())
	}
	if _, err := d.Confirm(&s, "", at); !errors.Is(err, ErrNoPendingDrain) {
		t.Errorf("Confirm after cancel: got %v, want ErrNoPendingDrain", err)
	}
	if !s.Equal(before) {
		t.Error("cancelled drain changed state")
	}
}

func TestDrainControllerNothingActionable(t *testing.T) {
	s := NewBinState()
	d := NewDrainController()
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	_, ok, err := d.Request(s, Categories[:], "req", at)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if ok {
		t.Error("expected ok=false for empty state")
	}
	if d.Phase() != DrainIdle {
		t.Errorf("phase: got %s, want IDLE", d.Phase())
	}
}

func TestDrainControllerConfirmRefilters(t *testing.T) {
	s := filledState(t, map[Category]int{Biodegradable: 20, Recyclable: 20})
	d := NewDrainController()
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if _, ok, _ := d.Request(s, []Category{Biodegradable, Recyclable}, "req", at); !ok {
		t.Fatal("expected pending drain")
	}
	// Recyclable emptied by another path before confirmation.
	DrainOne(&s, Recyclable, at)

	drained, err := d.Confirm(&s, "", at.Add(time.Second))
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if len(drained) != 1 || drained[0] != Biodegradable {
		t.Errorf("drained: got %v, want [BIODEGRADABLE]", drained)
	}
}
