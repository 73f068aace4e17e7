package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/bin-sensor/internal/logic"
)

// levels returns a BinState with the given fill levels applied as detections.
func levels(at time.Time, l map[logic.Category]int) logic.BinState {
	s := logic.NewBinState()
	for c, n := range l {
		for i := 0; i < n/logic.FillStep; i++ {
			logic.Accumulate(&s, logic.DetectionEvent{Category: c, ObservedAt: at})
		}
	}
	return s
}

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{PollMs: 1000, Broker: "tcp://localhost:1883", HTTPPort: ":80", SessionKey: "collector-1"}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.PollMs != 1000 {
		t.Errorf("Config.PollMs: got %d, want 1000", snap.Config.PollMs)
	}
	if snap.Connected {
		t.Error("expected Connected=false initially")
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
	if snap.Drain.Phase != logic.DrainIdle {
		t.Errorf("Drain.Phase: got %s, want IDLE", snap.Drain.Phase)
	}
	for i, c := range logic.Categories {
		if snap.Bins[i].Category != c || snap.Bins[i].FillLevel != 0 {
			t.Errorf("bin %d: got %s@%d, want %s@0", i, snap.Bins[i].Category, snap.Bins[i].FillLevel, c)
		}
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	at := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	tr.Update(levels(at, map[logic.Category]int{logic.Recyclable: 30}), logic.SignalFor(logic.Recyclable), logic.EventCounts{logic.Recyclable: 3})

	snap := tr.Snapshot()
	if snap.Bins[logic.Recyclable.Index()].FillLevel != 30 {
		t.Errorf("RECYCLABLE: got %d, want 30", snap.Bins[logic.Recyclable.Index()].FillLevel)
	}
	if snap.Signal != logic.SignalFor(logic.Recyclable) {
		t.Errorf("Signal: got %s", snap.Signal)
	}
	if snap.Counts[logic.Recyclable] != 3 {
		t.Errorf("Counts: got %d, want 3", snap.Counts[logic.Recyclable])
	}
}

func TestSetConnectedAndMQTT(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetConnected(true)
	tr.SetMQTTConnected(true)
	snap := tr.Snapshot()
	if !snap.Connected || !snap.MQTTConnected {
		t.Error("expected both connected")
	}

	tr.SetConnected(false)
	if tr.Snapshot().Connected {
		t.Error("expected Connected=false")
	}
}

func TestSetDrainCopiesPending(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	req := &logic.DrainRequest{ID: "d-1", Categories: []logic.Category{logic.Unsorted}}

	tr.SetDrain(logic.DrainPending, req)
	req.Categories[0] = logic.Biodegradable

	snap := tr.Snapshot()
	if snap.Drain.Phase != logic.DrainPending {
		t.Errorf("Phase: got %s", snap.Drain.Phase)
	}
	if snap.Drain.Pending == nil || snap.Drain.Pending.Categories[0] != logic.Unsorted {
		t.Error("pending request should be copied on SetDrain")
	}

	tr.SetDrain(logic.DrainIdle, nil)
	if tr.Snapshot().Drain.Pending != nil {
		t.Error("expected no pending after reset")
	}
}

func TestSetNetwork(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	if tr.Snapshot().Network != nil {
		t.Error("expected nil Network initially")
	}

	tr.SetNetwork(&NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected"})

	snap := tr.Snapshot()
	if snap.Network == nil {
		t.Fatal("expected non-nil Network")
	}
	if snap.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want %q", snap.Network.IP, "192.168.1.42")
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	at := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	tr.Update(levels(at, map[logic.Category]int{logic.Unsorted: 10}), logic.SignalIdle, logic.EventCounts{logic.Unsorted: 1})

	snap1 := tr.Snapshot()
	snap1.Counts[logic.Unsorted] = 99
	tr.Update(levels(at, map[logic.Category]int{logic.Unsorted: 20}), logic.SignalIdle, logic.EventCounts{logic.Unsorted: 2})

	if snap1.Bins[logic.Unsorted.Index()].FillLevel != 10 {
		t.Error("snapshot should be a copy; bins were modified")
	}
	if tr.Snapshot().Counts[logic.Unsorted] != 2 {
		t.Error("mutating a snapshot's counts leaked into the tracker")
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Bins:          levels(start, map[logic.Category]int{logic.Biodegradable: 90}).Bins,
		Signal:        logic.SignalIdle,
		Connected:     true,
		Counts:        logic.EventCounts{logic.Biodegradable: 9},
		Drain:         DrainInfo{Phase: logic.DrainIdle},
		RestoredFrom:  "primary",
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{PollMs: 1000, HeartbeatMs: 900000, Broker: "tcp://localhost:1883", HTTPPort: ":80", SessionKey: "k"},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if len(parsed.Status.Bins) != 4 {
		t.Fatalf("bins: got %d, want 4", len(parsed.Status.Bins))
	}
	bio := parsed.Status.Bins[0]
	if bio.Category != "BIODEGRADABLE" || bio.FillLevel != 90 || bio.Status != "FULL" {
		t.Errorf("bin 0: got %+v", bio)
	}
	if bio.LastEventAt != "2026-01-01T00:00:00Z" {
		t.Errorf("LastEventAt: got %q", bio.LastEventAt)
	}
	if parsed.Status.Bins[1].LastEventAt != "" {
		t.Errorf("untouched bin should omit last_event_at, got %q", parsed.Status.Bins[1].LastEventAt)
	}
	if !parsed.Status.Hardware.Connected || parsed.Status.Hardware.Signal != "IDLE" {
		t.Errorf("hardware: got %+v", parsed.Status.Hardware)
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
	if parsed.Status.Counts["BIODEGRADABLE"] != 9 || parsed.Status.Counts["UNSORTED"] != 0 {
		t.Errorf("Counts: got %v", parsed.Status.Counts)
	}
	if len(parsed.Status.Drain.Actionable) != 1 || parsed.Status.Drain.Actionable[0] != "BIODEGRADABLE" {
		t.Errorf("Actionable: got %v", parsed.Status.Drain.Actionable)
	}
	if parsed.Status.RestoredFrom != "primary" {
		t.Errorf("RestoredFrom: got %q", parsed.Status.RestoredFrom)
	}
	if parsed.Status.Event != "" || parsed.Status.Reason != "" {
		t.Error("expected empty Event and Reason for web format")
	}
}

func TestFormatJSONEmptyState(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(FormatJSON(snap), &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	status := raw["status"].(map[string]interface{})
	drain := status["drain"].(map[string]interface{})
	if drain["phase"] != "IDLE" {
		t.Errorf("phase: got %v, want IDLE", drain["phase"])
	}
	if a, ok := drain["actionable"].([]interface{}); !ok || len(a) != 0 {
		t.Errorf("actionable: got %v, want empty list", drain["actionable"])
	}
	if _, exists := drain["pending"]; exists {
		t.Error("pending should be omitted when idle")
	}
}

func TestFormatJSONPendingDrain(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: at,
		Now:       at,
		Drain: DrainInfo{
			Phase:   logic.DrainPending,
			Pending: &logic.DrainRequest{ID: "d-9", Categories: []logic.Category{logic.Recyclable}, RequestedAt: at},
		},
	}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	p := parsed.Status.Drain.Pending
	if p == nil || p.ID != "d-9" || len(p.Categories) != 1 || p.Categories[0] != "RECYCLABLE" {
		t.Errorf("pending: got %+v", p)
	}
	if parsed.Status.Drain.Phase != "PENDING_CONFIRMATION" {
		t.Errorf("phase: got %s", parsed.Status.Drain.Phase)
	}
}

func TestFormatStatusEventShutdown(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(30 * time.Minute),
		Config:    Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "SHUTDOWN" {
		t.Errorf("Event: got %q, want SHUTDOWN", parsed.Status.Event)
	}
	if parsed.Status.Reason != "SIGTERM" {
		t.Errorf("Reason: got %q, want SIGTERM", parsed.Status.Reason)
	}
	if parsed.Status.UptimeSeconds != 1800 {
		t.Errorf("UptimeSeconds: got %d, want 1800", parsed.Status.UptimeSeconds)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	data := FormatStatusEvent(snap, "STARTUP", "")

	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	status := raw["status"].(map[string]interface{})
	if _, exists := status["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
	if status["event"] != "STARTUP" {
		t.Errorf("event: got %v, want STARTUP", status["event"])
	}
}

func TestFormatJSONWithNetwork(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC),
		Network:   &NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected", SSID: "MyNet"},
	}

	var parsed StatusJSON
	json.Unmarshal(FormatJSON(snap), &parsed)

	if parsed.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if parsed.Status.Network.SSID != "MyNet" {
		t.Errorf("Network.SSID: got %q, want MyNet", parsed.Status.Network.SSID)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	at := time.Now()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.Update(levels(at, map[logic.Category]int{logic.Unsorted: (i % 10) * 10}), logic.SignalIdle, logic.EventCounts{logic.Unsorted: i})
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetNetwork(&NetworkInfo{IP: "1.2.3.4"})
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = snap.Uptime()
			_ = FormatJSON(snap)
		}
	}()

	wg.Wait()
}
