// Package status provides a thread-safe status tracker for the bin-sensor daemon.
// It is read by HTTP handlers and by the lifecycle events published to MQTT.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/bin-sensor/internal/logic"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs      int64
	HeartbeatMs int64
	Broker      string
	HTTPPort    string
	Source      string
	SessionKey  string
	Operator    string
}

// DrainInfo is the drain controller state for display.
type DrainInfo struct {
	Phase   logic.DrainPhase
	Pending *logic.DrainRequest
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Bins          [logic.NumCategories]logic.CategoryBin
	Signal        logic.Signal
	Connected     bool // hardware source connectivity
	Counts        logic.EventCounts
	Drain         DrainInfo
	RestoredFrom  string
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Actionable returns the categories a drain would change right now.
func (s Snapshot) Actionable() []logic.Category {
	return logic.Actionable(logic.BinState{Bins: s.Bins}, logic.Categories[:])
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Bins:      logic.NewBinState().Bins,
			Signal:    logic.SignalIdle,
			Drain:     DrainInfo{Phase: logic.DrainIdle},
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update sets bin levels, the last observed signal and event counts.
// Called from the session on every tick.
func (t *Tracker) Update(state logic.BinState, signal logic.Signal, counts logic.EventCounts) {
	t.mu.Lock()
	t.snap.Bins = state.Bins
	t.snap.Signal = signal
	t.snap.Counts = counts.Clone()
	t.mu.Unlock()
}

// SetConnected records whether the hardware source reports itself connected.
func (t *Tracker) SetConnected(connected bool) {
	t.mu.Lock()
	t.snap.Connected = connected
	t.mu.Unlock()
}

// SetDrain records the drain controller phase and pending request.
func (t *Tracker) SetDrain(phase logic.DrainPhase, pending *logic.DrainRequest) {
	t.mu.Lock()
	t.snap.Drain.Phase = phase
	if pending != nil {
		p := *pending
		p.Categories = append([]logic.Category(nil), pending.Categories...)
		pending = &p
	}
	t.snap.Drain.Pending = pending
	t.mu.Unlock()
}

// SetRestoredFrom records which persistence tier the state came from.
func (t *Tracker) SetRestoredFrom(tier string) {
	t.mu.Lock()
	t.snap.RestoredFrom = tier
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Counts = t.snap.Counts.Clone()
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
