package logic

import "time"

// EdgeDetector turns a continuously polled classification signal into
// discrete detection events. An event fires only on an idle -> asserted
// transition; the signal must return to idle before another event can fire,
// whether for the same or a different category.
//
// Each session owns its own detector. Edge memory is not shared between
// sessions reading the same hardware feed.
type EdgeDetector struct {
	lastObserved  Signal
	startTime     time.Time
	eventCounts   EventCounts
	lastHeartbeat time.Time
}

// NewEdgeDetector creates a detector in the idle state.
// The startTime is used for calculating uptime in heartbeat events.
func NewEdgeDetector(startTime time.Time) *EdgeDetector {
	return &EdgeDetector{
		lastObserved:  SignalIdle,
		startTime:     startTime,
		eventCounts:   make(EventCounts),
		lastHeartbeat: startTime,
	}
}

// Observe feeds one poll result into the detector and returns the detection
// event it produces, if any.
// Unknown signals are ignored and leave edge memory untouched.
func (d *EdgeDetector) Observe(sig Signal, at time.Time) (DetectionEvent, bool) {
	if sig.IsIdle() {
		d.lastObserved = SignalIdle
		return DetectionEvent{}, false
	}

	cat, ok := sig.Category()
	if !ok {
		return DetectionEvent{}, false
	}

	if !d.lastObserved.IsIdle() {
		// Still armed from the previous assertion.
		return DetectionEvent{}, false
	}

	d.lastObserved = sig
	d.eventCounts[cat]++
	return DetectionEvent{Category: cat, ObservedAt: at}, true
}

// LastObserved returns the signal held in edge memory.
func (d *EdgeDetector) LastObserved() Signal {
	return d.lastObserved
}

// EventCountsSnapshot returns a copy of the per-category event counts.
func (d *EdgeDetector) EventCountsSnapshot() EventCounts {
	return d.eventCounts.Clone()
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if the interval has not elapsed,
// or if interval is <= 0 (disabled).
func (d *EdgeDetector) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if now.Sub(d.lastHeartbeat) < interval {
		return nil
	}

	d.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(d.startTime),
		Counts:    d.eventCounts.Clone(),
	}
}
