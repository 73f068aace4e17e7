package logic

import (
	"fmt"
	"time"
)

// Increment describes the effect of one accepted detection event.
type Increment struct {
	Event    DetectionEvent
	Previous int
	Level    int
	Status   Status
}

// Accumulate applies one quantized step to the bin matching ev.Category.
// The level is clamped at MaxFill; LastEventAt is updated even when clamped.
// Unknown categories leave the state untouched and return ok=false.
func Accumulate(state *BinState, ev DetectionEvent) (Increment, bool) {
	bin := state.Bin(ev.Category)
	if bin == nil {
		return Increment{}, false
	}

	prev := bin.FillLevel
	next := prev + FillStep
	if next > MaxFill {
		next = MaxFill
	}
	bin.setLevel(next, ev.ObservedAt)

	return Increment{
		Event:    ev,
		Previous: prev,
		Level:    next,
		Status:   bin.Status,
	}, true
}

// Notification bands.
const (
	InfoLevel     = FillStep
	CriticalLevel = FullThreshold
)

// Threshold decides which notification, if any, a level change produces.
// Reaching exactly InfoLevel yields info; crossing into CriticalLevel or above
// from below yields critical. At most one severity is ever returned, and
// increments that stay at or above CriticalLevel yield nothing.
func Threshold(prev, level int) (Severity, bool) {
	switch {
	case level == InfoLevel && prev < InfoLevel:
		return SeverityInfo, true
	case level >= CriticalLevel && prev < CriticalLevel:
		return SeverityCritical, true
	default:
		return "", false
	}
}

// NotificationFor builds the notification for inc, if the increment crosses a band.
func NotificationFor(inc Increment, at time.Time) (Notification, bool) {
	sev, ok := Threshold(inc.Previous, inc.Level)
	if !ok {
		return Notification{}, false
	}

	cat := inc.Event.Category
	var msg string
	switch sev {
	case SeverityInfo:
		msg = fmt.Sprintf("%s bin received its first item (%d%% full)", cat.Label(), inc.Level)
	case SeverityCritical:
		msg = fmt.Sprintf("%s bin is %d%% full and needs to be emptied", cat.Label(), inc.Level)
	}

	return Notification{
		Category:  cat,
		Level:     inc.Level,
		Severity:  sev,
		Message:   msg,
		CreatedAt: at.UTC(),
	}, true
}
