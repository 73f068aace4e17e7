// Package logic contains pure business logic for bin fill-level tracking.
// This package has NO external dependencies (no GPIO, MQTT, SQL, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"fmt"
	"strings"
	"time"
)

// Category identifies one of the four waste-type sub-bins of a collector.
type Category string

const (
	Biodegradable    Category = "BIODEGRADABLE"
	NonBiodegradable Category = "NON_BIODEGRADABLE"
	Recyclable       Category = "RECYCLABLE"
	Unsorted         Category = "UNSORTED"
)

// Categories lists every category in canonical order.
// BinState always stores its bins in this order.
var Categories = [NumCategories]Category{Biodegradable, NonBiodegradable, Recyclable, Unsorted}

// NumCategories is the number of category bins per collector.
const NumCategories = 4

// Index returns the canonical position of c, or -1 if c is not a known category.
func (c Category) Index() int {
	for i, cat := range Categories {
		if cat == c {
			return i
		}
	}
	return -1
}

// Valid reports whether c is one of the four known categories.
func (c Category) Valid() bool {
	return c.Index() >= 0
}

// Label returns a human-readable name ("Non-Biodegradable").
func (c Category) Label() string {
	switch c {
	case Biodegradable:
		return "Biodegradable"
	case NonBiodegradable:
		return "Non-Biodegradable"
	case Recyclable:
		return "Recyclable"
	case Unsorted:
		return "Unsorted"
	default:
		return string(c)
	}
}

// ParseCategory accepts the canonical name or a loose spelling
// ("non-biodegradable", "Recyclable") and returns the category.
func ParseCategory(s string) (Category, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	c := Category(norm)
	if c == "NONBIODEGRADABLE" {
		c = NonBiodegradable
	}
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Signal is the classification marker reported by the hardware:
// either SignalIdle or one of the four category markers.
type Signal string

// SignalIdle means no item is currently being classified.
const SignalIdle Signal = "IDLE"

// SignalFor returns the asserted signal for a category.
func SignalFor(c Category) Signal {
	return Signal(c)
}

// Category returns the category asserted by s, if any.
func (s Signal) Category() (Category, bool) {
	c := Category(s)
	return c, c.Valid()
}

// IsIdle reports whether s is the idle marker.
func (s Signal) IsIdle() bool {
	return s == SignalIdle
}

// ParseSignal accepts "idle" (any case, or empty) or a category name.
func ParseSignal(s string) (Signal, error) {
	if t := strings.TrimSpace(s); t == "" || strings.EqualFold(t, string(SignalIdle)) {
		return SignalIdle, nil
	}
	c, err := ParseCategory(s)
	if err != nil {
		return "", fmt.Errorf("parse signal: %w", err)
	}
	return SignalFor(c), nil
}

// Status is the display band derived from a fill level.
type Status string

const (
	StatusEmpty      Status = "EMPTY"
	StatusNormal     Status = "NORMAL"
	StatusAlmostFull Status = "ALMOST_FULL"
	StatusFull       Status = "FULL"
)

// Band thresholds for LevelToStatus.
const (
	NormalThreshold     = 50
	AlmostFullThreshold = 75
	FullThreshold       = 90
)

// LevelToStatus maps a fill level to its status band.
// It is the only place the band thresholds are applied.
func LevelToStatus(level int) Status {
	switch {
	case level >= FullThreshold:
		return StatusFull
	case level >= AlmostFullThreshold:
		return StatusAlmostFull
	case level >= NormalThreshold:
		return StatusNormal
	default:
		return StatusEmpty
	}
}

// CategoryBin is the fill state of one category sub-bin.
type CategoryBin struct {
	Category    Category  `json:"category"`
	FillLevel   int       `json:"fill_level"`
	LastEventAt time.Time `json:"last_event_at"`
	Status      Status    `json:"status"`
}

// DetectionEvent is a single edge-triggered classification of one item.
type DetectionEvent struct {
	Category   Category
	ObservedAt time.Time
}

// Severity of a notification.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityCritical Severity = "critical"
)

// Notification is emitted when a fill level crosses a notification band.
type Notification struct {
	Category  Category  `json:"category"`
	Level     int       `json:"level"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// WasteItemRecord is one audit row for an accepted detection event.
type WasteItemRecord struct {
	BinID            string    `json:"bin_id"`
	Category         Category  `json:"category"`
	OperatorIdentity string    `json:"operator"`
	RecordedAt       time.Time `json:"recorded_at"`
}

// EventCounts tracks detection events per category since startup.
type EventCounts map[Category]int

// Total returns the sum over all categories.
func (c EventCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Clone returns an independent copy.
func (c EventCounts) Clone() EventCounts {
	out := make(EventCounts, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}
