// Package gpio reads the waste classifier from Linux GPIO input lines.
// The classifier drives one line per category; at most one line is asserted
// while an item is being classified, none when idle.
// The real implementation uses the Linux GPIO character device.
package gpio

import (
	"fmt"
	"strings"

	"github.com/sweeney/bin-sensor/internal/logic"
)

// Default pin definitions (BCM numbering), in logic.Categories order.
const (
	DefaultPinBiodegradable    = 5
	DefaultPinNonBiodegradable = 6
	DefaultPinRecyclable       = 13
	DefaultPinUnsorted         = 19
)

// DefaultPins returns the default pin per category, in canonical order.
func DefaultPins() [logic.NumCategories]int {
	return [logic.NumCategories]int{
		DefaultPinBiodegradable,
		DefaultPinNonBiodegradable,
		DefaultPinRecyclable,
		DefaultPinUnsorted,
	}
}

// Decode converts raw line values (canonical category order) into a signal.
// With activeLow set, a raw 0 means asserted. More than one asserted line is
// an error: the reading is ambiguous and must be dropped.
// The returned raw string is the asserted bitmap, e.g. "0100".
func Decode(values [logic.NumCategories]int, activeLow bool) (logic.Signal, string, error) {
	var b strings.Builder
	asserted := -1
	count := 0
	for i, v := range values {
		on := v != 0
		if activeLow {
			on = !on
		}
		if on {
			b.WriteByte('1')
			asserted = i
			count++
		} else {
			b.WriteByte('0')
		}
	}
	raw := b.String()

	switch count {
	case 0:
		return logic.SignalIdle, raw, nil
	case 1:
		return logic.SignalFor(logic.Categories[asserted]), raw, nil
	default:
		return "", raw, fmt.Errorf("ambiguous classifier lines %s", raw)
	}
}
