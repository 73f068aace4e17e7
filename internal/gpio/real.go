//go:build linux

package gpio

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/bin-sensor/internal/hardware"
	"github.com/sweeney/bin-sensor/internal/logic"
)

// RealReader reads the classifier lines from actual hardware using the Linux
// GPIO character device.
type RealReader struct {
	chip      *gpiocdev.Chip
	lines     *gpiocdev.Lines
	pins      [logic.NumCategories]int
	activeLow bool
}

// NewRealReader requests the four category lines on the named chip
// (e.g. "gpiochip0"). pins are in logic.Categories order.
func NewRealReader(chipName string, pins [logic.NumCategories]int, activeLow bool) (*RealReader, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	// Request lines as input with pull-down to match Pi boot defaults.
	lines, err := chip.RequestLines(pins[:], gpiocdev.AsInput, gpiocdev.WithPullDown)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request classifier pins %v: %w", pins, err)
	}

	return &RealReader{
		chip:      chip,
		lines:     lines,
		pins:      pins,
		activeLow: activeLow,
	}, nil
}

// Read returns the decoded classifier signal.
func (r *RealReader) Read() (hardware.Status, error) {
	values := make([]int, logic.NumCategories)
	if err := r.lines.Values(values); err != nil {
		return hardware.Status{}, fmt.Errorf("read classifier pins: %w", err)
	}

	var raw [logic.NumCategories]int
	copy(raw[:], values)
	sig, bits, err := Decode(raw, r.activeLow)
	if err != nil {
		return hardware.Status{}, err
	}

	return hardware.Status{
		Signal:     sig,
		Raw:        bits,
		ObservedAt: time.Now(),
		Connected:  true,
	}, nil
}

// Close releases GPIO resources.
// Reconfigures lines to input with pull-down (matching Pi boot defaults) before
// closing to ensure clean state for system shutdown/reboot.
func (r *RealReader) Close() error {
	var errs []error

	if r.lines != nil {
		if err := r.lines.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure classifier pins: %w", err))
		}
		if err := r.lines.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close classifier pins: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
