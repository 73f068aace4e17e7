//go:build !linux

package gpio

import (
	"errors"

	"github.com/sweeney/bin-sensor/internal/hardware"
	"github.com/sweeney/bin-sensor/internal/logic"
)

// RealReader is not available on non-Linux platforms.
type RealReader struct{}

// NewRealReader returns an error on non-Linux platforms.
func NewRealReader(chip string, pins [logic.NumCategories]int, activeLow bool) (*RealReader, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Read is not implemented on non-Linux platforms.
func (r *RealReader) Read() (hardware.Status, error) {
	return hardware.Status{}, errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (r *RealReader) Close() error {
	return nil
}
