// Package hardware defines the classifier status source polled by a session.
// Real sources live in internal/gpio (one-hot input lines) and internal/mqtt
// (subscribed classifier feed); the fake allows testing without hardware.
package hardware

import (
	"time"

	"github.com/sweeney/bin-sensor/internal/logic"
)

// Status is one reading of the classifier.
type Status struct {
	Signal     logic.Signal
	Raw        string // source-specific raw value, e.g. line bits or payload field
	ObservedAt time.Time
	Connected  bool
}

// Source reads the latest classifier status.
type Source interface {
	// Read returns the current status. An error means the read failed and
	// the result must be ignored for this tick.
	Read() (Status, error)

	// Close releases hardware resources.
	Close() error
}
