package hardware

import (
	"errors"

	"github.com/sweeney/bin-sensor/internal/logic"
)

// FakeSource is a test double that returns scripted statuses.
type FakeSource struct {
	// Statuses contains scripted readings to return.
	// Each call to Read() consumes the next one.
	Statuses []Status

	// index tracks current position in Statuses
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// NewFakeSource creates a FakeSource with the given statuses.
func NewFakeSource(statuses []Status) *FakeSource {
	return &FakeSource{Statuses: statuses}
}

// NewFakeSignals creates a connected FakeSource from a signal sequence.
func NewFakeSignals(signals ...logic.Signal) *FakeSource {
	statuses := make([]Status, len(signals))
	for i, sig := range signals {
		statuses[i] = Status{Signal: sig, Raw: string(sig), Connected: true}
	}
	return NewFakeSource(statuses)
}

// Read returns the next scripted status.
// If statuses are exhausted, returns the last one repeatedly.
func (f *FakeSource) Read() (Status, error) {
	if f.ReadError != nil {
		return Status{}, f.ReadError
	}

	if len(f.Statuses) == 0 {
		return Status{}, errors.New("no statuses configured")
	}

	st := f.Statuses[f.index]
	if f.index < len(f.Statuses)-1 {
		f.index++
	}

	return st, nil
}

// Close marks the source as closed.
func (f *FakeSource) Close() error {
	f.Closed = true
	return nil
}

// Reset resets the source to the beginning of statuses.
func (f *FakeSource) Reset() {
	f.index = 0
	f.Closed = false
}
