package logic

import (
	"errors"
	"fmt"
	"time"
)

// Fill quantization.
const (
	FillStep = 10
	MaxFill  = 100
)

// ErrInvalidState is returned by Validate and FromBins for states that
// violate the four-bins / quantized-level invariants.
var ErrInvalidState = errors.New("invalid bin state")

// BinState holds exactly one CategoryBin per category, in canonical order.
// It is a value type; copies are independent.
type BinState struct {
	Bins [NumCategories]CategoryBin `json:"bins"`
}

// NewBinState returns the all-empty state.
func NewBinState() BinState {
	var s BinState
	for i, c := range Categories {
		s.Bins[i] = CategoryBin{Category: c, Status: LevelToStatus(0)}
	}
	return s
}

// FromBins builds a BinState from an unordered list of bins, as read from
// storage. The list must contain each category exactly once with a valid level.
func FromBins(bins []CategoryBin) (BinState, error) {
	if len(bins) != NumCategories {
		return BinState{}, fmt.Errorf("%w: got %d bins, want %d", ErrInvalidState, len(bins), NumCategories)
	}
	var s BinState
	var seen [NumCategories]bool
	for _, b := range bins {
		i := b.Category.Index()
		if i < 0 {
			return BinState{}, fmt.Errorf("%w: unknown category %q", ErrInvalidState, b.Category)
		}
		if seen[i] {
			return BinState{}, fmt.Errorf("%w: duplicate category %s", ErrInvalidState, b.Category)
		}
		seen[i] = true
		s.Bins[i] = b
	}
	if err := s.Validate(); err != nil {
		return BinState{}, err
	}
	return s, nil
}

// Validate checks canonical order, quantized levels and status consistency.
func (s BinState) Validate() error {
	for i, b := range s.Bins {
		if b.Category != Categories[i] {
			return fmt.Errorf("%w: slot %d holds %q, want %s", ErrInvalidState, i, b.Category, Categories[i])
		}
		if !ValidLevel(b.FillLevel) {
			return fmt.Errorf("%w: %s level %d", ErrInvalidState, b.Category, b.FillLevel)
		}
		if b.Status != LevelToStatus(b.FillLevel) {
			return fmt.Errorf("%w: %s status %q does not match level %d", ErrInvalidState, b.Category, b.Status, b.FillLevel)
		}
	}
	return nil
}

// ValidLevel reports whether level is a multiple of FillStep within [0, MaxFill].
func ValidLevel(level int) bool {
	return level >= 0 && level <= MaxFill && level%FillStep == 0
}

// Bin returns a pointer to the bin for c, or nil for an unknown category.
func (s *BinState) Bin(c Category) *CategoryBin {
	i := c.Index()
	if i < 0 {
		return nil
	}
	return &s.Bins[i]
}

// Level returns the fill level for c (0 for an unknown category).
func (s BinState) Level(c Category) int {
	if b := s.Bin(c); b != nil {
		return b.FillLevel
	}
	return 0
}

// IsEmpty reports whether every category is at level 0.
func (s BinState) IsEmpty() bool {
	for _, b := range s.Bins {
		if b.FillLevel != 0 {
			return false
		}
	}
	return true
}

// Equal compares two states, treating timestamps by instant.
func (s BinState) Equal(o BinState) bool {
	for i := range s.Bins {
		a, b := s.Bins[i], o.Bins[i]
		if a.Category != b.Category || a.FillLevel != b.FillLevel || a.Status != b.Status {
			return false
		}
		if !a.LastEventAt.Equal(b.LastEventAt) {
			return false
		}
	}
	return true
}

// setLevel is the single mutation point for a bin's level.
func (b *CategoryBin) setLevel(level int, at time.Time) {
	b.FillLevel = level
	b.Status = LevelToStatus(level)
	b.LastEventAt = at.UTC()
}
