package logic

import (
	"errors"
	"time"
)

// DrainPhase is the state of the drain confirmation machine.
type DrainPhase string

const (
	DrainIdle     DrainPhase = "IDLE"
	DrainPending  DrainPhase = "PENDING_CONFIRMATION"
	DrainApplying DrainPhase = "APPLYING"
)

var (
	// ErrDrainPending is returned by Request while another request awaits confirmation.
	ErrDrainPending = errors.New("drain: a request is already awaiting confirmation")
	// ErrNoPendingDrain is returned by Confirm when nothing awaits confirmation.
	ErrNoPendingDrain = errors.New("drain: no request awaiting confirmation")
	// ErrDrainMismatch is returned by Confirm when the confirmed ID is not the pending one.
	ErrDrainMismatch = errors.New("drain: confirmation does not match pending request")
)

// DrainRequest is a selection awaiting confirmation.
type DrainRequest struct {
	ID          string     `json:"id"`
	Categories  []Category `json:"categories"`
	RequestedAt time.Time  `json:"requested_at"`
}

// DrainController is a confirm-then-apply state machine:
//
//	Idle --Request--> PendingConfirmation --Confirm--> Applying --> Idle
//	PendingConfirmation --Cancel--> Idle
//
// State is only mutated inside Confirm. Not safe for concurrent use.
type DrainController struct {
	phase   DrainPhase
	pending DrainRequest
}

// NewDrainController returns a controller in the Idle phase.
func NewDrainController() *DrainController {
	return &DrainController{phase: DrainIdle}
}

// Phase returns the current phase.
func (d *DrainController) Phase() DrainPhase {
	if d.phase == "" {
		return DrainIdle
	}
	return d.phase
}

// Pending returns the request awaiting confirmation, if any.
func (d *DrainController) Pending() (DrainRequest, bool) {
	if d.Phase() != DrainPending {
		return DrainRequest{}, false
	}
	return d.pending, true
}

// Request moves Idle -> PendingConfirmation for the actionable subset of sel.
// If nothing in sel is actionable the controller stays Idle and ok is false;
// this is not an error.
func (d *DrainController) Request(state BinState, sel []Category, id string, at time.Time) (DrainRequest, bool, error) {
	if d.Phase() != DrainIdle {
		return DrainRequest{}, false, ErrDrainPending
	}
	actionable := Actionable(state, sel)
	if len(actionable) == 0 {
		return DrainRequest{}, false, nil
	}
	d.pending = DrainRequest{ID: id, Categories: actionable, RequestedAt: at.UTC()}
	d.phase = DrainPending
	return d.pending, true, nil
}

// RequestOne is Request for a single category.
func (d *DrainController) RequestOne(state BinState, c Category, id string, at time.Time) (DrainRequest, bool, error) {
	return d.Request(state, []Category{c}, id, at)
}

// RequestAll is Request for every category.
func (d *DrainController) RequestAll(state BinState, id string, at time.Time) (DrainRequest, bool, error) {
	return d.Request(state, Categories[:], id, at)
}

// Confirm applies the pending request to state and returns to Idle.
// An empty id confirms whatever is pending. The selection is re-filtered at
// apply time, so categories emptied meanwhile are skipped.
func (d *DrainController) Confirm(state *BinState, id string, at time.Time) ([]Category, error) {
	if d.Phase() != DrainPending {
		return nil, ErrNoPendingDrain
	}
	if id != "" && id != d.pending.ID {
		return nil, ErrDrainMismatch
	}

	d.phase = DrainApplying
	drained := DrainSelected(state, d.pending.Categories, at)

	d.phase = DrainIdle
	d.pending = DrainRequest{}
	return drained, nil
}

// Cancel abandons a pending request. It reports whether anything was pending.
func (d *DrainController) Cancel() bool {
	if d.Phase() != DrainPending {
		return false
	}
	d.phase = DrainIdle
	d.pending = DrainRequest{}
	return true
}

// Actionable returns the members of sel whose level is above zero, deduplicated
// and in canonical order. Unknown and already-empty categories are dropped.
func Actionable(state BinState, sel []Category) []Category {
	var want [NumCategories]bool
	for _, c := range sel {
		if i := c.Index(); i >= 0 {
			want[i] = true
		}
	}
	var out []Category
	for i, c := range Categories {
		if want[i] && state.Bins[i].FillLevel > 0 {
			out = append(out, c)
		}
	}
	return out
}

// DrainOne zeroes c. It reports false (no-op) if c is unknown or already empty.
func DrainOne(state *BinState, c Category, at time.Time) bool {
	bin := state.Bin(c)
	if bin == nil || bin.FillLevel == 0 {
		return false
	}
	bin.setLevel(0, at)
	return true
}

// DrainSelected zeroes every actionable category in sel and returns the ones it changed.
func DrainSelected(state *BinState, sel []Category, at time.Time) []Category {
	actionable := Actionable(*state, sel)
	for _, c := range actionable {
		DrainOne(state, c, at)
	}
	return actionable
}

// DrainAll is DrainSelected over every category.
func DrainAll(state *BinState, at time.Time) []Category {
	return DrainSelected(state, Categories[:], at)
}
