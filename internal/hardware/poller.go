package hardware

import (
	"log/slog"
	"time"
)

// FailureCounter is notified of swallowed read failures and disconnected readings.
type FailureCounter interface {
	PollError()
}

// Poller reads a Source once per tick and swallows failures.
type Poller struct {
	src     Source
	logger  *slog.Logger
	counter FailureCounter
	now     func() time.Time

	failures int // consecutive failed or disconnected reads
}

// NewPoller wraps src. counter may be nil.
func NewPoller(src Source, logger *slog.Logger, counter FailureCounter, now func() time.Time) *Poller {
	if now == nil {
		now = time.Now
	}
	return &Poller{src: src, logger: logger, counter: counter, now: now}
}

// Poll reads the source. ok is false when the read failed; the caller must
// then leave all state untouched. A missing ObservedAt is filled from the clock.
func (p *Poller) Poll() (Status, bool) {
	st, err := p.src.Read()
	if err != nil {
		p.failures++
		if p.counter != nil {
			p.counter.PollError()
		}
		// Log the first failure of a streak and then every 60th, not every tick.
		if p.failures == 1 || p.failures%60 == 0 {
			p.logger.Warn("hardware read failed", "err", err, "consecutive", p.failures)
		}
		return Status{}, false
	}
	if st.ObservedAt.IsZero() {
		st.ObservedAt = p.now()
	}
	if !st.Connected {
		p.failures++
		if p.counter != nil {
			p.counter.PollError()
		}
		return st, true
	}
	if p.failures > 0 {
		p.logger.Info("hardware read recovered", "after", p.failures)
		p.failures = 0
	}
	return st, true
}

// ConsecutiveFailures returns the length of the current failure streak.
func (p *Poller) ConsecutiveFailures() int {
	return p.failures
}
