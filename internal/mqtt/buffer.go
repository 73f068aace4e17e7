package mqtt

import "log/slog"

// queuedMsg is a serialized message held for replay after reconnection.
type queuedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds messages published while the broker is unreachable, oldest
// first. When full it evicts the oldest QoS 0 message (detections) before
// touching notifications or lifecycle events, which are QoS 1. Not safe for
// concurrent use; caller must synchronize.
type outbox struct {
	msgs     []queuedMsg
	capacity int
	dropped  int // since last drain
	logger   *slog.Logger
}

func newOutbox(capacity int, logger *slog.Logger) *outbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &outbox{
		msgs:     make([]queuedMsg, 0, capacity),
		capacity: capacity,
		logger:   logger,
	}
}

func (o *outbox) push(msg queuedMsg) {
	if len(o.msgs) < o.capacity {
		o.msgs = append(o.msgs, msg)
		return
	}

	victim := 0
	for i, m := range o.msgs {
		if m.qos == 0 {
			victim = i
			break
		}
	}
	if o.dropped == 0 {
		o.logger.Warn("mqtt outbox full, dropping oldest", "capacity", o.capacity, "topic", o.msgs[victim].topic)
	}
	o.dropped++
	o.msgs = append(o.msgs[:victim], o.msgs[victim+1:]...)
	o.msgs = append(o.msgs, msg)
}

// drain returns the queued messages in publish order and empties the outbox.
func (o *outbox) drain() []queuedMsg {
	if len(o.msgs) == 0 {
		return nil
	}
	out := make([]queuedMsg, len(o.msgs))
	copy(out, o.msgs)
	if o.dropped > 0 {
		o.logger.Warn("mqtt outbox dropped messages while offline", "dropped", o.dropped)
	}
	o.msgs = o.msgs[:0]
	o.dropped = 0
	return out
}

func (o *outbox) len() int {
	return len(o.msgs)
}
