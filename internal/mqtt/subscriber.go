package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/bin-sensor/internal/hardware"
	"github.com/sweeney/bin-sensor/internal/logic"
)

// ErrNoClassifierStatus is returned by Read before any message has arrived.
var ErrNoClassifierStatus = errors.New("mqtt: no classifier status received")

// ErrStaleClassifierStatus is returned when the last message is older than the staleness bound.
var ErrStaleClassifierStatus = errors.New("mqtt: classifier status is stale")

// Subscriber is a hardware.Source fed by classifier status messages.
// Read returns the most recent message; it never blocks on the network.
type Subscriber struct {
	client paho.Client
	topic  string
	logger *slog.Logger
	stale  time.Duration
	now    func() time.Time

	mu       sync.Mutex
	last     hardware.Status
	received time.Time
	have     bool
}

// NewSubscriber connects to broker and subscribes to topic. A status older
// than stale is reported as a read error; zero disables the check.
func NewSubscriber(broker, clientID, topic string, stale time.Duration, logger *slog.Logger) (*Subscriber, error) {
	if topic == "" {
		topic = TopicClassifier
	}
	s := &Subscriber{topic: topic, logger: logger, stale: stale, now: time.Now}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(c paho.Client) {
			// Subscriptions do not survive a clean-session reconnect.
			token := c.Subscribe(s.topic, 1, func(_ paho.Client, m paho.Message) {
				s.handle(m.Payload())
			})
			if token.WaitTimeout(5*time.Second) && token.Error() != nil {
				logger.Warn("classifier subscribe failed", "topic", s.topic, "err", token.Error())
			}
		})

	s.client = paho.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect to broker: timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return s, nil
}

// handle decodes a classifier message and stores it as the latest status.
func (s *Subscriber) handle(payload []byte) {
	st, err := ParseClassifierMessage(payload)
	if err != nil {
		s.logger.Warn("invalid classifier message", "topic", s.topic, "err", err)
		return
	}
	s.mu.Lock()
	s.last = st
	s.received = s.now()
	s.have = true
	s.mu.Unlock()
}

// Read returns the latest classifier status.
func (s *Subscriber) Read() (hardware.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.have {
		return hardware.Status{}, ErrNoClassifierStatus
	}
	if s.stale > 0 && s.now().Sub(s.received) > s.stale {
		return hardware.Status{}, ErrStaleClassifierStatus
	}
	return s.last, nil
}

// Close unsubscribes and disconnects.
func (s *Subscriber) Close() error {
	if s.client == nil {
		return nil
	}
	if s.client.IsConnectionOpen() {
		s.client.Unsubscribe(s.topic).WaitTimeout(time.Second)
	}
	s.client.Disconnect(250)
	return nil
}

// ParseClassifierMessage converts a classifier JSON message to a hardware status.
// An unparseable signal is an error; the timestamp is optional.
func ParseClassifierMessage(payload []byte) (hardware.Status, error) {
	var m ClassifierMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return hardware.Status{}, fmt.Errorf("decode classifier message: %w", err)
	}
	sig, err := logic.ParseSignal(m.Signal)
	if err != nil {
		return hardware.Status{}, err
	}
	st := hardware.Status{Signal: sig, Raw: m.Signal, Connected: m.Connected}
	if m.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, m.Timestamp)
		if err != nil {
			return hardware.Status{}, fmt.Errorf("classifier timestamp: %w", err)
		}
		st.ObservedAt = t.UTC()
	}
	return st, nil
}
