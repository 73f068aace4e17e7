package mqtt

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/bin-sensor/internal/logic"
)

// DefaultBufferSize is how many messages are held while the broker is unreachable.
const DefaultBufferSize = 256

// RealPublisher publishes to an actual MQTT broker. Messages published while
// disconnected are buffered and replayed in order on (re)connect.
type RealPublisher struct {
	client paho.Client
	logger *slog.Logger

	mu      sync.Mutex
	pending *outbox
}

// NewRealPublisher creates a publisher for the given broker. It does not wait
// for the connection; paho keeps retrying in the background.
func NewRealPublisher(broker, clientID string, logger *slog.Logger) *RealPublisher {
	p := &RealPublisher{
		logger:  logger,
		pending: newOutbox(DefaultBufferSize, logger),
	}

	lwt, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Reason: "LWT"})
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetBinaryWill(TopicSystem, lwt, 1, true).
		SetOnConnectHandler(func(c paho.Client) { p.onConnect(c) }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("mqtt connection lost", "err", err)
		})

	p.client = paho.NewClient(opts)
	p.client.Connect()
	logger.Info("mqtt connecting", "broker", broker, "client_id", clientID)
	return p
}

func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	msgs := p.pending.drain()
	p.mu.Unlock()

	p.logger.Info("mqtt connected", "replay", len(msgs))
	for _, m := range msgs {
		token := c.Publish(m.topic, m.qos, m.retained, m.payload)
		if !token.WaitTimeout(5 * time.Second) {
			p.logger.Warn("mqtt replay timeout", "topic", m.topic)
			continue
		}
		if err := token.Error(); err != nil {
			p.logger.Warn("mqtt replay failed", "topic", m.topic, "err", err)
		}
	}
}

// IsConnected reports whether the client currently holds a broker connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.pending.push(queuedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// PublishDetection sends an accepted detection to the broker.
func (p *RealPublisher) PublishDetection(ev logic.DetectionEvent, bin logic.CategoryBin) error {
	payload, err := FormatDetectionPayload(ev, bin)
	if err != nil {
		return fmt.Errorf("format detection payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.publish(TopicEvents, 0, false, payload)
}

// PublishNotification sends a threshold notification to the broker.
func (p *RealPublisher) PublishNotification(n logic.Notification) error {
	payload, err := FormatNotificationPayload(n)
	if err != nil {
		return fmt.Errorf("format notification payload: %w", err)
	}
	return p.publish(TopicNotifications, 1, false, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(TopicSystem, 1, event.Retained, payload)
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
