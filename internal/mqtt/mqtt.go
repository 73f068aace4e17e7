// Package mqtt provides MQTT publishing and the classifier feed, with
// abstractions for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/bin-sensor/internal/logic"
)

// TopicEvents is the MQTT topic for accepted detection events.
const TopicEvents = "bin/sensor/events"

// TopicNotifications is the MQTT topic for fill-level threshold notifications.
const TopicNotifications = "bin/sensor/notifications"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "bin/sensor/system"

// TopicClassifier is the default topic the classifier publishes its status on.
const TopicClassifier = "bin/classifier/status"

// Publisher publishes events to MQTT.
type Publisher interface {
	// PublishDetection sends an accepted detection and the bin it landed in.
	// Returns error if publishing fails (should not crash the process).
	PublishDetection(ev logic.DetectionEvent, bin logic.CategoryBin) error

	// PublishNotification sends a threshold notification.
	PublishNotification(n logic.Notification) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// DetectionPayload is the MQTT message for an accepted detection.
type DetectionPayload struct {
	Bin DetectionInner `json:"bin"`
}

// DetectionInner contains the detection details.
type DetectionInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Category  string `json:"category"`
	Level     int    `json:"level"`
	Status    string `json:"status"`
}

// FormatDetectionPayload creates the JSON payload for a detection.
func FormatDetectionPayload(ev logic.DetectionEvent, bin logic.CategoryBin) ([]byte, error) {
	return json.Marshal(DetectionPayload{
		Bin: DetectionInner{
			Timestamp: ev.ObservedAt.UTC().Format(time.RFC3339),
			Event:     "ITEM_DETECTED",
			Category:  string(ev.Category),
			Level:     bin.FillLevel,
			Status:    string(bin.Status),
		},
	})
}

// NotificationPayload is the MQTT message for a threshold notification.
type NotificationPayload struct {
	Notification NotificationInner `json:"notification"`
}

// NotificationInner contains the notification details.
type NotificationInner struct {
	Timestamp string `json:"timestamp"`
	Category  string `json:"category"`
	Level     int    `json:"level"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
}

// FormatNotificationPayload creates the JSON payload for a notification.
func FormatNotificationPayload(n logic.Notification) ([]byte, error) {
	return json.Marshal(NotificationPayload{
		Notification: NotificationInner{
			Timestamp: n.CreatedAt.UTC().Format(time.RFC3339),
			Category:  string(n.Category),
			Level:     n.Level,
			Severity:  string(n.Severity),
			Message:   n.Message,
		},
	})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// ClassifierMessage is the status the classifier publishes on TopicClassifier.
type ClassifierMessage struct {
	Signal    string `json:"signal"`
	Connected bool   `json:"connected"`
	Timestamp string `json:"timestamp,omitempty"`
}
