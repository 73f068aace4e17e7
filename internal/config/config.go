// Package config loads the sensor configuration from a file, the environment
// and command-line flags, in that order of increasing precedence.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/bin-sensor/internal/gpio"
	"github.com/sweeney/bin-sensor/internal/logic"
)

// Hardware source kinds.
const (
	SourceGPIO = "gpio"
	SourceMQTT = "mqtt"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BIN_SENSOR_"

// Config is the complete sensor configuration.
type Config struct {
	Sensor  SensorConfig  `toml:"sensor" json:"sensor" yaml:"sensor"`
	MQTT    MQTTConfig    `toml:"mqtt" json:"mqtt" yaml:"mqtt"`
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`
	Session SessionConfig `toml:"session" json:"session" yaml:"session"`
	Kafka   KafkaConfig   `toml:"kafka" json:"kafka" yaml:"kafka"`
	HTTP    HTTPConfig    `toml:"http" json:"http" yaml:"http"`
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// SensorConfig configures the classifier source and tick loop.
type SensorConfig struct {
	// Source is "gpio" or "mqtt".
	Source       string `toml:"source" json:"source" yaml:"source"`
	PollMs       int64  `toml:"poll_ms" json:"poll_ms" yaml:"poll_ms"`
	HeartbeatSec int64  `toml:"heartbeat_sec" json:"heartbeat_sec" yaml:"heartbeat_sec"`

	Chip             string `toml:"chip" json:"chip" yaml:"chip"`
	PinBiodegradable int    `toml:"pin_biodegradable" json:"pin_biodegradable" yaml:"pin_biodegradable"`
	PinNonBio        int    `toml:"pin_non_biodegradable" json:"pin_non_biodegradable" yaml:"pin_non_biodegradable"`
	PinRecyclable    int    `toml:"pin_recyclable" json:"pin_recyclable" yaml:"pin_recyclable"`
	PinUnsorted      int    `toml:"pin_unsorted" json:"pin_unsorted" yaml:"pin_unsorted"`
	ActiveLow        bool   `toml:"active_low" json:"active_low" yaml:"active_low"`

	// StaleMs bounds the age of the last MQTT classifier message; 0 disables.
	StaleMs int64 `toml:"stale_ms" json:"stale_ms" yaml:"stale_ms"`

	// DisconnectAfter is the failed-read streak reported as "not connected".
	DisconnectAfter int64 `toml:"disconnect_after" json:"disconnect_after" yaml:"disconnect_after"`
}

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Broker          string `toml:"broker" json:"broker" yaml:"broker"`
	ClientID        string `toml:"client_id" json:"client_id" yaml:"client_id"`
	ClassifierTopic string `toml:"classifier_topic" json:"classifier_topic" yaml:"classifier_topic"`
}

// StorageConfig configures the persistence tiers.
type StorageConfig struct {
	DBPath            string `toml:"db_path" json:"db_path" yaml:"db_path"`
	FallbackDir       string `toml:"fallback_dir" json:"fallback_dir" yaml:"fallback_dir"`
	NotificationLimit int    `toml:"notification_limit" json:"notification_limit" yaml:"notification_limit"`
	FlushTimeoutMs    int64  `toml:"flush_timeout_ms" json:"flush_timeout_ms" yaml:"flush_timeout_ms"`
}

// SessionConfig identifies the collector and its operator.
type SessionConfig struct {
	Key      string `toml:"key" json:"key" yaml:"key"`
	Operator string `toml:"operator" json:"operator" yaml:"operator"`
}

// KafkaConfig enables the audit fan-out when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `toml:"brokers" json:"brokers" yaml:"brokers"`
	Topic   string   `toml:"topic" json:"topic" yaml:"topic"`
}

// HTTPConfig configures the status server. Empty Addr disables it.
type HTTPConfig struct {
	Addr string `toml:"addr" json:"addr" yaml:"addr"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `toml:"level" json:"level" yaml:"level"`
	Format string `toml:"format" json:"format" yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	pins := gpio.DefaultPins()
	return &Config{
		Sensor: SensorConfig{
			Source:           SourceGPIO,
			PollMs:           1000,
			HeartbeatSec:     900, // 15 minutes
			Chip:             "gpiochip0",
			PinBiodegradable: pins[0],
			PinNonBio:        pins[1],
			PinRecyclable:    pins[2],
			PinUnsorted:      pins[3],
			StaleMs:          10000,
			DisconnectAfter:  3,
		},
		MQTT: MQTTConfig{
			Broker:          "tcp://localhost:1883",
			ClientID:        "bin-sensor",
			ClassifierTopic: "bin/classifier/status",
		},
		Storage: StorageConfig{
			DBPath:            "/var/lib/bin-sensor/bins.db",
			FallbackDir:       "/var/lib/bin-sensor/fallback",
			NotificationLimit: 100,
			FlushTimeoutMs:    5000,
		},
		Session: SessionConfig{
			Key: "default",
		},
		Kafka: KafkaConfig{
			Topic: "bin.waste-items",
		},
		HTTP: HTTPConfig{
			Addr: ":80",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
// Environment overrides are not applied; see ApplyEnv.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return cfg, nil
}

// ApplyEnv applies BIN_SENSOR_* overrides using getenv (os.Getenv when nil).
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	str := func(name string, dst *string) {
		if v := getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int64) error {
		v := getenv(EnvPrefix + name)
		if v == "" {
			return nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}

	str("SOURCE", &c.Sensor.Source)
	str("BROKER", &c.MQTT.Broker)
	str("CLASSIFIER_TOPIC", &c.MQTT.ClassifierTopic)
	str("DB_PATH", &c.Storage.DBPath)
	str("FALLBACK_DIR", &c.Storage.FallbackDir)
	str("SESSION_KEY", &c.Session.Key)
	str("OPERATOR", &c.Session.Operator)
	str("KAFKA_TOPIC", &c.Kafka.Topic)
	str("HTTP_ADDR", &c.HTTP.Addr)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	if v := getenv(EnvPrefix + "KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if err := num("POLL_MS", &c.Sensor.PollMs); err != nil {
		return err
	}
	if err := num("HEARTBEAT_SEC", &c.Sensor.HeartbeatSec); err != nil {
		return err
	}
	if err := num("DISCONNECT_AFTER", &c.Sensor.DisconnectAfter); err != nil {
		return err
	}
	return num("FLUSH_TIMEOUT_MS", &c.Storage.FlushTimeoutMs)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	switch c.Sensor.Source {
	case SourceGPIO, SourceMQTT:
	default:
		errs = append(errs, fmt.Errorf("sensor.source must be %q or %q, got %q", SourceGPIO, SourceMQTT, c.Sensor.Source))
	}
	if c.Sensor.PollMs <= 0 {
		errs = append(errs, errors.New("sensor.poll_ms must be positive"))
	}
	if c.Sensor.DisconnectAfter <= 0 {
		errs = append(errs, errors.New("sensor.disconnect_after must be positive"))
	}
	if c.Sensor.HeartbeatSec < 0 {
		errs = append(errs, errors.New("sensor.heartbeat_sec must not be negative"))
	}
	if c.Sensor.Source == SourceGPIO {
		seen := map[int]bool{}
		for _, p := range c.Pins() {
			if p < 0 {
				errs = append(errs, fmt.Errorf("gpio pin %d is negative", p))
			}
			if seen[p] {
				errs = append(errs, fmt.Errorf("gpio pin %d assigned to more than one category", p))
			}
			seen[p] = true
		}
	}
	if c.Session.Key == "" {
		errs = append(errs, errors.New("session.key is required"))
	}
	if c.Storage.DBPath == "" && c.Storage.FallbackDir == "" {
		errs = append(errs, errors.New("at least one of storage.db_path and storage.fallback_dir is required"))
	}
	if c.Storage.NotificationLimit <= 0 {
		errs = append(errs, errors.New("storage.notification_limit must be positive"))
	}
	if c.Storage.FlushTimeoutMs <= 0 {
		errs = append(errs, errors.New("storage.flush_timeout_ms must be positive"))
	}
	return errors.Join(errs...)
}

// Pins returns the GPIO pins in canonical category order.
func (c *Config) Pins() [logic.NumCategories]int {
	return [logic.NumCategories]int{
		c.Sensor.PinBiodegradable,
		c.Sensor.PinNonBio,
		c.Sensor.PinRecyclable,
		c.Sensor.PinUnsorted,
	}
}

// PollInterval returns the tick interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Sensor.PollMs) * time.Millisecond
}

// Heartbeat returns the heartbeat interval; zero disables heartbeats.
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.Sensor.HeartbeatSec) * time.Second
}

// StaleAfter returns the classifier message staleness bound.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Sensor.StaleMs) * time.Millisecond
}

// FlushTimeout bounds each persistence write.
func (c *Config) FlushTimeout() time.Duration {
	return time.Duration(c.Storage.FlushTimeoutMs) * time.Millisecond
}
