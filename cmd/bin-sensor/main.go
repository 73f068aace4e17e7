// Command bin-sensor reads a waste classifier, tracks bin fill levels and
// publishes detections and notifications to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/bin-sensor/internal/audit"
	"github.com/sweeney/bin-sensor/internal/config"
	"github.com/sweeney/bin-sensor/internal/gpio"
	"github.com/sweeney/bin-sensor/internal/hardware"
	"github.com/sweeney/bin-sensor/internal/logging"
	"github.com/sweeney/bin-sensor/internal/logic"
	"github.com/sweeney/bin-sensor/internal/metrics"
	"github.com/sweeney/bin-sensor/internal/mqtt"
	"github.com/sweeney/bin-sensor/internal/notify"
	"github.com/sweeney/bin-sensor/internal/persist"
	"github.com/sweeney/bin-sensor/internal/session"
	"github.com/sweeney/bin-sensor/internal/status"
	"github.com/sweeney/bin-sensor/internal/store"
	"github.com/sweeney/bin-sensor/internal/web"
)

func main() {
	opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// options are the command-line flags. Only flags given explicitly override
// the config file and environment.
type options struct {
	configPath string
	printState bool

	poll      time.Duration
	heartbeat time.Duration
	broker    string
	httpAddr  string
	dbPath    string
	fallback  string
	source    string
	operator  string
	sessionID string

	set map[string]bool
}

func parseFlags(args []string) (*options, error) {
	o := &options{set: map[string]bool{}}
	fs := flag.NewFlagSet("bin-sensor", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "Config file (.toml, .yaml or .json)")
	fs.BoolVar(&o.printState, "print-state", false, "Print current classifier reading and exit")
	fs.DurationVar(&o.poll, "poll", 0, "Classifier polling interval")
	fs.DurationVar(&o.heartbeat, "heartbeat", 0, "Heartbeat interval (0 to disable)")
	fs.StringVar(&o.broker, "broker", "", "MQTT broker address")
	fs.StringVar(&o.httpAddr, "http", "", `HTTP status address ("off" to disable)`)
	fs.StringVar(&o.dbPath, "db", "", `SQLite database path ("off" to disable)`)
	fs.StringVar(&o.fallback, "fallback", "", `Fallback state directory ("off" to disable)`)
	fs.StringVar(&o.source, "source", "", "Classifier source: gpio or mqtt")
	fs.StringVar(&o.operator, "operator", "", "Operator identity for waste item records")
	fs.StringVar(&o.sessionID, "session", "", "Session key")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	return o, nil
}

// apply copies explicitly set flags onto cfg.
func (o *options) apply(cfg *config.Config) {
	if o.set["poll"] {
		cfg.Sensor.PollMs = o.poll.Milliseconds()
	}
	if o.set["heartbeat"] {
		cfg.Sensor.HeartbeatSec = int64(o.heartbeat.Seconds())
	}
	if o.set["broker"] {
		cfg.MQTT.Broker = o.broker
	}
	if o.set["http"] {
		cfg.HTTP.Addr = offToEmpty(o.httpAddr)
	}
	if o.set["db"] {
		cfg.Storage.DBPath = offToEmpty(o.dbPath)
	}
	if o.set["fallback"] {
		cfg.Storage.FallbackDir = offToEmpty(o.fallback)
	}
	if o.set["source"] {
		cfg.Sensor.Source = o.source
	}
	if o.set["operator"] {
		cfg.Session.Operator = o.operator
	}
	if o.set["session"] {
		cfg.Session.Key = o.sessionID
	}
}

func offToEmpty(s string) string {
	if s == "off" {
		return ""
	}
	return s
}

func run(o *options) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return err
	}
	o.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: logging.Format(cfg.Logging.Format),
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	src, err := openSource(cfg, logger)
	if err != nil {
		return err
	}
	defer src.Close()

	if o.printState {
		st, err := src.Read()
		if err != nil {
			return fmt.Errorf("read classifier: %w", err)
		}
		fmt.Printf("signal: %s, raw: %s, connected: %v\n", st.Signal, st.Raw, st.Connected)
		return nil
	}

	m := metrics.New()
	ctx := context.Background()

	// Storage. Tiers stay nil interfaces when absent.
	var primary, fallback persist.Tier
	var db *store.SQLite
	if cfg.Storage.DBPath != "" {
		db, err = store.Open(cfg.Storage.DBPath)
		if err != nil {
			logger.Warn("primary store unavailable", "path", cfg.Storage.DBPath, "err", err)
		} else {
			defer db.Close()
			primary = db
		}
	}
	if cfg.Storage.FallbackDir != "" {
		ft, err := store.NewFileTier(cfg.Storage.FallbackDir)
		if err != nil {
			logger.Warn("fallback store unavailable", "dir", cfg.Storage.FallbackDir, "err", err)
		} else {
			fallback = ft
		}
	}
	if primary == nil && fallback == nil {
		logger.Warn("no persistence tier available, state will not survive restart")
	}
	reconciler := persist.New(primary, fallback, cfg.Session.Key, logger,
		persist.WithTimeout(cfg.FlushTimeout()),
		persist.WithFailureCounter(m),
	)

	publisher := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID, logger)
	defer publisher.Close()

	// Notifications go to MQTT and the bounded history list.
	history, listNotifications := notificationStore(db, cfg.Session.Key, cfg.Storage.NotificationLimit)
	notifier := notify.New(logger, m,
		notify.SinkFunc(func(ctx context.Context, n logic.Notification) error {
			return publisher.PublishNotification(n)
		}),
		history,
	)

	var auditSink audit.MultiSink
	var lookup audit.AssignmentLookup
	if db != nil {
		auditSink = append(auditSink, audit.SinkFunc(db.AppendWasteItem))
		lookup = db
	}
	if len(cfg.Kafka.Brokers) > 0 {
		ks := audit.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer ks.Close()
		auditSink = append(auditSink, ks)
	}
	recorder := audit.NewRecorder(ctx, lookup, auditSink, cfg.Session.Operator, logger, m)

	tracker := status.NewTracker(time.Now(), status.Config{
		PollMs:      cfg.PollInterval().Milliseconds(),
		HeartbeatMs: cfg.Heartbeat().Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPPort:    cfg.HTTP.Addr,
		Source:      cfg.Sensor.Source,
		SessionKey:  cfg.Session.Key,
		Operator:    cfg.Session.Operator,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	sess := session.New(cfg.Session.Key, session.Deps{
		Source:     src,
		Reconciler: reconciler,
		Notifier:   notifier,
		Recorder:   recorder,
		Publisher:  publisher,
		Tracker:    tracker,
		Metrics:    m,
		Logger:     logger,

		DisconnectAfter: int(cfg.Sensor.DisconnectAfter),
	})
	sess.Start(ctx)

	// Publish startup event with full status snapshot
	tracker.SetMQTTConnected(publisher.IsConnected())
	snap := tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startup); err != nil {
		logger.Warn("startup publish failed", "err", err)
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker,
			web.WithDrain(sess),
			web.WithMetrics(m.Handler()),
			web.WithNotifications(listNotifications),
		)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "err", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Info("http status server listening", "addr", cfg.HTTP.Addr)
	}

	logger.Info("started",
		"source", cfg.Sensor.Source,
		"poll", cfg.PollInterval(),
		"broker", cfg.MQTT.Broker,
		"heartbeat", cfg.Heartbeat(),
		"session_key", cfg.Session.Key,
	)

	ticker := time.NewTicker(cfg.PollInterval())
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runLoop(sess, publisher, publisher, tracker, logger, cfg.Heartbeat(), time.Now, ticker.C, sigCh)

	flushCtx, cancel := context.WithTimeout(context.Background(), cfg.FlushTimeout())
	defer cancel()
	return sess.Close(flushCtx)
}

// notificationStore returns the notification history sink and its reader.
// The history lives in SQLite when db is open, in memory otherwise.
func notificationStore(db *store.SQLite, key string, limit int) (notify.Sink, web.NotificationsFunc) {
	if db != nil {
		sink := notify.SinkFunc(func(ctx context.Context, n logic.Notification) error {
			return db.AppendNotification(ctx, key, n, limit)
		})
		list := func(ctx context.Context) ([]logic.Notification, error) {
			return db.RecentNotifications(ctx, key, limit)
		}
		return sink, list
	}
	rec := notify.NewRecorder(limit)
	return rec, func(ctx context.Context) ([]logic.Notification, error) {
		return rec.Items(), nil
	}
}

func openSource(cfg *config.Config, logger *slog.Logger) (hardware.Source, error) {
	switch cfg.Sensor.Source {
	case config.SourceMQTT:
		sub, err := mqtt.NewSubscriber(cfg.MQTT.Broker, cfg.MQTT.ClientID+"-classifier", cfg.MQTT.ClassifierTopic, cfg.StaleAfter(), logger)
		if err != nil {
			return nil, fmt.Errorf("init classifier subscriber: %w", err)
		}
		return sub, nil
	default:
		r, err := gpio.NewRealReader(cfg.Sensor.Chip, cfg.Pins(), cfg.Sensor.ActiveLow)
		if err != nil {
			return nil, fmt.Errorf("init gpio: %w", err)
		}
		return r, nil
	}
}

// runLoop ticks the session until a signal arrives, publishing heartbeats
// and a final SHUTDOWN event.
func runLoop(sess *session.Session, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, logger *slog.Logger, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		select {
		case s := <-sig:
			logger.Info("shutting down", "signal", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if tracker != nil {
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
				event.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), "SHUTDOWN", signalName)
			}
			if err := publisher.PublishSystem(event); err != nil {
				logger.Warn("shutdown publish failed", "err", err)
			}
			return

		case <-tick:
			sess.Tick(ctx)

			if tracker != nil && mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}

			hb := sess.Heartbeat(now(), heartbeat)
			if hb == nil {
				continue
			}
			logger.Info("heartbeat", "uptime", hb.Uptime, "detections", hb.Counts.Total())
			event := mqtt.SystemEvent{
				Timestamp: hb.Timestamp,
				Event:     "HEARTBEAT",
			}
			if tracker != nil {
				// Refresh network info for heartbeat
				if net := readNetworkInfo(); net != nil {
					tracker.SetNetwork(net)
				}
				event.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), "HEARTBEAT", "")
			}
			if err := publisher.PublishSystem(event); err != nil {
				logger.Warn("heartbeat publish failed", "err", err)
			}
		}
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
