package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/bin-sensor/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string         `json:"event,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Bins          []BinJSON      `json:"bins"`
	Hardware      HardwareJSON   `json:"hardware"`
	Drain         DrainJSON      `json:"drain"`
	RestoredFrom  string         `json:"restored_from,omitempty"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     string         `json:"start_time"`
	Timestamp     string         `json:"timestamp"`
	MQTT          MQTTStatus     `json:"mqtt"`
	Counts        map[string]int `json:"event_counts"`
	Network       *NetworkJSON   `json:"network,omitempty"`
	Config        ConfigJSON     `json:"config"`
}

// BinJSON is one category bin.
type BinJSON struct {
	Category    string `json:"category"`
	Label       string `json:"label"`
	FillLevel   int    `json:"fill_level"`
	Status      string `json:"status"`
	LastEventAt string `json:"last_event_at,omitempty"`
}

// HardwareJSON reports the classifier source.
type HardwareJSON struct {
	Connected bool   `json:"connected"`
	Signal    string `json:"signal"`
}

// DrainJSON reports the drain controller.
type DrainJSON struct {
	Phase      string            `json:"phase"`
	Pending    *DrainPendingJSON `json:"pending,omitempty"`
	Actionable []string          `json:"actionable"`
}

// DrainPendingJSON is a request awaiting confirmation.
type DrainPendingJSON struct {
	ID          string   `json:"id"`
	Categories  []string `json:"categories"`
	RequestedAt string   `json:"requested_at"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64  `json:"poll_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPPort    string `json:"http_port"`
	Source      string `json:"source"`
	SessionKey  string `json:"session_key"`
	Operator    string `json:"operator,omitempty"`
}

func categoryStrings(cs []logic.Category) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}

func buildInner(snap Snapshot) StatusInner {
	bins := make([]BinJSON, 0, len(snap.Bins))
	for _, b := range snap.Bins {
		bj := BinJSON{
			Category:  string(b.Category),
			Label:     b.Category.Label(),
			FillLevel: b.FillLevel,
			Status:    string(b.Status),
		}
		if !b.LastEventAt.IsZero() {
			bj.LastEventAt = b.LastEventAt.UTC().Format(time.RFC3339)
		}
		bins = append(bins, bj)
	}

	counts := make(map[string]int, logic.NumCategories)
	for _, c := range logic.Categories {
		counts[string(c)] = snap.Counts[c]
	}

	signal := string(snap.Signal)
	if signal == "" {
		signal = string(logic.SignalIdle)
	}
	phase := snap.Drain.Phase
	if phase == "" {
		phase = logic.DrainIdle
	}

	inner := StatusInner{
		Bins:     bins,
		Hardware: HardwareJSON{Connected: snap.Connected, Signal: signal},
		Drain: DrainJSON{
			Phase:      string(phase),
			Actionable: categoryStrings(snap.Actionable()),
		},
		RestoredFrom:  snap.RestoredFrom,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts:        counts,
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPPort:    snap.Config.HTTPPort,
			Source:      snap.Config.Source,
			SessionKey:  snap.Config.SessionKey,
			Operator:    snap.Config.Operator,
		},
	}
	if p := snap.Drain.Pending; p != nil {
		inner.Drain.Pending = &DrainPendingJSON{
			ID:          p.ID,
			Categories:  categoryStrings(p.Categories),
			RequestedAt: p.RequestedAt.UTC().Format(time.RFC3339),
		}
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
