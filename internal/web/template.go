package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/bin-sensor/internal/logic"
	"github.com/sweeney/bin-sensor/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"statusClass": func(s logic.Status) string {
		switch s {
		case logic.StatusFull:
			return "full"
		case logic.StatusAlmostFull:
			return "almost"
		case logic.StatusNormal:
			return "normal"
		}
		return "empty"
	},
	"since": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Bin Sensor</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 35%; }
.bar { background: #eee; width: 100%; height: 10px; }
.bar span { display: block; height: 10px; }
.empty span { background: #8c8; }
.normal span { background: #cc4; }
.almost span { background: #e93; }
.full span { background: #d33; }
.connected { color: green; }
.disconnected { color: red; }
#drain-msg { min-height: 1.2em; }
</style>
</head>
<body>
<h1>Bin Sensor</h1>

<h2>Bins</h2>
<table id="bins">
{{range .Bins}}<tr data-category="{{.Category}}">
<th>{{.Category.Label}}</th>
<td class="{{statusClass .Status}}"><span class="level">{{.FillLevel}}</span>% <span class="status">{{.Status}}</span><div class="bar"><span style="width: {{.FillLevel}}%"></span></div></td>
<td>{{if $.DrainEnabled}}<input type="checkbox" name="drain" value="{{.Category}}"{{if eq .FillLevel 0}} disabled{{end}}>{{end}}</td>
</tr>
{{end}}</table>
{{if .DrainEnabled}}
<p>
<button id="drain-selected"{{if not .Actionable}} disabled{{end}}>Empty selected</button>
<button id="drain-all"{{if not .Actionable}} disabled{{end}}>Empty all</button>
</p>
<p id="drain-msg"></p>
{{end}}

<h2>Classifier</h2>
<table>
<tr><th>Hardware</th><td id="hw" class="{{if .Connected}}connected{{else}}disconnected{{end}}">{{if .Connected}}connected{{else}}not connected{{end}}</td></tr>
<tr><th>Signal</th><td id="signal">{{.Signal}}</td></tr>
<tr><th>Restored from</th><td>{{.RestoredFrom}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}} {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Detections since start</h2>
<table>
{{range .Bins}}<tr><th>{{.Category.Label}}</th><td>{{index $.Counts .Category}}</td></tr>
{{end}}</table>

<h2>System</h2>
<table>
<tr><th>Session</th><td>{{.Config.SessionKey}}</td></tr>
{{if .Config.Operator}}<tr><th>Operator</th><td>{{.Config.Operator}}</td></tr>{{end}}
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{since .StartTime}}</td></tr>
<tr><th>Source</th><td>{{.Config.Source}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a>{{if .DrainEnabled}} <a href="/notifications">Notifications</a>{{end}}</p>
<script>
(function() {
  function refresh() {
    fetch("/index.json").then(function(r) { return r.json(); }).then(function(j) {
      var s = j.status;
      s.bins.forEach(function(b) {
        var row = document.querySelector('tr[data-category="' + b.category + '"]');
        if (!row) { return; }
        var cell = row.children[1];
        cell.className = b.status === "FULL" ? "full" : b.status === "ALMOST_FULL" ? "almost" : b.status === "NORMAL" ? "normal" : "empty";
        cell.querySelector(".level").textContent = b.fill_level;
        cell.querySelector(".status").textContent = b.status;
        cell.querySelector(".bar span").style.width = b.fill_level + "%";
        var box = row.querySelector("input");
        if (box) { box.disabled = b.fill_level === 0; }
      });
      var hw = document.getElementById("hw");
      hw.textContent = s.hardware.connected ? "connected" : "not connected";
      hw.className = s.hardware.connected ? "connected" : "disconnected";
      document.getElementById("signal").textContent = s.hardware.signal;
      var none = s.drain.actionable.length === 0;
      ["drain-selected", "drain-all"].forEach(function(id) {
        var el = document.getElementById(id);
        if (el) { el.disabled = none; }
      });
    }).catch(function() {});
  }

  function post(url, body) {
    return fetch(url, { method: "POST", headers: { "Content-Type": "application/json" }, body: JSON.stringify(body || {}) })
      .then(function(r) { return r.json(); });
  }

  function drain(body) {
    var msg = document.getElementById("drain-msg");
    post("/drain", body).then(function(res) {
      if (!res.requested) { msg.textContent = res.message || res.error; return; }
      if (!confirm(res.message + "?")) {
        post("/drain/cancel").then(function() { msg.textContent = "drain cancelled"; });
        return;
      }
      post("/drain/confirm", { id: res.id }).then(function(c) {
        msg.textContent = c.message || c.error;
        if (c.error) { alert(c.error); }
        refresh();
      });
    });
  }

  var sel = document.getElementById("drain-selected");
  if (sel) {
    sel.onclick = function() {
      var cats = Array.prototype.map.call(document.querySelectorAll('input[name="drain"]:checked'), function(el) { return el.value; });
      drain({ categories: cats });
    };
    document.getElementById("drain-all").onclick = function() { drain({ all: true }); };
  }

  setInterval(refresh, 3000);
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot, drainEnabled bool) {
	data := struct {
		status.Snapshot
		Uptime       time.Duration
		Actionable   []logic.Category
		DrainEnabled bool
	}{
		Snapshot:     snap,
		Uptime:       snap.Uptime(),
		Actionable:   snap.Actionable(),
		DrainEnabled: drainEnabled,
	}
	indexTmpl.Execute(w, data)
}
