package metrics

import (
	"github.com/mcdev12/cuecast/go/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

// ServerMetrics implements the cue app and gateway collectors with Prometheus
type ServerMetrics struct {
	writes      *prometheus.CounterVec
	polls       *prometheus.CounterVec
	connections prometheus.Gauge
}

// NewServerMetrics registers the server collectors on reg
func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	m := &ServerMetrics{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cuecast_cue_writes_total",
			Help: "Cue writes accepted, by cue key.",
		}, []string{"cue"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cuecast_cue_polls_total",
			Help: "Cue polls served, by result (changed or unchanged).",
		}, []string{"result"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cuecast_ws_connections",
			Help: "Open push WebSocket connections.",
		}),
	}
	reg.MustRegister(m.writes, m.polls, m.connections)
	return m
}

func (m *ServerMetrics) RecordWrite(cueKey models.CueKey) {
	m.writes.WithLabelValues(string(cueKey)).Inc()
}

func (m *ServerMetrics) RecordPoll(changed bool) {
	m.polls.WithLabelValues(pollResult(changed)).Inc()
}

func (m *ServerMetrics) SetConnections(n int) {
	m.connections.Set(float64(n))
}

func pollResult(changed bool) string {
	if changed {
		return PollChanged
	}
	return PollUnchanged
}

// Poll results
const (
	PollChanged   = "changed"
	PollUnchanged = "unchanged"
	PollFailed    = "failed"
)

// Pattern write outcomes
const (
	WriteWritten = "written"
	WriteIgnored = "ignored"
	WriteFailed  = "failed"
)

// Tap outcomes
const (
	TapCounted = "counted"
	TapDropped = "dropped"
)

// ViewerMetrics implements the controller and device link collectors
type ViewerMetrics struct {
	polls     *prometheus.CounterVec
	writes    *prometheus.CounterVec
	taps      *prometheus.CounterVec
	connected prometheus.Gauge
}

// NewViewerMetrics registers the viewer collectors on reg
func NewViewerMetrics(reg prometheus.Registerer) *ViewerMetrics {
	m := &ViewerMetrics{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cuecast_viewer_polls_total",
			Help: "Viewer polls, by result (changed, unchanged, failed).",
		}, []string{"result"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cuecast_pattern_writes_total",
			Help: "Pattern writes to the peripheral, by result.",
		}, []string{"result"}),
		taps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cuecast_taps_total",
			Help: "Tap notifications, by outcome (counted or dropped).",
		}, []string{"outcome"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cuecast_device_connected",
			Help: "1 while the peripheral is connected.",
		}),
	}
	reg.MustRegister(m.polls, m.writes, m.taps, m.connected)
	return m
}

func (m *ViewerMetrics) RecordPoll(result string) {
	m.polls.WithLabelValues(result).Inc()
}

func (m *ViewerMetrics) RecordPatternWrite(result string) {
	m.writes.WithLabelValues(result).Inc()
}

func (m *ViewerMetrics) RecordTap(outcome string) {
	m.taps.WithLabelValues(outcome).Inc()
}

func (m *ViewerMetrics) SetDeviceConnected(connected bool) {
	if connected {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}
