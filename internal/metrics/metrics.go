package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	sidecarUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "outrider",
		Name:      "sidecar_up",
		Help:      "Whether the sidecar worker is currently running (1=up, 0=down).",
	}, []string{"sidecar"})

	sidecarPort = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "outrider",
		Name:      "sidecar_port",
		Help:      "Port announced by the sidecar worker for the current generation.",
	}, []string{"sidecar"})

	linesDrained = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "outrider",
		Name:      "lines_drained_total",
		Help:      "Total output lines drained from the worker, per stream.",
	}, []string{"source"})

	kills = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "outrider",
		Name:      "kills_total",
		Help:      "Kill attempts by outcome (killed, noop, error).",
	}, []string{"outcome"})

	discoveryLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "outrider",
		Name:      "discovery_latency_seconds",
		Help:      "Time from worker spawn to its port announcement in seconds.",
	}, []string{"sidecar"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "outrider",
		Name:      "build_info",
		Help:      "Build metadata for the running outrider binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(sidecarUp, sidecarPort, linesDrained, kills, discoveryLatency, buildInfo)
}

// Registry returns the Prometheus registry containing all outrider metrics.
func Registry() *prometheus.Registry {
	return registry
}

// SetSidecarUp records whether the worker is running.
func SetSidecarUp(sidecar string, up bool) {
	if sidecar == "" {
		return
	}
	value := 0.0
	if up {
		value = 1.0
	}
	sidecarUp.WithLabelValues(sidecar).Set(value)
}

// SetDiscoveredPort records the announced worker port.
func SetDiscoveredPort(sidecar string, port uint16) {
	if sidecar == "" {
		return
	}
	sidecarPort.WithLabelValues(sidecar).Set(float64(port))
}

// IncLines increments the drained line counter for a stream.
func IncLines(source string) {
	if source == "" {
		source = "unknown"
	}
	linesDrained.WithLabelValues(source).Inc()
}

// IncKills increments the kill counter for the given outcome.
func IncKills(outcome string) {
	if outcome == "" {
		return
	}
	kills.WithLabelValues(outcome).Inc()
}

// ObserveDiscoveryLatency records how long the worker took to announce.
func ObserveDiscoveryLatency(sidecar string, d time.Duration) {
	label := sidecar
	if label == "" {
		label = "unknown"
	}
	discoveryLatency.WithLabelValues(label).Observe(d.Seconds())
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}
