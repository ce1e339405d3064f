// Package metrics exposes Prometheus counters for lock activity. Every
// recorder is a no-op until Init has been called.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricPrefix = "btlock_"

var (
	registerOnce sync.Once

	scanTotal      *prometheus.CounterVec
	connectTotal   *prometheus.CounterVec
	connectLatency *prometheus.HistogramVec
	commandTotal   *prometheus.CounterVec
	authTotal      *prometheus.CounterVec
	lockState      prometheus.Gauge
	connected      prometheus.Gauge
)

// Init registers the collectors on the default registry.
func Init() {
	registerOnce.Do(func() {
		scanTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "scan_total",
				Help: "Total discovery attempts by result",
			},
			[]string{"result"},
		)
		connectTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "connect_total",
				Help: "Total connect calls by outcome (opened, reused, failed)",
			},
			[]string{"outcome"},
		)
		connectLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "connect_latency_seconds",
				Help:    "Connect latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		)
		commandTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_total",
				Help: "Total commands by command and result",
			},
			[]string{"command", "result"},
		)
		authTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "auth_total",
				Help: "Total operator authentication attempts by result",
			},
			[]string{"result"},
		)
		lockState = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "locked",
			Help: "Locally tracked lock state (1 locked, 0 unlocked)",
		})
		connected = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "connected",
			Help: "Whether a controller connection is held",
		})

		prometheus.MustRegister(
			scanTotal,
			connectTotal,
			connectLatency,
			commandTotal,
			authTotal,
			lockState,
			connected,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncScan records a discovery outcome.
func IncScan(result string) {
	if result == "" {
		result = "unknown"
	}
	if scanTotal != nil {
		scanTotal.WithLabelValues(result).Inc()
	}
}

// ObserveConnect records a connect outcome and its duration.
func ObserveConnect(outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	if connectTotal != nil {
		connectTotal.WithLabelValues(outcome).Inc()
	}
	if connectLatency != nil {
		connectLatency.WithLabelValues(outcome).Observe(duration.Seconds())
	}
}

// IncCommand records a command write result.
func IncCommand(command, result string) {
	if result == "" {
		result = "unknown"
	}
	if commandTotal != nil {
		commandTotal.WithLabelValues(command, result).Inc()
	}
}

// IncAuth records an authentication outcome.
func IncAuth(result string) {
	if result == "" {
		result = "unknown"
	}
	if authTotal != nil {
		authTotal.WithLabelValues(result).Inc()
	}
}

// SetLocked publishes the tracked lock state.
func SetLocked(locked bool) {
	if lockState != nil {
		lockState.Set(boolToFloat(locked))
	}
}

// SetConnected publishes whether a connection is held.
func SetConnected(ok bool) {
	if connected != nil {
		connected.Set(boolToFloat(ok))
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
