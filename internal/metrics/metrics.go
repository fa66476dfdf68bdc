package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serverStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gamewarden",
			Subsystem: "server",
			Name:      "starts_total",
			Help:      "Number of successful server process starts.",
		}, []string{"server"},
	)
	serverStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gamewarden",
			Subsystem: "server",
			Name:      "stops_total",
			Help:      "Number of observed server process exits.",
		}, []string{"server"},
	)
	onlinePlayers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gamewarden",
			Subsystem: "server",
			Name:      "online_players",
			Help:      "Current online players per managed server.",
		}, []string{"server"},
	)
	serverCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gamewarden",
			Subsystem: "server",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage for managed server processes.",
		}, []string{"server"},
	)
	serverMemoryBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gamewarden",
			Subsystem: "server",
			Name:      "memory_bytes",
			Help:      "Resident memory for managed server processes.",
		}, []string{"server"},
	)
	serverDiskBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gamewarden",
			Subsystem: "server",
			Name:      "disk_bytes",
			Help:      "Total size of a managed server's working directory.",
		}, []string{"server"},
	)
	scheduledActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gamewarden",
			Subsystem: "scheduler",
			Name:      "actions_total",
			Help:      "Scheduled actions fired, by action and outcome.",
		}, []string{"action", "outcome"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		serverStarts, serverStops, onlinePlayers,
		serverCPUPercent, serverMemoryBytes, serverDiskBytes,
		scheduledActions,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Lightweight helpers used by internal packages. They no-op if Register
// hasn't been called.

func IncStart(server string) {
	if regOK.Load() {
		serverStarts.WithLabelValues(server).Inc()
	}
}

func IncStop(server string) {
	if regOK.Load() {
		serverStops.WithLabelValues(server).Inc()
	}
}

func SetOnlinePlayers(server string, n int) {
	if regOK.Load() {
		onlinePlayers.WithLabelValues(server).Set(float64(n))
	}
}

func SetServerUsage(server string, cpuPercent float64, memoryBytes uint64) {
	if regOK.Load() {
		serverCPUPercent.WithLabelValues(server).Set(cpuPercent)
		serverMemoryBytes.WithLabelValues(server).Set(float64(memoryBytes))
	}
}

func SetServerDisk(server string, bytes uint64) {
	if regOK.Load() {
		serverDiskBytes.WithLabelValues(server).Set(float64(bytes))
	}
}

func IncScheduledAction(action string, ok bool) {
	if !regOK.Load() {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	scheduledActions.WithLabelValues(action, outcome).Inc()
}

// DeleteServer drops all per-server label series once a descriptor is
// removed.
func DeleteServer(server string) {
	if !regOK.Load() {
		return
	}
	onlinePlayers.DeleteLabelValues(server)
	serverCPUPercent.DeleteLabelValues(server)
	serverMemoryBytes.DeleteLabelValues(server)
	serverDiskBytes.DeleteLabelValues(server)
}
