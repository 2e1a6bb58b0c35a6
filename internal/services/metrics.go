package services

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// WebSocket metrics
	WebSocketConnections prometheus.Gauge
	WebSocketMessages    *prometheus.CounterVec

	// Mutation metrics
	Mutations *prometheus.CounterVec

	// Lock metrics
	LockWait     prometheus.Histogram
	LockTimeouts prometheus.Counter
	LockReleases *prometheus.CounterVec

	// Storage metrics
	Reloads    prometheus.Counter
	LoadErrors *prometheus.CounterVec
	AssetCount prometheus.Gauge
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// InitMetrics initializes the Prometheus metrics. Collectors are registered
// once per process; later calls return the same instance.
func InitMetrics(connManager *ConnectionManager, locks *LockTable) *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			// WebSocket active connections (gauge - can go up and down)
			WebSocketConnections: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "aiconsole_websocket_connections_active",
				Help: "Number of active WebSocket connections",
			}),

			// WebSocket messages by type (counter - only goes up)
			WebSocketMessages: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "aiconsole_websocket_messages_total",
				Help: "Total number of WebSocket messages by type",
			}, []string{"type", "direction"}), // direction: "inbound" or "outbound"

			Mutations: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "aiconsole_mutations_total",
				Help: "Mutations by type and outcome (applied, deferred, error)",
			}, []string{"type", "outcome"}),

			LockWait: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "aiconsole_lock_wait_seconds",
				Help:    "Time spent waiting to acquire a write lock",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30},
			}),

			LockTimeouts: promauto.NewCounter(prometheus.CounterOpts{
				Name: "aiconsole_lock_timeouts_total",
				Help: "Write lock acquisitions that timed out",
			}),

			LockReleases: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "aiconsole_lock_releases_total",
				Help: "Write lock releases by kind (owner, forced)",
			}, []string{"kind"}),

			Reloads: promauto.NewCounter(prometheus.CounterOpts{
				Name: "aiconsole_asset_reloads_total",
				Help: "Full asset reloads from disk",
			}),

			LoadErrors: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "aiconsole_asset_load_errors_total",
				Help: "Asset files that failed to parse, by asset type",
			}, []string{"asset_type"}),

			AssetCount: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "aiconsole_assets",
				Help: "Number of asset ids currently loaded",
			}),
		}

		// Register collectors that read live state
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "aiconsole_websocket_connections_current",
				Help: "Current number of active WebSocket connections (from connection manager)",
			},
			func() float64 {
				if connManager != nil {
					return float64(connManager.Count())
				}
				return 0
			},
		))
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "aiconsole_locks_held",
				Help: "Write locks currently held",
			},
			func() float64 {
				if locks != nil {
					return float64(locks.Len())
				}
				return 0
			},
		))
	})
	return globalMetrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordWebSocketConnect records a new WebSocket connection
func (m *Metrics) RecordWebSocketConnect() {
	if m == nil {
		return
	}
	m.WebSocketConnections.Inc()
}

// RecordWebSocketDisconnect records a WebSocket disconnection
func (m *Metrics) RecordWebSocketDisconnect() {
	if m == nil {
		return
	}
	m.WebSocketConnections.Dec()
}

// RecordWebSocketMessage records a WebSocket message
func (m *Metrics) RecordWebSocketMessage(msgType, direction string) {
	if m == nil {
		return
	}
	m.WebSocketMessages.WithLabelValues(msgType, direction).Inc()
}

// RecordMutation records a mutation outcome
func (m *Metrics) RecordMutation(mutationType, outcome string) {
	if m == nil {
		return
	}
	m.Mutations.WithLabelValues(mutationType, outcome).Inc()
}

// RecordLockAcquired records how long an acquisition waited
func (m *Metrics) RecordLockAcquired(wait time.Duration) {
	if m == nil {
		return
	}
	m.LockWait.Observe(wait.Seconds())
}

func (m *Metrics) RecordLockTimeout() {
	if m == nil {
		return
	}
	m.LockTimeouts.Inc()
}

func (m *Metrics) RecordLockReleased(forced bool) {
	if m == nil {
		return
	}
	kind := "owner"
	if forced {
		kind = "forced"
	}
	m.LockReleases.WithLabelValues(kind).Inc()
}

// RecordReload records a completed reload and the resulting asset count
func (m *Metrics) RecordReload(count int) {
	if m == nil {
		return
	}
	m.Reloads.Inc()
	m.AssetCount.Set(float64(count))
}

func (m *Metrics) RecordLoadError(assetType string) {
	if m == nil {
		return
	}
	m.LoadErrors.WithLabelValues(assetType).Inc()
}
