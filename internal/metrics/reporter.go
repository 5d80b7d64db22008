package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

const (
	ResultSuccess = "success"
	ResultRequeue = "requeue"
	ResultError   = "error"
)

var (
	upgradePhaseGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eksup_upgrade_phase",
			Help: "Current phase of a cluster upgrade; exactly one phase series per upgrade reads 1",
		},
		[]string{"name", "cluster", "region", "phase"},
	)

	phaseTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eksup_phase_transitions_total",
			Help: "Total number of phase transitions",
		},
		[]string{"name", "cluster", "region", "from", "to"},
	)

	phaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eksup_phase_duration_seconds",
			Help:    "Time spent in each upgrade phase",
			Buckets: []float64{30, 60, 300, 600, 1200, 1800, 3600, 7200},
		},
		[]string{"name", "cluster", "region", "phase"},
	)

	reconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eksup_reconcile_total",
			Help: "Total number of reconcile passes",
		},
		[]string{"name", "cluster", "region", "result"},
	)

	reconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eksup_reconcile_duration_seconds",
			Help:    "Time taken for a single reconcile pass",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"name", "cluster", "region"},
	)

	upgradesCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eksup_upgrades_completed_total",
			Help: "Total number of upgrades that reached Completed",
		},
		[]string{"name", "cluster", "region"},
	)

	upgradesFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eksup_upgrades_failed_total",
			Help: "Total number of upgrades that reached Failed, labelled with the phase that failed",
		},
		[]string{"name", "cluster", "region", "phase"},
	)

	nodeGroupNodesReady = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eksup_node_group_nodes_ready",
			Help: "Number of in-service nodes in the node group being rolled",
		},
		[]string{"name", "node_group"},
	)

	nodeGroupNodesDesired = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eksup_node_group_nodes_desired",
			Help: "Desired node count of the node group being rolled",
		},
		[]string{"name", "node_group"},
	)

	maintenanceWindowActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eksup_maintenance_window_active",
			Help: "Whether the upgrade is currently inside a maintenance window (1=inside, 0=outside)",
		},
		[]string{"name"},
	)

	maintenanceWindowNextOpenTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eksup_maintenance_window_next_open_timestamp",
			Help: "Unix timestamp of the next maintenance window start",
		},
		[]string{"name"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		upgradePhaseGauge,
		phaseTransitionsTotal,
		phaseDuration,
		reconcileTotal,
		reconcileDuration,
		upgradesCompletedTotal,
		upgradesFailedTotal,
		nodeGroupNodesReady,
		nodeGroupNodesDesired,
		maintenanceWindowActive,
		maintenanceWindowNextOpenTimestamp,
	)
}

// Reporter records upgrade metrics. Phase timers live in memory, so
// EndPhaseTiming takes the persisted phase start as a fallback for
// durations that span an operator restart.
type Reporter struct {
	mu         sync.RWMutex
	startTimes map[string]*prometheus.Timer
}

func NewReporter() *Reporter {
	return &Reporter{
		startTimes: make(map[string]*prometheus.Timer),
	}
}

// RecordPhase flips the phase gauge to the upgrade's current phase. Stale
// phase series are removed first, so exactly one series per upgrade reads 1.
func (m *Reporter) RecordPhase(name, cluster, region, phase string) {
	upgradePhaseGauge.DeletePartialMatch(prometheus.Labels{"name": name})
	upgradePhaseGauge.WithLabelValues(name, cluster, region, phase).Set(1)
}

func (m *Reporter) RecordTransition(name, cluster, region, from, to string) {
	phaseTransitionsTotal.WithLabelValues(name, cluster, region, from, to).Inc()
}

func (m *Reporter) StartPhaseTiming(name, cluster, region, phase string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := name + ":" + phase
	m.startTimes[key] = prometheus.NewTimer(phaseDuration.WithLabelValues(name, cluster, region, phase))
}

// EndPhaseTiming observes the time spent in a phase. When no in-memory timer
// exists the duration is computed from startedAt instead.
func (m *Reporter) EndPhaseTiming(name, cluster, region, phase string, startedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := name + ":" + phase
	if timer, exists := m.startTimes[key]; exists {
		timer.ObserveDuration()
		delete(m.startTimes, key)
		return
	}
	if !startedAt.IsZero() {
		phaseDuration.WithLabelValues(name, cluster, region, phase).Observe(time.Since(startedAt).Seconds())
	}
}

func (m *Reporter) RecordReconcile(name, cluster, region, result string, seconds float64) {
	reconcileTotal.WithLabelValues(name, cluster, region, result).Inc()
	reconcileDuration.WithLabelValues(name, cluster, region).Observe(seconds)
}

func (m *Reporter) RecordCompleted(name, cluster, region string) {
	upgradesCompletedTotal.WithLabelValues(name, cluster, region).Inc()
}

func (m *Reporter) RecordFailed(name, cluster, region, phase string) {
	upgradesFailedTotal.WithLabelValues(name, cluster, region, phase).Inc()
}

func (m *Reporter) RecordNodeGroupNodes(name, nodeGroup string, ready, desired int32) {
	nodeGroupNodesReady.WithLabelValues(name, nodeGroup).Set(float64(ready))
	nodeGroupNodesDesired.WithLabelValues(name, nodeGroup).Set(float64(desired))
}

func (m *Reporter) RecordMaintenanceWindow(name string, active bool, nextOpenTimestamp *int64) {
	if active {
		maintenanceWindowActive.WithLabelValues(name).Set(1)
		maintenanceWindowNextOpenTimestamp.DeleteLabelValues(name)
	} else {
		maintenanceWindowActive.WithLabelValues(name).Set(0)
		if nextOpenTimestamp != nil {
			maintenanceWindowNextOpenTimestamp.WithLabelValues(name).Set(float64(*nextOpenTimestamp))
		}
	}
}

// CleanupUpgradeMetrics removes the gauge series and pending timers for a
// deleted upgrade. Counters are kept; they age out with the process.
func (m *Reporter) CleanupUpgradeMetrics(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.startTimes {
		if strings.HasPrefix(key, name+":") {
			delete(m.startTimes, key)
		}
	}

	upgradePhaseGauge.DeletePartialMatch(prometheus.Labels{"name": name})
	nodeGroupNodesReady.DeletePartialMatch(prometheus.Labels{"name": name})
	nodeGroupNodesDesired.DeletePartialMatch(prometheus.Labels{"name": name})
	maintenanceWindowActive.DeleteLabelValues(name)
	maintenanceWindowNextOpenTimestamp.DeleteLabelValues(name)
}
