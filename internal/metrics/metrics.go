// Package metrics exposes Prometheus gauges/counters/histograms for the VM
// pool and task lifecycle. cmd/hal neither registers them nor serves a
// /metrics endpoint; Register adds them to a registry a caller supplies.
// Adapted from cuemby-warren/pkg/metrics, trimmed to what hal9999 actually
// measures (no Raft, no service/container reconciliation).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// VMsTotal tracks live VM rows by provider and lifecycle status.
	VMsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hal_vms_total",
			Help: "Number of VM rows by provider and status",
		},
		[]string{"provider", "status"},
	)

	// PoolWarmTotal tracks VMs sitting ready with no assigned task, i.e.
	// the warm pool, by provider.
	PoolWarmTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hal_pool_warm_total",
			Help: "Number of warm (ready, unassigned) VMs by provider",
		},
		[]string{"provider"},
	)

	// TasksTotal tracks task rows by status.
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hal_tasks_total",
			Help: "Number of task rows by status",
		},
		[]string{"status"},
	)

	// ReapTotal counts VMs removed from accounting by reap kind.
	ReapTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hal_reap_total",
			Help: "Total VMs removed from accounting, by reap kind",
		},
		[]string{"kind"}, // idle, stale_provisioning, error, orphan
	)

	// AcquireTotal counts acquireVm outcomes.
	AcquireTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hal_acquire_total",
			Help: "Total acquireVm calls by outcome",
		},
		[]string{"outcome"}, // reuse, provisioned, capacity_error, provider_error, timeout, error
	)

	// TaskDuration measures wall-clock time from StartTask to task
	// terminal state.
	TaskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hal_task_duration_seconds",
			Help:    "Task wall-clock duration in seconds",
			Buckets: prometheus.ExponentialBuckets(5, 2, 12), // 5s .. ~2.8h
		},
	)

	// ProvisionDuration measures the two-phase provisioning step (row
	// insert, CreateInstance, rename); WaitForReady is not included.
	ProvisionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hal_provision_duration_seconds",
			Help:    "VM provisioning duration in seconds, by provider",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// ReconcileDuration measures one reconcile() cycle.
	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hal_reconcile_duration_seconds",
			Help:    "Pool reconcile cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ReconcileCyclesTotal counts completed reconcile cycles.
	ReconcileCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hal_reconcile_cycles_total",
			Help: "Total number of completed reconcile cycles",
		},
	)
)

// Register adds the collectors above to reg. A package-level
// prometheus.MustRegister at init time would make every test importing
// this package register global collectors exactly once (fine for
// singletons), but an explicit Register call leaves it to the caller when
// (and whether) they are registered. Nothing in cmd/hal calls it.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		VMsTotal,
		PoolWarmTotal,
		TasksTotal,
		ReapTotal,
		AcquireTotal,
		TaskDuration,
		ProvisionDuration,
		ReconcileDuration,
		ReconcileCyclesTotal,
	)
}

// Timer is a small stopwatch helper so call sites can write
// "defer metrics.NewTimer().ObserveDuration(hist)"-style one-liners.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records elapsed time against a plain histogram.
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records elapsed time against a labeled histogram.
func (t *Timer) ObserveDurationVec(h prometheus.ObserverVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
