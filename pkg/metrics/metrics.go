package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Host FSM metrics
	HostsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mtce_hosts_total",
			Help: "Total number of hosts by availability state",
		},
		[]string{"avail"},
	)

	HostActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mtce_host_actions_total",
			Help: "Total number of action handlers finished, by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	HostActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mtce_host_action_duration_seconds",
			Help:    "Time from set_action to terminal stage, by action",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"action"},
	)

	// Heartbeat metrics
	HeartbeatMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mtce_heartbeat_misses_total",
			Help: "Total heartbeat periods missed, by interface",
		},
		[]string{"iface"},
	)

	HeartbeatFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mtce_heartbeat_failures_total",
			Help: "Total heartbeat loss-threshold crossings, by interface",
		},
		[]string{"iface"},
	)

	HeartbeatRespondingHosts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mtce_heartbeat_responding_hosts",
			Help: "Hosts that responded in the most recent heartbeat period, by network",
		},
		[]string{"network"},
	)

	// BMC metrics
	BMCAccessibleHosts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mtce_bmc_accessible_hosts",
			Help: "Number of hosts with an accessible BMC",
		},
	)

	BMCCommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mtce_bmc_command_duration_seconds",
			Help:    "Out-of-band command duration, by command",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	// Alarm queue metrics
	AlarmQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mtce_alarm_queue_depth",
			Help: "Current depth of the alarm request queue",
		},
	)

	AlarmQueueDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mtce_alarm_queue_drops_total",
			Help: "Total alarm queue entries dropped, by reason",
		},
		[]string{"reason"},
	)

	// Auto-recovery metrics
	AutoRecoveryLatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mtce_auto_recovery_latches_total",
			Help: "Total times ar_disabled latched, by cause",
		},
		[]string{"cause"},
	)
)

func init() {
	prometheus.MustRegister(HostsTotal)
	prometheus.MustRegister(HostActionsTotal)
	prometheus.MustRegister(HostActionDuration)
	prometheus.MustRegister(HeartbeatMissesTotal)
	prometheus.MustRegister(HeartbeatFailuresTotal)
	prometheus.MustRegister(HeartbeatRespondingHosts)
	prometheus.MustRegister(BMCAccessibleHosts)
	prometheus.MustRegister(BMCCommandDuration)
	prometheus.MustRegister(AlarmQueueDepth)
	prometheus.MustRegister(AlarmQueueDropsTotal)
	prometheus.MustRegister(AutoRecoveryLatchesTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
