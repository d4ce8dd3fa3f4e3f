package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Vault state metrics
	VaultUnlocked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vaultd_vault_unlocked",
			Help: "Whether the vault is currently unlocked (1) or locked (0)",
		},
	)

	SessionSecondsRemaining = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vaultd_session_seconds_remaining",
			Help: "Seconds remaining in the current unlock session, 0 when locked",
		},
	)

	// Capability metrics
	CapabilitiesIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultd_capabilities_issued_total",
			Help: "Total number of capability tokens issued, by tier",
		},
		[]string{"tier"},
	)

	CapabilitiesActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vaultd_capabilities_active",
			Help: "Number of non-revoked, non-expired capability grants, by tier",
		},
		[]string{"tier"},
	)

	CapabilityVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultd_capability_verifications_total",
			Help: "Total number of capability executions, by result",
		},
		[]string{"result"},
	)

	CapabilityVerificationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vaultd_capability_verification_duration_seconds",
			Help:    "Time taken to verify and execute a capability",
			Buckets: prometheus.DefBuckets,
		},
	)

	CapabilitiesRevokedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultd_capabilities_revoked_total",
			Help: "Total number of capabilities revoked, by reason",
		},
		[]string{"reason"},
	)

	// Snapshot engine metrics
	SnapshotsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vaultd_snapshots_created_total",
			Help: "Total number of cached snapshots created",
		},
	)

	SnapshotRefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vaultd_snapshot_refresh_duration_seconds",
			Help:    "Time taken for one cached-snapshot refresh cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	SnapshotPushFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vaultd_snapshot_push_failures_total",
			Help: "Total number of failed attempts to push a snapshot to the relay",
		},
	)

	PendingSnapshotsQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vaultd_pending_snapshots_queued",
			Help: "Number of snapshots awaiting push to the relay",
		},
	)

	// Escalation metrics
	EscalationsRequestedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vaultd_escalations_requested_total",
			Help: "Total number of escalation requests created",
		},
	)

	EscalationsResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultd_escalations_resolved_total",
			Help: "Total number of escalation requests resolved, by outcome",
		},
		[]string{"outcome"},
	)

	// Relay client metrics
	RelayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultd_relay_requests_total",
			Help: "Total number of relay requests, by operation and status",
		},
		[]string{"operation", "status"},
	)

	RelayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vaultd_relay_request_duration_seconds",
			Help:    "Relay HTTP request duration in seconds, by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	RelayReachable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vaultd_relay_reachable",
			Help: "Whether the last relay health probe succeeded (1) or not (0)",
		},
	)

	// Audit metrics
	AuditEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultd_audit_events_total",
			Help: "Total number of audit events logged, by action",
		},
		[]string{"action"},
	)

	AuditRingDropsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vaultd_audit_ring_drops_total",
			Help: "Total number of audit events not queued for the durable store because the flush buffer was full",
		},
	)
)

func init() {
	prometheus.MustRegister(VaultUnlocked)
	prometheus.MustRegister(SessionSecondsRemaining)
	prometheus.MustRegister(CapabilitiesIssuedTotal)
	prometheus.MustRegister(CapabilitiesActive)
	prometheus.MustRegister(CapabilityVerificationsTotal)
	prometheus.MustRegister(CapabilityVerificationDuration)
	prometheus.MustRegister(CapabilitiesRevokedTotal)
	prometheus.MustRegister(SnapshotsCreatedTotal)
	prometheus.MustRegister(SnapshotRefreshDuration)
	prometheus.MustRegister(SnapshotPushFailuresTotal)
	prometheus.MustRegister(PendingSnapshotsQueued)
	prometheus.MustRegister(EscalationsRequestedTotal)
	prometheus.MustRegister(EscalationsResolvedTotal)
	prometheus.MustRegister(RelayRequestsTotal)
	prometheus.MustRegister(RelayRequestDuration)
	prometheus.MustRegister(RelayReachable)
	prometheus.MustRegister(AuditEventsTotal)
	prometheus.MustRegister(AuditRingDropsTotal)
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
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
