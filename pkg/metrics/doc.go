/*
Package metrics provides Prometheus metrics collection and exposition for
vaultd.

Every metric is a package-level variable in metrics.go, registered with
the Prometheus default registry in init(). Handler returns
promhttp.Handler() for serving them.

# Metrics Catalog

Vault state:
  - vaultd_vault_unlocked (gauge): 1 while the vault is unlocked, 0 while locked
  - vaultd_session_seconds_remaining (gauge): seconds left in the unlock session, 0 when locked

Capabilities:
  - vaultd_capabilities_issued_total{tier} (counter)
  - vaultd_capabilities_active{tier} (gauge): non-revoked, non-expired grants
  - vaultd_capability_verifications_total{result} (counter): capability executions
  - vaultd_capability_verification_duration_seconds (histogram)
  - vaultd_capabilities_revoked_total{reason} (counter)

Cached snapshots:
  - vaultd_snapshots_created_total (counter)
  - vaultd_snapshot_refresh_duration_seconds (histogram): one refresh cycle
  - vaultd_snapshot_push_failures_total (counter)
  - vaultd_pending_snapshots_queued (gauge)

Escalations:
  - vaultd_escalations_requested_total (counter)
  - vaultd_escalations_resolved_total{outcome} (counter)

Relay:
  - vaultd_relay_requests_total{operation, status} (counter)
  - vaultd_relay_request_duration_seconds{operation} (histogram)
  - vaultd_relay_reachable (gauge): 1 when the last health probe succeeded

Audit:
  - vaultd_audit_events_total{action} (counter)
  - vaultd_audit_ring_drops_total (counter): events not queued for the
    durable store because the flush buffer was full

# Collector

Collector samples a *vault.Vault once at Start and then every 15 seconds
until Stop. While the vault is locked it sets the two vault-state gauges
to 0 and reads nothing else; while unlocked it also sets
vaultd_capabilities_active per tier and vaultd_pending_snapshots_queued
from the document.

# Timer

Timer measures the time since NewTimer: Duration returns it,
ObserveDuration records it to a Histogram, and ObserveDurationVec records
it to a histogram vector under the given label values.

# Health Handlers

health.go keeps a package-level registry of named components
(RegisterComponent, UpdateComponent) and serves three JSON handlers:

  - HealthHandler: 200, or 503 when any registered component is unhealthy.
  - ReadyHandler: 200 only when the components "raft", "containerd" and
    "api" are all registered and healthy, otherwise 503.
  - LivenessHandler: always 200 with status "alive" and the uptime.

# Usage

	timer := metrics.NewTimer()
	// ... call the relay ...
	timer.ObserveDurationVec(metrics.RelayRequestDuration, "store_snapshot")

	collector := metrics.NewCollector(v)
	collector.Start()
	defer collector.Stop()

	http.Handle("/metrics", metrics.Handler())

# See Also

  - Prometheus client library: https://github.com/prometheus/client_golang
*/
package metrics
