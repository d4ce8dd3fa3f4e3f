/*
Package health provides a pluggable health-check abstraction used to
monitor the reachability of the relay service vaultd depends on.

# Architecture

	┌──────────────────── HEALTH CHECK SYSTEM ─────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Checker interface               │          │
	│  │  Check(ctx) Result                           │          │
	│  │  Type() CheckType                            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              HTTPChecker                     │          │
	│  │  GET/HEAD against a URL, status range check  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │                 Status                       │          │
	│  │  ConsecutiveFailures / ConsecutiveSuccesses  │          │
	│  │  flips Healthy after Config.Retries misses   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              RelayMonitor                    │          │
	│  │  polls a Checker on Config.Interval,         │          │
	│  │  updates Status, exits on context cancel     │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Usage

	checker := health.NewHTTPChecker(relayURL + "/healthz")
	monitor := health.NewRelayMonitor(checker, health.DefaultConfig())
	monitor.Start(ctx)
	defer monitor.Stop()

	status := monitor.Status()
	if !status.Healthy {
		// degrade to relay_reachable=false rather than blocking
	}

RelayMonitor complements pkg/relay's own per-call Reachable probe: the
probe answers "is the relay up right now", while RelayMonitor tracks the
trend across Config.Retries consecutive checks so a single transient
blip does not flip operational state.
*/
package health
