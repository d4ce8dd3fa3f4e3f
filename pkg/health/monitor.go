package health

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/vaultd/pkg/metrics"
)

// RelayMonitor polls a Checker on a fixed interval and tracks the
// resulting trend in a Status, so a single transient failure does not
// immediately flip the relay from healthy to unhealthy.
type RelayMonitor struct {
	checker Checker
	config  Config

	mu     sync.RWMutex
	status *Status

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRelayMonitor creates a monitor for checker, not yet polling.
func NewRelayMonitor(checker Checker, config Config) *RelayMonitor {
	return &RelayMonitor{
		checker: checker,
		config:  config,
		status:  NewStatus(),
		stopCh:  make(chan struct{}),
	}
}

// Start begins polling at config.Interval until ctx is cancelled or Stop
// is called.
func (m *RelayMonitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.poll(ctx)
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts polling and waits for the background goroutine to exit.
func (m *RelayMonitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// Status returns a snapshot of the current health status.
func (m *RelayMonitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.status
}

func (m *RelayMonitor) poll(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()
	result := m.checker.Check(checkCtx)

	m.mu.Lock()
	m.status.Update(result, m.config)
	healthy := m.status.Healthy
	m.mu.Unlock()

	if healthy {
		metrics.RelayReachable.Set(1)
	} else {
		metrics.RelayReachable.Set(0)
	}
}
