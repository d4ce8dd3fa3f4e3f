package metrics

import (
	"time"

	"github.com/cuemby/vaultd/pkg/vault"
)

// Collector periodically samples a Vault's state into the package's
// Prometheus gauges. It never touches the document while locked; ViewDocument
// already enforces that.
type Collector struct {
	v      *vault.Vault
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector for v.
func NewCollector(v *vault.Vault) *Collector {
	return &Collector{
		v:      v,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15-second interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	status := c.v.Status()
	if status.Unlocked {
		VaultUnlocked.Set(1)
		SessionSecondsRemaining.Set(time.Until(status.SessionEndAt).Seconds())
	} else {
		VaultUnlocked.Set(0)
		SessionSecondsRemaining.Set(0)
		return
	}

	_ = c.v.ViewDocument(func(doc *vault.Document) {
		c.collectCapabilities(doc)
		c.collectSnapshots(doc)
	})
}

func (c *Collector) collectCapabilities(doc *vault.Document) {
	active := make(map[vault.SharingTier]int)
	now := time.Now()
	for _, g := range doc.Grants {
		if g.Revoked || now.After(g.Expires) {
			continue
		}
		active[g.Tier]++
	}
	for tier, count := range active {
		CapabilitiesActive.WithLabelValues(string(tier)).Set(float64(count))
	}
}

func (c *Collector) collectSnapshots(doc *vault.Document) {
	PendingSnapshotsQueued.Set(float64(len(doc.PendingSnapshots)))
}
