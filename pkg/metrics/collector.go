package metrics

import "time"

// Snapshot is the minimal view of engine-owned state the collector needs.
// Defined here (rather than imported from pkg/hostfsm) so this package
// never depends on the engine; the engine depends on metrics instead.
type Snapshot struct {
	AvailCounts   map[string]int
	AlarmQueueLen int
	BMCAccessible int
}

// SnapshotProvider is implemented by the Host FSM Engine.
type SnapshotProvider interface {
	MetricsSnapshot() Snapshot
}

// Collector periodically samples engine-owned state into the gauges
// above. Counters and histograms are updated inline by their owning
// packages; only point-in-time gauges need a collector.
type Collector struct {
	provider SnapshotProvider
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a collector sampling provider every interval.
func NewCollector(provider SnapshotProvider, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins periodic collection in a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
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

// Stop halts periodic collection.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	snap := c.provider.MetricsSnapshot()

	for _, avail := range []string{
		"available", "degraded", "offline", "online", "failed",
		"intest", "powered-off", "not-installed", "offduty",
	} {
		HostsTotal.WithLabelValues(avail).Set(float64(snap.AvailCounts[avail]))
	}

	AlarmQueueDepth.Set(float64(snap.AlarmQueueLen))
	BMCAccessibleHosts.Set(float64(snap.BMCAccessible))
}
