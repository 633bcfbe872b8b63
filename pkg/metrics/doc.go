// Package metrics defines the Prometheus gauges, counters, and
// histograms exported by the maintenance core, plus a small health/
// readiness check registry used by the liveness and readiness HTTP
// endpoints. All metrics are registered at package init and are safe
// for concurrent use from any package; Collector periodically samples
// point-in-time gauges (host counts by availability state, alarm queue
// depth, BMC accessibility) from the engine, while counters and
// histograms are updated inline by the packages that own the events
// they describe.
package metrics
