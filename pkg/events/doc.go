// Package events implements an in-memory, non-blocking pub/sub broker
// for host-lifecycle occurrences: admin/oper/avail transitions, action
// handler start/completion, alarm raise/clear, and auto-recovery
// latching. Publish never blocks the Host FSM Engine's tick loop; a
// full subscriber buffer simply drops the event. Intended subscribers
// are pkg/log-backed audit trails, pkg/metrics counters, and a future
// CLI watch stream — never another copy of engine state.
package events
