// Package autorecovery implements the thresholded retry/disable
// controller: ar_manage/ar_enable against
// per-cause counters, thresholds, and intervals, plus the ar_disabled
// latch that forces the enable handler to RETRY without advancing
// until an operator re-enables the host.
package autorecovery

import (
	"time"

	"github.com/cgts/mtce/pkg/types"
)

// Verdict is the caller-facing result of ar_manage.
type Verdict int

const (
	// Pass means under threshold: the caller schedules its next retry
	// after the cause's configured interval.
	Pass Verdict = iota
	// Fail means the threshold was exceeded this call: ar_disabled is
	// now latched, the cause-appropriate alarm must be raised by the
	// caller, and no further enable attempts are permitted for this
	// host until ar_enable is called.
	Fail
)

// Thresholds bundles the per-cause configuration the controller is
// parameterized by, sourced from pkg/config.
type Thresholds struct {
	Threshold map[types.ARCause]int
	Interval  map[types.ARCause]time.Duration
}

// Manage increments ar.Count[cause] on host and compares it against
// thresholds. It mutates host.AR in place, matching the single-writer
// ownership of Host Records by the engine.
func Manage(host *types.HostRecord, cause types.ARCause, taskString string, thresholds Thresholds) Verdict {
	ar := host.AR
	ar.Count[cause]++
	ar.LastCause = cause

	threshold := thresholds.Threshold[cause]
	if threshold <= 0 {
		threshold = 3
	}

	if ar.Count[cause] > threshold {
		ar.Disabled = true
		ar.TaskString = taskString
		return Fail
	}
	return Pass
}

// Interval returns the configured retry interval for cause, used by
// the caller after a Pass verdict.
func Interval(cause types.ARCause, thresholds Thresholds) time.Duration {
	if d, ok := thresholds.Interval[cause]; ok && d > 0 {
		return d
	}
	return 30 * time.Second
}

// Enabled reports whether the host is currently permitted to attempt
// enable — i.e. the ar_disabled latch is not set. The contract:
// "ar_disabled implies the enable handler returns RETRY without
// advancing, regardless of event inputs, until ar_enable is called."
func Enabled(host *types.HostRecord) bool {
	return !host.AR.Disabled
}

// Enable clears all counts and the latch, called by the enable
// handler once a host reaches ENABLED.
func Enable(host *types.HostRecord) {
	for cause := range host.AR.Count {
		host.AR.Count[cause] = 0
	}
	host.AR.Disabled = false
	host.AR.TaskString = ""
}
