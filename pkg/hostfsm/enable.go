package hostfsm

import (
	"context"
	"os"
	"time"

	"github.com/cgts/mtce/pkg/autorecovery"
	"github.com/cgts/mtce/pkg/constants"
	"github.com/cgts/mtce/pkg/events"
	"github.com/cgts/mtce/pkg/timers"
	"github.com/cgts/mtce/pkg/types"
)

// enableHandler drives the enable path: reset
// progression, mtcAlive wait, goenabled, heartbeat soak, then the
// enabled state change. Unlock is the same handler with the
// administrative transition folded into START.
func (e *Engine) enableHandler(ctx context.Context, h *types.HostRecord, now time.Time) TickResult {
	switch h.EnableStage {

	case EnableStart:
		// ar_disabled forces RETRY without advancing until ar_enable.
		if !autorecovery.Enabled(h) {
			h.TaskString = h.AR.TaskString
			return Wait
		}
		if h.Action == types.ActionUnlock && h.Triad.Admin == types.AdminLocked {
			h.Triad.Admin = types.AdminUnlocked
			e.clearAlarm(h, constants.AlarmIDLocked)
			e.removeFlagFile(constants.NodeLockedFile)
			e.removeFlagFile(constants.NodeLockedFileBackup)
			// Simplex unlock handshake: on a single-controller system
			// the local unlock is announced through the ready file.
			if h.IsLocalHost {
				if _, err := os.Stat(constants.PlatformSimplexMode); err == nil {
					e.writeFlagFile(constants.UnlockReadyFile)
				}
			}
			e.persistLockState(h, false)
			e.publish(events.EventHostUnlocked, h, "")
		}
		e.setTask(ctx, h, "Enabling")
		h.Degrade.Clear(types.DegradeEnable)
		h.EnableStage = EnableHeartbeatStopCmd
		return Advance

	case EnableHeartbeatStopCmd:
		// Stop heartbeat and clear per-iface minor/failed flags before
		// reboot progression (rule 1).
		if e.hb != nil {
			e.hb.SetMonitoring(h.Hostname, false)
		}
		for _, lv := range h.Liveness {
			lv.Failed = false
			lv.MissCount = 0
			lv.RebootAcked = false
		}
		e.clearAlarm(h, constants.AlarmIDHeartbeatMgmt)
		e.clearAlarm(h, constants.AlarmIDHeartbeatCluster)
		h.EnableStage = EnableResetProgression
		return Advance

	case EnableResetProgression:
		// The local active controller never resets itself (rule 7).
		if h.IsLocalHost {
			h.EnableStage = EnableIntestStart
			return Advance
		}
		e.sendMtcCmdAll(h, CmdReboot)
		h.MtcAliveOnline = false
		h.Timers.Arm(timers.MtcTimer, e.mtcAliveTimeout(h))
		h.EnableStage = EnableResetWait
		return Advance

	case EnableResetWait:
		for _, lv := range h.Liveness {
			if lv.RebootAcked {
				h.Timers.Cancel(timers.MtcTimer)
				h.EnableStage = EnableIntestStart
				return Advance
			}
		}
		if h.Timers.Drain(timers.MtcTimer) {
			// No ACK; proceed anyway — the mtcAlive wait is the real gate.
			h.EnableStage = EnableIntestStart
			return Advance
		}
		return Wait

	case EnableIntestStart:
		e.setTask(ctx, h, "Testing")
		h.EnableStage = EnableMtcAlivePurge
		return Advance

	case EnableMtcAlivePurge:
		// Purge stale liveness so only a post-reset mtcAlive can satisfy
		// the wait. The timeout resets to its configured, node-type
		// dependent value after a successful reboot (rule 2).
		h.MtcAliveOnline = false
		for _, lv := range h.Liveness {
			lv.MtcAliveSeqCmp = lv.MtcAliveSeqLast
		}
		h.Timers.Arm(timers.MtcAliveTimer, e.mtcAliveTimeout(h))
		h.EnableStage = EnableMtcAliveWait
		return Advance

	case EnableMtcAliveWait:
		if h.MtcAliveOnline {
			// "Host did not reboot" check (rule 4). First mtcAlive after
			// reboot is accepted even at uptime zero.
			limit := uint64(2 * e.mtcAliveTimeout(h) / time.Second)
			if !h.IsLocalHost && h.Uptime > limit && limit > 0 {
				e.lg.Warn().Str("hostname", h.Hostname).Uint64("uptime", h.Uptime).Msg("host did not reboot")
				h.Timers.Cancel(timers.MtcAliveTimer)
				h.AR.LastCause = types.ARCauseConfig
				e.setTask(ctx, h, "Enable failed: host did not reboot")
				h.EnableStage = EnableFailure
				return Advance
			}

			if h.OOB.Healthy && h.OOB.Configured {
				// Rule 3: intest, echo unlocked ACK, request goenabled.
				h.Timers.Cancel(timers.MtcAliveTimer)
				h.Triad.Avail = types.AvailIntest
				e.reportState(ctx, h)
				e.sendMtcCmd(h, types.IfaceMgmt, CmdUnlocked)
				h.EnableStage = EnableGoEnabledTimer
				return Advance
			}
			// Alive but not yet healthy+configured: keep waiting under
			// the umbrella timer.
		}
		if h.Timers.Drain(timers.MtcAliveTimer) {
			h.AR.LastCause = types.ARCauseConfig
			e.setTask(ctx, h, "Enable failed: mtcAlive timeout")
			h.EnableStage = EnableFailure
			return Advance
		}
		return Wait

	case EnableGoEnabledTimer:
		h.GoEnabledResult = types.TestUnknown
		e.sendMtcCmd(h, types.IfaceMgmt, CmdGoEnabledRequest)
		h.Timers.Arm(timers.MtcTimer, e.cfg.Timeout.GoEnabled)
		h.EnableStage = EnableGoEnabledWait
		return Advance

	case EnableGoEnabledWait:
		switch h.GoEnabledResult {
		case types.TestPass:
			h.Timers.Cancel(timers.MtcTimer)
			h.EnableStage = EnableHeartbeatWait
			return Advance
		case types.TestFail:
			h.Timers.Cancel(timers.MtcTimer)
			h.AR.LastCause = types.ARCauseGoEnable
			e.setTask(ctx, h, "Enable failed: goenabled test failed")
			h.EnableStage = EnableFailure
			return Advance
		}
		if h.Timers.Drain(timers.MtcTimer) {
			h.AR.LastCause = types.ARCauseGoEnable
			e.setTask(ctx, h, "Enable failed: goenabled timeout")
			h.EnableStage = EnableFailure
			return Advance
		}
		return Wait

	case EnableHeartbeatWait:
		// Soak is bypassed when the failure action is "none" (rule 5).
		if e.cfg.Heartbeat.FailureAction == "none" {
			h.EnableStage = EnableStateChange
			return Advance
		}
		if e.hb != nil {
			e.hb.SetMonitoring(h.Hostname, true)
		}
		h.Timers.Arm(timers.MtcTimer, e.cfg.Heartbeat.SoakDuration)
		h.EnableStage = EnableHeartbeatSoak
		return Advance

	case EnableHeartbeatSoak:
		for _, lv := range h.Liveness {
			if lv.Failed {
				h.Timers.Cancel(timers.MtcTimer)
				h.AR.LastCause = types.ARCauseHeartbeat
				e.setTask(ctx, h, "Enable failed: heartbeat soak failed")
				h.EnableStage = EnableFailure
				return Advance
			}
		}
		if h.Timers.Drain(timers.MtcTimer) {
			h.EnableStage = EnableStateChange
			return Advance
		}
		return Wait

	case EnableStateChange:
		h.Triad.Oper = types.OperEnabled
		h.Degrade.Clear(types.DegradeEnable)
		h.RecomputeAvailability()
		h.EnqueueWork("state-update", map[string]string{"oper": string(h.Triad.Oper)})
		e.setTask(ctx, h, "")
		h.Timers.Arm(timers.HTTPTimer, e.cfg.Timeout.WorkQueue)
		h.EnableStage = EnableWorkQueueWait
		return Advance

	case EnableWorkQueueWait:
		if _, ok := h.CompleteHeadWork(); !ok {
			// Fatal tier: an expected work entry is missing.
			e.lg.Error().Str("hostname", h.Hostname).Msg("enable: work queue empty at WORKQUEUE_WAIT")
		}
		h.Timers.Cancel(timers.HTTPTimer)
		h.EnableStage = EnableEnabled
		return Advance

	case EnableEnabled:
		autorecovery.Enable(h)
		e.persistARState(h, types.ARCauseGoEnable)
		h.GracefulRecoveryCount = 0
		e.clearAlarm(h, constants.AlarmIDEnable)
		e.reportState(ctx, h)
		e.publish(events.EventHostEnabled, h, "")
		return Complete

	case EnableFailure:
		return e.enableFailure(ctx, h)

	case EnableFailureWait:
		if h.Timers.Drain(timers.MtcTimer) {
			h.EnableStage = EnableStart
			return Advance
		}
		return Wait

	case EnableFailureSwactWait:
		if e.sm != nil {
			if res, err := e.sm.PollSwact(ctx); err == nil && res.Complete {
				h.IsActiveController = false
				h.EnableStage = EnableFailureWait
				h.Timers.Arm(timers.MtcTimer, autorecovery.Interval(h.AR.LastCause, e.arCfg))
				return Advance
			}
		}
		if h.Timers.Drain(timers.MtcTimer) {
			h.EnableStage = EnableFailureWait
			h.Timers.Arm(timers.MtcTimer, autorecovery.Interval(h.AR.LastCause, e.arCfg))
			return Advance
		}
		return Wait

	default:
		e.lg.Error().Str("hostname", h.Hostname).Int("stage", int(h.EnableStage)).Msg("enable: invalid stage; forcing failure")
		h.EnableStage = EnableFailure
		return Advance
	}
}

// enableFailure is the common failure path (rule 6): raise the enable
// alarm, report the state change, and consult the Auto-Recovery
// Controller to choose between retry-with-delay and AR-disable.
func (e *Engine) enableFailure(ctx context.Context, h *types.HostRecord) TickResult {
	cause := h.AR.LastCause
	if cause == "" {
		cause = types.ARCauseGoEnable
	}

	e.raiseAlarm(h, constants.AlarmIDEnable, constants.SeverityCritical)
	h.Triad.Oper = types.OperDisabled
	h.Triad.Avail = types.AvailFailed

	// Rule 7: the active controller failing itself degrades when there
	// is no standby, otherwise requests a swact; it never self-resets.
	if h.IsLocalHost && h.IsActiveController {
		if !e.standbyAvailable(h) {
			h.Triad.Oper = types.OperEnabled
			h.Triad.Avail = types.AvailDegraded
			h.Degrade.Set(types.DegradeEnable)
			e.setTask(ctx, h, "Enable degraded: no standby controller")
			e.reportState(ctx, h)
			return Fail
		}
		e.setTask(ctx, h, "Enable failed: requesting swact")
		e.reportState(ctx, h)
		// Writing the SM unhealthy flag makes SM shut down local
		// services, forcing the swact even if the REST request is lost.
		e.writeFlagFile(constants.SMGMTUnhealthyFile)
		if e.sm != nil {
			if err := e.sm.RequestSwact(ctx, h.Hostname); err != nil {
				e.lg.Warn().Err(err).Msg("self-failure swact request failed")
			}
		}
		h.Timers.Arm(timers.MtcTimer, e.cfg.Timeout.Swact)
		h.EnableStage = EnableFailureSwactWait
		return Advance
	}

	e.reportState(ctx, h)

	verdict := autorecovery.Manage(h, cause, arTaskString(cause), e.arCfg)
	e.persistARState(h, cause)
	if verdict == autorecovery.Fail {
		e.raiseAlarm(h, arAlarmID(cause), constants.SeverityCritical)
		e.setTask(ctx, h, h.AR.TaskString)
		e.publish(events.EventAutoRecoveryLatched, h, string(cause))
		h.EnableStage = EnableStart
		return Fail
	}

	h.Timers.Arm(timers.MtcTimer, autorecovery.Interval(cause, e.arCfg))
	h.EnableStage = EnableFailureWait
	return Advance
}
