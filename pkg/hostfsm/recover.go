package hostfsm

import (
	"context"
	"time"

	"github.com/cgts/mtce/pkg/bmc"
	"github.com/cgts/mtce/pkg/constants"
	"github.com/cgts/mtce/pkg/timers"
	"github.com/cgts/mtce/pkg/types"
)

// kdumpResetDelay holds off the DOR backup BMC reset long enough for a
// crashed host to finish writing its kdump.
const kdumpResetDelay = 2 * time.Minute

// escalateToEnable abandons graceful recovery in favor of the full
// enable path with reset progression.
func (e *Engine) escalateToEnable(h *types.HostRecord, reason string) TickResult {
	e.lg.Info().Str("hostname", h.Hostname).Str("reason", reason).Msg("graceful recovery escalating to full enable")
	h.Action = types.ActionEnable
	h.EnableStage = EnableStart
	return Advance
}

// recoverHandler drives graceful recovery:
// entered when an unlocked-enabled host misses heartbeat. The graceful
// path succeeds only when the host never rebooted; a reboot or an
// unreachable host escalates to full enable.
func (e *Engine) recoverHandler(ctx context.Context, h *types.HostRecord, now time.Time) TickResult {
	switch h.RecoveryStage {

	case RecoverStart:
		h.GracefulRecoveryCount++
		if cap := e.cfg.Timeout.GracefulRecoveryCap; cap > 0 && h.GracefulRecoveryCount > cap {
			return e.escalateToEnable(h, "graceful recovery counter exceeded")
		}
		h.SavedUptime = h.Uptime
		e.setTask(ctx, h, "Graceful Recovery")
		if e.hb != nil {
			e.hb.SetMonitoring(h.Hostname, false)
		}
		// Clear the failed flag that triggered recovery so HEARTBEAT_SOAK
		// only sees failures raised after monitoring restarts.
		for _, lv := range h.Liveness {
			lv.Failed = false
			lv.RebootAcked = false
		}

		// Dead office recovery: one one-time reboot on both networks,
		// with a BMC backup reset delayed for kdump.
		if h.DORMode && !h.DORRebootSent {
			h.DORRebootSent = true
			e.sendMtcCmdAll(h, CmdReboot)
			if arb, ok := e.oob[h.Hostname]; ok && arb.Accessible() {
				h.Timers.Arm(timers.BMCAccessTimer, kdumpResetDelay)
			}
		}
		h.RecoveryStage = RecoverReqMtcAlive
		return Advance

	case RecoverRetryWait:
		if h.Timers.Drain(timers.MtcTimer) {
			h.RecoveryStage = RecoverReqMtcAlive
			return Advance
		}
		return Wait

	case RecoverReqMtcAlive:
		h.MtcAliveOnline = false
		e.sendMtcCmdAll(h, CmdRequestMtcAlive)
		h.Timers.Arm(timers.MtcAliveTimer, e.mtcAliveTimeout(h))
		h.RecoveryStage = RecoverReqMtcAliveWait
		return Advance

	case RecoverReqMtcAliveWait:
		// A reboot ACK on any network aborts the DOR backup reset.
		for _, lv := range h.Liveness {
			if lv.RebootAcked {
				h.Timers.Cancel(timers.BMCAccessTimer)
			}
		}
		if h.MtcAliveOnline {
			h.Timers.Cancel(timers.MtcAliveTimer)
			h.Timers.Cancel(timers.BMCAccessTimer)
			if h.Uptime < h.SavedUptime {
				// The host rebooted underneath us; graceful recovery
				// cannot vouch for its state.
				return e.escalateToEnable(h, "host rebooted during recovery")
			}
			h.RecoveryStage = RecoverGoEnabledTimer
			return Advance
		}
		if h.Timers.Rung(timers.BMCAccessTimer) {
			h.Timers.Drain(timers.BMCAccessTimer)
			h.RecoveryStage = RecoverResetSendWait
			return Advance
		}
		if h.Timers.Drain(timers.MtcAliveTimer) {
			h.RecoveryStage = RecoverMtcAliveTimer
			return Advance
		}
		return Wait

	case RecoverMtcAliveTimer:
		// No mtcAlive: try an out-of-band reset if the BMC can take one,
		// otherwise give up on graceful and run the full enable.
		if arb, ok := e.oob[h.Hostname]; ok && arb.Accessible() {
			h.RecoveryStage = RecoverResetSendWait
			return Advance
		}
		return e.escalateToEnable(h, "host unreachable and no BMC")

	case RecoverResetSendWait:
		arb, ok := e.oob[h.Hostname]
		if !ok || !arb.Accessible() {
			return e.escalateToEnable(h, "bmc access lost before reset")
		}
		if !arb.Done() {
			return Wait
		}
		if err := arb.Send(h, bmc.Command{Op: bmc.OpPowerReset}); err != nil {
			return e.escalateToEnable(h, "bmc reset send failed")
		}
		h.RecoveryStage = RecoverResetRecvWait
		return Advance

	case RecoverResetRecvWait:
		arb := e.oob[h.Hostname]
		res, status := arb.Recv()
		switch status {
		case bmc.RecvRetry:
			return Wait
		case bmc.RecvError:
			e.lg.Warn().Err(res.Err).Str("hostname", h.Hostname).Msg("bmc reset failed during recovery")
			return e.escalateToEnable(h, "bmc reset failed")
		}
		h.MtcAliveOnline = false
		h.Timers.Arm(timers.MtcAliveTimer, e.mtcAliveTimeout(h))
		h.RecoveryStage = RecoverMtcAliveWait
		return Advance

	case RecoverMtcAliveWait:
		if h.MtcAliveOnline {
			h.Timers.Cancel(timers.MtcAliveTimer)
			h.RecoveryStage = RecoverGoEnabledTimer
			return Advance
		}
		if h.Timers.Drain(timers.MtcAliveTimer) {
			return e.escalateToEnable(h, "no mtcAlive after reset")
		}
		return Wait

	case RecoverGoEnabledTimer:
		h.GoEnabledResult = types.TestUnknown
		e.sendMtcCmd(h, types.IfaceMgmt, CmdGoEnabledRequest)
		h.Timers.Arm(timers.MtcTimer, e.cfg.Timeout.GoEnabled)
		h.RecoveryStage = RecoverGoEnabledWait
		return Advance

	case RecoverGoEnabledWait:
		switch h.GoEnabledResult {
		case types.TestPass:
			h.Timers.Cancel(timers.MtcTimer)
			if h.NodeType.Has(types.NodeTypeController) && h.NodeType.Has(types.NodeTypeWorker) {
				h.RecoveryStage = RecoverConfigCompleteWait
				h.Timers.Arm(timers.MtcConfigTimer, e.cfg.Timeout.GoEnabled)
				return Advance
			}
			h.RecoveryStage = RecoverHeartbeatStart
			return Advance
		case types.TestFail:
			h.Timers.Cancel(timers.MtcTimer)
			return e.escalateToEnable(h, "goenabled failed during recovery")
		}
		if h.Timers.Drain(timers.MtcTimer) {
			return e.escalateToEnable(h, "goenabled timeout during recovery")
		}
		return Wait

	case RecoverConfigCompleteWait:
		// Combined-role controllers must re-assert subfunction config
		// before the subf goenabled round.
		if h.OOB.SubfConfigured {
			h.Timers.Cancel(timers.MtcConfigTimer)
			h.RecoveryStage = RecoverSubfGoEnabledTimer
			return Advance
		}
		if h.Timers.Drain(timers.MtcConfigTimer) {
			return e.escalateToEnable(h, "subfunction config timeout")
		}
		return Wait

	case RecoverSubfGoEnabledTimer:
		h.SubfGoEnabledResult = types.TestUnknown
		e.sendMtcCmd(h, types.IfaceMgmt, CmdGoEnabledRequest, 1)
		h.Timers.Arm(timers.MtcTimer, e.cfg.Timeout.GoEnabled)
		h.RecoveryStage = RecoverSubfGoEnabledWait
		return Advance

	case RecoverSubfGoEnabledWait:
		switch h.SubfGoEnabledResult {
		case types.TestPass:
			h.Timers.Cancel(timers.MtcTimer)
			h.RecoveryStage = RecoverHeartbeatStart
			return Advance
		case types.TestFail:
			h.Timers.Cancel(timers.MtcTimer)
			return e.escalateToEnable(h, "subfunction goenabled failed")
		}
		if h.Timers.Drain(timers.MtcTimer) {
			return e.escalateToEnable(h, "subfunction goenabled timeout")
		}
		return Wait

	case RecoverHeartbeatStart:
		if e.cfg.Heartbeat.FailureAction == "none" {
			h.RecoveryStage = RecoverStateChange
			return Advance
		}
		if e.hb != nil {
			e.hb.SetMonitoring(h.Hostname, true)
		}
		h.Timers.Arm(timers.MtcTimer, e.cfg.Heartbeat.SoakDuration)
		h.RecoveryStage = RecoverHeartbeatSoak
		return Advance

	case RecoverHeartbeatSoak:
		for _, lv := range h.Liveness {
			if lv.Failed {
				h.Timers.Cancel(timers.MtcTimer)
				return e.escalateToEnable(h, "heartbeat soak failed during recovery")
			}
		}
		if h.Timers.Drain(timers.MtcTimer) {
			h.RecoveryStage = RecoverStateChange
			return Advance
		}
		return Wait

	case RecoverStateChange:
		h.Triad.Oper = types.OperEnabled
		h.Degrade.Clear(types.DegradeHeartbeat)
		h.Degrade.Clear(types.DegradeEnable)
		h.RecomputeAvailability()
		for _, lv := range h.Liveness {
			lv.Failed = false
		}
		e.clearAlarm(h, constants.AlarmIDEnable)
		e.clearAlarm(h, constants.AlarmIDHeartbeatMgmt)
		e.clearAlarm(h, constants.AlarmIDHeartbeatCluster)
		h.EnqueueWork("state-update", map[string]string{"oper": string(h.Triad.Oper)})
		e.setTask(ctx, h, "")
		h.RecoveryStage = RecoverWorkQueueWait
		return Advance

	case RecoverWorkQueueWait:
		if _, ok := h.CompleteHeadWork(); !ok {
			e.lg.Error().Str("hostname", h.Hostname).Msg("recovery: work queue empty at WORKQUEUE_WAIT")
		}
		h.RecoveryStage = RecoverEnable
		return Advance

	case RecoverEnable:
		h.GracefulRecoveryCount = 0
		h.DORRebootSent = false
		e.reportState(ctx, h)
		return Complete

	default:
		e.lg.Error().Str("hostname", h.Hostname).Int("stage", int(h.RecoveryStage)).Msg("recovery: invalid stage; escalating")
		return e.escalateToEnable(h, "invalid recovery stage")
	}
}
