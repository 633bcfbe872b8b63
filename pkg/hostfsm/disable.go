package hostfsm

import (
	"context"
	"time"

	"github.com/cgts/mtce/pkg/bmc"
	"github.com/cgts/mtce/pkg/constants"
	"github.com/cgts/mtce/pkg/events"
	"github.com/cgts/mtce/pkg/timers"
	"github.com/cgts/mtce/pkg/types"
)

// LockPersistParam is the integer parameter accompanying a locked
// command when the lock must survive reboot: NODE_LOCKED_FILE_BACKUP
// persists only when LOCK_PERSIST accompanies the locked command.
const LockPersistParam int64 = 1

// disableHandler drives lock and force-lock.
// Force-lock issues reset progression and awaits offline before
// committing the locked state.
func (e *Engine) disableHandler(ctx context.Context, h *types.HostRecord, now time.Time) TickResult {
	switch h.DisableStage {

	case DisableStart:
		e.setTask(ctx, h, "Locking")
		if e.hb != nil {
			e.hb.SetMonitoring(h.Hostname, false)
		}
		params := []int64{}
		if h.Action == types.ActionForceLock {
			params = append(params, LockPersistParam)
		}
		e.sendMtcCmdAll(h, CmdLocked, params...)
		h.Timers.Arm(timers.HostServicesTimer, e.cfg.Timeout.HostServices)
		h.DisableStage = DisableServicesWait
		return Advance

	case DisableServicesWait:
		if !h.Timers.Drain(timers.HostServicesTimer) && h.MtcAliveOnline {
			return Wait
		}
		// An unlocked powered-off host is powered back on before the
		// lock proceeds, so wipedisk and shutdown hooks can run.
		if h.Triad.Avail == types.AvailPoweredOff {
			if arb, ok := e.oob[h.Hostname]; ok && arb.Accessible() {
				h.DisableStage = DisableHandlePoweronSend
				return Advance
			}
		}
		h.DisableStage = DisableHandleForceLock
		return Advance

	case DisableHandlePoweronSend:
		arb := e.oob[h.Hostname]
		if !arb.Done() {
			return Wait
		}
		if err := arb.Send(h, bmc.Command{Op: bmc.OpPowerOn}); err != nil {
			h.DisableStage = DisableHandleForceLock
			return Advance
		}
		h.DisableStage = DisableHandlePoweronRecv
		return Advance

	case DisableHandlePoweronRecv:
		arb := e.oob[h.Hostname]
		if _, status := arb.Recv(); status == bmc.RecvRetry {
			return Wait
		}
		h.DisableStage = DisableHandleForceLock
		return Advance

	case DisableHandleForceLock:
		if h.Action != types.ActionForceLock {
			h.DisableStage = DisableTaskStateUpdate
			return Advance
		}
		// Reset progression: in-band reboot plus out-of-band reset when
		// available, then wait for offline before committing the lock.
		e.sendMtcCmdAll(h, CmdReboot)
		if arb, ok := e.oob[h.Hostname]; ok && arb.Accessible() && arb.Done() {
			_ = arb.Send(h, bmc.Command{Op: bmc.OpPowerReset})
		}
		h.Timers.Arm(timers.OfflineTimer, e.cfg.Timeout.ResetOffline)
		h.DisableStage = DisableResetHostWait
		return Advance

	case DisableResetHostWait:
		if h.Triad.Avail == types.AvailOffline || !h.MtcAliveOnline {
			h.Timers.Cancel(timers.OfflineTimer)
			h.DisableStage = DisableTaskStateUpdate
			return Advance
		}
		if h.Timers.Drain(timers.OfflineTimer) {
			e.lg.Warn().Str("hostname", h.Hostname).Msg("force-lock: offline wait timed out; committing lock anyway")
			h.DisableStage = DisableTaskStateUpdate
			return Advance
		}
		return Wait

	case DisableTaskStateUpdate:
		h.Triad.Admin = types.AdminLocked
		h.Triad.Oper = types.OperDisabled
		if h.MtcAliveOnline {
			h.Triad.Avail = types.AvailOnline
		} else {
			h.Triad.Avail = types.AvailOffline
		}
		e.writeFlagFile(constants.NodeLockedFile)
		if h.Action == types.ActionForceLock {
			e.writeFlagFile(constants.NodeLockedFileBackup)
		}
		e.persistLockState(h, h.Action == types.ActionForceLock)
		e.raiseAlarm(h, constants.AlarmIDLocked, constants.SeverityWarning)
		e.clearAlarm(h, constants.AlarmIDEnable)
		h.EnqueueWork("state-update", map[string]string{"admin": string(h.Triad.Admin)})
		e.setTask(ctx, h, "")
		h.DisableStage = DisableWorkQueueWait
		return Advance

	case DisableWorkQueueWait:
		if _, ok := h.CompleteHeadWork(); !ok {
			e.lg.Error().Str("hostname", h.Hostname).Msg("disable: work queue empty at WORKQUEUE_WAIT")
		}
		h.DisableStage = DisableDisabled
		return Advance

	case DisableDisabled:
		e.reportState(ctx, h)
		e.publish(events.EventHostLocked, h, "")
		e.publish(events.EventHostDisabled, h, "")
		return Complete

	default:
		e.lg.Error().Str("hostname", h.Hostname).Int("stage", int(h.DisableStage)).Msg("disable: invalid stage; forcing terminal")
		h.DisableStage = DisableTaskStateUpdate
		return Advance
	}
}
