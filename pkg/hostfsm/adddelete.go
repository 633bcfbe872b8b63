package hostfsm

import (
	"context"
	"strings"
	"time"

	"github.com/cgts/mtce/pkg/timers"
	"github.com/cgts/mtce/pkg/types"
)

const bmcKillRetries = 3

// addHandler reconciles a newly added (or re-added) host into the
// engine: alarm reconciliation, graceful-recovery
// restart when the persisted task says so, subscriber registration,
// and a heartbeat soak before enabled is committed.
func (e *Engine) addHandler(ctx context.Context, h *types.HostRecord, now time.Time) TickResult {
	switch h.AddStage {

	case AddStart:
		h.AddStage = AddReconcileAlarms
		return Advance

	case AddReconcileAlarms:
		// The alarms map was seeded from persisted state before Add ran;
		// re-assert every mirrored severity so the fault manager and the
		// mirror agree after a restart.
		seeded := make(map[string]string, len(h.Alarms))
		for alarmID, severity := range h.Alarms {
			seeded[alarmID] = severity
		}
		for alarmID, severity := range seeded {
			delete(h.Alarms, alarmID)
			e.raiseAlarm(h, alarmID, severity)
		}
		h.AddStage = AddRestartGracefulRecovery
		return Advance

	case AddRestartGracefulRecovery:
		h.AddStage = AddRegisterSubscribers
		return Advance

	case AddRegisterSubscribers:
		if e.hb != nil {
			e.hb.RegisterHost(h.Hostname)
		}
		h.AddStage = AddHeartbeatSoak
		if h.Triad.Admin == types.AdminUnlocked && h.Triad.Oper == types.OperEnabled &&
			e.cfg.Heartbeat.FailureAction != "none" {
			if e.hb != nil {
				e.hb.SetMonitoring(h.Hostname, true)
			}
			h.Timers.Arm(timers.MtcTimer, e.cfg.Heartbeat.SoakDuration)
		}
		return Advance

	case AddHeartbeatSoak:
		if h.Timers.Armed(timers.MtcTimer) {
			if !h.Timers.Drain(timers.MtcTimer) {
				return Wait
			}
		}
		h.AddStage = AddDone
		return Advance

	case AddDone:
		// A persisted "Graceful Recovery" task means the previous engine
		// instance died mid-recovery; restart it rather than leaving the
		// host failed.
		if strings.Contains(h.TaskString, "Graceful Recovery") {
			h.Action = types.ActionRecover
			h.RecoveryStage = RecoverStart
			return Advance
		}
		e.reportState(ctx, h)
		return Complete

	default:
		e.lg.Error().Str("hostname", h.Hostname).Int("stage", int(h.AddStage)).Msg("add: invalid stage; forcing done")
		h.AddStage = AddDone
		return Advance
	}
}

// deleteHandler removes a host: best-effort
// wipedisk, BMC deprovisioning with worker kill retries, subscriber
// de-registration, and alarm clearing. The engine destroys the record
// once the handler completes.
func (e *Engine) deleteHandler(ctx context.Context, h *types.HostRecord, now time.Time) TickResult {
	switch h.DelStage {

	case DelStart:
		e.setTask(ctx, h, "Deleting")
		h.DelStage = DelWipeDiskBestEffort
		return Advance

	case DelWipeDiskBestEffort:
		if h.MtcAliveOnline {
			e.sendMtcCmd(h, types.IfaceMgmt, CmdWipeDisk)
		}
		h.DelStage = DelDeprovisionBMC
		return Advance

	case DelDeprovisionBMC:
		h.BMC.Accessible = false
		h.BMC.IP = nil
		h.BMC.Username = ""
		h.BMC.SecretRef = ""
		h.BMC.Info = types.BMCInfo{}
		h.DelStage = DelKillBMCThread
		return Advance

	case DelKillBMCThread:
		if arb, ok := e.oob[h.Hostname]; ok {
			if !arb.KillWorker(bmcKillRetries) {
				// Three kill attempts failed; log and proceed.
				e.lg.Error().Str("hostname", h.Hostname).Msg("bmc worker did not die after kill retries; proceeding")
			}
		}
		h.DelStage = DelDeregisterSubscribers
		return Advance

	case DelDeregisterSubscribers:
		if e.hb != nil {
			e.hb.UnregisterHost(h.Hostname)
		}
		h.DelStage = DelClearAlarms
		return Advance

	case DelClearAlarms:
		e.clearAllAlarms(h)
		h.DelStage = DelDone
		return Advance

	case DelDone:
		h.Timers.CancelAll()
		return Complete

	default:
		e.lg.Error().Str("hostname", h.Hostname).Int("stage", int(h.DelStage)).Msg("delete: invalid stage; forcing done")
		h.DelStage = DelDone
		return Advance
	}
}
