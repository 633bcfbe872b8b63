package hostfsm

import (
	"context"
	"time"

	"github.com/cgts/mtce/pkg/errclass"
	"github.com/cgts/mtce/pkg/timers"
	"github.com/cgts/mtce/pkg/types"
)

const swactMaxRetries = 3

// swactHandler drives a controlled active-role migration: query the
// service manager, request the swact, then poll for
// migration completion. The query and request steps each retry
// transient errors up to swactMaxRetries (the counter restarts between
// them) and have no receive timer of their own; only the poll step is
// bounded, by the swact timeout. A side effect of the swact request is stopping
// heartbeat of all unlocked-enabled peers, avoiding transient alarms
// during IPsec policy migration.
func (e *Engine) swactHandler(ctx context.Context, h *types.HostRecord, now time.Time) TickResult {
	if e.sm == nil {
		e.setTask(ctx, h, "Swact: Failed (no service manager)")
		return Fail
	}

	switch h.SwactStage {

	case SwactStart:
		if !h.NodeType.Has(types.NodeTypeController) {
			e.setTask(ctx, h, "Swact: Failed (not a controller)")
			return Fail
		}
		e.setTask(ctx, h, "Swact: Request")
		h.CmdRetryCount = 0
		h.SwactStage = SwactQuery
		return Advance

	case SwactQuery:
		res, err := e.sm.Query(ctx)
		if err != nil {
			if errclass.Is(err, errclass.Transient) || errclass.Is(err, errclass.RemoteUnavailable) {
				h.CmdRetryCount++
				if h.CmdRetryCount > swactMaxRetries {
					e.setTask(ctx, h, "Swact: Failed (query)")
					return Fail
				}
				return Wait
			}
			e.setTask(ctx, h, "Swact: Failed (query)")
			return Fail
		}
		if res.ActiveController != h.Hostname {
			e.setTask(ctx, h, "Swact: Failed (not the active controller)")
			return Fail
		}
		h.CmdRetryCount = 0
		h.SwactStage = SwactQueryRecv
		return Advance

	case SwactQueryRecv:
		h.SwactStage = SwactSend
		return Advance

	case SwactSend:
		if err := e.sm.RequestSwact(ctx, h.Hostname); err != nil {
			if errclass.Is(err, errclass.Transient) || errclass.Is(err, errclass.RemoteUnavailable) {
				h.CmdRetryCount++
				if h.CmdRetryCount > swactMaxRetries {
					e.setTask(ctx, h, "Swact: Failed (request)")
					return Fail
				}
				return Wait
			}
			e.setTask(ctx, h, "Swact: Failed (request)")
			return Fail
		}
		// Stop heartbeat of all unlocked-enabled peers for the duration
		// of the migration.
		if e.hb != nil {
			for _, name := range e.order {
				peer := e.hosts[name]
				if peer == h {
					continue
				}
				if peer.Triad.Admin == types.AdminUnlocked && peer.Triad.Oper == types.OperEnabled {
					e.hb.SetMonitoring(peer.Hostname, false)
				}
			}
		}
		e.setTask(ctx, h, "Swact: In-Progress")
		h.Timers.Arm(timers.MtcTimer, e.cfg.Timeout.Swact)
		h.SwactStage = SwactRecv
		return Advance

	case SwactRecv:
		h.SwactStage = SwactPoll
		return Advance

	case SwactPoll:
		res, err := e.sm.PollSwact(ctx)
		if err == nil && res.Complete {
			h.Timers.Cancel(timers.MtcTimer)
			h.IsActiveController = false
			h.SwactStage = SwactDone
			return Advance
		}
		if h.Timers.Drain(timers.MtcTimer) {
			e.setTask(ctx, h, "Swact: Failed (timeout)")
			e.resumePeerHeartbeat(h)
			return Fail
		}
		return Wait

	case SwactDone:
		e.setTask(ctx, h, "Swact: Completed")
		e.resumePeerHeartbeat(h)
		e.reportState(ctx, h)
		return Complete

	default:
		e.lg.Error().Str("hostname", h.Hostname).Int("stage", int(h.SwactStage)).Msg("swact: invalid stage")
		e.setTask(ctx, h, "Swact: Failed")
		return Fail
	}
}

// resumePeerHeartbeat restores monitoring of the unlocked-enabled
// peers whose heartbeat was stopped by SwactSend.
func (e *Engine) resumePeerHeartbeat(h *types.HostRecord) {
	if e.hb == nil {
		return
	}
	for _, name := range e.order {
		peer := e.hosts[name]
		if peer == h {
			continue
		}
		if peer.Triad.Admin == types.AdminUnlocked && peer.Triad.Oper == types.OperEnabled {
			e.hb.SetMonitoring(peer.Hostname, true)
		}
	}
}
