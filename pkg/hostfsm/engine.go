package hostfsm

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/cgts/mtce/pkg/alarmqueue"
	"github.com/cgts/mtce/pkg/autorecovery"
	"github.com/cgts/mtce/pkg/bmc"
	"github.com/cgts/mtce/pkg/cluster"
	"github.com/cgts/mtce/pkg/config"
	"github.com/cgts/mtce/pkg/constants"
	"github.com/cgts/mtce/pkg/events"
	"github.com/cgts/mtce/pkg/heartbeat"
	"github.com/cgts/mtce/pkg/invclient"
	"github.com/cgts/mtce/pkg/log"
	"github.com/cgts/mtce/pkg/metrics"
	"github.com/cgts/mtce/pkg/persist"
	"github.com/cgts/mtce/pkg/smclient"
	"github.com/cgts/mtce/pkg/types"

	"github.com/google/uuid"
)

// Inventory is the engine's view of the inventory REST client; the
// wire layout behind it is out of scope.
type Inventory interface {
	UpdateTask(ctx context.Context, u invclient.TaskUpdate) error
}

// ServiceManager is the engine's view of the HA service manager client
// used by the Swact handler.
type ServiceManager interface {
	Query(ctx context.Context) (smclient.QueryResult, error)
	RequestSwact(ctx context.Context, fromController string) error
	PollSwact(ctx context.Context) (smclient.PollResult, error)
}

// HeartbeatControl is the engine's handle on the pulse agent: host
// registration and per-host monitoring on/off, used by the enable,
// recovery, swact, add and delete handlers.
type HeartbeatControl interface {
	RegisterHost(hostname string)
	UnregisterHost(hostname string)
	SetMonitoring(hostname string, on bool)
}

// CommandSender delivers one mtc-command datagram to a host on one
// network. The wiring layer implements this over pkg/msgplane; tests
// record the sends.
type CommandSender interface {
	SendCommand(host *types.HostRecord, iface types.Iface, msg MtcCommandMsg) error
}

// OOB is the per-host BMC access handle, satisfied by *bmc.Arbiter.
type OOB interface {
	Tick(ctx context.Context, host *types.HostRecord, now time.Time) (bmc.AccessEvent, error)
	Accessible() bool
	Send(host *types.HostRecord, cmd bmc.Command) error
	Recv() (bmc.Result, bmc.RecvStatus)
	Done() bool
	KillWorker(maxAttempts int) bool
}

// Deps bundles the engine's external collaborators. Vault may be nil
// on a non-active controller; OOBFactory may be nil when no
// host has a provisioned BMC (tests).
type Deps struct {
	Inventory  Inventory
	SM         ServiceManager
	Heartbeat  HeartbeatControl
	Sender     CommandSender
	Fault      alarmqueue.FaultClient
	Broker     *events.Broker
	Vault      *cluster.Vault
	Persist    *persist.Store
	OOBFactory func(hostname string) OOB
}

// Engine is the single-writer Host Maintenance FSM Engine: it owns
// every Host Record, advances exactly one action
// handler per host per tick, and runs the always-on handlers. All
// methods must be called from the one goroutine driving Run/Tick.
type Engine struct {
	cfg *config.Config
	lg  zerolog.Logger

	hosts map[string]*types.HostRecord
	order []string // stable insertion order

	oob map[string]OOB
	pxe map[string]*heartbeat.PxebootMonitor

	inv    Inventory
	sm     ServiceManager
	hb     HeartbeatControl
	sender CommandSender
	fault  alarmqueue.FaultClient
	broker *events.Broker
	vault  *cluster.Vault

	alarms *alarmqueue.Queue
	arCfg  autorecovery.Thresholds
	store  *persist.Store

	oobFactory func(hostname string) OOB

	localHostname string
	wake          chan struct{}
}

// New creates an Engine from cfg and deps.
func New(cfg *config.Config, deps Deps) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	e := &Engine{
		cfg:           cfg,
		lg:            log.WithComponent("hostfsm"),
		hosts:         make(map[string]*types.HostRecord),
		oob:           make(map[string]OOB),
		pxe:           make(map[string]*heartbeat.PxebootMonitor),
		inv:           deps.Inventory,
		sm:            deps.SM,
		hb:            deps.Heartbeat,
		sender:        deps.Sender,
		fault:         deps.Fault,
		broker:        deps.Broker,
		vault:         deps.Vault,
		alarms:        alarmqueue.New(cfg.AlarmQ.Cap, cfg.AlarmQ.RetryHoldoff),
		store:         deps.Persist,
		oobFactory:    deps.OOBFactory,
		localHostname: cfg.Hostname,
		wake:          make(chan struct{}, 1),
	}
	e.arCfg = autorecovery.Thresholds{
		Threshold: map[types.ARCause]int{
			types.ARCauseConfig:       cfg.AR.ConfigThreshold,
			types.ARCauseGoEnable:     cfg.AR.GoEnableThreshold,
			types.ARCauseHostServices: cfg.AR.HostServicesThreshold,
			types.ARCauseHeartbeat:    cfg.AR.HeartbeatThreshold,
			types.ARCauseLUKS:         cfg.AR.LUKSThreshold,
		},
		Interval: map[types.ARCause]time.Duration{
			types.ARCauseConfig:       cfg.AR.Interval,
			types.ARCauseGoEnable:     cfg.AR.Interval,
			types.ARCauseHostServices: cfg.AR.Interval,
			types.ARCauseHeartbeat:    cfg.AR.Interval,
			types.ARCauseLUKS:         cfg.AR.Interval,
		},
	}
	return e
}

// Host returns the record for hostname, or nil. The returned pointer
// is engine-owned; callers outside the engine goroutine must copy.
func (e *Engine) Host(hostname string) *types.HostRecord {
	return e.hosts[hostname]
}

// Hosts returns every record in stable insertion order.
func (e *Engine) Hosts() []*types.HostRecord {
	out := make([]*types.HostRecord, 0, len(e.order))
	for _, name := range e.order {
		out = append(out, e.hosts[name])
	}
	return out
}

// AddHost creates (or finds) the record for hostname and starts the
// Add handler. Two consecutive adds for the same host are equivalent
// to one.
func (e *Engine) AddHost(hostname string, id uuid.UUID, nodeType types.NodeTypeBit) *types.HostRecord {
	if h, ok := e.hosts[hostname]; ok {
		return h
	}
	h := types.NewHostRecord(hostname, id, nodeType)
	h.IsLocalHost = hostname == e.localHostname
	e.hosts[hostname] = h
	e.order = append(e.order, hostname)
	if e.oobFactory != nil {
		e.oob[hostname] = e.oobFactory(hostname)
	}
	e.pxe[hostname] = heartbeat.NewPxebootMonitor(
		pxebootLossThreshold, pxebootLossAlarmThreshold, pxebootRecoveryThreshold)
	e.setActionInternal(h, types.ActionAdd)
	e.publish(events.EventHostAdded, h, "")
	return h
}

// SetAction requests an action on hostname. A user request while
// another action is in flight is rejected; an auto-recovery request is
// silently coalesced.
func (e *Engine) SetAction(hostname string, action types.Action, user bool) error {
	h, ok := e.hosts[hostname]
	if !ok {
		return fmt.Errorf("hostfsm: no such host %q", hostname)
	}
	if h.Action != types.ActionNone && h.Action != action {
		if user {
			return fmt.Errorf("hostfsm: %s: action %s already in progress", hostname, h.Action)
		}
		return nil // coalesce
	}
	if h.Action == action {
		return nil
	}
	// Explicit operator action re-enables a host latched by
	// auto-recovery.
	if user && h.AR.Disabled {
		autorecovery.Enable(h)
	}
	e.setActionInternal(h, action)
	return nil
}

// setActionInternal sets action and resets its stage cursor to START.
func (e *Engine) setActionInternal(h *types.HostRecord, action types.Action) {
	h.Action = action
	h.ActionStartedAt = time.Now()
	switch action {
	case types.ActionEnable, types.ActionUnlock, types.ActionEnableSubf:
		h.EnableStage = EnableStart
	case types.ActionRecover:
		h.RecoveryStage = RecoverStart
	case types.ActionLock, types.ActionForceLock:
		h.DisableStage = DisableStart
	case types.ActionReset:
		h.ResetStage = ResetStart
	case types.ActionReinstall:
		h.ReinstallStage = ReinstallStart
	case types.ActionPowerOn, types.ActionPowerOff:
		h.PowerStage = PowerStart
	case types.ActionPowerCycle:
		h.PowerCycleStage = PowerCycleStart
	case types.ActionSwact:
		h.SwactStage = SwactStart
	case types.ActionAdd:
		h.AddStage = AddStart
	case types.ActionDelete:
		h.DelStage = DelStart
	}
	e.publish(events.EventActionStarted, h, string(action))
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// OnMtcAlive applies one inbound mtcAlive message received on
// iface: sequence counters, liveness, health and
// oob flag-set, plus a peer cluster payload when one is present.
func (e *Engine) OnMtcAlive(iface types.Iface, msg MtcAliveMsg, peerView []cluster.HistorySnapshot, now time.Time) {
	h, ok := e.hosts[msg.Hostname]
	if !ok {
		e.lg.Debug().Str("hostname", msg.Hostname).Msg("mtcAlive from unknown host dropped")
		return
	}
	lv := h.Liveness[iface]
	if lv == nil {
		return
	}

	// Sequence regression is a client restart, not loss. The pxeboot
	// channel runs its own always-on monitor; the other networks get
	// the simple regression check.
	if iface == types.IfacePxeboot {
		if m := e.pxe[msg.Hostname]; m != nil {
			switch m.OnSequence(msg.Seq) {
			case heartbeat.TransitionRequestImmediate:
				e.sendMtcCmd(h, iface, CmdRequestMtcAlive)
			case heartbeat.TransitionAlarmClear:
				e.clearAlarm(h, constants.AlarmIDPxebootMtcAlive)
			}
		}
	} else if msg.Seq < lv.MtcAliveSeqLast {
		e.sendMtcCmd(h, iface, CmdRequestMtcAlive)
	}
	lv.MtcAliveSeqLast = msg.Seq
	lv.LastSeen = now

	h.Uptime = msg.Uptime
	h.Health = msg.Health
	h.OOB = msg.OOB
	h.MtcAliveOnline = true

	if msg.OOB.SMDegraded {
		h.Degrade.Set(types.DegradeSM)
	} else {
		h.Degrade.Clear(types.DegradeSM)
	}

	if e.vault != nil {
		for _, s := range peerView {
			if err := e.vault.MergeSnapshot(s); err != nil {
				e.lg.Debug().Err(err).Msg("peer cluster payload rejected")
			}
		}
	}
}

// OnCommandAck records a client's acknowledgment of a previously sent
// mtc-command (reboot/reset ACKs abort DOR backup resets; wipedisk
// ACKs advance the reinstall handler).
func (e *Engine) OnCommandAck(hostname string, iface types.Iface, cmd CommandCode) {
	h, ok := e.hosts[hostname]
	if !ok {
		return
	}
	switch cmd {
	case CmdReboot, CmdReset, CmdLazyReboot:
		if lv := h.Liveness[iface]; lv != nil {
			lv.RebootAcked = true
		}
	case CmdWipeDisk:
		h.WipeAcked = true
	}
}

// OnGoEnabledResult records a goenabled self-test outcome for hostname
// (main function, or the subfunction on combined-role controllers).
func (e *Engine) OnGoEnabledResult(hostname string, subfunction bool, pass bool) {
	h, ok := e.hosts[hostname]
	if !ok {
		return
	}
	result := types.TestFail
	if pass {
		result = types.TestPass
	}
	if subfunction {
		h.SubfGoEnabledResult = result
	} else {
		h.GoEnabledResult = result
	}
}

// OnHeartbeatMiss applies one threshold crossing reported by the pulse
// agent's period close.
func (e *Engine) OnHeartbeatMiss(hostname string, iface types.Iface, level heartbeat.MissLevel) {
	h, ok := e.hosts[hostname]
	if !ok {
		return
	}
	lv := h.Liveness[iface]
	alarmID := heartbeatAlarmID(iface)

	switch level {
	case heartbeat.MissNone:
		return
	case heartbeat.MissMinor:
		metrics.HeartbeatMissesTotal.WithLabelValues(string(iface)).Inc()
		e.raiseAlarm(h, alarmID, constants.SeverityMinor)
	case heartbeat.MissMajor:
		e.raiseAlarm(h, alarmID, constants.SeverityMajor)
		h.Degrade.Set(types.DegradeHeartbeat)
		h.RecomputeAvailability()
	default: // fail
		metrics.HeartbeatFailuresTotal.WithLabelValues(string(iface)).Inc()
		if lv != nil {
			lv.Failed = true
			lv.LossCount = clampLoss(lv.LossCount + 1)
		}
		switch e.cfg.Heartbeat.FailureAction {
		case "none":
			return
		case "alarm":
			e.raiseAlarm(h, alarmID, constants.SeverityCritical)
		case "degrade":
			e.raiseAlarm(h, alarmID, constants.SeverityCritical)
			h.Degrade.Set(types.DegradeHeartbeat)
			h.RecomputeAvailability()
		default: // fail
			e.raiseAlarm(h, alarmID, constants.SeverityCritical)
			if h.Triad.Admin == types.AdminUnlocked && h.Triad.Oper == types.OperEnabled {
				h.Triad.Oper = types.OperDisabled
				h.Triad.Avail = types.AvailFailed
				e.raiseAlarm(h, constants.AlarmIDEnable, constants.SeverityCritical)
				e.publish(events.EventHostFailed, h, "heartbeat loss")
				e.reportState(context.Background(), h)
				_ = e.SetAction(hostname, types.ActionRecover, false)
			}
		}
	}
}

// OnHeartbeatRestored clears per-interface minor/major alarms once a
// previously-missing host responds again: the next successful period
// clears the minor.
func (e *Engine) OnHeartbeatRestored(hostname string, iface types.Iface) {
	h, ok := e.hosts[hostname]
	if !ok {
		return
	}
	e.clearAlarm(h, heartbeatAlarmID(iface))
	h.Degrade.Clear(types.DegradeHeartbeat)
	h.RecomputeAvailability()
	if lv := h.Liveness[iface]; lv != nil {
		lv.MissCount = 0
	}
}

func heartbeatAlarmID(iface types.Iface) string {
	if iface == types.IfaceCluster {
		return constants.AlarmIDHeartbeatCluster
	}
	return constants.AlarmIDHeartbeatMgmt
}

// clampLoss saturates a loss counter at the loss-alarm threshold. The
// source clamps in more than one place; this is the single consolidated
// clamp.
func clampLoss(n int) int {
	const lossAlarmThreshold = 10
	if n > lossAlarmThreshold {
		return lossAlarmThreshold
	}
	return n
}

// Tick advances every host by one cooperative step: timers are polled,
// the always-on handlers run, then the action handler selected by the
// host's current action.
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	var deleted []string

	for _, hostname := range e.order {
		h := e.hosts[hostname]
		h.Timers.Poll(now)

		e.alwaysOnTick(ctx, h, now)

		prev := h.Action
		var r TickResult
		switch h.Action {
		case types.ActionNone:
			continue
		case types.ActionEnable, types.ActionUnlock, types.ActionEnableSubf:
			r = e.enableHandler(ctx, h, now)
		case types.ActionRecover:
			r = e.recoverHandler(ctx, h, now)
		case types.ActionLock, types.ActionForceLock:
			r = e.disableHandler(ctx, h, now)
		case types.ActionReset:
			r = e.resetHandler(ctx, h, now)
		case types.ActionReinstall:
			r = e.reinstallHandler(ctx, h, now)
		case types.ActionPowerOn, types.ActionPowerOff:
			r = e.powerHandler(ctx, h, now)
		case types.ActionPowerCycle:
			r = e.powerCycleHandler(ctx, h, now)
		case types.ActionSwact:
			r = e.swactHandler(ctx, h, now)
		case types.ActionAdd:
			r = e.addHandler(ctx, h, now)
		case types.ActionDelete:
			r = e.deleteHandler(ctx, h, now)
		default:
			// Fatal/programming tier: log, force safe state.
			e.lg.Error().Str("hostname", hostname).Str("action", string(h.Action)).Msg("invalid action; forcing none")
			h.Action = types.ActionNone
			continue
		}

		switch r {
		case Complete:
			metrics.HostActionsTotal.WithLabelValues(string(prev), "complete").Inc()
			metrics.HostActionDuration.WithLabelValues(string(prev)).Observe(now.Sub(h.ActionStartedAt).Seconds())
			e.publish(events.EventActionCompleted, h, string(prev))
			if prev == types.ActionDelete {
				deleted = append(deleted, hostname)
			}
			if h.Action == prev { // handler did not chain a follow-up action
				h.Action = types.ActionNone
			}
		case Fail:
			metrics.HostActionsTotal.WithLabelValues(string(prev), "fail").Inc()
			e.publish(events.EventActionFailed, h, string(prev))
			if h.Action == prev {
				h.Action = types.ActionNone
			}
		}
	}

	for _, hostname := range deleted {
		e.removeHost(hostname)
	}

	e.drainAlarms(now)
}

func (e *Engine) removeHost(hostname string) {
	h, ok := e.hosts[hostname]
	if !ok {
		return
	}
	h.Timers.CancelAll()
	delete(e.hosts, hostname)
	delete(e.oob, hostname)
	delete(e.pxe, hostname)
	for i, name := range e.order {
		if name == hostname {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	e.publish(events.EventHostDeleted, h, "")
}

func (e *Engine) drainAlarms(now time.Time) {
	// Bounded drain: at most a handful of deliveries per tick so a deep
	// queue cannot starve the FSMs.
	for i := 0; i < 8; i++ {
		outcome := e.alarms.Drain(e.fault, now)
		switch outcome {
		case alarmqueue.OutcomeEmpty, alarmqueue.OutcomeRetryHeld:
			return
		case alarmqueue.OutcomeDroppedInvalid:
			metrics.AlarmQueueDropsTotal.WithLabelValues("invalid").Inc()
		}
	}
}

// Run drives the engine loop: a short-capped ticker (≤100ms) plus
// the internal wake channel.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	e.lg.Info().Int("hosts", len(e.hosts)).Msg("host FSM engine running")
	for {
		select {
		case <-ctx.Done():
			e.lg.Info().Msg("host FSM engine stopping")
			return ctx.Err()
		case <-ticker.C:
			e.Tick(ctx, time.Now())
		case <-e.wake:
			e.Tick(ctx, time.Now())
		}
	}
}

// MetricsSnapshot implements metrics.SnapshotProvider.
func (e *Engine) MetricsSnapshot() metrics.Snapshot {
	snap := metrics.Snapshot{
		AvailCounts:   make(map[string]int),
		AlarmQueueLen: e.alarms.Len(),
	}
	for _, h := range e.hosts {
		snap.AvailCounts[string(h.Triad.Avail)]++
		if h.BMC.Accessible {
			snap.BMCAccessible++
		}
	}
	return snap
}

// sendMtcCmd sends one mtc-command to a host on iface, best-effort.
func (e *Engine) sendMtcCmd(h *types.HostRecord, iface types.Iface, cmd CommandCode, params ...int64) {
	if e.sender == nil {
		return
	}
	msg := MtcCommandMsg{Hostname: h.Hostname, Service: "mtcClient", Command: cmd, Params: params}
	if err := e.sender.SendCommand(h, iface, msg); err != nil {
		e.lg.Debug().Err(err).Str("hostname", h.Hostname).Str("cmd", string(cmd)).Msg("mtc command send failed")
	}
}

// sendMtcCmdAll sends cmd on management and cluster-host.
func (e *Engine) sendMtcCmdAll(h *types.HostRecord, cmd CommandCode, params ...int64) {
	e.sendMtcCmd(h, types.IfaceMgmt, cmd, params...)
	if h.ClusterIP != nil {
		e.sendMtcCmd(h, types.IfaceCluster, cmd, params...)
	}
}

// reportState pushes the host's triad and task string to inventory.
// Failures surface as state transitions and alarms, never as engine
// errors.
func (e *Engine) reportState(ctx context.Context, h *types.HostRecord) {
	if e.inv == nil {
		return
	}
	err := e.inv.UpdateTask(ctx, invclient.TaskUpdate{
		Hostname: h.Hostname,
		Task:     h.TaskString,
		Admin:    string(h.Triad.Admin),
		Oper:     string(h.Triad.Oper),
		Avail:    string(h.Triad.Avail),
	})
	if err != nil {
		e.lg.Warn().Err(err).Str("hostname", h.Hostname).Msg("inventory state update failed")
	}
}

func (e *Engine) setTask(ctx context.Context, h *types.HostRecord, task string) {
	if h.TaskString == task {
		return
	}
	h.TaskString = task
	e.reportState(ctx, h)
}

func (e *Engine) publish(t events.EventType, h *types.HostRecord, msg string) {
	if e.broker == nil {
		return
	}
	e.broker.Publish(&events.Event{Type: t, Hostname: h.Hostname, Message: msg})
}

// mtcAliveTimeout is node-type dependent.
func (e *Engine) mtcAliveTimeout(h *types.HostRecord) time.Duration {
	if h.NodeType.Has(types.NodeTypeController) {
		return e.cfg.Heartbeat.MtcAliveTimeoutController
	}
	return e.cfg.Heartbeat.MtcAliveTimeoutCompute
}

// writeFlagFile creates one of the well-known flag files, best-effort:
// flag-file state is advisory and an unwritable path must not wedge a
// handler.
func (e *Engine) writeFlagFile(path string) {
	if err := os.WriteFile(path, []byte{}, 0o644); err != nil {
		e.lg.Debug().Err(err).Str("path", path).Msg("flag file write failed")
	}
}

func (e *Engine) removeFlagFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		e.lg.Debug().Err(err).Str("path", path).Msg("flag file remove failed")
	}
}

// persistLockState mirrors the administrative state into the
// crash-recovery cache, alongside the NODE_LOCKED flag files.
func (e *Engine) persistLockState(h *types.HostRecord, persistFlag bool) {
	if e.store == nil {
		return
	}
	err := e.store.PutLockState(persist.LockState{
		Hostname: h.Hostname,
		Locked:   h.Triad.Admin == types.AdminLocked,
		Persist:  persistFlag,
	})
	if err != nil {
		e.lg.Warn().Err(err).Str("hostname", h.Hostname).Msg("lock state persist failed")
	}
}

// persistARState mirrors the auto-recovery counters and latch for one
// cause into the crash-recovery cache.
func (e *Engine) persistARState(h *types.HostRecord, cause types.ARCause) {
	if e.store == nil {
		return
	}
	err := e.store.PutARCache(persist.ARCacheEntry{
		Hostname: h.Hostname,
		Cause:    string(cause),
		Count:    h.AR.Count[cause],
		Disabled: h.AR.Disabled,
		TaskStr:  h.AR.TaskString,
	})
	if err != nil {
		e.lg.Warn().Err(err).Str("hostname", h.Hostname).Msg("auto-recovery persist failed")
	}
}

// persistBMCState mirrors the learned protocol selection and power
// state into the crash-recovery cache.
func (e *Engine) persistBMCState(h *types.HostRecord) {
	if e.store == nil {
		return
	}
	err := e.store.PutBMCCache(persist.BMCCacheEntry{
		Hostname:   h.Hostname,
		Protocol:   h.BMC.Protocol,
		PowerState: h.BMC.Info.PowerState,
	})
	if err != nil {
		e.lg.Warn().Err(err).Str("hostname", h.Hostname).Msg("bmc cache persist failed")
	}
}

// standbyAvailable reports whether some other controller is
// unlocked-enabled, used by the active-controller self-failure rule.
func (e *Engine) standbyAvailable(self *types.HostRecord) bool {
	for _, name := range e.order {
		h := e.hosts[name]
		if h == self || !h.NodeType.Has(types.NodeTypeController) {
			continue
		}
		if h.Triad.Admin == types.AdminUnlocked && h.Triad.Oper == types.OperEnabled {
			return true
		}
	}
	return false
}
