package bmc

import (
	"context"
	"fmt"
	"time"

	"github.com/cgts/mtce/pkg/constants"
	"github.com/cgts/mtce/pkg/errclass"
	"github.com/cgts/mtce/pkg/secretstore"
	"github.com/cgts/mtce/pkg/types"
)

// Pinger abstracts the continuous reachability check so the arbiter
// does not depend on a concrete ICMP implementation (out of scope per
// scope here — a raw-socket pinger would need CAP_NET_RAW this
// analogous exclusion; a raw-socket pinger would need CAP_NET_RAW this
// exercise cannot assume).
type Pinger interface {
	Ping(ctx context.Context, ip string) (bool, error)
}

// Stage is the per-host BMC sub-state machine stage, independent of
// whatever action handler is currently running against the host.
type Stage int

const (
	StagePingMonitor Stage = iota
	StageSecretFetch
	StageProtocolDiscovery
	StageInfoAcquisition
	StageAccessible
	StageAccessLoss
)

// Arbiter owns one host's BMC sub-state machine: ping monitoring,
// lazy secret fetch, protocol discovery, info acquisition, access-loss
// handling and periodic Redfish audit.
type Arbiter struct {
	Hostname string
	Stage    Stage

	pinger  Pinger
	secrets *secretstore.Client
	ipmi    *IPMIClient
	redfish *RedfishClient
	worker  *Worker

	AccessAlarmTimeout time.Duration
	AuditPeriod        time.Duration // 0 disables

	accessLossAt   time.Time
	alarmRaised    bool
	lastAuditAt    time.Time
	secretCacheTTL time.Duration
}

// NewArbiter creates an Arbiter for hostname.
func NewArbiter(hostname string, pinger Pinger, secrets *secretstore.Client, accessAlarmTimeout, auditPeriod time.Duration) *Arbiter {
	ipmi := NewIPMIClient("")
	redfish := NewRedfishClient(0)
	return &Arbiter{
		Hostname:           hostname,
		Stage:              StagePingMonitor,
		pinger:             pinger,
		secrets:            secrets,
		ipmi:               ipmi,
		redfish:            redfish,
		worker:             NewWorker(hostname, redfish, ExtraInfo{}),
		AccessAlarmTimeout: accessAlarmTimeout,
		AuditPeriod:        auditPeriod,
		secretCacheTTL:     1 * time.Hour,
	}
}

// AccessEvent is what the caller should act on after one Tick.
type AccessEvent int

const (
	AccessEventNone AccessEvent = iota
	AccessEventGained
	AccessEventLost
	AccessEventAlarmRaise
	AccessEventAlarmClear
)

// Tick advances the arbiter's sub-state machine by one step, given the
// host's current BMC provisioning detail. It never blocks: secret
// fetch and protocol probes are dispatched to the worker and polled,
// matching the engine's non-blocking suspension model.
func (a *Arbiter) Tick(ctx context.Context, host *types.HostRecord, now time.Time) (AccessEvent, error) {
	if host.BMC.IP == nil || host.BMC.IP.IsUnspecified() {
		return AccessEventNone, nil
	}

	switch a.Stage {
	case StagePingMonitor:
		return a.tickPing(ctx, host)

	case StageSecretFetch:
		return a.tickSecretFetch(ctx, host, now)

	case StageProtocolDiscovery:
		return a.tickProtocolDiscovery(ctx, host)

	case StageInfoAcquisition:
		return a.tickInfoAcquisition(ctx, host)

	case StageAccessible:
		return a.tickAccessible(ctx, host, now)

	case StageAccessLoss:
		return a.tickAccessLoss(ctx, host, now)

	default:
		return AccessEventNone, fmt.Errorf("bmc: arbiter %s: invalid stage %d", a.Hostname, a.Stage)
	}
}

func (a *Arbiter) tickPing(ctx context.Context, host *types.HostRecord) (AccessEvent, error) {
	ok, err := a.pinger.Ping(ctx, host.BMC.IP.String())
	if err != nil || !ok {
		return AccessEventNone, nil
	}
	a.Stage = StageSecretFetch
	return AccessEventNone, nil
}

func (a *Arbiter) tickSecretFetch(ctx context.Context, host *types.HostRecord, now time.Time) (AccessEvent, error) {
	if secret, ok := host.BMC.SecretCache(a.secretCacheTTL, now); ok && secret != "" {
		a.Stage = StageProtocolDiscovery
		return AccessEventNone, nil
	}
	secret, err := a.secrets.FetchSecret(ctx, host.BMC.SecretRef)
	if err != nil {
		return AccessEventNone, errclass.New(errclass.RemoteUnavailable, "bmc.fetchSecret", err)
	}
	host.BMC.SetSecretCache(secret, now)
	a.Stage = StageProtocolDiscovery
	return AccessEventNone, nil
}

func (a *Arbiter) extraInfo(host *types.HostRecord, now time.Time) ExtraInfo {
	secret, _ := host.BMC.SecretCache(a.secretCacheTTL, now)
	return ExtraInfo{IP: host.BMC.IP.String(), Username: host.BMC.Username, Secret: secret}
}

func (a *Arbiter) tickProtocolDiscovery(ctx context.Context, host *types.HostRecord) (AccessEvent, error) {
	if host.BMC.Protocol != string(constants.BMCProtocolDynamic) {
		a.Stage = StageInfoAcquisition
		return AccessEventNone, nil
	}

	version, err := a.redfish.ProbeRoot(ctx, "https://"+host.BMC.IP.String())
	if err == nil && version >= constants.RedfishMinVersion {
		host.BMC.Protocol = string(constants.BMCProtocolRedfish)
		host.BMC.Info.Firmware = version
		a.worker = NewWorker(a.Hostname, a.redfish, ExtraInfo{})
	} else {
		host.BMC.Protocol = string(constants.BMCProtocolIPMI)
		a.worker = NewWorker(a.Hostname, a.ipmi, ExtraInfo{})
	}
	a.Stage = StageInfoAcquisition
	return AccessEventNone, nil
}

func (a *Arbiter) tickInfoAcquisition(ctx context.Context, host *types.HostRecord) (AccessEvent, error) {
	extra := a.extraInfo(host, time.Now())
	a.worker.SetExtraInfo(extra)

	if a.worker.Done() {
		if err := a.worker.Send(Command{Op: OpBMCInfo}); err != nil {
			return AccessEventNone, err
		}
		return AccessEventNone, nil
	}

	res, status := a.worker.Recv()
	switch status {
	case RecvRetry:
		return AccessEventNone, nil
	case RecvError:
		return AccessEventNone, nil
	default:
		host.BMC.Info = res.Info.toTypes()
		host.BMC.Accessible = true
		a.Stage = StageAccessible
		return AccessEventGained, nil
	}
}

// toTypes flattens the protocol-level Info into the Host Record's
// learned-info struct.
func (i Info) toTypes() types.BMCInfo {
	return types.BMCInfo{
		Firmware:         i.Firmware,
		PowerState:       i.PowerState,
		SupportedResets:  i.SupportedResets,
		SupportedPower:   i.SupportedPower,
		LastRestartCause: i.LastRestartCause,
	}
}

func (a *Arbiter) tickAccessible(ctx context.Context, host *types.HostRecord, now time.Time) (AccessEvent, error) {
	ok, err := a.pinger.Ping(ctx, host.BMC.IP.String())
	if err != nil || !ok {
		host.BMC.Accessible = false
		a.accessLossAt = now
		a.worker.Kill()
		host.BMC.Info = types.BMCInfo{}
		a.Stage = StageAccessLoss
		return AccessEventLost, nil
	}

	if host.BMC.Protocol == string(constants.BMCProtocolRedfish) && a.AuditPeriod > 0 {
		if a.lastAuditAt.IsZero() || now.Sub(a.lastAuditAt) >= a.AuditPeriod {
			a.lastAuditAt = now
			if a.worker.Done() {
				_ = a.worker.Send(Command{Op: OpBMCInfo})
			} else if res, status := a.worker.Recv(); status == RecvPass {
				host.BMC.Info.PowerState = res.Info.PowerState
			}
		}
	}
	return AccessEventNone, nil
}

// Accessible reports whether the arbiter has completed info
// acquisition and the BMC is currently reachable: bmc_accessible is
// declared only after info acquisition completes.
func (a *Arbiter) Accessible() bool {
	return a.Stage == StageAccessible
}

// Send dispatches one out-of-band command through the per-host worker,
// refreshing the worker's extra-info from the host's cached secret
// first. The FSMs that issue commands must poll Recv for completion.
func (a *Arbiter) Send(host *types.HostRecord, cmd Command) error {
	a.worker.SetExtraInfo(a.extraInfo(host, time.Now()))
	return a.worker.Send(cmd)
}

// Recv polls the in-flight command; RecvRetry until the worker is done.
func (a *Arbiter) Recv() (Result, RecvStatus) {
	return a.worker.Recv()
}

// Done reports whether the worker is idle.
func (a *Arbiter) Done() bool {
	return a.worker.Done()
}

// KillWorker drives up to maxAttempts kill/recv cycles against the
// in-flight command, used by the Delete handler.
func (a *Arbiter) KillWorker(maxAttempts int) bool {
	return a.worker.KillAndWait(maxAttempts)
}

func (a *Arbiter) tickAccessLoss(ctx context.Context, host *types.HostRecord, now time.Time) (AccessEvent, error) {
	ok, err := a.pinger.Ping(ctx, host.BMC.IP.String())
	if err == nil && ok {
		a.Stage = StageSecretFetch
		if a.alarmRaised {
			a.alarmRaised = false
			return AccessEventAlarmClear, nil
		}
		return AccessEventNone, nil
	}

	if !a.alarmRaised && now.Sub(a.accessLossAt) >= a.AccessAlarmTimeout {
		a.alarmRaised = true
		return AccessEventAlarmRaise, nil
	}
	return AccessEventNone, nil
}
