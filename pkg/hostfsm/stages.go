package hostfsm

import "github.com/cgts/mtce/pkg/types"

// Enable handler stages.
const (
	EnableStart types.Stage = iota
	EnableHeartbeatStopCmd
	EnableResetProgression
	EnableResetWait
	EnableIntestStart
	EnableMtcAlivePurge
	EnableMtcAliveWait
	EnableGoEnabledTimer
	EnableGoEnabledWait
	EnableHeartbeatWait
	EnableHeartbeatSoak
	EnableStateChange
	EnableWorkQueueWait
	EnableEnabled
	EnableFailure
	EnableFailureWait
	EnableFailureSwactWait
)

// Recover (graceful recovery) handler stages.
const (
	RecoverStart types.Stage = iota
	RecoverRetryWait
	RecoverReqMtcAlive
	RecoverReqMtcAliveWait
	RecoverMtcAliveTimer
	RecoverResetSendWait
	RecoverResetRecvWait
	RecoverMtcAliveWait
	RecoverGoEnabledTimer
	RecoverGoEnabledWait
	RecoverConfigCompleteWait
	RecoverSubfGoEnabledTimer
	RecoverSubfGoEnabledWait
	RecoverHeartbeatStart
	RecoverHeartbeatSoak
	RecoverStateChange
	RecoverWorkQueueWait
	RecoverEnable
)

// Disable handler stages.
const (
	DisableStart types.Stage = iota
	DisableServicesWait
	DisableHandlePoweronSend
	DisableHandlePoweronRecv
	DisableHandleForceLock
	DisableResetHostWait
	DisableTaskStateUpdate
	DisableWorkQueueWait
	DisableDisabled
)

// Reset handler stages.
const (
	ResetStart types.Stage = iota
	ResetReqSend
	ResetRespWait
	ResetOfflineWait
	ResetQueueRetry
	ResetDone
)

// Reinstall handler stages (covers both BMC-provisioned and
// BMC-absent paths; the stage names are shared, interpreted
// differently depending on host.BMC provisioning).
const (
	ReinstallStart types.Stage = iota
	ReinstallPowerOff
	ReinstallSetNetboot
	ReinstallWipeDiskSend
	ReinstallWipeDiskAck
	ReinstallPowerOn
	ReinstallOfflineWait
	ReinstallOnlineWait
	ReinstallDone
)

// Power handler stages: mirrored sub-FSMs for power-off and power-on.
const (
	PowerStart types.Stage = iota
	PowerOffSend
	PowerOffRecv
	PowerOffQuery
	PowerOffVerify
	PowerOnSend
	PowerOnRecv
	PowerOnQuery
	PowerOnVerify
	PowerDone
)

// PowerCycle handler stages.
const (
	PowerCycleStart types.Stage = iota
	PowerCycleOff
	PowerCycleOffCmndWait
	PowerCycleOffWait
	PowerCycleCoolOff
	PowerCycleOn
	PowerCycleOnVerify
	PowerCycleOnVerifyWait
	PowerCycleOnWait
	PowerCycleHoldoff
	PowerCycleDone
)

// Swact handler stages.
const (
	SwactStart types.Stage = iota
	SwactQuery
	SwactQueryRecv
	SwactSend
	SwactRecv
	SwactPoll
	SwactDone
)

// Add / Delete handler stages.
const (
	AddStart types.Stage = iota
	AddReconcileAlarms
	AddRestartGracefulRecovery
	AddRegisterSubscribers
	AddHeartbeatSoak
	AddDone
)

const (
	DelStart types.Stage = iota
	DelWipeDiskBestEffort
	DelDeprovisionBMC
	DelKillBMCThread
	DelDeregisterSubscribers
	DelClearAlarms
	DelDone
)

// mtcAlive monitor, offline/online, oosTest/insvTest, config — always-on
// handler stages independent of the action in progress.
const (
	MtcAliveIdle types.Stage = iota
	MtcAliveWaitingFirst
	MtcAliveMonitoring
)

const (
	OfflineStart types.Stage = iota
	OfflineWait
	OfflineDone
)

const (
	OnlineStart types.Stage = iota
	OnlineWait
	OnlineDone
)

const (
	TestIdle types.Stage = iota
	TestRunning
	TestPass
	TestFail
)

const (
	ConfigIdle types.Stage = iota
	ConfigWait
	ConfigComplete
	ConfigFailed
)
