// Package constants holds the fixed-name, fixed-value constants shared
// across the maintenance core: pulse header tags, alarm identifiers,
// BMC protocol names, and filesystem flag paths. Keeping them in one
// package keeps them in a single constants module instead of
// scattering magic strings
// across every package that needs one.
package constants

import "time"

// Pulse header tags. Exact 15-byte match; see heartbeat wire format.
const (
	PulseHeaderReq = "cgts pulse req:"
	PulseHeaderRsp = "cgts pulse rsp:"
)

// Message plane header tags for the remaining UDP channels.
const (
	HeaderMtcRequest = "cgts mtc req :"
	HeaderMtcReply   = "cgts mtc rsp :"
	HeaderMtcEvent   = "cgts mtc evt :"
	HeaderLoopback   = "cgts loopback:"
	HeaderWorker     = "cgts worker  :"
	HeaderInfo       = "cgts info    :"
)

// Ring and vault sizing.
const (
	HistoryRingSize    = 20
	DefaultNetworkMax  = 3 // management, cluster-host, pxeboot
	DefaultControllers = 2
)

// Alarm queue bound. Overflow drops from the tail (newest).
const AlarmQueueCap = 2000

// Default timer durations.
const (
	DefaultHeartbeatSoak             = 10 * time.Second
	DefaultBMCAccessAlarm            = 2 * time.Minute
	DefaultHeartbeatPeriod           = 1 * time.Second
	DefaultAlarmHoldoff              = 5 * time.Second
	DefaultMtcAliveTimeoutController = 30 * time.Second
	DefaultMtcAliveTimeoutCompute    = 20 * time.Second
)

// Storage-0 and loss-threshold defaults.
const (
	DefaultMinorMissThreshold    = 2
	DefaultMajorMissThreshold    = 4
	DefaultFailMissThreshold     = 6
	DefaultStorage0MissThreshold = 4
)

// Alarm identifiers emitted by the maintenance core. Fixed-name,
// fixed-value.
const (
	AlarmIDLocked           = "200.001"
	AlarmIDEnable           = "200.004"
	AlarmIDHeartbeatMgmt    = "200.005"
	AlarmIDHeartbeatCluster = "200.009"
	AlarmIDPxebootMtcAlive  = "200.003"
	AlarmIDBMAccess         = "200.010"
	AlarmIDConfig           = "200.011"
	AlarmIDLUKS             = "200.016"
	AlarmIDPowerCycle       = "200.020"
)

// Alarm severities, matching the fault manager's vocabulary.
const (
	SeverityCritical = "critical"
	SeverityMajor    = "major"
	SeverityMinor    = "minor"
	SeverityWarning  = "warning"
	SeverityCleared  = "cleared"
)

// Operator-readable task strings the auto-recovery controller stamps
// when a cause threshold latches ar_disabled.
const (
	TaskARDisabledConfig       = "Configuration failure, threshold reached, Lock/Unlock to retry"
	TaskARDisabledGoEnable     = "In-Test Failure, threshold reached, Lock/Unlock to retry"
	TaskARDisabledHostServices = "Service Failure, threshold reached, Lock/Unlock to retry"
	TaskARDisabledHeartbeat    = "Heartbeat Failure, threshold reached, Lock/Unlock to retry"
	TaskARDisabledLUKS         = "LUKS volume failure, threshold reached, Lock/Unlock to retry"
)

// BMC protocol names.
type BMCProtocol string

const (
	BMCProtocolDynamic BMCProtocol = "dynamic"
	BMCProtocolIPMI    BMCProtocol = "ipmi"
	BMCProtocolRedfish BMCProtocol = "redfish"
)

// RedfishMinVersion is the minimum supported Redfish service version
// string below which the arbiter falls back to IPMI.
const RedfishMinVersion = "1.0.0"

// Well-known flag-file paths shared with the platform init scripts.
const (
	ConfigCompleteFile = "/etc/platform/.config_complete"
	ConfigFailFile     = "/etc/platform/.config_fail"
	ConfigPassFile     = "/etc/platform/.config_pass"

	GoEnabledMainPass = "/var/run/.goenabled"
	GoEnabledMainFail = "/var/run/.goenabled_failed"
	GoEnabledSubfPass = "/var/run/.subf_goenabled"
	GoEnabledSubfFail = "/var/run/.subf_goenabled_failed"

	NodeLockedFile       = "/var/run/.node_locked"
	NodeLockedFileBackup = "/etc/platform/.node_locked"

	PlatformSimplexMode = "/etc/platform/simplex"
	UnlockReadyFile     = "/var/run/.unlock_ready"

	SMGMTDegradedFile  = "/var/run/.sm_degraded"
	SMGMTUnhealthyFile = "/var/run/.sm_unhealthy"
)

// FitInfoFile is the optional fault-insertion contract file.
const FitInfoFile = "/var/run/fitinfo"
