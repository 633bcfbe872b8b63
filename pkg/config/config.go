// Package config loads the maintenance core's own tunables (periods,
// thresholds, timeouts) and the provisioned host inventory from a YAML
// file. This is a tunables surface for this daemon's own constants,
// not a re-implementation of the inventory service's configuration
// system, which is out of scope.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cgts/mtce/pkg/constants"
)

// Config holds every tunable of the maintenance core, defaulted to the
// platform's stock values. Duration fields are plain
// time.Duration and so are overridden in YAML as Go duration strings
// (e.g. "10s"); bare integers are rejected by the decoder. Operators are expected to use the
// packaged defaults and override only the handful that need tuning.
type Config struct {
	Hostname string `yaml:"hostname"`

	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	BMC       BMCConfig       `yaml:"bmc"`
	AlarmQ    AlarmQConfig    `yaml:"alarm_queue"`
	AR        ARConfig        `yaml:"auto_recovery"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	Timeout   TimeoutConfig   `yaml:"timeout"`
	Log       LogConfig       `yaml:"log"`

	// Hosts is the provisioned host inventory. Keeping it in the
	// tunables file sidesteps the inventory service's own configuration
	// system, which is out of scope: the REST client only
	// pushes task/state updates back.
	Hosts []HostEntry `yaml:"hosts"`
}

// HostEntry provisions one host.
type HostEntry struct {
	Hostname  string `yaml:"hostname"`
	UUID      string `yaml:"uuid"`
	NodeType  string `yaml:"node_type"` // controller, worker, storage, controller+worker
	MgmtIP    string `yaml:"mgmt_ip"`
	ClusterIP string `yaml:"cluster_ip"`
	PxebootIP string `yaml:"pxeboot_ip"`
	BMCIP     string `yaml:"bmc_ip"`
	BMCUser   string `yaml:"bmc_user"`
	BMCSecret string `yaml:"bmc_secret_ref"`
}

// TimeoutConfig holds the per-operation umbrella timers: every
// long-running operation has one.
type TimeoutConfig struct {
	GoEnabled           time.Duration `yaml:"goenabled"`
	HostServices        time.Duration `yaml:"host_services"`
	Offline             time.Duration `yaml:"offline"`
	Online              time.Duration `yaml:"online"`
	ResetOffline        time.Duration `yaml:"reset_offline"`
	Swact               time.Duration `yaml:"swact"`
	WorkQueue           time.Duration `yaml:"work_queue"`
	PowerCycleCooloff   time.Duration `yaml:"powercycle_cooloff"`
	PowerCycleHoldoff   time.Duration `yaml:"powercycle_holdoff"`
	PowerCycleMaxTries  int           `yaml:"powercycle_max_tries"`
	GracefulRecoveryCap int           `yaml:"graceful_recovery_cap"`
	InsvTestPeriod      time.Duration `yaml:"insv_test_period"`
	OosTestPeriod       time.Duration `yaml:"oos_test_period"`
}

type HeartbeatConfig struct {
	Period       time.Duration `yaml:"period"`
	SoakDuration time.Duration `yaml:"soak_duration"`
	// FailureAction is what a fail-threshold crossing does to the host:
	// "fail" (disable + graceful recovery), "degrade", "alarm", or
	// "none". "none" also bypasses the heartbeat soak during
	// rule 5).
	FailureAction             string        `yaml:"failure_action"`
	MinorMissThreshold        int           `yaml:"minor_miss_threshold"`
	MajorMissThreshold        int           `yaml:"major_miss_threshold"`
	FailMissThreshold         int           `yaml:"fail_miss_threshold"`
	Storage0MissThreshold     int           `yaml:"storage0_miss_threshold"`
	MtcAliveTimeoutController time.Duration `yaml:"mtcalive_timeout_controller"`
	MtcAliveTimeoutCompute    time.Duration `yaml:"mtcalive_timeout_compute"`
}

type BMCConfig struct {
	AccessAlarmTimeout time.Duration `yaml:"access_alarm_timeout"`
	AuditPeriod        time.Duration `yaml:"audit_period"` // 0 disables
	RedfishMinVersion  string        `yaml:"redfish_min_version"`
}

type AlarmQConfig struct {
	Cap          int           `yaml:"cap"`
	RetryHoldoff time.Duration `yaml:"retry_holdoff"`
}

type ARConfig struct {
	ConfigThreshold       int           `yaml:"config_threshold"`
	GoEnableThreshold     int           `yaml:"goenable_threshold"`
	HostServicesThreshold int           `yaml:"host_services_threshold"`
	HeartbeatThreshold    int           `yaml:"heartbeat_threshold"`
	LUKSThreshold         int           `yaml:"luks_threshold"`
	Interval              time.Duration `yaml:"interval"`
}

type ClusterConfig struct {
	Controllers int `yaml:"controllers"`
	NetworkMax  int `yaml:"network_max"`
	RingSize    int `yaml:"ring_size"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	JSONOutput bool   `yaml:"json_output"`
}

// Default returns a Config populated with the platform's stock values
// explicitly (10s heartbeat soak, 20-entry ring, 2000-entry alarm
// queue cap, 2-minute BMC access alarm).
func Default() *Config {
	return &Config{
		Heartbeat: HeartbeatConfig{
			Period:                    constants.DefaultHeartbeatPeriod,
			SoakDuration:              constants.DefaultHeartbeatSoak,
			FailureAction:             "fail",
			MinorMissThreshold:        constants.DefaultMinorMissThreshold,
			MajorMissThreshold:        constants.DefaultMajorMissThreshold,
			FailMissThreshold:         constants.DefaultFailMissThreshold,
			Storage0MissThreshold:     constants.DefaultStorage0MissThreshold,
			MtcAliveTimeoutController: constants.DefaultMtcAliveTimeoutController,
			MtcAliveTimeoutCompute:    constants.DefaultMtcAliveTimeoutCompute,
		},
		BMC: BMCConfig{
			AccessAlarmTimeout: constants.DefaultBMCAccessAlarm,
			AuditPeriod:        5 * time.Minute,
			RedfishMinVersion:  constants.RedfishMinVersion,
		},
		AlarmQ: AlarmQConfig{
			Cap:          constants.AlarmQueueCap,
			RetryHoldoff: constants.DefaultAlarmHoldoff,
		},
		AR: ARConfig{
			ConfigThreshold:       3,
			GoEnableThreshold:     3,
			HostServicesThreshold: 3,
			HeartbeatThreshold:    3,
			LUKSThreshold:         1,
			Interval:              30 * time.Second,
		},
		Timeout: TimeoutConfig{
			GoEnabled:           2 * time.Minute,
			HostServices:        30 * time.Second,
			Offline:             10 * time.Second,
			Online:              20 * time.Minute,
			ResetOffline:        5 * time.Minute,
			Swact:               3 * time.Minute,
			WorkQueue:           1 * time.Minute,
			PowerCycleCooloff:   5 * time.Minute,
			PowerCycleHoldoff:   2 * time.Minute,
			PowerCycleMaxTries:  3,
			GracefulRecoveryCap: 3,
			InsvTestPeriod:      5 * time.Minute,
			OosTestPeriod:       10 * time.Minute,
		},
		Cluster: ClusterConfig{
			Controllers: constants.DefaultControllers,
			NetworkMax:  constants.DefaultNetworkMax,
			RingSize:    constants.HistoryRingSize,
		},
		Log: LogConfig{
			Level:      "info",
			JSONOutput: true,
		},
	}
}

// Load reads a YAML tunables file, overlaying it onto Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
