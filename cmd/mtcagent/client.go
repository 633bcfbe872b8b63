package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cgts/mtce/pkg/config"
	"github.com/cgts/mtce/pkg/constants"
	"github.com/cgts/mtce/pkg/heartbeat"
	"github.com/cgts/mtce/pkg/hostfsm"
	"github.com/cgts/mtce/pkg/log"
	"github.com/cgts/mtce/pkg/msgplane"
	"github.com/cgts/mtce/pkg/types"
)

var clientFlags struct {
	configPath string
	hostname   string
	agentAddr  string
	mtcPort    int
	pulsePort  int
}

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Run the per-host maintenance client (pulse responder + mtcAlive)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(clientFlags.configPath, clientFlags.hostname)
		if err != nil {
			return err
		}
		return runClient(cfg)
	},
}

func init() {
	f := clientCmd.Flags()
	f.StringVarP(&clientFlags.configPath, "config", "c", "", "Path to tunables YAML")
	f.StringVar(&clientFlags.hostname, "hostname", "", "Local hostname override")
	f.StringVar(&clientFlags.agentAddr, "agent-addr", "", "Active controller management IP")
	f.IntVar(&clientFlags.mtcPort, "mtc-port", 2101, "mtc command/mtcAlive UDP port")
	f.IntVar(&clientFlags.pulsePort, "pulse-port", 2103, "Heartbeat pulse UDP port")
}

// clientDaemon is the host-side half of the protocol: answer pulse
// requests, send periodic mtcAlive, and acknowledge mtc-commands.
type clientDaemon struct {
	cfg   *config.Config
	hb    *heartbeat.Client
	pulse *msgplane.Socket
	mtc   *msgplane.Socket
	agent *net.UDPAddr

	aliveSeq uint32
	startAt  time.Time
	readBuf  [8192]byte
}

func runClient(cfg *config.Config) error {
	lg := log.WithComponent("mtcclient")

	pulse, err := msgplane.ListenUDP(string(types.IfaceMgmt),
		&net.UDPAddr{Port: clientFlags.pulsePort})
	if err != nil {
		return err
	}
	defer pulse.Close()

	mtc, err := msgplane.ListenUDP(string(types.IfaceMgmt),
		&net.UDPAddr{Port: clientFlags.mtcPort})
	if err != nil {
		return err
	}
	defer mtc.Close()

	agentIP := net.ParseIP(clientFlags.agentAddr)
	if agentIP == nil {
		lg.Warn().Str("addr", clientFlags.agentAddr).Msg("no agent address; mtcAlive disabled until a request arrives")
	}

	d := &clientDaemon{
		cfg:     cfg,
		hb:      heartbeat.NewClient(cfg.Hostname, cfg.Heartbeat.Period),
		pulse:   pulse,
		mtc:     mtc,
		startAt: time.Now(),
	}
	if agentIP != nil {
		d.agent = &net.UDPAddr{IP: agentIP, Port: clientFlags.mtcPort}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	lg.Info().Str("hostname", cfg.Hostname).Msg("maintenance client started")
	return d.run(ctx)
}

func (d *clientDaemon) run(ctx context.Context) error {
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	alive := time.NewTicker(d.cfg.Heartbeat.Period)
	defer alive.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			d.pollSockets()
		case <-alive.C:
			d.sendMtcAlive()
		}
	}
}

func (d *clientDaemon) localFlags() uint32 {
	return heartbeat.FlagPmondAlive | heartbeat.FlagClusterHostProvision
}

func (d *clientDaemon) pollSockets() {
	for i := 0; i < 16; i++ {
		d.pulse.SetReadDeadline(time.Millisecond)
		n, from, err := d.pulse.ReadFrom(d.readBuf[:])
		if err != nil || n == 0 {
			break
		}
		req, err := heartbeat.Decode(d.readBuf[:n])
		if err != nil || req.IsReply {
			continue
		}
		reply := d.hb.OnRequest(req, d.localFlags())
		if buf, err := heartbeat.Encode(reply); err == nil {
			d.pulse.WriteTo(buf, from)
		}
	}
	for i := 0; i < 16; i++ {
		d.mtc.SetReadDeadline(time.Millisecond)
		n, from, err := d.mtc.ReadFrom(d.readBuf[:])
		if err != nil || n == 0 {
			break
		}
		d.onCommand(d.readBuf[:n], from)
	}
}

// onCommand acknowledges inbound mtc-commands. Execution of the
// destructive ones (reboot, wipedisk) is the platform init system's
// job; the client's contract is the acknowledgment and the goenabled
// flag-file check.
func (d *clientDaemon) onCommand(buf []byte, from *net.UDPAddr) {
	cmd, isAck, err := hostfsm.DecodeCommand(buf)
	if err != nil || isAck || cmd.Hostname != d.cfg.Hostname {
		return
	}

	ack := hostfsm.MtcCommandMsg{Hostname: d.cfg.Hostname, Service: "mtcClient", Command: cmd.Command}
	switch cmd.Command {
	case hostfsm.CmdGoEnabledRequest:
		subf := len(cmd.Params) > 0 && cmd.Params[0] == 1
		pass := d.goEnabledPassed(subf)
		subfParam, passParam := int64(0), int64(0)
		if subf {
			subfParam = 1
		}
		if pass {
			passParam = 1
		}
		ack.Params = []int64{subfParam, passParam}
	case hostfsm.CmdLocked:
		if err := os.WriteFile(constants.NodeLockedFile, []byte{}, 0o644); err == nil &&
			len(cmd.Params) > 0 && cmd.Params[0] == hostfsm.LockPersistParam {
			os.WriteFile(constants.NodeLockedFileBackup, []byte{}, 0o644)
		}
	case hostfsm.CmdUnlocked:
		os.Remove(constants.NodeLockedFile)
		os.Remove(constants.NodeLockedFileBackup)
	}

	if buf, err := hostfsm.EncodeCommandAck(ack); err == nil {
		d.mtc.WriteTo(buf, from)
	}
}

// goEnabledPassed inspects the test-result flag files.
func (d *clientDaemon) goEnabledPassed(subf bool) bool {
	pass, fail := constants.GoEnabledMainPass, constants.GoEnabledMainFail
	if subf {
		pass, fail = constants.GoEnabledSubfPass, constants.GoEnabledSubfFail
	}
	if _, err := os.Stat(fail); err == nil {
		return false
	}
	_, err := os.Stat(pass)
	return err == nil
}

func (d *clientDaemon) sendMtcAlive() {
	if d.agent == nil {
		return
	}
	d.aliveSeq++
	msg := hostfsm.MtcAliveMsg{
		Hostname: d.cfg.Hostname,
		Service:  "mtcClient",
		Uptime:   uint64(time.Since(d.startAt) / time.Second),
		Health:   types.HealthHealthy,
		Seq:      d.aliveSeq,
		OOB: types.OOBFlags{
			Configured: fileExists(constants.ConfigCompleteFile),
			Healthy:    !fileExists(constants.ConfigFailFile),
		},
	}
	if buf, err := hostfsm.EncodeMtcAlive(msg); err == nil {
		d.mtc.WriteTo(buf, d.agent)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
