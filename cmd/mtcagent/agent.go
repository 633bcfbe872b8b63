package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cgts/mtce/pkg/bmc"
	"github.com/cgts/mtce/pkg/cluster"
	"github.com/cgts/mtce/pkg/config"
	"github.com/cgts/mtce/pkg/constants"
	"github.com/cgts/mtce/pkg/events"
	"github.com/cgts/mtce/pkg/faultclient"
	"github.com/cgts/mtce/pkg/fitinfo"
	"github.com/cgts/mtce/pkg/heartbeat"
	"github.com/cgts/mtce/pkg/hostfsm"
	"github.com/cgts/mtce/pkg/invclient"
	"github.com/cgts/mtce/pkg/log"
	"github.com/cgts/mtce/pkg/metrics"
	"github.com/cgts/mtce/pkg/msgplane"
	"github.com/cgts/mtce/pkg/persist"
	"github.com/cgts/mtce/pkg/secretstore"
	"github.com/cgts/mtce/pkg/smclient"
	"github.com/cgts/mtce/pkg/types"
)

var agentFlags struct {
	configPath    string
	hostname      string
	dataDir       string
	inventoryURL  string
	smURL         string
	fmSocket      string
	smSocket      string
	secretsURL    string
	metricsAddr   string
	mtcPort       int
	pulsePort     int
	controllerIdx int
	mgmtIfname    string
	clusterIfname string
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the maintenance agent (active controller)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(agentFlags.configPath, agentFlags.hostname)
		if err != nil {
			return err
		}
		return runAgent(cfg)
	},
}

func init() {
	f := agentCmd.Flags()
	f.StringVarP(&agentFlags.configPath, "config", "c", "", "Path to tunables YAML")
	f.StringVar(&agentFlags.hostname, "hostname", "", "Local hostname override")
	f.StringVar(&agentFlags.dataDir, "data-dir", "/var/lib/mtce", "Persistence directory")
	f.StringVar(&agentFlags.inventoryURL, "inventory-url", "http://localhost:6385", "Inventory service base URL")
	f.StringVar(&agentFlags.smURL, "sm-url", "http://localhost:7777", "HA service manager base URL")
	f.StringVar(&agentFlags.fmSocket, "fm-socket", "/var/run/fm.sock", "Fault manager Unix socket")
	f.StringVar(&agentFlags.smSocket, "sm-socket", "/var/run/sm-cluster.sock", "SM cluster delivery Unix socket")
	f.StringVar(&agentFlags.secretsURL, "secretstore-url", "http://localhost:8200", "External secret store base URL")
	f.StringVar(&agentFlags.metricsAddr, "metrics-addr", ":9102", "Prometheus metrics listen address")
	f.IntVar(&agentFlags.mtcPort, "mtc-port", 2101, "mtc command/mtcAlive UDP port")
	f.IntVar(&agentFlags.pulsePort, "pulse-port", 2103, "Heartbeat pulse UDP port")
	f.IntVar(&agentFlags.controllerIdx, "controller-index", 0, "This controller's index (0 or 1)")
	f.StringVar(&agentFlags.mgmtIfname, "mgmt-ifname", "", "Management network interface name")
	f.StringVar(&agentFlags.clusterIfname, "cluster-ifname", "", "Cluster-host network interface name")
}

// execPinger checks BMC reachability by shelling out to ping, the
// lowest-privilege way to probe without CAP_NET_RAW.
type execPinger struct{}

func (execPinger) Ping(ctx context.Context, ip string) (bool, error) {
	err := exec.CommandContext(ctx, "ping", "-c", "1", "-W", "1", ip).Run()
	return err == nil, nil
}

// udpSender implements hostfsm.CommandSender over the message plane:
// one datagram per command, addressed to the host's IP on the chosen
// network.
type udpSender struct {
	sock *msgplane.Socket
	port int
}

func (s *udpSender) SendCommand(h *types.HostRecord, iface types.Iface, msg hostfsm.MtcCommandMsg) error {
	buf, err := hostfsm.EncodeCommand(msg)
	if err != nil {
		return err
	}
	ip := h.MgmtIP
	if iface == types.IfaceCluster {
		ip = h.ClusterIP
	} else if iface == types.IfacePxeboot {
		ip = h.PxebootIP
	}
	if ip == nil {
		return nil // network not provisioned for this host
	}
	_, err = s.sock.WriteTo(buf, &net.UDPAddr{IP: ip, Port: s.port})
	return err
}

// agentDaemon owns the single engine goroutine: every inbound datagram
// and every period close is applied on the same loop that ticks the
// FSMs, honoring the single-writer model.
type agentDaemon struct {
	cfg    *config.Config
	engine *hostfsm.Engine
	hb     *heartbeat.Agent
	vault  *cluster.Vault
	report *cluster.SMReporter
	store  *persist.Store

	pulseSock *msgplane.Socket
	mtcSock   *msgplane.Socket
	pulsePort int

	links     *msgplane.LinkMonitor
	ifindexOf map[types.Iface]int

	changeReason   string
	badHeaderCount int
	readBuf        [8192]byte
}

func runAgent(cfg *config.Config) error {
	lg := log.WithComponent("mtcagent")

	store, err := persist.Open(agentFlags.dataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	vault := cluster.NewVault(cfg.Cluster.Controllers, cfg.Cluster.NetworkMax,
		cfg.Cluster.RingSize, uint32(cfg.Heartbeat.Period/time.Millisecond))

	hbAgent := heartbeat.NewAgent(agentFlags.controllerIdx,
		[]types.Iface{types.IfaceMgmt, types.IfaceCluster},
		cfg.Heartbeat.Period,
		heartbeat.Thresholds{
			Minor: cfg.Heartbeat.MinorMissThreshold,
			Major: cfg.Heartbeat.MajorMissThreshold,
			Fail:  cfg.Heartbeat.FailMissThreshold,
		})

	pulseSock, err := msgplane.ListenUDP(string(types.IfaceMgmt),
		&net.UDPAddr{Port: agentFlags.pulsePort})
	if err != nil {
		return err
	}
	defer pulseSock.Close()

	mtcSock, err := msgplane.ListenUDP(string(types.IfaceMgmt),
		&net.UDPAddr{Port: agentFlags.mtcPort})
	if err != nil {
		return err
	}
	defer mtcSock.Close()

	secrets := secretstore.New(agentFlags.secretsURL, 10*time.Second)
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	engine := hostfsm.New(cfg, hostfsm.Deps{
		Inventory: invclient.New(agentFlags.inventoryURL, 10*time.Second),
		SM:        smclient.New(agentFlags.smURL, 10*time.Second),
		Heartbeat: hbAgent,
		Sender:    &udpSender{sock: mtcSock, port: agentFlags.mtcPort},
		Fault:     faultclient.New(agentFlags.fmSocket),
		Broker:    broker,
		Vault:     vault,
		Persist:   store,
		OOBFactory: func(hostname string) hostfsm.OOB {
			return bmc.NewArbiter(hostname, execPinger{}, secrets,
				cfg.BMC.AccessAlarmTimeout, cfg.BMC.AuditPeriod)
		},
	})

	if ins, err := fitinfo.Load(constants.FitInfoFile); err == nil && ins != nil {
		lg.Warn().Str("proc", ins.Proc).Str("code", ins.Code).Msg("fault insertion directive armed")
	}

	collector := metrics.NewCollector(engine, 15*time.Second)
	collector.Start()
	defer collector.Stop()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		if err := http.ListenAndServe(agentFlags.metricsAddr, mux); err != nil {
			lg.Warn().Err(err).Msg("metrics listener stopped")
		}
	}()

	d := &agentDaemon{
		cfg:       cfg,
		engine:    engine,
		hb:        hbAgent,
		vault:     vault,
		report:    cluster.NewSMReporter(agentFlags.smSocket),
		store:     store,
		pulseSock: pulseSock,
		mtcSock:   mtcSock,
		pulsePort: agentFlags.pulsePort,
		ifindexOf: make(map[types.Iface]int),
	}

	if links, err := msgplane.NewLinkMonitor(); err != nil {
		lg.Warn().Err(err).Msg("netlink link monitor unavailable; link-state flags disabled")
	} else {
		d.links = links
		defer links.Close()
		for iface, name := range map[types.Iface]string{
			types.IfaceMgmt:    agentFlags.mgmtIfname,
			types.IfaceCluster: agentFlags.clusterIfname,
		} {
			if name == "" {
				continue
			}
			if netif, err := net.InterfaceByName(name); err == nil {
				d.ifindexOf[iface] = netif.Index
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		lg.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	d.provisionHosts(cfg)

	lg.Info().Str("hostname", cfg.Hostname).Msg("maintenance agent started")
	return d.run(ctx)
}

// provisionHosts adds every configured host to the engine, restoring
// persisted lock state so a restart does not forget an operator lock.
func (d *agentDaemon) provisionHosts(cfg *config.Config) {
	for _, entry := range cfg.Hosts {
		id, err := uuid.Parse(entry.UUID)
		if err != nil {
			id = uuid.New()
		}
		var nodeType types.NodeTypeBit
		for _, role := range strings.Split(entry.NodeType, "+") {
			switch role {
			case "controller":
				nodeType |= types.NodeTypeController
			case "worker":
				nodeType |= types.NodeTypeWorker
			case "storage":
				nodeType |= types.NodeTypeStorage
			}
		}
		h := d.engine.AddHost(entry.Hostname, id, nodeType)
		h.MgmtIP = net.ParseIP(entry.MgmtIP)
		h.ClusterIP = net.ParseIP(entry.ClusterIP)
		h.PxebootIP = net.ParseIP(entry.PxebootIP)
		h.BMC.IP = net.ParseIP(entry.BMCIP)
		h.BMC.Username = entry.BMCUser
		h.BMC.SecretRef = entry.BMCSecret
		h.BMC.Protocol = string(constants.BMCProtocolDynamic)

		if ls, ok, err := d.store.GetLockState(entry.Hostname); err == nil && ok && !ls.Locked {
			h.Triad.Admin = types.AdminUnlocked
		}
		if bc, ok, err := d.store.GetBMCCache(entry.Hostname); err == nil && ok {
			h.BMC.Protocol = bc.Protocol
			h.BMC.Info.PowerState = bc.PowerState
		}
	}
}

func (d *agentDaemon) run(ctx context.Context) error {
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	period := time.NewTicker(d.cfg.Heartbeat.Period)
	defer period.Stop()

	d.beginPeriod()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			d.pollSockets()
			d.pollLinkState()
			d.engine.Tick(ctx, time.Now())
		case <-period.C:
			d.closePeriod()
			d.beginPeriod()
		}
	}
}

// beginPeriod sends the pulse request, with the vault's current view
// embedded, as one unicast datagram to each host's management and
// cluster-host address; no multicast group is used.
func (d *agentDaemon) beginPeriod() {
	seq := d.hb.BeginPeriod()
	msg := heartbeat.Message{
		Hostname:    d.cfg.Hostname,
		Seq:         seq,
		Flags:       heartbeat.WithController(heartbeat.FlagClusterHostProvision, d.hb.Controller),
		Version:     1,
		ClusterView: d.vault.Snapshots(),
	}
	buf, err := heartbeat.Encode(msg)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("pulse encode failed")
		return
	}
	for _, h := range d.engine.Hosts() {
		if h.MgmtIP != nil {
			d.pulseSock.WriteTo(buf, &net.UDPAddr{IP: h.MgmtIP, Port: d.pulsePort})
		}
		if h.ClusterIP != nil {
			d.pulseSock.WriteTo(buf, &net.UDPAddr{IP: h.ClusterIP, Port: d.pulsePort})
		}
	}
}

// closePeriod promotes outstanding pending flags into miss levels,
// records the period into the vault, and reports to SM when the
// cluster view changed.
func (d *agentDaemon) closePeriod() {
	for _, network := range []types.Iface{types.IfaceMgmt, types.IfaceCluster} {
		monitored := d.hb.MonitoredHostCount(network)
		notResponding := d.hb.NotRespondingCount(network)

		for hostname, level := range d.hb.ClosePeriod(network) {
			d.engine.OnHeartbeatMiss(hostname, network, level)
			d.changeReason = "heartbeat threshold crossed"
		}

		if monitored > 0 {
			if err := d.vault.RecordPeriod(d.hb.Controller, network, monitored, notResponding); err == nil {
				metrics.HeartbeatRespondingHosts.WithLabelValues(string(network)).
					Set(float64(monitored - notResponding))
			}
			if notResponding > 0 && d.changeReason == "" {
				d.changeReason = "hosts not responding"
			}
		}
	}

	if d.changeReason != "" {
		if err := d.report.ReportIfChanged(d.vault, d.changeReason); err != nil {
			log.Logger.Debug().Err(err).Msg("SM cluster report failed")
		}
		d.changeReason = ""
	}
}

// pollLinkState drains the netlink monitor and mirrors the "link up
// and running" flag onto the local host's per-interface liveness.
func (d *agentDaemon) pollLinkState() {
	if d.links == nil {
		return
	}
	if err := d.links.Poll(); err != nil {
		log.Logger.Debug().Err(err).Msg("netlink poll failed")
		return
	}
	local := d.engine.Host(d.cfg.Hostname)
	if local == nil {
		return
	}
	for iface, ifindex := range d.ifindexOf {
		if lv := local.Liveness[iface]; lv != nil {
			lv.LinkUpRunning = d.links.LinkUpRunning(ifindex)
		}
	}
}

// pollSockets drains whatever datagrams arrived since the last tick,
// never blocking longer than a millisecond per socket.
func (d *agentDaemon) pollSockets() {
	for i := 0; i < 16; i++ {
		d.pulseSock.SetReadDeadline(time.Millisecond)
		n, _, err := d.pulseSock.ReadFrom(d.readBuf[:])
		if err != nil || n == 0 {
			break
		}
		d.onPulseDatagram(d.readBuf[:n])
	}
	for i := 0; i < 16; i++ {
		d.mtcSock.SetReadDeadline(time.Millisecond)
		n, _, err := d.mtcSock.ReadFrom(d.readBuf[:])
		if err != nil || n == 0 {
			break
		}
		d.onMtcDatagram(d.readBuf[:n])
	}
}

func (d *agentDaemon) onPulseDatagram(buf []byte) {
	if !heartbeat.HasValidHeader(buf) {
		d.badHeaderCount++
		if d.badHeaderCount%100 == 1 {
			log.Logger.Warn().Int("count", d.badHeaderCount).Msg("pulse datagrams with mismatched header dropped")
		}
		return
	}
	msg, err := heartbeat.Decode(buf)
	if err != nil || !msg.IsReply {
		return
	}
	// Replies are attributed by the controller bits of the reply
	// flags; only our own come back here.
	if heartbeat.ControllerOf(msg.Flags) != d.hb.Controller {
		return
	}
	for _, network := range []types.Iface{types.IfaceMgmt, types.IfaceCluster} {
		if recovered := d.hb.OnReply(network, msg.Hostname, msg.Flags); recovered {
			d.engine.OnHeartbeatRestored(msg.Hostname, network)
			d.changeReason = "host responding again"
		}
	}
	for _, snap := range msg.ClusterView {
		if err := d.vault.MergeSnapshot(snap); err == nil {
			d.changeReason = "peer cluster view updated"
		}
	}
}

func (d *agentDaemon) onMtcDatagram(buf []byte) {
	if alive, err := hostfsm.DecodeMtcAlive(buf); err == nil {
		d.engine.OnMtcAlive(types.IfaceMgmt, alive, nil, time.Now())
		return
	}
	cmd, isAck, err := hostfsm.DecodeCommand(buf)
	if err != nil || !isAck {
		return
	}
	if cmd.Command == hostfsm.CmdGoEnabledRequest {
		subf := len(cmd.Params) > 0 && cmd.Params[0] == 1
		pass := len(cmd.Params) > 1 && cmd.Params[1] == 1
		d.engine.OnGoEnabledResult(cmd.Hostname, subf, pass)
		return
	}
	d.engine.OnCommandAck(cmd.Hostname, types.IfaceMgmt, cmd.Command)
}
