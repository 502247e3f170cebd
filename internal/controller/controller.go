// Package controller wires every component into one running daemon: the
// kernel channel, topology and telemetry readers, the migration engine
// and its worker pool, the placement loop, the admin surface, and the
// metrics server, all sharing one shutdown controller and one placement
// mutex.
package controller

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jihwankim/tiermemctl/pkg/admin"
	"github.com/jihwankim/tiermemctl/pkg/config"
	"github.com/jihwankim/tiermemctl/pkg/kernelchan"
	"github.com/jihwankim/tiermemctl/pkg/logging"
	"github.com/jihwankim/tiermemctl/pkg/metrics"
	"github.com/jihwankim/tiermemctl/pkg/migration"
	"github.com/jihwankim/tiermemctl/pkg/placement"
	"github.com/jihwankim/tiermemctl/pkg/shutdown"
	"github.com/jihwankim/tiermemctl/pkg/telemetry"
	"github.com/jihwankim/tiermemctl/pkg/topology"
	"github.com/jihwankim/tiermemctl/pkg/workerpool"
)

// Controller owns every long-lived component of one daemon run.
type Controller struct {
	cfg    *config.Config
	logger *logging.Logger

	shutdown *shutdown.Controller
	topo     *topology.Topology
	channel  *kernelchan.Channel
	pool     *workerpool.Pool
	engine   *migration.Engine
	loop     *placement.Loop
	metrics  *metrics.Registry

	stdinServer  *admin.StdinServer
	socketServer *admin.SocketServer

	placementMutex sync.Mutex
}

// New builds a Controller from a loaded configuration. It dials the
// kernel channel's netlink transport and binds the admin socket, so New
// itself can fail; nothing has started running yet.
func New(cfg *config.Config, logger *logging.Logger) (*Controller, error) {
	shutdownCtl := shutdown.New(shutdown.Config{EnableSignalHandlers: true})

	dramNodes := make([]topology.NodeId, len(cfg.Topology.DRAMNodes))
	for i, n := range cfg.Topology.DRAMNodes {
		dramNodes[i] = topology.NodeId(n)
	}
	nvramNodes := make([]topology.NodeId, len(cfg.Topology.NVRAMNodes))
	for i, n := range cfg.Topology.NVRAMNodes {
		nvramNodes[i] = topology.NodeId(n)
	}

	sysfsReader := topology.NewSysfsReader("")
	pageSize := uint64(os.Getpagesize())

	topo, err := topology.New(dramNodes, nvramNodes, sysfsReader, pageSize)
	if err != nil {
		return nil, fmt.Errorf("controller: build topology: %w", err)
	}

	transport, err := kernelchan.DialNetlink(cfg.KernelChannel.NetlinkFamily, cfg.KernelChannel.MaxPayload)
	if err != nil {
		return nil, fmt.Errorf("controller: dial kernel channel: %w", err)
	}
	channel := kernelchan.New(transport, kernelchan.Config{
		MaxPackets: cfg.KernelChannel.MaxPackets,
		MaxPayload: cfg.KernelChannel.MaxPayload,
	})

	pool := workerpool.New(cfg.Tuning.WorkersMax)
	engine := migration.New(topo, pool, migration.SyscallPageMover{}, cfg.Tuning.WorkersMax, logger.Component("migration"))

	telemReader := telemetry.NewReader(cfg.Telemetry.Path, telemetry.Bounds{
		DRAMBWMax:  cfg.Telemetry.DRAMBWMax,
		NVRAMBWMax: cfg.Telemetry.NVRAMBWMax,
	})

	c := &Controller{
		cfg:      cfg,
		logger:   logger,
		shutdown: shutdownCtl,
		topo:     topo,
		channel:  channel,
		pool:     pool,
		engine:   engine,
	}

	c.loop = placement.New(topo, telemReader, channel, engine, logger.Component("placement"),
		placement.Thresholds{
			DRAMTarget:    cfg.Thresholds.DRAMTarget,
			DRAMLimit:     cfg.Thresholds.DRAMLimit,
			NVRAMTarget:   cfg.Thresholds.NVRAMTarget,
			NVRAMLimit:    cfg.Thresholds.NVRAMLimit,
			NVRAMBWThresh: cfg.Thresholds.NVRAMBWThresh,
		},
		placement.Tuning{
			MaxNFind:               cfg.Tuning.MaxNFind,
			MaxNSwitch:             cfg.Tuning.MaxNSwitch,
			MemcheckInterval:       time.Duration(cfg.Tuning.MemcheckInterval),
			ClearInterval:          time.Duration(cfg.Tuning.ClearInterval),
			MixedPMMMode:           cfg.Tuning.MixedPMMMode,
			NvramWriteCheckEnabled: cfg.Tuning.NvramWriteCheckEnabled,
		},
		&c.placementMutex,
	)

	executor := admin.New(channel, engine, c.loop, shutdownCtl, &c.placementMutex, logger.Component("admin"),
		cfg.Tuning.MaxNFind, cfg.Tuning.MaxNSwitch)
	c.stdinServer = admin.NewStdinServer(executor, os.Stdin, os.Stdout)
	c.socketServer = admin.NewSocketServer(executor, logger.Component("admin"), cfg.Admin.SocketPath)
	if err := c.socketServer.Listen(); err != nil {
		return nil, fmt.Errorf("controller: listen on admin socket: %w", err)
	}

	if cfg.Metrics.Enabled {
		c.metrics = metrics.New()
	}

	return c, nil
}

// Run starts every background component and blocks until the shutdown
// controller fires, either from an OS signal or the admin "exit"
// command.
func (c *Controller) Run(ctx context.Context) error {
	c.shutdown.Start()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.shutdown.OnStop(cancel)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.loop.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.socketServer.Run(time.Duration(c.cfg.Admin.AcceptTimeout))
	}()

	if c.metrics != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.metrics.Serve(ctx, c.cfg.Metrics.Addr); err != nil {
				c.logger.Warn("metrics server stopped", "error", err.Error())
			}
		}()
	}

	c.logger.Info("tiermemctl started",
		"dram_nodes", c.cfg.Topology.DRAMNodes,
		"nvram_nodes", c.cfg.Topology.NVRAMNodes,
	)

	c.stdinServer.Run()
	c.shutdown.Trigger("stdin closed")

	<-c.shutdown.Done()
	if err := c.socketServer.Close(); err != nil {
		c.logger.Warn("failed to close admin socket", "error", err.Error())
	}
	if err := c.channel.Close(); err != nil {
		c.logger.Warn("failed to close kernel channel", "error", err.Error())
	}
	c.pool.Shutdown()

	wg.Wait()
	c.logger.Info("tiermemctl stopped", "move_pages_failures", c.engine.Failures())
	return nil
}
