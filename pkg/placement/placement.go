// Package placement is the periodic decision maker: it reads occupancy and
// bandwidth, chooses among {idle, threshold-rebalance, bandwidth-driven
// switch, bandwidth-driven pull}, bounds batch size, and serializes
// invocations against the admin surface via a shared placement mutex.
package placement

import (
	"context"
	"sync"
	"time"

	"github.com/jihwankim/tiermemctl/pkg/kernelchan"
	"github.com/jihwankim/tiermemctl/pkg/logging"
	"github.com/jihwankim/tiermemctl/pkg/migration"
	"github.com/jihwankim/tiermemctl/pkg/telemetry"
	"github.com/jihwankim/tiermemctl/pkg/topology"
)

// Thresholds carries the occupancy and bandwidth thresholds the switch
// and threshold components dispatch on.
type Thresholds struct {
	DRAMTarget    float64
	DRAMLimit     float64
	NVRAMTarget   float64
	NVRAMLimit    float64
	NVRAMBWThresh float32
}

// Tuning carries batch-size and timing tunables, plus the supplemented
// NVRAM_WRITE probing toggle.
type Tuning struct {
	MaxNFind               int
	MaxNSwitch             int
	MemcheckInterval       time.Duration
	ClearInterval          time.Duration
	MixedPMMMode           bool
	NvramWriteCheckEnabled bool
}

// Loop is the Placement Loop: one goroutine reading occupancy and
// telemetry, deciding a mode, and driving the Migration Engine.
type Loop struct {
	topo    *topology.Topology
	telem   *telemetry.Reader
	channel *kernelchan.Channel
	engine  *migration.Engine
	logger  *logging.Logger

	thresholds Thresholds
	tuning     Tuning

	// placementMutex guards the candidate buffer across a full
	// find->migrate window, shared with the admin surface's debug
	// migrations.
	placementMutex *sync.Mutex

	switchEnabled     bool
	thresholdEnabled  bool
	nvramPullDisabled bool
}

// New creates a Placement Loop. placementMutex is shared with the admin
// surface so the two never race the candidate buffer.
func New(
	topo *topology.Topology,
	telem *telemetry.Reader,
	channel *kernelchan.Channel,
	engine *migration.Engine,
	logger *logging.Logger,
	thresholds Thresholds,
	tuning Tuning,
	placementMutex *sync.Mutex,
) *Loop {
	return &Loop{
		topo:             topo,
		telem:            telem,
		channel:          channel,
		engine:           engine,
		logger:           logger,
		thresholds:       thresholds,
		tuning:           tuning,
		placementMutex:   placementMutex,
		switchEnabled:    true,
		thresholdEnabled: true,
	}
}

// SetEnabled toggles the switch and/or threshold components, mirroring the
// admin "toggle" command. Pass nil to leave a component's state unchanged.
func (l *Loop) SetEnabled(switchOn, thresholdOn *bool) {
	l.placementMutex.Lock()
	defer l.placementMutex.Unlock()
	if switchOn != nil {
		l.switchEnabled = *switchOn
	}
	if thresholdOn != nil {
		l.thresholdEnabled = *thresholdOn
	}
}

// NvramPullDisabled reports whether the sticky NVRAM_PULL disable flag is
// currently set.
func (l *Loop) NvramPullDisabled() bool {
	l.placementMutex.Lock()
	defer l.placementMutex.Unlock()
	return l.nvramPullDisabled
}

// ToggleSwitch flips the switch component's enabled state and returns the
// new state, mirroring the admin "toggle switch" command.
func (l *Loop) ToggleSwitch() bool {
	l.placementMutex.Lock()
	defer l.placementMutex.Unlock()
	l.switchEnabled = !l.switchEnabled
	return l.switchEnabled
}

// ToggleThreshold flips the threshold component's enabled state and
// returns the new state, mirroring the admin "toggle thresh" command.
func (l *Loop) ToggleThreshold() bool {
	l.placementMutex.Lock()
	defer l.placementMutex.Unlock()
	l.thresholdEnabled = !l.thresholdEnabled
	return l.thresholdEnabled
}

// ToggleAll flips both components and returns their new states, mirroring
// the admin "toggle all" command.
func (l *Loop) ToggleAll() (switchOn, thresholdOn bool) {
	l.placementMutex.Lock()
	defer l.placementMutex.Unlock()
	l.switchEnabled = !l.switchEnabled
	l.thresholdEnabled = !l.thresholdEnabled
	return l.switchEnabled, l.thresholdEnabled
}

// Run blocks, running placement ticks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sleep := l.Tick()

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// Tick runs one placement iteration and returns how long to sleep before
// the next one. Exported so tests can drive individual ticks.
func (l *Loop) Tick() time.Duration {
	l.placementMutex.Lock()
	defer l.placementMutex.Unlock()

	if !l.switchEnabled && !l.thresholdEnabled && !l.tuning.NvramWriteCheckEnabled {
		return l.tuning.MemcheckInterval
	}

	dramUsage, err := l.topo.TierUsage(topology.DRAM)
	if err != nil {
		l.logger.Warn("failed to read dram usage", "error", err.Error())
		return l.tuning.MemcheckInterval
	}
	nvramUsage, err := l.topo.TierUsage(topology.NVRAM)
	if err != nil {
		l.logger.Warn("failed to read nvram usage", "error", err.Error())
		return l.tuning.MemcheckInterval
	}

	switchMigrated := false
	thresholdMigrated := false

	if l.switchEnabled {
		switchMigrated, _ = l.runSwitchComponent(dramUsage)
	}

	if l.thresholdEnabled {
		thresholdMigrated = l.runThresholdComponent(dramUsage, nvramUsage)
	}

	writeCheckMigrated := l.runNvramWriteCheckComponent()

	sleep := l.tuning.MemcheckInterval
	if switchMigrated || thresholdMigrated {
		sleep *= 2
		if switchMigrated {
			sleep -= l.tuning.ClearInterval
			if sleep < 0 {
				sleep = 0
			}
		}
	}
	if writeCheckMigrated {
		sleep *= 3
	}
	return sleep
}

// runNvramWriteCheckComponent is the supplemented write-intensive probing
// check: disabled by default, it clears NVRAM write pressure and issues an
// NVRAM_WRITE find, pulling write-only pages back to DRAM when the PMM
// write signal is over threshold. The original ran this as its own thread
// with its own act flag; here it folds into the same tick so it shares the
// placement mutex and candidate buffer with the switch and threshold
// components instead of needing a fourth goroutine.
func (l *Loop) runNvramWriteCheckComponent() bool {
	if !l.tuning.NvramWriteCheckEnabled {
		return false
	}

	sample, err := l.telem.ReadSample()
	if err != nil {
		return false
	}
	writeSignal := sample.PMMWrites
	if l.tuning.MixedPMMMode {
		writeSignal = sample.PMMAppBW
	}
	if writeSignal <= l.thresholds.NVRAMBWThresh {
		return false
	}

	if _, err := l.channel.Find(0, kernelchan.ModeNVRAMClear, l.tuning.MaxNFind); err != nil {
		l.logger.Warn("NVRAM_CLEAR find failed (write check)", "error", err.Error())
	}
	time.Sleep(l.tuning.ClearInterval)

	batch, err := l.channel.Find(l.tuning.MaxNFind, kernelchan.ModeNVRAMWrite, l.tuning.MaxNFind)
	if err != nil {
		l.logger.Warn("NVRAM_WRITE find failed", "error", err.Error())
		return false
	}
	migrated, merr := l.engine.Migrate(batch.Section(0), topology.DRAM)
	if merr != nil {
		l.logger.Warn("NVRAM_WRITE migrate failed", "error", merr.Error())
	}
	return migrated > 0
}

// runSwitchComponent is the bandwidth-driven component: it clears NVRAM
// write pressure and, depending on DRAM occupancy, either switches hot
// NVRAM pages with cold DRAM pages or pulls NVRAM-intensive pages up into
// DRAM.
func (l *Loop) runSwitchComponent(dramUsage float64) (migrated bool, clearIssued bool) {
	sample, err := l.telem.ReadSample()
	if err != nil {
		return false, false
	}

	writeSignal := sample.PMMWrites
	if l.tuning.MixedPMMMode {
		writeSignal = sample.PMMAppBW
	}
	if writeSignal <= l.thresholds.NVRAMBWThresh {
		return false, false
	}

	if _, err := l.channel.Find(0, kernelchan.ModeNVRAMClear, l.tuning.MaxNFind); err != nil {
		l.logger.Warn("NVRAM_CLEAR find failed", "error", err.Error())
	}
	clearIssued = true
	time.Sleep(l.tuning.ClearInterval)

	if dramUsage >= l.thresholds.DRAMTarget {
		batch, err := l.channel.Find(l.tuning.MaxNSwitch, kernelchan.ModeSwitch, l.tuning.MaxNSwitch)
		if err != nil {
			l.logger.Warn("SWITCH find failed", "error", err.Error())
			return false, clearIssued
		}
		migrated, serr := l.engine.Switch(batch)
		if serr != nil {
			l.logger.Warn("SWITCH migrate failed", "error", serr.Error())
		}
		return migrated > 0, clearIssued
	}

	_, dramTotalBytes, err := l.topo.TierFreeBytes(topology.DRAM)
	if err != nil {
		return false, clearIssued
	}
	pageSize := l.topo.PageSize()
	nPages := boundedPages((l.thresholds.DRAMLimit-dramUsage)*float64(dramTotalBytes), pageSize, l.tuning.MaxNFind)

	batch, err := l.channel.Find(nPages, kernelchan.ModeNVRAMIntensive, l.tuning.MaxNFind)
	if err != nil {
		l.logger.Warn("NVRAM_INTENSIVE find failed", "error", err.Error())
		return false, clearIssued
	}
	migratedPages, merr := l.engine.Migrate(batch.Section(0), topology.DRAM)
	if merr != nil {
		l.logger.Warn("NVRAM_INTENSIVE migrate failed", "error", merr.Error())
	}
	return migratedPages > 0, clearIssued
}

// runThresholdComponent is the occupancy-driven component: it pulls pages
// out of DRAM when DRAM is over its limit and NVRAM has room, or pulls
// pages back from NVRAM when NVRAM is over its limit and DRAM has room.
func (l *Loop) runThresholdComponent(dramUsage, nvramUsage float64) bool {
	_, dramTotalBytes, err := l.topo.TierFreeBytes(topology.DRAM)
	if err != nil {
		return false
	}
	_, nvramTotalBytes, err := l.topo.TierFreeBytes(topology.NVRAM)
	if err != nil {
		return false
	}
	pageSize := l.topo.PageSize()

	if dramUsage > l.thresholds.DRAMLimit && nvramUsage < l.thresholds.NVRAMTarget {
		nPages := minInt(
			l.tuning.MaxNFind,
			boundedPages((dramUsage-l.thresholds.DRAMTarget)*float64(dramTotalBytes), pageSize, l.tuning.MaxNFind),
			boundedPages((l.thresholds.NVRAMTarget-nvramUsage)*float64(nvramTotalBytes), pageSize, l.tuning.MaxNFind),
		)
		batch, err := l.channel.Find(nPages, kernelchan.ModeDRAMPull, l.tuning.MaxNFind)
		if err != nil {
			l.logger.Warn("DRAM_PULL find failed", "error", err.Error())
			return false
		}
		migrated, merr := l.engine.Migrate(batch.Section(0), topology.NVRAM)
		if merr != nil {
			l.logger.Warn("DRAM_PULL migrate failed", "error", merr.Error())
		}
		if migrated > 0 {
			l.nvramPullDisabled = false
		}
		return migrated > 0
	}

	if l.switchEnabled {
		return false
	}

	if l.nvramPullDisabled {
		return false
	}

	if nvramUsage > l.thresholds.NVRAMLimit && dramUsage < l.thresholds.DRAMTarget {
		nPages := minInt(
			l.tuning.MaxNFind,
			boundedPages((nvramUsage-l.thresholds.NVRAMTarget)*float64(nvramTotalBytes), pageSize, l.tuning.MaxNFind),
			boundedPages((l.thresholds.DRAMTarget-dramUsage)*float64(dramTotalBytes), pageSize, l.tuning.MaxNFind),
		)
		batch, err := l.channel.Find(nPages, kernelchan.ModeNVRAMPull, l.tuning.MaxNFind)
		if err != nil {
			l.logger.Warn("NVRAM_PULL find failed", "error", err.Error())
			return false
		}
		if batch.Retval == -2 {
			l.nvramPullDisabled = true
			return false
		}
		migrated, merr := l.engine.Migrate(batch.Section(0), topology.DRAM)
		if merr != nil {
			l.logger.Warn("NVRAM_PULL migrate failed", "error", merr.Error())
		}
		return migrated > 0
	}

	return false
}

func minInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func boundedPages(bytes float64, pageSize uint64, maxN int) int {
	if bytes <= 0 {
		return 0
	}
	n := int(bytes / float64(pageSize))
	if n > maxN {
		n = maxN
	}
	return n
}
