package admin

import (
	"fmt"
	"sync"

	"github.com/jihwankim/tiermemctl/pkg/kernelchan"
	"github.com/jihwankim/tiermemctl/pkg/logging"
	"github.com/jihwankim/tiermemctl/pkg/migration"
	"github.com/jihwankim/tiermemctl/pkg/placement"
	"github.com/jihwankim/tiermemctl/pkg/shutdown"
	"github.com/jihwankim/tiermemctl/pkg/topology"
)

// Executor runs a parsed Command against the kernel channel, migration
// engine, and placement loop, holding the placement mutex across any
// command that touches the candidate buffer so it never races the
// periodic placement loop.
type Executor struct {
	channel        *kernelchan.Channel
	engine         *migration.Engine
	loop           *placement.Loop
	shutdown       *shutdown.Controller
	placementMutex *sync.Mutex
	logger         *logging.Logger

	maxNFind   int
	maxNSwitch int
}

// New creates an Executor. placementMutex must be the same mutex the
// placement loop was constructed with.
func New(
	channel *kernelchan.Channel,
	engine *migration.Engine,
	loop *placement.Loop,
	shutdownCtl *shutdown.Controller,
	placementMutex *sync.Mutex,
	logger *logging.Logger,
	maxNFind, maxNSwitch int,
) *Executor {
	return &Executor{
		channel:        channel,
		engine:         engine,
		loop:           loop,
		shutdown:       shutdownCtl,
		placementMutex: placementMutex,
		logger:         logger,
		maxNFind:       maxNFind,
		maxNSwitch:     maxNSwitch,
	}
}

// Result is a human-readable outcome, printed by the stdin server and
// logged by the socket server.
type Result struct {
	Message string
	IsError bool
}

// Run executes one command and returns its result. Run never blocks past
// one find/migrate round trip.
func (e *Executor) Run(cmd Command) Result {
	switch cmd.Kind {
	case KindBind:
		ok, err := e.channel.Bind(cmd.Pid)
		if err != nil {
			return errorf("bind request error (pid=%d): %v", cmd.Pid, err)
		}
		if ok {
			return okf("bind request success (pid=%d)", cmd.Pid)
		}
		return errorf("bind request failed (pid=%d)", cmd.Pid)

	case KindUnbind:
		ok, err := e.channel.Unbind(cmd.Pid)
		if err != nil {
			return errorf("unbind request error (pid=%d): %v", cmd.Pid, err)
		}
		if ok {
			return okf("unbind request success (pid=%d)", cmd.Pid)
		}
		return errorf("unbind request failed (pid=%d)", cmd.Pid)

	case KindSend:
		return e.runSend(cmd)

	case KindSwitch:
		return e.runSwitch(cmd)

	case KindToggle:
		return e.runToggle(cmd)

	case KindClear:
		return Result{Message: "\033[H\033[2J"}

	case KindExit:
		e.shutdown.Trigger("admin exit command")
		return okf("exiting")

	default:
		return errorf("unknown command")
	}
}

func (e *Executor) runSend(cmd Command) Result {
	var mode kernelchan.Mode
	var dest topology.Tier
	switch cmd.Dest {
	case SendDRAM:
		mode, dest = kernelchan.ModeNVRAMPull, topology.DRAM
	case SendNVRAM:
		mode, dest = kernelchan.ModeDRAMPull, topology.NVRAM
	case SendNVRAMWrite:
		mode, dest = kernelchan.ModeNVRAMWrite, topology.DRAM
	default:
		return errorf("invalid argument for send command")
	}

	e.placementMutex.Lock()
	defer e.placementMutex.Unlock()

	batch, err := e.channel.Find(cmd.N, mode, e.maxNFind)
	if err != nil {
		return errorf("send command find failed: %v", err)
	}
	migrated, err := e.engine.Migrate(batch.Section(0), dest)
	if err != nil {
		return errorf("send command migrate failed: %v", err)
	}
	if migrated > 0 {
		return okf("stdin: migrated %d out of %d pages", migrated, cmd.N)
	}
	return okf("stdin: migrated 0 out of %d pages", cmd.N)
}

func (e *Executor) runSwitch(cmd Command) Result {
	n := cmd.N
	if n > e.maxNSwitch {
		n = e.maxNSwitch
	}

	e.placementMutex.Lock()
	defer e.placementMutex.Unlock()

	batch, err := e.channel.Find(n, kernelchan.ModeSwitch, e.maxNSwitch)
	if err != nil {
		return errorf("switch command find failed: %v", err)
	}
	migrated, err := e.engine.Switch(batch)
	if err != nil {
		return errorf("switch command migrate failed: %v", err)
	}
	if migrated > 0 {
		return okf("NVRAM<->DRAM: switched %d out of %d pages", migrated, n*2)
	}
	return okf("NVRAM<->DRAM: switched 0 out of %d pages", n*2)
}

func (e *Executor) runToggle(cmd Command) Result {
	switch cmd.Toggle {
	case ToggleSwitch:
		on := e.loop.ToggleSwitch()
		return okf("switch component turned %s", onOff(on))
	case ToggleThresh:
		on := e.loop.ToggleThreshold()
		return okf("threshold component turned %s", onOff(on))
	case ToggleAll:
		switchOn, threshOn := e.loop.ToggleAll()
		return okf("switch component turned %s, threshold component turned %s", onOff(switchOn), onOff(threshOn))
	default:
		return errorf("invalid argument for toggle command")
	}
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func okf(format string, args ...interface{}) Result {
	return Result{Message: fmt.Sprintf(format, args...)}
}

func errorf(format string, args ...interface{}) Result {
	return Result{Message: fmt.Sprintf(format, args...), IsError: true}
}
