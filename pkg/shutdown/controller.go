// Package shutdown implements the controller's single shared cancellation
// point: the exit_sig every long-blocking loop polls.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Controller owns the process-wide cancellation context and notifies
// registered callbacks exactly once when it fires, whether triggered by an
// OS signal or by the admin surface's "exit" command.
type Controller struct {
	ctx            context.Context
	cancel         context.CancelFunc
	mutex          sync.Mutex
	triggered      bool
	callbacks      []func()
	signalHandlers bool
}

// Config controls signal handling for a new Controller.
type Config struct {
	// EnableSignalHandlers installs SIGINT/SIGTERM handlers that call
	// Trigger. Tests typically disable this.
	EnableSignalHandlers bool
}

// New creates a shutdown controller. Call Start to begin observing signals.
func New(cfg Config) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		ctx:            ctx,
		cancel:         cancel,
		callbacks:      make([]func(), 0),
		signalHandlers: cfg.EnableSignalHandlers,
	}
}

// Start begins watching for OS signals if enabled. It does not block.
func (c *Controller) Start() {
	if c.signalHandlers {
		go c.watchSignals()
	}
}

func (c *Controller) watchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-c.ctx.Done():
		return
	case sig := <-sigCh:
		c.Trigger("signal: " + sig.String())
	}
}

// Trigger fires the cancellation exactly once, running every registered
// callback. Safe to call concurrently and more than once.
func (c *Controller) Trigger(reason string) {
	c.mutex.Lock()
	if c.triggered {
		c.mutex.Unlock()
		return
	}
	c.triggered = true
	callbacks := append([]func(){}, c.callbacks...)
	c.mutex.Unlock()

	c.cancel()
	for _, cb := range callbacks {
		cb()
	}
	_ = reason
}

// OnStop registers a callback run (in registration order) the first time
// Trigger fires. Registering after Trigger has already fired runs the
// callback immediately.
func (c *Controller) OnStop(callback func()) {
	c.mutex.Lock()
	if c.triggered {
		c.mutex.Unlock()
		callback()
		return
	}
	c.callbacks = append(c.callbacks, callback)
	c.mutex.Unlock()
}

// Done returns the context whose cancellation every long-blocking loop in
// the controller selects on.
func (c *Controller) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Context returns the cancellable context directly, for passing to
// functions that accept context.Context.
func (c *Controller) Context() context.Context {
	return c.ctx
}

// Triggered reports whether shutdown has been requested.
func (c *Controller) Triggered() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.triggered
}
