// Package countdown mirrors the peripheral's self-timer locally.
//
// Arming sends ArduinoCountdown(on) and starts a local ticker that counts
// down from Steps to zero. The peripheral fires on its own when its timer
// runs out, so natural completion sends nothing. Cancelling sends
// ArduinoCountdown(off) and stops the ticker; no tick is published after a
// cancel returns.
package countdown

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chaz8081/rz67-trigger/internal/ble/protocol"
	"github.com/chaz8081/rz67-trigger/internal/observe"
)

// Sender dispatches a signal without blocking. *ble.Dispatcher implements it.
type Sender interface {
	Send(kind protocol.Kind, on bool) <-chan struct{}
}

// Options configures the countdown length.
type Options struct {
	Steps    int
	Interval time.Duration
	Logger   logrus.FieldLogger
}

// DefaultOptions matches the firmware's 10 second self-timer.
func DefaultOptions() Options {
	return Options{
		Steps:    10,
		Interval: time.Second,
	}
}

// State is a snapshot of the countdown.
type State struct {
	Armed     bool
	Remaining int
}

// Orchestrator runs at most one countdown at a time.
//
// Subscribers of Armed and Remaining are notified while the orchestrator's
// lock is held and must not call back into it.
type Orchestrator struct {
	sender Sender
	opts   Options
	log    logrus.FieldLogger

	mu   sync.Mutex
	run  uint64        // incremented on every start and stop
	stop chan struct{} // closes the running ticker; nil when idle

	armed     *observe.Value[bool]
	remaining *observe.Value[int]
}

// New creates an idle orchestrator.
func New(sender Sender, opts Options) *Orchestrator {
	def := DefaultOptions()
	if opts.Steps <= 0 {
		opts.Steps = def.Steps
	}
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Orchestrator{
		sender:    sender,
		opts:      opts,
		log:       opts.Logger.WithField("component", "countdown"),
		armed:     observe.NewValue(false),
		remaining: observe.NewValue(0),
	}
}

// Armed is true while a countdown is running.
func (o *Orchestrator) Armed() observe.Readable[bool] {
	return o.armed.ReadOnly()
}

// Remaining is the number of ticks left, 0 when idle.
func (o *Orchestrator) Remaining() observe.Readable[int] {
	return o.remaining.ReadOnly()
}

// State returns a consistent snapshot.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return State{Armed: o.armed.Get(), Remaining: o.remaining.Get()}
}

// Start arms the peripheral and begins counting. Returns false without side
// effects if a countdown is already running; cancel it first to restart.
func (o *Orchestrator) Start() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.armed.Get() {
		o.log.Debug("countdown already armed")
		return false
	}

	o.sender.Send(protocol.ArduinoCountdown, true)
	o.armed.Set(true)
	o.remaining.Set(o.opts.Steps)

	o.run++
	stop := make(chan struct{})
	o.stop = stop
	go o.tickLoop(o.run, stop)

	o.log.WithField("steps", o.opts.Steps).Info("countdown armed")
	return true
}

// Cancel disarms the peripheral and stops the local timer. Returns false
// without side effects when no countdown is running.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.armed.Get() {
		return false
	}

	o.sender.Send(protocol.ArduinoCountdown, false)
	o.halt()
	o.log.Info("countdown cancelled")
	return true
}

// Toggle cancels a running countdown or starts a new one.
func (o *Orchestrator) Toggle() {
	if !o.Cancel() {
		o.Start()
	}
}

// Stop halts the local timer without disarming the peripheral. Used on
// shutdown.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.armed.Get() {
		o.halt()
	}
}

// halt invalidates the running ticker and resets to idle (caller holds mu).
func (o *Orchestrator) halt() {
	o.run++
	if o.stop != nil {
		close(o.stop)
		o.stop = nil
	}
	o.remaining.Set(0)
	o.armed.Set(false)
}

func (o *Orchestrator) tickLoop(run uint64, stop <-chan struct{}) {
	t := time.NewTicker(o.opts.Interval)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		if !o.tick(run) {
			return
		}
	}
}

// tick decrements the countdown if run is still current. Returns false
// once the ticker should exit.
func (o *Orchestrator) tick(run uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	// A tick that lost the race with Cancel is dropped here.
	if run != o.run {
		return false
	}

	left := o.remaining.Get() - 1
	if left > 0 {
		o.remaining.Set(left)
		o.log.WithField("remaining", left).Debug("tick")
		return true
	}

	o.run++
	o.stop = nil
	o.remaining.Set(0)
	o.armed.Set(false)
	o.log.Info("countdown finished")
	return false
}
