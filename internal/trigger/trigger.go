// Package trigger turns button presses into shutter commands. In Direct mode
// a press fires the shutter; in Countdown mode it arms or cancels the
// peripheral's self-timer.
package trigger

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/chaz8081/rz67-trigger/internal/ble/protocol"
	"github.com/chaz8081/rz67-trigger/internal/observe"
)

// Mode selects what a press does.
type Mode int

const (
	Direct Mode = iota
	Countdown
)

func (m Mode) String() string {
	switch m {
	case Direct:
		return "direct"
	case Countdown:
		return "countdown"
	default:
		return "unknown"
	}
}

// ParseMode parses "direct" or "countdown".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "direct":
		return Direct, nil
	case "countdown":
		return Countdown, nil
	default:
		return 0, errors.Errorf("trigger: mode must be \"direct\" or \"countdown\", got %q", s)
	}
}

// Sender is the interface the signal dispatcher exposes.
type Sender interface {
	Send(kind protocol.Kind, on bool) <-chan struct{}
}

// Timer is the interface the countdown orchestrator exposes.
type Timer interface {
	Start() bool
	Cancel() bool
	Stop()
	Armed() observe.Readable[bool]
}

// Link is the interface the connection manager exposes.
type Link interface {
	IsConnected() observe.Readable[bool]
	Cleanup(ctx context.Context)
}

// Controller handles presses for the current mode.
type Controller struct {
	link   Link
	sender Sender
	timer  Timer
	log    logrus.FieldLogger

	mode *observe.Value[Mode]
}

// NewController creates a Controller in the given mode.
// Panics if any collaborator is nil (programmer error).
func NewController(link Link, sender Sender, timer Timer, mode Mode, logger logrus.FieldLogger) *Controller {
	if link == nil || sender == nil || timer == nil {
		panic("trigger: NewController called with nil collaborator")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Controller{
		link:   link,
		sender: sender,
		timer:  timer,
		log:    logger.WithField("component", "trigger"),
		mode:   observe.NewValue(mode),
	}
}

// Mode is the current trigger mode.
func (c *Controller) Mode() observe.Readable[Mode] {
	return c.mode.ReadOnly()
}

// ToggleMode switches between Direct and Countdown and returns the new
// mode. A running countdown keeps running.
func (c *Controller) ToggleMode() Mode {
	next := Direct
	if c.mode.Get() == Direct {
		next = Countdown
	}
	c.mode.Set(next)
	c.log.WithField("mode", next).Info("trigger mode changed")
	return next
}

// SetMode selects a mode directly.
func (c *Controller) SetMode(m Mode) {
	c.mode.Set(m)
}

// Enabled reports whether a press would do anything. The trigger is
// disabled while the peripheral is disconnected.
func (c *Controller) Enabled() bool {
	return c.link.IsConnected().Get()
}

// Press handles one button press. Returns false if the trigger is
// disabled.
func (c *Controller) Press() bool {
	if !c.Enabled() {
		c.log.Warn("trigger pressed while disconnected, ignoring")
		return false
	}

	switch c.mode.Get() {
	case Countdown:
		if c.timer.Armed().Get() {
			c.timer.Cancel()
		} else {
			c.timer.Start()
		}
	default:
		c.sender.Send(protocol.Trigger, true)
	}
	return true
}

// Close stops the local countdown and tears the link down.
func (c *Controller) Close(ctx context.Context) {
	c.timer.Stop()
	c.link.Cleanup(ctx)
}
