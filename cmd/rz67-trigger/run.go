package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/chaz8081/rz67-trigger/internal/audio"
	"github.com/chaz8081/rz67-trigger/internal/ble"
	"github.com/chaz8081/rz67-trigger/internal/config"
	"github.com/chaz8081/rz67-trigger/internal/countdown"
	"github.com/chaz8081/rz67-trigger/internal/hotkey"
	"github.com/chaz8081/rz67-trigger/internal/observe"
	"github.com/chaz8081/rz67-trigger/internal/trigger"
)

const shutdownTimeout = 5 * time.Second

// remote is the fully wired trigger: link, dispatcher, countdown and the
// controller that routes presses between them.
type remote struct {
	mgr   *ble.Manager
	disp  *ble.Dispatcher
	timer *countdown.Orchestrator
	ctrl  *trigger.Controller
}

func newRemote(cfg *config.Config, logger logrus.FieldLogger) (*remote, error) {
	mode, err := trigger.ParseMode(cfg.Trigger.Mode)
	if err != nil {
		return nil, err
	}

	mgr := newManager(cfg, logger)
	disp := newDispatcher(cfg, mgr, logger)
	countdownOpts := countdown.DefaultOptions()
	countdownOpts.Logger = logger
	timer := countdown.New(disp, countdownOpts)
	ctrl := trigger.NewController(mgr, disp, timer, mode, logger)

	return &remote{mgr: mgr, disp: disp, timer: timer, ctrl: ctrl}, nil
}

// shutdown disarms a running countdown on the peripheral, flushes pending
// signals, then tears the link down.
func (r *remote) shutdown(logger logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if r.timer.Armed().Get() && r.mgr.IsConnected().Get() {
		r.timer.Cancel()
	}
	if !r.disp.Drain(ctx) {
		logger.Warn("shutdown: pending signals abandoned")
	}
	r.ctrl.Close(ctx)
	r.disp.Close()
}

// newBeeper returns nil when beeps are off or no output device is usable.
func newBeeper(cfg *config.Config, logger logrus.FieldLogger) *audio.Beeper {
	if !cfg.Audio.Beep {
		return nil
	}

	var clip audio.Clip
	if cfg.Audio.BeepFile != "" {
		c, err := audio.LoadClip(cfg.Audio.BeepFile)
		if err != nil {
			logger.WithError(err).Warn("beep file unusable, falling back to tone")
		} else {
			clip = c
		}
	}
	if len(clip.Samples) == 0 {
		clip = audio.Tone(1000, 80*time.Millisecond, cfg.Audio.SampleRate)
	}

	b, err := audio.NewBeeper(clip)
	if err != nil {
		logger.WithError(err).Warn("audio unavailable, countdown will be silent")
		return nil
	}
	return b
}

func runCommand(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}

	r, err := newRemote(cfg, logger)
	if err != nil {
		return err
	}

	printBanner(cfg)

	r.mgr.ConnectionState().Subscribe(func(s string) {
		fmt.Printf("Connection: %s\n", s)
	})
	r.ctrl.Mode().Subscribe(func(m trigger.Mode) {
		fmt.Printf("Mode: %s\n", m)
	})
	r.timer.Remaining().Subscribe(func(n int) {
		if n > 0 {
			fmt.Printf("Countdown: %d\n", n)
		}
	})
	r.timer.Armed().Subscribe(func(armed bool) {
		if armed {
			fmt.Println("Countdown armed")
		} else {
			fmt.Println("Countdown idle")
		}
	})

	beeper := newBeeper(cfg, logger)
	if beeper != nil {
		defer beeper.Close()
		r.timer.Remaining().Subscribe(func(n int) {
			if n > 0 {
				beeper.Beep()
			}
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.mgr.Initialize(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var events <-chan hotkey.Event
	var listener *hotkey.Listener
	if cfg.Hotkey.Enabled {
		listener = hotkey.NewListener(cfg.Hotkey.TriggerKeys, cfg.Hotkey.ModeKeys)
		go listener.Start()
		events = listener.Events()
		logger.WithField("keys", strings.Join(cfg.Hotkey.TriggerKeys, "+")).Info("hotkey listener ready")
	} else {
		events = stdinEvents(logger)
	}

	fmt.Println("Ready! Ctrl+C to quit.")

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				logger.Info("input closed, shutting down")
				r.shutdown(logger)
				return nil
			}
			handleEvent(r.ctrl, ev)

		case sig := <-sigCh:
			logger.WithField("signal", sig).Info("shutting down")
			r.shutdown(logger)
			if listener != nil {
				listener.Stop()
				if beeper != nil {
					beeper.Close()
				}
				// Exit directly to avoid gohook's C cleanup crash.
				// The OS reclaims the event hook on process exit.
				os.Exit(0)
			}
			return nil
		}
	}
}

func handleEvent(ctrl *trigger.Controller, ev hotkey.Event) {
	switch ev.Type {
	case hotkey.EventTrigger:
		if !ctrl.Press() {
			fmt.Println("Not connected, trigger ignored")
		}
	case hotkey.EventToggleMode:
		ctrl.ToggleMode()
	}
}

// stdinEvents turns "t" and "m" lines on stdin into hotkey events for
// terminals where a global hook is unavailable.
func stdinEvents(logger logrus.FieldLogger) <-chan hotkey.Event {
	ch := make(chan hotkey.Event)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
			case "", "t", "trigger":
				ch <- hotkey.Event{Type: hotkey.EventTrigger}
			case "m", "mode":
				ch <- hotkey.Event{Type: hotkey.EventToggleMode}
			default:
				fmt.Println("Commands: t (trigger), m (switch mode)")
			}
		}
		if err := scanner.Err(); err != nil {
			logger.WithError(err).Warn("reading stdin")
		}
	}()
	return ch
}

func countdownCommand(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}

	r, err := newRemote(cfg, logger)
	if err != nil {
		return err
	}
	defer r.shutdown(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r.mgr.Initialize(ctx)
	if err := awaitConnected(ctx, r.mgr); err != nil {
		return err
	}

	r.timer.Remaining().Subscribe(func(n int) {
		if n > 0 {
			fmt.Printf("%d...\n", n)
		}
	})
	if beeper := newBeeper(cfg, logger); beeper != nil {
		defer beeper.Close()
		r.timer.Remaining().Subscribe(func(n int) {
			if n > 0 {
				beeper.Beep()
			}
		})
	}

	if !r.timer.Start() {
		return errors.New("countdown already running")
	}

	if observe.Await(r.timer.Armed(), ctx.Done(), func(armed bool) bool { return !armed }) {
		fmt.Println("Shutter released.")
		return nil
	}

	// Interrupted: shutdown sends the disarm.
	fmt.Println("Countdown cancelled.")
	return nil
}
