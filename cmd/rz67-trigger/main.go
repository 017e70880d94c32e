package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/chaz8081/rz67-trigger/internal/ble"
	"github.com/chaz8081/rz67-trigger/internal/ble/protocol"
	"github.com/chaz8081/rz67-trigger/internal/config"
	"github.com/chaz8081/rz67-trigger/internal/observe"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var errPeripheralNotFound = errors.New("could not find the trigger peripheral")

func main() {
	app := cli.NewApp()
	app.Name = "rz67-trigger"
	app.Usage = "wireless shutter remote for openrz67 camera triggers"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to config file (default: ~/.config/rz67-trigger/config.yaml)",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "override log_level from the config (debug, info, warn, error)",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "connect and fire the shutter from global hotkeys",
			Action: runCommand,
		},
		{
			Name:  "scan",
			Usage: "list nearby trigger peripherals",
			Flags: []cli.Flag{
				cli.DurationFlag{Name: "timeout, t", Value: 5 * time.Second, Usage: "how long to scan"},
				cli.BoolFlag{Name: "json", Usage: "print results as JSON"},
			},
			Action: scanCommand,
		},
		{
			Name:  "fire",
			Usage: "connect, send a single signal and exit",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "signal, s", Value: "trigger", Usage: "trigger, blink or countdown"},
				cli.BoolFlag{Name: "off", Usage: "send the off variant of the signal"},
				cli.DurationFlag{Name: "timeout, t", Value: 30 * time.Second, Usage: "give up if not connected by then"},
			},
			Action: fireCommand,
		},
		{
			Name:   "countdown",
			Usage:  "arm the self-timer and follow it; Ctrl+C disarms",
			Action: countdownCommand,
		},
		{
			Name:   "init-config",
			Usage:  "write the default config file",
			Action: initConfigCommand,
		},
	}
	app.Action = runCommand

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "rz67-trigger: %v\n", err)
		os.Exit(1)
	}
}

// setup loads and validates the config and builds the root logger.
func setup(c *cli.Context) (*config.Config, *logrus.Logger, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := loadConfig(c.GlobalString("config"), logger)
	if err != nil {
		return nil, nil, errors.Wrap(err, "config")
	}
	if lvl := c.GlobalString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, errors.Wrap(err, "config validation")
	}
	logger.SetLevel(config.ParseLogLevel(cfg.LogLevel))
	return cfg, logger, nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string, logger logrus.FieldLogger) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, errors.Wrapf(err, "loading %s", defaultPath)
		}
		logger.WithField("path", defaultPath).Debug("config loaded")
		return cfg, nil
	}

	logger.Debug("no config file found, using defaults")
	return config.Default(), nil
}

// newManager builds the connection manager on the system radio.
func newManager(cfg *config.Config, logger logrus.FieldLogger) *ble.Manager {
	adapter := ble.NewTinyGoAdapter(cfg.Device.WriteWithoutResponse, logger)
	return ble.NewManager(adapter, ble.ManagerOptions{
		ServiceUUID:        cfg.Device.ServiceUUID,
		CharacteristicUUID: cfg.Device.CharacteristicUUID,
		ScanTimeout:        cfg.Device.ScanTimeout,
		Backoff:            cfg.Backoff(),
		Logger:             logger,
	})
}

func newDispatcher(cfg *config.Config, w ble.Writer, logger logrus.FieldLogger) *ble.Dispatcher {
	return ble.NewDispatcher(w, ble.DispatcherOptions{
		Rate:         cfg.Dispatch.Rate,
		Burst:        cfg.Dispatch.Burst,
		WriteTimeout: cfg.Dispatch.WriteTimeout,
		Logger:       logger,
	})
}

// awaitConnected blocks until the manager reports a connection, the
// initial discovery fails, or ctx is done.
func awaitConnected(ctx context.Context, mgr *ble.Manager) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var failed atomic.Bool
	unsubscribe := mgr.ConnectionState().Subscribe(func(s string) {
		if s == ble.StateInitFailed {
			failed.Store(true)
			cancel()
		}
	})
	defer unsubscribe()

	// Discovery may have failed before the subscription was registered.
	if mgr.ConnectionState().Get() == ble.StateInitFailed {
		return errPeripheralNotFound
	}

	if observe.Await(mgr.IsConnected(), ctx.Done(), func(ok bool) bool { return ok }) {
		return nil
	}
	if failed.Load() {
		return errPeripheralNotFound
	}
	return errors.Wrap(ctx.Err(), "waiting for connection")
}

func scanCommand(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
	defer cancel()

	logger.WithField("timeout", c.Duration("timeout")).Info("scanning")
	adapter := ble.NewTinyGoAdapter(cfg.Device.WriteWithoutResponse, logger)
	devices, err := ble.ScanForDevices(ctx, adapter, cfg.Device.ServiceUUID)
	if err != nil {
		return err
	}

	if c.Bool("json") {
		if devices == nil {
			devices = []ble.Advertisement{}
		}
		out, err := json.MarshalIndent(devices, "", "  ")
		if err != nil {
			return errors.Wrap(err, "encoding scan results")
		}
		fmt.Println(string(out))
		return nil
	}

	if len(devices) == 0 {
		fmt.Println("No trigger peripherals found.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI")
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\n", name, d.Address, d.RSSI)
	}
	return w.Flush()
}

func fireCommand(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}

	kind, err := protocol.ParseKind(c.String("signal"))
	if err != nil {
		return err
	}
	on := !c.Bool("off")

	ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
	defer cancel()

	mgr := newManager(cfg, logger)
	mgr.Initialize(ctx)
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mgr.Cleanup(cleanupCtx)
	}()

	if err := awaitConnected(ctx, mgr); err != nil {
		return err
	}

	data, err := protocol.Signal{Kind: kind, On: on}.Marshal()
	if err != nil {
		return err
	}
	writeCtx, cancelWrite := context.WithTimeout(ctx, cfg.Dispatch.WriteTimeout)
	defer cancelWrite()
	if err := mgr.Write(writeCtx, data); err != nil {
		return err
	}

	fmt.Printf("Sent %s\n", protocol.Signal{Kind: kind, On: on})
	return nil
}

func initConfigCommand(c *cli.Context) error {
	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Printf("Config already exists at %s, leaving it alone.\n", config.DefaultConfigPath())
		return nil
	}
	fmt.Printf("Wrote default config to %s\n", path)
	return nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== rz67-trigger ===")
	fmt.Printf("  Service:   %s\n", cfg.Device.ServiceUUID)
	fmt.Printf("  Mode:      %s\n", cfg.Trigger.Mode)
	if cfg.Reconnect.MaxDelay > 0 {
		fmt.Printf("  Backoff:   capped at %s\n", cfg.Reconnect.MaxDelay)
	}
	if cfg.Hotkey.Enabled {
		fmt.Printf("  Trigger:   %s\n", strings.Join(cfg.Hotkey.TriggerKeys, "+"))
		if len(cfg.Hotkey.ModeKeys) > 0 {
			fmt.Printf("  Mode key:  %s\n", strings.Join(cfg.Hotkey.ModeKeys, "+"))
		}
	} else {
		fmt.Println("  Hotkeys:   off (type t + Enter to trigger, m + Enter to switch mode)")
	}
	fmt.Printf("  Log:       %s\n", cfg.LogLevel)
	fmt.Println("====================")
}
