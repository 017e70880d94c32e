package ble

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/chaz8081/rz67-trigger/internal/observe"
)

// ManagerOptions configures the connection manager.
type ManagerOptions struct {
	ServiceUUID        string
	CharacteristicUUID string
	ScanTimeout        time.Duration // 0 scans until a peripheral is found
	Backoff            Backoff
	Logger             logrus.FieldLogger
}

// DefaultManagerOptions returns the options for the stock openrz67 firmware.
func DefaultManagerOptions() ManagerOptions {
	return ManagerOptions{
		ServiceUUID:        ServiceUUID,
		CharacteristicUUID: CharacteristicUUID,
		Backoff:            DefaultBackoff(),
	}
}

// Manager owns the peripheral handle and its connection lifecycle.
// It publishes the link phase as text and as a connected flag, and
// reconnects automatically for as long as it runs.
type Manager struct {
	adapter Adapter
	opts    ManagerOptions
	log     logrus.FieldLogger

	state     *observe.Value[string]
	connected *observe.Value[bool]

	mu      sync.Mutex
	periph  Peripheral // nil until bound
	started bool
	cancel  context.CancelFunc

	connectMu   sync.Mutex // one connect in flight at a time
	attempts    atomic.Int64
	disconnects chan struct{}
	wg          sync.WaitGroup

	sleep func(context.Context, time.Duration) error
}

// NewManager creates a manager for the given adapter. Nothing happens on
// the radio until Initialize is called.
func NewManager(adapter Adapter, opts ManagerOptions) *Manager {
	def := DefaultManagerOptions()
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = def.ServiceUUID
	}
	if opts.CharacteristicUUID == "" {
		opts.CharacteristicUUID = def.CharacteristicUUID
	}
	if opts.Backoff.Base <= 0 {
		opts.Backoff.Base = def.Backoff.Base
	}
	if opts.Backoff.Multiplier < 1 {
		opts.Backoff.Multiplier = def.Backoff.Multiplier
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Manager{
		adapter:     adapter,
		opts:        opts,
		log:         opts.Logger.WithField("component", "ble"),
		state:       observe.NewValue(StateDisconnected.String()),
		connected:   observe.NewValue(false),
		disconnects: make(chan struct{}, 1),
		sleep:       sleepCtx,
	}
}

// ConnectionState is the human-readable link phase.
func (m *Manager) ConnectionState() observe.Readable[string] {
	return m.state.ReadOnly()
}

// IsConnected is true iff the last reported phase was Connected.
func (m *Manager) IsConnected() observe.Readable[bool] {
	return m.connected.ReadOnly()
}

// Initialize discovers the peripheral, binds it, starts the reconnect
// watcher and issues the first connect. It returns immediately; progress
// and failures are reported through ConnectionState.
//
// Calls while a previous Initialize is running or has succeeded are no-ops.
// After a failed discovery a new call starts over.
func (m *Manager) Initialize(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		m.log.Debug("already initialized")
		return
	}
	m.started = true
	if m.cancel != nil {
		m.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx)
	}()
}

func (m *Manager) run(ctx context.Context) {
	periph, err := m.discover(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// Torn down mid-discovery; not a discovery failure.
			m.log.WithError(err).Debug("initialization abandoned")
		} else {
			m.log.WithError(err).Error("failed to initialize")
			m.state.Set(StateInitFailed)
		}
		m.mu.Lock()
		m.started = false
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	m.periph = periph
	m.mu.Unlock()

	periph.OnStateChange(m.onState)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.watch(ctx)
	}()

	m.connect(ctx)
}

// discover enables the adapter, waits for the first advertisement of the
// trigger service and binds it.
func (m *Manager) discover(ctx context.Context) (Peripheral, error) {
	if err := m.adapter.Enable(); err != nil {
		return nil, errors.Wrap(err, "ble: enable adapter")
	}

	scanCtx := ctx
	if m.opts.ScanTimeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, m.opts.ScanTimeout)
		defer cancel()
	}

	m.log.WithField("service", m.opts.ServiceUUID).Info("scanning")
	adv, err := FirstAdvertisement(scanCtx, m.adapter, m.opts.ServiceUUID)
	if err != nil {
		return nil, err
	}
	m.log.WithFields(logrus.Fields{
		"name":    adv.Name,
		"address": adv.Address,
		"rssi":    adv.RSSI,
	}).Info("found peripheral")

	periph, err := m.adapter.Bind(adv)
	if err != nil {
		return nil, errors.Wrapf(err, "ble: bind %s", adv.Address)
	}
	return periph, nil
}

// onState republishes a transport notification and wakes the watcher on
// disconnect.
func (m *Manager) onState(s State) {
	m.log.WithField("state", s).Debug("connection state")
	m.state.Set(s.String())
	m.connected.Set(s == StateConnected)

	if s == StateDisconnected {
		select {
		case m.disconnects <- struct{}{}:
		default: // a reconnect is already pending
		}
	}
}

// watch reconnects after every observed disconnect until ctx is done.
func (m *Manager) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.disconnects:
		}

		if m.connected.Get() {
			// Stale wakeup; the link came back on its own.
			continue
		}

		attempt := int(m.attempts.Add(1))
		delay := m.opts.Backoff.Delay(attempt)
		m.log.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Info("waiting to reconnect")

		if err := m.sleep(ctx, delay); err != nil {
			return
		}
		m.connect(ctx)
	}
}

// connect makes one connect attempt. Failures are logged only; the
// transport reports the resulting disconnect and the watcher retries.
func (m *Manager) connect(ctx context.Context) {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	periph := m.periph
	m.mu.Unlock()
	if periph == nil || ctx.Err() != nil {
		return
	}
	if m.connected.Get() {
		return
	}

	m.log.Info("connecting")
	if err := periph.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			m.log.WithError(err).Debug("connect abandoned")
			return
		}
		m.log.WithError(err).Warn("connection attempt failed")
		return
	}
	m.attempts.Store(0)
	m.log.Info("connected")
}

// Write sends data to the command characteristic. It fails with
// ErrNotBound or ErrNotConnected instead of touching a missing link.
func (m *Manager) Write(ctx context.Context, data []byte) error {
	m.mu.Lock()
	periph := m.periph
	m.mu.Unlock()

	if periph == nil {
		return ErrNotBound
	}
	if !m.connected.Get() {
		return ErrNotConnected
	}
	if err := periph.Write(ctx, m.opts.ServiceUUID, m.opts.CharacteristicUUID, data); err != nil {
		return errors.Wrap(err, "ble: write")
	}
	return nil
}

// Cleanup stops reconnecting and disconnects a connected peripheral. It
// never fails; disconnect errors are logged. ctx bounds how long Cleanup
// waits for in-flight work.
func (m *Manager) Cleanup(ctx context.Context) {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.log.Warn("cleanup: background work still running")
	}

	m.mu.Lock()
	periph := m.periph
	m.mu.Unlock()

	if periph == nil || !m.connected.Get() {
		return
	}
	if err := periph.Disconnect(ctx); err != nil {
		m.log.WithError(err).Warn("error during cleanup")
	}
}
