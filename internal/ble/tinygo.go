package ble

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"
)

// TinyGoAdapter wraps tinygo-org/bluetooth (BlueZ on Linux, CoreBluetooth on
// macOS, WinRT on Windows). On macOS, peripheral addresses are CoreBluetooth
// UUIDs rather than MAC addresses; they are treated as opaque strings.
type TinyGoAdapter struct {
	adapter         *bluetooth.Adapter
	withoutResponse bool
	log             logrus.FieldLogger

	// mu protects the peripherals map.
	mu          sync.Mutex
	peripherals map[string]*tinyGoPeripheral // keyed by address
}

// NewTinyGoAdapter creates an adapter on the system default radio. When
// withoutResponse is set, commands are written without link-layer
// acknowledgement. On Linux writes are always without response.
func NewTinyGoAdapter(withoutResponse bool, logger logrus.FieldLogger) *TinyGoAdapter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	log := logger.WithField("component", "ble")
	if !withoutResponse && !acknowledgedWrites {
		log.Warn("acknowledged writes are not available on this platform, writing without response")
	}
	return &TinyGoAdapter{
		adapter:         bluetooth.DefaultAdapter,
		withoutResponse: writeMode(withoutResponse),
		log:             log,
		peripherals:     make(map[string]*tinyGoPeripheral),
	}
}

// writeMode returns whether writes actually go without response.
func writeMode(withoutResponse bool) bool {
	return withoutResponse || !acknowledgedWrites
}

func (a *TinyGoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// tinygo/bluetooth reports peripheral-initiated disconnects only through
	// the adapter-wide connect handler.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.mu.Lock()
		p, ok := a.peripherals[id]
		a.mu.Unlock()
		if ok {
			p.lost()
		}
	})

	return nil
}

func (a *TinyGoAdapter) Scan(ctx context.Context, serviceUUID string) (<-chan Advertisement, error) {
	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, errors.Wrap(err, "ble: parse service UUID")
	}

	out := make(chan Advertisement, 8)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = a.adapter.StopScan()
		case <-done:
		}
	}()

	go func() {
		defer close(out)
		err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !result.HasServiceUUID(uuid) {
				return
			}
			adv := Advertisement{
				Name:    result.LocalName(),
				Address: result.Address.String(),
				RSSI:    int(result.RSSI),
			}
			select {
			case out <- adv:
			default: // consumer is behind; the peripheral will advertise again
			}
		})
		close(done)
		if err != nil && ctx.Err() == nil {
			a.log.WithError(err).Error("scan failed")
		}
	}()

	return out, nil
}

func (a *TinyGoAdapter) Bind(adv Advertisement) (Peripheral, error) {
	if adv.Address == "" {
		return nil, errors.New("ble: advertisement has no address")
	}
	var addr bluetooth.Address
	addr.Set(adv.Address)

	p := &tinyGoPeripheral{
		adapter: a,
		addr:    addr,
		id:      adv.Address,
		chars:   make(map[string]*bluetooth.DeviceCharacteristic),
	}

	// Track this peripheral so the adapter-level disconnect handler can
	// find it.
	a.mu.Lock()
	a.peripherals[adv.Address] = p
	a.mu.Unlock()

	return p, nil
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

type tinyGoPeripheral struct {
	adapter *TinyGoAdapter
	addr    bluetooth.Address
	id      string

	mu     sync.Mutex
	device *bluetooth.Device
	chars  map[string]*bluetooth.DeviceCharacteristic // keyed by characteristic UUID

	emitMu sync.Mutex // keeps notifications in order
	state  State
	cb     func(State)
}

func (p *tinyGoPeripheral) OnStateChange(cb func(State)) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	p.cb = cb
}

func (p *tinyGoPeripheral) setState(s State) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	if p.state == s {
		return
	}
	p.state = s
	if p.cb != nil {
		p.cb(s)
	}
}

func (p *tinyGoPeripheral) Connect(ctx context.Context) error {
	p.setState(StateConnecting)

	// tinygo/bluetooth's Connect blocks with its own timeout.
	// We wrap it to also respect our ctx cancellation.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := p.adapter.adapter.Connect(p.addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// The underlying Connect may still succeed later; drop that link.
		go func() {
			if r := <-ch; r.err == nil {
				_ = r.device.Disconnect()
			}
		}()
		p.setState(StateDisconnected)
		return errors.Wrapf(ctx.Err(), "ble: connect to %s", p.id)
	case r := <-ch:
		if r.err != nil {
			p.setState(StateDisconnected)
			return errors.Wrapf(ErrConnectionLost, "ble: connect to %s: %v", p.id, r.err)
		}
		p.mu.Lock()
		p.device = &r.device
		p.mu.Unlock()
		p.setState(StateConnected)
		return nil
	}
}

func (p *tinyGoPeripheral) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	device := p.device
	p.mu.Unlock()
	if device == nil {
		return nil
	}

	p.setState(StateDisconnecting)
	if err := device.Disconnect(); err != nil {
		p.setState(StateConnected)
		return errors.Wrapf(err, "ble: disconnect %s", p.id)
	}
	p.lost()
	return nil
}

// lost forgets the link and reports Disconnected.
func (p *tinyGoPeripheral) lost() {
	p.mu.Lock()
	p.device = nil
	p.chars = make(map[string]*bluetooth.DeviceCharacteristic)
	p.mu.Unlock()
	p.setState(StateDisconnected)
}

func (p *tinyGoPeripheral) Write(ctx context.Context, serviceUUID, charUUID string, data []byte) error {
	char, err := p.characteristic(serviceUUID, charUUID)
	if err != nil {
		return err
	}

	ch := make(chan error, 1)
	go func() {
		var err error
		if p.adapter.withoutResponse {
			_, err = char.WriteWithoutResponse(data)
		} else {
			err = writeWithResponse(char, data)
		}
		ch <- err
	}()

	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "ble: write")
	case err := <-ch:
		return err
	}
}

// characteristic returns the cached characteristic, discovering it on
// first use after each connect.
func (p *tinyGoPeripheral) characteristic(serviceUUID, charUUID string) (*bluetooth.DeviceCharacteristic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.device == nil {
		return nil, ErrNotConnected
	}
	if c, ok := p.chars[charUUID]; ok {
		return c, nil
	}

	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	charUUIDParsed, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}

	svcs, err := p.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, errors.Wrap(err, "ble: discover services")
	}
	if len(svcs) == 0 {
		return nil, errors.Errorf("ble: service %s not found", serviceUUID)
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{charUUIDParsed})
	if err != nil {
		return nil, errors.Wrap(err, "ble: discover characteristics")
	}
	if len(chars) == 0 {
		return nil, errors.Errorf("ble: characteristic %s not found", charUUID)
	}

	p.chars[charUUID] = &chars[0]
	return &chars[0], nil
}
