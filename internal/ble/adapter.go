// Package ble manages the BLE link to an openrz67 camera-trigger peripheral.
// It discovers the peripheral, keeps it connected with exponential-backoff
// reconnection, and dispatches single-byte commands to it.
package ble

import (
	"context"

	"github.com/pkg/errors"
)

// openrz67 trigger UUIDs
const (
	ServiceUUID        = "c9239c9e-6fc9-4168-b3aa-53105eb990b0"
	CharacteristicUUID = "458d4dc9-349f-401d-b092-a2b1c55f5319"
)

var (
	// ErrNotBound is returned when an operation needs a peripheral handle
	// before Initialize has bound one.
	ErrNotBound = errors.New("ble: no peripheral bound")
	// ErrNotConnected is returned for writes while the link is down.
	ErrNotConnected = errors.New("ble: peripheral not connected")
	// ErrConnectionLost is returned by transports when the link drops
	// during a connect attempt.
	ErrConnectionLost = errors.New("ble: connection lost")
)

// Advertisement is a discovered peripheral.
type Advertisement struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	RSSI    int    `json:"rssi"`
}

// Peripheral is a bound handle to one remote device.
//
// Implementations report every phase change on the state stream, in order.
// A failed Connect must leave the peripheral in StateDisconnected and
// report it.
type Peripheral interface {
	// Connect establishes the link and discovers the command characteristic.
	Connect(ctx context.Context) error
	// Disconnect tears the link down.
	Disconnect(ctx context.Context) error
	// OnStateChange registers the callback for phase changes. Only the
	// most recent callback is kept.
	OnStateChange(cb func(State))
	// Write sends data to the given characteristic.
	Write(ctx context.Context, serviceUUID, charUUID string, data []byte) error
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan streams peripherals advertising serviceUUID until ctx is
	// cancelled. The channel is closed when scanning stops.
	Scan(ctx context.Context, serviceUUID string) (<-chan Advertisement, error)
	// Bind returns a handle for the advertised peripheral without connecting.
	Bind(adv Advertisement) (Peripheral, error)
}

// FirstAdvertisement scans until the first matching peripheral shows up.
func FirstAdvertisement(ctx context.Context, adapter Adapter, serviceUUID string) (Advertisement, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ads, err := adapter.Scan(ctx, serviceUUID)
	if err != nil {
		return Advertisement{}, errors.Wrap(err, "ble: scan")
	}
	select {
	case adv, ok := <-ads:
		if !ok {
			if ctx.Err() != nil {
				return Advertisement{}, errors.Wrap(ctx.Err(), "ble: scan")
			}
			return Advertisement{}, errors.New("ble: scan ended without a match")
		}
		return adv, nil
	case <-ctx.Done():
		return Advertisement{}, errors.Wrap(ctx.Err(), "ble: scan")
	}
}

// ScanForDevices collects every peripheral advertising serviceUUID until ctx
// expires. Duplicates by address are dropped.
func ScanForDevices(ctx context.Context, adapter Adapter, serviceUUID string) ([]Advertisement, error) {
	if err := adapter.Enable(); err != nil {
		return nil, errors.Wrap(err, "ble: enable adapter")
	}

	ads, err := adapter.Scan(ctx, serviceUUID)
	if err != nil {
		return nil, errors.Wrap(err, "ble: scan")
	}

	var devices []Advertisement
	seen := make(map[string]bool)
	for {
		select {
		case adv, ok := <-ads:
			if !ok {
				return devices, nil
			}
			if seen[adv.Address] {
				continue
			}
			seen[adv.Address] = true
			devices = append(devices, adv)
		case <-ctx.Done():
			return devices, nil
		}
	}
}
