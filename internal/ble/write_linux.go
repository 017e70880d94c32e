//go:build linux

package ble

import "tinygo.org/x/bluetooth"

// The BlueZ backend of tinygo-org/bluetooth only exposes
// write-without-response.
const acknowledgedWrites = false

func writeWithResponse(char *bluetooth.DeviceCharacteristic, data []byte) error {
	_, err := char.WriteWithoutResponse(data)
	return err
}
