//go:build darwin || windows

package ble

import "tinygo.org/x/bluetooth"

// acknowledgedWrites reports whether the platform backend can write with
// response.
const acknowledgedWrites = true

func writeWithResponse(char *bluetooth.DeviceCharacteristic, data []byte) error {
	_, err := char.Write(data)
	return err
}
