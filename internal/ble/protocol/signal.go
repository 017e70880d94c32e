// Package protocol implements the single-byte command encoding understood
// by the openrz67 trigger firmware.
//
// Each command is the sole payload of one GATT write. There is no framing,
// checksum, or acknowledgement beyond the link layer.
package protocol

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies a command family. Each family has an "on" and an "off" byte.
type Kind int

const (
	// Trigger fires (on) or releases (off) the shutter.
	Trigger Kind = iota
	// Blink is the legacy LED test command.
	Blink
	// ArduinoCountdown arms (on) or disarms (off) the peripheral's own
	// self-timer.
	ArduinoCountdown
)

// Wire values. The tens digit selects the family, the units digit the state.
const (
	TriggerOff          byte = 10
	TriggerOn           byte = 11
	BlinkOff            byte = 20
	BlinkOn             byte = 21
	ArduinoCountdownOff byte = 30
	ArduinoCountdownOn  byte = 31
)

// ErrUnknownKind is returned when encoding or decoding a value outside the
// command table.
var ErrUnknownKind = errors.New("protocol: unknown signal kind")

func (k Kind) String() string {
	switch k {
	case Trigger:
		return "trigger"
	case Blink:
		return "blink"
	case ArduinoCountdown:
		return "arduino-countdown"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind maps a command name (as printed by Kind.String) to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "trigger":
		return Trigger, nil
	case "blink":
		return Blink, nil
	case "arduino-countdown", "countdown":
		return ArduinoCountdown, nil
	default:
		return 0, errors.Wrapf(ErrUnknownKind, "%q", s)
	}
}

// Signal is one logical command.
type Signal struct {
	Kind Kind
	On   bool
}

func (s Signal) String() string {
	if s.On {
		return s.Kind.String() + "/on"
	}
	return s.Kind.String() + "/off"
}

// Encode returns the wire byte for s.
func (s Signal) Encode() (byte, error) {
	var on, off byte
	switch s.Kind {
	case Trigger:
		on, off = TriggerOn, TriggerOff
	case Blink:
		on, off = BlinkOn, BlinkOff
	case ArduinoCountdown:
		on, off = ArduinoCountdownOn, ArduinoCountdownOff
	default:
		return 0, errors.Wrapf(ErrUnknownKind, "encode %d", int(s.Kind))
	}
	if s.On {
		return on, nil
	}
	return off, nil
}

// Marshal returns the one-byte write payload for s.
func (s Signal) Marshal() ([]byte, error) {
	b, err := s.Encode()
	if err != nil {
		return nil, err
	}
	return []byte{b}, nil
}

// Decode maps a wire byte back to its Signal.
func Decode(b byte) (Signal, error) {
	switch b {
	case TriggerOn, TriggerOff:
		return Signal{Kind: Trigger, On: b == TriggerOn}, nil
	case BlinkOn, BlinkOff:
		return Signal{Kind: Blink, On: b == BlinkOn}, nil
	case ArduinoCountdownOn, ArduinoCountdownOff:
		return Signal{Kind: ArduinoCountdown, On: b == ArduinoCountdownOn}, nil
	default:
		return Signal{}, errors.Wrapf(ErrUnknownKind, "decode byte %d", b)
	}
}
