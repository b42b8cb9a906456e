package uart

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// DefaultBaudRate is the MIDI 1.0 DIN current loop rate.
const DefaultBaudRate = 31250

// MIDI is the DIN MIDI serial line: 31250 baud, 8 data bits, no parity, one
// stop bit. Unset PortOptions fields take these values.
var MIDI = PortOptions{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"}

var (
	parities = map[string]serial.Parity{
		"N": serial.NoParity,
		"E": serial.EvenParity,
		"O": serial.OddParity,
	}
	stopBits = map[int]serial.StopBits{
		1: serial.OneStopBit,
		2: serial.TwoStopBits,
	}
)

// PortOptions describes the serial line the MIDI bytes are written to.
// USB MIDI adapters and test rigs may need a different line, so every field
// can be overridden.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize fills unset fields from MIDI and checks the rest. Parity may be
// spelled out ("even"); it is reduced to its letter.
func (o PortOptions) Normalize() (PortOptions, error) {
	if o.BaudRate <= 0 {
		o.BaudRate = MIDI.BaudRate
	}
	if o.DataBits == 0 {
		o.DataBits = MIDI.DataBits
	}
	if o.StopBits == 0 {
		o.StopBits = MIDI.StopBits
	}
	o.Parity = strings.ToUpper(strings.TrimSpace(o.Parity))
	if o.Parity == "" {
		o.Parity = MIDI.Parity
	}

	if o.DataBits < 5 || o.DataBits > 8 {
		return o, errors.Errorf("data bits %d out of range 5-8", o.DataBits)
	}
	if _, ok := stopBits[o.StopBits]; !ok {
		return o, errors.Errorf("stop bits %d: want 1 or 2", o.StopBits)
	}
	switch o.Parity {
	case "NONE", "EVEN", "ODD":
		o.Parity = o.Parity[:1]
	}
	if _, ok := parities[o.Parity]; !ok {
		return o, errors.Errorf("parity %q: want N, E or O", o.Parity)
	}
	return o, nil
}

// SerialMode converts the options into the serial.Mode go.bug.st/serial
// opens ports with.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	return &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		Parity:   parities[opts.Parity],
		StopBits: stopBits[opts.StopBits],
	}, nil
}

func (o PortOptions) String() string {
	return fmt.Sprintf("%d %d%s%d", o.BaudRate, o.DataBits, o.Parity, o.StopBits)
}
