package modem

import (
	"fmt"

	"go.bug.st/serial"
)

// SerialDialer opens a cellular modem over a local serial port.
type SerialDialer struct {
	// PortName is the device path, e.g. "/dev/ttyUSB0".
	PortName string
	// BaudRate is the line speed, e.g. 115200.
	BaudRate int
}

// Dial opens the serial port in 8N1 mode at the configured baud rate.
func (d SerialDialer) Dial() (Transport, error) {
	mode := &serial.Mode{
		BaudRate: d.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", d.PortName, err)
	}
	return port, nil
}
