package modem

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.bug.st/serial"
)

//go:generate go tool mockgen -destination=mock_transport.go -package=modem . Transport,Dialer

// Transport represents an established, bidirectional byte stream to a cellular modem.
//
// A Transport is assumed to be already connected and ready for use. It provides
// the low-level I/O primitives required to send AT commands and receive responses.
// Typical implementations include serial ports, TCP connections to emulators,
// or in-memory fakes used for testing.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport to a cellular modem.
//
// Dialer abstracts how the modem connection is created (for example, via a
// serial port, TCP-based emulator, or test double) and is intended to be used
// during modem construction only. Once a Transport is obtained, the Dialer is
// no longer needed.
type Dialer interface {
	// Dial is responsible for creating and returning a connected Transport. It may
	// perform blocking operations and should respect cancellation and deadlines
	// provided by the context. Dial returns an error if the transport cannot be
	// established.
	Dial(ctx context.Context) (Transport, error)
}

// drainer is implemented by transports that can block until written bytes
// left the UART, as serial.Port does.
type drainer interface {
	Drain() error
}

// SerialDialer opens the modem over a serial port using go.bug.st/serial.
// When Mode is nil, BaudRate (default 115200) with 8N1 framing is used.
type SerialDialer struct {
	PortName string
	BaudRate int
	Mode     *serial.Mode
}

func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("cellmux: context is nil")
	}
	if d.PortName == "" {
		return nil, errors.New("cellmux: serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	port, err := serial.Open(d.PortName, d.mode())
	if err != nil {
		return nil, fmt.Errorf("cellmux: open serial port %s: %w", d.PortName, err)
	}
	if err := ctx.Err(); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}

func (d SerialDialer) mode() *serial.Mode {
	if d.Mode != nil {
		return d.Mode
	}
	baud := d.BaudRate
	if baud <= 0 {
		baud = 115200
	}
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}
