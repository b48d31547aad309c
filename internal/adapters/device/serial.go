package device

import (
	"context"
	"fmt"
	"io"

	"go.bug.st/serial"
)

const defaultBaudRate = 115200

// SLIP framing bytes (RFC 1055).
const (
	slipEnd    byte = 0xC0
	slipEsc    byte = 0xDB
	slipEscEnd byte = 0xDC
	slipEscEsc byte = 0xDD
)

// SerialOpener opens a serial port for writing.
type SerialOpener func(path string, baudRate int) (io.WriteCloser, error)

// OpenSerial opens path as 8N1 at baudRate, or 115200 when baudRate is not set.
func OpenSerial(path string, baudRate int) (io.WriteCloser, error) {
	if baudRate <= 0 {
		baudRate = defaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", path, err)
	}
	return port, nil
}

// SerialTransport writes SLIP framed pin bytes, one byte per channel.
type SerialTransport struct {
	w   io.WriteCloser
	buf []byte
}

// NewSerialTransport creates a transport writing to w.
func NewSerialTransport(w io.WriteCloser) *SerialTransport {
	return &SerialTransport{w: w}
}

// Send writes one frame. Only the writer goroutine of the device calls it.
func (t *SerialTransport) Send(_ context.Context, pins []int) error {
	t.buf = AppendSLIP(t.buf[:0], pins)
	if _, err := t.w.Write(t.buf); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	return nil
}

// Close closes the port.
func (t *SerialTransport) Close() error { return t.w.Close() }

// AppendSLIP appends pins as a SLIP frame to dst. Values are clamped to a byte.
func AppendSLIP(dst []byte, pins []int) []byte {
	dst = append(dst, slipEnd)
	for _, p := range pins {
		b := byte(min(max(p, 0), 255))
		switch b {
		case slipEnd:
			dst = append(dst, slipEsc, slipEscEnd)
		case slipEsc:
			dst = append(dst, slipEsc, slipEscEsc)
		default:
			dst = append(dst, b)
		}
	}
	return append(dst, slipEnd)
}
