package transport

import (
	"time"

	serial "github.com/daedaluz/goserial"
)

// SerialReadTimeout is the fixed per-read timeout for the UART channel.
const SerialReadTimeout = 500 * time.Millisecond

// SerialChannel is a ByteChannel backed by a real UART, configured for
// 115200 8N1 with no flow control, the line discipline every mask-ROM boot
// loader in this family expects.
type SerialChannel struct {
	path string
	port *serial.Port
}

// NewSerialChannel returns an unopened channel bound to the given device
// node (e.g. "/dev/ttyUSB0").
func NewSerialChannel(path string) *SerialChannel {
	return &SerialChannel{path: path}
}

func (c *SerialChannel) Kind() Kind { return KindSerial }

func (c *SerialChannel) Open() error {
	opts := serial.NewOptions().SetReadTimeout(SerialReadTimeout)
	port, err := serial.Open(c.path, opts)
	if err != nil {
		return wrapErr("serial open "+c.path, err)
	}

	attrs, err := port.GetAttr2()
	if err != nil {
		port.Close()
		return wrapErr("serial get attrs", err)
	}
	attrs.MakeRaw()
	attrs.Cflag &^= (serial.CSIZE | serial.PARENB | serial.CSTOPB | serial.CRTSCTS | serial.CBAUD)
	attrs.Cflag |= serial.CS8 | serial.CLOCAL | serial.CREAD
	attrs.Iflag &^= (serial.IXON | serial.IXOFF)
	attrs.SetSpeed(serial.B115200)
	if err := port.SetAttr2(serial.TCSANOW, attrs); err != nil {
		port.Close()
		return wrapErr("serial set attrs", err)
	}

	c.port = port
	return nil
}

func (c *SerialChannel) Close() error {
	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port = nil
	if err != nil {
		return wrapErr("serial close", err)
	}
	return nil
}

func (c *SerialChannel) Write(b []byte) error {
	if c.port == nil {
		return wrapErr("serial write", ErrClosed)
	}
	written := 0
	for written < len(b) {
		n, err := c.port.Write(b[written:])
		if err != nil {
			return wrapErr("serial write", err)
		}
		if n == 0 {
			return wrapErr("serial write", ErrTimeout)
		}
		written += n
	}
	return nil
}

// ReadExact accumulates reads until exactly n bytes have been collected. A
// read that returns zero bytes (the line discipline's way of signalling the
// 0.5s timeout elapsed with no data) fails the whole operation.
func (c *SerialChannel) ReadExact(n int) ([]byte, error) {
	if c.port == nil {
		return nil, wrapErr("serial read", ErrClosed)
	}
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		count, err := c.port.ReadTimeout(buf[:n-len(out)], SerialReadTimeout)
		if err != nil {
			return nil, wrapErr("serial read", err)
		}
		if count == 0 {
			return nil, wrapErr("serial read", ErrTimeout)
		}
		out = append(out, buf[:count]...)
	}
	return out, nil
}
