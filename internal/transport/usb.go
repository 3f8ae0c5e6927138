package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"
)

const (
	// USBWriteTimeout bounds a single OUT-endpoint write.
	USBWriteTimeout = 2 * time.Second
	// USBReadTimeout bounds a single IN-endpoint read.
	USBReadTimeout = 1 * time.Second
	// usbReadChunk is the typical bulk-endpoint max packet size; the
	// internal buffer coalesces reads in units of this size.
	usbReadChunk = 64
)

// USBChannel is a ByteChannel over a USB bulk IN/OUT endpoint pair, located
// by vendor ID and an optional product ID. Exactly one matching device must
// be present at Open time.
type USBChannel struct {
	vid gousb.ID
	pid gousb.ID
	// pidSet distinguishes "match any PID" from "match PID 0".
	pidSet bool

	ctx   *gousb.Context
	dev   *gousb.Device
	cfg   *gousb.Config
	intf  *gousb.Interface
	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint

	// buffered holds IN-endpoint bytes read but not yet handed out.
	buffered []byte
}

// NewUSBChannel returns an unopened channel matching vid, and pid if
// pidSet is true (pass pidSet=false to accept any product ID for vid).
func NewUSBChannel(vid uint16, pid uint16, pidSet bool) *USBChannel {
	return &USBChannel{
		vid:    gousb.ID(vid),
		pid:    gousb.ID(pid),
		pidSet: pidSet,
	}
}

func (c *USBChannel) Kind() Kind { return KindUSB }

func (c *USBChannel) Open() error {
	ctx := gousb.NewContext()

	matches, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if desc.Vendor != c.vid {
			return false
		}
		if c.pidSet && desc.Product != c.pid {
			return false
		}
		return true
	})
	if err != nil {
		ctx.Close()
		return wrapErr("usb enumerate", err)
	}
	if len(matches) == 0 {
		ctx.Close()
		return wrapErr("usb enumerate", fmt.Errorf("no device matching vid=%#04x", uint16(c.vid)))
	}
	if len(matches) > 1 {
		for _, d := range matches {
			d.Close()
		}
		ctx.Close()
		return wrapErr("usb enumerate", fmt.Errorf("%d devices matching vid=%#04x, ambiguous", len(matches), uint16(c.vid)))
	}
	dev := matches[0]

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return wrapErr("usb config", err)
	}
	intf, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return wrapErr("usb interface", err)
	}
	epOut, err := intf.OutEndpoint(1)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return wrapErr("usb out endpoint", err)
	}
	epIn, err := intf.InEndpoint(1 | 0x80)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return wrapErr("usb in endpoint", err)
	}

	c.ctx, c.dev, c.cfg, c.intf, c.epOut, c.epIn = ctx, dev, cfg, intf, epOut, epIn
	c.buffered = nil
	return nil
}

func (c *USBChannel) Close() error {
	if c.intf != nil {
		c.intf.Close()
		c.intf = nil
	}
	if c.cfg != nil {
		c.cfg.Close()
		c.cfg = nil
	}
	if c.dev != nil {
		c.dev.Close()
		c.dev = nil
	}
	if c.ctx != nil {
		c.ctx.Close()
		c.ctx = nil
	}
	c.buffered = nil
	return nil
}

// Write chunks b into the OUT endpoint's max-packet-size.
func (c *USBChannel) Write(b []byte) error {
	if c.epOut == nil {
		return wrapErr("usb write", ErrClosed)
	}
	chunk := c.epOut.Desc.MaxPacketSize
	if chunk <= 0 {
		chunk = usbReadChunk
	}
	ctx, cancel := context.WithTimeout(context.Background(), USBWriteTimeout)
	defer cancel()

	for off := 0; off < len(b); off += chunk {
		end := off + chunk
		if end > len(b) {
			end = len(b)
		}
		n, err := c.epOut.WriteContext(ctx, b[off:end])
		if err != nil {
			return wrapErr("usb write", err)
		}
		if n != end-off {
			return wrapErr("usb write", fmt.Errorf("short write: wrote %d of %d", n, end-off))
		}
	}
	return nil
}

// ReadExact hands out exactly n bytes, buffering any IN-endpoint packet
// remainder for the next call.
func (c *USBChannel) ReadExact(n int) ([]byte, error) {
	if c.epIn == nil {
		return nil, wrapErr("usb read", ErrClosed)
	}
	for len(c.buffered) < n {
		buf := make([]byte, usbReadChunk)
		ctx, cancel := context.WithTimeout(context.Background(), USBReadTimeout)
		count, err := c.epIn.ReadContext(ctx, buf)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, wrapErr("usb read", ErrTimeout)
			}
			return nil, wrapErr("usb read", err)
		}
		if count == 0 {
			return nil, wrapErr("usb read", ErrTimeout)
		}
		c.buffered = append(c.buffered, buf[:count]...)
	}
	out := c.buffered[:n]
	c.buffered = c.buffered[n:]
	return out, nil
}
