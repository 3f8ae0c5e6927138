// Package rkl implements the RAM-Kernel protocol spoken by the agent image
// downloaded and launched by the SBP engine.
package rkl

import (
	"imxatk/internal/atklog"
	"imxatk/internal/progress"
	"imxatk/internal/transport"
)

const maxProgramPayload = 2 * 1024 * 1024 // the agent's internal buffer cap

// Engine drives the RKL session over a transport.ByteChannel. It tracks two
// booleans of host-side session state: kernelInit (the RAM kernel has been
// launched and the channel re-opened) and flashInit (FlashInitial has
// succeeded).
type Engine struct {
	Channel transport.ByteChannel

	kernelInit bool
	flashInit  bool
	log        *atklog.Logger
}

// New returns an Engine driving ch. The caller must call MarkKernelInit
// once the RAM kernel image has been handed control and the channel
// re-opened, before issuing any command besides FlashInitial or Reset.
func New(ch transport.ByteChannel) *Engine {
	return &Engine{Channel: ch, log: atklog.New("rkl")}
}

// MarkKernelInit records that the RAM kernel is running and the channel has
// been re-opened after hand-off.
func (e *Engine) MarkKernelInit() {
	e.kernelInit = true
}

func (e *Engine) requireKernelInit() error {
	if !e.kernelInit {
		return &StateError{Detail: "kernel not initialized"}
	}
	return nil
}

func (e *Engine) requireFlashInit() error {
	if !e.flashInit {
		return &StateError{Detail: "flash not initialized"}
	}
	return nil
}

func (e *Engine) send(cmd Command, address, param1, param2 uint32) error {
	f := newCommandFrame(cmd, address, param1, param2)
	return e.Channel.Write(f.bytes())
}

// FlashInitial must be the first command of a session once the kernel is
// running; it is exempt from the kernel_init gate other commands enforce,
// since it is how the host confirms the agent is responsive at all.
func (e *Engine) FlashInitial() error {
	if err := e.send(CmdFlashInitial, 0, 0, 0); err != nil {
		return err
	}
	h, err := e.readResponseHeader()
	if err != nil {
		return err
	}
	if h.Ack != AckSuccess {
		return &DeviceError{Command: CmdFlashInitial, Ack: h.Ack}
	}
	e.flashInit = true
	e.log.Infof("flash_initial: ok")
	return nil
}

// GetVersion returns the part number (carried in the response checksum
// field) and the flash model string (the response payload).
func (e *Engine) GetVersion() (partNumber uint16, flashModel []byte, err error) {
	if err := e.requireKernelInit(); err != nil {
		return 0, nil, err
	}
	if err := e.send(CmdGetVersion, 0, 0, 0); err != nil {
		return 0, nil, err
	}
	h, err := e.readResponseHeader()
	if err != nil {
		return 0, nil, err
	}
	if h.Ack != AckSuccess {
		return 0, nil, &DeviceError{Command: CmdGetVersion, Ack: h.Ack}
	}
	payload, err := e.readResponsePayload(h)
	if err != nil {
		return 0, nil, err
	}
	return h.Checksum, payload, nil
}

// FlashGetCapacity returns the flash capacity in bytes, carried in the
// response header's length field with no accompanying payload.
func (e *Engine) FlashGetCapacity() (uint32, error) {
	if err := e.requireKernelInit(); err != nil {
		return 0, err
	}
	if err := e.requireFlashInit(); err != nil {
		return 0, err
	}
	if err := e.send(CmdFlashGetCapacity, 0, 0, 0); err != nil {
		return 0, err
	}
	h, err := e.readResponseHeader()
	if err != nil {
		return 0, err
	}
	if h.Ack != AckSuccess {
		return 0, &DeviceError{Command: CmdFlashGetCapacity, Ack: h.Ack}
	}
	return h.Length, nil
}

// FlashDump reads size bytes starting at address, verifying each streamed
// chunk's checksum. Agent generations differ on how the stream ends: some
// stop on a final FLASH_PARTLY chunk, others send a trailing SUCCESS. Both
// are accepted.
func (e *Engine) FlashDump(address, size uint32) ([]byte, error) {
	if err := e.requireKernelInit(); err != nil {
		return nil, err
	}
	if err := e.requireFlashInit(); err != nil {
		return nil, err
	}
	if err := e.send(CmdFlashDump, address, size, 0); err != nil {
		return nil, err
	}

	out := make([]byte, 0, size)
	for uint32(len(out)) < size {
		h, err := e.readResponseHeader()
		if err != nil {
			return nil, err
		}
		switch h.Ack {
		case AckFlashPartly:
			payload, err := e.readResponsePayload(h)
			if err != nil {
				return nil, err
			}
			if got := Checksum(payload); got != h.Checksum {
				return nil, &ChecksumError{Expected: h.Checksum, Actual: got}
			}
			out = append(out, payload...)
		case AckSuccess:
			payload, err := e.readResponsePayload(h)
			if err != nil {
				return nil, err
			}
			if got := Checksum(payload); got != h.Checksum {
				return nil, &ChecksumError{Expected: h.Checksum, Actual: got}
			}
			out = append(out, payload...)
			return out, nil
		default:
			return nil, &DeviceError{Command: CmdFlashDump, Ack: h.Ack}
		}
	}
	return out, nil
}

// FlashErase erases size bytes starting at address. observer, if non-nil,
// is invoked once per FLASH_ERASE response with that block's index and
// size, in arrival order.
func (e *Engine) FlashErase(address, size uint32, observer progress.EraseObserver) error {
	if observer == nil {
		observer = progress.Default
	}
	if err := e.requireKernelInit(); err != nil {
		return err
	}
	if err := e.requireFlashInit(); err != nil {
		return err
	}
	if err := e.send(CmdFlashErase, address, size, 0); err != nil {
		return err
	}

	for {
		h, err := e.readResponseHeader()
		if err != nil {
			return err
		}
		switch h.Ack {
		case AckFlashErase:
			observer.OnBlockErased(uint32(h.Checksum), h.Length)
		case AckSuccess:
			return nil
		default:
			return &DeviceError{Command: CmdFlashErase, Ack: h.Ack}
		}
	}
}

// FlashProgram writes data to flash starting at address. When
// readBackVerify is set, the agent sends its VERIFY partials after all of
// its PROGRAM partials; a PROGRAM partial arriving after the first VERIFY
// partial fails with StateError, and a terminal SUCCESS closes the whole
// operation.
func (e *Engine) FlashProgram(address uint32, data []byte, format FileFormat, readBackVerify bool, programObserver progress.ProgramObserver, verifyObserver progress.VerifyObserver) error {
	if programObserver == nil {
		programObserver = progress.Default
	}
	if verifyObserver == nil {
		verifyObserver = progress.Default
	}
	if err := e.requireKernelInit(); err != nil {
		return err
	}
	if err := e.requireFlashInit(); err != nil {
		return err
	}
	if len(data) == 0 {
		return &ArgumentError{Detail: "data must not be empty"}
	}
	if len(data) > maxProgramPayload {
		return &ArgumentError{Detail: "data exceeds 2 MiB agent buffer"}
	}
	switch format {
	case FileFormatNormal, FileFormatNB0, FileFormatOPS:
	default:
		return &ArgumentError{Detail: "invalid file_format"}
	}

	flags := uint32(format)
	if readBackVerify {
		flags |= flashProgramVerifyFlag
	}
	if err := e.send(CmdFlashProgram, address, uint32(len(data)), flags); err != nil {
		return err
	}

	initial, err := e.readResponseHeader()
	if err != nil {
		return err
	}
	if initial.Ack != AckSuccess {
		return &DeviceError{Command: CmdFlashProgram, Ack: initial.Ack}
	}

	if err := e.Channel.Write(data); err != nil {
		return err
	}

	phase := phaseProgram
	for {
		h, err := e.readResponseHeader()
		if err != nil {
			return err
		}
		switch h.Ack {
		case AckFlashPartly:
			if phase == phaseVerify {
				return &StateError{Detail: "program partial arrived after verify phase began"}
			}
			programObserver.OnPageProgrammed(uint32(h.Checksum), h.Length)
		case AckFlashVerify:
			if !readBackVerify {
				return &DeviceError{Command: CmdFlashProgram, Ack: h.Ack}
			}
			phase = phaseVerify
			verifyObserver.OnPageVerified(uint32(h.Checksum), h.Length)
		case AckSuccess:
			return nil
		default:
			return &DeviceError{Command: CmdFlashProgram, Ack: h.Ack}
		}
	}
}

// Reset tells the agent to reset the device; it is fire-and-forget, like
// SBP, RKL has no cancellation, so a cancel simply closes the channel.
func (e *Engine) Reset() error {
	return e.send(CmdReset, 0, 0, 0)
}

// FlashSetBBT toggles the agent's bad-block-table handling.
func (e *Engine) FlashSetBBT(enable bool) error {
	if err := e.requireKernelInit(); err != nil {
		return err
	}
	if err := e.requireFlashInit(); err != nil {
		return err
	}
	var param uint32
	if enable {
		param = 1
	}
	if err := e.send(CmdFlashSetBBT, 0, param, 0); err != nil {
		return err
	}
	h, err := e.readResponseHeader()
	if err != nil {
		return err
	}
	if h.Ack != AckSuccess {
		return &DeviceError{Command: CmdFlashSetBBT, Ack: h.Ack}
	}
	return nil
}
