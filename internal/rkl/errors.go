package rkl

import "fmt"

// DeviceError wraps a well-formed RKL ACK whose code indicates a
// device-side failure.
type DeviceError struct {
	Command Command
	Ack     Ack
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("rkl: command %#04x: %s (ack=%d)", uint16(e.Command), e.Ack.Describe(), int16(e.Ack))
}

// ChecksumError is raised when a streamed payload's 16-bit sum disagrees
// with the checksum the device reported for it.
type ChecksumError struct {
	Expected uint16
	Actual   uint16
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("rkl: checksum mismatch: expected %#04x, computed %#04x", e.Expected, e.Actual)
}

// StateError flags a command issued out of the required session sequence:
// any flash command before FlashInitial, or any command other than
// FlashInitial and Reset before MarkKernelInit.
type StateError struct {
	Detail string
}

func (e *StateError) Error() string {
	return "rkl: " + e.Detail
}

// ArgumentError flags an invalid caller-supplied argument.
type ArgumentError struct {
	Detail string
}

func (e *ArgumentError) Error() string {
	return "rkl: invalid argument: " + e.Detail
}
