package sbp

import "fmt"

// ProtocolMismatchError is raised on an unexpected ACK or status word, on a
// short input stream in WriteFile, and when CompleteBoot does not see
// BOOT_COMPLETE. A failed channel read is returned as the channel's own
// error. The engine never retries these.
type ProtocolMismatchError struct {
	Opcode Opcode
	Detail string
	Raw    []byte
}

func (e *ProtocolMismatchError) Error() string {
	return fmt.Sprintf("sbp: opcode %#04x: %s (raw=% x)", uint16(e.Opcode), e.Detail, e.Raw)
}

// DeviceError wraps a well-formed ACK whose code indicates a device-side
// (HAB) failure.
type DeviceError struct {
	Opcode Opcode
	Status StatusWord
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("sbp: opcode %#04x: device reported %s", uint16(e.Opcode), describeHAB(e.Status))
}

// isHABCode reports whether s is one of the recognized HAB result codes.
func isHABCode(s StatusWord) bool {
	switch s {
	case StatusHABPassed, StatusHABFailure, StatusHABOutOfBounds, StatusHABAssertFail, StatusHABInvalidWrite:
		return true
	default:
		return false
	}
}

// ackError classifies a non-ACK status word as a DeviceError (a recognized
// HAB failure code) or a ProtocolMismatchError (anything else, including
// unknown codes surfaced verbatim).
func ackError(op Opcode, s StatusWord) error {
	if isHABCode(s) {
		return &DeviceError{Opcode: op, Status: s}
	}
	return &ProtocolMismatchError{Opcode: op, Detail: "unexpected status", Raw: statusBytes(s)}
}

func describeHAB(s StatusWord) string {
	switch s {
	case StatusHABPassed:
		return "HAB PASSED"
	case StatusHABFailure:
		return "HAB FAILURE"
	case StatusHABOutOfBounds:
		return "HAB DATA_OUT_OF_BOUNDS"
	case StatusHABAssertFail:
		return "HAB ASSERT_FAIL"
	case StatusHABInvalidWrite:
		return "HAB INVALID_WRITE_REG"
	default:
		return fmt.Sprintf("unrecognized status %#08x", uint32(s))
	}
}

// ArgumentError flags an invalid caller-supplied argument: a bad access
// width or a zero ReadMemory length.
type ArgumentError struct {
	Detail string
}

func (e *ArgumentError) Error() string {
	return "sbp: invalid argument: " + e.Detail
}
