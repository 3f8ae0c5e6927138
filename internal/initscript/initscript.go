// Package initscript loads the register-initialization script: a plain
// text list of (address, value, width) triples the bootstrap orchestrator
// plays in source order to bring up external DRAM before any flash command
// is possible.
package initscript

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"imxatk/internal/sbp"
)

// Entry is a single register write the orchestrator applies verbatim and
// in order.
type Entry struct {
	Address uint32
	Width   sbp.Width
	Value   uint32
}

// Error reports a malformed init-script line.
type Error struct {
	Detail string
}

func (e *Error) Error() string { return "initscript: " + e.Detail }

// LoadFile parses path: one entry per line, blank lines and lines
// beginning with # ignored, each data line three whitespace-separated
// integer tokens (address, value, width) accepting any base via
// 0x/0o/0b/decimal prefixes.
func LoadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{Detail: err.Error()}
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, &Error{Detail: fmt.Sprintf("%s:%d: expected 3 fields, got %d", path, lineNo, len(fields))}
		}
		addr, err := strconv.ParseUint(fields[0], 0, 32)
		if err != nil {
			return nil, &Error{Detail: fmt.Sprintf("%s:%d: bad address: %v", path, lineNo, err)}
		}
		value, err := strconv.ParseUint(fields[1], 0, 32)
		if err != nil {
			return nil, &Error{Detail: fmt.Sprintf("%s:%d: bad value: %v", path, lineNo, err)}
		}
		widthBits, err := strconv.ParseUint(fields[2], 0, 16)
		if err != nil {
			return nil, &Error{Detail: fmt.Sprintf("%s:%d: bad width: %v", path, lineNo, err)}
		}
		width, err := widthFromBits(widthBits)
		if err != nil {
			return nil, &Error{Detail: fmt.Sprintf("%s:%d: %v", path, lineNo, err)}
		}
		entries = append(entries, Entry{Address: uint32(addr), Width: width, Value: uint32(value)})
	}
	if err := scanner.Err(); err != nil {
		return nil, &Error{Detail: err.Error()}
	}
	return entries, nil
}

func widthFromBits(bits uint64) (sbp.Width, error) {
	switch bits {
	case 8:
		return sbp.WidthByte, nil
	case 16:
		return sbp.WidthHalf, nil
	case 32:
		return sbp.WidthWord, nil
	default:
		return 0, fmt.Errorf("width must be 8, 16, or 32, got %d", bits)
	}
}
