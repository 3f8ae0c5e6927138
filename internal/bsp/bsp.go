// Package bsp loads the board-support table file: a sectioned key=value
// text format, one section per named board.
package bsp

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// BoardSupportInfo is the read-only record the bootstrap orchestrator
// consumes for a single named board.
type BoardSupportInfo struct {
	Description         string
	BaseMemoryAddress   uint32
	MemoryBottomAddress uint32
	RAMKernelOrigin     uint32
	MemoryInitFile      string // optional
	RAMKernelFile       string // optional
	USBVendorID         uint16
	USBProductID        uint16
}

// Error reports a missing file or an unknown board name.
type Error struct {
	Detail string
}

func (e *Error) Error() string { return "bsp: " + e.Detail }

// LoadFile parses every section of path and returns the record for name.
func LoadFile(path, name string) (*BoardSupportInfo, error) {
	boards, err := parseFile(path)
	if err != nil {
		return nil, err
	}
	b, ok := boards[name]
	if !ok {
		return nil, &Error{Detail: fmt.Sprintf("board %q not found in %s", name, path)}
	}
	return b, nil
}

// ListNames returns every board name defined in path, in file order,
// backing the `listbsp` CLI sub-command.
func ListNames(path string) ([]string, error) {
	_, order, err := parseFileOrdered(path)
	return order, err
}

func parseFile(path string) (map[string]*BoardSupportInfo, error) {
	boards, _, err := parseFileOrdered(path)
	return boards, err
}

func parseFileOrdered(path string) (map[string]*BoardSupportInfo, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, &Error{Detail: err.Error()}
	}
	defer f.Close()

	boards := make(map[string]*BoardSupportInfo)
	var order []string
	var current *BoardSupportInfo

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			name := strings.TrimSpace(line[1 : len(line)-1])
			current = &BoardSupportInfo{}
			boards[name] = current
			order = append(order, name)
			continue
		}
		if current == nil {
			return nil, nil, &Error{Detail: fmt.Sprintf("%s:%d: key=value line outside any [section]", path, lineNo)}
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, nil, &Error{Detail: fmt.Sprintf("%s:%d: expected key=value", path, lineNo)}
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if err := applyKey(current, key, value); err != nil {
			return nil, nil, &Error{Detail: fmt.Sprintf("%s:%d: %v", path, lineNo, err)}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, &Error{Detail: err.Error()}
	}
	return boards, order, nil
}

func applyKey(b *BoardSupportInfo, key, value string) error {
	switch key {
	case "description":
		b.Description = value
	case "sdram_start":
		v, err := parseUint32(value)
		if err != nil {
			return err
		}
		b.BaseMemoryAddress = v
	case "sdram_end":
		v, err := parseUint32(value)
		if err != nil {
			return err
		}
		b.MemoryBottomAddress = v
	case "ram_kernel_origin":
		v, err := parseUint32(value)
		if err != nil {
			return err
		}
		b.RAMKernelOrigin = v
	case "usb_vid":
		v, err := parseUint32(value)
		if err != nil {
			return err
		}
		b.USBVendorID = uint16(v)
	case "usb_pid":
		v, err := parseUint32(value)
		if err != nil {
			return err
		}
		b.USBProductID = uint16(v)
	case "memory_init_file":
		b.MemoryInitFile = value
	case "ram_kernel_file":
		b.RAMKernelFile = value
	default:
		// Unrecognized keys are ignored rather than fatal, so a table file
		// shared across tool versions doesn't break an older binary.
	}
	return nil
}

// parseUint32 accepts decimal or 0x/0o/0b-prefixed integers.
func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q: %w", s, err)
	}
	return uint32(v), nil
}
