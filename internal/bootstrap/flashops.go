package bootstrap

import (
	"fmt"
	"io"

	"imxatk/internal/rkl"
)

// runProgram implements the program-file sub-command: flash is written in
// block-size units, zero-padding the first chunk from the block boundary
// up to an unaligned start address, with read-back verify always enabled.
func runProgram(rk *rkl.Engine, cmd FlashSubCommand) error {
	blockSize := cmd.BlockSize
	if blockSize == 0 {
		blockSize = defaultBlockSize
	}
	if cmd.Input == nil {
		return &Error{Detail: "program sub-command requires an input reader"}
	}

	address := cmd.Address
	blockStart := address - (address % blockSize)
	pad := int(address - blockStart)

	buf := make([]byte, blockSize)
	writeAddr := blockStart
	first := true
	for {
		want := len(buf)
		n := 0
		if first && pad > 0 {
			for i := 0; i < pad; i++ {
				buf[i] = 0
			}
			n = pad
			want = len(buf) - pad
		}
		read, err := io.ReadFull(cmd.Input, buf[n:n+want])
		n += read
		first = false
		if n == 0 {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return fmt.Errorf("read program chunk: %w", err)
		}
		if err := rk.FlashProgram(writeAddr, buf[:n], rkl.FileFormatNormal, true, cmd.ProgramObserver, cmd.VerifyObserver); err != nil {
			return fmt.Errorf("flash_program at %#08x: %w", writeAddr, err)
		}
		writeAddr += uint32(n)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read program chunk: %w", err)
		}
	}
}

// runDump implements the dump sub-command: page-size steps, each page
// written as a hex-dump to cmd.HexOut and raw bytes to cmd.Output.
func runDump(rk *rkl.Engine, cmd FlashSubCommand) error {
	pageSize := cmd.PageSize
	if pageSize == 0 {
		pageSize = defaultPageSize
	}
	if cmd.Size == 0 {
		return &Error{Detail: "dump sub-command requires a non-zero size"}
	}

	remaining := cmd.Size
	addr := cmd.Address
	for remaining > 0 {
		step := pageSize
		if remaining < step {
			step = remaining
		}
		data, err := rk.FlashDump(addr, step)
		if err != nil {
			return fmt.Errorf("flash_dump at %#08x: %w", addr, err)
		}
		if cmd.Output != nil {
			if _, err := cmd.Output.Write(data); err != nil {
				return fmt.Errorf("write dump output: %w", err)
			}
		}
		if cmd.HexOut != nil {
			writeHexDump(cmd.HexOut, addr, data)
		}
		addr += step
		remaining -= step
	}
	return nil
}

func writeHexDump(w io.Writer, base uint32, data []byte) {
	const width = 16
	for off := 0; off < len(data); off += width {
		end := off + width
		if end > len(data) {
			end = len(data)
		}
		fmt.Fprintf(w, "%08x  ", base+uint32(off))
		for i := off; i < end; i++ {
			fmt.Fprintf(w, "%02x ", data[i])
		}
		fmt.Fprintln(w)
	}
}

// runErase implements the erase sub-command: a single flash_erase call
// that reports each erased block index and size to cmd.EraseObserver.
func runErase(rk *rkl.Engine, cmd FlashSubCommand) error {
	if err := rk.FlashErase(cmd.Address, cmd.Size, cmd.EraseObserver); err != nil {
		return fmt.Errorf("flash_erase: %w", err)
	}
	return nil
}
