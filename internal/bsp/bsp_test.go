package bsp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
# board table
[imx53-qsb]
description = i.MX53 Quick Start Board
sdram_start = 0x70000000
sdram_end = 0x78000000
ram_kernel_origin = 0x70001000
usb_vid = 0x15A2
usb_pid = 0x0052
memory_init_file = imx53-qsb-init.txt

[imx6-sabrelite]
description = i.MX6 SabreLite
sdram_start = 0x10000000
sdram_end = 0x20000000
ram_kernel_origin = 0x10001000
usb_vid = 0x15A2
usb_pid = 0x0054
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "boards.ini")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeSample(t)
	b, err := LoadFile(path, "imx53-qsb")
	require.NoError(t, err)
	assert.Equal(t, "i.MX53 Quick Start Board", b.Description)
	assert.Equal(t, uint32(0x70000000), b.BaseMemoryAddress)
	assert.Equal(t, uint32(0x78000000), b.MemoryBottomAddress)
	assert.Equal(t, uint32(0x70001000), b.RAMKernelOrigin)
	assert.Equal(t, uint16(0x15A2), b.USBVendorID)
	assert.Equal(t, uint16(0x0052), b.USBProductID)
	assert.Equal(t, "imx53-qsb-init.txt", b.MemoryInitFile)
	assert.Equal(t, "", b.RAMKernelFile)
}

func TestLoadFileUnknownBoard(t *testing.T) {
	path := writeSample(t)
	_, err := LoadFile(path, "nonexistent")
	require.Error(t, err)
}

func TestListNames(t *testing.T) {
	path := writeSample(t)
	names, err := ListNames(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"imx53-qsb", "imx6-sabrelite"}, names)
}
