package initscript

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imxatk/internal/sbp"
)

const sample = `
# DDR PHY bring-up
0x020e0068 0x000C0000 32
0x020e04b8 0x00000000 16
  0x020e0320   0xFF  8

# blank line above is ignored
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "init.txt")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeSample(t)
	entries, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, Entry{Address: 0x020e0068, Width: sbp.WidthWord, Value: 0x000C0000}, entries[0])
	assert.Equal(t, Entry{Address: 0x020e04b8, Width: sbp.WidthHalf, Value: 0x00000000}, entries[1])
	assert.Equal(t, Entry{Address: 0x020e0320, Width: sbp.WidthByte, Value: 0xFF}, entries[2])
}

func TestLoadFilePreservesOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "init.txt")
	require.NoError(t, os.WriteFile(path, []byte("0x1 0x1 32\n0x2 0x2 32\n0x3 0x3 32\n"), 0o644))

	entries, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, uint32(i+1), e.Address)
	}
}

func TestLoadFileBadWidth(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "init.txt")
	require.NoError(t, os.WriteFile(path, []byte("0x1 0x1 24\n"), 0o644))

	_, err := LoadFile(path)
	require.Error(t, err)
}

func TestLoadFileWrongFieldCount(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "init.txt")
	require.NoError(t, os.WriteFile(path, []byte("0x1 0x1\n"), 0o644))

	_, err := LoadFile(path)
	require.Error(t, err)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.txt"))
	require.Error(t, err)
}
