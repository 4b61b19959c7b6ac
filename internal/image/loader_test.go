package image

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRawBinaryUsesBaseAddress(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "firmware.bin")
	require.NoError(t, os.WriteFile(path, []byte{0xde, 0xad, 0xbe, 0xef}, 0o644))

	segs, err := Load(path, 0x08000000)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, uint32(0x08000000), segs[0].Address)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, segs[0].Data)
}

func TestLoadDetectsHexByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "firmware.hex")
	require.NoError(t, os.WriteFile(path, []byte(":0400000001020304F2\n:00000001FF\n"), 0o644))

	segs, err := Load(path, 0)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, segs[0].Data)
}

func TestLoadDetectsHexByMagicColon(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "firmware.bin") // extension says raw, content says hex
	require.NoError(t, os.WriteFile(path, []byte(":0400000001020304F2\n:00000001FF\n"), 0o644))

	segs, err := Load(path, 0)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, segs[0].Data)
}
