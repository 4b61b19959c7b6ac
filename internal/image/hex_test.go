package image

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadHexSimpleRecord(t *testing.T) {
	// :04 0000 00 01020304 F2 ; 4 data bytes at 0x0000
	// :00 0000 01 FF         ; EOF
	src := ":0400000001020304F2\n:00000001FF\n"
	segs, err := LoadHex(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, uint32(0), segs[0].Address)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, segs[0].Data)
}

func TestLoadHexExtendedLinearAddress(t *testing.T) {
	// Extended linear address 0x0001 => upper bits 0x00010000.
	// Then one data byte at offset 0x0000 => absolute 0x00010000.
	segs, err := LoadHex(strings.NewReader(buildExtendedLinearHex()))
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, uint32(0x00010000), segs[0].Address)
	assert.Equal(t, []byte{0x0a}, segs[0].Data)
}

// buildExtendedLinearHex constructs a valid two-record-plus-EOF stream
// with correct checksums, since hand-computing Intel HEX checksums
// inline is error-prone to keep in sync with the data above.
func buildExtendedLinearHex() string {
	extLinear := hexRecord(0x0000, recExtendedLinearAddr, []byte{0x00, 0x01})
	data := hexRecord(0x0000, recData, []byte{0x0a})
	eof := hexRecord(0x0000, recEndOfFile, nil)
	return extLinear + "\n" + data + "\n" + eof + "\n"
}

func hexRecord(addr uint16, recType byte, data []byte) string {
	length := byte(len(data))
	sum := length + byte(addr>>8) + byte(addr) + recType
	for _, b := range data {
		sum += b
	}
	checksum := byte(0) - sum

	var sb strings.Builder
	sb.WriteByte(':')
	writeHexByte(&sb, length)
	writeHexByte(&sb, byte(addr>>8))
	writeHexByte(&sb, byte(addr))
	writeHexByte(&sb, recType)
	for _, b := range data {
		writeHexByte(&sb, b)
	}
	writeHexByte(&sb, checksum)
	return sb.String()
}

func writeHexByte(sb *strings.Builder, b byte) {
	const hexDigits = "0123456789ABCDEF"
	sb.WriteByte(hexDigits[b>>4])
	sb.WriteByte(hexDigits[b&0x0f])
}

func TestLoadHexRejectsBadChecksum(t *testing.T) {
	src := ":0400000001020304FF\n:00000001FF\n"
	_, err := LoadHex(strings.NewReader(src))
	require.Error(t, err)
}

func TestLoadHexRequiresEOFRecord(t *testing.T) {
	src := ":0400000001020304F2\n"
	_, err := LoadHex(strings.NewReader(src))
	require.Error(t, err)
}
