package image

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/guiperry/wlink/internal/wlinkerr"
)

var elfMagic = []byte{0x7F, 'E', 'L', 'F'}

// Load detects the artifact format of path (extension first, then
// magic bytes, falling back to raw binary) and returns its load
// segments, gap-merged per spec §4.H. base is the load address used
// for a raw binary, and is ignored for HEX/ELF inputs which carry
// their own addresses.
func Load(path string, base uint32) ([]Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wlinkerr.ImageInvalidErr("failed reading firmware image: " + err.Error())
	}

	var segs []Segment
	switch detectFormat(path, data) {
	case formatHex:
		segs, err = LoadHex(bufio.NewReader(bytes.NewReader(data)))
	case formatElf:
		segs, err = LoadElf(bytes.NewReader(data))
	default:
		segs = []Segment{{Address: base, Data: data}}
	}
	if err != nil {
		return nil, err
	}

	merged := MergeGaps(segs)
	if err := validateNonOverlapping(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

type format int

const (
	formatRaw format = iota
	formatHex
	formatElf
)

func detectFormat(path string, data []byte) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihex":
		return formatHex
	case ".elf":
		return formatElf
	}

	if bytes.HasPrefix(data, elfMagic) {
		return formatElf
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == ':' {
		return formatHex
	}
	return formatRaw
}

// validateNonOverlapping backs spec §8 "Image segments non-overlapping":
// Load runs it on MergeGaps' address-sorted output and rejects an image
// whose records/PT_LOAD ranges overlap. MergeGaps never drops or
// duplicates a byte, so every source byte is present exactly once.
func validateNonOverlapping(segs []Segment) error {
	for i := 1; i < len(segs); i++ {
		if segs[i].Address < segs[i-1].end() {
			return wlinkerr.ImageInvalidErr("overlapping load segments")
		}
	}
	return nil
}
