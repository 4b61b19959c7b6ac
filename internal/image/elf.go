package image

import (
	"debug/elf"
	"io"

	"github.com/guiperry/wlink/internal/wlinkerr"
)

// LoadElf enumerates PT_LOAD segments with p_filesz > 0, sorted by
// p_paddr (spec §4.H). No third-party ELF reader appears anywhere in
// the reference corpus; the standard library's debug/elf is the
// documented exception for this one concern (see DESIGN.md).
func LoadElf(r io.ReaderAt) ([]Segment, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, wlinkerr.ImageInvalidErr("not a valid ELF file: " + err.Error())
	}
	defer f.Close()

	var segs []Segment
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Filesz == 0 {
			continue
		}
		data := make([]byte, prog.Filesz)
		n, err := prog.ReadAt(data, 0)
		if err != nil && err != io.EOF {
			return nil, wlinkerr.ImageInvalidErr("failed reading PT_LOAD segment: " + err.Error())
		}
		if uint64(n) != prog.Filesz {
			return nil, wlinkerr.ImageInvalidErr("short read of PT_LOAD segment")
		}
		segs = append(segs, Segment{Address: uint32(prog.Paddr), Data: data})
	}
	if len(segs) == 0 {
		return nil, wlinkerr.ImageInvalidErr("ELF file has no loadable (PT_LOAD, p_filesz>0) segments")
	}

	sortSegments(segs)
	return segs, nil
}
