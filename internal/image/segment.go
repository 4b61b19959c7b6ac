// Package image implements the Firmware Image Loader (spec §4.H): it
// normalizes raw binary, Intel HEX, and ELF inputs into an
// address-sorted, non-overlapping sequence of load segments.
package image

import "sort"

// Segment is one contiguous load window (spec §3): non-empty, and when
// several come from one image, address-sorted and non-overlapping
// after gap merging.
type Segment struct {
	Address uint32
	Data    []byte
}

func (s Segment) end() uint32 { return s.Address + uint32(len(s.Data)) }

// MaxMergeGap is the largest gap between two adjacent segments that
// gets merged, padded with 0xFF (spec §4.H): one flash page on most
// families.
const MaxMergeGap = 256

// sortSegments orders segments by address; callers must not rely on
// loader output order before calling this.
func sortSegments(segs []Segment) {
	sort.Slice(segs, func(i, j int) bool { return segs[i].Address < segs[j].Address })
}

// MergeGaps merges adjacent segments separated by at most MaxMergeGap
// bytes, padding the gap with 0xFF, and is idempotent: running it twice
// produces the same result (spec §8 "Gap merge idempotence").
func MergeGaps(segs []Segment) []Segment {
	if len(segs) == 0 {
		return segs
	}
	sorted := make([]Segment, len(segs))
	copy(sorted, segs)
	sortSegments(sorted)

	out := make([]Segment, 0, len(sorted))
	cur := sorted[0]
	for _, next := range sorted[1:] {
		gap := int64(next.Address) - int64(cur.end())
		if gap >= 0 && gap <= MaxMergeGap {
			padded := make([]byte, 0, len(cur.Data)+int(gap)+len(next.Data))
			padded = append(padded, cur.Data...)
			for i := int64(0); i < gap; i++ {
				padded = append(padded, 0xFF)
			}
			padded = append(padded, next.Data...)
			cur = Segment{Address: cur.Address, Data: padded}
			continue
		}
		out = append(out, cur)
		cur = next
	}
	out = append(out, cur)
	return out
}
