package image

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeGapsMergesSmallGap(t *testing.T) {
	segs := []Segment{
		{Address: 0x100, Data: []byte{1, 2, 3, 4}},
		{Address: 0x110, Data: []byte{5, 6}},
	}
	merged := MergeGaps(segs)
	if assert.Len(t, merged, 1) {
		assert.Equal(t, uint32(0x100), merged[0].Address)
		assert.Equal(t, []byte{1, 2, 3, 4, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 5, 6}, merged[0].Data)
	}
}

func TestMergeGapsLeavesLargeGapSeparate(t *testing.T) {
	segs := []Segment{
		{Address: 0x1000, Data: []byte{1, 2}},
		{Address: 0x2000, Data: []byte{3, 4}},
	}
	merged := MergeGaps(segs)
	assert.Len(t, merged, 2)
}

func TestMergeGapsIsIdempotent(t *testing.T) {
	segs := []Segment{
		{Address: 0x100, Data: []byte{1, 2, 3}},
		{Address: 0x110, Data: []byte{4, 5}},
		{Address: 0x500, Data: []byte{6}},
	}
	once := MergeGaps(segs)
	twice := MergeGaps(once)
	assert.Equal(t, once, twice)
}

func TestMergeGapsSortsUnorderedInput(t *testing.T) {
	segs := []Segment{
		{Address: 0x200, Data: []byte{3, 4}},
		{Address: 0x100, Data: []byte{1, 2}},
	}
	merged := MergeGaps(segs)
	assert.Equal(t, uint32(0x100), merged[0].Address)
}

func TestValidateNonOverlappingAccepts(t *testing.T) {
	segs := []Segment{
		{Address: 0x100, Data: []byte{1, 2}},
		{Address: 0x200, Data: []byte{3, 4}},
	}
	assert.NoError(t, validateNonOverlapping(segs))
}

func TestValidateNonOverlappingRejectsOverlap(t *testing.T) {
	segs := []Segment{
		{Address: 0x100, Data: []byte{1, 2, 3, 4}},
		{Address: 0x102, Data: []byte{5, 6}},
	}
	assert.Error(t, validateNonOverlapping(segs))
}
