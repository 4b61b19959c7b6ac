package wchproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirmwareVersionWireByteRoundTrip(t *testing.T) {
	for minor := uint8(0); minor < 10; minor++ {
		fw := FirmwareVersion{Major: 3, Minor: minor}
		back := FromWireByte(fw.WireByte())
		assert.Equal(t, fw, back)
	}
}

func TestSupportsPowerRail(t *testing.T) {
	linkE := Variant{Kind: VariantLinkE}
	assert.True(t, linkE.SupportsPowerRail(Rail3V3))
	assert.True(t, linkE.SupportsPowerRail(Rail5V0))

	ch549 := Variant{Kind: VariantCh549}
	assert.False(t, ch549.SupportsPowerRail(Rail3V3))
}

func TestModeSwitchKindDefaultsToButton(t *testing.T) {
	unknown := Variant{Kind: VariantUnknown}
	assert.Equal(t, ModeSwitchButton, unknown.ModeSwitchKind())
}
