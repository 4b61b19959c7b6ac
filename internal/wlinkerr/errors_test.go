package wlinkerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindStringCoversEveryConstant(t *testing.T) {
	kinds := []Kind{
		TransportIo, FrameMalformed, ProbeRefused, NotAttached, FamilyMismatch,
		Unsupported, DmiBusy, DmiFailed, AbstractCmdError, HaltTimeout,
		EraseTimeout, VerifyMismatch, FlashProtected, ImageInvalid,
	}
	for _, k := range kinds {
		assert.NotEqual(t, "unknown", k.String(), "kind %d", k)
	}
	assert.Equal(t, "unknown", Kind(999).String())
}

func TestErrorMessageIncludesKindAndMessage(t *testing.T) {
	err := New(NotAttached, "operation requires an attached chip")
	assert.Contains(t, err.Error(), "not_attached")
	assert.Contains(t, err.Error(), "operation requires an attached chip")
}

func TestErrorWithContextAppendsVariantAndChipID(t *testing.T) {
	err := NotAttachedErr().WithContext("LinkE", 0x2a)
	msg := err.Error()
	assert.Contains(t, msg, "variant=LinkE")
	assert.Contains(t, msg, "chip_id=0x0000002a")
}

func TestErrorWithContextOmitsChipIDWhenZero(t *testing.T) {
	err := NotAttachedErr().WithContext("LinkE", 0)
	msg := err.Error()
	assert.Contains(t, msg, "variant=LinkE")
	assert.NotContains(t, msg, "chip_id")
}

func TestWrapPreservesUnderlyingError(t *testing.T) {
	cause := errors.New("broken pipe")
	err := TransportIoErr("write failed", cause)
	assert.Equal(t, cause, err.Unwrap())
	assert.Contains(t, err.Error(), "broken pipe")
}

func TestIsMatchesKindOnly(t *testing.T) {
	err := FlashProtectedErr()
	assert.True(t, Is(err, FlashProtected))
	assert.False(t, Is(err, VerifyMismatch))
	assert.False(t, Is(errors.New("plain"), FlashProtected))
}

func TestProbeRefusedKnownReasonText(t *testing.T) {
	err := ProbeRefusedErr(0x55)
	assert.Equal(t, "failed to connect", err.Message)
	assert.Equal(t, uint8(0x55), err.Reason)
}

func TestProbeRefusedUnknownReasonFallsBackToHex(t *testing.T) {
	err := ProbeRefusedErr(0x7a)
	assert.Contains(t, err.Message, "0x7a")
}

func TestAbstractCmdErrorTextPerCode(t *testing.T) {
	cases := map[uint8]string{
		1: "busy",
		2: "not supported",
		3: "exception",
		5: "bus error",
	}
	for code, want := range cases {
		err := AbstractCmdErrorErr(code)
		assert.Contains(t, err.Message, want)
		assert.Equal(t, code, err.Code)
	}
}

func TestVerifyMismatchCarriesAddrAndValues(t *testing.T) {
	err := VerifyMismatchErr(0x08000100, 0xaa, 0xbb)
	assert.Equal(t, uint32(0x08000100), err.Addr)
	assert.Equal(t, uint32(0xaa), err.Expected)
	assert.Equal(t, uint32(0xbb), err.Actual)
	assert.True(t, Is(err, VerifyMismatch))
}
