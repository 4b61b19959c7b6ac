package wchproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	req, err := Encode(CmdControl, true, ControlSubVersion, []byte{0xaa, 0xbb})
	require.NoError(t, err)
	assert.Equal(t, []byte{HeaderRequest, CmdControl, 0x03, ControlSubVersion, 0xaa, 0xbb}, req)

	resp := []byte{HeaderOkResponse, CmdControl, 0x02, 0x02, 0x0b}
	frame, err := Decode(resp)
	require.NoError(t, err)
	assert.Equal(t, CmdControl, frame.Cmd)
	assert.Equal(t, []byte{0x02, 0x0b}, frame.Payload)
}

func TestEncodeNoSubcmd(t *testing.T) {
	req, err := EncodeFrame(CmdMemRead, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{HeaderRequest, CmdMemRead, 0x00}, req)
}

func TestEncodeRejectsOversizePayload(t *testing.T) {
	_, err := Encode(CmdProgram, false, 0, make([]byte, MaxPayload+1))
	require.Error(t, err)
}

func TestDecodeErrorResponse(t *testing.T) {
	_, err := Decode([]byte{HeaderRequest, ReasonFailedToConnect})
	require.Error(t, err)
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	_, err := Decode([]byte{HeaderOkResponse, CmdControl, 0x05, 0x01})
	require.Error(t, err)
}

func TestDecodeRejectsUnrecognizedHeader(t *testing.T) {
	_, err := Decode([]byte{0x00, 0x00})
	require.Error(t, err)
}
