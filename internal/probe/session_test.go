package probe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guiperry/wlink/internal/chipdb"
	"github.com/guiperry/wlink/internal/wchproto"
)

// scriptedTransport replays a fixed queue of raw response frames,
// recording every request frame written to it, for driving the probe
// session through the spec §8 worked scenarios without real USB I/O.
type scriptedTransport struct {
	responses [][]byte
	requests  [][]byte
	closed    bool
}

func (s *scriptedTransport) WriteBulk(data []byte, _ time.Duration) error {
	s.requests = append(s.requests, append([]byte(nil), data...))
	return nil
}

func (s *scriptedTransport) ReadBulk(max int, _ time.Duration) ([]byte, error) {
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *scriptedTransport) Close() error {
	s.closed = true
	return nil
}

func okFrame(t *testing.T, cmd byte, payload []byte) []byte {
	t.Helper()
	return append([]byte{wchproto.HeaderOkResponse, cmd, byte(len(payload))}, payload...)
}

func TestGetInfoDecodesFirmwareVersion(t *testing.T) {
	transport := &scriptedTransport{
		responses: [][]byte{okFrame(t, wchproto.CmdControl, []byte{0x02, 0x0b})},
	}
	sess := Open(transport)

	variant, err := sess.GetInfo()
	require.NoError(t, err)
	assert.Equal(t, uint8(2), variant.Firmware.Major)
	assert.Equal(t, uint8(11), variant.Firmware.Minor)
}

func TestAttachChipRejectsFamilyMismatch(t *testing.T) {
	// Wire ID 0x01 resolves to CH32V103; the caller expects CH57x.
	attachPayload := append([]byte{0x01}, 0x00, 0x00, 0x00, 0x2a)
	transport := &scriptedTransport{
		responses: [][]byte{okFrame(t, wchproto.CmdControl, attachPayload)},
	}
	sess := Open(transport)

	expected := chipdb.CH57x
	_, err := sess.AttachChip(&expected)
	require.Error(t, err)
}

func TestAttachChipV103RunsSubStage(t *testing.T) {
	attachPayload := append([]byte{0x01}, 0x00, 0x00, 0x00, 0x2a)
	transport := &scriptedTransport{
		responses: [][]byte{
			okFrame(t, wchproto.CmdControl, attachPayload),
			okFrame(t, wchproto.CmdControl, nil), // sub-stage 0x03 ack
		},
	}
	sess := Open(transport)

	chip, err := sess.AttachChip(nil)
	require.NoError(t, err)
	assert.Equal(t, chipdb.CH32V103, chip.Family)
	assert.Equal(t, uint32(0x2a), chip.ChipID)
	require.Len(t, transport.requests, 2)
}

func TestEndProcessAlwaysSentOnClose(t *testing.T) {
	attachPayload := append([]byte{0x01}, 0x00, 0x00, 0x00, 0x2a)
	transport := &scriptedTransport{
		responses: [][]byte{
			okFrame(t, wchproto.CmdControl, attachPayload),
			okFrame(t, wchproto.CmdControl, nil),
			okFrame(t, wchproto.CmdControl, nil), // end_process ack
		},
	}
	sess := Open(transport)
	_, err := sess.AttachChip(nil)
	require.NoError(t, err)

	require.NoError(t, sess.Close())
	require.Len(t, transport.requests, 3)
	last := transport.requests[2]
	assert.Equal(t, wchproto.ControlSubEnd, last[3])
	assert.True(t, transport.closed)
}

func TestCheckFlashProtectedRequiresAttached(t *testing.T) {
	transport := &scriptedTransport{}
	sess := Open(transport)

	_, err := sess.CheckFlashProtected()
	require.Error(t, err)
}
