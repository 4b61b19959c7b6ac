package flash

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guiperry/wlink/internal/dm"
	"github.com/guiperry/wlink/internal/dmi"
	"github.com/guiperry/wlink/internal/image"
	"github.com/guiperry/wlink/internal/probe"
	"github.com/guiperry/wlink/internal/wchproto"
)

type scriptedTransport struct {
	responses [][]byte
	requests  [][]byte
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

func (s *scriptedTransport) Close() error { return nil }

func okFrame(cmd byte, payload []byte) []byte {
	return append([]byte{wchproto.HeaderOkResponse, cmd, byte(len(payload))}, payload...)
}

// fakeDmTransport answers just enough of the dmcontrol/dmstatus protocol
// for Core.Halt to complete in one poll iteration, standing in for a
// real DMI tunnel the way dm/core_test.go's fakeDmiTransport does.
type fakeDmTransport struct {
	halted bool
}

const (
	bitHaltReqTest    = 31
	bitAllHaltedTest  = 9
)

func (f *fakeDmTransport) RoundTrip(tx dmi.Transaction) (dmi.Transaction, error) {
	if tx.Op == dmi.Read {
		var v uint32
		if tx.Addr == dm.RegDmstatus && f.halted {
			v = 1 << bitAllHaltedTest
		}
		return dmi.Transaction{Addr: tx.Addr, Data: v, Op: dmi.StatusOk}, nil
	}
	if tx.Addr == dm.RegDmcontrol && tx.Data&(1<<bitHaltReqTest) != 0 {
		f.halted = true
	}
	return dmi.Transaction{Op: dmi.StatusOk}, nil
}

func newFakeCore() *dm.Core {
	return dm.New(dmi.NewSession(&fakeDmTransport{}), true)
}

// attachedSession builds a Session already Attached to a CH32V20x chip
// (a family without the CH32V103 verify opcode) over transport, consuming
// the attach + sub-stage response pair.
func attachedSession(t *testing.T, transport *scriptedTransport) *probe.Session {
	t.Helper()
	attachPayload := append([]byte{0x05}, 0x00, 0x00, 0x00, 0x01) // wire id 0x05 -> CH32V20x
	transport.responses = append(transport.responses,
		okFrame(wchproto.CmdControl, attachPayload),
		okFrame(wchproto.CmdControl, []byte{0x40}), // rom/ram sub-stage payload
	)
	sess := probe.Open(transport)
	_, err := sess.AttachChip(nil)
	require.NoError(t, err)
	return sess
}

func TestNewRejectsUnattachedSession(t *testing.T) {
	transport := &scriptedTransport{}
	sess := probe.Open(transport)
	_, err := New(sess, transport, nil, nil)
	require.Error(t, err)
}

func TestFlashRejectsProtectedFlash(t *testing.T) {
	transport := &scriptedTransport{}
	sess := attachedSession(t, transport)

	orch, err := New(sess, transport, newFakeCore(), nil)
	require.NoError(t, err)

	transport.responses = append(transport.responses,
		okFrame(wchproto.CmdFlashProt, []byte{wchproto.FlashProtected}),
		okFrame(wchproto.CmdControl, nil), // end_process from the deferred cleanup
	)

	err = orch.Flash([]image.Segment{{Address: 0x08000000, Data: []byte{1, 2, 3, 4}}}, false, false)
	require.Error(t, err)
	assert.Nil(t, sess.Chip(), "end_process always runs on exit, even on failure")
}

func TestFlashProgramsAndVerifiesOneSegment(t *testing.T) {
	transport := &scriptedTransport{}
	sess := attachedSession(t, transport)

	orch, err := New(sess, transport, newFakeCore(), nil)
	require.NoError(t, err)

	seg := image.Segment{Address: 0x08000000, Data: []byte{0xde, 0xad, 0xbe, 0xef}}
	transport.responses = append(transport.responses,
		okFrame(wchproto.CmdFlashProt, []byte{wchproto.FlashUnprotected}), // check_flash_protected
		okFrame(wchproto.CmdSetAddrSize, nil),                             // set_addr_size
		okFrame(wchproto.CmdProgram, nil),                                 // begin_transfer
		// the 64-byte chunk write itself is fire-and-forget, no response consumed
		okFrame(wchproto.CmdProgram, nil),          // end_transfer
		okFrame(wchproto.CmdProgram, []byte{0x00}), // verify: match
		okFrame(wchproto.CmdControl, nil),          // end_process
	)

	err = orch.Flash([]image.Segment{seg}, false, false)
	require.NoError(t, err)
}

func TestFlashReportsVerifyMismatch(t *testing.T) {
	transport := &scriptedTransport{}
	sess := attachedSession(t, transport)

	orch, err := New(sess, transport, newFakeCore(), nil)
	require.NoError(t, err)

	seg := image.Segment{Address: 0x08000000, Data: []byte{0x01}}
	transport.responses = append(transport.responses,
		okFrame(wchproto.CmdFlashProt, []byte{wchproto.FlashUnprotected}),
		okFrame(wchproto.CmdSetAddrSize, nil),
		okFrame(wchproto.CmdProgram, nil),
		okFrame(wchproto.CmdProgram, nil),          // end_transfer
		okFrame(wchproto.CmdProgram, []byte{0x01}), // verify: mismatch
		okFrame(wchproto.CmdControl, nil),
	)

	err = orch.Flash([]image.Segment{seg}, false, false)
	require.Error(t, err)
}

func TestEraseDefaultHaltsBeforeErasing(t *testing.T) {
	transport := &scriptedTransport{}
	sess := attachedSession(t, transport)

	dmTransport := &fakeDmTransport{}
	orch, err := New(sess, transport, dm.New(dmi.NewSession(dmTransport), true), nil)
	require.NoError(t, err)

	transport.responses = append(transport.responses,
		okFrame(wchproto.CmdProgram, nil), // full-chip erase ack
		okFrame(wchproto.CmdReset, nil),   // reset normal
		okFrame(wchproto.CmdControl, nil), // end_process
	)

	err = orch.Erase(EraseDefault, nil, nil)
	require.NoError(t, err)
	assert.True(t, dmTransport.halted, "Erase(EraseDefault) halts the hart")
}
