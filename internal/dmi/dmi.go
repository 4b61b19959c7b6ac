// Package dmi implements the DMI Transport (spec §4.D): tunneled
// RISC-V Debug Module Interface reads/writes over probe cmd 0x08, with
// Busy retry and Failed/transport error classification.
package dmi

import (
	"time"

	"github.com/guiperry/wlink/internal/usbtransport"
	"github.com/guiperry/wlink/internal/wchproto"
	"github.com/guiperry/wlink/internal/wlinkerr"
	"github.com/guiperry/wlink/internal/wlog"
)

// Op is the DMI request/response operation field (spec §3). On a
// response the same field carries a status instead.
type Op uint8

const (
	Nop   Op = 0
	Read  Op = 1
	Write Op = 2

	StatusOk       Op = 0
	StatusReserved Op = 1
	StatusFailed   Op = 2
	StatusBusy     Op = 3
)

// Transaction is one DMI request or response (spec §3).
type Transaction struct {
	Addr uint8 // u7
	Data uint32
	Op   Op
}

// Transport is the interface the retry policy drives; a real Transport
// tunnels through probe cmd 0x08, a mock Transport drives the busy-bound
// property test of spec §8.
type Transport interface {
	RoundTrip(tx Transaction) (Transaction, error)
}

// UsbDmi tunnels DMI transactions through probe cmd 0x08 over a raw USB
// transport, one transaction per frame.
type UsbDmi struct {
	t usbtransport.Transport
}

// New builds a DMI Transport bound to an already-opened USB transport.
func New(t usbtransport.Transport) *UsbDmi {
	return &UsbDmi{t: t}
}

func (d *UsbDmi) RoundTrip(tx Transaction) (Transaction, error) {
	payload := make([]byte, 6)
	payload[0] = tx.Addr
	payload[1] = byte(tx.Data >> 24)
	payload[2] = byte(tx.Data >> 16)
	payload[3] = byte(tx.Data >> 8)
	payload[4] = byte(tx.Data)
	payload[5] = byte(tx.Op)

	req, err := wchproto.EncodeFrame(wchproto.CmdDmi, payload)
	if err != nil {
		return Transaction{}, err
	}
	if err := d.t.WriteBulk(req, usbtransport.DefaultTimeout); err != nil {
		return Transaction{}, err
	}
	raw, err := d.t.ReadBulk(64, usbtransport.DefaultTimeout)
	if err != nil {
		return Transaction{}, err
	}
	frame, err := wchproto.Decode(raw)
	if err != nil {
		return Transaction{}, err
	}
	if len(frame.Payload) < 6 {
		return Transaction{}, wlinkerr.FrameMalformedErr("dmi response too short")
	}
	return Transaction{
		Addr: frame.Payload[0],
		Data: uint32(frame.Payload[1])<<24 | uint32(frame.Payload[2])<<16 | uint32(frame.Payload[3])<<8 | uint32(frame.Payload[4]),
		Op:   Op(frame.Payload[5]),
	}, nil
}

// Retry policy constants (spec §4.D): exponential 1ms→16ms, cap 64ms,
// total deadline 500ms.
const (
	initialBackoff = 1 * time.Millisecond
	maxBackoff     = 64 * time.Millisecond
	totalDeadline  = 500 * time.Millisecond
)

// sleep is a var so tests can run the retry loop without real delays.
var sleep = time.Sleep

// now is a var so tests can control the deadline clock.
var now = time.Now

// Session drives a Transport with the retry/translation policy of
// spec §4.D.
type Session struct {
	t Transport
}

// NewSession wraps a Transport with DMI retry policy.
func NewSession(t Transport) *Session {
	return &Session{t: t}
}

// execute issues tx, retrying on Busy per the exponential backoff
// policy, and classifies Failed/transport-error outcomes.
func (s *Session) execute(tx Transaction) (Transaction, error) {
	deadline := now().Add(totalDeadline)
	backoff := initialBackoff
	attempts := 0

	for {
		resp, err := s.t.RoundTrip(tx)
		attempts++
		if err != nil {
			return Transaction{}, err
		}

		switch resp.Op {
		case StatusOk:
			return resp, nil
		case StatusFailed:
			return Transaction{}, wlinkerr.DmiFailedErr(uint32(tx.Addr))
		case StatusBusy:
			if now().After(deadline) {
				return Transaction{}, wlinkerr.DmiBusyErr(attempts)
			}
			sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		default:
			// Reserved or unrecognized status: treat like Failed, the
			// transaction did not complete as requested.
			return Transaction{}, wlinkerr.DmiFailedErr(uint32(tx.Addr))
		}
	}
}

// ReadReg issues a DMI read of addr.
func (s *Session) ReadReg(addr uint8) (uint32, error) {
	resp, err := s.execute(Transaction{Addr: addr, Op: Read})
	if err != nil {
		return 0, err
	}
	wlog.Logger.Tracef("dmi read addr=0x%02x data=0x%08x", addr, resp.Data)
	return resp.Data, nil
}

// WriteReg issues a DMI write of data to addr.
func (s *Session) WriteReg(addr uint8, data uint32) error {
	_, err := s.execute(Transaction{Addr: addr, Data: data, Op: Write})
	if err == nil {
		wlog.Logger.Tracef("dmi write addr=0x%02x data=0x%08x", addr, data)
	}
	return err
}
