// Package flash implements the Flash Orchestrator (spec §4.G): erase,
// program, and verify cycles composed over a probe session, the DMI
// transport, and the Debug-Module core.
package flash

import (
	"time"

	"github.com/guiperry/wlink/internal/chipdb"
	"github.com/guiperry/wlink/internal/dm"
	"github.com/guiperry/wlink/internal/image"
	"github.com/guiperry/wlink/internal/probe"
	"github.com/guiperry/wlink/internal/usbtransport"
	"github.com/guiperry/wlink/internal/wchproto"
	"github.com/guiperry/wlink/internal/wlinkerr"
	"github.com/guiperry/wlink/internal/wlog"
)

// EraseMethod enumerates the erase strategies of spec §4.G.
type EraseMethod int

const (
	EraseDefault EraseMethod = iota
	ErasePowerOff
	ErasePinRst
)

// ProgressStage names the phase reported to the progress sink.
type ProgressStage string

const (
	StageAttach  ProgressStage = "attach"
	StageErase   ProgressStage = "erase"
	StageProgram ProgressStage = "program"
	StageVerify  ProgressStage = "verify"
	StageReset   ProgressStage = "reset"
)

// ProgressFunc is the progress reporting contract of spec §4.G
// ("Progress reporting is delegated to a sink callback on_progress").
type ProgressFunc func(stage ProgressStage, done, total int)

// chunkSize is the probe's buck-transfer frame size (spec §4.G).
const chunkSize = 64

// eraseTimeout is the Default erase method's time budget (spec §4.G).
const eraseTimeout = 5 * time.Second

// bulkTimeout is the timeout for program/verify bulk windows (spec §5).
const bulkTimeout = 10 * time.Second

// Orchestrator drives flash verbs over one attached chip.
type Orchestrator struct {
	sess       *probe.Session
	row        chipdb.Row
	t          usbtransport.Transport
	core       *dm.Core
	onProgress ProgressFunc
}

// New builds an Orchestrator for a chip already attached on sess. core is
// the DM core over the same attached chip, used to halt the hart before
// erase/program/read (spec §4.G: "attach, halt, issue cmd ...").
func New(sess *probe.Session, t usbtransport.Transport, core *dm.Core, onProgress ProgressFunc) (*Orchestrator, error) {
	chip := sess.Chip()
	if chip == nil {
		return nil, wlinkerr.NotAttachedErr()
	}
	row, ok := chipdb.Lookup(chip.Family)
	if !ok {
		return nil, wlinkerr.UnsupportedErr("flash operations on an unregistered chip family")
	}
	if onProgress == nil {
		onProgress = func(ProgressStage, int, int) {}
	}
	return &Orchestrator{sess: sess, row: row, t: t, core: core, onProgress: onProgress}, nil
}

func (o *Orchestrator) roundTrip(cmd byte, hasSubcmd bool, subcmd byte, payload []byte, timeout time.Duration) (*wchproto.Frame, error) {
	req, err := wchproto.Encode(cmd, hasSubcmd, subcmd, payload)
	if err != nil {
		return nil, err
	}
	if err := o.t.WriteBulk(req, timeout); err != nil {
		return nil, err
	}
	raw, err := o.t.ReadBulk(64, timeout)
	if err != nil {
		return nil, err
	}
	return wchproto.Decode(raw)
}

// Erase drives the erase verb (spec §4.G).
func (o *Orchestrator) Erase(method EraseMethod, power func(on bool) error, pinReset func() error) error {
	defer o.sess.EndProcess()

	switch method {
	case EraseDefault:
		o.onProgress(StageAttach, 0, 1)
		if err := o.haltAttached(); err != nil {
			return err
		}
		o.onProgress(StageErase, 0, 1)
		deadline := time.Now().Add(eraseTimeout)
		if _, err := o.roundTrip(wchproto.CmdProgram, true, wchproto.ProgramSubErase, nil, eraseTimeout); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return wlinkerr.EraseTimeoutErr()
		}
		o.onProgress(StageErase, 1, 1)
		return o.sess.Reset(probe.ResetNormal)

	case ErasePowerOff:
		if !o.row.SpecialErase {
			return wlinkerr.UnsupportedErr("power-off erase on this chip family")
		}
		if power == nil {
			return wlinkerr.UnsupportedErr("power-off erase without a switchable power rail")
		}
		if err := power(false); err != nil {
			return err
		}
		time.Sleep(50 * time.Millisecond)
		if err := power(true); err != nil {
			return err
		}
		o.onProgress(StageErase, 0, 1)
		_, err := o.roundTrip(wchproto.CmdProgram, true, wchproto.ProgramSubErase, nil, eraseTimeout)
		o.onProgress(StageErase, 1, 1)
		return err

	case ErasePinRst:
		if !o.row.SpecialErase {
			return wlinkerr.UnsupportedErr("pin-reset erase on this chip family")
		}
		if pinReset == nil {
			return wlinkerr.UnsupportedErr("pin-reset erase without RST control")
		}
		if err := pinReset(); err != nil {
			return err
		}
		o.onProgress(StageErase, 0, 1)
		_, err := o.roundTrip(wchproto.CmdProgram, true, wchproto.ProgramSubErase, nil, eraseTimeout)
		o.onProgress(StageErase, 1, 1)
		return err

	default:
		return wlinkerr.UnsupportedErr("unknown erase method")
	}
}

// haltAttached halts the hart before erase/program/read (spec §4.G/§8
// scenarios 3 and 4). None of those scenarios resume afterward: the
// flow that follows always ends in a full chip reset, which supersedes
// an explicit resume.
func (o *Orchestrator) haltAttached() error {
	return o.core.Halt()
}

// Flash drives the program verb over a set of already gap-merged load
// segments (spec §4.G). preErase requests a sector-granular erase over
// each segment's covered range before programming; the default (false)
// matches the v0.0.7 behavior change: do not pre-erase implicitly.
func (o *Orchestrator) Flash(segs []image.Segment, preErase bool, doReset bool) error {
	defer o.sess.EndProcess()

	o.onProgress(StageAttach, 0, 1)
	if err := o.haltAttached(); err != nil {
		return err
	}
	protected, err := o.sess.CheckFlashProtected()
	if err != nil {
		return err
	}
	if protected {
		return wlinkerr.FlashProtectedErr()
	}
	o.onProgress(StageAttach, 1, 1)

	for i, seg := range segs {
		if preErase {
			o.onProgress(StageErase, i, len(segs))
			if _, err := o.roundTrip(wchproto.CmdProgram, true, wchproto.ProgramSubErase, nil, eraseTimeout); err != nil {
				return err
			}
		}

		if err := o.programSegment(seg, i, len(segs)); err != nil {
			return err
		}
		if err := o.verifySegment(seg); err != nil {
			return err
		}
	}

	if doReset {
		o.onProgress(StageReset, 0, 1)
		if err := o.sess.Reset(probe.ResetNormal); err != nil {
			return err
		}
		o.onProgress(StageReset, 1, 1)
	}
	return nil
}

func (o *Orchestrator) programSegment(seg image.Segment, idx, total int) error {
	addrSize := make([]byte, 8)
	putBe32(addrSize[0:4], seg.Address)
	putBe32(addrSize[4:8], uint32(len(seg.Data)))
	if _, err := o.roundTrip(wchproto.CmdSetAddrSize, false, 0, addrSize, usbtransport.DefaultTimeout); err != nil {
		return err
	}

	if _, err := o.roundTrip(wchproto.CmdProgram, true, wchproto.ProgramSubBeginTransfer, nil, bulkTimeout); err != nil {
		return err
	}

	sent := 0
	for sent < len(seg.Data) {
		end := sent + chunkSize
		if end > len(seg.Data) {
			end = len(seg.Data)
		}
		chunk := seg.Data[sent:end]
		if len(chunk) < chunkSize {
			padded := make([]byte, chunkSize)
			copy(padded, chunk)
			chunk = padded
		}
		if err := o.t.WriteBulk(chunk, bulkTimeout); err != nil {
			return err
		}
		sent = end
		o.onProgress(StageProgram, idx*1000+sent, total*1000+len(seg.Data))
	}

	_, err := o.roundTrip(wchproto.CmdProgram, true, wchproto.ProgramSubEndTransfer, nil, bulkTimeout)
	return err
}

func (o *Orchestrator) verifySegment(seg image.Segment) error {
	sub := byte(wchproto.ProgramSubVerify)
	if o.row.Family == chipdb.CH32V103 {
		sub = wchproto.ProgramSubVerifyCh32V103
	}

	sizeField := make([]byte, 4)
	putBe32(sizeField, uint32(len(seg.Data)))
	frame, err := o.roundTrip(wchproto.CmdProgram, true, sub, sizeField, bulkTimeout)
	if err != nil {
		return err
	}
	o.onProgress(StageVerify, 1, 1)
	if len(frame.Payload) > 0 && frame.Payload[0] != 0 {
		return wlinkerr.VerifyMismatchErr(seg.Address, uint32(len(seg.Data)), 0)
	}
	return nil
}

func putBe32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// Unprotect clears flash write protection, performs the reset/re-attach
// cycle the protected-flash flow needs (spec §8 scenario 6), and
// returns once the chip is re-attached and ready for a retry.
func Unprotect(sess *probe.Session, expected *chipdb.Family) error {
	if err := sess.SetFlashProtected(false); err != nil {
		return err
	}
	if err := sess.Reset(probe.ResetQuit); err != nil {
		return err
	}
	_, err := sess.AttachChip(expected)
	if err != nil {
		return err
	}
	wlog.Logger.Info("flash unprotected and chip re-attached")
	return nil
}
