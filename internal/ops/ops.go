// Package ops implements the Operations Facade (spec §4.I): the thin
// verb layer the CLI drives, composing a probe session, the DMI/DM
// stack, and the flash orchestrator behind one guaranteed-cleanup API.
package ops

import (
	"github.com/google/gousb"

	"github.com/guiperry/wlink/internal/chipdb"
	"github.com/guiperry/wlink/internal/dm"
	"github.com/guiperry/wlink/internal/dmi"
	"github.com/guiperry/wlink/internal/flash"
	"github.com/guiperry/wlink/internal/image"
	"github.com/guiperry/wlink/internal/probe"
	"github.com/guiperry/wlink/internal/usbtransport"
	"github.com/guiperry/wlink/internal/wchproto"
	"github.com/guiperry/wlink/internal/wlinkerr"
	"github.com/guiperry/wlink/internal/wlog"
)

// Facade is the single entry point the CLI (spec §4.M) drives: each
// verb opens its own USB handle, attaches, does its work, and always
// tears the session down, mirroring the teacher's own command-handler
// pattern of open-resource/defer-close per invocation.
type Facade struct {
	VID, PID gousb.ID
	Family   *chipdb.Family // expected family, nil to accept whatever attaches
}

// openTransport is a var, not a direct usbtransport.Open call, so tests
// can substitute a scripted Transport for scope() the same way dmi/dm
// substitute their sleep/now clocks for a deterministic retry loop.
var openTransport = usbtransport.Open

// scope opens one USB transport, one probe session, and attaches a
// chip, returning a closer that tears both down regardless of how the
// caller's verb exits (spec §5: "every probe operation...always tears
// the handle down on exit, success or failure").
func (f *Facade) scope() (*probe.Session, func(), error) {
	t, err := openTransport(f.VID, f.PID)
	if err != nil {
		return nil, func() {}, err
	}
	sess := probe.Open(t)
	closer := func() {
		sess.Close()
	}

	if _, err := sess.GetInfo(); err != nil {
		closer()
		return nil, func() {}, err
	}
	if _, err := sess.AttachChip(f.Family); err != nil {
		closer()
		return nil, func() {}, err
	}
	return sess, closer, nil
}

// Status reports the attached chip and probe variant (spec §4.I
// "status").
type Status struct {
	Variant wchproto.Variant
	Chip    probe.ChipInstance
}

func (f *Facade) Status() (Status, error) {
	sess, closer, err := f.scope()
	if err != nil {
		return Status{}, err
	}
	defer closer()
	return Status{Variant: sess.Variant(), Chip: *sess.Chip()}, nil
}

// Flash drives the program verb end-to-end: load the image, optionally
// pre-erase, program + verify each segment, optionally reset (spec
// §4.G/§4.I).
func (f *Facade) Flash(imagePath string, base uint32, preErase bool, reset bool, onProgress flash.ProgressFunc) error {
	sess, closer, err := f.scope()
	if err != nil {
		return err
	}
	defer closer()

	segs, err := image.Load(imagePath, base)
	if err != nil {
		return err
	}

	core, closeCore, err := f.dmCore(sess)
	if err != nil {
		return err
	}
	defer closeCore()

	orch, err := flash.New(sess, transportOf(sess), core, onProgress)
	if err != nil {
		return err
	}
	return orch.Flash(segs, preErase, reset)
}

// Erase drives the erase verb (spec §4.I).
func (f *Facade) Erase(method flash.EraseMethod, power func(bool) error, pinReset func() error, onProgress flash.ProgressFunc) error {
	sess, closer, err := f.scope()
	if err != nil {
		return err
	}
	defer closer()

	core, closeCore, err := f.dmCore(sess)
	if err != nil {
		return err
	}
	defer closeCore()

	orch, err := flash.New(sess, transportOf(sess), core, onProgress)
	if err != nil {
		return err
	}
	return orch.Erase(method, power, pinReset)
}

// Dump drives the memory-read verb (spec §4.I). By default it checks
// flash protection and reads through BeginReadMemory; when useDM is set
// it halts the hart and reads through the DM core instead. The path is
// chosen by useDM alone, not by the chip family registry. Both paths
// return the bytes in address order.
func (f *Facade) Dump(addr uint32, length int, useDM bool) ([]byte, error) {
	sess, closer, err := f.scope()
	if err != nil {
		return nil, err
	}
	defer closer()

	if !useDM {
		protected, err := sess.CheckFlashProtected()
		if err != nil {
			return nil, err
		}
		if protected {
			return nil, wlinkerr.FlashProtectedErr()
		}
		return sess.BeginReadMemory(addr, length)
	}

	core, closeCore, err := f.dmCore(sess)
	if err != nil {
		return nil, err
	}
	defer closeCore()

	if err := core.Halt(); err != nil {
		return nil, err
	}
	defer core.Resume()

	words, err := core.ReadMemory(addr, (length+3)/4)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(words)*4)
	for _, w := range words {
		out = append(out, byte(w), byte(w>>8), byte(w>>16), byte(w>>24))
	}
	if len(out) > length {
		out = out[:length]
	}
	return out, nil
}

// Regs reads the GPRs x1..x31, keyed by ABI name, via the DM (spec
// §4.I "regs"). pc/dpc is not read.
func (f *Facade) Regs() (map[string]uint32, error) {
	sess, closer, err := f.scope()
	if err != nil {
		return nil, err
	}
	defer closer()

	core, closeCore, err := f.dmCore(sess)
	if err != nil {
		return nil, err
	}
	defer closeCore()

	if err := core.Halt(); err != nil {
		return nil, err
	}
	defer core.Resume()

	out := make(map[string]uint32, 32)
	for i := 1; i < 32; i++ {
		v, err := core.ReadGPR(i)
		if err != nil {
			return nil, err
		}
		out[gprName(i)] = v
	}
	return out, nil
}

// WriteReg writes one CSR via the DM (spec §4.I "write_reg").
func (f *Facade) WriteReg(csr uint16, value uint32) error {
	sess, closer, err := f.scope()
	if err != nil {
		return err
	}
	defer closer()

	core, closeCore, err := f.dmCore(sess)
	if err != nil {
		return err
	}
	defer closeCore()

	if err := core.Halt(); err != nil {
		return err
	}
	defer core.Resume()
	return core.WriteCSR(csr, value)
}

// Reset drives the reset verb directly on the probe session (spec
// §4.I "reset").
func (f *Facade) Reset(kind probe.ResetKind) error {
	sess, closer, err := f.scope()
	if err != nil {
		return err
	}
	defer closer()
	return sess.Reset(kind)
}

// ModeSwitch drives the variant-specific mode-switch verb (spec §4.I
// "mode-switch"): currently the only modeled transition is the
// probe-speed negotiation, since spec.md leaves the RST/SWD mode toggle
// wire detail unspecified beyond naming the capability.
func (f *Facade) ModeSwitch(speed wchproto.Speed) error {
	sess, closer, err := f.scope()
	if err != nil {
		return err
	}
	defer closer()
	return sess.SetSpeed(speed)
}

// Protect and Unprotect drive the flash write-protection toggle (spec
// §4.I "protect"/"unprotect").
func (f *Facade) Protect(enable bool) error {
	sess, closer, err := f.scope()
	if err != nil {
		return err
	}
	defer closer()
	return sess.SetFlashProtected(enable)
}

func (f *Facade) Unprotect() error {
	sess, closer, err := f.scope()
	if err != nil {
		return err
	}
	defer closer()
	return flash.Unprotect(sess, f.Family)
}

// dmCore wraps the attached session's transport in a DMI session and a
// DM core, scoped to the chip's RV32EC-ness (spec §4.D/§4.E).
func (f *Facade) dmCore(sess *probe.Session) (*dm.Core, func(), error) {
	chip := sess.Chip()
	if chip == nil {
		return nil, func() {}, wlinkerr.NotAttachedErr()
	}
	row, ok := chipdb.Lookup(chip.Family)
	if !ok {
		return nil, func() {}, wlinkerr.UnsupportedErr("register access on an unregistered chip family")
	}

	dmiSess := dmi.NewSession(dmi.New(transportOf(sess)))
	core := dm.New(dmiSess, !row.RV32EC)
	wlog.Chip(row.Name, chip.ChipID).Debug("opened dm core")
	return core, func() {}, nil
}

func gprName(i int) string {
	names := [...]string{
		"", "ra", "sp", "gp", "tp", "t0", "t1", "t2", "s0", "s1",
		"a0", "a1", "a2", "a3", "a4", "a5", "a6", "a7",
		"s2", "s3", "s4", "s5", "s6", "s7", "s8", "s9", "s10", "s11",
		"t3", "t4", "t5", "t6",
	}
	if i >= 0 && i < len(names) {
		return names[i]
	}
	return "x"
}

// transportOf exposes the session's underlying USB transport so the
// flash orchestrator and the DMI layer can issue raw frames alongside
// the session's own higher-level calls. Both operate on the same probe
// handle within one scope, never concurrently (spec §5: "Exactly one:
// the USB device handle").
func transportOf(sess *probe.Session) usbtransport.Transport {
	return sess.Transport()
}
