// Package dm implements the Debug-Module Core (spec §4.E): the
// abstract-command state machine for GPR/CSR/memory access and
// halt/resume/step, built on top of the DMI transport.
package dm

import (
	"time"

	"github.com/guiperry/wlink/internal/dmi"
	"github.com/guiperry/wlink/internal/wlinkerr"
)

// pollDeadline bounds both the Halt/Resume poll and the abstractcs.busy
// poll (spec §4.E: "busy... must be polled under a deadline identical
// to the Halt timeout").
const pollDeadline = 100 * time.Millisecond

const pollInterval = 1 * time.Millisecond

var sleep = time.Sleep
var now = time.Now

// Core drives one hart's Debug Module over a DMI session.
type Core struct {
	d *dmi.Session
	// autoincrement is false for small cores (CH32V003 and the other
	// RV32EC family rows) that do not support the progbuf-driven
	// autoincrement memory access path and must fall back to per-word
	// direct accesses (spec §4.E).
	autoincrement bool
}

// New builds a Core over the given DMI session.
func New(d *dmi.Session, autoincrement bool) *Core {
	return &Core{d: d, autoincrement: autoincrement}
}

func (c *Core) writeDmcontrol(v uint32) error {
	return c.d.WriteReg(RegDmcontrol, v)
}

func (c *Core) readReg(addr uint8) (uint32, error) {
	return c.d.ReadReg(addr)
}

// Halt asserts dmcontrol.haltreq and polls dmstatus.allhalted.
func (c *Core) Halt() error {
	if err := c.writeDmcontrol(buildDmcontrol(true, false, false, false, false, true)); err != nil {
		return err
	}
	deadline := now().Add(pollDeadline)
	for {
		status, err := c.readReg(RegDmstatus)
		if err != nil {
			return err
		}
		if newWord(status).bit(bitAllHalted) {
			// Deassert haltreq now that the hart reports halted.
			return c.writeDmcontrol(buildDmcontrol(false, false, false, false, false, true))
		}
		if now().After(deadline) {
			return wlinkerr.HaltTimeoutErr()
		}
		sleep(pollInterval)
	}
}

// Resume asserts dmcontrol.resumereq and polls dmstatus.allresumeack.
func (c *Core) Resume() error {
	if err := c.writeDmcontrol(buildDmcontrol(false, true, false, false, false, true)); err != nil {
		return err
	}
	deadline := now().Add(pollDeadline)
	for {
		status, err := c.readReg(RegDmstatus)
		if err != nil {
			return err
		}
		if newWord(status).bit(bitAllResumeAck) {
			return c.writeDmcontrol(buildDmcontrol(false, false, false, false, false, true))
		}
		if now().After(deadline) {
			return wlinkerr.HaltTimeoutErr()
		}
		sleep(pollInterval)
	}
}

// ResetCore asserts ndmreset, releases it, then halts if requested
// (spec §4.E).
func (c *Core) ResetCore(haltAfter bool) error {
	if err := c.writeDmcontrol(buildDmcontrol(false, false, false, false, true, true)); err != nil {
		return err
	}
	if err := c.writeDmcontrol(buildDmcontrol(false, false, false, true, false, true)); err != nil {
		return err
	}
	if haltAfter {
		return c.Halt()
	}
	return nil
}

func (c *Core) clearCmdErr() error {
	return c.d.WriteReg(RegAbstractcs, cmderrMask<<cmderrShift)
}

func (c *Core) waitNotBusy() (uint32, error) {
	deadline := now().Add(pollDeadline)
	for {
		abstractcs, err := c.readReg(RegAbstractcs)
		if err != nil {
			return 0, err
		}
		if !newWord(abstractcs).bit(bitBusy) {
			return abstractcs, nil
		}
		if now().After(deadline) {
			return 0, wlinkerr.HaltTimeoutErr()
		}
		sleep(pollInterval)
	}
}

// accessRegister drives one Access Register abstract command.
func (c *Core) accessRegister(regno uint16, write bool, postexec bool, data uint32) (uint32, error) {
	if err := c.clearCmdErr(); err != nil {
		return 0, err
	}
	if write {
		if err := c.d.WriteReg(RegData0, data); err != nil {
			return 0, err
		}
	}
	cmd := buildAbstractCommand(true, write, postexec, regno)
	if err := c.d.WriteReg(RegCommand, cmd); err != nil {
		return 0, err
	}
	abstractcs, err := c.waitNotBusy()
	if err != nil {
		return 0, err
	}
	if code := cmderrOf(abstractcs); code != 0 {
		return 0, wlinkerr.AbstractCmdErrorErr(code)
	}
	if write {
		return 0, nil
	}
	return c.readReg(RegData0)
}

// ReadGPR reads x(idx), idx in [0,31].
func (c *Core) ReadGPR(idx int) (uint32, error) {
	return c.accessRegister(gprRegno(idx), false, false, 0)
}

// WriteGPR writes x(idx), idx in [0,31].
func (c *Core) WriteGPR(idx int, value uint32) error {
	_, err := c.accessRegister(gprRegno(idx), true, false, value)
	return err
}

// ReadCSR reads the CSR at the given address.
func (c *Core) ReadCSR(csr uint16) (uint32, error) {
	return c.accessRegister(csr, false, false, 0)
}

// WriteCSR writes the CSR at the given address.
func (c *Core) WriteCSR(csr uint16, value uint32) error {
	_, err := c.accessRegister(csr, true, false, value)
	return err
}

// RISC-V instruction encodings used to build progbuf sequences. Only
// the three forms the memory-access sequence needs are built here.
const (
	regS0 = 8 // x8, address pointer
	regX1 = 1 // x1, scratch data register
)

func encodeLw(rd, rs1 int) uint32 {
	return uint32(rs1)<<15 | 2<<12 | uint32(rd)<<7 | 0x03
}

func encodeSw(rs2, rs1 int) uint32 {
	return uint32(rs2)<<20 | uint32(rs1)<<15 | 2<<12 | 0x23
}

func encodeAddi4(rd, rs1 int) uint32 {
	return 4<<20 | uint32(rs1)<<15 | uint32(rd)<<7 | 0x13
}

const encodeEbreak uint32 = 0x00100073

func (c *Core) writeProgbuf(words []uint32) error {
	for i, w := range words {
		if err := c.d.WriteReg(RegProgbuf0+uint8(i), w); err != nil {
			return err
		}
	}
	return nil
}

// ReadMemory reads n 32-bit words starting at addr. On cores with
// progbuf autoincrement support it pipelines the read (spec §4.E); on
// small cores (RV32EC) it falls back to one round trip per word.
func (c *Core) ReadMemory(addr uint32, n int) ([]uint32, error) {
	if n == 0 {
		return nil, nil
	}
	if !c.autoincrement {
		return c.readMemoryPerWord(addr, n)
	}

	if err := c.writeProgbuf([]uint32{encodeLw(regX1, regS0), encodeAddi4(regS0, regS0), encodeEbreak}); err != nil {
		return nil, err
	}
	if err := c.WriteGPR(regS0, addr); err != nil {
		return nil, err
	}

	// Prime: run progbuf once with no register transfer, loading
	// word[0] into x1 and advancing s0 to addr+4.
	if _, err := c.accessRegister(gprRegno(regX1), false, true, 0); err != nil {
		return nil, err
	}

	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		// Transfer reads the value x1 holds from the previous
		// iteration's (or the priming) progbuf execution, then postexec
		// loads the next word and advances s0.
		v, err := c.accessRegister(gprRegno(regX1), false, true, 0)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// readMemoryPerWord drives one word per abstract command, without
// relying on progbuf autoincrement. accessRegister's transfer always
// precedes its postexec within one command (same ordering constraint
// as the pipelined path above), so the value loaded by a given
// command's postexec can only be harvested by the *next* command's
// transfer — hence the one-command priming read before the loop, and
// setting up word i+1's address before reading back word i.
func (c *Core) readMemoryPerWord(addr uint32, n int) ([]uint32, error) {
	if err := c.writeProgbuf([]uint32{encodeLw(regX1, regS0), encodeEbreak}); err != nil {
		return nil, err
	}
	if err := c.WriteGPR(regS0, addr); err != nil {
		return nil, err
	}
	if _, err := c.accessRegister(gprRegno(regX1), false, true, 0); err != nil {
		return nil, err
	}

	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		more := i+1 < n
		if more {
			if err := c.WriteGPR(regS0, addr+uint32(i+1)*4); err != nil {
				return nil, err
			}
		}
		v, err := c.accessRegister(gprRegno(regX1), false, more, 0)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// WriteMemory writes n 32-bit words starting at addr.
func (c *Core) WriteMemory(addr uint32, words []uint32) error {
	if len(words) == 0 {
		return nil
	}
	if !c.autoincrement {
		return c.writeMemoryPerWord(addr, words)
	}

	if err := c.writeProgbuf([]uint32{encodeSw(regX1, regS0), encodeAddi4(regS0, regS0), encodeEbreak}); err != nil {
		return err
	}
	if err := c.WriteGPR(regS0, addr); err != nil {
		return err
	}
	for _, v := range words {
		// Transfer writes x1 := v, then postexec stores x1 to [s0] and
		// advances s0 — no priming needed since the write precedes the
		// store in the same abstract command.
		if _, err := c.accessRegister(gprRegno(regX1), true, true, v); err != nil {
			return err
		}
	}
	return nil
}

func (c *Core) writeMemoryPerWord(addr uint32, words []uint32) error {
	if err := c.writeProgbuf([]uint32{encodeSw(regX1, regS0), encodeEbreak}); err != nil {
		return err
	}
	for i, v := range words {
		if err := c.WriteGPR(regS0, addr+uint32(i)*4); err != nil {
			return err
		}
		if _, err := c.accessRegister(gprRegno(regX1), true, true, v); err != nil {
			return err
		}
	}
	return nil
}
