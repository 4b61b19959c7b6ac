package dm

import "github.com/boljen/go-bitmap"

// DM register addresses (RISC-V debug spec subset used by WCH probes,
// spec §4.E).
const (
	RegDmcontrol  uint8 = 0x10
	RegDmstatus   uint8 = 0x11
	RegHartinfo   uint8 = 0x12
	RegAbstractcs uint8 = 0x16
	RegCommand    uint8 = 0x17
	RegData0      uint8 = 0x04
	RegProgbuf0   uint8 = 0x20
)

// Vendor CSR addresses exposed on WCH RISC-V cores (spec §4.E).
const (
	CsrCPBR     uint16 = 0x7c0
	CsrCFGR     uint16 = 0x7c1
	CsrSHDWCFGR uint16 = 0x7c2
	CsrSTATR    uint16 = 0x7c3
)

// word is a 32-bit DM register value. Single-bit fields are addressed
// through github.com/boljen/go-bitmap (the same library
// bbnote-gostlink uses to assemble its ST-Link DAP request flag word);
// multi-bit fields (cmderr, regno, aarsize, cmdtype) use plain
// shift/mask since a bit-indexed accessor buys nothing once a field
// spans more than one bit.
type word struct {
	bm bitmap.Bitmap
}

func newWord(v uint32) word {
	bm := bitmap.New(32)
	for i := 0; i < 32; i++ {
		if v&(1<<uint(i)) != 0 {
			bm.Set(i, true)
		}
	}
	return word{bm: bm}
}

func (w word) uint32() uint32 {
	var v uint32
	for i := 0; i < 32; i++ {
		if w.bm.Get(i) {
			v |= 1 << uint(i)
		}
	}
	return v
}

func (w word) bit(i int) bool { return w.bm.Get(i) }

func (w *word) setBit(i int, v bool) { w.bm.Set(i, v) }

// dmcontrol bit positions.
const (
	bitDmactive   = 0
	bitNdmreset   = 1
	bitAckHaveRst = 28
	bitHartReset  = 29
	bitResumeReq  = 30
	bitHaltReq    = 31
)

// dmstatus bit positions.
const (
	bitAnyHalted     = 8
	bitAllHalted     = 9
	bitAnyResumeAck  = 16
	bitAllResumeAck  = 17
	bitAnyHaveReset  = 18
	bitAllHaveReset  = 19
)

// abstractcs fields.
const (
	bitBusy        = 12
	cmderrShift    = 8
	cmderrMask     = 0x7
)

func cmderrOf(abstractcs uint32) uint8 {
	return uint8((abstractcs >> cmderrShift) & cmderrMask)
}

// abstract command (command register) fields, Access Register variant.
const (
	cmdtypeShift = 24
	aarsizeShift = 20
	bitPostexec  = 18
	bitTransfer  = 17
	bitWrite     = 16
)

const cmdtypeAccessRegister = 0

const aarsize32 = 2 // aarsize field value for 32-bit access

// buildDmcontrol assembles a dmcontrol write value from named flags.
func buildDmcontrol(haltreq, resumereq, hartreset, ackhavereset, ndmreset, dmactive bool) uint32 {
	w := newWord(0)
	w.setBit(bitHaltReq, haltreq)
	w.setBit(bitResumeReq, resumereq)
	w.setBit(bitHartReset, hartreset)
	w.setBit(bitAckHaveRst, ackhavereset)
	w.setBit(bitNdmreset, ndmreset)
	w.setBit(bitDmactive, dmactive)
	return w.uint32()
}

// buildAbstractCommand assembles a command register write value for
// the Access Register command type used for GPR/CSR transfer.
func buildAbstractCommand(transfer, write, postexec bool, regno uint16) uint32 {
	v := uint32(cmdtypeAccessRegister) << cmdtypeShift
	v |= uint32(aarsize32) << aarsizeShift
	w := newWord(v)
	w.setBit(bitTransfer, transfer)
	w.setBit(bitWrite, write)
	w.setBit(bitPostexec, postexec)
	reg := w.uint32()
	reg |= uint32(regno)
	return reg
}

// gprRegno maps an x0..x31 GPR index to its DM regno (RISC-V debug
// spec: GPR regno = 0x1000 + x).
func gprRegno(x int) uint16 { return 0x1000 + uint16(x) }
