// Package chipdb holds the frozen RISC-V chip family registry (spec
// §4.F): a static table indexed by family tag, carrying flash
// geometry, attach quirks, and the wire ID the probe reports on
// attach. Adding a chip is a new table row, never a new type (spec §9
// design note).
package chipdb

// Family is the closed set of chip family tags named in spec §3.
type Family int

const (
	FamilyUnknown Family = iota
	CH32V103
	CH57x
	CH56x
	CH32V20x
	CH32V30x
	CH58x
	CH32V003
	CH32X035
	CH32L103
	CH641
	CH643
	CH32V002
	CH32V004
	CH32V005
	CH32V006
	CH32V007
	CH32M007
	CH585
	CH584
	CH32V317
)

func (f Family) String() string {
	if row, ok := registryByFamily[f]; ok {
		return row.Name
	}
	return "Unknown"
}

// AttachSubStage enumerates the family-conditional attach follow-up
// call of spec §4.C.
type AttachSubStage int

const (
	SubStageNone    AttachSubStage = iota
	SubStageV103                   // sub-stage 0x03, CH32V103 only
	SubStageRomRam                 // sub-stage 0x04, returns ROM/RAM split
)

// Row is one registry entry: the static metadata for a chip family.
type Row struct {
	Family   Family
	Name     string
	WireID   uint8
	FlashBase uint32
	PageSize  uint32
	SectorSize uint32
	SpecialErase bool
	AttachStage AttachSubStage
	DisableDebug bool // CH57x/CH56x only (spec §4.C disable_debug)
	RV32EC       bool // CH32V003: reduced core, no progbuf autoincrement
	BootROM      [2]uint32
}

// Registry is the frozen chip family table, spec §3/§4.F.
var Registry = []Row{
	{Family: CH32V103, Name: "CH32V103", WireID: 0x01, FlashBase: 0x08000000, PageSize: 64, SectorSize: 4 * 1024, SpecialErase: true, AttachStage: SubStageV103},
	{Family: CH57x, Name: "CH57x", WireID: 0x02, FlashBase: 0x00000000, PageSize: 256, SectorSize: 4 * 1024, SpecialErase: true, DisableDebug: true},
	{Family: CH56x, Name: "CH56x", WireID: 0x03, FlashBase: 0x00000000, PageSize: 256, SectorSize: 4 * 1024, SpecialErase: true, AttachStage: SubStageRomRam, DisableDebug: true},
	{Family: CH32V20x, Name: "CH32V20x", WireID: 0x05, FlashBase: 0x08000000, PageSize: 64, SectorSize: 4 * 1024, SpecialErase: true, AttachStage: SubStageRomRam},
	{Family: CH32V30x, Name: "CH32V30x", WireID: 0x06, FlashBase: 0x08000000, PageSize: 64, SectorSize: 4 * 1024, SpecialErase: true, AttachStage: SubStageRomRam},
	{Family: CH58x, Name: "CH58x", WireID: 0x07, FlashBase: 0x00000000, PageSize: 256, SectorSize: 4 * 1024, SpecialErase: true},
	{Family: CH32V003, Name: "CH32V003", WireID: 0x09, FlashBase: 0x08000000, PageSize: 64, SectorSize: 1 * 1024, SpecialErase: true, AttachStage: SubStageRomRam, RV32EC: true},

	// Extension points (spec §3): vendor geometry per WCH reference
	// manuals, wire IDs assigned sequentially after the core set since
	// spec.md leaves them unspecified beyond naming the families.
	{Family: CH32X035, Name: "CH32X035", WireID: 0x0b, FlashBase: 0x08000000, PageSize: 256, SectorSize: 4 * 1024, SpecialErase: true, AttachStage: SubStageRomRam},
	{Family: CH32L103, Name: "CH32L103", WireID: 0x0c, FlashBase: 0x08000000, PageSize: 256, SectorSize: 4 * 1024, SpecialErase: true, AttachStage: SubStageRomRam},
	{Family: CH641, Name: "CH641", WireID: 0x0d, FlashBase: 0x08000000, PageSize: 64, SectorSize: 1 * 1024, SpecialErase: true, AttachStage: SubStageRomRam, RV32EC: true},
	{Family: CH643, Name: "CH643", WireID: 0x0e, FlashBase: 0x08000000, PageSize: 256, SectorSize: 4 * 1024, SpecialErase: true, AttachStage: SubStageRomRam},
	{Family: CH32V002, Name: "CH32V002", WireID: 0x10, FlashBase: 0x08000000, PageSize: 64, SectorSize: 1 * 1024, SpecialErase: true, AttachStage: SubStageRomRam, RV32EC: true},
	{Family: CH32V004, Name: "CH32V004", WireID: 0x11, FlashBase: 0x08000000, PageSize: 64, SectorSize: 1 * 1024, SpecialErase: true, AttachStage: SubStageRomRam, RV32EC: true},
	{Family: CH32V005, Name: "CH32V005", WireID: 0x12, FlashBase: 0x08000000, PageSize: 64, SectorSize: 1 * 1024, SpecialErase: true, AttachStage: SubStageRomRam, RV32EC: true},
	{Family: CH32V006, Name: "CH32V006", WireID: 0x13, FlashBase: 0x08000000, PageSize: 64, SectorSize: 1 * 1024, SpecialErase: true, AttachStage: SubStageRomRam, RV32EC: true},
	{Family: CH32V007, Name: "CH32V007", WireID: 0x14, FlashBase: 0x08000000, PageSize: 64, SectorSize: 1 * 1024, SpecialErase: true, AttachStage: SubStageRomRam, RV32EC: true},
	{Family: CH32M007, Name: "CH32M007", WireID: 0x15, FlashBase: 0x08000000, PageSize: 256, SectorSize: 4 * 1024, SpecialErase: true, AttachStage: SubStageRomRam},
	{Family: CH585, Name: "CH585", WireID: 0x16, FlashBase: 0x00000000, PageSize: 256, SectorSize: 4 * 1024, SpecialErase: true},
	{Family: CH584, Name: "CH584", WireID: 0x17, FlashBase: 0x00000000, PageSize: 256, SectorSize: 4 * 1024, SpecialErase: true},
	{Family: CH32V317, Name: "CH32V317", WireID: 0x18, FlashBase: 0x08000000, PageSize: 64, SectorSize: 4 * 1024, SpecialErase: true, AttachStage: SubStageRomRam},
}

var registryByFamily map[Family]Row
var registryByWireID map[uint8]Row

func init() {
	registryByFamily = make(map[Family]Row, len(Registry))
	registryByWireID = make(map[uint8]Row, len(Registry))
	for _, row := range Registry {
		registryByFamily[row.Family] = row
		registryByWireID[row.WireID] = row
	}
}

// Lookup returns the registry row for a family tag.
func Lookup(f Family) (Row, bool) {
	row, ok := registryByFamily[f]
	return row, ok
}

// LookupWireID returns the registry row the probe's attach response
// wire ID maps to. Unknown bytes are reported, not rejected (spec §9:
// "treat unknown family bytes as Unknown(u8) and not reject").
func LookupWireID(id uint8) (Row, bool) {
	row, ok := registryByWireID[id]
	return row, ok
}
