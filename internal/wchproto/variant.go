package wchproto

import "fmt"

// VariantKind enumerates the probe hardware variants named in spec §3.
type VariantKind int

const (
	VariantUnknown VariantKind = iota
	VariantCh549
	VariantLinkE
	VariantLinkW
	VariantLinkS
	VariantLinkB
)

func (k VariantKind) String() string {
	switch k {
	case VariantCh549:
		return "CH549"
	case VariantLinkE:
		return "LinkE"
	case VariantLinkW:
		return "LinkW"
	case VariantLinkS:
		return "LinkS"
	case VariantLinkB:
		return "LinkB"
	default:
		return "Unknown"
	}
}

// Speed is the probe's wire speed selection (spec §3).
type Speed int

const (
	SpeedUnset Speed = iota
	SpeedLowRate
	SpeedMediumRate
	SpeedHighRate
)

func (s Speed) String() string {
	switch s {
	case SpeedLowRate:
		return "low"
	case SpeedMediumRate:
		return "medium"
	case SpeedHighRate:
		return "high"
	default:
		return "unset"
	}
}

// PowerRail identifies a probe-switchable target power rail.
type PowerRail int

const (
	Rail3V3 PowerRail = iota
	Rail5V0
)

// ModeSwitchKind distinguishes how a variant changes between RISC-V and
// DAP debug modes (spec §4.G mode-switch).
type ModeSwitchKind int

const (
	ModeSwitchFirmware ModeSwitchKind = iota // vendor command switches mode
	ModeSwitchButton                         // physical button only; Unsupported from software
)

// FirmwareVersion is the canonical (major, minor) pair. The get_info
// response carries major and minor as two bytes (see
// DecodeFirmwareVersion); WireByte/FromWireByte convert to and from the
// legacy single-byte major*10+minor packing. CH585/CH32V002+ families
// first appeared with firmware 2.11+.
type FirmwareVersion struct {
	Major, Minor uint8
}

func (v FirmwareVersion) String() string {
	return fmt.Sprintf("v%d.%d", v.Major, v.Minor)
}

// DecodeFirmwareVersion maps the wire byte pair (major, minor) already
// split by the control/version response into the canonical pair. The
// wire carries major and minor as two separate bytes in the payload
// (spec §8 scenario 1: payload `02 0b` ⇒ major=2, minor=11); the
// major*10+minor packing noted in spec §3 describes the historical
// single-byte encoding some firmware revisions used and is exposed here
// for completeness via WireByte/FromWireByte.
func DecodeFirmwareVersion(major, minor uint8) FirmwareVersion {
	return FirmwareVersion{Major: major, Minor: minor}
}

// WireByte packs (major, minor) into the legacy single-byte encoding,
// valid only for 0 <= minor < 10.
func (v FirmwareVersion) WireByte() uint8 {
	return v.Major*10 + v.Minor
}

// FromWireByte unpacks the legacy single-byte encoding back into a
// FirmwareVersion.
func FromWireByte(b uint8) FirmwareVersion {
	return FirmwareVersion{Major: b / 10, Minor: b % 10}
}

// Variant is the full identity of an attached probe (spec §3).
type Variant struct {
	Kind     VariantKind
	Firmware FirmwareVersion
	Serial   string // optional
	Speed    Speed
}

// variantCaps is the static capability record referenced by spec §9
// ("Probe variant dispatch... a record per variant indicating
// supported power rails, supported speeds, and whether mode-switch is
// firmware- or button-driven").
type variantCaps struct {
	powerRails []PowerRail
	modeSwitch ModeSwitchKind
}

var capsTable = map[VariantKind]variantCaps{
	VariantCh549: {powerRails: nil, modeSwitch: ModeSwitchFirmware},
	VariantLinkE: {powerRails: []PowerRail{Rail3V3, Rail5V0}, modeSwitch: ModeSwitchButton},
	VariantLinkW: {powerRails: []PowerRail{Rail3V3, Rail5V0}, modeSwitch: ModeSwitchButton},
	VariantLinkS: {powerRails: nil, modeSwitch: ModeSwitchButton},
	VariantLinkB: {powerRails: nil, modeSwitch: ModeSwitchButton},
}

// SupportsPowerRail reports whether this variant can switch the given
// rail (spec §4.C set_power: "vendor subcommand (LinkE/LinkW only); no-op
// with Unsupported otherwise").
func (v Variant) SupportsPowerRail(rail PowerRail) bool {
	caps, ok := capsTable[v.Kind]
	if !ok {
		return false
	}
	for _, r := range caps.powerRails {
		if r == rail {
			return true
		}
	}
	return false
}

// ModeSwitchKind reports how this variant performs mode-switch.
func (v Variant) ModeSwitchKind() ModeSwitchKind {
	if caps, ok := capsTable[v.Kind]; ok {
		return caps.modeSwitch
	}
	return ModeSwitchButton
}
