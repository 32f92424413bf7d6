// Package types holds the word-size aliases and packed register-bitfield
// accessors shared across the emulator core.
package types

// Word sizes as seen on the GBA bus. All multi-byte bus accesses are
// little-endian.
type (
	Byte  = uint8
	HWord = uint16
	Word  = uint32
	DWord = uint64
)

// Width identifies a bus access size.
type Width int

const (
	WidthByte Width = iota
	WidthHWord
	WidthWord
)

func (w Width) Bytes() int {
	switch w {
	case WidthByte:
		return 1
	case WidthHWord:
		return 2
	default:
		return 4
	}
}

// CPU processor modes, as encoded in CPSR bits 4:0.
type Mode uint32

const (
	ModeUser       Mode = 0x10
	ModeFIQ        Mode = 0x11
	ModeIRQ        Mode = 0x12
	ModeSupervisor Mode = 0x13
	ModeAbort      Mode = 0x17
	ModeUndefined  Mode = 0x1B
	ModeSystem     Mode = 0x1F
)

// PSR is a packed program status register (CPSR or SPSR). Fields are
// exposed through named accessors rather than an anonymous bitfield
// struct, preserving the exact wire layout while keeping call sites
// readable.
type PSR uint32

const (
	psrModeMask = 0x1F
	psrThumb    = 1 << 5
	psrFIQDis   = 1 << 6
	psrIRQDis   = 1 << 7
	psrV        = 1 << 28
	psrC        = 1 << 29
	psrZ        = 1 << 30
	psrN        = 1 << 31
)

func (p PSR) Mode() Mode    { return Mode(uint32(p) & psrModeMask) }
func (p *PSR) SetMode(m Mode) {
	*p = PSR(uint32(*p)&^psrModeMask | uint32(m)&psrModeMask)
}

func (p PSR) Thumb() bool { return p&psrThumb != 0 }
func (p *PSR) SetThumb(v bool) { p.setBit(psrThumb, v) }

func (p PSR) FIQDisabled() bool      { return p&psrFIQDis != 0 }
func (p *PSR) SetFIQDisabled(v bool) { p.setBit(psrFIQDis, v) }

func (p PSR) IRQDisabled() bool      { return p&psrIRQDis != 0 }
func (p *PSR) SetIRQDisabled(v bool) { p.setBit(psrIRQDis, v) }

func (p PSR) N() bool      { return p&psrN != 0 }
func (p *PSR) SetN(v bool) { p.setBit(psrN, v) }

func (p PSR) Z() bool      { return p&psrZ != 0 }
func (p *PSR) SetZ(v bool) { p.setBit(psrZ, v) }

func (p PSR) C() bool      { return p&psrC != 0 }
func (p *PSR) SetC(v bool) { p.setBit(psrC, v) }

func (p PSR) V() bool      { return p&psrV != 0 }
func (p *PSR) SetV(v bool) { p.setBit(psrV, v) }

func (p *PSR) setBit(bit PSR, v bool) {
	if v {
		*p |= bit
	} else {
		*p &^= bit
	}
}

// Region identifies a top-level address-space region selected by the top
// nibble of a 32-bit address.
type Region int

const (
	RegionBIOS Region = iota
	RegionUnused
	RegionEWRAM
	RegionIWRAM
	RegionIO
	RegionPRAM
	RegionVRAM
	RegionOAM
	RegionROM0
	RegionROM0Ex
	RegionROM1
	RegionROM1Ex
	RegionROM2
	RegionROM2Ex
	RegionSRAM
	RegionOpenBus
)

// DecodeRegion maps an address's top nibble to a Region.
func DecodeRegion(addr Word) Region {
	switch addr >> 24 {
	case 0x00:
		return RegionBIOS
	case 0x01:
		return RegionUnused
	case 0x02:
		return RegionEWRAM
	case 0x03:
		return RegionIWRAM
	case 0x04:
		return RegionIO
	case 0x05:
		return RegionPRAM
	case 0x06:
		return RegionVRAM
	case 0x07:
		return RegionOAM
	case 0x08, 0x09:
		return RegionROM0
	case 0x0A, 0x0B:
		return RegionROM1
	case 0x0C, 0x0D:
		return RegionROM2
	case 0x0E, 0x0F:
		return RegionSRAM
	default:
		return RegionOpenBus
	}
}
