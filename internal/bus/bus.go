// Package bus implements the GBA's memory-mapped address space: region
// decode, wait-state accounting, open-bus behavior, and the I/O register
// side-effect dispatch across the sixteen-region top-nibble address map.
package bus

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/arcreed/gba/internal/apu"
	"github.com/arcreed/gba/internal/cart"
	"github.com/arcreed/gba/internal/dma"
	"github.com/arcreed/gba/internal/ioregs"
	"github.com/arcreed/gba/internal/irq"
	"github.com/arcreed/gba/internal/keypad"
	"github.com/arcreed/gba/internal/ppu"
	"github.com/arcreed/gba/internal/timer"
	"github.com/arcreed/gba/internal/types"
)

// Bus wires CPU-visible address space to BIOS, work RAM, the I/O register
// file, and the subsystems that own parts of it.
type Bus struct {
	bios []byte // up to 16 KiB, execute-only outside BIOS PC range

	ewram [256 * 1024]byte
	iwram [32 * 1024]byte

	io *ioregs.File

	PPU    *ppu.PPU
	APU    *apu.APU
	DMA    *dma.Controller
	Timer  *timer.Controller
	IRQ    *irq.Controller
	Keypad *keypad.State
	Cart   *cart.Cartridge

	waitcnt uint16

	lastBIOSVal uint32
	lastOpcode  uint32 // CPU-reported last fetched opcode, for general open-bus residue
	nextROMAddr uint32

	pcInBIOS func() bool   // supplied by the CPU; nil is treated as "not in BIOS"
	haltFunc func(stop bool) // supplied by the CPU; called on a HALTCNT write

	dmaAddrLatch [4]struct{ src, dst uint32 }
}

// New builds a bus with all subsystems wired to each other the way
// internal/gba.Machine assembles them; cart and bios are attached
// separately via SetCartridge/SetBIOS so a bus can be reused across ROM
// loads.
func New() *Bus {
	b := &Bus{io: ioregs.New()}
	b.Keypad = keypad.New()
	b.IRQ = irq.New()
	b.PPU = ppu.New(b.raisePPU, b.dmaTrigger)
	b.APU = apu.New(48000)
	b.DMA = dma.New(b, b.raiseDMA)
	return b
}

// SetTimer wires in a timer controller already bound to the machine's
// scheduler (timer.New needs the scheduler at construction time, which
// the bus does not own). Callers must invoke this before driving the
// bus; internal/gba.Machine does so as part of Init.
func (b *Bus) SetTimer(t *timer.Controller) {
	b.Timer = t
	b.Timer.SetAudioLink(b.APU)
	b.Timer.SetDMARequester(b.DMA)
}

func (b *Bus) SetPCInBIOS(f func() bool)     { b.pcInBIOS = f }
func (b *Bus) SetHaltFunc(f func(stop bool)) { b.haltFunc = f }

func (b *Bus) SetBIOS(data []byte) {
	n := len(data)
	if n > 0x4000 {
		n = 0x4000
	}
	b.bios = make([]byte, 0x4000)
	copy(b.bios, data[:n])
}

func (b *Bus) SetCartridge(c *cart.Cartridge) { b.Cart = c }

func (b *Bus) raisePPU(bit int) { b.IRQ.Raise(bit) }
func (b *Bus) raiseDMA(ch int)  { b.IRQ.Raise(irq.DMA0 + ch) }
func (b *Bus) dmaTrigger(hblank, vblank bool) {
	b.DMA.Trigger(hblank, vblank)
}

// SetLastOpcode lets the CPU publish the opcode it most recently fetched,
// used as the open-bus residue for reads of unmapped space.
func (b *Bus) SetLastOpcode(v uint32) { b.lastOpcode = v }

// --- region decode ---

func romMirrorBand(addr types.Word) int {
	switch addr >> 24 {
	case 0x08, 0x09:
		return 0
	case 0x0A, 0x0B:
		return 1
	default:
		return 2
	}
}

// --- word-size accessors used by DMA/CPU ---

func (b *Bus) Read8(addr types.Word) byte   { v, _ := b.Read(addr, types.WidthByte); return byte(v) }
func (b *Bus) Read16(addr types.Word) uint16 { v, _ := b.Read(addr, types.WidthHWord); return uint16(v) }
func (b *Bus) Read32(addr types.Word) uint32 { v, _ := b.Read(addr, types.WidthWord); return v }

func (b *Bus) Write8(addr types.Word, v byte)    { b.Write(addr, uint32(v), types.WidthByte) }
func (b *Bus) Write16(addr types.Word, v uint16) { b.Write(addr, uint32(v), types.WidthHWord) }
func (b *Bus) Write32(addr types.Word, v uint32) { b.Write(addr, v, types.WidthWord) }

// Read performs a CPU-facing memory read: it applies alignment rotation
// and returns the access's bus-cycle cost alongside the value.
func (b *Bus) Read(addr types.Word, w types.Width) (uint32, int) {
	aligned := addr &^ types.Word(w.Bytes()-1)
	raw, cycles := b.readAligned(aligned, w)

	switch w {
	case types.WidthHWord:
		if addr&1 != 0 {
			raw = uint32(rotr16(uint16(raw), 8))
		}
	case types.WidthWord:
		if rem := addr & 3; rem != 0 {
			raw = rotr32(raw, rem*8)
		}
	}
	return raw, cycles
}

// Write performs a CPU-facing memory write; unaligned addresses are
// rounded down to the access width boundary.
func (b *Bus) Write(addr types.Word, v uint32, w types.Width) int {
	aligned := addr &^ types.Word(w.Bytes()-1)
	return b.writeAligned(aligned, v, w)
}

func rotr32(v uint32, n types.Word) uint32 {
	n &= 31
	return v>>n | v<<(32-n)
}

// rotr16 rotates within a 16-bit field, used for unaligned LDRH: the GBA
// bus rotates only the fetched halfword, not the full 32-bit register.
func rotr16(v uint16, n uint32) uint16 {
	n &= 15
	return v>>n | v<<(16-n)
}

func (b *Bus) readAligned(addr types.Word, w types.Width) (uint32, int) {
	switch types.DecodeRegion(addr) {
	case types.RegionBIOS:
		if addr >= uint32(len(b.bios)) {
			return b.openBus(), 1
		}
		if b.pcInBIOS == nil || b.pcInBIOS() {
			v := readBuf(b.bios, addr, w)
			b.lastBIOSVal = v
			return v, 1
		}
		return 0, 1
	case types.RegionEWRAM:
		off := addr & 0x3FFFF
		cycles := 3
		if w == types.WidthWord {
			cycles = 6
		}
		return readBuf(b.ewram[:], off, w), cycles
	case types.RegionIWRAM:
		off := addr & 0x7FFF
		return readBuf(b.iwram[:], off, w), 1
	case types.RegionIO:
		return b.readIO(addr&0x3FF, w), 1
	case types.RegionPRAM:
		return b.readPRAM(addr, w), prambusCycles(w)
	case types.RegionVRAM:
		return b.readVRAM(addr, w), prambusCycles(w)
	case types.RegionOAM:
		return b.readOAM(addr, w), 1
	case types.RegionROM0, types.RegionROM1, types.RegionROM2:
		return b.readROM(addr, w)
	case types.RegionSRAM:
		if b.Cart == nil {
			return b.openBus(), 1
		}
		v := uint32(b.Cart.ReadSave(addr))
		return v | v<<8 | v<<16 | v<<24, b.sramCycles()
	default:
		return b.openBus(), 1
	}
}

func (b *Bus) writeAligned(addr types.Word, v uint32, w types.Width) int {
	switch types.DecodeRegion(addr) {
	case types.RegionBIOS:
		return 1 // BIOS is read-only
	case types.RegionEWRAM:
		off := addr & 0x3FFFF
		writeBuf(b.ewram[:], off, v, w)
		if w == types.WidthWord {
			return 6
		}
		return 3
	case types.RegionIWRAM:
		off := addr & 0x7FFF
		writeBuf(b.iwram[:], off, v, w)
		return 1
	case types.RegionIO:
		b.writeIO(addr&0x3FF, v, w)
		return 1
	case types.RegionPRAM:
		b.writePRAM(addr, v, w)
		return prambusCycles(w)
	case types.RegionVRAM:
		b.writeVRAM(addr, v, w)
		return prambusCycles(w)
	case types.RegionOAM:
		b.writeOAM(addr, v, w)
		return 1
	case types.RegionROM0, types.RegionROM1, types.RegionROM2:
		return 1 // cartridge ROM writes are ignored (no GPIO/RTC modeled)
	case types.RegionSRAM:
		if b.Cart != nil {
			b.Cart.WriteSave(addr, byte(v))
		}
		return b.sramCycles()
	default:
		return 1
	}
}

// openBus returns the general-case open-bus residue: the last opcode the
// CPU fetched.
func (b *Bus) openBus() uint32 { return b.lastOpcode }

func prambusCycles(w types.Width) int {
	if w == types.WidthWord {
		return 2
	}
	return 1
}

func (b *Bus) sramCycles() int {
	nWait := [4]int{4, 3, 2, 8}
	return nWait[b.waitcnt&0x3] + 1
}

// readROM applies the WAITCNT-configured N/S wait tables and tracks
// sequential access for the next read.
func (b *Bus) readROM(addr types.Word, w types.Width) (uint32, int) {
	off := addr & 0x01FFFFFF
	var v uint32
	if b.Cart != nil {
		v = readCartROM(b.Cart, off, w)
	} else {
		v = b.openBus()
	}
	cycles := b.romCycles(addr, w)
	return v, cycles
}

func readCartROM(c *cart.Cartridge, off uint32, w types.Width) uint32 {
	switch w {
	case types.WidthByte:
		return uint32(c.Read(off))
	case types.WidthHWord:
		return uint32(c.Read(off)) | uint32(c.Read(off+1))<<8
	default:
		return uint32(c.Read(off)) | uint32(c.Read(off+1))<<8 | uint32(c.Read(off+2))<<16 | uint32(c.Read(off+3))<<24
	}
}

var romNWait = [4]int{4, 3, 2, 8}
var romSWait = [3][2]int{{2, 1}, {4, 1}, {8, 1}}

func (b *Bus) romCycles(addr types.Word, w types.Width) int {
	band := romMirrorBand(addr)
	var nSel, sSel uint16
	switch band {
	case 0:
		nSel, sSel = (b.waitcnt>>2)&0x3, (b.waitcnt>>4)&0x1
	case 1:
		nSel, sSel = (b.waitcnt>>5)&0x3, (b.waitcnt>>7)&0x1
	default:
		nSel, sSel = (b.waitcnt>>8)&0x3, (b.waitcnt>>10)&0x1
	}
	n := romNWait[nSel] + 1
	s := romSWait[band][sSel] + 1

	first := s
	if addr != b.nextROMAddr {
		first = n
	}
	total := first
	if w == types.WidthWord {
		total += s
	}
	size := types.Word(w.Bytes())
	b.nextROMAddr = addr + size
	return total
}

func readBuf(buf []byte, off types.Word, w types.Width) uint32 {
	switch w {
	case types.WidthByte:
		return uint32(buf[off])
	case types.WidthHWord:
		return uint32(buf[off]) | uint32(buf[off+1])<<8
	default:
		return uint32(buf[off]) | uint32(buf[off+1])<<8 | uint32(buf[off+2])<<16 | uint32(buf[off+3])<<24
	}
}

func writeBuf(buf []byte, off types.Word, v uint32, w types.Width) {
	switch w {
	case types.WidthByte:
		buf[off] = byte(v)
	case types.WidthHWord:
		buf[off] = byte(v)
		buf[off+1] = byte(v >> 8)
	default:
		buf[off] = byte(v)
		buf[off+1] = byte(v >> 8)
		buf[off+2] = byte(v >> 16)
		buf[off+3] = byte(v >> 24)
	}
}

// --- PRAM/VRAM/OAM, delegating to the PPU which owns the backing arrays ---

func (b *Bus) readPRAM(addr types.Word, w types.Width) uint32 {
	if w == types.WidthWord {
		lo := uint32(b.PPU.ReadPRAM16(addr))
		hi := uint32(b.PPU.ReadPRAM16(addr + 2))
		return lo | hi<<16
	}
	if w == types.WidthHWord {
		return uint32(b.PPU.ReadPRAM16(addr))
	}
	return uint32(b.PPU.ReadPRAM8(addr))
}

func (b *Bus) writePRAM(addr types.Word, v uint32, w types.Width) {
	switch w {
	case types.WidthByte:
		b.PPU.WritePRAM8(addr, byte(v))
	case types.WidthHWord:
		b.PPU.WritePRAM16(addr, uint16(v))
	default:
		b.PPU.WritePRAM16(addr, uint16(v))
		b.PPU.WritePRAM16(addr+2, uint16(v>>16))
	}
}

func (b *Bus) readVRAM(addr types.Word, w types.Width) uint32 {
	if w == types.WidthWord {
		lo := uint32(b.PPU.ReadVRAM16(addr))
		hi := uint32(b.PPU.ReadVRAM16(addr + 2))
		return lo | hi<<16
	}
	if w == types.WidthHWord {
		return uint32(b.PPU.ReadVRAM16(addr))
	}
	return uint32(b.PPU.ReadVRAM8(addr))
}

func (b *Bus) writeVRAM(addr types.Word, v uint32, w types.Width) {
	switch w {
	case types.WidthByte:
		b.PPU.WriteVRAM8(addr, byte(v))
	case types.WidthHWord:
		b.PPU.WriteVRAM16(addr, uint16(v))
	default:
		b.PPU.WriteVRAM16(addr, uint16(v))
		b.PPU.WriteVRAM16(addr+2, uint16(v>>16))
	}
}

func (b *Bus) readOAM(addr types.Word, w types.Width) uint32 {
	if w == types.WidthWord {
		lo := uint32(b.PPU.ReadOAM16(addr))
		hi := uint32(b.PPU.ReadOAM16(addr + 2))
		return lo | hi<<16
	}
	if w == types.WidthHWord {
		return uint32(b.PPU.ReadOAM16(addr))
	}
	return uint32(b.PPU.ReadOAM8(addr))
}

func (b *Bus) writeOAM(addr types.Word, v uint32, w types.Width) {
	switch w {
	case types.WidthByte:
		b.PPU.WriteOAM8(addr, byte(v))
	case types.WidthHWord:
		b.PPU.WriteOAM16(addr, uint16(v))
	default:
		b.PPU.WriteOAM16(addr, uint16(v))
		b.PPU.WriteOAM16(addr+2, uint16(v>>16))
	}
}

// --- I/O register file: per-offset side-effect dispatch ---

func (b *Bus) readIO(off types.Word, w types.Width) uint32 {
	if w == types.WidthWord {
		lo := uint32(b.readIOHalf(off))
		hi := uint32(b.readIOHalf(off + 2))
		return lo | hi<<16
	}
	v := b.readIOHalf(off &^ 1)
	if w == types.WidthByte {
		if off&1 != 0 {
			return uint32(v>>8) & 0xFF
		}
		return uint32(v) & 0xFF
	}
	return uint32(v)
}

func (b *Bus) readIOHalf(off types.Word) uint16 {
	switch off {
	case ioregs.DISPCNT, ioregs.DISPSTAT, ioregs.VCOUNT,
		ioregs.BG0CNT, ioregs.BG1CNT, ioregs.BG2CNT, ioregs.BG3CNT,
		ioregs.BG0HOFS, ioregs.BG0VOFS, ioregs.BG1HOFS, ioregs.BG1VOFS,
		ioregs.BG2HOFS, ioregs.BG2VOFS, ioregs.BG3HOFS, ioregs.BG3VOFS:
		return b.PPU.ReadReg16(off)
	case ioregs.SOUNDCNT_L:
		return b.APU.SOUNDCNT_L()
	case ioregs.SOUNDCNT_H:
		return b.APU.SOUNDCNT_H()
	case ioregs.SOUNDCNT_X:
		return b.APU.SOUNDCNT_X()
	case ioregs.DMA0CNT_H:
		return b.DMA.ReadControl(0)
	case ioregs.DMA1CNT_H:
		return b.DMA.ReadControl(1)
	case ioregs.DMA2CNT_H:
		return b.DMA.ReadControl(2)
	case ioregs.DMA3CNT_H:
		return b.DMA.ReadControl(3)
	case ioregs.TM0CNT_L:
		return b.Timer.Counter(0)
	case ioregs.TM1CNT_L:
		return b.Timer.Counter(1)
	case ioregs.TM2CNT_L:
		return b.Timer.Counter(2)
	case ioregs.TM3CNT_L:
		return b.Timer.Counter(3)
	case ioregs.TM0CNT_H:
		return b.Timer.Control(0)
	case ioregs.TM1CNT_H:
		return b.Timer.Control(1)
	case ioregs.TM2CNT_H:
		return b.Timer.Control(2)
	case ioregs.TM3CNT_H:
		return b.Timer.Control(3)
	case ioregs.KEYINPUT:
		return b.Keypad.KEYINPUT()
	case ioregs.KEYCNT:
		return b.IRQ.KEYCNT()
	case ioregs.IE:
		return b.IRQ.IE()
	case ioregs.IF:
		return b.IRQ.IF()
	case ioregs.WAITCNT:
		return b.waitcnt
	case ioregs.IME:
		if b.IRQ.IME() {
			return 1
		}
		return 0
	default:
		return b.io.Read16(off)
	}
}

func (b *Bus) writeIO(off types.Word, v uint32, w types.Width) {
	if off == ioregs.FIFO_A || off == ioregs.FIFO_B {
		word := v
		if w != types.WidthWord {
			word = v & 0xFFFF // a halfword write only supplies the low two bytes
		}
		if off == ioregs.FIFO_A {
			b.APU.PushFIFOA(word)
		} else {
			b.APU.PushFIFOB(word)
		}
		return
	}
	if w == types.WidthWord {
		b.writeIOHalf(off, uint16(v))
		b.writeIOHalf(off+2, uint16(v>>16))
		return
	}
	if w == types.WidthByte {
		if off == ioregs.HALTCNT {
			if b.haltFunc != nil {
				b.haltFunc(v&0x80 != 0)
			}
			return
		}
		if off == ioregs.IF || off == ioregs.IF+1 {
			// byte-wide IF writes still write-one-to-clear their half.
			shift := (off & 1) * 8
			b.IRQ.SetIF(uint16(v) << shift)
			return
		}
		cur := b.readIOHalf(off &^ 1)
		if off&1 != 0 {
			cur = cur&0x00FF | uint16(v)<<8
		} else {
			cur = cur&0xFF00 | uint16(v)&0xFF
		}
		b.writeIOHalf(off&^1, cur)
		return
	}
	b.writeIOHalf(off, uint16(v))
}

func (b *Bus) writeIOHalf(off types.Word, v uint16) {
	switch off {
	case ioregs.DISPCNT, ioregs.DISPSTAT, ioregs.BG0CNT, ioregs.BG1CNT, ioregs.BG2CNT, ioregs.BG3CNT,
		ioregs.BG0HOFS, ioregs.BG0VOFS, ioregs.BG1HOFS, ioregs.BG1VOFS,
		ioregs.BG2HOFS, ioregs.BG2VOFS, ioregs.BG3HOFS, ioregs.BG3VOFS:
		b.PPU.WriteReg16(off, v)
	case ioregs.SOUNDCNT_L:
		b.APU.WriteSOUNDCNT_L(v)
	case ioregs.SOUNDCNT_H:
		b.APU.WriteSOUNDCNT_H(v)
	case ioregs.SOUNDCNT_X:
		b.APU.WriteSOUNDCNT_X(v)
	case ioregs.SOUNDBIAS:
		b.APU.WriteSOUNDBIAS(v)
	case ioregs.DMA0SAD, ioregs.DMA0SAD + 2:
		b.writeDMAAddr(0, off, v, true)
	case ioregs.DMA0DAD, ioregs.DMA0DAD + 2:
		b.writeDMAAddr(0, off, v, false)
	case ioregs.DMA0CNT_L:
		b.DMA.WriteCount(0, v)
	case ioregs.DMA0CNT_H:
		b.DMA.WriteControl(0, v)
	case ioregs.DMA1SAD, ioregs.DMA1SAD + 2:
		b.writeDMAAddr(1, off, v, true)
	case ioregs.DMA1DAD, ioregs.DMA1DAD + 2:
		b.writeDMAAddr(1, off, v, false)
	case ioregs.DMA1CNT_L:
		b.DMA.WriteCount(1, v)
	case ioregs.DMA1CNT_H:
		b.DMA.WriteControl(1, v)
	case ioregs.DMA2SAD, ioregs.DMA2SAD + 2:
		b.writeDMAAddr(2, off, v, true)
	case ioregs.DMA2DAD, ioregs.DMA2DAD + 2:
		b.writeDMAAddr(2, off, v, false)
	case ioregs.DMA2CNT_L:
		b.DMA.WriteCount(2, v)
	case ioregs.DMA2CNT_H:
		b.DMA.WriteControl(2, v)
	case ioregs.DMA3SAD, ioregs.DMA3SAD + 2:
		b.writeDMAAddr(3, off, v, true)
	case ioregs.DMA3DAD, ioregs.DMA3DAD + 2:
		b.writeDMAAddr(3, off, v, false)
	case ioregs.DMA3CNT_L:
		b.DMA.WriteCount(3, v)
	case ioregs.DMA3CNT_H:
		b.DMA.WriteControl(3, v)
	case ioregs.TM0CNT_L:
		b.Timer.WriteReload(0, v)
	case ioregs.TM1CNT_L:
		b.Timer.WriteReload(1, v)
	case ioregs.TM2CNT_L:
		b.Timer.WriteReload(2, v)
	case ioregs.TM3CNT_L:
		b.Timer.WriteReload(3, v)
	case ioregs.TM0CNT_H:
		b.Timer.WriteControl(0, v)
	case ioregs.TM1CNT_H:
		b.Timer.WriteControl(1, v)
	case ioregs.TM2CNT_H:
		b.Timer.WriteControl(2, v)
	case ioregs.TM3CNT_H:
		b.Timer.WriteControl(3, v)
	case ioregs.KEYCNT:
		b.IRQ.SetKEYCNT(v)
		b.IRQ.EvaluateKeypad(b.Keypad.KEYINPUT())
	case ioregs.IE:
		b.IRQ.SetIE(v)
	case ioregs.IF:
		b.IRQ.SetIF(v)
	case ioregs.IME:
		b.IRQ.SetIME(v&1 != 0)
	case ioregs.WAITCNT:
		b.waitcnt = v
	case ioregs.HALTCNT:
		// handled as a byte register in practice; ignored at hword
		// granularity here since writeIO intercepts the byte write.
	default:
		b.io.Write16(off, v)
	}
}

func (b *Bus) writeDMAAddr(ch int, off types.Word, v uint16, isSrc bool) {
	latch := &b.dmaAddrLatch[ch]
	cur := latch.src
	if !isSrc {
		cur = latch.dst
	}
	if off&2 != 0 {
		cur = cur&0x0000FFFF | uint32(v)<<16
	} else {
		cur = cur&0xFFFF0000 | uint32(v)
	}
	if isSrc {
		latch.src = cur
		b.DMA.WriteSrc(ch, cur)
	} else {
		latch.dst = cur
		b.DMA.WriteDst(ch, cur)
	}
}

// --- save state ---

type state struct {
	EWRAM, IWRAM []byte
	IOFile       [0x400]byte
	WaitCNT      uint16
	LastBIOSVal  uint32
	LastOpcode   uint32
	NextROMAddr  uint32
}

func (b *Bus) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	s := state{
		EWRAM: append([]byte(nil), b.ewram[:]...), IWRAM: append([]byte(nil), b.iwram[:]...),
		IOFile: b.io.SaveState(), WaitCNT: b.waitcnt,
		LastBIOSVal: b.lastBIOSVal, LastOpcode: b.lastOpcode, NextROMAddr: b.nextROMAddr,
	}
	_ = enc.Encode(s)
	return buf.Bytes()
}

func (b *Bus) LoadState(data []byte) error {
	var s state
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return fmt.Errorf("bus: load state: %w", err)
	}
	copy(b.ewram[:], s.EWRAM)
	copy(b.iwram[:], s.IWRAM)
	b.io.LoadState(s.IOFile)
	b.waitcnt, b.lastBIOSVal, b.lastOpcode, b.nextROMAddr = s.WaitCNT, s.LastBIOSVal, s.LastOpcode, s.NextROMAddr
	return nil
}
