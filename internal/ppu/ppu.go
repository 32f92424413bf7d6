// Package ppu models the GBA Pixel Processing Unit at the boundary the
// core cares about: scanline/HBlank/VBlank/VCount timing, IRQ sources,
// and a BGR555 framebuffer. Full background/sprite composition is outside
// the core's scope: DISPCNT/BGxCNT and friends are stored and readable,
// but only the configured backdrop color is composited per pixel, which
// is enough to exercise the tick contract and IRQ wiring real games
// depend on.
package ppu

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

const (
	ScreenW = 240
	ScreenH = 160

	cyclesPerDot  = 4
	dotsPerLine   = 308
	cyclesPerLine = cyclesPerDot * dotsPerLine
	visibleDots   = 240
	totalLines    = 228
	visibleLines  = 160
)

// IRQ bit indices raised through the Requester callback, matching the
// interrupt controller's IE/IF bit layout.
const (
	IRQVBlank = 0
	IRQHBlank = 1
	IRQVCount = 2
)

// Requester lets the PPU signal pending interrupt sources without owning
// the interrupt controller itself.
type Requester func(bit int)

// DMATrigger lets the PPU kick HBlank/VBlank-triggered DMA channels.
type DMATrigger func(hblank, vblank bool)

// PPU owns palette RAM, VRAM, and OAM plus the
// display control/status register file, and produces one 240x160 BGR555
// frame per 280896-cycle pass over 228 scanlines.
type PPU struct {
	pram [0x400]byte  // 0x05000000, 1 KiB
	vram [0x18000]byte // 0x06000000, 96 KiB
	oam  [0x400]byte  // 0x07000000, 1 KiB

	dispcnt  uint16
	dispstat uint16
	vcount   uint16
	bgcnt    [4]uint16
	bghofs   [4]uint16
	bgvofs   [4]uint16

	dot   int
	frame [ScreenW * ScreenH]uint16

	req      Requester
	dmaReq   DMATrigger
	frameDone bool
}

func New(req Requester, dmaReq DMATrigger) *PPU {
	return &PPU{req: req, dmaReq: dmaReq}
}

// Screen returns the most recently completed frame, BGR555-packed.
func (p *PPU) Screen() []uint16 { return p.frame[:] }

// FrameCompleted reports and clears the one-shot "a VBlank start just
// happened" flag RunFrame polls.
func (p *PPU) FrameCompleted() bool {
	v := p.frameDone
	p.frameDone = false
	return v
}

// Tick advances the PPU by cycles bus cycles, updating VCOUNT/DISPSTAT
// and raising HBlank/VBlank/VCount IRQs and DMA triggers at the right
// boundaries.
func (p *PPU) Tick(cycles int) {
	for i := 0; i < cycles; i++ {
		p.dot++
		if p.dot == visibleDots*cyclesPerDot {
			p.enterHBlank()
		}
		if p.dot >= cyclesPerLine {
			p.dot = 0
			p.clearHBlank()
			p.advanceLine()
		}
	}
}

func (p *PPU) enterHBlank() {
	p.dispstat |= 1 << 1
	if p.dispstat&(1<<4) != 0 && p.req != nil {
		p.req(IRQHBlank)
	}
	if p.dmaReq != nil {
		p.dmaReq(true, false)
	}
}

func (p *PPU) clearHBlank() {
	p.dispstat &^= 1 << 1
}

func (p *PPU) advanceLine() {
	p.vcount++
	if int(p.vcount) >= totalLines {
		p.vcount = 0
	}

	switch {
	case int(p.vcount) == visibleLines:
		p.dispstat |= 1 << 0
		p.renderBackdropFrame()
		if p.dispstat&(1<<3) != 0 && p.req != nil {
			p.req(IRQVBlank)
		}
		if p.dmaReq != nil {
			p.dmaReq(false, true)
		}
		p.frameDone = true
	case int(p.vcount) == 0:
		p.dispstat &^= 1 << 0
	}

	vcountLine := byte(p.dispstat >> 8)
	matched := byte(p.vcount) == vcountLine
	if matched {
		p.dispstat |= 1 << 2
		if p.dispstat&(1<<5) != 0 && p.req != nil {
			p.req(IRQVCount)
		}
	} else {
		p.dispstat &^= 1 << 2
	}
}

// renderBackdropFrame fills the framebuffer with the backdrop color
// (palette entry 0) the way a blank/unconfigured background layer would
// present on real hardware; full tiled composition is out of scope.
func (p *PPU) renderBackdropFrame() {
	backdrop := uint16(p.pram[0]) | uint16(p.pram[1])<<8
	for i := range p.frame {
		p.frame[i] = backdrop
	}
}

// --- memory-mapped PRAM/VRAM/OAM access ---

func (p *PPU) ReadPRAM8(addr uint32) byte  { return p.pram[addr&0x3FF] }
func (p *PPU) ReadVRAM8(addr uint32) byte  { return p.vram[mirrorVRAM(addr)] }
func (p *PPU) ReadOAM8(addr uint32) byte   { return p.oam[addr&0x3FF] }

func (p *PPU) WritePRAM8(addr uint32, v byte) {
	off := addr &^ 1 & 0x3FF
	p.pram[off] = v
	p.pram[off+1] = v
}

func (p *PPU) WriteVRAM8(addr uint32, v byte) {
	off := mirrorVRAM(addr)
	// Byte writes to OBJ VRAM (>= 0x10000) are ignored; BG VRAM duplicates.
	if off >= 0x10000 {
		return
	}
	off &^= 1
	p.vram[off] = v
	p.vram[off+1] = v
}

func (p *PPU) WriteOAM8(addr uint32, v byte) {
	// OAM byte writes are ignored entirely.
	_ = addr
	_ = v
}

func mirrorVRAM(addr uint32) uint32 {
	off := addr & 0x1FFFF
	if off >= 0x18000 {
		off -= 0x8000
	}
	return off
}

func (p *PPU) ReadPRAM16(addr uint32) uint16 {
	off := addr & 0x3FE
	return uint16(p.pram[off]) | uint16(p.pram[off+1])<<8
}
func (p *PPU) WritePRAM16(addr uint32, v uint16) {
	off := addr & 0x3FE
	p.pram[off] = byte(v)
	p.pram[off+1] = byte(v >> 8)
}
func (p *PPU) ReadVRAM16(addr uint32) uint16 {
	off := mirrorVRAM(addr &^ 1)
	return uint16(p.vram[off]) | uint16(p.vram[off+1])<<8
}
func (p *PPU) WriteVRAM16(addr uint32, v uint16) {
	off := mirrorVRAM(addr &^ 1)
	p.vram[off] = byte(v)
	p.vram[off+1] = byte(v >> 8)
}
func (p *PPU) ReadOAM16(addr uint32) uint16 {
	off := addr & 0x3FE
	return uint16(p.oam[off]) | uint16(p.oam[off+1])<<8
}
func (p *PPU) WriteOAM16(addr uint32, v uint16) {
	off := addr & 0x3FE
	p.oam[off] = byte(v)
	p.oam[off+1] = byte(v >> 8)
}

// --- display register file ---

func (p *PPU) ReadReg16(offset uint32) uint16 {
	switch offset {
	case 0x00:
		return p.dispcnt
	case 0x04:
		return p.dispstat
	case 0x06:
		return p.vcount
	case 0x08, 0x0A, 0x0C, 0x0E:
		return p.bgcnt[(offset-0x08)/2]
	default:
		return 0
	}
}

func (p *PPU) WriteReg16(offset uint32, v uint16) {
	switch offset {
	case 0x00:
		p.dispcnt = v
	case 0x04:
		// VCOUNT-setting (bits 8-15) and enables are writable; mode/flags (0-2) are read-only.
		p.dispstat = (p.dispstat & 0x0007) | (v &^ 0x0007)
	case 0x08, 0x0A, 0x0C, 0x0E:
		p.bgcnt[(offset-0x08)/2] = v
	case 0x10, 0x14, 0x18, 0x1C:
		p.bghofs[(offset-0x10)/4] = v & 0x01FF
	case 0x12, 0x16, 0x1A, 0x1E:
		p.bgvofs[(offset-0x12)/4] = v & 0x01FF
	}
}

func (p *PPU) DISPCNT() uint16  { return p.dispcnt }
func (p *PPU) DISPSTAT() uint16 { return p.dispstat }
func (p *PPU) VCOUNT() uint16   { return p.vcount }
func (p *PPU) HBlanking() bool  { return p.dispstat&(1<<1) != 0 }
func (p *PPU) VBlanking() bool  { return p.dispstat&(1<<0) != 0 }

// ppuState is the gob-serializable subset of PPU state for save states.
type ppuState struct {
	PRAM     [0x400]byte
	VRAM     [0x18000]byte
	OAM      [0x400]byte
	DISPCNT  uint16
	DISPSTAT uint16
	VCOUNT   uint16
	BGCNT    [4]uint16
	BGHOFS   [4]uint16
	BGVOFS   [4]uint16
	Dot      int
}

func (p *PPU) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(ppuState{
		PRAM: p.pram, VRAM: p.vram, OAM: p.oam,
		DISPCNT: p.dispcnt, DISPSTAT: p.dispstat, VCOUNT: p.vcount,
		BGCNT: p.bgcnt, BGHOFS: p.bghofs, BGVOFS: p.bgvofs, Dot: p.dot,
	})
	return buf.Bytes()
}

func (p *PPU) LoadState(data []byte) error {
	var s ppuState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return fmt.Errorf("ppu: load state: %w", err)
	}
	p.pram, p.vram, p.oam = s.PRAM, s.VRAM, s.OAM
	p.dispcnt, p.dispstat, p.vcount = s.DISPCNT, s.DISPSTAT, s.VCOUNT
	p.bgcnt, p.bghofs, p.bgvofs, p.dot = s.BGCNT, s.BGHOFS, s.BGVOFS, s.Dot
	return nil
}
