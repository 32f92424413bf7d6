// Package dma implements the GBA's four-channel DMA controller: four
// start conditions, four addressing modes per side, and the priority and
// repeat rules real games depend on.
package dma

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Bus is the subset of memory-bus behavior a transfer needs. Implemented
// by *bus.Bus; kept as an interface here per the "back-reference" design
// note so dma has no import-cycle dependency on bus.
type Bus interface {
	Read16(addr uint32) uint16
	Write16(addr uint32, v uint16)
	Read32(addr uint32) uint32
	Write32(addr uint32, v uint32)
}

// Start timing values, as packed into control bits 12-13.
const (
	StartImmediate = 0
	StartVBlank    = 1
	StartHBlank    = 2
	StartSpecial   = 3
)

// Address control modes, packed into control bits 5-6 (dest) / 7-8 (src).
const (
	AddrInc       = 0
	AddrDec       = 1
	AddrFixed     = 2
	AddrIncReload = 3 // dest only
)

type channel struct {
	srcReg, dstReg uint32
	countReg       uint16
	control        uint16

	srcShadow, dstShadow uint32
	countShadow          uint32
}

func (c *channel) enabled() bool    { return c.control&(1<<15) != 0 }
func (c *channel) irqEnable() bool  { return c.control&(1<<14) != 0 }
func (c *channel) startTiming() int { return int(c.control>>12) & 0x3 }
func (c *channel) word32() bool     { return c.control&(1<<10) != 0 }
func (c *channel) repeat() bool     { return c.control&(1<<9) != 0 }
func (c *channel) srcMode() int     { return int(c.control>>7) & 0x3 }
func (c *channel) dstMode() int     { return int(c.control>>5) & 0x3 }

// maxCount is the word count a zero-valued count register represents:
// 0x4000 for channels 0-2, 0x10000 for channel 3.
func maxCount(ch int) uint32 {
	if ch == 3 {
		return 0x10000
	}
	return 0x4000
}

// Controller owns the four DMA channels plus their bus and IRQ wiring.
type Controller struct {
	ch       [4]channel
	bus      Bus
	raiseIRQ func(ch int)

	// Active reports whether any channel is mid-transfer; the top-level
	// tick checks this to avoid fetching while DMA holds the bus.
	// Transfers run to completion synchronously, so this is true only
	// during run itself.
	Active bool
}

func New(bus Bus, raiseIRQ func(ch int)) *Controller {
	return &Controller{bus: bus, raiseIRQ: raiseIRQ}
}

func (c *Controller) WriteSrc(i int, v uint32)   { c.ch[i].srcReg = v }
func (c *Controller) WriteDst(i int, v uint32)   { c.ch[i].dstReg = v }
func (c *Controller) WriteCount(i int, v uint16) { c.ch[i].countReg = v }

func (c *Controller) ReadControl(i int) uint16 { return c.ch[i].control }

// WriteControl handles a DMAxCNT_H write. A 0->1 transition on the enable
// bit latches the shadow source/dest/count registers and, for Immediate
// timing, runs the transfer synchronously before returning.
func (c *Controller) WriteControl(i int, v uint16) {
	ch := &c.ch[i]
	wasEnabled := ch.enabled()
	ch.control = v

	if !wasEnabled && ch.enabled() {
		ch.srcShadow = ch.srcReg
		ch.dstShadow = ch.dstReg
		ch.countShadow = uint32(ch.countReg)
		if ch.countShadow == 0 {
			ch.countShadow = maxCount(i)
		}
		if ch.startTiming() == StartImmediate {
			c.run(i)
		}
	}
}

// Trigger is wired as the PPU's DMATrigger callback: it runs any enabled
// channel whose start timing matches the HBlank/VBlank edge that just
// fired, highest priority (lowest index) first.
func (c *Controller) Trigger(hblank, vblank bool) {
	for i := 0; i < 4; i++ {
		ch := &c.ch[i]
		if !ch.enabled() {
			continue
		}
		if (hblank && ch.startTiming() == StartHBlank) || (vblank && ch.startTiming() == StartVBlank) {
			c.run(i)
		}
	}
}

// RequestSpecial runs channel ch if it is enabled with Special timing,
// called by the timer controller on an audio-FIFO-linked overflow or by the PPU for channel 3's per-scanline trigger
// (video capture to VRAM itself is not modeled; PPU is boundary-only).
func (c *Controller) RequestSpecial(ch int) {
	if ch < 0 || ch > 3 {
		return
	}
	if c.ch[ch].enabled() && c.ch[ch].startTiming() == StartSpecial {
		c.run(ch)
	}
}

func (c *Controller) run(i int) {
	ch := &c.ch[i]
	c.Active = true
	defer func() { c.Active = false }()

	srcStep, dstStep := stepFor(ch.srcMode()), stepFor(ch.dstMode())
	unit := uint32(2)
	if ch.word32() {
		unit = 4
	}
	srcStep *= int32(unit)
	dstStep *= int32(unit)

	src, dst := ch.srcShadow, ch.dstShadow
	for n := uint32(0); n < ch.countShadow; n++ {
		if ch.word32() {
			c.bus.Write32(dst, c.bus.Read32(src))
		} else {
			c.bus.Write16(dst, c.bus.Read16(src))
		}
		src = uint32(int64(src) + int64(srcStep))
		if ch.dstMode() != AddrFixed {
			dst = uint32(int64(dst) + int64(dstStep))
		}
	}
	ch.srcShadow = src
	ch.dstShadow = dst

	if ch.repeat() {
		ch.countShadow = uint32(ch.countReg)
		if ch.countShadow == 0 {
			ch.countShadow = maxCount(i)
		}
		if ch.dstMode() == AddrIncReload {
			ch.dstShadow = ch.dstReg
		}
	} else {
		ch.control &^= 1 << 15
	}

	if ch.irqEnable() && c.raiseIRQ != nil {
		c.raiseIRQ(i)
	}
}

func stepFor(mode int) int32 {
	switch mode {
	case AddrDec:
		return -1
	case AddrFixed:
		return 0
	default:
		return 1
	}
}

type state struct {
	Src, Dst, SrcShadow, DstShadow [4]uint32
	Count, Control                 [4]uint16
	CountShadow                    [4]uint32
}

func (c *Controller) SaveState() []byte {
	var s state
	for i := 0; i < 4; i++ {
		ch := &c.ch[i]
		s.Src[i], s.Dst[i], s.SrcShadow[i], s.DstShadow[i] = ch.srcReg, ch.dstReg, ch.srcShadow, ch.dstShadow
		s.Count[i], s.Control[i], s.CountShadow[i] = ch.countReg, ch.control, ch.countShadow
	}
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

func (c *Controller) LoadState(data []byte) error {
	var s state
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return fmt.Errorf("dma: load state: %w", err)
	}
	for i := 0; i < 4; i++ {
		ch := &c.ch[i]
		ch.srcReg, ch.dstReg, ch.srcShadow, ch.dstShadow = s.Src[i], s.Dst[i], s.SrcShadow[i], s.DstShadow[i]
		ch.countReg, ch.control, ch.countShadow = s.Count[i], s.Control[i], s.CountShadow[i]
	}
	return nil
}
