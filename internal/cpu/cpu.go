// Package cpu implements the ARM7TDMI interpreter: ARM and Thumb decode
// tables built once at startup, banked registers, and the exception
// vectoring the rest of the machine drives through IRQ/SWI/undefined
// instructions.
package cpu

import (
	"bytes"
	"encoding/gob"

	"github.com/arcreed/gba/internal/bus"
	"github.com/arcreed/gba/internal/types"
)

// Exception vector addresses.
const (
	vectorReset     = 0x00000000
	vectorUndefined = 0x00000004
	vectorSWI       = 0x00000008
	vectorPrefetch  = 0x0000000C
	vectorData      = 0x00000010
	vectorIRQ       = 0x00000018
	vectorFIQ       = 0x0000001C
)

// CPU is the ARM7TDMI core. It holds no pipeline buffer of fetched
// instructions: r15 tracks the address of the instruction about to be
// fetched, and PCOperand() supplies the +8/+4 architectural read value
// on demand, which is sufficient to reproduce every externally visible
// effect of the real two-stage prefetch.
type CPU struct {
	reg      Registers
	bus      *bus.Bus
	branched bool
	halted   bool
	stopped  bool
}

func New(b *bus.Bus) *CPU {
	c := &CPU{bus: b}
	c.reg.Reset()
	b.SetPCInBIOS(func() bool { return c.reg.Get(15) < 0x4000 })
	b.SetHaltFunc(func(stop bool) {
		if stop {
			c.stopped = true
		} else {
			c.halted = true
		}
	})
	return c
}

// Reset re-initializes the core in place without reallocating.
func (c *CPU) Reset() {
	c.reg.Reset()
	c.halted, c.stopped, c.branched = false, false, false
}

// SetPC lets a boot stub skip the BIOS and start execution directly at
// the cartridge entry point.
func (c *CPU) SetPC(pc uint32) { c.reg.Set(15, pc) }

func (c *CPU) Halted() bool  { return c.halted }
func (c *CPU) Stopped() bool { return c.stopped }

// Reg returns the value of one of the sixteen currently visible
// registers, for tests and debugging tools.
func (c *CPU) Reg(n int) uint32       { return c.reg.Get(n) }
func (c *CPU) SetReg(n int, v uint32) { c.reg.Set(n, v) }
func (c *CPU) CPSR() types.PSR        { return c.reg.CPSR() }

// setReg writes a general register, treating r15 as a branch: callers
// writing PC directly (LDR pc, data-processing with Rd=15, POP {pc})
// go through here so Step does not also auto-increment PC afterward.
func (c *CPU) setReg(n int, v uint32) {
	if n == 15 {
		if !c.reg.CPSR().Thumb() {
			v &^= 3
		} else {
			v &^= 1
		}
		c.branched = true
	}
	c.reg.Set(n, v)
}

func (c *CPU) userReg(n int) uint32 {
	if n < 8 || n > 14 {
		return c.reg.Get(n)
	}
	b := bankOf(types.ModeUser)
	if n < 13 {
		return c.reg.high[b][n-8]
	}
	if n == 13 {
		return c.reg.sp[b]
	}
	return c.reg.lr[b]
}

func (c *CPU) setUserReg(n int, v uint32) {
	if n < 8 || n > 14 {
		c.setReg(n, v)
		return
	}
	b := bankOf(types.ModeUser)
	switch {
	case n < 13:
		c.reg.high[b][n-8] = v
	case n == 13:
		c.reg.sp[b] = v
	default:
		c.reg.lr[b] = v
	}
}

func (c *CPU) setLogicalFlags(result uint32, carry bool) {
	p := c.reg.CPSR()
	p.SetN(result&0x80000000 != 0)
	p.SetZ(result == 0)
	p.SetC(carry)
	c.reg.SetCPSRFlagsOnly(p)
}

func (c *CPU) setArithFlags(result uint32, carry, overflow bool) {
	p := c.reg.CPSR()
	p.SetN(result&0x80000000 != 0)
	p.SetZ(result == 0)
	p.SetC(carry)
	p.SetV(overflow)
	c.reg.SetCPSRFlagsOnly(p)
}

// raiseException performs the common part of every exception entry:
// save CPSR to the target mode's SPSR, bank registers, set LR, disable
// IRQ (and FIQ when requested), force ARM state, and vector.
func (c *CPU) raiseException(vector uint32, mode types.Mode, lr uint32, disableFIQ bool) {
	old := c.reg.CPSR()
	next := old
	next.SetMode(mode)
	next.SetThumb(false)
	next.SetIRQDisabled(true)
	if disableFIQ {
		next.SetFIQDisabled(true)
	}
	c.reg.SetCPSR(next)
	*c.reg.SPSR() = old
	c.reg.Set(14, lr)
	c.reg.Set(15, vector)
	c.branched = true
}

// Step executes exactly one instruction (or one idle/halted tick) and
// returns the number of cycles the scheduler should advance by.
func (c *CPU) Step() int {
	if c.stopped {
		return 1
	}
	if c.halted {
		if c.bus.IRQ.HaltWake() {
			c.halted = false
		} else {
			return 1
		}
	}
	if c.bus.IRQ.Pending() {
		next := c.reg.Get(15)
		c.raiseException(vectorIRQ, types.ModeIRQ, next+4, false)
		return 3
	}
	if c.bus.DMA != nil && c.bus.DMA.Active {
		return 1
	}

	c.branched = false
	if c.reg.CPSR().Thumb() {
		return c.stepThumb()
	}
	return c.stepARM()
}

func (c *CPU) stepARM() int {
	addr := c.reg.Get(15)
	word, cyc := c.bus.Read(addr, types.WidthWord)
	c.bus.SetLastOpcode(word)

	cond := word >> 28
	if !evalCond(cond, c.reg.CPSR()) {
		c.reg.Set(15, addr+4)
		return cyc
	}

	key := ((word >> 16) & 0xFF0) | ((word >> 4) & 0xF)
	extra := armTable[key](c, word)
	if !c.branched {
		c.reg.Set(15, addr+4)
	}
	return cyc + extra
}

func (c *CPU) stepThumb() int {
	addr := c.reg.Get(15)
	hw, cyc := c.bus.Read(addr, types.WidthHWord)
	c.bus.SetLastOpcode(hw | hw<<16)

	key := hw >> 8
	extra := thumbTable[key](c, uint16(hw))
	if !c.branched {
		c.reg.Set(15, addr+2)
	}
	return cyc + extra
}

type cpuState struct {
	Reg      registersState
	Branched bool
	Halted   bool
	Stopped  bool
}

func (c *CPU) SaveState() []byte {
	var buf bytes.Buffer
	gob.NewEncoder(&buf).Encode(cpuState{
		Reg: c.reg.saveState(), Branched: c.branched, Halted: c.halted, Stopped: c.stopped,
	})
	return buf.Bytes()
}

func (c *CPU) LoadState(data []byte) error {
	var s cpuState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return err
	}
	c.reg.loadState(s.Reg)
	c.branched, c.halted, c.stopped = s.Branched, s.Halted, s.Stopped
	return nil
}
