package cpu

import "github.com/arcreed/gba/internal/types"

// armHandler implements one ARM instruction category. It receives the
// full 32-bit instruction (condition already checked by the caller) and
// returns the execution cycle cost beyond the instruction fetch.
type armHandler func(c *CPU, instr uint32) int

// armTable is keyed by the canonical 12-bit ARM decode key: bits 27-20
// of the instruction in the high nibbles, bits 7-4 in the low nibble.
// Built once at package init and read-only thereafter.
var armTable [4096]armHandler

func init() {
	for key := 0; key < 4096; key++ {
		top8 := uint32(key) >> 4
		low4 := uint32(key) & 0xF
		armTable[key] = classifyARM(top8, low4)
	}
}

func classifyARM(top8, low4 uint32) armHandler {
	switch {
	case top8 == 0x12 && low4 == 0x1:
		return armBX
	case top8&0xFC == 0x00 && low4 == 0x9:
		return armMul
	case top8&0xF8 == 0x08 && low4 == 0x9:
		return armMulLong
	case (top8 == 0x10 || top8 == 0x14) && low4 == 0x9:
		return armSWP
	case top8&0xE0 == 0x00 && low4&0x9 == 0x9 && low4 != 0x9:
		return armHalfwordTransfer
	case top8&0xC0 == 0x00:
		// Data processing space; PSR transfer steals the TST/TEQ/CMP/CMN
		// opcode slots when S=0.
		opcode := (top8 >> 1) & 0xF
		s := top8&1 != 0
		if !s && opcode >= 0x8 && opcode <= 0xB {
			return armPSRTransfer
		}
		return armDataProcessing
	case top8&0xE0 == 0x60 && low4&1 == 1:
		return armUndefined
	case top8&0xC0 == 0x40:
		return armSingleTransfer
	case top8&0xE0 == 0x80:
		return armBlockTransfer
	case top8&0xE0 == 0xA0:
		return armBranch
	case top8&0xE0 == 0xC0:
		return armUndefined // coprocessor data transfer: unused on GBA
	case top8&0xF0 == 0xF0:
		return armSWI
	default:
		return armUndefined // coprocessor data op / register transfer: unused on GBA
	}
}

// operand2 evaluates a data-processing instruction's shifter operand,
// covering the immediate, shift-by-immediate, and shift-by-register
// forms.
func (c *CPU) operand2(instr uint32) shiftResult {
	carryIn := c.reg.CPSR().C()
	if instr&(1<<25) != 0 {
		imm := instr & 0xFF
		rot := (instr >> 8) & 0xF * 2
		if rot == 0 {
			return shiftResult{imm, carryIn}
		}
		return barrelShift(3, imm, rot, carryIn)
	}
	rm := c.regRead(int(instr & 0xF))
	stype := (instr >> 5) & 0x3
	if instr&(1<<4) != 0 {
		rs := c.reg.Get(int((instr>>8)&0xF)) & 0xFF
		return barrelShiftByRegister(stype, rm, rs, carryIn)
	}
	amount := (instr >> 7) & 0x1F
	return barrelShift(stype, rm, amount, carryIn)
}

// regRead reads a register as a shifter operand, applying the PC-read
// offset when the register is r15.
func (c *CPU) regRead(n int) uint32 {
	if n == 15 {
		return c.reg.PCOperand()
	}
	return c.reg.Get(n)
}

func armDataProcessing(c *CPU, instr uint32) int {
	s := instr&(1<<20) != 0
	opcode := (instr >> 21) & 0xF
	rn := int((instr >> 16) & 0xF)
	rd := int((instr >> 12) & 0xF)
	op2 := c.operand2(instr)
	a := c.regRead(rn)
	b := op2.value

	var result uint32
	var carry, overflow bool
	writesResult := true
	switch opcode {
	case 0x0: // AND
		result, carry = a&b, op2.carry
	case 0x1: // EOR
		result, carry = a^b, op2.carry
	case 0x2: // SUB
		result = a - b
		carry, overflow = subCarry(a, b), subOverflow(a, b, result)
	case 0x3: // RSB
		result = b - a
		carry, overflow = subCarry(b, a), subOverflow(b, a, result)
	case 0x4: // ADD
		result = a + b
		carry, overflow = addCarry(a, b), addOverflow(a, b, result)
	case 0x5: // ADC
		var ci uint32
		if c.reg.CPSR().C() {
			ci = 1
		}
		wide := uint64(a) + uint64(b) + uint64(ci)
		result = uint32(wide)
		carry = wide > 0xFFFFFFFF
		overflow = addOverflow(a, b, result)
	case 0x6: // SBC
		ci := uint32(1)
		if c.reg.CPSR().C() {
			ci = 0
		}
		result = a - b - ci
		carry = uint64(a) >= uint64(b)+uint64(ci)
		overflow = subOverflow(a, b, result)
	case 0x7: // RSC
		ci := uint32(1)
		if c.reg.CPSR().C() {
			ci = 0
		}
		result = b - a - ci
		carry = uint64(b) >= uint64(a)+uint64(ci)
		overflow = subOverflow(b, a, result)
	case 0x8: // TST
		result, carry, writesResult = a&b, op2.carry, false
	case 0x9: // TEQ
		result, carry, writesResult = a^b, op2.carry, false
	case 0xA: // CMP
		result = a - b
		carry, overflow, writesResult = subCarry(a, b), subOverflow(a, b, result), false
	case 0xB: // CMN
		result = a + b
		carry, overflow, writesResult = addCarry(a, b), addOverflow(a, b, result), false
	case 0xC: // ORR
		result, carry = a|b, op2.carry
	case 0xD: // MOV
		result, carry = b, op2.carry
	case 0xE: // BIC
		result, carry = a&^b, op2.carry
	default: // MVN
		result, carry = ^b, op2.carry
	}

	if writesResult {
		c.setReg(rd, result)
	}
	if s {
		if rd == 15 {
			// Writing CPSR from SPSR is how a privileged-mode DP
			// instruction with Rd=15,S=1 returns from an exception.
			c.reg.SetCPSR(*c.reg.SPSR())
		} else {
			psr := c.reg.CPSR()
			psr.SetN(result&0x80000000 != 0)
			psr.SetZ(result == 0)
			psr.SetC(carry)
			if opcode != 0x0 && opcode != 0x1 && opcode != 0x8 && opcode != 0x9 &&
				opcode != 0xC && opcode != 0xD && opcode != 0xE && opcode != 0xF {
				psr.SetV(overflow)
			}
			c.reg.SetCPSRFlagsOnly(psr)
		}
	}
	extra := 0
	if rd == 15 && writesResult {
		extra = 2 // pipeline refill, approximated as 2 extra cycles
	}
	if instr&(1<<25) == 0 && instr&(1<<4) != 0 {
		extra++ // register-specified shift takes one extra internal cycle
	}
	return extra
}

func mulCycles(multiplier uint32) int {
	for i, shift := range [3]uint{8, 16, 24} {
		top := multiplier >> shift
		if top == 0 || top == 0xFFFFFFFF>>shift {
			return i + 1
		}
	}
	return 4
}

func armMul(c *CPU, instr uint32) int {
	rd := int((instr >> 16) & 0xF)
	rn := int((instr >> 12) & 0xF)
	rs := int((instr >> 8) & 0xF)
	rm := int(instr & 0xF)
	accumulate := instr&(1<<21) != 0
	s := instr&(1<<20) != 0

	result := c.reg.Get(rm) * c.reg.Get(rs)
	if accumulate {
		result += c.reg.Get(rn)
	}
	c.setReg(rd, result)
	if s {
		psr := c.reg.CPSR()
		psr.SetN(result&0x80000000 != 0)
		psr.SetZ(result == 0)
		c.reg.SetCPSRFlagsOnly(psr)
	}
	cycles := mulCycles(c.reg.Get(rs))
	if accumulate {
		cycles++
	}
	return cycles
}

func armMulLong(c *CPU, instr uint32) int {
	rdHi := int((instr >> 16) & 0xF)
	rdLo := int((instr >> 12) & 0xF)
	rs := int((instr >> 8) & 0xF)
	rm := int(instr & 0xF)
	signed := instr&(1<<22) != 0
	accumulate := instr&(1<<21) != 0
	s := instr&(1<<20) != 0

	var result uint64
	if signed {
		result = uint64(int64(int32(c.reg.Get(rm))) * int64(int32(c.reg.Get(rs))))
	} else {
		result = uint64(c.reg.Get(rm)) * uint64(c.reg.Get(rs))
	}
	if accumulate {
		result += uint64(c.reg.Get(rdHi))<<32 | uint64(c.reg.Get(rdLo))
	}
	c.setReg(rdLo, uint32(result))
	c.setReg(rdHi, uint32(result>>32))
	if s {
		psr := c.reg.CPSR()
		psr.SetN(result&(1<<63) != 0)
		psr.SetZ(result == 0)
		c.reg.SetCPSRFlagsOnly(psr)
	}
	cycles := mulCycles(c.reg.Get(rs)) + 1
	if accumulate {
		cycles++
	}
	return cycles
}

func armSWP(c *CPU, instr uint32) int {
	rn := int((instr >> 16) & 0xF)
	rd := int((instr >> 12) & 0xF)
	rm := int(instr & 0xF)
	addr := c.reg.Get(rn)
	byteSwap := instr&(1<<22) != 0
	if byteSwap {
		old, _ := c.bus.Read(addr, types.WidthByte)
		c.bus.Write(addr, c.reg.Get(rm), types.WidthByte)
		c.setReg(rd, old)
	} else {
		old, _ := c.bus.Read(addr, types.WidthWord)
		c.bus.Write(addr, c.reg.Get(rm), types.WidthWord)
		c.setReg(rd, old)
	}
	return 4
}

func armBX(c *CPU, instr uint32) int {
	rm := int(instr & 0xF)
	target := c.regRead(rm)
	psr := c.reg.CPSR()
	psr.SetThumb(target&1 != 0)
	c.reg.SetCPSR(psr)
	c.reg.Set(15, target&^1)
	c.branched = true
	return 3
}

// armHalfwordTransfer covers LDRH/STRH/LDRSB/LDRSH with register or
// immediate offset and all four addressing-mode/writeback combinations.
func armHalfwordTransfer(c *CPU, instr uint32) int {
	p := instr&(1<<24) != 0
	up := instr&(1<<23) != 0
	immOffset := instr&(1<<22) != 0
	writeback := instr&(1<<21) != 0
	load := instr&(1<<20) != 0
	rn := int((instr >> 16) & 0xF)
	rd := int((instr >> 12) & 0xF)
	sh := (instr >> 5) & 0x3

	var offset uint32
	if immOffset {
		offset = ((instr >> 4) & 0xF0) | (instr & 0xF)
	} else {
		offset = c.reg.Get(int(instr & 0xF))
	}

	base := c.reg.Get(rn)
	addr := base
	if p {
		if up {
			addr = base + offset
		} else {
			addr = base - offset
		}
	}

	if load {
		switch sh {
		case 1: // unsigned halfword
			v, _ := c.bus.Read(addr, types.WidthHWord)
			c.setReg(rd, v)
		case 2: // signed byte
			v, _ := c.bus.Read(addr, types.WidthByte)
			c.setReg(rd, uint32(int32(int8(v))))
		default: // signed halfword
			v, _ := c.bus.Read(addr, types.WidthHWord)
			c.setReg(rd, uint32(int32(int16(v))))
		}
	} else {
		c.bus.Write(addr, c.reg.Get(rd), types.WidthHWord)
	}

	if !p {
		if up {
			addr = base + offset
		} else {
			addr = base - offset
		}
		c.reg.Set(rn, addr)
	} else if writeback {
		c.reg.Set(rn, addr)
	}
	return 1
}

func armSingleTransfer(c *CPU, instr uint32) int {
	immediate := instr&(1<<25) == 0
	p := instr&(1<<24) != 0
	up := instr&(1<<23) != 0
	byteAccess := instr&(1<<22) != 0
	writeback := instr&(1<<21) != 0
	load := instr&(1<<20) != 0
	rn := int((instr >> 16) & 0xF)
	rd := int((instr >> 12) & 0xF)

	var offset uint32
	if immediate {
		offset = instr & 0xFFF
	} else {
		offset = c.operand2NoRotate(instr)
	}

	base := c.reg.Get(rn)
	addr := base
	if p {
		if up {
			addr = base + offset
		} else {
			addr = base - offset
		}
	}

	width := types.WidthWord
	if byteAccess {
		width = types.WidthByte
	}
	cycles := 0
	if load {
		v, cyc := c.bus.Read(addr, width)
		cycles = cyc
		c.setReg(rd, v)
		if rd == 15 {
			cycles += 2
		}
	} else {
		v := c.reg.Get(rd)
		if rd == 15 {
			v = c.reg.PCOperand()
		}
		cycles = c.bus.Write(addr, v, width)
	}

	if !p {
		if up {
			addr = base + offset
		} else {
			addr = base - offset
		}
		if rn != 15 {
			c.reg.Set(rn, addr)
		}
	} else if writeback && rn != 15 {
		c.reg.Set(rn, addr)
	}
	return cycles
}

// operand2NoRotate evaluates a single-data-transfer register offset,
// which uses the shift-by-immediate forms only (never shift-by-register).
func (c *CPU) operand2NoRotate(instr uint32) uint32 {
	rm := c.reg.Get(int(instr & 0xF))
	stype := (instr >> 5) & 0x3
	amount := (instr >> 7) & 0x1F
	return barrelShift(stype, rm, amount, c.reg.CPSR().C()).value
}

func armBlockTransfer(c *CPU, instr uint32) int {
	p := instr&(1<<24) != 0
	up := instr&(1<<23) != 0
	sBit := instr&(1<<22) != 0
	writeback := instr&(1<<21) != 0
	load := instr&(1<<20) != 0
	rn := int((instr >> 16) & 0xF)
	list := instr & 0xFFFF

	var regs []int
	for i := 0; i < 16; i++ {
		if list&(1<<uint(i)) != 0 {
			regs = append(regs, i)
		}
	}
	count := uint32(len(regs))
	if count == 0 {
		count = 16 // empty-list edge case: transfers r15 only, base +/- 0x40
		regs = []int{15}
	}

	base := c.reg.Get(rn)
	start := base
	if !up {
		start = base - count*4
	}
	if (up && p) || (!up && !p) {
		start += 4
	}

	userBank := sBit && !(load && list&(1<<15) != 0)
	addr := start
	for _, reg := range regs {
		if load {
			v, _ := c.bus.Read(addr, types.WidthWord)
			if userBank {
				c.setUserReg(reg, v)
			} else {
				c.setReg(reg, v)
			}
		} else {
			v := c.reg.Get(reg)
			if reg == 15 {
				v = c.reg.PCOperand()
			}
			if userBank {
				v = c.userReg(reg)
			}
			c.bus.Write(addr, v, types.WidthWord)
		}
		addr += 4
	}

	if load && sBit && list&(1<<15) != 0 {
		c.reg.SetCPSR(*c.reg.SPSR())
	}

	if writeback {
		var newBase uint32
		if up {
			newBase = base + count*4
		} else {
			newBase = base - count*4
		}
		if !(load && list&(1<<uint(rn)) != 0) {
			c.reg.Set(rn, newBase)
		}
	}
	return int(count)
}

func armBranch(c *CPU, instr uint32) int {
	link := instr&(1<<24) != 0
	offset := instr & 0xFFFFFF
	if offset&0x800000 != 0 {
		offset |= 0xFF000000
	}
	offset <<= 2
	pc := c.reg.PCOperand()
	target := pc + offset
	if link {
		c.reg.Set(14, c.reg.Get(15)+4)
	}
	c.reg.Set(15, target)
	c.branched = true
	return 2
}

func armSWI(c *CPU, instr uint32) int {
	addr := c.reg.Get(15)
	c.raiseException(vectorSWI, types.ModeSupervisor, addr+4, false)
	return 2
}

func armUndefined(c *CPU, instr uint32) int {
	addr := c.reg.Get(15)
	c.raiseException(vectorUndefined, types.ModeUndefined, addr+4, false)
	return 2
}

// psrFields decodes the MSR field mask (c,x,s,f bits 19-16) into a
// write-enable bitmask over the PSR's four byte lanes.
func psrFields(instr uint32) uint32 {
	var mask uint32
	if instr&(1<<16) != 0 {
		mask |= 0x000000FF
	}
	if instr&(1<<17) != 0 {
		mask |= 0x0000FF00
	}
	if instr&(1<<18) != 0 {
		mask |= 0x00FF0000
	}
	if instr&(1<<19) != 0 {
		mask |= 0xFF000000
	}
	return mask
}

func armPSRTransfer(c *CPU, instr uint32) int {
	useSPSR := instr&(1<<22) != 0
	if instr&(1<<21) == 0 {
		// MRS
		rd := int((instr >> 12) & 0xF)
		if useSPSR {
			c.setReg(rd, uint32(*c.reg.SPSR()))
		} else {
			c.setReg(rd, uint32(c.reg.CPSR()))
		}
		return 0
	}
	// MSR
	var operand uint32
	if instr&(1<<25) != 0 {
		imm := instr & 0xFF
		rot := (instr >> 8) & 0xF * 2
		if rot == 0 {
			operand = imm
		} else {
			operand = barrelShift(3, imm, rot, false).value
		}
	} else {
		operand = c.reg.Get(int(instr & 0xF))
	}
	mask := psrFields(instr)
	if useSPSR {
		cur := uint32(*c.reg.SPSR())
		*c.reg.SPSR() = types.PSR(cur&^mask | operand&mask)
	} else {
		cur := uint32(c.reg.CPSR())
		next := types.PSR(cur&^mask | operand&mask)
		if mask&0xFF != 0 && c.reg.CPSR().Mode() != types.ModeUser {
			// Only a privileged write (control byte in the mask) can
			// change mode/T/I/F; User mode software can only touch flags.
			c.reg.SetCPSR(next)
		} else {
			c.reg.SetCPSRFlagsOnly(next)
		}
	}
	return 0
}
