package cpu

import "github.com/arcreed/gba/internal/types"

// thumbHandler implements one Thumb instruction format.
type thumbHandler func(c *CPU, instr uint16) int

// thumbTable is keyed by the instruction's top 8 bits.
var thumbTable [256]thumbHandler

func init() {
	for key := 0; key < 256; key++ {
		thumbTable[key] = classifyThumb(uint32(key))
	}
}

func classifyThumb(top8 uint32) thumbHandler {
	switch {
	case top8 < 0x18:
		return thumbMoveShifted
	case top8 < 0x20:
		return thumbAddSub
	case top8 < 0x40:
		return thumbImmediateOp
	case top8>>2 == 0x10:
		return thumbALU
	case top8>>2 == 0x11:
		return thumbHiRegBX
	case top8>>3 == 0x09:
		return thumbPCRelLoad
	case top8>>4 == 0x5:
		if top8&0x2 == 0 {
			return thumbLoadStoreReg
		}
		return thumbLoadStoreSignExt
	case top8>>5 == 0x3:
		return thumbLoadStoreImm
	case top8>>4 == 0x8:
		return thumbLoadStoreHalf
	case top8>>4 == 0x9:
		return thumbSPRelLoadStore
	case top8>>4 == 0xA:
		return thumbLoadAddress
	case top8 == 0xB0:
		return thumbAddSP
	case top8&0xFE == 0xB4:
		return thumbPush
	case top8&0xFE == 0xBC:
		return thumbPop
	case top8>>4 == 0xC:
		return thumbMultipleLoadStore
	case top8 == 0xDF:
		return thumbSWI
	case top8>>4 == 0xD:
		return thumbCondBranch
	case top8>>3 == 0x1C:
		return thumbBranch
	case top8>>4 == 0xF:
		return thumbLongBranchLink
	default:
		return thumbUndefined
	}
}

func thumbUndefined(c *CPU, instr uint16) int {
	addr := c.reg.Get(15)
	c.raiseException(vectorUndefined, types.ModeUndefined, addr+2, false)
	return 2
}

func thumbMoveShifted(c *CPU, instr uint16) int {
	op := (instr >> 11) & 0x3
	offset := uint32((instr >> 6) & 0x1F)
	rs := int((instr >> 3) & 0x7)
	rd := int(instr & 0x7)
	carryIn := c.reg.CPSR().C()
	var res shiftResult
	switch op {
	case 0:
		res = barrelShift(0, c.reg.Get(rs), offset, carryIn)
	case 1:
		res = barrelShift(1, c.reg.Get(rs), offset, carryIn)
	default:
		res = barrelShift(2, c.reg.Get(rs), offset, carryIn)
	}
	c.reg.Set(rd, res.value)
	c.setLogicalFlags(res.value, res.carry)
	return 0
}

func thumbAddSub(c *CPU, instr uint16) int {
	imm := instr&(1<<10) != 0
	sub := instr&(1<<9) != 0
	rnOrImm := uint32((instr >> 6) & 0x7)
	rs := int((instr >> 3) & 0x7)
	rd := int(instr & 0x7)
	a := c.reg.Get(rs)
	var b uint32
	if imm {
		b = rnOrImm
	} else {
		b = c.reg.Get(int(rnOrImm))
	}
	var result uint32
	var carry, overflow bool
	if sub {
		result = a - b
		carry, overflow = subCarry(a, b), subOverflow(a, b, result)
	} else {
		result = a + b
		carry, overflow = addCarry(a, b), addOverflow(a, b, result)
	}
	c.reg.Set(rd, result)
	c.setArithFlags(result, carry, overflow)
	return 0
}

func thumbImmediateOp(c *CPU, instr uint16) int {
	op := (instr >> 11) & 0x3
	rd := int((instr >> 8) & 0x7)
	imm := uint32(instr & 0xFF)
	a := c.reg.Get(rd)
	switch op {
	case 0: // MOV
		c.reg.Set(rd, imm)
		c.setLogicalFlags(imm, c.reg.CPSR().C())
	case 1: // CMP
		result := a - imm
		c.setArithFlags(result, subCarry(a, imm), subOverflow(a, imm, result))
	case 2: // ADD
		result := a + imm
		c.reg.Set(rd, result)
		c.setArithFlags(result, addCarry(a, imm), addOverflow(a, imm, result))
	default: // SUB
		result := a - imm
		c.reg.Set(rd, result)
		c.setArithFlags(result, subCarry(a, imm), subOverflow(a, imm, result))
	}
	return 0
}

func thumbALU(c *CPU, instr uint16) int {
	op := (instr >> 6) & 0xF
	rs := int((instr >> 3) & 0x7)
	rd := int(instr & 0x7)
	a := c.reg.Get(rd)
	b := c.reg.Get(rs)
	carryIn := c.reg.CPSR().C()
	extra := 0
	switch op {
	case 0x0: // AND
		r := a & b
		c.reg.Set(rd, r)
		c.setLogicalFlags(r, carryIn)
	case 0x1: // EOR
		r := a ^ b
		c.reg.Set(rd, r)
		c.setLogicalFlags(r, carryIn)
	case 0x2: // LSL
		res := barrelShiftByRegister(0, a, b&0xFF, carryIn)
		c.reg.Set(rd, res.value)
		c.setLogicalFlags(res.value, res.carry)
		extra = 1
	case 0x3: // LSR
		res := barrelShiftByRegister(1, a, b&0xFF, carryIn)
		c.reg.Set(rd, res.value)
		c.setLogicalFlags(res.value, res.carry)
		extra = 1
	case 0x4: // ASR
		res := barrelShiftByRegister(2, a, b&0xFF, carryIn)
		c.reg.Set(rd, res.value)
		c.setLogicalFlags(res.value, res.carry)
		extra = 1
	case 0x5: // ADC
		var ci uint32
		if carryIn {
			ci = 1
		}
		wide := uint64(a) + uint64(b) + uint64(ci)
		r := uint32(wide)
		c.reg.Set(rd, r)
		c.setArithFlags(r, wide > 0xFFFFFFFF, addOverflow(a, b, r))
	case 0x6: // SBC
		ci := uint32(1)
		if carryIn {
			ci = 0
		}
		r := a - b - ci
		c.reg.Set(rd, r)
		c.setArithFlags(r, uint64(a) >= uint64(b)+uint64(ci), subOverflow(a, b, r))
	case 0x7: // ROR
		res := barrelShiftByRegister(3, a, b&0xFF, carryIn)
		c.reg.Set(rd, res.value)
		c.setLogicalFlags(res.value, res.carry)
		extra = 1
	case 0x8: // TST
		c.setLogicalFlags(a&b, carryIn)
	case 0x9: // NEG
		r := uint32(0) - b
		c.reg.Set(rd, r)
		c.setArithFlags(r, subCarry(0, b), subOverflow(0, b, r))
	case 0xA: // CMP
		r := a - b
		c.setArithFlags(r, subCarry(a, b), subOverflow(a, b, r))
	case 0xB: // CMN
		r := a + b
		c.setArithFlags(r, addCarry(a, b), addOverflow(a, b, r))
	case 0xC: // ORR
		r := a | b
		c.reg.Set(rd, r)
		c.setLogicalFlags(r, carryIn)
	case 0xD: // MUL
		r := a * b
		c.reg.Set(rd, r)
		c.setLogicalFlags(r, carryIn)
		extra = mulCycles(b)
	case 0xE: // BIC
		r := a &^ b
		c.reg.Set(rd, r)
		c.setLogicalFlags(r, carryIn)
	default: // MVN
		r := ^b
		c.reg.Set(rd, r)
		c.setLogicalFlags(r, carryIn)
	}
	return extra
}

func thumbHiRegBX(c *CPU, instr uint16) int {
	op := (instr >> 8) & 0x3
	h1 := instr&(1<<7) != 0
	h2 := instr&(1<<6) != 0
	rs := int((instr>>3)&0x7) | boolBit(h2)<<3
	rd := int(instr&0x7) | boolBit(h1)<<3

	switch op {
	case 0: // ADD
		r := c.regRead(rd) + c.regRead(rs)
		c.setReg(rd, r)
	case 1: // CMP
		a, b := c.regRead(rd), c.regRead(rs)
		r := a - b
		c.setArithFlags(r, subCarry(a, b), subOverflow(a, b, r))
	case 2: // MOV
		c.setReg(rd, c.regRead(rs))
	default: // BX
		target := c.regRead(rs)
		psr := c.reg.CPSR()
		psr.SetThumb(target&1 != 0)
		c.reg.SetCPSR(psr)
		c.reg.Set(15, target&^1)
		c.branched = true
	}
	if rd == 15 && op != 3 {
		c.reg.Set(15, c.reg.Get(15)&^1)
		c.branched = true
		return 3
	}
	if op == 3 {
		return 3
	}
	return 0
}

func boolBit(b bool) int {
	if b {
		return 1
	}
	return 0
}

func thumbPCRelLoad(c *CPU, instr uint16) int {
	rd := int((instr >> 8) & 0x7)
	word8 := uint32(instr&0xFF) * 4
	base := (c.reg.PCOperand()) &^ 3
	v, cyc := c.bus.Read(base+word8, types.WidthWord)
	c.reg.Set(rd, v)
	return cyc
}

func thumbLoadStoreReg(c *CPU, instr uint16) int {
	load := instr&(1<<11) != 0
	byteAccess := instr&(1<<10) != 0
	ro := int((instr >> 6) & 0x7)
	rb := int((instr >> 3) & 0x7)
	rd := int(instr & 0x7)
	addr := c.reg.Get(rb) + c.reg.Get(ro)
	width := types.WidthWord
	if byteAccess {
		width = types.WidthByte
	}
	if load {
		v, cyc := c.bus.Read(addr, width)
		c.reg.Set(rd, v)
		return cyc
	}
	return c.bus.Write(addr, c.reg.Get(rd), width)
}

func thumbLoadStoreSignExt(c *CPU, instr uint16) int {
	h := instr&(1<<11) != 0
	s := instr&(1<<10) != 0
	ro := int((instr >> 6) & 0x7)
	rb := int((instr >> 3) & 0x7)
	rd := int(instr & 0x7)
	addr := c.reg.Get(rb) + c.reg.Get(ro)
	switch {
	case !s && !h: // STRH
		return c.bus.Write(addr, c.reg.Get(rd), types.WidthHWord)
	case !s && h: // LDRH
		v, cyc := c.bus.Read(addr, types.WidthHWord)
		c.reg.Set(rd, v)
		return cyc
	case s && !h: // LDSB
		v, cyc := c.bus.Read(addr, types.WidthByte)
		c.reg.Set(rd, uint32(int32(int8(v))))
		return cyc
	default: // LDSH
		v, cyc := c.bus.Read(addr, types.WidthHWord)
		c.reg.Set(rd, uint32(int32(int16(v))))
		return cyc
	}
}

func thumbLoadStoreImm(c *CPU, instr uint16) int {
	byteAccess := instr&(1<<12) != 0
	load := instr&(1<<11) != 0
	offset5 := uint32((instr >> 6) & 0x1F)
	rb := int((instr >> 3) & 0x7)
	rd := int(instr & 0x7)
	width := types.WidthWord
	off := offset5 * 4
	if byteAccess {
		width = types.WidthByte
		off = offset5
	}
	addr := c.reg.Get(rb) + off
	if load {
		v, cyc := c.bus.Read(addr, width)
		c.reg.Set(rd, v)
		return cyc
	}
	return c.bus.Write(addr, c.reg.Get(rd), width)
}

func thumbLoadStoreHalf(c *CPU, instr uint16) int {
	load := instr&(1<<11) != 0
	offset5 := uint32((instr >> 6) & 0x1F)
	rb := int((instr >> 3) & 0x7)
	rd := int(instr & 0x7)
	addr := c.reg.Get(rb) + offset5*2
	if load {
		v, cyc := c.bus.Read(addr, types.WidthHWord)
		c.reg.Set(rd, v)
		return cyc
	}
	return c.bus.Write(addr, c.reg.Get(rd), types.WidthHWord)
}

func thumbSPRelLoadStore(c *CPU, instr uint16) int {
	load := instr&(1<<11) != 0
	rd := int((instr >> 8) & 0x7)
	word8 := uint32(instr&0xFF) * 4
	addr := c.reg.Get(13) + word8
	if load {
		v, cyc := c.bus.Read(addr, types.WidthWord)
		c.reg.Set(rd, v)
		return cyc
	}
	return c.bus.Write(addr, c.reg.Get(rd), types.WidthWord)
}

func thumbLoadAddress(c *CPU, instr uint16) int {
	sp := instr&(1<<11) != 0
	rd := int((instr >> 8) & 0x7)
	word8 := uint32(instr&0xFF) * 4
	var base uint32
	if sp {
		base = c.reg.Get(13)
	} else {
		base = c.reg.PCOperand() &^ 3
	}
	c.reg.Set(rd, base+word8)
	return 0
}

func thumbAddSP(c *CPU, instr uint16) int {
	sub := instr&(1<<7) != 0
	word7 := uint32(instr&0x7F) * 4
	sp := c.reg.Get(13)
	if sub {
		c.reg.Set(13, sp-word7)
	} else {
		c.reg.Set(13, sp+word7)
	}
	return 0
}

func thumbPush(c *CPU, instr uint16) int {
	lr := instr&(1<<8) != 0
	list := instr & 0xFF
	sp := c.reg.Get(13)
	count := popcount16(list)
	if lr {
		count++
	}
	sp -= uint32(count) * 4
	addr := sp
	for i := 0; i < 8; i++ {
		if list&(1<<uint(i)) != 0 {
			c.bus.Write(addr, c.reg.Get(i), types.WidthWord)
			addr += 4
		}
	}
	if lr {
		c.bus.Write(addr, c.reg.Get(14), types.WidthWord)
	}
	c.reg.Set(13, sp)
	return int(count)
}

func thumbPop(c *CPU, instr uint16) int {
	pc := instr&(1<<8) != 0
	list := instr & 0xFF
	addr := c.reg.Get(13)
	count := popcount16(list)
	for i := 0; i < 8; i++ {
		if list&(1<<uint(i)) != 0 {
			v, _ := c.bus.Read(addr, types.WidthWord)
			c.reg.Set(i, v)
			addr += 4
		}
	}
	if pc {
		v, _ := c.bus.Read(addr, types.WidthWord)
		c.reg.Set(15, v&^1)
		c.branched = true
		addr += 4
		count++
	}
	c.reg.Set(13, addr)
	return int(count)
}

func popcount16(v uint16) int {
	n := 0
	for v != 0 {
		n += int(v & 1)
		v >>= 1
	}
	return n
}

func thumbMultipleLoadStore(c *CPU, instr uint16) int {
	load := instr&(1<<11) != 0
	rb := int((instr >> 8) & 0x7)
	list := instr & 0xFF
	addr := c.reg.Get(rb)
	count := 0
	for i := 0; i < 8; i++ {
		if list&(1<<uint(i)) != 0 {
			if load {
				v, _ := c.bus.Read(addr, types.WidthWord)
				c.reg.Set(i, v)
			} else {
				c.bus.Write(addr, c.reg.Get(i), types.WidthWord)
			}
			addr += 4
			count++
		}
	}
	c.reg.Set(rb, addr)
	return count
}

func thumbCondBranch(c *CPU, instr uint16) int {
	cond := uint32((instr >> 8) & 0xF)
	if !evalCond(cond, c.reg.CPSR()) {
		return 0
	}
	offset := int32(int8(instr & 0xFF)) * 2
	c.reg.Set(15, uint32(int32(c.reg.PCOperand())+offset))
	c.branched = true
	return 2
}

func thumbSWI(c *CPU, instr uint16) int {
	addr := c.reg.Get(15)
	c.raiseException(vectorSWI, types.ModeSupervisor, addr+2, false)
	return 2
}

func thumbBranch(c *CPU, instr uint16) int {
	offset11 := uint32(instr & 0x7FF)
	var offset int32
	if offset11&0x400 != 0 {
		offset = int32(offset11|0xFFFFF800) * 2
	} else {
		offset = int32(offset11) * 2
	}
	c.reg.Set(15, uint32(int32(c.reg.PCOperand())+offset))
	c.branched = true
	return 2
}

func thumbLongBranchLink(c *CPU, instr uint16) int {
	h := instr&(1<<11) != 0
	offset11 := uint32(instr & 0x7FF)
	if !h {
		var signExt uint32
		if offset11&0x400 != 0 {
			signExt = 0xFFC00000
		}
		c.reg.Set(14, c.reg.PCOperand()+(signExt|offset11<<12))
		return 0
	}
	next := c.reg.Get(15) + 2
	target := c.reg.Get(14) + offset11<<1
	c.reg.Set(15, target)
	c.reg.Set(14, next|1)
	c.branched = true
	return 2
}
