package cpu

import "github.com/arcreed/gba/internal/types"

// evalCond checks a 4-bit ARM condition field against CPSR flags.
func evalCond(cond uint32, p types.PSR) bool {
	switch cond {
	case 0x0:
		return p.Z()
	case 0x1:
		return !p.Z()
	case 0x2:
		return p.C()
	case 0x3:
		return !p.C()
	case 0x4:
		return p.N()
	case 0x5:
		return !p.N()
	case 0x6:
		return p.V()
	case 0x7:
		return !p.V()
	case 0x8:
		return p.C() && !p.Z()
	case 0x9:
		return !p.C() || p.Z()
	case 0xA:
		return p.N() == p.V()
	case 0xB:
		return p.N() != p.V()
	case 0xC:
		return !p.Z() && p.N() == p.V()
	case 0xD:
		return p.Z() || p.N() != p.V()
	case 0xE:
		return true
	default: // 0xF: reserved, never true on ARM7TDMI
		return false
	}
}

// shiftResult is a shifted operand value plus the carry-out it produces,
// which data-processing instructions fold into the C flag when S=1.
type shiftResult struct {
	value uint32
	carry bool
}

// barrelShift implements the four LSL/LSR/ASR/ROR forms (stype 0-3) plus
// the encoded special cases (LSR/ASR #32, ROR #0 meaning RRX).
func barrelShift(stype uint32, value uint32, amount uint32, carryIn bool) shiftResult {
	switch stype {
	case 0: // LSL
		switch {
		case amount == 0:
			return shiftResult{value, carryIn}
		case amount < 32:
			return shiftResult{value << amount, (value>>(32-amount))&1 != 0}
		case amount == 32:
			return shiftResult{0, value&1 != 0}
		default:
			return shiftResult{0, false}
		}
	case 1: // LSR
		switch {
		case amount == 0: // encoded as LSR #32
			return shiftResult{0, value>>31 != 0}
		case amount < 32:
			return shiftResult{value >> amount, (value>>(amount-1))&1 != 0}
		case amount == 32:
			return shiftResult{0, value>>31 != 0}
		default:
			return shiftResult{0, false}
		}
	case 2: // ASR
		sv := int32(value)
		switch {
		case amount == 0: // encoded as ASR #32
			if sv < 0 {
				return shiftResult{0xFFFFFFFF, true}
			}
			return shiftResult{0, false}
		case amount < 32:
			return shiftResult{uint32(sv >> amount), (value>>(amount-1))&1 != 0}
		default:
			if sv < 0 {
				return shiftResult{0xFFFFFFFF, true}
			}
			return shiftResult{0, false}
		}
	default: // ROR, or RRX when amount==0
		if amount == 0 {
			carryOut := value&1 != 0
			var ci uint32
			if carryIn {
				ci = 1
			}
			return shiftResult{(ci << 31) | (value >> 1), carryOut}
		}
		amount &= 31
		if amount == 0 {
			return shiftResult{value, value>>31 != 0}
		}
		return shiftResult{value>>amount | value<<(32-amount), (value>>(amount-1))&1 != 0}
	}
}

// barrelShiftByRegister applies a shift whose amount comes from a register
// rather than an immediate field. A masked amount of 0 is literal ARM7TDMI
// input meaning "don't shift at all" for every shift type, unlike the
// immediate encoding where amount==0 re-encodes LSR/ASR #32 or RRX.
func barrelShiftByRegister(stype uint32, value uint32, amount uint32, carryIn bool) shiftResult {
	if amount == 0 {
		return shiftResult{value, carryIn}
	}
	return barrelShift(stype, value, amount, carryIn)
}

func addCarry(a, b uint32) bool  { return uint64(a)+uint64(b) > 0xFFFFFFFF }
func addOverflow(a, b, r uint32) bool {
	return (a^r)&(b^r)&0x80000000 != 0
}
func subCarry(a, b uint32) bool { return a >= b }
func subOverflow(a, b, r uint32) bool {
	return (a^b)&(a^r)&0x80000000 != 0
}
