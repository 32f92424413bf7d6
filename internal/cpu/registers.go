package cpu

import "github.com/arcreed/gba/internal/types"

// bank identifies one of the ARM7TDMI's six register banks. r8-r12 only
// ever differ for the FIQ bank; r13/r14 and the saved PSR differ per
// privileged mode. User and System modes share the same bank.
type bank int

const (
	bankUser bank = iota
	bankFIQ
	bankIRQ
	bankSVC
	bankABT
	bankUND
	bankCount
)

func bankOf(m types.Mode) bank {
	switch m {
	case types.ModeFIQ:
		return bankFIQ
	case types.ModeIRQ:
		return bankIRQ
	case types.ModeSupervisor:
		return bankSVC
	case types.ModeAbort:
		return bankABT
	case types.ModeUndefined:
		return bankUND
	default:
		return bankUser
	}
}

func highBankOf(m types.Mode) bank {
	if m == types.ModeFIQ {
		return bankFIQ
	}
	return bankUser
}

// Registers holds the sixteen currently-visible general registers plus
// the banked copies ARM7TDMI keeps for fast mode switches. r[15] is kept
// as the address of the instruction currently being fetched; code that
// needs the architectural PC value (reads of r15 as an operand) adds the
// pipeline offset explicitly rather than storing it inline here.
type Registers struct {
	r    [16]uint32
	high [bankCount][5]uint32 // banked r8-r12
	sp   [bankCount]uint32    // banked r13
	lr   [bankCount]uint32    // banked r14
	cpsr types.PSR
	spsr [bankCount]types.PSR // spsr[bankUser] is never read: User/System has no SPSR
}

// Reset loads the typical post-BIOS bank values (GBA's BIOS sets these
// stack pointers before jumping to the cartridge entry point) and enters
// System mode in ARM state with interrupts masked.
func (r *Registers) Reset() {
	*r = Registers{}
	r.sp[bankSVC] = 0x03007FE0
	r.sp[bankIRQ] = 0x03007FA0
	r.sp[bankUser] = 0x03007F00
	r.r[13] = r.sp[bankUser]
	r.cpsr.SetMode(types.ModeSystem)
	r.cpsr.SetIRQDisabled(true)
	r.cpsr.SetFIQDisabled(true)
}

func (r *Registers) CPSR() types.PSR     { return r.cpsr }
func (r *Registers) SetCPSRFlagsOnly(v types.PSR) {
	r.cpsr = types.PSR(uint32(r.cpsr)&0x0FFFFFFF | uint32(v)&0xF0000000)
}

// SPSR returns a pointer to the saved PSR for the current mode. Callers
// must not invoke this in User or System mode.
func (r *Registers) SPSR() *types.PSR { return &r.spsr[bankOf(r.cpsr.Mode())] }

// SwitchMode banks out the outgoing mode's r8-r14 and banks in the
// incoming mode's, then updates the CPSR mode field.
func (r *Registers) SwitchMode(newMode types.Mode) {
	oldMode := r.cpsr.Mode()
	if oldHB, newHB := highBankOf(oldMode), highBankOf(newMode); oldHB != newHB {
		copy(r.high[oldHB][:], r.r[8:13])
		copy(r.r[8:13], r.high[newHB][:])
	}
	if oldB, newB := bankOf(oldMode), bankOf(newMode); oldB != newB {
		r.sp[oldB], r.lr[oldB] = r.r[13], r.r[14]
		r.r[13], r.r[14] = r.sp[newB], r.lr[newB]
	}
	r.cpsr.SetMode(newMode)
}

// SetCPSR writes the full CPSR, banking registers if the mode field
// changed. Used by MSR and exception return.
func (r *Registers) SetCPSR(v types.PSR) {
	if v.Mode() != r.cpsr.Mode() {
		saved := r.cpsr
		r.cpsr = v
		r.cpsr.SetMode(saved.Mode()) // restore so SwitchMode sees the true old mode
		r.SwitchMode(v.Mode())
	}
	r.cpsr = v
}

func (r *Registers) Get(n int) uint32  { return r.r[n] }
func (r *Registers) Set(n int, v uint32) { r.r[n] = v }

// PCOperand is the value an instruction observes when it names r15 as a
// source register: the address of the currently executing instruction
// plus the pipeline's two-fetch lookahead.
func (r *Registers) PCOperand() uint32 {
	if r.cpsr.Thumb() {
		return r.r[15] + 4
	}
	return r.r[15] + 8
}

type registersState struct {
	R    [16]uint32
	High [bankCount][5]uint32
	SP   [bankCount]uint32
	LR   [bankCount]uint32
	CPSR uint32
	SPSR [bankCount]uint32
}

func (r *Registers) saveState() registersState {
	s := registersState{R: r.r, High: r.high, SP: r.sp, LR: r.lr, CPSR: uint32(r.cpsr)}
	for i, p := range r.spsr {
		s.SPSR[i] = uint32(p)
	}
	return s
}

func (r *Registers) loadState(s registersState) {
	r.r, r.high, r.sp, r.lr = s.R, s.High, s.SP, s.LR
	r.cpsr = types.PSR(s.CPSR)
	for i, v := range s.SPSR {
		r.spsr[i] = types.PSR(v)
	}
}
