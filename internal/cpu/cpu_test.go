package cpu

import (
	"testing"

	"github.com/arcreed/gba/internal/bus"
	"github.com/arcreed/gba/internal/sched"
	"github.com/arcreed/gba/internal/timer"
	"github.com/arcreed/gba/internal/types"
)

const codeBase = 0x03000000 // IWRAM: writable, needs no cartridge to execute from

func newTestCPU() (*CPU, *bus.Bus) {
	b := bus.New()
	s := sched.New()
	b.SetTimer(timer.New(s, func(int) {}))
	c := New(b)
	c.SetPC(codeBase)
	return c, b
}

func writeARM(b *bus.Bus, addr uint32, words ...uint32) {
	for i, w := range words {
		b.Write32(addr+uint32(i*4), w)
	}
}

func writeThumb(b *bus.Bus, addr uint32, halfwords ...uint16) {
	for i, h := range halfwords {
		b.Write16(addr+uint32(i*2), h)
	}
}

func enterThumb(c *CPU) {
	p := c.CPSR()
	p.SetThumb(true)
	c.reg.SetCPSR(p)
}

func dpImm(opcode uint32, s bool, rn, rd int, imm8 uint32) uint32 {
	v := uint32(0xE)<<28 | 1<<25 | opcode<<21 | uint32(rn)<<16 | uint32(rd)<<12 | imm8&0xFF
	if s {
		v |= 1 << 20
	}
	return v
}

func dpReg(opcode uint32, s bool, rn, rd, rm int) uint32 {
	v := uint32(0xE)<<28 | opcode<<21 | uint32(rn)<<16 | uint32(rd)<<12 | uint32(rm)
	if s {
		v |= 1 << 20
	}
	return v
}

func branchInstr(link bool, offsetWords int32) uint32 {
	v := uint32(0xE)<<28 | 0x5<<25 | uint32(offsetWords)&0xFFFFFF
	if link {
		v |= 1 << 24
	}
	return v
}

func bxInstr(rm int) uint32 {
	return uint32(0xE)<<28 | 0x12<<20 | 0xFFF<<8 | 0x1<<4 | uint32(rm)
}

func swiInstr() uint32 { return 0xEF000000 }

func TestMOVImmediateSetsRegister(t *testing.T) {
	c, b := newTestCPU()
	writeARM(b, codeBase, dpImm(0xD, false, 0, 0, 5))
	c.Step()
	if c.Reg(0) != 5 {
		t.Fatalf("R0 = %d, want 5", c.Reg(0))
	}
	if c.Reg(15) != codeBase+4 {
		t.Fatalf("PC = %#x, want %#x", c.Reg(15), codeBase+4)
	}
}

func TestFailedConditionStillAdvancesPC(t *testing.T) {
	c, b := newTestCPU()
	// MOVEQ r0,#5 with Z clear: condition fails, r0 must stay 0.
	instr := dpImm(0xD, false, 0, 0, 5) & 0x0FFFFFFF // strip cond
	writeARM(b, codeBase, instr)                     // cond field left as 0 = EQ
	c.Step()
	if c.Reg(0) != 0 {
		t.Fatalf("instruction with failed condition should not execute, R0 = %d", c.Reg(0))
	}
	if c.Reg(15) != codeBase+4 {
		t.Fatalf("PC should still advance past a skipped instruction")
	}
}

// TestDataProcessingFlagsMatchReference checks that N = bit31,
// Z = (result==0), and C/V follow the arithmetic rule for ADD and SUB.
func TestDataProcessingFlagsMatchReference(t *testing.T) {
	c, b := newTestCPU()
	writeARM(b, codeBase,
		dpImm(0xD, false, 0, 1, 0x7F), // MOV r1, #0x7F
	)
	c.Step()
	c.SetReg(1, 0x7FFFFFFF)
	writeARM(b, c.Reg(15), dpReg(0x4, true, 1, 0, 1)) // ADDS r0, r1, r1 -> overflow
	c.Step()
	p := c.CPSR()
	if !p.V() {
		t.Fatalf("signed overflow should set V")
	}
	if p.N() != (c.Reg(0)&0x80000000 != 0) {
		t.Fatalf("N flag should mirror bit31 of the result")
	}
}

func TestSUBSSetsCarryOnNoBorrow(t *testing.T) {
	c, b := newTestCPU()
	c.SetReg(1, 10)
	c.SetReg(2, 3)
	writeARM(b, codeBase, dpReg(0x2, true, 1, 0, 2)) // SUBS r0, r1, r2
	c.Step()
	if c.Reg(0) != 7 {
		t.Fatalf("r0 = %d, want 7", c.Reg(0))
	}
	if !c.CPSR().C() {
		t.Fatalf("SUBS without borrow should set C")
	}
}

func TestBranchWithLinkSetsLR(t *testing.T) {
	c, b := newTestCPU()
	writeARM(b, codeBase, branchInstr(true, 2)) // BL forward by 2 words (8 bytes) of offset<<2 = 8
	c.Step()
	wantLR := uint32(codeBase + 4)
	if c.Reg(14) != wantLR {
		t.Fatalf("LR = %#x, want %#x", c.Reg(14), wantLR)
	}
	wantPC := uint32(codeBase + 8 + 8) // PCOperand (pc+8) plus offset*4
	if c.Reg(15) != wantPC {
		t.Fatalf("PC = %#x, want %#x", c.Reg(15), wantPC)
	}
}

func TestBXEntersThumbState(t *testing.T) {
	c, b := newTestCPU()
	c.SetReg(0, codeBase+0x100+1) // odd target address selects Thumb
	writeARM(b, codeBase, bxInstr(0))
	c.Step()
	if !c.CPSR().Thumb() {
		t.Fatalf("BX to an odd address should enter Thumb state")
	}
	if c.Reg(15) != codeBase+0x100 {
		t.Fatalf("PC = %#x, want %#x", c.Reg(15), codeBase+0x100)
	}
}

func TestSWIEntersSupervisorMode(t *testing.T) {
	c, b := newTestCPU()
	writeARM(b, codeBase, swiInstr())
	c.Step()
	if c.CPSR().Mode() != types.ModeSupervisor {
		t.Fatalf("SWI should enter Supervisor mode")
	}
	if !c.CPSR().IRQDisabled() {
		t.Fatalf("SWI should disable IRQ")
	}
	if c.Reg(15) != vectorSWI {
		t.Fatalf("PC = %#x, want the SWI vector %#x", c.Reg(15), uint32(vectorSWI))
	}
	if c.Reg(14) != codeBase+4 {
		t.Fatalf("LR_svc = %#x, want %#x", c.Reg(14), codeBase+4)
	}
}

func TestIRQEntryVectorsAndBanksLR(t *testing.T) {
	c, b := newTestCPU()
	writeARM(b, codeBase, dpImm(0xD, false, 0, 0, 1)) // next fetch would be MOV r0,#1
	b.IRQ.SetIE(1)                                    // VBlank
	b.IRQ.SetIME(true)
	b.IRQ.Raise(0)
	cycles := c.Step()
	if cycles == 0 {
		t.Fatalf("IRQ entry should consume cycles")
	}
	if c.CPSR().Mode() != types.ModeIRQ {
		t.Fatalf("pending IRQ should enter IRQ mode")
	}
	if c.Reg(15) != vectorIRQ {
		t.Fatalf("PC = %#x, want the IRQ vector", c.Reg(15))
	}
	if c.Reg(14) != codeBase+4 {
		t.Fatalf("LR_irq = %#x, want %#x", c.Reg(14), codeBase+4)
	}
}

func TestHaltWakesOnPendingIRQRegardlessOfIME(t *testing.T) {
	c, b := newTestCPU()
	b.SetHaltFunc(nil) // re-installed by New; simulate a HALTCNT write directly
	c.halted = true
	b.IRQ.SetIE(1)
	b.IRQ.SetIME(false)
	b.IRQ.Raise(0)
	c.Step()
	if c.halted {
		t.Fatalf("halt should wake on IE&IF!=0 even with IME cleared")
	}
}

// TestThumbPushPopRoundTrip checks that with r0..r7={1..8} and
// LR=0x08000100, PUSH {r0-r7,LR} then POP {r0-r7,PC} restores r0..r7 and
// LR (now PC) exactly, with SP back to its initial value.
func TestThumbPushPopRoundTrip(t *testing.T) {
	c, b := newTestCPU()
	enterThumb(c)
	c.SetReg(13, 0x03007F00)
	for i := 0; i < 8; i++ {
		c.SetReg(i, uint32(i+1))
	}
	c.SetReg(14, 0x08000100)
	initialSP := c.Reg(13)

	// PUSH {r0-r7, LR}: 1011 0 10 1 11111111
	writeThumb(b, codeBase, 0xB5FF)
	c.Step()
	spAfterPush := c.Reg(13)
	if spAfterPush != initialSP-9*4 {
		t.Fatalf("SP after PUSH = %#x, want %#x", spAfterPush, initialSP-9*4)
	}

	for i := 0; i < 8; i++ {
		c.SetReg(i, 0)
	}
	// POP {r0-r7, PC}: 1011 1 10 1 11111111
	writeThumb(b, c.Reg(15), 0xBDFF)
	c.Step()

	for i := 0; i < 8; i++ {
		if c.Reg(i) != uint32(i+1) {
			t.Fatalf("r%d = %d after POP, want %d", i, c.Reg(i), i+1)
		}
	}
	if c.Reg(15) != 0x08000100 {
		t.Fatalf("PC after POP{pc} = %#x, want 0x08000100", c.Reg(15))
	}
	if c.Reg(13) != initialSP {
		t.Fatalf("SP after round trip = %#x, want %#x", c.Reg(13), initialSP)
	}
}

func TestThumbImmediateAddSetsCarryAndZero(t *testing.T) {
	c, b := newTestCPU()
	enterThumb(c)
	c.SetReg(0, 0xFFFFFFFF)
	// ADD r0, r0, #1 (format 3: 001 op Rd offset8, op=10 for ADD)
	instr := uint16(0b001<<13) | uint16(0b10)<<11 | uint16(0)<<8 | 1
	writeThumb(b, codeBase, instr)
	c.Step()
	if c.Reg(0) != 0 {
		t.Fatalf("r0 = %#x, want 0 after wraparound", c.Reg(0))
	}
	if !c.CPSR().C() {
		t.Fatalf("unsigned wraparound should set carry")
	}
	if !c.CPSR().Z() {
		t.Fatalf("result of 0 should set Z")
	}
}

func TestMulCyclesBoothTermination(t *testing.T) {
	cases := []struct {
		multiplier uint32
		want       int
	}{
		{0, 1},
		{0xFFFFFFFF, 1},
		{0xFF, 1},
		{0xFFFF, 2},
		{0xFFFFFF, 3},
		{0x7FFFFFFF, 4},
	}
	for _, tc := range cases {
		if got := mulCycles(tc.multiplier); got != tc.want {
			t.Fatalf("mulCycles(%#x) = %d, want %d", tc.multiplier, got, tc.want)
		}
	}
}

func TestRegisterBankingAcrossModeSwitch(t *testing.T) {
	c, _ := newTestCPU()
	c.SetReg(13, 0x03007F00) // System/User SP
	c.reg.SwitchMode(types.ModeIRQ)
	c.SetReg(13, 0x03007FA0)
	c.reg.SwitchMode(types.ModeSystem)
	if c.Reg(13) != 0x03007F00 {
		t.Fatalf("returning to System mode should restore its banked SP, got %#x", c.Reg(13))
	}
	c.reg.SwitchMode(types.ModeIRQ)
	if c.Reg(13) != 0x03007FA0 {
		t.Fatalf("returning to IRQ mode should restore its banked SP, got %#x", c.Reg(13))
	}
}

func TestSaveStateRoundTrip(t *testing.T) {
	c, _ := newTestCPU()
	c.SetReg(0, 0xCAFEBABE)
	c.SetPC(0x08000050)
	data := c.SaveState()

	c2, _ := newTestCPU()
	if err := c2.LoadState(data); err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if c2.Reg(0) != 0xCAFEBABE || c2.Reg(15) != 0x08000050 {
		t.Fatalf("state did not round trip: r0=%#x pc=%#x", c2.Reg(0), c2.Reg(15))
	}
}
