package gba

import "testing"

func testROM() []byte {
	rom := make([]byte, 0x200)
	// ARM at the entry point: MOV r0, #5 then an infinite branch to self.
	rom[0], rom[1], rom[2], rom[3] = 0x05, 0x00, 0xA0, 0xE3 // MOV r0,#5
	rom[4], rom[5], rom[6], rom[7] = 0xFE, 0xFF, 0xFF, 0xEA // B $ (branch to self)
	return rom
}

func TestInitSkipsBIOSToCartEntry(t *testing.T) {
	m := New()
	if err := m.Init(testROM(), nil, false); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if m.CPU().Reg(15) != cartEntry {
		t.Fatalf("PC = %#x, want cartridge entry %#x", m.CPU().Reg(15), uint32(cartEntry))
	}
}

func TestStepExecutesCartridgeCode(t *testing.T) {
	m := New()
	if err := m.Init(testROM(), nil, false); err != nil {
		t.Fatalf("Init: %v", err)
	}
	m.Step()
	if m.CPU().Reg(0) != 5 {
		t.Fatalf("r0 = %d, want 5", m.CPU().Reg(0))
	}
}

func TestInitRejectsOversizedBIOS(t *testing.T) {
	m := New()
	if err := m.Init(testROM(), make([]byte, 0x8000), false); err == nil {
		t.Fatalf("expected an error for an oversized BIOS image")
	}
}

// TestSaveStateRoundTrip checks that a save state captured mid-execution
// and reloaded onto a fresh Machine reproduces the same CPU and subsystem
// state, and that stepping from there proceeds identically.
func TestSaveStateRoundTrip(t *testing.T) {
	m := New()
	if err := m.Init(testROM(), nil, false); err != nil {
		t.Fatalf("Init: %v", err)
	}
	m.Step()
	blob := m.SaveState()

	m2 := New()
	if err := m2.Init(testROM(), nil, false); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := m2.LoadState(blob); err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if m2.CPU().Reg(0) != m.CPU().Reg(0) || m2.CPU().Reg(15) != m.CPU().Reg(15) {
		t.Fatalf("CPU state did not round trip: r0=%d pc=%#x, want r0=%d pc=%#x",
			m2.CPU().Reg(0), m2.CPU().Reg(15), m.CPU().Reg(0), m.CPU().Reg(15))
	}

	m.Step()
	m2.Step()
	if m2.CPU().Reg(15) != m.CPU().Reg(15) {
		t.Fatalf("post-load execution diverged: pc=%#x, want %#x", m2.CPU().Reg(15), m.CPU().Reg(15))
	}
}

func TestResetPreservesCartridgeButClearsCPUState(t *testing.T) {
	m := New()
	if err := m.Init(testROM(), nil, false); err != nil {
		t.Fatalf("Init: %v", err)
	}
	m.Step()
	if m.CPU().Reg(0) != 5 {
		t.Fatalf("setup: r0 = %d, want 5", m.CPU().Reg(0))
	}
	m.Reset()
	if m.CPU().Reg(0) != 0 {
		t.Fatalf("reset should clear general registers, r0 = %d", m.CPU().Reg(0))
	}
	if m.CPU().Reg(15) != cartEntry {
		t.Fatalf("reset with bootBIOS=false should land back on the cartridge entry point")
	}
	if m.Cartridge() == nil {
		t.Fatalf("reset should not drop the cartridge")
	}
}
