package bus

import (
	"testing"

	"github.com/arcreed/gba/internal/sched"
	"github.com/arcreed/gba/internal/timer"
	"github.com/arcreed/gba/internal/types"
)

func newTestBus() *Bus {
	b := New()
	s := sched.New()
	b.SetTimer(timer.New(s, func(int) {}))
	return b
}

func TestEWRAMRoundTripWord(t *testing.T) {
	b := newTestBus()
	b.Write(0x02000100, 0xDEADBEEF, types.WidthWord)
	v, _ := b.Read(0x02000100, types.WidthWord)
	if v != 0xDEADBEEF {
		t.Fatalf("got %#08x, want 0xDEADBEEF", v)
	}
}

func TestIWRAMRoundTripByte(t *testing.T) {
	b := newTestBus()
	b.Write(0x03000010, 0xAB, types.WidthByte)
	v, _ := b.Read(0x03000010, types.WidthByte)
	if v != 0xAB {
		t.Fatalf("got %#02x, want 0xAB", v)
	}
}

func TestUnalignedHWordReadRotates(t *testing.T) {
	b := newTestBus()
	b.Write(0x03000010, 0x1234, types.WidthHWord)
	v, _ := b.Read(0x03000011, types.WidthHWord)
	if v != 0x3412 {
		t.Fatalf("unaligned hword read = %#04x, want 0x3412 (byte-swapped)", v)
	}
}

func TestUnalignedWordReadRotates(t *testing.T) {
	b := newTestBus()
	b.Write(0x03000010, 0x11223344, types.WidthWord)
	v, _ := b.Read(0x03000011, types.WidthWord)
	want := rotr32(0x11223344, 8)
	if v != want {
		t.Fatalf("unaligned word read = %#08x, want %#08x", v, want)
	}
}

func TestUnalignedWriteRoundsDown(t *testing.T) {
	b := newTestBus()
	b.Write(0x03000013, 0x11223344, types.WidthWord)
	v, _ := b.Read(0x03000010, types.WidthWord)
	if v != 0x11223344 {
		t.Fatalf("write should round down to aligned address: got %#08x", v)
	}
}

func TestVRAMMirrorWraps(t *testing.T) {
	b := newTestBus()
	b.Write(0x06010000, 0x55, types.WidthHWord)
	v, _ := b.Read(0x06018000, types.WidthByte)
	if v != 0x55 {
		t.Fatalf("VRAM addresses 0x8000 apart in the mirror region should alias")
	}
}

func TestPRAMByteWriteDuplicates(t *testing.T) {
	b := newTestBus()
	b.Write(0x05000004, 0x77, types.WidthByte)
	v, _ := b.Read(0x05000004, types.WidthHWord)
	if v != 0x7777 {
		t.Fatalf("PRAM byte write should duplicate across the halfword, got %#04x", v)
	}
}

func TestIOReadWriteDISPCNT(t *testing.T) {
	b := newTestBus()
	b.Write(0x04000000, 0x1234, types.WidthHWord)
	v, _ := b.Read(0x04000000, types.WidthHWord)
	if v != 0x1234 {
		t.Fatalf("DISPCNT round trip failed: got %#04x", v)
	}
}

func TestIFWriteOneToClear(t *testing.T) {
	b := newTestBus()
	b.IRQ.Raise(0)
	b.IRQ.Raise(1)
	b.Write(0x04000202, 1, types.WidthHWord) // clear VBlank only
	v, _ := b.Read(0x04000202, types.WidthHWord)
	if v&1 != 0 {
		t.Fatalf("VBlank IF bit should have cleared")
	}
	if v&2 == 0 {
		t.Fatalf("HBlank IF bit should remain set")
	}
}

func TestOpenBusOutsideMappedRegions(t *testing.T) {
	b := newTestBus()
	b.SetLastOpcode(0xCAFEBABE)
	v, _ := b.Read(0x10000000, types.WidthWord)
	if v != 0xCAFEBABE {
		t.Fatalf("open bus read = %#08x, want last fetched opcode 0xCAFEBABE", v)
	}
}

func TestMemoryRoundTripInvariant(t *testing.T) {
	b := newTestBus()
	addrs := []types.Word{0x02000200, 0x03000200, 0x05000010, 0x06008000}
	for _, addr := range addrs {
		for _, w := range []types.Width{types.WidthByte, types.WidthHWord, types.WidthWord} {
			var v uint32
			switch w {
			case types.WidthByte:
				v = 0x5A
			case types.WidthHWord:
				v = 0x5AA5
			default:
				v = 0x5AA5C3C3
			}
			b.Write(addr, v, w)
			got, _ := b.Read(addr, w)
			if got != v {
				t.Fatalf("round trip mismatch at %#08x width %v: wrote %#x got %#x", addr, w, v, got)
			}
		}
	}
}

func TestOAMByteWriteIgnoredHWordWriteWorks(t *testing.T) {
	b := newTestBus()
	b.Write(0x07000010, 0x1234, types.WidthHWord)
	b.Write(0x07000010, 0xFF, types.WidthByte)
	v, _ := b.Read(0x07000010, types.WidthHWord)
	if v != 0x1234 {
		t.Fatalf("OAM byte write should be ignored entirely, got %#04x", v)
	}
}
