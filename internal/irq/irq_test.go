package irq

import "testing"

func TestPendingRequiresIMEAndMask(t *testing.T) {
	c := New()
	c.Raise(VBlank)
	if c.Pending() {
		t.Fatalf("Pending should be false with IME=0")
	}
	c.SetIME(true)
	if c.Pending() {
		t.Fatalf("Pending should be false with IE=0")
	}
	c.SetIE(1 << VBlank)
	if !c.Pending() {
		t.Fatalf("Pending should be true once IE/IF/IME all set")
	}
}

func TestHaltWakeIgnoresIME(t *testing.T) {
	c := New()
	c.SetIE(1 << Timer0)
	c.Raise(Timer0)
	if !c.HaltWake() {
		t.Fatalf("HaltWake should not require IME")
	}
}

func TestSetIFWriteOneToClear(t *testing.T) {
	c := New()
	c.Raise(VBlank)
	c.Raise(HBlank)
	c.SetIF(1 << VBlank)
	if c.IF()&(1<<VBlank) != 0 {
		t.Fatalf("VBlank bit should have cleared")
	}
	if c.IF()&(1<<HBlank) == 0 {
		t.Fatalf("HBlank bit should remain set")
	}
}

func TestEvaluateKeypadANDLogic(t *testing.T) {
	c := New()
	c.SetKEYCNT((1 << 14) | (1 << 15) | 0x3) // enable, AND, keys 0 and 1
	c.EvaluateKeypad(^uint16(0x3) & 0x3FF)   // both pressed (active low)
	if c.IF()&(1<<Keypad) == 0 {
		t.Fatalf("expected keypad IRQ under AND match")
	}
}

func TestEvaluateKeypadNoMatchWhenDisabled(t *testing.T) {
	c := New()
	c.SetKEYCNT(0x3) // mask set but enable bit clear
	c.EvaluateKeypad(0)
	if c.IF()&(1<<Keypad) != 0 {
		t.Fatalf("keypad IRQ should not fire while KEYCNT enable bit is clear")
	}
}
