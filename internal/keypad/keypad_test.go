package keypad

import "testing"

func TestSetButtonsActiveLow(t *testing.T) {
	s := New()
	if s.KEYINPUT() != 0x03FF {
		t.Fatalf("default KEYINPUT = %#04x, want 0x03FF (nothing pressed)", s.KEYINPUT())
	}
	s.SetButtons(A | Start)
	want := uint16(0x03FF) &^ uint16(A) &^ uint16(Start)
	if s.KEYINPUT() != want {
		t.Fatalf("KEYINPUT = %#04x, want %#04x", s.KEYINPUT(), want)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := New()
	s.SetButtons(Down | R)
	v := s.SaveState()
	s2 := New()
	s2.LoadState(v)
	if s2.KEYINPUT() != s.KEYINPUT() {
		t.Fatalf("KEYINPUT mismatch after round trip")
	}
}
