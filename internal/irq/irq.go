// Package irq owns the GBA's interrupt controller: IE/IF/IME and the
// KEYCNT keypad-IRQ evaluator. It has no back-reference to the rest of
// the machine; callers raise sources by bit index and poll Pending/HaltWake.
package irq

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Interrupt source bit indices, matching the IE/IF register layout.
const (
	VBlank = iota
	HBlank
	VCount
	Timer0
	Timer1
	Timer2
	Timer3
	Serial
	DMA0
	DMA1
	DMA2
	DMA3
	Keypad
	GamePak
)

// Controller holds IE, IF, IME and the keypad IRQ configuration.
type Controller struct {
	ie  uint16
	ifr uint16
	ime bool

	keycnt uint16 // KEYCNT: bits 0-9 key select, bit 14 enable, bit 15 AND(1)/OR(0)
}

func New() *Controller { return &Controller{} }

// Raise sets the IF bit for the given source. It is the only way other
// subsystems signal an interrupt; IF is otherwise only cleared by a
// write-one-to-clear from the CPU.
func (c *Controller) Raise(bit int) { c.ifr |= 1 << uint(bit) }

func (c *Controller) IE() uint16  { return c.ie }
func (c *Controller) IF() uint16  { return c.ifr }
func (c *Controller) IME() bool   { return c.ime }
func (c *Controller) KEYCNT() uint16 { return c.keycnt }

func (c *Controller) SetIE(v uint16) { c.ie = v }

// SetIF implements write-one-to-clear: bits set in v are cleared from IF,
// unset bits are left untouched.
func (c *Controller) SetIF(v uint16) { c.ifr &^= v }

func (c *Controller) SetIME(v bool) { c.ime = v }

func (c *Controller) SetKEYCNT(v uint16) { c.keycnt = v }

// Pending reports whether the CPU should take an IRQ exception this step.
func (c *Controller) Pending() bool { return c.ime && c.ie&c.ifr != 0 }

// HaltWake reports whether a halted CPU should resume, which happens
// regardless of IME.
func (c *Controller) HaltWake() bool { return c.ie&c.ifr != 0 }

// EvaluateKeypad re-derives the keypad IRQ from KEYCNT and the current
// active-low KEYINPUT value, raising Keypad on a match. Called whenever
// KEYCNT or KEYINPUT changes.
func (c *Controller) EvaluateKeypad(keyinput uint16) {
	if c.keycnt&(1<<14) == 0 {
		return
	}
	mask := c.keycnt & 0x3FF
	pressed := ^keyinput & 0x3FF // active-low input, so invert to get "pressed" bits
	and := c.keycnt&(1<<15) != 0
	var match bool
	if and {
		match = pressed&mask == mask
	} else {
		match = pressed&mask != 0
	}
	if match {
		c.Raise(Keypad)
	}
}

type state struct {
	IE, IF, KEYCNT uint16
	IME            bool
}

func (c *Controller) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(state{IE: c.ie, IF: c.ifr, KEYCNT: c.keycnt, IME: c.ime})
	return buf.Bytes()
}

func (c *Controller) LoadState(data []byte) error {
	var s state
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return fmt.Errorf("irq: load state: %w", err)
	}
	c.ie, c.ifr, c.keycnt, c.ime = s.IE, s.IF, s.KEYCNT, s.IME
	return nil
}
