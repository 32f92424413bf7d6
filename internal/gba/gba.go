// Package gba assembles the cartridge, bus, CPU, scheduler, and timer
// into the single machine value the rest of the program drives: one
// explicit reference a caller owns and passes around, rather than
// package-level state.
package gba

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/arcreed/gba/internal/bus"
	"github.com/arcreed/gba/internal/cart"
	"github.com/arcreed/gba/internal/cpu"
	"github.com/arcreed/gba/internal/irq"
	"github.com/arcreed/gba/internal/keypad"
	"github.com/arcreed/gba/internal/sched"
	"github.com/arcreed/gba/internal/timer"
)

// cartEntry is where the cartridge header's reset vector always points;
// skipping the BIOS means jumping straight here instead of to 0x0.
const cartEntry = 0x08000000

// ErrInvalidBIOS is returned by Init when a non-empty BIOS image cannot
// plausibly be a GBA BIOS (wrong size or misaligned).
var ErrInvalidBIOS = errors.New("invalid bios image")

// Machine owns every emulated subsystem and is the one value a host
// program needs to keep: no package-level state, no singleton lookups.
type Machine struct {
	bus   *bus.Bus
	cpu   *cpu.CPU
	cart  *cart.Cartridge
	sched *sched.Scheduler
	timer *timer.Controller

	romData  []byte
	biosData []byte
	bootBIOS bool
}

// New returns an uninitialized Machine; call Init before stepping it.
func New() *Machine { return &Machine{} }

// Init loads a ROM image (and optionally a BIOS image) and wires every
// subsystem together. bootBIOS selects whether the CPU starts executing
// the BIOS's own boot sequence at 0x0 or skips straight to the
// cartridge's entry point with post-boot register state already in
// place, mirroring what a real boot would have left behind.
func (m *Machine) Init(romData, biosData []byte, bootBIOS bool) error {
	if len(biosData) > 0 && (len(biosData) > 0x4000 || len(biosData)%4 != 0) {
		return fmt.Errorf("%w: %d bytes", ErrInvalidBIOS, len(biosData))
	}
	m.romData, m.biosData, m.bootBIOS = romData, biosData, bootBIOS
	m.cart = cart.New(romData)
	m.rebuild()
	return nil
}

// rebuild wires a fresh bus, scheduler, timer and CPU around the current
// cartridge, which is preserved (along with its battery-backed save data)
// across a Reset.
func (m *Machine) rebuild() {
	b := bus.New()
	b.SetCartridge(m.cart)
	if len(m.biosData) > 0 {
		b.SetBIOS(m.biosData)
	}
	s := sched.New()
	t := timer.New(s, func(i int) { b.IRQ.Raise(irq.Timer0 + i) })
	b.SetTimer(t)
	c := cpu.New(b)
	if !m.bootBIOS {
		c.SetPC(cartEntry)
	}
	m.bus, m.sched, m.timer, m.cpu = b, s, t, c
}

// Reset re-initializes every subsystem except the cartridge, the way a
// real GBA reset button clears RAM and registers but leaves battery save
// data untouched.
func (m *Machine) Reset() {
	m.rebuild()
}

// Bus exposes the memory bus for host code that needs direct access
// (debug tooling, the ebiten frontend reading the framebuffer).
func (m *Machine) Bus() *bus.Bus { return m.bus }
func (m *Machine) CPU() *cpu.CPU { return m.cpu }
func (m *Machine) Cartridge() *cart.Cartridge { return m.cart }

// Screen returns the most recently completed frame, BGR555-packed.
func (m *Machine) Screen() []uint16 { return m.bus.PPU.Screen() }

// SetButtons updates the keypad state and re-evaluates the keypad IRQ,
// which depends on both KEYCNT and the live KEYINPUT value.
func (m *Machine) SetButtons(b keypad.Buttons) {
	m.bus.Keypad.SetButtons(b)
	m.bus.IRQ.EvaluateKeypad(m.bus.Keypad.KEYINPUT())
}

// Step executes exactly one CPU step (or halted/stopped tick), drives the
// scheduler and the PPU/APU tick contract by the same number of cycles,
// and returns that count.
func (m *Machine) Step() int {
	cycles := m.cpu.Step()
	m.sched.Advance(uint64(cycles))
	m.sched.RunUntil(m.sched.Now())
	m.bus.PPU.Tick(cycles)
	m.bus.APU.Tick(cycles)
	return cycles
}

// RunFrame steps the machine until the PPU reports a completed frame,
// the unit a host's game loop drives once per its own display refresh.
func (m *Machine) RunFrame() {
	for {
		m.Step()
		if m.bus.PPU.FrameCompleted() {
			return
		}
	}
}

// SaveFile returns the cartridge's battery-backed save data, or nil if
// the cartridge has no backup storage.
func (m *Machine) SaveFile() []byte { return m.cart.SaveFile() }

// LoadSaveFile loads a previously captured battery-backed save image.
func (m *Machine) LoadSaveFile(data []byte) { m.cart.LoadSaveFile(data) }

// machineState aggregates every subsystem's own save-state blob. ROM and
// BIOS bytes are never included; LoadState assumes the same cartridge and
// BIOS are already attached to this Machine, and only restores their
// mutable state back onto it.
type machineState struct {
	Bus, CPU, PPU, APU, DMA, Timer, IRQ, Cart []byte
	SchedNow                                  uint64
	Keypad                                    uint16
	BootBIOS                                  bool
}

// SaveState captures every subsystem's mutable state into a single blob.
func (m *Machine) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(machineState{
		Bus:      m.bus.SaveState(),
		CPU:      m.cpu.SaveState(),
		PPU:      m.bus.PPU.SaveState(),
		APU:      m.bus.APU.SaveState(),
		DMA:      m.bus.DMA.SaveState(),
		Timer:    m.timer.SaveState(),
		IRQ:      m.bus.IRQ.SaveState(),
		Cart:     m.cart.SaveState(),
		SchedNow: m.sched.SaveState(),
		Keypad:   m.bus.Keypad.SaveState(),
		BootBIOS: m.bootBIOS,
	})
	return buf.Bytes()
}

// LoadState restores a blob captured by SaveState onto this Machine. The
// Machine must already be Init'd with the same ROM; the cartridge's ROM
// bytes are untouched, only its save-RAM/flash/EEPROM state is replaced.
func (m *Machine) LoadState(data []byte) error {
	var s machineState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return fmt.Errorf("gba: load state: %w", err)
	}
	if err := m.bus.LoadState(s.Bus); err != nil {
		return err
	}
	if err := m.cpu.LoadState(s.CPU); err != nil {
		return err
	}
	if err := m.bus.PPU.LoadState(s.PPU); err != nil {
		return err
	}
	if err := m.bus.APU.LoadState(s.APU); err != nil {
		return err
	}
	if err := m.bus.DMA.LoadState(s.DMA); err != nil {
		return err
	}
	if err := m.timer.LoadState(s.Timer); err != nil {
		return err
	}
	if err := m.bus.IRQ.LoadState(s.IRQ); err != nil {
		return err
	}
	if err := m.cart.LoadState(s.Cart); err != nil {
		return err
	}
	m.sched.LoadState(s.SchedNow)
	m.timer.RescheduleAfterLoad()
	m.bus.Keypad.LoadState(s.Keypad)
	m.bootBIOS = s.BootBIOS
	return nil
}
