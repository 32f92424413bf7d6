// Package timer implements the GBA's four cascadable 16-bit timers,
// built around scheduled overflow events rather than a per-cycle loop.
package timer

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/arcreed/gba/internal/sched"
)

// prescaler shift amounts selected by TMxCNT_H bits 0-1: /1, /64, /256, /1024.
var prescalerShift = [4]uint{0, 6, 8, 10}

var evKind = [4]sched.EventKind{sched.EvTimer0, sched.EvTimer1, sched.EvTimer2, sched.EvTimer3}

// AudioLink lets the timer controller drive the APU's direct-sound FIFOs
// when SOUNDCNT_H selects a timer as a channel's clock source.
type AudioLink interface {
	ChannelATimer() int
	ChannelBTimer() int
	PopFIFOA()
	PopFIFOB()
	FIFOADepth() int
	FIFOBDepth() int
}

// DMARequester lets an audio-linked timer overflow request a FIFO-refill
// DMA with the Special start condition.
type DMARequester interface {
	RequestSpecial(channel int)
}

type unit struct {
	reload  uint16
	control uint16

	startCounter uint16
	startTime    uint64
	running      bool
}

func (u *unit) shift() uint      { return prescalerShift[u.control&0x3] }
func (u *unit) countup() bool    { return u.control&(1<<2) != 0 }
func (u *unit) irqEnable() bool  { return u.control&(1<<6) != 0 }
func (u *unit) enabled() bool    { return u.control&(1<<7) != 0 }

// Controller owns the four timers plus their audio-FIFO and DMA wiring.
type Controller struct {
	units [4]unit
	sched *sched.Scheduler

	raiseIRQ func(timerIndex int)
	audio    AudioLink
	dma      DMARequester
}

func New(s *sched.Scheduler, raiseIRQ func(timerIndex int)) *Controller {
	c := &Controller{sched: s, raiseIRQ: raiseIRQ}
	for i := 0; i < 4; i++ {
		i := i
		s.OnEvent(evKind[i], func(at uint64) { c.overflow(i, at) })
	}
	return c
}

func (c *Controller) SetAudioLink(a AudioLink)       { c.audio = a }
func (c *Controller) SetDMARequester(d DMARequester) { c.dma = d }

// Counter returns the live TMxCNT_L value, computed from elapsed cycles
// since the timer was last synced rather than tracked per-cycle.
func (c *Controller) Counter(i int) uint16 {
	u := &c.units[i]
	if !u.running || u.countup() {
		return u.startCounter
	}
	elapsed := c.sched.Now() - u.startTime
	delta := uint32(elapsed >> u.shift())
	return uint16((uint32(u.startCounter) + delta) & 0xFFFF)
}

func (c *Controller) Reload(i int) uint16  { return c.units[i].reload }
func (c *Controller) Control(i int) uint16 { return c.units[i].control }

// WriteReload sets TMxCNT_L; takes effect on the next enable edge or
// overflow reload, not immediately (matches real hardware).
func (c *Controller) WriteReload(i int, v uint16) {
	c.units[i].reload = v
}

// WriteControl handles a TMxCNT_H write, including the enable-edge
// behavior and the reprogramming rule for a timer already running:
// remove the pending event, resync the counter, and reschedule.
func (c *Controller) WriteControl(i int, v uint16) {
	u := &c.units[i]
	wasEnabled := u.enabled()

	if wasEnabled && !u.countup() {
		c.sched.RemoveKind(evKind[i])
	}

	live := c.Counter(i)
	u.control = v & 0x00C7

	switch {
	case !wasEnabled && u.enabled():
		// Enable edge: counter loads from reload immediately.
		u.startCounter = u.reload
		u.startTime = c.sched.Now()
		u.running = true
		if !u.countup() {
			c.scheduleOverflow(i)
		}
	case wasEnabled && u.enabled():
		// Reprogram while running: resync to the live value, then reschedule.
		u.startCounter = live
		u.startTime = c.sched.Now()
		if !u.countup() {
			c.scheduleOverflow(i)
		}
	case wasEnabled && !u.enabled():
		u.startCounter = live
		u.running = false
	}
}

func (c *Controller) scheduleOverflow(i int) {
	u := &c.units[i]
	remaining := uint32(0x10000) - uint32(u.startCounter)
	shift := u.shift()
	at := (u.startTime + uint64(remaining)<<shift) &^ ((uint64(1) << shift) - 1)
	c.sched.Add(at, evKind[i])
}

func (c *Controller) overflow(i int, at uint64) {
	u := &c.units[i]
	u.startCounter = u.reload
	u.startTime = at
	if !u.countup() {
		c.scheduleOverflow(i)
	}

	if u.irqEnable() && c.raiseIRQ != nil {
		c.raiseIRQ(i)
	}

	c.driveAudio(i)
	c.cascade(i)
}

// driveAudio pops a FIFO sample and, if depth drops to the refill
// threshold, requests the linked DMA channel.
func (c *Controller) driveAudio(i int) {
	if c.audio == nil {
		return
	}
	if c.audio.ChannelATimer() == i {
		c.audio.PopFIFOA()
		if c.audio.FIFOADepth() <= 16 && c.dma != nil {
			c.dma.RequestSpecial(1)
		}
	}
	if c.audio.ChannelBTimer() == i {
		c.audio.PopFIFOB()
		if c.audio.FIFOBDepth() <= 16 && c.dma != nil {
			c.dma.RequestSpecial(2)
		}
	}
}

// cascade increments timer i+1 when it is in countup mode and enabled:
// no scheduled event, counting instead on the previous timer's overflow,
// cascading further if it also wraps to 0.
func (c *Controller) cascade(i int) {
	if i+1 >= 4 {
		return
	}
	next := &c.units[i+1]
	if !next.running || !next.countup() {
		return
	}
	next.startCounter++
	if next.startCounter == 0 {
		c.overflow(i+1, c.sched.Now())
	}
}

type state struct {
	Reload, Control, StartCounter [4]uint16
	StartTime                     [4]uint64
	Running                       [4]bool
}

func (c *Controller) SaveState() []byte {
	var s state
	for i := 0; i < 4; i++ {
		u := &c.units[i]
		s.Reload[i], s.Control[i], s.StartCounter[i] = u.reload, u.control, u.startCounter
		s.StartTime[i], s.Running[i] = u.startTime, u.running
	}
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

func (c *Controller) LoadState(data []byte) error {
	var s state
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return fmt.Errorf("timer: load state: %w", err)
	}
	for i := 0; i < 4; i++ {
		u := &c.units[i]
		u.reload, u.control, u.startCounter = s.Reload[i], s.Control[i], s.StartCounter[i]
		u.startTime, u.running = s.StartTime[i], s.Running[i]
	}
	return nil
}

// RescheduleAfterLoad restores each running, non-countup timer's pending
// overflow event. The scheduler itself does not carry saved events (see
// sched.Scheduler.LoadState), so the owner of the event must recreate it.
func (c *Controller) RescheduleAfterLoad() {
	for i := 0; i < 4; i++ {
		c.sched.RemoveKind(evKind[i])
		if u := &c.units[i]; u.running && !u.countup() {
			c.scheduleOverflow(i)
		}
	}
}
