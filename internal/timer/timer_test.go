package timer

import (
	"testing"

	"github.com/arcreed/gba/internal/sched"
)

func TestOverflowScheduledAtPrescaleBoundary(t *testing.T) {
	s := sched.New()
	c := New(s, nil)
	c.WriteReload(0, 0xFFF0)
	c.WriteControl(0, 1<<7) // enable, prescale /1

	want := uint64(0x10000 - 0xFFF0)
	if got := s.NextTime(); got != want {
		t.Fatalf("next overflow at %d, want %d", got, want)
	}
}

func TestOverflowBoundarySnapWithUnalignedStart(t *testing.T) {
	s := sched.New()
	c := New(s, nil)
	s.Advance(5) // enable the timer at a cycle count not aligned to the /64 boundary

	c.WriteReload(0, 0xFFF0)
	c.WriteControl(0, (1<<7)|0x1) // enable, prescale /64 (shift 6)

	const shift = 6
	remaining := uint64(0x10000 - 0xFFF0)
	raw := s.Now() + remaining<<shift
	want := raw &^ (uint64(1)<<shift - 1)

	if got := s.NextTime(); got != want {
		t.Fatalf("next overflow at %d, want %d (boundary-snapped from %d)", got, want, raw)
	}
	if want == raw {
		t.Fatalf("test setup did not produce an unaligned raw time; can't exercise the snap")
	}
	if want%(1<<shift) != 0 {
		t.Fatalf("overflow time %d is not aligned to the prescaler boundary", want)
	}
}

func TestCountupCascadeOnOverflow(t *testing.T) {
	s := sched.New()
	c := New(s, nil)

	c.WriteReload(0, 0xFFFF)
	c.WriteControl(0, 1<<7) // timer0: enable, prescale /1

	c.WriteReload(1, 0xFFFE)
	c.WriteControl(1, (1<<7)|(1<<2)) // timer1: enable, countup

	s.RunUntil(s.NextTime()) // first timer0 overflow
	if c.Counter(1) != 0xFFFF {
		t.Fatalf("timer1 counter after first cascade = %#04x, want 0xFFFF", c.Counter(1))
	}

	s.RunUntil(s.NextTime()) // second timer0 overflow cascades timer1 to wraparound
	if c.Counter(1) != 0xFFFE {
		t.Fatalf("timer1 counter after overflow-and-reload = %#04x, want 0xFFFE", c.Counter(1))
	}
}

func TestCountupTimerHasNoScheduledEvent(t *testing.T) {
	s := sched.New()
	c := New(s, nil)
	c.WriteReload(1, 0x1234)
	c.WriteControl(1, (1<<7)|(1<<2))
	if s.NextTime() != ^uint64(0) {
		t.Fatalf("countup timer should never own a scheduler event")
	}
}

func TestReprogramWhileRunningResyncsCounter(t *testing.T) {
	s := sched.New()
	c := New(s, nil)
	c.WriteReload(0, 0x0000)
	c.WriteControl(0, 1<<7) // /1 prescale, full 0x10000 cycles to overflow

	s.Advance(10)
	before := c.Counter(0)
	if before != 10 {
		t.Fatalf("counter after 10 cycles = %d, want 10", before)
	}

	c.WriteControl(0, (1<<7)|0x1) // switch prescale to /64 while still enabled
	if c.Counter(0) != 10 {
		t.Fatalf("counter should resync to 10 across a reprogram, got %d", c.Counter(0))
	}
}

type fakeAudio struct {
	aTimer, bTimer   int
	poppedA, poppedB int
	depthA, depthB   int
}

func (f *fakeAudio) ChannelATimer() int { return f.aTimer }
func (f *fakeAudio) ChannelBTimer() int { return f.bTimer }
func (f *fakeAudio) PopFIFOA()          { f.poppedA++ }
func (f *fakeAudio) PopFIFOB()          { f.poppedB++ }
func (f *fakeAudio) FIFOADepth() int    { return f.depthA }
func (f *fakeAudio) FIFOBDepth() int    { return f.depthB }

type fakeDMA struct{ requested []int }

func (f *fakeDMA) RequestSpecial(ch int) { f.requested = append(f.requested, ch) }

func TestAudioLinkPopsFIFOAndRequestsDMA(t *testing.T) {
	s := sched.New()
	c := New(s, nil)
	audio := &fakeAudio{aTimer: 0, bTimer: 1, depthA: 8}
	dma := &fakeDMA{}
	c.SetAudioLink(audio)
	c.SetDMARequester(dma)

	c.WriteReload(0, 0xFFFF)
	c.WriteControl(0, 1<<7)
	s.RunUntil(s.NextTime())

	if audio.poppedA != 1 {
		t.Fatalf("expected FIFO A to be popped once, got %d", audio.poppedA)
	}
	if len(dma.requested) != 1 || dma.requested[0] != 1 {
		t.Fatalf("expected DMA channel 1 requested once, got %v", dma.requested)
	}
}
