// Package apu models the GBA Audio Processing Unit at the boundary the
// core cares about: the direct-sound FIFO pair the timer/DMA link drains,
// and a resampled stereo float output buffer. Full PSG channel synthesis
// (tone/sweep/wave/noise) is outside the core's scope: SOUNDCNT is stored
// and the FIFOs are functional so timer overflow and DMA1/2 triggering
// behave correctly end to end.
package apu

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

const (
	cpuHz        = 16777216
	fifoCapacity = 32
	outputBufCap = 1 << 13 // stereo-pair ring capacity, power of two
)

// APU owns the two 32-byte direct-sound FIFOs and produces an interleaved
// stereo float32 stream at a host-configured sample rate.
type APU struct {
	soundcntL uint16
	soundcntH uint16
	soundcntX uint16
	soundbias uint16

	fifoA []int8
	fifoB []int8

	latchA, latchB int8

	sampleRate      int
	cyclesPerSample float64
	cycAccum        float64

	out      [outputBufCap * 2]float32
	outHead  int
	outTail  int
	fullFlag bool
}

func New(sampleRate int) *APU {
	a := &APU{sampleRate: sampleRate}
	a.setRate(sampleRate)
	return a
}

func (a *APU) setRate(rate int) {
	a.sampleRate = rate
	a.cyclesPerSample = float64(cpuHz) / float64(rate)
}

// PushFIFOA / PushFIFOB append a 32-bit word (4 signed bytes) written to
// FIFO_A/FIFO_B, matching the GBA's direct-sound write contract.
func (a *APU) PushFIFOA(word uint32) { a.pushFIFO(&a.fifoA, word) }
func (a *APU) PushFIFOB(word uint32) { a.pushFIFO(&a.fifoB, word) }

func (a *APU) pushFIFO(fifo *[]int8, word uint32) {
	for i := 0; i < 4; i++ {
		b := int8(byte(word >> (8 * i)))
		if len(*fifo) < fifoCapacity {
			*fifo = append(*fifo, b)
		}
	}
}

// PopFIFOA / PopFIFOB are called by the timer controller on the overflow
// of whichever timer SOUNDCNT_H selects as that channel's clock source.
func (a *APU) PopFIFOA() { a.latchA = popFIFO(&a.fifoA) }
func (a *APU) PopFIFOB() { a.latchB = popFIFO(&a.fifoB) }

func popFIFO(fifo *[]int8) int8 {
	if len(*fifo) == 0 {
		return 0
	}
	v := (*fifo)[0]
	*fifo = (*fifo)[1:]
	return v
}

// FIFOADepth / FIFOBDepth let the timer controller decide whether to
// request a refill DMA once depth drops to 16 or below.
func (a *APU) FIFOADepth() int { return len(a.fifoA) }
func (a *APU) FIFOBDepth() int { return len(a.fifoB) }

// ClearFIFOA / ClearFIFOB are issued by a SOUNDCNT_H reset-FIFO write.
func (a *APU) ClearFIFOA() { a.fifoA = a.fifoA[:0] }
func (a *APU) ClearFIFOB() { a.fifoB = a.fifoB[:0] }

func (a *APU) WriteSOUNDCNT_L(v uint16) { a.soundcntL = v }
func (a *APU) WriteSOUNDCNT_H(v uint16) {
	prev := a.soundcntH
	a.soundcntH = v
	if v&(1<<3) != 0 && prev&(1<<3) == 0 {
		a.ClearFIFOA()
	}
	if v&(1<<11) != 0 && prev&(1<<11) == 0 {
		a.ClearFIFOB()
	}
}
func (a *APU) WriteSOUNDCNT_X(v uint16) { a.soundcntX = (a.soundcntX & 0x000F) | (v & 0x0080) }
func (a *APU) WriteSOUNDBIAS(v uint16)  { a.soundbias = v }

func (a *APU) SOUNDCNT_L() uint16 { return a.soundcntL }
func (a *APU) SOUNDCNT_H() uint16 { return a.soundcntH }
func (a *APU) SOUNDCNT_X() uint16 { return a.soundcntX }

// ChannelATimer / ChannelBTimer report which timer (0 or 1) drives each
// direct-sound FIFO per SOUNDCNT_H bit 2 / bit 10.
func (a *APU) ChannelATimer() int {
	if a.soundcntH&(1<<2) != 0 {
		return 1
	}
	return 0
}
func (a *APU) ChannelBTimer() int {
	if a.soundcntH&(1<<10) != 0 {
		return 1
	}
	return 0
}

// Tick advances the resampler by cycles CPU cycles, emitting stereo
// samples from the latched direct-sound values at the configured host
// sample rate.
func (a *APU) Tick(cycles int) {
	a.cycAccum += float64(cycles)
	for a.cycAccum >= a.cyclesPerSample {
		a.cycAccum -= a.cyclesPerSample
		a.emit()
	}
}

func (a *APU) emit() {
	var left, right float32
	if a.soundcntH&(1<<8) != 0 {
		left += float32(a.latchA) / 128
	}
	if a.soundcntH&(1<<9) != 0 {
		right += float32(a.latchA) / 128
	}
	if a.soundcntH&(1<<12) != 0 {
		left += float32(a.latchB) / 128
	}
	if a.soundcntH&(1<<13) != 0 {
		right += float32(a.latchB) / 128
	}

	idx := a.outTail % outputBufCap
	a.out[idx*2] = left
	a.out[idx*2+1] = right
	a.outTail++
	if a.outTail-a.outHead >= outputBufCap {
		a.outHead = a.outTail - outputBufCap + 1
	}
	if a.outTail-a.outHead >= outputBufCap/2 {
		a.fullFlag = true
	}
}

// SamplesFull reports whether the ring buffer holds enough samples for
// one host audio callback.
func (a *APU) SamplesFull() bool { return a.fullFlag }

// DrainSamples copies up to len(dst)/2 interleaved stereo pairs out of the
// ring buffer and advances the read cursor.
func (a *APU) DrainSamples(dst []float32) int {
	pairs := len(dst) / 2
	avail := a.outTail - a.outHead
	if pairs > avail {
		pairs = avail
	}
	for i := 0; i < pairs; i++ {
		idx := (a.outHead + i) % outputBufCap
		dst[i*2] = a.out[idx*2]
		dst[i*2+1] = a.out[idx*2+1]
	}
	a.outHead += pairs
	if a.outTail-a.outHead < outputBufCap/2 {
		a.fullFlag = false
	}
	return pairs
}

// apuState is the minimal gob-serializable state needed for a save-state
// round trip to keep playing identically; the
// output presentation ring is host-facing and excluded.
type apuState struct {
	SOUNDCNT_L, SOUNDCNT_H, SOUNDCNT_X, SOUNDBIAS uint16
	FIFOA, FIFOB                                  []int8
	LatchA, LatchB                                int8
	CycAccum                                       float64
}

func (a *APU) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(apuState{
		SOUNDCNT_L: a.soundcntL, SOUNDCNT_H: a.soundcntH, SOUNDCNT_X: a.soundcntX, SOUNDBIAS: a.soundbias,
		FIFOA: append([]int8(nil), a.fifoA...), FIFOB: append([]int8(nil), a.fifoB...),
		LatchA: a.latchA, LatchB: a.latchB, CycAccum: a.cycAccum,
	})
	return buf.Bytes()
}

func (a *APU) LoadState(data []byte) error {
	var s apuState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return fmt.Errorf("apu: load state: %w", err)
	}
	a.soundcntL, a.soundcntH, a.soundcntX, a.soundbias = s.SOUNDCNT_L, s.SOUNDCNT_H, s.SOUNDCNT_X, s.SOUNDBIAS
	a.fifoA, a.fifoB = s.FIFOA, s.FIFOB
	a.latchA, a.latchB = s.LatchA, s.LatchB
	a.cycAccum = s.CycAccum
	return nil
}
