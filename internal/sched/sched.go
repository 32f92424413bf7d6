// Package sched implements the event-driven scheduler that advances the
// machine's master clock and fires timed callbacks registered per event
// kind. Timer overflows are the only events the machine schedules; the PPU
// and APU are ticked directly by gba.Machine.Step.
package sched

import "container/heap"

// EventKind tags a scheduled event. The set is fixed at compile time.
type EventKind int

const (
	EvTimer0 EventKind = iota
	EvTimer1
	EvTimer2
	EvTimer3
	EvPPULineStart
	EvPPUHBlank
	EvPPUVBlank
	EvAPUSample
	EvDMAComplete0
	EvDMAComplete1
	EvDMAComplete2
	EvDMAComplete3
)

// Event is a single timestamped entry in the scheduler's heap.
type Event struct {
	At   uint64
	Kind EventKind
	seq  uint64
	idx  int
}

type eventHeap []*Event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].At != h[j].At {
		return h[i].At < h[j].At
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].idx, h[j].idx = i, j
}
func (h *eventHeap) Push(x any) {
	e := x.(*Event)
	e.idx = len(*h)
	*h = append(*h, e)
}
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.idx = -1
	*h = old[:n-1]
	return e
}

// Scheduler owns the monotonic clock and the pending-event heap.
type Scheduler struct {
	now    uint64
	heap   eventHeap
	seq    uint64
	handlers map[EventKind]func(at uint64)
}

// New creates an empty scheduler with now=0.
func New() *Scheduler {
	return &Scheduler{handlers: make(map[EventKind]func(at uint64))}
}

// Now returns the current master-clock time.
func (s *Scheduler) Now() uint64 { return s.now }

// Advance moves now forward without dispatching; used when the caller
// (e.g. the CPU's cycle accounting) wants to charge cycles before the
// next RunUntil catches events up.
func (s *Scheduler) Advance(cycles uint64) { s.now += cycles }

// OnEvent registers the fixed handler for a given event kind. Handlers
// are established once at startup; dispatch never allocates.
func (s *Scheduler) OnEvent(kind EventKind, fn func(at uint64)) {
	s.handlers[kind] = fn
}

// Add inserts a new event at the given absolute time.
func (s *Scheduler) Add(at uint64, kind EventKind) {
	s.seq++
	heap.Push(&s.heap, &Event{At: at, Kind: kind, seq: s.seq})
}

// RemoveKind deletes every pending event matching kind. Used when a timer
// or DMA channel is reprogrammed and its old event must not fire.
func (s *Scheduler) RemoveKind(kind EventKind) {
	kept := s.heap[:0]
	for _, e := range s.heap {
		if e.Kind == kind {
			continue
		}
		kept = append(kept, e)
	}
	s.heap = kept
	heap.Init(&s.heap)
}

// NextTime returns the time of the earliest pending event, or math.MaxUint64
// if none are pending.
func (s *Scheduler) NextTime() uint64 {
	if len(s.heap) == 0 {
		return ^uint64(0)
	}
	return s.heap[0].At
}

// RunUntil pops and dispatches every event with At <= t, advancing now to
// each event's own time before invoking its handler so handlers observe
// consistent timing. now is left at max(now, t) afterward.
func (s *Scheduler) RunUntil(t uint64) {
	for len(s.heap) > 0 && s.heap[0].At <= t {
		e := heap.Pop(&s.heap).(*Event)
		s.now = e.At
		if fn := s.handlers[e.Kind]; fn != nil {
			fn(e.At)
		}
	}
	if t > s.now {
		s.now = t
	}
}

// SaveState returns the master clock value. Pending events are not part
// of the saved state: they are fully derived from the owning subsystem's
// own state (e.g. a running timer's reload/control/startTime), which
// reschedules its events itself after LoadState runs.
func (s *Scheduler) SaveState() uint64 { return s.now }

// LoadState restores the master clock and discards any pending events;
// callers reschedule through the owning subsystem afterward.
func (s *Scheduler) LoadState(now uint64) {
	s.now = now
	s.heap = s.heap[:0]
}
