package sched

import "testing"

func TestNowNeverDecreasesAcrossAdvanceAndRunUntil(t *testing.T) {
	s := New()
	var fired []uint64
	s.OnEvent(EvTimer0, func(at uint64) { fired = append(fired, at) })

	s.Advance(10)
	s.Add(15, EvTimer0)
	s.Add(40, EvTimer0)

	prev := s.Now()
	for _, t2 := range []uint64{12, 20, 35, 50} {
		s.RunUntil(t2)
		if s.Now() < prev {
			t.Fatalf("Now() went backwards: %d -> %d", prev, s.Now())
		}
		prev = s.Now()
	}

	s.Advance(100)
	if s.Now() < prev {
		t.Fatalf("Advance moved Now() backwards: %d -> %d", prev, s.Now())
	}

	if len(fired) != 2 || fired[0] != 15 || fired[1] != 40 {
		t.Fatalf("handler fired at %v, want [15 40]", fired)
	}
}

func TestOutOfOrderAddsPopInTimeOrder(t *testing.T) {
	s := New()
	var order []EventKind
	record := func(kind EventKind) func(uint64) {
		return func(uint64) { order = append(order, kind) }
	}
	s.OnEvent(EvTimer0, record(EvTimer0))
	s.OnEvent(EvTimer1, record(EvTimer1))
	s.OnEvent(EvTimer2, record(EvTimer2))

	s.Add(30, EvTimer2)
	s.Add(10, EvTimer0)
	s.Add(20, EvTimer1)

	if got := s.NextTime(); got != 10 {
		t.Fatalf("NextTime() = %d, want 10 (earliest pending event)", got)
	}

	s.RunUntil(100)
	want := []EventKind{EvTimer0, EvTimer1, EvTimer2}
	if len(order) != len(want) {
		t.Fatalf("fired %v, want %v", order, want)
	}
	for i, k := range want {
		if order[i] != k {
			t.Fatalf("fired %v, want %v", order, want)
		}
	}
}

func TestRemoveKindDropsOnlyMatchingEvents(t *testing.T) {
	s := New()
	s.Add(10, EvTimer0)
	s.Add(20, EvTimer1)
	s.Add(30, EvTimer0)

	s.RemoveKind(EvTimer0)
	if got := s.NextTime(); got != 20 {
		t.Fatalf("NextTime() after RemoveKind = %d, want 20 (only timer1 event left)", got)
	}

	s.RunUntil(100)
	if got := s.NextTime(); got != ^uint64(0) {
		t.Fatalf("NextTime() with no pending events = %d, want max uint64", got)
	}
}

func TestSaveStateLoadStateDiscardsPendingEvents(t *testing.T) {
	s := New()
	s.Advance(50)
	s.Add(60, EvTimer0)

	snapshot := s.SaveState()
	if snapshot != 50 {
		t.Fatalf("SaveState() = %d, want 50", snapshot)
	}

	s.LoadState(100)
	if s.Now() != 100 {
		t.Fatalf("Now() after LoadState = %d, want 100", s.Now())
	}
	if got := s.NextTime(); got != ^uint64(0) {
		t.Fatalf("NextTime() after LoadState = %d, want max uint64 (events discarded)", got)
	}
}
