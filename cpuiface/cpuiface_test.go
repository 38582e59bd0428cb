package cpuiface

import (
	"testing"

	"github.com/rcornwell/pcbox/tick"
)

type fakeWheel struct{ now tick.Tick }

func (w *fakeWheel) ReadTSC() tick.Tick { return w.now }

func TestClockSpendExhaustsBudget(t *testing.T) {
	c := NewClock(&fakeWheel{now: 42 * tick.TIMER_USEC})
	c.Refill(10)
	if c.Spend(4) {
		t.Fatal("budget reported exhausted after partial spend")
	}
	if !c.Spend(6) {
		t.Fatal("budget not reported exhausted at exactly zero")
	}
	if c.Cycles != 0 {
		t.Fatalf("Cycles = %d, want 0", c.Cycles)
	}
}

func TestClockSpendCanGoNegative(t *testing.T) {
	c := NewClock(&fakeWheel{})
	c.Refill(5)
	if !c.Spend(9) {
		t.Fatal("overspend did not report exhausted")
	}
	if c.Cycles != -4 {
		t.Fatalf("Cycles = %d, want -4 (overspend allowed to go negative)", c.Cycles)
	}
}

func TestClockPublishesWheelTSC(t *testing.T) {
	w := &fakeWheel{now: 123 * tick.TIMER_USEC}
	c := NewClock(w)
	if c.TSC() != w.now {
		t.Fatalf("TSC() = %d, want %d", c.TSC(), w.now)
	}
}

func TestStubCPULatchesLines(t *testing.T) {
	s := &StubCPU{}
	s.RaiseNMI()
	if !s.NMI {
		t.Fatal("RaiseNMI did not set NMI")
	}
	s.LowerNMI()
	if s.NMI {
		t.Fatal("LowerNMI did not clear NMI")
	}
	s.RaiseSMI()
	if !s.SMI {
		t.Fatal("RaiseSMI did not set SMI")
	}
	s.InSMMValue = true
	if !s.InSMM() {
		t.Fatal("InSMM did not reflect InSMMValue")
	}
	s.InvalidateDecodeCache()
	s.InvalidateDecodeCache()
	if s.Invalidated != 2 {
		t.Fatalf("Invalidated = %d, want 2", s.Invalidated)
	}
}
