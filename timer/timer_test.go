package timer

import (
	"testing"

	"github.com/rcornwell/pcbox/tick"
)

func TestOrderingEqualDeadlines(t *testing.T) {
	w := NewWheel()
	var fired []string

	record := func(name string) Callback {
		return func(ctx any) { fired = append(fired, name) }
	}

	t1 := w.Add(record("T1"), nil)
	w.SetDelay(t1, tick.FromMicroseconds(100))

	t2 := w.Add(record("T2"), nil)
	w.SetDelay(t2, tick.FromMicroseconds(50))

	t3 := w.Add(record("T3"), nil)
	w.SetDelay(t3, tick.FromMicroseconds(100))

	w.Advance(tick.FromMicroseconds(150))

	want := []string{"T2", "T1", "T3"}
	if len(fired) != len(want) {
		t.Fatalf("fired = %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Errorf("fired[%d] = %s, want %s", i, fired[i], want[i])
		}
	}
}

func TestSortedInvariant(t *testing.T) {
	w := NewWheel()
	noop := func(ctx any) {}
	deadlines := []int64{30, 10, 50, 20, 40}
	for _, d := range deadlines {
		h := w.Add(noop, nil)
		w.SetDelay(h, tick.FromMicroseconds(d))
	}

	var last tick.Tick = -1
	for cur := w.head; cur != nil; cur = cur.next {
		if cur.deadline < last {
			t.Fatalf("list not sorted: %d before %d", last, cur.deadline)
		}
		last = cur.deadline
	}
}

func TestDisableEnablePreservesPeriod(t *testing.T) {
	w := NewWheel()
	h := w.Add(func(ctx any) {}, nil)
	w.SetPeriodic(h, tick.FromMicroseconds(10))
	w.SetDelay(h, tick.FromMicroseconds(10))

	w.Disable(h)
	if h.Enabled() {
		t.Fatal("expected timer disabled")
	}
	if h.Period() != tick.FromMicroseconds(10) {
		t.Fatalf("period lost after disable: %v", h.Period())
	}

	w.Enable(h)
	if !h.Enabled() {
		t.Fatal("expected timer enabled after Enable")
	}
}

func TestPeriodicNoDrift(t *testing.T) {
	w := NewWheel()
	count := 0
	var h *Timer
	h = w.Add(func(ctx any) { count++ }, nil)
	w.SetPeriodic(h, tick.FromMicroseconds(100))
	w.SetDelay(h, tick.FromMicroseconds(100))

	for i := 0; i < 5; i++ {
		w.Advance(tick.FromMicroseconds(100))
	}

	if count != 5 {
		t.Fatalf("count = %d, want 5", count)
	}
	if w.ReadTSC() != tick.FromMicroseconds(500) {
		t.Fatalf("tsc = %v, want 500us", w.ReadTSC())
	}
}

func TestCallbackOverridesReinsertion(t *testing.T) {
	w := NewWheel()
	var h *Timer
	calls := 0
	h = w.Add(func(ctx any) {
		calls++
		if calls == 1 {
			// Explicit reschedule overrides automatic periodic reinsertion.
			w.SetDelay(h, tick.FromMicroseconds(5))
		}
	}, nil)
	w.SetPeriodic(h, tick.FromMicroseconds(100))
	w.SetDelay(h, tick.FromMicroseconds(100))

	w.Advance(tick.FromMicroseconds(100))
	if h.Deadline() != tick.FromMicroseconds(105) {
		t.Fatalf("deadline = %v, want 105us", h.Deadline())
	}
}

func TestDisableDuringProcessing(t *testing.T) {
	w := NewWheel()
	var h2 *Timer
	h1 := w.Add(func(ctx any) {
		w.Disable(h2)
	}, nil)
	h2 = w.Add(func(ctx any) {
		t.Fatal("disabled timer must not fire")
	}, nil)

	w.SetDelay(h1, tick.FromMicroseconds(10))
	w.SetDelay(h2, tick.FromMicroseconds(10))

	w.Advance(tick.FromMicroseconds(10))
}

func TestSetDelayEnablesDisabledTimer(t *testing.T) {
	w := NewWheel()
	fired := false
	h := w.Add(func(ctx any) { fired = true }, nil)
	w.SetDelay(h, tick.FromMicroseconds(10))
	w.Disable(h)

	w.SetDelay(h, tick.FromMicroseconds(5))
	if !h.Enabled() {
		t.Fatal("SetDelay must implicitly enable a disabled timer")
	}
	w.Advance(tick.FromMicroseconds(5))
	if !fired {
		t.Fatal("timer did not fire")
	}
}
