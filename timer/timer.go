/*
 * pcbox - Timer wheel.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package timer implements the fabric's monotonic virtual-time counter and
// its sorted wheel of one-shot and periodic callbacks. The list is kept in
// deadline order the way emu/event kept its relative-delta chain ordered;
// here deadlines are absolute ticks rather than relative deltas, which
// lets Disable/Enable move a timer without walking the whole chain to
// rebase every successor's delta.
package timer

import "github.com/rcornwell/pcbox/tick"

// Callback is invoked when a timer fires. ctx is the opaque value passed
// to Add.
type Callback func(ctx any)

// Handle identifies a timer for the lifetime of its owning device.
type Handle = *Timer

// Timer is one entry in the wheel.
type Timer struct {
	deadline tick.Tick
	period   tick.Tick
	callback Callback
	ctx      any

	enabled  bool
	periodic bool

	wheel *Wheel
	prev  *Timer
	next  *Timer
	seq   uint64 // insertion sequence, breaks deadline ties FIFO
}

// Enabled reports whether the timer is currently linked into the wheel.
func (t *Timer) Enabled() bool { return t.enabled }

// Deadline returns the tick at which the timer is scheduled to fire. The
// value is only meaningful while Enabled() is true.
func (t *Timer) Deadline() tick.Tick { return t.deadline }

// Period returns the timer's reload period; zero for one-shot timers.
func (t *Timer) Period() tick.Tick { return t.period }

// Wheel is the fabric's single timer wheel: a monotonic tick counter plus
// a deadline-sorted doubly-linked list of timers.
type Wheel struct {
	now  tick.Tick
	head *Timer
	tail *Timer
	seq  uint64
}

// NewWheel creates an empty wheel starting at tick 0.
func NewWheel() *Wheel {
	return &Wheel{}
}

// ReadTSC returns the current virtual time.
func (w *Wheel) ReadTSC() tick.Tick {
	return w.now
}

// Add creates a new disabled, one-shot timer. Arena-allocated: cannot
// fail.
func (w *Wheel) Add(cb Callback, ctx any) *Timer {
	return &Timer{callback: cb, ctx: ctx, wheel: w}
}

// SetPeriodic marks the timer as periodic with the given reload period.
// Does not by itself enable or reschedule the timer.
func (w *Wheel) SetPeriodic(h *Timer, period tick.Tick) {
	h.periodic = true
	h.period = period
}

// SetDelay schedules h to fire at now+delta. If h is linked it is
// unlinked first; a disabled timer is implicitly enabled.
func (w *Wheel) SetDelay(h *Timer, delta tick.Tick) {
	if h.enabled {
		w.unlink(h)
	}
	h.deadline = w.now + delta
	w.insert(h)
}

// Enable links a timer back into the wheel at its last-known deadline.
// If the timer has never been scheduled this behaves like SetDelay(h, 0).
func (w *Wheel) Enable(h *Timer) {
	if h.enabled {
		return
	}
	w.insert(h)
}

// Disable unlinks a timer from the wheel without losing its period. Safe
// to call on a timer currently being processed by ProcessNow.
func (w *Wheel) Disable(h *Timer) {
	if !h.enabled {
		return
	}
	w.unlink(h)
}

func (w *Wheel) insert(h *Timer) {
	w.seq++
	h.seq = w.seq
	h.enabled = true

	// Scan from tail backwards: most schedule calls land near "now", and
	// timers already in the list were inserted in roughly increasing
	// deadline order, so appending near the tail is the common case.
	if w.tail == nil || h.deadline >= w.tail.deadline {
		h.prev = w.tail
		h.next = nil
		if w.tail != nil {
			w.tail.next = h
		} else {
			w.head = h
		}
		w.tail = h
		return
	}

	cur := w.head
	for cur != nil && cur.deadline <= h.deadline {
		cur = cur.next
	}
	// cur is the first entry strictly after h's deadline, or nil.
	if cur == nil {
		h.prev = w.tail
		h.next = nil
		w.tail.next = h
		w.tail = h
		return
	}
	h.next = cur
	h.prev = cur.prev
	if cur.prev != nil {
		cur.prev.next = h
	} else {
		w.head = h
	}
	cur.prev = h
}

func (w *Wheel) unlink(h *Timer) {
	if h.prev != nil {
		h.prev.next = h.next
	} else {
		w.head = h.next
	}
	if h.next != nil {
		h.next.prev = h.prev
	} else {
		w.tail = h.prev
	}
	h.prev = nil
	h.next = nil
	h.enabled = false
}

// ProcessNow fires every timer whose deadline is <= the current virtual
// time, in deadline order (ties broken FIFO by insertion). While each
// callback runs the time reads as that timer's deadline; on return it is
// again the time ProcessNow was entered with. A callback may call
// SetDelay on its own handle to override the automatic periodic
// reinsertion, and may schedule further timers; those are inserted
// correctly because insertion keeps the list sorted.
func (w *Wheel) ProcessNow() {
	target := w.now
	for {
		h := w.head
		if h == nil || h.deadline > target {
			w.now = target
			return
		}
		w.unlink(h)
		w.now = h.deadline

		period := h.period
		periodic := h.periodic
		cb := h.callback
		ctx := h.ctx

		cb(ctx)

		// If the callback already rescheduled this handle (directly or
		// via SetDelay), its explicit schedule wins over the automatic
		// periodic reinsertion.
		if !h.enabled && periodic && period > 0 {
			h.deadline += period
			w.insert(h)
		}
		_ = ctx
	}
}

// Advance moves virtual time forward by delta without regard to pending
// deadlines, then fires whatever is now due. Used by callers (the
// orchestrator) that need to account for CPU cycles consumed between
// instruction dispatch points before invoking ProcessNow.
func (w *Wheel) Advance(delta tick.Tick) {
	w.now += delta
	w.ProcessNow()
}

// NextDeadline returns the earliest pending deadline and true, or zero and
// false if no timer is scheduled. Callers use this to know how far they
// may safely advance time before the next callback must run.
func (w *Wheel) NextDeadline() (tick.Tick, bool) {
	if w.head == nil {
		return 0, false
	}
	return w.head.deadline, true
}
