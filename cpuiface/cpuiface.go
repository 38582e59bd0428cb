/*
 * pcbox - External CPU contract and cycle/tsc bookkeeping.
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

// Package cpuiface defines the handshake between the bus fabric and an
// external CPU collaborator: the memory/IO access surface the CPU uses to
// reach the fabric, the interrupt surface the fabric uses to reach the
// CPU, and the signed cycle-budget/TSC bookkeeping the two share. This
// package carries none of the instruction decode or execution emu/cpu's
// S370 interpreter performs — that is explicitly out of scope (spec
// section 1) and S/370 opcodes have no x86 analogue to adapt toward. What
// is adapted from emu/cpu is the shape of its glue functions
// (PostExtIrq/UpdateTimer/IPL handshake): a handful of small functions a
// CPU package exposes to, and calls into, the surrounding emulator core.
package cpuiface

import "github.com/rcornwell/pcbox/tick"

// CPU is the surface the fabric calls into. A real instruction-decoding
// CPU implements this; system/system_test.go exercises the fabric with a
// minimal fake instead.
type CPU interface {
	// RaiseNMI/LowerNMI assert or deassert the non-maskable interrupt
	// line.
	RaiseNMI()
	LowerNMI()

	// RaiseSMI asserts the system-management interrupt, which the CPU
	// services by entering SMM on its next instruction boundary.
	RaiseSMI()

	// InSMM reports whether the CPU is currently executing in System
	// Management Mode; memmap's SMRAM-only mappings consult this.
	InSMM() bool

	// InvalidateDecodeCache is called whenever a memory-map mutation
	// could have changed what address a previously-decoded instruction
	// stream resolves to.
	InvalidateDecodeCache()
}

// Bus is the surface a CPU calls into. *system.System implements this by
// delegating to its memmap.Map, iomap.Map, and pic.Pair.
type Bus interface {
	ReadB(addr uint32) uint8
	ReadW(addr uint32) uint16
	ReadL(addr uint32) uint32
	WriteB(addr uint32, val uint8)
	WriteW(addr uint32, val uint16)
	WriteL(addr uint32, val uint32)

	InB(port uint16) uint8
	InW(port uint16) uint16
	InL(port uint16) uint32
	OutB(port uint16, val uint8)
	OutW(port uint16, val uint16)
	OutL(port uint16, val uint32)

	// AcknowledgeInterrupt runs the PIC's INTA cycle, returning the
	// vector to fetch from and whether anything was actually pending.
	AcknowledgeInterrupt() (uint8, bool)
}

// Clock is the shared time/cycle-budget bookkeeping spec section 6
// describes: the CPU deducts its cycle cost from Cycles (a signed
// counter, allowed to run negative when an instruction overspends its
// budget before the next check), and the fabric publishes TSC in
// fractional microseconds via the timer wheel.
type Clock struct {
	Cycles int64 // signed remaining cycle budget for the current time slice
	wheel  interface{ ReadTSC() tick.Tick }
}

// NewClock wires Clock's TSC publication to wheel.
func NewClock(wheel interface{ ReadTSC() tick.Tick }) *Clock {
	return &Clock{wheel: wheel}
}

// TSC returns the fabric's current virtual time in fractional
// microseconds.
func (c *Clock) TSC() tick.Tick {
	if c.wheel == nil {
		return 0
	}
	return c.wheel.ReadTSC()
}

// Spend deducts n cycles from the budget and reports whether the budget
// is now exhausted (<= 0), the condition the CPU's run loop checks to
// decide whether to yield back to the timer wheel.
func (c *Clock) Spend(n int64) bool {
	c.Cycles -= n
	return c.Cycles <= 0
}

// Refill sets the cycle budget for a new time slice.
func (c *Clock) Refill(n int64) {
	c.Cycles = n
}

// StubCPU is a minimal CPU implementation with no instruction decoding at
// all: it just latches the interrupt lines a test or a headless "no CPU
// attached yet" machine configuration needs to observe. It satisfies CPU
// so system and device tests can exercise effect dispatch without a real
// instruction-decoding CPU.
type StubCPU struct {
	NMI         bool
	SMI         bool
	InSMMValue  bool
	Invalidated int
}

func (s *StubCPU) RaiseNMI()              { s.NMI = true }
func (s *StubCPU) LowerNMI()              { s.NMI = false }
func (s *StubCPU) RaiseSMI()              { s.SMI = true }
func (s *StubCPU) InSMM() bool            { return s.InSMMValue }
func (s *StubCPU) InvalidateDecodeCache() { s.Invalidated++ }
