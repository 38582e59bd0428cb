/*
 * pcbox - 8259 Programmable Interrupt Controller pair.
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

// Package pic implements the master/slave 8259 pair: ICW/OCW state
// machine, IRR/ISR/IMR, ELCR edge/level select and the cascade through
// the master's IRQ2 line.
package pic

// Port offsets relative to a PIC's base (command, data).
const (
	CommandPort = 0
	DataPort    = 1
)

// cascadeLine is the master IRQ line the slave cascades through on an
// IBM-compatible board.
const cascadeLine = 2

// state is the ICW/OCW initialization state machine position.
type state int

const (
	stateOperational state = iota
	stateICW2
	stateICW3
	stateICW4
)

// half holds one 8259's register file.
type half struct {
	irr uint8
	isr uint8
	imr uint8

	st state

	vectorBase uint8
	cascaded   bool // ICW1 bit SNGL clear: cascade mode
	needICW4   bool
	autoEOI    bool

	readISR bool // OCW3 read-register select: false=IRR, true=ISR

	elcr uint8 // per-line edge(0)/level(1) select

	priority [8]uint8 // priority[0] is the highest-priority line number
}

func newHalf() *half {
	h := &half{imr: 0xff}
	h.resetPriority()
	return h
}

func (h *half) resetPriority() {
	for i := range h.priority {
		h.priority[i] = uint8(i)
	}
}

// Pair is a master/slave 8259 pair wired the IBM PC-compatible way: the
// slave's INT output feeds the master's IRQ2 input.
type Pair struct {
	master *half
	slave  *half
}

// New creates a master/slave pair, both halves reset to power-on state
// (fully masked, edge-triggered, 8086 mode not yet selected).
func New() *Pair {
	return &Pair{master: newHalf(), slave: newHalf()}
}

func (p *Pair) half(master bool) *half {
	if master {
		return p.master
	}
	return p.slave
}

// Raise asserts line (0-15; 8-15 are slave lines 0-7). Level-triggered
// lines latch IRR for as long as the caller keeps calling Raise; for edge
// lines every Raise sets IRR again, and Ack clears it. Raise does not
// track the line's previous level, so callers call Raise only on the
// rising transition of an edge-mode line.
func (p *Pair) Raise(line int) {
	h, bit := p.lineHalf(line)
	if h == nil {
		return
	}
	h.irr |= 1 << bit
}

// Clear deasserts line. For a level-triggered line this stops it from
// re-arming; for an edge line it is always a no-op.
func (p *Pair) Clear(line int) {
	h, bit := p.lineHalf(line)
	if h == nil {
		return
	}
	if (h.elcr>>bit)&1 != 0 { // level-triggered: deasserting the source retracts IRR
		h.irr &^= 1 << bit
	}
}

func (p *Pair) lineHalf(line int) (*half, uint8) {
	switch {
	case line >= 0 && line < 8:
		return p.master, uint8(line)
	case line >= 8 && line < 16:
		return p.slave, uint8(line - 8)
	default:
		return nil, 0
	}
}

// pending returns the highest-priority unmasked, not-in-service line on
// h, or -1. cascadeActive reports whether the slave half currently has an
// unmasked, not-in-service request of its own — the slave's INT output is
// hardwired into the master's cascade line, so it behaves as a
// continuously-asserted (level) request regardless of the master's own
// ELCR setting for that line, independent of whether the master half's
// IRR bit for the cascade line happens to be set.
func (h *half) pending(cascadeActive bool) int {
	if h.st != stateOperational {
		return -1
	}
	active := h.irr &^ h.imr
	if cascadeActive && h.imr&(1<<cascadeLine) == 0 {
		active |= 1 << cascadeLine
	}
	for _, line := range h.priority {
		bit := uint8(1) << line
		if active&bit != 0 && h.isr&bit == 0 {
			return int(line)
		}
	}
	return -1
}

// Ack runs the CPU interrupt-acknowledge cycle: selects the
// highest-priority unmasked master line; if that line is the cascade
// line, polls the slave instead. Sets ISR (unless AEOI), clears IRR for
// edge lines, and returns the vector (base + line).
func (p *Pair) Ack() (uint8, bool) {
	slaveHasRequest := p.master.cascaded && p.slave.pending(false) >= 0
	line := p.master.pending(slaveHasRequest)
	if line < 0 {
		return 0, false
	}

	if line == cascadeLine && p.master.cascaded && slaveHasRequest {
		sline := p.slave.pending(false)
		p.commit(p.slave, sline)
		if !p.master.autoEOI {
			p.master.isr |= 1 << cascadeLine
		}
		return p.slave.vectorBase + uint8(sline), true
	}

	p.commit(p.master, line)
	return p.master.vectorBase + uint8(line), true
}

func (p *Pair) commit(h *half, line int) {
	bit := uint8(1) << uint(line)
	if !h.autoEOI {
		h.isr |= bit
	}
	if h.elcr&bit == 0 { // edge-triggered: one shot per rising transition
		h.irr &^= bit
	}
}

// Read returns the PIC register selected by the last OCW3 (IRR or ISR)
// for the command port, or IMR for the data port.
func (p *Pair) Read(master bool, port int) uint8 {
	h := p.half(master)
	if port == DataPort {
		return h.imr
	}
	if h.readISR {
		return h.isr
	}
	return h.irr
}

// Write dispatches a command or data port write through the ICW/OCW
// state machine.
func (p *Pair) Write(master bool, port int, val uint8) {
	h := p.half(master)
	if port == CommandPort {
		p.writeCommand(h, val)
		return
	}
	p.writeData(h, val)
}

func (p *Pair) writeCommand(h *half, val uint8) {
	if val&0x10 != 0 { // ICW1: bit 4 set restarts initialization
		h.irr = 0
		h.isr = 0
		h.imr = 0
		h.cascaded = val&0x02 == 0 // SNGL bit clear = cascaded
		h.needICW4 = val&0x01 != 0
		h.autoEOI = false
		h.resetPriority()
		h.st = stateICW2
		return
	}

	switch h.st {
	case stateOperational:
		if val&0x18 == 0x08 {
			p.processOCW3(h, val)
		} else {
			p.processOCW2(h, val)
		}
	default:
		// A command-port write mid-initialization (other than ICW1) is not
		// part of the sequence; ignore it.
	}
}

func (p *Pair) writeData(h *half, val uint8) {
	switch h.st {
	case stateICW2:
		h.vectorBase = val & 0xf8
		if h.cascaded {
			h.st = stateICW3
		} else if h.needICW4 {
			h.st = stateICW4
		} else {
			h.st = stateOperational
		}
	case stateICW3:
		// Cascade wiring (which slave lines are present, or which master
		// line the slave is wired to) is fixed by the board and not tracked
		// per bit here; only the state transition matters.
		if h.needICW4 {
			h.st = stateICW4
		} else {
			h.st = stateOperational
		}
	case stateICW4:
		h.autoEOI = val&0x02 != 0
		h.st = stateOperational
	default: // stateOperational: OCW1, programs IMR
		h.imr = val
	}
}

func (p *Pair) processOCW2(h *half, val uint8) {
	const (
		eoiBit     = 0x20
		specificBit = 0x40
		rotateBit  = 0x80
	)
	if val&eoiBit == 0 {
		return
	}
	if val&specificBit != 0 {
		line := val & 0x07
		h.isr &^= 1 << line
		if val&rotateBit != 0 {
			h.rotate(line)
		}
		return
	}
	// Non-specific EOI: clear the highest-priority set ISR bit.
	for _, line := range h.priority {
		bit := uint8(1) << line
		if h.isr&bit != 0 {
			h.isr &^= bit
			if val&rotateBit != 0 {
				h.rotate(line)
			}
			break
		}
	}
}

// rotate moves line to the lowest priority, so the line after it becomes
// highest priority — the 8259's rotate-on-EOI mode, used when devices
// sharing a PIC must be serviced round-robin.
func (h *half) rotate(line uint8) {
	var next [8]uint8
	idx := 0
	for offset := uint8(1); offset <= 8; offset++ {
		next[idx] = (line + offset) % 8
		idx++
	}
	h.priority = next
}

func (p *Pair) processOCW3(h *half, val uint8) {
	const (
		rrBit  = 0x02
		risBit = 0x01
	)
	if val&rrBit != 0 {
		h.readISR = val&risBit != 0
	}
}

// SetELCR programs the edge(0)/level(1) trigger mode for line (0-15).
func (p *Pair) SetELCR(line int, level bool) {
	h, bit := p.lineHalf(line)
	if h == nil {
		return
	}
	if level {
		h.elcr |= 1 << bit
	} else {
		h.elcr &^= 1 << bit
	}
}

// Pending reports whether any unmasked, not-in-service line is requesting
// service — the signal the orchestrator polls to decide whether to drive
// the CPU's INTR line.
func (p *Pair) Pending() bool {
	slaveHasRequest := p.master.cascaded && p.slave.pending(false) >= 0
	return p.master.pending(slaveHasRequest) >= 0
}
