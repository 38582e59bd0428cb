/*
 * pcbox - PCI configuration space and slot fabric.
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

// Package pci implements the motherboard's PCI slot table and the
// standard CF8/CFC configuration mechanism: a write to CF8 latches
// {bus, device, function, register}, and byte/word/dword accesses at
// CFC..CFF address that latched function's configuration space. BAR
// size-mask decode and the re-registration a BAR write triggers are the
// owning device's own convention, not this package's concern — pci only
// ever moves bytes between the CF8/CFC ports and whichever function is
// currently latched.
package pci

import "github.com/rcornwell/pcbox/iomap"

// SlotClass is the kind of card a motherboard slot expects, used by
// AddCard to pick a free slot from the machine's priority map.
type SlotClass int

const (
	ClassNorthbridge SlotClass = iota
	ClassSouthbridge
	ClassAGPBridge
	ClassIDE
	ClassNormal
	ClassAGP
	ClassVideo
)

// DISABLED marks an INTx pin with no PIC line routed to it.
const DISABLED = -1

// ReadFunc/WriteFunc are a function's configuration-space register
// accessors. reg is a byte offset 0-255 into the function's 256-byte
// configuration space; BAR decode, capability lists, and anything else
// register-specific live entirely inside these callbacks.
type (
	ReadFunc  func(reg uint8, ctx any) uint8
	WriteFunc func(reg uint8, val uint8, ctx any)
)

// function is one populated device slot.
type function struct {
	class SlotClass
	read  ReadFunc
	write WriteFunc
	ctx   any
	pin   int // 0 = none, 1-4 = INTA#-INTD#, local to this slot
}

// Bus is a single PCI bus's slot table plus the CF8/CFC latch and the
// motherboard's INTx routing table. Only bus 0 and single-function slots
// are modeled; the spec's scope is one fabric's root bus, not a
// bridge-chained multi-bus topology.
type Bus struct {
	slots [32]*function

	cf8 uint32 // the CF8 address register as last written

	// routing maps system interrupt pin (0=A .. 3=D) to a PIC line, or
	// DISABLED. Programmed by the machine's chipset setup code, not by
	// individual cards.
	routing [4]int

	// level counts how many asserting sources currently hold each system
	// pin high; a PCI interrupt pin is wire-ORed across every function
	// routed to it, so the PIC line follows counter > 0, not the last
	// write.
	level [4]int

	// RaiseIRQ/LowerIRQ connect a system pin's counter transition to the
	// board's PIC pair; set by the orchestrator during construction, the
	// same deferred-wiring idiom as memmap.Map.OnFlush.
	RaiseIRQ func(line int)
	LowerIRQ func(line int)

	// SlotPriority gives, for each slot class, the preference order of
	// slot numbers AddCard tries. A board's wiring (chipset north/south
	// bridge functions pinned to fixed slots, add-in cards free to land
	// anywhere) is expressed entirely through this table.
	SlotPriority map[SlotClass][]int
}

// New creates an empty bus with the conventional pcbox slot-priority
// layout: chipset functions pinned low, add-in cards filling upward.
func New() *Bus {
	b := &Bus{}
	for i := range b.routing {
		b.routing[i] = DISABLED
	}
	b.SlotPriority = map[SlotClass][]int{
		ClassNorthbridge: {0},
		ClassAGPBridge:   {1},
		ClassSouthbridge: {7},
		ClassIDE:         {7, 8},
		ClassAGP:         {1},
		ClassVideo:       {2, 3, 4, 5, 6},
		ClassNormal:      {9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20},
	}
	return b
}

// AddCard allocates the first free slot matching class's priority list
// and registers read/write as that slot's configuration-space handler.
// Returns -1 if every candidate slot is already occupied.
func (b *Bus) AddCard(class SlotClass, read ReadFunc, write WriteFunc, ctx any) int {
	for _, slot := range b.SlotPriority[class] {
		if b.slots[slot] == nil {
			b.slots[slot] = &function{class: class, read: read, write: write, ctx: ctx}
			return slot
		}
	}
	return -1
}

// SetInterruptPin declares the INTx pin (1-4 for A-D, 0 for none) slot's
// function is hardwired to. Board wiring fixes this at design time; it is
// not something the function negotiates through its own config space.
func (b *Bus) SetInterruptPin(slot, pin int) {
	if slot < 0 || slot >= len(b.slots) {
		return
	}
	if f := b.slots[slot]; f != nil {
		f.pin = pin
	}
}

// SetIRQRouting programs the motherboard's INTx routing table: system pin
// intPin (1-4, A-D) delivers through irqLine, or DISABLED.
func (b *Bus) SetIRQRouting(intPin int, irqLine int) {
	if intPin < 1 || intPin > 4 {
		return
	}
	b.routing[intPin-1] = irqLine
}

// swizzle maps a slot's own local INTx pin to the system-wide pin it
// appears on, per the standard PCI swizzle: pin = (pin - 1 + device) mod
// 4 + 1. A single-bus fabric applies this once, using the slot number as
// the device number; a bridge-chained topology would apply it again at
// each hop, which this fabric does not model.
func swizzle(pin, slot int) int {
	return (pin-1+slot)%4 + 1
}

// SetIRQLevel sets or clears slot's assertion of its local interrupt pin
// (1-4). The system pin it swizzles to tracks how many asserting slots
// are wire-ORed onto it; the routed PIC line follows counter > 0, so one
// slot lowering its line while another on the same system pin still
// asserts leaves the PIC line held.
func (b *Bus) SetIRQLevel(slot, pin int, level bool) {
	if slot < 0 || slot >= len(b.slots) || pin < 1 || pin > 4 {
		return
	}
	sysPin := swizzle(pin, slot)
	idx := sysPin - 1
	line := b.routing[idx]

	was := b.level[idx] > 0
	if level {
		b.level[idx]++
	} else if b.level[idx] > 0 {
		b.level[idx]--
	}
	now := b.level[idx] > 0

	if line == DISABLED || was == now {
		return
	}
	if now {
		if b.RaiseIRQ != nil {
			b.RaiseIRQ(line)
		}
	} else {
		if b.LowerIRQ != nil {
			b.LowerIRQ(line)
		}
	}
}

// lookup resolves {bus, dev, fn} to the occupied function, or nil.
// Multi-bus and multi-function topologies are out of scope: bus must be 0
// and fn must be 0.
func (b *Bus) lookup(bus, dev, fn uint8) *function {
	if bus != 0 || fn != 0 || int(dev) >= len(b.slots) {
		return nil
	}
	return b.slots[dev]
}

// ReadConfigByte implements the fabric's read_config contract. Accesses
// to an unoccupied slot return 0xff, matching a real bus's unanswered
// config cycle.
func (b *Bus) ReadConfigByte(bus, dev, fn, reg uint8) uint8 {
	f := b.lookup(bus, dev, fn)
	if f == nil || f.read == nil {
		return 0xff
	}
	return f.read(reg, f.ctx)
}

// WriteConfigByte implements the fabric's write_config contract. Writes
// to an unoccupied slot are ignored.
func (b *Bus) WriteConfigByte(bus, dev, fn, reg, val uint8) {
	f := b.lookup(bus, dev, fn)
	if f == nil || f.write == nil {
		return
	}
	f.write(reg, val, f.ctx)
}

// ReadConfigL/WriteConfigL compose four ReadConfigByte/WriteConfigByte
// calls into a little-endian dword access, the same decomposition iomap
// performs when a 32-bit access lands on a port with no 32-bit handler.
// BARs are always programmed a dword at a time in practice; these exist
// so callers (and tests) can express that directly instead of issuing
// four byte calls by hand.
func (b *Bus) ReadConfigL(bus, dev, fn, reg uint8) uint32 {
	var v uint32
	for i := uint8(0); i < 4; i++ {
		v |= uint32(b.ReadConfigByte(bus, dev, fn, reg+i)) << (8 * i)
	}
	return v
}

func (b *Bus) WriteConfigL(bus, dev, fn, reg uint8, val uint32) {
	for i := uint8(0); i < 4; i++ {
		b.WriteConfigByte(bus, dev, fn, reg+i, uint8(val>>(8*i)))
	}
}

// addrFromCF8 decodes the latched CF8 register into {bus, dev, fn, reg},
// with subOffset (0-3, the CFC..CFF port accessed) added to the
// dword-aligned register number.
func (b *Bus) addrFromCF8(subOffset uint8) (bus, dev, fn, reg uint8) {
	bus = uint8((b.cf8 >> 16) & 0xff)
	dev = uint8((b.cf8 >> 11) & 0x1f)
	fn = uint8((b.cf8 >> 8) & 0x07)
	reg = uint8((b.cf8>>2)&0x3f)*4 + subOffset
	return
}

// InCF8/OutCF8 back the CF8 address port (32-bit access only, matching
// real hardware: byte/word accesses to CF8 are not meaningful and are
// left to read as open bus by iomap's decomposition when no narrower
// handler is registered).
func (b *Bus) InCF8(port uint16, ctx any) uint32       { return b.cf8 }
func (b *Bus) OutCF8(port uint16, val uint32, ctx any) { b.cf8 = val }

// InCFC/OutCFC back the CFC..CFF data ports. port selects the byte offset
// within the latched dword via port-0xCFC; iomap composes 16/32-bit
// accesses out of repeated calls to these when no wider handler is
// registered, so only the byte handler is needed here.
func (b *Bus) InCFC(port uint16, ctx any) uint8 {
	sub := uint8(port & 0x03)
	bus, dev, fn, reg := b.addrFromCF8(sub)
	return b.ReadConfigByte(bus, dev, fn, reg)
}

func (b *Bus) OutCFC(port uint16, val uint8, ctx any) {
	sub := uint8(port & 0x03)
	bus, dev, fn, reg := b.addrFromCF8(sub)
	b.WriteConfigByte(bus, dev, fn, reg, val)
}

// RegisterPorts wires CF8 and CFC..CFF into an I/O map.
func (b *Bus) RegisterPorts(m *iomap.Map) {
	m.SetHandler(0x0cf8, 4, nil, nil, b.InCF8, nil, nil, b.OutCF8, nil)
	m.SetHandler(0x0cfc, 4, b.InCFC, nil, nil, b.OutCFC, nil, nil, nil)
}

// BARSizeMask computes the value a BAR reads back as after having
// all-ones written to it, for a region of size bytes. Memory BARs clear
// the low 4 bits (type/prefetchable); I/O BARs clear the low 2. Device
// config handlers use this to implement the fabric's BAR size-mask
// convention; pci itself never touches a device's BAR registers.
func BARSizeMask(size uint32, io bool) uint32 {
	mask := ^(size - 1)
	if io {
		return mask &^ 0x3
	}
	return mask &^ 0xf
}
