/*
 * pcbox - 64K-port I/O map.
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

// Package iomap implements the fabric's flat 64 KiB I/O port space: a
// per-port table of handler triples, the same devTab[256] dispatch idiom
// sys_channel used for subchannel addressing, generalized from a fixed
// 256-entry device table to the full port range with stacked
// last-registered-wins handlers per port.
package iomap

// Handler func types. ctx is the opaque value supplied at registration.
type (
	ReadFunc8   func(port uint16, ctx any) uint8
	ReadFunc16  func(port uint16, ctx any) uint16
	ReadFunc32  func(port uint16, ctx any) uint32
	WriteFunc8  func(port uint16, val uint8, ctx any)
	WriteFunc16 func(port uint16, val uint16, ctx any)
	WriteFunc32 func(port uint16, val uint32, ctx any)
)

// ID identifies a registered handler.
type ID uint64

// handler is one registered entry covering [port, port+length).
type handler struct {
	id     ID
	port   uint16
	length uint16
	r8     ReadFunc8
	r16    ReadFunc16
	r32    ReadFunc32
	w8     WriteFunc8
	w16    WriteFunc16
	w32    WriteFunc32
	ctx    any
}

// Map is the fabric's I/O port space. Each port keeps a stack of handlers
// registered over it; the last-registered handler is used, and removing it
// uncovers whichever was registered before — the same "push a new entry,
// pop it back off" semantics as a device being temporarily intercepted by
// a debugger or shadow register.
type Map struct {
	stacks map[uint16][]*handler
	nextID ID
}

// New creates an empty I/O map.
func New() *Map {
	return &Map{stacks: make(map[uint16][]*handler)}
}

// SetHandler registers a handler over [port, port+length) and returns its
// ID. Later accesses to any port in the range use this handler until it is
// removed.
func (m *Map) SetHandler(port, length uint16, r8 ReadFunc8, r16 ReadFunc16, r32 ReadFunc32,
	w8 WriteFunc8, w16 WriteFunc16, w32 WriteFunc32, ctx any,
) ID {
	m.nextID++
	h := &handler{
		id: m.nextID, port: port, length: length,
		r8: r8, r16: r16, r32: r32,
		w8: w8, w16: w16, w32: w32,
		ctx: ctx,
	}
	end := uint32(port) + uint32(length)
	for p := uint32(port); p < end && p < 0x10000; p++ {
		m.stacks[uint16(p)] = append(m.stacks[uint16(p)], h)
	}
	return h.id
}

// RemoveHandler unregisters id from every port it covers, uncovering
// whatever handler was registered before it on each of those ports.
func (m *Map) RemoveHandler(id ID) {
	for port, stack := range m.stacks {
		for i, h := range stack {
			if h.id == id {
				m.stacks[port] = append(stack[:i], stack[i+1:]...)
				break
			}
		}
		if len(m.stacks[port]) == 0 {
			delete(m.stacks, port)
		}
	}
}

func (m *Map) top(port uint16) *handler {
	stack := m.stacks[port]
	if len(stack) == 0 {
		return nil
	}
	return stack[len(stack)-1]
}

// InB reads one byte. Unmapped ports read as 0xff.
func (m *Map) InB(port uint16) uint8 {
	h := m.top(port)
	if h == nil {
		return 0xff
	}
	if h.r8 != nil {
		return h.r8(port, h.ctx)
	}
	if h.r16 != nil {
		v := h.r16(port&^1, h.ctx)
		if port&1 == 0 {
			return uint8(v)
		}
		return uint8(v >> 8)
	}
	return 0xff
}

// InW reads a 16-bit value. An access to an odd port decomposes into two
// 8-bit accesses.
func (m *Map) InW(port uint16) uint16 {
	if port&1 != 0 {
		lo := m.InB(port)
		hi := m.InB(port + 1)
		return uint16(lo) | uint16(hi)<<8
	}
	h := m.top(port)
	if h == nil {
		return 0xffff
	}
	if h.r16 != nil {
		return h.r16(port, h.ctx)
	}
	lo := m.InB(port)
	hi := m.InB(port + 1)
	return uint16(lo) | uint16(hi)<<8
}

// InL reads a 32-bit value, decomposing into two 16-bit accesses if no
// 32-bit handler is present at this port.
func (m *Map) InL(port uint16) uint32 {
	h := m.top(port)
	if h == nil {
		lo := m.InW(port)
		hi := m.InW(port + 2)
		return uint32(lo) | uint32(hi)<<16
	}
	if h.r32 != nil {
		return h.r32(port, h.ctx)
	}
	lo := m.InW(port)
	hi := m.InW(port + 2)
	return uint32(lo) | uint32(hi)<<16
}

// OutB writes one byte. Writes to unmapped ports are silently dropped.
func (m *Map) OutB(port uint16, val uint8) {
	h := m.top(port)
	if h == nil {
		return
	}
	if h.w8 != nil {
		h.w8(port, val, h.ctx)
		return
	}
	if h.w16 != nil {
		base := port &^ 1
		cur := uint16(0)
		if h.r16 != nil {
			cur = h.r16(base, h.ctx)
		}
		if port&1 == 0 {
			cur = (cur &^ 0x00ff) | uint16(val)
		} else {
			cur = (cur &^ 0xff00) | uint16(val)<<8
		}
		h.w16(base, cur, h.ctx)
	}
}

// OutW writes a 16-bit value, decomposing at odd ports or absent 16-bit
// handlers.
func (m *Map) OutW(port uint16, val uint16) {
	if port&1 != 0 {
		m.OutB(port, uint8(val))
		m.OutB(port+1, uint8(val>>8))
		return
	}
	h := m.top(port)
	if h == nil {
		return
	}
	if h.w16 != nil {
		h.w16(port, val, h.ctx)
		return
	}
	m.OutB(port, uint8(val))
	m.OutB(port+1, uint8(val>>8))
}

// OutL writes a 32-bit value, decomposing into two 16-bit writes if no
// 32-bit handler is present.
func (m *Map) OutL(port uint16, val uint32) {
	h := m.top(port)
	if h == nil || h.w32 == nil {
		m.OutW(port, uint16(val))
		m.OutW(port+2, uint16(val>>16))
		return
	}
	h.w32(port, val, h.ctx)
}
