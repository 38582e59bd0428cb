/*
 * pcbox - Page-granular memory map.
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

// Package memmap implements the fabric's physical memory map: a
// page-granular table of read/write handler triples with priority-ordered
// overlap resolution, the same access-bit-per-page idea as emu/memory's
// "key [8192]uint8" generalized into a full mapping descriptor per page.
package memmap

import "sort"

// PageSize is the map's resolution granularity.
const PageSize = 4096

const pageShift = 12

// MemFlags are per-mapping state bits.
type MemFlags uint16

const (
	FlagExternal MemFlags = 1 << iota // reads/writes not backed by this mapping's own storage
	FlagROM
	FlagSMRAM
	FlagDisabled
	FlagSMMOnly
)

// SrcKind selects where a page's read or write traffic is routed.
type SrcKind uint8

const (
	SrcInternal       SrcKind = iota // mapping's own handler/backing storage
	SrcExtAny                        // falls through to the next-priority mapping (open bus if none)
	SrcExternDRAM                    // aliases conventional DRAM regardless of the mapping's own backing
)

// State holds the per-page overlay bits a chipset programs independently
// of the mapping's own handlers (shadow RAM, SMRAM visibility, cache
// policy).
type State struct {
	ReadSrc      SrcKind
	WriteSrc     SrcKind
	SMRAMOverlay bool
	Cacheable    bool
}

// R8/R16/R32/W8/W16/W32 are the per-mapping access handlers. ctx is the
// opaque value supplied at registration.
type (
	ReadFunc8   func(addr uint32, ctx any) uint8
	ReadFunc16  func(addr uint32, ctx any) uint16
	ReadFunc32  func(addr uint32, ctx any) uint32
	WriteFunc8  func(addr uint32, val uint8, ctx any)
	WriteFunc16 func(addr uint32, val uint16, ctx any)
	WriteFunc32 func(addr uint32, val uint32, ctx any)
)

// ID identifies a registered mapping.
type ID uint32

// Mapping is one registered region of the address space.
type Mapping struct {
	id       ID
	base     uint32
	size     uint32
	r8       ReadFunc8
	r16      ReadFunc16
	r32      ReadFunc32
	w8       WriteFunc8
	w16      WriteFunc16
	w32      WriteFunc32
	execPtr  []byte // non-nil enables the CPU fast path for aligned reads
	flags    MemFlags
	priority uint8
	ctx      any
	enabled  bool
}

// Map is the fabric's physical memory map.
type Map struct {
	mappings map[ID]*Mapping
	// pageCache holds, per page number, the chain of enabled mappings
	// covering that page, highest priority first. A Go map stands in for the spec's flat
	// page array: physical spaces in this fabric are sparse (a few dozen
	// mappings covering at most a few hundred MiB), so caching by page
	// number on demand has the same O(1) steady-state lookup cost as a
	// pre-sized array without forcing a multi-megabyte allocation up
	// front for address spaces most machines never populate.
	pageCache map[uint32][]*Mapping
	state     map[uint32]State // per-page overlay bits, sparse
	nextID    ID

	// InSMM reports whether the CPU is currently in System Management
	// Mode; SMRAM-only mappings are invisible unless this returns true.
	InSMM func() bool

	// OnFlush is invoked whenever a mapping change invalidates the
	// topmost-mapping cache, so the CPU can drop its own decode cache.
	OnFlush func()
}

// New creates an empty memory map.
func New() *Map {
	return &Map{
		mappings:  make(map[ID]*Mapping),
		pageCache: make(map[uint32][]*Mapping),
		state:     make(map[uint32]State),
	}
}

// SetHandlers registers a new mapping and returns its ID. The mapping
// starts enabled.
func (m *Map) SetHandlers(base, size uint32, r8 ReadFunc8, r16 ReadFunc16, r32 ReadFunc32,
	w8 WriteFunc8, w16 WriteFunc16, w32 WriteFunc32, flags MemFlags, priority uint8, ctx any,
) ID {
	m.nextID++
	id := m.nextID
	m.mappings[id] = &Mapping{
		id: id, base: base, size: size,
		r8: r8, r16: r16, r32: r32,
		w8: w8, w16: w16, w32: w32,
		flags: flags, priority: priority, ctx: ctx,
		enabled: true,
	}
	m.Flush()
	return id
}

// SetExec attaches (or clears, with a nil ptr) a direct backing-store
// pointer that lets reads bypass the handler for aligned linear accesses.
func (m *Map) SetExec(id ID, ptr []byte) {
	if mp, ok := m.mappings[id]; ok {
		mp.execPtr = ptr
	}
}

// Enable/Disable toggle a mapping without removing it. A mapping is never
// partially enabled: toggling affects the whole mapping atomically with
// respect to the page cache.
func (m *Map) Enable(id ID) {
	if mp, ok := m.mappings[id]; ok && !mp.enabled {
		mp.enabled = true
		m.Flush()
	}
}

func (m *Map) Disable(id ID) {
	if mp, ok := m.mappings[id]; ok && mp.enabled {
		mp.enabled = false
		m.Flush()
	}
}

// Remove unregisters a mapping entirely. Used when a device is closed.
func (m *Map) Remove(id ID) {
	if _, ok := m.mappings[id]; ok {
		delete(m.mappings, id)
		m.Flush()
	}
}

// SetAddr relocates a mapping's base address, as a PCI BAR write does.
func (m *Map) SetAddr(id ID, newBase uint32) {
	if mp, ok := m.mappings[id]; ok {
		mp.base = newBase
		m.Flush()
	}
}

// SetState programs the per-page overlay bits for [addr, addr+size).
// Existing mappings over the range keep their handlers; only the overlay
// bits observed during resolution change.
func (m *Map) SetState(addr, size uint32, s State) {
	start := addr >> pageShift
	end := (addr + size - 1) >> pageShift
	for p := start; p <= end; p++ {
		m.state[p] = s
	}
	m.Flush()
}

// GetState returns the overlay bits programmed for the page containing
// addr, or the zero State if none were set.
func (m *Map) GetState(addr uint32) State {
	return m.state[addr>>pageShift]
}

// Flush invalidates the topmost-mapping cache and signals the CPU (via
// OnFlush) to drop its own decode cache. Called automatically by every
// mutating operation above; exposed so a device handler that reprograms
// several mappings in one go can defer the signal.
func (m *Map) Flush() {
	// Lazy invalidation: rather than walk every touched page eagerly, we
	// drop the whole cache and let resolve() recompute entries on demand.
	// Address spaces are sparse enough that eager recompute would cost
	// more than the handful of re-resolutions the next few accesses pay.
	for k := range m.pageCache {
		delete(m.pageCache, k)
	}
	if m.OnFlush != nil {
		m.OnFlush()
	}
}

// chain returns every enabled mapping covering addr, highest priority
// first (ties broken by lowest ID, i.e. earliest registration). Index 0 is
// what a plain access resolves to; index 1 is what a page's State routes
// to when it marks the topmost mapping EXTANY for that direction — the
// shadow-RAM idiom of "read from the DRAM aliased underneath ROM, write
// nowhere because ROM is read-only" falls out of picking index 1 instead
// of index 0.
func (m *Map) chain(addr uint32) []*Mapping {
	page := addr >> pageShift
	if c, ok := m.pageCache[page]; ok {
		return c
	}

	var found []*Mapping
	for _, mp := range m.mappings {
		if !mp.enabled {
			continue
		}
		if mp.flags&FlagDisabled != 0 {
			continue
		}
		if mp.flags&FlagSMMOnly != 0 && (m.InSMM == nil || !m.InSMM()) {
			continue
		}
		if addr < mp.base || addr >= mp.base+mp.size {
			continue
		}
		found = append(found, mp)
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].priority != found[j].priority {
			return found[i].priority > found[j].priority
		}
		return found[i].id < found[j].id
	})
	m.pageCache[page] = found
	return found
}

// resolve returns the mapping a plain access (no state override) resolves
// to, or nil for open bus.
func (m *Map) resolve(addr uint32) *Mapping {
	c := m.chain(addr)
	if len(c) == 0 {
		return nil
	}
	return c[0]
}

// resolveForState picks the mapping a read or write should use once the
// page's overlay State is taken into account. SrcInternal (the zero
// value, in effect when SetState was never called for the page) always
// means "use the topmost mapping normally". SrcExtAny and
// SrcExternDRAM both mean "bypass the topmost mapping and fall
// through to whatever the next-priority mapping covering this address
// is" — in the common chipset arrangement that next mapping is exactly
// the DRAM the ROM shadows.
func (m *Map) resolveForState(addr uint32, write bool) *Mapping {
	c := m.chain(addr)
	if len(c) == 0 {
		return nil
	}
	st := m.GetState(addr)
	src := st.ReadSrc
	if write {
		src = st.WriteSrc
	}
	if src == SrcInternal {
		return c[0]
	}
	if len(c) > 1 {
		return c[1]
	}
	return nil
}

func openBus8() uint8   { return 0xff }
func openBus16() uint16 { return 0xffff }
func openBus32() uint32 { return 0xffffffff }

// ReadB/ReadW/ReadL resolve addr and read through the exec pointer,
// matching-width handler, or composed narrower handlers, in that order of
// preference. Unmapped addresses read as open bus (all-ones).
func (m *Map) ReadB(addr uint32) uint8 {
	mp := m.resolveForState(addr, false)
	if mp == nil {
		return openBus8()
	}
	if mp.execPtr != nil {
		off := addr - mp.base
		if int(off) < len(mp.execPtr) {
			return mp.execPtr[off]
		}
	}
	if mp.r8 != nil {
		return mp.r8(addr, mp.ctx)
	}
	if mp.r16 != nil {
		// Compose from a 16-bit handler: read the aligned word and pick
		// the requested byte.
		base := addr &^ 1
		v := mp.r16(base, mp.ctx)
		if addr&1 == 0 {
			return uint8(v)
		}
		return uint8(v >> 8)
	}
	return openBus8()
}

func (m *Map) ReadW(addr uint32) uint16 {
	if addr&1 != 0 {
		return m.readUnaligned16(addr)
	}
	mp := m.resolveForState(addr, false)
	if mp == nil {
		return openBus16()
	}
	if mp.execPtr != nil {
		off := addr - mp.base
		if int(off)+1 < len(mp.execPtr) {
			return uint16(mp.execPtr[off]) | uint16(mp.execPtr[off+1])<<8
		}
	}
	if mp.r16 != nil {
		return mp.r16(addr, mp.ctx)
	}
	lo := m.ReadB(addr)
	hi := m.ReadB(addr + 1)
	return uint16(lo) | uint16(hi)<<8
}

func (m *Map) readUnaligned16(addr uint32) uint16 {
	lo := m.ReadB(addr)
	hi := m.ReadB(addr + 1)
	return uint16(lo) | uint16(hi)<<8
}

func (m *Map) ReadL(addr uint32) uint32 {
	// A 32-bit access spanning a page boundary is split across the two
	// covering mappings rather than resolved once.
	if addr&(PageSize-1) > PageSize-4 {
		var v uint32
		for i := uint32(0); i < 4; i++ {
			v |= uint32(m.ReadB(addr+i)) << (8 * i)
		}
		return v
	}
	mp := m.resolveForState(addr, false)
	if mp == nil {
		return openBus32()
	}
	if mp.execPtr != nil && addr&3 == 0 {
		off := addr - mp.base
		if int(off)+3 < len(mp.execPtr) {
			return uint32(mp.execPtr[off]) | uint32(mp.execPtr[off+1])<<8 |
				uint32(mp.execPtr[off+2])<<16 | uint32(mp.execPtr[off+3])<<24
		}
	}
	if mp.r32 != nil {
		return mp.r32(addr, mp.ctx)
	}
	if mp.r16 != nil {
		lo := m.ReadW(addr)
		hi := m.ReadW(addr + 2)
		return uint32(lo) | uint32(hi)<<16
	}
	var v uint32
	for i := uint32(0); i < 4; i++ {
		v |= uint32(m.ReadB(addr+i)) << (8 * i)
	}
	return v
}

// WriteB/WriteW/WriteL mirror the read path. Writes to unmapped addresses
// are silently dropped.
func (m *Map) WriteB(addr uint32, val uint8) {
	mp := m.resolveForState(addr, true)
	if mp == nil {
		return
	}
	if mp.execPtr != nil && mp.flags&FlagROM == 0 {
		off := addr - mp.base
		if int(off) < len(mp.execPtr) {
			mp.execPtr[off] = val
			return
		}
	}
	if mp.w8 != nil {
		mp.w8(addr, val, mp.ctx)
		return
	}
	if mp.w16 != nil {
		base := addr &^ 1
		cur := mp.r16(base, mp.ctx)
		if addr&1 == 0 {
			cur = (cur &^ 0x00ff) | uint16(val)
		} else {
			cur = (cur &^ 0xff00) | uint16(val)<<8
		}
		mp.w16(base, cur, mp.ctx)
	}
}

func (m *Map) WriteW(addr uint32, val uint16) {
	if addr&1 != 0 {
		m.WriteB(addr, uint8(val))
		m.WriteB(addr+1, uint8(val>>8))
		return
	}
	mp := m.resolveForState(addr, true)
	if mp == nil {
		return
	}
	if mp.execPtr != nil && mp.flags&FlagROM == 0 {
		off := addr - mp.base
		if int(off)+1 < len(mp.execPtr) {
			mp.execPtr[off] = uint8(val)
			mp.execPtr[off+1] = uint8(val >> 8)
			return
		}
	}
	if mp.w16 != nil {
		mp.w16(addr, val, mp.ctx)
		return
	}
	m.WriteB(addr, uint8(val))
	m.WriteB(addr+1, uint8(val>>8))
}

func (m *Map) WriteL(addr uint32, val uint32) {
	if addr&(PageSize-1) > PageSize-4 {
		for i := uint32(0); i < 4; i++ {
			m.WriteB(addr+i, uint8(val>>(8*i)))
		}
		return
	}
	mp := m.resolveForState(addr, true)
	if mp == nil {
		return
	}
	if mp.execPtr != nil && addr&3 == 0 && mp.flags&FlagROM == 0 {
		off := addr - mp.base
		if int(off)+3 < len(mp.execPtr) {
			mp.execPtr[off] = uint8(val)
			mp.execPtr[off+1] = uint8(val >> 8)
			mp.execPtr[off+2] = uint8(val >> 16)
			mp.execPtr[off+3] = uint8(val >> 24)
			return
		}
	}
	if mp.w32 != nil {
		mp.w32(addr, val, mp.ctx)
		return
	}
	if mp.w16 != nil {
		m.WriteW(addr, uint16(val))
		m.WriteW(addr+2, uint16(val>>16))
		return
	}
	for i := uint32(0); i < 4; i++ {
		m.WriteB(addr+i, uint8(val>>(8*i)))
	}
}
