/*
 * pcbox - 8237 DMA controller pair.
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

// Package dma implements the two cascaded 8237 DMA controllers (8
// legacy channels total), their page registers, and the legacy
// register file addressed at the standard ISA ports. PCI bus-master
// engines bypass this package entirely and drive the memory map
// directly; this package models only the 8237-legacy transfer path.
package dma

// Mode bits, as programmed by a write to a controller's mode register.
type Mode uint8

const (
	ModeChannelMask    Mode = 0x03
	ModeTransferMask   Mode = 0x0c
	ModeTransferVerify Mode = 0x00
	ModeTransferWrite  Mode = 0x04 // device -> memory: the DMA controller writes memory
	ModeTransferRead   Mode = 0x08 // memory -> device: the DMA controller reads memory
	ModeAutoinit       Mode = 0x10
	ModeAddrDecrement  Mode = 0x20
	ModeSingle         Mode = 0x40
	ModeBlock          Mode = 0x80
)

// Channel holds one 8237 channel's register file.
type Channel struct {
	mode Mode

	baseAddr  uint16
	baseCount uint16

	currentAddr  uint16
	currentCount uint16

	page uint8 // upper address bits from the page register

	mask    bool
	request bool // software (or bus-master) DMA request pending

	addrByteHigh  bool // toggles on each byte-pair access to base/current addr
	countByteHigh bool

	tc bool // terminal count latched since last status read
}

// reload resets current address/count from base, used at programming
// time and again on autoinit wraparound.
func (c *Channel) reload() {
	c.currentAddr = c.baseAddr
	c.currentCount = c.baseCount
}

// Controller is one 8237, four channels.
type Controller struct {
	Channels [4]Channel

	addrHigh bool // flip-flop shared by all address/count port accesses

	// PhysAddr, when set, resolves (page, addr) into the physical address
	// a transfer touches; the default New installs is page<<16 | addr,
	// with no shift of addr; callers replace it when a board decodes the
	// page register differently.
	PhysAddr func(page uint8, addr uint16) uint32
}

// New creates a controller with all four channels masked, matching
// 8237 power-on state.
func New() *Controller {
	c := &Controller{}
	for i := range c.Channels {
		c.Channels[i].mask = true
	}
	c.PhysAddr = func(page uint8, addr uint16) uint32 {
		return uint32(page)<<16 | uint32(addr)
	}
	return c
}

// Pair is the two cascaded controllers found on an AT-class board:
// Controller 0 handles 8-bit channels 0-3, Controller 1 handles 16-bit
// channels 4-7 (channel 4 is the cascade link back to Controller 0 and
// is not separately addressable by a device).
type Pair struct {
	Primary   *Controller
	Secondary *Controller
}

// New8237Pair builds the standard two-controller cascade.
func New8237Pair() *Pair {
	return &Pair{Primary: New(), Secondary: New()}
}

// channel resolves a legacy 0-7 channel number to its controller and
// local channel index.
func (p *Pair) channel(ch int) (*Controller, *Channel) {
	if ch < 4 {
		return p.Primary, &p.Primary.Channels[ch]
	}
	return p.Secondary, &p.Secondary.Channels[ch-4]
}

// SetMode programs a channel's mode register (the 8237's command for
// which channel the following mode byte applies to is folded into the
// channel argument here rather than decoded from the mode byte's low
// two bits, since callers already know which channel's I/O port they
// wrote).
func (p *Pair) SetMode(ch int, mode Mode) {
	_, c := p.channel(ch)
	c.mode = mode
}

// SetBaseAddress programs a channel's base (and, implicitly, current)
// address register. 8237 ports are written as two successive bytes
// (low then high); SetBaseAddress takes the assembled 16-bit value
// directly since port-level byte toggling is iomap's concern.
func (p *Pair) SetBaseAddress(ch int, addr uint16) {
	_, c := p.channel(ch)
	c.baseAddr = addr
	c.reload()
}

// SetBaseCount programs a channel's base (and current) word count. The
// 8237 counts down from count to 0xffff, i.e. a programmed count of N
// transfers N+1 bytes; callers pass the raw register value.
func (p *Pair) SetBaseCount(ch int, count uint16) {
	_, c := p.channel(ch)
	c.baseCount = count
	c.reload()
}

// SetPage programs the page register providing the upper address bits
// for ch.
func (p *Pair) SetPage(ch int, page uint8) {
	_, c := p.channel(ch)
	c.page = page
}

// SetMask masks or unmasks a single channel.
func (p *Pair) SetMask(ch int, masked bool) {
	_, c := p.channel(ch)
	c.mask = masked
}

// SetDRQ raises or lowers a channel's DMA request line. A device (or a
// PCI bus-master's legacy-compatibility shim) calls this to ask the
// controller to service it. The flag shows in ReadStatus and is cleared
// at terminal count; ChannelReadByte/ChannelWriteByte check neither it
// nor the channel mask.
func (p *Pair) SetDRQ(ch int, asserted bool) {
	_, c := p.channel(ch)
	c.request = asserted
}

// ChannelReadByte fetches the byte at the channel's current page:address
// for a memory-to-device (ModeTransferRead) transfer, advances the
// address and count, and reports whether this transfer hit terminal
// count.
func (p *Pair) ChannelReadByte(ch int, mem interface{ ReadB(addr uint32) uint8 }) (uint8, bool) {
	ctl, c := p.channel(ch)
	addr := ctl.PhysAddr(c.page, c.currentAddr)
	val := mem.ReadB(addr)
	tc := c.advance()
	return val, tc
}

// ChannelWriteByte stores a byte at the channel's current page:address
// for a device-to-memory (ModeTransferWrite) transfer, advances the
// address and count, and reports terminal count.
func (p *Pair) ChannelWriteByte(ch int, mem interface {
	WriteB(addr uint32, val uint8)
}, val uint8) bool {
	ctl, c := p.channel(ch)
	addr := ctl.PhysAddr(c.page, c.currentAddr)
	mem.WriteB(addr, val)
	return c.advance()
}

// advance moves the current address by one transfer unit and decrements
// the current count. The count is a free-running 16-bit down-counter: a
// decrement from 0 wraps to 0xffff and that wrap is terminal count,
// regardless of whether autoinit is set. Autoinit additionally reloads
// address and count from the base registers at that same instant so the
// channel is immediately ready to run again.
func (c *Channel) advance() bool {
	if c.mode&ModeAddrDecrement != 0 {
		c.currentAddr--
	} else {
		c.currentAddr++
	}

	wasZero := c.currentCount == 0
	c.currentCount--
	if wasZero {
		c.tc = true
		c.request = false
		if c.mode&ModeAutoinit != 0 {
			c.reload()
		}
		return true
	}
	return false
}

// TC reports a channel's latched terminal-count flag without clearing
// it; ReadStatus is what clears the TC bits, matching the real 8237's
// status register semantics.
func (p *Pair) TC(ch int) bool {
	_, c := p.channel(ch)
	return c.tc
}

// ReadStatus returns the controller's status byte (TC bits 0-3, request
// bits 4-7) and clears the latched TC bits, as a real read of port 0x08/
// 0xd0 does.
func (ctl *Controller) ReadStatus() uint8 {
	var status uint8
	for i := range ctl.Channels {
		c := &ctl.Channels[i]
		if c.tc {
			status |= 1 << i
			c.tc = false
		}
		if c.request {
			status |= 1 << (i + 4)
		}
	}
	return status
}

// MasterClear resets a controller to its power-on state: all channels
// masked, mode/address/count registers cleared, flip-flops reset. This
// is the 8237's response to a write at the master-clear port (0x0d/
// 0xda) or to the fabric's hard-reset sequencing.
func (ctl *Controller) MasterClear() {
	for i := range ctl.Channels {
		ctl.Channels[i] = Channel{mask: true}
	}
	ctl.addrHigh = false
}
