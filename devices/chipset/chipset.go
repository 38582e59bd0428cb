/*
 * pcbox - 430-class chipset: shadow RAM, SMRAM, port 92, PCI host bridge.
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

// Package chipset implements a minimal 430-class northbridge: a PCI host
// bridge function occupying the board's fixed northbridge slot, seven
// PAM (Programmable Attribute Map) shadow-RAM segment registers and one
// SMRAM control register exposed both as PCI configuration space and
// through a legacy 0x22/0x23-style index/data port pair, and port 0x92's
// fast-A20/fast-reset latch.
//
// original_source/86Box's chipset files (ali1489.c, intel_420ex.c) show
// the index/data pair and the PCI function's config space both reaching
// the same underlying shadow-RAM/SMRAM state; this resolves spec.md's
// open question by making the PCI function authoritative once PCI config
// access has touched this device — see commitLegacy below.
package chipset

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	command "github.com/rcornwell/pcbox/command/command"
	config "github.com/rcornwell/pcbox/config/configparser"
	"github.com/rcornwell/pcbox/device"
	"github.com/rcornwell/pcbox/iomap"
	"github.com/rcornwell/pcbox/memmap"
	"github.com/rcornwell/pcbox/pci"
	"github.com/rcornwell/pcbox/system"
)

// PCI configuration space offsets this function answers. Values chosen to
// resemble (not replicate byte-for-byte) the 82437FX's PAM/SMRAM layout.
const (
	cfgVendorLo = 0x00
	cfgVendorHi = 0x01
	cfgDeviceLo = 0x02
	cfgDeviceHi = 0x03
	cfgCommand  = 0x04
	cfgStatus   = 0x06
	cfgSMRAM    = 0x72
	cfgPAMBase  = 0x59 // PAM0..PAM6 at 0x59-0x5f
	cfgPAMCount = 7
)

const (
	vendorIntel = 0x8086
	deviceID    = 0x122d // 82437FX-shaped placeholder id
)

// Port 92 bits.
const (
	port92FastReset = 1 << 0
	port92A20       = 1 << 1
)

// shadowBase is the first byte of the BIOS shadow window; each PAM
// register gates one 16 KiB segment of it (0xc0000-0xdbfff, seven
// segments of 0x4000 bytes each, matching cfgPAMCount).
const (
	shadowBase    = 0xc0000
	shadowSegSize = 0x4000
)

// Chipset is the northbridge function plus its legacy port-92 and
// index/data aliases.
type Chipset struct {
	mu sync.Mutex

	legacyAddr uint32
	io         *iomap.Map
	legacyID   iomap.ID
	port92ID   iomap.ID
	mem        *memmap.Map
	busPCI     *pci.Bus
	slot       int

	legacyIndex uint8
	pciTouched  bool // PCI config access has claimed this function, per the open-question resolution
	command     uint16
	status      uint16
	smram       uint8
	pam         [cfgPAMCount]uint8
	port92Latch uint8
}

// New constructs the chipset, occupies the board's northbridge PCI slot,
// and registers the legacy index/data pair and port 92. Required option:
// "addr" (the legacy index port, hex; data is addr+1).
func New(opts []device.Option, orch device.Orchestrator) (device.Device, error) {
	sys, ok := orch.(*system.System)
	if !ok {
		return nil, errors.New("chipset: requires the system orchestrator")
	}

	c := &Chipset{io: sys.IO, mem: sys.Mem, busPCI: sys.PCI}
	haveAddr := false
	for _, opt := range opts {
		if opt.Name == "addr" {
			addr, err := strconv.ParseUint(opt.Value, 16, 32)
			if err != nil {
				return nil, fmt.Errorf("chipset: bad addr %q: %w", opt.Value, err)
			}
			c.legacyAddr = uint32(addr)
			haveAddr = true
		}
	}
	if !haveAddr {
		return nil, errors.New("chipset: addr option required")
	}

	c.status = 0x0000
	c.command = 0x0000

	c.slot = sys.PCI.AddCard(pci.ClassNorthbridge, c.configRead, c.configWrite, nil)
	if c.slot < 0 {
		return nil, errors.New("chipset: no free northbridge slot")
	}

	c.legacyID = sys.IO.SetHandler(uint16(c.legacyAddr), 2, c.legacyIn, nil, nil, c.legacyOut, nil, nil, nil)
	c.port92ID = sys.IO.SetHandler(0x92, 1, c.port92In, nil, nil, c.port92Out, nil, nil, nil)

	command.Register(&commandAdapter{c})
	return c, nil
}

func init() {
	device.Register(&device.Type{
		Name:         "CHIPSET",
		Capabilities: device.CapPCI | device.CapISA,
		ConfigSchema: []device.ConfigParam{
			{Name: "addr", Kind: device.ParamInt},
		},
		New: New,
	})
	config.RegisterModel("CHIPSET", func(addr uint32, _ string, opts []config.Option) error {
		config.QueueBoot("CHIPSET", addr, opts)
		return nil
	})
}

func (c *Chipset) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.io.RemoveHandler(c.legacyID)
	c.io.RemoveHandler(c.port92ID)
	command.Unregister(&commandAdapter{c})
}

func (c *Chipset) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.command = 0
	c.status = 0
	c.smram = 0
	c.pciTouched = false
	c.port92Latch = 0
	for i := range c.pam {
		c.pam[i] = 0
		c.applyPAM(i)
	}
}

func (c *Chipset) Available() bool { return true }
func (c *Chipset) SpeedChanged()   {}
func (c *Chipset) ForceRedraw()    {}

// configRead/configWrite back the PCI function's configuration space.
func (c *Chipset) configRead(reg uint8, _ any) uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case reg == cfgVendorLo:
		return uint8(vendorIntel & 0xff)
	case reg == cfgVendorHi:
		return uint8(vendorIntel >> 8)
	case reg == cfgDeviceLo:
		return uint8(deviceID & 0xff)
	case reg == cfgDeviceHi:
		return uint8(deviceID >> 8)
	case reg == cfgCommand:
		return uint8(c.command)
	case reg == cfgCommand+1:
		return uint8(c.command >> 8)
	case reg == cfgStatus:
		return uint8(c.status)
	case reg == cfgStatus+1:
		return uint8(c.status >> 8)
	case reg == cfgSMRAM:
		return c.smram
	case reg >= cfgPAMBase && reg < cfgPAMBase+cfgPAMCount:
		return c.pam[reg-cfgPAMBase]
	default:
		return 0
	}
}

func (c *Chipset) configWrite(reg uint8, val uint8, _ any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pciTouched = true

	switch {
	case reg == cfgCommand:
		c.command = (c.command & 0xff00) | uint16(val)
	case reg == cfgCommand+1:
		c.command = (c.command & 0x00ff) | uint16(val)<<8
	case reg == cfgSMRAM:
		c.smram = val
	case reg >= cfgPAMBase && reg < cfgPAMBase+cfgPAMCount:
		idx := int(reg - cfgPAMBase)
		c.pam[idx] = val
		c.applyPAM(idx)
	}
}

// applyPAM reprograms the shadow-RAM segment idx covers: bit 0 enables
// guest reads from the segment, bit 1 enables guest writes, the standard
// 430-class PAM encoding. Writable-but-not-readable (write-only shadow
// fill during BIOS copy) is expressible the same way a real PAM register
// allows it.
func (c *Chipset) applyPAM(idx int) {
	val := c.pam[idx]
	readEnabled := val&0x01 != 0
	writeEnabled := val&0x02 != 0

	st := memmap.State{Cacheable: true}
	if readEnabled {
		st.ReadSrc = memmap.SrcExternDRAM
	} else {
		st.ReadSrc = memmap.SrcExtAny
	}
	if writeEnabled {
		st.WriteSrc = memmap.SrcExternDRAM
	} else {
		st.WriteSrc = memmap.SrcExtAny
	}
	c.mem.SetState(shadowBase+uint32(idx)*shadowSegSize, shadowSegSize, st)
}

// legacyIn/legacyOut implement the 0x22/0x23-style index/data alias.
// Index selects a PCI configuration register number; data reads always
// reflect current state, but data writes are dropped once PCI config
// access has claimed this function (pciTouched), per the spec's open-
// question resolution: the PCI function's Write handler is authoritative.
func (c *Chipset) legacyIn(port uint16, _ any) uint8 {
	c.mu.Lock()
	index := c.legacyIndex
	c.mu.Unlock()
	if uint32(port) == c.legacyAddr {
		return index
	}
	return c.configRead(index, nil)
}

func (c *Chipset) legacyOut(port uint16, val uint8, _ any) {
	c.mu.Lock()
	index := c.legacyIndex
	touched := c.pciTouched
	if uint32(port) == c.legacyAddr {
		c.legacyIndex = val
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	if touched {
		return
	}
	c.configWrite(index, val, nil)
	c.mu.Lock()
	c.pciTouched = false // a legacy write doesn't itself count as PCI decode claiming the device
	c.mu.Unlock()
}

func (c *Chipset) port92In(_ uint16, _ any) uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port92Latch
}

func (c *Chipset) port92Out(_ uint16, val uint8, _ any) {
	c.mu.Lock()
	c.port92Latch = val &^ port92FastReset // the reset strobe self-clears, it is not a stored bit
	c.mu.Unlock()
}

type commandAdapter struct{ c *Chipset }

func (a *commandAdapter) Addr() uint32 { return a.c.legacyAddr }

func (a *commandAdapter) Options(_ string) []command.Options { return nil }

func (a *commandAdapter) Attach(_ []*command.CmdOption) error {
	return errors.New("attach not supported")
}

func (a *commandAdapter) Detach() error { return errors.New("detach not supported") }

func (a *commandAdapter) Set(_ bool, _ []*command.CmdOption) error {
	return errors.New("chipset has no settable options")
}

func (a *commandAdapter) Show(_ []*command.CmdOption) (string, error) {
	c := a.c
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("%x: slot=%d smram=%#02x pciTouched=%v a20=%v", c.legacyAddr, c.slot,
		c.smram, c.pciTouched, c.port92Latch&port92A20 != 0), nil
}

func (a *commandAdapter) Reset() error {
	a.c.Reset()
	return nil
}
