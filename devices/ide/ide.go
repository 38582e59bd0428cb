/*
 * pcbox - SFF-8038i bus-master IDE controller.
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

// Package ide implements a single-channel SFF-8038i bus-master IDE
// controller: the legacy task-file register set (1f0-1f7/3f6 for the
// primary channel), one LBA28 disk attached as the master drive, and a
// PCI function exposing the bus-master command/status registers and a
// PRD (Physical Region Descriptor) table pointer for scatter/gather DMA.
//
// Grounded on original_source/86Box's hdc_ide_cmd640.c for the task-file
// register layout and command set, and this fabric's own devices/uart
// and devices/chipset for idiom: an iomap.SetHandler-backed register
// block plus a pci.Bus.AddCard function, both following the fabric's
// established device-construction and commandAdapter patterns. The
// teacher's util/card package models 80-column EBCDIC card images, not
// block storage, so it contributes nothing here; util/tape's
// attach/detach/file-handle shape is closer but still sequential-framing
// specific, so the disk-image backend below is a fresh, LBA28-sector
// implementation over os.File rather than an adaptation of either.
package ide

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	command "github.com/rcornwell/pcbox/command/command"
	config "github.com/rcornwell/pcbox/config/configparser"
	"github.com/rcornwell/pcbox/device"
	"github.com/rcornwell/pcbox/iomap"
	"github.com/rcornwell/pcbox/memmap"
	"github.com/rcornwell/pcbox/pci"
	"github.com/rcornwell/pcbox/pic"
	"github.com/rcornwell/pcbox/system"
)

const sectorSize = 512

// Task-file register offsets relative to the primary channel's base
// (conventionally 0x1f0).
const (
	regData     = 0
	regError    = 1 // also Features on write
	regSecCount = 2
	regLBALow   = 3
	regLBAMid   = 4
	regLBAHigh  = 5
	regDrvHead  = 6
	regStatus   = 7 // also Command on write
)

// Status register bits.
const (
	statusERR = 1 << 0
	statusDRQ = 1 << 3
	statusDF  = 1 << 5
	statusDRDY = 1 << 6
	statusBSY = 1 << 7
)

// Commands this controller answers.
const (
	cmdReadSectors  = 0x20
	cmdWriteSectors = 0x30
	cmdIdentify     = 0xec
)

// Bus-master register offsets relative to its own 8-byte window.
const (
	bmCommand = 0
	bmStatus  = 2
	bmPRD     = 4 // 4 bytes, PRD table pointer
)

// Bus-master command/status bits.
const (
	bmCmdStart     = 1 << 0
	bmCmdWrite     = 1 << 3 // 0 = read (device to memory), 1 = write
	bmStatusActive = 1 << 0
	bmStatusErr    = 1 << 1
	bmStatusIRQ    = 1 << 2
)

// Disk is the backing image for the one drive this controller exposes.
type Disk struct {
	file    *os.File
	sectors uint32
}

// IDE is one primary-channel bus-master controller with a single LBA28
// master drive.
type IDE struct {
	mu sync.Mutex

	taskAddr uint32
	altAddr  uint32
	bmAddr   uint32
	irqLine  int

	io    *iomap.Map
	mem   *memmap.Map
	pic   *pic.Pair
	busPCI *pci.Bus
	slot  int

	taskID, altID, bmID iomap.ID

	// task-file register latches
	featureErr uint8
	secCount   uint8
	lbaLow     uint8
	lbaMid     uint8
	lbaHigh    uint8
	drvHead    uint8
	status     uint8

	// PIO transfer state
	buf     [sectorSize]byte
	bufPos  int
	pending int // sectors remaining in the current multi-sector command
	write   bool

	bmCmd    uint8
	bmStatus uint8
	bmPRD    uint32

	disk *Disk
}

// New constructs an IDE controller. Required options: "addr" (task-file
// base, hex; alt status is conventionally addr+0x206, bus-master base is
// a second "bm" option), "irq" (decimal). Optional "file" attaches a raw
// LBA28 disk image immediately.
func New(opts []device.Option, orch device.Orchestrator) (device.Device, error) {
	sys, ok := orch.(*system.System)
	if !ok {
		return nil, errors.New("ide: requires the system orchestrator")
	}

	c := &IDE{io: sys.IO, mem: sys.Mem, pic: sys.PIC, busPCI: sys.PCI, irqLine: -1}
	haveAddr, haveIRQ, haveBM := false, false, false
	var filePath string
	for _, opt := range opts {
		switch opt.Name {
		case "addr":
			addr, err := strconv.ParseUint(opt.Value, 16, 32)
			if err != nil {
				return nil, fmt.Errorf("ide: bad addr %q: %w", opt.Value, err)
			}
			c.taskAddr = uint32(addr)
			c.altAddr = uint32(addr) + 0x206
			haveAddr = true
		case "bm":
			bm, err := strconv.ParseUint(opt.Value, 16, 32)
			if err != nil {
				return nil, fmt.Errorf("ide: bad bm %q: %w", opt.Value, err)
			}
			c.bmAddr = uint32(bm)
			haveBM = true
		case "irq":
			line, err := strconv.Atoi(opt.Value)
			if err != nil {
				return nil, fmt.Errorf("ide: bad irq %q: %w", opt.Value, err)
			}
			c.irqLine = line
			haveIRQ = true
		case "file":
			filePath = opt.Value
		}
	}
	if !haveAddr {
		return nil, errors.New("ide: addr option required")
	}
	if !haveIRQ {
		return nil, errors.New("ide: irq option required")
	}
	if !haveBM {
		return nil, errors.New("ide: bm option required")
	}

	c.status = statusDRDY

	if filePath != "" {
		disk, err := openDisk(filePath)
		if err != nil {
			return nil, fmt.Errorf("ide: %w", err)
		}
		c.disk = disk
	}

	c.taskID = sys.IO.SetHandler(uint16(c.taskAddr), 8, c.taskIn, nil, nil, c.taskOut, nil, nil, nil)
	c.altID = sys.IO.SetHandler(uint16(c.altAddr), 1, c.altIn, nil, nil, c.altOut, nil, nil, nil)
	c.bmID = sys.IO.SetHandler(uint16(c.bmAddr), 8, c.bmIn8, nil, c.bmIn32, c.bmOut8, nil, c.bmOut32, nil)

	c.slot = sys.PCI.AddCard(pci.ClassIDE, c.configRead, c.configWrite, nil)
	if c.slot < 0 {
		sys.IO.RemoveHandler(c.taskID)
		sys.IO.RemoveHandler(c.altID)
		sys.IO.RemoveHandler(c.bmID)
		return nil, errors.New("ide: no free IDE slot")
	}

	command.Register(&commandAdapter{c})
	return c, nil
}

func init() {
	device.Register(&device.Type{
		Name:         "IDE",
		Capabilities: device.CapPCI | device.CapISA,
		ConfigSchema: []device.ConfigParam{
			{Name: "addr", Kind: device.ParamInt},
			{Name: "bm", Kind: device.ParamInt},
			{Name: "irq", Kind: device.ParamInt},
			{Name: "file", Kind: device.ParamFile},
		},
		New: New,
	})
	config.RegisterModel("IDE", func(addr uint32, _ string, opts []config.Option) error {
		config.QueueBoot("IDE", addr, opts)
		return nil
	})
}

func (c *IDE) Close() {
	c.mu.Lock()
	c.io.RemoveHandler(c.taskID)
	c.io.RemoveHandler(c.altID)
	c.io.RemoveHandler(c.bmID)
	if c.disk != nil {
		_ = c.disk.file.Close()
	}
	c.mu.Unlock()
	command.Unregister(&commandAdapter{c})
}

func (c *IDE) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = statusDRDY
	c.featureErr = 0
	c.bufPos = 0
	c.pending = 0
	c.bmCmd = 0
	c.bmStatus = 0
	c.lowerIRQ()
}

func (c *IDE) Available() bool { return c.disk != nil }
func (c *IDE) SpeedChanged()   {}
func (c *IDE) ForceRedraw()    {}

func (c *IDE) raiseIRQ() {
	if c.irqLine >= 0 {
		c.pic.Raise(c.irqLine)
	}
	c.bmStatus |= bmStatusIRQ
}

func (c *IDE) lowerIRQ() {
	if c.irqLine >= 0 {
		c.pic.Clear(c.irqLine)
	}
}

// openDisk opens (or creates) a raw LBA28 disk image and measures its
// sector count from the file's size.
func openDisk(path string) (*Disk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Disk{file: f, sectors: uint32(size / sectorSize)}, nil
}

func (d *Disk) readSector(lba uint32, buf []byte) error {
	if _, err := d.file.ReadAt(buf, int64(lba)*sectorSize); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func (d *Disk) writeSector(lba uint32, buf []byte) error {
	_, err := d.file.WriteAt(buf, int64(lba)*sectorSize)
	return err
}

func (c *IDE) lba() uint32 {
	return uint32(c.drvHead&0x0f)<<24 | uint32(c.lbaHigh)<<16 | uint32(c.lbaMid)<<8 | uint32(c.lbaLow)
}

func (c *IDE) taskIn(port uint16, _ any) uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch uint32(port) - c.taskAddr {
	case regData:
		if c.bufPos < sectorSize {
			v := c.buf[c.bufPos]
			c.bufPos++
			if c.bufPos == sectorSize {
				c.finishPIOBlock()
			}
			return v
		}
		return 0
	case regError:
		return c.featureErr
	case regSecCount:
		return c.secCount
	case regLBALow:
		return c.lbaLow
	case regLBAMid:
		return c.lbaMid
	case regLBAHigh:
		return c.lbaHigh
	case regDrvHead:
		return c.drvHead
	case regStatus:
		c.lowerIRQ()
		return c.status
	default:
		return 0xff
	}
}

func (c *IDE) taskOut(port uint16, val uint8, _ any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch uint32(port) - c.taskAddr {
	case regData:
		if c.bufPos < sectorSize {
			c.buf[c.bufPos] = val
			c.bufPos++
			if c.bufPos == sectorSize {
				c.finishPIOBlock()
			}
		}
	case regError:
		c.featureErr = val
	case regSecCount:
		c.secCount = val
	case regLBALow:
		c.lbaLow = val
	case regLBAMid:
		c.lbaMid = val
	case regLBAHigh:
		c.lbaHigh = val
	case regDrvHead:
		c.drvHead = val
	case regStatus:
		c.execCommand(val)
	}
}

func (c *IDE) altIn(_ uint16, _ any) uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status // alt status does not clear a pending IRQ on read
}

func (c *IDE) altOut(_ uint16, _ uint8, _ any) {
	// device control: soft reset / interrupt-enable bit, unused by this
	// minimal controller's guests so far.
}

// execCommand dispatches a command-register write. Every supported
// command runs to completion synchronously (no seek latency modeled),
// matching how devices/rtc's tick and devices/uart's transmit are
// likewise immediate.
func (c *IDE) execCommand(cmd uint8) {
	if c.disk == nil {
		c.status = statusDRDY | statusERR
		c.featureErr = 0x04 // aborted command, no media
		c.raiseIRQ()
		return
	}

	switch cmd {
	case cmdReadSectors:
		c.pending = int(c.secCount)
		if c.pending == 0 {
			c.pending = 256
		}
		c.write = false
		c.loadSector()
	case cmdWriteSectors:
		c.pending = int(c.secCount)
		if c.pending == 0 {
			c.pending = 256
		}
		c.write = true
		c.bufPos = 0
		c.status = statusDRDY | statusDRQ
	case cmdIdentify:
		c.fillIdentify()
		c.bufPos = 0
		c.status = statusDRDY | statusDRQ
	default:
		c.status = statusDRDY | statusERR
		c.featureErr = 0x04 // aborted, unsupported command
		c.raiseIRQ()
	}
}

func (c *IDE) loadSector() {
	if err := c.disk.readSector(c.lba(), c.buf[:]); err != nil {
		c.status = statusDRDY | statusERR
		c.featureErr = 0x40 // uncorrectable
		c.raiseIRQ()
		return
	}
	c.bufPos = 0
	c.status = statusDRDY | statusDRQ
	c.raiseIRQ()
}

// finishPIOBlock runs once a full sector has been shifted through the
// data register, advancing the LBA and either staging the next sector or
// completing the command.
func (c *IDE) finishPIOBlock() {
	if c.write {
		if err := c.disk.writeSector(c.lba(), c.buf[:]); err != nil {
			c.status = statusDRDY | statusERR
			c.featureErr = 0x40
			c.raiseIRQ()
			return
		}
	}
	c.pending--
	c.advanceLBA()
	if c.pending <= 0 {
		c.status = statusDRDY
		c.raiseIRQ()
		return
	}
	if c.write {
		c.bufPos = 0
		c.status = statusDRDY | statusDRQ
	} else {
		c.loadSector()
	}
}

func (c *IDE) advanceLBA() {
	l := c.lba() + 1
	c.lbaLow = uint8(l)
	c.lbaMid = uint8(l >> 8)
	c.lbaHigh = uint8(l >> 16)
	c.drvHead = (c.drvHead &^ 0x0f) | uint8(l>>24)&0x0f
}

// fillIdentify synthesizes a minimal IDENTIFY DEVICE data block: just
// enough (model string, sector count) for a guest to recognize the
// drive and compute its LBA28 capacity; the dozens of timing/feature
// words a real drive reports are left zero since nothing downstream
// reads them.
func (c *IDE) fillIdentify() {
	for i := range c.buf {
		c.buf[i] = 0
	}
	model := "pcbox virtual disk"
	copy(c.buf[54:94], padASCII(model, 40))
	sectors := uint32(0)
	if c.disk != nil {
		sectors = c.disk.sectors
	}
	binary.LittleEndian.PutUint16(c.buf[120:], uint16(sectors))
	binary.LittleEndian.PutUint16(c.buf[122:], uint16(sectors>>16))
}

// padASCII encodes s as the word-swapped ASCII ATA IDENTIFY strings use
// (each pair of bytes byte-swapped), padded/truncated to n bytes.
func padASCII(s string, n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		if i < len(s) {
			out[i] = s[i]
		} else {
			out[i] = ' '
		}
	}
	for i := 0; i+1 < n; i += 2 {
		out[i], out[i+1] = out[i+1], out[i]
	}
	return out
}

// configRead/configWrite back the PCI IDE function's bare minimum
// configuration space: vendor/device/class code, enough for BIOS/OS
// bus-walk code to recognize this as a mass-storage IDE controller.
func (c *IDE) configRead(reg uint8, _ any) uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch reg {
	case 0x00:
		return 0x86
	case 0x01:
		return 0x80
	case 0x02:
		return 0x00
	case 0x03:
		return 0x70
	case 0x0b:
		return 0x01 // class: mass storage
	case 0x0a:
		return 0x01 // subclass: IDE
	default:
		return 0
	}
}

func (c *IDE) configWrite(_ uint8, _ uint8, _ any) {
	// BAR programming is not modeled: the task-file/bus-master ports are
	// fixed at construction, matching legacy-compatibility IDE mode.
}

// bmIn8/bmOut8/bmIn32/bmOut32 back the bus-master register window.
func (c *IDE) bmIn8(port uint16, _ any) uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch uint32(port) - c.bmAddr {
	case bmCommand:
		return c.bmCmd
	case bmStatus:
		return c.bmStatus
	default:
		return 0
	}
}

func (c *IDE) bmOut8(port uint16, val uint8, _ any) {
	c.mu.Lock()
	start := uint32(port)-c.bmAddr == bmCommand && val&bmCmdStart != 0 && c.bmCmd&bmCmdStart == 0
	switch uint32(port) - c.bmAddr {
	case bmCommand:
		c.bmCmd = val
	case bmStatus:
		c.bmStatus &^= val & (bmStatusErr | bmStatusIRQ) // write-1-to-clear
	}
	c.mu.Unlock()
	if start {
		c.runBusMaster()
	}
}

func (c *IDE) bmIn32(port uint16, _ any) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if uint32(port)-c.bmAddr == bmPRD {
		return c.bmPRD
	}
	return 0
}

func (c *IDE) bmOut32(port uint16, val uint32, _ any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if uint32(port)-c.bmAddr == bmPRD {
		c.bmPRD = val
	}
}

// runBusMaster walks the PRD table at bmPRD, moving bytes between the
// current PIO buffer and guest memory for each descriptor until either
// the table's end-of-table bit or the active PIO transfer runs dry.
// Real bus-master IDE overlaps this with command execution; here the
// task-file command has already run synchronously by the time Start is
// set; this models the DMA handoff as a bulk copy of whatever sectors
// the command already staged, rather than driving the disk read/write
// itself, since the task-file path already performs that I/O.
func (c *IDE) runBusMaster() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disk == nil {
		c.bmStatus |= bmStatusErr
		c.bmCmd &^= bmCmdStart
		return
	}

	addr := c.bmPRD
	c.bufPos = 0
	for descriptors := 0; c.bufPos < sectorSize && descriptors < 64; descriptors++ {
		ptr := c.mem.ReadL(addr)
		rawLen := c.mem.ReadL(addr + 4)
		length := rawLen & 0xfffe
		if length == 0 {
			length = 0x10000
		}
		eot := rawLen&0x80000000 != 0

		for i := uint32(0); i < length && c.bufPos < sectorSize; i++ {
			if c.bmCmd&bmCmdWrite != 0 {
				c.buf[c.bufPos] = c.mem.ReadB(ptr + i)
			} else {
				c.mem.WriteB(ptr+i, c.buf[c.bufPos])
			}
			c.bufPos++
		}
		if eot {
			break
		}
		addr += 8
	}

	c.bmCmd &^= bmCmdStart
	c.bmStatus &^= bmStatusActive
}

// commandAdapter exposes IDE to the monitor, the same separate-type
// pattern every device in this fabric uses for the Reset signature
// clash between device.Device and command.Command.
type commandAdapter struct{ c *IDE }

func (a *commandAdapter) Addr() uint32 { return a.c.taskAddr }

func (a *commandAdapter) Options(_ string) []command.Options {
	return []command.Options{
		{Name: "file", OptionType: command.OptionFile, OptionValid: command.ValidAttach | command.ValidShow},
	}
}

func (a *commandAdapter) Attach(opts []*command.CmdOption) error {
	for _, opt := range opts {
		if opt.Name == "file" {
			if opt.EqualOpt == "" {
				return errors.New("file requires a file name")
			}
			disk, err := openDisk(opt.EqualOpt)
			if err != nil {
				return err
			}
			a.c.mu.Lock()
			if a.c.disk != nil {
				_ = a.c.disk.file.Close()
			}
			a.c.disk = disk
			a.c.mu.Unlock()
		}
	}
	return nil
}

func (a *commandAdapter) Detach() error {
	a.c.mu.Lock()
	defer a.c.mu.Unlock()
	if a.c.disk == nil {
		return errors.New("not attached")
	}
	err := a.c.disk.file.Close()
	a.c.disk = nil
	return err
}

func (a *commandAdapter) Set(unset bool, _ []*command.CmdOption) error {
	if unset {
		return nil
	}
	return errors.New("ide has no settable options")
}

func (a *commandAdapter) Show(_ []*command.CmdOption) (string, error) {
	c := a.c
	c.mu.Lock()
	defer c.mu.Unlock()
	attached := c.disk != nil
	var sectors uint32
	if attached {
		sectors = c.disk.sectors
	}
	return fmt.Sprintf("%x: irq=%d attached=%v sectors=%d", c.taskAddr, c.irqLine, attached, sectors), nil
}

func (a *commandAdapter) Reset() error {
	a.c.Reset()
	return nil
}
