/*
 * pcbox - MC146818-class CMOS/RTC.
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

// Package rtc implements an MC146818-class CMOS/RTC: a two-port
// index/data window onto a 128-byte register file, the first fourteen
// bytes of which are the BCD time-of-day/alarm registers and the four
// status registers (A-D); everything from offset 0x0e on is general
// purpose NVRAM. nvr.Image is the backing store, the file-handle-
// plus-dirty-flag persistence the nvr package provides; rtc only
// interprets the first fourteen bytes and
// drives the periodic update-ended interrupt.
package rtc

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	command "github.com/rcornwell/pcbox/command/command"
	config "github.com/rcornwell/pcbox/config/configparser"
	"github.com/rcornwell/pcbox/device"
	"github.com/rcornwell/pcbox/iomap"
	"github.com/rcornwell/pcbox/nvr"
	"github.com/rcornwell/pcbox/pic"
	"github.com/rcornwell/pcbox/system"
	"github.com/rcornwell/pcbox/tick"
	"github.com/rcornwell/pcbox/timer"
)

// Register offsets within the 128-byte image.
const (
	regSeconds = 0x00
	regMinutes = 0x02
	regHours   = 0x04
	regWeekday = 0x06
	regDay     = 0x07
	regMonth   = 0x08
	regYear    = 0x09
	regA       = 0x0a
	regB       = 0x0b
	regC       = 0x0c
	regD       = 0x0d

	imageSize = 128
)

// Register B bits.
const (
	regBDSE = 1 << iota
	regB24Hour
	regBBinary
	regBSQWE
	regBUIE
	regBAIE
	regBPIE
	regBSET
)

// Register C bits (read clears).
const (
	regCUF   = 1 << 4
	regCAF   = 1 << 5
	regCPF   = 1 << 6
	regCIRQF = 1 << 7
)

// Register D: VRT (valid RAM and time) is hardwired set — this model has
// no battery to go flat.
const regDVRT = 1 << 7

const indexMask = 0x7f

// RTC is one MC146818-class device: two I/O ports (index, data) over a
// 128-byte nvr.Image, ticked once a (simulated) second.
type RTC struct {
	mu sync.Mutex

	addr    uint32
	irqLine int
	pic     *pic.Pair
	io      *iomap.Map
	ioID    iomap.ID
	wheel   *timer.Wheel
	update  *timer.Timer

	image *nvr.Image
	index uint8
}

// New constructs an RTC. Required options: "addr" (I/O base, hex),
// "irq" (PIC line, decimal). Optional "file" attaches a persisted CMOS
// image immediately, equivalent to an `attach` monitor command issued
// right after construction.
func New(opts []device.Option, orch device.Orchestrator) (device.Device, error) {
	sys, ok := orch.(*system.System)
	if !ok {
		return nil, errors.New("rtc: requires the system orchestrator")
	}

	r := &RTC{pic: sys.PIC, io: sys.IO, wheel: sys.Timers, irqLine: -1, image: nvr.New(imageSize)}
	haveAddr, haveIRQ := false, false
	var filePath string
	for _, opt := range opts {
		switch opt.Name {
		case "addr":
			addr, err := strconv.ParseUint(opt.Value, 16, 32)
			if err != nil {
				return nil, fmt.Errorf("rtc: bad addr %q: %w", opt.Value, err)
			}
			r.addr = uint32(addr)
			haveAddr = true
		case "irq":
			line, err := strconv.Atoi(opt.Value)
			if err != nil {
				return nil, fmt.Errorf("rtc: bad irq %q: %w", opt.Value, err)
			}
			r.irqLine = line
			haveIRQ = true
		case "file":
			filePath = opt.Value
		}
	}
	if !haveAddr {
		return nil, errors.New("rtc: addr option required")
	}
	if !haveIRQ {
		return nil, errors.New("rtc: irq option required")
	}

	r.image.WriteByte(regB, regB24Hour)
	r.image.WriteByte(regD, regDVRT)

	if filePath != "" {
		if err := r.image.Load(filePath); err != nil {
			return nil, fmt.Errorf("rtc: %w", err)
		}
	}

	r.ioID = sys.IO.SetHandler(uint16(r.addr), 2, r.inB, nil, nil, r.outB, nil, nil, nil)

	r.update = r.wheel.Add(func(any) { r.tick() }, nil)
	r.wheel.SetPeriodic(r.update, tick.FromMicroseconds(1_000_000))
	r.wheel.Enable(r.update)

	command.Register(&commandAdapter{r})
	return r, nil
}

func init() {
	device.Register(&device.Type{
		Name:         "RTC",
		Capabilities: device.CapISA,
		ConfigSchema: []device.ConfigParam{
			{Name: "addr", Kind: device.ParamInt},
			{Name: "irq", Kind: device.ParamInt},
			{Name: "file", Kind: device.ParamFile},
		},
		New: New,
	})
	config.RegisterModel("RTC", func(addr uint32, _ string, opts []config.Option) error {
		config.QueueBoot("RTC", addr, opts)
		return nil
	})
}

func (r *RTC) Close() {
	r.mu.Lock()
	r.wheel.Disable(r.update)
	r.io.RemoveHandler(r.ioID)
	_ = r.image.SaveIfDirty()
	r.mu.Unlock()
	command.Unregister(&commandAdapter{r})
}

func (r *RTC) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.image.WriteByte(regA, 0)
	r.image.WriteByte(regB, regB24Hour)
	r.image.WriteByte(regC, 0)
	r.image.WriteByte(regD, regDVRT)
	r.lowerIRQ()
}

func (r *RTC) Available() bool { return true }
func (r *RTC) SpeedChanged()   {} // wall-clock seconds, not bus-clock derived
func (r *RTC) ForceRedraw()    {}

func (r *RTC) raiseIRQ() {
	if r.irqLine >= 0 {
		r.pic.Raise(r.irqLine)
	}
}

func (r *RTC) lowerIRQ() {
	if r.irqLine >= 0 {
		r.pic.Clear(r.irqLine)
	}
}

// tick advances the BCD time-of-day registers by one second and sets the
// update-ended flag, raising the IRQ line when register B's UIE bit
// enables it. Calendar rollover is simplified to a fixed 30-day month
// (no leap-year/short-month modelling) since nothing in the fabric reads
// the date fields for scheduling — only the seconds/minutes/hours chain
// needs to be exact for a guest's interval timing to behave.
func (r *RTC) tick() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.image.ReadByte(regB)&regBSET != 0 {
		return // guest is mid-update (SET held), don't race it
	}

	if bcdIncrement(r.image, regSeconds, 60) {
		if bcdIncrement(r.image, regMinutes, 60) {
			if bcdIncrement(r.image, regHours, 24) {
				if bcdIncrement(r.image, regDay, 31) {
					r.image.WriteByte(regDay, toBCD(1))
					if bcdIncrement(r.image, regMonth, 13) {
						r.image.WriteByte(regMonth, toBCD(1))
					}
				}
				day := (fromBCD(r.image.ReadByte(regWeekday)) % 7) + 1
				r.image.WriteByte(regWeekday, toBCD(day))
			}
		}
	}

	regc := r.image.ReadByte(regC) | regCUF
	if r.image.ReadByte(regB)&regBUIE != 0 {
		regc |= regCIRQF
		r.raiseIRQ()
	}
	r.image.WriteByte(regC, regc)
}

// bcdIncrement adds one to the BCD byte at off, wrapping to zero (and
// returning true, a carry into the next field) at limit.
func bcdIncrement(img *nvr.Image, off int, limit int) bool {
	v := fromBCD(img.ReadByte(off)) + 1
	carry := v >= limit
	if carry {
		v = 0
	}
	img.WriteByte(off, toBCD(v))
	return carry
}

func fromBCD(v uint8) int { return int(v>>4)*10 + int(v&0x0f) }

func toBCD(v int) uint8 { return uint8((v/10)<<4 | (v % 10)) }

func (r *RTC) inB(port uint16, _ any) uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if uint32(port) == r.addr {
		return r.index
	}
	switch r.index {
	case regA:
		return r.image.ReadByte(regA) // UIP always reports idle: updates complete within one tick call
	case regC:
		v := r.image.ReadByte(regC)
		r.image.WriteByte(regC, 0) // read-to-clear
		r.lowerIRQ()
		return v
	default:
		if int(r.index) >= imageSize {
			return 0xff
		}
		return r.image.ReadByte(int(r.index))
	}
}

func (r *RTC) outB(port uint16, val uint8, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if uint32(port) == r.addr {
		r.index = val & indexMask
		return
	}
	if int(r.index) >= imageSize {
		return
	}
	r.image.WriteByte(int(r.index), val)
}

// commandAdapter exposes RTC to the monitor, kept as a separate type
// from RTC for the same Reset-signature reason uart's adapter is.
type commandAdapter struct{ r *RTC }

func (a *commandAdapter) Addr() uint32 { return a.r.addr }

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
			a.r.mu.Lock()
			err := a.r.image.Load(opt.EqualOpt)
			a.r.mu.Unlock()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *commandAdapter) Detach() error {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	return a.r.image.SaveIfDirty()
}

func (a *commandAdapter) Set(unset bool, _ []*command.CmdOption) error {
	if unset {
		return nil
	}
	return errors.New("rtc has no settable options")
}

func (a *commandAdapter) Show(_ []*command.CmdOption) (string, error) {
	r := a.r
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("%x: irq=%d %02d:%02d:%02d dirty=%v", r.addr, r.irqLine,
		fromBCD(r.image.ReadByte(regHours)), fromBCD(r.image.ReadByte(regMinutes)),
		fromBCD(r.image.ReadByte(regSeconds)), r.image.Dirty()), nil
}

func (a *commandAdapter) Reset() error {
	a.r.Reset()
	return nil
}
