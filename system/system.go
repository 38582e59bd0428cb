/*
 * pcbox - Bus/device orchestrator.
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

// Package system is the fabric's bus/device orchestrator: it owns the
// memory map, I/O map, PIC/DMA/PCI tables, and timer wheel, constructs
// devices from the catalogue in a deterministic order, and applies the
// small device.Effect enumeration a handler returns instead of calling
// back into the CPU directly. Grounded on emu/core/core.go's run-loop
// shape (a struct owning the shared collaborators, a packet/effect
// dispatch switch) adapted from channel-I/O packet dispatch to the
// spec's effect-enumeration dispatch.
package system

import (
	"fmt"
	"log/slog"

	"github.com/rcornwell/pcbox/cpuiface"
	"github.com/rcornwell/pcbox/device"
	"github.com/rcornwell/pcbox/dma"
	"github.com/rcornwell/pcbox/iomap"
	"github.com/rcornwell/pcbox/memmap"
	"github.com/rcornwell/pcbox/pci"
	"github.com/rcornwell/pcbox/pic"
	"github.com/rcornwell/pcbox/timer"
)

// BootSpec names one device a machine definition wants constructed, in
// the order it should be constructed in.
type BootSpec struct {
	TypeName     string
	InstanceName string
	Opts         []device.Option
}

type deviceSlot struct {
	dev          device.Device
	typeName     string
	instanceName string
}

// System is the bus/device orchestrator. It implements device.Orchestrator
// (so a device's constructor can add subordinates) and cpuiface.Bus (so
// an external CPU can reach the fabric through one value).
type System struct {
	Mem    *memmap.Map
	IO     *iomap.Map
	PIC    *pic.Pair
	DMA    *dma.Pair
	PCI    *pci.Bus
	Timers *timer.Wheel
	Clock  *cpuiface.Clock
	CPU    cpuiface.CPU

	epoch   uint32
	devices []deviceSlot
	order   []device.Handle
	boot    []BootSpec
}

// New creates an orchestrator over the given collaborators. cpu may be
// nil (a headless fabric with no attached CPU, used by component tests
// that only need device construction and reset semantics); NMI/SMI
// effects and decode-cache invalidation become no-ops in that case.
func New(mem *memmap.Map, io *iomap.Map, picPair *pic.Pair, dmaPair *dma.Pair, pciBus *pci.Bus, wheel *timer.Wheel, cpu cpuiface.CPU) *System {
	s := &System{
		Mem: mem, IO: io, PIC: picPair, DMA: dmaPair, PCI: pciBus, Timers: wheel,
		CPU: cpu, epoch: 1,
	}
	s.Clock = cpuiface.NewClock(wheel)
	mem.OnFlush = func() {
		if s.CPU != nil {
			s.CPU.InvalidateDecodeCache()
		}
	}
	return s
}

// Boot constructs every device in specs, in order, aborting on the first
// constructor failure. The spec list is retained so HardReset can replay
// it against a freshly emptied arena.
func (s *System) Boot(specs []BootSpec) error {
	s.boot = specs
	for _, spec := range specs {
		if _, err := s.AddDevice(spec.TypeName, spec.InstanceName, spec.Opts); err != nil {
			return fmt.Errorf("boot %s/%s: %w", spec.TypeName, spec.InstanceName, err)
		}
	}
	return nil
}

// AddDevice implements device.Orchestrator: it looks up typeName in the
// catalogue, constructs it, and records it in the arena at the next free
// index under the orchestrator's current epoch. Used both for the
// top-level boot sequence and for a parent device composing subordinates
// during its own New.
func (s *System) AddDevice(typeName, instanceName string, opts []device.Option) (device.Handle, error) {
	ty, ok := device.Lookup(typeName)
	if !ok {
		return device.Handle{}, fmt.Errorf("unknown device type %q", typeName)
	}
	dev, err := ty.New(opts, s)
	if err != nil {
		return device.Handle{}, fmt.Errorf("construct %s: %w", typeName, err)
	}
	idx := uint32(len(s.devices))
	s.devices = append(s.devices, deviceSlot{dev: dev, typeName: typeName, instanceName: instanceName})
	h := device.NewHandle(idx, s.epoch)
	s.order = append(s.order, h)
	return h, nil
}

// Device resolves a handle to its device, failing if the handle's
// generation does not match the orchestrator's current epoch — the
// use-after-free case a hard reset produces for any handle retained
// across it.
func (s *System) Device(h device.Handle) (device.Device, bool) {
	if h.Generation() != s.epoch {
		return nil, false
	}
	idx := int(h.Index())
	if idx < 0 || idx >= len(s.devices) {
		return nil, false
	}
	return s.devices[idx].dev, true
}

// HardReset closes every device in reverse construction order, discards
// the arena, advances the epoch (invalidating every handle issued before
// this call), and rebuilds the machine from the retained boot spec.
func (s *System) HardReset() error {
	for i := len(s.devices) - 1; i >= 0; i-- {
		s.devices[i].dev.Close()
	}
	s.devices = nil
	s.order = nil
	s.epoch++
	boot := s.boot
	s.boot = nil
	return s.Boot(boot)
}

// SoftReset calls Reset on every device in construction order, without
// touching the arena: device state is reinitialized in place, and any
// memory/IO mappings a device re-registers during its own Reset return
// the bus to its post-init layout.
func (s *System) SoftReset() {
	for _, h := range s.order {
		if dev, ok := s.Device(h); ok {
			dev.Reset()
		}
	}
}

// SpeedChanged walks every device calling SpeedChanged, used when the
// guest reprograms the system clock.
func (s *System) SpeedChanged() {
	for _, h := range s.order {
		if dev, ok := s.Device(h); ok {
			dev.SpeedChanged()
		}
	}
}

// ApplyEffect performs the side effect a device handler asked for after
// its own call frame has unwound, the redesign's fix for handlers that
// used to call back into the CPU from inside a device handler.
func (s *System) ApplyEffect(e device.Effect) {
	switch e.Kind {
	case device.EffectNone:
	case device.EffectRaiseIRQ:
		s.PIC.Raise(e.Line)
	case device.EffectLowerIRQ:
		s.PIC.Clear(e.Line)
	case device.EffectRaiseNMI:
		if s.CPU != nil {
			s.CPU.RaiseNMI()
		}
	case device.EffectLowerNMI:
		if s.CPU != nil {
			s.CPU.LowerNMI()
		}
	case device.EffectRaiseSMI:
		if s.CPU != nil {
			s.CPU.RaiseSMI()
		}
	case device.EffectRemapMemory:
		s.Mem.Flush()
	default:
		slog.Warn("unhandled device effect", "kind", e.Kind)
	}
}

// The following methods make System satisfy cpuiface.Bus, the surface an
// external CPU calls into for every memory/IO access and interrupt
// acknowledge cycle.

func (s *System) ReadB(addr uint32) uint8      { return s.Mem.ReadB(addr) }
func (s *System) ReadW(addr uint32) uint16     { return s.Mem.ReadW(addr) }
func (s *System) ReadL(addr uint32) uint32     { return s.Mem.ReadL(addr) }
func (s *System) WriteB(addr uint32, v uint8)  { s.Mem.WriteB(addr, v) }
func (s *System) WriteW(addr uint32, v uint16) { s.Mem.WriteW(addr, v) }
func (s *System) WriteL(addr uint32, v uint32) { s.Mem.WriteL(addr, v) }

func (s *System) InB(port uint16) uint8      { return s.IO.InB(port) }
func (s *System) InW(port uint16) uint16     { return s.IO.InW(port) }
func (s *System) InL(port uint16) uint32     { return s.IO.InL(port) }
func (s *System) OutB(port uint16, v uint8)  { s.IO.OutB(port, v) }
func (s *System) OutW(port uint16, v uint16) { s.IO.OutW(port, v) }
func (s *System) OutL(port uint16, v uint32) { s.IO.OutL(port, v) }

// AcknowledgeInterrupt runs the PIC's INTA cycle.
func (s *System) AcknowledgeInterrupt() (uint8, bool) {
	return s.PIC.Ack()
}
