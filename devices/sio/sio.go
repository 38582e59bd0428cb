/*
 * pcbox - Super-I/O companion chip (two UART logical devices).
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

// Package sio implements a Super-I/O companion chip, trimmed to the two
// logical devices the rest of this fabric exercises: a pair of UART
// logical devices a guest's BIOS/OS can relocate and enable/disable
// through an indexed configuration-register bank, the same shape as
// original_source/86Box's sio_w83977f.c and sio_pc87306.c. The floppy,
// parallel port and keyboard-controller logical devices those chips also
// carry are out of scope here: nothing downstream of this fabric models
// a floppy or parallel port, so there is nothing for those LDNs to wire
// to.
//
// Real Super-I/O chips gate configuration-register access behind a
// lock/key sequence written to the index port before registers become
// writable. This model skips that latch: nothing in this fabric's BIOS
// path depends on the lock state being enforced, and the real chips'
// unlock sequence exists to avoid stray I/O writes from unrelated
// software wedging the configuration, a concern a specific test harness
// rather than a general emulator needs to reproduce.
package sio

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	command "github.com/rcornwell/pcbox/command/command"
	config "github.com/rcornwell/pcbox/config/configparser"
	"github.com/rcornwell/pcbox/device"
	"github.com/rcornwell/pcbox/devices/uart"
	"github.com/rcornwell/pcbox/iomap"
	"github.com/rcornwell/pcbox/system"
)

// Logical device numbers, matching the w83977f's UART1/UART2 assignment.
const (
	ldnUART1 = 2
	ldnUART2 = 3
	ldnCount = 4
)

// Configuration-register indices within a selected logical device.
const (
	cfgLDNSelect  = 0x07
	cfgActivate   = 0x30
	cfgIOBaseHigh = 0x60
	cfgIOBaseLow  = 0x61
	cfgIRQ        = 0x70
)

// ldnState tracks one logical device's configuration and, once
// activated, the live UART instance it owns.
type ldnState struct {
	activate bool
	ioBase   uint32
	irq      int
	dev      *uart.UART
}

// SIO is the Super-I/O chip: an index/data configuration port pair and
// the logical devices it configures.
type SIO struct {
	mu sync.Mutex

	addr uint32
	io   *iomap.Map
	ioID iomap.ID
	sys  *system.System

	ldn          uint8
	dataRegister uint8
	ldns         [ldnCount]ldnState
}

// New constructs a SIO chip. Required option: "addr" (configuration
// index port, hex; data is addr+1). Logical devices start deactivated,
// matching a real chip's power-on state, until the guest's BIOS programs
// and activates them.
func New(opts []device.Option, orch device.Orchestrator) (device.Device, error) {
	sys, ok := orch.(*system.System)
	if !ok {
		return nil, errors.New("sio: requires the system orchestrator")
	}

	s := &SIO{io: sys.IO, sys: sys}
	haveAddr := false
	for _, opt := range opts {
		if opt.Name == "addr" {
			addr, err := strconv.ParseUint(opt.Value, 16, 32)
			if err != nil {
				return nil, fmt.Errorf("sio: bad addr %q: %w", opt.Value, err)
			}
			s.addr = uint32(addr)
			haveAddr = true
		}
	}
	if !haveAddr {
		return nil, errors.New("sio: addr option required")
	}

	s.ldns[ldnUART1] = ldnState{ioBase: 0x3f8, irq: 4}
	s.ldns[ldnUART2] = ldnState{ioBase: 0x2f8, irq: 3}

	s.ioID = sys.IO.SetHandler(uint16(s.addr), 2, s.inB, nil, nil, s.outB, nil, nil, nil)

	command.Register(&commandAdapter{s})
	return s, nil
}

func init() {
	device.Register(&device.Type{
		Name:         "SIO",
		Capabilities: device.CapISA,
		ConfigSchema: []device.ConfigParam{
			{Name: "addr", Kind: device.ParamInt},
		},
		New: New,
	})
	config.RegisterModel("SIO", func(addr uint32, _ string, opts []config.Option) error {
		config.QueueBoot("SIO", addr, opts)
		return nil
	})
}

func (s *SIO) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.io.RemoveHandler(s.ioID)
	for i := range s.ldns {
		s.deactivate(i)
	}
	command.Unregister(&commandAdapter{s})
}

// Reset deactivates every logical device, matching a guest-visible
// hardware reset; the BIOS is expected to reprogram and reactivate the
// ports it needs during POST.
func (s *SIO) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.ldns {
		s.deactivate(i)
	}
}

func (s *SIO) Available() bool { return true }
func (s *SIO) SpeedChanged()   {}
func (s *SIO) ForceRedraw()    {}

func (s *SIO) inB(port uint16, _ any) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if uint32(port) == s.addr {
		return s.dataRegister
	}
	if int(s.ldn) >= ldnCount {
		return 0xff
	}
	ld := &s.ldns[s.ldn]
	switch s.dataRegister {
	case cfgLDNSelect:
		return s.ldn
	case cfgActivate:
		if ld.activate {
			return 1
		}
		return 0
	case cfgIOBaseHigh:
		return uint8(ld.ioBase >> 8)
	case cfgIOBaseLow:
		return uint8(ld.ioBase)
	case cfgIRQ:
		return uint8(ld.irq)
	default:
		return 0xff
	}
}

func (s *SIO) outB(port uint16, val uint8, _ any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if uint32(port) == s.addr {
		s.dataRegister = val
		return
	}

	reg := s.dataRegister
	if reg == cfgLDNSelect {
		s.ldn = val
		return
	}
	if s.ldn != ldnUART1 && s.ldn != ldnUART2 {
		return
	}

	ld := &s.ldns[s.ldn]
	switch reg {
	case cfgActivate:
		want := val&0x01 != 0
		if want != ld.activate {
			if want {
				s.activate(int(s.ldn))
			} else {
				s.deactivate(int(s.ldn))
			}
		}
	case cfgIOBaseHigh:
		ld.ioBase = (ld.ioBase & 0x00ff) | uint32(val)<<8
		s.rebaseIfActive(int(s.ldn))
	case cfgIOBaseLow:
		ld.ioBase = (ld.ioBase &^ 0x00ff) | uint32(val)
		s.rebaseIfActive(int(s.ldn))
	case cfgIRQ:
		ld.irq = int(val)
	}
}

// activate constructs the logical device's backing implementation.
// Caller holds mu.
func (s *SIO) activate(idx int) {
	ld := &s.ldns[idx]
	opts := []device.Option{
		{Name: "addr", Value: fmt.Sprintf("%x", ld.ioBase)},
		{Name: "irq", Value: strconv.Itoa(ld.irq)},
	}
	dev, err := uart.New(opts, s.sys)
	if err != nil {
		return
	}
	u, ok := dev.(*uart.UART)
	if !ok {
		return
	}
	ld.dev = u
	ld.activate = true
}

// deactivate tears down the logical device's backing implementation.
// Caller holds mu.
func (s *SIO) deactivate(idx int) {
	ld := &s.ldns[idx]
	if ld.dev != nil {
		ld.dev.Close()
		ld.dev = nil
	}
	ld.activate = false
}

// rebaseIfActive moves an already-activated logical device's UART to
// its newly programmed base without a deactivate/reactivate cycle,
// matching how a real BIOS reprograms a live Super-I/O logical device
// (write the base registers, the chip's own internal decode updates
// immediately; activate/deactivate is a separate bit). Caller holds mu.
func (s *SIO) rebaseIfActive(idx int) {
	ld := &s.ldns[idx]
	if ld.activate && ld.dev != nil {
		ld.dev.Rebase(ld.ioBase)
	}
}

// commandAdapter exposes SIO to the monitor, the same separate-type
// pattern devices/uart and devices/rtc use for the Reset signature clash.
type commandAdapter struct{ s *SIO }

func (a *commandAdapter) Addr() uint32 { return a.s.addr }

func (a *commandAdapter) Options(_ string) []command.Options { return nil }

func (a *commandAdapter) Attach(_ []*command.CmdOption) error {
	return errors.New("attach not supported")
}

func (a *commandAdapter) Detach() error { return errors.New("detach not supported") }

func (a *commandAdapter) Set(unset bool, _ []*command.CmdOption) error {
	if unset {
		return nil
	}
	return errors.New("sio has no settable options")
}

func (a *commandAdapter) Show(_ []*command.CmdOption) (string, error) {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("%x: uart1 active=%v base=%x irq=%d, uart2 active=%v base=%x irq=%d",
		s.addr,
		s.ldns[ldnUART1].activate, s.ldns[ldnUART1].ioBase, s.ldns[ldnUART1].irq,
		s.ldns[ldnUART2].activate, s.ldns[ldnUART2].ioBase, s.ldns[ldnUART2].irq), nil
}

func (a *commandAdapter) Reset() error {
	a.s.Reset()
	return nil
}
