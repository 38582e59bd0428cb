/*
 * pcbox - 16450-class UART (COM port).
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

// Package uart implements a 16450-class COM port: the eight-register
// block (RBR/THR, IER, IIR, LCR, MCR, LSR, MSR, SCR) and the DLAB-gated
// baud-rate divisor latch, wired into the fabric's I/O map and an 8259
// line, with a telnet session standing in for the host's serial cable.
// Grounded on emu/model1052/model1052.go's telnet-backed console device:
// the same Connect/Disconnect/ReceiveChar split between a device's guest-
// facing state and its telnet-facing state, adapted from a line-buffered
// BCD terminal to a byte-at-a-time RS-232 register set. RegisterTerminal
// and command registration on construction, Unregister/Close symmetry,
// and the telnet package's direct-call redesign (no emu/master indirection)
// are all carried from the already-adapted telnet package.
package uart

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	command "github.com/rcornwell/pcbox/command/command"
	config "github.com/rcornwell/pcbox/config/configparser"
	"github.com/rcornwell/pcbox/device"
	"github.com/rcornwell/pcbox/iomap"
	"github.com/rcornwell/pcbox/pic"
	"github.com/rcornwell/pcbox/system"
	"github.com/rcornwell/pcbox/telnet"
)

// Register offsets relative to the UART's I/O base.
const (
	regData = 0 // RBR (read) / THR (write), DLL when DLAB set
	regIER  = 1 // Interrupt enable, DLM when DLAB set
	regIIR  = 2 // Interrupt identification (read only)
	regLCR  = 3 // Line control
	regMCR  = 4 // Modem control
	regLSR  = 5 // Line status
	regMSR  = 6 // Modem status
	regSCR  = 7 // Scratch
)

// IER bits.
const (
	ierRxData = 1 << iota
	ierTxEmpty
	ierLineStatus
	ierModemStatus
)

// LSR bits.
const (
	lsrDataReady = 1 << iota
	lsrOverrun
	lsrParityErr
	lsrFramingErr
	lsrBreak
	lsrThrEmpty
	lsrTxEmpty
)

// LCR bit 7 selects the divisor latch instead of RBR/THR/IER.
const lcrDLAB = 1 << 7

// IIR interrupt-source codes, highest priority first; bit 0 clear means a
// request is pending.
const (
	iirNone        = 0x01
	iirLineStatus  = 0x06
	iirRxData      = 0x04
	iirTxEmpty     = 0x02
	iirModemStatus = 0x00
)

// model byte the telnet multiplexer uses to keep like terminals from
// cross-connecting; 0 means line mode in the teacher's convention, so
// UART claims a distinct value.
const telnetModel = 1

// UART is one 16450 COM port. All guest-facing register access and all
// telnet-facing Connect/Disconnect/ReceiveChar calls take mu, since they
// run on different goroutines (the fabric's CPU-driven I/O path and the
// telnet connection's own goroutine).
type UART struct {
	mu sync.Mutex

	addr    uint32
	irqLine int
	pic     *pic.Pair
	io      *iomap.Map
	ioID    iomap.ID

	ier, lcr, mcr, scr uint8
	divisor            uint16
	rxData             uint8
	rxReady            bool
	lastIIR            uint8

	conn      net.Conn
	connected bool
	port      string
	group     string
	logPath   string
}

type telnetBackend struct{ u *UART }

func (t telnetBackend) Connect(conn net.Conn) { t.u.connect(conn) }
func (t telnetBackend) Disconnect()           { t.u.disconnect() }
func (t telnetBackend) ReceiveChar(data []byte) {
	t.u.receive(data)
}

// New constructs a UART from its configured options and wires it into
// the orchestrator's I/O map and PIC. Required options: "addr" (I/O
// base, hex) and "irq" (PIC line, decimal); "port"/"group" are optional
// telnet routing hints passed straight to telnet.RegisterTerminal. When
// neither is given a failed registration is ignored and the UART runs
// with no telnet session attached.
func New(opts []device.Option, orch device.Orchestrator) (device.Device, error) {
	sys, ok := orch.(*system.System)
	if !ok {
		return nil, errors.New("uart: requires the system orchestrator")
	}

	u := &UART{pic: sys.PIC, io: sys.IO, irqLine: -1}
	haveAddr := false
	haveIRQ := false
	for _, opt := range opts {
		switch opt.Name {
		case "addr":
			addr, err := strconv.ParseUint(opt.Value, 16, 32)
			if err != nil {
				return nil, fmt.Errorf("uart: bad addr %q: %w", opt.Value, err)
			}
			u.addr = uint32(addr)
			haveAddr = true
		case "irq":
			line, err := strconv.Atoi(opt.Value)
			if err != nil {
				return nil, fmt.Errorf("uart: bad irq %q: %w", opt.Value, err)
			}
			u.irqLine = line
			haveIRQ = true
		case "port":
			u.port = opt.Value
		case "group":
			u.group = opt.Value
		}
	}
	if !haveAddr {
		return nil, errors.New("uart: addr option required")
	}
	if !haveIRQ {
		return nil, errors.New("uart: irq option required")
	}

	u.resetState()
	u.ioID = sys.IO.SetHandler(uint16(u.addr), 8,
		u.inB, nil, nil, u.outB, nil, nil, nil)

	if err := telnet.RegisterTerminal(telnetBackend{u}, u.addr, telnetModel, u.port, u.group); err != nil && (u.port != "" || u.group != "") {
		sys.IO.RemoveHandler(u.ioID)
		return nil, fmt.Errorf("uart: %w", err)
	}

	command.Register(&commandAdapter{u})
	return u, nil
}

func init() {
	device.Register(&device.Type{
		Name:         "UART",
		Capabilities: device.CapISA | device.CapISA16 | device.CapCOM,
		ConfigSchema: []device.ConfigParam{
			{Name: "addr", Kind: device.ParamInt},
			{Name: "irq", Kind: device.ParamInt},
			{Name: "port", Kind: device.ParamString},
			{Name: "group", Kind: device.ParamString},
		},
		New: New,
	})
	config.RegisterModel("UART", func(addr uint32, _ string, opts []config.Option) error {
		config.QueueBoot("UART", addr, opts)
		return nil
	})
}

// Close closes any open telnet connection, drops the I/O handler and
// unregisters the monitor command; the telnet package itself keeps no
// teardown path for a single terminal (it tracks ports, not devices), so
// the terminal registration stays in place.
func (u *UART) Close() {
	u.mu.Lock()
	if u.conn != nil {
		_ = u.conn.Close()
	}
	u.io.RemoveHandler(u.ioID)
	u.mu.Unlock()
	command.Unregister(&commandAdapter{u})
}

// Reset restores power-on register state without touching the telnet
// connection, matching a guest-visible UART reset (DTR/RTS drop, but the
// host cable stays plugged in).
func (u *UART) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.resetState()
}

func (u *UART) resetState() {
	u.ier = 0
	u.lcr = 0
	u.mcr = 0
	u.scr = 0
	u.divisor = 0x000c // 9600 baud at the standard 1.8432 MHz UART clock
	u.rxReady = false
	u.rxData = 0
	u.lastIIR = iirNone
	u.lowerIRQ()
}

// Rebase moves the UART's eight-port I/O window to a new base address,
// for a Super-I/O companion (devices/sio) reprogramming the port during
// ISA Plug-and-Play-style configuration. The old handler is removed and
// a fresh one installed at newAddr before any guest access can land in
// between, since both calls happen under mu.
func (u *UART) Rebase(newAddr uint32) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.io.RemoveHandler(u.ioID)
	u.addr = newAddr
	u.ioID = u.io.SetHandler(uint16(u.addr), 8, u.inB, nil, nil, u.outB, nil, nil, nil)
}

func (u *UART) Available() bool   { return true }
func (u *UART) SpeedChanged()     {} // UART baud is guest-programmed, not bus-clock derived
func (u *UART) ForceRedraw()      {} // no display surface

func (u *UART) raiseIRQ() {
	if u.irqLine >= 0 {
		u.pic.Raise(u.irqLine)
	}
}

func (u *UART) lowerIRQ() {
	if u.irqLine >= 0 {
		u.pic.Clear(u.irqLine)
	}
}

// updateIRQ recomputes the pending interrupt source and latches/clears
// the PIC line. THRE is always true (writes go straight to the telnet
// socket with no hardware FIFO to drain), so a tx-empty interrupt fires
// once per enable and stays pending until IIR is read, the same
// read-to-clear convention real 16450s use.
func (u *UART) updateIRQ() {
	switch {
	case u.rxReady && u.ier&ierRxData != 0:
		u.lastIIR = iirRxData
		u.raiseIRQ()
	case u.ier&ierTxEmpty != 0:
		u.lastIIR = iirTxEmpty
		u.raiseIRQ()
	default:
		u.lastIIR = iirNone
		u.lowerIRQ()
	}
}

func (u *UART) inB(port uint16, _ any) uint8 {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch uint32(port) - u.addr {
	case regData:
		if u.lcr&lcrDLAB != 0 {
			return uint8(u.divisor)
		}
		u.rxReady = false
		u.updateIRQ()
		return u.rxData
	case regIER:
		if u.lcr&lcrDLAB != 0 {
			return uint8(u.divisor >> 8)
		}
		return u.ier
	case regIIR:
		iir := u.lastIIR
		if iir == iirTxEmpty {
			u.lastIIR = iirNone
			u.updateIRQ()
		}
		return iir
	case regLCR:
		return u.lcr
	case regMCR:
		return u.mcr
	case regLSR:
		lsr := uint8(lsrThrEmpty | lsrTxEmpty)
		if u.rxReady {
			lsr |= lsrDataReady
		}
		return lsr
	case regMSR:
		return 0
	case regSCR:
		return u.scr
	default:
		return 0xff
	}
}

func (u *UART) outB(port uint16, val uint8, _ any) {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch uint32(port) - u.addr {
	case regData:
		if u.lcr&lcrDLAB != 0 {
			u.divisor = (u.divisor & 0xff00) | uint16(val)
			return
		}
		u.transmit(val)
	case regIER:
		if u.lcr&lcrDLAB != 0 {
			u.divisor = (u.divisor & 0x00ff) | uint16(val)<<8
			return
		}
		u.ier = val & 0x0f
		u.updateIRQ()
	case regLCR:
		u.lcr = val
	case regMCR:
		u.mcr = val & 0x1f
	case regSCR:
		u.scr = val
	}
}

// transmit writes one byte out the attached telnet session, if any; with
// no session attached the byte is simply dropped (an unplugged serial
// cable, not a guest-visible error).
func (u *UART) transmit(val uint8) {
	if u.connected && u.conn != nil {
		_, _ = u.conn.Write([]byte{val})
	}
	if u.ier&ierTxEmpty != 0 {
		u.lastIIR = iirTxEmpty
		u.raiseIRQ()
	}
}

func (u *UART) connect(conn net.Conn) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.conn = conn
	u.connected = true
}

func (u *UART) disconnect() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.conn = nil
	u.connected = false
}

// receive delivers host keystrokes into the single-byte receive holding
// register; a byte arriving before the guest has read the previous one
// simply overwrites rxData. LSR's overrun bit is never set.
func (u *UART) receive(data []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, b := range data {
		u.rxData = b
		u.rxReady = true
	}
	u.updateIRQ()
}

// commandAdapter exposes UART to the monitor. It is a distinct type from
// UART itself because device.Device already defines a no-argument Reset,
// and command.Command needs a Reset() error (here a thin wrapper around
// UART.Reset); giving the monitor-facing Reset its own
// receiver avoids a single type needing two incompatible methods named
// Reset.
type commandAdapter struct{ u *UART }

func (a *commandAdapter) Addr() uint32 { return a.u.addr }

func (a *commandAdapter) Options(_ string) []command.Options {
	return []command.Options{
		{Name: "log", OptionType: command.OptionFile, OptionValid: command.ValidAttach | command.ValidShow},
	}
}

func (a *commandAdapter) Attach(opts []*command.CmdOption) error {
	for _, opt := range opts {
		if opt.Name == "log" {
			if opt.EqualOpt == "" {
				return errors.New("log requires a file name")
			}
			a.u.mu.Lock()
			a.u.logPath = opt.EqualOpt
			a.u.mu.Unlock()
		}
	}
	return nil
}

func (a *commandAdapter) Detach() error {
	a.u.mu.Lock()
	a.u.logPath = ""
	a.u.mu.Unlock()
	return nil
}

func (a *commandAdapter) Set(unset bool, _ []*command.CmdOption) error {
	if unset {
		return nil
	}
	return errors.New("uart has no settable options")
}

func (a *commandAdapter) Show(_ []*command.CmdOption) (string, error) {
	u := a.u
	u.mu.Lock()
	defer u.mu.Unlock()
	str := fmt.Sprintf("%x: irq=%d lcr=%#02x mcr=%#02x", u.addr, u.irqLine, u.lcr, u.mcr)
	if u.connected {
		str += " connected"
	}
	if u.logPath != "" {
		str += " log=" + u.logPath
	}
	return str, nil
}

func (a *commandAdapter) Reset() error {
	a.u.Reset()
	return nil
}
