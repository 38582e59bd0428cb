/*
 * pcbox - Command executer.
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

package parser

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	command "github.com/rcornwell/pcbox/command/command"
	"github.com/rcornwell/pcbox/system"
)

// Handle attach commands.
func attach(line *cmdLine, _ *system.System) (bool, error) {
	slog.Debug("Command Attach")
	dev, err := line.getDevice()
	if err != nil {
		return false, err
	}

	optlist, err := line.getOptions(dev, command.ValidAttach)
	if err != nil {
		return false, err
	}
	if len(optlist) == 0 {
		return false, errors.New("no options given to attach command")
	}
	return false, dev.Attach(optlist)
}

// Handle detach command.
func detach(line *cmdLine, _ *system.System) (bool, error) {
	slog.Debug("Command Detach")
	dev, err := line.getDevice()
	if err != nil {
		return false, err
	}
	return false, dev.Detach()
}

// Handle set commands.
func set(line *cmdLine, _ *system.System) (bool, error) {
	slog.Debug("Command Set")
	dev, err := line.getDevice()
	if err != nil {
		return false, err
	}

	optlist, err := line.getOptions(dev, command.ValidSet)
	if err != nil {
		return false, err
	}
	if len(optlist) == 0 {
		return false, errors.New("no options given to set command")
	}
	return false, dev.Set(false, optlist)
}

// Handle unset commands.
func unset(line *cmdLine, _ *system.System) (bool, error) {
	slog.Debug("Command Unset")
	dev, err := line.getDevice()
	if err != nil {
		return false, err
	}

	optlist, err := line.getOptions(dev, command.ValidSet)
	if err != nil {
		return false, err
	}
	if len(optlist) == 0 {
		return false, errors.New("no options given to unset command")
	}
	return false, dev.Set(true, optlist)
}

// Quit the monitor.
func quit(_ *cmdLine, _ *system.System) (bool, error) {
	slog.Debug("Command Quit")
	return true, nil
}

// Process the show command.
func show(line *cmdLine, _ *system.System) (bool, error) {
	slog.Debug("Command Show")

	name := line.getAddr()
	if name == "" || name == "all" {
		for _, addr := range command.List() {
			dev, ok := command.Get(addr)
			if !ok {
				continue
			}
			out, err := dev.Show(nil)
			if err != nil {
				continue
			}
			fmt.Println(out)
		}
		return false, nil
	}

	addr, err := parseAddr(name)
	if err != nil {
		return false, err
	}
	dev, ok := command.Get(addr)
	if !ok {
		return false, errors.New("no such device: " + name)
	}

	optlist, err := line.getShowOptions(dev)
	if err != nil {
		return false, err
	}

	out, err := dev.Show(optlist)
	if err != nil {
		return false, err
	}
	fmt.Println(out)
	return false, nil
}

// Reset a device, or the whole machine when given "all" or no address.
func reset(line *cmdLine, sys *system.System) (bool, error) {
	slog.Debug("Command Reset")

	name := line.getAddr()
	if name == "" || name == "all" {
		sys.SoftReset()
		return false, nil
	}

	addr, err := parseAddr(name)
	if err != nil {
		return false, err
	}
	dev, ok := command.Get(addr)
	if !ok {
		return false, errors.New("no such device: " + name)
	}
	return false, dev.Reset()
}

// widthToken parses a trailing "b"/"w"/"l" size suffix, defaulting to
// byte width when absent.
func (line *cmdLine) widthToken() byte {
	line.skipSpace()
	w := line.getWord(false)
	switch w {
	case "w":
		return 'w'
	case "l":
		return 'l'
	default:
		return 'b'
	}
}

// examine reads a memory address or I/O port and prints its value.
// "examine m <addr> [b|w|l]" reads memory, "examine p <port> [b|w|l]"
// reads an I/O port.
func examine(line *cmdLine, sys *system.System) (bool, error) {
	space := line.getWord(false)
	addrTok := line.getAddr()
	addr, err := parseAddr(addrTok)
	if err != nil {
		return false, err
	}
	width := line.widthToken()

	switch space {
	case "m", "mem", "memory":
		switch width {
		case 'w':
			fmt.Printf("%08x: %04x\n", addr, sys.Mem.ReadW(addr))
		case 'l':
			fmt.Printf("%08x: %08x\n", addr, sys.Mem.ReadL(addr))
		default:
			fmt.Printf("%08x: %02x\n", addr, sys.Mem.ReadB(addr))
		}
	case "p", "port", "io":
		if addr > 0xffff {
			return false, errors.New("port address out of range: " + addrTok)
		}
		port := uint16(addr)
		switch width {
		case 'w':
			fmt.Printf("%04x: %04x\n", port, sys.IO.InW(port))
		case 'l':
			fmt.Printf("%04x: %08x\n", port, sys.IO.InL(port))
		default:
			fmt.Printf("%04x: %02x\n", port, sys.IO.InB(port))
		}
	default:
		return false, errors.New("examine requires m(emory) or p(ort): " + space)
	}
	return false, nil
}

// deposit writes a memory address or I/O port. "deposit m <addr> <value>
// [b|w|l]" writes memory, "deposit p <port> <value> [b|w|l]" writes a
// port.
func deposit(line *cmdLine, sys *system.System) (bool, error) {
	space := line.getWord(false)
	addrTok := line.getAddr()
	addr, err := parseAddr(addrTok)
	if err != nil {
		return false, err
	}
	valTok := line.getAddr()
	val, err := strconv.ParseUint(valTok, 16, 32)
	if err != nil {
		return false, errors.New("invalid value: " + valTok)
	}
	width := line.widthToken()

	switch space {
	case "m", "mem", "memory":
		switch width {
		case 'w':
			sys.Mem.WriteW(addr, uint16(val))
		case 'l':
			sys.Mem.WriteL(addr, uint32(val))
		default:
			sys.Mem.WriteB(addr, uint8(val))
		}
	case "p", "port", "io":
		if addr > 0xffff {
			return false, errors.New("port address out of range: " + addrTok)
		}
		port := uint16(addr)
		switch width {
		case 'w':
			sys.IO.OutW(port, uint16(val))
		case 'l':
			sys.IO.OutL(port, uint32(val))
		default:
			sys.IO.OutB(port, uint8(val))
		}
	default:
		return false, errors.New("deposit requires m(emory) or p(ort): " + space)
	}
	return false, nil
}
