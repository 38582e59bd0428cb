/*
 * pcbox - Command interface
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

// Package command defines the contract a device exposes to the
// interactive monitor, and a registry mapping a device's configured
// base address to its Command. Devices register themselves on
// construction and unregister on Close, the same shape configparser
// uses for its model catalogue (a package-level map behind Register).
package command

import "sort"

// CmdOption is one option token parsed off a monitor command line.
type CmdOption struct {
	Name     string // Name of option.
	EqualOpt string // Value of string after =.
	Value    int    // Numeric value.
}

// List of option types.
const (
	OptionSwitch = 1 + iota
	OptionFile
	OptionNumber
	OptionName
	OptionList
)

const (
	ValidAttach = 1 << iota
	ValidSet
	ValidShow
)

type Options struct {
	Name        string   // Name of option.
	OptionType  int      // Type of argument.
	OptionValid int      // Option valid for command type.
	OptionList  []string // List of valid options for this option.
}

// Command is the monitor-facing surface a device may optionally
// implement. Devices with nothing to attach, set, or show need not
// implement it; only those registered here show up in attach/set/show
// tab-completion and command dispatch.
type Command interface {
	Addr() uint32                              // Configured base address, the monitor's device identifier.
	Options(opt string) []Options              // Return list of supported options.
	Attach(options []*CmdOption) error         // Attach device to file.
	Detach() error                             // Detach a device.
	Set(set bool, options []*CmdOption) error  // Do set/unset command.
	Show(options []*CmdOption) (string, error) // Do show command.
	Reset() error                              // Reset device to its power-on state.
}

var registry = map[uint32]Command{}

// Register makes a device reachable from the monitor by its base
// address. Called from a device's constructor.
func Register(c Command) {
	registry[c.Addr()] = c
}

// Unregister removes a device, called from Close.
func Unregister(c Command) {
	delete(registry, c.Addr())
}

// Get looks up a registered device by base address.
func Get(addr uint32) (Command, bool) {
	c, ok := registry[addr]
	return c, ok
}

// List returns every registered base address, sorted ascending, the
// order "show all"/"reset all" walk the catalogue in.
func List() []uint32 {
	addrs := make([]uint32, 0, len(registry))
	for addr := range registry {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}
