/*
 * pcbox - Device contract, capability flags, and type catalogue.
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

// Package device defines the fabric's device contract: the lifecycle
// interface every constructed device satisfies, the capability flags a
// device type declares, and the global type catalogue devices register
// themselves into the same way emu/device's channel command set once
// described a unit-record device's behaviour, generalized here from
// channel commands to a PC-compatible board's {init, close, reset,
// available, speed_changed, force_redraw} contract.
package device

// Capability flags describe the buses/interfaces a device type can sit
// on. A machine's construction order checks these before wiring a device
// into a slot it does not support.
type Capability uint16

const (
	CapISA Capability = 1 << iota
	CapISA16
	CapVLB
	CapPCI
	CapMCA
	CapAT
	CapCOM
	CapLPT
)

// EffectKind is the small set of things a handler can ask the
// orchestrator to do after it returns, replacing direct calls back into
// the CPU from inside a device handler (spec's "control-flow tangles"
// redesign note): the executor applies the effect once the handler's own
// stack has unwound, so a PIC or PCI handler is never re-entered while
// still running.
type EffectKind int

const (
	EffectNone EffectKind = iota
	EffectRaiseIRQ
	EffectLowerIRQ
	EffectRaiseNMI
	EffectLowerNMI
	EffectRaiseSMI
	EffectRemapMemory
)

// Effect is the value a handler returns. Line is meaningful only for
// EffectRaiseIRQ/EffectLowerIRQ.
type Effect struct {
	Kind EffectKind
	Line int
}

// NoEffect is the zero Effect, returned by handlers with nothing for the
// executor to do.
var NoEffect = Effect{Kind: EffectNone}

// Device is the lifecycle contract every constructed device satisfies.
// Construction itself is not part of this interface: a Type's New
// function builds the concrete value and is free to return any type that
// implements Device, the same vtable-via-interface substitution the
// redesign notes call for in place of the source's function-pointer
// tables.
type Device interface {
	// Close releases any host resources (open files, telnet listeners)
	// and is called for every device, in reverse construction order, on
	// a hard reset or final shutdown.
	Close()

	// Reset restores the device to its post-init state without
	// reallocating it — a soft reset calls this on every device in
	// construction order.
	Reset()

	// Available reports host-dependent availability (e.g. a BIOS ROM
	// file actually present on disk). A device that is never
	// unavailable returns true unconditionally.
	Available() bool

	// SpeedChanged is called when the guest reprograms the system clock,
	// so the device can rescale timer periods it derived from the bus
	// clock.
	SpeedChanged()

	// ForceRedraw asks a video device to repaint its entire framebuffer
	// on the next present; devices with no display surface implement it
	// as a no-op.
	ForceRedraw()
}

// ParamKind is the type of one configuration option a device type
// accepts.
type ParamKind int

const (
	ParamInt ParamKind = iota
	ParamString
	ParamBool
	ParamEnum
	ParamFile
)

// ConfigParam describes one named, typed option in a device type's
// config_schema.
type ConfigParam struct {
	Name    string
	Kind    ParamKind
	Enum    []string // valid values, only meaningful when Kind == ParamEnum
	Default string
}

// Option is one configuration key/value pair as parsed from a
// configuration file line, the minimal shape device.Type.New needs;
// config/configparser's richer Option/FirstOption types are reduced to
// this before a device is constructed, keeping this package free of a
// dependency on the config file grammar.
type Option struct {
	Name  string
	Value string
}

// Handle identifies a device owned by the orchestrator's arena. Generation
// distinguishes a handle from a stale one reused after the slot it named
// was freed and reassigned — the arena-plus-generation idiom the redesign
// notes call for in place of an owning-pointer graph.
type Handle struct {
	index      uint32
	generation uint32
}

// Valid reports whether h could possibly name a live device; it does not
// by itself prove the generation still matches the arena (only the arena
// that issued h can check that).
func (h Handle) Valid() bool { return h.generation != 0 }

// Index and Generation expose h's fields to the arena that owns it;
// device.Type.New implementations treat Handle as opaque.
func (h Handle) Index() uint32      { return h.index }
func (h Handle) Generation() uint32 { return h.generation }

// NewHandle is used only by the orchestrator's arena to mint handles.
func NewHandle(index, generation uint32) Handle {
	return Handle{index: index, generation: generation}
}

// Orchestrator is the slice of the system a device type's constructor
// needs in order to compose subordinate devices and wire itself into the
// fabric. A chipset's New typically calls AddDevice several times (IDE
// controller, port-92 handler, SMRAM controller) and registers its own
// memory/IO mappings through the accessors.
type Orchestrator interface {
	// AddDevice constructs and registers a subordinate device by type
	// name, returning its handle. Used for composition during a parent
	// device's own New.
	AddDevice(typeName, instanceName string, opts []Option) (Handle, error)
}

// Type is one entry in the device catalogue: a named constructor plus the
// capability and configuration-schema metadata the machine-definition and
// config-file layers need before they call it.
type Type struct {
	Name         string
	Capabilities Capability
	ConfigSchema []ConfigParam
	New          func(opts []Option, sys Orchestrator) (Device, error)
}

// catalogue is the process-wide device type registry, filled by each
// device package's init function — the same global-map-plus-init-time-
// registration idiom config/configparser uses for RegisterModel.
var catalogue = map[string]*Type{}

// Register adds t to the catalogue. Called from a device package's init
// function; a duplicate name overwrites the previous registration, which
// only matters to tests that register throwaway fakes.
func Register(t *Type) {
	catalogue[t.Name] = t
}

// Lookup returns the registered type named name, or false if none was
// registered.
func Lookup(name string) (*Type, bool) {
	t, ok := catalogue[name]
	return t, ok
}
