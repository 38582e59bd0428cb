package system

import (
	"testing"

	"github.com/rcornwell/pcbox/cpuiface"
	"github.com/rcornwell/pcbox/device"
	"github.com/rcornwell/pcbox/dma"
	"github.com/rcornwell/pcbox/iomap"
	"github.com/rcornwell/pcbox/memmap"
	"github.com/rcornwell/pcbox/pci"
	"github.com/rcornwell/pcbox/pic"
	"github.com/rcornwell/pcbox/timer"
)

type lifecycleCard struct {
	name         string
	log          *[]string
	resetCount   int
	speedChanges int
}

func (c *lifecycleCard) Close() { *c.log = append(*c.log, "close:"+c.name) }
func (c *lifecycleCard) Reset() {
	c.resetCount++
	*c.log = append(*c.log, "reset:"+c.name)
}
func (c *lifecycleCard) Available() bool { return true }
func (c *lifecycleCard) SpeedChanged()   { c.speedChanges++ }
func (c *lifecycleCard) ForceRedraw()    {}

func newTestSystem(cpu cpuiface.CPU) *System {
	mem := memmap.New()
	io := iomap.New()
	picPair := pic.New()
	dmaPair := dma.New8237Pair()
	pciBus := pci.New()
	wheel := timer.NewWheel()
	return New(mem, io, picPair, dmaPair, pciBus, wheel, cpu)
}

func TestConstructionOrderAndLookup(t *testing.T) {
	var log []string
	device.Register(&device.Type{
		Name: "ORDERCARD",
		New: func(opts []device.Option, sys device.Orchestrator) (device.Device, error) {
			return &lifecycleCard{name: opts[0].Value, log: &log}, nil
		},
	})

	s := newTestSystem(nil)
	specs := []BootSpec{
		{TypeName: "ORDERCARD", InstanceName: "a", Opts: []device.Option{{Name: "name", Value: "a"}}},
		{TypeName: "ORDERCARD", InstanceName: "b", Opts: []device.Option{{Name: "name", Value: "b"}}},
	}
	if err := s.Boot(specs); err != nil {
		t.Fatalf("Boot failed: %v", err)
	}
	if len(s.order) != 2 {
		t.Fatalf("order length = %d, want 2", len(s.order))
	}
	dev, ok := s.Device(s.order[0])
	if !ok {
		t.Fatal("first handle did not resolve")
	}
	if dev.(*lifecycleCard).name != "a" {
		t.Fatalf("construction order wrong: first device = %q, want a", dev.(*lifecycleCard).name)
	}
}

func TestUnknownDeviceTypeFails(t *testing.T) {
	s := newTestSystem(nil)
	if _, err := s.AddDevice("NOSUCHTYPE", "x", nil); err == nil {
		t.Fatal("AddDevice with unregistered type should fail")
	}
}

func TestHardResetTeardownAndRebuild(t *testing.T) {
	var log []string
	device.Register(&device.Type{
		Name: "HARDCARD",
		New: func(opts []device.Option, sys device.Orchestrator) (device.Device, error) {
			return &lifecycleCard{name: opts[0].Value, log: &log}, nil
		},
	})

	s := newTestSystem(nil)
	specs := []BootSpec{
		{TypeName: "HARDCARD", InstanceName: "a", Opts: []device.Option{{Name: "name", Value: "a"}}},
		{TypeName: "HARDCARD", InstanceName: "b", Opts: []device.Option{{Name: "name", Value: "b"}}},
	}
	if err := s.Boot(specs); err != nil {
		t.Fatalf("Boot failed: %v", err)
	}
	staleHandle := s.order[0]

	if err := s.HardReset(); err != nil {
		t.Fatalf("HardReset failed: %v", err)
	}

	if len(log) != 2 || log[0] != "close:b" || log[1] != "close:a" {
		t.Fatalf("close order = %v, want [close:b close:a] (reverse construction order)", log)
	}
	if len(s.order) != 2 {
		t.Fatalf("rebuilt order length = %d, want 2", len(s.order))
	}
	if _, ok := s.Device(staleHandle); ok {
		t.Fatal("handle from before HardReset should be invalid after rebuild")
	}
	if _, ok := s.Device(s.order[0]); !ok {
		t.Fatal("freshly rebuilt handle should resolve")
	}
}

func TestSoftResetCallsResetInOrderWithoutRebuilding(t *testing.T) {
	var log []string
	device.Register(&device.Type{
		Name: "SOFTCARD",
		New: func(opts []device.Option, sys device.Orchestrator) (device.Device, error) {
			return &lifecycleCard{name: opts[0].Value, log: &log}, nil
		},
	})

	s := newTestSystem(nil)
	specs := []BootSpec{
		{TypeName: "SOFTCARD", InstanceName: "a", Opts: []device.Option{{Name: "name", Value: "a"}}},
		{TypeName: "SOFTCARD", InstanceName: "b", Opts: []device.Option{{Name: "name", Value: "b"}}},
	}
	if err := s.Boot(specs); err != nil {
		t.Fatalf("Boot failed: %v", err)
	}
	before := s.order[0]

	log = nil
	s.SoftReset()

	if len(log) != 2 || log[0] != "reset:a" || log[1] != "reset:b" {
		t.Fatalf("reset order = %v, want [reset:a reset:b] (construction order)", log)
	}
	if _, ok := s.Device(before); !ok {
		t.Fatal("handles must stay valid across a soft reset")
	}
}

func TestSpeedChangedPropagatesToEveryDevice(t *testing.T) {
	var log []string
	device.Register(&device.Type{
		Name: "SPEEDCARD",
		New: func(opts []device.Option, sys device.Orchestrator) (device.Device, error) {
			return &lifecycleCard{name: opts[0].Value, log: &log}, nil
		},
	})

	s := newTestSystem(nil)
	specs := []BootSpec{
		{TypeName: "SPEEDCARD", InstanceName: "a", Opts: []device.Option{{Name: "name", Value: "a"}}},
	}
	if err := s.Boot(specs); err != nil {
		t.Fatalf("Boot failed: %v", err)
	}
	dev, _ := s.Device(s.order[0])
	s.SpeedChanged()
	if dev.(*lifecycleCard).speedChanges != 1 {
		t.Fatalf("speedChanges = %d, want 1", dev.(*lifecycleCard).speedChanges)
	}
}

func TestApplyEffectDispatchesToCPUAndPIC(t *testing.T) {
	cpu := &cpuiface.StubCPU{}
	s := newTestSystem(cpu)

	s.ApplyEffect(device.Effect{Kind: device.EffectRaiseNMI})
	if !cpu.NMI {
		t.Fatal("EffectRaiseNMI did not raise the stub CPU's NMI line")
	}
	s.ApplyEffect(device.Effect{Kind: device.EffectLowerNMI})
	if cpu.NMI {
		t.Fatal("EffectLowerNMI did not lower the stub CPU's NMI line")
	}
	s.ApplyEffect(device.Effect{Kind: device.EffectRaiseSMI})
	if !cpu.SMI {
		t.Fatal("EffectRaiseSMI did not raise the stub CPU's SMI line")
	}

	// ICW1/ICW2 only (single, uncascaded) so line 3 is ready to accept
	// a request, then unmask it.
	s.PIC.Write(true, pic.CommandPort, 0x10|0x02)
	s.PIC.Write(true, pic.DataPort, 0x08)
	s.PIC.Write(true, pic.DataPort, 0xff&^(1<<3))

	s.ApplyEffect(device.Effect{Kind: device.EffectRaiseIRQ, Line: 3})
	vec, pending := s.AcknowledgeInterrupt()
	if !pending || vec != 0x08+3 {
		t.Fatalf("AcknowledgeInterrupt after EffectRaiseIRQ = (%#x, %v), want (%#x, true)", vec, pending, 0x08+3)
	}

	s.ApplyEffect(device.Effect{Kind: device.EffectNone})
}

func TestMemoryFlushInvalidatesCPUDecodeCache(t *testing.T) {
	cpu := &cpuiface.StubCPU{}
	s := newTestSystem(cpu)
	s.ApplyEffect(device.Effect{Kind: device.EffectRemapMemory})
	if cpu.Invalidated == 0 {
		t.Fatal("EffectRemapMemory should flow through memmap.Map.OnFlush into CPU.InvalidateDecodeCache")
	}
}

func TestBusDelegatesToMemAndIO(t *testing.T) {
	s := newTestSystem(nil)
	backing := make([]byte, 0x1000)
	id := s.Mem.SetHandlers(0, uint32(len(backing)),
		func(addr uint32, ctx any) uint8 { return backing[addr] }, nil, nil,
		func(addr uint32, val uint8, ctx any) { backing[addr] = val }, nil, nil,
		0, 50, nil)
	s.Mem.SetExec(id, backing)

	s.WriteB(0x10, 0x5a)
	if got := s.ReadB(0x10); got != 0x5a {
		t.Fatalf("ReadB after WriteB = %#x, want 0x5a", got)
	}
}
