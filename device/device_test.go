package device

import "testing"

type fakeDevice struct {
	closed       bool
	resetCount   int
	speedChanges int
	redraws      int
}

func (f *fakeDevice) Close()          { f.closed = true }
func (f *fakeDevice) Reset()          { f.resetCount++ }
func (f *fakeDevice) Available() bool { return true }
func (f *fakeDevice) SpeedChanged()   { f.speedChanges++ }
func (f *fakeDevice) ForceRedraw()    { f.redraws++ }

type fakeOrchestrator struct {
	added []string
}

func (o *fakeOrchestrator) AddDevice(typeName, instanceName string, opts []Option) (Handle, error) {
	o.added = append(o.added, typeName+":"+instanceName)
	return NewHandle(uint32(len(o.added)), 1), nil
}

func TestRegisterAndLookup(t *testing.T) {
	dev := &fakeDevice{}
	Register(&Type{
		Name:         "TESTCARD",
		Capabilities: CapISA | CapCOM,
		New: func(opts []Option, sys Orchestrator) (Device, error) {
			return dev, nil
		},
	})

	ty, ok := Lookup("TESTCARD")
	if !ok {
		t.Fatal("TESTCARD not found after Register")
	}
	if ty.Capabilities&CapPCI != 0 {
		t.Fatal("TESTCARD should not report CapPCI")
	}

	orch := &fakeOrchestrator{}
	d, err := ty.New(nil, orch)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	d.Reset()
	if dev.resetCount != 1 {
		t.Fatalf("resetCount = %d, want 1", dev.resetCount)
	}
}

func TestLookupMissingType(t *testing.T) {
	if _, ok := Lookup("NOSUCHDEVICE"); ok {
		t.Fatal("Lookup found a type that was never registered")
	}
}

func TestHandleValidity(t *testing.T) {
	var zero Handle
	if zero.Valid() {
		t.Fatal("zero-value Handle reported valid")
	}
	h := NewHandle(3, 7)
	if !h.Valid() {
		t.Fatal("constructed Handle reported invalid")
	}
	if h.Index() != 3 || h.Generation() != 7 {
		t.Fatalf("Index/Generation = %d/%d, want 3/7", h.Index(), h.Generation())
	}
}

func TestSubordinateDeviceComposition(t *testing.T) {
	orch := &fakeOrchestrator{}
	parent := &Type{
		Name: "CHIPSET",
		New: func(opts []Option, sys Orchestrator) (Device, error) {
			if _, err := sys.AddDevice("IDE", "ide0", nil); err != nil {
				return nil, err
			}
			if _, err := sys.AddDevice("PORT92", "port92", nil); err != nil {
				return nil, err
			}
			return &fakeDevice{}, nil
		},
	}
	if _, err := parent.New(nil, orch); err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if len(orch.added) != 2 || orch.added[0] != "IDE:ide0" || orch.added[1] != "PORT92:port92" {
		t.Fatalf("subordinate devices added = %v, want [IDE:ide0 PORT92:port92]", orch.added)
	}
}
