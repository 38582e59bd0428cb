package memmap

import "testing"

// romImage returns a 64KiB ROM image whose reset vector bytes spell 0xEA at
// offset 0xFFF0 (0xFFFF0 - 0xF0000), matching spec.md scenario 1.
func romImage() []byte {
	rom := make([]byte, 0x10000)
	rom[0xfff0] = 0xea
	return rom
}

// TestShadowRAMToggle implements spec.md §8 scenario 1: a ROM mapping at
// 0xF0000..0xFFFFF overlaid on DRAM. With shadowing disabled, reads see ROM
// and writes are dropped. Enabling write-shadowing (WriteSrc = SrcExtAny,
// i.e. fall through to the DRAM underneath) lets a write land in DRAM
// while reads still come from ROM; disabling it again (WriteSrc =
// SrcInternal) drops a plain write and reads keep returning the ROM byte.
func TestShadowRAMToggle(t *testing.T) {
	m := New()

	dram := make([]byte, 0x10000)
	romID := m.SetHandlers(0xf0000, 0x10000, nil, nil, nil, nil, nil, nil, FlagROM, 10, nil)
	m.SetExec(romID, romImage())

	dramID := m.SetHandlers(0xf0000, 0x10000, nil, nil, nil, nil, nil, nil, 0, 5, nil)
	m.SetExec(dramID, dram)

	if got := m.ReadB(0xffff0); got != 0xea {
		t.Fatalf("ReadB(0xffff0) = %#x, want 0xea (ROM)", got)
	}

	// Shadow writes enabled: chipset reg[0x14] |= 0x30 routes writes to the
	// DRAM mapping underneath ROM, reads still come from ROM.
	m.SetState(0xf0000, 0x10000, State{ReadSrc: SrcInternal, WriteSrc: SrcExtAny})

	m.WriteB(0xffff0, 0xaa)
	if dram[0xfff0] != 0xaa {
		t.Fatalf("shadow write did not reach DRAM: dram[0xfff0] = %#x", dram[0xfff0])
	}
	if got := m.ReadB(0xffff0); got != 0xea {
		t.Fatalf("ReadB(0xffff0) = %#x, want 0xea (still ROM while ReadSrc=internal)", got)
	}

	// Disable shadow writes: back to ROM-only, plain write must be dropped.
	m.SetState(0xf0000, 0x10000, State{ReadSrc: SrcInternal, WriteSrc: SrcInternal})
	m.WriteB(0xffff0, 0x55)
	if got := m.ReadB(0xffff0); got != 0xea {
		t.Fatalf("ReadB(0xffff0) = %#x, want 0xea (write must be ignored, ROM read-only)", got)
	}
}

// TestSMRAMOverlay implements spec.md §8 scenario 6: outside SMM a read of
// 0xa0000 goes to the VGA aperture; raising SMI makes the same address
// resolve to the higher-priority SMRAM-only mapping instead.
func TestSMRAMOverlay(t *testing.T) {
	m := New()
	inSMM := false
	m.InSMM = func() bool { return inSMM }

	vga := make([]byte, 0x20000)
	vga[0] = 0x11
	vgaID := m.SetHandlers(0xa0000, 0x20000, nil, nil, nil, nil, nil, nil, 0, 5, nil)
	m.SetExec(vgaID, vga)

	smram := make([]byte, 0x20000)
	smram[0] = 0x22
	smID := m.SetHandlers(0xa0000, 0x20000, nil, nil, nil, nil, nil, nil, FlagSMRAM|FlagSMMOnly, 20, nil)
	m.SetExec(smID, smram)

	if got := m.ReadB(0xa0000); got != 0x11 {
		t.Fatalf("outside SMM: ReadB(0xa0000) = %#x, want 0x11 (VGA)", got)
	}

	inSMM = true
	m.Flush() // InSMM visibility changed; cached chains must be recomputed.
	if got := m.ReadB(0xa0000); got != 0x22 {
		t.Fatalf("in SMM: ReadB(0xa0000) = %#x, want 0x22 (SMRAM)", got)
	}

	inSMM = false
	m.Flush()
	if got := m.ReadB(0xa0000); got != 0x11 {
		t.Fatalf("after SMI ends: ReadB(0xa0000) = %#x, want 0x11 (VGA again)", got)
	}
}

func TestUnalignedReadWIsTwoByteReads(t *testing.T) {
	m := New()
	buf := []byte{0x00, 0x11, 0x22, 0x00}
	id := m.SetHandlers(0x1000, 0x1000, nil, nil, nil, nil, nil, nil, 0, 1, nil)
	m.SetExec(id, buf)

	// Odd address: ReadW(0x1001) must equal ReadB(0x1001) | ReadB(0x1002)<<8.
	got := m.ReadW(0x1001)
	want := uint16(m.ReadB(0x1001)) | uint16(m.ReadB(0x1002))<<8
	if got != want {
		t.Fatalf("ReadW(odd) = %#x, want %#x", got, want)
	}
	if want != 0x2211 {
		t.Fatalf("ReadW(odd) = %#x, want 0x2211", want)
	}
}

func TestReadLSpansPageBoundary(t *testing.T) {
	m := New()
	lo := []byte{0xaa, 0xbb}
	hi := []byte{0xcc, 0xdd, 0, 0}

	loID := m.SetHandlers(0, PageSize, nil, nil, nil, nil, nil, nil, 0, 1, nil)
	m.SetExec(loID, append(make([]byte, PageSize-2), lo...))

	hiID := m.SetHandlers(PageSize, PageSize, nil, nil, nil, nil, nil, nil, 0, 1, nil)
	m.SetExec(hiID, hi)

	addr := uint32(PageSize - 2)
	got := m.ReadL(addr)
	want := uint32(0xaa) | uint32(0xbb)<<8 | uint32(0xcc)<<16 | uint32(0xdd)<<24
	if got != want {
		t.Fatalf("ReadL(page-spanning) = %#x, want %#x", got, want)
	}
}

func TestWriteLSpansPageBoundary(t *testing.T) {
	m := New()
	lo := make([]byte, PageSize)
	hi := make([]byte, PageSize)

	loID := m.SetHandlers(0, PageSize, nil, nil, nil, nil, nil, nil, 0, 1, nil)
	m.SetExec(loID, lo)
	hiID := m.SetHandlers(PageSize, PageSize, nil, nil, nil, nil, nil, nil, 0, 1, nil)
	m.SetExec(hiID, hi)

	addr := uint32(PageSize - 2)
	m.WriteL(addr, 0xddccbbaa)

	if lo[PageSize-2] != 0xaa || lo[PageSize-1] != 0xbb {
		t.Fatalf("low page bytes wrong: %#x %#x", lo[PageSize-2], lo[PageSize-1])
	}
	if hi[0] != 0xcc || hi[1] != 0xdd {
		t.Fatalf("high page bytes wrong: %#x %#x", hi[0], hi[1])
	}
}

func TestUnmappedReadsOpenBus(t *testing.T) {
	m := New()
	if got := m.ReadB(0x12345); got != 0xff {
		t.Fatalf("ReadB(unmapped) = %#x, want 0xff", got)
	}
	if got := m.ReadW(0x12345); got != 0xffff {
		t.Fatalf("ReadW(unmapped) = %#x, want 0xffff", got)
	}
	if got := m.ReadL(0x12340); got != 0xffffffff {
		t.Fatalf("ReadL(unmapped) = %#x, want 0xffffffff", got)
	}
	// Writes to unmapped space are silently dropped: no panic, no effect.
	m.WriteB(0x12345, 0x42)
	m.WriteW(0x12345, 0x4242)
	m.WriteL(0x12345, 0x42424242)
}

func TestMappingNeverPartiallyEnabled(t *testing.T) {
	m := New()
	buf := make([]byte, PageSize)
	buf[0] = 0x77
	id := m.SetHandlers(0, PageSize, nil, nil, nil, nil, nil, nil, 0, 1, nil)
	m.SetExec(id, buf)

	m.Disable(id)
	if got := m.ReadB(0); got != 0xff {
		t.Fatalf("ReadB after Disable = %#x, want open bus 0xff", got)
	}
	m.WriteB(0, 0x99)
	if buf[0] != 0x77 {
		t.Fatalf("write reached disabled mapping's backing store: %#x", buf[0])
	}

	m.Enable(id)
	if got := m.ReadB(0); got != 0x77 {
		t.Fatalf("ReadB after Enable = %#x, want 0x77", got)
	}
}

func TestPriorityOrderingAndTieBreakByID(t *testing.T) {
	m := New()
	lowBuf := []byte{0x01}
	highBuf := []byte{0x02}

	lowID := m.SetHandlers(0, PageSize, nil, nil, nil, nil, nil, nil, 0, 1, nil)
	m.SetExec(lowID, lowBuf)
	highID := m.SetHandlers(0, PageSize, nil, nil, nil, nil, nil, nil, 0, 9, nil)
	m.SetExec(highID, highBuf)

	if got := m.ReadB(0); got != 0x02 {
		t.Fatalf("ReadB = %#x, want 0x02 (higher priority wins)", got)
	}

	c := m.chain(0)
	if len(c) != 2 || c[0].id != highID || c[1].id != lowID {
		t.Fatalf("chain order wrong: %+v", c)
	}
}
