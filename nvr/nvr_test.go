package nvr

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileStartsZeroFilled(t *testing.T) {
	img := New(128)
	path := filepath.Join(t.TempDir(), "missing.nvr")
	if err := img.Load(path); err != nil {
		t.Fatalf("Load of a missing file should not error: %v", err)
	}
	for i := 0; i < img.Size(); i++ {
		if img.ReadByte(i) != 0 {
			t.Fatalf("byte %d = %#x, want 0 on a fresh image", i, img.ReadByte(i))
		}
	}
	if img.Dirty() {
		t.Fatal("a freshly loaded image should not be dirty")
	}
}

func TestSaveThenLoadRoundTripsBitExact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmos.nvr")
	img := New(64)
	if err := img.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	for i := 0; i < 64; i++ {
		img.WriteByte(i, uint8(i*3+1))
	}
	if !img.Dirty() {
		t.Fatal("image should be dirty after WriteByte")
	}
	if err := img.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if img.Dirty() {
		t.Fatal("image should not be dirty immediately after Save")
	}

	reloaded := New(64)
	if err := reloaded.Load(path); err != nil {
		t.Fatalf("reload: %v", err)
	}
	for i := 0; i < 64; i++ {
		want := uint8(i*3 + 1)
		if got := reloaded.ReadByte(i); got != want {
			t.Fatalf("byte %d after round trip = %#x, want %#x", i, got, want)
		}
	}
}

func TestWriteByteSameValueDoesNotDirty(t *testing.T) {
	img := New(8)
	img.WriteByte(0, 0)
	if img.Dirty() {
		t.Fatal("writing the existing value should not mark the image dirty")
	}
	img.WriteByte(0, 1)
	if !img.Dirty() {
		t.Fatal("writing a changed value should mark the image dirty")
	}
}

func TestSaveIfDirtySkipsCleanImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmos.nvr")
	img := New(8)
	if err := img.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := img.SaveIfDirty(); err != nil {
		t.Fatalf("SaveIfDirty on a clean image: %v", err)
	}
	if _, err := os.Stat(path); err == nil {
		t.Fatal("SaveIfDirty should not create a file for a clean image")
	}
}

func TestTickFlushesEveryFramesPerSaveOnlyWhenDirty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmos.nvr")
	img := New(8)
	if err := img.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}

	for i := 0; i < FramesPerSave-1; i++ {
		if err := img.Tick(); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}
	if _, err := os.Stat(path); err == nil {
		t.Fatal("Tick should not save before FramesPerSave elapses")
	}

	img.WriteByte(0, 0x42)
	if err := img.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Tick should have saved a dirty image at FramesPerSave: %v", err)
	}
	if img.Dirty() {
		t.Fatal("image should not be dirty after Tick saved it")
	}
}

func TestSaveWithoutAttachedPathFails(t *testing.T) {
	img := New(8)
	if err := img.Save(); err == nil {
		t.Fatal("Save on an unattached image should fail")
	}
}
