/*
 * pcbox - NVR (CMOS) image persistence.
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

// Package nvr persists a machine's CMOS/NVRAM contents as a flat binary
// image: restored at init, written on shutdown, and written on every
// 200-frame tick while dirty. Adapted from util/tape's file-handle-plus-
// dirty-flag shape, with tape's block framing dropped since an NVR image
// has no record structure — it is read and written whole.
package nvr

import (
	"errors"
	"os"
)

// FramesPerSave is how often a dirty image is flushed to disk absent an
// explicit Save, per spec.md section 6.
const FramesPerSave = 200

var errNotAttached = errors.New("nvr: not attached to a file")

// Image is one machine's CMOS/NVRAM contents.
type Image struct {
	path   string
	data   []byte
	dirty  bool
	frames int
}

// New creates a zero-filled image of size bytes, not yet attached to a
// file.
func New(size int) *Image {
	return &Image{data: make([]byte, size)}
}

// Load attaches path and restores the image from it. A missing file is
// not an error: the machine boots with a zero-filled image and path
// becomes the target for future saves, matching a brand-new machine's
// first run.
func (img *Image) Load(path string) error {
	img.path = path
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			img.dirty = false
			return nil
		}
		return err
	}
	copy(img.data, raw)
	img.dirty = false
	return nil
}

// Save writes the image to its attached path unconditionally.
func (img *Image) Save() error {
	if img.path == "" {
		return errNotAttached
	}
	if err := os.WriteFile(img.path, img.data, 0o644); err != nil {
		return err
	}
	img.dirty = false
	return nil
}

// SaveIfDirty writes the image only if a byte has changed since the last
// successful Load or Save.
func (img *Image) SaveIfDirty() error {
	if !img.dirty {
		return nil
	}
	return img.Save()
}

// Dirty reports whether the image has unsaved changes.
func (img *Image) Dirty() bool { return img.dirty }

// Size returns the image length in bytes.
func (img *Image) Size() int { return len(img.data) }

// ReadByte returns the byte at off.
func (img *Image) ReadByte(off int) uint8 {
	return img.data[off]
}

// WriteByte sets the byte at off, marking the image dirty only if the
// value actually changes.
func (img *Image) WriteByte(off int, val uint8) {
	if img.data[off] != val {
		img.data[off] = val
		img.dirty = true
	}
}

// Tick advances the frame counter by one and flushes the image once
// FramesPerSave frames have elapsed while dirty, the periodic save a
// machine's RTC/timer device drives once per emulated video frame.
func (img *Image) Tick() error {
	img.frames++
	if img.frames < FramesPerSave {
		return nil
	}
	img.frames = 0
	return img.SaveIfDirty()
}
