/*
 * pcbox - Virtual time tick type.
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

// Package tick defines the fabric's virtual-time unit.
package tick

// Tick is a monotonic 64-bit virtual-time counter in fractional
// microseconds. One microsecond of wall/guest time equals TIMER_USEC
// ticks, preserving sub-microsecond scheduling resolution without floats.
type Tick int64

// TIMER_USEC is the number of Tick units per microsecond.
const TIMER_USEC Tick = 1000

// Microseconds converts a Tick duration to whole microseconds, truncating
// any fractional remainder.
func (t Tick) Microseconds() int64 {
	return int64(t / TIMER_USEC)
}

// FromMicroseconds builds a Tick duration from a microsecond count.
func FromMicroseconds(us int64) Tick {
	return Tick(us) * TIMER_USEC
}
