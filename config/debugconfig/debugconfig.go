/*
 * pcbox - Debug options configuration.
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

// Package debugconfig registers the "DEBUG" configuration directive. The
// teacher's version switched on a channel/CPU/tape subsystem name, since
// those were the things its emulator could independently instrument; this
// fabric has no decode or channel subsystem left to single out, so the
// directive is reduced to the one knob that is still meaningful: whether
// the log stream also echoes to stderr.
package debugconfig

import (
	"strings"

	config "github.com/rcornwell/pcbox/config/configparser"
	"github.com/rcornwell/pcbox/util/logger"
)

func init() {
	config.RegisterOption("DEBUG", setDebug)
}

// setDebug processes a line of the form "DEBUG ON" / "DEBUG OFF". Any
// other value is treated as "ON", matching the teacher's permissive
// handling of unrecognized debug sub-options.
func setDebug(_ uint32, value string, _ []config.Option) error {
	if strings.EqualFold(value, "OFF") {
		logger.SetDebug(false)
		return nil
	}
	logger.SetDebug(true)
	return nil
}
