/*
 * pcbox - Configuration file parser
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

package configparser

import (
	"fmt"

	"github.com/rcornwell/pcbox/device"
)

// BootSpec names one device.Type the config file asked for, queued until
// main constructs a System to boot it against. A RegisterModel callback
// cannot build the device itself the way the teacher's did, since pcbox
// devices live in a per-machine System arena rather than process-global
// tables; it queues a BootSpec instead and main drains PendingBoot after
// LoadConfigFile returns.
type BootSpec struct {
	TypeName string
	Addr     uint32
	Opts     []device.Option
}

var pending []BootSpec

// QueueBoot records one configured device for System.Boot. addr is
// carried into Opts as a synthetic "addr" option (hex, no 0x prefix) so a
// device.Type.New implementation learns its base address the same way it
// learns any other option, without widening the device.Orchestrator
// contract just to pass one extra argument through.
func QueueBoot(typeName string, addr uint32, opts []Option) {
	devOpts := make([]device.Option, 0, len(opts)+1)
	devOpts = append(devOpts, device.Option{Name: "addr", Value: fmt.Sprintf("%x", addr)})
	for _, opt := range opts {
		val := opt.EqualOpt
		if val == "" && len(opt.Value) > 0 && opt.Value[0] != nil {
			val = *opt.Value[0]
		}
		devOpts = append(devOpts, device.Option{Name: opt.Name, Value: val})
	}
	pending = append(pending, BootSpec{TypeName: typeName, Addr: addr, Opts: devOpts})
}

// PendingBoot returns every BootSpec queued since the process started, in
// configuration-file order.
func PendingBoot() []BootSpec {
	return pending
}
