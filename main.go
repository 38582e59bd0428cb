/*
 * pcbox - Main process.
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

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	getopt "github.com/pborman/getopt/v2"
	"github.com/rcornwell/pcbox/command/reader"
	config "github.com/rcornwell/pcbox/config/configparser"
	"github.com/rcornwell/pcbox/cpuiface"
	"github.com/rcornwell/pcbox/dma"
	"github.com/rcornwell/pcbox/iomap"
	"github.com/rcornwell/pcbox/memmap"
	"github.com/rcornwell/pcbox/pci"
	"github.com/rcornwell/pcbox/pic"
	"github.com/rcornwell/pcbox/system"
	"github.com/rcornwell/pcbox/telnet"
	"github.com/rcornwell/pcbox/timer"
	logger "github.com/rcornwell/pcbox/util/logger"

	_ "github.com/rcornwell/pcbox/config/debugconfig"
	_ "github.com/rcornwell/pcbox/devices/chipset"
	_ "github.com/rcornwell/pcbox/devices/ide"
	_ "github.com/rcornwell/pcbox/devices/rtc"
	_ "github.com/rcornwell/pcbox/devices/sio"
	_ "github.com/rcornwell/pcbox/devices/uart"
)

var Logger *slog.Logger

// wirePIC installs the two 8259 pairs' command/data ports (0x20/0x21 for
// the master, 0xa0/0xa1 for the slave) into the I/O map. This fixed ISA
// wiring is board-level, not something any device's config options
// reprogram, so it is done once here rather than by a device constructor.
func wirePIC(io *iomap.Map, p *pic.Pair) {
	io.SetHandler(0x20, 1,
		func(_ uint16, _ any) uint8 { return p.Read(true, pic.CommandPort) }, nil, nil,
		func(_ uint16, v uint8, _ any) { p.Write(true, pic.CommandPort, v) }, nil, nil, nil)
	io.SetHandler(0x21, 1,
		func(_ uint16, _ any) uint8 { return p.Read(true, pic.DataPort) }, nil, nil,
		func(_ uint16, v uint8, _ any) { p.Write(true, pic.DataPort, v) }, nil, nil, nil)
	io.SetHandler(0xa0, 1,
		func(_ uint16, _ any) uint8 { return p.Read(false, pic.CommandPort) }, nil, nil,
		func(_ uint16, v uint8, _ any) { p.Write(false, pic.CommandPort, v) }, nil, nil, nil)
	io.SetHandler(0xa1, 1,
		func(_ uint16, _ any) uint8 { return p.Read(false, pic.DataPort) }, nil, nil,
		func(_ uint16, v uint8, _ any) { p.Write(false, pic.DataPort, v) }, nil, nil, nil)
}

func buildSystem() *system.System {
	mem := memmap.New()
	io := iomap.New()
	picPair := pic.New()
	dmaPair := dma.New8237Pair()
	pciBus := pci.New()
	wheel := timer.NewWheel()

	sys := system.New(mem, io, picPair, dmaPair, pciBus, wheel, &cpuiface.StubCPU{})

	wirePIC(io, picPair)
	pciBus.RegisterPorts(io)
	pciBus.SetIRQRouting(1, 11)
	pciBus.SetIRQRouting(2, 10)
	pciBus.SetIRQRouting(3, 9)
	pciBus.SetIRQRouting(4, 5)
	pciBus.RaiseIRQ = picPair.Raise
	pciBus.LowerIRQ = picPair.Clear

	return sys
}

func main() {
	optConfig := getopt.StringLong("config", 'c', "pcbox.cfg", "Configuration file")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optDebug := getopt.BoolLong("debug", 'd', "Echo log to stderr")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var file *os.File
	if optLogFile != nil && *optLogFile != "" {
		var err error
		file, err = os.Create(*optLogFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "pcbox: ", err)
			os.Exit(6)
		}
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelInfo)
	Logger = slog.New(logger.NewHandler(file, &slog.HandlerOptions{Level: programLevel, AddSource: false}, optDebug))
	slog.SetDefault(Logger)

	Logger.Info("pcbox started")

	if optConfig == nil || *optConfig == "" {
		Logger.Error("please specify a configuration file")
		os.Exit(6)
	}

	if _, err := os.Stat(*optConfig); os.IsNotExist(err) {
		Logger.Error("configuration file not found", "path", *optConfig)
		os.Exit(6)
	}

	sys := buildSystem()

	if err := config.LoadConfigFile(*optConfig); err != nil {
		Logger.Error(err.Error())
		os.Exit(6)
	}

	specs := make([]system.BootSpec, 0, len(config.PendingBoot()))
	for i, b := range config.PendingBoot() {
		specs = append(specs, system.BootSpec{
			TypeName:     b.TypeName,
			InstanceName: b.TypeName + "#" + strconv.Itoa(i),
			Opts:         b.Opts,
		})
	}
	if err := sys.Boot(specs); err != nil {
		Logger.Error(err.Error())
		os.Exit(6)
	}

	if err := telnet.Start(); err != nil {
		Logger.Error(err.Error())
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		reader.ConsoleReader(sys)
		close(done)
	}()

	select {
	case <-sigChan:
		fmt.Println("got quit signal")
	case <-done:
	}

	Logger.Info("shutting down")
	telnet.Stop()
	Logger.Info("servers stopped")
}
