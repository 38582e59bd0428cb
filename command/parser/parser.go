/*
 * pcbox - Command parser.
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

// Package parser implements the monitor's command line: a hand-written
// tokenizer over a single input line, an abbreviation-matching command
// table, and the tab-completion hooks the reader's line editor drives.
// Devices are addressed by their configured base address (hex, the
// configparser's address space) rather than by name; command/command's
// registry maps an address to the device's Command implementation.
package parser

import (
	"errors"
	"strconv"
	"strings"
	"unicode"

	command "github.com/rcornwell/pcbox/command/command"
	"github.com/rcornwell/pcbox/system"
)

type cmd struct {
	name     string
	min      int
	process  func(*cmdLine, *system.System) (bool, error)
	complete func(*cmdLine) []string
}

type cmdLine struct {
	line string
	pos  int
}

var cmdList = []cmd{
	{name: "attach", min: 2, process: attach, complete: attachComplete},
	{name: "detach", min: 2, process: detach, complete: func(l *cmdLine) []string {
		return l.scanDevice(command.ValidAttach)
	}},
	{name: "set", min: 3, process: set, complete: setComplete},
	{name: "unset", min: 4, process: unset, complete: setComplete},
	{name: "quit", min: 1, process: quit},
	{name: "show", min: 2, process: show, complete: showComplete},
	{name: "examine", min: 2, process: examine},
	{name: "deposit", min: 2, process: deposit},
	{name: "reset", min: 5, process: reset},
}

// ProcessCommand executes one command line against sys.
func ProcessCommand(commandLine string, sys *system.System) (bool, error) {
	line := cmdLine{line: commandLine}
	word := line.getWord(false)

	match := matchList(word)
	if len(match) == 0 {
		return false, errors.New("command not found: " + word)
	}
	if len(match) > 1 {
		return false, errors.New("ambiguous command: " + word)
	}

	return match[0].process(&line, sys)
}

// CompleteCmd returns the line editor's tab-completion candidates for
// commandLine.
func CompleteCmd(commandLine string) []string {
	line := cmdLine{line: commandLine}
	name := line.getWord(false)

	if !line.isEOL() && line.line[line.pos] == ' ' {
		line.skipSpace()
		match := matchList(name)
		if len(match) != 1 || match[0].complete == nil {
			return nil
		}
		return match[0].complete(&line)
	}

	matches := make([]string, 0, len(cmdList))
	for _, m := range cmdList {
		if strings.HasPrefix(m.name, name) {
			matches = append(matches, m.name)
		}
	}
	return matches
}

// matchCommand reports whether command abbreviates match's name to at
// least match.min characters.
func matchCommand(match cmd, word string) bool {
	if len(word) < match.min || len(word) > len(match.name) {
		return false
	}
	return strings.HasPrefix(match.name, word)
}

func matchList(word string) []cmd {
	if word == "" {
		return nil
	}
	var match []cmd
	for _, m := range cmdList {
		if matchCommand(m, word) {
			match = append(match, m)
		}
	}
	return match
}

// matchOption looks up a named option valid for cmdType.
func matchOption(name string, optList []command.Options, cmdType int) command.Options {
	for _, opt := range optList {
		if (opt.OptionValid&cmdType) == 0 || opt.Name != name {
			continue
		}
		return opt
	}
	return command.Options{OptionType: -1}
}

func (line *cmdLine) skipSpace() {
	for line.pos < len(line.line) && unicode.IsSpace(rune(line.line[line.pos])) {
		line.pos++
	}
}

func (line *cmdLine) isEOL() bool {
	return line.pos >= len(line.line) || line.line[line.pos] == '#'
}

func (line *cmdLine) getNext() byte {
	line.pos++
	if line.isEOL() {
		return 0
	}
	return line.line[line.pos]
}

func (line *cmdLine) getPeek() byte {
	if line.pos+1 >= len(line.line) {
		return 0
	}
	return line.line[line.pos+1]
}

// parseQuoteString parses a "quoted string" or a bare space-terminated
// token.
func (line *cmdLine) parseQuoteString() (string, bool) {
	inQuote := false
	value := ""

	if line.getPeek() == '"' {
		inQuote = true
		_ = line.getNext()
	}

	for {
		by := line.getNext()
		if by == '"' && inQuote {
			by = line.getNext()
			if by != '"' {
				return value, true
			}
		}
		space := unicode.IsSpace(rune(by))
		if !inQuote && (space || by == 0) {
			return value, true
		}
		value += string(by)
		if line.isEOL() {
			return value, !inQuote
		}
	}
}

// getAddr parses a hex device base address token (with an optional 0x
// prefix), the monitor's device identifier.
func (line *cmdLine) getAddr() string {
	line.skipSpace()
	if line.isEOL() {
		return ""
	}

	value := ""
	by := line.line[line.pos]
	for {
		if !unicode.IsLetter(rune(by)) && !unicode.IsDigit(rune(by)) {
			return ""
		}
		value += string([]byte{by})
		by = line.getNext()
		if line.isEOL() || unicode.IsSpace(rune(by)) {
			break
		}
	}
	return strings.ToLower(value)
}

// parseAddr parses a hex token into a base address, stripping an
// optional 0x/0X prefix.
func parseAddr(tok string) (uint32, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(tok, "0x"), "0X")
	v, err := strconv.ParseUint(trimmed, 16, 32)
	if err != nil {
		return 0, errors.New("invalid address: " + tok)
	}
	return uint32(v), nil
}

// getWord parses a bare word, stopping at '=' only when equal is set.
func (line *cmdLine) getWord(equal bool) string {
	line.skipSpace()
	if line.isEOL() {
		return ""
	}

	pos := line.pos
	value := ""
	by := line.line[line.pos]
	for {
		if !unicode.IsLetter(rune(by)) {
			line.pos = pos
			return ""
		}
		value += string([]byte{by})
		by = line.getNext()
		if line.isEOL() || unicode.IsSpace(rune(by)) {
			break
		}
		if by == '=' {
			if equal {
				break
			}
			line.pos = pos
			return ""
		}
	}
	return strings.ToLower(value)
}

// getDevice reads a base address token and resolves it to a registered
// Command.
func (line *cmdLine) getDevice() (command.Command, error) {
	tok := line.getAddr()
	if tok == "" {
		return nil, errors.New("missing device address")
	}
	addr, err := parseAddr(tok)
	if err != nil {
		return nil, err
	}
	dev, ok := command.Get(addr)
	if !ok {
		return nil, errors.New("no such device: " + tok)
	}
	return dev, nil
}

// getOption parses one option token against opts.
func (line *cmdLine) getOption(opts []command.Options, cmdType int) (*command.CmdOption, error) {
	name := line.getWord(true)
	opt := command.CmdOption{Name: name}

	if name == "" {
		if cmdType == command.ValidAttach && !line.isEOL() && !unicode.IsSpace(rune(line.line[line.pos])) {
			line.pos--
			file, ok := line.parseQuoteString()
			if !ok {
				return nil, errors.New("invalid option")
			}
			opt.Name = "file"
			opt.EqualOpt = file
		}
		return &opt, nil
	}

	match := matchOption(name, opts, cmdType)
	switch match.OptionType {
	case -1:
		return nil, errors.New("unknown option: " + name)
	case command.OptionSwitch:
		if line.isEOL() || line.line[line.pos] != ' ' {
			break
		}
		return nil, errors.New("switch option can't have arguments: " + name)
	case command.OptionFile:
		file, ok := line.parseQuoteString()
		if !ok {
			return nil, errors.New("file name not valid: " + name)
		}
		opt.EqualOpt = file
	case command.OptionNumber:
		if line.isEOL() || line.line[line.pos] != '=' {
			return nil, errors.New("number option requires a value: " + name)
		}
		_ = line.getNext()
		numStr := line.getAddr()
		num, err := strconv.ParseUint(numStr, 10, 32)
		if err != nil {
			return nil, errors.New("number option requires a value: " + name)
		}
		opt.Value = int(num)
	case command.OptionList:
		if line.isEOL() || line.line[line.pos] != '=' {
			return nil, errors.New("list option requires a value: " + name)
		}
		_ = line.getNext()
		listStr := line.getWord(false)
		opt.EqualOpt = listStr
		for _, mod := range match.OptionList {
			if strings.ToLower(mod) == listStr {
				return &opt, nil
			}
		}
		return nil, errors.New("option not valid for device: " + name)
	default:
		return nil, errors.New("invalid option type: " + name)
	}
	return &opt, nil
}

// getOptions scans a run of options off the line.
func (line *cmdLine) getOptions(dev command.Command, cmdType int) ([]*command.CmdOption, error) {
	optlist := []*command.CmdOption{}
	opts := dev.Options("")
	for {
		opt, err := line.getOption(opts, cmdType)
		if err != nil {
			return optlist, err
		}
		if opt == nil || opt.Name == "" {
			break
		}
		optlist = append(optlist, opt)
	}
	return optlist, nil
}

// getShowOptions scans the bare option names a show command lists.
func (line *cmdLine) getShowOptions(dev command.Command) ([]*command.CmdOption, error) {
	optlist := []*command.CmdOption{}
	opts := dev.Options("")
	for {
		name := line.getWord(false)
		if name == "" {
			break
		}
		if matchOption(name, opts, command.ValidShow).OptionType == -1 {
			return nil, errors.New("invalid option: " + name)
		}
		optlist = append(optlist, &command.CmdOption{Name: name})
	}
	return optlist, nil
}

// scanDevice returns tab-completion candidates matching the address
// prefix already typed, restricted to devices with at least one option
// valid for cmdType.
func (line *cmdLine) scanDevice(cmdType int) []string {
	leading := line.line[:line.pos]
	prefix := ""
	pos := line.pos
	for pos < len(line.line) && line.line[pos] != ' ' && line.line[pos] != '#' {
		prefix += string(line.line[pos])
		pos++
	}
	prefix = strings.ToLower(prefix)

	var matches []string
	for _, addr := range command.List() {
		hexAddr := strconv.FormatUint(uint64(addr), 16)
		if !strings.HasPrefix(hexAddr, prefix) {
			continue
		}
		dev, _ := command.Get(addr)
		if cmdType != 0 {
			valid := false
			for _, opt := range dev.Options("") {
				if (opt.OptionValid & cmdType) != 0 {
					valid = true
					break
				}
			}
			if !valid {
				continue
			}
		}
		matches = append(matches, leading+hexAddr+" ")
	}
	return matches
}

func attachComplete(line *cmdLine) []string {
	return line.scanDevice(command.ValidAttach)
}

func setComplete(line *cmdLine) []string {
	return line.scanDevice(command.ValidSet)
}

func showComplete(line *cmdLine) []string {
	return line.scanDevice(command.ValidShow)
}
