package gxpressure

// --------------------------------------------------------------------------
//
//	Gurux Ltd
//
// Filename:        $HeadURL$
//
// Version:         $Revision$,
//
//	$Date$
//	$Author$
//
// # Copyright (c) Gurux Ltd
//
// ---------------------------------------------------------------------------
//
//	DESCRIPTION
//
// This file is a part of Gurux Device Framework.
//
// Gurux Device Framework is Open Source software; you can redistribute it
// and/or modify it under the terms of the GNU General Public License
// as published by the Free Software Foundation; version 2 of the License.
// Gurux Device Framework is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU General Public License for more details.
//
// More information of Gurux products: https://www.gurux.org
//
// This code is licensed under the GNU General Public License v2.
// Full text may be retrieved at http://www.gnu.org/licenses/gpl-2.0.txt
// ---------------------------------------------------------------------------

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

// pascals is the size of each unit in pascals.
var pascals = map[PressureUnit]float64{
	PSI:   6894.757293168,
	Bar:   100000,
	MBar:  100,
	Pa:    1,
	KPa:   1000,
	MPa:   1000000,
	Torr:  133.322368421,
	MTorr: 0.133322368421,
	Atm:   101325,
	InHg:  3386.389,
	MmHg:  133.322387415,
	InH2O: 249.08891,
}

// IEEE 488.2 error codes used by the simulator.
const (
	simUndefinedHeader  = -113
	simIllegalParameter = -224
	simDataOutOfRange   = -222
)

type simChannel struct {
	pressure float64 // Pa
	setpoint float64 // Pa
	unit     PressureUnit
	mode     ControlMode
	mtype    MeasurementType
	upper    float64
	lower    float64
	stable   bool
}

// GXSimulator is an in-memory pressure controller that speaks the given
// grammar. It implements Transport and is used for testing and demos.
type GXSimulator struct {
	mu       sync.Mutex
	grammar  *Grammar
	channels []simChannel
	errors   []InstrumentFault
	// pendingFault marks the next reply with the fault prefix.
	pendingFault bool
	// differential is set when the differential channel is active.
	differential bool
	received     *replyBuffer

	drop          int
	writeFailures int
	writeErr      error
	written       []string
	closed        bool

	// EchoUnit appends the unit to pressure readings.
	EchoUnit bool
	// Identity is returned to the identification query.
	Identity Identity
}

// NewGXSimulator creates a simulator. If grammar is nil the generic grammar
// is used.
func NewGXSimulator(grammar *Grammar) *GXSimulator {
	if grammar == nil {
		grammar = GenericGrammar()
	}
	_ = grammar.Validate()
	unit := PSI
	if _, ok := grammar.unit(unit); !ok {
		for name := range grammar.Units {
			unit, _ = ParsePressureUnit(name)
			break
		}
	}
	manufacturer := grammar.Manufacturer
	if manufacturer == "" {
		manufacturer = "GURUX"
	}
	s := &GXSimulator{
		grammar:  grammar,
		channels: make([]simChannel, grammar.Channels),
		received: newReplyBuffer(),
		EchoUnit: grammar.UnitPlacement == UnitSuffix,
		Identity: Identity{Manufacturer: manufacturer, Model: grammar.Model, Serial: "000001", Firmware: "1.0.0"},
	}
	for i := range s.channels {
		s.channels[i] = simChannel{pressure: 101325, setpoint: 101325, unit: unit, mode: ModeMeasure, stable: true}
	}
	return s
}

// PushError adds an entry to the simulated error queue.
func (s *GXSimulator) PushError(code int, msg string) {
	s.mu.Lock()
	s.errors = append(s.errors, InstrumentFault{Code: code, Message: msg})
	s.mu.Unlock()
}

// SetFault marks the next reply with the fault prefix of the grammar.
func (s *GXSimulator) SetFault() {
	s.mu.Lock()
	s.pendingFault = true
	s.mu.Unlock()
}

// SetPressure sets the measured pressure of a channel.
func (s *GXSimulator) SetPressure(ch Channel, value float64, unit PressureUnit) {
	s.mu.Lock()
	s.channels[ch-1].pressure = value * pascals[unit]
	s.mu.Unlock()
}

// SetStable sets the stability flag of a channel.
func (s *GXSimulator) SetStable(ch Channel, stable bool) {
	s.mu.Lock()
	s.channels[ch-1].stable = stable
	s.mu.Unlock()
}

// Pressure returns the measured pressure of a channel in the channel unit.
func (s *GXSimulator) Pressure(ch Channel) (float64, PressureUnit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.channels[ch-1]
	return c.pressure / pascals[c.unit], c.unit
}

// Mode returns the mode of a channel.
func (s *GXSimulator) Mode(ch Channel) ControlMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[ch-1].mode
}

// MeasurementType returns the measurement type of a channel.
func (s *GXSimulator) MeasurementType(ch Channel) MeasurementType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[ch-1].mtype
}

// Differential returns true when the differential channel is active.
func (s *GXSimulator) Differential() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.differential
}

// Drop makes the simulator ignore the next n commands without replying.
func (s *GXSimulator) Drop(n int) {
	s.mu.Lock()
	s.drop = n
	s.mu.Unlock()
}

// FailWrites makes the next n writes fail with err.
func (s *GXSimulator) FailWrites(n int, err error) {
	s.mu.Lock()
	s.writeFailures, s.writeErr = n, err
	s.mu.Unlock()
}

// Written returns the command lines received so far.
func (s *GXSimulator) Written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.written...)
}

// IsClosed returns true after Close.
func (s *GXSimulator) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Write implements Transport.
func (s *GXSimulator) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	if s.writeFailures > 0 {
		s.writeFailures--
		return s.writeErr
	}
	line := strings.TrimSuffix(string(p), s.grammar.CommandTerminator)
	s.written = append(s.written, line)
	reply, ok := s.process(line)
	if s.drop > 0 {
		s.drop--
		return nil
	}
	if ok {
		s.received.Append([]byte(reply + s.grammar.ReplyTerminator))
	}
	return nil
}

// ReadUntil implements Transport.
func (s *GXSimulator) ReadUntil(terminator byte, wait time.Duration) ([]byte, error) {
	return s.received.ReadUntil([]byte{terminator}, wait)
}

// Close implements Transport.
func (s *GXSimulator) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.received.Fail(io.ErrClosedPipe)
	return nil
}

// process executes one command line and returns the reply. The second
// return value is false when the instrument does not reply.
func (s *GXSimulator) process(line string) (string, bool) {
	g := s.grammar
	var (
		selected Channel
		reply    string
		query    bool
		failed   bool
	)
	for _, st := range strings.Split(line, g.CompoundSeparator) {
		st = strings.TrimSpace(st)
		if d, ok := g.Commands[CmdDifferential]; ok && st == d.Mnemonic+d.Suffix {
			s.differential = true
			continue
		}
		if g.SelectMnemonic != "" && strings.HasPrefix(st, g.SelectMnemonic+g.ArgSeparator) {
			s.differential = false
			selected = s.channelByLabel(strings.TrimPrefix(st, g.SelectMnemonic+g.ArgSeparator))
			if selected == 0 {
				s.push(simIllegalParameter, "Illegal parameter value")
				failed = true
				break
			}
			continue
		}
		key, ch, arg, ok := s.match(st, selected)
		if !ok {
			s.push(simUndefinedHeader, "Undefined header")
			failed = true
			break
		}
		r, isQuery, fault := s.apply(key, ch, arg)
		if fault != nil {
			s.errors = append(s.errors, *fault)
			failed = true
			break
		}
		if isQuery {
			reply, query = r, true
			if key == CmdNextError {
				s.pendingFault = false
			}
		}
	}
	if !query && !g.AckRequired {
		if failed {
			s.pendingFault = true
		}
		return "", false
	}
	switch {
	case failed:
		s.pendingFault = false
		return g.FaultPrefix, true
	case !query:
		reply = g.AckToken
	}
	if s.pendingFault {
		s.pendingFault = false
		reply = g.FaultPrefix + " " + reply
	}
	return reply, true
}

func (s *GXSimulator) push(code int, msg string) {
	s.errors = append(s.errors, InstrumentFault{Code: code, Message: msg})
}

func (s *GXSimulator) channelByLabel(label string) Channel {
	for ch := 1; ch <= s.grammar.Channels; ch++ {
		if s.grammar.label(Channel(ch)) == label {
			return Channel(ch)
		}
	}
	return 0
}

// match finds the command of a statement. Channel is taken from the
// statement or from the selected channel.
func (s *GXSimulator) match(st string, selected Channel) (string, Channel, string, bool) {
	g := s.grammar
	cut := func(head string) (string, bool) {
		if st == head {
			return "", true
		}
		if rest, ok := strings.CutPrefix(st, head+g.ArgSeparator); ok {
			return strings.TrimSpace(rest), true
		}
		return "", false
	}
	for key, c := range g.Commands {
		switch g.addressing(c) {
		case AddressInline:
			for ch := Channel(1); int(ch) <= g.Channels; ch++ {
				if arg, ok := cut(c.Mnemonic + g.label(ch) + c.Suffix); ok {
					return key, ch, arg, true
				}
			}
		case AddressSelect:
			if arg, ok := cut(c.Mnemonic + c.Suffix); ok {
				if selected == 0 {
					selected = 1
				}
				return key, selected, arg, true
			}
		default:
			if arg, ok := cut(c.Mnemonic + c.Suffix); ok {
				return key, 0, arg, true
			}
		}
	}
	return "", 0, "", false
}

// value parses a number that may be followed by a unit mnemonic.
func (s *GXSimulator) value(arg string, def PressureUnit) (float64, PressureUnit, bool) {
	unit := def
	if s.grammar.UnitPlacement == UnitSuffix {
		best := ""
		for name, us := range s.grammar.Units {
			if strings.HasSuffix(arg, us.Mnemonic) && len(us.Mnemonic) > len(best) {
				best = us.Mnemonic
				unit, _ = ParsePressureUnit(name)
			}
		}
		arg = strings.TrimSuffix(arg, best)
	}
	v, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return 0, unit, false
	}
	return v, unit, true
}

func (s *GXSimulator) unitByMnemonic(mnemonic string) (PressureUnit, bool) {
	for name, us := range s.grammar.Units {
		if us.Mnemonic == mnemonic {
			u, err := ParsePressureUnit(name)
			return u, err == nil
		}
	}
	return UnitNone, false
}

func yesNo(v bool) string {
	if v {
		return "YES"
	}
	return "NO"
}

// apply executes one command.
func (s *GXSimulator) apply(key string, ch Channel, arg string) (string, bool, *InstrumentFault) {
	g := s.grammar
	illegal := &InstrumentFault{Code: simIllegalParameter, Message: "Illegal parameter value"}
	outOfRange := &InstrumentFault{Code: simDataOutOfRange, Message: "Data out of range"}
	var c *simChannel
	if ch > 0 {
		c = &s.channels[ch-1]
	} else if key != CmdNextError && key != CmdIdentify {
		return "", false, illegal
	}
	switch key {
	case CmdSetpoint:
		v, u, ok := s.value(arg, c.unit)
		if !ok {
			return "", false, illegal
		}
		us, _ := g.unit(u)
		if v < us.Min || v > us.Max {
			return "", false, outOfRange
		}
		c.setpoint = v * pascals[u]
		c.pressure = c.setpoint
		c.mode = ModeControl
		c.stable = true
	case CmdPressure:
		v := g.FormatValue(c.pressure / pascals[c.unit])
		if s.EchoUnit {
			us, _ := g.unit(c.unit)
			v += "," + us.Reply
		}
		return v, true, nil
	case CmdUnit:
		u, ok := s.unitByMnemonic(arg)
		if !ok {
			return "", false, illegal
		}
		c.unit = u
	case CmdStatus:
		return g.modeMnemonic(c.mode) + "," + yesNo(c.stable), true, nil
	case CmdNextError:
		if len(s.errors) == 0 {
			return fmt.Sprintf("%d,\"No error\"", g.NoErrorCode), true, nil
		}
		f := s.errors[0]
		s.errors = s.errors[1:]
		return fmt.Sprintf("%d,\"%s\"", f.Code, strings.ReplaceAll(f.Message, `"`, `""`)), true, nil
	case CmdMode:
		m, err := g.matchMode(arg)
		if err != nil {
			return "", false, illegal
		}
		c.mode = m
	case CmdMeasurementType:
		switch {
		case strings.EqualFold(arg, g.measurementMnemonic(Absolute)):
			c.mtype = Absolute
		case strings.EqualFold(arg, g.measurementMnemonic(Gauge)):
			c.mtype = Gauge
		case strings.EqualFold(arg, g.measurementMnemonic(Differential)):
			c.mtype = Differential
		default:
			return "", false, illegal
		}
	case CmdUpperLimit, CmdLowerLimit:
		v, u, ok := s.value(arg, c.unit)
		if !ok {
			return "", false, illegal
		}
		if key == CmdUpperLimit {
			c.upper = v * pascals[u]
		} else {
			c.lower = v * pascals[u]
		}
	case CmdStable:
		return yesNo(c.stable), true, nil
	case CmdIdentify:
		return s.Identity.String(), true, nil
	}
	return "", false, nil
}
