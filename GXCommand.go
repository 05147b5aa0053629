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
	"math"
	"strconv"
	"strings"
)

// Encode converts the request to a complete command line, including the
// command terminator. The request is validated against the grammar first
// and nothing is returned if it is not valid.
func (g *Grammar) Encode(r Request) ([]byte, error) {
	var (
		stmts []string
		err   error
	)
	switch req := r.(type) {
	case SetSetpoint:
		stmts, err = g.encodeValue(r, CmdSetpoint, req.Channel, req.Unit, req.Value)
	case ReadPressure:
		stmts, err = g.encodeQuery(r, CmdPressure, req.Channel)
	case SetUnit:
		if err = g.checkChannel(r, req.Channel); err != nil {
			return nil, err
		}
		u, ok := g.unit(req.Unit)
		if !ok {
			return nil, newEncodeError(r, ErrOutOfRange, "unit %s is not supported by model %s", req.Unit, g.Model)
		}
		stmts, err = g.statements(r, CmdUnit, req.Channel, u.Mnemonic)
	case QueryStatus:
		stmts, err = g.encodeQuery(r, CmdStatus, req.Channel)
	case QueryNextError:
		stmts, err = g.statements(r, CmdNextError, 0, "")
	case SetMode:
		if err = g.checkChannel(r, req.Channel); err != nil {
			return nil, err
		}
		if req.Mode <= ModeUnknown || req.Mode > ModeVent {
			return nil, newEncodeError(r, ErrOutOfRange, "invalid mode %v", req.Mode)
		}
		stmts, err = g.statements(r, CmdMode, req.Channel, g.modeMnemonic(req.Mode))
	case SetMeasurementType:
		if err = g.checkChannel(r, req.Channel); err != nil {
			return nil, err
		}
		if req.Type < Absolute || req.Type > Differential {
			return nil, newEncodeError(r, ErrOutOfRange, "invalid measurement type %d", int(req.Type))
		}
		if _, ok := g.Commands[CmdDifferential]; ok && req.Type == Differential {
			stmts, err = g.statements(r, CmdDifferential, 0, "")
		} else {
			stmts, err = g.statements(r, CmdMeasurementType, req.Channel, g.measurementMnemonic(req.Type))
		}
	case SetLimits:
		stmts, err = g.encodeLimits(req)
	case QueryStable:
		stmts, err = g.encodeQuery(r, CmdStable, req.Channel)
	case Identify:
		stmts, err = g.statements(r, CmdIdentify, 0, "")
	default:
		return nil, newEncodeError(r, ErrUnsupported, "unknown request %T", r)
	}
	if err != nil {
		return nil, err
	}
	line := strings.Join(stmts, g.CompoundSeparator)
	// Terminator is appended only once even if a mnemonic ends with it.
	line = strings.TrimSuffix(line, g.CommandTerminator)
	return []byte(line + g.CommandTerminator), nil
}

func (g *Grammar) checkChannel(r Request, ch Channel) error {
	if ch < 1 || int(ch) > g.Channels {
		return newEncodeError(r, ErrInvalidChannel, "channel %d, model %s has channels 1..%d", ch, g.Model, g.Channels)
	}
	return nil
}

// checkValue validates that v can be used with the given unit.
func (g *Grammar) checkValue(r Request, u PressureUnit, v float64) (UnitSpec, error) {
	us, ok := g.unit(u)
	if !ok {
		return us, newEncodeError(r, ErrOutOfRange, "unit %s is not supported by model %s", u, g.Model)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return us, newEncodeError(r, ErrOutOfRange, "value %v is not finite", v)
	}
	if v < us.Min || v > us.Max {
		return us, newEncodeError(r, ErrOutOfRange, "value %v %s outside %g..%g", v, u, us.Min, us.Max)
	}
	return us, nil
}

// FormatValue formats v with fixed precision, without thousands separators
// and with a sign only for negative values.
func (g *Grammar) FormatValue(v float64) string {
	s := strconv.FormatFloat(v, 'f', g.Precision, 64)
	if strings.HasPrefix(s, "-") && strings.Trim(s[1:], "0.") == "" {
		// Negative zero or a value rounded to zero.
		s = s[1:]
	}
	return s
}

func (g *Grammar) encodeQuery(r Request, key string, ch Channel) ([]string, error) {
	if err := g.checkChannel(r, ch); err != nil {
		return nil, err
	}
	return g.statements(r, key, ch, "")
}

func (g *Grammar) encodeValue(r Request, key string, ch Channel, u PressureUnit, v float64) ([]string, error) {
	if err := g.checkChannel(r, ch); err != nil {
		return nil, err
	}
	us, err := g.checkValue(r, u, v)
	if err != nil {
		return nil, err
	}
	if g.UnitPlacement == UnitCommand {
		return g.statements(r, CmdUnit, ch, us.Mnemonic, key, g.FormatValue(v))
	}
	return g.statements(r, key, ch, g.FormatValue(v)+us.Mnemonic)
}

func (g *Grammar) encodeLimits(req SetLimits) ([]string, error) {
	if err := g.checkChannel(req, req.Channel); err != nil {
		return nil, err
	}
	us, err := g.checkValue(req, req.Unit, req.Upper)
	if err != nil {
		return nil, err
	}
	if _, err = g.checkValue(req, req.Unit, req.Lower); err != nil {
		return nil, err
	}
	if req.Lower > req.Upper {
		return nil, newEncodeError(req, ErrOutOfRange, "lower limit %v is above upper limit %v", req.Lower, req.Upper)
	}
	upper, lower := g.FormatValue(req.Upper), g.FormatValue(req.Lower)
	if g.UnitPlacement == UnitCommand {
		return g.statements(req, CmdUnit, req.Channel, us.Mnemonic,
			CmdUpperLimit, upper, CmdLowerLimit, lower)
	}
	return g.statements(req, CmdUpperLimit, req.Channel, upper+us.Mnemonic,
		CmdLowerLimit, lower+us.Mnemonic)
}

// statements builds the statements of one command line. The first key and
// argument follow the channel; more key/argument pairs can be given for
// compound commands addressing the same channel.
func (g *Grammar) statements(r Request, key string, ch Channel, arg string, more ...string) ([]string, error) {
	pairs := append([]string{key, arg}, more...)
	stmts := make([]string, 0, len(pairs)/2+1)
	selected := false
	for i := 0; i+1 < len(pairs); i += 2 {
		c, ok := g.Commands[pairs[i]]
		if !ok {
			return nil, newEncodeError(r, ErrUnsupported, "model %s has no %s command", g.Model, pairs[i])
		}
		var b strings.Builder
		switch g.addressing(c) {
		case AddressSelect:
			if !selected && ch != 0 {
				stmts = append(stmts, g.SelectMnemonic+g.ArgSeparator+g.label(ch))
				selected = true
			}
			b.WriteString(c.Mnemonic)
		case AddressInline:
			b.WriteString(c.Mnemonic)
			if ch != 0 {
				b.WriteString(g.label(ch))
			}
		default:
			b.WriteString(c.Mnemonic)
		}
		b.WriteString(c.Suffix)
		if a := pairs[i+1]; a != "" {
			b.WriteString(g.ArgSeparator)
			b.WriteString(a)
		}
		stmts = append(stmts, b.String())
	}
	return stmts, nil
}
