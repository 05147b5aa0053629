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
	"math"
	"strconv"
	"strings"
)

// Decode parses the reply of request r. The reply must end with the reply
// terminator of the grammar. The parse rule is selected by the request
// type; replies are not self-describing.
func (g *Grammar) Decode(r Request, raw []byte) (Response, error) {
	text, err := g.trimTerminator(raw)
	if err != nil {
		return nil, &DecodeError{Request: r, Reply: string(raw), Err: err}
	}
	body := g.stripFault(text)
	var ret Response
	switch req := r.(type) {
	case SetSetpoint, SetUnit, SetMode, SetMeasurementType, SetLimits:
		ret, err = g.parseAck(body)
	case ReadPressure:
		ret, err = g.parseReading(req.Channel, body)
	case QueryStatus:
		ret, err = g.parseStatus(req.Channel, body)
	case QueryNextError:
		ret, err = g.parseErrorEntry(body)
	case QueryStable:
		var stable bool
		stable, err = parseStable(body)
		ret = StabilityReading{Channel: req.Channel, Stable: stable}
	case Identify:
		ret, err = parseIdentity(body)
	default:
		err = fmt.Errorf("%w: unknown request %T", ErrMalformed, r)
	}
	if err != nil {
		return nil, &DecodeError{Request: r, Reply: text, Err: err}
	}
	return ret, nil
}

// trimTerminator removes the reply terminator. A carriage return before a
// line feed terminator is removed as well.
func (g *Grammar) trimTerminator(raw []byte) (string, error) {
	if len(raw) == 0 || raw[len(raw)-1] != g.terminator() {
		return "", ErrTruncated
	}
	text := string(raw[:len(raw)-1])
	if g.terminator() == '\n' {
		text = strings.TrimSuffix(text, "\r")
	}
	return text, nil
}

func (g *Grammar) stripFault(text string) string {
	text = strings.TrimSpace(text)
	if g.FaultDetector == nil && g.FaultPrefix != "" {
		text = strings.TrimSpace(strings.TrimPrefix(text, g.FaultPrefix))
	}
	return text
}

func (g *Grammar) parseAck(body string) (Response, error) {
	if !strings.EqualFold(body, g.AckToken) {
		return nil, fmt.Errorf("%w: expected %q", ErrMalformed, g.AckToken)
	}
	return Ack{}, nil
}

// parseReading parses "<number>[<,| ><unit>]".
func (g *Grammar) parseReading(ch Channel, body string) (Response, error) {
	num, unit := body, ""
	if i := strings.IndexAny(body, ", \t"); i >= 0 {
		num, unit = body[:i], strings.Trim(body[i+1:], ", \t")
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%w: %q is not a number", ErrMalformed, num)
	}
	ret := PressureReading{Channel: ch, Value: v, Raw: num}
	if unit != "" {
		if ret.Unit, err = g.matchUnit(unit); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

// matchUnit finds the unit echoed by the instrument. Case is ignored.
func (g *Grammar) matchUnit(token string) (PressureUnit, error) {
	for name, us := range g.Units {
		if us.Reply != "" && strings.EqualFold(us.Reply, token) {
			return ParsePressureUnit(name)
		}
	}
	return ParsePressureUnit(token)
}

// parseStatus parses "<mode>[,<stable>]".
func (g *Grammar) parseStatus(ch Channel, body string) (Response, error) {
	fields := strings.Split(body, ",")
	mode, err := g.matchMode(strings.TrimSpace(fields[0]))
	if err != nil {
		return nil, err
	}
	ret := StatusReading{Channel: ch, Mode: mode}
	if len(fields) > 2 {
		return nil, fmt.Errorf("%w: too many status fields", ErrMalformed)
	}
	if len(fields) == 2 {
		if ret.Stable, err = parseStable(fields[1]); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

func (g *Grammar) matchMode(token string) (ControlMode, error) {
	for name, mnemonic := range g.Modes {
		if strings.EqualFold(mnemonic, token) {
			return ParseControlMode(name)
		}
	}
	return ParseControlMode(token)
}

func parseStable(token string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case "YES", "1", "STABLE", "ON":
		return true, nil
	case "NO", "0", "UNSTABLE", "OFF":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q is not a stability value", ErrMalformed, token)
}

// parseErrorEntry parses `<code>,"<message>"`.
func (g *Grammar) parseErrorEntry(body string) (Response, error) {
	i := strings.IndexByte(body, ',')
	if i < 0 {
		return nil, fmt.Errorf("%w: error entry without message", ErrMalformed)
	}
	code, err := strconv.Atoi(strings.TrimSpace(body[:i]))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid error code %q", ErrMalformed, body[:i])
	}
	msg := strings.TrimSpace(body[i+1:])
	if len(msg) < 2 || msg[0] != '"' || msg[len(msg)-1] != '"' {
		return nil, fmt.Errorf("%w: error message is not quoted", ErrMalformed)
	}
	msg = strings.ReplaceAll(msg[1:len(msg)-1], `""`, `"`)
	if code == g.NoErrorCode {
		return ErrorQueueEmpty{}, nil
	}
	return ErrorEntry{Fault: InstrumentFault{Code: code, Message: msg}}, nil
}

func parseIdentity(body string) (Response, error) {
	fields := strings.Split(body, ",")
	if len(fields) < 4 {
		return nil, fmt.Errorf("%w: identification has %d fields", ErrMalformed, len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return Identity{
		Manufacturer: fields[0],
		Model:        fields[1],
		Serial:       fields[2],
		Firmware:     strings.Join(fields[3:], ","),
	}, nil
}
