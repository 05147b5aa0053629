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
	"strings"
)

// Channel identifies one pressure channel of the controller. Channels are
// numbered from 1; the upper bound depends on the instrument model.
type Channel int

// PressureUnit is an engineering unit understood by the controller.
type PressureUnit int

const (
	// UnitNone is reported when the instrument did not echo a unit.
	UnitNone PressureUnit = iota
	PSI
	Bar
	MBar
	Pa
	KPa
	MPa
	Torr
	MTorr
	Atm
	InHg
	MmHg
	InH2O
)

var unitNames = map[PressureUnit]string{
	UnitNone: "",
	PSI:      "PSI",
	Bar:      "BAR",
	MBar:     "MBAR",
	Pa:       "PA",
	KPa:      "KPA",
	MPa:      "MPA",
	Torr:     "TORR",
	MTorr:    "MTORR",
	Atm:      "ATM",
	InHg:     "INHG",
	MmHg:     "MMHG",
	InH2O:    "INH2O",
}

func (u PressureUnit) String() string {
	if n, ok := unitNames[u]; ok {
		return n
	}
	return fmt.Sprintf("PressureUnit(%d)", int(u))
}

// ParsePressureUnit returns the unit with the given name. Case is ignored.
func ParsePressureUnit(value string) (PressureUnit, error) {
	value = strings.TrimSpace(value)
	for u, n := range unitNames {
		if u != UnitNone && strings.EqualFold(n, value) {
			return u, nil
		}
	}
	return UnitNone, fmt.Errorf("%w: %q", ErrUnknownUnit, value)
}

// MarshalText implements encoding.TextMarshaler.
func (u PressureUnit) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so units can be used as
// keys in grammar files.
func (u *PressureUnit) UnmarshalText(text []byte) error {
	v, err := ParsePressureUnit(string(text))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// ControlMode is the operating mode of a channel.
type ControlMode int

const (
	ModeUnknown ControlMode = iota
	ModeStandby
	ModeMeasure
	ModeControl
	ModeVent
)

var modeNames = map[ControlMode]string{
	ModeUnknown: "UNKNOWN",
	ModeStandby: "STANDBY",
	ModeMeasure: "MEASURE",
	ModeControl: "CONTROL",
	ModeVent:    "VENT",
}

func (m ControlMode) String() string {
	if n, ok := modeNames[m]; ok {
		return n
	}
	return fmt.Sprintf("ControlMode(%d)", int(m))
}

// ParseControlMode returns the mode with the given name. Case is ignored.
func ParseControlMode(value string) (ControlMode, error) {
	value = strings.TrimSpace(value)
	for m, n := range modeNames {
		if m != ModeUnknown && strings.EqualFold(n, value) {
			return m, nil
		}
	}
	return ModeUnknown, fmt.Errorf("%w: unknown mode %q", ErrMalformed, value)
}

// MeasurementType selects absolute, gauge or differential pressure.
type MeasurementType int

const (
	Absolute MeasurementType = iota
	Gauge
	// Differential measures the difference of two channels.
	Differential
)

func (t MeasurementType) String() string {
	switch t {
	case Gauge:
		return "GAUGE"
	case Differential:
		return "DIFFERENTIAL"
	}
	return "ABSOLUTE"
}

// Request is an operation sent to the instrument. The set of requests is
// closed; use one of the types declared in this package.
type Request interface {
	// Name returns short name of the request used in traces.
	Name() string
	request()
}

// SetSetpoint sets the control setpoint of a channel.
type SetSetpoint struct {
	Channel Channel
	Value   float64
	Unit    PressureUnit
}

// ReadPressure reads the current pressure of a channel.
type ReadPressure struct {
	Channel Channel
}

// SetUnit changes the engineering unit of a channel.
type SetUnit struct {
	Channel Channel
	Unit    PressureUnit
}

// QueryStatus reads mode and stability of a channel.
type QueryStatus struct {
	Channel Channel
}

// QueryNextError pops one entry from the instrument error queue.
type QueryNextError struct{}

// SetMode changes the operating mode of a channel.
type SetMode struct {
	Channel Channel
	Mode    ControlMode
}

// SetMeasurementType selects absolute or gauge measurement.
type SetMeasurementType struct {
	Channel Channel
	Type    MeasurementType
}

// SetLimits sets upper and lower control limits of a channel.
type SetLimits struct {
	Channel Channel
	Upper   float64
	Lower   float64
	Unit    PressureUnit
}

// QueryStable asks if the controlled pressure has stabilized.
type QueryStable struct {
	Channel Channel
}

// Identify sends the IEEE 488.2 identification query.
type Identify struct{}

func (SetSetpoint) Name() string        { return "SetSetpoint" }
func (ReadPressure) Name() string       { return "ReadPressure" }
func (SetUnit) Name() string            { return "SetUnit" }
func (QueryStatus) Name() string        { return "QueryStatus" }
func (QueryNextError) Name() string     { return "QueryNextError" }
func (SetMode) Name() string            { return "SetMode" }
func (SetMeasurementType) Name() string { return "SetMeasurementType" }
func (SetLimits) Name() string          { return "SetLimits" }
func (QueryStable) Name() string        { return "QueryStable" }
func (Identify) Name() string           { return "Identify" }

func (SetSetpoint) request()        {}
func (ReadPressure) request()       {}
func (SetUnit) request()            {}
func (QueryStatus) request()        {}
func (QueryNextError) request()     {}
func (SetMode) request()            {}
func (SetMeasurementType) request() {}
func (SetLimits) request()          {}
func (QueryStable) request()        {}
func (Identify) request()           {}

// isWrite returns true for requests that change instrument state and do
// not return a value.
func isWrite(r Request) bool {
	switch r.(type) {
	case SetSetpoint, SetUnit, SetMode, SetMeasurementType, SetLimits:
		return true
	}
	return false
}

// Response is the decoded result of a round trip.
type Response interface {
	response()
}

// Ack is returned when a write request was accepted.
type Ack struct{}

// PressureReading is a decoded pressure value.
type PressureReading struct {
	Channel Channel
	Value   float64
	Unit    PressureUnit
	// Raw is the decimal text as received from the instrument.
	Raw string
}

// StatusReading is the mode and stability of a channel.
type StatusReading struct {
	Channel Channel
	Mode    ControlMode
	Stable  bool
}

// StabilityReading is the answer to QueryStable.
type StabilityReading struct {
	Channel Channel
	Stable  bool
}

// Identity is the decoded *IDN? reply.
type Identity struct {
	Manufacturer string
	Model        string
	Serial       string
	Firmware     string
}

// ErrorEntry is one entry of the instrument error queue.
type ErrorEntry struct {
	Fault InstrumentFault
}

// ErrorQueueEmpty is returned when the error queue has no more entries.
type ErrorQueueEmpty struct{}

func (Ack) response()              {}
func (PressureReading) response()  {}
func (StatusReading) response()    {}
func (StabilityReading) response() {}
func (Identity) response()         {}
func (ErrorEntry) response()       {}
func (ErrorQueueEmpty) response()  {}

func (r PressureReading) String() string {
	if r.Unit == UnitNone {
		return fmt.Sprintf("channel %d: %s", r.Channel, r.Raw)
	}
	return fmt.Sprintf("channel %d: %s %s", r.Channel, r.Raw, r.Unit)
}

func (i Identity) String() string {
	return strings.Join([]string{i.Manufacturer, i.Model, i.Serial, i.Firmware}, ",")
}
