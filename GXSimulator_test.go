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
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestSimulatorGeneric(t *testing.T) {
	sim := NewGXSimulator(nil)
	s := connect(t, sim, nil)
	defer s.Close()

	if _, err := s.Execute(SetUnit{Channel: 1, Unit: KPa}); err != nil {
		t.Fatal(err)
	}
	resp, err := s.Execute(ReadPressure{Channel: 1})
	if err != nil {
		t.Fatal(err)
	}
	want := PressureReading{Channel: 1, Value: 101.325, Unit: KPa, Raw: "101.325"}
	if !reflect.DeepEqual(resp, want) {
		t.Errorf("Execute() = %#v, want %#v", resp, want)
	}

	if _, err = s.Execute(SetSetpoint{Channel: 2, Value: 50, Unit: PSI}); err != nil {
		t.Fatal(err)
	}
	if resp, err = s.Execute(ReadPressure{Channel: 2}); err != nil {
		t.Fatal(err)
	}
	if r := resp.(PressureReading); r.Value != 50 || r.Unit != PSI {
		t.Errorf("Execute() = %#v", r)
	}
	if resp, err = s.Execute(QueryStatus{Channel: 2}); err != nil {
		t.Fatal(err)
	}
	if r := resp.(StatusReading); r.Mode != ModeControl || !r.Stable {
		t.Errorf("Execute() = %#v", r)
	}
	if _, err = s.Execute(SetLimits{Channel: 3, Upper: 100, Lower: 1, Unit: PSI}); err != nil {
		t.Fatal(err)
	}
	if _, err = s.Execute(SetMeasurementType{Channel: 3, Type: Gauge}); err != nil {
		t.Fatal(err)
	}
	if _, err = s.Execute(SetMeasurementType{Channel: 2, Type: Differential}); err != nil {
		t.Fatal(err)
	}
	if mt := sim.MeasurementType(2); mt != Differential {
		t.Errorf("MeasurementType() = %v", mt)
	}
	sim.SetStable(3, false)
	if resp, err = s.Execute(QueryStable{Channel: 3}); err != nil {
		t.Fatal(err)
	}
	if resp.(StabilityReading).Stable {
		t.Error("channel 3 is stable")
	}
	if _, err = s.Execute(SetMode{Channel: 3, Mode: ModeVent}); err != nil {
		t.Fatal(err)
	}
	if sim.Mode(3) != ModeVent {
		t.Errorf("Mode() = %v", sim.Mode(3))
	}
	if id, err := s.Ping(); err != nil || id.Model != "generic" {
		t.Errorf("Ping() = %+v, %v", id, err)
	}
}

func TestSimulatorFault(t *testing.T) {
	sim := NewGXSimulator(nil)
	s := connect(t, sim, nil)
	sim.PushError(-350, "Queue \"full\"")
	sim.SetFault()
	_, err := s.Execute(SetMode{Channel: 1, Mode: ModeStandby})
	if !errors.Is(err, ErrInstrumentFault) {
		t.Fatalf("Execute() error = %v", err)
	}
	want := []InstrumentFault{{-350, "Queue \"full\""}}
	if got := Faults(err); !reflect.DeepEqual(got, want) {
		t.Errorf("Faults() = %v, want %v", got, want)
	}
	if s.State() != StateIdle {
		t.Errorf("State() = %v", s.State())
	}
}

func TestSimulatorUndefinedHeader(t *testing.T) {
	sim := NewGXSimulator(nil)
	if err := sim.Write([]byte("BOGUS 1\n")); err != nil {
		t.Fatal(err)
	}
	got, err := sim.ReadUntil('\n', time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "ERR\n" {
		t.Errorf("reply = %q", got)
	}
	s := connect(t, sim, nil)
	faults, err := s.DrainErrors()
	if err != nil {
		t.Fatal(err)
	}
	if len(faults) != 1 || faults[0].Code != simUndefinedHeader {
		t.Errorf("DrainErrors() = %v", faults)
	}
}

func TestSimulatorDropAndFail(t *testing.T) {
	sim := NewGXSimulator(nil)
	s := connect(t, sim, nil, WithTimeout(20*time.Millisecond), WithMaxRetries(1))
	sim.Drop(1)
	if _, err := s.Execute(SetUnit{Channel: 1, Unit: Bar}); err != nil {
		t.Fatal(err)
	}
	if n := len(sim.Written()); n != 2 {
		t.Errorf("%d commands, want 2", n)
	}
	if _, u := sim.Pressure(1); u != Bar {
		t.Errorf("unit = %v", u)
	}

	want := errors.New("cable unplugged")
	sim.FailWrites(2, want)
	if _, err := s.Execute(ReadPressure{Channel: 1}); !errors.Is(err, ErrTransport) || !errors.Is(err, want) {
		t.Fatalf("Execute() error = %v", err)
	}
	if s.State() != StateFaulted {
		t.Errorf("State() = %v", s.State())
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if !sim.IsClosed() {
		t.Error("simulator is not closed")
	}
}

func TestSimulatorMensor600(t *testing.T) {
	sim := NewGXSimulator(Mensor600Grammar())
	s := connect(t, sim, Mensor600Grammar(), WithTimeout(20*time.Millisecond))
	defer s.Close()

	id, err := s.Ping()
	if err != nil {
		t.Fatal(err)
	}
	if id.Manufacturer != "MENSOR" || id.Model != "600" {
		t.Errorf("Ping() = %+v", id)
	}
	if _, err = s.Execute(SetSetpoint{Channel: 2, Value: 14.7, Unit: PSI}); err != nil {
		t.Fatal(err)
	}
	resp, err := s.Execute(ReadPressure{Channel: 2})
	if err != nil {
		t.Fatal(err)
	}
	if r := resp.(PressureReading); r.Value != 14.7 || r.Unit != UnitNone {
		t.Errorf("Execute() = %#v", r)
	}
	if got := sim.Written(); got[1] != "Chan B;Units 1;Setpt 14.7000" || got[2] != "B?" {
		t.Errorf("written %q", got)
	}
	resp, err = s.Execute(QueryStatus{Channel: 2})
	if err != nil {
		t.Fatal(err)
	}
	if r := resp.(StatusReading); r.Mode != ModeControl {
		t.Errorf("Execute() = %#v", r)
	}

	// A rejected write marks the next reply.
	sim.PushError(-222, "Data out of range")
	sim.SetFault()
	_, err = s.Execute(ReadPressure{Channel: 1})
	if !errors.Is(err, ErrInstrumentFault) {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := Faults(err); len(got) != 1 || got[0].Code != -222 {
		t.Errorf("Faults() = %v", got)
	}
	if _, err = s.Execute(ReadPressure{Channel: 1}); err != nil {
		t.Errorf("fault marker was not cleared: %v", err)
	}
}

func TestSimulatorMensorDifferential(t *testing.T) {
	sim := NewGXSimulator(Mensor600Grammar())
	s := connect(t, sim, Mensor600Grammar(), WithVerifyWrites(true), WithTimeout(20*time.Millisecond))
	defer s.Close()
	if _, err := s.Execute(SetMeasurementType{Channel: 1, Type: Differential}); err != nil {
		t.Fatal(err)
	}
	if !sim.Differential() {
		t.Error("differential channel is not active")
	}
	if got := sim.Written(); got[0] != "Chan D" {
		t.Errorf("written %q", got)
	}
	if _, err := s.Execute(SetMeasurementType{Channel: 1, Type: Gauge}); err != nil {
		t.Fatal(err)
	}
	if sim.Differential() || sim.MeasurementType(1) != Gauge {
		t.Errorf("Differential() = %v, MeasurementType() = %v", sim.Differential(), sim.MeasurementType(1))
	}
	if _, err := s.Execute(SetMeasurementType{Channel: 1, Type: MeasurementType(7)}); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Execute() error = %v, want ErrOutOfRange", err)
	}
}

func TestSimulatorMensorVerifyWrites(t *testing.T) {
	sim := NewGXSimulator(Mensor600Grammar())
	s := connect(t, sim, Mensor600Grammar(), WithVerifyWrites(true), WithTimeout(20*time.Millisecond))
	if _, err := s.Execute(SetMode{Channel: 1, Mode: ModeStandby}); err != nil {
		t.Fatal(err)
	}
	if err := sim.Write([]byte("Chan C;Mode Vent\r")); err != nil {
		t.Fatal(err)
	}
	faults, err := s.DrainErrors()
	if err != nil {
		t.Fatal(err)
	}
	if len(faults) != 1 || faults[0].Code != simIllegalParameter {
		t.Errorf("DrainErrors() = %v", faults)
	}
}
