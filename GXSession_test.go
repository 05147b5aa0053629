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
	"sync"
	"testing"
	"time"

	"github.com/Gurux/gxcommon-go"
	"golang.org/x/text/language"
)

// noReply makes scriptTransport time out.
const noReply = "\x00timeout"

// scriptTransport returns queued replies in order.
type scriptTransport struct {
	mu       sync.Mutex
	replies  []string
	written  []string
	writeErr error
	closed   int
	// block delays ReadUntil until it is closed.
	block   chan struct{}
	reading chan struct{}
}

func newScript(replies ...string) *scriptTransport {
	return &scriptTransport{replies: replies}
}

func (t *scriptTransport) Write(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.written = append(t.written, string(p))
	return t.writeErr
}

func (t *scriptTransport) ReadUntil(terminator byte, wait time.Duration) ([]byte, error) {
	if t.block != nil {
		close(t.reading)
		<-t.block
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.replies) == 0 {
		return nil, ErrTimeout
	}
	r := t.replies[0]
	t.replies = t.replies[1:]
	if r == noReply {
		return nil, ErrTimeout
	}
	return []byte(r), nil
}

func (t *scriptTransport) Close() error {
	t.mu.Lock()
	t.closed++
	t.mu.Unlock()
	return nil
}

func (t *scriptTransport) Written() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.written...)
}

func connect(t *testing.T, tr Transport, g *Grammar, opts ...Option) *Session {
	t.Helper()
	s, err := Connect(tr, g, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSessionSetUnit(t *testing.T) {
	tr := newScript("OK\n")
	s := connect(t, tr, nil)
	resp, err := s.Execute(SetUnit{Channel: 1, Unit: PSI})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := resp.(Ack); !ok {
		t.Errorf("Execute() = %#v, want Ack", resp)
	}
	if got := tr.Written(); !reflect.DeepEqual(got, []string{"UNIT1,PSI\n"}) {
		t.Errorf("written %q", got)
	}
	if s.State() != StateIdle {
		t.Errorf("State() = %v", s.State())
	}
	st := s.Statistics()
	if st.Commands != 1 || st.BytesSent != 10 || st.BytesReceived != 3 {
		t.Errorf("Statistics() = %+v", st)
	}
}

func TestSessionReadPressure(t *testing.T) {
	s := connect(t, newScript("14.696,PSI\n"), nil)
	resp, err := s.Execute(ReadPressure{Channel: 1})
	if err != nil {
		t.Fatal(err)
	}
	want := PressureReading{Channel: 1, Value: 14.696, Unit: PSI, Raw: "14.696"}
	if !reflect.DeepEqual(resp, want) {
		t.Errorf("Execute() = %#v, want %#v", resp, want)
	}
}

func TestSessionInvalidChannel(t *testing.T) {
	tr := newScript()
	s := connect(t, tr, nil)
	_, err := s.Execute(SetSetpoint{Channel: 9, Value: 1, Unit: PSI})
	if !errors.Is(err, ErrInvalidChannel) {
		t.Fatalf("Execute() error = %v, want ErrInvalidChannel", err)
	}
	if len(tr.Written()) != 0 {
		t.Errorf("bytes were sent: %q", tr.Written())
	}
	if s.State() != StateIdle {
		t.Errorf("State() = %v", s.State())
	}
}

func TestSessionTimeout(t *testing.T) {
	tr := newScript()
	s := connect(t, tr, nil, WithMaxRetries(2), WithTimeout(10*time.Millisecond))
	var states []SessionState
	s.SetOnStateChange(func(_ *Session, state SessionState) {
		states = append(states, state)
	})
	var reported error
	s.SetOnError(func(_ *Session, err error) {
		reported = err
	})
	_, err := s.Execute(ReadPressure{Channel: 1})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Execute() error = %v, want ErrTimeout", err)
	}
	var pe *ProtocolError
	if !errors.As(err, &pe) || pe.Attempts != 3 || pe.Kind != KindTimeout {
		t.Errorf("ProtocolError = %+v", pe)
	}
	if n := len(tr.Written()); n != 3 {
		t.Errorf("%d commands sent, want 3", n)
	}
	if s.State() != StateFaulted {
		t.Errorf("State() = %v, want Faulted", s.State())
	}
	if !reflect.DeepEqual(states, []SessionState{StateAwaitingReply, StateFaulted}) {
		t.Errorf("states = %v", states)
	}
	if reported != err {
		t.Errorf("error handler got %v", reported)
	}
	st := s.Statistics()
	if st.Timeouts != 3 || st.Retries != 2 {
		t.Errorf("Statistics() = %+v", st)
	}
	if _, err := s.Execute(ReadPressure{Channel: 1}); !errors.Is(err, ErrSessionFaulted) {
		t.Errorf("Execute() on faulted session error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if s.State() != StateClosed {
		t.Errorf("State() = %v, want Closed", s.State())
	}
}

func TestSessionRetrySucceeds(t *testing.T) {
	tr := newScript(noReply, "OK\n")
	s := connect(t, tr, nil, WithMaxRetries(1))
	if _, err := s.Execute(SetMode{Channel: 1, Mode: ModeControl}); err != nil {
		t.Fatal(err)
	}
	if n := len(tr.Written()); n != 2 {
		t.Errorf("%d commands sent, want 2", n)
	}
	if s.State() != StateIdle {
		t.Errorf("State() = %v", s.State())
	}
}

func TestSessionTransportError(t *testing.T) {
	tr := newScript()
	tr.writeErr = errors.New("bus error")
	s := connect(t, tr, nil, WithMaxRetries(0))
	_, err := s.Execute(Identify{})
	if !errors.Is(err, ErrTransport) || !errors.Is(err, tr.writeErr) {
		t.Fatalf("Execute() error = %v", err)
	}
	if !IsTransient(err) {
		t.Error("transport error is not transient")
	}
	if s.State() != StateFaulted {
		t.Errorf("State() = %v, want Faulted", s.State())
	}
}

func TestSessionBusy(t *testing.T) {
	tr := newScript("OK\n")
	tr.block = make(chan struct{})
	tr.reading = make(chan struct{})
	s := connect(t, tr, nil)
	done := make(chan error, 1)
	go func() {
		_, err := s.Execute(SetUnit{Channel: 1, Unit: PSI})
		done <- err
	}()
	<-tr.reading
	if s.State() != StateAwaitingReply {
		t.Errorf("State() = %v", s.State())
	}
	if _, err := s.Execute(ReadPressure{Channel: 1}); !errors.Is(err, ErrBusy) {
		t.Errorf("Execute() error = %v, want ErrBusy", err)
	}
	if _, err := s.DrainErrors(); !errors.Is(err, ErrBusy) {
		t.Errorf("DrainErrors() error = %v, want ErrBusy", err)
	}
	if err := s.SetSettings("<Timeout>10</Timeout>"); !errors.Is(err, ErrBusy) {
		t.Errorf("SetSettings() error = %v, want ErrBusy", err)
	}
	close(tr.block)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if n := len(tr.Written()); n != 1 {
		t.Errorf("%d commands sent, want 1", n)
	}
}

func TestSessionClose(t *testing.T) {
	tr := newScript()
	s := connect(t, tr, nil)
	for i := 0; i != 3; i++ {
		if err := s.Close(); err != nil {
			t.Fatal(err)
		}
	}
	if tr.closed != 1 {
		t.Errorf("transport closed %d times", tr.closed)
	}
	if _, err := s.Execute(ReadPressure{Channel: 1}); !errors.Is(err, ErrClosed) {
		t.Errorf("Execute() error = %v, want ErrClosed", err)
	}
}

func TestSessionInstrumentFault(t *testing.T) {
	tr := newScript(
		"ERR\n",
		"-222,\"Data out of range\"\n",
		"-113,\"Undefined header\"\n",
		"0,\"No error\"\n",
	)
	s := connect(t, tr, nil)
	var states []SessionState
	s.SetOnStateChange(func(_ *Session, state SessionState) {
		states = append(states, state)
	})
	_, err := s.Execute(SetSetpoint{Channel: 1, Value: 10, Unit: PSI})
	if !errors.Is(err, ErrInstrumentFault) {
		t.Fatalf("Execute() error = %v, want ErrInstrumentFault", err)
	}
	want := []InstrumentFault{{-222, "Data out of range"}, {-113, "Undefined header"}}
	if got := Faults(err); !reflect.DeepEqual(got, want) {
		t.Errorf("Faults() = %v, want %v", got, want)
	}
	if got := tr.Written(); len(got) != 4 || got[1] != "SYST:ERR?\n" {
		t.Errorf("written %q", got)
	}
	if s.State() != StateIdle {
		t.Errorf("State() = %v", s.State())
	}
	wantStates := []SessionState{StateAwaitingReply, StateDraining, StateAwaitingReply, StateIdle}
	if !reflect.DeepEqual(states, wantStates) {
		t.Errorf("states = %v, want %v", states, wantStates)
	}
	if s.Statistics().Faults != 2 {
		t.Errorf("Faults = %d", s.Statistics().Faults)
	}
}

func TestSessionFaultWithEmptyQueue(t *testing.T) {
	s := connect(t, newScript("ERR\n", "0,\"No error\"\n"), nil)
	_, err := s.Execute(SetUnit{Channel: 2, Unit: Bar})
	if !errors.Is(err, ErrInstrumentFault) {
		t.Fatalf("Execute() error = %v, want ErrInstrumentFault", err)
	}
	want := []InstrumentFault{{SyntheticFaultCode, "ERR"}}
	if got := Faults(err); !reflect.DeepEqual(got, want) {
		t.Errorf("Faults() = %v, want %v", got, want)
	}
}

func TestSessionUndecodableErrorEntry(t *testing.T) {
	tr := newScript("ERR\n", "-100,\"Command error\"\n", "garbage\n", "-200,\"Execution error\"\n")
	s := connect(t, tr, nil)
	_, err := s.Execute(SetUnit{Channel: 1, Unit: PSI})
	if !errors.Is(err, ErrInstrumentFault) {
		t.Fatalf("Execute() error = %v, want ErrInstrumentFault", err)
	}
	got := Faults(err)
	if len(got) != 2 {
		t.Fatalf("Faults() = %v, want 2 entries", got)
	}
	if got[0] != (InstrumentFault{-100, "Command error"}) {
		t.Errorf("Faults()[0] = %v", got[0])
	}
	if got[1].Code != SyntheticFaultCode || got[1].Message == "" {
		t.Errorf("Faults()[1] = %v", got[1])
	}
	query, err := GenericGrammar().Encode(QueryNextError{})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"UNIT1,PSI\n", string(query), string(query)}
	if written := tr.Written(); !reflect.DeepEqual(written, want) {
		t.Errorf("written %q, want %q", written, want)
	}
	if s.State() != StateIdle {
		t.Errorf("State() = %v", s.State())
	}
}

func TestSessionErrorQueueOverflow(t *testing.T) {
	tr := newScript(
		"ERR\n",
		"-1,\"a\"\n",
		"-2,\"b\"\n",
		"-3,\"c\"\n",
		"-4,\"d\"\n",
	)
	s := connect(t, tr, nil, WithDrainLimit(3))
	_, err := s.Execute(SetUnit{Channel: 1, Unit: PSI})
	if !errors.Is(err, ErrErrorQueueOverflow) {
		t.Fatalf("Execute() error = %v, want ErrErrorQueueOverflow", err)
	}
	if got := Faults(err); len(got) != 3 || got[2].Code != -3 {
		t.Errorf("Faults() = %v", got)
	}
	// Limit + the failed command.
	if n := len(tr.Written()); n != 4 {
		t.Errorf("%d commands sent, want 4", n)
	}
	if s.State() != StateIdle {
		t.Errorf("State() = %v", s.State())
	}
}

func TestSessionProtocolViolation(t *testing.T) {
	s := connect(t, newScript("garbage\n", "0,\"No error\"\n"), nil)
	_, err := s.Execute(ReadPressure{Channel: 1})
	if !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("Execute() error = %v, want ErrProtocolViolation", err)
	}
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("decode cause is missing: %v", err)
	}
	if s.State() != StateIdle {
		t.Errorf("State() = %v", s.State())
	}
}

func TestSessionDecodeFailureWithFaults(t *testing.T) {
	s := connect(t, newScript("\n", "-113,\"Undefined header\"\n", "0,\"No error\"\n"), nil)
	_, err := s.Execute(QueryStatus{Channel: 1})
	if !errors.Is(err, ErrInstrumentFault) {
		t.Fatalf("Execute() error = %v, want ErrInstrumentFault", err)
	}
	if got := Faults(err); len(got) != 1 || got[0].Code != -113 {
		t.Errorf("Faults() = %v", got)
	}
}

func TestSessionQueryNextError(t *testing.T) {
	tr := newScript("-222,\"Data out of range\"\n", "garbage\n")
	s := connect(t, tr, nil)
	resp, err := s.Execute(QueryNextError{})
	if err != nil {
		t.Fatal(err)
	}
	want := ErrorEntry{Fault: InstrumentFault{-222, "Data out of range"}}
	if !reflect.DeepEqual(resp, want) {
		t.Errorf("Execute() = %#v", resp)
	}
	// Error queue replies never start a drain.
	if _, err = s.Execute(QueryNextError{}); !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("Execute() error = %v", err)
	}
	if n := len(tr.Written()); n != 2 {
		t.Errorf("%d commands sent, want 2", n)
	}
}

func TestSessionDrainErrors(t *testing.T) {
	tr := newScript("-100,\"Command error\"\n", "-200,\"Execution error\"\n", "0,\"No error\"\n")
	s := connect(t, tr, nil)
	faults, err := s.DrainErrors()
	if err != nil {
		t.Fatal(err)
	}
	want := []InstrumentFault{{-100, "Command error"}, {-200, "Execution error"}}
	if !reflect.DeepEqual(faults, want) {
		t.Errorf("DrainErrors() = %v", faults)
	}
	if s.State() != StateIdle {
		t.Errorf("State() = %v", s.State())
	}

	tr = newScript("0,\"No error\"\n")
	s = connect(t, tr, nil)
	if faults, err = s.DrainErrors(); err != nil || len(faults) != 0 {
		t.Errorf("DrainErrors() = %v, %v", faults, err)
	}
}

func TestSessionDrainTimeout(t *testing.T) {
	tr := newScript("-100,\"Command error\"\n")
	s := connect(t, tr, nil, WithMaxRetries(0), WithTimeout(time.Millisecond))
	faults, err := s.DrainErrors()
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("DrainErrors() error = %v", err)
	}
	if len(faults) != 1 || len(Faults(err)) != 1 {
		t.Errorf("faults = %v, %v", faults, Faults(err))
	}
	if s.State() != StateFaulted {
		t.Errorf("State() = %v", s.State())
	}
}

func TestSessionMensorWrites(t *testing.T) {
	tr := newScript()
	s := connect(t, tr, Mensor600Grammar())
	resp, err := s.Execute(SetSetpoint{Channel: 1, Value: 14.7, Unit: PSI})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := resp.(Ack); !ok {
		t.Errorf("Execute() = %#v", resp)
	}
	if got := tr.Written(); !reflect.DeepEqual(got, []string{"Chan A;Units 1;Setpt 14.7000\r"}) {
		t.Errorf("written %q", got)
	}
}

func TestSessionVerifyWrites(t *testing.T) {
	tr := newScript("-222,\"Data out of range\"\n", "0,\"No error\"\n")
	s := connect(t, tr, Mensor600Grammar(), WithVerifyWrites(true))
	_, err := s.Execute(SetMode{Channel: 2, Mode: ModeVent})
	if !errors.Is(err, ErrInstrumentFault) {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := tr.Written(); len(got) != 3 || got[1] != "Error?\r" {
		t.Errorf("written %q", got)
	}

	tr = newScript("0,\"No error\"\n")
	s = connect(t, tr, Mensor600Grammar(), WithVerifyWrites(true))
	if _, err = s.Execute(SetMode{Channel: 2, Mode: ModeVent}); err != nil {
		t.Fatal(err)
	}
}

func TestSessionPing(t *testing.T) {
	s := connect(t, newScript("MENSOR,600,610123,1.0\n"), Mensor600Grammar())
	id, err := s.Ping()
	if err != nil {
		t.Fatal(err)
	}
	if id.Serial != "610123" {
		t.Errorf("Ping() = %+v", id)
	}
	s = connect(t, newScript("ACME,600,1,1\n"), Mensor600Grammar())
	if _, err := s.Ping(); !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestSessionSettleDelay(t *testing.T) {
	s := connect(t, newScript("OK\n", "OK\n"), nil, WithSettleDelay(30*time.Millisecond))
	start := time.Now()
	for i := 0; i != 2; i++ {
		if _, err := s.Execute(SetUnit{Channel: 1, Unit: PSI}); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("settle delay was not used")
	}
}

func TestSessionTrace(t *testing.T) {
	s := connect(t, newScript("OK\n"), nil, WithTrace(gxcommon.TraceLevel(100)))
	var traces []string
	s.SetOnTrace(func(_ *Session, e gxcommon.TraceEventArgs) {
		traces = append(traces, e.String())
	})
	if _, err := s.Execute(SetUnit{Channel: 1, Unit: PSI}); err != nil {
		t.Fatal(err)
	}
	if len(traces) != 2 {
		t.Errorf("traces = %q", traces)
	}
	if s.GetTrace() != gxcommon.TraceLevel(100) {
		t.Errorf("GetTrace() = %v", s.GetTrace())
	}
	s.Localize(language.Finnish)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if len(traces) != 3 {
		t.Errorf("close was not traced: %q", traces)
	}
}

func TestSessionSettings(t *testing.T) {
	s := connect(t, newScript(), nil,
		WithTimeout(250*time.Millisecond),
		WithMaxRetries(4),
		WithDrainLimit(8),
		WithSettleDelay(5*time.Millisecond),
		WithVerifyWrites(true))
	xml := s.GetSettings()

	other := connect(t, newScript(), Mensor600Grammar())
	if err := other.SetSettings(xml); err != nil {
		t.Fatal(err)
	}
	if got, want := other.Settings(), s.Settings(); !reflect.DeepEqual(got, want) {
		t.Errorf("Settings() = %+v, want %+v", got, want)
	}
	if other.Grammar().Model != "generic" {
		t.Errorf("Model = %q", other.Grammar().Model)
	}
	if err := other.SetSettings("<Timeout>-1</Timeout>"); err == nil {
		t.Error("SetSettings() accepted negative timeout")
	}
	if err := other.SetSettings("<Model>nope</Model>"); err == nil {
		t.Error("SetSettings() accepted unknown model")
	}
}

func TestSessionSettingsModelConcurrent(t *testing.T) {
	s := connect(t, newScript(), nil)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			model := "600"
			if i%2 == 1 {
				model = "generic"
			}
			if err := s.SetSettings("<Model>" + model + "</Model>"); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			if g := s.Grammar(); g == nil || s.String() == "" {
				t.Error("grammar is not set")
				return
			}
		}
	}()
	wg.Wait()
	if got := s.Grammar().Model; got != "generic" {
		t.Errorf("Model = %q", got)
	}
}
