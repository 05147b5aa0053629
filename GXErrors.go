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
	"fmt"
	"strings"
)

var (
	// Encode errors. These are caller mistakes and never reach the transport.
	ErrInvalidChannel = errors.New("gxpressure: invalid channel")
	ErrOutOfRange     = errors.New("gxpressure: value out of range")

	// Decode errors.
	ErrTruncated   = errors.New("gxpressure: reply terminator missing")
	ErrMalformed   = errors.New("gxpressure: malformed reply")
	ErrUnknownUnit = errors.New("gxpressure: unknown unit")

	// Protocol errors returned by Session.Execute.
	ErrTimeout            = errors.New("gxpressure: timeout")
	ErrBusy               = errors.New("gxpressure: session busy")
	ErrInstrumentFault    = errors.New("gxpressure: instrument fault")
	ErrErrorQueueOverflow = errors.New("gxpressure: error queue overflow")
	ErrProtocolViolation  = errors.New("gxpressure: protocol violation")
	ErrSessionFaulted     = errors.New("gxpressure: session faulted")
	ErrTransport          = errors.New("gxpressure: transport failure")
	ErrClosed             = errors.New("gxpressure: session closed")
)

// SyntheticFaultCode is used for faults that were not read from the
// instrument error queue, for example an undecodable drain reply.
const SyntheticFaultCode = -1

// InstrumentFault is one fault reported by the instrument.
type InstrumentFault struct {
	Code    int
	Message string
}

func (f InstrumentFault) Error() string {
	return fmt.Sprintf("instrument error %d: %s", f.Code, f.Message)
}

// EncodeError is returned when a request can't be encoded for the used
// instrument model. No bytes are sent when this error is returned.
type EncodeError struct {
	Request Request
	Err     error
	Detail  string
}

func (e *EncodeError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("encode %s: %v: %s", e.Request.Name(), e.Err, e.Detail)
	}
	return fmt.Sprintf("encode %s: %v", e.Request.Name(), e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

func newEncodeError(r Request, err error, format string, a ...any) *EncodeError {
	return &EncodeError{Request: r, Err: err, Detail: fmt.Sprintf(format, a...)}
}

// DecodeError is returned when the reply can't be parsed.
type DecodeError struct {
	Request Request
	Reply   string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s reply %q: %v", e.Request.Name(), e.Reply, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies a ProtocolError.
type ErrorKind int

const (
	KindTimeout ErrorKind = iota
	KindBusy
	KindInstrumentFault
	KindErrorQueueOverflow
	KindProtocolViolation
	KindSessionFaulted
	KindTransport
	KindClosed
)

var kindErrors = map[ErrorKind]error{
	KindTimeout:            ErrTimeout,
	KindBusy:               ErrBusy,
	KindInstrumentFault:    ErrInstrumentFault,
	KindErrorQueueOverflow: ErrErrorQueueOverflow,
	KindProtocolViolation:  ErrProtocolViolation,
	KindSessionFaulted:     ErrSessionFaulted,
	KindTransport:          ErrTransport,
	KindClosed:             ErrClosed,
}

func (k ErrorKind) String() string {
	if err, ok := kindErrors[k]; ok {
		return strings.TrimPrefix(err.Error(), "gxpressure: ")
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// ProtocolError is the error type returned by Session.Execute for all
// failures after the request was encoded.
type ProtocolError struct {
	Kind ErrorKind
	// Faults are the entries drained from the instrument error queue.
	Faults []InstrumentFault
	// Attempts is the number of round trips that were made.
	Attempts int
	// Err is the underlying cause, if any.
	Err error
}

func (e *ProtocolError) Error() string {
	var b strings.Builder
	b.WriteString(kindErrors[e.Kind].Error())
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	for _, f := range e.Faults {
		fmt.Fprintf(&b, "; %v", f)
	}
	return b.String()
}

// Is reports the sentinel that matches the error kind.
func (e *ProtocolError) Is(target error) bool {
	return kindErrors[e.Kind] == target
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func newProtocolError(kind ErrorKind, err error, faults []InstrumentFault) *ProtocolError {
	return &ProtocolError{Kind: kind, Err: err, Faults: faults}
}

// Faults returns the instrument faults carried by err.
func Faults(err error) []InstrumentFault {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Faults
	}
	return nil
}

// IsTransient reports whether err was caused by the transport and the
// round trip may be repeated by the caller.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrTransport)
}
