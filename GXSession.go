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
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Gurux/gxcommon-go"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// SessionState is the protocol state of a Session.
type SessionState int

const (
	StateIdle SessionState = iota
	StateAwaitingReply
	StateDraining
	// StateFaulted is entered when the transport failed and retries are
	// exhausted. The session must be closed.
	StateFaulted
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAwaitingReply:
		return "AwaitingReply"
	case StateDraining:
		return "Draining"
	case StateFaulted:
		return "Faulted"
	case StateClosed:
		return "Closed"
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

// TraceEventHandler is called when the session traces sent and received
// data.
type TraceEventHandler func(s *Session, e gxcommon.TraceEventArgs)

// ErrorEventHandler is called when a round trip fails.
type ErrorEventHandler func(s *Session, err error)

// StateEventHandler is called when the session state changes.
type StateEventHandler func(s *Session, state SessionState)

// Statistics are the counters of a Session.
type Statistics struct {
	Commands      uint64
	Retries       uint64
	Timeouts      uint64
	Faults        uint64
	BytesSent     uint64
	BytesReceived uint64
}

type counters struct {
	commands      atomic.Uint64
	retries       atomic.Uint64
	timeouts      atomic.Uint64
	faults        atomic.Uint64
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
}

// Session executes requests on one instrument. Only one request can be in
// progress at a time; overlapping calls fail with ErrBusy.
type Session struct {
	mu        sync.Mutex
	state     SessionState
	transport Transport
	grammar   *Grammar
	settings  Settings
	// Time of the last sent command. Used for settle delay.
	lastCommand time.Time

	traceLevel gxcommon.TraceLevel
	onTrace    TraceEventHandler
	onErr      ErrorEventHandler
	onState    StateEventHandler

	stats counters
	// Printer for localized messages.
	p *message.Printer
}

// Connect creates a session that owns transport. If grammar is nil the
// generic grammar is used.
func Connect(transport Transport, grammar *Grammar, opts ...Option) (*Session, error) {
	if transport == nil {
		return nil, errors.New("transport is nil")
	}
	if grammar == nil {
		var err error
		if grammar, err = LookupGrammar("generic"); err != nil {
			return nil, err
		}
	}
	if err := grammar.Validate(); err != nil {
		return nil, err
	}
	settings := defaultSettings()
	for _, opt := range opts {
		opt(&settings)
	}
	s := &Session{
		transport:  transport,
		grammar:    grammar,
		settings:   settings,
		traceLevel: settings.Trace,
	}
	s.Localize(language.AmericanEnglish)
	return s, nil
}

// Localize messages for the specified language.
// No errors is returned if language is not supported.
func (s *Session) Localize(tag language.Tag) {
	s.mu.Lock()
	s.p = message.NewPrinter(tag)
	s.mu.Unlock()
}

// String returns the model and state of the session.
func (s *Session) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("%s %s", s.grammar.Model, s.state)
}

// Grammar returns the grammar of the instrument model.
func (s *Session) Grammar() *Grammar {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grammar
}

// State returns the current protocol state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Settings returns a copy of the protocol settings.
func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// GetTrace returns the trace level.
func (s *Session) GetTrace() gxcommon.TraceLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.traceLevel
}

// SetTrace sets the trace level.
func (s *Session) SetTrace(level gxcommon.TraceLevel) {
	s.mu.Lock()
	s.traceLevel = level
	s.mu.Unlock()
}

// SetOnTrace sets the trace handler.
func (s *Session) SetOnTrace(value TraceEventHandler) {
	s.mu.Lock()
	s.onTrace = value
	s.mu.Unlock()
}

// SetOnError sets the error handler.
func (s *Session) SetOnError(value ErrorEventHandler) {
	s.mu.Lock()
	s.onErr = value
	s.mu.Unlock()
}

// SetOnStateChange sets the state change handler.
func (s *Session) SetOnStateChange(value StateEventHandler) {
	s.mu.Lock()
	s.onState = value
	s.mu.Unlock()
}

// Statistics returns a snapshot of the session counters.
func (s *Session) Statistics() Statistics {
	return Statistics{
		Commands:      s.stats.commands.Load(),
		Retries:       s.stats.retries.Load(),
		Timeouts:      s.stats.timeouts.Load(),
		Faults:        s.stats.faults.Load(),
		BytesSent:     s.stats.bytesSent.Load(),
		BytesReceived: s.stats.bytesReceived.Load(),
	}
}

// GetBytesSent returns the number of sent bytes.
func (s *Session) GetBytesSent() uint64 {
	return s.stats.bytesSent.Load()
}

// GetBytesReceived returns the number of received bytes.
func (s *Session) GetBytesReceived() uint64 {
	return s.stats.bytesReceived.Load()
}

// ResetByteCounters resets sent and received byte counters.
func (s *Session) ResetByteCounters() {
	s.stats.bytesSent.Store(0)
	s.stats.bytesReceived.Store(0)
}

// Execute sends the request and waits for the reply. Encoding errors are
// returned as *EncodeError before anything is sent; all other failures
// are returned as *ProtocolError.
func (s *Session) Execute(req Request) (Response, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	cfg, err := s.begin(StateAwaitingReply)
	if err != nil {
		return nil, err
	}
	cmd, err := cfg.grammar.Encode(req)
	if err != nil {
		s.finish(nil)
		return nil, err
	}
	s.stats.commands.Add(1)
	resp, err := s.execute(cfg, req, cmd)
	s.finish(err)
	return resp, err
}

// DrainErrors reads the instrument error queue until it is empty.
func (s *Session) DrainErrors() ([]InstrumentFault, error) {
	cfg, err := s.begin(StateDraining)
	if err != nil {
		return nil, err
	}
	faults, err := s.drain(cfg)
	if err == nil {
		s.stats.faults.Add(uint64(len(faults)))
	}
	s.finish(err)
	return faults, err
}

// Ping reads the instrument identification and checks that the expected
// manufacturer answered.
func (s *Session) Ping() (Identity, error) {
	resp, err := s.Execute(Identify{})
	if err != nil {
		return Identity{}, err
	}
	id := resp.(Identity)
	if m := s.Grammar().Manufacturer; m != "" && !strings.EqualFold(id.Manufacturer, m) {
		return id, newProtocolError(KindProtocolViolation, errors.New(s.printer().Sprintf("msg.unexpected_identity", id.String())), nil)
	}
	return id, nil
}

// Close releases the transport. Close can be called several times and
// from any goroutine; the transport is closed only once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	msg := s.p.Sprintf("msg.closing_session", s.grammar.Model)
	s.mu.Unlock()
	s.trace(gxcommon.TraceTypesInfo, msg)
	err := s.transport.Close()
	s.statef(StateClosed)
	return err
}

// operation is the configuration of one Execute or DrainErrors call.
// SetSettings doesn't change a running operation.
type operation struct {
	Settings
	grammar *Grammar
}

// begin moves an idle session to state and returns the settings and
// grammar used by the operation.
func (s *Session) begin(state SessionState) (operation, error) {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
	case StateFaulted:
		s.mu.Unlock()
		return operation{}, newProtocolError(KindSessionFaulted, nil, nil)
	case StateClosed:
		s.mu.Unlock()
		return operation{}, newProtocolError(KindClosed, nil, nil)
	default:
		s.mu.Unlock()
		return operation{}, newProtocolError(KindBusy, nil, nil)
	}
	s.state = state
	cfg := operation{Settings: s.settings, grammar: s.grammar}
	s.mu.Unlock()
	s.statef(state)
	return cfg, nil
}

// finish returns the session to idle, or to faulted if the transport
// failed.
func (s *Session) finish(err error) {
	next := StateIdle
	if IsTransient(err) {
		next = StateFaulted
	}
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.mu.Unlock()
	if next == StateFaulted {
		s.trace(gxcommon.TraceTypesError, s.printer().Sprintf("msg.session_faulted", err))
	}
	s.statef(next)
	if err != nil {
		s.errorf(err)
	}
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	if s.state == StateClosed || s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()
	s.statef(state)
}

func (s *Session) execute(cfg operation, req Request, cmd []byte) (Response, error) {
	expectReply := cfg.grammar.AckRequired || !isWrite(req)
	raw, err := s.roundTrip(cfg, cmd, expectReply)
	if err != nil {
		return nil, err
	}
	if !expectReply {
		if !cfg.VerifyWrites {
			return Ack{}, nil
		}
		faults, err := s.drainInline(cfg)
		if err != nil {
			return nil, err
		}
		if len(faults) != 0 {
			return nil, s.instrumentFault(faults, nil)
		}
		return Ack{}, nil
	}
	resp, decodeErr := cfg.grammar.Decode(req, raw)
	if _, ok := req.(QueryNextError); ok {
		// Error queue replies never start another drain.
		if decodeErr != nil {
			return nil, newProtocolError(KindProtocolViolation, decodeErr, nil)
		}
		return resp, nil
	}
	if cfg.grammar.IsFault(raw) {
		faults, err := s.drainInline(cfg)
		if err != nil {
			return nil, err
		}
		if len(faults) == 0 {
			text, _ := cfg.grammar.trimTerminator(raw)
			faults = []InstrumentFault{{Code: SyntheticFaultCode, Message: strings.TrimSpace(text)}}
		}
		return nil, s.instrumentFault(faults, decodeErr)
	}
	if decodeErr != nil {
		// A reply that can't be decoded may be caused by a command that
		// the instrument rejected.
		faults, err := s.drainInline(cfg)
		if err != nil {
			return nil, err
		}
		if len(faults) != 0 {
			return nil, s.instrumentFault(faults, decodeErr)
		}
		return nil, newProtocolError(KindProtocolViolation, decodeErr, nil)
	}
	return resp, nil
}

func (s *Session) instrumentFault(faults []InstrumentFault, cause error) error {
	s.stats.faults.Add(uint64(len(faults)))
	return newProtocolError(KindInstrumentFault, cause, faults)
}

// drainInline drains the error queue as part of a running request.
func (s *Session) drainInline(cfg operation) ([]InstrumentFault, error) {
	s.setState(StateDraining)
	defer s.setState(StateAwaitingReply)
	return s.drain(cfg)
}

// roundTrip sends cmd and reads the reply. Transport failures are repeated
// immediately up to cfg.MaxRetries times.
func (s *Session) roundTrip(cfg operation, cmd []byte, expectReply bool) ([]byte, error) {
	var last error
	attempts := cfg.MaxRetries + 1
	for i := 1; i <= attempts; i++ {
		raw, err := s.attempt(cfg, cmd, expectReply)
		if err == nil {
			return raw, nil
		}
		last = err
		if errors.Is(err, ErrTimeout) {
			s.stats.timeouts.Add(1)
		}
		s.trace(gxcommon.TraceTypesError, s.printer().Sprintf("msg.attempt_failed", i, attempts, err))
		if i < attempts {
			s.stats.retries.Add(1)
		}
	}
	kind := KindTransport
	if errors.Is(last, ErrTimeout) {
		kind = KindTimeout
		if last == ErrTimeout {
			last = nil
		}
	}
	pe := newProtocolError(kind, last, nil)
	pe.Attempts = attempts
	return nil, pe
}

func (s *Session) attempt(cfg operation, cmd []byte, expectReply bool) ([]byte, error) {
	s.settle(cfg.SettleDelay)
	s.tracef(gxcommon.TraceTypesSent, "TX: %s", printable(cmd))
	err := s.transport.Write(cmd)
	s.mu.Lock()
	s.lastCommand = time.Now()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.stats.bytesSent.Add(uint64(len(cmd)))
	if !expectReply {
		return nil, nil
	}
	raw, err := s.transport.ReadUntil(cfg.grammar.terminator(), cfg.Timeout)
	if len(raw) != 0 {
		s.stats.bytesReceived.Add(uint64(len(raw)))
		s.tracef(gxcommon.TraceTypesReceived, "RX: %s", printable(raw))
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %w", io.ErrUnexpectedEOF, err)
		}
		return nil, err
	}
	return raw, nil
}

// settle waits until delay has passed since the previous command.
func (s *Session) settle(delay time.Duration) {
	if delay <= 0 {
		return
	}
	s.mu.Lock()
	last := s.lastCommand
	s.mu.Unlock()
	if last.IsZero() {
		return
	}
	if d := delay - time.Since(last); d > 0 {
		time.Sleep(d)
	}
}

func (s *Session) printer() *message.Printer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p
}

// printable makes line terminators visible in traces.
func printable(p []byte) string {
	return strings.NewReplacer("\r", `\r`, "\n", `\n`).Replace(string(p))
}

func (s *Session) tracef(traceType gxcommon.TraceTypes, fmtStr string, a ...any) {
	s.trace(traceType, fmt.Sprintf(fmtStr, a...))
}

func (s *Session) trace(traceType gxcommon.TraceTypes, msg string) {
	s.mu.Lock()
	trace := !(int(s.traceLevel) < int(traceType))
	cb := s.onTrace
	s.mu.Unlock()
	if cb != nil && trace {
		p := gxcommon.NewTraceEventArgs(traceType, msg, "")
		cb(s, *p)
	}
}

func (s *Session) errorf(err error) {
	s.mu.Lock()
	cb := s.onErr
	s.mu.Unlock()
	if cb != nil {
		cb(s, err)
	}
}

func (s *Session) statef(state SessionState) {
	s.mu.Lock()
	cb := s.onState
	s.mu.Unlock()
	if cb != nil {
		cb(s, state)
	}
}

// GetSettings returns the protocol settings as XML elements.
func (s *Session) GetSettings() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	fmt.Fprintf(&b, "<Model>%s</Model>\n", xmlEscape(s.grammar.Model))
	if s.settings.Timeout != 0 {
		fmt.Fprintf(&b, "<Timeout>%d</Timeout>\n", s.settings.Timeout.Milliseconds())
	}
	if s.settings.MaxRetries != 0 {
		fmt.Fprintf(&b, "<MaxRetries>%d</MaxRetries>\n", s.settings.MaxRetries)
	}
	if s.settings.DrainLimit != 0 {
		fmt.Fprintf(&b, "<DrainLimit>%d</DrainLimit>\n", s.settings.DrainLimit)
	}
	if s.settings.SettleDelay != 0 {
		fmt.Fprintf(&b, "<SettleDelay>%d</SettleDelay>\n", s.settings.SettleDelay.Milliseconds())
	}
	if s.settings.VerifyWrites {
		b.WriteString("<VerifyWrites>1</VerifyWrites>\n")
	}
	return b.String()
}

// SetSettings reads protocol settings from XML elements returned by
// GetSettings. Times are in milliseconds.
func (s *Session) SetSettings(value string) error {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	settings := s.Settings()
	grammar := s.Grammar()
	dec := xml.NewDecoder(strings.NewReader("<root>" + value + "</root>"))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		var v string
		if err := dec.DecodeElement(&v, &se); err != nil {
			return err
		}
		switch se.Name.Local {
		case "Model":
			if grammar, err = LookupGrammar(v); err != nil {
				return err
			}
		case "Timeout":
			ms, err := strconv.Atoi(v)
			if err != nil || ms <= 0 {
				return fmt.Errorf("invalid Timeout value: %q", v)
			}
			settings.Timeout = time.Duration(ms) * time.Millisecond
		case "MaxRetries":
			if settings.MaxRetries, err = strconv.Atoi(v); err != nil || settings.MaxRetries < 0 {
				return fmt.Errorf("invalid MaxRetries value: %q", v)
			}
		case "DrainLimit":
			if settings.DrainLimit, err = strconv.Atoi(v); err != nil || settings.DrainLimit <= 0 {
				return fmt.Errorf("invalid DrainLimit value: %q", v)
			}
		case "SettleDelay":
			ms, err := strconv.Atoi(v)
			if err != nil || ms < 0 {
				return fmt.Errorf("invalid SettleDelay value: %q", v)
			}
			settings.SettleDelay = time.Duration(ms) * time.Millisecond
		case "VerifyWrites":
			settings.VerifyWrites = v == "1" || strings.EqualFold(v, "true")
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return newProtocolError(KindBusy, nil, nil)
	}
	s.settings = settings
	s.grammar = grammar
	return nil
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return s
	}
	return buf.String()
}

//nolint:errcheck
func init() {
	// --- English (default) ---
	message.SetString(language.AmericanEnglish, "msg.closing_session", "Closing session to %s")
	message.SetString(language.AmericanEnglish, "msg.session_faulted", "Session faulted: %v")
	message.SetString(language.AmericanEnglish, "msg.attempt_failed", "Attempt %d of %d failed: %v")
	message.SetString(language.AmericanEnglish, "msg.drain_entry", "Error queue entry %d: %v")
	message.SetString(language.AmericanEnglish, "msg.unexpected_identity", "unexpected instrument identity: %s")

	// --- German (de) ---
	message.SetString(language.German, "msg.closing_session", "Sitzung zu %s wird geschlossen")
	message.SetString(language.German, "msg.session_faulted", "Sitzung fehlerhaft: %v")
	message.SetString(language.German, "msg.attempt_failed", "Versuch %d von %d fehlgeschlagen: %v")
	message.SetString(language.German, "msg.drain_entry", "Fehlerspeicher Eintrag %d: %v")
	message.SetString(language.German, "msg.unexpected_identity", "unerwartete Gerätekennung: %s")

	// --- Finnish (fi) ---
	message.SetString(language.Finnish, "msg.closing_session", "Suljetaan istunto kohteeseen %s")
	message.SetString(language.Finnish, "msg.session_faulted", "Istunto vikatilassa: %v")
	message.SetString(language.Finnish, "msg.attempt_failed", "Yritys %d/%d epäonnistui: %v")
	message.SetString(language.Finnish, "msg.drain_entry", "Virhejonon merkintä %d: %v")
	message.SetString(language.Finnish, "msg.unexpected_identity", "odottamaton laitteen tunniste: %s")

	// --- Swedish (sv) ---
	message.SetString(language.Swedish, "msg.closing_session", "Stänger session till %s")
	message.SetString(language.Swedish, "msg.session_faulted", "Sessionen är felaktig: %v")
	message.SetString(language.Swedish, "msg.attempt_failed", "Försök %d av %d misslyckades: %v")
	message.SetString(language.Swedish, "msg.drain_entry", "Felkö post %d: %v")
	message.SetString(language.Swedish, "msg.unexpected_identity", "oväntad instrumentidentitet: %s")
}
