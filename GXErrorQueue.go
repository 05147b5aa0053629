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
	"iter"

	"github.com/Gurux/gxcommon-go"
)

// errorQueue returns the instrument error queue as a lazy sequence. Each
// step sends one QueryNextError. The sequence ends when the queue is empty,
// when cfg.DrainLimit queries were made (ErrErrorQueueOverflow) or when the
// transport fails. A reply that can't be decoded ends the sequence with a
// synthetic fault. The sequence can be ranged over only once.
func (s *Session) errorQueue(cfg operation) iter.Seq2[InstrumentFault, error] {
	used := false
	return func(yield func(InstrumentFault, error) bool) {
		if used {
			return
		}
		used = true
		req := QueryNextError{}
		cmd, err := cfg.grammar.Encode(req)
		if err != nil {
			yield(InstrumentFault{}, err)
			return
		}
		for i := 0; i < cfg.DrainLimit; i++ {
			raw, err := s.roundTrip(cfg, cmd, true)
			if err != nil {
				yield(InstrumentFault{}, err)
				return
			}
			resp, err := cfg.grammar.Decode(req, raw)
			if err != nil {
				yield(InstrumentFault{Code: SyntheticFaultCode, Message: err.Error()}, nil)
				return
			}
			entry, ok := resp.(ErrorEntry)
			if !ok {
				return
			}
			s.trace(gxcommon.TraceTypesInfo, s.printer().Sprintf("msg.drain_entry", i+1, entry.Fault))
			if !yield(entry.Fault, nil) {
				return
			}
		}
		yield(InstrumentFault{}, ErrErrorQueueOverflow)
	}
}

// drain collects the error queue entries.
func (s *Session) drain(cfg operation) ([]InstrumentFault, error) {
	var faults []InstrumentFault
	for f, err := range s.errorQueue(cfg) {
		if err == nil {
			faults = append(faults, f)
			continue
		}
		var pe *ProtocolError
		switch {
		case errors.Is(err, ErrErrorQueueOverflow):
			pe = newProtocolError(KindErrorQueueOverflow, nil, faults)
		case errors.As(err, &pe):
			pe.Faults = faults
		default:
			return faults, err
		}
		s.stats.faults.Add(uint64(len(faults)))
		return faults, pe
	}
	return faults, nil
}
