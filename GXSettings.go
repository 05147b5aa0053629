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
	"time"

	"github.com/Gurux/gxcommon-go"
)

// Settings holds the protocol settings of a Session.
type Settings struct {
	// Timeout is the wait time of one round trip.
	Timeout time.Duration
	// MaxRetries is the number of times a round trip is repeated after a
	// transport failure.
	MaxRetries int
	// DrainLimit is the maximum number of error queue queries in one drain.
	DrainLimit int
	// SettleDelay is the minimum time between two commands.
	SettleDelay time.Duration
	// VerifyWrites drains the error queue after writes that the instrument
	// does not acknowledge.
	VerifyWrites bool
	// Trace is the initial trace level.
	Trace gxcommon.TraceLevel
}

// DefaultDrainLimit is the default maximum number of error queue entries
// read in one drain.
const DefaultDrainLimit = 16

func defaultSettings() Settings {
	return Settings{
		Timeout:    time.Second,
		MaxRetries: 2,
		DrainLimit: DefaultDrainLimit,
	}
}

// Option configures a Session.
type Option func(*Settings)

// WithTimeout sets the wait time of one round trip.
//
// Example:
//
//	s, err := gxpressure.Connect(t, g, gxpressure.WithTimeout(500*time.Millisecond))
func WithTimeout(timeout time.Duration) Option {
	return func(s *Settings) {
		if timeout > 0 {
			s.Timeout = timeout
		}
	}
}

// WithMaxRetries sets how many times a failed round trip is repeated.
func WithMaxRetries(retries int) Option {
	return func(s *Settings) {
		if retries >= 0 {
			s.MaxRetries = retries
		}
	}
}

// WithDrainLimit sets the maximum number of error queue queries in one
// drain.
func WithDrainLimit(limit int) Option {
	return func(s *Settings) {
		if limit > 0 {
			s.DrainLimit = limit
		}
	}
}

// WithSettleDelay sets the minimum time between two commands.
func WithSettleDelay(delay time.Duration) Option {
	return func(s *Settings) {
		if delay >= 0 {
			s.SettleDelay = delay
		}
	}
}

// WithVerifyWrites enables error queue checks after unacknowledged writes.
func WithVerifyWrites(verify bool) Option {
	return func(s *Settings) {
		s.VerifyWrites = verify
	}
}

// WithTrace sets the initial trace level.
func WithTrace(level gxcommon.TraceLevel) Option {
	return func(s *Settings) {
		s.Trace = level
	}
}
