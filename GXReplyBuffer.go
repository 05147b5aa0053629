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
	"sync"
	"time"
)

// replyBuffer collects bytes received from the instrument until a reader
// takes a complete reply out of it.
type replyBuffer struct {
	mu   sync.Mutex
	buf  []byte
	wait chan struct{}
	// err is returned to readers when the buffer has no complete reply.
	err error
}

func newReplyBuffer() *replyBuffer {
	return &replyBuffer{wait: make(chan struct{})}
}

// Append adds received bytes and wakes up waiting readers.
func (b *replyBuffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	b.mu.Lock()
	b.buf = append(b.buf, p...)
	b.wake()
	b.mu.Unlock()
}

// Fail wakes up waiting readers with err. Data already buffered can still
// be read.
func (b *replyBuffer) Fail(err error) {
	b.mu.Lock()
	if b.err == nil {
		b.err = err
	}
	b.wake()
	b.mu.Unlock()
}

// Reset drops buffered bytes. Used before a command is repeated so a late
// reply of the previous attempt is not taken as the new one.
func (b *replyBuffer) Reset() {
	b.mu.Lock()
	b.buf = b.buf[:0]
	b.mu.Unlock()
}

// Len returns the number of buffered bytes.
func (b *replyBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// wake must be called with mu held.
func (b *replyBuffer) wake() {
	old := b.wait
	b.wait = make(chan struct{})
	close(old)
}

// ReadUntil removes and returns buffered bytes up to and including
// pattern. It waits at most maxWait for the pattern to arrive and returns
// ErrTimeout if it does not.
func (b *replyBuffer) ReadUntil(pattern []byte, maxWait time.Duration) ([]byte, error) {
	var timer *time.Timer
	if maxWait > 0 {
		timer = time.NewTimer(maxWait)
		defer timer.Stop()
	}
	// Keep last bytes that may be a start of the pattern.
	overlap := len(pattern) - 1
	if overlap < 0 {
		overlap = 0
	}
	start := 0
	for {
		b.mu.Lock()
		if start > len(b.buf) {
			start = len(b.buf)
		}
		if i := bytes.Index(b.buf[start:], pattern); i >= 0 {
			end := start + i + len(pattern)
			ret := make([]byte, end)
			copy(ret, b.buf[:end])
			b.buf = append(b.buf[:0], b.buf[end:]...)
			b.mu.Unlock()
			return ret, nil
		}
		if b.err != nil {
			err := b.err
			b.mu.Unlock()
			return nil, err
		}
		start = len(b.buf) - overlap
		if start < 0 {
			start = 0
		}
		ch := b.wait
		b.mu.Unlock()

		if timer == nil {
			return nil, ErrTimeout
		}
		select {
		case <-ch:
		case <-timer.C:
			return nil, ErrTimeout
		}
	}
}
