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
	"io"
	"sync"
	"time"

	"github.com/Gurux/gxcommon-go"
)

// Transport is the byte level connection to one instrument. A Session owns
// its transport exclusively.
type Transport interface {
	// Write sends a complete command line.
	Write(p []byte) error
	// ReadUntil returns the received bytes up to and including terminator.
	// ErrTimeout is returned if the terminator is not received within wait.
	ReadUntil(terminator byte, wait time.Duration) ([]byte, error)
	// Close releases the connection.
	Close() error
}

// Media is the part of the Gurux media contract (gxcommon.IGXMedia) used by
// MediaTransport. gxserial.GXSerial implements it.
type Media interface {
	IsOpen() bool
	Open() error
	GetSynchronous() func()
	ResetSynchronousBuffer()
	Send(data any, receiver string) error
	Receive(args *gxcommon.ReceiveParameters) (bool, error)
	Close() error
}

// MediaTransport adapts a Gurux media to Transport. The media is kept in
// synchronous mode until the transport is closed.
type MediaTransport struct {
	media   Media
	release func()
	once    sync.Once
}

// NewMediaTransport opens the media if needed and takes it to synchronous
// mode.
func NewMediaTransport(media Media) (*MediaTransport, error) {
	if media == nil {
		return nil, errors.New("media is nil")
	}
	if !media.IsOpen() {
		if err := media.Open(); err != nil {
			return nil, err
		}
	}
	return &MediaTransport{media: media, release: media.GetSynchronous()}, nil
}

// Write implements Transport.
func (t *MediaTransport) Write(p []byte) error {
	t.discard()
	return t.media.Send(p, "")
}

// discard drops late bytes of an earlier reply from the synchronous
// buffer.
func (t *MediaTransport) discard() {
	t.media.ResetSynchronousBuffer()
	r := gxcommon.NewReceiveParameters[string]()
	r.AllData = true
	r.WaitTime = 0
	//Nothing to remove if this fails.
	_, _ = t.media.Receive(r)
}

// ReadUntil implements Transport.
func (t *MediaTransport) ReadUntil(terminator byte, wait time.Duration) ([]byte, error) {
	r := gxcommon.NewReceiveParameters[string]()
	r.EOP = string([]byte{terminator})
	r.Count = 0
	r.WaitTime = int(wait / time.Millisecond)
	ok, err := t.media.Receive(r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTimeout
	}
	switch v := r.Reply.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf("unexpected reply type %T", r.Reply)
	}
}

// Close implements Transport. The media is closed only once.
func (t *MediaTransport) Close() error {
	var err error
	t.once.Do(func() {
		t.release()
		err = t.media.Close()
	})
	return err
}

// StreamTransport runs a Transport over a byte stream such as a TCP
// connection to a GPIB-LAN gateway. Received bytes are collected by a
// reader goroutine.
type StreamTransport struct {
	rwc      io.ReadWriteCloser
	received *replyBuffer
	wg       sync.WaitGroup
	once     sync.Once
}

// NewStreamTransport starts reading from rwc.
func NewStreamTransport(rwc io.ReadWriteCloser) *StreamTransport {
	t := &StreamTransport{rwc: rwc, received: newReplyBuffer()}
	t.wg.Add(1)
	go t.reader()
	return t
}

func (t *StreamTransport) reader() {
	defer t.wg.Done()
	buf := make([]byte, 1024)
	for {
		n, err := t.rwc.Read(buf)
		if n != 0 {
			t.received.Append(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			t.received.Fail(err)
			return
		}
	}
}

// Write implements Transport.
func (t *StreamTransport) Write(p []byte) error {
	// Late bytes of an earlier reply are not part of the next one.
	t.received.Reset()
	_, err := t.rwc.Write(p)
	return err
}

// ReadUntil implements Transport.
func (t *StreamTransport) ReadUntil(terminator byte, wait time.Duration) ([]byte, error) {
	return t.received.ReadUntil([]byte{terminator}, wait)
}

// Close implements Transport. It waits until the reader has stopped.
func (t *StreamTransport) Close() error {
	var err error
	t.once.Do(func() {
		err = t.rwc.Close()
		t.wg.Wait()
	})
	return err
}
