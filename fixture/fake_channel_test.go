// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fixture

import (
	"time"

	"github.com/go-lpc/uartfix/channel"
)

// fakeChannel is a scripted channel running on a virtual clock.
// reply is called on every written byte and returns the bytes the fake
// board sends back.
type fakeChannel struct {
	now    time.Time
	wdelay time.Duration // virtual time spent per written byte

	reply func(v byte) []byte
	rbuf  []byte

	// with lag, replies are on the wire until the host waits for them.
	lag  bool
	wire []byte

	writes  []byte
	flushes int
	err     error // error returned by the next read
}

func newFakeChannel(reply func(v byte) []byte) *fakeChannel {
	return &fakeChannel{
		now:   time.Unix(0, 0).UTC(),
		reply: reply,
	}
}

func (ch *fakeChannel) Now() time.Time { return ch.now }

func (ch *fakeChannel) Write(p []byte) (int, error) {
	for _, v := range p {
		ch.now = ch.now.Add(ch.wdelay)
		ch.writes = append(ch.writes, v)
		if ch.reply == nil {
			continue
		}
		if ch.lag {
			ch.wire = append(ch.wire, ch.reply(v)...)
			continue
		}
		ch.rbuf = append(ch.rbuf, ch.reply(v)...)
	}
	return len(p), nil
}

func (ch *fakeChannel) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	if err := ch.err; err != nil {
		ch.err = nil
		return 0, err
	}
	if timeout > 0 && len(ch.wire) > 0 {
		ch.rbuf = append(ch.rbuf, ch.wire...)
		ch.wire = ch.wire[:0]
	}
	if len(ch.rbuf) == 0 {
		ch.now = ch.now.Add(timeout)
		return 0, channel.ErrTimeout
	}
	n := copy(p, ch.rbuf)
	ch.rbuf = ch.rbuf[n:]
	return n, nil
}

func (ch *fakeChannel) Flush() error {
	ch.flushes++
	ch.rbuf = ch.rbuf[:0]
	ch.wire = ch.wire[:0]
	return nil
}

var (
	_ channel.Channel = (*fakeChannel)(nil)
	_ channel.Clock   = (*fakeChannel)(nil)
)
