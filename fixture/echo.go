// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fixture

import (
	"time"

	"github.com/go-lpc/uartfix/channel"
	"github.com/go-lpc/uartfix/uart"
	"golang.org/x/xerrors"
)

// EchoState is the state of the echo fixture, as seen from the host.
type EchoState uint8

const (
	EchoIdle  EchoState = iota // ready to send
	EchoAwait                  // byte sent, waiting for its echo
)

func (st EchoState) String() string {
	switch st {
	case EchoIdle:
		return "idle"
	case EchoAwait:
		return "await-echo"
	}
	return "unknown"
}

// Echo drives the echo fixture: every byte sent to the board is sent back
// unchanged, and every received data bit is shifted into the LED register.
type Echo struct {
	link

	state EchoState
	leds  uint8 // mirror of the LED register
}

// NewEcho returns a driver for the echo fixture running at clkPerBit device
// clock ticks per bit on the other end of ch.
func NewEcho(ch channel.Channel, clkPerBit int, opts ...Option) (*Echo, error) {
	cfg := newConfig(opts)
	l, err := newLink(ch, clkPerBit, cfg)
	if err != nil {
		return nil, err
	}
	return &Echo{link: l}, nil
}

func (*Echo) Kind() Kind { return KindEcho }
func (*Echo) driver()    {}

// State returns the current state of the driver.
func (e *Echo) State() EchoState { return e.state }

// LED returns the host mirror of the LED register: the last 8 data bits
// put on the wire, the most recent one in bit 7.
func (e *Echo) LED() uint8 { return e.leds }

// Reset brings the driver back to idle and resynchronizes with the board.
// The LED mirror is kept: the board does not clear its register either.
func (e *Echo) Reset() error {
	e.state = EchoIdle
	return e.resync()
}

// Exchange sends v and waits for its echo.
func (e *Echo) Exchange(v byte) (byte, error) {
	beg := e.now()
	got, err := e.exchange(0, v)
	if err != nil {
		err = e.fail(err, beg)
	}
	return got, err
}

// Run exchanges every byte of stim, in order, and stops at the first
// failure.
func (e *Echo) Run(stim []byte) (Response, error) {
	var (
		beg  = e.now()
		resp = Response{Observed: make([]byte, 0, len(stim))}
	)
	for i, v := range stim {
		got, err := e.exchange(i, v)
		if err != nil {
			if xerrors.Is(err, ErrMismatch) || xerrors.Is(err, ErrProtocolDesync) {
				resp.Observed = append(resp.Observed, got)
			}
			resp.Elapsed = e.now().Sub(beg)
			return resp, e.fail(err, beg)
		}
		resp.Observed = append(resp.Observed, got)
	}

	// every echo was consumed: the line must be quiet.
	x, ok, err := e.poll()
	switch {
	case err != nil:
		err = &SymbolError{Op: "echo", Index: len(stim), Want: -1, Got: -1, Err: err}
	case ok:
		resp.Observed = append(resp.Observed, x)
		err = &SymbolError{Op: "echo", Index: len(stim), Want: -1, Got: int(x), Err: ErrProtocolDesync}
	}
	resp.Elapsed = e.now().Sub(beg)
	if err != nil {
		return resp, e.fail(err, beg)
	}
	return resp, nil
}

func (e *Echo) exchange(i int, v byte) (byte, error) {
	symerr := func(got int, err error) error {
		return &SymbolError{Op: "echo", Index: i, Want: int(v), Got: got, Err: err}
	}

	if e.state != EchoIdle {
		return 0, symerr(-1, ErrProtocolDesync)
	}

	// the previous echo was consumed: anything left was not asked for.
	x, ok, err := e.poll()
	switch {
	case err != nil:
		return 0, symerr(-1, err)
	case ok:
		return x, symerr(int(x), ErrProtocolDesync)
	}

	err = e.write(v)
	if err != nil {
		return 0, symerr(-1, xerrors.Errorf("could not write: %w", err))
	}
	e.shift(v)
	e.state = EchoAwait

	got, err := e.read()
	if err != nil {
		return 0, symerr(-1, err)
	}
	e.state = EchoIdle

	if got != v {
		return got, symerr(int(got), ErrMismatch)
	}

	e.msg.Debug().Int("index", i).Uint8("byte", v).Msg("echo")
	return got, nil
}

func (e *Echo) shift(v byte) {
	for i := 0; i < uart.DataBits; i++ {
		e.leds = e.leds>>1 | ((v>>i)&1)<<7
	}
}

// fail resynchronizes the driver after a failed exchange.
func (e *Echo) fail(err error, beg time.Time) error {
	return fail(&e.link, err, beg, func() { e.state = EchoIdle })
}

var (
	_ Driver = (*Echo)(nil)
)
