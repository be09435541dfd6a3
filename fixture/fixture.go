// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fixture drives the fixtures programmed on the FPGA boards over a
// serial link.
//
// Host and device share no clock: the drivers mirror the device state
// machines with explicit states, advanced by the symbols they send and
// receive, and every wait on the link is bounded.
package fixture // import "github.com/go-lpc/uartfix/fixture"

import (
	"fmt"
	"time"

	"github.com/go-lpc/uartfix/channel"
	"github.com/go-lpc/uartfix/uart"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

// Kind identifies a fixture.
type Kind uint8

const (
	KindEcho Kind = iota + 1
	KindSum
)

func (k Kind) String() string {
	switch k {
	case KindEcho:
		return "echo"
	case KindSum:
		return "sum"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Response holds what a board sent back during one Run.
type Response struct {
	Observed []byte
	Elapsed  time.Duration
}

// Driver drives one fixture.
// The set of drivers is closed: Echo and Sum are the only implementations.
type Driver interface {
	Kind() Kind

	// Timing returns the bit timing of the link.
	Timing() uart.Timing

	// Run sends the stimulus and collects the response of the board.
	// On failure, Run returns what was observed so far together with a
	// *SymbolError, and the driver is back in its reset state.
	Run(stim []byte) (Response, error)

	// Reset brings the driver back to its initial state and
	// resynchronizes with the board.
	Reset() error

	driver()
}

// ReplyBits is the bound, in bit periods, a board has to answer one
// symbol: one frame of propagation plus one frame of margin.
const ReplyBits = 2 * uart.FrameBits

type config struct {
	hz    float64
	slack time.Duration
	msg   zerolog.Logger
}

func newConfig(opts []Option) config {
	cfg := config{
		hz:  uart.DefaultClockHz,
		msg: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Option configures a driver.
type Option func(*config)

// WithClockHz sets the frequency of the device clock.
func WithClockHz(hz float64) Option {
	return func(cfg *config) {
		if hz > 0 {
			cfg.hz = hz
		}
	}
}

// WithSlack adds d to every reply bound, to account for the latency of the
// USB bridge.
func WithSlack(d time.Duration) Option {
	return func(cfg *config) {
		if d > 0 {
			cfg.slack = d
		}
	}
}

// WithLogger sets the logger of the driver.
func WithLogger(msg zerolog.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// link holds the bounded I/O primitives shared by the drivers.
// It carries no fixture state.
type link struct {
	ch    channel.Channel
	t     uart.Timing
	bound time.Duration
	msg   zerolog.Logger
}

func newLink(ch channel.Channel, clkPerBit int, cfg config) (link, error) {
	if ch == nil {
		return link{}, xerrors.Errorf("fixture: nil channel: %w", ErrInvalidConfig)
	}
	t, err := uart.NewTiming(clkPerBit)
	if err != nil {
		return link{}, xerrors.Errorf("fixture: could not create bit timing: %w", err)
	}
	return link{
		ch:    ch,
		t:     t,
		bound: t.Duration(ReplyBits, cfg.hz) + cfg.slack,
		msg:   cfg.msg,
	}, nil
}

func (l *link) Timing() uart.Timing { return l.t }

// Bound returns how long the driver waits for a reply.
func (l *link) Bound() time.Duration { return l.bound }

func (l *link) now() time.Time { return channel.Now(l.ch) }

func (l *link) write(v byte) error {
	n, err := l.ch.Write([]byte{v})
	switch {
	case err != nil:
		return err
	case n != 1:
		return xerrors.Errorf("fixture: short write (n=%d)", n)
	}
	return nil
}

// read waits for one byte, until the reply bound expires.
// read never gives up before the bound.
func (l *link) read() (byte, error) {
	var (
		buf      [1]byte
		deadline = l.now().Add(l.bound)
	)
	for {
		left := deadline.Sub(l.now())
		if left <= 0 {
			return 0, ErrTimeout
		}
		n, err := l.ch.ReadTimeout(buf[:], left)
		switch {
		case n > 0:
			return buf[0], nil
		case err == nil, xerrors.Is(err, channel.ErrTimeout):
			continue
		default:
			return 0, err
		}
	}
}

// poll returns a byte already received, if any, without waiting.
func (l *link) poll() (byte, bool, error) {
	var buf [1]byte
	n, err := l.ch.ReadTimeout(buf[:], 0)
	switch {
	case n > 0:
		return buf[0], true, nil
	case err == nil, xerrors.Is(err, channel.ErrTimeout):
		return 0, false, nil
	default:
		return 0, false, err
	}
}

// maxDrain is the number of reply bounds resync waits for a talking board
// to settle.
const maxDrain = 16

// resync discards everything the board sent, and keeps on discarding
// until the link stayed quiet for one reply bound.
func (l *link) resync() error {
	err := l.ch.Flush()
	if err != nil {
		return xerrors.Errorf("fixture: could not flush channel: %w", err)
	}

	var (
		ndrop = 0
		limit = l.now().Add(maxDrain * l.bound)
	)
	for {
		_, err := l.read()
		if err == nil || xerrors.Is(err, uart.ErrFramingMismatch) {
			ndrop++
			if l.now().After(limit) {
				return xerrors.Errorf("fixture: board did not settle after %d bytes: %w", ndrop, ErrProtocolDesync)
			}
			continue
		}
		if xerrors.Is(err, ErrTimeout) {
			break
		}
		return xerrors.Errorf("fixture: could not drain channel: %w", err)
	}
	if ndrop > 0 {
		l.msg.Debug().Int("dropped", ndrop).Msg("resync")
	}

	err = l.ch.Flush()
	if err != nil {
		return xerrors.Errorf("fixture: could not flush channel: %w", err)
	}
	return nil
}

// fail stamps err with the time elapsed since beg, resets the driver state
// and resynchronizes with the board.
func fail(l *link, err error, beg time.Time, reset func()) error {
	var serr *SymbolError
	if xerrors.As(err, &serr) {
		serr.Elapsed = l.now().Sub(beg)
	}
	l.msg.Warn().Err(err).Msg("transaction failed")

	reset()
	rerr := l.resync()
	if rerr != nil {
		l.msg.Error().Err(rerr).Msg("could not resync")
		return fmt.Errorf("%w (resync: %v)", err, rerr)
	}
	return err
}

// Channel returns the link to the board.
func (l *link) Channel() channel.Channel { return l.ch }
