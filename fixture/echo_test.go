// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fixture

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/go-lpc/uartfix/board"
	"github.com/go-lpc/uartfix/channel"
	"github.com/go-lpc/uartfix/uart"
)

func newSim(t *testing.T, clk int, dev channel.Device) *channel.Sim {
	t.Helper()
	tm, err := uart.NewTiming(clk)
	if err != nil {
		t.Fatalf("could not create timing: %+v", err)
	}
	sim, err := channel.NewSim(tm, dev)
	if err != nil {
		t.Fatalf("could not create sim: %+v", err)
	}
	return sim
}

func newEchoBoard(t *testing.T, clk int) *board.Board {
	t.Helper()
	tm, err := uart.NewTiming(clk)
	if err != nil {
		t.Fatalf("could not create timing: %+v", err)
	}
	b, err := board.NewEcho(tm)
	if err != nil {
		t.Fatalf("could not create echo board: %+v", err)
	}
	return b
}

func TestEchoIdentity(t *testing.T) {
	msg := make([]byte, 256)
	for i := range msg {
		msg[i] = byte(i)
	}

	for _, clk := range []int{1, 2, 3, 4, 9} {
		dev := newEchoBoard(t, clk)
		sim := newSim(t, clk, dev)
		drv, err := NewEcho(sim, clk)
		if err != nil {
			t.Fatalf("clk=%d: could not create driver: %+v", clk, err)
		}

		resp, err := drv.Run(msg)
		if err != nil {
			t.Fatalf("clk=%d: could not run echo: %+v", clk, err)
		}
		if string(resp.Observed) != string(msg) {
			t.Fatalf("clk=%d: invalid echo:\ngot= %x\nwant=%x", clk, resp.Observed, msg)
		}
		if resp.Elapsed <= 0 {
			t.Fatalf("clk=%d: invalid elapsed time: %v", clk, resp.Elapsed)
		}
		if got, want := drv.LED(), dev.LEDs(); got != want {
			t.Fatalf("clk=%d: LED mirror differs from board: got=0x%02x, want=0x%02x", clk, got, want)
		}
		if got, want := drv.State(), EchoIdle; got != want {
			t.Fatalf("clk=%d: invalid state: got=%v, want=%v", clk, got, want)
		}
	}
}

func TestEchoShiftRegister(t *testing.T) {
	const clk = 4
	var (
		rnd  = rand.New(rand.NewSource(1234))
		dev  = newEchoBoard(t, clk)
		sim  = newSim(t, clk, dev)
		bits []uint8
	)

	drv, err := NewEcho(sim, clk)
	if err != nil {
		t.Fatalf("could not create driver: %+v", err)
	}

	for i := 0; i < 64; i++ {
		v := byte(rnd.Intn(256))
		got, err := drv.Exchange(v)
		if err != nil {
			t.Fatalf("could not exchange 0x%02x: %+v", v, err)
		}
		if got != v {
			t.Fatalf("invalid echo: got=0x%02x, want=0x%02x", got, v)
		}
		for j := 0; j < uart.DataBits; j++ {
			bits = append(bits, (v>>j)&1)
		}

		var want uint8
		last := bits[len(bits)-8:]
		for k, bit := range last {
			want |= bit << k
		}
		if got := drv.LED(); got != want {
			t.Fatalf("exchange %d: invalid LED mirror: got=0x%02x, want=0x%02x", i, got, want)
		}
		if got := dev.LEDs(); got != want {
			t.Fatalf("exchange %d: invalid board LEDs: got=0x%02x, want=0x%02x", i, got, want)
		}
	}
}

func TestEchoTimeout(t *testing.T) {
	t.Run("sim", func(t *testing.T) {
		const clk = 4
		sim := newSim(t, clk, channel.Mute)
		drv, err := NewEcho(sim, clk, WithSlack(time.Microsecond))
		if err != nil {
			t.Fatalf("could not create driver: %+v", err)
		}

		beg := sim.Now()
		_, err = drv.Exchange(0x42)
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrTimeout)
		}
		var serr *SymbolError
		if !errors.As(err, &serr) {
			t.Fatalf("expected a *SymbolError, got %T", err)
		}
		if serr.Elapsed < drv.Bound() {
			t.Fatalf("timed out too early: elapsed=%v, bound=%v", serr.Elapsed, drv.Bound())
		}
		if got := sim.Now().Sub(beg); got < drv.Bound() {
			t.Fatalf("timed out too early: %v < %v", got, drv.Bound())
		}
		if serr.Want != 0x42 || serr.Got != -1 || serr.Index != 0 {
			t.Fatalf("invalid symbol error: %+v", serr)
		}
		if got, want := drv.State(), EchoIdle; got != want {
			t.Fatalf("invalid state: got=%v, want=%v", got, want)
		}
	})

	t.Run("wall-clock", func(t *testing.T) {
		const slack = 3 * time.Millisecond
		pipe := channel.NewSink()
		drv, err := NewEcho(pipe, 4, WithSlack(slack))
		if err != nil {
			t.Fatalf("could not create driver: %+v", err)
		}
		beg := time.Now()
		_, err = drv.Run([]byte{1, 2})
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrTimeout)
		}
		if got := time.Since(beg); got < drv.Bound() {
			t.Fatalf("timed out too early: %v < %v", got, drv.Bound())
		}
	})
}

func TestEchoMismatch(t *testing.T) {
	ch := newFakeChannel(func(v byte) []byte { return []byte{^v} })
	drv, err := NewEcho(ch, 4)
	if err != nil {
		t.Fatalf("could not create driver: %+v", err)
	}

	resp, err := drv.Run([]byte{0x0f, 0x10})
	if !errors.Is(err, ErrMismatch) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrMismatch)
	}
	var serr *SymbolError
	if !errors.As(err, &serr) {
		t.Fatalf("expected a *SymbolError, got %T", err)
	}
	if serr.Index != 0 || serr.Want != 0x0f || serr.Got != 0xf0 {
		t.Fatalf("invalid symbol error: %+v", serr)
	}
	if got, want := string(resp.Observed), "\xf0"; got != want {
		t.Fatalf("invalid observed: got=%q, want=%q", got, want)
	}
	if got, want := string(ch.writes), "\x0f"; got != want {
		t.Fatalf("run should stop at first failure: writes=%q", got)
	}
	if ch.flushes == 0 {
		t.Fatalf("driver did not resync")
	}
}

func TestEchoDoubleReply(t *testing.T) {
	for _, tc := range []struct {
		name   string
		stim   []byte
		twice  int // index of the symbol echoed twice
		index  int
		got    byte
		obs    string
		writes string
	}{
		{
			name:   "every-byte",
			stim:   []byte{0x55, 0x55, 0x55},
			twice:  -1,
			index:  1,
			got:    0x55,
			obs:    "\x55\x55",
			writes: "\x55",
		},
		{
			name:   "last-byte",
			stim:   []byte{0x01, 0x02},
			twice:  1,
			index:  2,
			got:    0x02,
			obs:    "\x01\x02\x02",
			writes: "\x01\x02",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			n := 0
			ch := newFakeChannel(func(v byte) []byte {
				defer func() { n++ }()
				if tc.twice < 0 || tc.twice == n {
					return []byte{v, v}
				}
				return []byte{v}
			})
			drv, err := NewEcho(ch, 4)
			if err != nil {
				t.Fatalf("could not create driver: %+v", err)
			}

			resp, err := drv.Run(tc.stim)
			if !errors.Is(err, ErrProtocolDesync) {
				t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrProtocolDesync)
			}
			var serr *SymbolError
			if !errors.As(err, &serr) {
				t.Fatalf("expected a *SymbolError, got %T", err)
			}
			if serr.Index != tc.index || serr.Got != int(tc.got) {
				t.Fatalf("invalid symbol error: %+v", serr)
			}
			if got, want := string(resp.Observed), tc.obs; got != want {
				t.Fatalf("invalid observed: got=%q, want=%q", got, want)
			}
			if got, want := string(ch.writes), tc.writes; got != want {
				t.Fatalf("invalid writes: got=%q, want=%q", got, want)
			}
			if got, want := drv.State(), EchoIdle; got != want {
				t.Fatalf("invalid state: got=%v, want=%v", got, want)
			}
		})
	}
}

func TestEchoFramingMismatch(t *testing.T) {
	ch := newFakeChannel(nil)
	ch.err = &uart.DecodeError{Start: 0, Stop: 0, Data: 0x42}

	drv, err := NewEcho(ch, 4)
	if err != nil {
		t.Fatalf("could not create driver: %+v", err)
	}
	_, err = drv.Exchange(0x42)
	if !errors.Is(err, ErrFramingMismatch) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrFramingMismatch)
	}
}

func TestEchoResetAfterFailure(t *testing.T) {
	quiet := true
	ch := newFakeChannel(func(v byte) []byte {
		if quiet {
			return nil
		}
		return []byte{v}
	})
	drv, err := NewEcho(ch, 4)
	if err != nil {
		t.Fatalf("could not create driver: %+v", err)
	}

	_, err = drv.Exchange(0x01)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrTimeout)
	}

	quiet = false
	resp, err := drv.Run([]byte("ok"))
	if err != nil {
		t.Fatalf("could not run after failure: %+v", err)
	}
	if got, want := string(resp.Observed), "ok"; got != want {
		t.Fatalf("got=%q, want=%q", got, want)
	}

	if err := drv.Reset(); err != nil {
		t.Fatalf("could not reset driver: %+v", err)
	}
	if got, want := drv.LED(), byte('k'); got != want {
		t.Fatalf("reset should keep the LED mirror: got=0x%02x, want=0x%02x", got, want)
	}
}

func TestNewEchoInvalid(t *testing.T) {
	_, err := NewEcho(channel.NewPipe(), 0)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrInvalidConfig)
	}

	_, err = NewEcho(nil, 4)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrInvalidConfig)
	}
}

func TestBound(t *testing.T) {
	for _, tc := range []struct {
		clk   int
		hz    float64
		slack time.Duration
		want  time.Duration
	}{
		{clk: 4, hz: 12e6, want: 6667 * time.Nanosecond},
		{clk: 1, hz: 1e6, want: 20 * time.Microsecond},
		{clk: 100, hz: 1e6, slack: time.Millisecond, want: 3 * time.Millisecond},
	} {
		drv, err := NewEcho(channel.NewPipe(), tc.clk, WithClockHz(tc.hz), WithSlack(tc.slack))
		if err != nil {
			t.Fatalf("could not create driver: %+v", err)
		}
		if got := drv.Bound(); got != tc.want {
			t.Errorf("clk=%d: invalid bound: got=%v, want=%v", tc.clk, got, tc.want)
		}
		if got, want := drv.Timing().ClkPerBit(), tc.clk; got != want {
			t.Errorf("invalid timing: got=%d, want=%d", got, want)
		}
	}
}
