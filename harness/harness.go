// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package harness runs conformance scenarios against the fixtures and
// reports their outcome.
package harness // import "github.com/go-lpc/uartfix/harness"

import (
	"fmt"
	"math/bits"
	"time"

	"github.com/go-lpc/uartfix/channel"
	"github.com/go-lpc/uartfix/fixture"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

// Harness runs scenarios against the fixture drivers of one board.
// A Harness is not safe for concurrent use: use one per board.
type Harness struct {
	board string
	root  zerolog.Logger
	msg   zerolog.Logger
	now   func() time.Time
	seq   int

	leds map[*fixture.Echo]uint8 // LED model at the end of the last clean echo scenario
}

// Option configures a Harness.
type Option func(*Harness)

// WithBoard sets the name of the board under test, as it appears in reports.
func WithBoard(name string) Option {
	return func(h *Harness) {
		h.board = name
	}
}

// WithLogger sets the logger transactions and scenarios are reported to.
func WithLogger(msg zerolog.Logger) Option {
	return func(h *Harness) {
		h.msg = msg
	}
}

// New returns a new harness.
func New(opts ...Option) *Harness {
	h := &Harness{
		board: "sim",
		msg:   zerolog.Nop(),
		now:   time.Now,
		leds:  make(map[*fixture.Echo]uint8),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.root = h.msg
	h.msg = h.msg.With().Str("board", h.board).Logger()
	return h
}

// Board returns the name of the board under test.
func (h *Harness) Board() string { return h.board }

func (h *Harness) name(k fixture.Kind) string {
	h.seq++
	return fmt.Sprintf("%v-%d", k, h.seq)
}

// Run dispatches stim to the scenario matching the driver.
func (h *Harness) Run(drv fixture.Driver, stim []byte) Report {
	switch drv := drv.(type) {
	case *fixture.Echo:
		return h.RunEcho(drv, stim)
	case *fixture.Sum:
		return h.RunSum(drv, stim)
	}
	panic(fmt.Errorf("harness: unknown driver %T", drv))
}

// RunEcho sends every byte of data, one transaction per byte, and checks
// each echo. Once all bytes went through, the LED mirror of the driver is
// checked against a bit-level model of the shift register and, when the
// link can read it back, against the board itself.
func (h *Harness) RunEcho(drv *fixture.Echo, data []byte) Report {
	var (
		name = h.name(fixture.KindEcho)
		rep  = Report{
			Name:    name,
			Board:   h.board,
			Kind:    fixture.KindEcho,
			Started: h.now(),
		}
		beg   = channel.Now(drv.Channel())
		model = newShiftRegister(h.ledSeed(drv))
	)

	for i, v := range data {
		t0 := channel.Now(drv.Channel())
		got, err := drv.Exchange(v)
		tx := Transaction{
			Scenario: name,
			Index:    i,
			Stimulus: []byte{v},
			Expected: []byte{v},
			Elapsed:  channel.Now(drv.Channel()).Sub(t0),
		}
		if err == nil || xerrors.Is(err, fixture.ErrMismatch) || xerrors.Is(err, fixture.ErrProtocolDesync) {
			tx.Observed = []byte{got}
		}
		tx.finish(err, 0)
		model.push(v)
		h.log(tx)
		rep.Transactions = append(rep.Transactions, tx)
	}

	rep.LED = h.checkLED(drv, model.value(), rep.Transactions)
	if rep.LED != nil {
		h.leds[drv] = model.value()
	} else {
		delete(h.leds, drv)
	}
	rep.Elapsed = channel.Now(drv.Channel()).Sub(beg)
	rep.finish()
	h.logReport(rep)
	return rep
}

// ledSeed returns the content of the LED register before a scenario: read
// back from the board when the link allows it, else as modeled at the end of
// the last clean scenario. The driver mirror is the last resort.
func (h *Harness) ledSeed(drv *fixture.Echo) uint8 {
	if p, ok := drv.Channel().(channel.LEDProber); ok {
		if v, ok := p.LEDs(); ok {
			return v
		}
	}
	if v, ok := h.leds[drv]; ok {
		return v
	}
	return drv.LED()
}

func (h *Harness) checkLED(drv *fixture.Echo, want uint8, txs []Transaction) *LEDCheck {
	for _, tx := range txs {
		if tx.Status != StatusPass {
			// the content of the register is unknown once a byte got lost.
			return nil
		}
	}

	chk := &LEDCheck{Want: want, Mirror: drv.LED(), Device: -1}
	chk.OK = chk.Mirror == chk.Want
	if p, ok := drv.Channel().(channel.LEDProber); ok {
		if v, ok := p.LEDs(); ok {
			chk.Device = int(v)
			chk.OK = chk.OK && v == want
		}
	}
	return chk
}

// RunSum sends the bits of stim to the sum fixture, as one transaction, and
// checks the board replies with the number of ones.
func (h *Harness) RunSum(drv *fixture.Sum, stim []byte) Report {
	var (
		name = h.name(fixture.KindSum)
		rep  = Report{
			Name:    name,
			Board:   h.board,
			Kind:    fixture.KindSum,
			Started: h.now(),
		}
		want = Popcount(stim)
		tx   = Transaction{
			Scenario: name,
			Stimulus: append([]byte(nil), stim...),
			Expected: []byte{want},
		}
	)

	resp, err := drv.Run(stim)
	tx.Observed = resp.Observed
	tx.Elapsed = resp.Elapsed
	if err == nil && (len(resp.Observed) != 1 || resp.Observed[0] != want) {
		got := -1
		if len(resp.Observed) > 0 {
			got = int(resp.Observed[0])
		}
		err = &fixture.SymbolError{
			Op: "sum", Index: len(stim), Want: int(want), Got: got,
			Elapsed: resp.Elapsed, Err: fixture.ErrMismatch,
		}
	}
	tx.finish(err, len(stim))
	h.log(tx)

	rep.Transactions = []Transaction{tx}
	rep.Elapsed = resp.Elapsed
	rep.finish()
	h.logReport(rep)
	return rep
}

// Popcount returns the number of set bits in stim.
func Popcount(stim []byte) byte {
	n := 0
	for _, v := range stim {
		n += bits.OnesCount8(v)
	}
	return byte(n)
}

func (h *Harness) log(tx Transaction) {
	evt := h.msg.Debug()
	if tx.Status != StatusPass {
		evt = h.msg.Warn().Err(tx.Err).Int("symbol", tx.Symbol)
	}
	evt.
		Str("scenario", tx.Scenario).
		Int("index", tx.Index).
		Hex("stimulus", tx.Stimulus).
		Hex("expected", tx.Expected).
		Hex("observed", tx.Observed).
		Dur("elapsed", tx.Elapsed).
		Stringer("status", tx.Status).
		Msg("transaction")
}

func (h *Harness) logReport(rep Report) {
	evt := h.msg.Info()
	if rep.Status != StatusPass {
		evt = h.msg.Error()
	}
	if rep.LED != nil {
		evt = evt.Uint8("led", rep.LED.Mirror).Bool("led-ok", rep.LED.OK)
	}
	evt.
		Str("scenario", rep.Name).
		Stringer("fixture", rep.Kind).
		Int("transactions", len(rep.Transactions)).
		Int("failures", rep.Failures()).
		Dur("elapsed", rep.Elapsed).
		Stringer("status", rep.Status).
		Msg("scenario")
}

// shiftRegister models the LED register of the echo fixture.
type shiftRegister struct {
	bits []uint8
}

func newShiftRegister(v uint8) *shiftRegister {
	reg := &shiftRegister{}
	for i := 0; i < 8; i++ {
		reg.bits = append(reg.bits, (v>>i)&1)
	}
	return reg
}

// push shifts the data bits of v, LSB first.
func (reg *shiftRegister) push(v byte) {
	for i := 0; i < 8; i++ {
		reg.bits = append(reg.bits, (v>>i)&1)
	}
	if n := len(reg.bits); n > 8 {
		reg.bits = append(reg.bits[:0], reg.bits[n-8:]...)
	}
}

// value returns the last 8 bits, the most recent one in bit 7.
func (reg *shiftRegister) value() uint8 {
	var (
		v    uint8
		last = reg.bits[len(reg.bits)-8:]
	)
	for i, bit := range last {
		v |= bit << i
	}
	return v
}
