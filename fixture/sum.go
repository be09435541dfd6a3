// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fixture

import (
	"fmt"

	"github.com/go-lpc/uartfix/channel"
	"golang.org/x/xerrors"
)

// State is the state of the sum fixture.
type State uint8

const (
	StateReset State = iota
	StateWaitInput
	StateReceiveInput
	StateSendOutput
	StateWaitOutput
)

func (st State) String() string {
	switch st {
	case StateReset:
		return "reset"
	case StateWaitInput:
		return "wait-input"
	case StateReceiveInput:
		return "receive-input"
	case StateSendOutput:
		return "send-output"
	case StateWaitOutput:
		return "wait-output"
	}
	return fmt.Sprintf("State(%d)", uint8(st))
}

type event uint8

const (
	evNone     event = iota
	evSymbol         // a symbol was put on the wire
	evResponse       // the response frame was received
)

// Sum drives the sum fixture: the board counts the ones in a stream of
// input symbols of fixed length, and replies with the count.
// Every symbol is a single bit, sent as its own frame (0x00 or 0x01).
type Sum struct {
	link

	size  int // input length
	state State
	cnt   int
	acc   byte
	last  byte // sum of the last completed transaction
}

// NewSum returns a driver for the sum fixture, running at clkPerBit device
// clock ticks per bit and reporting after n input symbols.
// n must be in [1, 255].
func NewSum(ch channel.Channel, clkPerBit, n int, opts ...Option) (*Sum, error) {
	if n < 1 || n > 255 {
		return nil, xerrors.Errorf("fixture: input length=%d: %w", n, ErrInvalidConfig)
	}
	cfg := newConfig(opts)
	l, err := newLink(ch, clkPerBit, cfg)
	if err != nil {
		return nil, err
	}
	return &Sum{link: l, size: n}, nil
}

func (*Sum) Kind() Kind { return KindSum }
func (*Sum) driver()    {}

// InputLength returns the number of symbols per transaction.
func (s *Sum) InputLength() int { return s.size }

// State returns the current state of the host mirror.
func (s *Sum) State() State { return s.state }

// Accumulator returns the number of ones counted by the host mirror during
// the current transaction.
func (s *Sum) Accumulator() byte { return s.acc }

// Count returns the number of symbols sent during the current transaction.
func (s *Sum) Count() int { return s.cnt }

// Last returns the number of ones counted by the host mirror during the
// last completed transaction.
func (s *Sum) Last() byte { return s.last }

// Reset brings the host mirror back to its initial state and
// resynchronizes with the board.
func (s *Sum) Reset() error {
	s.reset()
	return s.resync()
}

func (s *Sum) reset() {
	s.state = StateReset
	s.next(evNone, 0)
}

// next advances the host mirror of the board state machine on ev.
func (s *Sum) next(ev event, v byte) {
	for {
		switch s.state {
		case StateReset:
			s.cnt = 0
			s.acc = 0
			s.state = StateWaitInput

		case StateWaitInput:
			if ev != evSymbol {
				return
			}
			s.state = StateReceiveInput

		case StateReceiveInput:
			s.cnt++
			s.acc += v & 1
			s.state = StateWaitInput
			if s.cnt == s.size {
				s.state = StateSendOutput
			}
			return

		case StateSendOutput:
			if ev != evResponse {
				return
			}
			s.state = StateWaitOutput

		case StateWaitOutput:
			// the whole response frame is in: the board is back to reset.
			s.last = s.acc
			s.state = StateReset
			ev = evNone
		}
	}
}

// Run sends the input symbols of stim and reads back the count of ones
// computed by the board. stim must hold exactly InputLength symbols, each
// 0 or 1.
func (s *Sum) Run(stim []byte) (Response, error) {
	beg := s.now()

	if len(stim) != s.size {
		return Response{}, &SymbolError{
			Op: "sum", Index: -1, Want: -1, Got: -1,
			Err: xerrors.Errorf("got %d symbols, want %d: %w", len(stim), s.size, ErrInvalidStimulus),
		}
	}
	for i, v := range stim {
		if v > 1 {
			return Response{}, &SymbolError{
				Op: "sum", Index: i, Want: -1, Got: int(v),
				Err: ErrInvalidStimulus,
			}
		}
	}

	resp, err := s.run(stim)
	resp.Elapsed = s.now().Sub(beg)
	if err != nil {
		return resp, fail(&s.link, err, beg, s.reset)
	}
	return resp, nil
}

func (s *Sum) run(stim []byte) (Response, error) {
	var resp Response

	s.reset()
	for i, v := range stim {
		// the board only talks once all the symbols are in.
		x, ok, err := s.poll()
		switch {
		case err != nil:
			return resp, &SymbolError{Op: "sum", Index: i, Want: -1, Got: -1, Err: err}
		case ok:
			resp.Observed = append(resp.Observed, x)
			return resp, &SymbolError{Op: "sum", Index: i, Want: -1, Got: int(x), Err: ErrProtocolDesync}
		}

		err = s.write(v)
		if err != nil {
			return resp, &SymbolError{
				Op: "sum", Index: i, Want: -1, Got: -1,
				Err: xerrors.Errorf("could not write: %w", err),
			}
		}
		s.next(evSymbol, v)
	}

	if s.state != StateSendOutput {
		return resp, &SymbolError{Op: "sum", Index: s.cnt, Want: -1, Got: -1, Err: ErrProtocolDesync}
	}

	// a reply takes a whole frame once the last symbol is in: anything
	// already there was sent before the board got all the symbols.
	last := len(stim) - 1
	x, ok, err := s.poll()
	switch {
	case err != nil:
		return resp, &SymbolError{Op: "sum", Index: last, Want: -1, Got: -1, Err: err}
	case ok:
		resp.Observed = append(resp.Observed, x)
		return resp, &SymbolError{Op: "sum", Index: last, Want: -1, Got: int(x), Err: ErrProtocolDesync}
	}

	// the response is reported at index len(stim).
	idx := len(stim)
	want := s.acc
	got, err := s.read()
	if err != nil {
		return resp, &SymbolError{Op: "sum", Index: idx, Want: int(want), Got: -1, Err: err}
	}
	resp.Observed = append(resp.Observed, got)
	s.next(evResponse, got)

	x, ok, err = s.poll()
	switch {
	case err != nil:
		return resp, &SymbolError{Op: "sum", Index: idx + 1, Want: -1, Got: -1, Err: err}
	case ok:
		resp.Observed = append(resp.Observed, x)
		return resp, &SymbolError{Op: "sum", Index: idx + 1, Want: -1, Got: int(x), Err: ErrProtocolDesync}
	}

	s.msg.Debug().Int("symbols", len(stim)).Uint8("sum", got).Uint8("mirror", s.last).Msg("sum")
	return resp, nil
}

var (
	_ Driver = (*Sum)(nil)
)
