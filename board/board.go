// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package board simulates the fixtures programmed on the FPGA boards, one
// device clock tick at a time.
package board // import "github.com/go-lpc/uartfix/board"

import (
	"fmt"

	"github.com/go-lpc/uartfix/uart"
	"golang.org/x/xerrors"
)

// Bitstream identifies the fixture programmed on a board.
type Bitstream uint8

const (
	Echo Bitstream = iota + 1
	Sum
)

func (bs Bitstream) String() string {
	switch bs {
	case Echo:
		return "echo"
	case Sum:
		return "sum"
	}
	return fmt.Sprintf("Bitstream(%d)", uint8(bs))
}

// ParseBitstream returns the bitstream named name.
func ParseBitstream(name string) (Bitstream, error) {
	switch name {
	case "echo":
		return Echo, nil
	case "sum":
		return Sum, nil
	}
	return 0, xerrors.Errorf("board: unknown bitstream %q", name)
}

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

// Board is a simulated FPGA board. Its UART receiver and transmitter run at
// the timing the bitstream was synthesized with.
type Board struct {
	bs Bitstream
	t  uart.Timing
	rx *uart.Receiver
	tx *uart.Transmitter

	leds  uint8
	ticks uint64

	// echo
	queue []byte

	// sum
	state State
	size  int  // input length
	cnt   int  // symbols received
	acc   byte // accumulator
	data  byte // last received symbol
}

// NewEcho returns a board running the echo fixture.
func NewEcho(t uart.Timing) (*Board, error) {
	if !t.Valid() {
		return nil, xerrors.Errorf("board: invalid timing: %w", uart.ErrInvalidConfig)
	}
	return &Board{
		bs: Echo,
		t:  t,
		rx: uart.NewReceiver(t),
		tx: uart.NewTransmitter(t),
	}, nil
}

// NewSum returns a board running the sum fixture, reporting the
// accumulated number of ones every n input symbols.
func NewSum(t uart.Timing, n int) (*Board, error) {
	if !t.Valid() {
		return nil, xerrors.Errorf("board: invalid timing: %w", uart.ErrInvalidConfig)
	}
	if n < 1 || n > 255 {
		return nil, xerrors.Errorf("board: input length=%d: %w", n, uart.ErrInvalidConfig)
	}
	return &Board{
		bs:   Sum,
		t:    t,
		rx:   uart.NewReceiver(t),
		tx:   uart.NewTransmitter(t),
		size: n,
	}, nil
}

// New returns a board running the named bitstream.
// The input length is only used by the sum fixture.
func New(t uart.Timing, bs Bitstream, n int) (*Board, error) {
	switch bs {
	case Echo:
		return NewEcho(t)
	case Sum:
		return NewSum(t, n)
	}
	return nil, xerrors.Errorf("board: unknown bitstream %v", bs)
}

func (b *Board) Bitstream() Bitstream { return b.bs }

// LEDs returns the value displayed on the 8 LEDs of the board.
func (b *Board) LEDs() uint8 { return b.leds }

// State returns the current state of the sum fixture.
func (b *Board) State() State { return b.state }

// Ticks returns the number of clock ticks since power-up.
func (b *Board) Ticks() uint64 { return b.ticks }

// Reset brings the board back to its power-up state, as the reset
// button does. The LED register is not cleared.
func (b *Board) Reset() {
	b.rx.Reset()
	b.tx = uart.NewTransmitter(b.t)
	b.queue = b.queue[:0]
	b.state = StateReset
	b.cnt = 0
	b.acc = 0
}

// Tick advances the board by one clock tick. line is the level of the
// board's RX pin, and the level of its TX pin is returned.
func (b *Board) Tick(line uint8) uint8 {
	b.ticks++
	ev := b.rx.Tick(line)

	switch b.bs {
	case Echo:
		b.echo(ev)
	case Sum:
		b.sum(ev)
	}

	out, _ := b.tx.Tick()
	return out
}

func (b *Board) echo(ev uart.Event) {
	switch ev.Kind {
	case uart.EventBit:
		b.leds = b.leds>>1 | ev.Bit<<7
	case uart.EventByte:
		b.queue = append(b.queue, ev.Byte)
	}

	if len(b.queue) > 0 && !b.tx.Busy() {
		_ = b.tx.Start(b.queue[0])
		b.queue = append(b.queue[:0], b.queue[1:]...)
	}
}

func (b *Board) sum(ev uart.Event) {
	switch b.state {
	case StateReset:
		b.cnt = 0
		b.acc = 0
		b.state = StateWaitInput

	case StateWaitInput:
		if ev.Kind == uart.EventByte {
			b.data = ev.Byte
			b.state = StateReceiveInput
		}

	case StateReceiveInput:
		b.cnt++
		b.acc += b.data & 1
		if b.cnt == b.size {
			b.state = StateSendOutput
			break
		}
		b.state = StateWaitInput

	case StateSendOutput:
		_ = b.tx.Start(b.acc)
		b.state = StateWaitOutput

	case StateWaitOutput:
		if !b.tx.Busy() {
			b.state = StateReset
		}
	}
	b.leds = b.acc
}
