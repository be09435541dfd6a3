// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uart

// Transmitter drives a serial line, one device clock tick at a time.
// The line idles high.
type Transmitter struct {
	t     Timing
	frame Frame
	busy  bool
	bit   int // current bit in frame
	cnt   int // ticks spent on current bit
}

// NewTransmitter returns a transmitter with the given timing.
func NewTransmitter(t Timing) *Transmitter {
	return &Transmitter{t: t}
}

// Busy reports whether a frame is being transmitted.
func (tx *Transmitter) Busy() bool { return tx.busy }

// Start schedules b for transmission, starting at the next tick.
func (tx *Transmitter) Start(b byte) error {
	if tx.busy {
		return ErrBusy
	}
	tx.frame = Encode(b)
	tx.busy = true
	tx.bit = 0
	tx.cnt = 0
	return nil
}

// Tick returns the line level for the current tick.
// done is true on the last tick of the stop bit.
func (tx *Transmitter) Tick() (line uint8, done bool) {
	if !tx.busy {
		return stopBit, false
	}

	line = tx.frame[tx.bit]
	tx.cnt++
	if tx.cnt < tx.t.BitPeriod() {
		return line, false
	}

	tx.cnt = 0
	tx.bit++
	if tx.bit == FrameBits {
		tx.busy = false
		return line, true
	}
	return line, false
}
