// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package uart holds the bit timing and the serial framing used to talk to
// the UART fixtures running on the FPGA boards.
package uart // import "github.com/go-lpc/uartfix/uart"

import (
	"math"
	"time"

	"golang.org/x/xerrors"
)

const (
	// DefaultClockHz is the frequency of the oscillator clocking the
	// iCE40-HX8K breakout boards.
	DefaultClockHz = 12e6

	// DefaultClkPerBit gives 3 Mbaud with DefaultClockHz.
	DefaultClkPerBit = 4
)

// Timing describes the bit timing of a serial link, expressed in device
// clock ticks. A Timing value is immutable.
type Timing struct {
	clk int // clock ticks per bit
}

// NewTiming returns the timing for a link running at clkPerBit device clock
// ticks per bit.
func NewTiming(clkPerBit int) (Timing, error) {
	if clkPerBit < 1 {
		return Timing{}, xerrors.Errorf("uart: clk-per-bit=%d: %w", clkPerBit, ErrInvalidConfig)
	}
	return Timing{clk: clkPerBit}, nil
}

// Valid reports whether t was created by NewTiming.
func (t Timing) Valid() bool { return t.clk >= 1 }

// ClkPerBit returns the number of device clock ticks per bit.
func (t Timing) ClkPerBit() int { return t.clk }

// BitPeriod returns the duration of one bit, in ticks.
func (t Timing) BitPeriod() int { return t.clk }

// SampleOffset returns the tick offset, within a bit period, at which the
// line level is considered stable. This is the midpoint of the bit, rounded
// down the same way the hardware receiver counts it.
func (t Timing) SampleOffset() int { return (t.clk - 1) / 2 }

// FramePeriod returns the duration of one full frame, in ticks.
func (t Timing) FramePeriod() int { return FrameBits * t.clk }

// Ticks returns the duration of n bits, in ticks.
func (t Timing) Ticks(n int) int { return n * t.clk }

// Duration converts n bit periods into wall-clock time for a device clocked
// at hz. The result is rounded up to the next nanosecond.
func (t Timing) Duration(n int, hz float64) time.Duration {
	if hz <= 0 {
		hz = DefaultClockHz
	}
	ns := float64(t.Ticks(n)) * 1e9 / hz
	return time.Duration(math.Ceil(ns))
}

// Baud returns the symbol rate of the link for a device clocked at hz.
func (t Timing) Baud(hz float64) int {
	if hz <= 0 {
		hz = DefaultClockHz
	}
	if t.clk < 1 {
		return 0
	}
	return int(math.Round(hz / float64(t.clk)))
}
