// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uart

import (
	"fmt"

	"golang.org/x/xerrors"
)

const (
	FrameBits = 10 // start + 8 data + stop
	DataBits  = 8

	startBit = 0
	stopBit  = 1
)

var (
	ErrInvalidConfig   = xerrors.New("invalid config")
	ErrFramingMismatch = xerrors.New("framing mismatch")
	ErrFrameLength     = xerrors.New("uart: invalid frame length")
	ErrBusy            = xerrors.New("uart: transmitter busy")
)

// Frame is the on-wire representation of one byte: a start bit (0),
// 8 data bits, LSB first, and a stop bit (1).
// Each element holds a line level, 0 or 1.
type Frame [FrameBits]uint8

// DecodeError is returned when a sampled frame does not carry a low start
// bit and a high stop bit. It usually signals line noise or a receiver that
// lost synchronization with the transmitter.
type DecodeError struct {
	Start uint8 // sampled start bit
	Stop  uint8 // sampled stop bit
	Data  byte  // payload, as sampled
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("uart: framing mismatch (start=%d, stop=%d, data=0x%02x)", e.Start, e.Stop, e.Data)
}

// Is makes errors.Is(err, ErrFramingMismatch) hold for any *DecodeError.
func (e *DecodeError) Is(target error) bool { return target == ErrFramingMismatch }

// Encode returns the frame for b.
func Encode(b byte) Frame {
	var f Frame
	f[0] = startBit
	for i := 0; i < DataBits; i++ {
		f[1+i] = (b >> i) & 1
	}
	f[FrameBits-1] = stopBit
	return f
}

// Bits returns the frame as a slice of line levels.
func (f Frame) Bits() []uint8 {
	return f[:]
}

// Decode reassembles the byte carried by a sampled frame.
// Any non-zero data level is read as a 1.
func Decode(bits []uint8) (byte, error) {
	if len(bits) != FrameBits {
		return 0, xerrors.Errorf("uart: could not decode %d bits: %w", len(bits), ErrFrameLength)
	}

	var v byte
	for i := 0; i < DataBits; i++ {
		if bits[1+i] != 0 {
			v |= 1 << i
		}
	}

	var (
		start = level(bits[0])
		stop  = level(bits[FrameBits-1])
	)
	if start != startBit || stop != stopBit {
		return v, &DecodeError{Start: start, Stop: stop, Data: v}
	}
	return v, nil
}

func level(v uint8) uint8 {
	if v != 0 {
		return 1
	}
	return 0
}
