// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package channel provides byte-oriented duplex links to the FPGA boards.
package channel // import "github.com/go-lpc/uartfix/channel"

import (
	"time"

	"golang.org/x/xerrors"
)

var (
	// ErrTimeout is returned by ReadTimeout when no byte arrived in time.
	ErrTimeout = xerrors.New("channel: read timeout")

	// ErrClosed is returned when operating on a closed channel.
	ErrClosed = xerrors.New("channel: closed")
)

// Channel is a byte-level duplex link to a board.
//
// A Channel is owned by a single driver at a time and is not safe for
// concurrent use unless stated otherwise.
type Channel interface {
	// Write sends p on the link.
	Write(p []byte) (int, error)

	// ReadTimeout reads at least one and at most len(p) bytes, waiting
	// at most timeout for the first one. ReadTimeout returns ErrTimeout
	// when nothing arrived. A zero timeout polls the link.
	ReadTimeout(p []byte, timeout time.Duration) (int, error)

	// Flush discards any byte received and not yet read.
	Flush() error
}

// Clock is implemented by channels that run on their own notion of time,
// such as simulated links.
type Clock interface {
	Now() time.Time
}

// LEDProber is implemented by channels that can read back the LED register
// of the device on the other end of the link.
type LEDProber interface {
	LEDs() (uint8, bool)
}

// Now returns the current time as seen by ch.
func Now(ch Channel) time.Time {
	if clk, ok := ch.(Clock); ok {
		return clk.Now()
	}
	return time.Now()
}
