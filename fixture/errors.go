// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fixture

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-lpc/uartfix/uart"
	"golang.org/x/xerrors"
)

var (
	// ErrInvalidConfig is returned at construction for bad timing or
	// input length parameters.
	ErrInvalidConfig = uart.ErrInvalidConfig

	// ErrFramingMismatch reports a reply frame with a bad start or stop bit.
	ErrFramingMismatch = uart.ErrFramingMismatch

	ErrTimeout         = xerrors.New("timeout")
	ErrMismatch        = xerrors.New("mismatch")
	ErrProtocolDesync  = xerrors.New("protocol desync")
	ErrInvalidStimulus = xerrors.New("invalid stimulus")
)

// SymbolError describes a failed exchange with a board.
type SymbolError struct {
	Op      string        // fixture operation
	Index   int           // index of the failing symbol, -1 if not tied to a symbol
	Want    int           // expected value, -1 if none
	Got     int           // observed value, -1 if none
	Elapsed time.Duration // time since the start of the operation
	Err     error
}

func (e *SymbolError) Error() string {
	o := new(strings.Builder)
	fmt.Fprintf(o, "fixture: %s", e.Op)
	if e.Index >= 0 {
		fmt.Fprintf(o, ": symbol %d", e.Index)
	}
	fmt.Fprintf(o, ": %v (want=%s, got=%s, elapsed=%v)",
		e.Err, value(e.Want), value(e.Got), e.Elapsed,
	)
	return o.String()
}

func (e *SymbolError) Unwrap() error { return e.Err }

func value(v int) string {
	if v < 0 {
		return "n/a"
	}
	return fmt.Sprintf("0x%02x", v)
}
