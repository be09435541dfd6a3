// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package harness

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/go-lpc/uartfix/fixture"
	"golang.org/x/xerrors"
)

// Status is the terminal status of a transaction or a scenario.
type Status uint8

const (
	StatusPass Status = iota
	StatusFail
	StatusTimeout
)

func (st Status) String() string {
	switch st {
	case StatusPass:
		return "pass"
	case StatusFail:
		return "fail"
	case StatusTimeout:
		return "timeout"
	}
	return fmt.Sprintf("Status(%d)", uint8(st))
}

// ParseStatus parses the string form of a status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "pass":
		return StatusPass, nil
	case "fail":
		return StatusFail, nil
	case "timeout":
		return StatusTimeout, nil
	}
	return 0, xerrors.Errorf("harness: invalid status %q", s)
}

// StatusOf classifies the error returned by a fixture driver.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusPass
	case xerrors.Is(err, fixture.ErrTimeout):
		return StatusTimeout
	default:
		return StatusFail
	}
}

// Transaction is one exchange with a board.
type Transaction struct {
	Scenario string
	Index    int
	Stimulus []byte
	Expected []byte
	Observed []byte
	Status   Status
	Symbol   int // index of the failing symbol, -1 if none
	Err      error
	Elapsed  time.Duration
}

func (tx *Transaction) finish(err error, symbol int) {
	tx.Status = StatusOf(err)
	tx.Err = err
	tx.Symbol = -1
	if err == nil {
		return
	}
	tx.Symbol = symbol
	var serr *fixture.SymbolError
	if xerrors.As(err, &serr) && serr.Index >= 0 {
		tx.Symbol = serr.Index
	}
}

// LEDCheck is the outcome of the LED register check of an echo scenario.
type LEDCheck struct {
	Want   uint8 // bit-level model
	Mirror uint8 // driver mirror
	Device int   // value read back from the board, -1 if not available
	OK     bool
}

// Report is the outcome of one scenario.
type Report struct {
	Name         string
	Board        string
	Kind         fixture.Kind
	Status       Status
	Transactions []Transaction
	LED          *LEDCheck // echo only
	Started      time.Time
	Elapsed      time.Duration
}

// finish sets the status of the scenario from the status of its
// transactions: the first failure wins.
func (rep *Report) finish() {
	rep.Status = StatusPass
	for _, tx := range rep.Transactions {
		if tx.Status != StatusPass {
			rep.Status = tx.Status
			return
		}
	}
	if rep.LED != nil && !rep.LED.OK {
		rep.Status = StatusFail
	}
}

// Failures returns the number of transactions that did not pass.
func (rep Report) Failures() int {
	n := 0
	for _, tx := range rep.Transactions {
		if tx.Status != StatusPass {
			n++
		}
	}
	return n
}

// Err returns the error of the first failed transaction, if any.
func (rep Report) Err() error {
	for _, tx := range rep.Transactions {
		if tx.Err != nil {
			return tx.Err
		}
	}
	if rep.LED != nil && !rep.LED.OK {
		return xerrors.Errorf("harness: LED register mismatch (want=0x%02x, mirror=0x%02x, device=%d)",
			rep.LED.Want, rep.LED.Mirror, rep.LED.Device,
		)
	}
	return nil
}

// WriteTo writes a human readable rendering of the report to w.
func (rep Report) WriteTo(w io.Writer) (int64, error) {
	cw := &countWriter{w: bufio.NewWriter(w)}

	fmt.Fprintf(cw, "scenario %s (%v) on board %q: %v\n", rep.Name, rep.Kind, rep.Board, rep.Status)
	fmt.Fprintf(cw, "  transactions: %d, failures: %d, elapsed: %v\n",
		len(rep.Transactions), rep.Failures(), rep.Elapsed,
	)
	for _, tx := range rep.Transactions {
		if tx.Status == StatusPass {
			continue
		}
		fmt.Fprintf(cw, "  - tx[%d] %v: symbol=%d expected=%x observed=%x elapsed=%v\n",
			tx.Index, tx.Status, tx.Symbol, tx.Expected, tx.Observed, tx.Elapsed,
		)
		if tx.Err != nil {
			fmt.Fprintf(cw, "    error: %v\n", tx.Err)
		}
	}
	if led := rep.LED; led != nil {
		dev := "n/a"
		if led.Device >= 0 {
			dev = fmt.Sprintf("0x%02x", led.Device)
		}
		fmt.Fprintf(cw, "  leds: want=0x%02x mirror=0x%02x device=%s ok=%v\n",
			led.Want, led.Mirror, dev, led.OK,
		)
	}

	err := cw.w.(*bufio.Writer).Flush()
	if err != nil && cw.err == nil {
		cw.err = err
	}
	return cw.n, cw.err
}

type countWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (cw *countWriter) Write(p []byte) (int, error) {
	if cw.err != nil {
		return 0, cw.err
	}
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	cw.err = err
	return n, err
}
