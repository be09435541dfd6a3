// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fxsrv

import (
	"fmt"
	"io"
	"time"

	"github.com/go-daq/tdaq"

	"github.com/go-lpc/uartfix/harness"
)

// Summary is the condensed form of a report published on /reports.
type Summary struct {
	Board        string
	Name         string
	Kind         string
	Status       harness.Status
	Transactions int
	Failures     int
	Elapsed      time.Duration
	Error        string
}

// SummaryOf condenses a report.
func SummaryOf(rep harness.Report) Summary {
	sum := Summary{
		Board:        rep.Board,
		Name:         rep.Name,
		Kind:         rep.Kind.String(),
		Status:       rep.Status,
		Transactions: len(rep.Transactions),
		Failures:     rep.Failures(),
		Elapsed:      rep.Elapsed,
	}
	if err := rep.Err(); err != nil {
		sum.Error = err.Error()
	}
	return sum
}

// EncodeSummary writes sum to w.
func EncodeSummary(w io.Writer, sum Summary) error {
	enc := tdaq.NewEncoder(w)
	enc.WriteStr(sum.Board)
	enc.WriteStr(sum.Name)
	enc.WriteStr(sum.Kind)
	enc.WriteStr(sum.Status.String())
	enc.WriteU32(uint32(sum.Transactions))
	enc.WriteU32(uint32(sum.Failures))
	enc.WriteU64(uint64(sum.Elapsed))
	enc.WriteStr(sum.Error)
	if err := enc.Err(); err != nil {
		return fmt.Errorf("fxsrv: could not encode summary: %w", err)
	}
	return nil
}

// DecodeSummary reads a summary from r.
func DecodeSummary(r io.Reader) (Summary, error) {
	var (
		sum Summary
		dec = tdaq.NewDecoder(r)
	)
	sum.Board = dec.ReadStr()
	sum.Name = dec.ReadStr()
	sum.Kind = dec.ReadStr()
	status := dec.ReadStr()
	sum.Transactions = int(dec.ReadU32())
	sum.Failures = int(dec.ReadU32())
	sum.Elapsed = time.Duration(dec.ReadU64())
	sum.Error = dec.ReadStr()
	if err := dec.Err(); err != nil {
		return sum, fmt.Errorf("fxsrv: could not decode summary: %w", err)
	}

	st, err := harness.ParseStatus(status)
	if err != nil {
		return sum, fmt.Errorf("fxsrv: could not decode summary: %w", err)
	}
	sum.Status = st
	return sum, nil
}

func (sum Summary) String() string {
	o := fmt.Sprintf("%s %s (%s): %v (transactions=%d, failures=%d, elapsed=%v)",
		sum.Board, sum.Name, sum.Kind, sum.Status,
		sum.Transactions, sum.Failures, sum.Elapsed,
	)
	if sum.Error != "" {
		o += ": " + sum.Error
	}
	return o
}
