// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fpga

import (
	"github.com/go-lpc/uartfix/board"
	"github.com/go-lpc/uartfix/channel"
	"github.com/go-lpc/uartfix/uart"
	"golang.org/x/xerrors"
)

// SimLister returns a lister of n simulated boards, with serial numbers
// created from sequence number 0 on.
func SimLister(n int) func() ([]string, error) {
	return func() ([]string, error) {
		return CreateRange(0, n, '8', 'E')
	}
}

// SimOpener returns an Opener of simulated boards, all loaded with the
// same bitstream. n is the input length of the sum fixture.
func SimOpener(t uart.Timing, bs board.Bitstream, n int, hz float64) Opener {
	return func(serial string) (channel.Channel, error) {
		dev, err := board.New(t, bs, n)
		if err != nil {
			return nil, xerrors.Errorf("fpga: could not create simulated board %q: %w", serial, err)
		}
		sim, err := channel.NewSim(t, dev, channel.WithClockHz(hz))
		if err != nil {
			return nil, xerrors.Errorf("fpga: could not create simulated link to %q: %w", serial, err)
		}
		return sim, nil
	}
}
