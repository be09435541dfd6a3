// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package channel

import (
	"fmt"
	"time"

	"github.com/go-lpc/uartfix/uart"
	"go.bug.st/serial"
)

// ttyBauds are the standard rates every tty driver accepts.
var ttyBauds = map[int]bool{
	9600:    true,
	19200:   true,
	38400:   true,
	57600:   true,
	115200:  true,
	230400:  true,
	460800:  true,
	500000:  true,
	921600:  true,
	1000000: true,
	1500000: true,
	2000000: true,
	3000000: true,
	4000000: true,
}

// TTY is a serial link through a kernel tty device, such as the
// /dev/ttyUSBx node the ftdi_sio driver creates for the board UART.
type TTY struct {
	name string
	port serial.Port
	baud int
}

// OpenTTY opens the named tty in raw 8N1 mode, at the baud rate given by t
// for a device clocked at hz.
func OpenTTY(name string, t uart.Timing, hz float64) (*TTY, error) {
	baud := t.Baud(hz)
	if !ttyBauds[baud] {
		return nil, fmt.Errorf("channel: could not open tty %q: unsupported baud rate %d: %w",
			name, baud, uart.ErrInvalidConfig,
		)
	}

	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: uart.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("channel: could not open tty %q: %w", name, err)
	}

	err = port.ResetInputBuffer()
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("channel: could not flush tty %q: %w", name, err)
	}

	return &TTY{name: name, port: port, baud: baud}, nil
}

// Name returns the path of the tty device.
func (tty *TTY) Name() string { return tty.name }

// Baud returns the baud rate of the link.
func (tty *TTY) Baud() int { return tty.baud }

func (tty *TTY) Write(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		nn, err := tty.port.Write(p[n:])
		n += nn
		if err != nil {
			return n, fmt.Errorf("channel: could not write to tty %q: %w", tty.name, err)
		}
	}
	return n, nil
}

func (tty *TTY) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	deadline := time.Now().Add(timeout)
	for {
		left := time.Until(deadline)
		if left < 0 {
			left = 0
		}
		err := tty.port.SetReadTimeout(left)
		if err != nil {
			return 0, fmt.Errorf("channel: could not set tty %q timeout: %w", tty.name, err)
		}

		n, err := tty.port.Read(p)
		switch {
		case err != nil:
			return n, fmt.Errorf("channel: could not read from tty %q: %w", tty.name, err)
		case n > 0:
			return n, nil
		}

		// never time out before the deadline.
		if !time.Now().Before(deadline) {
			return 0, ErrTimeout
		}
	}
}

func (tty *TTY) Flush() error {
	err := tty.port.ResetInputBuffer()
	if err != nil {
		return fmt.Errorf("channel: could not flush tty %q: %w", tty.name, err)
	}
	return nil
}

func (tty *TTY) Close() error {
	return tty.port.Close()
}

var _ Channel = (*TTY)(nil)
