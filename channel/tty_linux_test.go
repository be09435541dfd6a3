// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package channel

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-lpc/uartfix/uart"
	"golang.org/x/sys/unix"
)

// openPTY returns the master side of a pseudo-terminal and the path of
// its slave side.
func openPTY(t *testing.T) (int, string) {
	t.Helper()
	m, err := unix.Open("/dev/ptmx", unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		t.Skipf("could not open pty master: %+v", err)
	}
	t.Cleanup(func() { _ = unix.Close(m) })

	err = unix.IoctlSetPointerInt(m, unix.TIOCSPTLCK, 0)
	if err != nil {
		t.Skipf("could not unlock pty: %+v", err)
	}
	n, err := unix.IoctlGetInt(m, unix.TIOCGPTN)
	if err != nil {
		t.Skipf("could not get pty number: %+v", err)
	}
	return m, fmt.Sprintf("/dev/pts/%d", n)
}

func TestOpenTTYErrors(t *testing.T) {
	tm, err := uart.NewTiming(7)
	if err != nil {
		t.Fatalf("could not create timing: %+v", err)
	}
	_, err = OpenTTY("/dev/null", tm, uart.DefaultClockHz)
	if !errors.Is(err, uart.ErrInvalidConfig) {
		t.Fatalf("invalid error for an unsupported baud rate: %+v", err)
	}

	tm, err = uart.NewTiming(4)
	if err != nil {
		t.Fatalf("could not create timing: %+v", err)
	}
	_, err = OpenTTY("/dev/no-such-tty", tm, uart.DefaultClockHz)
	if err == nil {
		t.Fatalf("expected an error for a missing device")
	}
}

func TestTTY(t *testing.T) {
	m, slave := openPTY(t)

	tm, err := uart.NewTiming(4)
	if err != nil {
		t.Fatalf("could not create timing: %+v", err)
	}
	tty, err := OpenTTY(slave, tm, uart.DefaultClockHz)
	if err != nil {
		t.Fatalf("could not open tty: %+v", err)
	}
	defer tty.Close()

	if got, want := tty.Baud(), 3000000; got != want {
		t.Fatalf("invalid baud rate: got=%d, want=%d", got, want)
	}
	if got, want := tty.Name(), slave; got != want {
		t.Fatalf("invalid name: got=%q, want=%q", got, want)
	}

	beg := time.Now()
	buf := make([]byte, 8)
	_, err = tty.ReadTimeout(buf, 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrTimeout)
	}
	if elapsed := time.Since(beg); elapsed < 20*time.Millisecond {
		t.Fatalf("timeout too early: %v", elapsed)
	}

	_, err = unix.Write(m, []byte{0x5a})
	if err != nil {
		t.Fatalf("could not write to pty master: %+v", err)
	}
	n, err := tty.ReadTimeout(buf[:1], time.Second)
	if err != nil {
		t.Fatalf("could not read from tty: %+v", err)
	}
	if got, want := buf[:n], []byte{0x5a}; string(got) != string(want) {
		t.Fatalf("invalid read: got=%x, want=%x", got, want)
	}

	n, err = tty.Write([]byte{0x00, 0xff})
	if err != nil {
		t.Fatalf("could not write to tty: %+v", err)
	}
	if n != 2 {
		t.Fatalf("short write: %d", n)
	}
	got := make([]byte, 0, 2)
	for len(got) < 2 {
		n, err := unix.Read(m, buf)
		if err != nil {
			t.Fatalf("could not read from pty master: %+v", err)
		}
		got = append(got, buf[:n]...)
	}
	if string(got) != "\x00\xff" {
		t.Fatalf("invalid bytes on master: %x", got)
	}

	if err := tty.Flush(); err != nil {
		t.Fatalf("could not flush tty: %+v", err)
	}
}
