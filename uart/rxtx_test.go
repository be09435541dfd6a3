// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uart

import (
	"errors"
	"testing"
)

func newTiming(t *testing.T, clk int) Timing {
	t.Helper()
	tm, err := NewTiming(clk)
	if err != nil {
		t.Fatalf("could not create timing: %+v", err)
	}
	return tm
}

// loop clocks msg through a transmitter into a receiver, back-to-back,
// followed by nidle idle ticks.
func loop(t *testing.T, clk int, msg []byte, nidle int) (got []byte, bits []uint8) {
	t.Helper()
	var (
		tm = newTiming(t, clk)
		tx = NewTransmitter(tm)
		rx = NewReceiver(tm)
	)

	collect := func(ev Event) {
		switch ev.Kind {
		case EventBit:
			bits = append(bits, ev.Bit)
		case EventByte:
			got = append(got, ev.Byte)
		case EventError:
			t.Fatalf("clk=%d: unexpected framing error: %+v", clk, ev.Err)
		}
	}

	for _, b := range msg {
		err := tx.Start(b)
		if err != nil {
			t.Fatalf("could not start transmission: %+v", err)
		}
		for {
			line, done := tx.Tick()
			collect(rx.Tick(line))
			if done {
				break
			}
		}
	}
	for i := 0; i < nidle; i++ {
		line, _ := tx.Tick()
		collect(rx.Tick(line))
	}
	return got, bits
}

func TestReceiverTransmitter(t *testing.T) {
	msg := []byte("hello\x00\xff\x55\xaa")
	for clk := 1; clk <= 9; clk++ {
		got, bits := loop(t, clk, msg, 2*clk)
		if string(got) != string(msg) {
			t.Fatalf("clk=%d: invalid bytes:\ngot= %q\nwant=%q", clk, got, msg)
		}
		if got, want := len(bits), DataBits*len(msg); got != want {
			t.Fatalf("clk=%d: invalid number of data bits: got=%d, want=%d", clk, got, want)
		}
		for i, b := range msg {
			for j := 0; j < DataBits; j++ {
				if got, want := bits[i*DataBits+j], (b>>j)&1; got != want {
					t.Fatalf("clk=%d: byte[%d] bit[%d]: got=%d, want=%d", clk, i, j, got, want)
				}
			}
		}
	}
}

func TestTransmitterBusy(t *testing.T) {
	tm := newTiming(t, 3)
	tx := NewTransmitter(tm)

	if line, done := tx.Tick(); line != 1 || done {
		t.Fatalf("idle line: got=(%d, %v), want=(1, false)", line, done)
	}

	if err := tx.Start(0x42); err != nil {
		t.Fatalf("could not start: %+v", err)
	}
	if !tx.Busy() {
		t.Fatalf("transmitter should be busy")
	}
	if err := tx.Start(0x43); !errors.Is(err, ErrBusy) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrBusy)
	}

	n := 0
	for tx.Busy() {
		tx.Tick()
		n++
	}
	if got, want := n, tm.FramePeriod(); got != want {
		t.Fatalf("invalid frame duration: got=%d, want=%d", got, want)
	}
}

func TestReceiverGlitch(t *testing.T) {
	tm := newTiming(t, 5)
	rx := NewReceiver(tm)

	// start bit held low for less than the sample offset.
	for _, line := range []uint8{1, 0, 0, 1, 1, 1, 1, 1, 1, 1} {
		if ev := rx.Tick(line); ev.Kind != EventNone {
			t.Fatalf("unexpected event: %+v", ev)
		}
	}
	if rx.Busy() {
		t.Fatalf("receiver should be idle after a glitch")
	}

	var got []byte
	for _, bit := range Encode(0x3c) {
		for i := 0; i < tm.BitPeriod(); i++ {
			ev := rx.Tick(bit)
			if ev.Kind == EventByte {
				got = append(got, ev.Byte)
			}
		}
	}
	if len(got) != 1 || got[0] != 0x3c {
		t.Fatalf("invalid bytes after glitch: %x", got)
	}
}

func TestReceiverResync(t *testing.T) {
	tm := newTiming(t, 4)
	rx := NewReceiver(tm)

	var events []Event
	drive := func(bits []uint8) {
		for _, bit := range bits {
			for i := 0; i < tm.BitPeriod(); i++ {
				ev := rx.Tick(bit)
				if ev.Kind == EventByte || ev.Kind == EventError {
					events = append(events, ev)
				}
			}
		}
	}

	bad := Encode(0x81)
	bad[FrameBits-1] = 0
	drive(bad[:])
	drive([]uint8{0, 0, 0}) // line held low
	drive([]uint8{1, 1})
	good := Encode(0x7e)
	drive(good[:])

	if len(events) != 2 {
		t.Fatalf("invalid number of events: got=%d, want=2 (%+v)", len(events), events)
	}
	if ev := events[0]; ev.Kind != EventError || !errors.Is(ev.Err, ErrFramingMismatch) || ev.Byte != 0x81 {
		t.Fatalf("invalid first event: %+v", ev)
	}
	if ev := events[1]; ev.Kind != EventByte || ev.Byte != 0x7e {
		t.Fatalf("invalid second event: %+v", ev)
	}

	rx.Reset()
	if rx.Busy() {
		t.Fatalf("receiver should be idle after reset")
	}
}
