// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package channel

import (
	"math"
	"time"

	"github.com/go-lpc/uartfix/uart"
	"golang.org/x/xerrors"
)

// Device is a clocked device attached to a simulated link.
// Tick is called once per device clock tick with the level of the device
// RX line and returns the level of the device TX line.
type Device interface {
	Tick(line uint8) uint8
}

// DeviceFunc adapts a function into a Device.
type DeviceFunc func(line uint8) uint8

func (f DeviceFunc) Tick(line uint8) uint8 { return f(line) }

// Mute is a device that never drives its TX line low.
var Mute = DeviceFunc(func(uint8) uint8 { return 1 })

// Sim is a simulated serial link. Written bytes are framed and clocked,
// one bit period at a time, into the device. The device TX line is sampled
// back on every tick and de-framed into bytes.
//
// Time only advances while the host writes or waits for data, as a device
// under a debugger would. Sim implements Clock with that virtual time.
type Sim struct {
	t     uart.Timing
	hz    float64
	dev   Device
	noise func(tick uint64, line uint8) uint8

	tx *uart.Transmitter
	rx *uart.Receiver

	ticks uint64
	buf   []byte
	err   error // pending framing error
	quit  bool
}

// SimOption configures a simulated link.
type SimOption func(*Sim)

// WithClockHz sets the device clock frequency used to convert ticks into
// time. The default is uart.DefaultClockHz.
func WithClockHz(hz float64) SimOption {
	return func(sim *Sim) {
		if hz > 0 {
			sim.hz = hz
		}
	}
}

// WithNoise applies f to the device TX line before it is sampled by the
// host. f receives the tick number and the line level.
func WithNoise(f func(tick uint64, line uint8) uint8) SimOption {
	return func(sim *Sim) {
		sim.noise = f
	}
}

// NewSim returns a simulated link to dev, with the given bit timing.
func NewSim(t uart.Timing, dev Device, opts ...SimOption) (*Sim, error) {
	if !t.Valid() {
		return nil, xerrors.Errorf("channel: invalid sim timing: %w", uart.ErrInvalidConfig)
	}
	if dev == nil {
		return nil, xerrors.Errorf("channel: nil sim device")
	}

	sim := &Sim{
		t:   t,
		hz:  uart.DefaultClockHz,
		dev: dev,
		tx:  uart.NewTransmitter(t),
		rx:  uart.NewReceiver(t),
	}
	for _, opt := range opts {
		opt(sim)
	}
	return sim, nil
}

// Device returns the simulated device.
func (sim *Sim) Device() Device { return sim.dev }

// Ticks returns the number of device clock ticks simulated so far.
func (sim *Sim) Ticks() uint64 { return sim.ticks }

// Now returns the simulated time since the link was created.
func (sim *Sim) Now() time.Time {
	ns := math.Ceil(float64(sim.ticks) * 1e9 / sim.hz)
	return time.Unix(0, 0).UTC().Add(time.Duration(ns))
}

// LEDs returns the LED register of the simulated device, when it has one.
func (sim *Sim) LEDs() (uint8, bool) {
	dev, ok := sim.dev.(interface{ LEDs() uint8 })
	if !ok {
		return 0, false
	}
	return dev.LEDs(), true
}

func (sim *Sim) step() {
	line, _ := sim.tx.Tick()
	out := sim.dev.Tick(line)
	if sim.noise != nil {
		out = sim.noise(sim.ticks, out)
	}
	sim.ticks++

	ev := sim.rx.Tick(out)
	switch ev.Kind {
	case uart.EventByte:
		sim.buf = append(sim.buf, ev.Byte)
	case uart.EventError:
		if sim.err == nil {
			sim.err = ev.Err
		}
	}
}

// Run advances the simulation by n idle ticks.
func (sim *Sim) Run(n int) {
	for i := 0; i < n; i++ {
		sim.step()
	}
}

func (sim *Sim) Write(p []byte) (int, error) {
	if sim.quit {
		return 0, ErrClosed
	}
	for i, v := range p {
		err := sim.tx.Start(v)
		if err != nil {
			return i, xerrors.Errorf("channel: could not write byte 0x%02x: %w", v, err)
		}
		for sim.tx.Busy() {
			sim.step()
		}
	}
	return len(p), nil
}

func (sim *Sim) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	if sim.quit {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	n := int64(math.Ceil(timeout.Seconds() * sim.hz))
	for i := int64(0); len(sim.buf) == 0 && sim.err == nil && i < n; i++ {
		sim.step()
	}

	if len(sim.buf) > 0 {
		n := copy(p, sim.buf)
		sim.buf = append(sim.buf[:0], sim.buf[n:]...)
		return n, nil
	}

	if err := sim.err; err != nil {
		sim.err = nil
		return 0, xerrors.Errorf("channel: could not read byte: %w", err)
	}

	return 0, ErrTimeout
}

func (sim *Sim) Flush() error {
	if sim.quit {
		return ErrClosed
	}
	sim.buf = sim.buf[:0]
	sim.err = nil
	return nil
}

func (sim *Sim) Close() error {
	sim.quit = true
	return nil
}

var (
	_ Channel   = (*Sim)(nil)
	_ Clock     = (*Sim)(nil)
	_ LEDProber = (*Sim)(nil)
)
