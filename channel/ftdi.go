// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package channel

import (
	"fmt"
	"io"
	"time"

	"github.com/go-lpc/uartfix/uart"
	"github.com/ziutek/ftdi"
)

const (
	// VendorID and ProductID identify the FT2232H bridge of the boards.
	VendorID  = 0x0403
	ProductID = 0x6010

	pollPeriod = 50 * time.Microsecond
)

type ftdiDevice interface {
	Reset() error

	SetBitmode(iomask byte, mode ftdi.Mode) error
	SetFlowControl(flowctrl ftdi.FlowCtrl) error
	SetLatencyTimer(lt int) error
	SetWriteChunkSize(cs int) error
	SetReadChunkSize(cs int) error
	SetBaudrate(br int) error
	PurgeBuffers() error

	io.Writer
	io.Reader
	io.Closer
}

var (
	ftdiOpen = ftdiOpenImpl
)

// the UART of the boards is wired to the second interface of the FT2232H.
// the first one is used to program the flash.
func ftdiOpenImpl(vid, pid uint16, serial string) (ftdiDevice, error) {
	if serial == "" {
		return ftdi.OpenFirst(int(vid), int(pid), ftdi.ChannelB)
	}
	return ftdi.Open(int(vid), int(pid), "", serial, 0, ftdi.ChannelB)
}

// FTDI is a serial link to a board, through its FTDI USB bridge.
type FTDI struct {
	serial string
	baud   int
	ft     ftdiDevice
	buf    []byte
	rbuf   []byte
}

// OpenFTDI opens the UART of the board with the given serial number, or the
// first board found when serial is empty. The link runs at the baud rate
// given by t for a device clocked at hz.
func OpenFTDI(serial string, t uart.Timing, hz float64) (*FTDI, error) {
	baud := t.Baud(hz)
	if baud <= 0 {
		return nil, fmt.Errorf("channel: could not open FTDI device %q: %w", serial, uart.ErrInvalidConfig)
	}

	ft, err := ftdiOpen(VendorID, ProductID, serial)
	if err != nil {
		return nil, fmt.Errorf("channel: could not open FTDI device %q (vid=0x%x, pid=0x%x): %w",
			serial, VendorID, ProductID, err,
		)
	}

	dev := &FTDI{
		serial: serial,
		baud:   baud,
		ft:     ft,
		rbuf:   make([]byte, 512),
	}
	err = dev.init()
	if err != nil {
		ft.Close()
		return nil, fmt.Errorf("channel: could not initialize FTDI device %q: %w", serial, err)
	}

	return dev, nil
}

func (dev *FTDI) init() error {
	var err error

	err = dev.ft.Reset()
	if err != nil {
		return fmt.Errorf("could not reset USB: %w", err)
	}

	err = dev.ft.SetBitmode(0, ftdi.ModeReset)
	if err != nil {
		return fmt.Errorf("could not reset bit mode: %w", err)
	}

	err = dev.ft.SetFlowControl(ftdi.FlowCtrlDisable)
	if err != nil {
		return fmt.Errorf("could not disable flow control: %w", err)
	}

	err = dev.ft.SetBaudrate(dev.baud)
	if err != nil {
		return fmt.Errorf("could not set baud rate to %d: %w", dev.baud, err)
	}

	err = dev.ft.SetLatencyTimer(2)
	if err != nil {
		return fmt.Errorf("could not set latency timer to 2: %w", err)
	}

	err = dev.ft.SetWriteChunkSize(0xffff)
	if err != nil {
		return fmt.Errorf("could not set write chunk-size to 0xffff: %w", err)
	}

	err = dev.ft.SetReadChunkSize(0xffff)
	if err != nil {
		return fmt.Errorf("could not set read chunk-size to 0xffff: %w", err)
	}

	err = dev.ft.PurgeBuffers()
	if err != nil {
		return fmt.Errorf("could not purge USB buffers: %w", err)
	}

	return nil
}

// Serial returns the serial number the link was opened with.
func (dev *FTDI) Serial() string { return dev.serial }

// Baud returns the baud rate of the link.
func (dev *FTDI) Baud() int { return dev.baud }

func (dev *FTDI) Write(p []byte) (int, error) {
	n, err := dev.ft.Write(p)
	switch {
	case err != nil:
		return n, fmt.Errorf("channel: could not write %d bytes: %w", len(p), err)
	case n != len(p):
		return n, fmt.Errorf("channel: could not write %d bytes: %w", len(p), io.ErrShortWrite)
	}
	return n, nil
}

// fill polls the device once and appends what it sent to the internal buffer.
func (dev *FTDI) fill() error {
	n, err := dev.ft.Read(dev.rbuf)
	if n > 0 {
		dev.buf = append(dev.buf, dev.rbuf[:n]...)
	}
	if err != nil && err != io.EOF {
		return fmt.Errorf("channel: could not read from FTDI device: %w", err)
	}
	return nil
}

func (dev *FTDI) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	deadline := time.Now().Add(timeout)
	for len(dev.buf) == 0 {
		err := dev.fill()
		if err != nil {
			return 0, err
		}
		if len(dev.buf) > 0 {
			break
		}
		if !time.Now().Before(deadline) {
			return 0, ErrTimeout
		}
		time.Sleep(pollPeriod)
	}

	n := copy(p, dev.buf)
	dev.buf = append(dev.buf[:0], dev.buf[n:]...)
	return n, nil
}

func (dev *FTDI) Flush() error {
	dev.buf = dev.buf[:0]
	err := dev.ft.PurgeBuffers()
	if err != nil {
		return fmt.Errorf("channel: could not purge USB buffers: %w", err)
	}
	return nil
}

func (dev *FTDI) Close() error {
	return dev.ft.Close()
}

var _ Channel = (*FTDI)(nil)
