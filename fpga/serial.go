// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fpga handles the FPGA evaluation boards attached to the host:
// board serial numbers, the FT2232H EEPROM holding them, and a pool of
// boards shared by concurrent test sessions.
package fpga // import "github.com/go-lpc/uartfix/fpga"

import (
	"fmt"
	"strings"

	"golang.org/x/xerrors"
)

// Digits lists the digits of a serial number, in increasing order of value.
const Digits = "0123456789ABCDEFGHIJKLMNOPQRSTU"

const (
	base      = len(Digits)
	serialLen = 6
	maxSeq    = base * base * base
)

var (
	ErrMalformedSerial = xerrors.New("malformed serial number")

	// Groups maps the group digit of a serial number to its owner.
	Groups = map[byte]string{
		'E': "Leipzig",
		'U': "Lübeck",
		'P': "privat",
	}

	// Boards maps the board digit of a serial number to its board type.
	Boards = map[byte]string{
		'8': "Lattice iCE40HX8K-B-EVN",
	}

	weights = [serialLen]int{13, 11, 1, 7, 5, 3}
)

// A serial number is made of 6 digits:
//  - group,
//  - board type,
//  - check digit,
//  - 3 digits of sequential number, most significant first.
// The weighted sum of the digits is a multiple of 31.

func digit(c byte) (int, bool) {
	i := strings.IndexByte(Digits, c)
	return i, i >= 0
}

// Checksum returns the weighted sum of the digits of sn, modulo 31.
// sn must hold 6 valid digits.
func Checksum(sn string) (int, error) {
	if len(sn) != serialLen {
		return 0, xerrors.Errorf("fpga: serial %q has %d digits, want %d: %w", sn, len(sn), serialLen, ErrMalformedSerial)
	}
	sum := 0
	for i := 0; i < serialLen; i++ {
		v, ok := digit(sn[i])
		if !ok {
			return 0, xerrors.Errorf("fpga: serial %q: invalid digit %q: %w", sn, sn[i], ErrMalformedSerial)
		}
		sum += weights[i] * v
	}
	return sum % base, nil
}

// Check returns an error if sn is not a valid serial number.
func Check(sn string) error {
	sum, err := Checksum(sn)
	if err != nil {
		return err
	}
	if sum != 0 {
		return xerrors.Errorf("fpga: serial %q: invalid check digit (remainder=%d): %w", sn, sum, ErrMalformedSerial)
	}
	return nil
}

// Valid reports whether sn is a valid serial number.
func Valid(sn string) bool { return Check(sn) == nil }

// Create returns the serial number of the seq-th board of type board
// in group.
func Create(seq int, board, group byte) (string, error) {
	if seq < 0 || seq >= maxSeq {
		return "", xerrors.Errorf("fpga: sequential number %d out of range [0, %d)", seq, maxSeq)
	}
	if _, ok := digit(board); !ok {
		return "", xerrors.Errorf("fpga: invalid board digit %q", board)
	}
	if _, ok := digit(group); !ok {
		return "", xerrors.Errorf("fpga: invalid group digit %q", group)
	}

	sn := []byte{group, board, '0', 0, 0, 0}
	for i := serialLen - 1; i >= 3; i-- {
		sn[i] = Digits[seq%base]
		seq /= base
	}

	sum, err := Checksum(string(sn))
	if err != nil {
		return "", err
	}
	sn[2] = Digits[(base-sum)%base]

	o := string(sn)
	if err := Check(o); err != nil {
		panic(err)
	}
	return o, nil
}

// CreateRange returns the n serial numbers starting at sequential number beg.
func CreateRange(beg, n int, board, group byte) ([]string, error) {
	o := make([]string, 0, n)
	for seq := beg; seq < beg+n; seq++ {
		sn, err := Create(seq, board, group)
		if err != nil {
			return nil, err
		}
		o = append(o, sn)
	}
	return o, nil
}

// Serial is a decoded serial number.
type Serial struct {
	Group    byte
	Board    byte
	Check    int
	Sequence int
}

// Decode decodes sn. The check digit is not verified: use Check for that.
func Decode(sn string) (Serial, error) {
	if _, err := Checksum(sn); err != nil {
		return Serial{}, err
	}
	var o Serial
	o.Group = sn[0]
	o.Board = sn[1]
	o.Check, _ = digit(sn[2])
	for i := 3; i < serialLen; i++ {
		v, _ := digit(sn[i])
		o.Sequence = o.Sequence*base + v
	}
	return o, nil
}

// GroupName returns the owner of the board.
func (sn Serial) GroupName() string {
	if v, ok := Groups[sn.Group]; ok {
		return v
	}
	return "unknown group"
}

// BoardName returns the board type.
func (sn Serial) BoardName() string {
	if v, ok := Boards[sn.Board]; ok {
		return v
	}
	return "unknown board"
}

func (sn Serial) String() string {
	o := new(strings.Builder)
	fmt.Fprintf(o, "group:    %c -> %s\n", sn.Group, sn.GroupName())
	fmt.Fprintf(o, "board:    %c -> %s\n", sn.Board, sn.BoardName())
	fmt.Fprintf(o, "checksum: %c -> %d\n", Digits[sn.Check], sn.Check)
	fmt.Fprintf(o, "sequence: %d", sn.Sequence)
	return o.String()
}
