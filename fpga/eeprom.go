// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fpga

import (
	"encoding/binary"

	"golang.org/x/xerrors"
)

// EEPROMSize is the size in bytes of the FT2232H configuration EEPROM of
// the iCE40 evaluation boards.
const EEPROMSize = 0x100

const (
	strBeg = 0x9a // first address of the string area
	strEnd = 0xf6 // first address after the string area

	cfgFlags  = 0x0a
	useSerial = 0x08

	posManufacturer = 0x0e
	posProduct      = 0x10
	posSerial       = 0x12

	strType = 0x03
)

// EEPROM is an image of the FT2232H configuration EEPROM.
//
// Strings are stored as a length byte (in bytes, header included), the
// string type 0x03 and one little endian UTF-16 unit per character.
// The manufacturer, product and optional serial strings are stored back
// to back, at the start of the string area. The serial is followed by the
// legacy port (0x02, 0x03) and PnP (0x00) bytes.
type EEPROM [EEPROMSize]byte

// Checksum computes the checksum of the image: every little endian word
// but the last is xor-ed into the checksum, rotated left by one bit.
func (e *EEPROM) Checksum() uint16 {
	sum := uint16(0xaaaa)
	for i := 0; i < EEPROMSize/2-1; i++ {
		sum ^= binary.LittleEndian.Uint16(e[2*i:])
		sum = sum<<1 | sum>>15
	}
	return sum
}

func (e *EEPROM) seal() {
	binary.LittleEndian.PutUint16(e[EEPROMSize-2:], e.Checksum())
}

type strPos struct {
	beg, n int
}

func (p strPos) end() int { return p.beg + p.n }

func (e *EEPROM) pos(i int) strPos {
	return strPos{beg: int(e[i]), n: int(e[i+1])}
}

func (e *EEPROM) checkString(name string, p strPos) error {
	switch {
	case p.beg < strBeg:
		return xerrors.Errorf("fpga: %s string begins before string area (0x%02x)", name, p.beg)
	case p.end() > strEnd:
		return xerrors.Errorf("fpga: %s string protrudes string area (0x%02x)", name, p.end())
	case int(e[p.beg]) != p.n:
		return xerrors.Errorf("fpga: %s string: inconsistent length (0x%02x != 0x%02x)", name, e[p.beg], p.n)
	case e[p.beg+1] != strType:
		return xerrors.Errorf("fpga: %s string: invalid type 0x%02x", name, e[p.beg+1])
	}
	return nil
}

// Check verifies the checksum and the string layout of the image.
func (e *EEPROM) Check() error {
	var (
		want = e.Checksum()
		got  = binary.LittleEndian.Uint16(e[EEPROMSize-2:])
	)
	if got != want {
		return xerrors.Errorf("fpga: invalid EEPROM checksum (got=0x%04x, want=0x%04x)", got, want)
	}

	var (
		manuf = e.pos(posManufacturer)
		prod  = e.pos(posProduct)
	)
	if err := e.checkString("manufacturer", manuf); err != nil {
		return err
	}
	if err := e.checkString("product", prod); err != nil {
		return err
	}
	if manuf.beg != strBeg {
		return xerrors.Errorf("fpga: manufacturer string does not start the string area (0x%02x)", manuf.beg)
	}
	if prod.beg != manuf.end() {
		return xerrors.Errorf("fpga: product string does not follow manufacturer string (0x%02x)", prod.beg)
	}

	if e[cfgFlags]&useSerial == 0 {
		if e[posSerial] != 0 || e[posSerial+1] != 0 {
			return xerrors.Errorf("fpga: serial string not used but positioned (0x%02x, 0x%02x)", e[posSerial], e[posSerial+1])
		}
		return nil
	}

	sn := e.pos(posSerial)
	if err := e.checkString("serial", sn); err != nil {
		return err
	}
	if sn.beg != prod.end() {
		return xerrors.Errorf("fpga: serial string does not follow product string (0x%02x)", sn.beg)
	}
	if end := sn.end(); end+3 > EEPROMSize-2 || e[end] != 0x02 || e[end+1] != 0x03 || e[end+2] != 0x00 {
		return xerrors.Errorf("fpga: invalid legacy port and PnP bytes after serial string")
	}
	return nil
}

func (e *EEPROM) str(p strPos) string {
	o := make([]byte, 0, (p.n-2)/2)
	for i := p.beg + 2; i < p.end(); i += 2 {
		o = append(o, e[i])
	}
	return string(o)
}

// Manufacturer returns the manufacturer string.
func (e *EEPROM) Manufacturer() string { return e.str(e.pos(posManufacturer)) }

// Product returns the product string.
func (e *EEPROM) Product() string { return e.str(e.pos(posProduct)) }

// Serial returns the serial string, if the image holds one.
func (e *EEPROM) Serial() (string, bool) {
	if e[cfgFlags]&useSerial == 0 {
		return "", false
	}
	return e.str(e.pos(posSerial)), true
}

// SetSerial stores sn right after the product string, replacing any
// previous serial, and updates the checksum.
// The image must pass Check beforehand.
func (e *EEPROM) SetSerial(sn string) error {
	if err := e.Check(); err != nil {
		return xerrors.Errorf("fpga: could not set serial: %w", err)
	}
	if sn == "" {
		return xerrors.Errorf("fpga: empty serial")
	}
	for i := 0; i < len(sn); i++ {
		if sn[i] >= 0x80 {
			return xerrors.Errorf("fpga: serial %q: non-ASCII character at %d", sn, i)
		}
	}

	p := strPos{beg: e.pos(posProduct).end(), n: 2*len(sn) + 2}
	if p.end() > strEnd {
		return xerrors.Errorf("fpga: serial %q too long, ends at 0x%02x", sn, p.end()-1)
	}

	if e[cfgFlags]&useSerial == 0 {
		e[cfgFlags] |= useSerial
	} else {
		old := e.pos(posSerial)
		for i := old.beg; i < old.end()+3; i++ {
			e[i] = 0
		}
	}

	e[posSerial] = byte(p.beg)
	e[posSerial+1] = byte(p.n)
	e[p.beg] = byte(p.n)
	e[p.beg+1] = strType
	i := p.beg + 2
	for j := 0; j < len(sn); j++ {
		e[i] = sn[j]
		e[i+1] = 0
		i += 2
	}
	e[i+0] = 0x02
	e[i+1] = 0x03
	e[i+2] = 0x00

	e.seal()
	return nil
}
