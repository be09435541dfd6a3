// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fpga

import (
	"encoding/binary"
	"testing"
)

// newEEPROM returns the image of a freshly programmed FT2232H, without
// serial number.
func newEEPROM() *EEPROM {
	var e EEPROM
	e[0x00] = 0x01
	e[0x02] = 0x03
	e[0x03] = 0x04
	e[0x04] = 0x10
	e[0x05] = 0x60

	put := func(pos, beg int, s string) int {
		n := 2 + 2*len(s)
		e[pos] = byte(beg)
		e[pos+1] = byte(n)
		e[beg] = byte(n)
		e[beg+1] = strType
		for i := 0; i < len(s); i++ {
			e[beg+2+2*i] = s[i]
		}
		return beg + n
	}
	end := put(posManufacturer, strBeg, "FTDI")
	put(posProduct, end, "Dual RS232-HS")
	e.seal()
	return &e
}

func TestEEPROMChecksum(t *testing.T) {
	var zero EEPROM
	if got, want := zero.Checksum(), uint16(0x5555); got != want {
		t.Fatalf("invalid checksum: got=0x%04x, want=0x%04x", got, want)
	}

	e := newEEPROM()
	if got, want := e.Checksum(), uint16(0xb1a1); got != want {
		t.Fatalf("invalid checksum: got=0x%04x, want=0x%04x", got, want)
	}
	if err := e.Check(); err != nil {
		t.Fatalf("invalid image: %+v", err)
	}
	if got, want := e.Manufacturer(), "FTDI"; got != want {
		t.Fatalf("invalid manufacturer: got=%q, want=%q", got, want)
	}
	if got, want := e.Product(), "Dual RS232-HS"; got != want {
		t.Fatalf("invalid product: got=%q, want=%q", got, want)
	}
	if _, ok := e.Serial(); ok {
		t.Fatalf("unexpected serial")
	}
}

func TestEEPROMSetSerial(t *testing.T) {
	e := newEEPROM()

	for _, tc := range []struct {
		sn  string
		sum uint16
	}{
		{"E89000", 0xd232},
		{"U83005", 0x7836},
	} {
		err := e.SetSerial(tc.sn)
		if err != nil {
			t.Fatalf("could not set serial %q: %+v", tc.sn, err)
		}
		if err := e.Check(); err != nil {
			t.Fatalf("invalid image after setting %q: %+v", tc.sn, err)
		}
		if got := binary.LittleEndian.Uint16(e[EEPROMSize-2:]); got != tc.sum {
			t.Fatalf("invalid checksum: got=0x%04x, want=0x%04x", got, tc.sum)
		}
		got, ok := e.Serial()
		if !ok || got != tc.sn {
			t.Fatalf("invalid serial: got=%q (ok=%v), want=%q", got, ok, tc.sn)
		}
		if e[posSerial] != 0xc0 || e[posSerial+1] != 0x0e {
			t.Fatalf("invalid serial position: 0x%02x, 0x%02x", e[posSerial], e[posSerial+1])
		}
	}

	// a shorter serial leaves no trace of the previous one.
	if err := e.SetSerial("A"); err != nil {
		t.Fatalf("could not set serial: %+v", err)
	}
	for i := 0xc0 + 4 + 3; i < strEnd; i++ {
		if e[i] != 0 {
			t.Fatalf("stale byte at 0x%02x: 0x%02x", i, e[i])
		}
	}
}

func TestEEPROMErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		edit func(e *EEPROM)
		sn   string
	}{
		{
			name: "checksum",
			edit: func(e *EEPROM) { e[EEPROMSize-1]++ },
			sn:   "E89000",
		},
		{
			name: "string-type",
			edit: func(e *EEPROM) { e[strBeg+1] = 0x02; e.seal() },
			sn:   "E89000",
		},
		{
			name: "string-length",
			edit: func(e *EEPROM) { e[posManufacturer+1] = 12; e.seal() },
			sn:   "E89000",
		},
		{
			name: "manufacturer-offset",
			edit: func(e *EEPROM) { e[posManufacturer] = 0x80; e.seal() },
			sn:   "E89000",
		},
		{
			name: "serial-unused",
			edit: func(e *EEPROM) { e[posSerial] = 0xc0; e.seal() },
			sn:   "E89000",
		},
		{
			name: "legacy-port",
			edit: func(e *EEPROM) {
				if err := e.SetSerial("E89000"); err != nil {
					panic(err)
				}
				e[0xce] = 0
				e.seal()
			},
			sn: "E89000",
		},
		{
			name: "empty",
			edit: func(e *EEPROM) {},
			sn:   "",
		},
		{
			name: "too-long",
			edit: func(e *EEPROM) {},
			sn:   "ABCDEFGHIJKLMNOPQRSTUVWXYZ0",
		},
		{
			name: "non-ascii",
			edit: func(e *EEPROM) {},
			sn:   "Lübeck",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := newEEPROM()
			tc.edit(e)
			orig := *e
			if err := e.SetSerial(tc.sn); err == nil {
				t.Fatalf("expected an error")
			}
			if *e != orig {
				t.Fatalf("image modified by failed SetSerial")
			}
		})
	}

	// longest serial that fits.
	e := newEEPROM()
	if err := e.SetSerial("ABCDEFGHIJKLMNOPQRSTUVWXYZ"); err != nil {
		t.Fatalf("could not set serial: %+v", err)
	}
	if err := e.Check(); err != nil {
		t.Fatalf("invalid image: %+v", err)
	}
}
