// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package uart

import (
	"errors"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	for i := 0; i < 256; i++ {
		b := byte(i)
		f := Encode(b)
		if f[0] != 0 || f[FrameBits-1] != 1 {
			t.Fatalf("invalid frame for 0x%02x: %v", b, f)
		}
		got, err := Decode(f.Bits())
		if err != nil {
			t.Fatalf("could not decode frame for 0x%02x: %+v", b, err)
		}
		if got != b {
			t.Fatalf("invalid round-trip: got=0x%02x, want=0x%02x", got, b)
		}
	}
}

func TestEncodeLSBFirst(t *testing.T) {
	for _, tc := range []struct {
		b    byte
		want Frame
	}{
		{0x00, Frame{0, 0, 0, 0, 0, 0, 0, 0, 0, 1}},
		{0xff, Frame{0, 1, 1, 1, 1, 1, 1, 1, 1, 1}},
		{0x01, Frame{0, 1, 0, 0, 0, 0, 0, 0, 0, 1}},
		{0x80, Frame{0, 0, 0, 0, 0, 0, 0, 0, 1, 1}},
		{0xa5, Frame{0, 1, 0, 1, 0, 0, 1, 0, 1, 1}},
	} {
		if got := Encode(tc.b); got != tc.want {
			t.Errorf("invalid frame for 0x%02x:\ngot= %v\nwant=%v", tc.b, got, tc.want)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		bits []uint8
		want error
		data byte
	}{
		{
			name: "short",
			bits: []uint8{0, 1, 1, 1},
			want: ErrFrameLength,
		},
		{
			name: "long",
			bits: make([]uint8, 11),
			want: ErrFrameLength,
		},
		{
			name: "bad-start",
			bits: []uint8{1, 1, 0, 0, 0, 0, 0, 0, 0, 1},
			want: ErrFramingMismatch,
			data: 0x01,
		},
		{
			name: "bad-stop",
			bits: []uint8{0, 0, 1, 0, 0, 0, 0, 0, 0, 0},
			want: ErrFramingMismatch,
			data: 0x02,
		},
		{
			name: "break",
			bits: make([]uint8, 10),
			want: ErrFramingMismatch,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			v, err := Decode(tc.bits)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("invalid error: got=%+v, want=%+v", err, tc.want)
			}
			if v != tc.data {
				t.Fatalf("invalid payload: got=0x%02x, want=0x%02x", v, tc.data)
			}
			if tc.want != ErrFramingMismatch {
				return
			}
			var derr *DecodeError
			if !errors.As(err, &derr) {
				t.Fatalf("expected a *DecodeError, got %T", err)
			}
			if derr.Data != tc.data {
				t.Fatalf("invalid decode-error payload: got=0x%02x, want=0x%02x", derr.Data, tc.data)
			}
		})
	}
}

func TestDecodeNonBinaryLevels(t *testing.T) {
	bits := []uint8{0, 2, 0, 0, 0, 0, 0, 0, 0xff, 7}
	got, err := Decode(bits)
	if err != nil {
		t.Fatalf("could not decode: %+v", err)
	}
	if want := byte(0x81); got != want {
		t.Fatalf("invalid value: got=0x%02x, want=0x%02x", got, want)
	}
}
