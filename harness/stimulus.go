// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package harness

import (
	"math/rand"

	"golang.org/x/xerrors"
)

// RandomBytes returns n random bytes.
func RandomBytes(rnd *rand.Rand, n int) []byte {
	o := make([]byte, n)
	for i := range o {
		o[i] = byte(rnd.Intn(256))
	}
	return o
}

// RandomBits returns n random bits, one per byte.
func RandomBits(rnd *rand.Rand, n int) []byte {
	o := make([]byte, n)
	for i := range o {
		o[i] = byte(rnd.Intn(2))
	}
	return o
}

// BitsWithOnes returns n bits, one per byte, exactly k of them set, at
// random positions.
func BitsWithOnes(rnd *rand.Rand, n, k int) ([]byte, error) {
	if n < 0 || k < 0 || k > n {
		return nil, xerrors.Errorf("harness: invalid bit sequence (n=%d, ones=%d)", n, k)
	}
	o := make([]byte, n)
	for _, i := range rnd.Perm(n)[:k] {
		o[i] = 1
	}
	return o, nil
}
