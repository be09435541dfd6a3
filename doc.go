// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package uartfix drives the UART conformance fixtures of FPGA boards
// attached to the host through FTDI bridges.
//
// The fixtures come in two flavors:
//   - echo: the board sends back every byte it receives, and shifts the
//     received bits into its LED register,
//   - sum: the board receives a fixed number of bits, one per frame, and
//     sends back the number of ones.
//
// Package uart implements the line-level framing, board simulates the
// fixtures, channel provides the links to the boards (simulated or real),
// fixture holds the host-side drivers and harness runs scenarios against
// them.
package uartfix // import "github.com/go-lpc/uartfix"

import (
	"fmt"
	"runtime/debug"
)

// Version returns the version of uartfix and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	const root = "github.com/go-lpc/uartfix"
	if b.Main.Path == root && b.Main.Version != "" {
		return b.Main.Version, b.Main.Sum
	}
	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if m.Replace != nil {
			switch {
			case m.Replace.Version != "" && m.Replace.Path != "":
				return fmt.Sprintf("%s %s", m.Replace.Path, m.Replace.Version), m.Replace.Sum
			case m.Replace.Version != "":
				return m.Replace.Version, m.Replace.Sum
			case m.Replace.Path != "":
				return m.Replace.Path, m.Replace.Sum
			default:
				return m.Version + "*", ""
			}
		}
		return m.Version, m.Sum
	}
	return "", ""
}
