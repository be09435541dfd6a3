// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config holds the configuration of the fixture commands.
package config // import "github.com/go-lpc/uartfix/internal/config"

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-lpc/uartfix/uart"
	"github.com/rs/zerolog"
)

// Config is the configuration of a conformance campaign.
type Config struct {
	// fixture parameters.
	ClkPerBit   int
	InputLength int
	ClockHz     float64
	Slack       time.Duration

	// boards under test.
	Boards    []string // requested serial numbers
	MinBoards int
	MaxBoards int
	Sim       bool // run against simulated boards

	// scenarios.
	EchoScenarios int
	EchoBytes     int
	SumScenarios  int
	Seed          int64

	DSN      string // results database, empty to disable
	LogLevel string
}

// Default returns a Config with default values.
func Default() Config {
	return Config{
		ClkPerBit:     uart.DefaultClkPerBit,
		InputLength:   20,
		ClockHz:       uart.DefaultClockHz,
		Slack:         2 * time.Millisecond,
		MinBoards:     1,
		EchoScenarios: 1,
		EchoBytes:     10,
		SumScenarios:  1,
		Seed:          1234,
		LogLevel:      "info",
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch {
	case c.ClkPerBit < 1:
		return fmt.Errorf("config: clk-per-bit must be at least 1 (got=%d)", c.ClkPerBit)
	case c.InputLength < 1 || c.InputLength > 255:
		return fmt.Errorf("config: input-length must be in [1, 255] (got=%d)", c.InputLength)
	case c.ClockHz <= 0:
		return fmt.Errorf("config: clock-hz must be positive (got=%v)", c.ClockHz)
	case c.Slack < 0:
		return fmt.Errorf("config: slack must not be negative (got=%v)", c.Slack)
	case c.MinBoards < 1:
		return fmt.Errorf("config: min-boards must be at least 1 (got=%d)", c.MinBoards)
	case c.MaxBoards < 0:
		return fmt.Errorf("config: max-boards must not be negative (got=%d)", c.MaxBoards)
	case c.MaxBoards > 0 && c.MinBoards > c.MaxBoards:
		return fmt.Errorf("config: min-boards=%d greater than max-boards=%d", c.MinBoards, c.MaxBoards)
	case c.EchoScenarios < 0 || c.SumScenarios < 0 || c.EchoBytes < 0:
		return fmt.Errorf("config: number of scenarios must not be negative")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: invalid log level %q: %w", c.LogLevel, err)
	}
	return nil
}

// Timing returns the bit timing of the fixtures.
func (c *Config) Timing() (uart.Timing, error) {
	return uart.NewTiming(c.ClkPerBit)
}

// Logger returns a console logger writing to w at the configured level.
func (c *Config) Logger(w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
}
