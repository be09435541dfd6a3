// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// File mirrors Config, with durations as strings.
type File struct {
	Fixture struct {
		ClkPerBit   int     `toml:"clk_per_bit"`
		InputLength int     `toml:"input_length"`
		ClockHz     float64 `toml:"clock_hz"`
		Slack       string  `toml:"slack"`
	} `toml:"fixture"`

	Boards struct {
		Serials []string `toml:"serials"`
		Min     int      `toml:"min"`
		Max     int      `toml:"max"`
		Sim     *bool    `toml:"sim"`
	} `toml:"boards"`

	Scenarios struct {
		Echo      int    `toml:"echo"`
		EchoBytes int    `toml:"echo_bytes"`
		Sum       int    `toml:"sum"`
		Seed      *int64 `toml:"seed"`
	} `toml:"scenarios"`

	DB struct {
		DSN string `toml:"dsn"`
	} `toml:"db"`

	LogLevel string `toml:"log_level"`
}

// Load reads and parses a TOML configuration file.
func Load(path string) (File, error) {
	var f File
	raw, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("config: could not read %q: %w", path, err)
	}
	err = toml.Unmarshal(raw, &f)
	if err != nil {
		return f, fmt.Errorf("config: could not decode %q: %w", path, err)
	}
	return f, nil
}

// DefaultPath returns ~/.uartfix/config.toml, or "" if the home directory
// is not known.
func DefaultPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".uartfix", "config.toml")
	}
	return ""
}

// Exists reports whether a file exists at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Apply applies the values of f to cfg, except for the ones whose flag
// was explicitly set on the command line.
func Apply(cfg *Config, f File, changed map[string]bool) error {
	set := setter{changed: changed}

	set.setInt("clk-per-bit", f.Fixture.ClkPerBit, &cfg.ClkPerBit)
	set.setInt("input-length", f.Fixture.InputLength, &cfg.InputLength)
	set.setFloat("clock-hz", f.Fixture.ClockHz, &cfg.ClockHz)
	if err := set.setDuration("slack", f.Fixture.Slack, &cfg.Slack); err != nil {
		return err
	}

	if len(f.Boards.Serials) > 0 && !changed["board"] {
		cfg.Boards = append([]string(nil), f.Boards.Serials...)
	}
	set.setInt("min-boards", f.Boards.Min, &cfg.MinBoards)
	set.setInt("max-boards", f.Boards.Max, &cfg.MaxBoards)
	if f.Boards.Sim != nil && !changed["sim"] {
		cfg.Sim = *f.Boards.Sim
	}

	set.setInt("echo", f.Scenarios.Echo, &cfg.EchoScenarios)
	set.setInt("echo-bytes", f.Scenarios.EchoBytes, &cfg.EchoBytes)
	set.setInt("sum", f.Scenarios.Sum, &cfg.SumScenarios)
	if f.Scenarios.Seed != nil && !changed["seed"] {
		cfg.Seed = *f.Scenarios.Seed
	}

	set.setString("dsn", f.DB.DSN, &cfg.DSN)
	set.setString("log-level", f.LogLevel, &cfg.LogLevel)
	return nil
}

type setter struct {
	changed map[string]bool
}

func (s setter) setString(flag, v string, dst *string) {
	if v == "" || s.changed[flag] {
		return
	}
	*dst = v
}

func (s setter) setInt(flag string, v int, dst *int) {
	if v <= 0 || s.changed[flag] {
		return
	}
	*dst = v
}

func (s setter) setFloat(flag string, v float64, dst *float64) {
	if v <= 0 || s.changed[flag] {
		return
	}
	*dst = v
}

func (s setter) setDuration(flag, v string, dst *time.Duration) error {
	if v == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: could not parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}
