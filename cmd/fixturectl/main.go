// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command fixturectl runs conformance scenarios against the UART fixtures
// of FPGA boards and manages their serial numbers.
//
// Usage:
//
//	$> fixturectl [flags] <command> [args]
//
// Examples:
//
//	$> fixturectl --sim echo --echo 4 --echo-bytes 16
//	$> fixturectl --board E89000 sum --sum 10
//	$> fixturectl --dsn "user:pass@tcp(localhost)/fixtures" soak --fixture sum --rounds 100
//	$> fixturectl serial gen --seq 42 --count 3
//	$> fixturectl --sim shell --fixture echo
package main // import "github.com/go-lpc/uartfix/cmd/fixturectl"

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/go-lpc/uartfix"
	"github.com/go-lpc/uartfix/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(os.Stdout, os.Stderr)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fixturectl: %+v\n", err)
		os.Exit(1)
	}
}

type app struct {
	cfg     config.Config
	cfgPath string
	tty     string // tty device of a single board, instead of libftdi
	msg     zerolog.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{
		cfg: config.Default(),
		msg: zerolog.Nop(),
	}

	version, _ := uartfix.Version()
	if version == "" {
		version = "dev"
	}

	root := &cobra.Command{
		Use:           "fixturectl",
		Short:         "Run UART conformance scenarios against FPGA boards",
		Version:       fmt.Sprintf("%s %s/%s", version, runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.configure(cmd)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgPath, "config", "", "path to config file (default: $HOME/.uartfix/config.toml)")
	flags.IntVar(&a.cfg.ClkPerBit, "clk-per-bit", a.cfg.ClkPerBit, "device clock ticks per bit")
	flags.IntVar(&a.cfg.InputLength, "input-length", a.cfg.InputLength, "number of input bits of the sum fixture")
	flags.Float64Var(&a.cfg.ClockHz, "clock-hz", a.cfg.ClockHz, "device clock frequency (Hz)")
	flags.DurationVar(&a.cfg.Slack, "slack", a.cfg.Slack, "extra time allowed for a reply on top of the frame bound")
	flags.StringSliceVar(&a.cfg.Boards, "board", a.cfg.Boards, "serial numbers of the boards to use (default: all suitable boards)")
	flags.IntVar(&a.cfg.MinBoards, "min-boards", a.cfg.MinBoards, "minimum number of boards")
	flags.IntVar(&a.cfg.MaxBoards, "max-boards", a.cfg.MaxBoards, "maximum number of boards (0: no limit)")
	flags.BoolVar(&a.cfg.Sim, "sim", a.cfg.Sim, "run against simulated boards")
	flags.StringVar(&a.tty, "tty", "", "tty device of the board UART, e.g. /dev/ttyUSB1 (needs exactly one --board)")
	flags.Int64Var(&a.cfg.Seed, "seed", a.cfg.Seed, "seed of the random stimuli")
	flags.StringVar(&a.cfg.DSN, "dsn", a.cfg.DSN, "DSN of the results database (empty: do not record)")
	flags.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "log level (debug, info, warn, error)")

	root.AddCommand(
		a.newEchoCmd(),
		a.newSumCmd(),
		a.newSoakCmd(),
		a.newBoardsCmd(),
		a.newSerialCmd(),
		a.newEEPROMCmd(),
		a.newShellCmd(),
	)
	return root
}

// configure loads the configuration file, if any, and applies the flags
// explicitly set on the command line on top of it.
func (a *app) configure(cmd *cobra.Command) error {
	fname := a.cfgPath
	if fname == "" {
		fname = config.DefaultPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	switch {
	case a.cfgPath != "" && !config.Exists(fname):
		return fmt.Errorf("could not find config file %q", fname)
	case fname != "" && config.Exists(fname):
		f, err := config.Load(fname)
		if err != nil {
			return fmt.Errorf("could not load config: %w", err)
		}
		err = config.Apply(&a.cfg, f, changed)
		if err != nil {
			return fmt.Errorf("could not apply config: %w", err)
		}
	}

	err := a.cfg.Validate()
	if err != nil {
		return err
	}

	a.msg = a.cfg.Logger(cmd.ErrOrStderr())
	a.msg.Debug().
		Int("clk-per-bit", a.cfg.ClkPerBit).
		Float64("clock-hz", a.cfg.ClockHz).
		Int("baud", a.baud()).
		Bool("sim", a.cfg.Sim).
		Msg("configuration")
	return nil
}

func (a *app) baud() int {
	t, err := a.cfg.Timing()
	if err != nil {
		return 0
	}
	return t.Baud(a.cfg.ClockHz)
}
