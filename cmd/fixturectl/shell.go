// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/go-lpc/uartfix/board"
	"github.com/go-lpc/uartfix/channel"
	"github.com/go-lpc/uartfix/fixture"
	"github.com/go-lpc/uartfix/harness"
)

func (a *app) newShellCmd() *cobra.Command {
	var (
		fix    string
		serial string
	)
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Drive one board interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bs, err := board.ParseBitstream(fix)
			if err != nil {
				return err
			}
			mgr, err := a.manager(bs)
			if err != nil {
				return err
			}
			defer mgr.Close()

			brd, err := mgr.Acquire(serial)
			if err != nil {
				return err
			}
			defer brd.Close()

			sess, err := a.session(brd, bs)
			if err != nil {
				return err
			}

			sh := newShell(cmd.OutOrStdout(), sess, a)
			return sh.loop()
		},
	}
	cmd.Flags().StringVar(&fix, "fixture", "echo", "fixture programmed on the board (echo, sum)")
	cmd.Flags().StringVar(&serial, "serial", "", "serial number of the board (default: first free board)")
	return cmd
}

type shell struct {
	out  io.Writer
	sess harness.Session
	h    *harness.Harness
	drv  fixture.Driver

	cmds map[string]shellCmd
}

type shellCmd struct {
	help string
	run  func(args []string) error
}

var errQuit = errors.New("quit")

func newShell(out io.Writer, sess harness.Session, a *app) *shell {
	sh := &shell{
		out:  out,
		sess: sess,
		h:    harness.New(harness.WithBoard(sess.Board), harness.WithLogger(a.msg)),
	}
	switch {
	case sess.Echo != nil:
		sh.drv = sess.Echo
	case sess.Sum != nil:
		sh.drv = sess.Sum
	}

	sh.cmds = map[string]shellCmd{
		"help":  {"print this help", sh.cmdHelp},
		"quit":  {"leave the shell", func([]string) error { return errQuit }},
		"reset": {"reset the driver and resynchronize with the board", sh.cmdReset},
		"state": {"print the state of the driver", sh.cmdState},
	}
	switch sh.drv.Kind() {
	case fixture.KindEcho:
		sh.cmds["send"] = shellCmd{"send TEXT: echo the bytes of TEXT", sh.cmdSend}
		sh.cmds["hex"] = shellCmd{"hex HH...: echo the hex-encoded bytes", sh.cmdHex}
		sh.cmds["leds"] = shellCmd{"print the LED register", sh.cmdLEDs}
	case fixture.KindSum:
		sh.cmds["sum"] = shellCmd{"sum BITS: send a string of 0 and 1, and read back their sum", sh.cmdSum}
	}
	return sh
}

func (sh *shell) loop() error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(sh.complete)

	hname := historyPath()
	if f, err := os.Open(hname); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if hname == "" {
			return
		}
		_ = os.MkdirAll(filepath.Dir(hname), 0755)
		f, err := os.Create(hname)
		if err != nil {
			return
		}
		defer f.Close()
		_, _ = line.WriteHistory(f)
	}()

	fmt.Fprintf(sh.out, "board %s: %v fixture (type 'help' for a list of commands)\n", sh.sess.Board, sh.drv.Kind())
	for {
		input, err := line.Prompt(fmt.Sprintf("%s> ", sh.sess.Board))
		switch {
		case err == nil:
		case errors.Is(err, liner.ErrPromptAborted), errors.Is(err, io.EOF):
			fmt.Fprintln(sh.out)
			return nil
		default:
			return fmt.Errorf("could not read command: %w", err)
		}
		if strings.TrimSpace(input) == "" {
			continue
		}
		line.AppendHistory(input)

		err = sh.exec(input)
		switch {
		case err == nil:
		case errors.Is(err, errQuit):
			return nil
		default:
			fmt.Fprintf(sh.out, "error: %+v\n", err)
		}
	}
}

func historyPath() string {
	h, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(h, ".uartfix", "history")
}

func (sh *shell) complete(line string) []string {
	var o []string
	for _, name := range sh.names() {
		if strings.HasPrefix(name, line) {
			o = append(o, name)
		}
	}
	return o
}

func (sh *shell) names() []string {
	o := make([]string, 0, len(sh.cmds))
	for name := range sh.cmds {
		o = append(o, name)
	}
	sort.Strings(o)
	return o
}

func (sh *shell) exec(input string) error {
	toks := strings.Fields(input)
	if len(toks) == 0 {
		return nil
	}
	name := toks[0]
	if name == "exit" {
		name = "quit"
	}
	cmd, ok := sh.cmds[name]
	if !ok {
		return fmt.Errorf("unknown command %q", toks[0])
	}
	if name == "send" {
		// keep the text as typed.
		txt := strings.TrimPrefix(strings.TrimLeft(input, " \t"), "send")
		return cmd.run([]string{strings.TrimPrefix(txt, " ")})
	}
	return cmd.run(toks[1:])
}

func (sh *shell) cmdHelp(args []string) error {
	for _, name := range sh.names() {
		fmt.Fprintf(sh.out, "  %-6s %s\n", name, sh.cmds[name].help)
	}
	return nil
}

func (sh *shell) cmdReset(args []string) error {
	return sh.drv.Reset()
}

func (sh *shell) cmdState(args []string) error {
	switch drv := sh.drv.(type) {
	case *fixture.Echo:
		fmt.Fprintf(sh.out, "state=%v leds=0x%02x\n", drv.State(), drv.LED())
	case *fixture.Sum:
		fmt.Fprintf(sh.out, "state=%v count=%d/%d sum=%d last=%d\n",
			drv.State(), drv.Count(), drv.InputLength(), drv.Accumulator(), drv.Last(),
		)
	}
	return nil
}

func (sh *shell) cmdSend(args []string) error {
	if len(args) != 1 || args[0] == "" {
		return fmt.Errorf("send: missing text")
	}
	return sh.echo([]byte(args[0]))
}

func (sh *shell) cmdHex(args []string) error {
	raw, err := hex.DecodeString(strings.Join(args, ""))
	if err != nil {
		return fmt.Errorf("hex: could not decode bytes: %w", err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("hex: missing bytes")
	}
	return sh.echo(raw)
}

func (sh *shell) echo(data []byte) error {
	rep := sh.h.RunEcho(sh.sess.Echo, data)
	var got []byte
	for _, tx := range rep.Transactions {
		got = append(got, tx.Observed...)
	}
	fmt.Fprintf(sh.out, "sent: %x\nrecv: %x\n", data, got)
	if rep.LED != nil {
		fmt.Fprintf(sh.out, "leds: 0x%02x\n", rep.LED.Mirror)
	}
	return rep.Err()
}

func (sh *shell) cmdLEDs(args []string) error {
	fmt.Fprintf(sh.out, "mirror: 0x%02x\n", sh.sess.Echo.LED())
	if p, ok := sh.sess.Echo.Channel().(channel.LEDProber); ok {
		if v, ok := p.LEDs(); ok {
			fmt.Fprintf(sh.out, "device: 0x%02x\n", v)
		}
	}
	return nil
}

func (sh *shell) cmdSum(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("sum: missing bits")
	}
	var stim []byte
	for _, c := range strings.Join(args, "") {
		switch c {
		case '0':
			stim = append(stim, 0)
		case '1':
			stim = append(stim, 1)
		default:
			return fmt.Errorf("sum: invalid bit %q", c)
		}
	}
	rep := sh.h.RunSum(sh.sess.Sum, stim)
	tx := rep.Transactions[0]
	fmt.Fprintf(sh.out, "sent: %d bits\nwant: %d\nrecv: %x\n", len(stim), tx.Expected[0], tx.Observed)
	return rep.Err()
}
