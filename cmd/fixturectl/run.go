// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/go-lpc/uartfix/board"
	"github.com/go-lpc/uartfix/channel"
	"github.com/go-lpc/uartfix/fixture"
	"github.com/go-lpc/uartfix/fpga"
	"github.com/go-lpc/uartfix/harness"
	"github.com/go-lpc/uartfix/internal/alert"
	"github.com/go-lpc/uartfix/resultdb"
)

// manager returns a manager of the boards selected by the configuration,
// all of them expected to run the bs bitstream.
func (a *app) manager(bs board.Bitstream) (*fpga.Manager, error) {
	t, err := a.cfg.Timing()
	if err != nil {
		return nil, err
	}

	opts := []fpga.ManagerOption{
		fpga.WithMinBoards(a.cfg.MinBoards),
		fpga.WithMaxBoards(a.cfg.MaxBoards),
		fpga.WithSerials(a.cfg.Boards...),
		fpga.WithManagerLogger(a.msg),
	}
	switch {
	case a.cfg.Sim:
		list := fpga.SimLister(a.nsim())
		if len(a.cfg.Boards) > 0 {
			sns := append([]string(nil), a.cfg.Boards...)
			list = func() ([]string, error) { return sns, nil }
		}
		opts = append(opts,
			fpga.WithLister(list),
			fpga.WithOpener(fpga.SimOpener(t, bs, a.cfg.InputLength, a.cfg.ClockHz)),
		)
	case a.tty != "":
		if len(a.cfg.Boards) != 1 {
			return nil, fmt.Errorf("--tty needs exactly one --board serial number (got=%d)", len(a.cfg.Boards))
		}
		sns := append([]string(nil), a.cfg.Boards...)
		opts = append(opts,
			fpga.WithLister(func() ([]string, error) { return sns, nil }),
			fpga.WithOpener(func(string) (channel.Channel, error) {
				tty, err := channel.OpenTTY(a.tty, t, a.cfg.ClockHz)
				if err != nil {
					return nil, err
				}
				return tty, nil
			}),
		)
	default:
		opts = append(opts, fpga.WithOpener(fpga.FTDIOpener(t, a.cfg.ClockHz)))
	}

	mgr, err := fpga.NewManager(opts...)
	if err != nil {
		return nil, fmt.Errorf("could not create board manager: %w", err)
	}
	return mgr, nil
}

func (a *app) nsim() int {
	n := a.cfg.MinBoards
	if a.cfg.MaxBoards > n {
		n = a.cfg.MaxBoards
	}
	return n
}

// bench holds the boards acquired for a command, with their drivers.
type bench struct {
	mgr    *fpga.Manager
	boards []*fpga.Board
	sess   []harness.Session
}

func (a *app) newBench(bs board.Bitstream) (*bench, error) {
	mgr, err := a.manager(bs)
	if err != nil {
		return nil, err
	}

	b := &bench{mgr: mgr}
	for i, n := 0, mgr.Len(); i < n; i++ {
		brd, err := mgr.Acquire("")
		if err != nil {
			_ = b.close()
			return nil, fmt.Errorf("could not acquire board: %w", err)
		}
		b.boards = append(b.boards, brd)

		sess, err := a.session(brd, bs)
		if err != nil {
			_ = b.close()
			return nil, err
		}
		b.sess = append(b.sess, sess)
	}
	return b, nil
}

func (a *app) session(brd *fpga.Board, bs board.Bitstream) (harness.Session, error) {
	var (
		sess = harness.Session{Board: brd.Serial}
		opts = []fixture.Option{
			fixture.WithClockHz(a.cfg.ClockHz),
			fixture.WithSlack(a.cfg.Slack),
			fixture.WithLogger(a.msg.With().Str("board", brd.Serial).Logger()),
		}
		err error
	)
	switch bs {
	case board.Echo:
		sess.Echo, err = fixture.NewEcho(brd.Channel, a.cfg.ClkPerBit, opts...)
	case board.Sum:
		sess.Sum, err = fixture.NewSum(brd.Channel, a.cfg.ClkPerBit, a.cfg.InputLength, opts...)
	default:
		err = fmt.Errorf("unknown fixture %v", bs)
	}
	if err != nil {
		return sess, fmt.Errorf("could not create %v driver for board %q: %w", bs, brd.Serial, err)
	}
	return sess, nil
}

func (b *bench) close() error {
	if b.mgr == nil {
		return nil
	}
	var err error
	for _, brd := range b.boards {
		if e := brd.Close(); e != nil && err == nil {
			err = e
		}
	}
	if e := b.mgr.Close(); e != nil && err == nil {
		err = e
	}
	b.boards = nil
	b.mgr = nil
	return err
}

// sink collects the reports of a command.
type sink struct {
	w     io.Writer
	db    *resultdb.DB
	mail  *alert.Mailer
	nscen int
	nfail int
}

func (a *app) newSink(ctx context.Context, w io.Writer) (*sink, error) {
	s := &sink{w: w}
	if a.cfg.DSN == "" {
		return s, nil
	}
	db, err := resultdb.Open(a.cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("could not open results database: %w", err)
	}
	err = db.CreateTables(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not create results tables: %w", err)
	}
	s.db = db
	return s, nil
}

func (s *sink) add(ctx context.Context, rep harness.Report) error {
	s.nscen++
	if rep.Status != harness.StatusPass {
		s.nfail++
	}

	_, err := rep.WriteTo(s.w)
	if err != nil {
		return fmt.Errorf("could not write report: %w", err)
	}
	if s.db != nil {
		_, err = s.db.Record(ctx, rep)
		if err != nil {
			return fmt.Errorf("could not record report: %w", err)
		}
	}
	if s.mail != nil {
		_, err = s.mail.Report(rep)
		if err != nil {
			return fmt.Errorf("could not send alert: %w", err)
		}
	}
	return nil
}

func (s *sink) err() error {
	if s.nfail == 0 {
		return nil
	}
	return fmt.Errorf("%d/%d scenarios failed", s.nfail, s.nscen)
}

func (s *sink) close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// run runs plan once on all the boards running bs.
func (a *app) run(cmd *cobra.Command, bs board.Bitstream, plan harness.Plan) error {
	ctx := cmd.Context()
	b, err := a.newBench(bs)
	if err != nil {
		return err
	}
	defer b.close()

	out, err := a.newSink(ctx, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer out.close()

	h := harness.New(harness.WithLogger(a.msg))
	reps, err := h.RunSessions(ctx, b.sess, plan)
	if err != nil {
		return err
	}
	for _, sess := range reps {
		for _, rep := range sess {
			err = out.add(ctx, rep)
			if err != nil {
				return err
			}
		}
	}

	err = b.close()
	if err != nil {
		return fmt.Errorf("could not release boards: %w", err)
	}
	return out.err()
}

func (a *app) newEchoCmd() *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "echo",
		Short: "Run echo scenarios",
		Long: `Run echo scenarios on all the selected boards.

Each scenario sends random bytes, one at a time, and checks each of them is
echoed back. Once all bytes went through, the LED register of the board is
checked against the last 8 bits sent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				rnd  = rand.New(rand.NewSource(a.cfg.Seed))
				plan harness.Plan
			)
			if data != "" {
				plan.Echo = append(plan.Echo, []byte(data))
			}
			for i := 0; i < a.cfg.EchoScenarios; i++ {
				plan.Echo = append(plan.Echo, harness.RandomBytes(rnd, a.cfg.EchoBytes))
			}
			return a.run(cmd, board.Echo, plan)
		},
	}
	cmd.Flags().IntVar(&a.cfg.EchoScenarios, "echo", a.cfg.EchoScenarios, "number of echo scenarios")
	cmd.Flags().IntVar(&a.cfg.EchoBytes, "echo-bytes", a.cfg.EchoBytes, "number of bytes per echo scenario")
	cmd.Flags().StringVar(&data, "data", "", "send this string as an extra scenario")
	return cmd
}

func (a *app) newSumCmd() *cobra.Command {
	var ones int
	cmd := &cobra.Command{
		Use:   "sum",
		Short: "Run sum scenarios",
		Long: `Run sum scenarios on all the selected boards.

Each scenario sends input-length random bits, one per frame, and checks the
board replies with the number of ones.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				rnd  = rand.New(rand.NewSource(a.cfg.Seed))
				plan harness.Plan
			)
			for i := 0; i < a.cfg.SumScenarios; i++ {
				if ones < 0 {
					plan.Sum = append(plan.Sum, harness.RandomBits(rnd, a.cfg.InputLength))
					continue
				}
				stim, err := harness.BitsWithOnes(rnd, a.cfg.InputLength, ones)
				if err != nil {
					return err
				}
				plan.Sum = append(plan.Sum, stim)
			}
			return a.run(cmd, board.Sum, plan)
		},
	}
	cmd.Flags().IntVar(&a.cfg.SumScenarios, "sum", a.cfg.SumScenarios, "number of sum scenarios")
	cmd.Flags().IntVar(&ones, "ones", -1, "number of ones per scenario (-1: random bits)")
	return cmd
}

func (a *app) newSoakCmd() *cobra.Command {
	var (
		fix    string
		rounds int
		mail   bool
	)
	cmd := &cobra.Command{
		Use:   "soak",
		Short: "Run scenarios in rounds until interrupted",
		Long: `Run rounds of scenarios on all the selected boards, until the requested
number of rounds is reached or the command is interrupted.

Reports are recorded in the results database when a DSN is given, and
failures are mailed to the MAIL_TGTS recipients when --alert is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bs, err := board.ParseBitstream(fix)
			if err != nil {
				return err
			}
			return a.soak(cmd, bs, rounds, mail)
		},
	}
	cmd.Flags().StringVar(&fix, "fixture", "echo", "fixture programmed on the boards (echo, sum)")
	cmd.Flags().IntVar(&rounds, "rounds", 0, "number of rounds (0: until interrupted)")
	cmd.Flags().BoolVar(&mail, "alert", false, "mail failed scenarios")
	cmd.Flags().IntVar(&a.cfg.EchoScenarios, "echo", a.cfg.EchoScenarios, "number of echo scenarios per round")
	cmd.Flags().IntVar(&a.cfg.EchoBytes, "echo-bytes", a.cfg.EchoBytes, "number of bytes per echo scenario")
	cmd.Flags().IntVar(&a.cfg.SumScenarios, "sum", a.cfg.SumScenarios, "number of sum scenarios per round")
	return cmd
}

func (a *app) soak(cmd *cobra.Command, bs board.Bitstream, rounds int, mail bool) error {
	ctx := cmd.Context()
	b, err := a.newBench(bs)
	if err != nil {
		return err
	}
	defer b.close()

	out, err := a.newSink(ctx, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer out.close()

	if mail {
		out.mail = alert.FromEnv(a.msg)
		if !out.mail.Enabled() {
			a.msg.Warn().Msg("mail alerts requested but MAIL_* credentials are missing")
		}
	}

	var (
		rnd = rand.New(rand.NewSource(a.cfg.Seed))
		h   = harness.New(harness.WithLogger(a.msg))
	)
	for i := 0; rounds <= 0 || i < rounds; i++ {
		if ctx.Err() != nil {
			break
		}
		var plan harness.Plan
		switch bs {
		case board.Echo:
			for j := 0; j < a.cfg.EchoScenarios; j++ {
				plan.Echo = append(plan.Echo, harness.RandomBytes(rnd, a.cfg.EchoBytes))
			}
		case board.Sum:
			for j := 0; j < a.cfg.SumScenarios; j++ {
				plan.Sum = append(plan.Sum, harness.RandomBits(rnd, a.cfg.InputLength))
			}
		}

		reps, err := h.RunSessions(ctx, b.sess, plan)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}
		for _, sess := range reps {
			for _, rep := range sess {
				err = out.add(ctx, rep)
				if err != nil {
					return err
				}
			}
		}
		a.msg.Info().Int("round", i).Int("scenarios", out.nscen).Int("failures", out.nfail).Msg("soak")
	}

	if out.db != nil {
		for _, sess := range b.sess {
			rate, err := out.db.FailureRate(context.Background(), sess.Board, out.nscen)
			if err != nil {
				return fmt.Errorf("could not compute failure rate of board %q: %w", sess.Board, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "board %s: failure rate %.2f%%\n", sess.Board, 100*rate)
		}
	}

	err = b.close()
	if err != nil {
		return fmt.Errorf("could not release boards: %w", err)
	}
	return out.err()
}
