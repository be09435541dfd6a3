// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fxsrv exposes the conformance harness as a TDAQ process.
//
// The server handles the usual run-control commands:
//   - /config: configures the fixture, the bit timing and the scenarios,
//   - /init: acquires the boards and creates their drivers,
//   - /reset: resets the drivers and the random stimuli,
//   - /start, /stop: start and stop a run,
//   - /quit: releases the boards.
//
// During a run, scenarios are run in rounds on all boards and their
// summaries are published on the /reports output.
package fxsrv // import "github.com/go-lpc/uartfix/fxsrv"

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/go-daq/tdaq"
	"github.com/rs/zerolog"

	"github.com/go-lpc/uartfix/board"
	"github.com/go-lpc/uartfix/fixture"
	"github.com/go-lpc/uartfix/fpga"
	"github.com/go-lpc/uartfix/harness"
	"github.com/go-lpc/uartfix/uart"
)

// Recorder stores scenario reports.
type Recorder interface {
	Record(ctx context.Context, rep harness.Report) (int64, error)
}

// Alerter notifies operators about failed scenarios.
type Alerter interface {
	Report(rep harness.Report) (bool, error)
}

// Config is the run configuration of the server.
type Config struct {
	Fixture     board.Bitstream
	ClkPerBit   int
	InputLength int
	ClockHz     float64
	Scenarios   int // number of scenarios per board and per round
	EchoBytes   int // number of bytes per echo scenario
	Seed        int64
}

// Stats counts what was run since the last reset.
type Stats struct {
	Rounds    int
	Scenarios int
	Failures  int
}

// Server runs conformance scenarios on the boards of a manager.
type Server struct {
	name string
	mgr  *fpga.Manager
	rec  Recorder
	alr  Alerter
	msg  zerolog.Logger

	cfg    Config
	rnd    *rand.Rand
	boards []*fpga.Board
	sess   []harness.Session
	drvs   []fixture.Driver

	reps chan []byte

	mu    sync.Mutex
	stats Stats
}

// Option configures a Server.
type Option func(*Server)

// WithRecorder stores every report with rec.
func WithRecorder(rec Recorder) Option {
	return func(srv *Server) {
		srv.rec = rec
	}
}

// WithAlerter sends failed reports to alr.
func WithAlerter(alr Alerter) Option {
	return func(srv *Server) {
		srv.alr = alr
	}
}

// WithLogger sets the logger of the harness.
func WithLogger(msg zerolog.Logger) Option {
	return func(srv *Server) {
		srv.msg = msg
	}
}

// WithConfig sets the initial run configuration.
func WithConfig(cfg Config) Option {
	return func(srv *Server) {
		srv.cfg = cfg
	}
}

// New creates a new server, driving the boards of mgr.
func New(name string, mgr *fpga.Manager, opts ...Option) *Server {
	srv := &Server{
		name: name,
		mgr:  mgr,
		msg:  zerolog.Nop(),
		cfg: Config{
			Fixture:     board.Echo,
			ClkPerBit:   uart.DefaultClkPerBit,
			InputLength: 20,
			ClockHz:     uart.DefaultClockHz,
			Scenarios:   1,
			EchoBytes:   10,
			Seed:        1234,
		},
		reps: make(chan []byte, 1024),
	}
	for _, opt := range opts {
		opt(srv)
	}
	srv.rnd = rand.New(rand.NewSource(srv.cfg.Seed))
	return srv
}

// Config returns the current run configuration.
func (srv *Server) Config() Config { return srv.cfg }

// Stats returns the counters of the current run.
func (srv *Server) Stats() Stats {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.stats
}

// OnConfig configures the server. The request body, when present, holds
// the fixture name, the number of clock ticks per bit, the input length of
// the sum fixture, the number of scenarios per round, the number of bytes
// per echo scenario and the seed of the stimuli.
func (srv *Server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	if len(req.Body) == 0 {
		return nil
	}

	var (
		cfg = srv.cfg
		dec = tdaq.NewDecoder(bytes.NewReader(req.Body))
		fix = dec.ReadStr()
	)
	cfg.ClkPerBit = int(dec.ReadU32())
	cfg.InputLength = int(dec.ReadU32())
	cfg.Scenarios = int(dec.ReadU32())
	cfg.EchoBytes = int(dec.ReadU32())
	cfg.Seed = int64(dec.ReadU32())
	if err := dec.Err(); err != nil {
		ctx.Msg.Errorf("could not decode /config request: %+v", err)
		return fmt.Errorf("fxsrv: could not decode /config request: %w", err)
	}

	bs, err := board.ParseBitstream(fix)
	if err != nil {
		ctx.Msg.Errorf("could not configure fixture: %+v", err)
		return fmt.Errorf("fxsrv: could not configure fixture: %w", err)
	}
	cfg.Fixture = bs

	_, err = uart.NewTiming(cfg.ClkPerBit)
	switch {
	case err != nil:
		return fmt.Errorf("fxsrv: invalid bit timing: %w", err)
	case cfg.Fixture == board.Sum && cfg.InputLength < 1:
		return fmt.Errorf("fxsrv: invalid input length %d: %w", cfg.InputLength, fixture.ErrInvalidConfig)
	case cfg.Scenarios < 1:
		return fmt.Errorf("fxsrv: invalid number of scenarios %d", cfg.Scenarios)
	}

	srv.cfg = cfg
	ctx.Msg.Infof("configured %v fixture (clk-per-bit=%d, scenarios=%d)",
		cfg.Fixture, cfg.ClkPerBit, cfg.Scenarios,
	)
	return nil
}

// OnInit acquires all the boards of the manager and creates their drivers.
func (srv *Server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	err := srv.release()
	if err != nil {
		ctx.Msg.Errorf("could not release boards: %+v", err)
		return fmt.Errorf("fxsrv: could not release boards: %w", err)
	}

	n := srv.mgr.Len()
	for i := 0; i < n; i++ {
		b, err := srv.mgr.Acquire("")
		if err != nil {
			_ = srv.release()
			ctx.Msg.Errorf("could not acquire board: %+v", err)
			return fmt.Errorf("fxsrv: could not acquire board: %w", err)
		}
		srv.boards = append(srv.boards, b)

		sess, drv, err := srv.driver(b)
		if err != nil {
			_ = srv.release()
			ctx.Msg.Errorf("could not create driver for board %q: %+v", b.Serial, err)
			return fmt.Errorf("fxsrv: could not create driver for board %q: %w", b.Serial, err)
		}
		srv.sess = append(srv.sess, sess)
		srv.drvs = append(srv.drvs, drv)
		ctx.Msg.Infof("board %q: %v fixture OK", b.Serial, srv.cfg.Fixture)
	}
	srv.rnd = rand.New(rand.NewSource(srv.cfg.Seed))
	return nil
}

func (srv *Server) driver(b *fpga.Board) (harness.Session, fixture.Driver, error) {
	var (
		sess = harness.Session{Board: b.Serial}
		msg  = srv.msg.With().Str("board", b.Serial).Logger()
		opts = []fixture.Option{
			fixture.WithClockHz(srv.cfg.ClockHz),
			fixture.WithLogger(msg),
		}
	)
	switch srv.cfg.Fixture {
	case board.Echo:
		drv, err := fixture.NewEcho(b.Channel, srv.cfg.ClkPerBit, opts...)
		if err != nil {
			return sess, nil, err
		}
		sess.Echo = drv
		return sess, drv, nil
	case board.Sum:
		drv, err := fixture.NewSum(b.Channel, srv.cfg.ClkPerBit, srv.cfg.InputLength, opts...)
		if err != nil {
			return sess, nil, err
		}
		sess.Sum = drv
		return sess, drv, nil
	}
	return sess, nil, fmt.Errorf("fxsrv: unknown fixture %v", srv.cfg.Fixture)
}

// OnReset resets the drivers, the stimuli and the counters.
func (srv *Server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	for i, drv := range srv.drvs {
		err := drv.Reset()
		if err != nil {
			ctx.Msg.Errorf("could not reset board %q: %+v", srv.sess[i].Board, err)
			return fmt.Errorf("fxsrv: could not reset board %q: %w", srv.sess[i].Board, err)
		}
	}
	srv.rnd = rand.New(rand.NewSource(srv.cfg.Seed))
	srv.reps = make(chan []byte, 1024)

	srv.mu.Lock()
	srv.stats = Stats{}
	srv.mu.Unlock()
	return nil
}

func (srv *Server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	if len(srv.sess) == 0 {
		return fmt.Errorf("fxsrv: no board initialized")
	}
	return nil
}

func (srv *Server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	st := srv.Stats()
	ctx.Msg.Debugf("received /stop command... -> rounds=%d, scenarios=%d, failures=%d",
		st.Rounds, st.Scenarios, st.Failures,
	)
	return nil
}

// OnQuit releases all the boards.
func (srv *Server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	err := srv.release()
	if err != nil {
		ctx.Msg.Errorf("could not release boards: %+v", err)
		return fmt.Errorf("fxsrv: could not release boards: %w", err)
	}
	return nil
}

func (srv *Server) release() error {
	var err error
	for _, b := range srv.boards {
		if e := b.Close(); e != nil && err == nil {
			err = e
		}
	}
	srv.boards = srv.boards[:0]
	srv.sess = srv.sess[:0]
	srv.drvs = srv.drvs[:0]
	return err
}

// Reports publishes the encoded summary of every scenario.
func (srv *Server) Reports(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-srv.reps:
		dst.Body = data
	}
	return nil
}

func (srv *Server) plan() harness.Plan {
	var plan harness.Plan
	for i := 0; i < srv.cfg.Scenarios; i++ {
		switch srv.cfg.Fixture {
		case board.Echo:
			plan.Echo = append(plan.Echo, harness.RandomBytes(srv.rnd, srv.cfg.EchoBytes))
		case board.Sum:
			plan.Sum = append(plan.Sum, harness.RandomBits(srv.rnd, srv.cfg.InputLength))
		}
	}
	return plan
}

// Run runs rounds of scenarios on all the boards until the run is stopped.
func (srv *Server) Run(ctx tdaq.Context) error {
	h := harness.New(harness.WithLogger(srv.msg))
	for {
		select {
		case <-ctx.Ctx.Done():
			return nil
		default:
		}

		reps, err := h.RunSessions(ctx.Ctx, srv.sess, srv.plan())
		if err != nil {
			if ctx.Ctx.Err() != nil {
				return nil
			}
			ctx.Msg.Errorf("could not run round: %+v", err)
			return fmt.Errorf("fxsrv: could not run round: %w", err)
		}

		for _, sess := range reps {
			for _, rep := range sess {
				srv.publish(ctx, rep)
			}
		}
		srv.mu.Lock()
		srv.stats.Rounds++
		srv.mu.Unlock()
	}
}

func (srv *Server) publish(ctx tdaq.Context, rep harness.Report) {
	srv.mu.Lock()
	srv.stats.Scenarios++
	if rep.Status != harness.StatusPass {
		srv.stats.Failures++
	}
	srv.mu.Unlock()

	if srv.rec != nil {
		_, err := srv.rec.Record(ctx.Ctx, rep)
		if err != nil {
			ctx.Msg.Errorf("could not record scenario %s of board %q: %+v", rep.Name, rep.Board, err)
		}
	}
	if srv.alr != nil {
		_, err := srv.alr.Report(rep)
		if err != nil {
			ctx.Msg.Warnf("could not send alert for board %q: %+v", rep.Board, err)
		}
	}

	buf := new(bytes.Buffer)
	err := EncodeSummary(buf, SummaryOf(rep))
	if err != nil {
		ctx.Msg.Errorf("could not encode scenario %s: %+v", rep.Name, err)
		return
	}
	select {
	case srv.reps <- buf.Bytes():
	default:
		ctx.Msg.Warnf("reports queue full: dropping scenario %s of board %q", rep.Name, rep.Board)
	}
}
