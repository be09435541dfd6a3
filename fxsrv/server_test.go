// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fxsrv

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/log"
	"github.com/google/go-cmp/cmp"

	"github.com/go-lpc/uartfix/board"
	"github.com/go-lpc/uartfix/fpga"
	"github.com/go-lpc/uartfix/harness"
	"github.com/go-lpc/uartfix/uart"
)

type recorder struct {
	mu   sync.Mutex
	reps []harness.Report
}

func (rec *recorder) Record(ctx context.Context, rep harness.Report) (int64, error) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.reps = append(rec.reps, rep)
	return int64(len(rec.reps)), nil
}

func (rec *recorder) len() int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.reps)
}

type alerter struct {
	mu     sync.Mutex
	failed int
}

func (alr *alerter) Report(rep harness.Report) (bool, error) {
	if rep.Status == harness.StatusPass {
		return false, nil
	}
	alr.mu.Lock()
	defer alr.mu.Unlock()
	alr.failed++
	return true, nil
}

func (alr *alerter) len() int {
	alr.mu.Lock()
	defer alr.mu.Unlock()
	return alr.failed
}

func newManager(t *testing.T, bs board.Bitstream, n, nboards int) *fpga.Manager {
	t.Helper()
	tm, err := uart.NewTiming(4)
	if err != nil {
		t.Fatalf("could not create timing: %+v", err)
	}
	mgr, err := fpga.NewManager(
		fpga.WithLister(fpga.SimLister(nboards)),
		fpga.WithOpener(fpga.SimOpener(tm, bs, n, uart.DefaultClockHz)),
	)
	if err != nil {
		t.Fatalf("could not create manager: %+v", err)
	}
	return mgr
}

func newContext(ctx context.Context) tdaq.Context {
	return tdaq.Context{
		Ctx: ctx,
		Msg: log.NewMsgStream("fxsrv", log.LvlError, io.Discard),
	}
}

func configFrame(t *testing.T, fix string, clk, n, nscen, nbytes, seed uint32) tdaq.Frame {
	t.Helper()
	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	enc.WriteStr(fix)
	enc.WriteU32(clk)
	enc.WriteU32(n)
	enc.WriteU32(nscen)
	enc.WriteU32(nbytes)
	enc.WriteU32(seed)
	if err := enc.Err(); err != nil {
		t.Fatalf("could not encode /config request: %+v", err)
	}
	return tdaq.Frame{Body: buf.Bytes()}
}

func TestServerConfig(t *testing.T) {
	var (
		mgr  = newManager(t, board.Echo, 20, 1)
		srv  = New("fxsrv", mgr)
		ctx  = newContext(context.Background())
		resp tdaq.Frame
	)

	want := srv.Config()
	err := srv.OnConfig(ctx, &resp, tdaq.Frame{})
	if err != nil {
		t.Fatalf("could not configure with an empty request: %+v", err)
	}
	if diff := cmp.Diff(want, srv.Config()); diff != "" {
		t.Fatalf("empty request should not modify config (-want +got):\n%s", diff)
	}

	err = srv.OnConfig(ctx, &resp, configFrame(t, "sum", 8, 12, 3, 4, 42))
	if err != nil {
		t.Fatalf("could not configure: %+v", err)
	}
	want = Config{
		Fixture:     board.Sum,
		ClkPerBit:   8,
		InputLength: 12,
		ClockHz:     uart.DefaultClockHz,
		Scenarios:   3,
		EchoBytes:   4,
		Seed:        42,
	}
	if diff := cmp.Diff(want, srv.Config()); diff != "" {
		t.Fatalf("invalid config (-want +got):\n%s", diff)
	}

	for _, tc := range []struct {
		name string
		req  tdaq.Frame
	}{
		{"fixture", configFrame(t, "blink", 4, 20, 1, 10, 1)},
		{"clk-per-bit", configFrame(t, "echo", 0, 20, 1, 10, 1)},
		{"input-length", configFrame(t, "sum", 4, 0, 1, 10, 1)},
		{"scenarios", configFrame(t, "echo", 4, 20, 0, 10, 1)},
		{"short", tdaq.Frame{Body: []byte{0, 0}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := srv.OnConfig(ctx, &resp, tc.req)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if diff := cmp.Diff(want, srv.Config()); diff != "" {
				t.Fatalf("invalid request should not modify config (-want +got):\n%s", diff)
			}
		})
	}
}

func TestServerRun(t *testing.T) {
	for _, tc := range []struct {
		name   string
		bs     board.Bitstream
		n      int // input length of the boards
		fix    string
		length uint32 // input length of the drivers
		fail   bool
	}{
		{name: "echo", bs: board.Echo, n: 20, fix: "echo", length: 20},
		{name: "sum", bs: board.Sum, n: 20, fix: "sum", length: 20},
		{name: "sum-short-board", bs: board.Sum, n: 8, fix: "sum", length: 20, fail: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			const (
				nboards = 2
				nscen   = 2
			)
			var (
				mgr  = newManager(t, tc.bs, tc.n, nboards)
				rec  = new(recorder)
				alr  = new(alerter)
				srv  = New("fxsrv", mgr, WithRecorder(rec), WithAlerter(alr))
				ctx  = newContext(context.Background())
				resp tdaq.Frame
			)

			for _, step := range []struct {
				name string
				f    func(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error
				req  tdaq.Frame
			}{
				{"/config", srv.OnConfig, configFrame(t, tc.fix, 4, tc.length, nscen, 8, 1234)},
				{"/init", srv.OnInit, tdaq.Frame{}},
				{"/reset", srv.OnReset, tdaq.Frame{}},
				{"/start", srv.OnStart, tdaq.Frame{}},
			} {
				err := step.f(ctx, &resp, step.req)
				if err != nil {
					t.Fatalf("could not run %s: %+v", step.name, err)
				}
			}
			if got, want := mgr.Available(), 0; got != want {
				t.Fatalf("invalid number of available boards: got=%d, want=%d", got, want)
			}

			rctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			errc := make(chan error, 1)
			go func() {
				errc <- srv.Run(newContext(rctx))
			}()

			seen := make(map[string]int)
			for i := 0; i < nboards*nscen; i++ {
				var frame tdaq.Frame
				err := srv.Reports(ctx, &frame)
				if err != nil {
					t.Fatalf("could not read report: %+v", err)
				}
				sum, err := DecodeSummary(bytes.NewReader(frame.Body))
				if err != nil {
					t.Fatalf("could not decode report: %+v", err)
				}
				if got, want := sum.Kind, tc.fix; got != want {
					t.Fatalf("invalid fixture: got=%q, want=%q", got, want)
				}
				if got, want := sum.Status != harness.StatusPass, tc.fail; got != want {
					t.Fatalf("invalid status: %v", sum)
				}
				seen[sum.Board]++
			}

			cancel()
			select {
			case err := <-errc:
				if err != nil {
					t.Fatalf("could not run: %+v", err)
				}
			case <-time.After(10 * time.Second):
				t.Fatalf("run did not stop")
			}

			if got, want := len(seen), nboards; got != want {
				t.Fatalf("invalid number of boards: got=%d, want=%d (%v)", got, want, seen)
			}

			st := srv.Stats()
			if st.Scenarios < nboards*nscen {
				t.Fatalf("invalid number of scenarios: %+v", st)
			}
			if got, want := rec.len(), st.Scenarios; got != want {
				t.Fatalf("invalid number of recorded reports: got=%d, want=%d", got, want)
			}
			if got, want := alr.len(), st.Failures; got != want {
				t.Fatalf("invalid number of alerts: got=%d, want=%d", got, want)
			}
			if got, want := st.Failures > 0, tc.fail; got != want {
				t.Fatalf("invalid number of failures: %+v", st)
			}

			for _, step := range []struct {
				name string
				f    func(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error
			}{
				{"/stop", srv.OnStop},
				{"/reset", srv.OnReset},
				{"/quit", srv.OnQuit},
			} {
				err := step.f(ctx, &resp, tdaq.Frame{})
				if err != nil {
					t.Fatalf("could not run %s: %+v", step.name, err)
				}
			}
			if got, want := srv.Stats(), (Stats{}); got != want {
				t.Fatalf("stats not reset: got=%+v", got)
			}
			if got, want := mgr.Available(), nboards; got != want {
				t.Fatalf("boards not released: got=%d, want=%d", got, want)
			}
			if err := mgr.Close(); err != nil {
				t.Fatalf("could not close manager: %+v", err)
			}
		})
	}
}

func TestServerStartWithoutBoards(t *testing.T) {
	var (
		srv  = New("fxsrv", newManager(t, board.Echo, 20, 1))
		ctx  = newContext(context.Background())
		resp tdaq.Frame
	)
	if err := srv.OnStart(ctx, &resp, tdaq.Frame{}); err == nil {
		t.Fatalf("expected an error")
	}
}

func TestReportsCancelled(t *testing.T) {
	srv := New("fxsrv", newManager(t, board.Echo, 20, 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	frame := tdaq.Frame{Body: []byte("stale")}
	err := srv.Reports(newContext(ctx), &frame)
	if err != nil {
		t.Fatalf("could not read reports: %+v", err)
	}
	if frame.Body != nil {
		t.Fatalf("expected an empty frame")
	}
}
