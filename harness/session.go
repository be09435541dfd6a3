// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package harness

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/go-lpc/uartfix/fixture"
)

// Session holds the drivers of one board.
// A nil driver skips the scenarios of that fixture.
type Session struct {
	Board string
	Echo  *fixture.Echo
	Sum   *fixture.Sum
}

// Plan lists the scenarios to run on every board.
type Plan struct {
	Echo [][]byte // bytes of each echo scenario
	Sum  [][]byte // bits of each sum scenario
}

// Len returns the number of scenarios in the plan.
func (p Plan) Len() int { return len(p.Echo) + len(p.Sum) }

// RunSessions runs the plan on every board, boards in parallel and
// scenarios of a board one after the other.
// Reports are returned grouped by session, in plan order.
func (h *Harness) RunSessions(ctx context.Context, sessions []Session, plan Plan) ([][]Report, error) {
	var (
		reps     = make([][]Report, len(sessions))
		grp, gtx = errgroup.WithContext(ctx)
	)

	seen := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		if seen[s.Board] {
			return nil, xerrors.Errorf("harness: board %q used by more than one session", s.Board)
		}
		seen[s.Board] = true
	}

	for i := range sessions {
		i := i
		sess := sessions[i]
		hs := New(WithBoard(sess.Board), WithLogger(h.root))
		hs.now = h.now
		grp.Go(func() error {
			o, err := hs.run(gtx, sess, plan)
			reps[i] = o
			return err
		})
	}

	err := grp.Wait()
	if err != nil {
		return reps, xerrors.Errorf("harness: could not run sessions: %w", err)
	}
	return reps, nil
}

func (h *Harness) run(ctx context.Context, sess Session, plan Plan) ([]Report, error) {
	reps := make([]Report, 0, plan.Len())
	if sess.Echo != nil {
		for _, data := range plan.Echo {
			if err := ctx.Err(); err != nil {
				return reps, err
			}
			reps = append(reps, h.RunEcho(sess.Echo, data))
		}
	}
	if sess.Sum != nil {
		for _, stim := range plan.Sum {
			if err := ctx.Err(); err != nil {
				return reps, err
			}
			reps = append(reps, h.RunSum(sess.Sum, stim))
		}
	}
	return reps, nil
}
