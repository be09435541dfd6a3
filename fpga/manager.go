// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fpga

import (
	"io"
	"sort"
	"sync"

	"github.com/go-lpc/uartfix/channel"
	"github.com/go-lpc/uartfix/uart"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

var (
	ErrNoBoard     = xerrors.New("no board available")
	ErrNotManaged  = xerrors.New("board not managed")
	ErrBoardInUse  = xerrors.New("board in use")
	ErrNotAcquired = xerrors.New("board not acquired")
)

// Opener opens the UART link to the board with the given serial number.
type Opener func(serial string) (channel.Channel, error)

// FTDIOpener returns an Opener for the UART of the FT2232H bridges,
// running at the given bit timing and device clock frequency.
func FTDIOpener(t uart.Timing, hz float64) Opener {
	return func(serial string) (channel.Channel, error) {
		dev, err := channel.OpenFTDI(serial, t, hz)
		if err != nil {
			return nil, err
		}
		return dev, nil
	}
}

// Board is a board acquired from a Manager.
type Board struct {
	Serial  string
	Channel channel.Channel

	mgr *Manager
}

// Close closes the link to the board and gives it back to its manager.
func (b *Board) Close() error {
	var err error
	if c, ok := b.Channel.(io.Closer); ok {
		err = c.Close()
	}
	if rerr := b.mgr.Release(b); rerr != nil && err == nil {
		err = rerr
	}
	if err != nil {
		return xerrors.Errorf("fpga: could not close board %q: %w", b.Serial, err)
	}
	return nil
}

// Manager hands out exclusive access to a set of boards.
// Manager is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	avail  map[string]bool
	serial []string // managed boards, sorted
	open   Opener
	msg    zerolog.Logger
}

type mgrConfig struct {
	min     int
	max     int
	serials []string
	list    func() ([]string, error)
	open    Opener
	msg     zerolog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*mgrConfig)

// WithMinBoards sets the minimum number of managed boards. Default is 1.
func WithMinBoards(n int) ManagerOption {
	return func(cfg *mgrConfig) {
		cfg.min = n
	}
}

// WithMaxBoards sets the maximum number of managed boards.
// Zero, the default, manages every suitable board.
func WithMaxBoards(n int) ManagerOption {
	return func(cfg *mgrConfig) {
		cfg.max = n
	}
}

// WithSerials requests the boards with the given serial numbers.
// Additional boards are managed up to the maximum number of boards.
func WithSerials(sns ...string) ManagerOption {
	return func(cfg *mgrConfig) {
		cfg.serials = append(cfg.serials, sns...)
	}
}

// WithOpener sets how the link to an acquired board is opened.
func WithOpener(open Opener) ManagerOption {
	return func(cfg *mgrConfig) {
		cfg.open = open
	}
}

// WithLister sets how the serial numbers of the suitable boards are
// discovered. Default is Suitable.
func WithLister(list func() ([]string, error)) ManagerOption {
	return func(cfg *mgrConfig) {
		cfg.list = list
	}
}

// WithManagerLogger sets the logger of the manager.
func WithManagerLogger(msg zerolog.Logger) ManagerOption {
	return func(cfg *mgrConfig) {
		cfg.msg = msg
	}
}

// NewManager selects the boards to manage among the suitable boards
// attached to the host.
func NewManager(opts ...ManagerOption) (*Manager, error) {
	cfg := mgrConfig{
		min:  1,
		list: Suitable,
		msg:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.open == nil {
		t, err := uart.NewTiming(uart.DefaultClkPerBit)
		if err != nil {
			return nil, xerrors.Errorf("fpga: could not create default bit timing: %w", err)
		}
		cfg.open = FTDIOpener(t, uart.DefaultClockHz)
	}

	switch {
	case cfg.min < 1:
		return nil, xerrors.Errorf("fpga: minimum number of boards must be at least 1 (got=%d)", cfg.min)
	case cfg.max > 0 && cfg.min > cfg.max:
		return nil, xerrors.Errorf("fpga: minimum number of boards %d greater than maximum %d", cfg.min, cfg.max)
	case cfg.max > 0 && len(cfg.serials) > cfg.max:
		return nil, xerrors.Errorf("fpga: %d boards requested, but at most %d managed", len(cfg.serials), cfg.max)
	}

	want := make(map[string]bool, len(cfg.serials))
	for _, sn := range cfg.serials {
		if err := Check(sn); err != nil {
			return nil, xerrors.Errorf("fpga: invalid requested board: %w", err)
		}
		if want[sn] {
			return nil, xerrors.Errorf("fpga: board %q requested more than once", sn)
		}
		want[sn] = true
	}

	found, err := cfg.list()
	if err != nil {
		return nil, err
	}
	found = append([]string(nil), found...)
	sort.Strings(found)

	max := cfg.max
	if max == 0 {
		max = len(found)
	}
	extra := max - len(want)

	mgr := &Manager{
		avail: make(map[string]bool),
		open:  cfg.open,
		msg:   cfg.msg,
	}
	for _, sn := range found {
		switch {
		case !Valid(sn):
			continue
		case want[sn]:
			delete(want, sn)
		case extra > 0:
			extra--
		default:
			continue
		}
		mgr.avail[sn] = true
		mgr.serial = append(mgr.serial, sn)
	}

	if len(want) > 0 {
		missing := make([]string, 0, len(want))
		for sn := range want {
			missing = append(missing, sn)
		}
		sort.Strings(missing)
		return nil, xerrors.Errorf("fpga: could not find %d requested boards %q: %w", len(missing), missing, ErrNoBoard)
	}
	if n := len(mgr.avail); n < cfg.min {
		return nil, xerrors.Errorf("fpga: %d boards requested at least, only %d available: %w", cfg.min, n, ErrNoBoard)
	}

	return mgr, nil
}

// Len returns the number of managed boards.
func (mgr *Manager) Len() int {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	return len(mgr.avail)
}

// Serials returns the sorted serial numbers of the managed boards.
func (mgr *Manager) Serials() []string {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	return append([]string(nil), mgr.serial...)
}

// Available returns the number of boards not acquired.
func (mgr *Manager) Available() int {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	n := 0
	for _, ok := range mgr.avail {
		if ok {
			n++
		}
	}
	return n
}

// Acquire takes exclusive ownership of the board with the given serial
// number, or of the first free board that opens if serial is empty, and
// opens its link.
func (mgr *Manager) Acquire(serial string) (*Board, error) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if serial != "" {
		return mgr.acquire(serial)
	}

	err := ErrNoBoard
	for _, sn := range mgr.serial {
		if !mgr.avail[sn] {
			continue
		}
		var b *Board
		b, err = mgr.acquire(sn)
		if err == nil {
			return b, nil
		}
	}
	return nil, xerrors.Errorf("fpga: could not acquire board: %w", err)
}

func (mgr *Manager) acquire(serial string) (*Board, error) {
	ok, managed := mgr.avail[serial]
	switch {
	case !managed:
		return nil, xerrors.Errorf("fpga: could not acquire board %q: %w", serial, ErrNotManaged)
	case !ok:
		return nil, xerrors.Errorf("fpga: could not acquire board %q: %w", serial, ErrBoardInUse)
	}

	ch, err := mgr.open(serial)
	if err != nil {
		return nil, xerrors.Errorf("fpga: could not open board %q: %w", serial, err)
	}
	mgr.avail[serial] = false
	mgr.msg.Debug().Str("board", serial).Msg("acquire")

	return &Board{Serial: serial, Channel: ch, mgr: mgr}, nil
}

// Release gives the board back to the manager.
// The link to the board is left untouched: use Board.Close to also close it.
func (mgr *Manager) Release(b *Board) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	ok, managed := mgr.avail[b.Serial]
	switch {
	case !managed:
		return xerrors.Errorf("fpga: could not release board %q: %w", b.Serial, ErrNotManaged)
	case ok:
		return xerrors.Errorf("fpga: could not release board %q: %w", b.Serial, ErrNotAcquired)
	}
	mgr.avail[b.Serial] = true
	mgr.msg.Debug().Str("board", b.Serial).Msg("release")
	return nil
}

// Close stops managing the boards. Boards still acquired are reported.
func (mgr *Manager) Close() error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	var busy []string
	for _, sn := range mgr.serial {
		if !mgr.avail[sn] {
			mgr.msg.Warn().Str("board", sn).Msg("board not released")
			busy = append(busy, sn)
		}
	}
	mgr.avail = make(map[string]bool)
	mgr.serial = nil

	if len(busy) > 0 {
		return xerrors.Errorf("fpga: %d boards not released: %q", len(busy), busy)
	}
	return nil
}
