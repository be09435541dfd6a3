// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command fixture-srv starts a TDAQ server running conformance scenarios
// on the FPGA boards attached to the host.
//
// The server is configured through the usual TDAQ flags. The fixture
// parameters are read from the uartfix configuration file, pointed at by
// the UARTFIX_CONFIG environment variable (default:
// $HOME/.uartfix/config.toml), and can be changed with /config commands.
package main // import "github.com/go-lpc/uartfix/cmd/fixture-srv"

import (
	"context"
	"log"
	"os"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/rs/zerolog"

	"github.com/go-lpc/uartfix/board"
	"github.com/go-lpc/uartfix/fpga"
	"github.com/go-lpc/uartfix/fxsrv"
	"github.com/go-lpc/uartfix/internal/alert"
	"github.com/go-lpc/uartfix/internal/config"
	"github.com/go-lpc/uartfix/resultdb"
)

func main() {
	cmd := flags.New()

	log.SetPrefix("fixture-srv: ")
	log.SetFlags(0)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("could not load configuration: %+v", err)
	}
	msg := cfg.Logger(os.Stderr)

	mgr, err := newManager(cfg, msg)
	if err != nil {
		log.Fatalf("could not create board manager: %+v", err)
	}
	defer mgr.Close()

	opts := []fxsrv.Option{
		fxsrv.WithLogger(msg),
		fxsrv.WithAlerter(alert.FromEnv(msg)),
		fxsrv.WithConfig(fxsrv.Config{
			Fixture:     board.Echo,
			ClkPerBit:   cfg.ClkPerBit,
			InputLength: cfg.InputLength,
			ClockHz:     cfg.ClockHz,
			Scenarios:   cfg.EchoScenarios,
			EchoBytes:   cfg.EchoBytes,
			Seed:        cfg.Seed,
		}),
	}
	if cfg.DSN != "" {
		db, err := resultdb.Open(cfg.DSN)
		if err != nil {
			log.Fatalf("could not open results database: %+v", err)
		}
		defer db.Close()

		err = db.CreateTables(context.Background())
		if err != nil {
			log.Fatalf("could not create results tables: %+v", err)
		}
		opts = append(opts, fxsrv.WithRecorder(db))
	}

	dev := fxsrv.New(cmd.Args[0], mgr, opts...)

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/reports", dev.Reports)

	srv.RunHandle(dev.Run)

	err = srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

func loadConfig() (config.Config, error) {
	cfg := config.Default()

	fname := os.Getenv("UARTFIX_CONFIG")
	if fname == "" {
		fname = config.DefaultPath()
	}
	if fname != "" && config.Exists(fname) {
		f, err := config.Load(fname)
		if err != nil {
			return cfg, err
		}
		err = config.Apply(&cfg, f, nil)
		if err != nil {
			return cfg, err
		}
	}

	return cfg, cfg.Validate()
}

func newManager(cfg config.Config, msg zerolog.Logger) (*fpga.Manager, error) {
	t, err := cfg.Timing()
	if err != nil {
		return nil, err
	}

	opts := []fpga.ManagerOption{
		fpga.WithMinBoards(cfg.MinBoards),
		fpga.WithMaxBoards(cfg.MaxBoards),
		fpga.WithSerials(cfg.Boards...),
		fpga.WithManagerLogger(msg),
		fpga.WithOpener(fpga.FTDIOpener(t, cfg.ClockHz)),
	}
	if cfg.Sim {
		n := cfg.MinBoards
		if cfg.MaxBoards > n {
			n = cfg.MaxBoards
		}
		opts = append(opts,
			fpga.WithLister(fpga.SimLister(n)),
			fpga.WithOpener(fpga.SimOpener(t, board.Echo, cfg.InputLength, cfg.ClockHz)),
		)
	}
	return fpga.NewManager(opts...)
}
