// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/go-lpc/uartfix/fpga"
)

func (a *app) newBoardsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "boards",
		Short: "List the FTDI bridges attached to the host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			devs, err := fpga.List()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintf(w, "SERIAL\tMANUFACTURER\tDESCRIPTION\tSUITABLE\n")
			for _, dev := range devs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\n",
					dev.Serial, dev.Manufacturer, dev.Description, fpga.Valid(dev.Serial),
				)
			}
			return w.Flush()
		},
	}
}

func (a *app) newSerialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serial",
		Short: "Create, check and decode board serial numbers",
	}

	var (
		seq   int
		count int
		brd   string
		group string
	)
	gen := &cobra.Command{
		Use:   "gen",
		Short: "Create serial numbers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(brd) != 1 || len(group) != 1 {
				return fmt.Errorf("type and group must be single characters (type=%q, group=%q)", brd, group)
			}
			sns, err := fpga.CreateRange(seq, count, brd[0], group[0])
			if err != nil {
				return err
			}
			for _, sn := range sns {
				fmt.Fprintln(cmd.OutOrStdout(), sn)
			}
			return nil
		},
	}
	gen.Flags().IntVar(&seq, "seq", 0, "first sequence number")
	gen.Flags().IntVar(&count, "count", 1, "number of serial numbers")
	gen.Flags().StringVar(&brd, "type", "8", "board type digit")
	gen.Flags().StringVar(&group, "group", "E", "group digit")

	check := &cobra.Command{
		Use:   "check SERIAL...",
		Short: "Check serial numbers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nbad := 0
			for _, sn := range args {
				err := fpga.Check(sn)
				if err != nil {
					nbad++
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", sn, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", sn)
			}
			if nbad > 0 {
				return fmt.Errorf("%d/%d invalid serial numbers", nbad, len(args))
			}
			return nil
		},
	}

	decode := &cobra.Command{
		Use:   "decode SERIAL",
		Short: "Decode a serial number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sn, err := fpga.Decode(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sn)
			return nil
		},
	}

	cmd.AddCommand(gen, check, decode)
	return cmd
}

func (a *app) newEEPROMCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eeprom",
		Short: "Inspect and modify FT2232H EEPROM images",
	}

	check := &cobra.Command{
		Use:   "check IMAGE",
		Short: "Check an EEPROM image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := readEEPROM(args[0])
			if err != nil {
				return err
			}
			err = img.Check()
			if err != nil {
				return err
			}
			sn, ok := img.Serial()
			if !ok {
				sn = "<none>"
			}
			o := cmd.OutOrStdout()
			fmt.Fprintf(o, "manufacturer: %s\n", img.Manufacturer())
			fmt.Fprintf(o, "product:      %s\n", img.Product())
			fmt.Fprintf(o, "serial:       %s\n", sn)
			fmt.Fprintf(o, "checksum:     0x%04x\n", img.Checksum())
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set-serial IMAGE SERIAL",
		Short: "Write a serial number into an EEPROM image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fname, sn := args[0], args[1]
			if err := fpga.Check(sn); err != nil {
				a.msg.Warn().Str("serial", sn).Err(err).Msg("writing a serial number not suitable for the fixtures")
			}
			img, err := readEEPROM(fname)
			if err != nil {
				return err
			}
			err = img.SetSerial(sn)
			if err != nil {
				return err
			}
			err = os.WriteFile(fname, img[:], 0644)
			if err != nil {
				return fmt.Errorf("could not write EEPROM image: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: serial=%s checksum=0x%04x\n", fname, sn, img.Checksum())
			return nil
		},
	}

	cmd.AddCommand(check, set)
	return cmd
}

func readEEPROM(fname string) (*fpga.EEPROM, error) {
	raw, err := os.ReadFile(fname)
	if err != nil {
		return nil, fmt.Errorf("could not read EEPROM image: %w", err)
	}
	if len(raw) != fpga.EEPROMSize {
		return nil, fmt.Errorf("invalid EEPROM image size %d (want=%d)", len(raw), fpga.EEPROMSize)
	}
	var img fpga.EEPROM
	copy(img[:], raw)
	return &img, nil
}
