// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fpga

import (
	"sort"

	"github.com/go-lpc/uartfix/channel"
	"github.com/ziutek/ftdi"
	"golang.org/x/xerrors"
)

// Info describes an FT2232H bridge attached to the host.
type Info struct {
	Manufacturer string
	Description  string
	Serial       string
}

var ftdiFindAll = ftdiFindAllImpl

func ftdiFindAllImpl(vid, pid uint16) ([]Info, error) {
	lst, err := ftdi.FindAll(int(vid), int(pid))
	if err != nil {
		return nil, err
	}
	devs := make([]Info, 0, len(lst))
	for _, dev := range lst {
		devs = append(devs, Info{
			Manufacturer: dev.Manufacturer,
			Description:  dev.Description,
			Serial:       dev.Serial,
		})
		dev.Close()
	}
	return devs, nil
}

// List returns all the FT2232H bridges attached to the host.
func List() ([]Info, error) {
	devs, err := ftdiFindAll(channel.VendorID, channel.ProductID)
	if err != nil {
		return nil, xerrors.Errorf("fpga: could not list FTDI devices: %w", err)
	}
	return devs, nil
}

// Suitable returns the sorted serial numbers of the attached boards that
// carry a valid serial number.
func Suitable() ([]string, error) {
	devs, err := List()
	if err != nil {
		return nil, err
	}
	var o []string
	for _, dev := range devs {
		if !Valid(dev.Serial) {
			continue
		}
		o = append(o, dev.Serial)
	}
	sort.Strings(o)
	return o, nil
}
