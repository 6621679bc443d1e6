// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package uart

import (
	"fmt"
	"slices"
	"strings"

	"go.bug.st/serial/enumerator"
)

// PortInfo describes a serial port found on the host.
type PortInfo struct {
	Name         string
	VID          string
	PID          string
	SerialNumber string
	Product      string
	IsUSB        bool
}

// usbSerialChips are the USB UART bridges found on common USB-485 adapters.
var usbSerialChips = []string{
	"0403:6001", // FTDI FT232R
	"0403:6015", // FTDI FT230X
	"067B:2303", // Prolific PL2303
	"10C4:EA60", // Silicon Labs CP210x
	"1A86:7523", // QinHeng CH340
}

// LikelyAdapter reports whether p looks like a USB-485 adapter, by its
// bridge chip or its product string.
func (p PortInfo) LikelyAdapter() bool {
	if !p.IsUSB {
		return false
	}
	if slices.Contains(usbSerialChips, strings.ToUpper(p.VID+":"+p.PID)) {
		return true
	}
	product := strings.ToLower(p.Product)
	for _, keyword := range []string{"485", "rs485", "modbus"} {
		if strings.Contains(product, keyword) {
			return true
		}
	}
	return false
}

func (p PortInfo) String() string {
	if !p.IsUSB {
		return p.Name
	}
	desc := fmt.Sprintf("%s [%s:%s]", p.Name, strings.ToUpper(p.VID), strings.ToUpper(p.PID))
	if p.Product != "" {
		desc += " " + p.Product
	}
	if p.SerialNumber != "" {
		desc += " serial=" + p.SerialNumber
	}
	return desc
}

// ListPorts returns the serial ports on the host, USB adapters first.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	return toPortInfo(details), nil
}

func toPortInfo(details []*enumerator.PortDetails) []PortInfo {
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	slices.SortStableFunc(ports, func(a, b PortInfo) int {
		switch {
		case a.IsUSB == b.IsUSB:
			return strings.Compare(a.Name, b.Name)
		case a.IsUSB:
			return -1
		default:
			return 1
		}
	})
	return ports
}
