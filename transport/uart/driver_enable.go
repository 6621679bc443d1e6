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

	"go.bug.st/serial"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// DriverEnable switches an EIA-485 transceiver between transmit and receive.
type DriverEnable interface {
	// Enable drives the line when on is true and listens otherwise.
	Enable(on bool) error
	Close() error
}

// GPIODriverEnable drives the DE/RE pin of the transceiver from a GPIO line.
type GPIODriverEnable struct {
	pin gpio.PinOut
	// activeLow inverts the pin for transceivers keyed by a low level.
	activeLow bool
}

// OpenGPIO initializes the host drivers and returns a driver-enable on the
// named pin ("GPIO17", "P1_11" and so on), released to receive.
func OpenGPIO(name string, activeLow bool) (*GPIODriverEnable, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("GPIO pin %q not found", name)
	}
	de := NewGPIODriverEnable(pin, activeLow)
	if err := de.Enable(false); err != nil {
		return nil, err
	}
	return de, nil
}

// NewGPIODriverEnable wraps an already resolved pin.
func NewGPIODriverEnable(pin gpio.PinOut, activeLow bool) *GPIODriverEnable {
	return &GPIODriverEnable{pin: pin, activeLow: activeLow}
}

// Enable sets the pin level.
func (d *GPIODriverEnable) Enable(on bool) error {
	level := gpio.Level(on != d.activeLow)
	if err := d.pin.Out(level); err != nil {
		return fmt.Errorf("GPIO %s out %s: %w", d.pin, level, err)
	}
	return nil
}

// Close leaves the transceiver listening.
func (d *GPIODriverEnable) Close() error {
	return d.Enable(false)
}

// RTSDriverEnable keys the transceiver from the serial port's RTS line, as
// on most USB-485 adapters without automatic direction control.
type RTSDriverEnable struct {
	port      serial.Port
	activeLow bool
}

// NewRTSDriverEnable uses port's RTS line.
func NewRTSDriverEnable(port serial.Port, activeLow bool) *RTSDriverEnable {
	return &RTSDriverEnable{port: port, activeLow: activeLow}
}

// Enable sets RTS.
func (d *RTSDriverEnable) Enable(on bool) error {
	if err := d.port.SetRTS(on != d.activeLow); err != nil {
		return fmt.Errorf("set RTS: %w", err)
	}
	return nil
}

// Close is a no-op; the port owns the line.
func (*RTSDriverEnable) Close() error {
	return nil
}
