// go-mstp
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-mstp.
//
// go-mstp is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-mstp is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-mstp; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package main

import (
	"encoding/hex"
	"fmt"
	"io"

	mstp "github.com/ZaparooProject/go-mstp"
)

// sniffer receives every frame on the line without ever transmitting. It
// has the Step/Tick/Stats shape of a station so a polling.Driver can run it.
type sniffer struct {
	port   mstp.Port
	rx     *mstp.Receiver
	out    io.Writer
	stats  mstp.Stats
	timers mstp.Timers
	now    int64 // milliseconds since start
}

func newSniffer(cfg *mstp.Config, port mstp.Port, out io.Writer) *sniffer {
	cfg = cfg.Clone()
	cfg.Promiscuous = true
	return &sniffer{port: port, rx: mstp.NewReceiver(cfg), out: out}
}

func (s *sniffer) Step() bool {
	ev := s.port.PollEvent()
	res := s.rx.Step(ev, &s.timers)
	switch ev.Kind {
	case mstp.LineOctet:
		s.stats.Octets++
	case mstp.LineError:
		s.stats.LineErrors++
	case mstp.LineIdle:
	}
	switch res.Kind {
	case mstp.RxValid:
		s.stats.ValidFrames++
		s.print(res.Frame)
	case mstp.RxInvalid:
		s.stats.InvalidFrames++
		_, _ = fmt.Fprintf(s.out, "%8d  invalid frame: %v\n", s.now, res.Err)
	case mstp.RxPending:
	}
	return ev.Kind != mstp.LineIdle
}

func (s *sniffer) Tick() {
	s.timers.Tick()
	s.now++
}

func (s *sniffer) Stats() mstp.Stats {
	return s.stats
}

func (s *sniffer) print(f *mstp.Frame) {
	line := fmt.Sprintf("%8d  %3d -> %-3s %v", s.now, f.Source, dest(f.Destination), f.Type)
	switch {
	case f.Truncated:
		line += " (truncated)"
	case len(f.Data) > 0:
		line += fmt.Sprintf(" [%d] %s", len(f.Data), hex.EncodeToString(f.Data))
	}
	_, _ = fmt.Fprintln(s.out, line)
}

func dest(a mstp.Address) string {
	if a == mstp.BroadcastAddress {
		return "*"
	}
	return fmt.Sprint(int(a))
}
