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

package main

import (
	"fmt"
	"io"
	"slices"
	"strings"

	mstp "github.com/ZaparooProject/go-mstp"
	virt "github.com/ZaparooProject/go-mstp/internal/testing"
	"github.com/ZaparooProject/go-mstp/transport/loopback"
)

// stepsPerMs is how many octets each node takes off the line per simulated
// millisecond, roughly 38400 baud.
const stepsPerMs = 4

type node struct {
	station *mstp.Station
	last    mstp.Stats
	leaveAt int // millisecond the node stops running; 0 never
	gone    bool
}

// simulator runs master nodes on a loopback bus with a virtual clock.
type simulator struct {
	bus   *loopback.Bus
	noise *virt.NoisyLine
	out   io.Writer
	nodes []*node
	ring  []mstp.Address // token holders since the lowest running node last had it
	// lastRing is the last rotation printed; only changes are printed.
	lastRing string
	now      int
	rounds   int
	// verbose prints every token pass.
	verbose bool
}

type simConfig struct {
	stations  []mstp.Address
	leave     map[mstp.Address]int
	maxMaster mstp.Address
	noise     float64
	seed      uint64
	verbose   bool
}

func newSimulator(cfg simConfig, out io.Writer) (*simulator, error) {
	if len(cfg.stations) == 0 {
		return nil, fmt.Errorf("%w: no stations", mstp.ErrInvalidConfig)
	}
	s := &simulator{bus: loopback.NewBus(), out: out, verbose: cfg.verbose}
	if cfg.noise > 0 {
		s.noise = virt.NewNoisyLine(virt.NoiseConfig{
			Seed:        cfg.seed,
			DropRate:    cfg.noise,
			ErrorRate:   cfg.noise,
			CorruptRate: cfg.noise,
		})
		s.bus.SetFilter(s.noise.Filter)
	}
	s.bus.OnFrame(s.onFrame)

	stations := slices.Clone(cfg.stations)
	slices.Sort(stations)
	for _, a := range stations {
		c := mstp.DefaultConfig()
		c.SetBaudRate(38400)
		c.Station = a
		c.MaxMaster = cfg.maxMaster
		st, err := mstp.NewStation(c, s.bus.Endpoint(fmt.Sprintf("node%d", a)))
		if err != nil {
			return nil, fmt.Errorf("station %d: %w", a, err)
		}
		s.nodes = append(s.nodes, &node{station: st, leaveAt: cfg.leave[a]})
	}
	return s, nil
}

func (s *simulator) onFrame(_ *loopback.Endpoint, f *mstp.Frame) {
	switch f.Type {
	case mstp.FrameTypeToken:
	case mstp.FrameTypePollForMaster:
		if s.verbose {
			s.printf("%d polls %d", f.Source, f.Destination)
		}
		return
	default:
		return
	}
	if s.verbose {
		s.printf("token %d -> %d", f.Source, f.Destination)
	}
	s.ring = append(s.ring, f.Source)
	if lowest, ok := s.lowest(); ok && f.Destination == lowest {
		s.rounds++
		if ring := formatRing(s.ring) + fmt.Sprintf(" -> %d", lowest); ring != s.lastRing {
			s.printf("rotation %d: %s", s.rounds, ring)
			s.lastRing = ring
		}
		s.ring = s.ring[:0]
	}
}

// lowest returns the lowest address still running.
func (s *simulator) lowest() (mstp.Address, bool) {
	for _, n := range s.nodes {
		if !n.gone {
			return n.station.Address(), true
		}
	}
	return 0, false
}

func formatRing(ring []mstp.Address) string {
	parts := make([]string, len(ring))
	for i, a := range ring {
		parts[i] = fmt.Sprint(int(a))
	}
	return strings.Join(parts, " -> ")
}

func (s *simulator) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s.out, "%7dms  %s\n", s.now, fmt.Sprintf(format, args...))
}

// tick advances the clock one millisecond.
func (s *simulator) tick() {
	s.now++
	for _, n := range s.nodes {
		if n.gone {
			continue
		}
		if n.leaveAt > 0 && s.now >= n.leaveAt {
			n.gone = true
			_ = n.station.Close()
			s.printf("station %d leaves", n.station.Address())
			continue
		}
		n.station.Tick()
	}
	for range stepsPerMs {
		for _, n := range s.nodes {
			if !n.gone {
				n.station.Step()
			}
		}
	}
	s.report()
}

// report prints the node events counted since the last tick.
func (s *simulator) report() {
	for _, n := range s.nodes {
		if n.gone {
			continue
		}
		st := n.station.Stats()
		a := n.station.Address()
		if st.TokenRegenerations > n.last.TokenRegenerations {
			s.printf("station %d regenerates the token", a)
		}
		if st.LostTokens > n.last.LostTokens {
			s.printf("station %d lost the token", a)
		}
		if st.SoleMasterDeclared > n.last.SoleMasterDeclared {
			s.printf("station %d is the sole master", a)
		}
		if st.InvalidFrames > n.last.InvalidFrames && s.verbose {
			s.printf("station %d dropped %d damaged frames", a, st.InvalidFrames-n.last.InvalidFrames)
		}
		n.last = st
	}
}

// run simulates ms milliseconds.
func (s *simulator) run(ms int) {
	for range ms {
		s.tick()
	}
}

// summary prints per-station counters.
func (s *simulator) summary() {
	_, _ = fmt.Fprintf(s.out, "\nafter %dms, %d full rotations\n", s.now, s.rounds)
	_, _ = fmt.Fprintln(s.out, "station  next  tokens  passed  polls  regen  invalid")
	for _, n := range s.nodes {
		st := n.station.Stats()
		next := fmt.Sprint(int(n.station.NextStation()))
		if n.gone {
			next = "-"
		}
		_, _ = fmt.Fprintf(s.out, "%7d  %4s  %6d  %6d  %5d  %5d  %7d\n",
			n.station.Address(), next, st.TokensReceived, st.TokensPassed, st.PollsSent,
			st.TokenRegenerations, st.InvalidFrames)
	}
	if s.noise != nil {
		ns := s.noise.Stats()
		_, _ = fmt.Fprintf(s.out, "line noise: %+v\n", ns)
	}
}
