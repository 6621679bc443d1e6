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

// Command mstpsim simulates MS/TP master nodes sharing an in-memory line and
// prints how the token ring forms and recovers.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	mstp "github.com/ZaparooProject/go-mstp"
)

// parseStations parses a comma separated address list such as "1,2,5".
func parseStations(s string) ([]mstp.Address, error) {
	var out []mstp.Address
	seen := make(map[mstp.Address]bool)
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := strconv.ParseUint(field, 10, 8)
		if err != nil || v > uint64(mstp.MaxMasterAddress) {
			return nil, fmt.Errorf("%w: %q is not a master address", mstp.ErrInvalidAddress, field)
		}
		a := mstp.Address(v)
		if seen[a] {
			return nil, fmt.Errorf("%w: station %d listed twice", mstp.ErrInvalidAddress, a)
		}
		seen[a] = true
		out = append(out, a)
	}
	return out, nil
}

// parseLeave parses "addr@ms" pairs such as "2@3000,5@8000".
func parseLeave(s string) (map[mstp.Address]int, error) {
	out := make(map[mstp.Address]int)
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		addr, at, ok := strings.Cut(field, "@")
		if !ok {
			return nil, fmt.Errorf("leave %q: want addr@ms", field)
		}
		a, err := strconv.ParseUint(addr, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("leave %q: %w", field, err)
		}
		d, err := time.ParseDuration(at)
		if err != nil {
			ms, msErr := strconv.Atoi(at)
			if msErr != nil {
				return nil, fmt.Errorf("leave %q: %w", field, err)
			}
			d = time.Duration(ms) * time.Millisecond
		}
		if d <= 0 {
			return nil, fmt.Errorf("leave %q: time must be positive", field)
		}
		out[mstp.Address(a)] = int(d / time.Millisecond)
	}
	return out, nil
}

type options struct {
	sim      simConfig
	duration time.Duration
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("mstpsim", flag.ContinueOnError)
	fs.SetOutput(stderr)

	stations := fs.String("stations", "1,2,3", "Comma separated master addresses")
	maxMaster := fs.Uint("max-master", 7, "Highest master address polled")
	duration := fs.Duration("duration", 10*time.Second, "Simulated time")
	noise := fs.Float64("noise", 0, "Per-octet probability of each line fault (drop, error, corruption)")
	seed := fs.Uint64("seed", 1, "Noise seed")
	leave := fs.String("leave", "", "Stations that leave the line, as addr@time (e.g. 2@3s)")
	verbose := fs.Bool("v", false, "Print every token pass and poll")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	addrs, err := parseStations(*stations)
	if err != nil {
		return nil, err
	}
	leaves, err := parseLeave(*leave)
	if err != nil {
		return nil, err
	}
	if *maxMaster > uint(mstp.MaxMasterAddress) {
		return nil, fmt.Errorf("%w: max-master %d", mstp.ErrInvalidAddress, *maxMaster)
	}
	if *noise < 0 || *noise >= 1 {
		return nil, fmt.Errorf("noise %v: want a probability below 1", *noise)
	}
	if *duration < time.Millisecond {
		return nil, errors.New("duration must be at least 1ms")
	}
	return &options{
		sim: simConfig{
			stations:  addrs,
			leave:     leaves,
			maxMaster: mstp.Address(*maxMaster),
			noise:     *noise,
			seed:      *seed,
			verbose:   *verbose,
		},
		duration: *duration,
	}, nil
}

func run(opts *options, out io.Writer) error {
	sim, err := newSimulator(opts.sim, out)
	if err != nil {
		return err
	}
	sim.run(int(opts.duration / time.Millisecond))
	sim.summary()
	return nil
}

func main() {
	opts, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts, os.Stdout); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
