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

package testing

import (
	"math/rand/v2"

	mstp "github.com/ZaparooProject/go-mstp"
	"github.com/ZaparooProject/go-mstp/internal/syncutil"
	"github.com/ZaparooProject/go-mstp/transport/loopback"
)

// NoiseConfig sets the per-octet probability of each fault on a NoisyLine.
// The rates are checked in order drop, error, corrupt and should add up to at
// most 1.
type NoiseConfig struct {
	Seed        uint64
	DropRate    float64
	ErrorRate   float64
	CorruptRate float64
}

// NoiseStats counts the faults a NoisyLine injected.
type NoiseStats struct {
	Octets    int
	Dropped   int
	Errors    int
	Corrupted int
}

// NoisyLine is a loopback filter that damages octets at random. With a fixed
// seed the damage is reproducible for a given traffic pattern.
type NoisyLine struct {
	rng    *rand.Rand
	config NoiseConfig
	stats  NoiseStats
	mu     syncutil.Mutex
	// quiet suspends faults while set.
	quiet bool
}

// NewNoisyLine returns a line with the given fault rates.
func NewNoisyLine(config NoiseConfig) *NoisyLine {
	return &NoisyLine{config: config, rng: newRand(config.Seed)}
}

// Filter is a loopback.Filter.
func (n *NoisyLine) Filter(_ *loopback.Endpoint, wire []byte) []mstp.LineEvent {
	n.mu.Lock()
	defer n.mu.Unlock()

	events := make([]mstp.LineEvent, 0, len(wire))
	for _, b := range wire {
		n.stats.Octets++
		if n.quiet {
			events = append(events, mstp.Octet(b))
			continue
		}
		r := n.rng.Float64()
		switch {
		case r < n.config.DropRate:
			n.stats.Dropped++
		case r < n.config.DropRate+n.config.ErrorRate:
			n.stats.Errors++
			events = append(events, mstp.ErrorEvent())
		case r < n.config.DropRate+n.config.ErrorRate+n.config.CorruptRate:
			n.stats.Corrupted++
			events = append(events, mstp.Octet(b^byte(1<<n.rng.IntN(8))))
		default:
			events = append(events, mstp.Octet(b))
		}
	}
	return events
}

// SetQuiet turns fault injection off (true) or back on.
func (n *NoisyLine) SetQuiet(quiet bool) {
	n.mu.Lock()
	n.quiet = quiet
	n.mu.Unlock()
}

// Stats returns the fault counters.
func (n *NoisyLine) Stats() NoiseStats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}
