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

package polling

import (
	"time"
)

// StallConfig configures detection of host stalls (sleep/wake, a descheduled
// process) between driver ticks.
type StallConfig struct {
	// Enabled enables stall detection
	Enabled bool

	// Threshold is the lateness beyond the tick interval that counts as a
	// stall. Default: 100 milliseconds
	Threshold time.Duration

	// MaxCatchUpTicks bounds how many missed milliseconds are replayed into
	// the station timers after a late tick. The MS/TP timers saturate at
	// 65535 ms, so larger values change nothing. Default: 65535
	MaxCatchUpTicks int
}

// DefaultStallConfig returns sensible defaults for stall detection
func DefaultStallConfig() StallConfig {
	return StallConfig{
		Enabled:         true,
		Threshold:       100 * time.Millisecond,
		MaxCatchUpTicks: 65535,
	}
}

// DetectStall checks if the elapsed time since the last tick indicates a stall.
// Returns true if elapsed time exceeds (tickInterval + Threshold).
func (cfg StallConfig) DetectStall(elapsed, tickInterval time.Duration) bool {
	if !cfg.Enabled {
		return false
	}
	return elapsed > tickInterval+cfg.Threshold
}

// Config holds driver configuration options
type Config struct {
	// TickInterval is the timer resolution. The MS/TP timers count
	// milliseconds, so anything other than 1ms is only useful in tests.
	TickInterval time.Duration
	// MaxStepsPerTick bounds the steps spent draining received octets
	// each tick.
	MaxStepsPerTick int
	// IdleSteps is the number of extra steps each tick once input is
	// drained, letting the node make several transitions per millisecond.
	IdleSteps int
	// Stall configures late-tick detection
	Stall StallConfig
}

// DefaultConfig returns the default driver configuration
func DefaultConfig() *Config {
	return &Config{
		TickInterval:    time.Millisecond,
		MaxStepsPerTick: 64,
		IdleSteps:       4,
		Stall:           DefaultStallConfig(),
	}
}
