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

package mstp

import (
	"fmt"
	"slices"
	"time"
)

// Supported line speeds
var BaudRates = []int{9600, 19200, 38400, 57600, 76800, 115200}

// Bit-time parameters. They are converted to durations at the configured baud
// rate by BitTimes.
const (
	FrameAbortBits = 60
	FrameGapBits   = 20
	PostdriveBits  = 15
	RoffBits       = 30
	TurnaroundBits = 40
)

// Config contains the per-node datalink parameters.
//
// The T* durations are compared against millisecond timers; anything below
// one millisecond is rounded up.
type Config struct {
	// Station is this node's address (0-254).
	Station Address
	// MaxMaster is the highest address that can be a master (<= 127).
	MaxMaster Address
	// BaudRate is the line speed; it derives the bit-time parameters.
	BaudRate int

	// MaxInfoFrames is the number of frames sent per token hold.
	MaxInfoFrames int
	// Npoll is the number of tokens received or used between maintenance polls.
	Npoll int
	// RetryToken is the number of token pass retries.
	RetryToken int
	// MinOctets is the activity count that declares the line active.
	MinOctets int

	// FrameAbort is the inter-octet silence that aborts a frame in progress.
	FrameAbort time.Duration
	// FrameGap is the largest idle time allowed between transmitted octets.
	FrameGap time.Duration
	// NoToken is the silence that declares the token lost.
	NoToken time.Duration
	// Postdrive is how long the driver may stay enabled after the last octet.
	Postdrive time.Duration
	// ReplyDelay is the window in which a requested reply must be sent.
	ReplyDelay time.Duration
	// ReplyTimeout is how long to wait for a reply after a request.
	ReplyTimeout time.Duration
	// Roff is the repeater turnoff delay.
	Roff time.Duration
	// Slot is the width of one token generation slot.
	Slot time.Duration
	// Turnaround is the silence required before enabling the driver.
	Turnaround time.Duration
	// UsageDelay is the longest wait before using a received token.
	UsageDelay time.Duration
	// UsageTimeout is how long to wait for a node to use the token or
	// answer a poll.
	UsageTimeout time.Duration

	// InputBufferSize is the largest payload kept by the receiver. Longer
	// frames are still checked and reported as truncated.
	InputBufferSize int
	// OutboxSize bounds the queue of upper-layer frames.
	OutboxSize int
	// AcceptProprietary delivers proprietary frames to the handler instead
	// of discarding them as unknown.
	AcceptProprietary bool
	// Promiscuous reports frames addressed to other stations. The node
	// still ignores them.
	Promiscuous bool
}

// DefaultConfig returns the standard parameter set at 9600 baud for station 0.
func DefaultConfig() *Config {
	cfg := &Config{
		MaxMaster:       MaxMasterAddress,
		MaxInfoFrames:   1,
		Npoll:           50,
		RetryToken:      1,
		MinOctets:       4,
		NoToken:         500 * time.Millisecond,
		ReplyDelay:      225 * time.Millisecond,
		ReplyTimeout:    255 * time.Millisecond,
		Slot:            10 * time.Millisecond,
		UsageDelay:      15 * time.Millisecond,
		UsageTimeout:    20 * time.Millisecond,
		InputBufferSize: MaxDataLength,
		OutboxSize:      16,
	}
	cfg.SetBaudRate(9600)
	return cfg
}

// BitTimes returns the duration of n bit times at baud.
func BitTimes(n, baud int) time.Duration {
	if baud <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(baud)
}

// SetBaudRate sets the line speed and recomputes every bit-time parameter.
// Frame abort and turnaround get one extra millisecond so they round up.
func (c *Config) SetBaudRate(baud int) {
	c.BaudRate = baud
	c.FrameAbort = time.Millisecond + BitTimes(FrameAbortBits, baud).Truncate(time.Millisecond)
	c.Turnaround = time.Millisecond + BitTimes(TurnaroundBits, baud).Truncate(time.Millisecond)
	c.FrameGap = BitTimes(FrameGapBits, baud)
	c.Postdrive = BitTimes(PostdriveBits, baud)
	c.Roff = BitTimes(RoffBits, baud)
}

// Clone returns a copy of c.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}

// Validate reports the first parameter that cannot be used.
func (c *Config) Validate() error {
	if c.Station == BroadcastAddress {
		return &ConfigError{Field: "Station", Value: c.Station, Reason: "broadcast address"}
	}
	if c.MaxMaster > MaxMasterAddress {
		return &ConfigError{Field: "MaxMaster", Value: c.MaxMaster, Reason: "must be <= 127"}
	}
	if c.Station > c.MaxMaster {
		return &ConfigError{
			Field:  "Station",
			Value:  c.Station,
			Reason: fmt.Sprintf("a master address must be <= MaxMaster (%d)", c.MaxMaster),
		}
	}
	if !slices.Contains(BaudRates, c.BaudRate) {
		return &ConfigError{Field: "BaudRate", Value: c.BaudRate, Reason: "unsupported line speed"}
	}

	counts := []struct {
		name  string
		value int
		min   int
	}{
		{"MaxInfoFrames", c.MaxInfoFrames, 1},
		{"Npoll", c.Npoll, 1},
		{"RetryToken", c.RetryToken, 0},
		{"MinOctets", c.MinOctets, 0},
		{"OutboxSize", c.OutboxSize, 1},
		{"InputBufferSize", c.InputBufferSize, 0},
	}
	for _, n := range counts {
		if n.value < n.min {
			return &ConfigError{Field: n.name, Value: n.value, Reason: fmt.Sprintf("must be >= %d", n.min)}
		}
	}
	if c.InputBufferSize > MaxDataLength {
		return &ConfigError{Field: "InputBufferSize", Value: c.InputBufferSize, Reason: "must be <= 501"}
	}

	timers := []struct {
		name  string
		value time.Duration
	}{
		{"FrameAbort", c.FrameAbort},
		{"NoToken", c.NoToken},
		{"ReplyDelay", c.ReplyDelay},
		{"ReplyTimeout", c.ReplyTimeout},
		{"Slot", c.Slot},
		{"UsageTimeout", c.UsageTimeout},
	}
	for _, d := range timers {
		if d.value <= 0 {
			return &ConfigError{Field: d.name, Value: d.value, Reason: "must be positive"}
		}
		if millis(d.value) == maxTimer {
			return &ConfigError{Field: d.name, Value: d.value, Reason: "exceeds the timer range"}
		}
	}
	if int(millis(c.NoToken))+int(millis(c.Slot))*int(c.MaxMaster+1) >= int(maxTimer) {
		return &ConfigError{Field: "Slot", Value: c.Slot, Reason: "token generation slot exceeds the timer range"}
	}
	return nil
}

// millis converts d to whole milliseconds, rounding up and saturating at the
// timer range.
func millis(d time.Duration) uint16 {
	if d <= 0 {
		return 0
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms >= maxTimer {
		return maxTimer
	}
	return uint16(ms)
}

// thresholds holds the millisecond forms of the timing parameters.
type thresholds struct {
	frameAbort   uint16
	noToken      uint16
	replyDelay   uint16
	replyTimeout uint16
	slot         uint16
	usageTimeout uint16
}

func (c *Config) thresholds() thresholds {
	return thresholds{
		frameAbort:   millis(c.FrameAbort),
		noToken:      millis(c.NoToken),
		replyDelay:   millis(c.ReplyDelay),
		replyTimeout: millis(c.ReplyTimeout),
		slot:         millis(c.Slot),
		usageTimeout: millis(c.UsageTimeout),
	}
}
