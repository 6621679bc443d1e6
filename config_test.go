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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	tests := []struct {
		got      any
		expected any
		name     string
	}{
		{cfg.Station, Address(0), "Station"},
		{cfg.MaxMaster, Address(127), "MaxMaster"},
		{cfg.BaudRate, 9600, "BaudRate"},
		{cfg.MaxInfoFrames, 1, "MaxInfoFrames"},
		{cfg.Npoll, 50, "Npoll"},
		{cfg.RetryToken, 1, "RetryToken"},
		{cfg.MinOctets, 4, "MinOctets"},
		{cfg.FrameAbort, 7 * time.Millisecond, "FrameAbort"},
		{cfg.Turnaround, 5 * time.Millisecond, "Turnaround"},
		{cfg.NoToken, 500 * time.Millisecond, "NoToken"},
		{cfg.ReplyDelay, 225 * time.Millisecond, "ReplyDelay"},
		{cfg.ReplyTimeout, 255 * time.Millisecond, "ReplyTimeout"},
		{cfg.Slot, 10 * time.Millisecond, "Slot"},
		{cfg.UsageDelay, 15 * time.Millisecond, "UsageDelay"},
		{cfg.UsageTimeout, 20 * time.Millisecond, "UsageTimeout"},
		{cfg.InputBufferSize, 501, "InputBufferSize"},
		{cfg.OutboxSize, 16, "OutboxSize"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.got, tt.name)
	}
	assert.NoError(t, cfg.Validate())
}

func TestConfig_SetBaudRate(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	// 20 bit times at 9600 baud
	assert.Equal(t, 2083333*time.Nanosecond, cfg.FrameGap)
	assert.Equal(t, BitTimes(15, 9600), cfg.Postdrive)
	assert.Equal(t, BitTimes(30, 9600), cfg.Roff)

	cfg.SetBaudRate(115200)
	assert.Equal(t, 115200, cfg.BaudRate)
	assert.Equal(t, time.Millisecond, cfg.FrameAbort)
	assert.Equal(t, time.Millisecond, cfg.Turnaround)

	cfg.SetBaudRate(38400)
	assert.Equal(t, 2*time.Millisecond, cfg.FrameAbort)
	assert.Equal(t, 2*time.Millisecond, cfg.Turnaround)
}

func TestBitTimes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Millisecond, BitTimes(96, 96000))
	assert.Equal(t, time.Duration(0), BitTimes(10, 0))
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mutate func(*Config)
		name   string
		field  string
	}{
		{name: "broadcast station", field: "Station", mutate: func(c *Config) { c.Station = 255 }},
		{name: "station above max master", field: "Station", mutate: func(c *Config) {
			c.MaxMaster = 10
			c.Station = 11
		}},
		{name: "max master too high", field: "MaxMaster", mutate: func(c *Config) { c.MaxMaster = 128 }},
		{name: "baud", field: "BaudRate", mutate: func(c *Config) { c.BaudRate = 4800 }},
		{name: "info frames", field: "MaxInfoFrames", mutate: func(c *Config) { c.MaxInfoFrames = 0 }},
		{name: "npoll", field: "Npoll", mutate: func(c *Config) { c.Npoll = 0 }},
		{name: "retry", field: "RetryToken", mutate: func(c *Config) { c.RetryToken = -1 }},
		{name: "outbox", field: "OutboxSize", mutate: func(c *Config) { c.OutboxSize = 0 }},
		{name: "input buffer", field: "InputBufferSize", mutate: func(c *Config) { c.InputBufferSize = 502 }},
		{name: "no token", field: "NoToken", mutate: func(c *Config) { c.NoToken = 0 }},
		{name: "usage timeout", field: "UsageTimeout", mutate: func(c *Config) { c.UsageTimeout = -time.Second }},
		{name: "timer range", field: "ReplyTimeout", mutate: func(c *Config) { c.ReplyTimeout = 2 * time.Minute }},
		{name: "slot range", field: "Slot", mutate: func(c *Config) { c.Slot = 600 * time.Millisecond }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			require.ErrorIs(t, err, ErrInvalidConfig)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestConfig_Clone(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	c := cfg.Clone()
	c.Station = 9
	assert.Equal(t, Address(0), cfg.Station)
}

func TestMillis(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint16(0), millis(0))
	assert.Equal(t, uint16(1), millis(time.Microsecond))
	assert.Equal(t, uint16(7), millis(7*time.Millisecond))
	assert.Equal(t, uint16(8), millis(7*time.Millisecond+time.Nanosecond))
	assert.Equal(t, uint16(maxTimer), millis(time.Hour))
}
