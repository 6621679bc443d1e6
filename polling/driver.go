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

// Package polling drives MS/TP stations in real time: a ticker feeds the
// station's millisecond timers and the driver steps the station between
// ticks until received input is drained.
package polling

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	mstp "github.com/ZaparooProject/go-mstp"
)

// Station is the part of *mstp.Station the driver uses.
type Station interface {
	Step() bool
	Tick()
	Stats() mstp.Stats
}

// Metrics is a snapshot of driver and station counters.
type Metrics struct {
	Steps              int64 // Total number of station steps
	Ticks              int64 // Milliseconds fed to the station timers
	MissedTicks        int64 // Ticks replayed after the ticker fell behind
	Stalls             int64 // Late ticks beyond the stall threshold
	FramesSent         int64
	ValidFrames        int64
	InvalidFrames      int64
	TokensReceived     int64
	TokenRegenerations int64
	LostTokens         int64
	RepliesPostponed   int64
	LastTickLatency    time.Duration // Time spent servicing the last tick
}

// Driver runs one station on a goroutine.
type Driver struct {
	station  Station
	config   *Config
	now      func() time.Time
	stopChan chan struct{}
	stats    atomic.Pointer[mstp.Stats]
	wg       sync.WaitGroup // Tracks driver goroutine lifecycle
	// Atomic counters for metrics
	steps           atomic.Int64
	ticks           atomic.Int64
	missedTicks     atomic.Int64
	stalls          atomic.Int64
	lastTickLatency atomic.Int64 // in nanoseconds
	// Running state to prevent multiple goroutines
	running atomic.Bool
}

// NewDriver creates a driver for station. A nil config uses DefaultConfig.
func NewDriver(station Station, config *Config) *Driver {
	if config == nil {
		config = DefaultConfig()
	}
	if config.TickInterval <= 0 {
		config.TickInterval = time.Millisecond
	}
	if config.MaxStepsPerTick <= 0 {
		config.MaxStepsPerTick = 1
	}
	return &Driver{
		station:  station,
		config:   config,
		now:      time.Now,
		stopChan: make(chan struct{}, 1), // Buffered to prevent deadlock in Stop()
	}
}

// Start begins driving the station until ctx is done or Stop is called.
// Calling Start on a running driver does nothing.
func (d *Driver) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Only start if not already running
	if d.running.CompareAndSwap(false, true) {
		d.wg.Add(1)
		go d.loop(ctx)
	}
	return nil
}

func (d *Driver) loop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.config.TickInterval)
	defer func() {
		ticker.Stop()
		// Mark as not running when goroutine exits
		d.running.Store(false)
	}()

	last := d.now()
	d.service()

	for {
		select {
		case <-ticker.C:
			last = d.tick(last)
		case <-d.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick feeds the whole intervals elapsed since last into the station timers
// and steps it. It returns the time accounted for, so the fraction of an
// interval left over carries into the next tick.
func (d *Driver) tick(last time.Time) time.Time {
	start := d.now()
	interval := d.config.TickInterval
	elapsed := start.Sub(last)

	n := int(elapsed / interval)
	if n < 1 {
		// the ticker fired early; count it as a full tick
		n = 1
		last = start.Add(-interval)
	}
	accounted := last.Add(time.Duration(n) * interval)
	if d.config.Stall.DetectStall(elapsed, interval) {
		d.stalls.Add(1)
		mstp.Debugf("driver stalled for %v, replaying %d ticks", elapsed, n)
		if limit := d.config.Stall.MaxCatchUpTicks; limit > 0 && n > limit {
			n = limit
			accounted = start
		}
	}
	for range n {
		d.station.Tick()
	}
	d.ticks.Add(int64(n))
	d.missedTicks.Add(int64(n - 1))

	d.service()
	d.lastTickLatency.Store(d.now().Sub(start).Nanoseconds())
	return accounted
}

// service steps the station until its input is drained, then gives the node
// a few more transitions.
func (d *Driver) service() {
	steps := int64(0)
	for range d.config.MaxStepsPerTick {
		steps++
		if !d.station.Step() {
			break
		}
	}
	for range d.config.IdleSteps {
		steps++
		d.station.Step()
	}
	d.steps.Add(steps)

	st := d.station.Stats()
	d.stats.Store(&st)
}

// Stop stops the driver and waits for its goroutine to exit or ctx to end.
func (d *Driver) Stop(ctx context.Context) error {
	select {
	case d.stopChan <- struct{}{}:
		// Successfully signaled stop
	default:
		// Stop already signaled
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	// Drop a stop signal the exited goroutine never consumed.
	select {
	case <-d.stopChan:
	default:
	}
	return nil
}

// Running reports whether the driver goroutine is active.
func (d *Driver) Running() bool {
	return d.running.Load()
}

// Metrics returns current operational metrics
func (d *Driver) Metrics() Metrics {
	m := Metrics{
		Steps:           d.steps.Load(),
		Ticks:           d.ticks.Load(),
		MissedTicks:     d.missedTicks.Load(),
		Stalls:          d.stalls.Load(),
		LastTickLatency: time.Duration(d.lastTickLatency.Load()),
	}
	if st := d.stats.Load(); st != nil {
		m.FramesSent = int64(st.FramesSent)
		m.ValidFrames = int64(st.ValidFrames)
		m.InvalidFrames = int64(st.InvalidFrames)
		m.TokensReceived = int64(st.TokensReceived)
		m.TokenRegenerations = int64(st.TokenRegenerations)
		m.LostTokens = int64(st.LostTokens)
		m.RepliesPostponed = int64(st.RepliesPostponed)
	}
	return m
}
