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

// Package loopback provides an in-memory MS/TP line connecting any number of
// stations in one process.
//
// A Bus delivers every transmitted frame, octet by octet, to the receive queue
// of every other endpoint the moment SendFrame is called. Time does not pass on
// the bus; the stations' Tick calls are the only clock. This makes multi-node
// scenarios deterministic when one goroutine steps all the stations.
package loopback

import (
	"fmt"

	mstp "github.com/ZaparooProject/go-mstp"
	"github.com/ZaparooProject/go-mstp/internal/syncutil"
)

// Filter turns the wire image of a frame into the line events one receiving
// endpoint sees. Returning nil drops the frame for that endpoint. wire may be
// modified in place; each endpoint gets its own copy.
type Filter func(to *Endpoint, wire []byte) []mstp.LineEvent

// Bus is a shared half-duplex line.
type Bus struct {
	filter    Filter
	taps      []func(from *Endpoint, f *mstp.Frame)
	endpoints []*Endpoint
	mu        syncutil.Mutex
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Endpoint attaches a new port to the bus.
func (b *Bus) Endpoint(name string) *Endpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := &Endpoint{bus: b, name: name}
	b.endpoints = append(b.endpoints, e)
	return e
}

// SetFilter installs f for all later transmissions. A nil filter delivers
// every octet unchanged.
func (b *Bus) SetFilter(f Filter) {
	b.mu.Lock()
	b.filter = f
	b.mu.Unlock()
}

// OnFrame registers fn to see every frame put on the line, before filtering.
func (b *Bus) OnFrame(fn func(from *Endpoint, f *mstp.Frame)) {
	b.mu.Lock()
	b.taps = append(b.taps, fn)
	b.mu.Unlock()
}

// Endpoints returns the attached endpoints in attach order.
func (b *Bus) Endpoints() []*Endpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Endpoint(nil), b.endpoints...)
}

func (b *Bus) transmit(from *Endpoint, f *mstp.Frame) error {
	wire, err := f.MarshalBinary()
	if err != nil {
		return fmt.Errorf("loopback encode: %w", err)
	}

	b.mu.Lock()
	taps := b.taps
	filter := b.filter
	targets := make([]*Endpoint, 0, len(b.endpoints))
	for _, e := range b.endpoints {
		if e != from {
			targets = append(targets, e)
		}
	}
	b.mu.Unlock()

	frame := f.Clone()
	for _, tap := range taps {
		tap(from, frame)
	}
	for _, e := range targets {
		var events []mstp.LineEvent
		if filter != nil {
			events = filter(e, append([]byte(nil), wire...))
		} else {
			events = octets(wire)
		}
		e.push(events)
	}
	return nil
}

// Octets turns wire into one LineOctet event per byte.
func Octets(wire []byte) []mstp.LineEvent {
	return octets(wire)
}

func octets(wire []byte) []mstp.LineEvent {
	events := make([]mstp.LineEvent, len(wire))
	for i, v := range wire {
		events[i] = mstp.Octet(v)
	}
	return events
}

// Endpoint is one station's port on a Bus. It implements mstp.Port.
type Endpoint struct {
	bus    *Bus
	name   string
	queue  []mstp.LineEvent
	sent   uint64
	mu     syncutil.Mutex
	closed bool
}

// Name returns the name given when the endpoint was attached.
func (e *Endpoint) Name() string {
	return e.name
}

// SendFrame puts f on the line.
func (e *Endpoint) SendFrame(f *mstp.Frame) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return mstp.NewPortError("write", e.name, mstp.ErrPortClosed)
	}
	e.sent++
	e.mu.Unlock()
	return e.bus.transmit(e, f)
}

// PollEvent returns the next queued line event, or an idle event.
func (e *Endpoint) PollEvent() mstp.LineEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return mstp.IdleEvent()
	}
	ev := e.queue[0]
	e.queue = e.queue[1:]
	if len(e.queue) == 0 {
		e.queue = nil
	}
	return ev
}

// Inject queues events as if they had arrived from the line.
func (e *Endpoint) Inject(events ...mstp.LineEvent) {
	e.push(events)
}

// Pending returns the number of queued events.
func (e *Endpoint) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// FramesSent returns the number of frames this endpoint transmitted.
func (e *Endpoint) FramesSent() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sent
}

// Close detaches the endpoint from further traffic.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.queue = nil
	return nil
}

// Type returns mstp.TransportLoopback.
func (*Endpoint) Type() mstp.TransportType {
	return mstp.TransportLoopback
}

func (e *Endpoint) push(events []mstp.LineEvent) {
	if len(events) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.queue = append(e.queue, events...)
}

var _ mstp.Port = (*Endpoint)(nil)
