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

package mstp

import (
	"fmt"

	"github.com/ZaparooProject/go-mstp/internal/syncutil"
)

// Stats is a snapshot of a station's counters.
type Stats struct {
	NodeStats
	ValidFrames   uint64
	InvalidFrames uint64
	Octets        uint64
	LineErrors    uint64
	OutboxLen     int
}

// Option configures a Station.
type Option func(*Station) error

// WithHandler sets the upper-layer frame handler.
func WithHandler(h Handler) Option {
	return func(s *Station) error {
		s.node.SetHandler(h)
		return nil
	}
}

// WithMonitor sets a function that sees every valid frame the receiver
// reports, including frames for other stations in promiscuous mode.
func WithMonitor(fn func(*Frame)) Option {
	return func(s *Station) error {
		s.monitor = fn
		return nil
	}
}

// Station runs one master node on a Port: it owns the node's Receiver, Node,
// Timers and Outbox and serializes Step and Tick with one mutex, so Tick can
// come from a separate periodic source.
type Station struct {
	port    Port
	rx      *Receiver
	node    *Node
	outbox  *Outbox
	monitor func(*Frame)
	cfg     *Config
	timers  Timers
	stats   Stats
	mu      syncutil.Mutex
}

// NewStation validates cfg and returns a station in the Initialize state.
func NewStation(cfg *Config, port Port, opts ...Option) (*Station, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if port == nil {
		return nil, fmt.Errorf("%w: nil port", ErrInvalidConfig)
	}

	cfg = cfg.Clone()
	outbox := NewOutbox(cfg.Station, cfg.OutboxSize)
	s := &Station{
		cfg:    cfg,
		port:   port,
		rx:     NewReceiver(cfg),
		outbox: outbox,
		node:   NewNode(cfg, port, outbox),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Step polls one line event, runs it through the receiver and advances the
// node by one transition. It reports whether a line event was consumed, so a
// driver can keep stepping while input is pending.
func (s *Station) Step() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := s.port.PollEvent()
	res := s.rx.Step(ev, &s.timers)
	if res.Activity {
		s.node.NoteActivity()
	}
	switch ev.Kind {
	case LineOctet:
		s.stats.Octets++
	case LineError:
		s.stats.LineErrors++
	case LineIdle:
	}

	switch res.Kind {
	case RxValid:
		s.stats.ValidFrames++
		if s.monitor != nil {
			s.monitor(res.Frame)
		}
		if d := res.Frame.Destination; d == s.cfg.Station || d == BroadcastAddress {
			s.node.FrameReceived(res.Frame)
		}
	case RxInvalid:
		s.stats.InvalidFrames++
		s.node.InvalidFrameReceived()
	case RxPending:
	}

	s.node.Step(&s.timers)
	return ev.Kind != LineIdle
}

// Tick advances the station's timers by one millisecond.
func (s *Station) Tick() {
	s.mu.Lock()
	s.timers.Tick()
	s.mu.Unlock()
}

// Send queues a frame for transmission the next time this station holds the
// token. The source address is filled in.
func (s *Station) Send(f *Frame) error {
	out := *f
	out.Source = s.cfg.Station
	return s.outbox.Enqueue(&out)
}

// Reply answers the request currently being handled. See Node.Reply.
func (s *Station) Reply(frameType FrameType, data []byte) error {
	return s.node.Reply(frameType, data)
}

// Address returns the station's own address.
func (s *Station) Address() Address {
	return s.cfg.Station
}

// Config returns a copy of the station configuration.
func (s *Station) Config() *Config {
	return s.cfg.Clone()
}

// Port returns the line the station runs on.
func (s *Station) Port() Port {
	return s.port
}

// State returns the node's master state.
func (s *Station) State() MasterState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.node.State()
}

// ReceiveState returns the receiver's sub-state.
func (s *Station) ReceiveState() ReceiveState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rx.State()
}

// NextStation returns the node's token successor.
func (s *Station) NextStation() Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.node.NextStation()
}

// SoleMaster reports whether the node believes it is the only master.
func (s *Station) SoleMaster() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.node.SoleMaster()
}

// Silence returns the current silence timer reading in milliseconds.
func (s *Station) Silence() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers.Silence()
}

// Stats returns a snapshot of the station counters.
func (s *Station) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.NodeStats = s.node.Stats()
	st.OutboxLen = s.outbox.Len()
	return st
}

// SetHandler replaces the upper-layer frame handler.
func (s *Station) SetHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.node.SetHandler(h)
}

// Close closes the port.
func (s *Station) Close() error {
	if err := s.port.Close(); err != nil {
		return fmt.Errorf("failed to close port: %w", err)
	}
	return nil
}
