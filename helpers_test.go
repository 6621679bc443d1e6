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
	"testing"

	"github.com/stretchr/testify/require"
)

// fakePort is a scripted Port: PollEvent drains queued events and SendFrame
// records frames.
type fakePort struct {
	sendErr error
	events  []LineEvent
	sent    []*Frame
	closed  bool
}

func (p *fakePort) SendFrame(f *Frame) error {
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent = append(p.sent, f.Clone())
	return nil
}

func (p *fakePort) PollEvent() LineEvent {
	if len(p.events) == 0 {
		return IdleEvent()
	}
	ev := p.events[0]
	p.events = p.events[1:]
	return ev
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func (*fakePort) Type() TransportType {
	return TransportMock
}

// feedWire queues the octets of wire.
func (p *fakePort) feedWire(wire []byte) {
	for _, b := range wire {
		p.events = append(p.events, Octet(b))
	}
}

// feedFrame queues the wire image of f.
func (p *fakePort) feedFrame(t *testing.T, f *Frame) {
	t.Helper()
	wire, err := f.MarshalBinary()
	require.NoError(t, err)
	p.feedWire(wire)
}

func (p *fakePort) takeSent() []*Frame {
	out := p.sent
	p.sent = nil
	return out
}

// fakeSender records frames sent by a Node.
type fakeSender struct {
	err  error
	sent []*Frame
}

func (s *fakeSender) SendFrame(f *Frame) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, f.Clone())
	return nil
}

func (s *fakeSender) take() []*Frame {
	out := s.sent
	s.sent = nil
	return out
}

// frameRecorder is a Handler that keeps delivered frames.
type frameRecorder struct {
	frames []*Frame
}

func (r *frameRecorder) HandleFrame(f *Frame) {
	r.frames = append(r.frames, f.Clone())
}

func testConfig(station Address) *Config {
	cfg := DefaultConfig()
	cfg.Station = station
	return cfg
}

func mustWire(t *testing.T, f *Frame) []byte {
	t.Helper()
	wire, err := f.MarshalBinary()
	require.NoError(t, err)
	return wire
}
