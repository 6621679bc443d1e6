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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStation(t *testing.T, cfg *Config, opts ...Option) (*Station, *fakePort) {
	t.Helper()
	port := &fakePort{}
	s, err := NewStation(cfg, port, opts...)
	require.NoError(t, err)
	return s, port
}

// drain steps s until the port has no input left.
func drain(s *Station) {
	for s.Step() {
	}
}

func TestNewStation_Validation(t *testing.T) {
	t.Parallel()

	cfg := testConfig(BroadcastAddress)
	_, err := NewStation(cfg, &fakePort{})
	require.ErrorIs(t, err, ErrInvalidConfig)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "Station", cfgErr.Field)

	_, err = NewStation(testConfig(1), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	failing := func(*Station) error { return errors.New("option failed") }
	_, err = NewStation(testConfig(1), &fakePort{}, failing)
	assert.EqualError(t, err, "option failed")
}

func TestNewStation_DefaultsAndCopiesConfig(t *testing.T) {
	t.Parallel()

	s, err := NewStation(nil, &fakePort{})
	require.NoError(t, err)
	assert.Equal(t, Address(0), s.Address())

	cfg := testConfig(7)
	s, _ = newTestStation(t, cfg)
	cfg.Station = 9
	assert.Equal(t, Address(7), s.Address())

	got := s.Config()
	got.MaxInfoFrames = 99
	assert.Equal(t, 1, s.Config().MaxInfoFrames)
}

func TestStation_AnswersPollForMaster(t *testing.T) {
	t.Parallel()

	s, port := newTestStation(t, testConfig(5))
	port.feedFrame(t, &Frame{Type: FrameTypePollForMaster, Destination: 5, Source: 2})
	drain(s)

	sent := port.takeSent()
	require.Len(t, sent, 1)
	assert.Equal(t, FrameTypeReplyToPollForMaster, sent[0].Type)
	assert.Equal(t, Address(2), sent[0].Destination)
	assert.Equal(t, StateIdle, s.State())

	st := s.Stats()
	assert.Equal(t, uint64(1), st.ValidFrames)
	assert.Equal(t, uint64(8), st.Octets)
	assert.Equal(t, uint64(1), st.FramesSent)
}

func TestStation_DeliversToHandler(t *testing.T) {
	t.Parallel()

	rec := &frameRecorder{}
	s, port := newTestStation(t, testConfig(5), WithHandler(rec))
	port.feedFrame(t, &Frame{
		Type: FrameTypeBACnetDataNotExpectingReply, Destination: 5, Source: 3, Data: []byte("hello"),
	})
	port.feedFrame(t, &Frame{
		Type: FrameTypeBACnetDataNotExpectingReply, Destination: BroadcastAddress, Source: 3, Data: []byte("all"),
	})
	drain(s)

	require.Len(t, rec.frames, 2)
	assert.Equal(t, []byte("hello"), rec.frames[0].Data)
	assert.Equal(t, Address(3), rec.frames[0].Source)
	assert.Equal(t, []byte("all"), rec.frames[1].Data)
	assert.Empty(t, port.takeSent())
}

func TestStation_HandlerReplies(t *testing.T) {
	t.Parallel()

	s, port := newTestStation(t, testConfig(5))
	s.SetHandler(HandlerFunc(func(f *Frame) {
		assert.NoError(t, s.Reply(FrameTypeBACnetDataNotExpectingReply, append([]byte("re:"), f.Data...)))
	}))
	port.feedFrame(t, &Frame{
		Type: FrameTypeBACnetDataExpectingReply, Destination: 5, Source: 3, Data: []byte("x"),
	})
	drain(s)
	s.Step()

	sent := port.takeSent()
	require.Len(t, sent, 1)
	assert.Equal(t, FrameTypeBACnetDataNotExpectingReply, sent[0].Type)
	assert.Equal(t, Address(3), sent[0].Destination)
	assert.Equal(t, []byte("re:x"), sent[0].Data)
}

func TestStation_Monitor(t *testing.T) {
	t.Parallel()

	other := &Frame{Type: FrameTypeBACnetDataNotExpectingReply, Destination: 9, Source: 3, Data: []byte{1}}

	t.Run("promiscuous", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig(5)
		cfg.Promiscuous = true
		var seen []*Frame
		rec := &frameRecorder{}
		s, port := newTestStation(t, cfg, WithHandler(rec), WithMonitor(func(f *Frame) { seen = append(seen, f) }))
		port.feedFrame(t, other)
		drain(s)

		require.Len(t, seen, 1)
		assert.Equal(t, Address(9), seen[0].Destination)
		assert.Empty(t, rec.frames, "frames for other stations are not delivered")
	})

	t.Run("addressed only", func(t *testing.T) {
		t.Parallel()
		var seen []*Frame
		s, port := newTestStation(t, testConfig(5), WithMonitor(func(f *Frame) { seen = append(seen, f) }))
		port.feedFrame(t, other)
		port.feedFrame(t, &Frame{Type: FrameTypeTestResponse, Destination: 5, Source: 3})
		drain(s)

		require.Len(t, seen, 1)
		assert.Equal(t, FrameTypeTestResponse, seen[0].Type)
	})
}

func TestStation_CountsInvalidInput(t *testing.T) {
	t.Parallel()

	s, port := newTestStation(t, testConfig(5))
	wire := mustWire(t, &Frame{Type: FrameTypeToken, Destination: 5, Source: 2})
	wire[7] ^= 0xFF
	port.feedWire(wire)
	port.feedWire([]byte{0x55, 0xFF, 0x00})
	port.events = append(port.events, ErrorEvent())
	drain(s)

	st := s.Stats()
	assert.Equal(t, uint64(2), st.InvalidFrames)
	assert.Equal(t, uint64(1), st.LineErrors)
	assert.Equal(t, uint64(11), st.Octets)
	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, port.takeSent())
}

func TestStation_SendUsesToken(t *testing.T) {
	t.Parallel()

	s, port := newTestStation(t, testConfig(5))
	require.NoError(t, s.Send(&Frame{
		Type: FrameTypeBACnetDataNotExpectingReply, Destination: 7, Source: 99, Data: []byte("d"),
	}))
	assert.ErrorIs(t, s.Send(&Frame{Type: FrameTypeToken, Destination: 7}), ErrInvalidFrameType)
	assert.ErrorIs(t, s.Send(&Frame{Type: FrameTypeTestRequest, Destination: 5}), ErrInvalidAddress)
	assert.Equal(t, 1, s.Stats().OutboxLen)

	port.feedFrame(t, &Frame{Type: FrameTypeToken, Destination: 5, Source: 4})
	drain(s)
	s.Step()

	sent := port.takeSent()
	require.NotEmpty(t, sent)
	assert.Equal(t, FrameTypeBACnetDataNotExpectingReply, sent[0].Type)
	assert.Equal(t, Address(5), sent[0].Source)
	assert.Equal(t, Address(7), sent[0].Destination)
	assert.Equal(t, 0, s.Stats().OutboxLen)
}

func TestStation_TickAndStep(t *testing.T) {
	t.Parallel()

	s, port := newTestStation(t, testConfig(5))
	assert.False(t, s.Step(), "no input pending")
	for range 30 {
		s.Tick()
	}
	assert.Equal(t, uint16(30), s.Silence())

	port.feedWire([]byte{0x55})
	assert.True(t, s.Step())
	assert.Equal(t, uint16(0), s.Silence())
	assert.Equal(t, ReceivePreamble, s.ReceiveState())
	assert.False(t, s.Step())
}

func TestStation_RegeneratesToken(t *testing.T) {
	t.Parallel()

	s, port := newTestStation(t, testConfig(3))
	for range 529 {
		s.Tick()
		s.Step()
	}
	assert.Empty(t, port.sent)
	s.Tick()
	s.Step()

	sent := port.takeSent()
	require.Len(t, sent, 1)
	assert.Equal(t, FrameTypePollForMaster, sent[0].Type)
	assert.Equal(t, Address(4), sent[0].Destination)
	assert.Equal(t, StatePollForMaster, s.State())
	assert.Equal(t, Address(3), s.NextStation())
	assert.False(t, s.SoleMaster())
}

func TestStation_Close(t *testing.T) {
	t.Parallel()

	s, port := newTestStation(t, testConfig(5))
	require.NoError(t, s.Close())
	assert.True(t, port.closed)
	assert.Equal(t, TransportMock, s.Port().Type())
}
