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

package uart

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mstp "github.com/ZaparooProject/go-mstp"
	virt "github.com/ZaparooProject/go-mstp/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

// errPortClosed is returned when operations are attempted on a closed port
var errPortClosed = errors.New("port is closed")

// MockSerialPort implements serial.Port over an in-memory wire. With loopback
// set, written octets come back on the receive side the way a half-duplex
// transceiver echoes its own transmission.
type MockSerialPort struct {
	rx        io.ReadWriter
	readErrs  chan error
	drainErrs []error
	writeErr  error
	written   bytes.Buffer
	rts       []bool
	mu        sync.Mutex
	closed    atomic.Bool
	loopback  bool
}

func NewMockSerialPort(rx io.ReadWriter) *MockSerialPort {
	return &MockSerialPort{rx: rx, readErrs: make(chan error, 4)}
}

func (*MockSerialPort) SetMode(_ *serial.Mode) error {
	return nil
}

func (m *MockSerialPort) Read(p []byte) (int, error) {
	if m.closed.Load() {
		return 0, errPortClosed
	}
	select {
	case err := <-m.readErrs:
		return 0, err
	default:
	}
	n, err := m.rx.Read(p)
	if err != nil {
		return n, fmt.Errorf("mock read: %w", err)
	}
	if n == 0 {
		// stands in for the read timeout
		time.Sleep(time.Millisecond)
	}
	return n, nil
}

func (m *MockSerialPort) Write(p []byte) (int, error) {
	if m.closed.Load() {
		return 0, errPortClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	m.written.Write(p)
	if m.loopback {
		if _, err := m.rx.Write(p); err != nil {
			return 0, fmt.Errorf("mock loopback: %w", err)
		}
	}
	return len(p), nil
}

func (m *MockSerialPort) Drain() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.drainErrs) == 0 {
		return nil
	}
	err := m.drainErrs[0]
	m.drainErrs = m.drainErrs[1:]
	return err
}

func (*MockSerialPort) ResetInputBuffer() error {
	return nil
}

func (*MockSerialPort) ResetOutputBuffer() error {
	return nil
}

func (*MockSerialPort) SetDTR(_ bool) error {
	return nil
}

func (m *MockSerialPort) SetRTS(rts bool) error {
	m.mu.Lock()
	m.rts = append(m.rts, rts)
	m.mu.Unlock()
	return nil
}

func (*MockSerialPort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}

func (*MockSerialPort) SetReadTimeout(_ time.Duration) error {
	return nil
}

func (m *MockSerialPort) Close() error {
	m.closed.Store(true)
	return nil
}

func (*MockSerialPort) Break(_ time.Duration) error {
	return nil
}

func (m *MockSerialPort) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.written.Bytes()...)
}

// Verify interface implementation
var _ serial.Port = (*MockSerialPort)(nil)

// recordingDE records every driver-enable transition.
type recordingDE struct {
	levels []bool
	mu     sync.Mutex
	closed bool
}

func (d *recordingDE) Enable(on bool) error {
	d.mu.Lock()
	d.levels = append(d.levels, on)
	d.mu.Unlock()
	return nil
}

func (d *recordingDE) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// gateDE holds the driver enabled until release is closed.
type gateDE struct {
	entered chan struct{}
	release chan struct{}
}

func (d *gateDE) Enable(on bool) error {
	if on {
		select {
		case d.entered <- struct{}{}:
		default:
		}
		<-d.release
	}
	return nil
}

func (*gateDE) Close() error {
	return nil
}

// sleepRecorder replaces time.Sleep.
type sleepRecorder struct {
	slept []time.Duration
	mu    sync.Mutex
}

func (s *sleepRecorder) sleep(d time.Duration) {
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()
}

func (s *sleepRecorder) durations() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.slept...)
}

func fixedClock() time.Time {
	return time.Unix(1700000000, 0)
}

func newTestTransport(t *testing.T, port serial.Port, opts Options) (*Transport, *sleepRecorder) {
	t.Helper()
	sleeps := &sleepRecorder{}
	tr := newTransport(port, "mock0", opts, fixedClock, sleeps.sleep)
	t.Cleanup(func() { _ = tr.Close() })
	return tr, sleeps
}

// collect polls tr until want octets have arrived.
func collect(t *testing.T, tr *Transport, want int) []mstp.LineEvent {
	t.Helper()
	var got []mstp.LineEvent
	require.Eventually(t, func() bool {
		for {
			ev := tr.PollEvent()
			if ev.Kind == mstp.LineIdle {
				return len(got) >= want
			}
			got = append(got, ev)
		}
	}, time.Second, time.Millisecond)
	return got
}

func octetValues(events []mstp.LineEvent) []byte {
	out := make([]byte, 0, len(events))
	for _, ev := range events {
		if ev.Kind == mstp.LineOctet {
			out = append(out, ev.Value)
		}
	}
	return out
}

func tokenWire(t *testing.T) []byte {
	t.Helper()
	wire, err := (&mstp.Frame{Type: mstp.FrameTypeToken, Destination: 2, Source: 1}).MarshalBinary()
	require.NoError(t, err)
	return wire
}

func TestTransport_DeliversOctets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rx   func(*virt.Wire) io.ReadWriter
		name string
	}{
		{name: "direct", rx: func(w *virt.Wire) io.ReadWriter { return w }},
		{
			name: "fragmented",
			rx: func(w *virt.Wire) io.ReadWriter {
				return virt.NewJitteryConnection(w, virt.JitterConfig{FragmentReads: true, Seed: 99})
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			wire := virt.NewWire()
			tr, _ := newTestTransport(t, NewMockSerialPort(tt.rx(wire)), Options{})

			want := bytes.Repeat(tokenWire(t), 20)
			_, err := wire.Write(want)
			require.NoError(t, err)

			got := collect(t, tr, len(want))
			assert.Equal(t, want, octetValues(got))
			assert.Zero(t, tr.Stats().Overruns)
		})
	}
}

func TestTransport_ReceivedFramesParse(t *testing.T) {
	t.Parallel()

	wire := virt.NewWire()
	tr, _ := newTestTransport(t, NewMockSerialPort(wire), Options{})
	f := &mstp.Frame{Type: mstp.FrameTypeBACnetDataNotExpectingReply, Destination: 3, Source: 9, Data: []byte("abc")}
	enc, err := f.MarshalBinary()
	require.NoError(t, err)
	_, err = wire.Write(enc)
	require.NoError(t, err)

	parsed, err := mstp.ParseFrame(octetValues(collect(t, tr, len(enc))))
	require.NoError(t, err)
	assert.Equal(t, f.Data, parsed.Data)
	assert.Equal(t, f.Source, parsed.Source)
}

func TestTransport_SendFrame(t *testing.T) {
	t.Parallel()

	port := NewMockSerialPort(virt.NewWire())
	de := &recordingDE{}
	tr, sleeps := newTestTransport(t, port, Options{
		DriverEnable: de,
		Turnaround:   4 * time.Millisecond,
		Postdrive:    2 * time.Millisecond,
	})

	f := &mstp.Frame{Type: mstp.FrameTypeToken, Destination: 2, Source: 1}
	require.NoError(t, tr.SendFrame(f))

	assert.Equal(t, tokenWire(t), port.Written())
	assert.Equal(t, []bool{false, true, false}, de.levels, "released at start, keyed for the frame")
	assert.Equal(t, []time.Duration{4 * time.Millisecond, 2 * time.Millisecond}, sleeps.durations())

	require.NoError(t, tr.Close())
	assert.True(t, de.closed)
}

func TestTransport_SendFrameBusy(t *testing.T) {
	t.Parallel()

	port := NewMockSerialPort(virt.NewWire())
	de := &gateDE{entered: make(chan struct{}, 1), release: make(chan struct{})}
	tr, _ := newTestTransport(t, port, Options{DriverEnable: de})

	token := &mstp.Frame{Type: mstp.FrameTypeToken, Destination: 2, Source: 1}
	done := make(chan error, 1)
	go func() { done <- tr.SendFrame(token) }()
	<-de.entered

	err := tr.SendFrame(token)
	require.ErrorIs(t, err, mstp.ErrPortBusy)
	var portErr *mstp.PortError
	require.ErrorAs(t, err, &portErr)
	assert.Equal(t, "write", portErr.Op)

	close(de.release)
	require.NoError(t, <-done)
	assert.Len(t, port.Written(), 8, "only the first token went out")

	// the port is free again once the first send returns
	require.NoError(t, tr.SendFrame(token))
}

func TestTransport_SendFrameErrors(t *testing.T) {
	t.Parallel()

	t.Run("invalid frame", func(t *testing.T) {
		t.Parallel()
		port := NewMockSerialPort(virt.NewWire())
		de := &recordingDE{}
		tr, _ := newTestTransport(t, port, Options{DriverEnable: de})
		err := tr.SendFrame(&mstp.Frame{Type: mstp.FrameTypeTestRequest, Data: make([]byte, 600)})
		require.ErrorIs(t, err, mstp.ErrFrameTooLarge)
		assert.Equal(t, []bool{false}, de.levels)
		assert.Empty(t, port.Written())
	})

	t.Run("write", func(t *testing.T) {
		t.Parallel()
		port := NewMockSerialPort(virt.NewWire())
		port.writeErr = io.ErrShortWrite
		de := &recordingDE{}
		tr, _ := newTestTransport(t, port, Options{DriverEnable: de})
		err := tr.SendFrame(&mstp.Frame{Type: mstp.FrameTypeToken, Destination: 2, Source: 1})
		require.ErrorIs(t, err, io.ErrShortWrite)
		var portErr *mstp.PortError
		require.ErrorAs(t, err, &portErr)
		assert.Equal(t, "mock0", portErr.Port)
		assert.Equal(t, []bool{false, true, false}, de.levels, "driver released after a failed write")
	})

	t.Run("drain retried", func(t *testing.T) {
		t.Parallel()
		port := NewMockSerialPort(virt.NewWire())
		port.drainErrs = []error{errors.New("interrupted system call")}
		tr, sleeps := newTestTransport(t, port, Options{})
		require.NoError(t, tr.SendFrame(&mstp.Frame{Type: mstp.FrameTypeToken, Destination: 2, Source: 1}))
		assert.Contains(t, sleeps.durations(), 2*time.Millisecond)
	})

	t.Run("drain failed", func(t *testing.T) {
		t.Parallel()
		port := NewMockSerialPort(virt.NewWire())
		port.drainErrs = []error{errors.New("device gone")}
		tr, _ := newTestTransport(t, port, Options{})
		err := tr.SendFrame(&mstp.Frame{Type: mstp.FrameTypeToken, Destination: 2, Source: 1})
		assert.ErrorContains(t, err, "device gone")
	})

	t.Run("closed", func(t *testing.T) {
		t.Parallel()
		tr, _ := newTestTransport(t, NewMockSerialPort(virt.NewWire()), Options{})
		require.NoError(t, tr.Close())
		require.NoError(t, tr.Close())
		err := tr.SendFrame(&mstp.Frame{Type: mstp.FrameTypeToken, Destination: 2, Source: 1})
		assert.ErrorIs(t, err, mstp.ErrPortClosed)
	})
}

func TestTransport_EchoSuppress(t *testing.T) {
	t.Parallel()

	foreign := []byte{0x55, 0xFF, 0x01}
	for _, suppress := range []bool{true, false} {
		t.Run(fmt.Sprintf("suppress=%v", suppress), func(t *testing.T) {
			t.Parallel()
			wire := virt.NewWire()
			port := NewMockSerialPort(wire)
			port.loopback = true
			tr, _ := newTestTransport(t, port, Options{EchoSuppress: suppress})

			require.NoError(t, tr.SendFrame(&mstp.Frame{Type: mstp.FrameTypeToken, Destination: 2, Source: 1}))
			_, err := wire.Write(foreign)
			require.NoError(t, err)

			if suppress {
				assert.Equal(t, foreign, octetValues(collect(t, tr, len(foreign))))
				assert.Zero(t, tr.Stats().EchoMismatches)
				return
			}
			want := append(tokenWire(t), foreign...)
			assert.Equal(t, want, octetValues(collect(t, tr, len(want))))
		})
	}
}

func TestTransport_EchoMismatch(t *testing.T) {
	t.Parallel()

	wire := virt.NewWire()
	tr, _ := newTestTransport(t, NewMockSerialPort(wire), Options{EchoSuppress: true})
	require.NoError(t, tr.SendFrame(&mstp.Frame{Type: mstp.FrameTypeToken, Destination: 2, Source: 1}))

	// another node drove the line instead of our echo
	_, err := wire.Write([]byte{0x01, 0x55})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x55}, octetValues(collect(t, tr, 2)))
	assert.Equal(t, uint64(1), tr.Stats().EchoMismatches)
}

func TestTransport_ReadErrorBecomesLineError(t *testing.T) {
	t.Parallel()

	wire := virt.NewWire()
	port := NewMockSerialPort(wire)
	tr, _ := newTestTransport(t, port, Options{})
	port.readErrs <- errors.New("framing error")
	require.Eventually(t, func() bool { return tr.Stats().ReadErrors == 1 }, time.Second, time.Millisecond)
	_, err := wire.Write([]byte{0x55})
	require.NoError(t, err)

	got := collect(t, tr, 2)
	require.Len(t, got, 2)
	assert.Equal(t, mstp.LineError, got[0].Kind)
	assert.Equal(t, mstp.Octet(0x55), got[1])
	assert.Equal(t, uint64(1), tr.Stats().ReadErrors)
}

func TestTransport_Overrun(t *testing.T) {
	t.Parallel()

	wire := virt.NewWire()
	tr, _ := newTestTransport(t, NewMockSerialPort(wire), Options{EventBuffer: 4})
	_, err := wire.Write(make([]byte, 10))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return tr.Stats().Overruns == 6 }, time.Second, time.Millisecond)
	assert.Len(t, collect(t, tr, 4), 4)
}

func TestTransport_Identity(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTransport(t, NewMockSerialPort(virt.NewWire()), Options{})
	assert.Equal(t, mstp.TransportSerial, tr.Type())
	assert.Equal(t, "mock0", tr.Name())
	assert.Equal(t, mstp.LineIdle, tr.PollEvent().Kind)
}

func TestOptionsFromConfig(t *testing.T) {
	t.Parallel()

	cfg := mstp.DefaultConfig()
	cfg.SetBaudRate(38400)
	opts := OptionsFromConfig(cfg)
	assert.Equal(t, 38400, opts.BaudRate)
	assert.Equal(t, cfg.Turnaround, opts.Turnaround)
	assert.Equal(t, cfg.Postdrive, opts.Postdrive)
	assert.Positive(t, opts.EventBuffer)
}

func TestGPIODriverEnable(t *testing.T) {
	t.Parallel()

	pin := &gpiotest.Pin{N: "GPIO17"}
	de := NewGPIODriverEnable(pin, false)
	require.NoError(t, de.Enable(true))
	assert.Equal(t, gpio.High, pin.Read())
	require.NoError(t, de.Close())
	assert.Equal(t, gpio.Low, pin.Read())

	inverted := NewGPIODriverEnable(pin, true)
	require.NoError(t, inverted.Enable(true))
	assert.Equal(t, gpio.Low, pin.Read())
	require.NoError(t, inverted.Enable(false))
	assert.Equal(t, gpio.High, pin.Read())
}

func TestRTSDriverEnable(t *testing.T) {
	t.Parallel()

	port := NewMockSerialPort(virt.NewWire())
	de := NewRTSDriverEnable(port, false)
	require.NoError(t, de.Enable(true))
	require.NoError(t, de.Enable(false))
	require.NoError(t, NewRTSDriverEnable(port, true).Enable(true))
	assert.Equal(t, []bool{true, false, false}, port.rts)
	assert.NoError(t, de.Close())
}

func TestToPortInfo(t *testing.T) {
	t.Parallel()

	ports := toPortInfo([]*enumerator.PortDetails{
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyUSB1", IsUSB: true, VID: "0403", PID: "6001", Product: "FT232R", SerialNumber: "A1"},
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "1a86", PID: "7523"},
	})
	require.Len(t, ports, 3)
	assert.Equal(t, "/dev/ttyUSB0", ports[0].Name)
	assert.Equal(t, "/dev/ttyUSB1", ports[1].Name)
	assert.Equal(t, "/dev/ttyS0", ports[2].Name)

	assert.Equal(t, "/dev/ttyUSB0 [1A86:7523]", ports[0].String())
	assert.Equal(t, "/dev/ttyUSB1 [0403:6001] FT232R serial=A1", ports[1].String())
	assert.Equal(t, "/dev/ttyS0", ports[2].String())
}

func TestPortInfo_LikelyAdapter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		port PortInfo
		want bool
	}{
		{name: "ch340", port: PortInfo{IsUSB: true, VID: "1a86", PID: "7523"}, want: true},
		{name: "ftdi", port: PortInfo{IsUSB: true, VID: "0403", PID: "6001"}, want: true},
		{name: "product name", port: PortInfo{IsUSB: true, VID: "abcd", PID: "0001", Product: "USB-RS485 Cable"}, want: true},
		{name: "unknown usb", port: PortInfo{IsUSB: true, VID: "abcd", PID: "0001", Product: "Modem"}},
		{name: "onboard uart", port: PortInfo{Name: "/dev/ttyAMA0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.port.LikelyAdapter())
		})
	}
}
