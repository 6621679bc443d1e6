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

// FrameSender transmits one complete frame. Implementations wait for the
// turnaround interval, drive the line for the whole frame and release the
// driver afterwards; the engine treats the call as atomic.
type FrameSender interface {
	SendFrame(f *Frame) error
}

// Port defines the physical-line interface a Station runs on. It can be
// implemented by a UART, an in-memory bus or a test double.
type Port interface {
	FrameSender

	// PollEvent returns the next pending line event without blocking.
	// It returns an event of kind LineIdle when nothing is pending.
	PollEvent() LineEvent

	// Close releases the line
	Close() error

	// Type returns the transport type
	Type() TransportType
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportSerial represents a UART with an EIA-485 transceiver.
	TransportSerial TransportType = "serial"
	// TransportLoopback represents the in-memory multidrop bus.
	TransportLoopback TransportType = "loopback"
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// LineEventKind is the UART status reported by PollEvent.
type LineEventKind uint8

const (
	// LineIdle means no octet or error is pending.
	LineIdle LineEventKind = iota
	// LineOctet means one octet was received.
	LineOctet
	// LineError means a framing, parity or overrun error was detected.
	LineError
)

func (k LineEventKind) String() string {
	switch k {
	case LineIdle:
		return "idle"
	case LineOctet:
		return "octet"
	case LineError:
		return "error"
	default:
		return "unknown"
	}
}

// LineEvent is one unit of receive-side activity.
type LineEvent struct {
	Kind  LineEventKind
	Value byte
}

// Octet returns a LineEvent carrying b.
func Octet(b byte) LineEvent {
	return LineEvent{Kind: LineOctet, Value: b}
}

// ErrorEvent returns a LineEvent reporting a receive error.
func ErrorEvent() LineEvent {
	return LineEvent{Kind: LineError}
}

// IdleEvent returns the empty LineEvent.
func IdleEvent() LineEvent {
	return LineEvent{}
}

// Handler receives the frames a node delivers to the upper layer.
//
// HandleFrame is called from inside Station.Step with the station lock held;
// it must not call Step or Tick. It may call Station.Reply or Station.Send.
type Handler interface {
	HandleFrame(f *Frame)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(f *Frame)

// HandleFrame calls fn(f).
func (fn HandlerFunc) HandleFrame(f *Frame) {
	fn(f)
}
