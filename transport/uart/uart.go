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

// Package uart runs an MS/TP line over a serial port wired to an EIA-485
// transceiver.
package uart

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mstp "github.com/ZaparooProject/go-mstp"
	"github.com/ZaparooProject/go-mstp/internal/frame"
	"github.com/ZaparooProject/go-mstp/internal/syncutil"
	"go.bug.st/serial"
)

const (
	// readTimeout bounds each blocking read so the reader notices Close.
	readTimeout = 10 * time.Millisecond
	// maxReadErrors consecutive failed reads end the reader.
	maxReadErrors = 5
	readBufSize   = 256
)

// Options configures a Transport.
type Options struct {
	// DriverEnable keys the transceiver's transmitter. Nil means the
	// transceiver switches direction on its own.
	DriverEnable DriverEnable
	// Turnaround is the minimum silence after the last received octet before
	// transmitting.
	Turnaround time.Duration
	// Postdrive is how long the driver stays enabled after the last octet
	// has left the UART.
	Postdrive time.Duration
	BaudRate  int
	// EventBuffer is the capacity of the receive event queue.
	EventBuffer int
	// EchoSuppress discards the transceiver's loopback of our own
	// transmission.
	EchoSuppress bool
	// UseRTS keys the driver from the port's RTS line when DriverEnable is
	// nil.
	UseRTS bool
}

// OptionsFromConfig derives line timing from cfg.
func OptionsFromConfig(cfg *mstp.Config) Options {
	return Options{
		BaudRate:    cfg.BaudRate,
		Turnaround:  cfg.Turnaround,
		Postdrive:   cfg.Postdrive,
		EventBuffer: 4096,
	}
}

// Stats counts receive-side trouble on the port.
type Stats struct {
	Overruns       uint64
	ReadErrors     uint64
	EchoMismatches uint64
}

// Transport implements mstp.Port on a serial port.
type Transport struct {
	port     serial.Port
	de       DriverEnable
	events   chan mstp.LineEvent
	done     chan struct{}
	sleep    func(time.Duration)
	now      func() time.Time
	portName string
	// echo holds our transmitted octets not yet seen coming back.
	echo       []byte
	opts       Options
	wg         sync.WaitGroup
	lastRx     atomic.Int64
	overruns   atomic.Uint64
	readErrors atomic.Uint64
	mismatches atomic.Uint64
	closeOnce  sync.Once
	sending    atomic.Bool
	echoMu     syncutil.Mutex
	closed     atomic.Bool
}

// New opens portName 8N1 at opts.BaudRate.
func New(portName string, opts Options) (*Transport, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open UART port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set UART read timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to flush UART input: %w", err)
	}

	if opts.DriverEnable == nil && opts.UseRTS {
		opts.DriverEnable = NewRTSDriverEnable(port, false)
	}
	return NewWithPort(port, portName, opts), nil
}

// NewWithPort wraps an already open port and starts the reader.
func NewWithPort(port serial.Port, portName string, opts Options) *Transport {
	return newTransport(port, portName, opts, time.Now, time.Sleep)
}

func newTransport(
	port serial.Port, portName string, opts Options, now func() time.Time, sleep func(time.Duration),
) *Transport {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 4096
	}
	t := &Transport{
		port:     port,
		portName: portName,
		opts:     opts,
		de:       opts.DriverEnable,
		events:   make(chan mstp.LineEvent, opts.EventBuffer),
		done:     make(chan struct{}),
		sleep:    sleep,
		now:      now,
	}
	t.lastRx.Store(t.now().UnixNano())
	if t.de != nil {
		if err := t.de.Enable(false); err != nil {
			mstp.Debugf("UART %s: driver enable release failed: %v", portName, err)
		}
	}

	t.wg.Add(1)
	go t.readLoop()
	return t
}

func (t *Transport) readLoop() {
	defer t.wg.Done()
	buf := make([]byte, readBufSize)
	failures := 0

	for {
		select {
		case <-t.done:
			return
		default:
		}

		n, err := t.port.Read(buf)
		if err != nil {
			if t.closed.Load() {
				return
			}
			t.readErrors.Add(1)
			t.push(mstp.ErrorEvent())
			if isInterruptedSystemCall(err) {
				continue
			}
			failures++
			mstp.Debugf("UART %s read failed (%d/%d): %v", t.portName, failures, maxReadErrors, err)
			if failures >= maxReadErrors {
				return
			}
			t.sleep(readTimeout)
			continue
		}
		failures = 0
		if n == 0 {
			continue
		}

		t.lastRx.Store(t.now().UnixNano())
		for _, b := range buf[:n] {
			if t.isEcho(b) {
				continue
			}
			t.push(mstp.Octet(b))
		}
	}
}

// isEcho consumes b if it is the next octet of our own transmission.
func (t *Transport) isEcho(b byte) bool {
	if !t.opts.EchoSuppress {
		return false
	}
	t.echoMu.Lock()
	defer t.echoMu.Unlock()
	if len(t.echo) == 0 {
		return false
	}
	if t.echo[0] == b {
		t.echo = t.echo[1:]
		return true
	}
	// someone else drove the line while we transmitted
	t.mismatches.Add(1)
	t.echo = nil
	return false
}

func (t *Transport) push(ev mstp.LineEvent) {
	select {
	case t.events <- ev:
	default:
		t.overruns.Add(1)
	}
}

// PollEvent returns the next received octet or line error without blocking.
func (t *Transport) PollEvent() mstp.LineEvent {
	select {
	case ev := <-t.events:
		return ev
	default:
		return mstp.IdleEvent()
	}
}

// SendFrame waits out the turnaround time, keys the driver, writes the frame
// and holds the driver for the postdrive time after the UART has drained.
// A call made while another send is in progress fails with ErrPortBusy.
func (t *Transport) SendFrame(f *mstp.Frame) error {
	if t.closed.Load() {
		return mstp.NewPortError("write", t.portName, mstp.ErrPortClosed)
	}
	if !t.sending.CompareAndSwap(false, true) {
		return mstp.NewPortError("write", t.portName, mstp.ErrPortBusy)
	}
	defer t.sending.Store(false)

	buf := frame.GetFrameBuffer()
	defer frame.PutBuffer(buf)
	wire, err := f.AppendWire(buf)
	if err != nil {
		return err
	}

	if wait := t.opts.Turnaround - t.sinceLastRx(); wait > 0 {
		t.sleep(wait)
	}

	if t.de != nil {
		if err := t.de.Enable(true); err != nil {
			return mstp.NewPortError("driver enable", t.portName, err)
		}
		defer t.release()
	}

	if t.opts.EchoSuppress {
		t.echoMu.Lock()
		t.echo = append(t.echo[:0], wire...)
		t.echoMu.Unlock()
	}

	n, err := t.port.Write(wire)
	if err != nil {
		return mstp.NewPortError("write", t.portName, err)
	} else if n != len(wire) {
		return mstp.NewPortError("write", t.portName, fmt.Errorf("short write: %d of %d octets", n, len(wire)))
	}

	if err := t.drainWithRetry("send frame"); err != nil {
		return err
	}
	if t.opts.Postdrive > 0 {
		t.sleep(t.opts.Postdrive)
	}
	return nil
}

func (t *Transport) release() {
	if err := t.de.Enable(false); err != nil {
		mstp.Debugf("UART %s: driver enable release failed: %v", t.portName, err)
	}
}

func (t *Transport) sinceLastRx() time.Duration {
	return t.now().Sub(time.Unix(0, t.lastRx.Load()))
}

// isInterruptedSystemCall checks if an error is caused by an interrupted system call
func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "interrupted system call") ||
		strings.Contains(errStr, "eintr")
}

// drainWithRetry performs port drain with retry logic for interrupted system calls
func (t *Transport) drainWithRetry(operation string) error {
	const maxRetries = 3
	baseDelay := 2 * time.Millisecond

	for attempt := range maxRetries {
		err := t.port.Drain()
		if err == nil {
			return nil
		}

		if isInterruptedSystemCall(err) && attempt < maxRetries-1 {
			t.sleep(baseDelay * time.Duration(1<<attempt)) // 2ms, 4ms, 8ms
			continue
		}

		return mstp.NewPortError(operation+" drain", t.portName, err)
	}

	return mstp.NewPortError(operation+" drain", t.portName,
		fmt.Errorf("failed after %d retries", maxRetries))
}

// Stats returns the receive-side counters.
func (t *Transport) Stats() Stats {
	return Stats{
		Overruns:       t.overruns.Load(),
		ReadErrors:     t.readErrors.Load(),
		EchoMismatches: t.mismatches.Load(),
	}
}

// Name returns the port name.
func (t *Transport) Name() string {
	return t.portName
}

// Close stops the reader and closes the port.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.done)
		err = t.port.Close()
		t.wg.Wait()
		if t.de != nil {
			err = errors.Join(err, t.de.Close())
		}
	})
	if err != nil {
		return fmt.Errorf("UART close failed: %w", err)
	}
	return nil
}

// Type returns the transport type
func (*Transport) Type() mstp.TransportType {
	return mstp.TransportSerial
}

var _ mstp.Port = (*Transport)(nil)
