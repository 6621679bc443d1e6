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
	"github.com/ZaparooProject/go-mstp/internal/frame"
)

// ReceiveState is the sub-state of the frame receiver.
type ReceiveState uint8

// Receive states
const (
	ReceiveIdle ReceiveState = iota
	ReceivePreamble
	ReceiveHeader
	ReceiveHeaderCRC
	ReceiveData
	ReceiveDataCRC
)

func (s ReceiveState) String() string {
	switch s {
	case ReceiveIdle:
		return "Idle"
	case ReceivePreamble:
		return "Preamble"
	case ReceiveHeader:
		return "Header"
	case ReceiveHeaderCRC:
		return "HeaderCRC"
	case ReceiveData:
		return "Data"
	case ReceiveDataCRC:
		return "DataCRC"
	default:
		return "Unknown"
	}
}

// RxKind is the outcome of one receiver step.
type RxKind uint8

const (
	// RxPending means no frame was completed or rejected.
	RxPending RxKind = iota
	// RxValid means a frame with good CRCs was completed.
	RxValid
	// RxInvalid means a frame in progress was damaged or aborted.
	RxInvalid
)

func (k RxKind) String() string {
	switch k {
	case RxPending:
		return "pending"
	case RxValid:
		return "valid"
	case RxInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// RxResult is returned by Receiver.Step.
type RxResult struct {
	// Frame is set for RxValid.
	Frame *Frame
	// Err says why a frame was rejected; set for RxInvalid.
	Err  error
	Kind RxKind
	// Activity is true when the step consumed an octet or a line error.
	Activity bool
}

// Receiver assembles frames one line event at a time.
//
// A Receiver is not safe for concurrent use; Station serializes it with the
// node it feeds.
type Receiver struct {
	buf         []byte
	length      int
	index       int
	abort       uint16
	dataCRC     uint16
	state       ReceiveState
	headerCRC   byte
	frameType   FrameType
	destination Address
	source      Address
	station     Address
	promiscuous bool
	// skipping is set while the payload of a frame for another station is
	// consumed without being reported.
	skipping bool
}

// NewReceiver returns a receiver for cfg.Station.
func NewReceiver(cfg *Config) *Receiver {
	size := cfg.InputBufferSize
	if size < 0 || size > MaxDataLength {
		size = MaxDataLength
	}
	return &Receiver{
		buf:         make([]byte, size),
		abort:       millis(cfg.FrameAbort),
		station:     cfg.Station,
		promiscuous: cfg.Promiscuous,
	}
}

// State returns the current sub-state.
func (r *Receiver) State() ReceiveState {
	return r.state
}

// Reset drops any frame in progress.
func (r *Receiver) Reset() {
	r.state = ReceiveIdle
	r.index = 0
	r.skipping = false
}

// Step consumes ev and the silence reading in t. The frame-abort timeout is
// checked before ev, and an aborted frame lets ev start over from Idle.
func (r *Receiver) Step(ev LineEvent, t *Timers) RxResult {
	var res RxResult
	if ev.Kind != LineIdle {
		res.Activity = true
	}

	if r.state != ReceiveIdle && t.Silence() > r.abort {
		if (r.state == ReceiveHeader || r.state == ReceiveData) && !r.skipping {
			res.Kind = RxInvalid
			res.Err = ErrFrameTimeout
		}
		r.Reset()
	}

	switch ev.Kind {
	case LineIdle:
		return res
	case LineError:
		t.ResetSilence()
		r.lineError(&res)
		return res
	case LineOctet:
	}

	t.ResetSilence()
	b := ev.Value
	switch r.state {
	case ReceiveIdle:
		if b == frame.Preamble1 {
			r.state = ReceivePreamble
		}
	case ReceivePreamble:
		switch b {
		case frame.Preamble2:
			r.headerCRC = frame.HeaderCRCInit
			r.index = 0
			r.state = ReceiveHeader
		case frame.Preamble1:
		default:
			r.state = ReceiveIdle
		}
	case ReceiveHeader:
		r.headerOctet(b, &res)
	case ReceiveData:
		r.dataOctet(b, &res)
	case ReceiveHeaderCRC, ReceiveDataCRC:
		// transient states, never left pending between steps
		r.Reset()
	}
	return res
}

func (r *Receiver) lineError(res *RxResult) {
	switch r.state {
	case ReceiveHeader, ReceiveData:
		if !r.skipping && res.Kind != RxInvalid {
			res.Kind = RxInvalid
			res.Err = ErrLineError
		}
	case ReceiveIdle, ReceivePreamble, ReceiveHeaderCRC, ReceiveDataCRC:
	}
	r.Reset()
}

func (r *Receiver) headerOctet(b byte, res *RxResult) {
	r.headerCRC = frame.HeaderCRC(b, r.headerCRC)
	switch r.index {
	case 0:
		r.frameType = FrameType(b)
	case 1:
		r.destination = Address(b)
	case 2:
		r.source = Address(b)
	case 3:
		r.length = int(b) << 8
	case 4:
		r.length |= int(b)
	case 5:
		r.state = ReceiveHeaderCRC
		r.checkHeader(res)
		return
	}
	r.index++
}

func (r *Receiver) checkHeader(res *RxResult) {
	if r.headerCRC != frame.HeaderCRCGood {
		res.Kind = RxInvalid
		res.Err = ErrHeaderCRC
		r.Reset()
		return
	}

	forUs := r.destination == r.station || r.destination == BroadcastAddress
	if !forUs && !r.promiscuous {
		r.Reset()
		if r.length > 0 && r.length <= MaxDataLength {
			r.skipping = true
			r.dataCRC = frame.DataCRCInit
			r.state = ReceiveData
		}
		return
	}

	switch {
	case r.length > MaxDataLength:
		if forUs {
			res.Kind = RxInvalid
			res.Err = ErrLengthInvalid
		}
		r.Reset()
	case r.length == 0:
		res.Kind = RxValid
		res.Frame = r.frame(nil, false)
		r.Reset()
	default:
		r.dataCRC = frame.DataCRCInit
		r.index = 0
		r.state = ReceiveData
	}
}

func (r *Receiver) dataOctet(b byte, res *RxResult) {
	r.dataCRC = frame.DataCRC(b, r.dataCRC)
	if r.index < len(r.buf) && r.index < r.length && !r.skipping {
		r.buf[r.index] = b
	}
	r.index++
	if r.index < r.length+frame.DataCRCLength {
		return
	}

	r.state = ReceiveDataCRC
	switch {
	case r.skipping:
	case r.dataCRC != frame.DataCRCGood:
		res.Kind = RxInvalid
		res.Err = ErrDataCRC
	case r.length > len(r.buf):
		res.Kind = RxValid
		res.Frame = r.frame(nil, true)
	default:
		res.Kind = RxValid
		res.Frame = r.frame(append([]byte(nil), r.buf[:r.length]...), false)
	}
	r.Reset()
}

func (r *Receiver) frame(data []byte, truncated bool) *Frame {
	return &Frame{
		Type:        r.frameType,
		Destination: r.destination,
		Source:      r.source,
		Data:        data,
		Truncated:   truncated,
	}
}
