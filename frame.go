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

// Package mstp implements the master-node side of the BACnet MS/TP
// (Master-Slave/Token-Passing) datalink for EIA-485 multidrop lines.
//
// The engine is poll driven: a Station bundles a Receiver, a Node and their
// Timers, and advances only when Step and Tick are called. Nothing inside the
// package blocks or starts goroutines; see the polling package for a driver
// loop and the transport packages for line access.
package mstp

import (
	"encoding/binary"
	"fmt"

	"github.com/ZaparooProject/go-mstp/internal/frame"
)

// Address is an MS/TP station address. 0-254 identify stations and 255 is
// the broadcast destination.
type Address uint8

// Addressing limits
const (
	BroadcastAddress Address = 255
	MaxMasterAddress Address = 127
)

// MaxDataLength is the largest payload carried by one frame.
const MaxDataLength = frame.MaxDataLength

// FrameType identifies the purpose of a frame.
type FrameType uint8

// Frame types 8 through 127 are reserved. 128 through 255 are proprietary and
// carry a vendor identifier in their first two data octets.
const (
	FrameTypeToken                       FrameType = 0
	FrameTypePollForMaster               FrameType = 1
	FrameTypeReplyToPollForMaster        FrameType = 2
	FrameTypeTestRequest                 FrameType = 3
	FrameTypeTestResponse                FrameType = 4
	FrameTypeBACnetDataExpectingReply    FrameType = 5
	FrameTypeBACnetDataNotExpectingReply FrameType = 6
	FrameTypeReplyPostponed              FrameType = 7
	FrameTypeProprietaryMin              FrameType = 128
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeToken:
		return "Token"
	case FrameTypePollForMaster:
		return "PollForMaster"
	case FrameTypeReplyToPollForMaster:
		return "ReplyToPollForMaster"
	case FrameTypeTestRequest:
		return "TestRequest"
	case FrameTypeTestResponse:
		return "TestResponse"
	case FrameTypeBACnetDataExpectingReply:
		return "BACnetDataExpectingReply"
	case FrameTypeBACnetDataNotExpectingReply:
		return "BACnetDataNotExpectingReply"
	case FrameTypeReplyPostponed:
		return "ReplyPostponed"
	}
	if t.IsProprietary() {
		return fmt.Sprintf("Proprietary(%d)", uint8(t))
	}
	return fmt.Sprintf("Reserved(%d)", uint8(t))
}

// IsProprietary reports whether t is in the vendor range 128-255.
func (t FrameType) IsProprietary() bool {
	return t >= FrameTypeProprietaryMin
}

// IsData reports whether t carries upper-layer data rather than link control.
func (t FrameType) IsData() bool {
	switch t {
	case FrameTypeTestRequest, FrameTypeTestResponse,
		FrameTypeBACnetDataExpectingReply, FrameTypeBACnetDataNotExpectingReply:
		return true
	}
	return t.IsProprietary()
}

// Frame is one MS/TP frame. The header and data CRCs are not part of the
// struct; they are computed on encode and checked on receive.
type Frame struct {
	Data        []byte
	Type        FrameType
	Destination Address
	Source      Address
	// Truncated is set on a received frame whose payload passed its CRC but
	// was longer than the receive buffer. Data is empty in that case.
	Truncated bool
	// ExpectReply marks an outbound proprietary frame that waits for a reply
	// while the token is held. Standard types ignore it.
	ExpectReply bool
}

// ExpectsReply reports whether sending f obliges the receiver to answer.
func (f *Frame) ExpectsReply() bool {
	switch f.Type {
	case FrameTypeBACnetDataExpectingReply, FrameTypeTestRequest:
		return true
	}
	return f.Type.IsProprietary() && f.ExpectReply
}

// VendorID returns the vendor code of a proprietary frame.
func (f *Frame) VendorID() (uint16, bool) {
	if !f.Type.IsProprietary() || len(f.Data) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(f.Data), true
}

// Validate checks the fields that can be encoded at all.
func (f *Frame) Validate() error {
	if len(f.Data) > MaxDataLength {
		return ErrFrameTooLarge
	}
	if f.Source == BroadcastAddress {
		return fmt.Errorf("%w: broadcast source", ErrInvalidAddress)
	}
	if f.Type.IsProprietary() && len(f.Data) < 2 {
		return ErrVendorIDMissing
	}
	return nil
}

// AppendWire appends the wire image of f to dst.
func (f *Frame) AppendWire(dst []byte) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return dst, err
	}
	out, err := frame.AppendFrame(dst, byte(f.Type), byte(f.Destination), byte(f.Source), f.Data)
	if err != nil {
		return dst, fmt.Errorf("encode %s: %w", f.Type, err)
	}
	return out, nil
}

// MarshalBinary returns the wire image of f.
func (f *Frame) MarshalBinary() ([]byte, error) {
	return f.AppendWire(make([]byte, 0, frame.EncodedLength(len(f.Data))))
}

// Clone returns a deep copy of f.
func (f *Frame) Clone() *Frame {
	c := *f
	if f.Data != nil {
		c.Data = append([]byte(nil), f.Data...)
	}
	return &c
}

func (f *Frame) String() string {
	return fmt.Sprintf("%s %d->%d len=%d", f.Type, f.Source, f.Destination, len(f.Data))
}

// ParseFrame decodes a single complete wire image. Leading line noise before
// the preamble is skipped.
func ParseFrame(wire []byte) (*Frame, error) {
	cfg := DefaultConfig()
	cfg.Promiscuous = true
	r := NewReceiver(cfg)

	var timers Timers
	for _, b := range wire {
		res := r.Step(Octet(b), &timers)
		switch res.Kind {
		case RxValid:
			return res.Frame, nil
		case RxInvalid:
			return nil, res.Err
		case RxPending:
		}
	}
	return nil, ErrIncompleteFrame
}
