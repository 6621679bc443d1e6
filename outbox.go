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
	"fmt"

	"github.com/ZaparooProject/go-mstp/internal/syncutil"
)

// Outbox is the bounded FIFO of frames waiting for the token. Enqueue may be
// called from any goroutine; the node dequeues while it holds the token.
type Outbox struct {
	items   []*Frame
	head    int
	count   int
	mu      syncutil.Mutex
	station Address
}

// NewOutbox returns an outbox holding at most size frames for station.
func NewOutbox(station Address, size int) *Outbox {
	if size < 1 {
		size = 1
	}
	return &Outbox{items: make([]*Frame, size), station: station}
}

// Enqueue appends a copy of f. Only data-carrying frame types may be queued;
// the node generates link control frames itself, and a station does not
// address frames to itself.
func (o *Outbox) Enqueue(f *Frame) error {
	if !f.Type.IsData() {
		return fmt.Errorf("%w: %s cannot be queued", ErrInvalidFrameType, f.Type)
	}
	if f.Destination == o.station {
		return fmt.Errorf("%w: %s addressed to this station (%d)", ErrInvalidAddress, f.Type, o.station)
	}
	if f.ExpectsReply() && f.Destination == BroadcastAddress {
		return fmt.Errorf("%w: %s cannot be broadcast", ErrInvalidAddress, f.Type)
	}
	if err := f.Validate(); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.count == len(o.items) {
		return ErrOutboxFull
	}
	o.items[(o.head+o.count)%len(o.items)] = f.Clone()
	o.count++
	return nil
}

// Dequeue removes and returns the oldest frame, or nil if empty.
func (o *Outbox) Dequeue() *Frame {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.count == 0 {
		return nil
	}
	f := o.items[o.head]
	o.items[o.head] = nil
	o.head = (o.head + 1) % len(o.items)
	o.count--
	return f
}

// Len returns the number of queued frames.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.count
}

// Cap returns the outbox capacity.
func (o *Outbox) Cap() int {
	return len(o.items)
}
