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

package testing

import (
	mstp "github.com/ZaparooProject/go-mstp"
	"github.com/ZaparooProject/go-mstp/internal/syncutil"
)

// FrameRecorder is an mstp.Handler that keeps a copy of every frame it is
// given. It is safe for concurrent use.
type FrameRecorder struct {
	frames []*mstp.Frame
	mu     syncutil.Mutex
}

// NewFrameRecorder returns an empty recorder.
func NewFrameRecorder() *FrameRecorder {
	return &FrameRecorder{}
}

// HandleFrame records f.
func (r *FrameRecorder) HandleFrame(f *mstp.Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f.Clone())
	r.mu.Unlock()
}

// Record is HandleFrame with the signature of a loopback tap or station
// monitor.
func (r *FrameRecorder) Record(f *mstp.Frame) {
	r.HandleFrame(f)
}

// Frames returns the recorded frames in arrival order.
func (r *FrameRecorder) Frames() []*mstp.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*mstp.Frame(nil), r.frames...)
}

// Len returns the number of recorded frames.
func (r *FrameRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// Count returns the number of recorded frames of type t.
func (r *FrameRecorder) Count(t mstp.FrameType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, f := range r.frames {
		if f.Type == t {
			n++
		}
	}
	return n
}

// Reset drops all recorded frames.
func (r *FrameRecorder) Reset() {
	r.mu.Lock()
	r.frames = nil
	r.mu.Unlock()
}

var _ mstp.Handler = (*FrameRecorder)(nil)
