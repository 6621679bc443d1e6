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

// maxTimer is the saturation point of both millisecond counters.
const maxTimer = 65535

// Timers is the externally driven pair of millisecond counters read by the
// receive and master state machines. The zero value is ready to use.
//
// Both counters saturate instead of wrapping, so a long outage still reads as
// "at least this long" rather than restarting near zero.
type Timers struct {
	silence        uint16
	replyPostponed uint16
}

// Tick advances both counters by one millisecond.
func (t *Timers) Tick() {
	if t.silence < maxTimer {
		t.silence++
	}
	if t.replyPostponed < maxTimer {
		t.replyPostponed++
	}
}

// Advance calls Tick n times.
func (t *Timers) Advance(n int) {
	for range n {
		t.Tick()
	}
}

// Silence returns the milliseconds since line activity was last seen.
func (t *Timers) Silence() uint16 {
	return t.silence
}

// ReplyPostponed returns the milliseconds since a request needing a reply
// was received.
func (t *Timers) ReplyPostponed() uint16 {
	return t.replyPostponed
}

// ResetSilence restarts the silence counter.
func (t *Timers) ResetSilence() {
	t.silence = 0
}

// ResetReplyPostponed restarts the reply postponement counter.
func (t *Timers) ResetReplyPostponed() {
	t.replyPostponed = 0
}
