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

package frame

import "sync"

// framePool holds transmit scratch buffers large enough for any frame
var framePool = sync.Pool{
	New: func() any {
		buf := make([]byte, 0, MaxFrameLength)
		return &buf
	},
}

// GetFrameBuffer returns an empty buffer with room for the largest frame.
// Return it with PutBuffer once the octets have been written out.
func GetFrameBuffer() []byte {
	bufPtr, ok := framePool.Get().(*[]byte)
	if !ok {
		return make([]byte, 0, MaxFrameLength)
	}
	return (*bufPtr)[:0]
}

// PutBuffer hands a buffer obtained from GetFrameBuffer back to the pool.
// Buffers of any other capacity are dropped.
func PutBuffer(buf []byte) {
	if cap(buf) != MaxFrameLength {
		return
	}
	buf = buf[:cap(buf)]
	clear(buf)
	buf = buf[:0]
	framePool.Put(&buf)
}
