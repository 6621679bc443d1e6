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

import "errors"

// ErrDataTooLong is returned when a payload does not fit in one frame.
var ErrDataTooLong = errors.New("frame data exceeds 501 octets")

// EncodedLength returns the number of octets on the wire for a payload of dataLen octets.
func EncodedLength(dataLen int) int {
	if dataLen == 0 {
		return HeaderLength
	}
	return HeaderLength + dataLen + DataCRCLength
}

// AppendFrame appends the wire image of a frame to dst:
//
//	55 FF type dest src lenH lenL hcrc [data... dcrcL dcrcH]
//
// Both CRCs are transmitted as the ones-complement of the running value.
func AppendFrame(dst []byte, frameType, destination, source byte, data []byte) ([]byte, error) {
	n := len(data)
	if n > MaxDataLength {
		return dst, ErrDataTooLong
	}

	hdr := [5]byte{frameType, destination, source, byte(n >> 8), byte(n)}
	dst = append(dst, Preamble1, Preamble2)
	dst = append(dst, hdr[:]...)
	dst = append(dst, ^HeaderCRCBytes(HeaderCRCInit, hdr[:]))
	if n == 0 {
		return dst, nil
	}

	crc := ^DataCRCBytes(DataCRCInit, data)
	dst = append(dst, data...)
	return append(dst, byte(crc), byte(crc>>8)), nil
}
